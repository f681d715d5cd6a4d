package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kwv/tactiletrack/tactile"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(state *tactile.StateTracker, logger *zap.SugaredLogger) http.Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, endpoint string, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Warnw("error encoding response", "endpoint", endpoint, "error", err)
		}
	}

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Tracking  bool      `json:"tracking"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
		}
		if state != nil {
			status.Tracking = !state.Status().Done
		}
		writeJSON(w, "/health", status)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if state == nil {
			http.Error(w, "No run in progress", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, "/status", state.Status())
	})

	mux.HandleFunc("/trajectory", func(w http.ResponseWriter, r *http.Request) {
		if state == nil {
			http.Error(w, "No run in progress", http.StatusServiceUnavailable)
			return
		}
		s := state.Status()
		writeJSON(w, "/trajectory", struct {
			RunID      string               `json:"runId,omitempty"`
			Method     tactile.Kind         `json:"method"`
			Resets     []int                `json:"resets"`
			Transforms tactile.Trajectory   `json:"transforms"`
			Poses      []tactile.PoseVector `json:"poses"`
		}{
			RunID:      s.RunID,
			Method:     s.Method,
			Resets:     s.Resets,
			Transforms: state.Trajectory(),
			Poses:      state.Trajectory().Poses(),
		})
	})

	mux.HandleFunc("/trajectory.svg", func(w http.ResponseWriter, r *http.Request) {
		if state == nil {
			http.Error(w, "No run in progress", http.StatusServiceUnavailable)
			return
		}
		traj := state.Trajectory()
		renderer := tactile.NewTrajectoryRenderer(traj, state.Status().Resets)
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			logger.Warnw("error rendering trajectory SVG", "error", err)
		}
	})

	// Default route serves an HTML page embedding the live trajectory
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="2">
<title>tactiletrack</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#fff}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style>
</head>
<body>
<img src="/trajectory.svg" alt="Trajectory">
</body>
</html>`)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugw("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}
