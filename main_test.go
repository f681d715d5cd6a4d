package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunTrack(context.Context) error {
	m.called["RunTrack"] = true
	return m.err
}
func (m *mockApp) RunService(context.Context) error {
	m.called["RunService"] = true
	return m.err
}
func (m *mockApp) RunListRuns(context.Context) error {
	m.called["RunListRuns"] = true
	return m.err
}

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Track",
			args:           []string{"--parent-dir", "/tmp/data", "--method", "icp", "--samples", "2000"},
			expectedCalled: "RunTrack",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ParentDir != "/tmp/data" {
					t.Errorf("expected ParentDir /tmp/data, got %s", opts.ParentDir)
				}
				if opts.Method != "icp" {
					t.Errorf("expected Method icp, got %s", opts.Method)
				}
				if opts.Samples != 2000 {
					t.Errorf("expected Samples 2000, got %d", opts.Samples)
				}
				if opts.SeedSet {
					t.Error("expected SeedSet false without --seed")
				}
			},
		},
		{
			name:           "LongHorizonWithSeed",
			args:           []string{"--long-horizon", "--method", "fpfh", "--seed", "0"},
			expectedCalled: "RunTrack",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.LongHorizon {
					t.Error("expected LongHorizon true")
				}
				if !opts.SeedSet || opts.Seed != 0 {
					t.Errorf("expected explicit seed 0, got set=%v seed=%d", opts.SeedSet, opts.Seed)
				}
			},
		},
		{
			name:           "Outputs",
			args:           []string{"--output", "out", "--truth", "truth.npy", "--render", "path.svg", "--plot", "poses.png", "--preview-dir", "previews"},
			expectedCalled: "RunTrack",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.OutputDir != "out" || opts.TruthFile != "truth.npy" {
					t.Errorf("unexpected output/truth: %s %s", opts.OutputDir, opts.TruthFile)
				}
				if opts.RenderFile != "path.svg" || opts.PlotFile != "poses.png" {
					t.Errorf("unexpected render/plot: %s %s", opts.RenderFile, opts.PlotFile)
				}
				if opts.PreviewDir != "previews" {
					t.Errorf("expected PreviewDir previews, got %s", opts.PreviewDir)
				}
			},
		},
		{
			name:           "HttpMode",
			args:           []string{"--http", "--mqtt", "--http-port", "9090"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode {
					t.Error("expected MqttMode true")
				}
				if opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", opts.HttpPort)
				}
			},
		},
		{
			name:           "ListRuns",
			args:           []string{"--list-runs", "--store", "runs.db"},
			expectedCalled: "RunListRuns",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.StorePath != "runs.db" {
					t.Errorf("expected StorePath runs.db, got %s", opts.StorePath)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(context.Background(), tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_UnknownMethod(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run(context.Background(), []string{"--method", "sift"}, &out, app)
	if err == nil {
		t.Fatal("expected error for unknown method")
	}
	if len(app.called) != 0 {
		t.Errorf("no mode should run, got %v", app.called)
	}
}

func TestRun_PropagatesRunnerError(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("boom")
	err := run(context.Background(), nil, &bytes.Buffer{}, app)
	if !errors.Is(err, app.err) {
		t.Errorf("expected runner error, got %v", err)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run(context.Background(), []string{"--help"}, &out, app)
	if err == nil {
		t.Error("expected error from --help, got nil")
	}
	if !strings.Contains(out.String(), "Usage of tactiletrack") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run(context.Background(), []string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "tactiletrack version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if !app.called["RunTrack"] {
		t.Error("expected tracking to be the default mode")
	}
	if app.opts.Samples != -1 {
		t.Errorf("expected Samples to default to -1 (use config), got %d", app.opts.Samples)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
