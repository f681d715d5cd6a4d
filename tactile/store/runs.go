package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run states.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Run describes one tracking run.
type Run struct {
	ID          string    `json:"id"`
	Method      string    `json:"method"`
	PixelPitch  float64   `json:"pixelPitch"`
	LongHorizon bool      `json:"longHorizon"`
	Resets      []int     `json:"resets"`
	Frames      int       `json:"frames"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Runs reads and writes the runs table.
type Runs struct {
	db *sql.DB
}

// Create inserts a run. An empty ID is replaced with a new UUID and a zero
// CreatedAt with the current time. The stored run is returned.
func (r *Runs) Create(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Resets == nil {
		run.Resets = []int{}
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	resets, err := json.Marshal(run.Resets)
	if err != nil {
		return Run{}, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, method, pixel_pitch, long_horizon, resets, frames, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Method, run.PixelPitch, run.LongHorizon, string(resets), run.Frames, run.Status, run.Error, run.CreatedAt)
	if err != nil {
		return Run{}, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// Finish records the final frame count and reset indices of a run and marks
// it finished.
func (r *Runs) Finish(ctx context.Context, id string, frames int, resets []int) error {
	return r.complete(ctx, id, frames, resets, StatusFinished, "")
}

// Fail marks a still running run as failed with the frames tracked before
// cause stopped it.
func (r *Runs) Fail(ctx context.Context, id string, frames int, resets []int, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.complete(ctx, id, frames, resets, StatusFailed, msg)
}

func (r *Runs) complete(ctx context.Context, id string, frames int, resets []int, status, msg string) error {
	if resets == nil {
		resets = []int{}
	}
	data, err := json.Marshal(resets)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET frames = ?, resets = ?, status = ?, error = ?
		WHERE id = ? AND status = ?`,
		frames, string(data), status, msg, id, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("running run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns one run.
func (r *Runs) Get(ctx context.Context, id string) (Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, method, pixel_pitch, long_horizon, resets, frames, status, error, created_at
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// List returns runs, newest first.
func (r *Runs) List(ctx context.Context) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, method, pixel_pitch, long_horizon, resets, frames, status, error, created_at
		FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run    Run
		resets string
	)
	if err := s.Scan(&run.ID, &run.Method, &run.PixelPitch, &run.LongHorizon, &resets, &run.Frames, &run.Status, &run.Error, &run.CreatedAt); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(resets), &run.Resets); err != nil {
		return Run{}, fmt.Errorf("decoding resets of run %s: %w", run.ID, err)
	}
	return run, nil
}
