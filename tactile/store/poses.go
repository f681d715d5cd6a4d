package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kwv/tactiletrack/tactile"
)

// Poses reads and writes the per-frame poses of a run.
type Poses struct {
	db *sql.DB
}

// Append stores the pose of one frame. Writing the same frame twice
// replaces it.
func (p *Poses) Append(ctx context.Context, runID string, frame int, pose tactile.Transform, isReset bool) error {
	matrix, err := json.Marshal(pose)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO poses (run_id, frame_index, matrix, is_reset)
		VALUES (?, ?, ?, ?)`, runID, frame, string(matrix), isReset)
	if err != nil {
		return fmt.Errorf("failed to append pose %d of run %s: %w", frame, runID, err)
	}
	return nil
}

// Trajectory returns the stored poses of a run in frame order together
// with the frames flagged as resets.
func (p *Poses) Trajectory(ctx context.Context, runID string) (tactile.Trajectory, []int, error) {
	var exists int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return nil, nil, err
	}
	if exists == 0 {
		return nil, nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT frame_index, matrix, is_reset FROM poses
		WHERE run_id = ? ORDER BY frame_index`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query poses of run %s: %w", runID, err)
	}
	defer rows.Close()

	traj := tactile.Trajectory{}
	resets := []int{}
	for rows.Next() {
		var (
			frame   int
			matrix  string
			isReset bool
			pose    tactile.Transform
		)
		if err := rows.Scan(&frame, &matrix, &isReset); err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal([]byte(matrix), &pose); err != nil {
			return nil, nil, fmt.Errorf("decoding pose %d of run %s: %w", frame, runID, err)
		}
		traj = append(traj, pose)
		if isReset {
			resets = append(resets, frame)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return traj, resets, nil
}
