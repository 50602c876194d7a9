package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/firewatch/internal/analysis"
	"github.com/kalambet/firewatch/internal/geocode"
	"github.com/kalambet/firewatch/internal/risk"
	"github.com/kalambet/firewatch/internal/weather"
)

// timeLayout sorts lexically in time order, unlike RFC3339Nano which trims
// trailing zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SaveRun stores a completed report and its ranked results. Saving the same
// run ID twice replaces the earlier copy.
func (s *Store) SaveRun(ctx context.Context, r analysis.Report) error {
	failed, err := json.Marshal(nonNil(r.FailedCategories))
	if err != nil {
		return fmt.Errorf("encoding failed categories: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, r.ID); err != nil {
		return fmt.Errorf("replacing run %s: %w", r.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, duration_ms, candidates, enriched, failed_categories, empty, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC().Format(timeLayout), r.Duration.Milliseconds(),
		r.Candidates, r.Enriched, string(failed), r.Empty, r.Reason,
	); err != nil {
		return fmt.Errorf("inserting run %s: %w", r.ID, err)
	}

	for _, res := range r.Results {
		factors, err := json.Marshal(nonNil(res.Risk.Factors))
		if err != nil {
			return fmt.Errorf("encoding factors: %w", err)
		}
		cond, err := json.Marshal(res.Conditions)
		if err != nil {
			return fmt.Errorf("encoding conditions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_results (run_id, rank, name, state, lat, lon, office, grid_x, grid_y, score, level, factors, conditions)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, res.Rank, res.Place.Name, res.Place.State, res.Place.Lat, res.Place.Lon,
			res.Grid.Office, res.Grid.X, res.Grid.Y, res.Risk.Score, res.Risk.Level.String(),
			string(factors), string(cond),
		); err != nil {
			return fmt.Errorf("inserting result %d of run %s: %w", res.Rank, r.ID, err)
		}
	}

	return tx.Commit()
}

// GetRun loads a stored report with its results in rank order.
func (s *Store) GetRun(ctx context.Context, id string) (analysis.Report, error) {
	var (
		r          analysis.Report
		startedAt  string
		durationMs int64
		failed     string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, duration_ms, candidates, enriched, failed_categories, empty, reason
		FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &startedAt, &durationMs, &r.Candidates, &r.Enriched, &failed, &r.Empty, &r.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return analysis.Report{}, ErrNotFound
	}
	if err != nil {
		return analysis.Report{}, err
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return analysis.Report{}, fmt.Errorf("parsing started_at: %w", err)
	}
	r.Duration = time.Duration(durationMs) * time.Millisecond
	if err := decodeFailed(failed, &r.FailedCategories); err != nil {
		return analysis.Report{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rank, name, state, lat, lon, office, grid_x, grid_y, score, level, factors, conditions
		FROM run_results WHERE run_id = ? ORDER BY rank ASC`, id,
	)
	if err != nil {
		return analysis.Report{}, err
	}
	defer rows.Close()

	r.Results = []analysis.RankedResult{}
	for rows.Next() {
		var (
			res              analysis.RankedResult
			place            geocode.Place
			grid             weather.Grid
			level            string
			factors, condRaw string
		)
		if err := rows.Scan(&res.Rank, &place.Name, &place.State, &place.Lat, &place.Lon,
			&grid.Office, &grid.X, &grid.Y, &res.Risk.Score, &level, &factors, &condRaw); err != nil {
			return analysis.Report{}, err
		}
		if res.Risk.Level, err = risk.ParseLevel(level); err != nil {
			return analysis.Report{}, fmt.Errorf("run %s rank %d: %w", id, res.Rank, err)
		}
		if err := json.Unmarshal([]byte(factors), &res.Risk.Factors); err != nil {
			return analysis.Report{}, fmt.Errorf("decoding factors: %w", err)
		}
		if err := json.Unmarshal([]byte(condRaw), &res.Conditions); err != nil {
			return analysis.Report{}, fmt.Errorf("decoding conditions: %w", err)
		}
		res.Place = place
		res.Grid = grid
		r.Results = append(r.Results, res)
	}
	return r, rows.Err()
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, r.duration_ms, r.candidates, r.enriched, r.failed_categories, r.empty, r.reason,
		       (SELECT COUNT(*) FROM run_results rr WHERE rr.run_id = r.id)
		FROM runs r ORDER BY r.started_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		var (
			rs         RunSummary
			startedAt  string
			durationMs int64
			failed     string
		)
		if err := rows.Scan(&rs.ID, &startedAt, &durationMs, &rs.Candidates, &rs.Enriched,
			&failed, &rs.Empty, &rs.Reason, &rs.Results); err != nil {
			return nil, err
		}
		if rs.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		rs.Duration = time.Duration(durationMs) * time.Millisecond
		if err := decodeFailed(failed, &rs.FailedCategories); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// PruneRuns deletes all but the newest keep runs and returns how many were
// removed. keep <= 0 disables pruning.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func decodeFailed(raw string, dst *[]string) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decoding failed categories: %w", err)
	}
	if len(*dst) == 0 {
		*dst = nil
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
