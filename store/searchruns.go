package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/grantscout/grantscout-backend/model"
)

// RunStore persists SearchRuns. Status updates are conditional SQL updates
// guarded on the current status, so the pending/running/terminal state
// machine cannot be violated even under concurrent writers.
type RunStore struct {
	pool *pgxpool.Pool
}

func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runColumns = `id, user_id, trigger_kind, query, status, progress_step, progress_pct,
	estimated_cost, actual_cost, charged_amount, grant_count, error, created_at, completed_at`

func scanRun(row pgx.Row) (*model.SearchRun, error) {
	var r model.SearchRun
	var status, trigger string
	err := row.Scan(&r.ID, &r.UserID, &trigger, &r.Query, &status, &r.ProgressStep, &r.ProgressPct,
		&r.EstimatedCost, &r.ActualCost, &r.ChargedAmount, &r.GrantCount, &r.Error,
		&r.CreatedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.Trigger = model.TriggerKind(trigger)
	return &r, nil
}

func (s *RunStore) Create(ctx context.Context, r *model.SearchRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_runs
		   (id, user_id, trigger_kind, query, status, estimated_cost, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.UserID, string(r.Trigger), r.Query, string(r.Status), r.EstimatedCost, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert search run: %w", err)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, id string) (*model.SearchRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM search_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query search run: %w", err)
	}
	return r, nil
}

// ListByUser returns the user's runs created since the given time, newest
// first.
func (s *RunStore) ListByUser(ctx context.Context, userID string, since time.Time) ([]model.SearchRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM search_runs
		 WHERE user_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query search runs: %w", err)
	}
	defer rows.Close()

	var runs []model.SearchRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// CountActive counts the user's non-terminal runs.
func (s *RunStore) CountActive(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM search_runs
		 WHERE user_id = $1 AND status IN ('pending', 'running')`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active runs: %w", err)
	}
	return n, nil
}

// CountAutomatedSince counts scheduled runs created since the given time
// that did not fail. Used to enforce the daily automated-run cap.
func (s *RunStore) CountAutomatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM search_runs
		 WHERE user_id = $1 AND trigger_kind = 'scheduled'
		   AND created_at >= $2
		   AND status IN ('pending', 'running', 'completed')`,
		userID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count automated runs: %w", err)
	}
	return n, nil
}

// MarkRunning transitions a pending run to running.
func (s *RunStore) MarkRunning(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE search_runs SET status = 'running' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// SetProgress records the current sub-step; only meaningful while running.
func (s *RunStore) SetProgress(ctx context.Context, id, step string, pct int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE search_runs SET progress_step = $2, progress_pct = $3
		 WHERE id = $1 AND status = 'running'`,
		id, step, pct,
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// Complete transitions a running run to completed and freezes the cost
// breakdown.
func (s *RunStore) Complete(ctx context.Context, id string, actual, charged decimal.Decimal, grantCount int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE search_runs
		 SET status = 'completed', progress_step = 'done', progress_pct = 100,
		     actual_cost = $2, charged_amount = $3, grant_count = $4, completed_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, actual, charged, grantCount,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Fail transitions a non-terminal run to failed, recording the error and
// any cost already incurred. It returns false without error when the run
// was already terminal, so cancellation can no-op cleanly.
func (s *RunStore) Fail(ctx context.Context, id, errMsg string, actual, charged decimal.Decimal) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE search_runs
		 SET status = 'failed', error = $2, actual_cost = $3, charged_amount = $4, completed_at = now()
		 WHERE id = $1 AND status IN ('pending', 'running')`,
		id, errMsg, actual, charged,
	)
	if err != nil {
		return false, fmt.Errorf("fail run: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
