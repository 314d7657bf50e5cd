package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grantscout/grantscout-backend/model"
	"github.com/grantscout/grantscout-backend/service"
)

// GrantStore persists the grants discovered by a run. Insertion is a
// single transaction so a run's result set is all-or-nothing.
type GrantStore struct {
	pool *pgxpool.Pool
}

func NewGrantStore(pool *pgxpool.Pool) *GrantStore {
	return &GrantStore{pool: pool}
}

// InsertBatch writes a run's grants atomically. The owning run row is
// locked for the duration of the transaction and the batch is refused
// with service.ErrRunNotActive unless the run is still running, so a
// concurrent cancellation either lands before the lock and discards the
// batch, or waits behind it and fails the run only after it committed.
func (s *GrantStore) InsertBatch(ctx context.Context, runID string, grants []model.Grant) error {
	if len(grants) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM search_runs WHERE id = $1 FOR UPDATE`, runID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock search run: %w", err)
	}
	if model.RunStatus(status) != model.RunRunning {
		return fmt.Errorf("%w: run is %s", service.ErrRunNotActive, status)
	}

	for _, g := range grants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO grants
			   (id, run_id, title, funder, amount_min, amount_max, deadline, eligibility,
			    categories, geography, description, source_url, requirements, score, saved, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			g.ID, runID, g.Title, g.Funder, g.AmountMin, g.AmountMax, g.Deadline,
			g.Eligibility, g.Categories, g.Geography, g.Description, g.SourceURL,
			g.Requirements, g.Score, g.Saved, g.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert grant %q: %w", g.Title, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteByRun removes every grant of a run. Used to unwind a batch that
// committed just before a cancellation made the run terminal.
func (s *GrantStore) DeleteByRun(ctx context.Context, runID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM grants WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("delete grants: %w", err)
	}
	return nil
}

// ListByRun returns a page of a run's grants plus the total matching count.
func (s *GrantStore) ListByRun(ctx context.Context, runID string, opts service.GrantListOptions) ([]model.Grant, int, error) {
	where := `WHERE run_id = $1`
	args := []any{runID}

	if opts.MinScore != nil {
		args = append(args, *opts.MinScore)
		where += fmt.Sprintf(" AND score >= $%d", len(args))
	}
	if opts.SavedOnly {
		where += " AND saved = TRUE"
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM grants `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count grants: %w", err)
	}

	orderBy := `score DESC, created_at ASC`
	if opts.SortBy == service.SortByDeadline {
		// Grants without a deadline sort last.
		orderBy = `deadline ASC NULLS LAST, score DESC`
	}

	args = append(args, opts.Limit(), opts.Offset())
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, title, funder, amount_min, amount_max, deadline, eligibility,
		        categories, geography, description, source_url, requirements, score, saved, created_at
		 FROM grants `+where+` ORDER BY `+orderBy+
			fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	var grants []model.Grant
	for rows.Next() {
		var g model.Grant
		if err := rows.Scan(&g.ID, &g.RunID, &g.Title, &g.Funder, &g.AmountMin, &g.AmountMax,
			&g.Deadline, &g.Eligibility, &g.Categories, &g.Geography, &g.Description,
			&g.SourceURL, &g.Requirements, &g.Score, &g.Saved, &g.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, total, rows.Err()
}

// SetSaved toggles a grant's bookmark flag. Ownership is enforced by
// joining against the owning run.
func (s *GrantStore) SetSaved(ctx context.Context, grantID, userID string, saved bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE grants g SET saved = $3
		 FROM search_runs r
		 WHERE g.id = $1 AND g.run_id = r.id AND r.user_id = $2`,
		grantID, userID, saved,
	)
	if err != nil {
		return fmt.Errorf("set saved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
