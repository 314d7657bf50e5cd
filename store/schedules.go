package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grantscout/grantscout-backend/model"
)

// ScheduleStore persists standing searches users opted into.
type ScheduleStore struct {
	pool *pgxpool.Pool
}

func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

// ListEnabled returns every enabled scheduled search.
func (s *ScheduleStore) ListEnabled(ctx context.Context) ([]model.ScheduledSearch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, email, query, focus_areas, geography, amount_min, amount_max
		 FROM scheduled_searches
		 WHERE enabled = TRUE`,
	)
	if err != nil {
		return nil, fmt.Errorf("query scheduled searches: %w", err)
	}
	defer rows.Close()

	var schedules []model.ScheduledSearch
	for rows.Next() {
		var sc model.ScheduledSearch
		if err := rows.Scan(&sc.ID, &sc.UserID, &sc.Email, &sc.Query,
			&sc.Profile.FocusAreas, &sc.Profile.Geography,
			&sc.Profile.AmountMin, &sc.Profile.AmountMax); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		sc.Enabled = true
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}
