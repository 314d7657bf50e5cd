package service

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/grantscout/grantscout-backend/config"
	"github.com/grantscout/grantscout-backend/model"
	"github.com/grantscout/grantscout-backend/pkg/logger"
)

// Scheduler dispatches enabled standing searches on a cron schedule.
// Each tick walks the enabled schedules and starts a run for every one
// still under its owner's daily automated cap. Per-schedule failures are
// logged and skipped so one broke account never blocks the rest.
type Scheduler struct {
	cron      *cron.Cron
	schedules ScheduleStore
	orch      *Orchestrator
	spec      string
	dailyCap  int
}

func NewScheduler(cfg config.SearchConfig, schedules ScheduleStore, orch *Orchestrator) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		schedules: schedules,
		orch:      orch,
		spec:      cfg.CronSpec,
		dailyCap:  cfg.DailyAutomatedCap,
	}
}

// Start registers the tick job and starts the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx := context.Background()
		s.Tick(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Tick runs one scheduling pass. Exported so tests can drive it directly.
func (s *Scheduler) Tick(ctx context.Context) {
	schedules, err := s.schedules.ListEnabled(ctx)
	if err != nil {
		logger.Error(ctx, "failed to list scheduled searches", "error", err)
		return
	}

	midnight := startOfDay(time.Now())
	for _, sched := range schedules {
		s.dispatch(ctx, sched, midnight)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, sched model.ScheduledSearch, midnight time.Time) {
	count, err := s.orch.runs.CountAutomatedSince(ctx, sched.UserID, midnight)
	if err != nil {
		logger.Error(ctx, "failed to count automated runs",
			"schedule_id", sched.ID, "error", err)
		return
	}
	if count >= s.dailyCap {
		logger.Info(ctx, "daily automated cap reached; skipping schedule",
			"schedule_id", sched.ID, "user_id", sched.UserID, "count", count)
		return
	}

	// Scheduled runs execute with the owner's identity. Schedules can only
	// be created by approved users, so the whitelist status is implied.
	id := model.Identity{
		UserID:    sched.UserID,
		Email:     sched.Email,
		Role:      model.RoleUser,
		Whitelist: model.WhitelistApproved,
	}

	run, err := s.orch.Start(ctx, id, sched.Query, sched.Profile, model.TriggerScheduled)
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		logger.Info(ctx, "skipping schedule: insufficient balance",
			"schedule_id", sched.ID, "user_id", sched.UserID)
	case errors.Is(err, ErrTooManyActiveRuns):
		logger.Info(ctx, "skipping schedule: too many active runs",
			"schedule_id", sched.ID, "user_id", sched.UserID)
	case err != nil:
		logger.Error(ctx, "failed to dispatch scheduled search",
			"schedule_id", sched.ID, "error", err)
	default:
		logger.Info(ctx, "dispatched scheduled search",
			"schedule_id", sched.ID, "run_id", run.ID)
	}
}

// startOfDay truncates t to local midnight. The daily automated cap
// resets on the server's local calendar day.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
