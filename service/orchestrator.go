package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/grantscout/grantscout-backend/config"
	"github.com/grantscout/grantscout-backend/model"
	"github.com/grantscout/grantscout-backend/pkg/logger"
)

// Progress sub-steps recorded on a running SearchRun. Observability only;
// the top-level states stay pending/running/completed/failed.
const (
	StepQueryingSources = "querying discovery sources"
	StepScoring         = "scoring"
	StepPersisting      = "persisting"
)

// CancelReason is the error recorded on a user-cancelled run.
const CancelReason = "cancelled by user"

// Orchestrator drives a SearchRun through its state machine: authorize,
// fan out to both discovery sources, merge and score, persist, settle,
// notify. Each run executes as its own goroutine; the credit account row
// lock in the store serializes per-user settlement.
type Orchestrator struct {
	runs     RunStore
	grants   GrantStore
	ledger   *Ledger
	text     TextDiscoveryService
	web      WebDiscoveryService
	notifier Notifier
	archive  Archiver // optional

	estimatedCost       decimal.Decimal
	lowBalanceThreshold decimal.Decimal
	maxConcurrent       int
	textTimeout         time.Duration
	webTimeout          time.Duration
	sourceCount         int

	wg sync.WaitGroup
}

// OrchestratorConfig bundles the pieces the orchestrator wires together.
type OrchestratorConfig struct {
	Runs     RunStore
	Grants   GrantStore
	Ledger   *Ledger
	Text     TextDiscoveryService
	Web      WebDiscoveryService
	Notifier Notifier
	Archive  Archiver

	Credits config.CreditsConfig
	Search  config.SearchConfig

	TextTimeout time.Duration
	WebTimeout  time.Duration
	SourceCount int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		runs:                cfg.Runs,
		grants:              cfg.Grants,
		ledger:              cfg.Ledger,
		text:                cfg.Text,
		web:                 cfg.Web,
		notifier:            notifier,
		archive:             cfg.Archive,
		estimatedCost:       decimal.NewFromFloat(cfg.Credits.EstimatedSearchCost),
		lowBalanceThreshold: decimal.NewFromFloat(cfg.Credits.LowBalanceThreshold),
		maxConcurrent:       cfg.Search.MaxConcurrentPerUser,
		textTimeout:         cfg.TextTimeout,
		webTimeout:          cfg.WebTimeout,
		sourceCount:         cfg.SourceCount,
	}
}

// Start authorizes and dispatches a new SearchRun. It returns the run in
// pending state immediately; all downstream progress and failure is
// visible only through the run's status. Pre-dispatch rejections
// (insufficient balance, concurrency cap) leave no run behind.
func (o *Orchestrator) Start(ctx context.Context, id model.Identity, query string, profile model.SearchProfile, trigger model.TriggerKind) (*model.SearchRun, error) {
	active, err := o.runs.CountActive(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if active >= o.maxConcurrent {
		return nil, ErrTooManyActiveRuns
	}

	res, err := o.ledger.AuthorizeAndReserve(ctx, id.UserID, o.estimatedCost)
	if err != nil {
		return nil, err
	}

	run := &model.SearchRun{
		ID:            uuid.New().String(),
		UserID:        id.UserID,
		Trigger:       trigger,
		Query:         query,
		Status:        model.RunPending,
		EstimatedCost: o.estimatedCost,
		CreatedAt:     time.Now(),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		o.ledger.Release(res.Token)
		return nil, err
	}

	// Detach from the request: the run outlives the HTTP call that
	// started it, but keeps the caller's log attribution.
	runCtx := context.WithValue(context.WithoutCancel(ctx), logger.RunIDKey, run.ID)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(runCtx, *run, id, profile, res)
	}()

	return run, nil
}

// Cancel force-fails a caller-owned, non-terminal run. Already-terminal
// runs are a no-op. In-flight provider calls are not aborted; whatever
// cost they incur is still settled, but their results are discarded.
func (o *Orchestrator) Cancel(ctx context.Context, id model.Identity, runID string) (*model.SearchRun, error) {
	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.UserID != id.UserID && !id.IsAdmin() {
		return nil, ErrNotOwner
	}
	if run.Status.Terminal() {
		return run, nil
	}

	if _, err := o.runs.Fail(ctx, runID, CancelReason, run.ActualCost, run.ChargedAmount); err != nil {
		return nil, err
	}
	return o.runs.Get(ctx, runID)
}

// Wait blocks until every in-flight run goroutine finishes. Used on
// shutdown and in tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

type sourceOutcome struct {
	name   string
	result *SourceResult
	err    error
}

// execute runs the pipeline for one dispatched run.
func (o *Orchestrator) execute(ctx context.Context, run model.SearchRun, id model.Identity, profile model.SearchProfile, res *Reservation) {
	if err := o.runs.MarkRunning(ctx, run.ID); err != nil {
		// Cancelled while still pending: nothing incurred, nothing owed.
		logger.Info(ctx, "run not started", "error", err)
		o.ledger.Release(res.Token)
		return
	}
	o.progress(ctx, run.ID, StepQueryingSources, 10)

	// Fan out to both sources; each failure stays local to its source.
	outcomes := make([]sourceOutcome, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		tctx, cancel := context.WithTimeout(ctx, o.textTimeout)
		defer cancel()
		r, err := o.text.FindGrants(tctx, run.Query, profile)
		outcomes[0] = sourceOutcome{name: "text", result: r, err: err}
	}()
	go func() {
		defer wg.Done()
		wctx, cancel := context.WithTimeout(ctx, o.webTimeout)
		defer cancel()
		r, err := o.web.ScrapeSources(wctx, run.Query, o.sourceCount)
		outcomes[1] = sourceOutcome{name: "web", result: r, err: err}
	}()
	wg.Wait()

	actual := decimal.Zero
	var candidates []model.Candidate
	var failures []string
	for _, oc := range outcomes {
		if oc.err != nil {
			logger.Warn(ctx, "discovery source failed", "source", oc.name, "error", oc.err)
			failures = append(failures, oc.name+" source: "+oc.err.Error())
			continue
		}
		actual = actual.Add(oc.result.Cost)
		candidates = append(candidates, oc.result.Candidates...)
		o.archivePayload(ctx, run.UserID, run.ID, oc.name, oc.result.Raw)
	}

	if len(failures) == len(outcomes) {
		// Every source failed: the run is a failure. Settle whatever
		// partial cost a provider billed before failing (usually none).
		charged := o.settleOrRelease(ctx, res, actual, run.ID, "grant search failed: all sources errored")
		o.failRun(ctx, run.ID, strings.Join(failures, "; "), actual, charged)
		return
	}

	o.progress(ctx, run.ID, StepScoring, 60)
	grants := MergeAndScore(candidates, profile, time.Now())

	o.progress(ctx, run.ID, StepPersisting, 80)
	now := time.Now()
	for i := range grants {
		grants[i].ID = uuid.New().String()
		grants[i].RunID = run.ID
		grants[i].CreatedAt = now
	}
	if err := o.grants.InsertBatch(ctx, run.ID, grants); err != nil {
		// The store refuses the batch when a cancellation made the run
		// terminal while the providers were working. The cost is real
		// and gets settled; the results are discarded so a terminal run
		// is never mutated.
		if errors.Is(err, ErrRunNotActive) {
			logger.Info(ctx, "run cancelled mid-flight; discarding results", "grants", len(grants))
			o.settleOrRelease(ctx, res, actual, run.ID, "grant search cancelled after provider cost was incurred")
			return
		}
		// Deliberate policy: the provider cost was incurred even though
		// storage failed, so it is still settled against the user.
		logger.Error(ctx, "grant persistence failed", "error", err)
		charged := o.settleOrRelease(ctx, res, actual, run.ID, "grant search failed during persistence; provider cost settled")
		o.failRun(ctx, run.ID, "failed to persist grants: "+err.Error(), actual, charged)
		return
	}

	charged := o.settleOrRelease(ctx, res, actual, run.ID, "grant search")
	if err := o.runs.Complete(ctx, run.ID, actual, charged, len(grants)); err != nil {
		// A cancellation can still land in the window between the batch
		// commit and the completion update. Unwind the persisted grants
		// so a failed run never exposes results.
		if cur, gerr := o.runs.Get(ctx, run.ID); gerr == nil && cur.Status.Terminal() {
			logger.Info(ctx, "run cancelled after persistence; discarding results", "grants", len(grants))
			if derr := o.grants.DeleteByRun(ctx, run.ID); derr != nil {
				logger.Error(ctx, "failed to discard grants of cancelled run", "error", derr)
			}
			return
		}
		logger.Error(ctx, "failed to complete run", "error", err)
		return
	}

	completed, err := o.runs.Get(ctx, run.ID)
	if err != nil {
		completed = &run
		completed.ChargedAmount = charged
	}
	o.notifier.SearchCompleted(ctx, id, completed, len(grants))

	if bal, err := o.ledger.GetBalance(ctx, run.UserID); err == nil &&
		bal.Balance.LessThanOrEqual(o.lowBalanceThreshold) {
		o.notifier.LowBalance(ctx, id, bal.Balance)
	}
}

// settleOrRelease settles the incurred cost against the reservation, or
// releases it when nothing was incurred. Returns the charged amount.
func (o *Orchestrator) settleOrRelease(ctx context.Context, res *Reservation, actual decimal.Decimal, runID, description string) decimal.Decimal {
	if actual.IsZero() {
		o.ledger.Release(res.Token)
		return decimal.Zero
	}
	tx, err := o.ledger.Settle(ctx, res.Token, actual, description, &runID)
	if err != nil {
		// A settlement failure (including a ledger invariant violation)
		// must never be papered over; it is logged loudly and the run
		// records a zero charge so the books can be reconciled by hand.
		logger.Error(ctx, "ledger settlement failed", "error", err, "actual_cost", actual)
		return decimal.Zero
	}
	return tx.Amount.Neg()
}

func (o *Orchestrator) failRun(ctx context.Context, runID, reason string, actual, charged decimal.Decimal) {
	if _, err := o.runs.Fail(ctx, runID, reason, actual, charged); err != nil {
		logger.Error(ctx, "failed to mark run failed", "error", err)
	}
}

func (o *Orchestrator) progress(ctx context.Context, runID, step string, pct int) {
	if err := o.runs.SetProgress(ctx, runID, step, pct); err != nil {
		logger.Warn(ctx, "failed to record progress", "step", step, "error", err)
	}
}

func (o *Orchestrator) archivePayload(ctx context.Context, userID, runID, source string, payload []byte) {
	if o.archive == nil || len(payload) == 0 {
		return
	}
	if err := o.archive.StorePayload(ctx, userID, runID, source, payload); err != nil {
		logger.Warn(ctx, "failed to archive provider payload", "source", source, "error", err)
	}
}
