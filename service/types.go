// Package service contains the discovery pipeline: the credit ledger, the
// provider clients, merge & score, the run orchestrator, the scheduler and
// the notification/archival side channels.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/grantscout/grantscout-backend/model"
)

var (
	// ErrInsufficientBalance rejects paid usage at balance <= 0. It is
	// caller-visible and non-retryable ("payment required").
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnknownReservation rejects settlement of a reservation that was
	// never issued or was already settled or released.
	ErrUnknownReservation = errors.New("unknown or already settled reservation")

	// ErrBelowMinimumTopUp rejects ad-hoc deposits under the minimum.
	ErrBelowMinimumTopUp = errors.New("top-up amount below minimum")

	// ErrUnknownTier rejects deposits naming a tier that does not exist.
	ErrUnknownTier = errors.New("unknown deposit tier")

	// ErrTooManyActiveRuns rejects dispatch over the per-user cap.
	ErrTooManyActiveRuns = errors.New("too many active search runs")

	// ErrNotOwner rejects operations on another user's resources.
	ErrNotOwner = errors.New("resource not owned by caller")

	// ErrRunNotActive rejects writes against a run that is no longer
	// running, e.g. persisting results after a cancellation landed.
	ErrRunNotActive = errors.New("search run is not running")
)

// SourceResult is what a discovery provider returns: normalized
// candidates, the dollar cost the provider billed for the call, and the
// raw response payload for archival.
type SourceResult struct {
	Candidates []model.Candidate
	Cost       decimal.Decimal
	Raw        []byte
}

// TextDiscoveryService is the AI text-completion source.
type TextDiscoveryService interface {
	FindGrants(ctx context.Context, query string, profile model.SearchProfile) (*SourceResult, error)
}

// WebDiscoveryService is the web-scraping source.
type WebDiscoveryService interface {
	ScrapeSources(ctx context.Context, query string, sourceCount int) (*SourceResult, error)
}

// CreditStore is the persistence contract the ledger runs on.
type CreditStore interface {
	GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error)
	Apply(ctx context.Context, t *model.CreditTransaction) (*model.CreditTransaction, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error)
}

// RunStore is the persistence contract for SearchRuns.
type RunStore interface {
	Create(ctx context.Context, r *model.SearchRun) error
	Get(ctx context.Context, id string) (*model.SearchRun, error)
	ListByUser(ctx context.Context, userID string, since time.Time) ([]model.SearchRun, error)
	CountActive(ctx context.Context, userID string) (int, error)
	CountAutomatedSince(ctx context.Context, userID string, since time.Time) (int, error)
	MarkRunning(ctx context.Context, id string) error
	SetProgress(ctx context.Context, id, step string, pct int) error
	Complete(ctx context.Context, id string, actual, charged decimal.Decimal, grantCount int) error
	Fail(ctx context.Context, id, errMsg string, actual, charged decimal.Decimal) (bool, error)
}

// GrantSortKey orders a grant listing.
type GrantSortKey string

const (
	SortByScore    GrantSortKey = "score"
	SortByDeadline GrantSortKey = "deadline"
)

// GrantListOptions page, sort and filter a grant listing.
type GrantListOptions struct {
	Page      int
	PageSize  int
	SortBy    GrantSortKey
	MinScore  *float64
	SavedOnly bool
}

const defaultPageSize = 20

func (o GrantListOptions) Limit() int {
	if o.PageSize <= 0 {
		return defaultPageSize
	}
	return o.PageSize
}

func (o GrantListOptions) Offset() int {
	page := o.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * o.Limit()
}

// GrantStore is the persistence contract for grants. InsertBatch commits
// only while the owning run is still running and returns ErrRunNotActive
// otherwise, so a cancellation racing the insert discards the batch.
type GrantStore interface {
	InsertBatch(ctx context.Context, runID string, grants []model.Grant) error
	ListByRun(ctx context.Context, runID string, opts GrantListOptions) ([]model.Grant, int, error)
	SetSaved(ctx context.Context, grantID, userID string, saved bool) error
	DeleteByRun(ctx context.Context, runID string) error
}

// ScheduleStore lists standing searches for the cron scheduler.
type ScheduleStore interface {
	ListEnabled(ctx context.Context) ([]model.ScheduledSearch, error)
}

// Notifier delivers fire-and-forget user notifications. Implementations
// must never propagate failures to the caller.
type Notifier interface {
	SearchCompleted(ctx context.Context, id model.Identity, run *model.SearchRun, grantCount int)
	LowBalance(ctx context.Context, id model.Identity, balance decimal.Decimal)
}

// Archiver stores raw provider payloads for audit. Best-effort.
type Archiver interface {
	StorePayload(ctx context.Context, userID, runID, source string, payload []byte) error
}
