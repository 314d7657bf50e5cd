package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/grantscout/grantscout-backend/config"
	"github.com/grantscout/grantscout-backend/model"
)

// Ledger authorizes paid usage and records every balance-affecting event
// through the append-only transaction store. Authorization fails closed at
// balance <= 0; settlement of an already-authorized search may push the
// balance negative, since the provider cost was already incurred.
type Ledger struct {
	store  CreditStore
	markup decimal.Decimal

	mu           sync.Mutex
	reservations map[string]Reservation
}

// Reservation is the token handed out by AuthorizeAndReserve and consumed
// exactly once by Settle (or Release). The estimate is informational; no
// funds are held.
type Reservation struct {
	Token     string
	UserID    string
	Estimated decimal.Decimal
	CreatedAt time.Time
}

// BalanceInfo is the read model for a user's account.
type BalanceInfo struct {
	Balance       decimal.Decimal `json:"balance"`
	LifetimeAdded decimal.Decimal `json:"lifetime_added"`
	LifetimeSpent decimal.Decimal `json:"lifetime_spent"`
	CanUseService bool            `json:"can_use_service"`
	IsNegative    bool            `json:"is_negative"`
}

// Decision is the outcome of a usage-eligibility check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func NewLedger(store CreditStore, cfg config.CreditsConfig) *Ledger {
	return &Ledger{
		store:        store,
		markup:       decimal.NewFromFloat(cfg.Markup),
		reservations: make(map[string]Reservation),
	}
}

// GetBalance returns the account read model. No side effects.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (*BalanceInfo, error) {
	acc, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceInfo{
		Balance:       acc.Balance,
		LifetimeAdded: acc.LifetimeAdded,
		LifetimeSpent: acc.LifetimeSpent,
		CanUseService: acc.Balance.IsPositive(),
		IsNegative:    acc.Balance.IsNegative(),
	}, nil
}

// CanUse reports whether the user may start paid usage. Fails closed:
// not allowed whenever balance <= 0.
func (l *Ledger) CanUse(ctx context.Context, userID string) (*Decision, error) {
	acc, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !acc.Balance.IsPositive() {
		return &Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("balance is %s; top up to start a new search", acc.Balance.StringFixed(2)),
		}, nil
	}
	return &Decision{Allowed: true}, nil
}

// AuthorizeAndReserve checks eligibility and issues a reservation token
// for later settlement. The estimate is not debited.
func (l *Ledger) AuthorizeAndReserve(ctx context.Context, userID string, estimated decimal.Decimal) (*Reservation, error) {
	decision, err := l.CanUse(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientBalance, decision.Reason)
	}

	res := Reservation{
		Token:     uuid.New().String(),
		UserID:    userID,
		Estimated: estimated,
		CreatedAt: time.Now(),
	}

	l.mu.Lock()
	l.reservations[res.Token] = res
	l.mu.Unlock()

	return &res, nil
}

// Release drops a reservation without settling. Used when a run incurred
// no provider cost.
func (l *Ledger) Release(token string) {
	l.mu.Lock()
	delete(l.reservations, token)
	l.mu.Unlock()
}

// Settle converts an incurred provider cost into a deduction: charged =
// actualCost * markup, rounded to the cent. This is the only path that
// moves balance after a search, it runs exactly once per reservation, and
// it may drive the balance negative since the usage already happened.
func (l *Ledger) Settle(ctx context.Context, token string, actualCost decimal.Decimal, description string, runID *string) (*model.CreditTransaction, error) {
	l.mu.Lock()
	res, ok := l.reservations[token]
	if ok {
		delete(l.reservations, token)
	}
	l.mu.Unlock()
	if !ok {
		return nil, ErrUnknownReservation
	}

	charged := actualCost.Mul(l.markup).Round(2)
	tx := &model.CreditTransaction{
		ID:          uuid.New().String(),
		UserID:      res.UserID,
		Amount:      charged.Neg(),
		Kind:        model.KindDeduction,
		Description: description,
		RunID:       runID,
	}
	return l.store.Apply(ctx, tx)
}

// DepositTier credits a fixed top-up package.
func (l *Ledger) DepositTier(ctx context.Context, userID string, tierID int) (*model.CreditTransaction, error) {
	tier, ok := model.TierByID(tierID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTier, tierID)
	}
	tx := &model.CreditTransaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Amount:      tier.Credits,
		Kind:        model.KindDeposit,
		Description: fmt.Sprintf("tier %d deposit ($%s paid)", tier.ID, tier.PriceUSD.StringFixed(2)),
	}
	return l.store.Apply(ctx, tx)
}

// Deposit credits a paid amount. Amounts matching a tier price get the
// tier's credits (including any bonus); anything else is credited 1:1,
// subject to the ad-hoc minimum.
func (l *Ledger) Deposit(ctx context.Context, userID string, amountPaid decimal.Decimal, description string) (*model.CreditTransaction, error) {
	if tier, ok := model.TierByPrice(amountPaid); ok {
		return l.DepositTier(ctx, userID, tier.ID)
	}
	if amountPaid.LessThan(model.MinTopUpUSD) {
		return nil, fmt.Errorf("%w: minimum is $%s, got $%s",
			ErrBelowMinimumTopUp, model.MinTopUpUSD.StringFixed(2), amountPaid.StringFixed(2))
	}
	tx := &model.CreditTransaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Amount:      amountPaid,
		Kind:        model.KindDeposit,
		Description: description,
	}
	return l.store.Apply(ctx, tx)
}

// Refund credits back an amount, e.g. for a failed search whose cost was
// charged but never incurred.
func (l *Ledger) Refund(ctx context.Context, userID string, amount decimal.Decimal, reason string) (*model.CreditTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("refund amount must be positive, got %s", amount)
	}
	tx := &model.CreditTransaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Amount:      amount,
		Kind:        model.KindRefund,
		Description: reason,
	}
	return l.store.Apply(ctx, tx)
}

// ListTransactions returns the user's ledger history, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	return l.store.ListTransactions(ctx, userID, limit)
}

// Markup exposes the configured multiplier (for cost previews).
func (l *Ledger) Markup() decimal.Decimal {
	return l.markup
}
