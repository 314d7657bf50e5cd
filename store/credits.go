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

// CreditStore persists credit accounts and their append-only ledger.
// Accounts are created lazily with a zero balance the first time they are
// touched. All balance mutation goes through Apply, which serializes
// concurrent writers per user with a row-level lock on the account.
type CreditStore struct {
	pool *pgxpool.Pool
}

func NewCreditStore(pool *pgxpool.Pool) *CreditStore {
	return &CreditStore{pool: pool}
}

// GetAccount returns the account for userID. A user with no persisted
// account is reported as a zero-balance account; the row is only created
// once a transaction is applied.
func (s *CreditStore) GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	acc := &model.CreditAccount{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT balance, lifetime_added, lifetime_spent, created_at, updated_at
		 FROM credit_accounts WHERE user_id = $1`,
		userID,
	).Scan(&acc.Balance, &acc.LifetimeAdded, &acc.LifetimeSpent, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			now := time.Now()
			acc.Balance = decimal.Zero
			acc.LifetimeAdded = decimal.Zero
			acc.LifetimeSpent = decimal.Zero
			acc.CreatedAt = now
			acc.UpdatedAt = now
			return acc, nil
		}
		return nil, fmt.Errorf("query credit account: %w", err)
	}
	return acc, nil
}

// Apply records a ledger transaction and moves the account balance by the
// same delta, atomically. The caller fills UserID, Amount, Kind,
// Description and RunID; balance-before/after, id and timestamp are set
// here from the locked account row.
//
// The account invariant balance == lifetime_added - lifetime_spent is
// verified before and after the move; a mismatch aborts with
// ErrLedgerInvariant and rolls back.
func (s *CreditStore) Apply(ctx context.Context, t *model.CreditTransaction) (*model.CreditTransaction, error) {
	if t.Amount.IsZero() {
		return nil, fmt.Errorf("transaction amount must be non-zero")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lazily create the account, then take the per-user serialization
	// point: the row lock orders concurrent settlements and deposits.
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		t.UserID,
	); err != nil {
		return nil, fmt.Errorf("ensure credit account: %w", err)
	}

	var balance, added, spent decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT balance, lifetime_added, lifetime_spent
		 FROM credit_accounts WHERE user_id = $1 FOR UPDATE`,
		t.UserID,
	).Scan(&balance, &added, &spent)
	if err != nil {
		return nil, fmt.Errorf("lock credit account: %w", err)
	}

	if err := reconcileAccount(t.UserID, balance, added, spent); err != nil {
		return nil, err
	}

	t.BalanceBefore = balance
	t.BalanceAfter = balance.Add(t.Amount)
	t.CreatedAt = time.Now()

	if t.Amount.IsPositive() {
		added = added.Add(t.Amount)
	} else {
		spent = spent.Add(t.Amount.Neg())
	}

	if _, err := tx.Exec(ctx,
		`UPDATE credit_accounts
		 SET balance = $2, lifetime_added = $3, lifetime_spent = $4, updated_at = now()
		 WHERE user_id = $1`,
		t.UserID, t.BalanceAfter, added, spent,
	); err != nil {
		return nil, fmt.Errorf("update credit account: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions
		   (id, user_id, amount, kind, balance_before, balance_after, description, run_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.UserID, t.Amount, string(t.Kind),
		t.BalanceBefore, t.BalanceAfter, t.Description, t.RunID, t.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert credit transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

// reconcileAccount checks the account invariant balance == lifetime_added
// - lifetime_spent. A mismatch means the stored totals drifted from the
// ledger; the caller must abort, never adjust.
func reconcileAccount(userID string, balance, added, spent decimal.Decimal) error {
	if !balance.Equal(added.Sub(spent)) {
		return fmt.Errorf("%w: user %s has balance %s but lifetime %s - %s",
			ErrLedgerInvariant, userID, balance, added, spent)
	}
	return nil
}

// ListTransactions returns the user's ledger entries, newest first.
func (s *CreditStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, amount, kind, balance_before, balance_after, description, run_id, created_at
		 FROM credit_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.CreditTransaction
	for rows.Next() {
		var t model.CreditTransaction
		var kind string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &kind,
			&t.BalanceBefore, &t.BalanceAfter, &t.Description, &t.RunID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		t.Kind = model.TransactionKind(kind)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
