package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/grantscout/grantscout-backend/config"
	"github.com/grantscout/grantscout-backend/model"
	"github.com/grantscout/grantscout-backend/service"
	"github.com/grantscout/grantscout-backend/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var approvedUser = model.Identity{
	UserID:    "user-1",
	Email:     "user-1@example.com",
	Role:      model.RoleUser,
	Whitelist: model.WhitelistApproved,
}

// withIdentity injects a resolved identity the way AuthMiddleware does,
// skipping token verification.
func withIdentity(id model.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("identity", id)
		c.Next()
	}
}

type memCreditStore struct {
	mu       sync.Mutex
	accounts map[string]*model.CreditAccount
	txs      []model.CreditTransaction
}

func newMemCreditStore() *memCreditStore {
	return &memCreditStore{accounts: make(map[string]*model.CreditAccount)}
}

func (s *memCreditStore) GetAccount(_ context.Context, userID string) (*model.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[userID]; ok {
		cp := *acc
		return &cp, nil
	}
	return &model.CreditAccount{UserID: userID}, nil
}

func (s *memCreditStore) Apply(_ context.Context, t *model.CreditTransaction) (*model.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[t.UserID]
	if !ok {
		acc = &model.CreditAccount{UserID: t.UserID}
		s.accounts[t.UserID] = acc
	}
	t.BalanceBefore = acc.Balance
	t.BalanceAfter = acc.Balance.Add(t.Amount)
	t.CreatedAt = time.Now()
	acc.Balance = t.BalanceAfter
	if t.Amount.IsPositive() {
		acc.LifetimeAdded = acc.LifetimeAdded.Add(t.Amount)
	} else {
		acc.LifetimeSpent = acc.LifetimeSpent.Add(t.Amount.Neg())
	}
	s.txs = append(s.txs, *t)
	cp := *t
	return &cp, nil
}

func (s *memCreditStore) ListTransactions(_ context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CreditTransaction
	for i := len(s.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.txs[i].UserID == userID {
			out = append(out, s.txs[i])
		}
	}
	return out, nil
}

type memRunStore struct {
	mu   sync.Mutex
	runs map[string]*model.SearchRun
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[string]*model.SearchRun)}
}

func (s *memRunStore) put(r model.SearchRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = &r
}

func (s *memRunStore) Create(_ context.Context, r *model.SearchRun) error {
	s.put(*r)
	return nil
}

func (s *memRunStore) Get(_ context.Context, id string) (*model.SearchRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memRunStore) ListByUser(_ context.Context, userID string, since time.Time) ([]model.SearchRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SearchRun
	for _, r := range s.runs {
		if r.UserID == userID && r.CreatedAt.After(since) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memRunStore) CountActive(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.runs {
		if r.UserID == userID && !r.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (s *memRunStore) CountAutomatedSince(_ context.Context, userID string, since time.Time) (int, error) {
	return 0, nil
}

func (s *memRunStore) MarkRunning(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok || r.Status != model.RunPending {
		return store.ErrInvalidTransition
	}
	r.Status = model.RunRunning
	return nil
}

func (s *memRunStore) SetProgress(_ context.Context, id, step string, pct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		r.ProgressStep = step
		r.ProgressPct = pct
	}
	return nil
}

func (s *memRunStore) Complete(_ context.Context, id string, actual, charged decimal.Decimal, grantCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok || r.Status != model.RunRunning {
		return store.ErrInvalidTransition
	}
	now := time.Now()
	r.Status = model.RunCompleted
	r.ActualCost = actual
	r.ChargedAmount = charged
	r.GrantCount = grantCount
	r.CompletedAt = &now
	return nil
}

func (s *memRunStore) Fail(_ context.Context, id, errMsg string, actual, charged decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if r.Status.Terminal() {
		return false, nil
	}
	now := time.Now()
	r.Status = model.RunFailed
	r.Error = errMsg
	r.ActualCost = actual
	r.ChargedAmount = charged
	r.CompletedAt = &now
	return true, nil
}

type memGrantStore struct {
	mu    sync.Mutex
	byRun map[string][]model.Grant
	owner map[string]string // grant id -> owning user
}

func newMemGrantStore() *memGrantStore {
	return &memGrantStore{
		byRun: make(map[string][]model.Grant),
		owner: make(map[string]string),
	}
}

func (s *memGrantStore) seed(runID, userID string, grants ...model.Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range grants {
		s.owner[g.ID] = userID
	}
	s.byRun[runID] = append(s.byRun[runID], grants...)
}

func (s *memGrantStore) InsertBatch(_ context.Context, runID string, grants []model.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRun[runID] = append(s.byRun[runID], grants...)
	return nil
}

func (s *memGrantStore) DeleteByRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.byRun[runID] {
		delete(s.owner, g.ID)
	}
	delete(s.byRun, runID)
	return nil
}

func (s *memGrantStore) ListByRun(_ context.Context, runID string, opts service.GrantListOptions) ([]model.Grant, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var filtered []model.Grant
	for _, g := range s.byRun[runID] {
		if opts.MinScore != nil && g.Score < *opts.MinScore {
			continue
		}
		if opts.SavedOnly && !g.Saved {
			continue
		}
		filtered = append(filtered, g)
	}
	total := len(filtered)

	off := opts.Offset()
	if off > len(filtered) {
		off = len(filtered)
	}
	end := off + opts.Limit()
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[off:end], total, nil
}

func (s *memGrantStore) SetSaved(_ context.Context, grantID, userID string, saved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner[grantID] != userID {
		return store.ErrNotFound
	}
	for runID, grants := range s.byRun {
		for i, g := range grants {
			if g.ID == grantID {
				s.byRun[runID][i].Saved = saved
				return nil
			}
		}
	}
	return store.ErrNotFound
}

// stubSource serves both discovery interfaces for handler-level tests.
type stubSource struct {
	candidates []model.Candidate
	cost       decimal.Decimal
	err        error
}

func (f *stubSource) respond() (*service.SourceResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.SourceResult{Candidates: f.candidates, Cost: f.cost}, nil
}

func (f *stubSource) FindGrants(context.Context, string, model.SearchProfile) (*service.SourceResult, error) {
	return f.respond()
}

func (f *stubSource) ScrapeSources(context.Context, string, int) (*service.SourceResult, error) {
	return f.respond()
}

type handlerFixture struct {
	runs    *memRunStore
	grants  *memGrantStore
	credits *memCreditStore
	ledger  *service.Ledger
	orch    *service.Orchestrator
}

func newHandlerFixture() *handlerFixture {
	runs := newMemRunStore()
	grants := newMemGrantStore()
	credits := newMemCreditStore()
	ledger := service.NewLedger(credits, config.CreditsConfig{Markup: 1.5})

	orch := service.NewOrchestrator(service.OrchestratorConfig{
		Runs:   runs,
		Grants: grants,
		Ledger: ledger,
		Text:   &stubSource{},
		Web:    &stubSource{},
		Credits: config.CreditsConfig{
			Markup:              1.5,
			LowBalanceThreshold: 2,
			EstimatedSearchCost: 0.75,
		},
		Search:      config.SearchConfig{MaxConcurrentPerUser: 2},
		TextTimeout: time.Second,
		WebTimeout:  time.Second,
		SourceCount: 3,
	})

	return &handlerFixture{runs: runs, grants: grants, credits: credits, ledger: ledger, orch: orch}
}

func (fx *handlerFixture) fund(userID string, amount int64) error {
	_, err := fx.ledger.Deposit(context.Background(), userID, decimal.NewFromInt(amount), "test funding")
	return err
}
