package model_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/grantscout/grantscout-backend/model"
)

func TestTierByID(t *testing.T) {
	tier1, ok := model.TierByID(1)
	if !ok {
		t.Fatal("expected tier 1 to exist")
	}
	if !tier1.PriceUSD.Equal(decimal.NewFromInt(10)) || !tier1.Credits.Equal(decimal.NewFromInt(10)) {
		t.Errorf("tier 1 should be $10 for 10 credits, got $%s for %s", tier1.PriceUSD, tier1.Credits)
	}

	tier2, ok := model.TierByID(2)
	if !ok {
		t.Fatal("expected tier 2 to exist")
	}
	if !tier2.PriceUSD.Equal(decimal.NewFromInt(20)) || !tier2.Credits.Equal(decimal.NewFromInt(22)) {
		t.Errorf("tier 2 should be $20 for 22 credits, got $%s for %s", tier2.PriceUSD, tier2.Credits)
	}

	// Tier 2 bonus is exactly 10% over the paid amount.
	bonus := tier2.Credits.Sub(tier2.PriceUSD)
	want := tier2.PriceUSD.Mul(decimal.NewFromFloat(0.10))
	if !bonus.Equal(want) {
		t.Errorf("tier 2 bonus = %s, want %s (10%%)", bonus, want)
	}

	if _, ok := model.TierByID(3); ok {
		t.Error("tier 3 should not exist")
	}
}

func TestTierByPrice(t *testing.T) {
	if tier, ok := model.TierByPrice(decimal.NewFromInt(20)); !ok || tier.ID != 2 {
		t.Errorf("expected $20 to match tier 2, got %+v ok=%v", tier, ok)
	}
	if _, ok := model.TierByPrice(decimal.NewFromInt(15)); ok {
		t.Error("$15 should not match any tier")
	}
}

func TestIdentityApproved(t *testing.T) {
	approved := model.Identity{UserID: "u1", Whitelist: model.WhitelistApproved}
	if !approved.Approved() {
		t.Error("approved identity should pass the whitelist gate")
	}
	for _, st := range []model.WhitelistStatus{model.WhitelistPending, model.WhitelistRejected} {
		id := model.Identity{UserID: "u1", Whitelist: st}
		if id.Approved() {
			t.Errorf("whitelist status %q should not pass the gate", st)
		}
	}
}
