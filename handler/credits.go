package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/grantscout/grantscout-backend/middleware"
	"github.com/grantscout/grantscout-backend/model"
	"github.com/grantscout/grantscout-backend/service"
)

type CreditsHandler struct {
	ledger *service.Ledger
}

func NewCreditsHandler(ledger *service.Ledger) *CreditsHandler {
	return &CreditsHandler{ledger: ledger}
}

// Balance returns the caller's account read model plus the usage decision.
func (h *CreditsHandler) Balance(c *gin.Context) {
	id := middleware.GetIdentity(c)

	info, err := h.ledger.GetBalance(c.Request.Context(), id.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load balance"})
		return
	}

	c.JSON(http.StatusOK, info)
}

// Transactions returns the caller's ledger history, newest first.
func (h *CreditsHandler) Transactions(c *gin.Context) {
	id := middleware.GetIdentity(c)

	limit := intQuery(c, "limit", 50)
	txs, err := h.ledger.ListTransactions(c.Request.Context(), id.UserID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load transactions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Tiers lists the fixed top-up packages.
func (h *CreditsHandler) Tiers(c *gin.Context) {
	tiers := make([]gin.H, len(model.TierTable))
	for i, t := range model.TierTable {
		tiers[i] = gin.H{
			"id":        t.ID,
			"price_usd": t.PriceUSD,
			"credits":   t.Credits,
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"tiers":          tiers,
		"minimum_top_up": model.MinTopUpUSD,
	})
}

type topUpRequest struct {
	TierID    int     `json:"tier_id"`
	AmountUSD float64 `json:"amount_usd"`
}

// TopUp credits the caller's account directly. Normal deposits arrive via
// the payment webhook; this endpoint exists for tier purchases initiated
// in-app and for ad-hoc amounts at or above the minimum.
func (h *CreditsHandler) TopUp(c *gin.Context) {
	id := middleware.GetIdentity(c)

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var (
		tx  *model.CreditTransaction
		err error
	)
	if req.TierID != 0 {
		tx, err = h.ledger.DepositTier(c.Request.Context(), id.UserID, req.TierID)
	} else {
		amount := decimal.NewFromFloat(req.AmountUSD)
		tx, err = h.ledger.Deposit(c.Request.Context(), id.UserID, amount, "ad-hoc top-up")
	}

	switch {
	case errors.Is(err, service.ErrUnknownTier):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrBelowMinimumTopUp):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply top-up"})
		return
	}

	c.JSON(http.StatusOK, tx)
}
