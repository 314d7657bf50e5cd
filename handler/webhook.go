package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/grantscout/grantscout-backend/config"
	"github.com/grantscout/grantscout-backend/pkg/logger"
	"github.com/grantscout/grantscout-backend/service"
)

// PaymentWebhookHandler receives checkout notifications from the payment
// provider and credits the purchaser's account. The endpoint is public;
// authenticity comes from the HMAC signature over the raw body.
type PaymentWebhookHandler struct {
	ledger *service.Ledger
	secret []byte
}

func NewPaymentWebhookHandler(ledger *service.Ledger, cfg *config.PaymentsConfig) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		ledger: ledger,
		secret: []byte(cfg.WebhookSecret),
	}
}

type paymentEvent struct {
	Event     string  `json:"event"`
	UserID    string  `json:"user_id"`
	AmountUSD float64 `json:"amount_usd"`
	Reference string  `json:"reference"`
}

// Handle processes one webhook delivery.
func (h *PaymentWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	if !h.verifySignature(body, c.GetHeader("X-Payment-Signature")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var event paymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	// Other event types are acknowledged so the provider stops retrying.
	if event.Event != "checkout.completed" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if event.UserID == "" || event.AmountUSD <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user_id or amount"})
		return
	}

	amount := decimal.NewFromFloat(event.AmountUSD)
	tx, err := h.ledger.Deposit(c.Request.Context(), event.UserID, amount,
		"checkout "+event.Reference)
	if err != nil {
		// A deposit the ledger refuses deterministically can never
		// succeed on redelivery, so it is acknowledged and the mismatch
		// left to the log; an error status would have the provider
		// retrying forever.
		if errors.Is(err, service.ErrBelowMinimumTopUp) {
			logger.Warn(c.Request.Context(), "checkout not credited",
				"user_id", event.UserID, "amount", amount, "reference", event.Reference, "error", err)
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": err.Error()})
			return
		}
		logger.Error(c.Request.Context(), "failed to credit checkout",
			"user_id", event.UserID, "reference", event.Reference, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to credit account"})
		return
	}

	logger.Info(c.Request.Context(), "checkout credited",
		"user_id", event.UserID, "amount", tx.Amount, "reference", event.Reference)
	c.JSON(http.StatusOK, gin.H{"status": "credited", "transaction_id": tx.ID})
}

func (h *PaymentWebhookHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
