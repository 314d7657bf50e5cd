package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/grantscout/grantscout-backend/config"
	"github.com/grantscout/grantscout-backend/model"
	"github.com/grantscout/grantscout-backend/pkg/logger"
)

// lowBalanceDedupTTL limits low-balance alerts to one per user per day.
const lowBalanceDedupTTL = 24 * time.Hour

// EmailNotifier delivers user notifications through the email API.
// Everything here is fire-and-forget: failures are logged and swallowed,
// because a lost email must never fail a search run.
type EmailNotifier struct {
	config     *config.NotifyConfig
	httpClient *http.Client
	rdb        *redis.Client // optional; nil disables alert dedup
}

func NewEmailNotifier(cfg *config.NotifyConfig, rdb *redis.Client) *EmailNotifier {
	return &EmailNotifier{
		config:     cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		rdb:        rdb,
	}
}

type emailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// SearchCompleted tells the user their search finished.
func (n *EmailNotifier) SearchCompleted(ctx context.Context, id model.Identity, run *model.SearchRun, grantCount int) {
	subject := fmt.Sprintf("Your grant search found %d opportunities", grantCount)
	body := fmt.Sprintf("Search %q is complete: %d grants discovered. Charged: $%s.",
		run.Query, grantCount, run.ChargedAmount.StringFixed(2))
	n.send(ctx, id, subject, body)
}

// LowBalance warns the user their balance is running out, at most once per
// dedup window.
func (n *EmailNotifier) LowBalance(ctx context.Context, id model.Identity, balance decimal.Decimal) {
	if n.rdb != nil {
		key := "notify:lowbalance:" + id.UserID
		ok, err := n.rdb.SetNX(ctx, key, time.Now().Format(time.RFC3339), lowBalanceDedupTTL).Result()
		if err != nil {
			// Redis trouble: send anyway rather than stay silent.
			logger.Warn(ctx, "low-balance dedup check failed", "error", err)
		} else if !ok {
			return // already alerted within the window
		}
	}
	subject := "Your grant search balance is low"
	body := fmt.Sprintf("Your balance is $%s. Top up to keep scheduled and manual searches running.",
		balance.StringFixed(2))
	n.send(ctx, id, subject, body)
}

func (n *EmailNotifier) send(ctx context.Context, id model.Identity, subject, text string) {
	if !n.config.Enabled || id.Email == "" {
		return
	}

	payload, err := json.Marshal(emailRequest{
		From:    n.config.FromAddress,
		To:      id.Email,
		Subject: subject,
		Text:    text,
	})
	if err != nil {
		logger.Error(ctx, "failed to marshal email", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		n.config.APIURL+"/v1/send", bytes.NewBuffer(payload))
	if err != nil {
		logger.Error(ctx, "failed to create email request", "error", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+n.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		logger.Warn(ctx, "email send failed", "error", err, "subject", subject)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logger.Warn(ctx, "email API rejected message", "status", resp.StatusCode, "subject", subject)
	}
}

// NopNotifier drops all notifications; used when notify.enabled is false
// and in tests.
type NopNotifier struct{}

func (NopNotifier) SearchCompleted(context.Context, model.Identity, *model.SearchRun, int) {}
func (NopNotifier) LowBalance(context.Context, model.Identity, decimal.Decimal)           {}
