package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/grantscout/grantscout-backend/config"
	"github.com/grantscout/grantscout-backend/model"
)

// TextProviderClient calls the AI text-completion API and parses its
// structured grant candidates. Cost is computed from reported token usage
// at the configured per-million-token rates.
type TextProviderClient struct {
	config     *config.TextProviderConfig
	httpClient *http.Client

	inputRate  decimal.Decimal
	outputRate decimal.Decimal
}

type textCompletionRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	ResponseFormat string `json:"response_format"`
}

type textCompletionResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		Grants []wireCandidate `json:"grants"`
		Usage  struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	} `json:"data"`
}

// wireCandidate is the provider-side candidate shape; normalization to
// model.Candidate happens here and nowhere else.
type wireCandidate struct {
	Title        string   `json:"title"`
	Funder       string   `json:"funder"`
	AmountMin    float64  `json:"amount_min"`
	AmountMax    float64  `json:"amount_max"`
	Deadline     string   `json:"deadline,omitempty"` // YYYY-MM-DD
	Eligibility  []string `json:"eligibility,omitempty"`
	Categories   []string `json:"categories,omitempty"`
	Geography    string   `json:"geography,omitempty"`
	Description  string   `json:"description,omitempty"`
	SourceURL    string   `json:"source_url,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

func (w wireCandidate) normalize() model.Candidate {
	c := model.Candidate{
		Title:        strings.TrimSpace(w.Title),
		Funder:       strings.TrimSpace(w.Funder),
		AmountMin:    decimal.NewFromFloat(w.AmountMin),
		AmountMax:    decimal.NewFromFloat(w.AmountMax),
		Eligibility:  w.Eligibility,
		Categories:   w.Categories,
		Geography:    w.Geography,
		Description:  w.Description,
		SourceURL:    w.SourceURL,
		Requirements: w.Requirements,
	}
	if w.Deadline != "" {
		if d, err := time.Parse("2006-01-02", w.Deadline); err == nil {
			c.Deadline = &d
		}
		// Unparseable deadlines stay nil: scored neutrally, never "expired".
	}
	return c
}

func normalizeCandidates(wire []wireCandidate) []model.Candidate {
	out := make([]model.Candidate, 0, len(wire))
	for _, w := range wire {
		c := w.normalize()
		if c.Title == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func NewTextProviderClient(cfg *config.TextProviderConfig) *TextProviderClient {
	return &TextProviderClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		inputRate:  decimal.NewFromFloat(cfg.InputRatePerM),
		outputRate: decimal.NewFromFloat(cfg.OutputRatePerM),
	}
}

// FindGrants asks the completion API for grant candidates matching the
// query and profile.
func (s *TextProviderClient) FindGrants(ctx context.Context, query string, profile model.SearchProfile) (*SourceResult, error) {
	reqBody := textCompletionRequest{
		Model:          s.config.Model,
		Prompt:         buildDiscoveryPrompt(query, profile),
		ResponseFormat: "json",
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.config.APIURL+"/v1/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("text provider rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("text provider returned status %d", resp.StatusCode)
	}

	var result textCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("text provider API error: %s", result.Message)
	}

	return &SourceResult{
		Candidates: normalizeCandidates(result.Data.Grants),
		Cost:       s.tokenCost(result.Data.Usage.InputTokens, result.Data.Usage.OutputTokens),
		Raw:        body,
	}, nil
}

// tokenCost = input/1e6 * rate_in + output/1e6 * rate_out.
func (s *TextProviderClient) tokenCost(inputTokens, outputTokens int64) decimal.Decimal {
	million := decimal.NewFromInt(1_000_000)
	in := decimal.NewFromInt(inputTokens).Div(million).Mul(s.inputRate)
	out := decimal.NewFromInt(outputTokens).Div(million).Mul(s.outputRate)
	return in.Add(out).Round(6)
}

func buildDiscoveryPrompt(query string, profile model.SearchProfile) string {
	var b strings.Builder
	b.WriteString("Find currently open funding opportunities matching: ")
	b.WriteString(query)
	if len(profile.FocusAreas) > 0 {
		b.WriteString("\nFocus areas: ")
		b.WriteString(strings.Join(profile.FocusAreas, ", "))
	}
	if profile.Geography != "" {
		b.WriteString("\nGeography: ")
		b.WriteString(profile.Geography)
	}
	if !profile.AmountMin.IsZero() || !profile.AmountMax.IsZero() {
		b.WriteString(fmt.Sprintf("\nFunding range: $%s - $%s",
			profile.AmountMin.StringFixed(0), profile.AmountMax.StringFixed(0)))
	}
	b.WriteString("\nReturn a JSON object with a \"grants\" array.")
	return b.String()
}
