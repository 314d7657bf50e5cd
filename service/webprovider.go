package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/grantscout/grantscout-backend/config"
)

// WebProviderClient calls the web-scraping API, which crawls a set of
// grant listing sites and returns structured candidates with a flat
// per-source cost.
type WebProviderClient struct {
	config        *config.WebProviderConfig
	httpClient    *http.Client
	costPerSource decimal.Decimal
}

type scrapeRequest struct {
	Query       string `json:"query"`
	SourceCount int    `json:"source_count"`
}

type scrapeResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		Grants         []wireCandidate `json:"grants"`
		SourcesScraped int             `json:"sources_scraped"`
		CostUSD        float64         `json:"cost_usd"`
	} `json:"data"`
}

func NewWebProviderClient(cfg *config.WebProviderConfig) *WebProviderClient {
	return &WebProviderClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		costPerSource: decimal.NewFromFloat(cfg.CostPerSource),
	}
}

// ScrapeSources runs a scrape job across sourceCount listing sites.
func (s *WebProviderClient) ScrapeSources(ctx context.Context, query string, sourceCount int) (*SourceResult, error) {
	reqBody := scrapeRequest{Query: query, SourceCount: sourceCount}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.config.APIURL+"/v1/scrape", bytes.NewBuffer(jsonData))
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
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web provider returned status %d", resp.StatusCode)
	}

	var result scrapeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("web provider API error: %s", result.Message)
	}

	// Prefer the provider's reported bill; fall back to the configured
	// flat rate times sources actually scraped.
	cost := decimal.NewFromFloat(result.Data.CostUSD)
	if cost.IsZero() && result.Data.SourcesScraped > 0 {
		cost = s.costPerSource.Mul(decimal.NewFromInt(int64(result.Data.SourcesScraped)))
	}

	return &SourceResult{
		Candidates: normalizeCandidates(result.Data.Grants),
		Cost:       cost.Round(6),
		Raw:        body,
	}, nil
}
