package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/grantscout/grantscout-backend/config"
)

func webProviderConfig(url string) *config.WebProviderConfig {
	return &config.WebProviderConfig{
		APIURL:         url,
		APIToken:       "test-token",
		SourceCount:    5,
		CostPerSource:  0.02,
		TimeoutSeconds: 5,
	}
}

func TestWebProviderScrapeSources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/scrape", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req scrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "climate grants", req.Query)
		require.Equal(t, 5, req.SourceCount)

		w.Write([]byte(`{
			"code": 0,
			"data": {
				"grants": [{"title": "Climate Action Fund", "funder": "Green Trust"}],
				"sources_scraped": 5,
				"cost_usd": 0.12
			}
		}`))
	}))
	defer server.Close()

	client := NewWebProviderClient(webProviderConfig(server.URL))
	result, err := client.ScrapeSources(context.Background(), "climate grants", 5)
	require.NoError(t, err)

	require.Len(t, result.Candidates, 1)
	require.True(t, result.Cost.Equal(decimal.NewFromFloat(0.12)), "reported cost wins, got %s", result.Cost)
}

func TestWebProviderFallbackCost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 0, "data": {"grants": [], "sources_scraped": 4}}`))
	}))
	defer server.Close()

	client := NewWebProviderClient(webProviderConfig(server.URL))
	result, err := client.ScrapeSources(context.Background(), "q", 4)
	require.NoError(t, err)

	// No reported bill: 4 sources at the configured $0.02 flat rate.
	require.True(t, result.Cost.Equal(decimal.NewFromFloat(0.08)), "got %s", result.Cost)
}

func TestWebProviderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 7, "msg": "crawl quota exhausted"}`))
	}))
	defer server.Close()

	client := NewWebProviderClient(webProviderConfig(server.URL))
	_, err := client.ScrapeSources(context.Background(), "q", 5)
	require.ErrorContains(t, err, "crawl quota exhausted")
}

func TestWebProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewWebProviderClient(webProviderConfig(server.URL))
	_, err := client.ScrapeSources(context.Background(), "q", 5)
	require.ErrorContains(t, err, "status 502")
}
