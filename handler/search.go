package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/grantscout/grantscout-backend/middleware"
	"github.com/grantscout/grantscout-backend/model"
	"github.com/grantscout/grantscout-backend/service"
	"github.com/grantscout/grantscout-backend/store"
)

type SearchHandler struct {
	orch        *service.Orchestrator
	runs        service.RunStore
	grants      service.GrantStore
	historyDays int
}

func NewSearchHandler(orch *service.Orchestrator, runs service.RunStore, grants service.GrantStore, historyDays int) *SearchHandler {
	return &SearchHandler{
		orch:        orch,
		runs:        runs,
		grants:      grants,
		historyDays: historyDays,
	}
}

type initiateSearchRequest struct {
	Query   string              `json:"query" binding:"required"`
	Profile model.SearchProfile `json:"profile"`
}

// Initiate starts a new search run. The run executes asynchronously; the
// response is 202 with the pending run for the caller to poll.
func (h *SearchHandler) Initiate(c *gin.Context) {
	id := middleware.GetIdentity(c)

	var req initiateSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	run, err := h.orch.Start(c.Request.Context(), id, req.Query, req.Profile, model.TriggerManual)
	switch {
	case errors.Is(err, service.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrTooManyActiveRuns):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start search"})
		return
	}

	c.JSON(http.StatusAccepted, run)
}

// List returns the caller's runs inside the history window, newest first.
func (h *SearchHandler) List(c *gin.Context) {
	id := middleware.GetIdentity(c)

	since := time.Now().AddDate(0, 0, -h.historyDays)
	runs, err := h.runs.ListByUser(c.Request.Context(), id.UserID, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list searches"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"searches": runs})
}

// Get returns one run. Other users' runs read as not found.
func (h *SearchHandler) Get(c *gin.Context) {
	run, ok := h.ownedRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

// Cancel stops a run. Terminal runs are returned unchanged.
func (h *SearchHandler) Cancel(c *gin.Context) {
	id := middleware.GetIdentity(c)

	run, err := h.orch.Cancel(c.Request.Context(), id, c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, service.ErrNotOwner):
		c.JSON(http.StatusNotFound, gin.H{"error": "Search not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel search"})
		return
	}

	c.JSON(http.StatusOK, run)
}

// ListGrants returns a run's discovered grants, paged and sorted.
// Query params: page, page_size, sort (score|deadline), min_score, saved.
func (h *SearchHandler) ListGrants(c *gin.Context) {
	run, ok := h.ownedRun(c)
	if !ok {
		return
	}

	opts := service.GrantListOptions{
		Page:     intQuery(c, "page", 1),
		PageSize: intQuery(c, "page_size", 0),
		SortBy:   service.SortByScore,
	}
	if c.Query("sort") == string(service.SortByDeadline) {
		opts.SortBy = service.SortByDeadline
	}
	if raw := c.Query("min_score"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			opts.MinScore = &v
		}
	}
	opts.SavedOnly = c.Query("saved") == "true"

	grants, total, err := h.grants.ListByRun(c.Request.Context(), run.ID, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list grants"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"grants": grants,
		"total":  total,
		"page":   opts.Page,
	})
}

// SaveGrant bookmarks a grant for the caller.
func (h *SearchHandler) SaveGrant(c *gin.Context) {
	h.setSaved(c, true)
}

// UnsaveGrant removes a bookmark.
func (h *SearchHandler) UnsaveGrant(c *gin.Context) {
	h.setSaved(c, false)
}

func (h *SearchHandler) setSaved(c *gin.Context, saved bool) {
	id := middleware.GetIdentity(c)

	err := h.grants.SetSaved(c.Request.Context(), c.Param("id"), id.UserID, saved)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Grant not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update grant"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "saved": saved})
}

// ownedRun loads the :id run and enforces ownership; admins may read any
// run. Writes the error response itself when the run is unavailable.
func (h *SearchHandler) ownedRun(c *gin.Context) (*model.SearchRun, bool) {
	id := middleware.GetIdentity(c)

	run, err := h.runs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && run.UserID != id.UserID && !id.IsAdmin()) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Search not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load search"})
		return nil, false
	}
	return run, true
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
