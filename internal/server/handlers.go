package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenthands/prism/internal/index"
	"github.com/agenthands/prism/internal/model"
	"github.com/agenthands/prism/internal/store"
	"github.com/agenthands/prism/internal/watcher"
)

// SetupRouter registers the query, ingestion and watcher-control
// routes.
func (a *App) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/search", a.handleSearch)
	r.POST("/search/history", a.handleSearchHistory)
	r.GET("/timeline", a.handleTimeline)
	r.GET("/screens/:id", a.handleGetScreen)
	r.POST("/screens", a.handleIndexScreen)
	r.GET("/stats", a.handleStats)

	r.POST("/capture", a.handleCapture)
	r.GET("/watcher/status", a.handleWatcherStatus)
	r.POST("/watcher/pause", a.handleWatcherPause)
	r.POST("/watcher/resume", a.handleWatcherResume)
	r.PATCH("/watcher/config", a.handleWatcherConfig)

	return r
}

func (a *App) handleSearch(c *gin.Context) {
	var req index.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &index.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	resp, err := a.Index.Search(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type historyRequest struct {
	Query     string          `json:"query"`
	TimeRange model.TimeRange `json:"time_range"`
	K         int             `json:"k"`
}

func (a *App) handleSearchHistory(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &index.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	results, err := a.Index.SearchHistory(c.Request.Context(), req.Query, req.TimeRange, req.K)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (a *App) handleTimeline(c *gin.Context) {
	tr := model.TimeRange{
		Start: queryInt64(c, "start"),
		End:   queryInt64(c, "end"),
	}
	limit := int(queryInt64(c, "limit"))
	summaries, err := a.Index.Timeline(c.Request.Context(), tr, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"screens": summaries, "count": len(summaries)})
}

func (a *App) handleGetScreen(c *gin.Context) {
	ss, err := a.Index.GetScreen(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ss)
}

// handleIndexScreen ingests an externally built screen state. The
// watcher is the normal writer; this route serves replay tooling and
// the smoke harness.
func (a *App) handleIndexScreen(c *gin.Context) {
	var ss model.UIScreenState
	if err := c.ShouldBindJSON(&ss); err != nil {
		writeError(c, &index.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if err := a.Index.IndexScreenState(c.Request.Context(), &ss); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "indexed",
		"screen_id": ss.ID,
		"nodes":     len(ss.Nodes),
		"subtrees":  len(ss.Subtrees),
	})
}

func (a *App) handleStats(c *gin.Context) {
	stats, err := a.Index.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *App) handleCapture(c *gin.Context) {
	if a.Watcher == nil {
		writeWatcherDisabled(c)
		return
	}
	res, err := a.Watcher.CaptureNow(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *App) handleWatcherStatus(c *gin.Context) {
	if a.Watcher == nil {
		writeWatcherDisabled(c)
		return
	}
	c.JSON(http.StatusOK, a.Watcher.Status())
}

func (a *App) handleWatcherPause(c *gin.Context) {
	if a.Watcher == nil {
		writeWatcherDisabled(c)
		return
	}
	a.Watcher.Pause()
	c.JSON(http.StatusOK, gin.H{"state": a.Watcher.Status().State})
}

func (a *App) handleWatcherResume(c *gin.Context) {
	if a.Watcher == nil {
		writeWatcherDisabled(c)
		return
	}
	a.Watcher.Resume()
	c.JSON(http.StatusOK, gin.H{"state": a.Watcher.Status().State})
}

func (a *App) handleWatcherConfig(c *gin.Context) {
	if a.Watcher == nil {
		writeWatcherDisabled(c)
		return
	}
	var update watcher.ConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		writeError(c, &index.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	cfg := a.Watcher.UpdateConfig(update)
	c.JSON(http.StatusOK, cfg)
}

// writeError maps the error taxonomy onto status codes: validation
// failures are the caller's fault, storage failures are ours, unknown
// ids are not found. Callers never see partial results next to an
// error body.
func writeError(c *gin.Context, err error) {
	var verr *index.ValidationError
	var serr *store.StorageError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": "validation", "message": verr.Error()}})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"kind": "not_found", "message": err.Error()}})
	case errors.As(err, &serr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"kind": "storage", "message": serr.Error()}})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"kind": "internal", "message": err.Error()}})
	}
}

func writeWatcherDisabled(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": gin.H{"kind": "unavailable", "message": "watcher not configured"},
	})
}

func queryInt64(c *gin.Context, name string) int64 {
	v := c.Query(name)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
