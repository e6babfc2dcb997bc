// Package api exposes the dashboard session over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/session"
)

// Dashboard is the session surface the HTTP layer drives
type Dashboard interface {
	State() session.State
	Trend(id string) *models.Trend
	Fetch(ctx context.Context, query string) error
	LoadMore(ctx context.Context) error
	SetQuery(query string)
	SetCategories(categories []string) []string
	SetLookback(ctx context.Context, days int) (int, error)
	GenerateInsights(ctx context.Context) error
	Export() session.Feed
}

// Server binds a Dashboard to gin routes
type Server struct {
	dash     Dashboard
	debounce *session.Debouncer
	// background work triggered by requests outlives the request context
	baseCtx context.Context
}

type marketView struct {
	models.Market
	Trend *models.Trend `json:"trend,omitempty"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type lookbackRequest struct {
	Days *int `json:"days" binding:"required"`
}

type categoriesRequest struct {
	Categories []string `json:"categories"`
}

// NewRouter builds the gin engine. Background fetches triggered by search and
// lookback changes run on ctx and are debounced by debounce.
func NewRouter(ctx context.Context, dash Dashboard, debounce time.Duration) *gin.Engine {
	s := &Server{
		dash:     dash,
		debounce: session.NewDebouncer(debounce),
		baseCtx:  ctx,
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), AccessLog())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", s.health)
		v1.GET("/markets", s.markets)
		v1.GET("/markets/:id/trend", s.trend)
		v1.GET("/digest", s.digest)
		v1.GET("/stats", s.stats)
		v1.GET("/insights", s.insights)
		v1.GET("/feed", s.feed)

		v1.POST("/fetch", s.fetch)
		v1.POST("/search", s.search)
		v1.POST("/more", s.more)
		v1.POST("/insights", s.generateInsights)

		v1.PUT("/lookback", s.lookback)
		v1.PUT("/categories", s.categories)
	}
	return router
}

func (s *Server) health(c *gin.Context) {
	st := s.dash.State()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"loading":   st.Loading,
		"snapshots": st.Snapshots,
		"updatedAt": st.UpdatedAt,
	})
}

func (s *Server) markets(c *gin.Context) {
	st := s.dash.State()
	views := make([]marketView, 0, len(st.Visible))
	for _, m := range st.Visible {
		views = append(views, marketView{Market: m, Trend: s.dash.Trend(m.ID)})
	}
	c.JSON(http.StatusOK, gin.H{
		"query":        st.Query,
		"categories":   st.Categories,
		"lookbackDays": st.LookbackDays,
		"markets":      views,
		"total":        len(st.Markets),
		"offset":       st.Offset,
		"hasMore":      st.HasMore,
		"loading":      st.Loading,
		"error":        st.Err,
	})
}

func (s *Server) trend(c *gin.Context) {
	tr := s.dash.Trend(c.Param("id"))
	if tr == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no history for market"})
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (s *Server) digest(c *gin.Context) {
	c.JSON(http.StatusOK, s.dash.State().Digest)
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.dash.State().Stats)
}

func (s *Server) insights(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"insights": s.dash.State().Insights})
}

func (s *Server) feed(c *gin.Context) {
	feed := s.dash.Export()
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="prediction-feed-%d.json"`, time.Now().UnixMilli()))
	c.IndentedJSON(http.StatusOK, feed)
}

func (s *Server) fetch(c *gin.Context) {
	var req queryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := s.dash.Fetch(c.Request.Context(), req.Query); err != nil {
		writeError(c, err)
		return
	}
	s.markets(c)
}

// search filters immediately and schedules a debounced fetch for the query
func (s *Server) search(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.dash.SetQuery(req.Query)
	s.scheduleFetch(req.Query)
	c.JSON(http.StatusAccepted, gin.H{"query": req.Query})
}

func (s *Server) more(c *gin.Context) {
	if err := s.dash.LoadMore(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	s.markets(c)
}

func (s *Server) generateInsights(c *gin.Context) {
	if err := s.dash.GenerateInsights(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	s.insights(c)
}

func (s *Server) lookback(c *gin.Context) {
	var req lookbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	days, err := s.dash.SetLookback(c.Request.Context(), *req.Days)
	if err != nil {
		logger.Warn("Lookback %d applied but not persisted: %v", days, err)
	}
	s.scheduleFetch(s.dash.State().Query)
	c.JSON(http.StatusOK, gin.H{"lookbackDays": days, "persisted": err == nil})
}

func (s *Server) categories(c *gin.Context) {
	var req categoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	selected := s.dash.SetCategories(req.Categories)
	c.JSON(http.StatusOK, gin.H{"categories": selected})
}

func (s *Server) scheduleFetch(query string) {
	s.debounce.Trigger(func() {
		err := s.dash.Fetch(s.baseCtx, query)
		if err != nil && !errors.Is(err, session.ErrSuperseded) {
			logger.Warn("Background fetch for %q failed: %v", query, err)
		}
	})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNoMarkets):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
