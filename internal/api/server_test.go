package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/session"
)

type fakeDashboard struct {
	mu         sync.Mutex
	state      session.State
	fetchErr   error
	fetches    []string
	queries    []string
	lookback   int
	insightErr error
}

func (f *fakeDashboard) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeDashboard) Trend(id string) *models.Trend {
	if id != "m1" {
		return nil
	}
	now := time.Now()
	return &models.Trend{
		Series: []models.Point{{Timestamp: now.Add(-time.Hour), Probability: 0.5}, {Timestamp: now, Probability: 0.8}},
		Delta:  30,
	}
}

func (f *fakeDashboard) Fetch(_ context.Context, query string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, query)
	return f.fetchErr
}

func (f *fakeDashboard) LoadMore(context.Context) error { return nil }

func (f *fakeDashboard) SetQuery(query string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.state.Query = query
}

func (f *fakeDashboard) SetCategories(categories []string) []string {
	if len(categories) > 1 {
		return categories[:1]
	}
	return categories
}

func (f *fakeDashboard) SetLookback(_ context.Context, days int) (int, error) {
	if days > 365 {
		days = 365
	}
	f.mu.Lock()
	f.lookback = days
	f.mu.Unlock()
	return days, nil
}

func (f *fakeDashboard) GenerateInsights(context.Context) error { return f.insightErr }

func (f *fakeDashboard) Export() session.Feed {
	return session.Feed{Source: session.FeedSource, Markets: []session.FeedMarket{{ID: "m1"}}}
}

func (f *fakeDashboard) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func newTestRouter(dash *fakeDashboard) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(context.Background(), dash, 10*time.Millisecond)
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthAndRequestID(t *testing.T) {
	router := newTestRouter(&fakeDashboard{state: session.State{Snapshots: 3}})

	w := do(router, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Contains(t, w.Body.String(), `"snapshots":3`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestMarketsIncludeTrends(t *testing.T) {
	dash := &fakeDashboard{state: session.State{
		Visible: []models.Market{{ID: "m1", Question: "Q1"}, {ID: "m2", Question: "Q2"}},
		Markets: []models.Market{{ID: "m1"}, {ID: "m2"}},
	}}
	router := newTestRouter(dash)

	w := do(router, http.MethodGet, "/api/v1/markets", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Markets []struct {
			ID    string        `json:"id"`
			Trend *models.Trend `json:"trend"`
		} `json:"markets"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Markets, 2)
	assert.Equal(t, "m1", body.Markets[0].ID)
	require.NotNil(t, body.Markets[0].Trend)
	assert.InDelta(t, 30.0, body.Markets[0].Trend.Delta, 1e-9)
	assert.Nil(t, body.Markets[1].Trend)
	assert.Equal(t, 2, body.Total)
}

func TestTrendNotFound(t *testing.T) {
	router := newTestRouter(&fakeDashboard{})
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/v1/markets/zzz/trend", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/markets/m1/trend", "").Code)
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"superseded", session.ErrSuperseded, http.StatusConflict},
		{"upstream", errors.New("manifold down"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dash := &fakeDashboard{fetchErr: tt.err}
			router := newTestRouter(dash)

			w := do(router, http.MethodPost, "/api/v1/fetch", `{"query":"gpt"}`)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, []string{"gpt"}, dash.fetches)
		})
	}
}

func TestSearchIsDebounced(t *testing.T) {
	dash := &fakeDashboard{}
	router := newTestRouter(dash)

	for _, q := range []string{"g", "gp", "gpt"} {
		w := do(router, http.MethodPost, "/api/v1/search", `{"query":"`+q+`"}`)
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	assert.Eventually(t, func() bool { return dash.fetchCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	dash.mu.Lock()
	defer dash.mu.Unlock()
	assert.Equal(t, []string{"gpt"}, dash.fetches)
	assert.Equal(t, []string{"g", "gp", "gpt"}, dash.queries)
}

func TestLookback(t *testing.T) {
	dash := &fakeDashboard{}
	router := newTestRouter(dash)

	w := do(router, http.MethodPut, "/api/v1/lookback", `{"days":400}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lookbackDays":365`)
	assert.Eventually(t, func() bool { return dash.fetchCount() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPut, "/api/v1/lookback", `{}`).Code)
}

func TestCategories(t *testing.T) {
	router := newTestRouter(&fakeDashboard{})

	w := do(router, http.MethodPut, "/api/v1/categories", `{"categories":["AI","Sports"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"categories":["AI"]}`, w.Body.String())
}

func TestInsights(t *testing.T) {
	dash := &fakeDashboard{insightErr: session.ErrNoMarkets}
	router := newTestRouter(dash)
	assert.Equal(t, http.StatusConflict, do(router, http.MethodPost, "/api/v1/insights", "").Code)

	dash.insightErr = nil
	dash.state.Insights = []models.Insight{{ID: "1", Title: "T", Description: "D", Source: "local"}}
	w := do(router, http.MethodPost, "/api/v1/insights", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"T"`)
}

func TestFeedDownload(t *testing.T) {
	router := newTestRouter(&fakeDashboard{})

	w := do(router, http.MethodGet, "/api/v1/feed", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "prediction-feed-")

	var feed session.Feed
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &feed))
	assert.Equal(t, session.FeedSource, feed.Source)
	assert.Len(t, feed.Markets, 1)
}
