package manifold

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(url string, retries int) *Client {
	return NewClient(ClientConfig{
		BaseURL:    url,
		PageSize:   2,
		Timeout:    5 * time.Second,
		MaxRetries: retries,
		RetryDelay: time.Millisecond,
	})
}

func TestSearchMarkets_RealAPIFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search-markets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("term") != "ai" || q.Get("limit") != "2" || q.Get("offset") != "4" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("sort") != "liquidity" || q.Get("filter") != "open" || q.Get("contractType") != "ALL" {
			t.Errorf("unexpected search options %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"b1","question":"Will GPT-5 ship?","outcomeType":"BINARY","probability":0.62,
			 "volume":1200.5,"totalLiquidity":300,"uniqueBettorCount":41,"createdTime":1700000000000,
			 "closeTime":null,"isResolved":false,"url":"https://manifold.markets/x/b1"},
			{"id":"mc1","question":"Who wins?","outcomeType":"MULTIPLE_CHOICE","probability":"n/a",
			 "answers":[{"id":"a1","text":"Alice","probability":0.4},{"id":"a2","name":"Bob","prob":55}]}
		]`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, 0)
	markets, err := c.SearchMarkets(context.Background(), "ai", 4)
	if err != nil {
		t.Fatalf("SearchMarkets failed: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(markets))
	}

	b := markets[0]
	if !b.Probability.Valid || b.Probability.Value != 0.62 {
		t.Errorf("binary probability = %+v", b.Probability)
	}
	if b.UniqueBettorCount != 41 || b.TotalLiquidity.Value != 300 {
		t.Errorf("unexpected binary fields: %+v", b)
	}
	if b.CloseTime != nil {
		t.Errorf("expected nil close time, got %v", *b.CloseTime)
	}

	mc := markets[1]
	if mc.Probability.Valid {
		t.Errorf("non-numeric probability should decode as absent")
	}
	if len(mc.Answers) != 2 || mc.Answers[1].Name != "Bob" || mc.Answers[1].Prob.Value != 55 {
		t.Errorf("unexpected answers: %+v", mc.Answers)
	}
}

func TestSearchMarkets_ShapeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"not an array"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 0).SearchMarkets(context.Background(), "", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsShapeError(err) {
		t.Errorf("expected shape error, got %v", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("shape error must not be an APIError")
	}
}

func TestSearchMarkets_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad term", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 0).SearchMarkets(context.Background(), "", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if IsShapeError(err) {
		t.Error("status error must not be a shape error")
	}
}

func TestSearchMarkets_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	markets, err := newTestClient(server.URL, 3).SearchMarkets(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(markets) != 0 {
		t.Errorf("expected empty page")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestGetMarketAndBets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/market/m1":
			_, _ = w.Write([]byte(`{"id":"m1","question":"Q?","probability":0.3}`))
		case r.URL.Path == "/bets":
			q := r.URL.Query()
			if q.Get("contractId") != "m1" || q.Get("order") != "desc" || q.Get("limit") != "1" {
				t.Errorf("unexpected bets query %s", r.URL.RawQuery)
			}
			if q.Get("beforeTime") != "1700000000000" {
				t.Errorf("unexpected beforeTime %s", q.Get("beforeTime"))
			}
			_, _ = w.Write([]byte(`[{"id":"bet1","contractId":"m1","probBefore":0.4,"probAfter":0.45}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL, 0)
	m, err := c.GetMarket(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMarket failed: %v", err)
	}
	if m.Probability.Value != 0.3 {
		t.Errorf("probability = %v", m.Probability.Value)
	}

	p, err := c.ProbabilityBefore(context.Background(), "m1", time.UnixMilli(1700000000000))
	if err != nil {
		t.Fatalf("ProbabilityBefore failed: %v", err)
	}
	if p == nil || *p != 0.45 {
		t.Errorf("expected probAfter 0.45, got %v", p)
	}
}

func TestProbabilityBefore_NoTrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	p, err := newTestClient(server.URL, 0).ProbabilityBefore(context.Background(), "m1", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil for no trades, got %v", *p)
	}
}

func TestEnrich(t *testing.T) {
	var detailCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&detailCalls, 1)
		id := strings.TrimPrefix(r.URL.Path, "/market/")
		if id == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"id":"` + id + `","question":"detailed","probability":0.9}`))
	}))
	defer server.Close()

	markets := []RawMarket{
		{ID: "ok", Probability: Float(0.5)},
		{ID: "low", TotalLiquidity: Loose(10)},
		{ID: "high", TotalLiquidity: Loose(1000)},
		{ID: "broken", Liquidity: Loose(500)},
		{ID: "mc", OutcomeType: "MULTIPLE_CHOICE", Probability: Float(0.2), Volume: Loose(1)},
	}

	got := newTestClient(server.URL, 0).Enrich(context.Background(), markets, 2)

	if len(got) != len(markets) {
		t.Fatalf("length changed: %d", len(got))
	}
	if got[0].Question != "" {
		t.Errorf("complete market should not be enriched")
	}
	if got[2].Question != "detailed" {
		t.Errorf("highest liquidity target should be enriched")
	}
	if got[3].Question != "" || got[3].ID != "broken" {
		t.Errorf("failed detail must leave the original record")
	}
	if got[1].Question != "" {
		t.Errorf("target beyond limit should not be enriched")
	}
	if n := atomic.LoadInt32(&detailCalls); n != 2 {
		t.Errorf("expected 2 detail calls, got %d", n)
	}
}

func TestOptionalFloat(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
		want  float64
	}{
		{`0.25`, true, 0.25},
		{`"0.5"`, false, 0},
		{`null`, false, 0},
		{`"abc"`, false, 0},
		{`{}`, false, 0},
	}
	for _, tt := range tests {
		var f OptionalFloat
		if err := f.UnmarshalJSON([]byte(tt.in)); err != nil {
			t.Errorf("UnmarshalJSON(%s) returned error %v", tt.in, err)
		}
		if f.Valid != tt.valid || f.Value != tt.want {
			t.Errorf("UnmarshalJSON(%s) = %+v", tt.in, f)
		}
	}
}

func TestLooseFloat(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
		want  float64
	}{
		{`12`, true, 12},
		{`"12.5"`, true, 12.5},
		{`" 3 "`, true, 3},
		{`"NaN"`, false, 0},
		{`"abc"`, false, 0},
		{`null`, false, 0},
	}
	for _, tt := range tests {
		var f LooseFloat
		if err := f.UnmarshalJSON([]byte(tt.in)); err != nil {
			t.Errorf("UnmarshalJSON(%s) returned error %v", tt.in, err)
		}
		if f.Valid != tt.valid || f.Value != tt.want {
			t.Errorf("UnmarshalJSON(%s) = %+v", tt.in, f)
		}
	}
}

func TestRawMarket_StringProbabilityIsAbsent(t *testing.T) {
	payload := `{"id":"m","probability":"0.5","volume":"12","liquidity":"7",
		"answers":[{"id":"a","text":"A","probability":"0.3","prob":"0.4"}]}`

	var m RawMarket
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if m.Probability.Valid {
		t.Errorf("string probability should decode as absent, got %+v", m.Probability)
	}
	if !m.NeedsDetail() {
		t.Errorf("market without numeric probability should need detail")
	}
	if !m.Volume.Valid || m.Volume.Value != 12 {
		t.Errorf("string volume should decode, got %+v", m.Volume)
	}
	if !m.Liquidity.Valid || m.Liquidity.Value != 7 {
		t.Errorf("string liquidity should decode, got %+v", m.Liquidity)
	}
	if a := m.Answers[0]; a.Probability.Valid || a.Prob.Valid {
		t.Errorf("string answer probabilities should decode as absent, got %+v", a)
	}
}
