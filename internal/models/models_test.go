package models

import (
	"testing"
	"time"
)

func TestMarketValidate(t *testing.T) {
	tests := []struct {
		name    string
		market  Market
		wantErr bool
	}{
		{
			name: "valid market",
			market: Market{
				ID:          "m1",
				Question:    "Will X happen?",
				Probability: 0.75,
				OutcomeType: OutcomeBinary,
			},
			wantErr: false,
		},
		{
			name:    "empty ID",
			market:  Market{Question: "Will X happen?", Probability: 0.5},
			wantErr: true,
		},
		{
			name:    "empty question",
			market:  Market{ID: "m1", Probability: 0.5},
			wantErr: true,
		},
		{
			name:    "invalid probability",
			market:  Market{ID: "m1", Question: "Q?", Probability: 1.5},
			wantErr: true,
		},
		{
			name:    "negative participants",
			market:  Market{ID: "m1", Question: "Q?", Participants: -1},
			wantErr: true,
		},
		{
			name: "answer out of range",
			market: Market{
				ID:       "m1",
				Question: "Q?",
				Answers:  []Answer{{ID: "a", Probability: Float(55)}},
			},
			wantErr: true,
		},
		{
			name: "answer without probability",
			market: Market{
				ID:       "m1",
				Question: "Q?",
				Answers:  []Answer{{ID: "a"}},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.market.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSnapshotValidate(t *testing.T) {
	good := Snapshot{
		Date:    "2024-03-01T12:00:00.000Z",
		Markets: []Observation{{ID: "a", Probability: Float(0.4)}, {ID: "b"}},
	}
	if err := good.Validate(); err != nil {
		t.Errorf("valid snapshot rejected: %v", err)
	}

	bad := []Snapshot{
		{Date: ""},
		{Date: "yesterday"},
		{Date: "2024-03-01T12:00:00.000Z", Markets: []Observation{{ID: ""}}},
		{Date: "2024-03-01T12:00:00.000Z", Markets: []Observation{{ID: "a", Probability: Float(-0.1)}}},
	}
	for i, s := range bad {
		if err := s.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestFormatAndParseDate(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.FixedZone("X", 3600))
	got := FormatDate(ts)
	if got != "2024-03-01T11:30:45.123Z" {
		t.Fatalf("FormatDate = %s", got)
	}
	parsed, err := ParseDate(got)
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	if !parsed.Equal(ts.Truncate(time.Millisecond)) {
		t.Errorf("round trip mismatch: %v vs %v", parsed, ts)
	}
}

func TestSnapshotFind(t *testing.T) {
	s := Snapshot{Markets: []Observation{{ID: "a"}, {ID: "b", Question: "B?"}}}
	if o := s.Find("b"); o == nil || o.Question != "B?" {
		t.Errorf("Find(b) = %+v", o)
	}
	if o := s.Find("z"); o != nil {
		t.Errorf("Find(z) = %+v, want nil", o)
	}
}

func TestHasAnyTag(t *testing.T) {
	if !HasAnyTag([]string{"AI"}, nil) {
		t.Error("empty filter must match")
	}
	if !HasAnyTag([]string{"AI", "Politics"}, []string{"Politics"}) {
		t.Error("expected match on Politics")
	}
	if HasAnyTag(nil, []string{"AI"}) {
		t.Error("untagged market must not match a non-empty filter")
	}
}

func TestMoverValidate(t *testing.T) {
	m := Mover{
		Market: Observation{ID: "x", Probability: Float(0.8)},
		Past:   Observation{ID: "x", Probability: Float(0.5)},
		Delta:  30,
	}
	if err := m.Validate(); err != nil {
		t.Errorf("valid mover rejected: %v", err)
	}
	m.Delta = 3
	if err := m.Validate(); err == nil {
		t.Error("expected delta mismatch error")
	}
}

func TestTrendValidate(t *testing.T) {
	now := time.Now()
	tr := Trend{
		Series:           []Point{{now, 0.3}, {now.Add(time.Hour), 0.6}},
		StartProbability: 0.3,
		EndProbability:   0.6,
		Delta:            30,
		AverageSwing:     30,
		Volatility:       VolatilityChoppy,
	}
	if err := tr.Validate(); err != nil {
		t.Errorf("valid trend rejected: %v", err)
	}
	tr.Volatility = "Wild"
	if err := tr.Validate(); err == nil {
		t.Error("expected unknown volatility error")
	}
}
