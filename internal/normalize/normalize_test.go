package normalize

import (
	"reflect"
	"testing"

	"github.com/rewired-gh/marketpulse/internal/manifold"
)

func fptr(v float64) *float64 { return &v }

func TestResolveProbability(t *testing.T) {
	resolved := "YES"
	tests := []struct {
		name   string
		market manifold.RawMarket
		want   float64
	}{
		{
			name:   "explicit field wins unmodified",
			market: manifold.RawMarket{Probability: manifold.Float(0.37), Answers: []manifold.RawAnswer{{Probability: manifold.Float(0.9)}}},
			want:   0.37,
		},
		{
			name: "max unresolved answer",
			market: manifold.RawMarket{Answers: []manifold.RawAnswer{
				{ID: "a", Probability: manifold.Float(0.8), Resolution: &resolved},
				{ID: "b", Probability: manifold.Float(0.3)},
				{ID: "c", Probability: manifold.Float(0.45)},
			}},
			want: 0.45,
		},
		{
			name: "all resolved falls back to any answer",
			market: manifold.RawMarket{Answers: []manifold.RawAnswer{
				{ID: "a", Probability: manifold.Float(0.2), IsResolved: true},
				{ID: "b", Probability: manifold.Float(0.7), IsResolved: true},
			}},
			want: 0.7,
		},
		{
			name: "percentage answers are normalized",
			market: manifold.RawMarket{Answers: []manifold.RawAnswer{
				{ID: "a", Prob: manifold.Float(55)},
				{ID: "b", Probability: manifold.Float(0.5)},
			}},
			want: 0.55,
		},
		{
			name:   "answers without numbers give zero",
			market: manifold.RawMarket{Answers: []manifold.RawAnswer{{ID: "a"}}},
			want:   0,
		},
		{
			name:   "nothing at all gives zero",
			market: manifold.RawMarket{},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveProbability(&tt.market); got != tt.want {
				t.Errorf("ResolveProbability() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnswerProbability(t *testing.T) {
	tests := []struct {
		name string
		in   *float64
		want *float64
	}{
		{"nil stays nil", nil, nil},
		{"in range unchanged", fptr(0.42), fptr(0.42)},
		{"zero unchanged", fptr(0), fptr(0)},
		{"one unchanged", fptr(1), fptr(1)},
		{"percentage", fptr(55), fptr(0.55)},
		{"negative clamps", fptr(-5), fptr(0)},
		{"over 100 clamps", fptr(150), fptr(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnswerProbability(tt.in)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("AnswerProbability() = %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("AnswerProbability() = %v, want %v", *got, *tt.want)
			}
			if got != nil {
				again := AnswerProbability(got)
				if *again != *got {
					t.Errorf("not idempotent: %v -> %v", *got, *again)
				}
			}
		})
	}
}

func TestTags(t *testing.T) {
	n := New(nil)
	tests := []struct {
		question string
		want     []string
	}{
		{"Will AI be used by ChatGPT users?", []string{"AI"}},
		{"Will the NBA champion win the election?", []string{"Politics", "Sports"}},
		{"INFLATION above 3%?", []string{"Economics"}},
		{"Will it snow tomorrow?", []string{}},
	}
	for _, tt := range tests {
		got := n.Tags(tt.question)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tags(%q) = %v, want %v", tt.question, got, tt.want)
		}
	}
}

func TestTags_CustomCategoryMatchesName(t *testing.T) {
	n := New([]Category{{Name: "Climate", Keywords: []string{"warming"}}})
	if got := n.Tags("Will the climate accord hold?"); !reflect.DeepEqual(got, []string{"Climate"}) {
		t.Errorf("expected category name match, got %v", got)
	}
	if got := n.Tags("Global WARMING record?"); !reflect.DeepEqual(got, []string{"Climate"}) {
		t.Errorf("expected keyword match, got %v", got)
	}
}

func TestMarket(t *testing.T) {
	closeTime := int64(1800000000000)
	raw := manifold.RawMarket{
		ID:                "m1",
		Question:          "Will GPT-5 launch?",
		OutcomeType:       "MULTIPLE_CHOICE",
		Volume:            manifold.Loose(100),
		TotalLiquidity:    manifold.Loose(50),
		UniqueBettorCount: 7,
		CloseTime:         &closeTime,
		Answers: []manifold.RawAnswer{
			{ID: "a1", Name: "Yes soon", Probability: manifold.Float(60)},
			{ID: "a2"},
		},
	}

	m := Default.Market(&raw)
	if m.Probability != 0.6 {
		t.Errorf("probability = %v", m.Probability)
	}
	if m.Participants != 7 || m.Volume != 100 || m.Liquidity != 50 {
		t.Errorf("unexpected numeric fields: %+v", m)
	}
	if len(m.Answers) != 2 || m.Answers[0].Text != "Yes soon" || m.Answers[1].Text != "Unknown" {
		t.Errorf("unexpected answers: %+v", m.Answers)
	}
	if m.Answers[1].Probability != nil {
		t.Errorf("missing answer probability must stay nil")
	}
	if !reflect.DeepEqual(m.Tags, []string{"AI"}) {
		t.Errorf("tags = %v", m.Tags)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("normalized market invalid: %v", err)
	}

	obs := Observation(m)
	if obs.Probability == nil || *obs.Probability != 0.6 {
		t.Errorf("observation probability = %v", obs.Probability)
	}
}
