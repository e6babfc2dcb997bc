package manifold

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// OptionalFloat is a numeric field that only accepts JSON numbers.
// Strings, null, NaN or infinite values decode as absent rather than
// failing the whole record.
type OptionalFloat struct {
	Value float64
	Valid bool
}

// UnmarshalJSON accepts JSON numbers only
func (f *OptionalFloat) UnmarshalJSON(data []byte) error {
	*f = OptionalFloat{}
	v, ok := decodeNumber(data, false)
	if ok {
		f.Value, f.Valid = v, true
	}
	return nil
}

// MarshalJSON writes null for absent values
func (f OptionalFloat) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Ptr returns the value as a pointer, nil when absent
func (f OptionalFloat) Ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// Float builds a valid OptionalFloat
func Float(v float64) OptionalFloat {
	return OptionalFloat{Value: v, Valid: true}
}

// LooseFloat is like OptionalFloat but also accepts numeric strings.
// Volume and liquidity are sometimes serialized as strings.
type LooseFloat struct {
	Value float64
	Valid bool
}

// UnmarshalJSON accepts JSON numbers and numeric strings
func (f *LooseFloat) UnmarshalJSON(data []byte) error {
	*f = LooseFloat{}
	v, ok := decodeNumber(data, true)
	if ok {
		f.Value, f.Valid = v, true
	}
	return nil
}

// MarshalJSON writes null for absent values
func (f LooseFloat) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Loose builds a valid LooseFloat
func Loose(v float64) LooseFloat {
	return LooseFloat{Value: v, Valid: true}
}

func decodeNumber(data []byte, allowString bool) (float64, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0, false
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		if !allowString {
			return 0, false
		}
		var s string
		if json.Unmarshal(data, &s) != nil {
			return 0, false
		}
		parsed, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if perr != nil {
			return 0, false
		}
		v = parsed
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// RawAnswer is an answer as returned by the API. Older payloads use name/prob.
type RawAnswer struct {
	ID          string        `json:"id"`
	Text        string        `json:"text"`
	Name        string        `json:"name,omitempty"`
	Probability OptionalFloat `json:"probability"`
	Prob        OptionalFloat `json:"prob"`
	IsResolved  bool          `json:"isResolved,omitempty"`
	Resolution  *string       `json:"resolution,omitempty"`
}

// RawMarket is a market as returned by search or detail endpoints
type RawMarket struct {
	ID                string        `json:"id"`
	Question          string        `json:"question"`
	URL               string        `json:"url"`
	OutcomeType       string        `json:"outcomeType"`
	Probability       OptionalFloat `json:"probability"`
	Volume            LooseFloat    `json:"volume"`
	TotalLiquidity    LooseFloat    `json:"totalLiquidity"`
	Liquidity         LooseFloat    `json:"liquidity"`
	UniqueBettorCount int           `json:"uniqueBettorCount"`
	CreatedTime       *int64        `json:"createdTime"`
	CloseTime         *int64        `json:"closeTime"`
	IsResolved        bool          `json:"isResolved"`
	Resolution        *string       `json:"resolution"`
	Answers           []RawAnswer   `json:"answers"`
}

// NeedsDetail reports whether a search result lacks data the detail endpoint carries
func (m *RawMarket) NeedsDetail() bool {
	return !m.Probability.Valid || (m.OutcomeType == "MULTIPLE_CHOICE" && len(m.Answers) == 0)
}

// LiquidityRank is the sort key used to prioritize detail fetches:
// total liquidity, then liquidity, then volume.
func (m *RawMarket) LiquidityRank() float64 {
	for _, f := range []LooseFloat{m.TotalLiquidity, m.Liquidity, m.Volume} {
		if f.Valid && f.Value != 0 {
			return f.Value
		}
	}
	return 0
}

// Bet is one trade from the bet ledger
type Bet struct {
	ID          string        `json:"id"`
	ContractID  string        `json:"contractId"`
	CreatedTime int64         `json:"createdTime"`
	ProbBefore  OptionalFloat `json:"probBefore"`
	ProbAfter   OptionalFloat `json:"probAfter"`
	Amount      float64       `json:"amount"`
	Outcome     string        `json:"outcome"`
}
