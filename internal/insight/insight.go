// Package insight turns the visible markets into short commentary items,
// either through an OpenAI-compatible chat completion endpoint or locally
// from simple aggregate rules.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
)

const (
	SourceLLM   = "llm"
	SourceLocal = "local"

	DefaultModel      = "gpt-4o-mini"
	DefaultMaxMarkets = 20

	systemPrompt = "You are a prediction market intelligence analyst."
)

var (
	// ErrUnexpectedStructure means the reply parsed as JSON but holds no insight list
	ErrUnexpectedStructure = errors.New("LLM returned unexpected JSON structure")
	// ErrEmpty means no item carried a description
	ErrEmpty = errors.New("LLM returned empty insights")
	// ErrInvalidJSON means no JSON could be recovered from the reply
	ErrInvalidJSON = errors.New("LLM returned invalid JSON")
)

// Generator produces insights for a set of markets
type Generator interface {
	Generate(ctx context.Context, markets []models.Market) ([]models.Insight, error)
}

// Config holds the LLM endpoint settings
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxMarkets int
	Timeout    time.Duration
}

// Client generates insights through a chat completion endpoint
type Client struct {
	client     *openai.Client
	model      string
	maxMarkets int
	timeout    time.Duration
}

// NewClient creates a new LLM insight client
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxMarkets <= 0 {
		cfg.MaxMarkets = DefaultMaxMarkets
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      cfg.Model,
		maxMarkets: cfg.MaxMarkets,
		timeout:    cfg.Timeout,
	}
}

type marketSummary struct {
	Question     string   `json:"question"`
	Probability  int      `json:"probability"`
	Participants int      `json:"participants"`
	Tags         []string `json:"tags"`
}

// Generate asks the model for insights about the first markets
func (c *Client) Generate(ctx context.Context, markets []models.Market) ([]models.Insight, error) {
	if len(markets) > c.maxMarkets {
		markets = markets[:c.maxMarkets]
	}
	summary := make([]marketSummary, len(markets))
	for i, m := range markets {
		summary[i] = marketSummary{
			Question:     m.Question,
			Probability:  int(math.Round(m.Probability * 100)),
			Participants: m.Participants,
			Tags:         m.Tags,
		}
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal market summary: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(string(data))},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, errors.New("invalid response from LLM: no content")
	}

	content := resp.Choices[0].Message.Content
	logger.Debug("LLM insight reply: %d chars, %d tokens", len(content), resp.Usage.TotalTokens)

	raw, err := ParseResponse(content)
	if err != nil {
		return nil, err
	}
	return Normalize(raw, SourceLLM)
}

func userPrompt(marketsJSON string) string {
	return "Summarize consensus signals, divergences, emerging narratives and uncertainty hotspots " +
		"in these prediction markets.\n\nData (JSON array of markets):\n" + marketsJSON +
		"\n\nReturn ONLY a raw JSON array. Each item: " +
		`{"title": "Short insight", "description": "2-3 sentences with actionable implication."}`
}

var (
	fencedJSON = regexp.MustCompile("(?is)```json\\s*(.*?)\\s*```")
	arrayJSON  = regexp.MustCompile(`(?s)\[.*\]`)
	objectJSON = regexp.MustCompile(`(?s)\{.*\}`)
)

// ParseResponse recovers JSON from a model reply: a fenced json block first,
// then the outermost array, then the outermost object, then the whole text.
func ParseResponse(content string) (json.RawMessage, error) {
	candidate := content
	if m := fencedJSON.FindStringSubmatch(content); m != nil && m[1] != "" {
		candidate = m[1]
	} else if m := arrayJSON.FindString(content); m != "" {
		candidate = m
	} else if m := objectJSON.FindString(content); m != "" {
		candidate = m
	}

	candidate = strings.TrimSpace(candidate)
	if !json.Valid([]byte(candidate)) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(candidate), nil
}

type rawInsight struct {
	Title       interface{} `json:"title"`
	Description interface{} `json:"description"`
}

// Normalize accepts an array of items or an object with an "insights" array.
// Missing titles become "Insight N"; items without a description are dropped.
func Normalize(raw json.RawMessage, source string) ([]models.Insight, error) {
	var items []rawInsight
	if err := json.Unmarshal(raw, &items); err != nil {
		var wrapped struct {
			Insights []rawInsight `json:"insights"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Insights == nil {
			return nil, ErrUnexpectedStructure
		}
		items = wrapped.Insights
	}

	out := make([]models.Insight, 0, len(items))
	for i, item := range items {
		title := strings.TrimSpace(stringify(item.Title))
		if title == "" {
			title = fmt.Sprintf("Insight %d", i+1)
		}
		desc := strings.TrimSpace(stringify(item.Description))
		if desc == "" {
			continue
		}
		out = append(out, models.Insight{
			ID:          uuid.NewString(),
			Title:       title,
			Description: desc,
			Source:      source,
		})
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Local builds rule-based insights that need no network
func Local(markets []models.Market) []models.Insight {
	if len(markets) == 0 {
		return []models.Insight{}
	}
	var insights []models.Insight
	add := func(title, desc string, ids []string) {
		insights = append(insights, models.Insight{
			ID:          uuid.NewString(),
			Title:       title,
			Description: desc,
			Markets:     ids,
			Source:      SourceLocal,
		})
	}

	// Category distribution
	counts := make(map[string]int)
	var order []string
	for _, m := range markets {
		for _, tag := range m.Tags {
			if counts[tag] == 0 {
				order = append(order, tag)
			}
			counts[tag]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > 0 {
		top := order[0]
		add("Market Focus: "+top,
			fmt.Sprintf("%s is the dominant theme with %d active markets.", top, counts[top]), nil)
	}

	var confident, contested, hot []string
	var probSum, partSum float64
	for _, m := range markets {
		probSum += m.Probability
		partSum += float64(m.Participants)
		if m.Probability > 0.7 || m.Probability < 0.3 {
			confident = append(confident, m.ID)
		}
		if m.Probability > 0.4 && m.Probability < 0.6 {
			contested = append(contested, m.ID)
		}
	}
	avgParticipants := partSum / float64(len(markets))
	for _, m := range markets {
		if float64(m.Participants) > avgParticipants*1.5 {
			hot = append(hot, m.ID)
		}
	}

	if len(confident) > 0 {
		add("Consensus Signals",
			fmt.Sprintf("%d markets show strong crowd consensus (>70%% or <30%%).", len(confident)), confident)
	}
	if len(hot) > 0 {
		add("Hot Topics",
			fmt.Sprintf("%d markets are seeing more than 50%% above-average participation.", len(hot)), hot)
	}

	avgProb := probSum / float64(len(markets))
	bias := "bearish/cautious"
	if avgProb > 0.5 {
		bias = "bullish/optimistic"
	}
	add("Global Sentiment",
		fmt.Sprintf("The aggregate probability across visible markets is %d%%, a %s bias.", int(math.Round(avgProb*100)), bias), nil)

	if len(contested) > 0 {
		add("Controversial Predictions",
			fmt.Sprintf("%d markets are contested with probabilities near 50%%.", len(contested)), contested)
	}
	return insights
}

// Fallback tries the LLM generator and falls back to Local on any failure
// or when no generator is configured.
func Fallback(ctx context.Context, gen Generator, markets []models.Market) []models.Insight {
	if gen != nil {
		out, err := gen.Generate(ctx, markets)
		if err == nil {
			return out
		}
		logger.Warn("LLM insight generation failed, using local insights: %v", err)
	}
	return Local(markets)
}
