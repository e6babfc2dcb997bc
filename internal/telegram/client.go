// Package telegram delivers digests and service alerts through the Telegram
// Bot API. Messages use MarkdownV2 and are retried with linear backoff.
package telegram

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/marketpulse/internal/models"
)

// Sender is the subset of the bot API the client uses
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            Sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return NewClientWithSender(bot, chatID, maxRetries, retryDelayBase)
}

// NewClientWithSender creates a client on top of an existing sender
func NewClientWithSender(bot Sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SendDigest sends the movers of a digest
func (c *Client) SendDigest(d models.Digest, lookbackDays int) error {
	return c.send(formatDigest(d, lookbackDays))
}

// SendError reports the first failure of a run of failed cycles
func (c *Client) SendError(cycleErr error) error {
	msg := fmt.Sprintf("⚠️ *Fetch cycle failed*\n\n%s", escapeMarkdownV2(cycleErr.Error()))
	return c.send(msg)
}

// SendRecovery reports that cycles succeed again after failures
func (c *Client) SendRecovery(failures int) error {
	msg := fmt.Sprintf("✅ *Recovered* after %s",
		escapeMarkdownV2(humanize.Comma(int64(failures))+" failed "+plural(failures, "cycle")))
	return c.send(msg)
}

func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatDigest renders a digest as a MarkdownV2 message
func formatDigest(d models.Digest, lookbackDays int) string {
	var b strings.Builder
	window := escapeMarkdownV2(formatDuration(time.Duration(lookbackDays) * 24 * time.Hour))
	fmt.Fprintf(&b, "📊 *Market digest* \\(%s lookback\\)\n\n", window)

	switch d.State {
	case models.DigestWarmingUp:
		b.WriteString("⏳ Collecting history, no comparison snapshot yet\\.\n")
		return b.String()
	case models.DigestNoOverlap:
		b.WriteString("🔍 No market appears in both snapshots\\.\n")
		return b.String()
	}

	if span := digestSpan(d); span != "" {
		fmt.Fprintf(&b, "📅 Compared with %s\n\n", escapeMarkdownV2(span))
	}

	for i, mv := range d.Movers {
		emoji := "📈"
		if mv.Delta < 0 {
			emoji = "📉"
		}

		title := escapeMarkdownV2(mv.Market.Question)
		if mv.Market.URL != "" {
			title = fmt.Sprintf("[%s](%s)", title, escapeMarkdownV2URL(mv.Market.URL))
		}

		delta := escapeMarkdownV2(fmt.Sprintf("%+.1f pts", mv.Delta))
		from := escapeMarkdownV2(formatPercent(mv.Past.Probability))
		to := escapeMarkdownV2(formatPercent(mv.Market.Probability))
		traders := escapeMarkdownV2(humanize.Comma(int64(mv.Market.Participants)))

		fmt.Fprintf(&b, "%d\\. %s\n", i+1, title)
		fmt.Fprintf(&b, "   %s *%s* \\(%s → %s\\) · %s %s\n\n", emoji, delta, from, to, traders, plural(mv.Market.Participants, "trader"))
	}
	return b.String()
}

func digestSpan(d models.Digest) string {
	current, err := models.ParseDate(d.CurrentDate)
	if err != nil {
		return ""
	}
	past, err := models.ParseDate(d.PastDate)
	if err != nil {
		return ""
	}
	return humanize.RelTime(past, current, "earlier", "later")
}

func formatPercent(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", math.Round(*p*1000)/10)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeMarkdownV2URL escapes the characters MarkdownV2 reserves inside a link target
func escapeMarkdownV2URL(url string) string {
	return strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(url)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if days := int(d.Hours() / 24); days >= 1 && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", days)
	}
	if hours := int(d.Hours()); hours >= 1 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
