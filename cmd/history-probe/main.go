// Command history-probe reconstructs a market's probability history from its
// trades and prints the resulting series and trend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/marketpulse/internal/backfill"
	"github.com/rewired-gh/marketpulse/internal/history"
	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/manifold"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/monitor"
	"github.com/rewired-gh/marketpulse/internal/normalize"
	"github.com/rewired-gh/marketpulse/internal/storage"
)

var (
	baseURL  = flag.String("base-url", manifold.DefaultBaseURL, "Manifold API root")
	marketID = flag.String("market", "", "Market ID to probe (required)")
	lookback = flag.Int("lookback", storage.DefaultLookbackDays, "Lookback window in days")
	points   = flag.Int("points", 7, "Maximum backfilled points")
	logLevel = flag.String("log-level", "warn", "Log level")
)

func main() {
	flag.Parse()
	logger.Init(*logLevel, "text")

	if *marketID == "" {
		fmt.Fprintln(os.Stderr, "-market is required")
		flag.Usage()
		os.Exit(2)
	}
	days := storage.ClampLookback(*lookback)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := manifold.NewClient(manifold.ClientConfig{BaseURL: *baseURL})
	raw, err := client.GetMarket(ctx, *marketID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching market: %v\n", err)
		os.Exit(1)
	}
	market := normalize.Default.Market(raw)

	now := time.Now()
	engine := backfill.New(client, backfill.Config{Candidates: 1, Points: *points})
	series := engine.Series(ctx, []models.Market{market}, days, now, *points)
	current := normalize.Snapshot([]models.Market{market}, models.FormatDate(now))
	windows := storage.Merge(series, []models.Snapshot{current})

	mon := monitor.New(monitor.DefaultOptions(), normalize.Default)
	trend := mon.TrendFor(history.Build(windows), market.ID)

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%s\n", market.Question)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("URL:          %s\n", market.URL)
	fmt.Printf("Type:         %s\n", market.OutcomeType)
	fmt.Printf("Tags:         %s\n", strings.Join(market.Tags, ", "))
	fmt.Printf("Traders:      %s\n", humanize.Comma(int64(market.Participants)))
	fmt.Printf("Volume:       M$%s\n", humanize.Comma(int64(market.Volume)))
	fmt.Printf("Probability:  %.1f%%\n", market.Probability*100)
	fmt.Printf("Lookback:     %dd (%d backfilled points)\n\n", days, len(series))

	if trend == nil {
		fmt.Println("No history could be reconstructed")
		return
	}

	fmt.Printf("%-28s %-14s %s\n", "Timestamp", "Age", "Probability")
	fmt.Println(strings.Repeat("-", 60))
	for _, p := range trend.Series {
		fmt.Printf("%-28s %-14s %.1f%%\n", models.FormatDate(p.Timestamp), humanize.RelTime(p.Timestamp, now, "ago", "from now"), p.Probability*100)
	}

	fmt.Println()
	fmt.Printf("Delta:        %+.1f pts\n", trend.Delta)
	fmt.Printf("Avg swing:    %.2f pts (%s)\n", trend.AverageSwing, trend.Volatility)
	fmt.Printf("Consistency:  %.2f\n", trend.Consistency)
}
