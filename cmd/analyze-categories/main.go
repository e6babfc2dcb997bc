// Command analyze-categories samples live Manifold search results and reports
// how they distribute over the derived category tags. It helps tune keyword
// lists and the digest category filter.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/manifold"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/normalize"
)

const untagged = "(untagged)"

var (
	baseURL = flag.String("base-url", manifold.DefaultBaseURL, "Manifold API root")
	query   = flag.String("query", "", "Search term")
	pages   = flag.Int("pages", 3, "Search pages to sample")
	timeout = flag.Duration("timeout", 2*time.Minute, "Overall timeout")
)

// categoryStats aggregates the markets carrying one tag
type categoryStats struct {
	Name           string
	Count          int
	TotalVolume    float64
	MaxVolume      float64
	AvgProbability float64
	Participants   int
}

func main() {
	flag.Parse()
	logger.Init("warn", "text")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("MANIFOLD CATEGORY ANALYSIS")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	// Step 1: Fetch markets
	fmt.Printf("STEP 1: Fetching up to %d pages (query=%q)...\n", *pages, *query)
	fmt.Println(strings.Repeat("-", 80))
	client := manifold.NewClient(manifold.ClientConfig{BaseURL: *baseURL})
	markets, err := fetchMarkets(ctx, client, *query, *pages)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching markets: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Fetched %d markets\n", len(markets))

	// Step 2: Category distribution
	fmt.Println("\nSTEP 2: Category distribution...")
	fmt.Println(strings.Repeat("-", 80))
	printDistribution(summarize(markets))

	// Step 3: Volume distribution
	fmt.Println("\nSTEP 3: Volume distribution...")
	fmt.Println(strings.Repeat("-", 80))
	printVolumes(markets)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("ANALYSIS COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
}

func fetchMarkets(ctx context.Context, client *manifold.Client, term string, maxPages int) ([]models.Market, error) {
	var out []models.Market
	seen := make(map[string]bool)
	offset := 0
	for page := 0; page < maxPages; page++ {
		raw, err := client.SearchMarkets(ctx, term, offset)
		if err != nil {
			if len(out) > 0 {
				fmt.Printf("Stopping after page %d: %v\n", page, err)
				break
			}
			return nil, err
		}
		for _, m := range normalize.Default.Markets(raw) {
			if !seen[m.ID] {
				seen[m.ID] = true
				out = append(out, m)
			}
		}
		offset += len(raw)
		if len(raw) < client.PageSize() {
			break
		}
	}
	return out, nil
}

// summarize groups markets by tag, sorted by total volume. Markets without a
// tag are counted under a separate bucket.
func summarize(markets []models.Market) []categoryStats {
	byName := make(map[string]*categoryStats)
	probSums := make(map[string]float64)

	for _, m := range markets {
		tags := m.Tags
		if len(tags) == 0 {
			tags = []string{untagged}
		}
		for _, tag := range tags {
			s, ok := byName[tag]
			if !ok {
				s = &categoryStats{Name: tag}
				byName[tag] = s
			}
			s.Count++
			s.TotalVolume += m.Volume
			s.Participants += m.Participants
			if m.Volume > s.MaxVolume {
				s.MaxVolume = m.Volume
			}
			probSums[tag] += m.Probability
		}
	}

	stats := make([]categoryStats, 0, len(byName))
	for name, s := range byName {
		s.AvgProbability = probSums[name] / float64(s.Count)
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TotalVolume != stats[j].TotalVolume {
			return stats[i].TotalVolume > stats[j].TotalVolume
		}
		return stats[i].Name < stats[j].Name
	})
	return stats
}

func printDistribution(stats []categoryStats) {
	fmt.Printf("%-14s %-8s %-16s %-16s %-10s %-10s\n", "Category", "Markets", "Total Volume", "Max Volume", "Avg Prob", "Traders")
	fmt.Println(strings.Repeat("-", 80))
	for _, s := range stats {
		fmt.Printf("%-14s %-8d M$%-14s M$%-14s %-10s %-10s\n",
			s.Name, s.Count,
			humanize.Comma(int64(s.TotalVolume)),
			humanize.Comma(int64(s.MaxVolume)),
			fmt.Sprintf("%.1f%%", s.AvgProbability*100),
			humanize.Comma(int64(s.Participants)))
	}
}

func printVolumes(markets []models.Market) {
	if len(markets) == 0 {
		fmt.Println("No markets to analyze")
		return
	}

	sorted := make([]models.Market, len(markets))
	copy(sorted, markets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Volume > sorted[j].Volume })

	fmt.Println("Top 10 markets by volume:")
	for i := 0; i < 10 && i < len(sorted); i++ {
		m := sorted[i]
		fmt.Printf("%2d. M$%-12s | %-20s | %s\n", i+1, humanize.Comma(int64(m.Volume)), strings.Join(m.Tags, ", "), truncate(m.Question, 50))
	}

	fmt.Println("\nVolume percentiles:")
	for _, p := range []int{10, 25, 50, 75, 90, 95} {
		idx := int(float64(len(sorted)-1) * float64(100-p) / 100.0)
		fmt.Printf("%2dth percentile: M$%s\n", p, humanize.Comma(int64(sorted[idx].Volume)))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
