package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/marketpulse/internal/api"
	"github.com/rewired-gh/marketpulse/internal/backfill"
	"github.com/rewired-gh/marketpulse/internal/config"
	"github.com/rewired-gh/marketpulse/internal/insight"
	"github.com/rewired-gh/marketpulse/internal/kv"
	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/manifold"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/monitor"
	"github.com/rewired-gh/marketpulse/internal/normalize"
	"github.com/rewired-gh/marketpulse/internal/session"
	"github.com/rewired-gh/marketpulse/internal/storage"
	"github.com/rewired-gh/marketpulse/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	kvStore, err := kv.Open(ctx, kv.Options{
		Backend:     cfg.Storage.Backend,
		Dir:         cfg.Storage.Dir,
		SQLitePath:  cfg.Storage.SQLitePath,
		RedisURL:    cfg.Storage.RedisURL,
		RedisPrefix: cfg.Storage.RedisPrefix,
	})
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := kvStore.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()
	store := storage.New(kvStore, cfg.Storage.MaxSnapshots)

	client := manifold.NewClient(manifold.ClientConfig{
		BaseURL:           cfg.Manifold.BaseURL,
		PageSize:          cfg.Manifold.PageSize,
		Timeout:           cfg.Manifold.Timeout,
		MaxRetries:        cfg.Manifold.MaxRetries,
		RetryDelay:        cfg.Manifold.RetryDelay,
		DetailConcurrency: cfg.History.BackfillConcurrency,
	})

	engine := backfill.New(client, backfill.Config{
		Candidates:  cfg.History.BackfillCandidates,
		Points:      cfg.History.BackfillPoints,
		Concurrency: cfg.History.BackfillConcurrency,
	})

	mon := monitor.New(monitor.Options{
		StableThreshold: cfg.Digest.StableThreshold,
		ActiveThreshold: cfg.Digest.ActiveThreshold,
		TopMovers:       cfg.Digest.TopMovers,
		ListLimit:       cfg.Digest.ListLimit,
	}, normalize.Default)

	deps := session.Deps{
		Markets:    client,
		Backfill:   engine,
		Store:      store,
		Normalizer: normalize.Default,
		Monitor:    mon,
	}
	if cfg.Insight.Enabled {
		deps.Insights = insight.NewClient(insight.Config{
			BaseURL:    cfg.Insight.BaseURL,
			APIKey:     cfg.Insight.APIKey,
			Model:      cfg.Insight.Model,
			MaxMarkets: cfg.Insight.MaxMarkets,
			Timeout:    cfg.Insight.Timeout,
		})
		logger.Info("LLM insights enabled (model: %s)", cfg.Insight.Model)
	} else {
		logger.Debug("LLM insights disabled, using local insights")
	}

	sess := session.New(ctx, deps, session.Config{
		DetailLimit:     cfg.Manifold.DetailLimit,
		HydrateLimit:    cfg.Manifold.HydrateLimit,
		BackfillPoints:  cfg.History.BackfillPoints,
		DefaultLookback: cfg.History.LookbackDays,
		MinVisible:      session.DefaultMinVisible,
		AutoInsights:    true,
	})
	if len(cfg.Digest.Categories) > 0 {
		selected := sess.SetCategories(cfg.Digest.Categories)
		logger.Info("Category filter: %s", strings.Join(selected, ", "))
	}

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	var srv *http.Server
	if cfg.Server.Enabled {
		gin.SetMode(gin.ReleaseMode)
		srv = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.NewRouter(ctx, sess, cfg.Server.Debounce),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP API listening on %s", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed: %v", err)
				cancel()
			}
		}()
	}

	logger.Info("Starting market pulse service (interval: %v, lookback: %dd, backend: %s)",
		cfg.PollInterval, sess.State().LookbackDays, cfg.Storage.Backend)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	lastDigest := ""

	handleCycleResult := func(err error) {
		if errors.Is(err, session.ErrSuperseded) {
			logger.Debug("Scheduled cycle superseded by an interactive fetch")
			return
		}
		if err != nil {
			consecutiveFailures++
			logger.Error("Fetch cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}

		if consecutiveFailures > 0 && telegramClient != nil {
			if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0

		st := sess.State()
		key := digestKey(st.Digest)
		if telegramClient == nil || key == "" || key == lastDigest {
			return
		}
		if err := telegramClient.SendDigest(st.Digest, st.LookbackDays); err != nil {
			logger.Error("Failed to send Telegram digest: %v", err)
			return
		}
		lastDigest = key
		logger.Info("Sent Telegram digest with %d movers", len(st.Digest.Movers))
	}

	// Run initial cycle immediately
	logger.Debug("Running initial fetch cycle")
	handleCycleResult(sess.Fetch(ctx, cfg.Manifold.Query))

	for {
		select {
		case <-ctx.Done():
			if srv != nil {
				shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("HTTP server shutdown: %v", err)
				}
				stop()
			}
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled fetch cycle")
			handleCycleResult(sess.Fetch(ctx, sess.State().Query))
		}
	}
}

// digestKey identifies a digest by its comparison snapshot and movers so the
// same digest is not sent twice. Digests without movers yield "".
func digestKey(d models.Digest) string {
	if d.State != models.DigestReady || len(d.Movers) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(d.PastDate)
	for _, mv := range d.Movers {
		fmt.Fprintf(&b, "|%s:%.1f", mv.Market.ID, mv.Delta)
	}
	return b.String()
}
