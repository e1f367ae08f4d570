package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/forecastbot/internal/config"
	"github.com/rewired-gh/forecastbot/internal/engine"
	"github.com/rewired-gh/forecastbot/internal/logger"
	"github.com/rewired-gh/forecastbot/internal/metrics"
	"github.com/rewired-gh/forecastbot/internal/storage"
	"github.com/rewired-gh/forecastbot/internal/telegram"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()
	os.Exit(run())
}

// run owns every deferred cleanup, so it returns an exit code instead of
// exiting itself.
func run() int {
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath, cfg.Game.StartBalance)
	if err != nil {
		logger.Error("Failed to initialize storage: %v", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	m := metrics.New()
	game := engine.New(store, nil, m, engine.Config{
		MinPoints:         cfg.Game.MinPoints,
		MaxPoints:         cfg.Game.MaxPoints,
		NotifyConcurrency: cfg.Engine.NotifyConcurrency,
		MyBetsLimit:       cfg.Engine.MyBetsLimit,
	})

	loc, _ := cfg.Location()
	bot, err := telegram.NewClient(cfg.Telegram.BotToken, game, telegram.Options{
		AdminIDs:       cfg.Telegram.AdminIDs,
		PollTimeout:    cfg.Telegram.PollTimeout,
		MaxRetries:     cfg.Telegram.MaxRetries,
		RetryDelayBase: cfg.Telegram.RetryDelayBase,
		Location:       loc,
	})
	if err != nil {
		logger.Error("Failed to initialize Telegram client: %v", err)
		return 1
	}
	game.SetNotifier(bot)
	if len(cfg.Telegram.AdminIDs) == 0 {
		logger.Warn("No admin ids configured, nobody can create or settle questions")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		serveMetrics(ctx, g, cfg.Metrics.ListenAddr, m.Handler())
	}

	bot.ListenForCommands(ctx)
	logger.Info("Forecast bot started (start balance %d, points %d-%d, %d admins)",
		cfg.Game.StartBalance, cfg.Game.MinPoints, cfg.Game.MaxPoints, len(cfg.Telegram.AdminIDs))

	<-ctx.Done()
	logger.Info("Shutdown signal received, cleaning up...")
	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error: %v", err)
		return 1
	}
	logger.Info("Service stopped")
	return 0
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", h)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
