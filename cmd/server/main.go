package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xtrntr/dexsim/internal/api"
	"github.com/xtrntr/dexsim/internal/auth"
	"github.com/xtrntr/dexsim/internal/config"
	"github.com/xtrntr/dexsim/internal/db"
	"github.com/xtrntr/dexsim/internal/exchange"
	"github.com/xtrntr/dexsim/internal/logging"
	"github.com/xtrntr/dexsim/internal/metrics"
)

// Main entry point: sets up the journal, exchange, and HTTP server
func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	// Users and the trade journal live in Postgres when configured
	var (
		users   auth.UserStore = auth.NewMemoryStore()
		journal exchange.Journal
		history api.TradeHistory
	)
	if cfg.Database.URL != "" {
		database, err := db.NewDB(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return err
		}
		users, journal, history = database, database, database
		logger.Info("journaling to postgres")
	} else {
		logger.Warn("no database configured, users are kept in memory and trades are not journaled")
	}

	ex := exchange.NewExchange(logger, recorder, journal)
	for _, pair := range cfg.Markets {
		if err := ex.AddMarket(pair); err != nil {
			return err
		}
	}
	for _, pc := range cfg.Pools {
		poolCfg, err := pc.AMM()
		if err != nil {
			return err
		}
		if _, err := ex.AddPool(poolCfg); err != nil {
			return err
		}
	}

	authService := auth.NewAuthService(users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	handler := api.NewHandler(ex, authService, history, logger)
	hub := api.NewHub(ex, cfg.Server.SnapshotDepth, logger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ws", hub.ServeWS)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	handler.Routes(r)
	if cfg.Server.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.Server.StaticDir)))
	}

	go hub.Run(ctx, cfg.Server.BroadcastInterval)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", cfg.Server.Addr),
			zap.Strings("markets", ex.Markets()),
			zap.Int("pools", len(ex.Pools())),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
