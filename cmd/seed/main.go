package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xtrntr/dexsim/internal/auth"
	"github.com/xtrntr/dexsim/internal/config"
	"github.com/xtrntr/dexsim/internal/db"
	"github.com/xtrntr/dexsim/internal/logging"
)

var traders = []string{"MarketMaker1", "MarketMaker2", "Trader1", "Trader2"}

// Seed the database with the demo traders
func main() {
	configPath := flag.String("config", "", "path to a config file")
	password := flag.String("password", "password123", "password given to every seeded trader")
	flag.Parse()

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

	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required (DEXSIM_DATABASE_URL)")
	}

	ctx := context.Background()
	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate", zap.Error(err))
	}

	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	created := 0
	for _, name := range traders {
		_, err := authService.Register(ctx, name, *password)
		if errors.Is(err, auth.ErrUserExists) {
			logger.Info("trader already exists", zap.String("username", name))
			continue
		}
		if err != nil {
			logger.Fatal("failed to create trader", zap.String("username", name), zap.Error(err))
		}
		created++
		logger.Info("trader created", zap.String("username", name))
	}

	fmt.Printf("Seeded %d of %d traders.\n", created, len(traders))
}
