package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/herbtrace/herbtrace/internal/config"
	"github.com/herbtrace/herbtrace/internal/ledger"
	"github.com/herbtrace/herbtrace/internal/pkg/logger"
	"github.com/herbtrace/herbtrace/internal/repository"
	"github.com/herbtrace/herbtrace/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet.
		panic(err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		panic(err)
	}
	defer logger.Sync()

	log := logger.L()
	log.Info("starting herb traceability service",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Database),
	)

	repo := repository.NewRepository()
	if err := repo.ConnectDB(cfg.Database.DSN(), cfg.Database.ConnectAttempts); err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := repo.Migrate(); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	if cfg.Database.Seed {
		repo.Seed()
	}

	engine := ledger.NewEngine(ledger.QualityThresholds{
		MaxMoisture:       cfg.Quality.MaxMoisture,
		PesticideExpected: cfg.Quality.PesticideExpected,
		DNAExpected:       cfg.Quality.DNAExpected,
	})
	svc := ledger.NewService(repo, engine, ledger.Options{
		MaxAppendAttempts: cfg.Ledger.MaxAppendAttempts,
		ShelfLifeYears:    cfg.Ledger.ShelfLifeYears,
	}, log)

	srv := server.NewServer(cfg.Server, svc, log)
	srv.Start()

	log.Info("herb traceability service ready")

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("error during server shutdown", zap.Error(err))
	}

	log.Info("herb traceability service stopped")
}
