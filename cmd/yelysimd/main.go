package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/kevyamon/yely-go/internal/config"
	"github.com/kevyamon/yely-go/internal/logging"
	"github.com/kevyamon/yely-go/internal/sim"
)

func main() {
	cfg, err := config.LoadSimConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && os.Getenv("MIGRATE") == "true" {
		migrate(cfg.PGDSN, log)
	}

	srv := sim.New(cfg, log)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("dispatch simulator listening", "addr", cfg.HTTPAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if err := srv.Close(); err != nil {
		log.Error("simulator close failed", "error", err)
	}
	log.Info("simulator stopped")
}

// migrate applies the rides schema on demand for local setups.
func migrate(dsn string, log *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Warn("migration db open failed", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		log.Warn("migration file unreadable", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Warn("migration exec failed", "error", err)
		return
	}
	log.Info("migration applied", "file", "001_create_rides.sql")
}
