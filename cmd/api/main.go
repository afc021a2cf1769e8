package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
	"github.com/PaulBabatuyi/marketchat/internal/config"
	"github.com/PaulBabatuyi/marketchat/internal/data"
	"github.com/PaulBabatuyi/marketchat/internal/db"
	"github.com/PaulBabatuyi/marketchat/internal/logging"
	"github.com/PaulBabatuyi/marketchat/internal/middleware"
)

func main() {
	// Read configuration from .env and the environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.StorageBackend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		logger.Error("failed to load catalog", "path", cfg.CatalogPath, "err", err)
		os.Exit(1)
	}
	if cfg.CatalogPath == "" {
		logger.Warn("CATALOG_PATH not set; every conversation context will resolve to no vendor")
	}

	// With a single JWT_SECRET the key map holds one unnamed key; JWT_KEYS
	// allows rotation by kid.
	jwtMgr := auth.NewJWTManagerFromKeys(cfg.JWTKeys, cfg.JWTActiveKid, cfg.SessionTTL)

	// Small burst to allow a couple of quick retries on register and login
	limiterStore := middleware.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
	defer limiterStore.Stop()

	srv := newServer(store, jwtMgr, catalog, limiterStore, logger)
	srv.cookieSecure = cfg.CookieSecure || cfg.TLSEnabled()

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr, "backend", cfg.StorageBackend, "tls", cfg.TLSEnabled())
		var err error
		if cfg.TLSEnabled() {
			err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exit", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

// openStore builds the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (data.Store, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return data.NewSQLiteStore(conn), func() { _ = conn.Close() }, nil

	case config.BackendMongo:
		dbClient, err := db.New(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to DB: %w", err)
		}
		// Ensure indexes exist
		if err := dbClient.CreateIndexes(ctx); err != nil {
			_ = dbClient.Close(ctx)
			return nil, nil, fmt.Errorf("create indexes: %w", err)
		}
		store := data.NewMongoStore(
			dbClient.UsersCollection(),
			dbClient.ConversationsCollection(),
			dbClient.MessagesCollection(),
		)
		return store, func() { _ = dbClient.Close(context.Background()) }, nil

	default:
		return data.NewMemoryStore(), func() {}, nil
	}
}
