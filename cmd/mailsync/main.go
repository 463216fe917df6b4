package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/mixelka/mailsync/internal/config"
	"github.com/mixelka/mailsync/internal/crypto"
	"github.com/mixelka/mailsync/internal/database"
	"github.com/mixelka/mailsync/internal/email"
	"github.com/mixelka/mailsync/internal/oauth"
	"github.com/mixelka/mailsync/internal/parser"
	"github.com/mixelka/mailsync/internal/syncer"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mailsync",
		Short:         "Synchronize remote mailboxes into a local message store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd(), newAccountCmd(), newCheckCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the pieces every command needs
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *database.DB
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	box, err := crypto.NewSecretBox([]byte(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to init encryption: %w", err)
	}

	db, err := database.New(cfg.DatabasePath, box)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Debug("database migrations completed", "path", cfg.DatabasePath)

	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

// newEngine wires the adapters, parser and store into a sync engine
func (a *app) newEngine() *syncer.Engine {
	factory := &email.Factory{
		Options: email.Options{
			DialTimeout:    a.cfg.IMAPDialTimeout,
			CommandTimeout: a.cfg.IMAPCommandTimeout,
			FirstRunLimit:  a.cfg.FirstRunLimit,
		},
		Issuer: oauth.NewIssuer(a.cfg.OAuthTokenURL, a.cfg.OAuthScopes, a.logger),
		Logger: a.logger,
	}
	return syncer.NewEngine(a.db, factory, parser.New(), a.cfg.DedupAssumeNewOnError, a.logger)
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
