package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shohag/risebridge/internal/config"
	"github.com/shohag/risebridge/internal/install"
	"github.com/shohag/risebridge/internal/platform"
	"github.com/shohag/risebridge/internal/storage"
	"github.com/shohag/risebridge/internal/token"
	"github.com/shohag/risebridge/internal/webhook"
)

// app bundles the long-lived collaborators shared by serve and the
// operator commands.
type app struct {
	log         zerolog.Logger
	store       storage.InstallationStore
	tokens      *token.Manager
	redirector  *install.Redirector
	platform    *platform.Client
	callbackURL string
}

func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Msg("storage ready")

	tokens := token.NewManager(store, token.NewClient(token.ClientConfig{
		TokenURL:     cfg.TokenURL(),
		ClientID:     cfg.Platform.ClientID,
		ClientSecret: cfg.Platform.ClientSecret,
		Timeout:      cfg.Token.Timeout,
	}), log, token.WithRefreshMargin(cfg.Token.RefreshMargin))

	return &app{
		log:         log,
		store:       store,
		tokens:      tokens,
		redirector:  newRedirector(cfg),
		platform:    platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.Timeout),
		callbackURL: install.CallbackURL(cfg.App.PublicURL, cfg.App.CallbackPath),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Error().Err(err).Msg("failed to close storage")
	}
}

// appFromConfig builds the app for operator commands, which only make sense
// against a store shared with the running server.
func appFromConfig(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := requirePersistentStorage(cfg.Storage); err != nil {
		return nil, err
	}
	return newApp(cfg, setupLogger(cfg.Logging))
}

func requirePersistentStorage(cfg config.StorageConfig) error {
	switch cfg.Driver {
	case "memory", "":
		return fmt.Errorf("storage.driver %q keeps installations inside the serve process, use sqlite or redis", cfg.Driver)
	default:
		return nil
	}
}

func newRedirector(cfg *config.Config) *install.Redirector {
	return install.NewRedirector(install.RedirectorConfig{
		InstallerURL: cfg.Platform.InstallerURL,
		ClientID:     cfg.Platform.ClientID,
		CallbackURL:  install.CallbackURL(cfg.App.PublicURL, cfg.App.CallbackPath),
	})
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.InstallationStore, error) {
	switch cfg.Driver {
	case "memory", "":
		log.Warn().Msg("using in-memory storage, installations are lost on restart")
		return storage.NewMemory(), nil
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		return storage.NewSQLite(cfg.SQLite.Path)
	case "redis":
		log.Info().Str("addr", cfg.Redis.Addr).Int("db", cfg.Redis.DB).Msg("using Redis storage")
		return storage.NewRedis(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func setupVerifier(cfg *config.Config) (*webhook.Verifier, error) {
	pemBytes, err := cfg.PublicKeyPEM()
	if err != nil {
		return nil, err
	}
	key, err := webhook.ParsePublicKey(pemBytes)
	if err != nil {
		return nil, err
	}
	return webhook.NewVerifier(key)
}
