package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shohag/risebridge/internal/api"
	"github.com/shohag/risebridge/internal/config"
	"github.com/shohag/risebridge/internal/install"
	"github.com/shohag/risebridge/internal/refresh"
	"github.com/shohag/risebridge/internal/webhook"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "risebridge",
		Short: "RiseBridge, a reference integration for the Rise.ai platform",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(installationsCmd(&configPath))
	rootCmd.AddCommand(authorizeURLCmd(&configPath))
	rootCmd.AddCommand(webhookCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the RiseBridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := setupLogger(cfg.Logging)

			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			verifier, err := setupVerifier(cfg)
			if err != nil {
				return fmt.Errorf("failed to setup webhook verifier: %w", err)
			}

			if cfg.Admin.Token == "" {
				log.Warn().Msg("admin.token is not set, /installations is open to anyone")
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var refresher *refresh.Refresher
			if cfg.Token.RefreshInterval > 0 {
				refresher = refresh.New(a.store, a.tokens, cfg.Token.RefreshWorkers, log)
				refresher.Start(ctx, cfg.Token.RefreshInterval)
			}

			dispatcher := webhook.NewDispatcher(a.tokens, log)
			dispatcher.OnInstalled(webhook.ConfirmInstalled(a.store, log))

			server := api.NewServer(cfg.Server, api.Deps{
				Store:      a.store,
				Tokens:     a.tokens,
				Remover:    a.tokens,
				Redirector: a.redirector,
				Callback:   install.NewCallbackHandler(a.tokens, a.store, log),
				Verifier:   verifier,
				Dispatcher: dispatcher,
				Platform:   a.platform,
				AdminToken: cfg.Admin.Token,
				Metrics:    cfg.Metrics.Enabled,
			}, log)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Str("storage", cfg.Storage.Driver).
				Str("callback_url", a.callbackURL).
				Msg("RiseBridge is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			if refresher != nil {
				refresher.Stop()
			}

			log.Info().Msg("RiseBridge stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the installation store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func installationsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "installations",
		Short: "Inspect and manage stored installations",
	}

	// installations list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored installations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			insts, err := a.store.List(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list installations: %w", err)
			}

			if len(insts) == 0 {
				fmt.Println("No installations found.")
				return nil
			}

			for _, inst := range insts {
				state := "valid"
				if a.tokens.Expired(&inst) {
					state = "expired"
				}
				fmt.Printf("  %s  %s until %s  (installed %s)\n",
					inst.InstanceID, state, inst.ExpiresAt.Format(time.RFC3339), inst.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	// installations refresh
	refreshCmd := &cobra.Command{
		Use:   "refresh [instance_id]",
		Short: "Refresh one installation, or every expired one with --stale",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stale, _ := cmd.Flags().GetBool("stale")
			if stale == (len(args) == 1) {
				return fmt.Errorf("pass either an instance id or --stale")
			}

			a, err := appFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			if stale {
				workers, _ := cmd.Flags().GetInt("workers")
				result, err := refresh.New(a.store, a.tokens, workers, a.log).RefreshStale(ctx)
				if err != nil {
					return fmt.Errorf("failed to refresh installations: %w", err)
				}
				out, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(out))
				return nil
			}

			inst, err := a.tokens.Refresh(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to refresh %s: %w", args[0], err)
			}
			out, _ := json.MarshalIndent(inst.View(time.Now()), "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	refreshCmd.Flags().Bool("stale", false, "refresh every expired installation")
	refreshCmd.Flags().Int("workers", 4, "concurrent refreshes with --stale")

	// installations delete
	deleteCmd := &cobra.Command{
		Use:   "delete <instance_id>",
		Short: "Forget an installation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.tokens.Remove(context.Background(), args[0]); err != nil {
				return fmt.Errorf("failed to delete installation: %w", err)
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, refreshCmd, deleteCmd)
	return cmd
}

func authorizeURLCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "authorize-url <install_token>",
		Short: "Print the installer URL for a platform install token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			target, err := newRedirector(cfg).BuildAuthorizeURL(args[0])
			if err != nil {
				return err
			}
			fmt.Println(target)
			return nil
		},
	}
}

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Webhook tooling",
	}

	signCmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a signed webhook body, for exercising a local server",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyPath, _ := cmd.Flags().GetString("key")
			eventType, _ := cmd.Flags().GetString("event")
			instanceID, _ := cmd.Flags().GetString("instance")
			data, _ := cmd.Flags().GetString("data")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			if keyPath == "" || instanceID == "" {
				return fmt.Errorf("--key and --instance are required")
			}
			if !json.Valid([]byte(data)) {
				return fmt.Errorf("--data must be valid JSON")
			}

			pemBytes, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("failed to read key: %w", err)
			}
			key, err := webhook.ParsePrivateKey(pemBytes)
			if err != nil {
				return err
			}

			body, err := webhook.Sign(key, webhook.Event{
				EventType:  eventType,
				InstanceID: instanceID,
				Data:       json.RawMessage(data),
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Println(body)
			return nil
		},
	}
	signCmd.Flags().String("key", "", "path to a PEM private key (RSA, ECDSA or Ed25519)")
	signCmd.Flags().String("event", webhook.EventAppInstalled, "event type")
	signCmd.Flags().String("instance", "", "instance id")
	signCmd.Flags().String("data", "{}", "inner event data as JSON")
	signCmd.Flags().Duration("ttl", 5*time.Minute, "token lifetime, 0 for no exp claim")

	cmd.AddCommand(signCmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("RiseBridge v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
