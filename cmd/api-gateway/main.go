package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/app"
	"github.com/upb/llm-provider-manager/config"
	"github.com/upb/llm-provider-manager/internal/observability"
	"github.com/upb/llm-provider-manager/routes"
)

var (
	preferencesFile string

	// dependencyOptions lets tests swap the backend factory
	dependencyOptions []app.Option
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "api-gateway",
		Short: "Multi-backend LLM gateway with task-aware routing and cost tracking",
		Long: `api-gateway routes chat completions across OpenAI, Anthropic, Gemini,
DeepSeek and xAI by task type, falls back when a backend fails and
tracks the estimated cost of every attempt.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&preferencesFile, "preferences", "", "path to a routing preferences YAML file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(costsCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(tokenCmd())

	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			deps, err := app.NewDependencies(ctx, cfg, logger, dependencyOptions...)
			if err != nil {
				logger.Error("failed to initialize dependencies", zap.Error(err))
				return err
			}

			srv := &http.Server{
				Addr:         cfg.Server.Address(),
				Handler:      routes.SetupRoutes(deps),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("api-gateway listening",
					zap.String("addr", srv.Addr),
					zap.String("environment", cfg.Environment))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			var serveErr error
			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			case serveErr = <-errCh:
				if serveErr != nil {
					logger.Error("server error", zap.Error(serveErr))
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown failed", zap.Error(err))
			}
			if err := deps.Close(shutdownCtx); err != nil {
				logger.Error("dependency shutdown failed", zap.Error(err))
			}

			logger.Info("api-gateway stopped")
			return serveErr
		},
	}
}

// loadRuntime loads the configuration and builds the logger it names
func loadRuntime(ctx context.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if preferencesFile != "" {
		prefs, err := config.LoadPreferences(preferencesFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Routing.Preferences = prefs
	}

	logger, err := initLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// initLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func initLogger() (*zap.Logger, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "json"
	}
	return observability.NewLogger(level, format)
}

// withDependencies runs fn against freshly wired dependencies and closes them
func withDependencies(ctx context.Context, fn func(deps *app.Dependencies) error) error {
	cfg, logger, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	deps, err := app.NewDependencies(ctx, cfg, logger, dependencyOptions...)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	runErr := fn(deps)
	if err := deps.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
