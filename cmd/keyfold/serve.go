// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/internal/auth/memory"
	"github.com/keyfold/keyfold/internal/auth/postgres"
	"github.com/keyfold/keyfold/internal/config"
	"github.com/keyfold/keyfold/internal/email"
	"github.com/keyfold/keyfold/internal/httpapi"
	"github.com/keyfold/keyfold/internal/logging"
	"github.com/keyfold/keyfold/internal/oauth"
	"github.com/keyfold/keyfold/internal/observability"
	"github.com/keyfold/keyfold/internal/store"
)

const shutdownTimeout = 10 * time.Second

// ServeDeps allows tests to inject the store and notifier.
type ServeDeps struct {
	Accounts auth.AccountRepository
	Notifier auth.Notifier
	Ready    observability.ReadinessChecker
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the credential service",
		Long: `Start the HTTP credential service: registration, login, OAuth
identity linking, and password resets.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, nil)
		},
	}

	cmd.Flags().String("listen-addr", config.DefaultListenAddr, "HTTP listen address")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")
	cmd.Flags().String("base-url", "", "public origin for reset links and OAuth callbacks")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "log format (json or text)")
	cmd.Flags().Bool("dev", false, "use in-memory storage and log-only mail delivery")
	cmd.Flags().Bool("auto-link-by-email", false, "attach OAuth identities to existing accounts by email")

	return cmd
}

// runServeWithDeps starts the service with injectable dependencies. If deps
// is nil, real implementations are built from the config.
func runServeWithDeps(ctx context.Context, cfg *config.Config, deps *ServeDeps) error {
	logger := logging.SetDefault("keyfold", version, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if deps == nil {
		deps = &ServeDeps{}
	}

	if deps.Accounts == nil {
		if cfg.Dev {
			deps.Accounts = memory.NewAccountRepository()
			logger.Warn("dev mode: accounts are stored in memory and lost on exit")
		} else {
			pool, err := store.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return oops.With("operation", "connect to database").Wrap(err)
			}
			defer pool.Close()
			deps.Accounts = postgres.NewAccountRepository(pool)
		}
	}

	if deps.Notifier == nil {
		if cfg.Dev {
			deps.Notifier = email.NewLogSender(logger)
		} else {
			sender, err := email.NewSESSender(ctx, cfg.Email.Region, cfg.Email.From, "Keyfold")
			if err != nil {
				return oops.With("operation", "configure mail sender").Wrap(err)
			}
			deps.Notifier = sender
		}
	}

	hasher := auth.NewBcryptHasher()

	issuer, err := auth.NewTokenIssuer(cfg.SessionSigningKey)
	if err != nil {
		return err
	}

	authService, err := auth.NewService(deps.Accounts, hasher, issuer)
	if err != nil {
		return err
	}

	resetService, err := auth.NewResetService(deps.Accounts, hasher, deps.Notifier, cfg.BaseURL, logger)
	if err != nil {
		return err
	}

	linker, err := auth.NewIdentityLinker(deps.Accounts, auth.LinkerConfig{
		AutoLinkByEmail: cfg.AutoLinkByEmail,
	})
	if err != nil {
		return err
	}

	providers := oauth.NewRegistry(oauthConfig(cfg))

	var metrics *observability.Metrics
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, deps.Ready)
		metrics = obsServer.Metrics()
		if _, err := obsServer.Start(); err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := obsServer.Stop(stopCtx); stopErr != nil {
				logger.Error("observability server shutdown failed", "error", stopErr)
			}
		}()
	}

	router, err := httpapi.NewRouter(httpapi.Deps{
		Auth:           authService,
		Reset:          resetService,
		Linker:         linker,
		Issuer:         issuer,
		Accounts:       deps.Accounts,
		Providers:      providers,
		Metrics:        metrics,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("credential service listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return oops.With("addr", cfg.ListenAddr).Wrap(err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return oops.With("operation", "shutdown http server").Wrap(err)
	}

	return nil
}

// oauthConfig maps the provider credential table onto the registry config.
func oauthConfig(cfg *config.Config) oauth.Config {
	oc := oauth.Config{RedirectBase: cfg.BaseURL}
	if p, ok := cfg.OAuth["google"]; ok {
		oc.Google = oauth.ProviderCredentials{ClientID: p.ClientID, ClientSecret: p.ClientSecret}
	}
	if p, ok := cfg.OAuth["github"]; ok {
		oc.GitHub = oauth.ProviderCredentials{ClientID: p.ClientID, ClientSecret: p.ClientSecret}
	}
	return oc
}
