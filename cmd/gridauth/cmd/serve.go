package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesgorrie/grid/internal/auth"
	"github.com/jamesgorrie/grid/internal/authn"
	"github.com/jamesgorrie/grid/internal/authn/apikey"
	"github.com/jamesgorrie/grid/internal/authn/panda"
	"github.com/jamesgorrie/grid/internal/db/bunx"
	"github.com/jamesgorrie/grid/internal/permissions"
	"github.com/jamesgorrie/grid/internal/registry"
	"github.com/jamesgorrie/grid/internal/repository"
	"github.com/jamesgorrie/grid/internal/server"
	"github.com/jamesgorrie/grid/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication server",
	Long:  `Starts the HTTP server with the auth endpoints and the accessor management plane.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Telemetry first so everything below is traced. A missing OTLP
		// endpoint leaves the no-op providers in place.
		telemetryShutdown, err := telemetry.Init(ctx, cfg.Observability)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telemetryShutdown(shutdownCtx); err != nil {
				log.Printf("WARNING: telemetry shutdown failed: %v", err)
			}
		}()

		// Connect to database
		db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		log.Printf("Connected to database")

		accessorRepo := repository.NewBunAccessorRepository(db)

		// The accessor registry must load before the server accepts traffic;
		// an API key channel with no snapshot would reject every machine
		// caller as unrecognised.
		registryMetrics, err := telemetry.NewRegistryMetrics()
		if err != nil {
			return fmt.Errorf("failed to create registry metrics: %w", err)
		}
		reg, err := registry.New(ctx, accessorRepo, registry.WithMetrics(registryMetrics))
		if err != nil {
			return fmt.Errorf("failed to load accessor registry: %w", err)
		}
		log.Printf("Accessor registry loaded (%d accessors)", reg.Size())

		refreshCtx, cancelRefresh := context.WithCancel(ctx)
		defer cancelRefresh()
		go reg.Run(refreshCtx, cfg.Registry.RefreshInterval)

		// Session signing key. Generated on first boot, persisted so sessions
		// survive restarts.
		signingKey, keyID, err := auth.LoadOrGenerateSigningKey(cfg.Auth.SigningKeyPath)
		if err != nil {
			return fmt.Errorf("failed to load session signing key: %w", err)
		}
		log.Printf("Session signing key ready (kid=%s)", keyID)

		var relyingParty *auth.RelyingParty
		if cfg.IdP != nil {
			relyingParty, err = auth.NewRelyingParty(ctx, cfg.IdP, cfg.Auth.SecureCookies)
			if err != nil {
				return fmt.Errorf("failed to create relying party: %w", err)
			}
			log.Printf("Federated login enabled via %s", cfg.IdP.Issuer)
		} else {
			log.Printf("WARNING: no identity provider configured; existing sessions validate but interactive login is unavailable")
		}

		userProvider, err := panda.NewProvider(cfg, signingKey, keyID, relyingParty)
		if err != nil {
			return fmt.Errorf("failed to create user authentication provider: %w", err)
		}
		apiProvider := apikey.NewProvider(reg, accessorRepo, cfg.Auth.APIKeyHeader, cfg.ServiceName)

		authMetrics, err := telemetry.NewAuthMetrics()
		if err != nil {
			return fmt.Errorf("failed to create auth metrics: %w", err)
		}
		resolver := authn.NewResolver(
			authn.Providers{API: apiProvider, User: userProvider},
			cfg.LoginURL(),
			authn.WithAuthMetrics(authMetrics),
		)

		checker, err := permissions.NewChecker()
		if err != nil {
			return fmt.Errorf("failed to create permission checker: %w", err)
		}

		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("failed to create server metrics: %w", err)
		}

		r := server.NewRouter(server.RouterOptions{
			Cfg:          cfg,
			Resolver:     resolver,
			UserProvider: userProvider,
			Checker:      checker,
			Accessors:    accessorRepo,
			Registry:     reg,
			DB:           db,
			Metrics:      serverMetrics,
		})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("Starting server on %s", cfg.ServerAddr)
			log.Printf("Server URL: %s", cfg.ServerURL)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP triggers a registry refresh so operators can push a revoked
		// key without waiting for the next tick.
		registryRefresh := make(chan os.Signal, 1)
		signal.Notify(registryRefresh, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				return fmt.Errorf("server error: %w", err)

			case sig := <-registryRefresh:
				log.Printf("Received signal %v, refreshing accessor registry", sig)
				refreshCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := reg.Refresh(refreshCtx); err != nil {
					log.Printf("ERROR: Manual registry refresh failed: %v", err)
				} else {
					log.Printf("INFO: Manual registry refresh complete via %v (version=%d, accessors=%d)",
						sig, reg.Version(), reg.Size())
				}
				cancel()

			case sig := <-shutdown:
				log.Printf("Received signal %v, shutting down gracefully", sig)

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(ctx); err != nil {
					srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				log.Printf("Server stopped")
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
