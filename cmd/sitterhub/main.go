package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tbeaudouin05/sitterhub-billing/api/auth"
	"github.com/tbeaudouin05/sitterhub-billing/api/bootstrap"
	"github.com/tbeaudouin05/sitterhub-billing/api/config"
	"github.com/tbeaudouin05/sitterhub-billing/api/database"
	"github.com/tbeaudouin05/sitterhub-billing/api/grpcserver"
	"github.com/tbeaudouin05/sitterhub-billing/api/logging"
	billingapp "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/app"
)

// Version is set at build time with -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sitterhub",
		Short:         "SitterHub billing: subscription entitlement sync",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSyncCmd(), newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if !skipMigrate {
				if err := database.Migrate(ctx, a.DB); err != nil {
					return err
				}
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply pending migrations on startup")
	return cmd
}

func serve(ctx context.Context, a *bootstrap.App) error {
	httpLis, err := net.Listen("tcp", net.JoinHostPort("", a.Config.HTTPPort))
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Config.HTTPPort, err)
	}
	grpcLis, err := net.Listen("tcp", net.JoinHostPort("", a.Config.GRPCPort))
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("failed to listen on %s: %w", a.Config.GRPCPort, err)
	}
	return runServers(ctx, a.Logger, a.Handler(), grpcserver.New(a.Logger), httpLis, grpcLis)
}

// runServers serves HTTP and gRPC on already bound listeners until ctx is done.
// The health status turns serving only here, once both listeners exist.
func runServers(ctx context.Context, logger *slog.Logger, handler http.Handler, grpcSrv *grpcserver.Server, httpLis, grpcLis net.Listener) error {
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", httpLis.Addr().String())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return grpcSrv.ServeListener(gctx, grpcLis)
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcSrv.SetServing(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down http server")
		return httpSrv.Shutdown(shutdownCtx)
	})
	grpcSrv.SetServing(true)
	return g.Wait()
}

func newMigrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if status {
				return database.MigrationStatus(cmd.Context(), db)
			}
			if err := database.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of migrating")
	return cmd
}

func newSyncCmd() *cobra.Command {
	var (
		userID string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Re-derive entitlements for one user or for every user",
		PreRunE: func(*cobra.Command, []string) error {
			if (userID == "") == !all {
				return errors.New("exactly one of --user or --all is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if all {
				report, err := a.Service.SyncAllUsers(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d/%d users\n", report.Succeeded, report.Total)
				for id, msg := range report.Errors {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", id, msg)
				}
				if report.Failed > 0 {
					return fmt.Errorf("%d users failed to sync", report.Failed)
				}
				return nil
			}

			res := a.Service.SyncUser(cmd.Context(), userID, billingapp.TriggerCLI)
			if !res.Success {
				return res.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", userID, res.Tier)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to sync")
	cmd.Flags().BoolVar(&all, "all", false, "sync every user")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with AUTH_JWT_SECRET",
		PreRunE: func(*cobra.Command, []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := auth.NewVerifier(cfg.AuthJWTSecret).Sign(userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", "", "role claim, e.g. admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.Setup(cfg.LogLevel, cfg.LogFormat), nil
}

func setup(ctx context.Context) (*bootstrap.App, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, cfg, logger)
}
