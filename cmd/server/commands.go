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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nuxni/reaction-engine/api"
	"github.com/nuxni/reaction-engine/config"
	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/logger"
)

// =============================================================================
// SERVE
// =============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateServe(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		scenario, _ := cmd.Flags().GetString("scenario")
		if scenario == "" && cfg.Store.Driver == config.DriverMemory {
			scenario = "walkthrough"
		}
		if scenario != "" {
			if _, err := api.NewScenarioLoader(a.backend, a.engine).Load(ctx, scenario); err != nil {
				return err
			}
		}
		if err := a.engine.VerifyPlatform(ctx); err != nil {
			return fmt.Errorf("%w (run `server migrate --platform-balance N` first)", err)
		}

		handler := api.NewHandler(a.backend, a.engine)
		handler.Auditor.Enabled = cfg.Audit.Enabled
		handler.Auditor.Interval = cfg.Audit.Interval
		handler.Auditor.Start()
		defer handler.Auditor.Stop()

		router := api.NewRouter(handler,
			api.NewActorResolver(cfg.Auth.JWTSecret, cfg.Auth.DevHeader),
			api.NewAdminGuard(cfg.Admin.Enabled, cfg.Admin.Accounts...),
		)
		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:      api.Instrument(router, serviceName),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Log.Info("server starting",
				zap.Int("port", cfg.HTTP.Port),
				zap.Bool("dev_header", cfg.Auth.DevHeader),
				zap.Bool("admin_routes", cfg.Admin.Enabled),
			)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		case <-ctx.Done():
		}

		logger.Log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logger.Log.Info("server stopped")
		return nil
	},
}

// =============================================================================
// MIGRATE
// =============================================================================

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the schema and the platform account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		balance, _ := cmd.Flags().GetInt64("platform-balance")
		if balance < 0 {
			return generic.ErrNegativeAmount
		}
		if err := a.ensurePlatform(ctx, balance); err != nil {
			return err
		}
		fmt.Printf("Schema ready, platform account %s present\n", a.engine.PlatformAccount())
		return nil
	},
}

// =============================================================================
// SEED
// =============================================================================

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Reset the datastore and load a demo scenario",
	Long: `Reset the datastore and load a demo scenario. Available scenarios:
walkthrough, low-balance, crowd.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		scenario, _ := cmd.Flags().GetString("scenario")
		seed, _ := cmd.Flags().GetUint64("seed")
		size, _ := cmd.Flags().GetInt("size")

		loader := api.NewScenarioLoader(a.backend, a.engine)
		loader.Seed = seed
		loader.CrowdSize = size

		resp, err := loader.Load(ctx, scenario)
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %s: %d accounts, %d targets, %d reactions\n",
			resp.ScenarioID, len(resp.Accounts), len(resp.Targets), resp.Reactions)
		return nil
	},
}

// =============================================================================
// AUDIT
// =============================================================================

var errDrift = errors.New("audit found drift")

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run one consistency audit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		run, err := api.NewAuditor(a.backend).RunOnce(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}
		if run.Status == generic.AuditDrift {
			return errDrift
		}
		return nil
	},
}

// =============================================================================
// TOKEN
// =============================================================================

var tokenCmd = &cobra.Command{
	Use:   "token <account-id>",
	Short: "Print a signed JWT for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		token, err := api.IssueToken(cfg.Auth.JWTSecret, generic.AccountID(args[0]), ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP server port")
	serveCmd.Flags().String("scenario", "", "Load a demo scenario before serving (resets the datastore)")
	bindFlags(v, serveCmd.Flags(), map[string]string{"http.port": "port"})

	migrateCmd.Flags().Int64("platform-balance", 0, "Opening balance when the platform account is created")

	seedCmd.Flags().String("scenario", "crowd", "Scenario to load")
	seedCmd.Flags().Uint64("seed", 0, "Random seed for the crowd scenario (0 = random)")
	seedCmd.Flags().Int("size", 8, "Number of accounts in the crowd scenario")

	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}
