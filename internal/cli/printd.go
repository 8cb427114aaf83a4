// Package cli builds the printd and printagent command trees.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orrn/kitchenprint/internal/agent"
	"github.com/orrn/kitchenprint/internal/api"
	"github.com/orrn/kitchenprint/internal/api/middleware"
	"github.com/orrn/kitchenprint/internal/archive"
	"github.com/orrn/kitchenprint/internal/auth"
	"github.com/orrn/kitchenprint/internal/config"
	"github.com/orrn/kitchenprint/internal/core"
	"github.com/orrn/kitchenprint/internal/db"
	"github.com/orrn/kitchenprint/internal/logger"
	"github.com/orrn/kitchenprint/internal/metrics"
	"github.com/orrn/kitchenprint/internal/webhook"
)

var version = "dev"

func BuildCLI() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "printd",
		Short:         "Print job dispatch service for kitchen and receipt printers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "config file path")

	rootCmd.AddCommand(buildServeCommand(&configFile))
	rootCmd.AddCommand(buildMigrateCommand(&configFile))
	rootCmd.AddCommand(buildTokenCommand(&configFile))
	rootCmd.AddCommand(buildHashKeyCommand())

	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg = config.LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func openDatabase(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}
	conn, err := db.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	return conn, nil
}

func buildServeCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, agent channel and job processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logging)
			if err != nil {
				return errors.Wrap(err, "create logger")
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	conn, err := openDatabase(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer conn.Close()

	jobs := db.NewJobStore(conn)
	printers := db.NewPrinterStore(conn)
	collector := metrics.NewCollector()
	if err := collector.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "printd_queue_pending_jobs",
		Help: "Jobs waiting for their first attempt",
	}, func() float64 {
		stats, err := jobs.Stats(context.Background(), cfg.Queue.MaxRetries)
		if err != nil {
			return 0
		}
		return float64(stats.Pending)
	})); err != nil {
		return errors.Wrap(err, "register queue gauge")
	}

	var tokens agent.TokenValidator
	if cfg.Auth.AgentTokenSecret != "" {
		t, err := auth.NewAgentTokens(cfg.Auth.AgentTokenSecret, cfg.Auth.AgentTokenTTL)
		if err != nil {
			return err
		}
		tokens = t
	}

	wake := core.NewSignal()
	registry := agent.NewRegistry(log, collector)
	dispatcher := core.NewDispatcher(
		core.NewNetworkSender(&cfg.Printers),
		agent.NewSender(registry, cfg.Agents.AckTimeout),
	)

	hooks := webhook.NewSender(cfg.Webhooks, webhook.Options{}, log)
	hooks.Start()
	defer hooks.Stop()

	processor := core.NewProcessor(jobs, printers, dispatcher, wake, &cfg.Queue,
		core.WithLogger(log),
		core.WithEvents(hooks),
		core.WithMetrics(collector),
	)
	if err := processor.Start(ctx); err != nil {
		return err
	}
	defer processor.Stop()

	deps := api.Deps{
		DB:          conn,
		Queue:       core.NewQueue(jobs, printers, wake, cfg.Queue.MaxRetries, log),
		Printers:    printers,
		Registry:    registry,
		AgentServer: agent.NewServer(registry, tokens, cfg.Agents, log),
		AdminAuth:   middleware.NewAdminAuth(cfg.Auth.AdminKeyHash, log),
		Webhooks:    hooks,
		Config:      cfg,
		MaxRetries:  cfg.Queue.MaxRetries,
		Logger:      log,
	}
	if cfg.Archive.Enabled {
		archiver, err := archive.NewArchiver(jobs, cfg.Archive, log)
		if err != nil {
			return err
		}
		archiver.Start(ctx)
		defer archiver.Stop()
		deps.Archiver = archiver
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = collector.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}
	if cfg.Auth.AdminKeyHash == "" {
		log.Warn("No admin key hash configured; the operator API is unauthenticated")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "http server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	registry.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP shutdown incomplete", "error", err)
	}
	return nil
}

func buildMigrateCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			cfg = config.LoadFromEnv(cfg)

			conn, err := openDatabase(cmd.Context(), cfg.Database.Path)
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", cfg.Database.Path)
			return nil
		},
	}
}

func buildTokenCommand(configFile *string) *cobra.Command {
	var agentID string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a registration token for a remote agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			cfg = config.LoadFromEnv(cfg)
			if ttl <= 0 {
				ttl = cfg.Auth.AgentTokenTTL
			}

			tokens, err := auth.NewAgentTokens(cfg.Auth.AgentTokenSecret, ttl)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(agentID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent ID the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func buildHashKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Print the bcrypt hash of an admin API key (reads stdin when no key is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.Wrap(err, "read key")
				}
				key = strings.TrimSpace(line)
			}

			hash, err := auth.HashKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
