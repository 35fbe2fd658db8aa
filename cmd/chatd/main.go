// Command chatd serves the chat API.
//
// Start the server:
//
//	chatd serve --config chatd.yaml
//
// List the models of every configured provider:
//
//	chatd models --config chatd.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nstogner/chatd/pkg/auth"
	"github.com/nstogner/chatd/pkg/config"
	"github.com/nstogner/chatd/pkg/controller"
	"github.com/nstogner/chatd/pkg/metrics"
	"github.com/nstogner/chatd/pkg/ratelimit"
	"github.com/nstogner/chatd/pkg/server"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "chatd",
		Short:        "Chat turn orchestrator with streaming and tool calling",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "chatd.yaml", "Path to YAML configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				return runServe(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "models",
			Short: "List the models of every configured provider",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				return runModels(cmd.Context(), cfg, cmd.OutOrStdout())
			},
		},
	)
	return root
}

// loadConfig reads the config file and installs the default logger.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	router, err := buildRouter(ctx, cfg.Models)
	if err != nil {
		return err
	}
	catalog, err := buildCatalog(cfg.Tools, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	o := controller.NewOrchestrator(orchestratorConfig(cfg.Orchestrator), m, logger)
	ctrl := controller.New(o, router, catalog, st, m, logger)

	srv := server.New(server.Options{
		Controller: ctrl,
		Auth: auth.NewJWT(auth.Options{
			Secret:         cfg.Auth.JWTSecret,
			CookieName:     cfg.Auth.CookieName,
			AllowAnonymous: cfg.Auth.AllowAnonymous,
		}),
		Limiter:        ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSOrigin:     cfg.Server.CORSOrigin,
		TitleModel:     cfg.Models.Title,
		Logger:         logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func runModels(ctx context.Context, cfg *config.Config, out io.Writer) error {
	router, err := buildRouter(ctx, cfg.Models)
	if err != nil {
		return err
	}
	models, err := router.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROVIDER\tNAME")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, m.Provider, m.Name)
	}
	return tw.Flush()
}
