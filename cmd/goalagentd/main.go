package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"OpenMCP-Goals/internal/api"
	"OpenMCP-Goals/internal/auth"
	"OpenMCP-Goals/internal/config"
	"OpenMCP-Goals/internal/mcpserver"
	"OpenMCP-Goals/internal/observability/metrics"
	"OpenMCP-Goals/internal/tools"
	"OpenMCP-Goals/pkg/logger"
)

// main 是 goal agent 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "goalagentd 运行失败: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "goalagentd",
		Short:         "Goal agent: goal decomposition and task orchestration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvConfigPath), "配置文件路径 (YAML)")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the tool API over HTTP",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return runServe(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "mcp",
			Short: "Serve the tools over MCP stdio",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return runMCP(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending SQL migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return runMigrate(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Print agent statistics as JSON",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return runStats(cmd.Context(), cfg, cmd.OutOrStdout())
			},
		},
	)
	return root
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(loggerConfig(cfg.Logging, "stdout")); err != nil {
		return err
	}
	defer logger.Sync()

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	guard, err := auth.NewService(authConfig(cfg.Server.Auth))
	if err != nil {
		return err
	}
	server := api.NewServer(cfg.Server.Address, tools.NewRegistry(app.agent), app.agent.Healthy, api.WithAuth(guard))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if cfg.Server.MetricsAddress != "" {
		g.Go(func() error { return metrics.StartServer(gctx, cfg.Server.MetricsAddress) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runMCP(ctx context.Context, cfg *config.Config) error {
	// stdout 专用于协议帧。
	if err := logger.Init(loggerConfig(cfg.Logging, "stderr")); err != nil {
		return err
	}
	defer logger.Sync()

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	s := mcpserver.New(tools.NewRegistry(app.agent))
	if err := mcpserver.Serve(ctx, s, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(loggerConfig(cfg.Logging, "stderr")); err != nil {
		return err
	}
	defer logger.Sync()
	return migrate(ctx, cfg.Store)
}

func runStats(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if err := logger.Init(loggerConfig(cfg.Logging, "stderr")); err != nil {
		return err
	}
	defer logger.Sync()

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	stats, err := app.agent.Stats(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
