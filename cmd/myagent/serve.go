package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"myagent/pkg/agent"
	"myagent/pkg/channels/telegram"
	"myagent/pkg/config"
	"myagent/pkg/daemon"
	"myagent/pkg/health"
	"myagent/pkg/monitor"
	"myagent/pkg/thread"
	"myagent/pkg/transport/feishu"
)

const (
	gcInterval = 10 * time.Minute
	gcMaxIdle  = time.Hour
)

func newServeCommand(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent service in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *rootOpts) error {
	if err := os.MkdirAll(config.LogDir(), 0o755); err != nil {
		return err
	}
	logPath := filepath.Join(config.LogDir(), "myagent.log")
	monitor.SetupDaemonLogging(opts.logLevel, logPath)
	monitor.PrintBanner()

	cfg, err := opts.loadConfigStrict()
	if err != nil {
		return err
	}

	if err := daemon.WritePIDFile(); err != nil {
		return err
	}
	defer daemon.RemovePIDFile()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, shutdownCh, err := health.Start(ctx, cfg.Port)
	if err != nil {
		return err
	}

	reloadCh := config.WatchConfig(ctx, opts.resolveConfigPath())

	// Channels are torn down and rebuilt on every settings change; the health
	// server and PID file span the whole process lifetime.
	for {
		runCtx, cancel := context.WithCancel(ctx)
		startChannels(runCtx, opts, cfg)

		select {
		case <-ctx.Done():
			cancel()
			slog.Info("myagent stopping on signal")
			return nil
		case <-shutdownCh:
			cancel()
			slog.Info("myagent stopping on RPC shutdown")
			return nil
		case <-reloadCh:
			cancel()
			slog.Info("configuration changed, restarting channels")
			next, err := opts.loadConfigStrict()
			if err != nil {
				slog.Error("failed to reload configuration, keeping previous", "error", err)
				continue
			}
			cfg = next
		}
	}
}

// startChannels builds a fresh thread manager and starts every configured
// chat channel against it.
func startChannels(ctx context.Context, opts *rootOpts, cfg *config.AppConfig) {
	workspace := cfg.ResolveWorkspace()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		slog.Error("failed to create workspace", "path", workspace, "error", err)
	}

	hasFeishu := cfg.Channels.Feishu != nil
	manager := thread.NewManager(agent.NewFactory(ctx, cfg, workspace, hasFeishu))
	go manager.RunGC(ctx, gcInterval, gcMaxIdle)

	agentType := opts.agentOrDefault(cfg)

	if fc := cfg.Channels.Feishu; fc != nil {
		bridge := feishu.NewBridge(*fc, manager, agentType, workspace)
		go bridge.Run(ctx, fc.AppID, fc.AppSecret)
		slog.Info("feishu channel started", "agent", agentType)
	}

	if tc := cfg.Channels.Telegram; tc != nil {
		ch, err := telegram.New(telegram.Config{Token: tc.Token}, manager, agentType)
		if err != nil {
			slog.Error("telegram channel unavailable", "error", err)
		} else {
			go ch.Run(ctx)
			slog.Info("telegram channel started", "agent", agentType)
		}
	}

	if cfg.Channels.Feishu == nil && cfg.Channels.Telegram == nil {
		slog.Warn("no chat channels configured; only the health endpoint is active")
	}
}
