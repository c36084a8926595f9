package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"myagent/pkg/agent"
	"myagent/pkg/config"
	"myagent/pkg/frontend/cli"
	"myagent/pkg/monitor"
	"myagent/pkg/thread"
)

// rootOpts carries the persistent/root flags shared by every subcommand.
type rootOpts struct {
	configPath string
	prompt     string
	agentType  string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOpts{}

	root := &cobra.Command{
		Use:   "myagent",
		Short: "Agent orchestration service bridging chat channels and LLM backends",
		Long: "myagent runs LLM-driven agents with shell and file tools, reachable from\n" +
			"a terminal or from chat channels (Feishu streaming cards, Telegram).",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTerminal(opts)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default ~/.myagent/settings.json)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.Flags().StringVarP(&opts.prompt, "prompt", "p", "", "run one prompt and exit")
	root.Flags().StringVarP(&opts.agentType, "agent", "a", "", "agent type to use (myagent|claude)")

	root.AddCommand(
		newServeCommand(opts),
		newStartCommand(opts),
		newStopCommand(),
		newStatusCommand(),
		newRestartCommand(opts),
		newInitCommand(opts),
		newUpdateCommand(),
		newLogsCommand(),
		newConfigCommand(opts),
		newFeishuCommand(opts),
	)
	return root
}

// resolveConfigPath returns the effective settings path for this invocation.
func (o *rootOpts) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the settings file and applies environment overrides. A
// missing file is not fatal for terminal runs: env vars alone can configure
// the native agent.
func (o *rootOpts) loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load(o.resolveConfigPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}
	return cfg.WithEnvOverrides(), nil
}

// loadConfigStrict is loadConfig for modes where a settings file is required
// (serve/daemon); a missing file is a startup failure.
func (o *rootOpts) loadConfigStrict() (*config.AppConfig, error) {
	cfg, err := config.Load(o.resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return cfg.WithEnvOverrides(), nil
}

// agentOrDefault picks the agent type: the -a flag wins, then the config's
// default_agent.
func (o *rootOpts) agentOrDefault(cfg *config.AppConfig) string {
	if o.agentType != "" {
		return o.agentType
	}
	if cfg.DefaultAgent != "" {
		return cfg.DefaultAgent
	}
	return "myagent"
}

// runTerminal is the root command's action: one-shot with -p, interactive
// otherwise. The workspace is the caller's working directory.
func runTerminal(opts *rootOpts) error {
	monitor.SetupCLILogging(opts.logLevel)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	workspace, err := os.Getwd()
	if err != nil {
		workspace = cfg.ResolveWorkspace()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hasFeishu := cfg.Channels.Feishu != nil
	manager := thread.NewManager(agent.NewFactory(ctx, cfg, workspace, hasFeishu))

	front := &cli.Frontend{Prompt: opts.prompt, AgentType: opts.agentOrDefault(cfg)}
	return front.Run(ctx, manager)
}
