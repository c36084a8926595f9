package main

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"myagent/pkg/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newConfigCommand(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit settings",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Create a default settings file",
			RunE: func(cmd *cobra.Command, args []string) error {
				return initConfig(opts.resolveConfigPath())
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the current settings with secrets masked",
			RunE: func(cmd *cobra.Command, args []string) error {
				return showConfig(opts)
			},
		},
		&cobra.Command{
			Use:   "set KEY VALUE",
			Short: "Set one settings key (e.g. agents.myagent.env.MYAGENT_API_KEY)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return setConfig(opts, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the settings file path",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(opts.resolveConfigPath())
			},
		},
	)
	return cmd
}

func showConfig(opts *rootOpts) error {
	cfg, err := config.Load(opts.resolveConfigPath())
	if err != nil {
		return err
	}

	display := *cfg
	display.Agents = cfg.MaskedAgents()
	if f := cfg.Channels.Feishu; f != nil {
		masked := *f
		masked.AppSecret = config.MaskSecret("APP_SECRET", f.AppSecret)
		display.Channels.Feishu = &masked
	}
	if t := cfg.Channels.Telegram; t != nil {
		masked := *t
		masked.Token = config.MaskSecret("TOKEN", t.Token)
		display.Channels.Telegram = &masked
	}

	out, err := json.MarshalIndent(display, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// setConfig writes one dotted-path key: top-level scalars (port, workspace,
// default_agent), agents.<name>.env.<VAR>, or channels.<name>.<field>.
func setConfig(opts *rootOpts, key, value string) error {
	path := opts.resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		cfg = config.Default()
	}

	parts := strings.Split(key, ".")
	switch {
	case key == "port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("port must be an integer: %w", err)
		}
		cfg.Port = port
	case key == "workspace":
		cfg.Workspace = value
	case key == "default_agent":
		cfg.DefaultAgent = value
	case len(parts) == 4 && parts[0] == "agents" && parts[2] == "env":
		cfg.SetAgentEnv(parts[1], parts[3], value)
	case len(parts) == 3 && parts[0] == "channels" && parts[1] == "feishu":
		if cfg.Channels.Feishu == nil {
			cfg.Channels.Feishu = &config.FeishuConfig{}
		}
		switch parts[2] {
		case "app_id":
			cfg.Channels.Feishu.AppID = value
		case "app_secret":
			cfg.Channels.Feishu.AppSecret = value
		default:
			return fmt.Errorf("unknown feishu key %q", parts[2])
		}
	case len(parts) == 3 && parts[0] == "channels" && parts[1] == "telegram":
		if parts[2] != "token" {
			return fmt.Errorf("unknown telegram key %q", parts[2])
		}
		if cfg.Channels.Telegram == nil {
			cfg.Channels.Telegram = &config.TelegramConfig{}
		}
		cfg.Channels.Telegram.Token = value
	default:
		return fmt.Errorf("unknown settings key %q", key)
	}

	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Set %s\n", key)
	return nil
}
