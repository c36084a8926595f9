package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"myagent/pkg/config"
	"myagent/pkg/daemon"
	"myagent/pkg/update"
)

func newStartCommand(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start myagent as a background daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon.IsDaemonRunning() {
				return fmt.Errorf("myagent is already running")
			}
			if _, err := opts.loadConfigStrict(); err != nil {
				return fmt.Errorf("cannot start: %w (run `myagent init` first)", err)
			}
			return daemon.Daemonize()
		},
	}
}

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running myagent daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemon.StopDaemon()
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemon.ShowStatus()
		},
	}
}

func newRestartCommand(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the myagent daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := daemon.StopDaemon(); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}
			time.Sleep(500 * time.Millisecond)
			return daemon.Daemonize()
		},
	}
}

func newInitCommand(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default settings file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(opts.resolveConfigPath())
		},
	}
}

func initConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Settings already exist: %s\n", path)
		return nil
	}
	cfg := config.Default()
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Created %s\n", path)
	fmt.Println("Set your API key with: myagent config set agents.myagent.env.MYAGENT_API_KEY <key>")
	return nil
}

func newUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Download and install the latest release",
		RunE: func(cmd *cobra.Command, args []string) error {
			return update.Run()
		},
	}
}
