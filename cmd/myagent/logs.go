package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"myagent/pkg/config"
)

func newLogsCommand() *cobra.Command {
	var (
		lines  int
		follow bool
		clear  bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			logPath := filepath.Join(config.LogDir(), "myagent.log")

			if clear {
				if err := os.Truncate(logPath, 0); err != nil && !os.IsNotExist(err) {
					return err
				}
				fmt.Println("Logs cleared")
				return nil
			}

			if follow {
				return followLog(logPath, lines)
			}
			return printTail(logPath, lines)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep the log open and stream new lines")
	cmd.Flags().BoolVar(&clear, "clear", false, "truncate the log file")
	return cmd
}

func printTail(path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No log file yet")
			return nil
		}
		return err
	}

	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) > n {
		all = all[len(all)-n:]
	}
	for _, line := range all {
		fmt.Println(line)
	}
	return nil
}

// followLog hands off to tail -f; the invoked program's exit status becomes
// ours.
func followLog(path string, n int) error {
	tail := exec.Command("tail", "-n", strconv.Itoa(n), "-f", path)
	tail.Stdout = os.Stdout
	tail.Stderr = os.Stderr
	err := tail.Run()
	if exitErr, ok := err.(*exec.ExitError); ok {
		os.Exit(exitErr.ExitCode())
	}
	return err
}
