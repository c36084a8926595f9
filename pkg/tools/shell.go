package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// maxOutputBytes caps each of stdout/stderr, per tool invocation.
const maxOutputBytes = 512 * 1024

// DetectShell picks the best available shell for the current platform,
// preferring the user's login shell.
func DetectShell() (name string, path string) {
	if runtime.GOOS == "windows" {
		if p, err := exec.LookPath("pwsh.exe"); err == nil {
			return "powershell", p
		}
		if p, err := exec.LookPath("powershell.exe"); err == nil {
			return "powershell", p
		}
		return "cmd", "cmd.exe"
	}

	if shellEnv := os.Getenv("SHELL"); shellEnv != "" {
		base := filepath.Base(shellEnv)
		if base == "bash" || base == "zsh" {
			return base, shellEnv
		}
	}
	for _, name := range []string{"bash", "zsh"} {
		if p, err := exec.LookPath(name); err == nil {
			return name, p
		}
	}
	return "sh", "/bin/sh"
}

func shellArgs(name, path, command string) []string {
	switch name {
	case "bash", "zsh":
		return []string{path, "-lc", command}
	case "powershell":
		return []string{path, "-NoProfile", "-Command", command}
	case "cmd":
		return []string{path, "/c", command}
	default:
		return []string{path, "-c", command}
	}
}

// ShellSchema is the input schema exposed to the LLM for the shell tool.
var ShellSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"command":    map[string]interface{}{"type": "string", "description": "The shell command to execute"},
		"timeout_ms": map[string]interface{}{"type": "integer", "description": "Timeout in milliseconds (default 120000)"},
	},
	"required": []string{"command"},
}

// RunShell executes a shell command with a timeout and output-size cap,
// always returning a descriptive string (never a Go error for a non-zero
// exit code; only for malformed input or failure to spawn the process).
func RunShell(ctx context.Context, workDir string, input map[string]interface{}) (string, error) {
	command, _ := input["command"].(string)
	if command == "" {
		return "", fmt.Errorf("shell tool requires 'command' string")
	}
	timeoutMs := 120_000
	if v, ok := input["timeout_ms"].(float64); ok && v > 0 {
		timeoutMs = int(v)
	}

	name, path := DetectShell()
	args := shellArgs(name, path, command)

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, args[0], args[1:]...)
	cmd.Dir = workDir

	stdout, err := cmd.Output()
	if timeoutCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Command timed out after %dms.\n\nExit code: 124", timeoutMs), nil
	}
	var stderr []byte
	if exitErr, ok := err.(*exec.ExitError); ok {
		stderr = exitErr.Stderr
	} else if err != nil {
		return "", fmt.Errorf("failed to execute command: %w", err)
	}

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	var b strings.Builder
	if out := truncateOutput(stdout); out != "" {
		b.WriteString(out)
	}
	if errOut := truncateOutput(stderr); errOut != "" {
		if b.Len() > 0 {
			b.WriteString("\n--- stderr ---\n")
		}
		b.WriteString(errOut)
	}
	if b.Len() == 0 {
		b.WriteString("(no output)")
	}
	fmt.Fprintf(&b, "\n\nExit code: %d", exitCode)
	return b.String(), nil
}

func truncateOutput(b []byte) string {
	if len(b) > maxOutputBytes {
		return fmt.Sprintf("%s\n\n... (output truncated at %d bytes)", string(b[:maxOutputBytes]), maxOutputBytes)
	}
	return string(b)
}
