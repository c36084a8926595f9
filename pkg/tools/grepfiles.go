package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	grepDefaultLimit = 100
	grepMaxLimit     = 2000
	grepTimeout      = 30 * time.Second
)

// GrepFilesSchema is the input schema exposed to the LLM for grep_files.
var GrepFilesSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"pattern": map[string]interface{}{"type": "string", "description": "Regex pattern to search for"},
		"include": map[string]interface{}{"type": "string", "description": "Glob to filter filenames"},
		"path":    map[string]interface{}{"type": "string", "description": "Directory or file to search"},
	},
	"required": []string{"pattern"},
}

// RunGrepFiles searches for files matching a regex, preferring ripgrep and
// falling back to grep, returning matching paths sorted by modification
// time (most recent first).
func RunGrepFiles(ctx context.Context, workDir string, input map[string]interface{}) (string, error) {
	pattern, _ := input["pattern"].(string)
	if pattern == "" {
		return "", fmt.Errorf("grep_files requires 'pattern' string")
	}
	include, _ := input["include"].(string)
	searchPath, _ := input["path"].(string)

	dir := searchPath
	if dir == "" {
		dir = workDir
	}
	full := dir
	if !filepath.IsAbs(dir) {
		full = filepath.Join(workDir, dir)
	}
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("path does not exist: %s", full)
	}

	limit := grepDefaultLimit
	timeoutCtx, cancel := context.WithTimeout(ctx, grepTimeout)
	defer cancel()

	files, err := tryRipgrep(timeoutCtx, pattern, include, full, limit)
	if err != nil {
		files, err = tryGrep(timeoutCtx, pattern, include, full, limit)
		if err != nil {
			return "", err
		}
	}

	if len(files) == 0 {
		return "No matches found.", nil
	}
	mtimes := make(map[string]time.Time, len(files))
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			mtimes[f] = info.ModTime()
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return mtimes[files[i]].After(mtimes[files[j]]) })
	return strings.Join(files, "\n"), nil
}

func tryRipgrep(ctx context.Context, pattern, include, path string, limit int) ([]string, error) {
	args := []string{"--files-with-matches", "--sortr=modified", "--max-count=1"}
	if include != "" {
		args = append(args, "--glob", include)
	}
	args = append(args, pattern, path)

	out, exitCode, err := runCapped(ctx, "rg", args)
	if err != nil {
		return nil, err
	}
	switch exitCode {
	case 0:
		return splitLimited(out, limit), nil
	case 1:
		return nil, nil
	default:
		return nil, fmt.Errorf("rg failed: %s", out)
	}
}

func tryGrep(ctx context.Context, pattern, include, path string, limit int) ([]string, error) {
	args := []string{"-rl"}
	if include != "" {
		args = append(args, "--include", include)
	}
	args = append(args, pattern, path)

	out, exitCode, err := runCapped(ctx, "grep", args)
	if err != nil {
		return nil, err
	}
	switch exitCode {
	case 0:
		return splitLimited(out, limit), nil
	case 1:
		return nil, nil
	default:
		return nil, fmt.Errorf("grep failed: %s", out)
	}
}

func runCapped(ctx context.Context, name string, args []string) (stdout string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", -1, fmt.Errorf("search timed out")
	}
	if runErr == nil {
		return outBuf.String(), 0, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		if exitErr.ExitCode() == 1 {
			return "", 1, nil
		}
		return errBuf.String(), exitErr.ExitCode(), nil
	}
	return "", -1, fmt.Errorf("failed to run %s: %w", name, runErr)
}

func splitLimited(out string, limit int) []string {
	if limit <= 0 || limit > grepMaxLimit {
		limit = grepMaxLimit
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if len(lines) > limit {
		lines = lines[:limit]
	}
	return lines
}
