package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxDirEntries  = 500
	maxNameLength  = 500
)

// ListDirSchema is the input schema exposed to the LLM for list_dir.
var ListDirSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"dir_path": map[string]interface{}{"type": "string", "description": "Directory to list"},
		"depth":    map[string]interface{}{"type": "integer", "description": "BFS traversal depth (default 2)"},
	},
	"required": []string{"dir_path"},
}

type dirEntryRow struct {
	depth  int
	name   string
	suffix string
}

// RunListDir lists directory entries via BFS traversal with a depth limit,
// marking directories with "/" and symlinks with "@".
func RunListDir(_ context.Context, workDir string, input map[string]interface{}) (string, error) {
	dirPath, _ := input["dir_path"].(string)
	if dirPath == "" {
		return "", fmt.Errorf("list_dir requires 'dir_path' string")
	}
	depth := intArg(input, "depth", 2)
	if depth == 0 {
		depth = 2
	}

	full := dirPath
	if !filepath.IsAbs(dirPath) {
		full = filepath.Join(workDir, dirPath)
	}

	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", full)
	}

	type queued struct {
		path  string
		depth int
	}
	queue := []queued{{full, 0}}
	var entries []dirEntryRow

	for len(queue) > 0 {
		if len(entries) >= maxDirEntries {
			break
		}
		cur := queue[0]
		queue = queue[1:]

		children, err := os.ReadDir(cur.path)
		if err != nil {
			continue
		}
		sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })

		for _, child := range children {
			if len(entries) >= maxDirEntries {
				break
			}
			name := child.Name()
			display := name
			if len(display) > maxNameLength {
				display = display[:maxNameLength] + "..."
			}

			suffix := ""
			if child.Type()&os.ModeSymlink != 0 {
				suffix = "@"
			} else if child.IsDir() {
				suffix = "/"
			}

			entries = append(entries, dirEntryRow{depth: cur.depth, name: display, suffix: suffix})

			if child.IsDir() && suffix != "@" && cur.depth+1 < depth {
				queue = append(queue, queued{filepath.Join(cur.path, name), cur.depth + 1})
			}
		}
	}

	if len(entries) == 0 {
		return "(empty directory)", nil
	}

	var out []string
	for _, e := range entries {
		out = append(out, strings.Repeat("  ", e.depth)+e.name+e.suffix)
	}
	if len(entries) >= maxDirEntries {
		out = append(out, fmt.Sprintf("\n... (truncated at %d entries)", maxDirEntries))
	}
	return strings.Join(out, "\n"), nil
}
