package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxLineLength = 500

// ReadFileSchema is the input schema exposed to the LLM for read_file.
var ReadFileSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"file_path": map[string]interface{}{"type": "string", "description": "Absolute or relative file path"},
		"offset":    map[string]interface{}{"type": "integer", "description": "1-indexed line to start from"},
		"limit":     map[string]interface{}{"type": "integer", "description": "Maximum number of lines to return"},
	},
	"required": []string{"file_path"},
}

// RunReadFile reads a file with 1-indexed line numbers, formatted as
// "L<n>: <content>", honoring an offset/limit window.
func RunReadFile(_ context.Context, workDir string, input map[string]interface{}) (string, error) {
	path, _ := input["file_path"].(string)
	if path == "" {
		return "", fmt.Errorf("read_file requires 'file_path' string")
	}
	offset := intArg(input, "offset", 1)
	if offset == 0 {
		offset = 1
	}
	limit := intArg(input, "limit", 2000)
	if limit == 0 {
		limit = 2000
	}

	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(workDir, path)
	}

	f, err := os.Open(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", full, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var collected []string
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if len(collected) >= limit {
			break
		}
		collected = append(collected, fmt.Sprintf("L%d: %s", lineNum, formatLine(scanner.Text())))
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", full, err)
	}

	if lineNum > 0 && lineNum < offset {
		return "", fmt.Errorf("offset %d exceeds file length (%d lines)", offset, lineNum)
	}
	if len(collected) == 0 {
		return "(empty file)", nil
	}
	return strings.Join(collected, "\n"), nil
}

func formatLine(s string) string {
	if len(s) > maxLineLength {
		end := maxLineLength
		for end > 0 && !isUTF8Boundary(s, end) {
			end--
		}
		return s[:end] + "..."
	}
	return s
}

func isUTF8Boundary(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}

func intArg(input map[string]interface{}, key string, def int) int {
	if v, ok := input[key].(float64); ok {
		return int(v)
	}
	return def
}
