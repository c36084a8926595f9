package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type replacement struct {
	start   int
	oldLen  int
	newLine []string
}

// Apply executes a parsed patch against files rooted at workDir, returning a
// human-readable summary line per hunk.
func Apply(hunks []Hunk, workDir string) (string, error) {
	var summary []string

	for _, h := range hunks {
		switch h.Kind {
		case AddFile:
			full := resolvePath(workDir, h.Path)
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return "", fmt.Errorf("failed to create directories for %s: %w", h.Path, err)
			}
			if err := os.WriteFile(full, []byte(h.Contents), 0o644); err != nil {
				return "", fmt.Errorf("failed to write %s: %w", h.Path, err)
			}
			summary = append(summary, fmt.Sprintf("Created %s", h.Path))

		case DeleteFile:
			full := resolvePath(workDir, h.Path)
			if err := os.Remove(full); err != nil {
				return "", fmt.Errorf("failed to delete %s: %w", h.Path, err)
			}
			summary = append(summary, fmt.Sprintf("Deleted %s", h.Path))

		case UpdateFile:
			line, err := applyUpdate(h, workDir)
			if err != nil {
				return "", err
			}
			summary = append(summary, line)
		}
	}

	return strings.Join(summary, "\n"), nil
}

func applyUpdate(h Hunk, workDir string) (string, error) {
	full := resolvePath(workDir, h.Path)
	raw, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", h.Path, err)
	}
	content := string(raw)
	hadTrailingNewline := strings.HasSuffix(content, "\n")

	fileLines := strings.Split(content, "\n")
	if hadTrailingNewline && len(fileLines) > 0 {
		fileLines = fileLines[:len(fileLines)-1]
	}

	var replacements []replacement
	cursor := 0

	for _, chunk := range h.Chunks {
		if chunk.HasContext {
			idx, ok := seekSequence(fileLines, []string{chunk.Context}, cursor, false)
			if !ok {
				return "", fmt.Errorf("could not find context line %q in %s (searched from line %d)", chunk.Context, h.Path, cursor+1)
			}
			cursor = idx + 1
		}

		if len(chunk.OldLines) == 0 {
			replacements = append(replacements, replacement{start: cursor, oldLen: 0, newLine: chunk.NewLines})
			continue
		}

		start, ok := seekSequence(fileLines, chunk.OldLines, cursor, chunk.IsEndOfFile)
		if !ok && len(chunk.OldLines) > 0 && chunk.OldLines[len(chunk.OldLines)-1] == "" {
			trimmedOld := chunk.OldLines[:len(chunk.OldLines)-1]
			trimmedNew := chunk.NewLines
			if len(trimmedNew) > 0 && trimmedNew[len(trimmedNew)-1] == "" {
				trimmedNew = trimmedNew[:len(trimmedNew)-1]
			}
			if start2, ok2 := seekSequence(fileLines, trimmedOld, cursor, chunk.IsEndOfFile); ok2 {
				start, ok = start2, true
				replacements = append(replacements, replacement{start: start, oldLen: len(trimmedOld), newLine: trimmedNew})
				cursor = start + len(trimmedOld)
				continue
			}
		}
		if !ok {
			return "", fmt.Errorf("could not match old lines in %s starting from line %d: %s", h.Path, cursor+1, previewLines(chunk.OldLines, 3))
		}

		replacements = append(replacements, replacement{start: start, oldLen: len(chunk.OldLines), newLine: chunk.NewLines})
		cursor = start + len(chunk.OldLines)
	}

	sort.Slice(replacements, func(i, j int) bool { return replacements[i].start > replacements[j].start })
	for _, r := range replacements {
		end := r.start + r.oldLen
		if end > len(fileLines) {
			end = len(fileLines)
		}
		tail := append([]string{}, fileLines[end:]...)
		fileLines = append(fileLines[:r.start], append(append([]string{}, r.newLine...), tail...)...)
	}

	// Terminate with an empty element so the joined output always ends in a
	// newline, regardless of how the input ended.
	newContent := ""
	if len(fileLines) > 0 {
		newContent = strings.Join(append(fileLines, ""), "\n")
	}

	if h.HasMove {
		destFull := resolvePath(workDir, h.MoveTo)
		if err := os.MkdirAll(filepath.Dir(destFull), 0o755); err != nil {
			return "", fmt.Errorf("failed to create directories for %s: %w", h.MoveTo, err)
		}
		if err := os.WriteFile(destFull, []byte(newContent), 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", h.MoveTo, err)
		}
		if err := os.Remove(full); err != nil {
			return "", fmt.Errorf("failed to remove original %s after move: %w", h.Path, err)
		}
		return fmt.Sprintf("Moved %s -> %s", h.Path, h.MoveTo), nil
	}

	if err := os.WriteFile(full, []byte(newContent), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", h.Path, err)
	}
	return fmt.Sprintf("Updated %s (%d chunks applied)", h.Path, len(h.Chunks)), nil
}

func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}
