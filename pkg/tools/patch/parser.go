// Package patch implements the structured-edit patch format: a text blob
// describing file additions, deletions, and fuzzy line-range updates,
// applied with a four-level fallback matcher.
package patch

import (
	"fmt"
	"strings"
)

// Chunk is one `@@`-delimited edit within an UpdateFile hunk.
type Chunk struct {
	Context     string
	HasContext  bool
	OldLines    []string
	NewLines    []string
	IsEndOfFile bool
}

// Hunk is one top-level patch operation.
type Hunk struct {
	Kind     HunkKind
	Path     string
	Contents string // AddFile
	MoveTo   string // UpdateFile, optional
	HasMove  bool
	Chunks   []Chunk // UpdateFile
}

// HunkKind discriminates the Hunk variants.
type HunkKind int

const (
	AddFile HunkKind = iota
	DeleteFile
	UpdateFile
)

const (
	beginMarker   = "*** Begin Patch"
	endMarker     = "*** End Patch"
	addPrefix     = "*** Add File: "
	deletePrefix  = "*** Delete File: "
	updatePrefix  = "*** Update File: "
	movePrefix    = "*** Move to: "
	endOfFileLine = "*** End of File"
)

// Parse reads the patch grammar into an ordered list of hunks.
func Parse(input string) ([]Hunk, error) {
	lines := strings.Split(input, "\n")
	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) != beginMarker {
		i++
	}
	if i >= len(lines) {
		return nil, fmt.Errorf("missing '*** Begin Patch' header")
	}
	i++

	var hunks []Hunk
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.TrimSpace(line) == endMarker:
			i = len(lines)

		case strings.HasPrefix(line, addPrefix):
			path := strings.TrimSpace(strings.TrimPrefix(line, addPrefix))
			i++
			var contentLines []string
			for i < len(lines) && strings.HasPrefix(lines[i], "+") {
				contentLines = append(contentLines, lines[i][1:])
				i++
			}
			hunks = append(hunks, Hunk{Kind: AddFile, Path: path, Contents: strings.Join(contentLines, "\n")})

		case strings.HasPrefix(line, deletePrefix):
			path := strings.TrimSpace(strings.TrimPrefix(line, deletePrefix))
			hunks = append(hunks, Hunk{Kind: DeleteFile, Path: path})
			i++

		case strings.HasPrefix(line, updatePrefix):
			path := strings.TrimSpace(strings.TrimPrefix(line, updatePrefix))
			i++

			var moveTo string
			hasMove := false
			if i < len(lines) && strings.HasPrefix(lines[i], movePrefix) {
				moveTo = strings.TrimSpace(strings.TrimPrefix(lines[i], movePrefix))
				hasMove = true
				i++
			}

			var chunks []Chunk
			for i < len(lines) && !strings.HasPrefix(lines[i], "*** ") {
				if strings.HasPrefix(lines[i], "@@") {
					ctx := strings.TrimPrefix(lines[i], "@@ ")
					ctx = strings.TrimPrefix(ctx, "@@")
					hasContext := ctx != ""
					i++

					var oldLines, newLines []string
					isEOF := false
					for i < len(lines) && !strings.HasPrefix(lines[i], "@@") {
						l := lines[i]
						if l == endOfFileLine {
							isEOF = true
							i++
							break
						}
						if strings.HasPrefix(l, "*** ") {
							break
						}
						switch {
						case strings.HasPrefix(l, "-"):
							oldLines = append(oldLines, l[1:])
						case strings.HasPrefix(l, "+"):
							newLines = append(newLines, l[1:])
						case strings.HasPrefix(l, " "):
							rest := l[1:]
							oldLines = append(oldLines, rest)
							newLines = append(newLines, rest)
						default:
							oldLines = append(oldLines, l)
							newLines = append(newLines, l)
						}
						i++
					}
					chunks = append(chunks, Chunk{
						Context:     ctx,
						HasContext:  hasContext,
						OldLines:    oldLines,
						NewLines:    newLines,
						IsEndOfFile: isEOF,
					})
				} else {
					i++
				}
			}

			hunks = append(hunks, Hunk{Kind: UpdateFile, Path: path, MoveTo: moveTo, HasMove: hasMove, Chunks: chunks})

		default:
			i++
		}
	}

	if len(hunks) == 0 {
		return nil, fmt.Errorf("no valid hunks found in patch")
	}
	return hunks, nil
}
