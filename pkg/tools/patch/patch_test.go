package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	full := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return full
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestParseMissingBeginHeader(t *testing.T) {
	_, err := Parse("*** Add File: a.txt\n+hello\n*** End Patch\n")
	if err == nil {
		t.Fatal("expected error for missing begin header")
	}
}

func TestParseEmptyHunks(t *testing.T) {
	_, err := Parse("*** Begin Patch\n*** End Patch\n")
	if err == nil {
		t.Fatal("expected error for empty hunk list")
	}
}

func TestAddFile(t *testing.T) {
	dir := t.TempDir()
	patchText := "*** Begin Patch\n*** Add File: new.txt\n+line one\n+line two\n*** End Patch\n"

	hunks, err := Parse(patchText)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := Apply(hunks, dir); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	got := readFile(t, filepath.Join(dir, "new.txt"))
	if got != "line one\nline two" {
		t.Fatalf("got %q", got)
	}
}

func TestDeleteFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gone.txt", "bye\n")
	patchText := "*** Begin Patch\n*** Delete File: gone.txt\n*** End Patch\n"

	hunks, err := Parse(patchText)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := Apply(hunks, dir); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gone.txt")); !os.IsNotExist(err) {
		t.Fatal("expected file to be deleted")
	}
}

func TestUpdateFileExactMatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "f.go", "package main\n\nfunc Foo() {\n\treturn\n}\n")
	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Update File: f.go",
		"@@ func Foo() {",
		"-\treturn",
		"+\treturn nil",
		"*** End Patch",
		"",
	}, "\n")

	hunks, err := Parse(patchText)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := Apply(hunks, dir); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	got := readFile(t, filepath.Join(dir, "f.go"))
	if !strings.Contains(got, "return nil") {
		t.Fatalf("update not applied: %q", got)
	}
}

func TestUpdateFileFuzzyTrailingWhitespace(t *testing.T) {
	dir := t.TempDir()
	// file has trailing whitespace that the patch's old_lines lack.
	writeFile(t, dir, "f.txt", "alpha\nbeta   \ngamma\n")
	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Update File: f.txt",
		"@@",
		"-beta",
		"+BETA",
		"*** End Patch",
		"",
	}, "\n")

	hunks, err := Parse(patchText)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := Apply(hunks, dir); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	got := readFile(t, filepath.Join(dir, "f.txt"))
	if !strings.Contains(got, "BETA") {
		t.Fatalf("update not applied: %q", got)
	}
}

func TestUpdateFileFuzzyUnicodeNormalization(t *testing.T) {
	dir := t.TempDir()
	// file uses a curly quote and an em dash that the patch spells ASCII.
	writeFile(t, dir, "f.txt", "title: it’s a test — done\nnext line\n")
	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Update File: f.txt",
		"@@",
		"-title: it's a test - done",
		"+title: replaced",
		"*** End Patch",
		"",
	}, "\n")

	hunks, err := Parse(patchText)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := Apply(hunks, dir); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	got := readFile(t, filepath.Join(dir, "f.txt"))
	if !strings.Contains(got, "title: replaced") {
		t.Fatalf("update not applied via unicode fallback: %q", got)
	}
}

func TestUpdateFileContextThenOldLines(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "f.txt", "one\ntwo\nthree\nfour\n")
	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Update File: f.txt",
		"@@ two",
		" three",
		"-four",
		"+FOUR",
		"*** End Patch",
		"",
	}, "\n")

	hunks, err := Parse(patchText)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := Apply(hunks, dir); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	got := readFile(t, filepath.Join(dir, "f.txt"))
	if got != "one\ntwo\nthree\nFOUR\n" {
		t.Fatalf("got %q", got)
	}
}

func TestUpdateFileMultipleChunksReverseOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "f.txt", "one\ntwo\nthree\nfour\nfive\n")
	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Update File: f.txt",
		"@@",
		"-one",
		"+ONE",
		"@@",
		"-four",
		"+FOUR",
		"*** End Patch",
		"",
	}, "\n")

	hunks, err := Parse(patchText)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := Apply(hunks, dir); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	got := readFile(t, filepath.Join(dir, "f.txt"))
	if got != "ONE\ntwo\nthree\nFOUR\nfive\n" {
		t.Fatalf("got %q", got)
	}
}

func TestUpdateFileMoveTo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "old/path.txt", "content\n")
	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Update File: old/path.txt",
		"*** Move to: new/path.txt",
		"@@",
		"-content",
		"+updated content",
		"*** End Patch",
		"",
	}, "\n")

	hunks, err := Parse(patchText)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := Apply(hunks, dir); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "old/path.txt")); !os.IsNotExist(err) {
		t.Fatal("expected original file removed after move")
	}
	got := readFile(t, filepath.Join(dir, "new/path.txt"))
	if got != "updated content\n" {
		t.Fatalf("got %q", got)
	}
}

func TestUpdateFileNoSuchOldLinesErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "f.txt", "a\nb\nc\n")
	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Update File: f.txt",
		"@@",
		"-does not exist",
		"+replacement",
		"*** End Patch",
		"",
	}, "\n")

	hunks, err := Parse(patchText)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := Apply(hunks, dir); err == nil {
		t.Fatal("expected error for unmatched old_lines")
	}
}

func TestUpdateFileEndOfFileAnchor(t *testing.T) {
	dir := t.TempDir()
	// "a" appears twice; the End of File marker anchors the match to the
	// last occurrence instead of the first.
	writeFile(t, dir, "f.txt", "a\nb\na\n")
	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Update File: f.txt",
		"@@",
		"-a",
		"+LAST",
		"*** End of File",
		"*** End Patch",
		"",
	}, "\n")

	hunks, err := Parse(patchText)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(hunks) != 1 || len(hunks[0].Chunks) != 1 || !hunks[0].Chunks[0].IsEndOfFile {
		t.Fatalf("end-of-file flag not parsed: %+v", hunks)
	}
	if _, err := Apply(hunks, dir); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	got := readFile(t, filepath.Join(dir, "f.txt"))
	if got != "a\nb\nLAST\n" {
		t.Fatalf("got %q", got)
	}
}

func TestUpdateFileContextWithTrimEndMatch(t *testing.T) {
	dir := t.TempDir()
	// The context line matches exactly; the old line after it carries
	// trailing spaces in the file but not in the patch, so the trim-end
	// comparator must locate it.
	writeFile(t, dir, "f.txt", "foo\nbar  \nbaz\n")
	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Update File: f.txt",
		"@@ foo",
		"-bar",
		"+BAR",
		"*** End Patch",
		"",
	}, "\n")

	hunks, err := Parse(patchText)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := Apply(hunks, dir); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	got := readFile(t, filepath.Join(dir, "f.txt"))
	if got != "foo\nBAR\nbaz\n" {
		t.Fatalf("got %q", got)
	}
}

func TestSeekSequenceLevels(t *testing.T) {
	lines := []string{"exact", "trail  ", "  padded  ", "it’s — here"}

	if i, ok := seekSequence(lines, []string{"exact"}, 0, false); !ok || i != 0 {
		t.Fatalf("exact match failed: %d %v", i, ok)
	}
	if i, ok := seekSequence(lines, []string{"trail"}, 0, false); !ok || i != 1 {
		t.Fatalf("trim-end match failed: %d %v", i, ok)
	}
	if i, ok := seekSequence(lines, []string{"padded"}, 0, false); !ok || i != 2 {
		t.Fatalf("trim match failed: %d %v", i, ok)
	}
	if i, ok := seekSequence(lines, []string{"it's - here"}, 0, false); !ok || i != 3 {
		t.Fatalf("unicode-normalize match failed: %d %v", i, ok)
	}
	if _, ok := seekSequence(lines, []string{"absent"}, 0, false); ok {
		t.Fatal("expected no match")
	}
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.txt", "hello\n")
	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Update File: x.txt",
		"@@",
		"-hello",
		"+goodbye",
		"*** End Patch",
		"",
	}, "\n")

	out, err := Run(nil, dir, map[string]interface{}{"patch": patchText})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Updated x.txt") {
		t.Fatalf("got %q", out)
	}
	got := readFile(t, filepath.Join(dir, "x.txt"))
	if got != "goodbye\n" {
		t.Fatalf("got %q", got)
	}
}
