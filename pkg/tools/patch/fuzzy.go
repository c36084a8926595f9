package patch

import (
	"fmt"
	"strings"
)

// seekSequence locates the earliest window starting at or after start where
// every pattern line matches the corresponding file line, trying four
// increasingly relaxed comparators in order. If eof is true, only the
// window anchored at len(lines)-len(pattern) is considered.
func seekSequence(lines, pattern []string, start int, eof bool) (int, bool) {
	if len(pattern) == 0 {
		return start, true
	}
	n := len(lines)
	p := len(pattern)
	if p > n {
		return 0, false
	}

	candidates := func() []int {
		if eof {
			anchor := n - p
			if anchor < start {
				return nil
			}
			return []int{anchor}
		}
		out := make([]int, 0, n-p-start+1)
		for i := start; i <= n-p; i++ {
			out = append(out, i)
		}
		return out
	}()

	comparators := []func(a, b string) bool{
		func(a, b string) bool { return a == b },
		func(a, b string) bool { return strings.TrimRight(a, " \t\r") == strings.TrimRight(b, " \t\r") },
		func(a, b string) bool { return strings.TrimSpace(a) == strings.TrimSpace(b) },
		func(a, b string) bool { return normalizeUnicode(strings.TrimSpace(a)) == normalizeUnicode(strings.TrimSpace(b)) },
	}

	for _, cmp := range comparators {
		for _, i := range candidates {
			if windowMatches(lines, pattern, i, cmp) {
				return i, true
			}
		}
	}
	return 0, false
}

func windowMatches(lines, pattern []string, start int, cmp func(a, b string) bool) bool {
	for j, p := range pattern {
		if !cmp(lines[start+j], p) {
			return false
		}
	}
	return true
}

var dashRunes = map[rune]bool{
	'‐': true, '‑': true, '‒': true, '–': true,
	'—': true, '―': true, '−': true,
}

var spaceRunes = map[rune]bool{
	' ': true, ' ': true, ' ': true, ' ': true,
	' ': true, ' ': true, ' ': true, ' ': true,
	' ': true, ' ': true, ' ': true, ' ': true,
	' ': true, ' ': true, '　': true,
}

// normalizeUnicode maps Unicode dashes to ASCII '-', curly quotes to their
// straight equivalents, and odd spaces to ASCII space.
func normalizeUnicode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case dashRunes[r]:
			b.WriteRune('-')
		case r == '‘' || r == '’' || r == '‛':
			b.WriteRune('\'')
		case r == '“' || r == '”' || r == '‟':
			b.WriteRune('"')
		case spaceRunes[r]:
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func previewLines(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[:n]
	}
	return fmt.Sprintf("%q", lines)
}
