// Package logclean turns raw terminal captures into plain text suitable for
// logging, capture extraction and expression evaluation.
package logclean

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Clean applies the capture pipeline: ANSI escape sequences are removed,
// carriage-return overwrites and backspaces are replayed, remaining control
// characters are dropped and whitespace is normalized.
func Clean(s string) string {
	s = StripANSI(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = Overwrites(s)
	s = Backspaces(s)
	s = ControlChars(s)
	return Whitespace(s)
}

// StripANSI removes CSI, OSC and other escape sequences.
func StripANSI(s string) string {
	if !strings.ContainsRune(s, '\x1b') && !strings.ContainsRune(s, '\u009b') {
		return s
	}
	return ansi.Strip(s)
}

// Overwrites replays bare carriage returns within each line: text after a
// '\r' overwrites the start of the line, the way a terminal shows progress
// bars. Expects "\r\n" to be normalized already.
func Overwrites(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if !strings.ContainsRune(line, '\r') {
			continue
		}
		var screen []rune
		for _, seg := range strings.Split(line, "\r") {
			rs := []rune(seg)
			if len(rs) >= len(screen) {
				screen = rs
				continue
			}
			copy(screen, rs)
		}
		lines[i] = string(screen)
	}
	return strings.Join(lines, "\n")
}

// Backspaces applies BS and DEL by deleting the preceding rune.
func Backspaces(s string) string {
	if !strings.ContainsAny(s, "\b\x7f") {
		return s
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\b' || r == '\x7f' {
			if len(out) > 0 && out[len(out)-1] != '\n' {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// ControlChars drops C0 controls other than newline and tab, and DEL.
func ControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if (r < 0x20 && r != '\n' && r != '\t') || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

var (
	multiSpace   = regexp.MustCompile(` {2,}`)
	multiNewline = regexp.MustCompile(`\n{3,}`)
)

// Whitespace collapses runs of spaces, limits blank lines to one, trims
// every line and the result.
func Whitespace(s string) string {
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

var (
	isoTimestamp  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})`)
	unixTimestamp = regexp.MustCompile(`\b\d{10,13}\b`)
	relativeTime  = regexp.MustCompile(`\b\d+\s*(?:second|sec|minute|min|hour|hr|day|week|month|year)s?\s+ago\b`)
)

// Timestamps replaces RFC 3339 and unix timestamps with [TIMESTAMP] and
// relative times ("5 minutes ago") with [RELATIVE_TIME]. Used to compare
// outputs of different runs.
func Timestamps(s string) string {
	s = isoTimestamp.ReplaceAllString(s, "[TIMESTAMP]")
	s = unixTimestamp.ReplaceAllString(s, "[TIMESTAMP]")
	return relativeTime.ReplaceAllString(s, "[RELATIVE_TIME]")
}

// Comparable is Clean followed by Timestamps.
func Comparable(s string) string { return Timestamps(Clean(s)) }
