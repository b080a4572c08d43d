package foreman

import (
	"regexp"
	"strings"
)

// Markers the CLI prints.
const (
	FailMarker    = "FAIL"
	WarningMarker = "WARNING"

	tagOpen  = "\x1b[36m["
	tagClose = "]\x1b[0m"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// ParseTags extracts tag names from `health list-tags` output, where each
// tag is printed bracketed in cyan. Order is preserved; duplicates are dropped.
func ParseTags(stdout string) []string {
	parts := strings.Split(stdout, tagOpen)
	var tags []string
	seen := make(map[string]bool)
	// parts[0] precedes the first tag.
	for _, p := range parts[1:] {
		tag, _, _ := strings.Cut(p, tagClose)
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// HasFailure reports whether any check failed.
func HasFailure(stdout string) bool {
	return strings.Contains(stdout, FailMarker)
}

// HasWarning reports whether any check emitted a warning.
func HasWarning(stdout string) bool {
	return strings.Contains(stdout, WarningMarker)
}

// FailureLines returns the lines reporting failures, escapes stripped.
func FailureLines(stdout string) []string {
	return linesWith(stdout, FailMarker)
}

// WarningLines returns the lines reporting warnings, escapes stripped.
func WarningLines(stdout string) []string {
	return linesWith(stdout, WarningMarker)
}

func linesWith(stdout, marker string) []string {
	var out []string
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.Contains(line, marker) {
			continue
		}
		// The CLI redraws progress lines with carriage returns; keep the
		// final state.
		if i := strings.LastIndex(line, "\r"); i >= 0 && strings.Contains(line[i:], marker) {
			line = line[i+1:]
		}
		line = strings.TrimSpace(StripANSI(line))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
