package chunker

import (
	"regexp"
	"strings"
)

var (
	pageNumberLine = regexp.MustCompile(`(?i)^(?:page\s+)?-?\s*\d{1,4}\s*-?(?:\s*(?:of|/)\s*\d{1,4})?$`)

	numberedHeading = regexp.MustCompile(`^\d+(?:\.\d+)*\.?\s+[A-Z].*$`)
	capsHeading     = regexp.MustCompile(`^[A-Z][A-Z\s]+$`)
	titleHeading    = regexp.MustCompile(`^[A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,8}$`)
)

const (
	minHeadingLen = 5
	maxHeadingLen = 100
)

// CleanText normalises whitespace per line, drops lines that are only a page
// number, and collapses runs of blank lines to one paragraph break.
func CleanText(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" && pageNumberLine.MatchString(line) {
			continue
		}
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// IsHeading reports whether a cleaned line looks like a section heading.
func IsHeading(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) < minHeadingLen || len(line) > maxHeadingLen {
		return false
	}
	if strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") {
		return false
	}
	switch {
	case numberedHeading.MatchString(line):
		return true
	case capsHeading.MatchString(line):
		return len(strings.Fields(line)) <= 12
	case titleHeading.MatchString(line):
		return true
	}
	return false
}
