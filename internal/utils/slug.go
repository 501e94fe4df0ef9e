package utils

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	slugInvalidChars = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces       = regexp.MustCompile(`\s+`)
	slugDashes       = regexp.MustCompile(`-+`)
)

// DefaultSlug is used when a title has no URL-safe characters at all.
const DefaultSlug = "project"

// Slugify turns a title into a lowercase, URL-safe slug of at most maxLen
// bytes. The result is deterministic for a given input.
func Slugify(title string, maxLen int) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugInvalidChars.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if maxLen > 0 && len(s) > maxLen {
		s = strings.TrimRight(s[:maxLen], "-")
	}
	if s == "" {
		return DefaultSlug
	}
	return s
}

// SlugCandidate returns the slug to try on the given attempt: the base on
// attempt 1, then base-2, base-3 and so on, trimming the base so the
// suffixed slug still fits in maxLen.
func SlugCandidate(base string, attempt, maxLen int) string {
	if attempt <= 1 {
		return base
	}
	suffix := "-" + strconv.Itoa(attempt)
	if maxLen > 0 && len(base)+len(suffix) > maxLen {
		cut := maxLen - len(suffix)
		if cut < 1 {
			cut = 1
		}
		if cut < len(base) {
			base = strings.TrimRight(base[:cut], "-")
		}
	}
	return base + suffix
}
