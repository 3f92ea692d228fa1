// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matching

import (
	"regexp"
	"strconv"
	"strings"
)

// episodePatterns are tried in order against the lower-cased name; the first
// pattern that matches wins. Explicit episode markers rank above the bare
// S..E.. form, which ranks above a bare "eN" token, with a bare 2-3 digit
// token as the last resort. The last pattern requires word boundaries on both
// sides, so a 4-digit resolution tag like "1080" never yields a partial
// capture, but 3-digit tags like "720" remain a known false-positive source.
var episodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bepisode[\s._-]*(\d{1,4})\b`),
	regexp.MustCompile(`\bep[\s._-]*(\d{1,4})\b`),
	regexp.MustCompile(`\bs\d{1,3}[\s._-]*e(\d{1,4})\b`),
	regexp.MustCompile(`\be(\d{1,4})\b`),
	regexp.MustCompile(`\b(\d{2,3})\b`),
}

// ExtractEpisode pulls an episode number out of a display name. The second
// return value is false when no pattern matched.
func ExtractEpisode(name string) (int, bool) {
	lowered := strings.ToLower(strings.TrimSpace(name))
	if lowered == "" {
		return 0, false
	}

	for _, pattern := range episodePatterns {
		m := pattern.FindStringSubmatch(lowered)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 0 {
			continue
		}
		return n, true
	}

	return 0, false
}
