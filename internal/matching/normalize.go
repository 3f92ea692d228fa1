// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matching

import (
	"regexp"
	"strings"

	"github.com/autobrr/mvbrr/pkg/stringutils"
)

// separatorRun matches the filename punctuation we treat as interchangeable
// with spaces: brackets, parens, dashes, underscores and dots.
var separatorRun = regexp.MustCompile(`[\[\]()\-_.]+`)

// NormalizeName converts a display name into its canonical comparable form:
// surrounding whitespace trimmed, diacritics stripped, case folded, and
// separator punctuation collapsed to single spaces. The function is total and
// idempotent, so two names that differ only in casing, accents or separator
// style normalize to the same key.
func NormalizeName(name string) string {
	s := strings.TrimSpace(name)
	s = stringutils.NormalizeUnicode(s)
	s = strings.ToLower(s)
	s = separatorRun.ReplaceAllString(s, " ")
	return stringutils.FoldWhitespace(s)
}
