// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stringutils

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes characters and removes combining marks so that
// accented characters compare equal to their base form (Shōgun → Shogun).
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeUnicode strips diacritics from s. The input is returned unchanged
// if the transform fails, which keeps the function total.
func NormalizeUnicode(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return out
}

// FoldWhitespace collapses every run of whitespace in s to a single space
// and trims the result.
func FoldWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
