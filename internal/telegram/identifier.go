// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package telegram

import (
	"regexp"
	"strconv"
	"strings"
)

// IdentifierKind classifies a raw channel identifier.
type IdentifierKind int

const (
	// IdentifierLink is a t.me or invite link, passed through verbatim.
	IdentifierLink IdentifierKind = iota
	// IdentifierNumeric is a numeric channel or chat ID, optionally carrying
	// the platform's -100 supergroup prefix.
	IdentifierNumeric
	// IdentifierUsername is an @username (the @ is added when missing).
	IdentifierUsername
	// IdentifierRaw is anything else; adapters get a last-effort attempt.
	IdentifierRaw
)

// supergroupOffset is the value the platform folds into channel IDs when it
// prefixes them with -100: -100xxxxxxxxxx is 10^12 plus the bare channel ID.
const supergroupOffset = 1_000_000_000_000

var (
	numericRe  = regexp.MustCompile(`^-?\d+$`)
	usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,}$`)
)

// Identifier is a classified channel identifier. Adapters use the kind to
// pick a resolution strategy and fall back through the remaining ones.
type Identifier struct {
	Kind IdentifierKind
	// Value is the normalized identifier: the link, the numeric string, or
	// the @-prefixed username.
	Value string
	// NumericID is set for IdentifierNumeric.
	NumericID int64
}

// ParseIdentifier classifies a user-supplied channel identifier. It accepts
// @username, bare username, numeric IDs with or without the -100 prefix, and
// t.me / invite links.
func ParseIdentifier(raw string) Identifier {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "t.me/") {
		return Identifier{Kind: IdentifierLink, Value: raw}
	}

	if numericRe.MatchString(raw) {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			return Identifier{Kind: IdentifierNumeric, Value: raw, NumericID: n}
		}
	}

	if strings.HasPrefix(raw, "@") {
		return Identifier{Kind: IdentifierUsername, Value: raw}
	}
	if usernameRe.MatchString(raw) {
		return Identifier{Kind: IdentifierUsername, Value: "@" + raw}
	}

	return Identifier{Kind: IdentifierRaw, Value: raw}
}

// BareChannelID strips the -100 supergroup prefix from a numeric identifier,
// returning the ID the platform's peer constructors expect.
func (id Identifier) BareChannelID() int64 {
	abs := id.NumericID
	if abs < 0 {
		abs = -abs
	}
	if abs > supergroupOffset {
		return abs - supergroupOffset
	}
	return abs
}
