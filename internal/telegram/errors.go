// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package telegram

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrChannelNotFound is returned by Resolve when no strategy could turn
	// the identifier into a channel the session can see.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrCodeRejected is returned when the interactive login code was wrong.
	ErrCodeRejected = errors.New("login code rejected")
	// ErrRenameUnsupported is returned by Rename on adapters that cannot
	// change a file's name attribute without re-sending content.
	ErrRenameUnsupported = errors.New("in-place rename not supported")
)

// FloodWaitError is the structured rate-limit signal. Adapters translate the
// platform's native throttling errors into this type at the boundary; the
// core never inspects error strings.
type FloodWaitError struct {
	RetryAfter time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// AsFloodWait unwraps err into a FloodWaitError if one is in the chain.
func AsFloodWait(err error) (*FloodWaitError, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw, true
	}
	return nil, false
}
