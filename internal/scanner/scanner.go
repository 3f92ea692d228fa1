// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scanner walks a source channel's history backward and reconciles
// every file-bearing message against the rename lookup tables.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/mvbrr/internal/matching"
	"github.com/autobrr/mvbrr/internal/telegram"
)

const (
	// DefaultPageSize is how many messages one history page requests.
	DefaultPageSize = 200
	// DefaultPageDelay is the pause between page fetches so a long scan does
	// not hammer the platform.
	DefaultPageDelay = 250 * time.Millisecond

	// observedSampleCap bounds how many observed file names are kept for
	// "did you mean" suggestions on not-found items.
	observedSampleCap = 512

	pageFetchAttempts = 3
	pageFetchDelay    = 500 * time.Millisecond
)

// Stats summarizes one scan.
type Stats struct {
	// Scanned counts file-bearing messages examined.
	Scanned int
	// TierHits counts retained matches per tier.
	TierHits map[matching.Tier]int
	// ObservedNames is a bounded sample of file names seen during the scan,
	// newest first.
	ObservedNames []string
}

// Scanner pages backward through channel history. One instance serves one
// job; it holds no mutable state between Scan calls.
type Scanner struct {
	client    telegram.Client
	pageSize  int
	pageDelay time.Duration
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithPageSize overrides the history page size.
func WithPageSize(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithPageDelay overrides the inter-page pacing delay.
func WithPageDelay(d time.Duration) Option {
	return func(s *Scanner) {
		if d >= 0 {
			s.pageDelay = d
		}
	}
}

// New creates a Scanner over the given client.
func New(client telegram.Client, opts ...Option) *Scanner {
	s := &Scanner{
		client:    client,
		pageSize:  DefaultPageSize,
		pageDelay: DefaultPageDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan pages backward from the newest message until every old name in the
// index has a found item, a page comes back empty, or history is exhausted.
// The first (newest) occurrence of a name wins; later duplicates are ignored.
// Individual messages never fail a scan - only the page fetch itself is
// fatal, because the cursor cannot safely advance past a failed page.
func (s *Scanner) Scan(ctx context.Context, ch telegram.Channel, idx *matching.Index, progress func(string)) (map[string]telegram.Message, *Stats, error) {
	logger := log.Ctx(ctx)
	stats := &Stats{TierHits: make(map[matching.Tier]int)}
	found := make(map[string]telegram.Message, idx.Len())

	var before int64 // 0 = start at newest
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		page, err := s.fetchPage(ctx, ch, before)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching history page before %d: %w", before, err)
		}
		if len(page) == 0 {
			break
		}

		oldest := page[0].ID
		for _, msg := range page {
			if msg.ID < oldest {
				oldest = msg.ID
			}
			if msg.File == nil || msg.File.Name == "" {
				continue
			}

			stats.Scanned++
			if len(stats.ObservedNames) < observedSampleCap {
				stats.ObservedNames = append(stats.ObservedNames, msg.File.Name)
			}
			if stats.Scanned%100 == 0 && progress != nil {
				progress(fmt.Sprintf("scanned %d files, found %d/%d so far", stats.Scanned, len(found), idx.Len()))
			}

			res := idx.Resolve(msg.File.Name)
			if res.Tier == matching.TierNone {
				continue
			}
			if _, taken := found[res.OldName]; taken {
				continue
			}

			found[res.OldName] = msg
			stats.TierHits[res.Tier]++
			logger.Debug().
				Str("file", msg.File.Name).
				Str("oldName", res.OldName).
				Str("tier", string(res.Tier)).
				Int64("messageID", msg.ID).
				Msg("Matched file in source channel")
			if progress != nil {
				progress(fmt.Sprintf("found [%d/%d] via %s: %s", len(found), idx.Len(), res.Tier, msg.File.Name))
			}

			if len(found) == idx.Len() {
				logger.Debug().Int("scanned", stats.Scanned).Msg("All requested files found, stopping scan early")
				return found, stats, nil
			}
		}

		if oldest <= 1 {
			break // reached the beginning of history
		}
		before = oldest

		if err := s.pause(ctx); err != nil {
			return nil, nil, err
		}
	}

	logger.Debug().
		Int("scanned", stats.Scanned).
		Int("found", len(found)).
		Int("requested", idx.Len()).
		Msg("Scan exhausted channel history")
	return found, stats, nil
}

// fetchPage retries transient page-fetch failures a bounded number of times.
// Rate-limit signals and cancellations are not retried here; they surface to
// the caller untouched.
func (s *Scanner) fetchPage(ctx context.Context, ch telegram.Channel, before int64) ([]telegram.Message, error) {
	var page []telegram.Message
	err := retry.Do(
		func() error {
			var err error
			page, err = s.client.History(ctx, ch, s.pageSize, before)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(pageFetchAttempts),
		retry.Delay(pageFetchDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if _, rateLimited := telegram.AsFloodWait(err); rateLimited {
				return false
			}
			return ctx.Err() == nil
		}),
	)
	return page, err
}

func (s *Scanner) pause(ctx context.Context) error {
	if s.pageDelay == 0 {
		return nil
	}
	timer := time.NewTimer(s.pageDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
