// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/mvbrr/internal/matching"
	"github.com/autobrr/mvbrr/internal/metrics"
	"github.com/autobrr/mvbrr/internal/scanner"
	"github.com/autobrr/mvbrr/internal/telegram"
	"github.com/autobrr/mvbrr/internal/transfer"
)

const (
	// DefaultPacing is the pause between per-item platform mutations.
	DefaultPacing = 2 * time.Second
	// DefaultFloodMargin is added on top of the platform's requested
	// rate-limit wait before the single retry.
	DefaultFloodMargin = 10 * time.Second

	suggestionLimit = 3
)

// errCancelled marks a run aborted at a cancellation checkpoint.
var errCancelled = errors.New("job cancelled")

// RunnerConfig tunes the orchestrator. NewClient is required; everything
// else has working defaults.
type RunnerConfig struct {
	// NewClient builds the per-job platform client.
	NewClient func(ctx context.Context) (telegram.Client, error)
	Metrics   *metrics.Metrics

	Pacing      time.Duration
	FloodMargin time.Duration

	PageSize  int
	PageDelay time.Duration

	ChunkSize       int
	MemoryThreshold int64
	SpoolDir        string
}

// Runner drives a job through its phases. One runner serves all jobs; each
// Run call owns one job from start to a terminal phase.
type Runner struct {
	cfg RunnerConfig
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.NewClient == nil {
		return nil, errors.New("jobs: runner needs a client factory")
	}
	if cfg.Pacing <= 0 {
		cfg.Pacing = DefaultPacing
	}
	if cfg.FloodMargin <= 0 {
		cfg.FloodMargin = DefaultFloodMargin
	}
	return &Runner{cfg: cfg}, nil
}

// Run executes the job until it reaches a terminal phase. It blocks; callers
// start it on its own goroutine and poll Job.Status.
func (r *Runner) Run(ctx context.Context, job *Job) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	job.bindCancel(cancel)

	logger := log.With().Str("jobID", job.ID).Logger()
	ctx = logger.WithContext(ctx)

	r.cfg.Metrics.JobStarted()

	err := r.run(ctx, job)
	switch {
	case err == nil:
		s := job.Status()
		job.logf("job finished: %d renamed, %d failed, %d not found",
			s.Summary.Renamed, s.Summary.Failed, s.Summary.NotFound)
		for _, o := range s.Outcomes {
			switch o.Status {
			case OutcomeFailed:
				job.logf("summary: failed %s (%s)", o.OldName, o.Reason)
			case OutcomeNotFound:
				job.logf("summary: not found %s", o.OldName)
			}
		}
		job.finish(PhaseDone, "")
	case job.CancelRequested() && (errors.Is(err, errCancelled) || errors.Is(err, context.Canceled)):
		job.logf("job cancelled by operator")
		job.finish(PhaseCancelled, "")
	default:
		logger.Error().Err(err).Msg("job failed")
		job.logf("job failed: %v", err)
		job.finish(PhaseError, err.Error())
	}

	r.cfg.Metrics.JobFinished(string(job.Phase()))
}

func (r *Runner) run(ctx context.Context, job *Job) error {
	req := job.Request()

	job.setPhase(PhaseStarting)
	job.logf("starting: %d files, %s -> %s", req.Mapping.Len(), req.SourceChannel, req.DestChannel)

	client, err := r.cfg.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating platform client: %w", err)
	}
	defer client.Close()

	session, err := client.Authenticate(ctx, req.Credentials, r.codePrompt(job))
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	if session.String != "" {
		job.setSession(session.String)
		job.logf("authenticated; session string captured")
	} else {
		job.logf("authenticated")
	}

	job.setPhase(PhaseResolvingChannels)
	src, err := client.Resolve(ctx, req.SourceChannel)
	if err != nil {
		return fmt.Errorf("resolving source channel %q: %w", req.SourceChannel, err)
	}
	dst, err := client.Resolve(ctx, req.DestChannel)
	if err != nil {
		return fmt.Errorf("resolving destination channel %q: %w", req.DestChannel, err)
	}
	job.logf("channels resolved: %q -> %q", src.Title, dst.Title)

	job.setPhase(PhaseScanning)
	idx := matching.BuildIndex(req.Mapping)
	scanOpts := []scanner.Option{scanner.WithPageSize(r.cfg.PageSize)}
	if r.cfg.PageDelay > 0 {
		scanOpts = append(scanOpts, scanner.WithPageDelay(r.cfg.PageDelay))
	}
	sc := scanner.New(client, scanOpts...)
	found, stats, err := sc.Scan(ctx, src, idx, func(line string) { job.logf("%s", line) })
	if err != nil {
		return fmt.Errorf("scanning source channel: %w", err)
	}
	job.logf("scan complete: %d messages scanned, %d of %d files located",
		stats.Scanned, len(found), req.Mapping.Len())

	job.setPhase(PhaseTransferring)
	st := transfer.New(client,
		transfer.WithChunkSize(r.cfg.ChunkSize),
		transfer.WithMemoryThreshold(r.cfg.MemoryThreshold),
		transfer.WithSpoolDir(r.cfg.SpoolDir),
	)
	return r.transferAll(ctx, job, st, src, dst, found, stats)
}

// codePrompt bridges the client's interactive login to the job's single-slot
// code inbox.
func (r *Runner) codePrompt(job *Job) telegram.CodePromptFunc {
	return func(ctx context.Context) (string, error) {
		job.setPhase(PhaseAwaitingCredential)
		job.setAwaitingCode(true)
		defer job.setAwaitingCode(false)
		job.logf("login code required; waiting for operator")

		select {
		case code := <-job.codeInbox:
			job.logf("login code received")
			return code, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (r *Runner) transferAll(ctx context.Context, job *Job, st *transfer.Strategist, src, dst telegram.Channel, found map[string]telegram.Message, stats *scanner.Stats) error {
	req := job.Request()
	pairs := req.Mapping.Pairs()
	paced := false

	for i, pair := range pairs {
		if job.CancelRequested() {
			return errCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if job.isCompleted(pair.OldName) {
			job.logf("skipping %s: already renamed", pair.OldName)
			job.setProgress(i + 1)
			continue
		}

		// Pace mutations so a long mapping does not trip the platform's
		// rate limiter on its own.
		if paced {
			if err := r.sleep(ctx, r.cfg.Pacing); err != nil {
				return err
			}
		}

		msg, ok := found[pair.OldName]
		if !ok {
			suggestions := suggestNames(pair.OldName, stats.ObservedNames, suggestionLimit)
			job.recordOutcome(Outcome{
				OldName:     pair.OldName,
				NewName:     pair.NewName,
				Status:      OutcomeNotFound,
				Reason:      "no message with this file name in the source channel",
				Suggestions: suggestions,
			})
			r.cfg.Metrics.ItemOutcome(string(OutcomeNotFound))
			if len(suggestions) > 0 {
				job.logf("not found: %s (did you mean %v?)", pair.OldName, suggestions)
			} else {
				job.logf("not found: %s", pair.OldName)
			}
			job.setProgress(i + 1)
			continue
		}

		res, err := r.transferOne(ctx, job, st, transfer.Request{
			Source:        msg,
			SourceChannel: src,
			Dest:          dst,
			NewName:       pair.NewName,
			Caption:       pair.NewName,
			DeleteSource:  req.DeleteSource,
		})
		paced = true
		if err != nil {
			if job.CancelRequested() && errors.Is(err, context.Canceled) {
				return errCancelled
			}
			job.recordOutcome(Outcome{
				OldName: pair.OldName,
				NewName: pair.NewName,
				Status:  OutcomeFailed,
				Reason:  err.Error(),
			})
			r.cfg.Metrics.ItemOutcome(string(OutcomeFailed))
			job.logf("failed: %s -> %s: %v", pair.OldName, pair.NewName, err)
			job.setProgress(i + 1)
			continue
		}

		job.markCompleted(pair.OldName)
		job.recordOutcome(Outcome{
			OldName: pair.OldName,
			NewName: pair.NewName,
			Status:  OutcomeRenamed,
		})
		r.cfg.Metrics.ItemOutcome(string(OutcomeRenamed))
		r.cfg.Metrics.BytesCopied(res.BytesCopied)
		if res.InPlace {
			job.logf("renamed in place: %s -> %s", pair.OldName, pair.NewName)
		} else {
			job.logf("copied: %s -> %s (%d bytes, spooled=%t)", pair.OldName, pair.NewName, res.BytesCopied, res.Spooled)
		}
		job.setProgress(i + 1)
	}
	return nil
}

// transferOne runs a single transfer with at most one rate-limit retry. A
// second consecutive rate limit fails the item rather than stalling the job.
func (r *Runner) transferOne(ctx context.Context, job *Job, st *transfer.Strategist, req transfer.Request) (transfer.Result, error) {
	res, err := st.Transfer(ctx, req)
	fw, ok := telegram.AsFloodWait(err)
	if !ok {
		return res, err
	}

	r.cfg.Metrics.RateLimitHit()
	wait := fw.RetryAfter + r.cfg.FloodMargin
	job.logf("rate limited on %s; waiting %s before one retry", req.Source.File.Name, wait)
	if err := r.sleep(ctx, wait); err != nil {
		return transfer.Result{}, err
	}

	res, err = st.Transfer(ctx, req)
	if _, again := telegram.AsFloodWait(err); again {
		r.cfg.Metrics.RateLimitHit()
		return transfer.Result{}, fmt.Errorf("rate limited twice in a row: %w", err)
	}
	return res, err
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// suggestNames picks the observed names closest to the missing one by edit
// distance over normalized forms. Distances beyond half the name length are
// noise and dropped.
func suggestNames(oldName string, observed []string, limit int) []string {
	target := matching.NormalizeName(oldName)
	maxDist := len(target)/2 + 1

	type ranked struct {
		name string
		dist int
	}
	var candidates []ranked
	seen := make(map[string]struct{}, len(observed))
	for _, name := range observed {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		d := fuzzy.LevenshteinDistance(target, matching.NormalizeName(name))
		if d <= maxDist {
			candidates = append(candidates, ranked{name: name, dist: d})
		}
	}
	sort.SliceStable(candidates, func(i, k int) bool { return candidates[i].dist < candidates[k].dist })

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.name)
	}
	return out
}
