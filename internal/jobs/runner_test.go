// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autobrr/mvbrr/internal/matching"
	"github.com/autobrr/mvbrr/internal/telegram"
)

func newTestRunner(t *testing.T, client telegram.Client) *Runner {
	t.Helper()

	r, err := NewRunner(RunnerConfig{
		NewClient:   func(context.Context) (telegram.Client, error) { return client, nil },
		Pacing:      time.Millisecond,
		FloodMargin: time.Millisecond,
	})
	require.NoError(t, err)
	return r
}

func mustMapping(t *testing.T, pairs ...matching.Pair) *matching.Mapping {
	t.Helper()

	m, err := matching.NewMapping(pairs)
	require.NoError(t, err)
	return m
}

func TestRunner_EndToEnd(t *testing.T) {
	t.Parallel()

	client := telegram.NewMemoryClient()
	src := client.AddChannel("@archive", "Archive")
	dst := client.AddChannel("@library", "Library")

	// Unrelated noise so the scan has something to skip past.
	for i := 0; i < 50; i++ {
		client.SeedFile(src, fmt.Sprintf("noise.%03d.bin", i), []byte("x"), "")
	}
	client.SeedFile(src, "Show.S01E01.1080p.mkv", []byte("episode one"), "")
	client.SeedFile(src, "Show.S01E02.1080p.mkv", []byte("episode two"), "")

	job := NewJob("job-1", Request{
		Credentials:   telegram.Credentials{Phone: "+15550001"},
		SourceChannel: "@archive",
		DestChannel:   "@library",
		Mapping: mustMapping(t,
			matching.Pair{OldName: "Show.S01E01.1080p.mkv", NewName: "Show - 01.mkv"},
			matching.Pair{OldName: "Show.S01E02.1080p.mkv", NewName: "Show - 02.mkv"},
		),
	})

	newTestRunner(t, client).Run(context.Background(), job)

	s := job.Status()
	require.Equal(t, PhaseDone, s.Phase)
	require.Empty(t, s.Error)
	require.Equal(t, Summary{Renamed: 2}, s.Summary)
	require.Equal(t, s.Total, s.Progress)
	require.Equal(t, "memory:+15550001", s.SessionString)

	names := make([]string, 0, 2)
	for _, msg := range client.Messages(dst) {
		names = append(names, msg.File.Name)
	}
	require.ElementsMatch(t, []string{"Show - 01.mkv", "Show - 02.mkv"}, names)

	// In-place renames move no content.
	require.Zero(t, client.DownloadCalls())
	require.Zero(t, client.UploadedBytes())
}

func TestRunner_StreamingFallback(t *testing.T) {
	t.Parallel()

	client := telegram.NewMemoryClient()
	client.RenameSupported = false
	src := client.AddChannel("@archive", "Archive")
	dst := client.AddChannel("@library", "Library")
	client.SeedFile(src, "old.mkv", []byte("payload bytes"), "")

	job := NewJob("job-stream", Request{
		SourceChannel: "@archive",
		DestChannel:   "@library",
		DeleteSource:  true,
		Mapping:       mustMapping(t, matching.Pair{OldName: "old.mkv", NewName: "new.mkv"}),
	})

	newTestRunner(t, client).Run(context.Background(), job)

	s := job.Status()
	require.Equal(t, PhaseDone, s.Phase)
	require.Equal(t, Summary{Renamed: 1}, s.Summary)
	require.Equal(t, int64(len("payload bytes")), client.UploadedBytes())
	require.Empty(t, client.Messages(src), "source message should be deleted after confirmed copy")

	got := client.Messages(dst)
	require.Len(t, got, 1)
	require.Equal(t, "new.mkv", got[0].File.Name)
	require.Equal(t, int64(len("payload bytes")), got[0].File.Size)
}

func TestRunner_NotFoundWithSuggestions(t *testing.T) {
	t.Parallel()

	client := telegram.NewMemoryClient()
	src := client.AddChannel("@archive", "Archive")
	client.AddChannel("@library", "Library")
	client.SeedFile(src, "Show.S01E01.1080p.mkv", []byte("x"), "")

	job := NewJob("job-miss", Request{
		SourceChannel: "@archive",
		DestChannel:   "@library",
		Mapping: mustMapping(t,
			matching.Pair{OldName: "Show.S01E01.1080.mkv", NewName: "kept.mkv"},
			matching.Pair{OldName: "Completely Different Thing.iso", NewName: "other.iso"},
		),
	})

	newTestRunner(t, client).Run(context.Background(), job)

	s := job.Status()
	require.Equal(t, PhaseDone, s.Phase)
	// The first old name matches the seeded file through its episode
	// number, so it renames; only the second is missing.
	require.Equal(t, Summary{Renamed: 1, NotFound: 1}, s.Summary)

	require.Len(t, s.Outcomes, 2)
	miss := s.Outcomes[1]
	require.Equal(t, OutcomeNotFound, miss.Status)
	require.Equal(t, "Completely Different Thing.iso", miss.OldName)
	require.Empty(t, miss.Suggestions, "nothing observed is close to this name")
}

func TestRunner_SuggestsCloseNames(t *testing.T) {
	t.Parallel()

	client := telegram.NewMemoryClient()
	src := client.AddChannel("@archive", "Archive")
	client.AddChannel("@library", "Library")
	client.SeedFile(src, "Vacation Video Part 2.mp4", []byte("x"), "")

	job := NewJob("job-suggest", Request{
		SourceChannel: "@archive",
		DestChannel:   "@library",
		Mapping:       mustMapping(t, matching.Pair{OldName: "Vacation Video Part 3.mp4", NewName: "v3.mp4"}),
	})

	newTestRunner(t, client).Run(context.Background(), job)

	s := job.Status()
	require.Equal(t, Summary{NotFound: 1}, s.Summary)
	require.Equal(t, []string{"Vacation Video Part 2.mp4"}, s.Outcomes[0].Suggestions)
}

func TestRunner_FloodWaitRetriesOnce(t *testing.T) {
	t.Parallel()

	client := telegram.NewMemoryClient()
	src := client.AddChannel("@archive", "Archive")
	client.AddChannel("@library", "Library")
	client.SeedFile(src, "limited.mkv", []byte("x"), "")

	var renameCalls atomic.Int32
	client.FailRename = func(string) error {
		if renameCalls.Add(1) == 1 {
			return &telegram.FloodWaitError{RetryAfter: time.Millisecond}
		}
		return nil
	}

	job := NewJob("job-flood", Request{
		SourceChannel: "@archive",
		DestChannel:   "@library",
		Mapping:       mustMapping(t, matching.Pair{OldName: "limited.mkv", NewName: "renamed.mkv"}),
	})

	newTestRunner(t, client).Run(context.Background(), job)

	s := job.Status()
	require.Equal(t, PhaseDone, s.Phase)
	require.Equal(t, Summary{Renamed: 1}, s.Summary)
	require.Equal(t, int32(2), renameCalls.Load())
}

func TestRunner_ConsecutiveFloodWaitFailsItem(t *testing.T) {
	t.Parallel()

	client := telegram.NewMemoryClient()
	src := client.AddChannel("@archive", "Archive")
	client.AddChannel("@library", "Library")
	client.SeedFile(src, "limited.mkv", []byte("x"), "")
	client.SeedFile(src, "fine.mkv", []byte("x"), "")

	client.FailRename = func(newName string) error {
		if newName == "renamed.mkv" {
			return &telegram.FloodWaitError{RetryAfter: time.Millisecond}
		}
		return nil
	}

	job := NewJob("job-flood2", Request{
		SourceChannel: "@archive",
		DestChannel:   "@library",
		Mapping: mustMapping(t,
			matching.Pair{OldName: "limited.mkv", NewName: "renamed.mkv"},
			matching.Pair{OldName: "fine.mkv", NewName: "ok.mkv"},
		),
	})

	newTestRunner(t, client).Run(context.Background(), job)

	s := job.Status()
	// One stubborn rate limit fails that item only; the job continues.
	require.Equal(t, PhaseDone, s.Phase)
	require.Equal(t, Summary{Renamed: 1, Failed: 1}, s.Summary)
	require.Equal(t, OutcomeFailed, s.Outcomes[0].Status)
	require.Contains(t, s.Outcomes[0].Reason, "rate limited twice")
}

func TestRunner_ResumeSkipsCompleted(t *testing.T) {
	t.Parallel()

	client := telegram.NewMemoryClient()
	src := client.AddChannel("@archive", "Archive")
	client.AddChannel("@library", "Library")
	client.SeedFile(src, "a.mkv", []byte("x"), "")
	client.SeedFile(src, "b.mkv", []byte("x"), "")

	var renameCalls atomic.Int32
	var failB atomic.Bool
	failB.Store(true)
	client.FailRename = func(newName string) error {
		renameCalls.Add(1)
		if newName == "b2.mkv" && failB.Load() {
			return fmt.Errorf("transient upstream error")
		}
		return nil
	}

	job := NewJob("job-resume", Request{
		SourceChannel: "@archive",
		DestChannel:   "@library",
		Mapping: mustMapping(t,
			matching.Pair{OldName: "a.mkv", NewName: "a2.mkv"},
			matching.Pair{OldName: "b.mkv", NewName: "b2.mkv"},
		),
	})

	runner := newTestRunner(t, client)
	runner.Run(context.Background(), job)

	s := job.Status()
	require.Equal(t, PhaseDone, s.Phase)
	require.Equal(t, Summary{Renamed: 1, Failed: 1}, s.Summary)
	firstRunCalls := renameCalls.Load()

	failB.Store(false)
	require.NoError(t, job.PrepareResume())
	runner.Run(context.Background(), job)

	s = job.Status()
	require.Equal(t, PhaseDone, s.Phase)
	require.Equal(t, Summary{Renamed: 2}, s.Summary)
	// Resume retries only the failed item; a.mkv stays untouched.
	require.Equal(t, firstRunCalls+1, renameCalls.Load())
}

func TestRunner_InteractiveCode(t *testing.T) {
	t.Parallel()

	client := telegram.NewMemoryClient()
	client.RequireCode = true
	client.ExpectedCode = "31337"
	src := client.AddChannel("@archive", "Archive")
	client.AddChannel("@library", "Library")
	client.SeedFile(src, "a.mkv", []byte("x"), "")

	job := NewJob("job-otp", Request{
		Credentials:   telegram.Credentials{Phone: "+15550002"},
		SourceChannel: "@archive",
		DestChannel:   "@library",
		Mapping:       mustMapping(t, matching.Pair{OldName: "a.mkv", NewName: "a2.mkv"}),
	})

	// No prompt pending yet.
	require.ErrorIs(t, job.SubmitCode("31337"), ErrNotAwaitingCode)

	done := make(chan struct{})
	go func() {
		defer close(done)
		newTestRunner(t, client).Run(context.Background(), job)
	}()

	require.Eventually(t, func() bool {
		return job.Status().AwaitingCode
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, PhaseAwaitingCredential, job.Phase())

	require.NoError(t, job.SubmitCode("31337"))
	<-done

	s := job.Status()
	require.Equal(t, PhaseDone, s.Phase)
	require.False(t, s.AwaitingCode)
	require.Equal(t, Summary{Renamed: 1}, s.Summary)
}

func TestRunner_RejectedCodeFailsJob(t *testing.T) {
	t.Parallel()

	client := telegram.NewMemoryClient()
	client.RequireCode = true
	client.ExpectedCode = "11111"
	src := client.AddChannel("@archive", "Archive")
	client.AddChannel("@library", "Library")
	client.SeedFile(src, "a.mkv", []byte("x"), "")

	job := NewJob("job-otp-bad", Request{
		SourceChannel: "@archive",
		DestChannel:   "@library",
		Mapping:       mustMapping(t, matching.Pair{OldName: "a.mkv", NewName: "a2.mkv"}),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		newTestRunner(t, client).Run(context.Background(), job)
	}()

	require.Eventually(t, func() bool {
		return job.Status().AwaitingCode
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, job.SubmitCode("99999"))
	<-done

	s := job.Status()
	require.Equal(t, PhaseError, s.Phase)
	require.Contains(t, s.Error, "authenticating")
}

func TestRunner_Cancel(t *testing.T) {
	t.Parallel()

	client := telegram.NewMemoryClient()
	src := client.AddChannel("@archive", "Archive")
	dst := client.AddChannel("@library", "Library")

	pairs := make([]matching.Pair, 0, 8)
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("file.%d.mkv", i)
		client.SeedFile(src, name, []byte("x"), "")
		pairs = append(pairs, matching.Pair{OldName: name, NewName: fmt.Sprintf("out.%d.mkv", i)})
	}

	started := make(chan struct{})
	var once atomic.Bool
	client.FailRename = func(string) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		return nil
	}

	r, err := NewRunner(RunnerConfig{
		NewClient: func(context.Context) (telegram.Client, error) { return client, nil },
		Pacing:    100 * time.Millisecond,
	})
	require.NoError(t, err)

	job := NewJob("job-cancel", Request{
		SourceChannel: "@archive",
		DestChannel:   "@library",
		DeleteSource:  true,
		Mapping:       mustMapping(t, pairs...),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(context.Background(), job)
	}()

	<-started
	job.Cancel()
	<-done

	s := job.Status()
	require.Equal(t, PhaseCancelled, s.Phase)
	require.Less(t, s.Summary.Renamed, len(pairs))

	// No partial item: the destination holds exactly the items recorded as
	// renamed, nothing half-moved.
	require.Len(t, client.Messages(dst), s.Summary.Renamed)
}

func TestRunner_ResolveFailureIsFatal(t *testing.T) {
	t.Parallel()

	client := telegram.NewMemoryClient()
	client.AddChannel("@archive", "Archive")

	job := NewJob("job-badchan", Request{
		SourceChannel: "@archive",
		DestChannel:   "@nowhere",
		Mapping:       mustMapping(t, matching.Pair{OldName: "a.mkv", NewName: "b.mkv"}),
	})

	newTestRunner(t, client).Run(context.Background(), job)

	s := job.Status()
	require.Equal(t, PhaseError, s.Phase)
	require.Contains(t, s.Error, "resolving destination channel")
}

func TestRunner_ScanErrorIsFatal(t *testing.T) {
	t.Parallel()

	client := telegram.NewMemoryClient()
	client.AddChannel("@archive", "Archive")
	client.AddChannel("@library", "Library")
	client.HistoryErr = fmt.Errorf("backend unavailable")

	job := NewJob("job-scanfail", Request{
		SourceChannel: "@archive",
		DestChannel:   "@library",
		Mapping:       mustMapping(t, matching.Pair{OldName: "a.mkv", NewName: "b.mkv"}),
	})

	newTestRunner(t, client).Run(context.Background(), job)

	s := job.Status()
	require.Equal(t, PhaseError, s.Phase)
	require.Contains(t, s.Error, "scanning source channel")
}
