// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jobs

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autobrr/mvbrr/internal/matching"
)

func newIdleJob(t *testing.T, id string) *Job {
	t.Helper()
	return NewJob(id, Request{
		SourceChannel: "@a",
		DestChannel:   "@b",
		Mapping:       mustMapping(t, matching.Pair{OldName: "x.mkv", NewName: "y.mkv"}),
	})
}

func TestJob_LogRingIsBounded(t *testing.T) {
	t.Parallel()

	job := newIdleJob(t, "ring")
	for i := 0; i < logCap+250; i++ {
		job.logf("line %d", i)
	}

	s := job.Status()
	require.Len(t, s.Logs, statusLogTail)
	require.Equal(t, logCap+250, s.LogSequence)
	// Oldest lines fell out of the ring; the tail is the newest ones.
	require.Equal(t, fmt.Sprintf("line %d", logCap+249), s.Logs[len(s.Logs)-1])
}

func TestJob_OutcomesAreAppendOnly(t *testing.T) {
	t.Parallel()

	job := newIdleJob(t, "outcomes")
	job.recordOutcome(Outcome{OldName: "x.mkv", NewName: "y.mkv", Status: OutcomeRenamed})
	job.recordOutcome(Outcome{OldName: "x.mkv", NewName: "y.mkv", Status: OutcomeFailed, Reason: "late"})

	s := job.Status()
	require.Len(t, s.Outcomes, 1)
	require.Equal(t, OutcomeRenamed, s.Outcomes[0].Status)
}

func TestJob_SubmitCodeSingleSlot(t *testing.T) {
	t.Parallel()

	job := newIdleJob(t, "otp")
	require.ErrorIs(t, job.SubmitCode("123"), ErrNotAwaitingCode)

	job.setAwaitingCode(true)
	require.NoError(t, job.SubmitCode("123"))
	require.Error(t, job.SubmitCode("456"), "second code for the same prompt must be rejected")
}

func TestJob_PrepareResume(t *testing.T) {
	t.Parallel()

	job := NewJob("resume", Request{
		SourceChannel: "@a",
		DestChannel:   "@b",
		Mapping: mustMapping(t,
			matching.Pair{OldName: "x.mkv", NewName: "y.mkv"},
			matching.Pair{OldName: "z.mkv", NewName: "w.mkv"},
		),
	})

	require.ErrorIs(t, job.PrepareResume(), ErrNotResumable)

	job.recordOutcome(Outcome{OldName: "x.mkv", Status: OutcomeRenamed})
	job.markCompleted("x.mkv")
	job.recordOutcome(Outcome{OldName: "z.mkv", Status: OutcomeFailed, Reason: "boom"})
	job.finish(PhaseError, "boom")

	require.NoError(t, job.PrepareResume())

	s := job.Status()
	require.Equal(t, PhaseStarting, s.Phase)
	require.Empty(t, s.Error)
	require.Zero(t, s.Progress)
	// The renamed outcome survives; the failed one is cleared for the rerun.
	require.Len(t, s.Outcomes, 1)
	require.Equal(t, OutcomeRenamed, s.Outcomes[0].Status)
	require.True(t, job.isCompleted("x.mkv"))
}

func TestPhase_Terminal(t *testing.T) {
	t.Parallel()

	for _, p := range []Phase{PhaseDone, PhaseError, PhaseCancelled} {
		require.True(t, p.Terminal(), "phase %s", p)
	}
	for _, p := range []Phase{PhaseStarting, PhaseAwaitingCredential, PhaseResolvingChannels, PhaseScanning, PhaseTransferring} {
		require.False(t, p.Terminal(), "phase %s", p)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := newIdleJob(t, "a")
	require.NoError(t, reg.Add(a))
	require.Error(t, reg.Add(newIdleJob(t, "a")), "duplicate IDs are rejected")

	got, ok := reg.Get("a")
	require.True(t, ok)
	require.Same(t, a, got)

	_, ok = reg.Get("missing")
	require.False(t, ok)

	require.NoError(t, reg.Add(newIdleJob(t, "c")))
	require.NoError(t, reg.Add(newIdleJob(t, "b")))
	ids := make([]string, 0, 3)
	for _, job := range reg.List() {
		ids = append(ids, job.ID)
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			job := newIdleJob(t, fmt.Sprintf("job-%02d", n))
			require.NoError(t, reg.Add(job))
			_, ok := reg.Get(job.ID)
			require.True(t, ok)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 16, reg.Len())
}
