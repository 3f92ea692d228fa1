// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package jobs owns the rename-job lifecycle: the per-job state machine, the
// process-wide registry, and the runner that sequences authentication,
// channel resolution, scanning and transfers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/autobrr/mvbrr/internal/matching"
	"github.com/autobrr/mvbrr/internal/telegram"
)

// Phase is the job state machine position. Within one run phases only move
// forward; error and cancelled are terminal.
type Phase string

const (
	PhaseStarting           Phase = "starting"
	PhaseAwaitingCredential Phase = "awaiting_credential"
	PhaseResolvingChannels  Phase = "resolving_channels"
	PhaseScanning           Phase = "scanning"
	PhaseTransferring       Phase = "transferring"
	PhaseDone               Phase = "done"
	PhaseError              Phase = "error"
	PhaseCancelled          Phase = "cancelled"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseError || p == PhaseCancelled
}

// OutcomeStatus is the terminal per-item result.
type OutcomeStatus string

const (
	OutcomeRenamed  OutcomeStatus = "renamed"
	OutcomeFailed   OutcomeStatus = "failed"
	OutcomeNotFound OutcomeStatus = "not_found"
)

// Outcome records what happened to one requested rename.
type Outcome struct {
	OldName string        `json:"old_name"`
	NewName string        `json:"new_name"`
	Status  OutcomeStatus `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	// Suggestions holds close observed names for not-found items.
	Suggestions []string `json:"suggestions,omitempty"`
}

// Summary is the frozen final tally.
type Summary struct {
	Renamed  int `json:"renamed"`
	Failed   int `json:"failed"`
	NotFound int `json:"not_found"`
}

// Request is everything needed to run one rename job.
type Request struct {
	Credentials   telegram.Credentials
	SourceChannel string
	DestChannel   string
	DeleteSource  bool
	Mapping       *matching.Mapping
}

const (
	// logCap bounds the in-memory log ring.
	logCap = 1000
	// statusLogTail is how many recent lines a status snapshot carries.
	statusLogTail = 200
)

// ErrNotAwaitingCode is returned when a login code arrives but no prompt is
// pending.
var ErrNotAwaitingCode = errors.New("job is not waiting for a login code")

// ErrNotResumable is returned when resume is requested on a job that has not
// reached a terminal phase.
var ErrNotResumable = errors.New("job is still running")

// Job is the mutable state of one rename job. All fields behind mu; the code
// inbox is a single-slot channel written exactly once per prompt.
type Job struct {
	ID  string
	req Request

	mu           sync.RWMutex
	phase        Phase
	progress     int
	logs         []string
	logSeq       int
	errMsg       string
	awaitingCode bool
	session      string
	outcomes     map[string]Outcome
	completed    map[string]struct{}

	codeInbox chan string
	cancelRun atomic.Pointer[context.CancelFunc]
	cancelled atomic.Bool
}

// NewJob creates a job in the starting phase.
func NewJob(id string, req Request) *Job {
	return &Job{
		ID:        id,
		req:       req,
		phase:     PhaseStarting,
		outcomes:  make(map[string]Outcome, req.Mapping.Len()),
		completed: make(map[string]struct{}),
		codeInbox: make(chan string, 1),
	}
}

// Request returns the immutable job request.
func (j *Job) Request() Request {
	return j.req
}

// Phase returns the current phase.
func (j *Job) Phase() Phase {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.phase
}

func (j *Job) setPhase(p Phase) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.phase = p
}

func (j *Job) setProgress(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = n
}

func (j *Job) setSession(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.session = s
}

func (j *Job) setAwaitingCode(waiting bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.awaitingCode = waiting
}

// logf appends one line to the job log ring.
func (j *Job) logf(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logSeq++
	j.logs = append(j.logs, fmt.Sprintf(format, args...))
	if len(j.logs) > logCap {
		j.logs = j.logs[len(j.logs)-logCap:]
	}
}

// recordOutcome stores an outcome unless one already exists for the old
// name. Outcomes are append-only; a resumed run keeps earlier renamed
// entries untouched.
func (j *Job) recordOutcome(o Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.outcomes[o.OldName]; exists {
		return
	}
	j.outcomes[o.OldName] = o
}

func (j *Job) markCompleted(oldName string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completed[oldName] = struct{}{}
}

func (j *Job) isCompleted(oldName string) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	_, ok := j.completed[oldName]
	return ok
}

// CompletedCount reports how many items have been renamed so far, across
// runs.
func (j *Job) CompletedCount() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.completed)
}

func (j *Job) finish(p Phase, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.phase = p
	j.errMsg = errMsg
	j.awaitingCode = false
}

// SubmitCode delivers an interactive login code. It fails when no prompt is
// pending or a code was already delivered for the pending prompt.
func (j *Job) SubmitCode(code string) error {
	j.mu.RLock()
	waiting := j.awaitingCode
	j.mu.RUnlock()
	if !waiting {
		return ErrNotAwaitingCode
	}
	select {
	case j.codeInbox <- code:
		return nil
	default:
		return fmt.Errorf("a code was already submitted for this prompt")
	}
}

// Cancel requests cooperative cancellation. In-flight platform calls finish;
// the flag is honored at the next checkpoint.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
	if cancel := j.cancelRun.Load(); cancel != nil {
		(*cancel)()
	}
}

// CancelRequested reports whether the operator asked for cancellation.
func (j *Job) CancelRequested() bool {
	return j.cancelled.Load()
}

func (j *Job) bindCancel(cancel context.CancelFunc) {
	j.cancelRun.Store(&cancel)
}

// PrepareResume rewinds a terminal job so the runner can execute it again.
// Items already renamed stay in the completed set and keep their outcomes;
// everything else is recomputed by the new run.
func (j *Job) PrepareResume() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.phase.Terminal() {
		return ErrNotResumable
	}

	for oldName, o := range j.outcomes {
		if o.Status != OutcomeRenamed {
			delete(j.outcomes, oldName)
		}
	}
	j.phase = PhaseStarting
	j.progress = 0
	j.errMsg = ""
	j.cancelled.Store(false)

	// Drain a stale code left over from an aborted prompt.
	select {
	case <-j.codeInbox:
	default:
	}
	return nil
}

// Status is an immutable snapshot for the transport layer.
type Status struct {
	ID            string    `json:"job_id"`
	Phase         Phase     `json:"phase"`
	Progress      int       `json:"progress"`
	Total         int       `json:"total"`
	LogSequence   int       `json:"log_sequence"`
	Logs          []string  `json:"logs"`
	Error         string    `json:"error,omitempty"`
	AwaitingCode  bool      `json:"awaiting_code"`
	SessionString string    `json:"session_string,omitempty"`
	Summary       Summary   `json:"summary"`
	Outcomes      []Outcome `json:"outcomes,omitempty"`
}

// Status renders a snapshot. Outcomes come back in original mapping order.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Status{
		ID:            j.ID,
		Phase:         j.phase,
		Progress:      j.progress,
		Total:         j.req.Mapping.Len(),
		LogSequence:   j.logSeq,
		Error:         j.errMsg,
		AwaitingCode:  j.awaitingCode,
		SessionString: j.session,
	}

	tail := len(j.logs) - statusLogTail
	if tail < 0 {
		tail = 0
	}
	s.Logs = append(s.Logs, j.logs[tail:]...)

	for _, pair := range j.req.Mapping.Pairs() {
		o, ok := j.outcomes[pair.OldName]
		if !ok {
			continue
		}
		s.Outcomes = append(s.Outcomes, o)
		switch o.Status {
		case OutcomeRenamed:
			s.Summary.Renamed++
		case OutcomeFailed:
			s.Summary.Failed++
		case OutcomeNotFound:
			s.Summary.NotFound++
		}
	}
	return s
}
