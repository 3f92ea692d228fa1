// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transfer moves one scanned file to the destination channel under
// its new name. When the platform can re-register a content handle with a
// new name attribute, no bytes move at all; otherwise the content is copied
// through a bounded-memory streaming pipeline.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/mvbrr/internal/telegram"
)

const (
	// DefaultChunkSize is the read granularity of the streaming pipeline.
	DefaultChunkSize = 512 << 10 // 512 KiB
	// DefaultMemoryThreshold is the file size at which a streaming copy
	// switches from an in-memory buffer to an on-disk spool file.
	DefaultMemoryThreshold = 400 << 20 // 400 MiB
)

// ErrMemoryPressure wraps in-memory buffering failures so the operator can
// tell them apart from network errors and route the file through the disk
// spool on retry.
var ErrMemoryPressure = errors.New("in-memory buffering failed")

// Request describes one transfer.
type Request struct {
	// Source is the scanned message carrying the file.
	Source telegram.Message
	// SourceChannel is where Source lives; needed for post-transfer deletion.
	SourceChannel telegram.Channel
	// Dest is the destination channel.
	Dest telegram.Channel
	// NewName is the name the file carries at the destination.
	NewName string
	// Caption is attached to the destination message.
	Caption string
	// DeleteSource removes the original message after the destination write
	// is confirmed. Never before.
	DeleteSource bool
}

// Result reports how a transfer was carried out.
type Result struct {
	// InPlace is true when the zero-copy rename path was used.
	InPlace bool
	// BytesCopied is the content volume moved by the streaming path.
	BytesCopied int64
	// Spooled is true when the streaming path went through a disk file.
	Spooled bool
}

// Strategist picks and executes the transfer strategy for each file.
type Strategist struct {
	client          telegram.Client
	chunkSize       int
	memoryThreshold int64
	spoolDir        string
}

// Option customizes a Strategist.
type Option func(*Strategist)

// WithChunkSize overrides the streaming chunk size.
func WithChunkSize(n int) Option {
	return func(s *Strategist) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithMemoryThreshold overrides the buffer-vs-spool size threshold.
func WithMemoryThreshold(n int64) Option {
	return func(s *Strategist) {
		if n > 0 {
			s.memoryThreshold = n
		}
	}
}

// WithSpoolDir overrides where temporary spool files are created. Defaults to
// the system temp directory.
func WithSpoolDir(dir string) Option {
	return func(s *Strategist) {
		if dir != "" {
			s.spoolDir = dir
		}
	}
}

// New creates a Strategist over the given client.
func New(client telegram.Client, opts ...Option) *Strategist {
	s := &Strategist{
		client:          client,
		chunkSize:       DefaultChunkSize,
		memoryThreshold: DefaultMemoryThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transfer executes the chosen strategy. The destination either ends up with
// the complete renamed file or none of it: the in-place path is atomic on
// the platform side, and the streaming path uploads only a fully assembled
// copy. Deletion of the original happens strictly after a confirmed write.
func (s *Strategist) Transfer(ctx context.Context, req Request) (Result, error) {
	if req.Source.File == nil {
		return Result{}, fmt.Errorf("message %d carries no file", req.Source.ID)
	}

	var res Result
	if s.client.SupportsInPlaceRename() {
		if err := s.client.Rename(ctx, req.Source, req.Dest, req.NewName, req.Caption); err != nil {
			return Result{}, fmt.Errorf("in-place rename to %q: %w", req.NewName, err)
		}
		res.InPlace = true
	} else {
		copied, spooled, err := s.streamCopy(ctx, req)
		if err != nil {
			return Result{}, err
		}
		res.BytesCopied = copied
		res.Spooled = spooled
	}

	if req.DeleteSource {
		if err := s.client.Delete(ctx, req.SourceChannel, req.Source.ID); err != nil {
			// The renamed copy exists; surface the leftover original rather
			// than failing the item.
			log.Ctx(ctx).Warn().
				Err(err).
				Str("file", req.Source.File.Name).
				Msg("Transferred but failed to delete original from source channel")
		}
	}

	return res, nil
}

// streamCopy downloads the content in fixed-size chunks and assembles it in
// an in-memory buffer (small files) or a temporary spool file (large files)
// before uploading to the destination. Memory use never exceeds one chunk
// plus the accumulated buffer on the in-memory path, and one chunk on the
// spooled path.
func (s *Strategist) streamCopy(ctx context.Context, req Request) (int64, bool, error) {
	file := req.Source.File

	content, err := s.client.Download(ctx, file)
	if err != nil {
		return 0, false, fmt.Errorf("downloading %q: %w", file.Name, err)
	}
	defer content.Close()

	if file.Size < s.memoryThreshold {
		n, err := s.copyBuffered(ctx, req, content)
		return n, false, err
	}
	n, err := s.copySpooled(ctx, req, content)
	return n, true, err
}

func (s *Strategist) copyBuffered(ctx context.Context, req Request, content io.Reader) (int64, error) {
	file := req.Source.File

	buf := bytes.NewBuffer(make([]byte, 0, int(file.Size)))
	n, err := s.copyChunks(buf, content)
	if err != nil {
		if errors.Is(err, bytes.ErrTooLarge) {
			return 0, fmt.Errorf("buffering %q (%d bytes): %w", file.Name, file.Size, ErrMemoryPressure)
		}
		return 0, fmt.Errorf("buffering %q: %w", file.Name, err)
	}

	if err := s.client.Upload(ctx, req.Dest, buf, n, req.NewName, req.Caption); err != nil {
		return 0, fmt.Errorf("uploading %q: %w", req.NewName, err)
	}
	return n, nil
}

func (s *Strategist) copySpooled(ctx context.Context, req Request, content io.Reader) (int64, error) {
	file := req.Source.File

	spool, err := os.CreateTemp(s.spoolDir, "mvbrr-spool-*")
	if err != nil {
		return 0, fmt.Errorf("creating spool file: %w", err)
	}
	defer func() {
		spool.Close()
		if err := os.Remove(spool.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Ctx(ctx).Warn().Err(err).Str("spool", spool.Name()).Msg("Failed to remove spool file")
		}
	}()

	n, err := s.copyChunks(spool, content)
	if err != nil {
		return 0, fmt.Errorf("spooling %q: %w", file.Name, err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding spool file: %w", err)
	}

	if err := s.client.Upload(ctx, req.Dest, spool, n, req.NewName, req.Caption); err != nil {
		return 0, fmt.Errorf("uploading %q: %w", req.NewName, err)
	}
	return n, nil
}

// copyChunks moves content through a single fixed-size chunk buffer.
func (s *Strategist) copyChunks(dst io.Writer, src io.Reader) (written int64, err error) {
	defer func() {
		// bytes.Buffer panics with ErrTooLarge when it cannot grow; surface
		// that as an error instead of taking the whole job down.
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && errors.Is(e, bytes.ErrTooLarge) {
				err = e
				return
			}
			panic(r)
		}
	}()
	// The anonymous struct wrappers hide any ReadFrom/WriteTo fast paths so
	// the copy genuinely goes through the fixed-size chunk buffer.
	return io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, make([]byte, s.chunkSize))
}
