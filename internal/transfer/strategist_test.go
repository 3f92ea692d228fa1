// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transfer

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autobrr/mvbrr/internal/telegram"
)

func seedTransfer(t *testing.T, mem *telegram.MemoryClient, content []byte) (telegram.Channel, telegram.Channel, telegram.Message) {
	t.Helper()
	src := mem.AddChannel("@src", "Source")
	dst := mem.AddChannel("@dst", "Destination")
	msg := mem.SeedFile(src, "raw1.mkv", content, "original caption")
	return src, dst, msg
}

func TestTransferInPlaceRenameMovesNoBytes(t *testing.T) {
	t.Parallel()

	mem := telegram.NewMemoryClient()
	src, dst, msg := seedTransfer(t, mem, []byte("content-bytes"))

	s := New(mem)
	res, err := s.Transfer(context.Background(), Request{
		Source:        msg,
		SourceChannel: src,
		Dest:          dst,
		NewName:       "Ep01.mkv",
		Caption:       "original caption",
	})
	require.NoError(t, err)
	require.True(t, res.InPlace)
	require.Zero(t, res.BytesCopied)
	require.Zero(t, mem.DownloadCalls(), "in-place rename must not download content")
	require.Zero(t, mem.UploadedBytes(), "in-place rename must not re-send content")

	got := mem.Messages(dst)
	require.Len(t, got, 1)
	require.Equal(t, "Ep01.mkv", got[0].File.Name)
	require.Equal(t, "original caption", got[0].Caption)

	// Original stays in place unless deletion was requested.
	require.Len(t, mem.Messages(src), 1)
}

func TestTransferStreamCopyBuffered(t *testing.T) {
	t.Parallel()

	mem := telegram.NewMemoryClient()
	mem.RenameSupported = false
	content := bytes.Repeat([]byte("x"), 3000)
	src, dst, msg := seedTransfer(t, mem, content)

	s := New(mem, WithChunkSize(1024))
	res, err := s.Transfer(context.Background(), Request{
		Source:        msg,
		SourceChannel: src,
		Dest:          dst,
		NewName:       "Ep01.mkv",
	})
	require.NoError(t, err)
	require.False(t, res.InPlace)
	require.False(t, res.Spooled)
	require.Equal(t, int64(len(content)), res.BytesCopied)

	got := mem.Messages(dst)
	require.Len(t, got, 1)
	require.Equal(t, "Ep01.mkv", got[0].File.Name)
	require.Equal(t, int64(len(content)), got[0].File.Size)
}

func TestTransferStreamCopySpoolsLargeFiles(t *testing.T) {
	t.Parallel()

	mem := telegram.NewMemoryClient()
	mem.RenameSupported = false
	content := bytes.Repeat([]byte("y"), 4096)
	src, dst, msg := seedTransfer(t, mem, content)

	spoolDir := t.TempDir()
	s := New(mem, WithChunkSize(512), WithMemoryThreshold(1024), WithSpoolDir(spoolDir))
	res, err := s.Transfer(context.Background(), Request{
		Source:        msg,
		SourceChannel: src,
		Dest:          dst,
		NewName:       "Ep01.mkv",
	})
	require.NoError(t, err)
	require.True(t, res.Spooled)
	require.Equal(t, int64(len(content)), res.BytesCopied)

	got := mem.Messages(dst)
	require.Len(t, got, 1)
	require.Equal(t, int64(len(content)), got[0].File.Size)

	// Spool files are cleaned up after the upload.
	leftovers, err := filepath.Glob(filepath.Join(spoolDir, "mvbrr-spool-*"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestTransferFailureLeavesNoPartialState(t *testing.T) {
	t.Parallel()

	mem := telegram.NewMemoryClient()
	mem.RenameSupported = false
	mem.FailUpload = func(string) error { return errors.New("connection dropped mid-upload") }
	src, dst, msg := seedTransfer(t, mem, []byte("doomed content"))

	spoolDir := t.TempDir()
	s := New(mem, WithMemoryThreshold(4), WithSpoolDir(spoolDir)) // force spool path
	_, err := s.Transfer(context.Background(), Request{
		Source:        msg,
		SourceChannel: src,
		Dest:          dst,
		NewName:       "Ep01.mkv",
		DeleteSource:  true,
	})
	require.Error(t, err)

	// Destination has nothing, the original survives, and the spool is gone.
	require.Empty(t, mem.Messages(dst))
	require.Len(t, mem.Messages(src), 1)

	leftovers, globErr := filepath.Glob(filepath.Join(spoolDir, "mvbrr-spool-*"))
	require.NoError(t, globErr)
	require.Empty(t, leftovers)
}

func TestTransferDeletesSourceOnlyAfterConfirmedWrite(t *testing.T) {
	t.Parallel()

	mem := telegram.NewMemoryClient()
	src, dst, msg := seedTransfer(t, mem, []byte("content"))

	s := New(mem)
	_, err := s.Transfer(context.Background(), Request{
		Source:        msg,
		SourceChannel: src,
		Dest:          dst,
		NewName:       "Ep01.mkv",
		DeleteSource:  true,
	})
	require.NoError(t, err)
	require.Empty(t, mem.Messages(src), "original deleted after confirmed write")
	require.Len(t, mem.Messages(dst), 1)
}

func TestTransferRenameFailurePropagates(t *testing.T) {
	t.Parallel()

	mem := telegram.NewMemoryClient()
	mem.FailRename = func(string) error { return errors.New("flood") }
	src, dst, msg := seedTransfer(t, mem, []byte("content"))

	s := New(mem)
	_, err := s.Transfer(context.Background(), Request{
		Source:        msg,
		SourceChannel: src,
		Dest:          dst,
		NewName:       "Ep01.mkv",
		DeleteSource:  true,
	})
	require.Error(t, err)
	require.Empty(t, mem.Messages(dst))
	require.Len(t, mem.Messages(src), 1, "failed rename must not delete the original")
}

// exhaustedReader stands in for a download stream whose buffering blows the
// process memory limit: bytes.Buffer signals that by panicking with
// ErrTooLarge from inside the copy loop.
type exhaustedReader struct{}

func (exhaustedReader) Read([]byte) (int, error) { panic(bytes.ErrTooLarge) }

func TestTransferBufferExhaustionIsMemoryPressure(t *testing.T) {
	t.Parallel()

	mem := telegram.NewMemoryClient()
	mem.RenameSupported = false
	src, dst, msg := seedTransfer(t, mem, []byte("content"))

	s := New(mem)
	_, err := s.copyBuffered(context.Background(), Request{
		Source:        msg,
		SourceChannel: src,
		Dest:          dst,
		NewName:       "Ep01.mkv",
	}, exhaustedReader{})
	require.ErrorIs(t, err, ErrMemoryPressure)

	// Nothing was uploaded and the original is untouched.
	require.Empty(t, mem.Messages(dst))
	require.Len(t, mem.Messages(src), 1)
}

func TestTransferRejectsFilelessMessage(t *testing.T) {
	t.Parallel()

	mem := telegram.NewMemoryClient()
	src := mem.AddChannel("@src", "Source")
	dst := mem.AddChannel("@dst", "Destination")
	msg := mem.SeedText(src, "no file here")

	s := New(mem)
	_, err := s.Transfer(context.Background(), Request{Source: msg, SourceChannel: src, Dest: dst, NewName: "x.mkv"})
	require.Error(t, err)
}
