// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

func init() {
	RegisterAdapter("memory", func(_ context.Context, _ map[string]string) (Client, error) {
		return NewMemoryClient(), nil
	})
}

// MemoryClient is an in-process Client used by the test suite and by dry-run
// mode. Channels and messages live in memory; file content handles are plain
// byte slices. Failure hooks let tests inject errors at specific calls, the
// same function-field style the service tests use elsewhere.
type MemoryClient struct {
	mu         sync.Mutex
	channels   map[string]*memoryChannel
	byID       map[int64]*memoryChannel
	nextChanID int64
	nextMsgID  int64

	// RenameSupported controls SupportsInPlaceRename. Defaults to true.
	RenameSupported bool
	// RequireCode makes Authenticate demand an interactive code unless the
	// credentials already carry a session string.
	RequireCode bool
	// ExpectedCode, when set, is the only code Authenticate accepts.
	ExpectedCode string

	// Failure hooks. A nil hook never fails.
	HistoryErr   error
	FailUpload   func(name string) error
	FailRename   func(newName string) error
	FailDownload func(name string) error
	FailDelete   func(messageID int64) error

	downloadCalls int
	uploadedBytes int64
}

type memoryChannel struct {
	ch   Channel
	msgs []Message
}

// NewMemoryClient returns an empty in-memory client with in-place rename
// enabled.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		channels:        make(map[string]*memoryChannel),
		byID:            make(map[int64]*memoryChannel),
		RenameSupported: true,
	}
}

// AddChannel registers a channel resolvable by the given identifier.
func (m *MemoryClient) AddChannel(identifier, title string) Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextChanID++
	mc := &memoryChannel{ch: Channel{ID: m.nextChanID, Title: title}}
	m.channels[ParseIdentifier(identifier).Value] = mc
	m.byID[mc.ch.ID] = mc
	return mc.ch
}

// SeedFile appends a file-bearing message to a channel and returns it.
func (m *MemoryClient) SeedFile(ch Channel, name string, content []byte, caption string) Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextMsgID++
	msg := Message{
		ID:      m.nextMsgID,
		File:    &File{Name: name, Size: int64(len(content)), Ref: content},
		Caption: caption,
	}
	m.byID[ch.ID].msgs = append(m.byID[ch.ID].msgs, msg)
	return msg
}

// SeedText appends a message without a file attachment.
func (m *MemoryClient) SeedText(ch Channel, text string) Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextMsgID++
	msg := Message{ID: m.nextMsgID, Caption: text}
	m.byID[ch.ID].msgs = append(m.byID[ch.ID].msgs, msg)
	return msg
}

// Messages returns a copy of a channel's messages, oldest first.
func (m *MemoryClient) Messages(ch Channel) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc := m.byID[ch.ID]
	out := make([]Message, len(mc.msgs))
	copy(out, mc.msgs)
	return out
}

// DownloadCalls reports how many times Download was invoked. Zero after a
// successful in-place rename is what "zero bytes transferred" looks like.
func (m *MemoryClient) DownloadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloadCalls
}

// UploadedBytes reports the total content bytes received by Upload.
func (m *MemoryClient) UploadedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploadedBytes
}

func (m *MemoryClient) Authenticate(ctx context.Context, creds Credentials, prompt CodePromptFunc) (Session, error) {
	if m.RequireCode && creds.SessionString == "" {
		if prompt == nil {
			return Session{}, fmt.Errorf("interactive code required but no prompt available")
		}
		code, err := prompt(ctx)
		if err != nil {
			return Session{}, err
		}
		if m.ExpectedCode != "" && code != m.ExpectedCode {
			return Session{}, ErrCodeRejected
		}
	}
	return Session{String: "memory:" + creds.Phone}, nil
}

func (m *MemoryClient) Resolve(_ context.Context, identifier string) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.channels[ParseIdentifier(identifier).Value]
	if !ok {
		return Channel{}, fmt.Errorf("resolving %q: %w", identifier, ErrChannelNotFound)
	}
	return mc.ch, nil
}

func (m *MemoryClient) History(ctx context.Context, ch Channel, pageSize int, beforeID int64) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.byID[ch.ID]
	if !ok {
		return nil, ErrChannelNotFound
	}

	var page []Message
	for i := len(mc.msgs) - 1; i >= 0 && len(page) < pageSize; i-- {
		msg := mc.msgs[i]
		if beforeID > 0 && msg.ID >= beforeID {
			continue
		}
		page = append(page, msg)
	}
	return page, nil
}

func (m *MemoryClient) Download(ctx context.Context, file *File) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailDownload != nil {
		if err := m.FailDownload(file.Name); err != nil {
			return nil, err
		}
	}

	content, ok := file.Ref.([]byte)
	if !ok {
		return nil, fmt.Errorf("content handle for %q is not downloadable", file.Name)
	}

	m.mu.Lock()
	m.downloadCalls++
	m.mu.Unlock()

	return io.NopCloser(bytes.NewReader(content)), nil
}

func (m *MemoryClient) Upload(ctx context.Context, ch Channel, content io.Reader, size int64, name, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailUpload != nil {
		if err := m.FailUpload(name); err != nil {
			return err
		}
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("reading upload content: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("upload size mismatch for %q: declared %d, read %d", name, size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.byID[ch.ID]
	if !ok {
		return ErrChannelNotFound
	}
	m.nextMsgID++
	m.uploadedBytes += int64(len(data))
	mc.msgs = append(mc.msgs, Message{
		ID:      m.nextMsgID,
		File:    &File{Name: name, Size: int64(len(data)), Ref: data},
		Caption: caption,
	})
	return nil
}

func (m *MemoryClient) Rename(ctx context.Context, src Message, dst Channel, newName, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.SupportsInPlaceRename() {
		return ErrRenameUnsupported
	}
	if m.FailRename != nil {
		if err := m.FailRename(newName); err != nil {
			return err
		}
	}
	if src.File == nil {
		return fmt.Errorf("message %d carries no file", src.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.byID[dst.ID]
	if !ok {
		return ErrChannelNotFound
	}
	m.nextMsgID++
	mc.msgs = append(mc.msgs, Message{
		ID:      m.nextMsgID,
		File:    &File{Name: newName, Size: src.File.Size, Ref: src.File.Ref},
		Caption: caption,
	})
	return nil
}

func (m *MemoryClient) SupportsInPlaceRename() bool {
	return m.RenameSupported
}

func (m *MemoryClient) Delete(ctx context.Context, ch Channel, messageID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailDelete != nil {
		if err := m.FailDelete(messageID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.byID[ch.ID]
	if !ok {
		return ErrChannelNotFound
	}
	for i, msg := range mc.msgs {
		if msg.ID == messageID {
			mc.msgs = append(mc.msgs[:i], mc.msgs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message %d not found", messageID)
}

func (m *MemoryClient) Close() error {
	return nil
}
