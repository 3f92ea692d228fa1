// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package telegram defines the boundary to the messaging platform. The core
// never talks wire protocol; it drives a Client implementation and reacts to
// the structured errors defined here. Adapters register themselves by name
// and are selected through configuration.
package telegram

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Credentials carries everything an adapter needs to open a session.
type Credentials struct {
	APIID         string `json:"api_id"`
	APIHash       string `json:"api_hash"`
	Phone         string `json:"phone"`
	SessionString string `json:"session_string,omitempty"`
}

// Session is returned after a successful login. The string form can be reused
// on a later job to skip the interactive code exchange.
type Session struct {
	String string
}

// CodePromptFunc is invoked by an adapter when the platform demands an
// interactive login code. Implementations block until the code arrives from
// the operator or the context is cancelled.
type CodePromptFunc func(ctx context.Context) (string, error)

// Channel is a resolved channel handle. ID is opaque to the core; Title is
// for logs only.
type Channel struct {
	ID    int64
	Title string
}

// File is a file attachment observed on a message. Ref is the platform
// content handle and stays opaque to the core.
type File struct {
	Name string
	Size int64
	Ref  any
}

// Message is one entry of a channel's history.
type Message struct {
	ID      int64
	File    *File
	Caption string
}

// Client is the messaging platform collaborator. History pages are returned
// newest-first; beforeID is an exclusive cursor (0 means newest). All calls
// honor context cancellation.
type Client interface {
	Authenticate(ctx context.Context, creds Credentials, prompt CodePromptFunc) (Session, error)
	Resolve(ctx context.Context, identifier string) (Channel, error)
	History(ctx context.Context, ch Channel, pageSize int, beforeID int64) ([]Message, error)
	Download(ctx context.Context, file *File) (io.ReadCloser, error)
	Upload(ctx context.Context, ch Channel, content io.Reader, size int64, name, caption string) error
	// Rename re-registers an existing content handle under the destination
	// channel with a new name attribute, without transferring bytes. Only
	// valid when SupportsInPlaceRename reports true.
	Rename(ctx context.Context, src Message, dst Channel, newName, caption string) error
	SupportsInPlaceRename() bool
	Delete(ctx context.Context, ch Channel, messageID int64) error
	Close() error
}

// Factory builds a Client for one job. Adapters receive the adapter-specific
// settings block from the configuration.
type Factory func(ctx context.Context, settings map[string]string) (Client, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterAdapter makes a client factory selectable by name.
func RegisterAdapter(name string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = factory
}

// NewClient builds a client using the adapter registered under name.
func NewClient(ctx context.Context, name string, settings map[string]string) (Client, error) {
	factoryMu.RLock()
	factory, ok := factories[name]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown telegram adapter %q (registered: %v)", name, adapterNames())
	}
	return factory(ctx, settings)
}

func adapterNames() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
