// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matching

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyMapping is returned when a rename request carries no pairs.
	ErrEmptyMapping = errors.New("rename mapping is empty")
	// ErrEmptyName is returned when an old or new name is blank after trimming.
	ErrEmptyName = errors.New("rename mapping contains an empty name")
)

// Pair is one requested rename: the name a file currently carries in the
// source channel and the name it should carry at the destination.
type Pair struct {
	OldName string `json:"old"`
	NewName string `json:"new"`
}

// Mapping is an ordered set of rename pairs. Old names are unique within a
// mapping; construction rejects duplicates rather than silently letting the
// last pair win.
type Mapping struct {
	pairs []Pair
	byOld map[string]string
}

// NewMapping validates and builds a Mapping from the request pairs. Names are
// trimmed; blank names and duplicate old names are rejected.
func NewMapping(pairs []Pair) (*Mapping, error) {
	if len(pairs) == 0 {
		return nil, ErrEmptyMapping
	}

	m := &Mapping{
		pairs: make([]Pair, 0, len(pairs)),
		byOld: make(map[string]string, len(pairs)),
	}

	for i, p := range pairs {
		oldName := strings.TrimSpace(p.OldName)
		newName := strings.TrimSpace(p.NewName)
		if oldName == "" || newName == "" {
			return nil, fmt.Errorf("pair %d: %w", i, ErrEmptyName)
		}
		if _, dup := m.byOld[oldName]; dup {
			return nil, fmt.Errorf("duplicate old name %q", oldName)
		}

		// A new name without an extension inherits the old name's extension,
		// so "Ep01" against "raw1.mkv" produces "Ep01.mkv". When the old name
		// carries no extension either, default to .mkv.
		if !strings.Contains(newName, ".") {
			ext := ".mkv"
			if dot := strings.LastIndex(oldName, "."); dot >= 0 && dot < len(oldName)-1 {
				ext = oldName[dot:]
			}
			newName += ext
		}

		m.pairs = append(m.pairs, Pair{OldName: oldName, NewName: newName})
		m.byOld[oldName] = newName
	}

	return m, nil
}

// Pairs returns the rename pairs in request order.
func (m *Mapping) Pairs() []Pair {
	return m.pairs
}

// NewNameFor returns the requested new name for oldName.
func (m *Mapping) NewNameFor(oldName string) (string, bool) {
	newName, ok := m.byOld[oldName]
	return newName, ok
}

// Len returns the number of requested renames.
func (m *Mapping) Len() int {
	return len(m.pairs)
}
