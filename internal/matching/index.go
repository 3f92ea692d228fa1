// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matching

import "strings"

// Tier identifies which matching strategy produced a hit. Tiers are checked
// in declaration order; an exact string match is never overridden by a
// coincidental normalized or episode match.
type Tier string

const (
	TierExact      Tier = "exact"
	TierNormalized Tier = "normalized"
	TierEpisode    Tier = "episode"
	TierNone       Tier = "none"
)

// Match is the result of resolving an observed file name against an Index.
type Match struct {
	// OldName is the mapping key that owns this match. Empty when Tier is none.
	OldName string
	Tier    Tier
}

// Index holds the three lookup tables built from a Mapping: exact raw name,
// normalized key and extracted episode number, each mapping to the owning old
// name. Built once per job and immutable afterwards.
type Index struct {
	exact      map[string]string
	normalized map[string]string
	episode    map[int]string
	size       int
}

// BuildIndex registers every old name in mapping order. Normalized-key and
// episode-number collisions are first-registered-wins: a later old name that
// collides with an earlier one stays reachable only through the exact tier.
func BuildIndex(m *Mapping) *Index {
	idx := &Index{
		exact:      make(map[string]string, m.Len()),
		normalized: make(map[string]string, m.Len()),
		episode:    make(map[int]string, m.Len()),
		size:       m.Len(),
	}

	for _, p := range m.Pairs() {
		idx.exact[p.OldName] = p.OldName

		if key := NormalizeName(p.OldName); key != "" {
			if _, claimed := idx.normalized[key]; !claimed {
				idx.normalized[key] = p.OldName
			}
		}

		if ep, ok := ExtractEpisode(p.OldName); ok {
			if _, claimed := idx.episode[ep]; !claimed {
				idx.episode[ep] = p.OldName
			}
		}
	}

	return idx
}

// Resolve checks the tiers in fixed priority order and returns on the first
// hit: exact, then normalized, then episode, then none.
func (idx *Index) Resolve(observedName string) Match {
	name := strings.TrimSpace(observedName)
	if name == "" {
		return Match{Tier: TierNone}
	}

	if owner, ok := idx.exact[name]; ok {
		return Match{OldName: owner, Tier: TierExact}
	}

	if owner, ok := idx.normalized[NormalizeName(name)]; ok {
		return Match{OldName: owner, Tier: TierNormalized}
	}

	if ep, ok := ExtractEpisode(name); ok {
		if owner, ok := idx.episode[ep]; ok {
			return Match{OldName: owner, Tier: TierEpisode}
		}
	}

	return Match{Tier: TierNone}
}

// Len returns the number of old names the index was built from.
func (idx *Index) Len() int {
	return idx.size
}
