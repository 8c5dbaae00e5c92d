// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"fmt"
	"time"
)

// ReadPreferenceMode is one of the five modes a ReadPreference can select.
type ReadPreferenceMode uint8

// The read preference modes from spec.md's GLOSSARY.
const (
	PrimaryMode ReadPreferenceMode = iota
	PrimaryPreferredMode
	SecondaryMode
	SecondaryPreferredMode
	NearestMode
)

// ReadPreference combines a mode, optional tag sets, and an optional
// maximum staleness, as described by spec.md's GLOSSARY.
type ReadPreference struct {
	Mode          ReadPreferenceMode
	TagSets       []TagSet
	MaxStaleness  time.Duration // zero means unset
}

// Primary returns the {Primary} read preference.
func Primary() *ReadPreference { return &ReadPreference{Mode: PrimaryMode} }

// ServerSelector is anything able to narrow a topology's server list down
// to the subset suitable for an operation — either a ReadPreference or an
// explicit predicate (for example, "any data-bearing server" used by
// retryable writes).
type ServerSelector interface {
	SelectServer(Topology, []Server) ([]Server, error)
}

// ServerSelectorFunc adapts a plain function to the ServerSelector
// interface.
type ServerSelectorFunc func(Topology, []Server) ([]Server, error)

// SelectServer implements ServerSelector.
func (f ServerSelectorFunc) SelectServer(t Topology, svrs []Server) ([]Server, error) {
	return f(t, svrs)
}

// CompositeSelector applies each selector in order, narrowing the
// candidate set at every stage — step 1 through 3 of §4.5's algorithm.
type CompositeSelector struct {
	Selectors []ServerSelector
}

// SelectServer implements ServerSelector.
func (cs *CompositeSelector) SelectServer(t Topology, candidates []Server) ([]Server, error) {
	var err error
	for _, sel := range cs.Selectors {
		candidates, err = sel.SelectServer(t, candidates)
		if err != nil {
			return nil, err
		}
	}
	return candidates, nil
}

// LatencySelector keeps only servers whose average RTT is within window of
// the fastest eligible server — step 4 of §4.5.
type LatencySelector struct {
	Latency time.Duration
}

// SelectServer implements ServerSelector.
func (ls *LatencySelector) SelectServer(_ Topology, candidates []Server) ([]Server, error) {
	if ls.Latency < 0 {
		return nil, fmt.Errorf("negative latency window: %s", ls.Latency)
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	min := candidates[0].AverageRTT
	for _, s := range candidates[1:] {
		if s.AverageRTT < min {
			min = s.AverageRTT
		}
	}

	var within []Server
	for _, s := range candidates {
		if s.AverageRTT-min <= ls.Latency {
			within = append(within, s)
		}
	}
	return within, nil
}

// ReadPrefSelector filters by server kind and tag set according to a
// ReadPreference — steps 1 and 2 of §4.5.
type ReadPrefSelector struct {
	RP *ReadPreference
}

// SelectServer implements ServerSelector.
func (rs *ReadPrefSelector) SelectServer(t Topology, candidates []Server) ([]Server, error) {
	if t.Kind == Single || t.Kind == LoadBalanced {
		// A direct connection or a load balancer has exactly one selectable
		// server regardless of read preference.
		return candidates, nil
	}
	if t.Kind == Sharded {
		// The driver defers read preference enforcement to the mongos; any
		// known router is selectable.
		return candidates, nil
	}

	rp := rs.RP
	if rp == nil {
		rp = Primary()
	}

	var byKind []Server
	for _, s := range candidates {
		switch rp.Mode {
		case PrimaryMode:
			if s.Kind == RSPrimary {
				byKind = append(byKind, s)
			}
		case PrimaryPreferredMode:
			if s.Kind == RSPrimary {
				return []Server{s}, nil
			}
			if s.Kind == RSSecondary {
				byKind = append(byKind, s)
			}
		case SecondaryMode:
			if s.Kind == RSSecondary {
				byKind = append(byKind, s)
			}
		case SecondaryPreferredMode:
			if s.Kind == RSSecondary {
				byKind = append(byKind, s)
			}
		case NearestMode:
			if s.Kind == RSPrimary || s.Kind == RSSecondary {
				byKind = append(byKind, s)
			}
		}
	}

	if rp.Mode == SecondaryPreferredMode && len(byKind) == 0 {
		for _, s := range candidates {
			if s.Kind == RSPrimary {
				return []Server{s}, nil
			}
		}
	}

	return filterByTagSets(byKind, rp.TagSets), nil
}

// filterByTagSets returns the servers matching the first tag set (in
// order) that matches at least one server; if none of the tag sets match
// anything, the result is empty, per §4.5 step 2.
func filterByTagSets(servers []Server, tagSets []TagSet) []Server {
	if len(tagSets) == 0 {
		return servers
	}
	for _, ts := range tagSets {
		if len(ts) == 0 {
			return servers
		}
		var matched []Server
		for _, s := range servers {
			if s.Tags.ContainsAll(ts) {
				matched = append(matched, s)
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}
	return nil
}

// WriteSelector selects servers able to accept writes: the primary in a
// replica set, any server in a standalone/sharded/load-balanced topology.
type WriteSelector struct{}

// SelectServer implements ServerSelector.
func (WriteSelector) SelectServer(t Topology, candidates []Server) ([]Server, error) {
	if t.Kind != ReplicaSetWithPrimary && t.Kind != ReplicaSetNoPrimary {
		return candidates, nil
	}
	var primaries []Server
	for _, s := range candidates {
		if s.Kind == RSPrimary {
			primaries = append(primaries, s)
		}
	}
	return primaries, nil
}
