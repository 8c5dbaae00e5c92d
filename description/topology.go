// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"fmt"

	"github.com/docdb-go/docdb/address"
)

// TopologyKind enumerates the kinds of deployment the topology engine can
// classify the union of server descriptions as.
type TopologyKind uint32

// The topology kinds recognized by the engine.
const (
	TopologyUnknown TopologyKind = iota
	Single
	ReplicaSetNoPrimary
	ReplicaSetWithPrimary
	Sharded
	LoadBalanced
)

func (k TopologyKind) String() string {
	switch k {
	case Single:
		return "Single"
	case ReplicaSetNoPrimary:
		return "ReplicaSetNoPrimary"
	case ReplicaSetWithPrimary:
		return "ReplicaSetWithPrimary"
	case Sharded:
		return "Sharded"
	case LoadBalanced:
		return "LoadBalanced"
	default:
		return "Unknown"
	}
}

// Topology is the aggregated view over every known server, spec.md §3's
// TopologyDescription. Each mutation produces a new value with Version
// incremented, never a mutation of a shared value — invariant 3 of §8
// depends on this.
type Topology struct {
	Kind       TopologyKind
	SetName    string
	MaxSetVersion   uint32
	MaxElectionID   *ObjectID
	SessionTimeoutMinutes *int64
	MaxClusterTime  ClusterTime
	CompatibilityErr error

	Servers []Server

	Version uint64
}

// Server looks up the description for addr, returning (zero, false) if the
// server is not tracked.
func (t Topology) Server(addr address.Address) (Server, bool) {
	for _, s := range t.Servers {
		if s.Addr == addr {
			return s, true
		}
	}
	return Server{}, false
}

// HasPrimary reports whether any tracked server is an RSPrimary.
func (t Topology) HasPrimary() bool {
	for _, s := range t.Servers {
		if s.Kind == RSPrimary {
			return true
		}
	}
	return false
}

// Equal reports whether two topology descriptions describe the same set of
// servers and the same deployment kind — used to suppress no-op change
// events, not for correctness.
func (t Topology) Equal(other Topology) bool {
	if t.Kind != other.Kind || t.SetName != other.SetName || len(t.Servers) != len(other.Servers) {
		return false
	}
	for _, s := range t.Servers {
		o, ok := other.Server(s.Addr)
		if !ok || !s.Equal(o) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer for diagnostics and logging.
func (t Topology) String() string {
	return fmt.Sprintf("Type: %s, Set Name: %s, Servers: %d", t.Kind, t.SetName, len(t.Servers))
}

// SelectedServer pairs a single selected Server with the TopologyKind it was
// selected from, needed by operations that branch behavior on deployment
// shape (for example, whether to pin a transaction to a mongos).
type SelectedServer struct {
	Server
	TopologyKind TopologyKind
}
