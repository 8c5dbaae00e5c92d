// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package description holds the immutable snapshots that the monitor (D)
// publishes and the topology engine (E) aggregates: ServerDescription and
// TopologyDescription from spec.md §3.
package description

import (
	"time"

	"github.com/docdb-go/docdb/address"
	"github.com/docdb-go/docdb/bson"
)

// ServerKind enumerates the kinds a single server can report itself as.
type ServerKind uint32

// The server kinds recognized by the topology engine.
const (
	Unknown ServerKind = iota
	Standalone
	RSPrimary
	RSSecondary
	RSArbiter
	RSOther
	RSGhost
	Mongos
	LoadBalancer
)

func (k ServerKind) String() string {
	switch k {
	case Standalone:
		return "Standalone"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case RSArbiter:
		return "RSArbiter"
	case RSOther:
		return "RSOther"
	case RSGhost:
		return "RSGhost"
	case Mongos:
		return "Mongos"
	case LoadBalancer:
		return "LoadBalancer"
	default:
		return "Unknown"
	}
}

// VersionRange is an inclusive [Min, Max] range of wire protocol versions.
type VersionRange struct {
	Min, Max int32
}

// Includes reports whether v falls within the range.
func (vr VersionRange) Includes(v int32) bool {
	return v >= vr.Min && v <= vr.Max
}

// ObjectID is a 12-byte identifier, used here for election ids.
type ObjectID [12]byte

// IsZero reports whether the id is the zero value.
func (o ObjectID) IsZero() bool { return o == ObjectID{} }

// Compare returns -1, 0, or 1 comparing o to other byte-wise, mirroring the
// ordering the server itself uses for ObjectIDs.
func (o ObjectID) Compare(other ObjectID) int {
	for i := range o {
		if o[i] != other[i] {
			if o[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// TopologyVersion is an opaque, monotonically increasing marker a server
// attaches to hello responses; it is compared, never interpreted.
type TopologyVersion struct {
	ProcessID ObjectID
	Counter   int64
}

// CompareTopologyVersion compares current to an incoming TopologyVersion,
// returning -1 if current's counter is lower, 1 if it is higher, and 0 if
// the counters are equal. It also returns 0 when either version is nil or
// when the two process ids differ.
func CompareTopologyVersion(current, incoming *TopologyVersion) int {
	if current == nil || incoming == nil {
		return 0
	}
	if current.ProcessID != incoming.ProcessID {
		return 0
	}
	switch {
	case current.Counter < incoming.Counter:
		return -1
	case current.Counter > incoming.Counter:
		return 1
	default:
		return 0
	}
}

// ClusterTime is the monotonic logical timestamp gossiped on every reply
// and every outgoing command.
type ClusterTime struct {
	Time      uint32
	Increment uint32
}

// Compare returns -1, 0, or 1 comparing ct to other.
func (ct ClusterTime) Compare(other ClusterTime) int {
	if ct.Time != other.Time {
		if ct.Time < other.Time {
			return -1
		}
		return 1
	}
	if ct.Increment != other.Increment {
		if ct.Increment < other.Increment {
			return -1
		}
		return 1
	}
	return 0
}

// MaxClusterTime returns the larger of two cluster times, treating the zero
// value as the minimum.
func MaxClusterTime(a, b ClusterTime) ClusterTime {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// TagSet is a set of key/value pairs a replica-set member advertises, used
// for tag-aware read preference filtering.
type TagSet map[string]string

// ContainsAll reports whether ts has every key/value pair in other.
func (ts TagSet) ContainsAll(other TagSet) bool {
	for k, v := range other {
		if ts[k] != v {
			return false
		}
	}
	return true
}

// Server is an immutable snapshot of one server, as described by spec.md
// §3's ServerDescription.
type Server struct {
	Addr address.Address

	Kind ServerKind

	WireVersion *VersionRange

	Hosts    []string
	Passives []string
	Arbiters []string

	SetName          string
	SetVersion       uint32
	ElectionID       *ObjectID
	Primary          address.Address
	TopologyVersion  *TopologyVersion
	Tags             TagSet
	SessionTimeoutMinutes *int64

	AverageRTT    time.Duration
	AverageRTTSet bool
	HeartbeatInterval time.Duration

	LastWriteTime time.Time
	LastUpdateTime time.Time
	OpTime        *ClusterTime
	ClusterTime   bson.Raw

	// Compression lists the compressors the server reported sharing with
	// the client's own advertised list, in the client's preference order,
	// negotiated once at handshake. Empty means the connection speaks
	// uncompressed OP_MSG only.
	Compression []string

	LastError error
}

// NewDefaultServer returns the zero-value Unknown description for a freshly
// discovered address, used before the first heartbeat completes.
func NewDefaultServer(addr address.Address) Server {
	return Server{Addr: addr, Kind: Unknown, LastUpdateTime: time.Now()}
}

// NewServerFromError returns an Unknown description carrying a monitor
// failure, optionally preserving a newer topology version so a racing
// success response isn't later treated as authoritative over a more recent
// failure signal.
func NewServerFromError(addr address.Address, err error, tv *TopologyVersion) Server {
	return Server{
		Addr:            addr,
		Kind:            Unknown,
		LastError:       err,
		TopologyVersion: tv,
		LastUpdateTime:  time.Now(),
	}
}

// SetAverageRTT returns a copy of s with the average RTT set, as the
// monitor does after each successful heartbeat.
func (s Server) SetAverageRTT(rtt time.Duration) Server {
	s.AverageRTT = rtt
	s.AverageRTTSet = true
	return s
}

// DataBearing reports whether this server kind holds application data (and
// therefore its session timeout counts toward the topology-wide minimum).
func (s Server) DataBearing() bool {
	switch s.Kind {
	case Standalone, RSPrimary, RSSecondary, Mongos:
		return true
	default:
		return false
	}
}

// Equal reports whether two server descriptions are semantically
// equivalent for the purpose of deciding whether to publish a change event.
func (s Server) Equal(other Server) bool {
	if s.Addr != other.Addr || s.Kind != other.Kind || s.SetName != other.SetName {
		return false
	}
	if (s.LastError == nil) != (other.LastError == nil) {
		return false
	}
	if len(s.Hosts) != len(other.Hosts) {
		return false
	}
	for i := range s.Hosts {
		if s.Hosts[i] != other.Hosts[i] {
			return false
		}
	}
	return true
}
