// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package event defines the monitoring surface the driver publishes to:
// command, connection-pool, server, and topology events. These are the
// "external collaborators" spec.md §6 describes — applications (and the
// driver's own internal logger) subscribe by supplying the monitor structs
// defined here, none of which the core subsystems depend on internally.
package event

import (
	"time"

	"github.com/docdb-go/docdb/address"
)

// CommandStartedEvent is published immediately before a command is written
// to the wire.
type CommandStartedEvent struct {
	Command      []byte
	DatabaseName string
	CommandName  string
	RequestID    int64
	ConnectionID string
	ServerConnectionID *int64
}

// CommandSucceededEvent is published after a command's reply is decoded
// with ok: 1.0.
type CommandSucceededEvent struct {
	Duration     time.Duration
	Reply        []byte
	CommandName  string
	RequestID    int64
	ConnectionID string
}

// CommandFailedEvent is published when a command fails, whether from a
// server-reported error or a transport failure.
type CommandFailedEvent struct {
	Duration     time.Duration
	CommandName  string
	Failure      error
	RequestID    int64
	ConnectionID string
}

// CommandMonitor is the subscriber interface for command lifecycle events.
// Any field may be nil, in which case that event kind is not published.
type CommandMonitor struct {
	Started   func(CommandStartedEvent)
	Succeeded func(CommandSucceededEvent)
	Failed    func(CommandFailedEvent)
}

// PoolEventType enumerates the kinds of event a connection pool emits.
type PoolEventType string

// The pool event types, matching CMAP's event names.
const (
	PoolCreated              PoolEventType = "PoolCreated"
	PoolReady                PoolEventType = "PoolReady"
	PoolCleared              PoolEventType = "PoolCleared"
	PoolClosedEvent          PoolEventType = "PoolClosed"
	ConnectionCreated        PoolEventType = "ConnectionCreated"
	ConnectionReady          PoolEventType = "ConnectionReady"
	ConnectionClosed         PoolEventType = "ConnectionClosed"
	ConnectionCheckOutStarted   PoolEventType = "ConnectionCheckOutStarted"
	ConnectionCheckOutFailed    PoolEventType = "ConnectionCheckOutFailed"
	ConnectionCheckedOut        PoolEventType = "ConnectionCheckedOut"
	ConnectionCheckedIn         PoolEventType = "ConnectionCheckedIn"
)

// PoolEvent carries the fields relevant to whichever PoolEventType it
// describes; unused fields are left at their zero value.
type PoolEvent struct {
	Type         PoolEventType
	Address      address.Address
	ConnectionID uint64
	PoolOptions  *PoolOptions
	Reason       string
	ServiceID    *[12]byte
	Interruption bool // set on ConnectionClosed when pool was cleared concurrently
}

// PoolOptions mirrors the subset of pool configuration worth reporting in a
// PoolCreated event.
type PoolOptions struct {
	MaxPoolSize uint64
	MinPoolSize uint64
	MaxIdleTime time.Duration
}

// PoolMonitor is the subscriber interface for connection-pool events.
type PoolMonitor struct {
	Event func(*PoolEvent)
}

// ServerDescriptionChangedEvent is published whenever the monitor's view of
// a single server changes (including Unknown -> Unknown transitions that
// merely update the error).
type ServerDescriptionChangedEvent struct {
	Address         address.Address
	TopologyID      string
	PreviousKind    string
	NewKind         string
}

// ServerOpeningEvent/ServerClosedEvent bracket the lifetime of one server's
// monitor goroutine within a topology.
type ServerOpeningEvent struct {
	Address    address.Address
	TopologyID string
}

// ServerClosedEvent is published when a server is removed from the
// topology and its monitor goroutine is stopped.
type ServerClosedEvent struct {
	Address    address.Address
	TopologyID string
}

// ServerMonitor is the subscriber interface for single-server events.
type ServerMonitor struct {
	ServerDescriptionChanged func(*ServerDescriptionChangedEvent)
	ServerOpening            func(*ServerOpeningEvent)
	ServerClosed             func(*ServerClosedEvent)
}

// TopologyDescriptionChangedEvent is published whenever the aggregated
// topology-wide description changes (primary elected, member added, kind
// changed from ReplicaSetNoPrimary to ReplicaSetWithPrimary, ...).
type TopologyDescriptionChangedEvent struct {
	TopologyID   string
	PreviousKind string
	NewKind      string
}

// TopologyOpeningEvent/TopologyClosedEvent bracket the lifetime of a
// Topology value.
type TopologyOpeningEvent struct {
	TopologyID string
}

// TopologyClosedEvent is published when a Topology is disconnected.
type TopologyClosedEvent struct {
	TopologyID string
}

// TopologyMonitor is the subscriber interface for topology-wide events.
type TopologyMonitor struct {
	TopologyDescriptionChanged func(*TopologyDescriptionChangedEvent)
	TopologyOpening            func(*TopologyOpeningEvent)
	TopologyClosed             func(*TopologyClosedEvent)
}

// ServerHeartbeatStartedEvent/ServerHeartbeatSucceededEvent/
// ServerHeartbeatFailedEvent bracket one hello exchange sent by the
// monitor's heartbeat loop.
type ServerHeartbeatStartedEvent struct {
	ConnectionID string
	Awaited      bool
}

// ServerHeartbeatSucceededEvent is published when a heartbeat's hello
// command completes successfully.
type ServerHeartbeatSucceededEvent struct {
	ConnectionID string
	Duration     time.Duration
	Awaited      bool
}

// ServerHeartbeatFailedEvent is published when a heartbeat's hello command
// fails.
type ServerHeartbeatFailedEvent struct {
	ConnectionID string
	Duration     time.Duration
	Awaited      bool
	Failure      error
}
