// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver implements the execution pipeline (component G): server
// selection, retryability, connection check-out, command construction, and
// response post-processing, per spec.md §4.7. Concrete operation types
// (insert, find, hello, ...) live in x/driver/operation and conform to this
// package's Operation contract rather than reimplementing the pipeline.
package driver

import (
	"context"
	"time"

	"github.com/docdb-go/docdb/address"
	"github.com/docdb-go/docdb/description"
	"github.com/docdb-go/docdb/event"
)

// Type classifies an operation's retry semantics per spec.md §4.7 step 3.
type Type uint8

// The three operation types the pipeline recognizes.
const (
	Unretryable Type = iota
	Read
	Write
)

// RetryMode controls whether an operation may be retried, and whether the
// caller or the operation's own defaults decide.
type RetryMode uint8

// The retry modes an operation can request.
const (
	// RetryNone disables retries regardless of the deployment's retryWrites
	// / retryReads configuration.
	RetryNone RetryMode = iota
	// RetryOnce allows exactly one retry against a freshly selected server.
	RetryOnce
	// RetryOncePerCommand is identical to RetryOnce for a single operation;
	// it exists to mirror the distinction the teacher's driver draws for
	// operations that internally issue more than one command (bulk writes).
	RetryOncePerCommand
	// RetryContext defers to whatever retryWrites/retryReads the connection
	// string configured.
	RetryContext
)

// Enabled reports whether m permits any retry at all.
func (m RetryMode) Enabled() bool { return m == RetryOnce || m == RetryOncePerCommand || m == RetryContext }

// ServerAPIOptions pins an operation (or an entire client) to a declared
// server API version, per the handshake's apiVersion fields.
type ServerAPIOptions struct {
	ServerAPIVersion  string
	Strict            *bool
	DeprecationErrors *bool
}

// Connection is the subset of a pooled connection the pipeline needs:
// writing a framed request and reading its framed reply. Implemented by
// x/driver/topology.Connection.
type Connection interface {
	WriteWireMessage(ctx context.Context, wm []byte) error
	ReadWireMessage(ctx context.Context) ([]byte, error)
	Description() description.Server
	ID() string
	ServerConnectionID() *int64
	DriverConnectionID() uint64
	Address() address.Address
	Stale() bool
	Close() error
}

// Server is a single server the deployment can check a Connection out of,
// and whose current description it can report.
type Server interface {
	Connection(ctx context.Context) (Connection, error)
	Description() description.Server
	ProcessError(err error, conn Connection) description.ServerKind
	RTTMonitor() RTTMonitor
}

// RTTMonitor reports round-trip-time statistics collected by a server's
// background monitor, used to compute gossiped deadlines.
type RTTMonitor interface {
	EWMA() time.Duration
	Min() time.Duration
	P90() time.Duration
	Stats() string
}

// Deployment abstracts the topology engine for the pipeline: selecting a
// server and reporting the deployment's overall kind.
type Deployment interface {
	SelectServer(ctx context.Context, selector description.ServerSelector) (Server, error)
	Kind() description.TopologyKind
}

// SingleConnectionDeployment adapts one already-established Connection to
// the Deployment interface. A getMore or killCursors MUST be sent over the
// exact connection (and, inside a transaction, the exact server) an earlier
// command used rather than asking the topology to select a server again;
// wrapping the connection this way lets that round trip still go through
// the ordinary Operation pipeline (retries excepted — SelectServer never
// fails over to a different server here).
type SingleConnectionDeployment struct {
	C Connection
}

// SelectServer always returns the same pinned connection's server.
func (d SingleConnectionDeployment) SelectServer(context.Context, description.ServerSelector) (Server, error) {
	return singlePinnedServer{d.C}, nil
}

// Kind reports Single, since a pinned connection has no broader topology to
// describe.
func (d SingleConnectionDeployment) Kind() description.TopologyKind { return description.Single }

type singlePinnedServer struct{ c Connection }

func (s singlePinnedServer) Connection(context.Context) (Connection, error) { return s.c, nil }
func (s singlePinnedServer) Description() description.Server                { return s.c.Description() }

// ProcessError is a no-op: a pinned connection's failures are the caller's
// concern (it owns the pin and decides whether to unpin), not the topology
// engine's.
func (s singlePinnedServer) ProcessError(error, Connection) description.ServerKind {
	return description.Unknown
}

func (s singlePinnedServer) RTTMonitor() RTTMonitor { return noopRTTMonitor{} }

type noopRTTMonitor struct{}

func (noopRTTMonitor) EWMA() time.Duration { return 0 }
func (noopRTTMonitor) Min() time.Duration  { return 0 }
func (noopRTTMonitor) P90() time.Duration  { return 0 }
func (noopRTTMonitor) Stats() string       { return "" }

// ResponseInfo carries everything ProcessResponseFn needs beyond the raw
// reply: the server and connection the reply came from, that connection's
// description, and the index of the current batch. It is only built for a
// reply whose ok field is 1, so it carries no error.
type ResponseInfo struct {
	ServerResponse         []byte
	Server                 Server
	Connection             Connection
	ConnectionDescription  description.Server
	CurrentIndex           int
}

// Batches represents the document(s) to attach as an OP_MSG document
// sequence section for a batch write command (insert/update/delete), per
// spec.md §4.1's "sequence of documents tagged by a section identifier".
type Batches struct {
	Identifier string
	Documents  [][]byte
	Ordered    *bool

	offset int
}

// AdvanceBatches drops the documents already acknowledged by the server from
// the front of the batch, used when a write command is itself split across
// more than one wire message by message-size limits.
func (b *Batches) AdvanceBatches(n int) {
	b.offset += n
}

// Size returns the number of documents remaining to send.
func (b *Batches) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Documents) - b.offset
}

// Remaining returns the documents not yet sent.
func (b *Batches) Remaining() [][]byte {
	if b == nil {
		return nil
	}
	return b.Documents[b.offset:]
}

// CommandFn builds the operation-specific portion of the command document
// (everything except the cross-cutting fields the pipeline itself attaches)
// given the server the operation was routed to.
type CommandFn func(dst []byte, desc description.Server) ([]byte, error)

// ProcessResponseFn lets an operation extract its typed result from a
// successful reply.
type ProcessResponseFn func(info ResponseInfo) error

// monitorFireStarted and its siblings below let an event.CommandMonitor or
// nil be used uniformly.
func monitorFireStarted(m *event.CommandMonitor, ev event.CommandStartedEvent) {
	if m != nil && m.Started != nil {
		m.Started(ev)
	}
}

func monitorFireSucceeded(m *event.CommandMonitor, ev event.CommandSucceededEvent) {
	if m != nil && m.Succeeded != nil {
		m.Succeeded(ev)
	}
}

func monitorFireFailed(m *event.CommandMonitor, ev event.CommandFailedEvent) {
	if m != nil && m.Failed != nil {
		m.Failed(ev)
	}
}
