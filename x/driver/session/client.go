// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"sync"

	"github.com/docdb-go/docdb/bsoncore"
	"github.com/docdb-go/docdb/description"
)

// TransactionState is the small state machine spec.md §3 describes for a
// multi-document transaction.
type TransactionState uint8

// The states a transaction moves through, in order.
const (
	None TransactionState = iota
	Starting
	InProgress
	Committed
	Aborted
)

// Client is the application-visible ClientSession handle wrapping a
// ServerSession plus cluster-time/operation-time tracking, transaction
// state, and pin slots.
type Client struct {
	mu sync.Mutex

	Server *ServerSession
	pool   *Pool

	SessionID bsoncore.Document

	clusterTime bsoncore.Document
	opTimeSet   bool
	opTimeT     uint32
	opTimeI     uint32

	CausalConsistency bool
	Snapshot          bool

	txnState    TransactionState
	txnNumber   int64
	txnOptions  TransactionOptions

	pinnedServer     description.Server
	pinnedServerSet  bool
	pinnedConnection interface{ Close() error }
}

// TransactionOptions carries the write/read concern resolved when a
// transaction starts, per spec.md §3's "accumulates write-concern and
// read-concern resolved at start time."
type TransactionOptions struct {
	WriteConcernMajority bool
	ReadConcernLevel     string
}

// NewClient checks out a ServerSession from pool and wraps it.
func NewClient(pool *Pool, causalConsistency bool) (*Client, error) {
	ss, err := pool.CheckOut()
	if err != nil {
		return nil, err
	}
	return &Client{Server: ss, pool: pool, SessionID: ss.SessionID, CausalConsistency: causalConsistency}, nil
}

// EndSession returns the underlying ServerSession to the pool (or discards
// it, if dirty), per spec.md §3's lifecycle rule.
func (c *Client) EndSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Server != nil {
		c.pool.CheckIn(c.Server)
		c.Server = nil
	}
}

// MarkDirty flags the underlying ServerSession as dirty after a network
// error occurs while it is in use, so it is discarded rather than reused.
func (c *Client) MarkDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Server != nil {
		c.Server.Dirty = true
	}
}

// SessionIDDocument returns the session's lsid document, satisfying any
// caller (such as a cursor's getMore/killCursors round trip) that only
// needs to gossip the session id without the rest of the Client API.
func (c *Client) SessionIDDocument() bsoncore.Document { return c.SessionID }

// TxnNumber returns the transaction number currently attached to commands
// on this session (0 outside of a retryable-write/transaction context).
func (c *Client) TxnNumber() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnNumber
}

// StartTransaction begins a new transaction: txnState moves None/Aborted/
// Committed -> Starting, and the transaction number increments, preserving
// invariant 4 (strictly increasing transaction numbers within a session).
func (c *Client) StartTransaction(opts TransactionOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txnState == Starting || c.txnState == InProgress {
		return errTransactionInProgress
	}
	c.txnNumber = c.Server.nextTxnNumber()
	c.txnState = Starting
	c.txnOptions = opts
	return nil
}

// AdvanceTransactionState moves Starting -> InProgress, called after the
// first operation in a transaction has been sent.
func (c *Client) AdvanceTransactionState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txnState == Starting {
		c.txnState = InProgress
	}
}

// TransactionState returns the current state.
func (c *Client) TransactionState() TransactionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnState
}

// TransactionOptions returns the options resolved when the current
// transaction started.
func (c *Client) TransactionOptions() TransactionOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnOptions
}

// CommitTransaction moves InProgress -> Committed.
func (c *Client) CommitTransaction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txnState = Committed
}

// AbortTransaction moves Starting/InProgress -> Aborted and releases any
// pin, per the transaction-abort path of spec.md §4.7.
func (c *Client) AbortTransaction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txnState = Aborted
	c.pinnedServerSet = false
	c.pinnedConnection = nil
}

// PinServer pins the session to a mongos for the remainder of the
// transaction, per spec.md §4.7(b).
func (c *Client) PinServer(desc description.Server) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinnedServer = desc
	c.pinnedServerSet = true
}

// PinnedServer returns the pinned server description, if any.
func (c *Client) PinnedServer() (description.Server, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinnedServer, c.pinnedServerSet
}

// PinConnection pins a connection for the remainder of the transaction or
// an exhaust cursor. The parameter is typed as an io.Closer-shaped
// interface to avoid an import cycle with x/driver.
func (c *Client) PinConnection(conn interface{ Close() error }) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinnedConnection = conn
}

// PinnedConnection returns the pinned connection, or nil.
func (c *Client) PinnedConnection() interface{ Close() error } {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinnedConnection
}

// Unpin releases any server/connection pin without altering txnState; used
// when a pinned connection's pool is cleared mid-transaction (Open Question
// decision #2: the transaction still aborts via the caller noticing the
// TransientTransactionError label, this only clears the now-stale pin).
func (c *Client) Unpin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinnedServerSet = false
	c.pinnedConnection = nil
}

// AdvanceOperationTime records a newly observed operationTime if it is
// greater than what the session has already seen, preserving monotonicity
// (invariant 5).
func (c *Client) AdvanceOperationTime(t, i uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opTimeSet || t > c.opTimeT || (t == c.opTimeT && i > c.opTimeI) {
		c.opTimeT, c.opTimeI, c.opTimeSet = t, i, true
	}
}

// OperationTime returns the highest operationTime observed so far.
func (c *Client) OperationTime() (t, i uint32, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opTimeT, c.opTimeI, c.opTimeSet
}

type transactionError string

func (e transactionError) Error() string { return string(e) }

const errTransactionInProgress = transactionError("a transaction is already in progress on this session")
