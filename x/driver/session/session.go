// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package session implements the logical- and server-session machinery of
// components F (server-session pool) and the ClientSession/ServerSession/
// TransactionState data model of spec.md §3.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docdb-go/docdb/bsoncore"
)

// ServerSession is a server-issued logical session identifier, spec.md §3's
// ServerSession: an id, a last-use instant, and a dirty flag set when a
// network error occurs while the session is in use.
type ServerSession struct {
	SessionID  bsoncore.Document
	LastUsed   time.Time
	Dirty      bool
	txnNumber  int64
}

func newServerSession() (*ServerSession, error) {
	id := uuid.New()
	dst, idx := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendBinaryElement(dst, "id", 0x04, id[:])
	dst = bsoncore.AppendDocumentEnd(dst, idx)
	return &ServerSession{SessionID: bsoncore.Document(dst), LastUsed: time.Now()}, nil
}

// expired reports whether s is within timeout of its advertised expiry,
// the "one minute of expiry" rule from spec.md §4.6.
func (s *ServerSession) expired(timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return time.Since(s.LastUsed) >= timeout-time.Minute
}

// nextTxnNumber returns the next transaction number for this server
// session, monotonically increasing per spec.md invariant 4.
func (s *ServerSession) nextTxnNumber() int64 {
	s.txnNumber++
	return s.txnNumber
}

// Pool is the server-session pool, component F: a deque keyed by recency,
// honoring the server-advertised session timeout.
type Pool struct {
	mu      sync.Mutex
	entries []*ServerSession
	timeout func() time.Duration
}

// NewPool constructs a Pool. timeoutFn is consulted on every check-out and
// check-in so the pool always uses the topology's current advertised
// session timeout rather than a value captured at construction time.
func NewPool(timeoutFn func() time.Duration) *Pool {
	return &Pool{timeout: timeoutFn}
}

// CheckOut drops sessions within one minute of expiry from the front of the
// deque until a usable one is found, then returns it; if the deque is
// exhausted, a fresh session is created.
func (p *Pool) CheckOut() (*ServerSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timeout := p.timeout()
	for len(p.entries) > 0 {
		s := p.entries[0]
		p.entries = p.entries[1:]
		if !s.expired(timeout) {
			return s, nil
		}
	}
	return newServerSession()
}

// CheckIn returns s to the front of the deque unless it is expired or
// dirty, in which case it is discarded.
func (p *Pool) CheckIn(s *ServerSession) {
	if s == nil || s.Dirty {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.expired(p.timeout()) {
		return
	}
	p.entries = append([]*ServerSession{s}, p.entries...)
}

// IDs returns every pooled session id, used to build "end sessions" batches
// on client shutdown.
func (p *Pool) IDs() []bsoncore.Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]bsoncore.Document, len(p.entries))
	for i, s := range p.entries {
		ids[i] = s.SessionID
	}
	return ids
}

// EndSessionsBatches splits ids into chunks no larger than batchSize, the
// shape the "endSessions" command's per-command batching requires.
func EndSessionsBatches(ids []bsoncore.Document, batchSize int) [][]bsoncore.Document {
	if batchSize <= 0 {
		batchSize = 10000
	}
	var batches [][]bsoncore.Document
	for len(ids) > 0 {
		n := batchSize
		if n > len(ids) {
			n = len(ids)
		}
		batches = append(batches, ids[:n])
		ids = ids[n:]
	}
	return batches
}
