// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology implements components C (connection pool), D (monitor),
// and E (topology engine): the CMAP-style per-server pool, the heartbeat
// loop, and the aggregated topology view that drives server selection.
package topology

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docdb-go/docdb/address"
	"github.com/docdb-go/docdb/event"
)

// ErrPoolClosed is returned by check-out after the pool has been closed.
var ErrPoolClosed = errors.New("connection pool is closed")

// ErrConnectionClosed/ErrWaitQueueTimeout describe the other two terminal
// check-out failures spec.md §4.7 names.
var (
	ErrConnectionClosed  = errors.New("connection is closed")
	ErrWaitQueueTimeout  = errors.New("timed out while checking out a connection")
)

type poolState uint8

const (
	poolPaused poolState = iota
	poolReady
	poolClosed
)

// poolConfig configures a pool at construction time.
type poolConfig struct {
	Address     address.Address
	MinPoolSize uint64
	MaxPoolSize uint64
	MaxConnecting uint64
	MaxIdleTime time.Duration
	PoolMonitor *event.PoolMonitor

	Connect func(ctx context.Context) (*Connection, error)
}

// pool is the per-server CMAP connection pool, component C. Its state is
// behind a single mutex; no I/O happens while the lock is held — dialing a
// new connection releases the lock and reacquires only to insert the
// result, per spec.md §5's "Shared resources" rule.
type pool struct {
	cfg poolConfig

	mu         sync.Mutex
	state      poolState
	generation uint64
	idle       *list.List // of *Connection, front = most-recently-returned
	checkedOut map[uint64]*Connection
	nextConnID uint64
	waiters    *list.List // of chan struct{}, FIFO

	connecting *semaphore.Weighted

	done         chan struct{}
	maintainOnce sync.Once
	maintainWG   sync.WaitGroup

	closeOnce sync.Once
}

func newPool(cfg poolConfig) *pool {
	maxConnecting := cfg.MaxConnecting
	if maxConnecting == 0 {
		maxConnecting = 2
	}
	return &pool{
		cfg:        cfg,
		state:      poolPaused,
		idle:       list.New(),
		checkedOut: make(map[uint64]*Connection),
		waiters:    list.New(),
		connecting: semaphore.NewWeighted(int64(maxConnecting)),
		done:       make(chan struct{}),
	}
}

// ready transitions the pool to accepting check-outs, called once the
// server's monitor has confirmed the deployment is reachable (or
// immediately, for a direct connection), and starts the background
// maintenance task spec.md §4.3 describes.
func (p *pool) ready() {
	p.mu.Lock()
	if p.state == poolPaused {
		p.state = poolReady
	}
	p.mu.Unlock()
	p.fireEvent(&event.PoolEvent{Type: event.PoolReady, Address: p.cfg.Address})
	p.maintainOnce.Do(func() {
		p.maintainWG.Add(1)
		go p.maintain()
	})
}

// maintainInterval is spec.md §4.3's "roughly every 100ms" cadence for the
// background task that prunes idle connections past maxIdleTimeMS and
// tops the idle list back up to minPoolSize.
const maintainInterval = 100 * time.Millisecond

// maintain runs until the pool is disconnected, periodically pruning idle
// connections that have sat past MaxIdleTime and dialing fresh ones so the
// pool never drops below MinPoolSize while ready — so an application's
// first check-out after a quiet period doesn't always pay a dial's latency.
func (p *pool) maintain() {
	defer p.maintainWG.Done()
	ticker := time.NewTicker(maintainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.pruneIdle()
			p.refillToMinSize()
		}
	}
}

// pruneIdle closes any idle connection that has sat past MaxIdleTime
// without being checked out, rather than waiting for an opportunistic
// check-in to notice.
func (p *pool) pruneIdle() {
	if p.cfg.MaxIdleTime <= 0 {
		return
	}
	p.mu.Lock()
	var toClose []*Connection
	for e := p.idle.Front(); e != nil; {
		next := e.Next()
		c := e.Value.(*Connection)
		if time.Since(c.lastUsed) > p.cfg.MaxIdleTime {
			p.idle.Remove(e)
			toClose = append(toClose, c)
		}
		e = next
	}
	p.mu.Unlock()

	for _, c := range toClose {
		c.closeStream()
		p.fireEvent(&event.PoolEvent{Type: event.ConnectionClosed, Address: p.cfg.Address, ConnectionID: c.id, Reason: "idle"})
	}
}

// refillToMinSize dials new connections, one at a time, until the pool
// holds at least MinPoolSize connections (idle plus checked-out) or is no
// longer ready — the part of spec.md §4.3 that otherwise leaves
// MinPoolSize entirely unconsumed.
func (p *pool) refillToMinSize() {
	if p.cfg.MinPoolSize == 0 {
		return
	}
	for {
		p.mu.Lock()
		if p.state != poolReady {
			p.mu.Unlock()
			return
		}
		total := uint64(p.idle.Len() + len(p.checkedOut))
		if total >= p.cfg.MinPoolSize || (p.cfg.MaxPoolSize > 0 && total >= p.cfg.MaxPoolSize) {
			p.mu.Unlock()
			return
		}
		gen := p.generation
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		c, err := p.dial(ctx, gen)
		cancel()
		if err != nil {
			// The next tick will retry; a persistent dial failure surfaces
			// through the ordinary heartbeat/check-out paths instead.
			return
		}

		p.mu.Lock()
		if p.state != poolReady || c.generation != p.generation {
			p.mu.Unlock()
			c.closeStream()
			return
		}
		p.idle.PushBack(c)
		p.mu.Unlock()
	}
}

// clear bumps the pool's generation, invalidating every connection checked
// out or idle before this call — spec.md invariant 2. Idle connections are
// closed synchronously; checked-out connections are discarded on check-in.
func (p *pool) clear(reason string) {
	p.mu.Lock()
	p.generation++
	p.state = poolPaused
	var toClose []*Connection
	for e := p.idle.Front(); e != nil; e = e.Next() {
		toClose = append(toClose, e.Value.(*Connection))
	}
	p.idle.Init()
	p.mu.Unlock()

	for _, c := range toClose {
		c.closeStream()
	}
	p.fireEvent(&event.PoolEvent{Type: event.PoolCleared, Address: p.cfg.Address, Reason: reason})
}

// generationNow returns the pool's current generation.
func (p *pool) generationNow() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// operationCount returns the number of connections currently checked out,
// used by server selection's operation-count tie-break (spec.md §4.5 step
// 5): among servers within the latency window, prefer the one doing less
// concurrent work.
func (p *pool) operationCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.checkedOut)
}

// checkOut implements CMAP check-out: reuse an idle connection from the
// current generation if one exists (dropping and closing any from an older
// generation along the way), otherwise dial a new one bounded by
// maxConnecting, blocking FIFO on a wait queue if the pool is saturated.
func (p *pool) checkOut(ctx context.Context) (*Connection, error) {
	p.fireEvent(&event.PoolEvent{Type: event.ConnectionCheckOutStarted, Address: p.cfg.Address})

	for {
		p.mu.Lock()
		if p.state == poolClosed {
			p.mu.Unlock()
			p.fireEvent(&event.PoolEvent{Type: event.ConnectionCheckOutFailed, Address: p.cfg.Address, Reason: "poolClosed"})
			return nil, ErrPoolClosed
		}

		for e := p.idle.Front(); e != nil; e = p.idle.Front() {
			c := e.Value.(*Connection)
			p.idle.Remove(e)
			if c.generation != p.generation {
				p.mu.Unlock()
				c.closeStream()
				p.mu.Lock()
				continue
			}
			p.checkedOut[c.id] = c
			p.mu.Unlock()
			p.fireEvent(&event.PoolEvent{Type: event.ConnectionCheckedOut, Address: p.cfg.Address, ConnectionID: c.id})
			return c, nil
		}

		full := uint64(len(p.checkedOut)) >= p.cfg.MaxPoolSize && p.cfg.MaxPoolSize > 0
		if !full {
			gen := p.generation
			p.mu.Unlock()
			c, err := p.dial(ctx, gen)
			if err != nil {
				p.fireEvent(&event.PoolEvent{Type: event.ConnectionCheckOutFailed, Address: p.cfg.Address, Reason: "dialError"})
				return nil, err
			}
			p.mu.Lock()
			p.checkedOut[c.id] = c
			p.mu.Unlock()
			p.fireEvent(&event.PoolEvent{Type: event.ConnectionCheckedOut, Address: p.cfg.Address, ConnectionID: c.id})
			return c, nil
		}

		wait := make(chan struct{})
		elem := p.waiters.PushBack(wait)
		p.mu.Unlock()

		select {
		case <-wait:
			// Another check-in signalled us; loop back and retry the idle
			// scan (FIFO: we were woken in PushBack order).
		case <-ctx.Done():
			p.mu.Lock()
			p.waiters.Remove(elem)
			p.mu.Unlock()
			p.fireEvent(&event.PoolEvent{Type: event.ConnectionCheckOutFailed, Address: p.cfg.Address, Reason: "timeout"})
			return nil, ErrWaitQueueTimeout
		}
	}
}

func (p *pool) dial(ctx context.Context, generation uint64) (*Connection, error) {
	if err := p.connecting.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.connecting.Release(1)

	conn, err := p.cfg.Connect(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.nextConnID++
	conn.id = p.nextConnID
	conn.generation = generation
	conn.pool = p
	p.mu.Unlock()

	p.fireEvent(&event.PoolEvent{Type: event.ConnectionCreated, Address: p.cfg.Address, ConnectionID: conn.id})
	p.fireEvent(&event.PoolEvent{Type: event.ConnectionReady, Address: p.cfg.Address, ConnectionID: conn.id})
	return conn, nil
}

// checkIn returns c to the idle list (front, so the most recently used
// connection is tried first) unless it is stale (generation mismatch),
// closed, or the pool has been closed — in which case it is discarded.
func (p *pool) checkIn(c *Connection) {
	p.mu.Lock()
	delete(p.checkedOut, c.id)

	stale := c.generation != p.generation || p.state == poolClosed
	if !stale && p.cfg.MaxIdleTime > 0 && time.Since(c.lastUsed) > p.cfg.MaxIdleTime {
		stale = true
	}

	if !stale {
		p.idle.PushFront(c)
	}

	var waiter *list.Element
	if w := p.waiters.Front(); w != nil {
		waiter = w
		p.waiters.Remove(w)
	}
	p.mu.Unlock()

	p.fireEvent(&event.PoolEvent{Type: event.ConnectionCheckedIn, Address: p.cfg.Address, ConnectionID: c.id})

	if stale {
		c.closeStream()
	}
	if waiter != nil {
		close(waiter.Value.(chan struct{}))
	}
}

// disconnect closes every idle and checked-out connection and marks the
// pool closed; in-flight check-outs unblock with ErrPoolClosed.
func (p *pool) disconnect(ctx context.Context) error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.state = poolClosed
		var toClose []*Connection
		for e := p.idle.Front(); e != nil; e = e.Next() {
			toClose = append(toClose, e.Value.(*Connection))
		}
		for _, c := range p.checkedOut {
			toClose = append(toClose, c)
		}
		for w := p.waiters.Front(); w != nil; w = w.Next() {
			close(w.Value.(chan struct{}))
		}
		p.waiters.Init()
		p.idle.Init()
		p.mu.Unlock()

		for _, c := range toClose {
			c.closeStream()
		}
		p.fireEvent(&event.PoolEvent{Type: event.PoolClosedEvent, Address: p.cfg.Address})
	})
	p.maintainWG.Wait()
	return nil
}

func (p *pool) fireEvent(ev *event.PoolEvent) {
	if p.cfg.PoolMonitor != nil && p.cfg.PoolMonitor.Event != nil {
		p.cfg.PoolMonitor.Event(ev)
	}
}
