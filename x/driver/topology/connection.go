// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docdb-go/docdb/address"
	"github.com/docdb-go/docdb/description"
)

// Connection owns a single stream and implements driver.Connection. It
// exclusively owns its net.Conn; no concurrent reader/writer access is
// supported, matching spec.md §3's Connection data model.
type Connection struct {
	id         uint64
	generation uint64
	pool       *pool

	addr   address.Address
	stream net.Conn

	desc atomic.Value // description.Server

	lastUsed time.Time
	stale    int32

	serverConnectionID *int64

	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration

	writeMu sync.Mutex
	readMu  sync.Mutex
}

// dialOptions configures how a Connection's underlying stream is
// established.
type dialOptions struct {
	Address        address.Address
	TLSConfig      *tls.Config
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// dial opens the TCP (optionally TLS) stream for opts.Address, per
// component B: a connect timeout default of 10s, Nagle disabled.
func dial(ctx context.Context, opts dialOptions) (*Connection, error) {
	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	network := opts.Address.Network()
	var d net.Dialer
	rawConn, err := d.DialContext(dialCtx, network, opts.Address.String())
	if err != nil {
		return nil, fmt.Errorf("topology: dial %s: %w", opts.Address, err)
	}
	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	stream := rawConn
	if opts.TLSConfig != nil {
		tlsConn := tls.Client(rawConn, opts.TLSConfig)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("topology: TLS handshake with %s: %w", opts.Address, err)
		}
		stream = tlsConn
	}

	c := &Connection{
		addr:           opts.Address,
		stream:         stream,
		lastUsed:       time.Now(),
		connectTimeout: timeout,
		readTimeout:    opts.ReadTimeout,
		writeTimeout:   opts.WriteTimeout,
	}
	c.desc.Store(description.NewDefaultServer(opts.Address))
	return c, nil
}

// effectiveDeadline returns the deadline for one read or write: now plus the
// configured timeout, or ctx's own deadline if that is sooner.
func (c *Connection) effectiveDeadline(ctx context.Context, configured time.Duration) time.Time {
	var deadline time.Time
	if configured > 0 {
		deadline = time.Now().Add(configured)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

// WriteWireMessage writes a fully framed wire message (including its
// 16-byte header) to the stream.
func (c *Connection) WriteWireMessage(ctx context.Context, wm []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline := c.effectiveDeadline(ctx, c.writeTimeout); !deadline.IsZero() {
		c.stream.SetWriteDeadline(deadline)
		defer c.stream.SetWriteDeadline(time.Time{})
	}

	if _, err := c.stream.Write(wm); err != nil {
		atomic.StoreInt32(&c.stale, 1)
		return err
	}
	c.lastUsed = time.Now()
	return nil
}

// ReadWireMessage reads one fully framed wire message (header + body) from
// the stream, decompressing an OP_COMPRESSED envelope if present.
func (c *Connection) ReadWireMessage(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if deadline := c.effectiveDeadline(ctx, c.readTimeout); !deadline.IsZero() {
		c.stream.SetReadDeadline(deadline)
		defer c.stream.SetReadDeadline(time.Time{})
	}

	var lengthBuf [4]byte
	if _, err := io.ReadFull(c.stream, lengthBuf[:]); err != nil {
		atomic.StoreInt32(&c.stale, 1)
		return nil, err
	}
	length := int32(binary.LittleEndian.Uint32(lengthBuf[:]))
	if length < 16 {
		atomic.StoreInt32(&c.stale, 1)
		return nil, fmt.Errorf("topology: invalid wire message length %d", length)
	}

	rest := make([]byte, length-4)
	if _, err := io.ReadFull(c.stream, rest); err != nil {
		atomic.StoreInt32(&c.stale, 1)
		return nil, err
	}

	c.lastUsed = time.Now()
	wm := make([]byte, 0, length)
	wm = append(wm, lengthBuf[:]...)
	wm = append(wm, rest...)
	return wm, nil
}

// Description returns the server description last negotiated at handshake
// on this connection (its StreamDescription, in spec.md's terms).
func (c *Connection) Description() description.Server {
	if d, ok := c.desc.Load().(description.Server); ok {
		return d
	}
	return description.Server{}
}

func (c *Connection) setDescription(d description.Server) { c.desc.Store(d) }

// ID returns a diagnostic string identifying this connection (address and
// pool-local id), used for command-monitoring events.
func (c *Connection) ID() string {
	return c.addr.String() + "[" + strconv.FormatUint(c.id, 10) + "]"
}

// DriverConnectionID returns the pool-local connection id.
func (c *Connection) DriverConnectionID() uint64 { return c.id }

// ServerConnectionID returns the server-assigned connection id reported at
// handshake, if the server advertised one.
func (c *Connection) ServerConnectionID() *int64 { return c.serverConnectionID }

// Address returns the address this connection is dialed to.
func (c *Connection) Address() address.Address { return c.addr }

// Stale reports whether a prior I/O error or pool generation bump means
// this connection must not be reused.
func (c *Connection) Stale() bool {
	if atomic.LoadInt32(&c.stale) != 0 {
		return true
	}
	if c.pool != nil {
		return c.generation != c.pool.generationNow()
	}
	return false
}

// Close returns the connection to its owning pool (CMAP check-in), or
// closes the stream directly if the connection was never pooled (a direct
// dial used only for the initial handshake probe).
func (c *Connection) Close() error {
	if c.pool != nil {
		c.pool.checkIn(c)
		return nil
	}
	return c.closeStream()
}

func (c *Connection) closeStream() error {
	if c.stream == nil {
		return nil
	}
	return c.stream.Close()
}
