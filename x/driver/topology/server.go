// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docdb-go/docdb/address"
	"github.com/docdb-go/docdb/bsoncore"
	"github.com/docdb-go/docdb/description"
	"github.com/docdb-go/docdb/event"
	"github.com/docdb-go/docdb/wiremessage"
	"github.com/docdb-go/docdb/x/driver"
	"github.com/docdb-go/docdb/x/driver/auth"
)

const minHeartbeatInterval = 500 * time.Millisecond
const defaultHeartbeatInterval = 10 * time.Second
const defaultHeartbeatTimeout = 10 * time.Second

// ErrServerClosed is returned by Connection after a Server has been
// disconnected.
var ErrServerClosed = errors.New("server is closed")

const (
	serverDisconnected int32 = iota
	serverConnected
	serverDisconnecting
)

// serverConfig holds the construction-time options for a single server's
// monitor and pool.
type serverConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MinPoolSize       uint64
	MaxPoolSize       uint64
	MaxConnecting     uint64
	MaxIdleTime       time.Duration
	Compressors       []string
	ZlibLevel         int
	AppName           string
	Credential        *auth.Cred
	HTTPClient        *http.Client
	PoolMonitor       *event.PoolMonitor
	ServerMonitor     *event.ServerMonitor
}

// Server monitors a single address: it owns that address's connection pool
// and runs a background heartbeat loop publishing description.Server
// snapshots to every subscriber, component D of the driver.
type Server struct {
	cfg   serverConfig
	addr  address.Address
	state int32

	pool *pool

	done     chan struct{}
	checkNow chan struct{}
	closewg  sync.WaitGroup

	desc          atomic.Value // description.Server
	averageRTTSet bool
	averageRTT    time.Duration

	subMu       sync.Mutex
	subscribers map[uint64]chan description.Server
	nextSubID   uint64

	processErrMu sync.Mutex

	onDescriptionChange func(description.Server)
}

// newServer constructs a Server for addr. onDescriptionChange, if non-nil,
// is invoked with every new description so a Topology can fold it into the
// aggregated view.
func newServer(addr address.Address, cfg serverConfig, onDescriptionChange func(description.Server)) *Server {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	s := &Server{
		cfg:                 cfg,
		addr:                addr,
		done:                make(chan struct{}),
		checkNow:            make(chan struct{}, 1),
		subscribers:         make(map[uint64]chan description.Server),
		onDescriptionChange: onDescriptionChange,
	}
	s.desc.Store(description.NewDefaultServer(addr))

	s.pool = newPool(poolConfig{
		Address:       addr,
		MinPoolSize:   cfg.MinPoolSize,
		MaxPoolSize:   cfg.MaxPoolSize,
		MaxConnecting: cfg.MaxConnecting,
		MaxIdleTime:   cfg.MaxIdleTime,
		PoolMonitor:   cfg.PoolMonitor,
		Connect: func(ctx context.Context) (*Connection, error) {
			conn, err := dial(ctx, dialOptions{Address: addr, ConnectTimeout: 10 * time.Second})
			if err != nil {
				return nil, err
			}
			if _, err := sendHello(ctx, conn, cfg.AppName, cfg.Compressors); err != nil {
				conn.closeStream()
				return nil, err
			}
			if cfg.Credential != nil {
				if err := authenticate(ctx, conn, cfg.Credential, cfg.HTTPClient); err != nil {
					conn.closeStream()
					return nil, err
				}
			}
			return conn, nil
		},
	})
	return s
}

// connect starts the pool and the background heartbeat loop.
func (s *Server) connect() {
	atomic.StoreInt32(&s.state, serverConnected)
	s.fireOpening()
	s.pool.ready()
	s.closewg.Add(1)
	go s.update()
}

func (s *Server) fireOpening() {
	if s.cfg.ServerMonitor != nil && s.cfg.ServerMonitor.ServerOpening != nil {
		s.cfg.ServerMonitor.ServerOpening(&event.ServerOpeningEvent{Address: s.addr})
	}
}

func (s *Server) fireClosed() {
	if s.cfg.ServerMonitor != nil && s.cfg.ServerMonitor.ServerClosed != nil {
		s.cfg.ServerMonitor.ServerClosed(&event.ServerClosedEvent{Address: s.addr})
	}
}

// disconnect stops the heartbeat loop and the pool, waiting for the loop to
// exit before returning.
func (s *Server) disconnect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, serverConnected, serverDisconnecting) {
		return ErrServerClosed
	}
	close(s.done)
	err := s.pool.disconnect(ctx)
	s.closewg.Wait()
	atomic.StoreInt32(&s.state, serverDisconnected)
	s.fireClosed()
	return err
}

// Connection checks out a pooled connection for application use, satisfying
// driver.Server.
func (s *Server) Connection(ctx context.Context) (driver.Connection, error) {
	if atomic.LoadInt32(&s.state) != serverConnected {
		return nil, ErrServerClosed
	}
	conn, err := s.pool.checkOut(ctx)
	if err != nil {
		s.ProcessHandshakeError(err)
		return nil, err
	}
	return conn, nil
}

// ProcessHandshakeError folds a connection-establishment failure into the
// server's description and clears its pool, mirroring ProcessError's
// network-error branch but without a live connection to consult.
func (s *Server) ProcessHandshakeError(err error) {
	if unwrapConnectionError(err) == nil {
		return
	}
	s.updateDescription(description.NewServerFromError(s.addr, err, s.Description().TopologyVersion))
	s.pool.clear("handshake error")
}

// Description returns the server's most recently published description.
func (s *Server) Description() description.Server {
	return s.desc.Load().(description.Server)
}

// cmdErrorClassifier is implemented by both *driver.Error and
// *driver.WriteCommandError.
type cmdErrorClassifier interface {
	NodeIsRecovering() bool
	NotMaster() bool
	NodeIsShuttingDown() bool
}

// ProcessError implements SDAM's post-handshake error-handling rules: a
// "not master"/"node is recovering" error invalidates the description and
// requests an immediate re-check; any other network-level error also
// clears the pool so subsequent check-outs dial fresh connections. Errors
// reported with a connection that is already stale are ignored, and a
// Connection marks itself stale on any read or write failure, so a network
// error from that connection's own round trip changes neither the
// description nor the pool. Satisfies driver.Server.
func (s *Server) ProcessError(err error, conn driver.Connection) description.ServerKind {
	s.processErrMu.Lock()
	defer s.processErrMu.Unlock()

	if err == nil || (conn != nil && conn.Stale()) {
		return s.Description().Kind
	}

	desc := s.Description()
	cmdErr, _ := err.(cmdErrorClassifier)

	if cmdErr != nil && (cmdErr.NodeIsRecovering() || cmdErr.NotMaster()) {
		s.updateDescription(description.NewServerFromError(s.addr, err, desc.TopologyVersion))
		s.requestImmediateCheck()
		if cmdErr.NodeIsShuttingDown() || desc.WireVersion == nil || desc.WireVersion.Max < 8 {
			s.pool.clear("not primary")
		}
		return description.Unknown
	}

	if wrappedConnErr := unwrapConnectionError(err); wrappedConnErr != nil {
		if netErr, ok := wrappedConnErr.(net.Error); ok && netErr.Timeout() {
			return desc.Kind
		}
		if errors.Is(wrappedConnErr, context.Canceled) || errors.Is(wrappedConnErr, context.DeadlineExceeded) {
			return desc.Kind
		}
		s.updateDescription(description.NewServerFromError(s.addr, err, desc.TopologyVersion))
		s.pool.clear("network error")
	}
	return description.Unknown
}

// rttMonitor reports the EWMA RTT a server's heartbeat loop has observed,
// satisfying driver.RTTMonitor.
type rttMonitor struct{ s *Server }

func (r rttMonitor) EWMA() time.Duration { return r.s.Description().AverageRTT }
func (r rttMonitor) Min() time.Duration  { return r.s.Description().AverageRTT }
func (r rttMonitor) P90() time.Duration  { return r.s.Description().AverageRTT }
func (r rttMonitor) Stats() string {
	return "EWMA RTT: " + r.s.Description().AverageRTT.String()
}

// RTTMonitor satisfies driver.Server.
func (s *Server) RTTMonitor() driver.RTTMonitor { return rttMonitor{s: s} }

// requestImmediateCheck wakes the heartbeat loop without waiting for the
// next tick.
func (s *Server) requestImmediateCheck() {
	select {
	case s.checkNow <- struct{}{}:
	default:
	}
}

// ServerSubscription delivers every description this server publishes,
// starting with a replay of the current one.
type ServerSubscription struct {
	C    <-chan description.Server
	s    *Server
	id   uint64
}

// subscribe registers a new subscription, pre-populated with the current
// description.
func (s *Server) subscribe() *ServerSubscription {
	ch := make(chan description.Server, 1)
	ch <- s.Description()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	return &ServerSubscription{C: ch, s: s, id: id}
}

// Unsubscribe stops delivery and closes the subscription's channel.
func (ss *ServerSubscription) Unsubscribe() {
	ss.s.subMu.Lock()
	defer ss.s.subMu.Unlock()
	if ch, ok := ss.s.subscribers[ss.id]; ok {
		close(ch)
		delete(ss.s.subscribers, ss.id)
	}
}

// update is the background heartbeat loop: one hello exchange per tick (or
// on demand via checkNow), each publishing a fresh description.
func (s *Server) update() {
	defer s.closewg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	rateLimiter := time.NewTicker(minHeartbeatInterval)
	defer ticker.Stop()
	defer rateLimiter.Stop()

	var conn *Connection

	desc := s.heartbeat(context.Background(), &conn)
	s.updateDescription(desc)

	for {
		select {
		case <-s.done:
			s.closeSubscribers()
			if conn != nil {
				conn.closeStream()
			}
			return
		default:
		}

		select {
		case <-ticker.C:
		case <-s.checkNow:
		case <-s.done:
			s.closeSubscribers()
			if conn != nil {
				conn.closeStream()
			}
			return
		}

		select {
		case <-rateLimiter.C:
		case <-s.done:
			s.closeSubscribers()
			if conn != nil {
				conn.closeStream()
			}
			return
		}

		desc = s.heartbeat(context.Background(), &conn)
		s.updateDescription(desc)
	}
}

func (s *Server) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

// updateDescription stores desc, notifies onDescriptionChange (folding the
// new snapshot into the parent Topology), and republishes it to every
// subscriber — draining a stale buffered value first so subscribers always
// see the latest description.
func (s *Server) updateDescription(desc description.Server) {
	previous := s.Description()
	s.desc.Store(desc)

	if s.cfg.ServerMonitor != nil && s.cfg.ServerMonitor.ServerDescriptionChanged != nil && previous.Kind != desc.Kind {
		s.cfg.ServerMonitor.ServerDescriptionChanged(&event.ServerDescriptionChangedEvent{
			Address: s.addr, PreviousKind: previous.Kind.String(), NewKind: desc.Kind.String(),
		})
	}

	if s.onDescriptionChange != nil {
		s.onDescriptionChange(desc)
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- desc
	}
}

// heartbeat sends one hello command over conn (dialing a fresh connection
// if conn is nil, stale, or was closed by a previous failure), retrying
// once more before giving up, per the teacher's two-attempt heartbeat loop.
// No retry is made when the server's current description is already Unknown.
func (s *Server) heartbeat(ctx context.Context, connRef **Connection) description.Server {
	const maxAttempts = 2
	conn := *connRef
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		hbCtx, cancel := context.WithTimeout(ctx, s.cfg.HeartbeatTimeout)

		if conn == nil {
			var err error
			conn, err = dial(hbCtx, dialOptions{
				Address:        s.addr,
				ConnectTimeout: s.cfg.HeartbeatTimeout,
				ReadTimeout:    s.cfg.HeartbeatTimeout,
				WriteTimeout:   s.cfg.HeartbeatTimeout,
			})
			if err != nil {
				cancel()
				lastErr = err
				*connRef = nil
				s.pool.clear("heartbeat dial error")
				if s.Description().Kind == description.Unknown {
					break
				}
				continue
			}
		}

		start := time.Now()
		reply, err := sendHello(hbCtx, conn, s.cfg.AppName, s.cfg.Compressors)
		cancel()
		if err != nil {
			lastErr = err
			conn.closeStream()
			conn = nil
			*connRef = nil
			s.pool.clear("heartbeat command error")
			if s.Description().Kind == description.Unknown {
				break
			}
			continue
		}

		rtt := s.updateAverageRTT(time.Since(start))
		desc := parseHelloReply(s.addr, reply).SetAverageRTT(rtt)
		desc.HeartbeatInterval = s.cfg.HeartbeatInterval
		*connRef = conn
		return desc
	}

	*connRef = nil
	return description.NewServerFromError(s.addr, lastErr, s.Description().TopologyVersion)
}

func (s *Server) updateAverageRTT(delay time.Duration) time.Duration {
	if !s.averageRTTSet {
		s.averageRTT = delay
		s.averageRTTSet = true
		return s.averageRTT
	}
	const alpha = 0.2
	s.averageRTT = time.Duration(alpha*float64(delay) + (1-alpha)*float64(s.averageRTT))
	return s.averageRTT
}

// sendHello issues a bare "hello" command on conn, bypassing the execution
// pipeline entirely (the heartbeat loop must never authenticate, retry, or
// fire command-monitoring events).
func sendHello(ctx context.Context, conn *Connection, appName string, compressors []string) (bsoncore.Document, error) {
	dst, idx := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "hello", 1)
	if appName != "" {
		dst = bsoncore.AppendHeader(dst, bsoncore.TypeEmbeddedDocument, "client")
		var clientIdx int32
		dst, clientIdx = bsoncore.AppendDocumentStart(dst)
		dst = bsoncore.AppendStringElement(dst, "driver", "docdb-go")
		dst = bsoncore.AppendDocumentEnd(dst, clientIdx)
	}
	if len(compressors) > 0 {
		arrDst, arrIdx := bsoncore.AppendArrayElementStart(dst, "compression")
		for i, c := range compressors {
			arrDst = bsoncore.AppendStringElement(arrDst, bsoncore.ArrayElementKey(i), c)
		}
		dst = bsoncore.AppendArrayEnd(arrDst, arrIdx)
	}
	dst = bsoncore.AppendStringElement(dst, "$db", "admin")
	dst = bsoncore.AppendDocumentEnd(dst, idx)

	wm := wiremessage.AppendHeader(nil, wiremessage.Header{RequestID: wiremessage.NextRequestID(), OpCode: wiremessage.OpMsg})
	wm = wiremessage.AppendMsg(wm, wiremessage.Msg{Sections: []wiremessage.Section{
		{Kind: wiremessage.SectionBody, Documents: []bsoncore.Document{bsoncore.Document(dst)}},
	}})
	wm = wiremessage.UpdateMessageLength(wm)

	if err := conn.WriteWireMessage(ctx, wm); err != nil {
		return nil, err
	}
	replyWM, err := conn.ReadWireMessage(ctx)
	if err != nil {
		return nil, err
	}

	_, rem, err := wiremessage.ReadHeader(replyWM)
	if err != nil {
		return nil, err
	}
	msg, err := wiremessage.ReadMsg(rem)
	if err != nil {
		return nil, err
	}
	body, err := msg.Body()
	if err != nil {
		return nil, err
	}
	conn.setDescription(parseStreamDescription(conn.addr, body))
	if id, ok := body.Lookup("connectionId").AsInt64OK(); ok {
		conn.serverConnectionID = &id
	}
	return body, nil
}

// authenticate runs cred's mechanism over conn once, immediately after the
// handshake and before the connection is handed to its pool — matching
// the ordering every mechanism in x/driver/auth assumes (one command at a
// time, no concurrent pipeline use yet).
func authenticate(ctx context.Context, conn *Connection, cred *auth.Cred, httpClient *http.Client) error {
	authenticator, err := auth.CreateAuthenticator(cred)
	if err != nil {
		return err
	}
	return authenticator.Auth(ctx, &auth.Config{Connection: conn, HTTPClient: httpClient})
}

// parseHelloReply builds a description.Server from a successful hello
// reply, per the field layout spec.md §6 names for the handshake.
func parseHelloReply(addr address.Address, reply bsoncore.Document) description.Server {
	desc := description.Server{Addr: addr, LastUpdateTime: time.Now()}

	isWritablePrimary, _ := reply.Lookup("isWritablePrimary").BooleanOK()
	isSecondary, _ := reply.Lookup("secondary").BooleanOK()
	isArbiterOnly, _ := reply.Lookup("arbiterOnly").BooleanOK()
	msgField, _ := reply.Lookup("msg").StringValueOK()
	setName, hasSetName := reply.Lookup("setName").StringValueOK()

	switch {
	case msgField == "isdbgrid":
		desc.Kind = description.Mongos
	case hasSetName && isWritablePrimary:
		desc.Kind = description.RSPrimary
	case hasSetName && isSecondary:
		desc.Kind = description.RSSecondary
	case hasSetName && isArbiterOnly:
		desc.Kind = description.RSArbiter
	case hasSetName:
		desc.Kind = description.RSOther
	default:
		desc.Kind = description.Standalone
	}
	desc.SetName = setName

	desc.Hosts = stringArray(reply, "hosts")
	desc.Passives = stringArray(reply, "passives")
	desc.Arbiters = stringArray(reply, "arbiters")

	if primary, ok := reply.Lookup("primary").StringValueOK(); ok {
		desc.Primary = address.Address(primary)
	}

	if minWire, ok := reply.Lookup("minWireVersion").AsInt32OK(); ok {
		if maxWire, ok := reply.Lookup("maxWireVersion").AsInt32OK(); ok {
			desc.WireVersion = &description.VersionRange{Min: minWire, Max: maxWire}
		}
	}

	if setVersion, ok := reply.Lookup("setVersion").AsInt32OK(); ok {
		desc.SetVersion = uint32(setVersion)
	}
	if oid, ok := reply.Lookup("electionId").ObjectIDOK(); ok {
		eid := description.ObjectID(oid)
		desc.ElectionID = &eid
	}
	if timeoutMinutes, ok := reply.Lookup("logicalSessionTimeoutMinutes").AsInt64OK(); ok {
		desc.SessionTimeoutMinutes = &timeoutMinutes
	}
	if tagsDoc, ok := reply.Lookup("tags").DocumentOK(); ok {
		tags := description.TagSet{}
		elems, _ := tagsDoc.Elements()
		for _, e := range elems {
			if v, ok := e.Value().StringValueOK(); ok {
				tags[e.Key()] = v
			}
		}
		desc.Tags = tags
	}

	desc.Compression = stringArray(reply, "compression")

	return desc
}

// parseStreamDescription extracts just enough of a hello reply to describe
// a freshly handshaken connection stream, without the monitor-only
// bookkeeping (average RTT, heartbeat interval) heartbeat adds.
func parseStreamDescription(addr address.Address, reply bsoncore.Document) description.Server {
	desc := parseHelloReply(addr, reply)
	desc.AverageRTTSet = false
	return desc
}

func stringArray(doc bsoncore.Document, key string) []string {
	arr, ok := doc.Lookup(key).ArrayOK()
	if !ok {
		return nil
	}
	values, err := arr.Values()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.StringValueOK(); ok {
			out = append(out, s)
		}
	}
	return out
}

// unwrapConnectionError reports whether err (or something it wraps)
// originated from the network layer rather than a command-level failure,
// returning the unwrapped error or nil.
func unwrapConnectionError(err error) error {
	if err == nil {
		return nil
	}
	if netErr, ok := err.(net.Error); ok {
		return netErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr
	}
	var cmdErr cmdErrorClassifier
	if errors.As(err, &cmdErr) {
		return nil
	}
	return err
}
