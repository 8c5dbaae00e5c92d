// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docdb-go/docdb/address"
	"github.com/docdb-go/docdb/description"
	"github.com/docdb-go/docdb/event"
	"github.com/docdb-go/docdb/x/driver"
	"github.com/docdb-go/docdb/x/driver/auth"
)

// MonitorMode selects whether a Topology discovers a whole deployment or
// pins itself to exactly one address.
type MonitorMode uint8

// The two monitoring modes a Topology can run in.
const (
	AutomaticMode MonitorMode = iota
	SingleMode
)

const (
	topoDisconnected int32 = iota
	topoConnecting
	topoConnected
	topoDisconnecting
)

// ErrTopologyClosed is returned by operations attempted on a disconnected
// Topology.
var ErrTopologyClosed = errors.New("topology is closed")

// ErrTopologyConnected is returned by a second call to Connect.
var ErrTopologyConnected = errors.New("topology is already connected")

// Config configures a Topology at construction time.
type Config struct {
	Mode                   MonitorMode
	SeedList               []address.Address
	ReplicaSetName         string
	LoadBalanced           bool
	ServerSelectionTimeout time.Duration
	HeartbeatInterval      time.Duration
	HeartbeatTimeout       time.Duration
	AppName                string
	MinPoolSize            uint64
	MaxPoolSize            uint64
	MaxConnecting          uint64
	MaxIdleTime            time.Duration
	Compressors            []string
	ZlibLevel              int

	Credential *auth.Cred
	HTTPClient *http.Client

	TopologyMonitor *event.TopologyMonitor
	ServerMonitor   *event.ServerMonitor
	PoolMonitor     *event.PoolMonitor
}

func (cfg Config) serverConfig() serverConfig {
	return serverConfig{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		Credential:        cfg.Credential,
		HTTPClient:        cfg.HTTPClient,
		MinPoolSize:       cfg.MinPoolSize,
		MaxPoolSize:       cfg.MaxPoolSize,
		MaxConnecting:     cfg.MaxConnecting,
		MaxIdleTime:       cfg.MaxIdleTime,
		Compressors:       cfg.Compressors,
		ZlibLevel:         cfg.ZlibLevel,
		AppName:           cfg.AppName,
		PoolMonitor:       cfg.PoolMonitor,
		ServerMonitor:     cfg.ServerMonitor,
	}
}

// Topology is the aggregated view over a deployment's servers, component E.
// A single mutex (serversMu) serializes every state transition — described
// servers are folded in one at a time by apply, matching spec.md's
// single-writer rule for the aggregated TopologyDescription.
type Topology struct {
	cfg   Config
	state int32

	desc atomic.Value // description.Topology

	serversMu sync.Mutex
	servers   map[address.Address]*Server

	subMu       sync.Mutex
	subscribers map[uint64]chan description.Topology
	nextSubID   uint64
}

var _ driver.Deployment = (*Topology)(nil)

// New constructs an unconnected Topology; call Connect to begin monitoring.
func New(cfg Config) *Topology {
	t := &Topology{
		cfg:         cfg,
		servers:     make(map[address.Address]*Server),
		subscribers: make(map[uint64]chan description.Topology),
	}
	t.desc.Store(description.Topology{})
	return t
}

// Connect seeds the initial server set and starts each server's monitor.
func (t *Topology) Connect() error {
	if !atomic.CompareAndSwapInt32(&t.state, topoDisconnected, topoConnecting) {
		return ErrTopologyConnected
	}

	kind := description.ReplicaSetNoPrimary
	switch {
	case t.cfg.LoadBalanced:
		kind = description.LoadBalanced
	case t.cfg.Mode == SingleMode:
		kind = description.Single
	case t.cfg.ReplicaSetName == "":
		kind = description.TopologyUnknown
	}

	t.serversMu.Lock()
	initial := description.Topology{Kind: kind, SetName: t.cfg.ReplicaSetName}
	for _, addr := range t.cfg.SeedList {
		initial.Servers = append(initial.Servers, description.NewDefaultServer(addr.Canonicalize()))
	}
	t.desc.Store(initial)
	for _, addr := range t.cfg.SeedList {
		t.startServerLocked(addr.Canonicalize())
	}
	t.serversMu.Unlock()

	t.publishTopologyChanged(description.Topology{}, initial)
	atomic.StoreInt32(&t.state, topoConnected)
	return nil
}

// startServerLocked adds and starts a monitor for addr. Callers must hold
// serversMu.
func (t *Topology) startServerLocked(addr address.Address) {
	if _, ok := t.servers[addr]; ok {
		return
	}
	srv := newServer(addr, t.cfg.serverConfig(), func(desc description.Server) { t.apply(addr, desc) })
	t.servers[addr] = srv
	srv.connect()
}

// removeServerLocked stops and forgets addr's monitor. Callers must hold
// serversMu.
func (t *Topology) removeServerLocked(ctx context.Context, addr address.Address) {
	srv, ok := t.servers[addr]
	if !ok {
		return
	}
	delete(t.servers, addr)
	go srv.disconnect(ctx)
}

// Disconnect stops every server's monitor and closes every subscription.
func (t *Topology) Disconnect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.state, topoConnected, topoDisconnecting) {
		return ErrTopologyClosed
	}

	t.serversMu.Lock()
	servers := t.servers
	t.servers = make(map[address.Address]*Server)
	t.serversMu.Unlock()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(s *Server) {
			defer wg.Done()
			s.disconnect(ctx)
		}(srv)
	}
	wg.Wait()

	t.subMu.Lock()
	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
	t.subMu.Unlock()

	t.desc.Store(description.Topology{})
	atomic.StoreInt32(&t.state, topoDisconnected)

	if t.cfg.TopologyMonitor != nil && t.cfg.TopologyMonitor.TopologyClosed != nil {
		t.cfg.TopologyMonitor.TopologyClosed(&event.TopologyClosedEvent{})
	}
	return nil
}

// Description returns the current aggregated view.
func (t *Topology) Description() description.Topology {
	d, _ := t.desc.Load().(description.Topology)
	return d
}

// Kind satisfies driver.Deployment.
func (t *Topology) Kind() description.TopologyKind { return t.Description().Kind }

// Subscription delivers every Topology description published, starting
// with a replay of the current one.
type Subscription struct {
	C  <-chan description.Topology
	t  *Topology
	id uint64
}

// Subscribe registers a new subscription.
func (t *Topology) Subscribe() (*Subscription, error) {
	if atomic.LoadInt32(&t.state) != topoConnected {
		return nil, ErrTopologyClosed
	}
	ch := make(chan description.Topology, 1)
	ch <- t.Description()

	t.subMu.Lock()
	defer t.subMu.Unlock()
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = ch
	return &Subscription{C: ch, t: t, id: id}, nil
}

// Unsubscribe stops delivery and closes the subscription's channel.
func (s *Subscription) Unsubscribe() {
	s.t.subMu.Lock()
	defer s.t.subMu.Unlock()
	if ch, ok := s.t.subscribers[s.id]; ok {
		close(ch)
		delete(s.t.subscribers, s.id)
	}
}

// RequestImmediateCheck asks every monitored server to heartbeat now
// instead of waiting for its next tick.
func (t *Topology) RequestImmediateCheck() {
	t.serversMu.Lock()
	defer t.serversMu.Unlock()
	for _, srv := range t.servers {
		srv.requestImmediateCheck()
	}
}

// SelectServer implements spec.md §4.5's algorithm: narrow the current
// topology's servers through selector, and if nothing qualifies, block on
// topology-change notifications until something does or the deadline (the
// smaller of ctx's deadline and serverSelectionTimeout) passes.
func (t *Topology) SelectServer(ctx context.Context, selector description.ServerSelector) (driver.Server, error) {
	if atomic.LoadInt32(&t.state) != topoConnected {
		return nil, ErrTopologyClosed
	}

	if t.cfg.ServerSelectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ServerSelectionTimeout)
		defer cancel()
	}

	suitable, err := t.selectSuitable(selector)
	if err != nil {
		return nil, err
	}
	if len(suitable) > 0 {
		return t.pickServer(suitable)
	}

	sub, err := t.Subscribe()
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil, driver.ErrServerSelectionTimeout
		case desc, ok := <-sub.C:
			if !ok {
				return nil, driver.ErrServerSelectionTimeout
			}
			suitable, err := selector.SelectServer(desc, desc.Servers)
			if err != nil {
				return nil, err
			}
			if len(suitable) > 0 {
				return t.pickServer(suitable)
			}
		}
	}
}

func (t *Topology) selectSuitable(selector description.ServerSelector) ([]description.Server, error) {
	desc := t.Description()
	return selector.SelectServer(desc, desc.Servers)
}

// pickServer implements Open Question decision 1: when more than one
// candidate survives selection, weight the choice toward whichever has
// fewer operations in flight (spec.md §4.5 step 5) rather than choosing
// uniformly at random.
func (t *Topology) pickServer(candidates []description.Server) (driver.Server, error) {
	t.serversMu.Lock()
	defer t.serversMu.Unlock()

	var live []*Server
	for _, c := range candidates {
		if srv, ok := t.servers[c.Addr]; ok {
			live = append(live, srv)
		}
	}
	if len(live) == 0 {
		return nil, driver.ErrServerSelectionTimeout
	}
	if len(live) == 1 {
		return live[0], nil
	}
	return pickByOperationCount(live), nil
}

// pickByOperationCount runs a power-of-two-choices pick: sample two
// candidates at random and keep whichever has fewer checked-out
// connections, the same tie-break the teacher's sharded-cluster routing
// uses under the hood for mongos selection.
func pickByOperationCount(candidates []*Server) *Server {
	a := candidates[rand.Intn(len(candidates))]
	b := candidates[rand.Intn(len(candidates))]
	if a.pool.operationCount() <= b.pool.operationCount() {
		return a
	}
	return b
}

// apply folds a single server's freshly observed description into the
// aggregated view and republishes it, implementing invariant 3 (strictly
// increasing topology version) by always producing a new Topology value
// rather than mutating the stored one in place.
func (t *Topology) apply(addr address.Address, newDesc description.Server) description.Server {
	t.serversMu.Lock()
	defer t.serversMu.Unlock()

	old := t.Description()

	if old.Kind == description.Single {
		updated := old
		updated.Servers = []description.Server{newDesc}
		updated.Version++
		t.commitLocked(old, updated)
		return newDesc
	}

	if old.Kind == description.LoadBalanced {
		newDesc.Kind = description.LoadBalancer
		updated := old
		updated.Servers = []description.Server{newDesc}
		updated.Version++
		t.commitLocked(old, updated)
		return newDesc
	}

	updated := old
	updated.Servers = append([]description.Server(nil), old.Servers...)
	replaced := false
	for i, s := range updated.Servers {
		if s.Addr == addr {
			updated.Servers[i] = newDesc
			replaced = true
			break
		}
	}
	if !replaced {
		updated.Servers = append(updated.Servers, newDesc)
	}

	switch newDesc.Kind {
	case description.Mongos:
		updated.Kind = description.Sharded

	case description.RSPrimary:
		if updated.SetName == "" {
			updated.SetName = newDesc.SetName
		}
		if updated.SetName != "" && newDesc.SetName != updated.SetName {
			updated.Servers = removeAddr(updated.Servers, addr)
			t.removeServerLocked(context.Background(), addr)
			break
		}
		if isStalePrimary(updated, newDesc) {
			// A fresher primary has already been observed; demote this
			// reply to Unknown rather than accepting a stale election.
			for i, s := range updated.Servers {
				if s.Addr == addr {
					updated.Servers[i] = description.NewDefaultServer(addr)
				}
			}
			break
		}
		if newDesc.SetVersion != 0 {
			updated.MaxSetVersion = newDesc.SetVersion
		}
		if newDesc.ElectionID != nil {
			updated.MaxElectionID = newDesc.ElectionID
		}
		for i, s := range updated.Servers {
			if s.Kind == description.RSPrimary && s.Addr != addr {
				updated.Servers[i] = description.NewDefaultServer(s.Addr)
			}
		}
		updated.Kind = description.ReplicaSetWithPrimary
		t.reconcileMembersLocked(&updated, newDesc)

	case description.RSSecondary, description.RSArbiter, description.RSOther:
		if updated.SetName != "" && newDesc.SetName != "" && newDesc.SetName != updated.SetName {
			updated.Servers = removeAddr(updated.Servers, addr)
			t.removeServerLocked(context.Background(), addr)
			break
		}
		if updated.SetName == "" {
			updated.SetName = newDesc.SetName
		}
		if !updated.HasPrimary() {
			updated.Kind = description.ReplicaSetNoPrimary
		}
		t.reconcileMembersLocked(&updated, newDesc)
	}

	if !updated.HasPrimary() && (updated.Kind == description.ReplicaSetWithPrimary) {
		updated.Kind = description.ReplicaSetNoPrimary
	}

	updated.SessionTimeoutMinutes = minSessionTimeout(updated.Servers)
	updated.Version = old.Version + 1

	t.commitLocked(old, updated)
	return newDesc
}

// isStalePrimary reports whether newDesc's election credentials are older
// than the highest this Topology has already observed.
func isStalePrimary(t description.Topology, newDesc description.Server) bool {
	if t.MaxSetVersion != 0 && newDesc.SetVersion != 0 && t.MaxElectionID != nil && newDesc.ElectionID != nil {
		if newDesc.SetVersion < t.MaxSetVersion {
			return true
		}
		if newDesc.SetVersion == t.MaxSetVersion && newDesc.ElectionID.Compare(*t.MaxElectionID) < 0 {
			return true
		}
	}
	return false
}

// reconcileMembersLocked adds newly advertised hosts as Unknown servers and
// removes tracked servers no longer in member's host list. Callers must
// hold serversMu.
func (t *Topology) reconcileMembersLocked(topo *description.Topology, member description.Server) {
	if len(member.Hosts) == 0 && len(member.Passives) == 0 && len(member.Arbiters) == 0 {
		return
	}
	allowed := make(map[address.Address]bool)
	for _, h := range member.Hosts {
		allowed[address.Address(h).Canonicalize()] = true
	}
	for _, h := range member.Passives {
		allowed[address.Address(h).Canonicalize()] = true
	}
	for _, h := range member.Arbiters {
		allowed[address.Address(h).Canonicalize()] = true
	}

	for a := range allowed {
		if _, ok := t.servers[a]; !ok {
			t.startServerLocked(a)
			topo.Servers = append(topo.Servers, description.NewDefaultServer(a))
		}
	}

	kept := topo.Servers[:0]
	for _, s := range topo.Servers {
		if allowed[s.Addr] {
			kept = append(kept, s)
			continue
		}
		t.removeServerLocked(context.Background(), s.Addr)
	}
	topo.Servers = kept
}

func removeAddr(servers []description.Server, addr address.Address) []description.Server {
	out := servers[:0]
	for _, s := range servers {
		if s.Addr != addr {
			out = append(out, s)
		}
	}
	return out
}

func minSessionTimeout(servers []description.Server) *int64 {
	var min *int64
	for _, s := range servers {
		if !s.DataBearing() || s.SessionTimeoutMinutes == nil {
			continue
		}
		if min == nil || *s.SessionTimeoutMinutes < *min {
			v := *s.SessionTimeoutMinutes
			min = &v
		}
	}
	return min
}

// commitLocked stores updated and publishes a change event if the
// deployment-visible shape actually changed. Callers must hold serversMu.
func (t *Topology) commitLocked(old, updated description.Topology) {
	t.desc.Store(updated)
	if !old.Equal(updated) {
		t.publishTopologyChanged(old, updated)
	}
	t.publishToSubscribers(updated)
}

func (t *Topology) publishTopologyChanged(old, updated description.Topology) {
	if t.cfg.TopologyMonitor != nil && t.cfg.TopologyMonitor.TopologyDescriptionChanged != nil {
		t.cfg.TopologyMonitor.TopologyDescriptionChanged(&event.TopologyDescriptionChangedEvent{
			PreviousKind: old.Kind.String(), NewKind: updated.Kind.String(),
		})
	}
}

func (t *Topology) publishToSubscribers(desc description.Topology) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- desc
	}
}
