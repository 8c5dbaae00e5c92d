// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"sync"

	"github.com/docdb-go/docdb/bsoncore"
)

// ClusterClock tracks the maximum $clusterTime observed across every reply
// a client has seen, gossiped forward onto every outgoing command —
// spec.md invariant 5.
type ClusterClock struct {
	mu      sync.Mutex
	maxTime bsoncore.Document
}

// GetClusterTime returns the highest $clusterTime observed so far.
func (c *ClusterClock) GetClusterTime() (bsoncore.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxTime == nil {
		return nil, false
	}
	return c.maxTime, true
}

// AdvanceClusterTime updates the clock if candidate's "clusterTime"
// timestamp is greater than what has been observed so far, comparing the
// embedded timestamp rather than the raw document bytes.
func (c *ClusterClock) AdvanceClusterTime(candidate bsoncore.Document) {
	ct, ok := extractTimestamp(candidate)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxTime == nil {
		c.maxTime = candidate
		return
	}
	current, ok := extractTimestamp(c.maxTime)
	if !ok || greaterTimestamp(ct, current) {
		c.maxTime = candidate
	}
}

type clusterTimestamp struct {
	t, i uint32
}

func greaterTimestamp(a, b clusterTimestamp) bool {
	if a.t != b.t {
		return a.t > b.t
	}
	return a.i > b.i
}

func extractTimestamp(doc bsoncore.Document) (clusterTimestamp, bool) {
	t, i, ok := doc.Lookup("clusterTime").TimestampOK()
	if !ok {
		return clusterTimestamp{}, false
	}
	return clusterTimestamp{t: t, i: i}, true
}
