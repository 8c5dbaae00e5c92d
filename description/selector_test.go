// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"testing"
	"time"

	"github.com/docdb-go/docdb/address"
)

func TestReadPrefSelectorPrimaryPreferredFallsBackToSecondary(t *testing.T) {
	servers := []Server{
		{Addr: address.Address("a:27017"), Kind: RSSecondary, AverageRTT: 5 * time.Millisecond},
		{Addr: address.Address("b:27017"), Kind: RSSecondary, AverageRTT: 6 * time.Millisecond},
	}
	topo := Topology{Kind: ReplicaSetNoPrimary, Servers: servers}

	sel := &ReadPrefSelector{RP: &ReadPreference{Mode: PrimaryPreferredMode}}
	got, err := sel.SelectServer(topo, servers)
	if err != nil {
		t.Fatalf("SelectServer: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both secondaries as fallback, got %d", len(got))
	}
}

func TestLatencySelectorKeepsOnlyServersWithinWindow(t *testing.T) {
	servers := []Server{
		{Addr: address.Address("a:27017"), Kind: RSSecondary, AverageRTT: 5 * time.Millisecond},
		{Addr: address.Address("b:27017"), Kind: RSSecondary, AverageRTT: 25 * time.Millisecond},
	}
	sel := &LatencySelector{Latency: 15 * time.Millisecond}
	got, err := sel.SelectServer(Topology{}, servers)
	if err != nil {
		t.Fatalf("SelectServer: %v", err)
	}
	if len(got) != 1 || got[0].Addr != address.Address("a:27017") {
		t.Fatalf("expected only the fast server to survive, got %v", got)
	}
}

func TestReadPrefSelectorTagSetFallback(t *testing.T) {
	servers := []Server{
		{Addr: address.Address("a:27017"), Kind: RSSecondary, Tags: TagSet{"dc": "east"}},
		{Addr: address.Address("b:27017"), Kind: RSSecondary, Tags: TagSet{"dc": "west"}},
	}
	topo := Topology{Kind: ReplicaSetNoPrimary, Servers: servers}
	sel := &ReadPrefSelector{RP: &ReadPreference{
		Mode:    SecondaryMode,
		TagSets: []TagSet{{"dc": "nonexistent"}, {"dc": "west"}},
	}}
	got, err := sel.SelectServer(topo, servers)
	if err != nil {
		t.Fatalf("SelectServer: %v", err)
	}
	if len(got) != 1 || got[0].Addr != address.Address("b:27017") {
		t.Fatalf("expected the second tag set to match, got %v", got)
	}
}

func TestWriteSelectorRequiresPrimaryInReplicaSet(t *testing.T) {
	servers := []Server{
		{Addr: address.Address("a:27017"), Kind: RSSecondary},
		{Addr: address.Address("b:27017"), Kind: RSPrimary},
	}
	topo := Topology{Kind: ReplicaSetWithPrimary, Servers: servers}
	sel := WriteSelector{}
	got, err := sel.SelectServer(topo, servers)
	if err != nil {
		t.Fatalf("SelectServer: %v", err)
	}
	if len(got) != 1 || got[0].Kind != RSPrimary {
		t.Fatalf("expected only the primary, got %v", got)
	}
}
