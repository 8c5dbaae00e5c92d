// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connstring

import (
	"context"
	"testing"
)

func TestParseDirectHostsAndAuth(t *testing.T) {
	cs, err := Parse(context.Background(), "mongodb://alice:s3cr3t@a:27017,b:27018/mydb?replicaSet=rs0&authSource=admin", nil, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cs.Hosts) != 2 || cs.Hosts[0] != "a:27017" || cs.Hosts[1] != "b:27018" {
		t.Fatalf("unexpected hosts: %v", cs.Hosts)
	}
	if cs.Username != "alice" || cs.Password != "s3cr3t" || !cs.PasswordSet {
		t.Fatalf("unexpected credentials: %+v", cs)
	}
	if cs.Database != "mydb" {
		t.Fatalf("expected database mydb, got %q", cs.Database)
	}
	if cs.ReplicaSet != "rs0" || cs.AuthSource != "admin" {
		t.Fatalf("unexpected options: %+v", cs)
	}
}

func TestParseRejectsUnknownOptionInStrictMode(t *testing.T) {
	_, err := Parse(context.Background(), "mongodb://a:27017/?bogusOption=1", nil, true)
	if err == nil {
		t.Fatal("expected an error for an unrecognized option in strict mode")
	}
}

func TestParseIgnoresUnknownOptionWhenLenient(t *testing.T) {
	cs, err := Parse(context.Background(), "mongodb://a:27017/?bogusOption=1", nil, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cs.Hosts) != 1 {
		t.Fatalf("unexpected hosts: %v", cs.Hosts)
	}
}

func TestParseSRVRequiresSingleHost(t *testing.T) {
	_, err := Parse(context.Background(), "mongodb+srv://a.example.com,b.example.com/", nil, false)
	if err == nil {
		t.Fatal("expected an error for multiple hosts under mongodb+srv://")
	}
}

func TestParseSRVRequiresResolver(t *testing.T) {
	_, err := Parse(context.Background(), "mongodb+srv://cluster0.example.com/", nil, false)
	if err == nil {
		t.Fatal("expected an error when no resolver is supplied for mongodb+srv://")
	}
}

func TestParseDirectConnectionRejectsMultipleHosts(t *testing.T) {
	_, err := Parse(context.Background(), "mongodb://a:27017,b:27017/?directConnection=true", nil, false)
	if err == nil {
		t.Fatal("expected an error combining directConnection=true with multiple hosts")
	}
}

func TestParseLoadBalancedRejectsReplicaSet(t *testing.T) {
	_, err := Parse(context.Background(), "mongodb://a:27017/?loadBalanced=true&replicaSet=rs0", nil, false)
	if err == nil {
		t.Fatal("expected an error combining loadBalanced=true with replicaSet")
	}
}

func TestParsePropertyList(t *testing.T) {
	got, err := parsePropertyList("SERVICE_NAME:mongodb,CANONICALIZE_HOST_NAME:true")
	if err != nil {
		t.Fatalf("parsePropertyList: %v", err)
	}
	if got["SERVICE_NAME"] != "mongodb" || got["CANONICALIZE_HOST_NAME"] != "true" {
		t.Fatalf("unexpected properties: %v", got)
	}
	if _, err := parsePropertyList("malformed"); err == nil {
		t.Fatal("expected an error for a malformed property pair")
	}
}

func TestParseWriteConcernAndTimeouts(t *testing.T) {
	cs, err := Parse(context.Background(), "mongodb://a:27017/?w=majority&wTimeoutMS=5000&connectTimeoutMS=2000&journal=true", nil, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cs.W != "majority" {
		t.Fatalf("expected w=majority, got %q", cs.W)
	}
	if cs.WTimeout.Milliseconds() != 5000 {
		t.Fatalf("expected wTimeout 5000ms, got %v", cs.WTimeout)
	}
	if cs.ConnectTimeout.Milliseconds() != 2000 {
		t.Fatalf("expected connectTimeout 2000ms, got %v", cs.ConnectTimeout)
	}
	if cs.Journal == nil || !*cs.Journal {
		t.Fatalf("expected journal=true, got %v", cs.Journal)
	}
}
