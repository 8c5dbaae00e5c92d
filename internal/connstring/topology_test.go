// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connstring

import (
	"context"
	"testing"

	"github.com/docdb-go/docdb/address"
	"github.com/docdb-go/docdb/description"
	"github.com/docdb-go/docdb/x/driver/auth"
)

func TestConnStringAddresses(t *testing.T) {
	cs, err := Parse(context.Background(), "mongodb://a:27017,b:27018/", nil, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []address.Address{"a:27017", "b:27018"}
	got := cs.Addresses()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Addresses() = %v, want %v", got, want)
	}
}

func TestConnStringCredentialNilWithoutAuth(t *testing.T) {
	cs, err := Parse(context.Background(), "mongodb://a:27017/", nil, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cred := cs.Credential(); cred != nil {
		t.Fatalf("expected nil credential, got %+v", cred)
	}
}

func TestConnStringCredentialDefaultsSource(t *testing.T) {
	cs, err := Parse(context.Background(), "mongodb://alice:pw@a:27017/mydb", nil, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cred := cs.Credential()
	if cred == nil {
		t.Fatal("expected a non-nil credential")
	}
	if cred.Source != "mydb" {
		t.Fatalf("expected default auth source %q, got %q", "mydb", cred.Source)
	}
}

func TestConnStringCredentialX509UsesExternal(t *testing.T) {
	cs, err := Parse(context.Background(), "mongodb://a:27017/mydb?authMechanism=MONGODB-X509", nil, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cred := cs.Credential()
	if cred == nil {
		t.Fatal("expected a non-nil credential")
	}
	if cred.Source != "$external" || cred.Mechanism != auth.MongoDBX509 {
		t.Fatalf("unexpected credential: %+v", cred)
	}
}

func TestConnStringReadPrefNilWhenUnset(t *testing.T) {
	cs, err := Parse(context.Background(), "mongodb://a:27017/", nil, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rp, err := cs.ReadPref()
	if err != nil {
		t.Fatalf("ReadPref: %v", err)
	}
	if rp != nil {
		t.Fatalf("expected nil read preference, got %+v", rp)
	}
}

func TestConnStringReadPrefSecondaryWithTags(t *testing.T) {
	cs, err := Parse(context.Background(), "mongodb://a:27017/?readPreference=secondary&readPreferenceTags=dc:east,rack:1", nil, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rp, err := cs.ReadPref()
	if err != nil {
		t.Fatalf("ReadPref: %v", err)
	}
	if rp == nil || rp.Mode != description.SecondaryMode {
		t.Fatalf("unexpected read preference: %+v", rp)
	}
	if len(rp.TagSets) != 1 || rp.TagSets[0]["dc"] != "east" || rp.TagSets[0]["rack"] != "1" {
		t.Fatalf("unexpected tag sets: %+v", rp.TagSets)
	}
}

func TestConnStringReadPrefPrimaryRejectsTags(t *testing.T) {
	cs, err := Parse(context.Background(), "mongodb://a:27017/?readPreference=primary&readPreferenceTags=dc:east", nil, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := cs.ReadPref(); err == nil {
		t.Fatal("expected an error combining readPreference=primary with readPreferenceTags")
	}
}
