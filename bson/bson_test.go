// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bson

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := D{
		{Key: "insert", Value: "coll"},
		{Key: "ordered", Value: true},
		{Key: "n", Value: int32(3)},
		{Key: "filter", Value: D{{Key: "age", Value: int64(9)}}},
		{Key: "tags", Value: A{"a", "b"}},
	}

	raw, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out D
	if err := Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(out) != len(in) {
		t.Fatalf("expected %d fields, got %d", len(in), len(out))
	}
	if out[0].Key != "insert" || out[0].Value != "coll" {
		t.Fatalf("unexpected first field: %+v", out[0])
	}
	if out[1].Value != true {
		t.Fatalf("expected ordered == true, got %+v", out[1].Value)
	}
}

func TestMarshalMSortsKeysDeterministically(t *testing.T) {
	m := M{"z": 1, "a": 2, "m": 3}
	raw1, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	raw2, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if raw1.String() != raw2.String() {
		t.Fatalf("expected deterministic encoding, got %q vs %q", raw1, raw2)
	}

	var out D
	if err := Unmarshal(raw1, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out[0].Key != "a" || out[1].Key != "m" || out[2].Key != "z" {
		t.Fatalf("expected sorted keys a,m,z; got %v", out)
	}
}
