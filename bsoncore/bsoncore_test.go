// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsoncore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func buildSample(t *testing.T) Document {
	t.Helper()
	dst, idx := AppendDocumentStart(nil)
	dst = AppendStringElement(dst, "name", "primary")
	dst = AppendInt32Element(dst, "count", 7)
	dst = AppendBooleanElement(dst, "ok", true)
	dst = AppendDoubleElement(dst, "ratio", 0.5)
	dst = AppendNullElement(dst, "missing")

	sub, subIdx := AppendDocumentStart(nil)
	sub = AppendInt64Element(sub, "x", 42)
	sub = AppendDocumentEnd(sub, subIdx)
	dst = AppendDocumentElement(dst, "nested", sub)

	dst = AppendDocumentEnd(dst, idx)
	doc := Document(dst)
	if err := doc.Validate(); err != nil {
		t.Fatalf("built document failed validation: %v", err)
	}
	return doc
}

// Round-trip law from spec.md §8: decode(encode(x)) == x for every
// well-formed document in the domain.
func TestDocumentRoundTrip(t *testing.T) {
	doc := buildSample(t)

	elems, err := doc.Elements()
	if err != nil {
		t.Fatalf("Elements: %v", err)
	}

	got := map[string]interface{}{}
	for _, e := range elems {
		switch e.Key() {
		case "name":
			s, ok := e.Value().StringValueOK()
			if !ok {
				t.Fatalf("name: expected string")
			}
			got["name"] = s
		case "count":
			i, ok := e.Value().AsInt32OK()
			if !ok {
				t.Fatalf("count: expected int32")
			}
			got["count"] = i
		case "ok":
			b, ok := e.Value().BooleanOK()
			if !ok {
				t.Fatalf("ok: expected bool")
			}
			got["ok"] = b
		case "ratio":
			f, ok := e.Value().AsFloat64OK()
			if !ok {
				t.Fatalf("ratio: expected float64")
			}
			got["ratio"] = f
		case "missing":
			if e.Value().Type != TypeNull {
				t.Fatalf("missing: expected null, got %s", e.Value().Type)
			}
		case "nested":
			sub, ok := e.Value().DocumentOK()
			if !ok {
				t.Fatalf("nested: expected document")
			}
			x := sub.Lookup("x")
			i, ok := x.AsInt64OK()
			if !ok {
				t.Fatalf("nested.x: expected int64")
			}
			got["nested.x"] = i
		}
	}

	want := map[string]interface{}{
		"name":      "primary",
		"count":     int32(7),
		"ok":        true,
		"ratio":     0.5,
		"nested.x":  int64(42),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDocumentLookupDottedPath(t *testing.T) {
	doc := buildSample(t)
	v, err := doc.LookupErr("nested", "x")
	if err != nil {
		t.Fatalf("LookupErr: %v", err)
	}
	i, ok := v.AsInt64OK()
	if !ok || i != 42 {
		t.Fatalf("expected nested.x == 42, got %v (ok=%v)", i, ok)
	}
}

func TestDocumentValidateRejectsMissingNull(t *testing.T) {
	dst, idx := AppendDocumentStart(nil)
	dst = AppendStringElement(dst, "a", "b")
	dst = AppendDocumentEnd(dst, idx)

	// Corrupt the trailing NUL.
	dst[len(dst)-1] = 0x01
	if err := Document(dst).Validate(); err == nil {
		t.Fatal("expected validation error for missing trailing null")
	}
}

func TestDocumentValidateRejectsTruncatedBuffer(t *testing.T) {
	doc := buildSample(t)
	truncated := Document(doc[:len(doc)-5])
	if err := truncated.Validate(); err == nil {
		t.Fatal("expected validation error for truncated document")
	}
}

func TestArrayRoundTrip(t *testing.T) {
	dst, idx := AppendArrayStart(nil)
	dst = AppendStringElement(dst, ArrayElementKey(0), "a")
	dst = AppendStringElement(dst, ArrayElementKey(1), "b")
	dst = AppendArrayEnd(dst, idx)

	arr := Array(dst)
	if err := arr.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	values, err := arr.Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}
	s0, _ := values[0].StringValueOK()
	s1, _ := values[1].StringValueOK()
	if s0 != "a" || s1 != "b" {
		t.Fatalf("unexpected array contents: %q %q", s0, s1)
	}
}
