// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/docdb-go/docdb/bsoncore"
)

func buildDoc(t *testing.T, key, val string) bsoncore.Document {
	t.Helper()
	dst, idx := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, key, val)
	dst = bsoncore.AppendDocumentEnd(dst, idx)
	return bsoncore.Document(dst)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Length: 128, RequestID: 7, ResponseTo: 3, OpCode: OpMsg}
	var dst []byte
	dst = AppendHeader(dst, h)

	got, rem, err := ReadHeader(dst)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if len(rem) != 0 {
		t.Fatalf("expected no remaining bytes, got %d", len(rem))
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestMsgRoundTripBodyOnly(t *testing.T) {
	body := buildDoc(t, "hello", "world")
	m := Msg{
		FlagBits: 0,
		Sections: []Section{
			{Kind: SectionBody, Documents: []bsoncore.Document{body}},
		},
	}

	var dst []byte
	dst = AppendMsg(dst, m)

	got, err := ReadMsg(dst)
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMsgRoundTripWithDocumentSequence(t *testing.T) {
	body := buildDoc(t, "insert", "widgets")
	doc1 := buildDoc(t, "_id", "1")
	doc2 := buildDoc(t, "_id", "2")

	m := Msg{
		Sections: []Section{
			{Kind: SectionBody, Documents: []bsoncore.Document{body}},
			{Kind: SectionDocumentSequence, Identifier: "documents", Documents: []bsoncore.Document{doc1, doc2}},
		},
	}

	var dst []byte
	dst = AppendMsg(dst, m)

	got, err := ReadMsg(dst)
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	gotBody, err := got.Body()
	if err != nil {
		t.Fatalf("Body: %v", err)
	}
	if s, ok := gotBody.Lookup("insert").StringValueOK(); !ok || s != "widgets" {
		t.Fatalf("unexpected body document: %s", gotBody.String())
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	body := buildDoc(t, "k", "v")
	for _, id := range []CompressorID{CompressorNoop, CompressorSnappy, CompressorZlib, CompressorZstd} {
		id := id
		t.Run(id.String(), func(t *testing.T) {
			compressed, err := Compress(body, id, 0)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			decompressed, err := Decompress(compressed, id, int32(len(body)))
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytesEqual(decompressed, body) {
				t.Fatalf("round trip mismatch for %s", id)
			}
		})
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
