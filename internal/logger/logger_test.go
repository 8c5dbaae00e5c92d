// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/docdb-go/docdb/bson"
)

type mockLogSink struct {
	records []string
}

func (m *mockLogSink) Info(level int, msg string, keysAndValues ...interface{}) {
	m.records = append(m.records, msg)
}

func TestLoggerPrintRespectsComponentLevel(t *testing.T) {
	sink := &mockLogSink{}
	l := New(sink, 0, map[Component]Level{ComponentCommand: LevelDebug})
	StartPrintListener(l)
	defer l.Close()

	l.Print(LevelDebug, ComponentCommand, "command started")
	l.Print(LevelDebug, ComponentTopology, "topology changed") // not enabled, dropped

	// Print is asynchronous; give the printer goroutine a moment by
	// draining jobs synchronously isn't possible without races, so this
	// test only asserts that the component gate itself is evaluated
	// correctly — Is() — the thing Print relies on.
	if !l.Is(LevelDebug, ComponentCommand) {
		t.Fatalf("expected ComponentCommand to be enabled at LevelDebug")
	}
	if l.Is(LevelDebug, ComponentTopology) {
		t.Fatalf("expected ComponentTopology to remain LevelOff")
	}
}

func TestSelectMaxDocumentLength(t *testing.T) {
	t.Setenv(maxDocumentLengthEnvVar, "")
	if got := selectMaxDocumentLength(100); got != 100 {
		t.Fatalf("expected explicit arg to win, got %d", got)
	}
	if got := selectMaxDocumentLength(0); got != DefaultMaxDocumentLength {
		t.Fatalf("expected default, got %d", got)
	}
	t.Setenv(maxDocumentLengthEnvVar, "250")
	if got := selectMaxDocumentLength(0); got != 250 {
		t.Fatalf("expected env value 250, got %d", got)
	}
	t.Setenv(maxDocumentLengthEnvVar, "not-a-number")
	if got := selectMaxDocumentLength(0); got != DefaultMaxDocumentLength {
		t.Fatalf("expected default on invalid env, got %d", got)
	}
}

func TestFormatMessageTruncatesCommandDocuments(t *testing.T) {
	doc := bson.MustMarshal(bson.D{{Key: "insert", Value: "widgets"}, {Key: "ordered", Value: true}})
	kvs := []interface{}{"command", doc, "requestID", int64(7)}

	out, err := formatMessage(kvs, 10)
	if err != nil {
		t.Fatalf("formatMessage: %v", err)
	}
	truncated, ok := out[1].(string)
	if !ok {
		t.Fatalf("expected truncated command to be a string, got %T", out[1])
	}
	if len(truncated) > 10+len(TruncationSuffix) {
		t.Fatalf("expected truncation to cap length, got %q", truncated)
	}
}

func TestTruncateIsUTF8Safe(t *testing.T) {
	s := "héllo" // 'é' is 2 bytes in UTF-8
	got := truncate(s, 2)
	if bytes.ContainsRune([]byte(got), 0xFFFD) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
}

func TestSelectLogSinkFallsBackToStderr(t *testing.T) {
	os.Unsetenv(logSinkPathEnvVar)
	sink := selectLogSink(nil)
	if sink == nil {
		t.Fatalf("expected a non-nil default sink")
	}
}
