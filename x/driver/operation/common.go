// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package operation implements component G's concrete operations: thin
// types that build one command's CommandFn/ProcessResponseFn pair and hand
// them to driver.Operation.Execute, per spec.md §4.7. No operation in this
// package reimplements server selection, retry, or response decoding — all
// of that lives once, in driver.Operation.
package operation

import (
	"github.com/docdb-go/docdb/bsoncore"
	driver "github.com/docdb-go/docdb/x/driver"
	"github.com/docdb-go/docdb/x/driver/cursor"
	"github.com/docdb-go/docdb/x/driver/session"
)

// retryOnce is shared by every retryable operation's RetryMode field; a
// *driver.RetryMode is needed (not the value) since RetryMode's zero value,
// RetryNone, is itself meaningful and must stay distinguishable from "not
// set" for operations such as explicit transaction commands that want
// RetryNone regardless of the deployment's retryWrites/retryReads config.
var retryOnce = retryModePtr(driver.RetryOnce)

func retryModePtr(m driver.RetryMode) *driver.RetryMode { return &m }

// sessionGossiper adapts a possibly-nil *session.Client to the
// cursor.SessionGossiper interface without wrapping a nil pointer in a
// non-nil interface value, which would defeat cursor.BatchCursor's "if
// bc.sess != nil" check.
func sessionGossiper(s *session.Client) cursor.SessionGossiper {
	if s == nil {
		return nil
	}
	return s
}

// decodeWriteCommandError builds a *driver.WriteCommandError from a write
// command's reply when ok is 1 but the command still reports document-level
// failures in writeErrors/writeConcernError, returning ok=false when reply
// carries neither.
func decodeWriteCommandError(reply bsoncore.Document) (*driver.WriteCommandError, bool) {
	wcErr := &driver.WriteCommandError{}
	found := false

	if arr, ok := reply.Lookup("writeErrors").ArrayOK(); ok {
		vals, _ := arr.Values()
		for _, v := range vals {
			doc, ok := v.DocumentOK()
			if !ok {
				continue
			}
			we := driver.WriteError{}
			if idx, ok := doc.Lookup("index").AsInt32OK(); ok {
				we.Index = idx
			}
			if code, ok := doc.Lookup("code").AsInt32OK(); ok {
				we.Code = code
			}
			if msg, ok := doc.Lookup("errmsg").StringValueOK(); ok {
				we.Message = msg
			}
			wcErr.WriteErrors = append(wcErr.WriteErrors, we)
		}
		found = found || len(wcErr.WriteErrors) > 0
	}

	if doc, ok := reply.Lookup("writeConcernError").DocumentOK(); ok {
		wce := &driver.WriteConcernError{}
		if code, ok := doc.Lookup("code").AsInt32OK(); ok {
			wce.Code = code
		}
		if name, ok := doc.Lookup("codeName").StringValueOK(); ok {
			wce.Name = name
		}
		if msg, ok := doc.Lookup("errmsg").StringValueOK(); ok {
			wce.Message = msg
		}
		wcErr.WriteConcernError = wce
		found = true
	}

	if arr, ok := reply.Lookup("errorLabels").ArrayOK(); ok {
		vals, _ := arr.Values()
		for _, v := range vals {
			if s, ok := v.StringValueOK(); ok {
				wcErr.Labels = append(wcErr.Labels, driver.Label(s))
			}
		}
	}

	if !found {
		return nil, false
	}
	return wcErr, true
}

// appendWriteConcern appends a non-empty writeConcern subdocument built from
// w/wtimeoutMS/journal, the shape every write command attaches identically.
func appendWriteConcern(dst []byte, wc WriteConcern) []byte {
	if wc.IsZero() {
		return dst
	}
	dst, idx := bsoncore.AppendDocumentElementStart(dst, "writeConcern")
	switch {
	case wc.WMajority:
		dst = bsoncore.AppendStringElement(dst, "w", "majority")
	case wc.W != 0:
		dst = bsoncore.AppendInt32Element(dst, "w", wc.W)
	}
	if wc.WTimeoutMS != 0 {
		dst = bsoncore.AppendInt64Element(dst, "wtimeout", wc.WTimeoutMS)
	}
	if wc.Journal != nil {
		dst = bsoncore.AppendBooleanElement(dst, "j", *wc.Journal)
	}
	dst = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

// appendReadConcern appends a non-empty readConcern subdocument.
func appendReadConcern(dst []byte, level string) []byte {
	if level == "" {
		return dst
	}
	dst, idx := bsoncore.AppendDocumentElementStart(dst, "readConcern")
	dst = bsoncore.AppendStringElement(dst, "level", level)
	dst = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

// WriteConcern mirrors the subset of the write-concern document an
// operation forwards verbatim; it does not validate w/wtimeout/journal
// combinations, matching this package's non-goal of query/write-concern
// semantics beyond forwarding.
type WriteConcern struct {
	W          int32
	WMajority  bool
	WTimeoutMS int64
	Journal    *bool
}

// IsZero reports whether wc carries no override and should be omitted.
func (wc WriteConcern) IsZero() bool {
	return wc.W == 0 && !wc.WMajority && wc.WTimeoutMS == 0 && wc.Journal == nil
}
