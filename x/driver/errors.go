// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"errors"
	"fmt"

	"github.com/docdb-go/docdb/address"
	"github.com/docdb-go/docdb/bsoncore"
)

// Label identifies a property attached to a Command or Io error that steers
// retry behavior, per spec.md §7.
type Label string

// The labels the pipeline recognizes and attaches.
const (
	TransientTransactionError      Label = "TransientTransactionError"
	UnknownTransactionCommitResult Label = "UnknownTransactionCommitResult"
	RetryableWriteError            Label = "RetryableWriteError"
	RetryableReadError             Label = "RetryableReadError"
	ResumableChangeStreamError     Label = "ResumableChangeStreamError"
	NoWritesPerformed              Label = "NoWritesPerformed"
)

// Error is a server-reported command failure: spec.md §7's `Command` kind.
type Error struct {
	Code    int32
	Name    string
	Message string
	Labels  []Label
	Address address.Address
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%s) %s", e.Name, e.Message)
	}
	return e.Message
}

// Unwrap lets errors.Is/As reach a wrapped transport error.
func (e *Error) Unwrap() error { return e.Wrapped }

// HasErrorLabel reports whether label is attached to this error.
func (e *Error) HasErrorLabel(label Label) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// NodeIsRecovering reports whether the error code indicates the server is a
// secondary still catching up (13436) or any code in the family reported by
// the "isMaster"/"hello" not-writable-primary family combined with the
// "node is recovering" substring, matching the teacher's ProcessError logic.
func (e *Error) NodeIsRecovering() bool {
	switch e.Code {
	case 11600, 11602, 13436, 189, 91:
		return true
	}
	return containsFold(e.Message, "node is recovering") || containsFold(e.Message, "not master or secondary")
}

// NotMaster reports whether the error indicates the targeted server is no
// longer (or not yet) primary.
func (e *Error) NotMaster() bool {
	switch e.Code {
	case 10107, 13435:
		return true
	}
	return containsFold(e.Message, "not master") && !e.NodeIsRecovering()
}

// NodeIsShuttingDown reports whether the server reported it is shutting
// down, a condition the monitor must treat as an immediate Unknown
// transition regardless of topology version comparison.
func (e *Error) NodeIsShuttingDown() bool {
	switch e.Code {
	case 91:
		return true
	}
	return containsFold(e.Message, "shutdown in progress") || containsFold(e.Message, "node is shutting down")
}

func containsFold(haystack, needle string) bool {
	hl, nl := len(haystack), len(needle)
	if nl == 0 {
		return true
	}
	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// NetworkError wraps a transport failure: spec.md §7's `Io` kind. The
// current connection MUST be discarded whenever this is returned.
type NetworkError struct {
	Wrapped error
	Labels  []Label
}

// Error implements the error interface.
func (e *NetworkError) Error() string { return fmt.Sprintf("connection error: %v", e.Wrapped) }

// Unwrap lets errors.Is/As reach the underlying transport error.
func (e *NetworkError) Unwrap() error { return e.Wrapped }

// HasErrorLabel reports whether label is attached to this error.
func (e *NetworkError) HasErrorLabel(label Label) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// WriteError is a single document-level failure reported inside a write
// command's writeErrors array.
type WriteError struct {
	Index   int32
	Code    int32
	Message string
}

func (e WriteError) Error() string { return fmt.Sprintf("write error %d: %s", e.Code, e.Message) }

// WriteConcernError reports a writeConcernError subdocument.
type WriteConcernError struct {
	Code    int32
	Name    string
	Message string
}

func (e *WriteConcernError) Error() string { return fmt.Sprintf("write concern error: %s", e.Message) }

// WriteCommandError aggregates everything a write command can fail with:
// spec.md §7's `Write` kind. It holds the per-document write errors, the
// write concern error and the error labels; it carries no partial result.
type WriteCommandError struct {
	WriteErrors       []WriteError
	WriteConcernError *WriteConcernError
	Labels            []Label
}

// Error implements the error interface.
func (e *WriteCommandError) Error() string {
	switch {
	case len(e.WriteErrors) > 0:
		return fmt.Sprintf("write command failed with %d write error(s): %v", len(e.WriteErrors), e.WriteErrors[0])
	case e.WriteConcernError != nil:
		return e.WriteConcernError.Error()
	default:
		return "write command failed"
	}
}

// HasErrorLabel reports whether label is attached to this error.
func (e *WriteCommandError) HasErrorLabel(label Label) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// ErrServerSelectionTimeout is returned when no eligible server was found
// within serverSelectionTimeout.
var ErrServerSelectionTimeout = errors.New("server selection timeout")

// ErrPoolTimeout is returned when a connection check-out exceeds
// waitQueueTimeoutMS.
var ErrPoolTimeout = errors.New("connection pool wait queue timeout")

// ErrInvalidResponse indicates the server's reply violated the protocol the
// decode step expected (missing required field, wrong BSON type, ...). The
// originating connection must be discarded: the wire may be desynchronized.
var ErrInvalidResponse = errors.New("invalid server response")

// ErrSessionsNotSupported indicates an explicit ClientSession was supplied
// to a deployment that does not advertise logicalSessionTimeoutMinutes.
var ErrSessionsNotSupported = errors.New("sessions are not supported by this deployment")

// ErrClientShutdown indicates the client has been, or is being, shut down.
var ErrClientShutdown = errors.New("client is shut down")

// ErrInvalidArgument indicates a caller-supplied option was rejected before
// any command was built or sent — for example, a negative batch size.
var ErrInvalidArgument = errors.New("invalid argument")

// decodeCommandError builds an *Error from a decoded reply whose "ok" field
// is 0 (or absent), pulling code/codeName/errmsg/errorLabels.
func decodeCommandError(reply bsoncore.Document, addr address.Address) *Error {
	e := &Error{Address: addr}
	elems, err := reply.Elements()
	if err != nil {
		return &Error{Address: addr, Message: ErrInvalidResponse.Error()}
	}
	for _, elem := range elems {
		switch elem.Key() {
		case "code":
			if v, ok := elem.Value().AsInt32OK(); ok {
				e.Code = v
			}
		case "codeName":
			if v, ok := elem.Value().StringValueOK(); ok {
				e.Name = v
			}
		case "errmsg":
			if v, ok := elem.Value().StringValueOK(); ok {
				e.Message = v
			}
		case "errorLabels":
			if arr, ok := elem.Value().ArrayOK(); ok {
				vals, _ := arr.Values()
				for _, v := range vals {
					if s, ok := v.StringValueOK(); ok {
						e.Labels = append(e.Labels, Label(s))
					}
				}
			}
		}
	}
	return e
}
