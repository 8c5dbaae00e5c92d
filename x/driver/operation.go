// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"time"

	"github.com/docdb-go/docdb/bsoncore"
	"github.com/docdb-go/docdb/description"
	"github.com/docdb-go/docdb/event"
	"github.com/docdb-go/docdb/internal/csot"
	"github.com/docdb-go/docdb/wiremessage"
	"github.com/docdb-go/docdb/x/driver/session"
)

// Operation bundles everything the pipeline needs to execute a single
// command and is the contract every concrete operation type in
// x/driver/operation conforms to — spec.md §4.7's ten-step algorithm lives
// entirely in Execute, never duplicated per operation.
type Operation struct {
	CommandFn         CommandFn
	ProcessResponseFn ProcessResponseFn
	Batches           *Batches
	RetryMode         *RetryMode
	Type              Type

	Client     *session.Client
	Clock      *session.ClusterClock
	Database   string
	Deployment Deployment
	Selector   description.ServerSelector

	CommandMonitor *event.CommandMonitor
	ServerAPI      *ServerAPIOptions

	MinimumWriteConcernAck bool // set by CommitTransaction; neither build() nor Execute reads it

	// ZlibLevel is passed to wiremessage.Compress when the negotiated
	// compressor is zlib; 0 selects zlib's own default level.
	ZlibLevel int

	// UpdateForRetry implements spec.md §4.7 step 8's update_for_retry
	// hook: called once, after the first attempt fails but before the
	// single retry rebuilds and resends the command, so an operation can
	// mutate its own CommandFn-visible state first. commitTransaction uses
	// this to upgrade its write concern to majority on retry; most
	// operations leave it nil and retry with the command unchanged.
	UpdateForRetry func()
}

// retryMode resolves the effective RetryMode, defaulting to RetryNone.
func (op Operation) retryMode() RetryMode {
	if op.RetryMode == nil {
		return RetryNone
	}
	return *op.RetryMode
}

// retryable reports whether a failure is eligible for the single retry
// spec.md §4.7 step 8 allows, given the operation's declared Type and
// configured RetryMode.
func (op Operation) retryable(err error) bool {
	if !op.retryMode().Enabled() || op.Type == Unretryable {
		return false
	}
	switch e := err.(type) {
	case *NetworkError:
		return true
	case *Error:
		if op.Type == Write {
			return e.HasErrorLabel(RetryableWriteError)
		}
		return e.NodeIsRecovering() || e.NotMaster() || isRetryableReadCode(e.Code)
	default:
		return false
	}
}

func isRetryableReadCode(code int32) bool {
	switch code {
	case 6, 7, 89, 91, 189, 9001, 10107, 11600, 11602, 13435, 13436:
		return true
	}
	return false
}

// Execute runs the ten-step pipeline described by spec.md §4.7, retrying at
// most once, only against a freshly selected server.
func (op Operation) Execute(ctx context.Context) error {
	var lastErr error
	retried := false

	for {
		srv, conn, desc, err := op.selectServerAndCheckOut(ctx)
		if err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err = op.roundTrip(ctx, srv, conn, desc)
		releaseErr := op.release(conn)
		if err == nil {
			return releaseErr
		}

		lastErr = err
		if retried || !op.retryable(err) {
			return err
		}
		retried = true
		if op.UpdateForRetry != nil {
			op.UpdateForRetry()
		}
	}
}

// selectServerAndCheckOut implements steps 2-4: prefer the session's pinned
// mongos/connection, else ask the deployment for a fresh server and check
// out a connection from its pool.
func (op Operation) selectServerAndCheckOut(ctx context.Context) (Server, Connection, description.Server, error) {
	ctx, cancel := csot.WithServerSelectionTimeout(ctx, 30*time.Second)
	defer cancel()

	if op.Client != nil {
		if pinned := op.Client.PinnedConnection(); pinned != nil {
			conn := pinned.(Connection)
			return nil, conn, conn.Description(), nil
		}
	}

	srv, err := op.Deployment.SelectServer(ctx, op.Selector)
	if err != nil {
		return nil, nil, description.Server{}, ErrServerSelectionTimeout
	}
	conn, err := srv.Connection(ctx)
	if err != nil {
		return nil, nil, description.Server{}, &NetworkError{Wrapped: err}
	}
	return srv, conn, conn.Description(), nil
}

// roundTrip implements steps 5-9: build, transmit, receive, post-process.
func (op Operation) roundTrip(ctx context.Context, srv Server, conn Connection, desc description.Server) error {
	cmd, err := op.build(desc)
	if err != nil {
		return err
	}

	reqID := wiremessage.NextRequestID()
	wm := wiremessage.AppendHeader(nil, wiremessage.Header{RequestID: reqID, OpCode: wiremessage.OpMsg})
	wm = wiremessage.AppendMsg(wm, wiremessage.Msg{
		Sections: op.sections(cmd),
	})
	wm = wiremessage.UpdateMessageLength(wm)

	commandName := firstKey(cmd)

	// spec.md §4.7 step 6 "unwrap compression": once a compressor was
	// negotiated at handshake, every command but the handshake itself
	// (desc.Compression is only ever populated after a hello succeeds)
	// travels as OP_COMPRESSED rather than a plain OP_MSG.
	if id, ok := negotiatedCompressor(desc.Compression); ok {
		compressed, cErr := compressWireMessage(wm, id, op.ZlibLevel)
		if cErr != nil {
			return cErr
		}
		wm = compressed
	}
	monitorFireStarted(op.CommandMonitor, event.CommandStartedEvent{
		Command: cmd, DatabaseName: op.Database, CommandName: commandName, RequestID: int64(reqID), ConnectionID: conn.ID(),
	})
	start := nowForMetrics()

	if err := conn.WriteWireMessage(ctx, wm); err != nil {
		if srv != nil {
			srv.ProcessError(err, conn)
		}
		netErr := &NetworkError{Wrapped: err, Labels: []Label{RetryableWriteError}}
		monitorFireFailed(op.CommandMonitor, event.CommandFailedEvent{CommandName: commandName, Failure: netErr, RequestID: int64(reqID), ConnectionID: conn.ID()})
		return netErr
	}

	replyBytes, err := conn.ReadWireMessage(ctx)
	if err != nil {
		if srv != nil {
			srv.ProcessError(err, conn)
		}
		netErr := &NetworkError{Wrapped: err, Labels: []Label{RetryableWriteError}}
		monitorFireFailed(op.CommandMonitor, event.CommandFailedEvent{CommandName: commandName, Failure: netErr, RequestID: int64(reqID), ConnectionID: conn.ID()})
		return netErr
	}

	reply, err := op.decodeReply(replyBytes)
	if err != nil {
		monitorFireFailed(op.CommandMonitor, event.CommandFailedEvent{CommandName: commandName, Failure: err, RequestID: int64(reqID), ConnectionID: conn.ID()})
		return err
	}

	op.postProcess(reply)

	ok, _ := reply.Lookup("ok").AsFloat64OK()
	if ok != 1 {
		cmdErr := decodeCommandError(reply, conn.Address())
		if srv != nil {
			srv.ProcessError(cmdErr, conn)
		}
		monitorFireFailed(op.CommandMonitor, event.CommandFailedEvent{Duration: time.Since(start), CommandName: commandName, Failure: cmdErr, RequestID: int64(reqID), ConnectionID: conn.ID()})
		return cmdErr
	}

	monitorFireSucceeded(op.CommandMonitor, event.CommandSucceededEvent{Duration: time.Since(start), Reply: reply, CommandName: commandName, RequestID: int64(reqID), ConnectionID: conn.ID()})

	if op.ProcessResponseFn != nil {
		return op.ProcessResponseFn(ResponseInfo{ServerResponse: reply, Server: srv, Connection: conn, ConnectionDescription: desc})
	}
	return nil
}

func (op Operation) decodeReply(wm []byte) (bsoncore.Document, error) {
	header, rem, err := wiremessage.ReadHeader(wm)
	if err != nil {
		return nil, ErrInvalidResponse
	}
	if header.OpCode == wiremessage.OpCompressed {
		ch, compressed, err := wiremessage.ReadCompressedHeader(rem)
		if err != nil {
			return nil, ErrInvalidResponse
		}
		rem, err = wiremessage.Decompress(compressed, ch.CompressorID, ch.UncompressedSize)
		if err != nil {
			return nil, ErrInvalidResponse
		}
	}
	msg, err := wiremessage.ReadMsg(rem)
	if err != nil {
		return nil, ErrInvalidResponse
	}
	body, err := msg.Body()
	if err != nil {
		return nil, ErrInvalidResponse
	}
	if err := body.Validate(); err != nil {
		return nil, ErrInvalidResponse
	}
	return body, nil
}

// negotiatedCompressor picks the first of the server's advertised
// compressors (already intersected with the client's own list and ordered
// by the client's preference, per hello negotiation) that this driver
// knows how to speak.
func negotiatedCompressor(names []string) (wiremessage.CompressorID, bool) {
	for _, name := range names {
		switch name {
		case "snappy":
			return wiremessage.CompressorSnappy, true
		case "zlib":
			return wiremessage.CompressorZlib, true
		case "zstd":
			return wiremessage.CompressorZstd, true
		}
	}
	return wiremessage.CompressorNoop, false
}

// compressWireMessage rewraps an already-built OP_MSG frame as OP_COMPRESSED,
// compressing everything after the 16-byte header with id.
func compressWireMessage(wm []byte, id wiremessage.CompressorID, zlibLevel int) ([]byte, error) {
	header, payload, err := wiremessage.ReadHeader(wm)
	if err != nil {
		return nil, ErrInvalidResponse
	}
	compressed, err := wiremessage.Compress(payload, id, zlibLevel)
	if err != nil {
		return nil, err
	}
	out := wiremessage.AppendHeader(nil, wiremessage.Header{
		RequestID: header.RequestID, ResponseTo: header.ResponseTo, OpCode: wiremessage.OpCompressed,
	})
	out = wiremessage.AppendCompressedHeader(out, wiremessage.CompressedHeader{
		OriginalOpCode: header.OpCode, UncompressedSize: int32(len(payload)), CompressorID: id,
	})
	out = append(out, compressed...)
	out = wiremessage.UpdateMessageLength(out)
	return out, nil
}

// build implements step 5: the operation's own command body plus the
// cross-cutting fields every command carries.
func (op Operation) build(desc description.Server) (bsoncore.Document, error) {
	dst, idx := bsoncore.AppendDocumentStart(nil)
	var err error
	dst, err = op.CommandFn(dst, desc)
	if err != nil {
		return nil, err
	}
	dst = bsoncore.AppendStringElement(dst, "$db", op.Database)

	if op.Client != nil {
		dst = bsoncore.AppendDocumentElement(dst, "lsid", op.Client.SessionID)
		if txn := op.Client.TxnNumber(); txn != 0 {
			dst = bsoncore.AppendInt64Element(dst, "txnNumber", txn)
		}
	}
	if op.Clock != nil {
		if ct, ok := op.Clock.GetClusterTime(); ok {
			dst = bsoncore.AppendDocumentElement(dst, "$clusterTime", ct)
		}
	}
	if op.ServerAPI != nil {
		dst = bsoncore.AppendStringElement(dst, "apiVersion", op.ServerAPI.ServerAPIVersion)
		if op.ServerAPI.Strict != nil {
			dst = bsoncore.AppendBooleanElement(dst, "apiStrict", *op.ServerAPI.Strict)
		}
		if op.ServerAPI.DeprecationErrors != nil {
			dst = bsoncore.AppendBooleanElement(dst, "apiDeprecationErrors", *op.ServerAPI.DeprecationErrors)
		}
	}

	dst = bsoncore.AppendDocumentEnd(dst, idx)
	return bsoncore.Document(dst), nil
}

// sections builds the OP_MSG sections: the command as the body section,
// plus a document-sequence section when Batches is set, per spec.md §4.1.
func (op Operation) sections(cmd bsoncore.Document) []wiremessage.Section {
	sections := []wiremessage.Section{{Kind: wiremessage.SectionBody, Documents: []bsoncore.Document{cmd}}}
	if op.Batches != nil && op.Batches.Size() > 0 {
		var docs []bsoncore.Document
		for _, d := range op.Batches.Remaining() {
			docs = append(docs, bsoncore.Document(d))
		}
		sections = append(sections, wiremessage.Section{
			Kind: wiremessage.SectionDocumentSequence, Identifier: op.Batches.Identifier, Documents: docs,
		})
	}
	return sections
}

// postProcess implements the session/topology bookkeeping half of step 7:
// gossiping $clusterTime and operationTime forward.
func (op Operation) postProcess(reply bsoncore.Document) {
	if op.Clock != nil {
		if ctVal, ok := reply.Lookup("$clusterTime").DocumentOK(); ok {
			op.Clock.AdvanceClusterTime(ctVal)
		}
	}
	if op.Client != nil {
		if ts, inc, ok := reply.Lookup("operationTime").TimestampOK(); ok {
			op.Client.AdvanceOperationTime(ts, inc)
		}
	}
}

func (op Operation) release(conn Connection) error {
	if conn == nil {
		return nil
	}
	if op.Client != nil && op.Client.PinnedConnection() != nil {
		// A pinned connection is owned by the session for the rest of the
		// transaction (or by a cursor, in the exhaust case); the pipeline
		// never closes it itself.
		return nil
	}
	if _, borrowed := op.Deployment.(SingleConnectionDeployment); borrowed {
		// A SingleConnectionDeployment wraps a connection the caller (a
		// BatchCursor, a transaction's pinned connection) already owns the
		// lifecycle of; the pipeline only ever borrows it for one round trip.
		return nil
	}
	return conn.Close()
}

func firstKey(doc bsoncore.Document) string {
	elems, err := doc.Elements()
	if err != nil || len(elems) == 0 {
		return ""
	}
	return elems[0].Key()
}

func nowForMetrics() time.Time {
	return time.Now()
}
