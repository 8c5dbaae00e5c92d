// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package cursor implements component H: the batch-at-a-time result
// iterator every command that replies with a "cursor" subdocument
// (find, aggregate, listCollections, getMore) shares.
package cursor

import (
	"context"
	"errors"

	"github.com/docdb-go/docdb/bsoncore"
	"github.com/docdb-go/docdb/description"
	"github.com/docdb-go/docdb/wiremessage"
	driver "github.com/docdb-go/docdb/x/driver"
)

// roundTripRaw sends cmd as an OP_MSG body-only message on conn and decodes
// the reply's body, bypassing the Operation pipeline: getMore/killCursors
// must be addressed to the exact connection a cursor is bound to rather
// than going through server selection again.
func roundTripRaw(ctx context.Context, conn driver.Connection, cmd bsoncore.Document) (bsoncore.Document, error) {
	body, _, err := roundTripRawFlags(ctx, conn, cmd, 0)
	return body, err
}

// roundTripRawFlags is roundTripRaw with the caller's OP_MSG flag bits
// attached to the request — ExhaustAllowed (wiremessage/msg.go) tells the
// server it may keep pushing replies on this connection without the
// client asking again. It reports whether the reply itself set
// moreToCome, meaning another reply follows with no further request.
func roundTripRawFlags(ctx context.Context, conn driver.Connection, cmd bsoncore.Document, flags wiremessage.MsgFlags) (bsoncore.Document, bool, error) {
	wm := wiremessage.AppendHeader(nil, wiremessage.Header{RequestID: wiremessage.NextRequestID(), OpCode: wiremessage.OpMsg})
	wm = wiremessage.AppendMsg(wm, wiremessage.Msg{
		FlagBits: flags,
		Sections: []wiremessage.Section{{Kind: wiremessage.SectionBody, Documents: []bsoncore.Document{cmd}}},
	})
	wm = wiremessage.UpdateMessageLength(wm)

	if err := conn.WriteWireMessage(ctx, wm); err != nil {
		return nil, false, err
	}
	return readWireReply(ctx, conn)
}

// readWireReply reads one OP_MSG reply off conn without writing a request
// first: the receive half of an exhaust stream, where the server keeps
// pushing replies the client never explicitly asked for.
func readWireReply(ctx context.Context, conn driver.Connection) (bsoncore.Document, bool, error) {
	replyBytes, err := conn.ReadWireMessage(ctx)
	if err != nil {
		return nil, false, err
	}
	_, rem, err := wiremessage.ReadHeader(replyBytes)
	if err != nil {
		return nil, false, err
	}
	msg, err := wiremessage.ReadMsg(rem)
	if err != nil {
		return nil, false, err
	}
	body, err := msg.Body()
	if err != nil {
		return nil, false, err
	}
	if err := body.Validate(); err != nil {
		return nil, false, err
	}
	ok, _ := body.Lookup("ok").AsFloat64OK()
	if ok != 1 {
		return nil, false, errors.New("cursor: command failed: " + body.String())
	}
	return body, msg.FlagBits&wiremessage.MoreToCome != 0, nil
}

// wrapExhaustError attaches a RetryableReadError label to a failure that
// broke an exhaust stream mid-flight. A step-down or network error while
// replies are being pushed leaves the stream's position ambiguous — the
// caller's only recourse is to retry the read from scratch, not to resume
// streaming, which is exactly what a retryable-read label signals.
func wrapExhaustError(err error) error {
	if err == nil {
		return nil
	}
	return &driver.NetworkError{Wrapped: err, Labels: []driver.Label{driver.RetryableReadError}}
}

// ErrCursorClosed is returned by Next once the cursor has been closed,
// either explicitly or because the server reported id 0.
var ErrCursorClosed = errors.New("cursor: cursor closed")

// Response holds the "cursor" subdocument every cursor-returning command
// replies with, decoded once at the point the initiating command (find,
// aggregate, ...) succeeds.
type Response struct {
	ID         int64
	Namespace  string
	FirstBatch []bsoncore.Document
	Server     driver.Server
	Desc       description.Server
}

// NewResponse decodes reply's "cursor" subdocument. Callers that issue a
// command with no cursor field (a plain command reply with no results to
// iterate) never construct a Response.
func NewResponse(reply bsoncore.Document, srv driver.Server, desc description.Server) (Response, error) {
	cursorDoc, ok := reply.Lookup("cursor").DocumentOK()
	if !ok {
		return Response{}, errors.New("cursor: reply has no \"cursor\" field")
	}
	id, _ := cursorDoc.Lookup("id").AsInt64OK()
	ns, _ := cursorDoc.Lookup("ns").StringValueOK()

	batchKey := "firstBatch"
	if _, ok := cursorDoc.Lookup("nextBatch").ArrayOK(); ok {
		batchKey = "nextBatch"
	}
	arr, _ := cursorDoc.Lookup(batchKey).ArrayOK()
	batch, err := decodeBatch(arr)
	if err != nil {
		return Response{}, err
	}

	return Response{ID: id, Namespace: ns, FirstBatch: batch, Server: srv, Desc: desc}, nil
}

func decodeBatch(arr bsoncore.Array) ([]bsoncore.Document, error) {
	values, err := arr.Values()
	if err != nil {
		return nil, err
	}
	docs := make([]bsoncore.Document, 0, len(values))
	for _, v := range values {
		d, ok := v.DocumentOK()
		if !ok {
			continue
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// BatchCursor is the batch-at-a-time iterator spec.md's component H
// describes: Next advances to the next batch (issuing a getMore once the
// current batch is exhausted and the server-side cursor is still open),
// Batch exposes the current batch's documents, and Close kills the
// server-side cursor if it outlives the client's interest in it.
type BatchCursor struct {
	id         int64
	ns         string
	db         string
	collection string
	batch      []bsoncore.Document
	exhausted  bool
	closed     bool

	server    driver.Server
	conn      driver.Connection
	clock     ClusterClockGossiper
	sess      SessionGossiper
	batchSize int32

	// exhaust requests the exhaust-cursor variant (spec.md §4.8's
	// "optional pinned connection"): getMore sets ExhaustAllowed and the
	// server streams subsequent batches over the same connection without
	// another request. pinnedExternal marks a connection SetPinnedConnection
	// attached on the caller's behalf (a transaction), which disables
	// exhaust and is never closed by this cursor. ownConn marks a
	// connection the cursor itself acquired for exhaust streaming, which
	// this cursor alone is responsible for returning to the pool.
	// streaming is true between a moreToCome reply and the next read.
	exhaust        bool
	pinnedExternal bool
	ownConn        bool
	streaming      bool

	postBatchResumeToken bsoncore.Document
}

// ClusterClockGossiper is the subset of *session.ClusterClock a
// BatchCursor needs to attach $clusterTime to its getMore/killCursors
// commands.
type ClusterClockGossiper interface {
	GetClusterTime() (bsoncore.Document, bool)
}

// SessionGossiper is the subset of *session.Client a BatchCursor needs to
// attach lsid to its getMore/killCursors commands.
type SessionGossiper interface {
	SessionIDDocument() bsoncore.Document
}

// Options configures a BatchCursor at construction time.
type Options struct {
	Database   string
	Collection string
	BatchSize  int32
	Clock      ClusterClockGossiper
	Session    SessionGossiper

	// Exhaust requests the exhaust-cursor variant: getMore is sent once
	// with ExhaustAllowed set and further batches arrive pushed over the
	// same connection, which the cursor pins to itself and returns to the
	// pool only once the stream ends or the cursor is closed.
	Exhaust bool
}

// NewBatchCursor constructs a BatchCursor from a cursor-returning command's
// decoded Response.
func NewBatchCursor(resp Response, opts Options) *BatchCursor {
	db, coll := splitNamespace(resp.Namespace)
	if opts.Database != "" {
		db = opts.Database
	}
	if opts.Collection != "" {
		coll = opts.Collection
	}
	return &BatchCursor{
		id:         resp.ID,
		ns:         resp.Namespace,
		db:         db,
		collection: coll,
		batch:      resp.FirstBatch,
		server:     resp.Server,
		clock:      opts.Clock,
		sess:       opts.Session,
		batchSize:  opts.BatchSize,
		exhaust:    opts.Exhaust,
	}
}

func splitNamespace(ns string) (db, coll string) {
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[:i], ns[i+1:]
		}
	}
	return ns, ""
}

// ID returns the server-side cursor id; 0 means the server has already
// exhausted and closed the cursor.
func (bc *BatchCursor) ID() int64 { return bc.id }

// Batch returns the documents in the current batch.
func (bc *BatchCursor) Batch() []bsoncore.Document { return bc.batch }

// Exhausted reports whether the server has reported this cursor closed
// (id 0) with no further batch to drain.
func (bc *BatchCursor) Exhausted() bool { return bc.exhausted }

// PostBatchResumeToken returns the resume token attached to the most
// recently fetched batch, if the server supplied one (aggregate $changeStream
// pipelines and, from 4.0.7 on, plain find/getMore replies).
func (bc *BatchCursor) PostBatchResumeToken() bsoncore.Document { return bc.postBatchResumeToken }

// SetPinnedConnection pins bc to conn for the remainder of its lifetime,
// the behavior a cursor opened inside a transaction requires so every
// getMore lands on the same mongos/server the initiating command did. A
// connection pinned this way is owned by the caller (the transaction),
// never closed by the cursor, and disables the exhaust path: an
// externally-pinned connection is shared with the rest of the
// transaction's commands and cannot be monopolized by a push stream.
func (bc *BatchCursor) SetPinnedConnection(conn driver.Connection) {
	bc.conn = conn
	bc.pinnedExternal = true
	bc.exhaust = false
}

// Next fetches the next batch via getMore if the current batch has been
// fully consumed by the caller and the server-side cursor is still open.
// It returns false once there is nothing left to iterate.
func (bc *BatchCursor) Next(ctx context.Context) (bool, error) {
	if bc.closed {
		return false, ErrCursorClosed
	}
	if len(bc.batch) > 0 {
		return true, nil
	}
	if bc.id == 0 {
		return false, nil
	}

	reply, err := bc.getMore(ctx)
	if err != nil {
		return false, err
	}

	cursorDoc, ok := reply.Lookup("cursor").DocumentOK()
	if !ok {
		return false, errors.New("cursor: getMore reply has no \"cursor\" field")
	}
	bc.id, _ = cursorDoc.Lookup("id").AsInt64OK()
	arr, _ := cursorDoc.Lookup("nextBatch").ArrayOK()
	batch, err := decodeBatch(arr)
	if err != nil {
		return false, err
	}
	bc.batch = batch
	if tok, ok := cursorDoc.Lookup("postBatchResumeToken").DocumentOK(); ok {
		bc.postBatchResumeToken = tok
	}

	if len(bc.batch) == 0 && bc.id == 0 {
		bc.exhausted = true
		bc.releaseOwnedConnection()
		return false, nil
	}
	return len(bc.batch) > 0, nil
}

// getMore issues a getMore command directly against the server this
// cursor was opened on (or its pinned connection), bypassing the
// Deployment.SelectServer step the ordinary Operation pipeline takes —
// a getMore MUST land on the exact server (and, inside a transaction, the
// exact connection) the originating command did.
//
// When the cursor was opened with exhaust requested, the first getMore
// acquires and pins its own connection and sets ExhaustAllowed; any
// moreToCome reply thereafter is read straight off that connection with
// no further request, until the server stops setting moreToCome or the
// cursor is closed.
func (bc *BatchCursor) getMore(ctx context.Context) (bsoncore.Document, error) {
	if bc.streaming {
		body, moreToCome, err := readWireReply(ctx, bc.conn)
		if err != nil {
			bc.releaseOwnedConnection()
			return nil, wrapExhaustError(err)
		}
		bc.streaming = moreToCome
		return body, nil
	}

	conn := bc.conn
	if conn == nil {
		c, err := bc.server.Connection(ctx)
		if err != nil {
			return nil, err
		}
		if bc.exhaust {
			bc.conn = c
			bc.ownConn = true
		} else {
			defer c.Close()
		}
		conn = c
	}

	dst, idx := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt64Element(dst, "getMore", bc.id)
	dst = bsoncore.AppendStringElement(dst, "collection", bc.collection)
	if bc.batchSize > 0 {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", bc.batchSize)
	}
	dst = bsoncore.AppendStringElement(dst, "$db", bc.db)
	if bc.sess != nil {
		dst = bsoncore.AppendDocumentElement(dst, "lsid", bc.sess.SessionIDDocument())
	}
	if bc.clock != nil {
		if ct, ok := bc.clock.GetClusterTime(); ok {
			dst = bsoncore.AppendDocumentElement(dst, "$clusterTime", ct)
		}
	}
	dst = bsoncore.AppendDocumentEnd(dst, idx)

	var flags wiremessage.MsgFlags
	if bc.exhaust {
		flags = wiremessage.ExhaustAllowed
	}
	body, moreToCome, err := roundTripRawFlags(ctx, conn, bsoncore.Document(dst), flags)
	if err != nil {
		if bc.ownConn {
			bc.releaseOwnedConnection()
			return nil, wrapExhaustError(err)
		}
		return nil, err
	}
	bc.streaming = bc.exhaust && moreToCome
	return body, nil
}

// releaseOwnedConnection returns a connection the cursor itself acquired
// for exhaust streaming to the pool. A connection SetPinnedConnection
// attached is never touched here: it belongs to the caller's transaction
// for the rest of its lifetime, not to this cursor.
func (bc *BatchCursor) releaseOwnedConnection() {
	if !bc.ownConn || bc.conn == nil {
		return
	}
	bc.conn.Close()
	bc.conn = nil
	bc.ownConn = false
	bc.streaming = false
}

// Close kills the server-side cursor if it is still open. A pinned cursor's
// connection is left open: it belongs to the session's transaction, not to
// this cursor. An exhaust cursor's own connection is dropped instead of
// sent a killCursors: the server has no way to read a new command off a
// connection it is mid-stream pushing replies on, so closing the
// connection is how it notices the client is gone and cleans up.
func (bc *BatchCursor) Close(ctx context.Context) error {
	if bc.closed {
		return nil
	}
	bc.closed = true

	if bc.ownConn {
		bc.releaseOwnedConnection()
		return nil
	}

	if bc.id == 0 {
		return nil
	}

	conn := bc.conn
	if conn == nil {
		c, err := bc.server.Connection(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		conn = c
	}

	dst, idx := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "killCursors", bc.collection)
	cursorsDst, cursorsIdx := bsoncore.AppendArrayElementStart(dst, "cursors")
	cursorsDst = bsoncore.AppendInt64Element(cursorsDst, "0", bc.id)
	dst = bsoncore.AppendArrayEnd(cursorsDst, cursorsIdx)
	dst = bsoncore.AppendStringElement(dst, "$db", bc.db)
	dst = bsoncore.AppendDocumentEnd(dst, idx)

	_, err := roundTripRaw(ctx, conn, bsoncore.Document(dst))
	return err
}
