// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"errors"

	"github.com/docdb-go/docdb/bsoncore"
	"github.com/docdb-go/docdb/description"
	"github.com/docdb-go/docdb/event"
	driver "github.com/docdb-go/docdb/x/driver"
	"github.com/docdb-go/docdb/x/driver/session"
)

// GetMore fetches the next batch of a server-side cursor directly over a
// pinned connection, via driver.SingleConnectionDeployment — the same
// round trip x/driver/cursor.BatchCursor performs internally, exposed here
// as a standalone operation for callers (a manual cursor, a change-stream
// resume) that hold a connection without a BatchCursor wrapping it.
type GetMore struct {
	id         int64
	collection string
	batchSize  *int32

	session *session.Client
	clock   *session.ClusterClock
	monitor *event.CommandMonitor
	database string
	conn    driver.Connection

	result bsoncore.Document
}

// NewGetMore constructs a GetMore for cursor id against collection.
func NewGetMore(id int64, collection string) *GetMore {
	return &GetMore{id: id, collection: collection}
}

// BatchSize overrides the batch size requested for this getMore.
func (g *GetMore) BatchSize(n int32) *GetMore { g.batchSize = &n; return g }

// Session attaches a logical session.
func (g *GetMore) Session(s *session.Client) *GetMore { g.session = s; return g }

// ClusterClock attaches a cluster clock.
func (g *GetMore) ClusterClock(c *session.ClusterClock) *GetMore { g.clock = c; return g }

// CommandMonitor attaches a command monitor.
func (g *GetMore) CommandMonitor(m *event.CommandMonitor) *GetMore { g.monitor = m; return g }

// Database sets the database to run against.
func (g *GetMore) Database(db string) *GetMore { g.database = db; return g }

// Connection pins this getMore to conn.
func (g *GetMore) Connection(c driver.Connection) *GetMore { g.conn = c; return g }

func (g *GetMore) command(dst []byte, desc description.Server) ([]byte, error) {
	dst = bsoncore.AppendInt64Element(dst, "getMore", g.id)
	dst = bsoncore.AppendStringElement(dst, "collection", g.collection)
	if g.batchSize != nil {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", *g.batchSize)
	}
	return dst, nil
}

func (g *GetMore) processResponse(info driver.ResponseInfo) error {
	g.result = info.ServerResponse
	return nil
}

// Execute runs the getMore command over the pinned connection.
func (g *GetMore) Execute(ctx context.Context) error {
	if g.conn == nil {
		return errors.New("operation: GetMore requires a pinned Connection")
	}
	op := driver.Operation{
		CommandFn:         g.command,
		ProcessResponseFn: g.processResponse,
		Client:            g.session,
		Clock:             g.clock,
		CommandMonitor:    g.monitor,
		Database:          g.database,
		Deployment:        driver.SingleConnectionDeployment{C: g.conn},
		Type:              driver.Unretryable,
	}
	return op.Execute(ctx)
}

// Result returns the raw reply (the "cursor" subdocument with id/nextBatch)
// from the most recent Execute.
func (g *GetMore) Result() bsoncore.Document { return g.result }
