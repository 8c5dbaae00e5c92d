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
	"github.com/docdb-go/docdb/x/driver/cursor"
	"github.com/docdb-go/docdb/x/driver/session"
)

// Aggregate performs an aggregate operation over collection, or over the
// whole database when collection is empty ({aggregate: 1}).
type Aggregate struct {
	collection  string
	pipeline    bsoncore.Document // an array of stage documents
	batchSize   *int32
	readConcern string

	session    *session.Client
	clock      *session.ClusterClock
	monitor    *event.CommandMonitor
	database   string
	deployment driver.Deployment
	selector   description.ServerSelector
	serverAPI  *driver.ServerAPIOptions

	result cursor.Response
}

// NewAggregate constructs an Aggregate running pipeline against collection.
func NewAggregate(collection string, pipeline bsoncore.Document) *Aggregate {
	return &Aggregate{collection: collection, pipeline: pipeline}
}

// BatchSize sets the initial and getMore batch size.
func (a *Aggregate) BatchSize(n int32) *Aggregate { a.batchSize = &n; return a }

// ReadConcern sets the read concern level.
func (a *Aggregate) ReadConcern(level string) *Aggregate { a.readConcern = level; return a }

// Session attaches a logical session.
func (a *Aggregate) Session(s *session.Client) *Aggregate { a.session = s; return a }

// ClusterClock attaches a cluster clock.
func (a *Aggregate) ClusterClock(c *session.ClusterClock) *Aggregate { a.clock = c; return a }

// CommandMonitor attaches a command monitor.
func (a *Aggregate) CommandMonitor(m *event.CommandMonitor) *Aggregate { a.monitor = m; return a }

// Database sets the database to run against.
func (a *Aggregate) Database(db string) *Aggregate { a.database = db; return a }

// Deployment sets the deployment to run against.
func (a *Aggregate) Deployment(d driver.Deployment) *Aggregate { a.deployment = d; return a }

// ServerSelector overrides the default read-preference selector.
func (a *Aggregate) ServerSelector(s description.ServerSelector) *Aggregate { a.selector = s; return a }

// ServerAPI sets the declared server API version.
func (a *Aggregate) ServerAPI(api *driver.ServerAPIOptions) *Aggregate { a.serverAPI = api; return a }

func (a *Aggregate) command(dst []byte, desc description.Server) ([]byte, error) {
	if a.batchSize != nil && *a.batchSize < 0 {
		return nil, driver.ErrInvalidArgument
	}
	if a.collection != "" {
		dst = bsoncore.AppendStringElement(dst, "aggregate", a.collection)
	} else {
		dst = bsoncore.AppendInt32Element(dst, "aggregate", 1)
	}
	dst = bsoncore.AppendArrayElement(dst, "pipeline", a.pipeline)

	cursorDst, cursorIdx := bsoncore.AppendDocumentElementStart(dst, "cursor")
	if a.batchSize != nil {
		cursorDst = bsoncore.AppendInt32Element(cursorDst, "batchSize", *a.batchSize)
	}
	dst = bsoncore.AppendDocumentEnd(cursorDst, cursorIdx)

	dst = appendReadConcern(dst, a.readConcern)
	return dst, nil
}

func (a *Aggregate) processResponse(info driver.ResponseInfo) error {
	resp, err := cursor.NewResponse(info.ServerResponse, info.Server, info.ConnectionDescription)
	if err != nil {
		return err
	}
	a.result = resp
	return nil
}

// Execute runs the aggregate command.
func (a *Aggregate) Execute(ctx context.Context) error {
	if a.deployment == nil {
		return errors.New("operation: Aggregate requires a Deployment")
	}
	op := driver.Operation{
		CommandFn:         a.command,
		ProcessResponseFn: a.processResponse,
		Client:            a.session,
		Clock:             a.clock,
		CommandMonitor:    a.monitor,
		Database:          a.database,
		Deployment:        a.deployment,
		Selector:          a.selector,
		Type:              driver.Read,
		RetryMode:         retryOnce,
		ServerAPI:         a.serverAPI,
	}
	return op.Execute(ctx)
}

// Result returns a BatchCursor over the pipeline's output documents, once
// Execute has succeeded.
func (a *Aggregate) Result() *cursor.BatchCursor {
	return cursor.NewBatchCursor(a.result, cursor.Options{
		Database:   a.database,
		Collection: a.collection,
		Clock:      a.clock,
		Session:    sessionGossiper(a.session),
	})
}
