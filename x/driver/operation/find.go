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

// Find performs a find operation, returning a cursor positioned on the
// query's first batch.
type Find struct {
	collection string
	filter     bsoncore.Document
	sort       bsoncore.Document
	projection bsoncore.Document
	limit      *int64
	skip       *int64
	batchSize  *int32
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

// NewFind constructs a Find against collection.
func NewFind(collection string) *Find { return &Find{collection: collection} }

// Filter sets the query filter.
func (f *Find) Filter(filter bsoncore.Document) *Find { f.filter = filter; return f }

// Sort sets the sort document.
func (f *Find) Sort(sort bsoncore.Document) *Find { f.sort = sort; return f }

// Projection sets the projection document.
func (f *Find) Projection(p bsoncore.Document) *Find { f.projection = p; return f }

// Limit sets the result limit.
func (f *Find) Limit(n int64) *Find { f.limit = &n; return f }

// Skip sets the number of matching documents to skip.
func (f *Find) Skip(n int64) *Find { f.skip = &n; return f }

// BatchSize sets the initial and getMore batch size.
func (f *Find) BatchSize(n int32) *Find { f.batchSize = &n; return f }

// ReadConcern sets the read concern level.
func (f *Find) ReadConcern(level string) *Find { f.readConcern = level; return f }

// Session attaches a logical session.
func (f *Find) Session(s *session.Client) *Find { f.session = s; return f }

// ClusterClock attaches a cluster clock.
func (f *Find) ClusterClock(c *session.ClusterClock) *Find { f.clock = c; return f }

// CommandMonitor attaches a command monitor.
func (f *Find) CommandMonitor(m *event.CommandMonitor) *Find { f.monitor = m; return f }

// Database sets the database to run against.
func (f *Find) Database(db string) *Find { f.database = db; return f }

// Deployment sets the deployment to run against.
func (f *Find) Deployment(d driver.Deployment) *Find { f.deployment = d; return f }

// ServerSelector overrides the default read-preference selector.
func (f *Find) ServerSelector(s description.ServerSelector) *Find { f.selector = s; return f }

// ServerAPI sets the declared server API version.
func (f *Find) ServerAPI(api *driver.ServerAPIOptions) *Find { f.serverAPI = api; return f }

func (f *Find) command(dst []byte, desc description.Server) ([]byte, error) {
	if f.batchSize != nil && *f.batchSize < 0 {
		return nil, driver.ErrInvalidArgument
	}
	dst = bsoncore.AppendStringElement(dst, "find", f.collection)
	if f.filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "filter", f.filter)
	}
	if f.sort != nil {
		dst = bsoncore.AppendDocumentElement(dst, "sort", f.sort)
	}
	if f.projection != nil {
		dst = bsoncore.AppendDocumentElement(dst, "projection", f.projection)
	}
	if f.limit != nil {
		dst = bsoncore.AppendInt64Element(dst, "limit", *f.limit)
	}
	if f.skip != nil {
		dst = bsoncore.AppendInt64Element(dst, "skip", *f.skip)
	}
	if f.batchSize != nil {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", *f.batchSize)
	}
	dst = appendReadConcern(dst, f.readConcern)
	return dst, nil
}

func (f *Find) processResponse(info driver.ResponseInfo) error {
	resp, err := cursor.NewResponse(info.ServerResponse, info.Server, info.ConnectionDescription)
	if err != nil {
		return err
	}
	f.result = resp
	return nil
}

// Execute runs the find command.
func (f *Find) Execute(ctx context.Context) error {
	if f.deployment == nil {
		return errors.New("operation: Find requires a Deployment")
	}
	op := driver.Operation{
		CommandFn:         f.command,
		ProcessResponseFn: f.processResponse,
		Client:            f.session,
		Clock:             f.clock,
		CommandMonitor:    f.monitor,
		Database:          f.database,
		Deployment:        f.deployment,
		Selector:          f.selector,
		Type:              driver.Read,
		RetryMode:         retryOnce,
		ServerAPI:         f.serverAPI,
	}
	return op.Execute(ctx)
}

// Result returns a BatchCursor over the query's matching documents, once
// Execute has succeeded.
func (f *Find) Result() *cursor.BatchCursor {
	return cursor.NewBatchCursor(f.result, cursor.Options{
		Database:   f.database,
		Collection: f.collection,
		Clock:      f.clock,
		Session:    sessionGossiper(f.session),
	})
}
