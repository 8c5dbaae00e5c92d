// Copyright (C) MongoDB, Inc. 2019-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"

	"github.com/docdb-go/docdb/bsoncore"
	"github.com/docdb-go/docdb/description"
	driver "github.com/docdb-go/docdb/x/driver"
)

// EndSessions tells the server to release a batch of logical session ids
// so it can discard the corresponding server-side session state, as a
// client shuts down or reaps a Pool. Unlike ordinary writes, the "ids"
// field is a plain BSON array rather than an OP_MSG document sequence —
// the server only ever acknowledges {ok: 1}, so there is no per-id result
// to stream back.
type EndSessions struct {
	ids        []bsoncore.Document
	database   string
	deployment driver.Deployment
	selector   description.ServerSelector
}

// NewEndSessions constructs an EndSessions for one batch of session ids.
// Split a larger id list into batches with session.EndSessionsBatches
// before constructing one EndSessions per batch.
func NewEndSessions(ids []bsoncore.Document) *EndSessions {
	return &EndSessions{ids: ids, database: "admin"}
}

// Database overrides the database to run against (defaults to "admin").
func (es *EndSessions) Database(db string) *EndSessions { es.database = db; return es }

// Deployment sets the deployment to run against.
func (es *EndSessions) Deployment(d driver.Deployment) *EndSessions { es.deployment = d; return es }

// ServerSelector overrides the default server selector.
func (es *EndSessions) ServerSelector(s description.ServerSelector) *EndSessions {
	es.selector = s
	return es
}

func (es *EndSessions) command(dst []byte, desc description.Server) ([]byte, error) {
	dst, idx := bsoncore.AppendArrayElementStart(dst, "endSessions")
	for i, id := range es.ids {
		dst = bsoncore.AppendDocumentElement(dst, bsoncore.ArrayElementKey(i), id)
	}
	dst = bsoncore.AppendArrayEnd(dst, idx)
	return dst, nil
}

// Execute runs the endSessions command. A failure here is never fatal to
// the caller (the server will eventually reap idle sessions on its own),
// so callers typically log and discard the error rather than propagate
// it.
func (es *EndSessions) Execute(ctx context.Context) error {
	if es.deployment == nil || len(es.ids) == 0 {
		return nil
	}
	op := driver.Operation{
		CommandFn:  es.command,
		Database:   es.database,
		Deployment: es.deployment,
		Selector:   es.selector,
		Type:       driver.Unretryable,
	}
	return op.Execute(ctx)
}
