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
	driver "github.com/docdb-go/docdb/x/driver"
)

// KillCursors kills one or more server-side cursors over a pinned
// connection, the standalone counterpart to GetMore used wherever a cursor
// is abandoned before being drained.
type KillCursors struct {
	collection string
	ids        []int64
	database   string
	conn       driver.Connection

	result bsoncore.Document
}

// NewKillCursors constructs a KillCursors for collection.
func NewKillCursors(collection string, ids ...int64) *KillCursors {
	return &KillCursors{collection: collection, ids: ids}
}

// Database sets the database to run against.
func (k *KillCursors) Database(db string) *KillCursors { k.database = db; return k }

// Connection pins this killCursors to conn.
func (k *KillCursors) Connection(c driver.Connection) *KillCursors { k.conn = c; return k }

func (k *KillCursors) command(dst []byte, desc description.Server) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "killCursors", k.collection)
	dst, idx := bsoncore.AppendArrayElementStart(dst, "cursors")
	for i, id := range k.ids {
		dst = bsoncore.AppendInt64Element(dst, bsoncore.ArrayElementKey(i), id)
	}
	dst = bsoncore.AppendArrayEnd(dst, idx)
	return dst, nil
}

func (k *KillCursors) processResponse(info driver.ResponseInfo) error {
	k.result = info.ServerResponse
	return nil
}

// Execute runs the killCursors command over the pinned connection.
func (k *KillCursors) Execute(ctx context.Context) error {
	if k.conn == nil {
		return errors.New("operation: KillCursors requires a pinned Connection")
	}
	op := driver.Operation{
		CommandFn:         k.command,
		ProcessResponseFn: k.processResponse,
		Database:          k.database,
		Deployment:        driver.SingleConnectionDeployment{C: k.conn},
		Type:              driver.Unretryable,
	}
	return op.Execute(ctx)
}

// Result returns the raw reply (cursorsKilled/cursorsNotFound/cursorsAlive)
// from the most recent Execute.
func (k *KillCursors) Result() bsoncore.Document { return k.result }
