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

// Insert performs an insert operation over one or more documents, sent as
// an OP_MSG document-sequence section per spec.md §4.1.
type Insert struct {
	collection   string
	documents    [][]byte
	ordered      *bool
	writeConcern WriteConcern
	bypassValidation *bool

	session    *session.Client
	clock      *session.ClusterClock
	monitor    *event.CommandMonitor
	database   string
	deployment driver.Deployment
	serverAPI  *driver.ServerAPIOptions

	result bsoncore.Document
}

// NewInsert constructs an Insert against collection.
func NewInsert(collection string, documents ...[]byte) *Insert {
	return &Insert{collection: collection, documents: documents}
}

// Ordered sets whether the server should stop at the first write error.
func (ins *Insert) Ordered(ordered bool) *Insert { ins.ordered = &ordered; return ins }

// WriteConcern sets the write concern to forward.
func (ins *Insert) WriteConcern(wc WriteConcern) *Insert { ins.writeConcern = wc; return ins }

// BypassDocumentValidation sets whether to bypass schema validation.
func (ins *Insert) BypassDocumentValidation(b bool) *Insert { ins.bypassValidation = &b; return ins }

// Session attaches a logical session.
func (ins *Insert) Session(s *session.Client) *Insert { ins.session = s; return ins }

// ClusterClock attaches a cluster clock.
func (ins *Insert) ClusterClock(c *session.ClusterClock) *Insert { ins.clock = c; return ins }

// CommandMonitor attaches a command monitor.
func (ins *Insert) CommandMonitor(m *event.CommandMonitor) *Insert { ins.monitor = m; return ins }

// Database sets the database to run against.
func (ins *Insert) Database(db string) *Insert { ins.database = db; return ins }

// Deployment sets the deployment to run against.
func (ins *Insert) Deployment(d driver.Deployment) *Insert { ins.deployment = d; return ins }

// ServerAPI sets the declared server API version.
func (ins *Insert) ServerAPI(api *driver.ServerAPIOptions) *Insert { ins.serverAPI = api; return ins }

func (ins *Insert) command(dst []byte, desc description.Server) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "insert", ins.collection)
	if ins.ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *ins.ordered)
	}
	if ins.bypassValidation != nil {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *ins.bypassValidation)
	}
	dst = appendWriteConcern(dst, ins.writeConcern)
	return dst, nil
}

func (ins *Insert) processResponse(info driver.ResponseInfo) error {
	ins.result = info.ServerResponse
	if wcErr, ok := decodeWriteCommandError(info.ServerResponse); ok {
		return wcErr
	}
	return nil
}

// Execute runs the insert command.
func (ins *Insert) Execute(ctx context.Context) error {
	if ins.deployment == nil {
		return errors.New("operation: Insert requires a Deployment")
	}
	op := driver.Operation{
		CommandFn:         ins.command,
		ProcessResponseFn: ins.processResponse,
		Batches:           &driver.Batches{Identifier: "documents", Documents: ins.documents, Ordered: ins.ordered},
		Client:            ins.session,
		Clock:             ins.clock,
		CommandMonitor:    ins.monitor,
		Database:          ins.database,
		Deployment:        ins.deployment,
		Type:              driver.Write,
		RetryMode:         retryOnce,
		ServerAPI:         ins.serverAPI,
	}
	return op.Execute(ctx)
}

// Result returns the raw reply from the most recent Execute (n, writeErrors,
// writeConcernError).
func (ins *Insert) Result() bsoncore.Document { return ins.result }
