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

// Update performs an update operation over one or more update statements,
// each a {q, u, multi, upsert} document sent in the "updates" document
// sequence.
type Update struct {
	collection   string
	updates      [][]byte
	ordered      *bool
	writeConcern WriteConcern

	session    *session.Client
	clock      *session.ClusterClock
	monitor    *event.CommandMonitor
	database   string
	deployment driver.Deployment
	serverAPI  *driver.ServerAPIOptions
	retryable  bool

	result bsoncore.Document
}

// NewUpdate constructs an Update against collection.
func NewUpdate(collection string, updates ...[]byte) *Update {
	return &Update{collection: collection, updates: updates}
}

// Ordered sets whether the server should stop at the first write error.
func (u *Update) Ordered(ordered bool) *Update { u.ordered = &ordered; return u }

// WriteConcern sets the write concern to forward.
func (u *Update) WriteConcern(wc WriteConcern) *Update { u.writeConcern = wc; return u }

// Session attaches a logical session.
func (u *Update) Session(s *session.Client) *Update { u.session = s; return u }

// ClusterClock attaches a cluster clock.
func (u *Update) ClusterClock(c *session.ClusterClock) *Update { u.clock = c; return u }

// CommandMonitor attaches a command monitor.
func (u *Update) CommandMonitor(m *event.CommandMonitor) *Update { u.monitor = m; return u }

// Database sets the database to run against.
func (u *Update) Database(db string) *Update { u.database = db; return u }

// Deployment sets the deployment to run against.
func (u *Update) Deployment(d driver.Deployment) *Update { u.deployment = d; return u }

// ServerAPI sets the declared server API version.
func (u *Update) ServerAPI(api *driver.ServerAPIOptions) *Update { u.serverAPI = api; return u }

// Retryable marks every statement in this Update as a single-document
// update, the precondition spec.md §7 requires for retryable-write
// eligibility (a multi:true update is never retryable).
func (u *Update) Retryable(retryable bool) *Update { u.retryable = retryable; return u }

func (u *Update) command(dst []byte, desc description.Server) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "update", u.collection)
	if u.ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *u.ordered)
	}
	dst = appendWriteConcern(dst, u.writeConcern)
	return dst, nil
}

func (u *Update) processResponse(info driver.ResponseInfo) error {
	u.result = info.ServerResponse
	if wcErr, ok := decodeWriteCommandError(info.ServerResponse); ok {
		return wcErr
	}
	return nil
}

// Execute runs the update command.
func (u *Update) Execute(ctx context.Context) error {
	if u.deployment == nil {
		return errors.New("operation: Update requires a Deployment")
	}
	var retryMode *driver.RetryMode
	if u.retryable {
		retryMode = retryOnce
	}
	op := driver.Operation{
		CommandFn:         u.command,
		ProcessResponseFn: u.processResponse,
		Batches:           &driver.Batches{Identifier: "updates", Documents: u.updates, Ordered: u.ordered},
		Client:            u.session,
		Clock:             u.clock,
		CommandMonitor:    u.monitor,
		Database:          u.database,
		Deployment:        u.deployment,
		Type:              driver.Write,
		RetryMode:         retryMode,
		ServerAPI:         u.serverAPI,
	}
	return op.Execute(ctx)
}

// Result returns the raw reply from the most recent Execute.
func (u *Update) Result() bsoncore.Document { return u.result }
