// Copyright (C) MongoDB, Inc. 2019-present.
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

// AbortTransaction performs an abortTransaction operation. Like
// CommitTransaction it always retries once regardless of the deployment's
// retryWrites setting, and any error it returns is intentionally
// swallowed by callers that abort as part of unwinding another failure —
// an abort failing is never the error worth surfacing.
type AbortTransaction struct {
	session      *session.Client
	clock        *session.ClusterClock
	monitor      *event.CommandMonitor
	database     string
	deployment   driver.Deployment
	writeConcern WriteConcern
	serverAPI    *driver.ServerAPIOptions

	result bsoncore.Document
}

// NewAbortTransaction constructs an AbortTransaction.
func NewAbortTransaction() *AbortTransaction { return &AbortTransaction{} }

// Session attaches a logical session.
func (at *AbortTransaction) Session(s *session.Client) *AbortTransaction { at.session = s; return at }

// ClusterClock attaches a cluster clock.
func (at *AbortTransaction) ClusterClock(c *session.ClusterClock) *AbortTransaction {
	at.clock = c
	return at
}

// CommandMonitor attaches a command monitor.
func (at *AbortTransaction) CommandMonitor(m *event.CommandMonitor) *AbortTransaction {
	at.monitor = m
	return at
}

// Database sets the database to run against (conventionally "admin").
func (at *AbortTransaction) Database(db string) *AbortTransaction { at.database = db; return at }

// Deployment sets the deployment to run against.
func (at *AbortTransaction) Deployment(d driver.Deployment) *AbortTransaction {
	at.deployment = d
	return at
}

// WriteConcern sets the write concern to forward.
func (at *AbortTransaction) WriteConcern(wc WriteConcern) *AbortTransaction {
	at.writeConcern = wc
	return at
}

// ServerAPI sets the declared server API version.
func (at *AbortTransaction) ServerAPI(api *driver.ServerAPIOptions) *AbortTransaction {
	at.serverAPI = api
	return at
}

// Result returns the raw reply from the most recent Execute.
func (at *AbortTransaction) Result() bsoncore.Document { return at.result }

func (at *AbortTransaction) command(dst []byte, desc description.Server) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "abortTransaction", 1)
	dst = appendWriteConcern(dst, at.writeConcern)
	return dst, nil
}

func (at *AbortTransaction) processResponse(info driver.ResponseInfo) error {
	at.result = info.ServerResponse
	return nil
}

// Execute runs the abortTransaction command.
func (at *AbortTransaction) Execute(ctx context.Context) error {
	if at.deployment == nil {
		return errors.New("operation: AbortTransaction requires a Deployment")
	}
	op := driver.Operation{
		CommandFn:         at.command,
		ProcessResponseFn: at.processResponse,
		Client:            at.session,
		Clock:             at.clock,
		CommandMonitor:    at.monitor,
		Database:          at.database,
		Deployment:        at.deployment,
		Type:              driver.Write,
		RetryMode:         retryOnce,
		ServerAPI:         at.serverAPI,
	}
	return op.Execute(ctx)
}
