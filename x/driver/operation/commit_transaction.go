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

// commitRetryWriteConcern is the write concern spec.md §4.7(c) and
// scenario §8(d) require a commitTransaction retry to upgrade to,
// regardless of what the caller originally requested.
var commitRetryWriteConcern = WriteConcern{WMajority: true, WTimeoutMS: 10000}

// CommitTransaction performs a commitTransaction operation. It is always
// sent with RetryOnce regardless of retryWrites, per spec.md's commit
// retry rule, and upgrades its own write concern to majority (wtimeout
// 10000ms) via Operation.UpdateForRetry the moment a retry is needed,
// even when the caller supplied a weaker one on the first attempt.
type CommitTransaction struct {
	session      *session.Client
	clock        *session.ClusterClock
	monitor      *event.CommandMonitor
	database     string
	deployment   driver.Deployment
	writeConcern WriteConcern
	maxCommitTimeMS *int64
	serverAPI    *driver.ServerAPIOptions

	result bsoncore.Document
}

// NewCommitTransaction constructs a CommitTransaction.
func NewCommitTransaction() *CommitTransaction { return &CommitTransaction{} }

// Session attaches a logical session. A CommitTransaction always runs
// against its session's pinned server/connection, since a transaction's
// commands must land on a single server for the transaction's lifetime.
func (ct *CommitTransaction) Session(s *session.Client) *CommitTransaction { ct.session = s; return ct }

// ClusterClock attaches a cluster clock.
func (ct *CommitTransaction) ClusterClock(c *session.ClusterClock) *CommitTransaction {
	ct.clock = c
	return ct
}

// CommandMonitor attaches a command monitor.
func (ct *CommitTransaction) CommandMonitor(m *event.CommandMonitor) *CommitTransaction {
	ct.monitor = m
	return ct
}

// Database sets the database to run against (conventionally "admin").
func (ct *CommitTransaction) Database(db string) *CommitTransaction { ct.database = db; return ct }

// Deployment sets the deployment to run against.
func (ct *CommitTransaction) Deployment(d driver.Deployment) *CommitTransaction { ct.deployment = d; return ct }

// WriteConcern sets the write concern to forward.
func (ct *CommitTransaction) WriteConcern(wc WriteConcern) *CommitTransaction { ct.writeConcern = wc; return ct }

// MaxCommitTimeMS bounds how long the server will wait to satisfy the
// commit's write concern.
func (ct *CommitTransaction) MaxCommitTimeMS(ms int64) *CommitTransaction { ct.maxCommitTimeMS = &ms; return ct }

// ServerAPI sets the declared server API version.
func (ct *CommitTransaction) ServerAPI(api *driver.ServerAPIOptions) *CommitTransaction {
	ct.serverAPI = api
	return ct
}

// Result returns the raw reply from the most recent Execute.
func (ct *CommitTransaction) Result() bsoncore.Document { return ct.result }

func (ct *CommitTransaction) command(dst []byte, desc description.Server) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "commitTransaction", 1)
	if ct.maxCommitTimeMS != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", *ct.maxCommitTimeMS)
	}
	dst = appendWriteConcern(dst, ct.writeConcern)
	return dst, nil
}

func (ct *CommitTransaction) processResponse(info driver.ResponseInfo) error {
	ct.result = info.ServerResponse
	if wcErr, ok := decodeWriteCommandError(info.ServerResponse); ok {
		return wcErr
	}
	return nil
}

// Execute runs the commitTransaction command.
func (ct *CommitTransaction) Execute(ctx context.Context) error {
	if ct.deployment == nil {
		return errors.New("operation: CommitTransaction requires a Deployment")
	}
	op := driver.Operation{
		CommandFn:              ct.command,
		ProcessResponseFn:      ct.processResponse,
		Client:                 ct.session,
		Clock:                  ct.clock,
		CommandMonitor:         ct.monitor,
		Database:               ct.database,
		Deployment:             ct.deployment,
		Type:                   driver.Write,
		RetryMode:              retryOnce,
		ServerAPI:              ct.serverAPI,
		MinimumWriteConcernAck: true,
		UpdateForRetry:         func() { ct.writeConcern = commitRetryWriteConcern },
	}
	return op.Execute(ctx)
}
