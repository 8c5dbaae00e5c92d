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

// DropDatabase performs a dropDatabase operation.
type DropDatabase struct {
	session      *session.Client
	clock        *session.ClusterClock
	monitor      *event.CommandMonitor
	database     string
	deployment   driver.Deployment
	selector     description.ServerSelector
	writeConcern WriteConcern
	serverAPI    *driver.ServerAPIOptions

	result DropDatabaseResult
}

// DropDatabaseResult is the dropDatabase command's result.
type DropDatabaseResult struct {
	Dropped string
}

// NewDropDatabase constructs a DropDatabase.
func NewDropDatabase() *DropDatabase { return &DropDatabase{} }

// Session attaches a logical session.
func (dd *DropDatabase) Session(s *session.Client) *DropDatabase { dd.session = s; return dd }

// ClusterClock attaches a cluster clock.
func (dd *DropDatabase) ClusterClock(c *session.ClusterClock) *DropDatabase { dd.clock = c; return dd }

// CommandMonitor attaches a command monitor.
func (dd *DropDatabase) CommandMonitor(m *event.CommandMonitor) *DropDatabase { dd.monitor = m; return dd }

// Database sets the database to drop.
func (dd *DropDatabase) Database(db string) *DropDatabase { dd.database = db; return dd }

// Deployment sets the deployment to run against.
func (dd *DropDatabase) Deployment(d driver.Deployment) *DropDatabase { dd.deployment = d; return dd }

// ServerSelector overrides the default write selector.
func (dd *DropDatabase) ServerSelector(s description.ServerSelector) *DropDatabase { dd.selector = s; return dd }

// WriteConcern sets the write concern to forward.
func (dd *DropDatabase) WriteConcern(wc WriteConcern) *DropDatabase { dd.writeConcern = wc; return dd }

// ServerAPI sets the declared server API version.
func (dd *DropDatabase) ServerAPI(api *driver.ServerAPIOptions) *DropDatabase { dd.serverAPI = api; return dd }

// Result returns the result of the most recent Execute.
func (dd *DropDatabase) Result() DropDatabaseResult { return dd.result }

func (dd *DropDatabase) command(dst []byte, desc description.Server) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "dropDatabase", 1)
	dst = appendWriteConcern(dst, dd.writeConcern)
	return dst, nil
}

func (dd *DropDatabase) processResponse(info driver.ResponseInfo) error {
	dropped, _ := info.ServerResponse.Lookup("dropped").StringValueOK()
	dd.result = DropDatabaseResult{Dropped: dropped}
	return nil
}

// Execute runs the dropDatabase command.
func (dd *DropDatabase) Execute(ctx context.Context) error {
	if dd.deployment == nil {
		return errors.New("operation: DropDatabase requires a Deployment")
	}
	op := driver.Operation{
		CommandFn:         dd.command,
		ProcessResponseFn: dd.processResponse,
		Client:            dd.session,
		Clock:             dd.clock,
		CommandMonitor:    dd.monitor,
		Database:          dd.database,
		Deployment:        dd.deployment,
		Selector:          dd.selector,
		Type:              driver.Write,
		ServerAPI:         dd.serverAPI,
	}
	return op.Execute(ctx)
}
