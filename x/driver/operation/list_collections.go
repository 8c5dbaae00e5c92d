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
	"github.com/docdb-go/docdb/x/driver/cursor"
	"github.com/docdb-go/docdb/x/driver/session"
)

// ListCollections performs a listCollections operation.
type ListCollections struct {
	filter   bsoncore.Document
	nameOnly *bool

	session    *session.Client
	clock      *session.ClusterClock
	monitor    *event.CommandMonitor
	database   string
	deployment driver.Deployment
	selector   description.ServerSelector
	serverAPI  *driver.ServerAPIOptions

	result cursor.Response
}

// NewListCollections constructs a ListCollections.
func NewListCollections(filter bsoncore.Document) *ListCollections {
	return &ListCollections{filter: filter}
}

// NameOnly restricts the result to collection names and types.
func (lc *ListCollections) NameOnly(nameOnly bool) *ListCollections { lc.nameOnly = &nameOnly; return lc }

// Session attaches a logical session.
func (lc *ListCollections) Session(s *session.Client) *ListCollections { lc.session = s; return lc }

// ClusterClock attaches a cluster clock.
func (lc *ListCollections) ClusterClock(c *session.ClusterClock) *ListCollections {
	lc.clock = c
	return lc
}

// CommandMonitor attaches a command monitor.
func (lc *ListCollections) CommandMonitor(m *event.CommandMonitor) *ListCollections {
	lc.monitor = m
	return lc
}

// Database sets the database to run against.
func (lc *ListCollections) Database(db string) *ListCollections { lc.database = db; return lc }

// Deployment sets the deployment to run against.
func (lc *ListCollections) Deployment(d driver.Deployment) *ListCollections { lc.deployment = d; return lc }

// ServerSelector overrides the default read-preference selector.
func (lc *ListCollections) ServerSelector(s description.ServerSelector) *ListCollections {
	lc.selector = s
	return lc
}

// ServerAPI sets the declared server API version.
func (lc *ListCollections) ServerAPI(api *driver.ServerAPIOptions) *ListCollections {
	lc.serverAPI = api
	return lc
}

func (lc *ListCollections) command(dst []byte, desc description.Server) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "listCollections", 1)
	if lc.filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "filter", lc.filter)
	}
	if lc.nameOnly != nil {
		dst = bsoncore.AppendBooleanElement(dst, "nameOnly", *lc.nameOnly)
	}
	return dst, nil
}

func (lc *ListCollections) processResponse(info driver.ResponseInfo) error {
	resp, err := cursor.NewResponse(info.ServerResponse, info.Server, info.ConnectionDescription)
	if err != nil {
		return err
	}
	lc.result = resp
	return nil
}

// Execute runs the listCollections command.
func (lc *ListCollections) Execute(ctx context.Context) error {
	if lc.deployment == nil {
		return errors.New("operation: ListCollections requires a Deployment")
	}
	op := driver.Operation{
		CommandFn:         lc.command,
		ProcessResponseFn: lc.processResponse,
		Client:            lc.session,
		Clock:             lc.clock,
		CommandMonitor:    lc.monitor,
		Database:          lc.database,
		Deployment:        lc.deployment,
		Selector:          lc.selector,
		Type:              driver.Read,
		RetryMode:         retryOnce,
		ServerAPI:         lc.serverAPI,
	}
	return op.Execute(ctx)
}

// Result returns a BatchCursor over the matching collections' metadata
// documents, once Execute has succeeded.
func (lc *ListCollections) Result() *cursor.BatchCursor {
	return cursor.NewBatchCursor(lc.result, cursor.Options{
		Database: lc.database,
		Clock:    lc.clock,
		Session:  sessionGossiper(lc.session),
	})
}
