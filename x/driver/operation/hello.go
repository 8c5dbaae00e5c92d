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
	"github.com/docdb-go/docdb/x/driver/session"
)

// Hello runs the "hello" handshake command through the ordinary execution
// pipeline, for callers that want an on-demand topology snapshot rather
// than the background monitor's own direct round trip (x/driver/topology's
// sendHello never goes through this type — the monitor cannot depend on
// server selection succeeding to discover servers in the first place).
type Hello struct {
	appName     string
	compressors []string
	clock       *session.ClusterClock
	deployment  driver.Deployment
	serverAPI   *driver.ServerAPIOptions

	res bsoncore.Document
}

// NewHello constructs a Hello.
func NewHello() *Hello { return &Hello{} }

// AppName sets the application name advertised in client metadata.
func (h *Hello) AppName(name string) *Hello { h.appName = name; return h }

// Compressors sets the compressors this client can use.
func (h *Hello) Compressors(c []string) *Hello { h.compressors = c; return h }

// ClusterClock sets the cluster clock to gossip on this operation.
func (h *Hello) ClusterClock(c *session.ClusterClock) *Hello { h.clock = c; return h }

// Deployment sets the deployment to run against.
func (h *Hello) Deployment(d driver.Deployment) *Hello { h.deployment = d; return h }

// ServerAPI sets the declared server API version.
func (h *Hello) ServerAPI(api *driver.ServerAPIOptions) *Hello { h.serverAPI = api; return h }

// Result returns the raw reply from the most recent Execute.
func (h *Hello) Result() bsoncore.Document { return h.res }

func (h *Hello) command(dst []byte, desc description.Server) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "hello", 1)
	if h.appName != "" {
		dst, clientIdx := bsoncore.AppendDocumentElementStart(dst, "client")
		dst = bsoncore.AppendStringElement(dst, "driver", "docdb-go")
		dst, appIdx := bsoncore.AppendDocumentElementStart(dst, "application")
		dst = bsoncore.AppendStringElement(dst, "name", h.appName)
		dst = bsoncore.AppendDocumentEnd(dst, appIdx)
		dst = bsoncore.AppendDocumentEnd(dst, clientIdx)
	}
	if len(h.compressors) > 0 {
		dst, idx := bsoncore.AppendArrayElementStart(dst, "compression")
		for i, c := range h.compressors {
			dst = bsoncore.AppendStringElement(dst, bsoncore.ArrayElementKey(i), c)
		}
		dst = bsoncore.AppendArrayEnd(dst, idx)
	}
	return dst, nil
}

// Execute runs the hello command.
func (h *Hello) Execute(ctx context.Context) error {
	if h.deployment == nil {
		return errors.New("operation: Hello requires a Deployment")
	}
	op := driver.Operation{
		CommandFn:  h.command,
		Clock:      h.clock,
		Database:   "admin",
		Deployment: h.deployment,
		Type:       driver.Unretryable,
		ServerAPI:  h.serverAPI,
		ProcessResponseFn: func(info driver.ResponseInfo) error {
			h.res = info.ServerResponse
			return nil
		},
	}
	return op.Execute(ctx)
}
