// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package auth implements the SASL and X.509 authentication mechanisms a
// connection runs once per handshake, before it is returned to its pool.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/docdb-go/docdb/bsoncore"
)

// Mechanism names, as sent in the handshake's "saslSupportedMechs" and the
// authenticate command's "mechanism" field.
const (
	SCRAMSHA1    = "SCRAM-SHA-1"
	SCRAMSHA256  = "SCRAM-SHA-256"
	MongoDBX509  = "MONGODB-X509"
	MongoDBAWS   = "MONGODB-AWS"
	PLAIN        = "PLAIN"
	GSSAPI       = "GSSAPI"
)

// Cred holds the credentials and mechanism options a Client was
// constructed with (spec.md §6's "authMechanism"/"authSource"/
// "authMechanismProperties" URI options).
type Cred struct {
	Source      string
	Username    string
	Password    string
	PasswordSet bool
	Mechanism   string
	Props       map[string]string
}

// Config bundles what an Authenticator needs to run a conversation over an
// already-handshaken connection.
type Config struct {
	Connection  RoundTripper
	ClusterClock ClockGossiper
	HTTPClient  *http.Client
}

// RoundTripper is the minimal connection capability SASL needs: send one
// command, read one reply. x/driver/topology.Connection satisfies it.
type RoundTripper interface {
	WriteWireMessage(ctx context.Context, wm []byte) error
	ReadWireMessage(ctx context.Context) ([]byte, error)
}

// ClockGossiper lets an authenticate command carry $clusterTime, mirroring
// every other command the driver sends.
type ClockGossiper interface {
	GetClusterTime() (bsoncore.Document, bool)
}

// Authenticator runs one mechanism's conversation to completion.
type Authenticator interface {
	Auth(ctx context.Context, cfg *Config) error
	// Name returns the mechanism name, for event/log tagging.
	Name() string
}

// Error wraps a failure encountered during authentication.
type Error struct {
	message string
	inner   error
}

func newAuthError(msg string, inner error) *Error {
	return &Error{message: msg, inner: inner}
}

func (e *Error) Error() string {
	if e.inner == nil {
		return "auth error: " + e.message
	}
	return fmt.Sprintf("auth error: %s: %v", e.message, e.inner)
}

func (e *Error) Unwrap() error { return e.inner }

// CreateAuthenticator resolves cred's mechanism to a concrete Authenticator,
// defaulting to SCRAM-SHA-256 when Mechanism is unset. No saslSupportedMechs
// negotiation takes place, so an unset Mechanism never falls back to
// SCRAM-SHA-1.
func CreateAuthenticator(cred *Cred) (Authenticator, error) {
	switch cred.Mechanism {
	case "", SCRAMSHA256:
		return newScramAuthenticator(cred, SCRAMSHA256)
	case SCRAMSHA1:
		return newScramAuthenticator(cred, SCRAMSHA1)
	case MongoDBX509:
		return newMongoDBX509Authenticator(cred)
	case PLAIN:
		return newPlainAuthenticator(cred)
	case MongoDBAWS:
		return newMongoDBAWSAuthenticator(cred)
	case GSSAPI:
		return newGSSAPIAuthenticator(cred)
	default:
		return nil, newAuthError(fmt.Sprintf("unknown authentication mechanism %q", cred.Mechanism), nil)
	}
}
