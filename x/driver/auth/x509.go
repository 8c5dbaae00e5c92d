// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"

	"github.com/docdb-go/docdb/bsoncore"
)

// mongoDBX509Authenticator authenticates the already-TLS-verified
// connection's client certificate subject as a username with no
// additional round trip beyond the authenticate command itself — there
// is no SASL conversation for X.509.
type mongoDBX509Authenticator struct {
	username string
}

func newMongoDBX509Authenticator(cred *Cred) (Authenticator, error) {
	if cred.Source != "" && cred.Source != "$external" {
		return nil, newAuthError("X.509 authentication must use the $external auth source", nil)
	}
	return &mongoDBX509Authenticator{username: cred.Username}, nil
}

func (a *mongoDBX509Authenticator) Name() string { return MongoDBX509 }

func (a *mongoDBX509Authenticator) Auth(ctx context.Context, cfg *Config) error {
	dst, idx := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "authenticate", 1)
	dst = bsoncore.AppendStringElement(dst, "mechanism", MongoDBX509)
	if a.username != "" {
		dst = bsoncore.AppendStringElement(dst, "user", a.username)
	}
	dst = appendClusterTime(cfg, dst)

	_, err := roundTrip(ctx, cfg, "$external", dst, idx)
	if err != nil {
		return newAuthError("x509 authenticate", err)
	}
	return nil
}
