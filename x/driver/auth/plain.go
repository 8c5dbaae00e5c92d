// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import "context"

// plainAuthenticator implements SASL PLAIN (RFC 4616): one round trip
// carrying the credentials in the clear, so it must only ever run over a
// TLS-protected connection.
type plainAuthenticator struct {
	source   string
	username string
	password string
}

func newPlainAuthenticator(cred *Cred) (Authenticator, error) {
	source := cred.Source
	if source == "" {
		source = "$external"
	}
	return &plainAuthenticator{source: source, username: cred.Username, password: cred.Password}, nil
}

func (a *plainAuthenticator) Name() string { return PLAIN }

func (a *plainAuthenticator) Auth(ctx context.Context, cfg *Config) error {
	adapter := &plainSaslAdapter{username: a.username, password: a.password}
	if err := ConductSaslConversation(ctx, cfg, a.source, adapter); err != nil {
		return newAuthError("plain", err)
	}
	return nil
}

type plainSaslAdapter struct {
	username string
	password string
	done     bool
}

var _ SaslClient = (*plainSaslAdapter)(nil)

func (a *plainSaslAdapter) Start() (string, []byte, error) {
	// authzid NUL authcid NUL passwd
	payload := []byte("\x00" + a.username + "\x00" + a.password)
	a.done = true
	return PLAIN, payload, nil
}

func (a *plainSaslAdapter) Next(challenge []byte) ([]byte, error) { return nil, nil }

func (a *plainSaslAdapter) Completed() bool { return a.done }
