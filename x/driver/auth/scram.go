// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"

	"github.com/xdg-go/scram"
)

// scramAuthenticator runs SASL SCRAM-SHA-1 or SCRAM-SHA-256 via
// github.com/xdg-go/scram, the library the teacher depends on for the same
// mechanisms.
type scramAuthenticator struct {
	mechanism string
	source    string
	client    *scram.Client
}

func newScramAuthenticator(cred *Cred, mechanism string) (Authenticator, error) {
	var hashGen scram.HashGeneratorFcn
	switch mechanism {
	case SCRAMSHA1:
		hashGen = sha1.New
	case SCRAMSHA256:
		hashGen = sha256.New
	default:
		return nil, newAuthError(fmt.Sprintf("unsupported SCRAM mechanism %q", mechanism), nil)
	}

	passwd := cred.Password
	if mechanism == SCRAMSHA1 {
		passwd = mongoPasswordDigest(cred.Username, passwd)
	}

	client, err := hashGen.NewClient(cred.Username, passwd, "")
	if err != nil {
		return nil, newAuthError("scram: constructing client", err)
	}

	source := cred.Source
	if source == "" {
		source = "admin"
	}
	return &scramAuthenticator{mechanism: mechanism, source: source, client: client}, nil
}

func (a *scramAuthenticator) Name() string { return a.mechanism }

func (a *scramAuthenticator) Auth(ctx context.Context, cfg *Config) error {
	adapter := &scramSaslAdapter{mechanism: a.mechanism, conv: a.client.NewConversation()}
	return ConductSaslConversation(ctx, cfg, a.source, adapter)
}

type scramSaslAdapter struct {
	mechanism string
	conv      *scram.ClientConversation
}

var _ SaslClient = (*scramSaslAdapter)(nil)

func (a *scramSaslAdapter) Start() (string, []byte, error) {
	step, err := a.conv.Step("")
	if err != nil {
		return "", nil, err
	}
	return a.mechanism, []byte(step), nil
}

func (a *scramSaslAdapter) Next(challenge []byte) ([]byte, error) {
	step, err := a.conv.Step(string(challenge))
	if err != nil {
		return nil, err
	}
	return []byte(step), nil
}

func (a *scramSaslAdapter) Completed() bool { return a.conv.Done() }

// mongoPasswordDigest reproduces the legacy MONGODB-CR-style
// md5(username:mongo:password) digest SCRAM-SHA-1 hashes its password
// input through, for compatibility with servers that only ever stored
// that digest.
func mongoPasswordDigest(username, password string) string {
	h := md5.New()
	h.Write([]byte(username))
	h.Write([]byte(":mongo:"))
	h.Write([]byte(password))
	return fmt.Sprintf("%x", h.Sum(nil))
}
