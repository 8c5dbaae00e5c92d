// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/docdb-go/docdb/bsoncore"
	"github.com/docdb-go/docdb/x/driver/auth/creds"
	"github.com/docdb-go/docdb/x/driver/auth/internal/aws/credentials"
)

func newMongoDBAWSAuthenticator(cred *Cred) (Authenticator, error) {
	if cred.Source != "" && cred.Source != "$external" {
		return nil, newAuthError("MONGODB-AWS source must be empty or $external", nil)
	}
	providers := []credentials.Provider{
		&creds.StaticProvider{Value: credentials.Value{
			AccessKeyID:     cred.Username,
			SecretAccessKey: cred.Password,
			SessionToken:    cred.Props["AWS_SESSION_TOKEN"],
		}},
		creds.EnvProvider{},
	}
	return &mongoDBAWSAuthenticator{source: cred.Source, providers: providers}, nil
}

// mongoDBAWSAuthenticator uses AWS-IAM credentials over SASL to
// authenticate a connection, per spec.md §6's MONGODB-AWS mechanism: the
// client signs a server-chosen nonce as an AWS Signature Version 4
// "sts:GetCallerIdentity" request, and the server verifies it by replaying
// the request against AWS STS.
type mongoDBAWSAuthenticator struct {
	source    string
	providers []credentials.Provider
}

func (a *mongoDBAWSAuthenticator) Name() string { return MongoDBAWS }

func (a *mongoDBAWSAuthenticator) Auth(ctx context.Context, cfg *Config) error {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	providers := append(append([]credentials.Provider{}, a.providers...), creds.NewAwsCredentialProvider(httpClient).Providers...)
	adapter := &awsSaslAdapter{
		creds: credentials.NewChainCredentials(providers),
	}
	if err := ConductSaslConversation(ctx, cfg, a.source, adapter); err != nil {
		return newAuthError("mongodb-aws sasl conversation", err)
	}
	return nil
}

type awsSaslAdapter struct {
	creds      *credentials.Credentials
	clientNonce []byte
	step        int
}

var _ SaslClient = (*awsSaslAdapter)(nil)

const awsSaslMechanism = MongoDBAWS

func (a *awsSaslAdapter) Start() (string, []byte, error) {
	a.clientNonce = make([]byte, 32)
	if _, err := rand.Read(a.clientNonce); err != nil {
		return "", nil, fmt.Errorf("mongodb-aws: generating client nonce: %w", err)
	}
	dst, idx := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendBinaryElement(dst, "r", 0x00, a.clientNonce)
	dst = bsoncore.AppendInt32Element(dst, "p", int32('n'))
	dst = bsoncore.AppendDocumentEnd(dst, idx)
	a.step = 1
	return awsSaslMechanism, dst, nil
}

// Next answers the server's challenge, which carries the full client+server
// nonce to sign and the STS host to address the signed request to.
func (a *awsSaslAdapter) Next(challenge []byte) ([]byte, error) {
	if a.step != 1 {
		return nil, errors.New("mongodb-aws: unexpected extra sasl step")
	}
	a.step = 2

	doc := bsoncore.Document(challenge)
	_, serverNonce, ok := doc.Lookup("s").BinaryOK()
	if !ok {
		return nil, errors.New("mongodb-aws: challenge missing server nonce")
	}
	stsHost, ok := doc.Lookup("h").StringValueOK()
	if !ok {
		return nil, errors.New("mongodb-aws: challenge missing sts host")
	}
	if !bytes.HasPrefix(serverNonce, a.clientNonce) || len(serverNonce) != 64 {
		return nil, errors.New("mongodb-aws: server nonce does not extend client nonce")
	}

	val, err := a.creds.Get()
	if err != nil {
		return nil, fmt.Errorf("mongodb-aws: retrieving credentials: %w", err)
	}

	if stsHost == "" {
		stsHost = "sts.amazonaws.com"
	}
	req := signSTSRequest(stsHost, val, time.Now().UTC())

	dst, idx := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "a", req.authHeader)
	dst = bsoncore.AppendStringElement(dst, "d", req.date)
	if val.SessionToken != "" {
		dst = bsoncore.AppendStringElement(dst, "t", val.SessionToken)
	}
	dst = bsoncore.AppendDocumentEnd(dst, idx)
	return dst, nil
}

func (a *awsSaslAdapter) Completed() bool { return a.step == 2 }

// stsRequest holds the pieces of the signed sts:GetCallerIdentity request
// the server needs to replay: the Authorization header and the
// X-Amz-Date it was signed with. The method/body/host are implied and
// fixed by the protocol, so only these vary per conversation.
type stsRequest struct {
	date       string
	authHeader string
}

const stsRequestBody = "Action=GetCallerIdentity&Version=2011-06-15"

// signSTSRequest computes the AWS Signature Version 4 Authorization
// header for the fixed GetCallerIdentity POST, following the five
// canonical steps (canonical request, string to sign, signing key,
// signature, header) the AWS documentation describes.
func signSTSRequest(host string, val credentials.Value, now time.Time) *stsRequest {
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	region := "us-east-1"
	service := "sts"

	canonicalHeaders := fmt.Sprintf(
		"content-type:application/x-www-form-urlencoded\nhost:%s\nx-amz-date:%s\n",
		host, amzDate,
	)
	signedHeaders := "content-type;host;x-amz-date"
	if val.SessionToken != "" {
		canonicalHeaders = fmt.Sprintf(
			"content-type:application/x-www-form-urlencoded\nhost:%s\nx-amz-date:%s\nx-amz-security-token:%s\n",
			host, amzDate, val.SessionToken,
		)
		signedHeaders = "content-type;host;x-amz-date;x-amz-security-token"
	}

	payloadHash := sha256Hex([]byte(stsRequestBody))
	canonicalRequest := fmt.Sprintf("POST\n/\n\n%s\n%s\n%s", canonicalHeaders, signedHeaders, payloadHash)

	scope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, region, service)
	stringToSign := fmt.Sprintf("AWS4-HMAC-SHA256\n%s\n%s\n%s", amzDate, scope, sha256Hex([]byte(canonicalRequest)))

	signingKey := hmacSHA256(hmacSHA256(hmacSHA256(hmacSHA256([]byte("AWS4"+val.SecretAccessKey), dateStamp), region), service), "aws4_request")
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	return &stsRequest{
		date: amzDate,
		authHeader: fmt.Sprintf(
			"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
			val.AccessKeyID, scope, signedHeaders, signature,
		),
	}
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
