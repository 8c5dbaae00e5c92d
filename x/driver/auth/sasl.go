// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"

	"github.com/docdb-go/docdb/bsoncore"
	"github.com/docdb-go/docdb/wiremessage"
)

// SaslClient runs one side of a SASL conversation. Start returns the
// mechanism name and the first outgoing payload; Next is fed each
// server challenge in turn until Completed reports true.
type SaslClient interface {
	Start() (mechanism string, payload []byte, err error)
	Next(challenge []byte) (payload []byte, err error)
	Completed() bool
}

// ConductSaslConversation drives client to completion against cfg's
// connection, issuing saslStart then as many saslContinue round trips as
// the server demands, generalizing every SASL-based mechanism
// (SCRAM-SHA-1/256, PLAIN, MONGODB-AWS) onto one command loop.
func ConductSaslConversation(ctx context.Context, cfg *Config, source string, client SaslClient) error {
	if source == "" {
		source = "admin"
	}

	mechanism, payload, err := client.Start()
	if err != nil {
		return newAuthError("sasl start", err)
	}

	dst, idx := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "saslStart", 1)
	dst = bsoncore.AppendStringElement(dst, "mechanism", mechanism)
	dst = bsoncore.AppendBinaryElement(dst, "payload", 0x00, payload)
	dst = appendClusterTime(cfg, dst)

	reply, err := roundTrip(ctx, cfg, source, dst, idx)
	if err != nil {
		return newAuthError("sasl start round trip", err)
	}

	for {
		done, _ := reply.Lookup("done").BooleanOK()
		conversationID, _ := reply.Lookup("conversationId").AsInt32OK()
		_, challenge, _ := reply.Lookup("payload").BinaryOK()

		if done && client.Completed() {
			return nil
		}

		payload, err = client.Next(challenge)
		if err != nil {
			return newAuthError("sasl step", err)
		}
		if done && client.Completed() {
			// The server already considers the conversation finished and
			// our side has no more to say; nothing left to send.
			return nil
		}

		dst, idx = bsoncore.AppendDocumentStart(nil)
		dst = bsoncore.AppendInt32Element(dst, "saslContinue", 1)
		dst = bsoncore.AppendInt32Element(dst, "conversationId", conversationID)
		dst = bsoncore.AppendBinaryElement(dst, "payload", 0x00, payload)
		dst = appendClusterTime(cfg, dst)

		reply, err = roundTrip(ctx, cfg, source, dst, idx)
		if err != nil {
			return newAuthError("sasl continue round trip", err)
		}
	}
}

func appendClusterTime(cfg *Config, dst []byte) []byte {
	if cfg.ClusterClock == nil {
		return dst
	}
	if ct, ok := cfg.ClusterClock.GetClusterTime(); ok {
		dst = bsoncore.AppendDocumentElement(dst, "$clusterTime", ct)
	}
	return dst
}

// roundTrip appends "$db" to the still-open document started at idx,
// closes it, and sends it as an OP_MSG command, returning the decoded
// reply. Authentication runs before the connection is handed to the
// execution pipeline, so it speaks the wire protocol directly rather than
// through driver.Operation.
func roundTrip(ctx context.Context, cfg *Config, db string, dst []byte, idx int32) (bsoncore.Document, error) {
	dst = bsoncore.AppendStringElement(dst, "$db", db)
	dst = bsoncore.AppendDocumentEnd(dst, idx)

	wm := wiremessage.AppendHeader(nil, wiremessage.Header{RequestID: wiremessage.NextRequestID(), OpCode: wiremessage.OpMsg})
	wm = wiremessage.AppendMsg(wm, wiremessage.Msg{Sections: []wiremessage.Section{
		{Kind: wiremessage.SectionBody, Documents: []bsoncore.Document{bsoncore.Document(dst)}},
	}})
	wm = wiremessage.UpdateMessageLength(wm)

	if err := cfg.Connection.WriteWireMessage(ctx, wm); err != nil {
		return nil, err
	}
	replyWM, err := cfg.Connection.ReadWireMessage(ctx)
	if err != nil {
		return nil, err
	}

	_, rem, err := wiremessage.ReadHeader(replyWM)
	if err != nil {
		return nil, err
	}
	msg, err := wiremessage.ReadMsg(rem)
	if err != nil {
		return nil, err
	}
	body, err := msg.Body()
	if err != nil {
		return nil, err
	}
	if ok, _ := body.Lookup("ok").AsFloat64OK(); ok != 1 {
		errmsg, _ := body.Lookup("errmsg").StringValueOK()
		return nil, newAuthError("server rejected authentication: "+errmsg, nil)
	}
	return body, nil
}
