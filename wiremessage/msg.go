// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"fmt"

	"github.com/docdb-go/docdb/bsoncore"
)

// MsgFlags are the bits carried in an OP_MSG's flagBits field.
type MsgFlags uint32

// The flag bits this driver sets or recognizes.
const (
	ChecksumPresent MsgFlags = 1 << 0
	MoreToCome      MsgFlags = 1 << 1
	ExhaustAllowed  MsgFlags = 1 << 16
)

// SectionKind distinguishes an OP_MSG section's two shapes.
type SectionKind uint8

// The two kinds of OP_MSG sections.
const (
	// SectionBody carries exactly one document: the command itself.
	SectionBody SectionKind = 0
	// SectionDocumentSequence carries an identifier (for example "documents"
	// or "updates") followed by any number of documents, used so bulk write
	// payloads don't have to be embedded as a BSON array.
	SectionDocumentSequence SectionKind = 1
)

// Section is one section of an OP_MSG payload.
type Section struct {
	Kind       SectionKind
	Identifier string          // set only when Kind == SectionDocumentSequence
	Documents  []bsoncore.Document
}

// Msg is the decoded form of an OP_MSG body (the header is handled
// separately by Header/ReadHeader/AppendHeader).
type Msg struct {
	FlagBits MsgFlags
	Sections []Section
}

// AppendMsg appends the wire encoding of an OP_MSG body (flags + sections,
// no checksum) to dst.
func AppendMsg(dst []byte, m Msg) []byte {
	dst = appendu32(dst, uint32(m.FlagBits))
	for _, s := range m.Sections {
		dst = append(dst, byte(s.Kind))
		switch s.Kind {
		case SectionBody:
			if len(s.Documents) != 1 {
				panic("wiremessage: body section must carry exactly one document")
			}
			dst = append(dst, s.Documents[0]...)
		case SectionDocumentSequence:
			start := len(dst)
			dst = appendu32(dst, 0) // placeholder size
			dst = append(dst, s.Identifier...)
			dst = append(dst, 0x00)
			for _, d := range s.Documents {
				dst = append(dst, d...)
			}
			size := uint32(len(dst) - start)
			putu32(dst[start:start+4], size)
		}
	}
	return dst
}

// ReadMsg decodes an OP_MSG body (everything after the 16-byte header) from
// src, which must contain exactly one message's worth of bytes (the
// checksum, if present per FlagBits, is not validated here — the caller
// strips it before calling ReadMsg if ChecksumPresent is set).
func ReadMsg(src []byte) (Msg, error) {
	if len(src) < 4 {
		return Msg{}, fmt.Errorf("wiremessage: OP_MSG body too short for flagBits")
	}
	m := Msg{FlagBits: MsgFlags(readu32(src[0:4]))}
	rem := src[4:]
	for len(rem) > 0 {
		kind := SectionKind(rem[0])
		rem = rem[1:]
		switch kind {
		case SectionBody:
			doc, err := bsoncore.ReadDocument(rem)
			if err != nil {
				return Msg{}, fmt.Errorf("wiremessage: body section: %w", err)
			}
			m.Sections = append(m.Sections, Section{Kind: SectionBody, Documents: []bsoncore.Document{doc}})
			rem = rem[len(doc):]
		case SectionDocumentSequence:
			if len(rem) < 4 {
				return Msg{}, fmt.Errorf("wiremessage: document sequence section too short")
			}
			size := int(readu32(rem[0:4]))
			if size < 4 || size > len(rem) {
				return Msg{}, fmt.Errorf("wiremessage: document sequence size %d out of range", size)
			}
			seq := rem[4:size]
			nullIdx := -1
			for i, b := range seq {
				if b == 0x00 {
					nullIdx = i
					break
				}
			}
			if nullIdx < 0 {
				return Msg{}, fmt.Errorf("wiremessage: document sequence identifier missing NUL terminator")
			}
			identifier := string(seq[:nullIdx])
			docsBytes := seq[nullIdx+1:]
			var docs []bsoncore.Document
			for len(docsBytes) > 0 {
				doc, err := bsoncore.ReadDocument(docsBytes)
				if err != nil {
					return Msg{}, fmt.Errorf("wiremessage: document sequence %q: %w", identifier, err)
				}
				docs = append(docs, doc)
				docsBytes = docsBytes[len(doc):]
			}
			m.Sections = append(m.Sections, Section{Kind: SectionDocumentSequence, Identifier: identifier, Documents: docs})
			rem = rem[size:]
		default:
			return Msg{}, fmt.Errorf("wiremessage: unknown section kind %d", kind)
		}
	}
	return m, nil
}

// Body returns the single command document carried in m's SectionBody, the
// section every OP_MSG must have exactly one of.
func (m Msg) Body() (bsoncore.Document, error) {
	for _, s := range m.Sections {
		if s.Kind == SectionBody {
			return s.Documents[0], nil
		}
	}
	return nil, fmt.Errorf("wiremessage: OP_MSG has no body section")
}

func appendu32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func putu32(dst []byte, v uint32) {
	dst[0], dst[1], dst[2], dst[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

func readu32(src []byte) uint32 {
	return uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16 | uint32(src[3])<<24
}
