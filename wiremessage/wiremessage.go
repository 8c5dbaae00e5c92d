// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package wiremessage implements the wire codec's message framing: the
// 16-byte header, the unified opcode with its ordered sections, and the
// compressed wrapper opcode, per spec.md §4.1.
package wiremessage

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// OpCode identifies the kind of payload that follows the header.
type OpCode int32

// The two opcodes this driver speaks. Older opcodes (OP_QUERY, OP_REPLY,
// OP_INSERT, ...) are not implemented: every server new enough to be
// selected by this driver's minimum wire version supports OP_MSG.
const (
	OpCompressed OpCode = 2012
	OpMsg        OpCode = 2013
)

func (c OpCode) String() string {
	switch c {
	case OpCompressed:
		return "OP_COMPRESSED"
	case OpMsg:
		return "OP_MSG"
	default:
		return fmt.Sprintf("OpCode(%d)", int32(c))
	}
}

// CompressorID identifies a negotiated compression algorithm.
type CompressorID uint8

// The three compression algorithms negotiable at handshake.
const (
	CompressorNoop   CompressorID = 0
	CompressorSnappy CompressorID = 1
	CompressorZlib   CompressorID = 2
	CompressorZstd   CompressorID = 3
)

func (c CompressorID) String() string {
	switch c {
	case CompressorNoop:
		return "noop"
	case CompressorSnappy:
		return "snappy"
	case CompressorZlib:
		return "zlib"
	case CompressorZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

const headerLen = 16

// Header is the 16-byte prefix on every wire frame.
type Header struct {
	Length     int32
	RequestID  int32
	ResponseTo int32
	OpCode     OpCode
}

// AppendHeader appends the wire encoding of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = appendi32(dst, h.Length)
	dst = appendi32(dst, h.RequestID)
	dst = appendi32(dst, h.ResponseTo)
	dst = appendi32(dst, int32(h.OpCode))
	return dst
}

// ReadHeader reads a Header from the front of src, returning the remaining
// bytes.
func ReadHeader(src []byte) (Header, []byte, error) {
	if len(src) < headerLen {
		return Header{}, src, fmt.Errorf("wiremessage: header requires %d bytes, have %d", headerLen, len(src))
	}
	var h Header
	h.Length = readi32(src[0:4])
	h.RequestID = readi32(src[4:8])
	h.ResponseTo = readi32(src[8:12])
	h.OpCode = OpCode(readi32(src[12:16]))
	return h, src[headerLen:], nil
}

func appendi32(dst []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(v))
}

func readi32(src []byte) int32 {
	return int32(binary.LittleEndian.Uint32(src))
}

// UpdateMessageLength overwrites the length field of a fully built wire
// frame's header (the first 4 bytes) with the frame's actual length.
func UpdateMessageLength(wm []byte) []byte {
	binary.LittleEndian.PutUint32(wm[0:4], uint32(len(wm)))
	return wm
}

var nextRequestID atomic.Int32

// NextRequestID returns a fresh, process-unique request id. Not
// cryptographically random — only uniqueness among in-flight requests on
// this process matters, matching how the teacher's driver assigns them.
func NextRequestID() int32 {
	return nextRequestID.Add(1)
}
