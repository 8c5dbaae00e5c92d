// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// CompressedHeader is the body that follows an OP_COMPRESSED frame's
// 16-byte header: the wrapped opcode, the uncompressed payload size, the
// compressor used, and the compressed bytes themselves.
type CompressedHeader struct {
	OriginalOpCode    OpCode
	UncompressedSize  int32
	CompressorID      CompressorID
}

// Compress compresses body (an encoded OP_MSG payload) with the given
// compressor, returning the bytes to place after the CompressedHeader in an
// OP_COMPRESSED frame.
func Compress(body []byte, id CompressorID, zlibLevel int) ([]byte, error) {
	switch id {
	case CompressorNoop:
		return body, nil
	case CompressorSnappy:
		return snappy.Encode(nil, body), nil
	case CompressorZlib:
		var buf bytes.Buffer
		level := zlibLevel
		if level == 0 {
			level = zlib.DefaultCompression
		}
		w, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressorZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(body, nil), nil
	default:
		return nil, fmt.Errorf("wiremessage: unknown compressor %d", id)
	}
}

// Decompress reverses Compress, given the uncompressed size carried in the
// CompressedHeader so the destination buffer can be preallocated exactly.
func Decompress(compressed []byte, id CompressorID, uncompressedSize int32) ([]byte, error) {
	switch id {
	case CompressorNoop:
		return compressed, nil
	case CompressorSnappy:
		dst := make([]byte, uncompressedSize)
		return snappy.Decode(dst, compressed)
	case CompressorZlib:
		r, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		out := make([]byte, 0, uncompressedSize)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressorZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	default:
		return nil, fmt.Errorf("wiremessage: unknown compressor %d", id)
	}
}

// AppendCompressedHeader appends the wire encoding of h to dst.
func AppendCompressedHeader(dst []byte, h CompressedHeader) []byte {
	dst = appendi32(dst, int32(h.OriginalOpCode))
	dst = appendi32(dst, h.UncompressedSize)
	dst = append(dst, byte(h.CompressorID))
	return dst
}

// ReadCompressedHeader reads a CompressedHeader from the front of src,
// returning the remaining (compressed payload) bytes.
func ReadCompressedHeader(src []byte) (CompressedHeader, []byte, error) {
	if len(src) < 9 {
		return CompressedHeader{}, src, fmt.Errorf("wiremessage: compressed header requires 9 bytes, have %d", len(src))
	}
	h := CompressedHeader{
		OriginalOpCode:   OpCode(readi32(src[0:4])),
		UncompressedSize: readi32(src[4:8]),
		CompressorID:     CompressorID(src[8]),
	}
	return h, src[9:], nil
}
