// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package bsoncore provides the zero-copy, "raw" view over the document
// format described in the wire codec component (A): a self-delimited,
// little-endian, length-prefixed encoding of a mapping from UTF-8 keys to
// typed values. It is the hot-path codec used for command construction and
// cursor-batch iteration; it never allocates a parse tree, only scans.
package bsoncore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Type is a BSON element type tag, as it appears on the wire immediately
// before the element's key.
type Type byte

// The type tags supported by the wire codec.
const (
	TypeDouble           Type = 0x01
	TypeString           Type = 0x02
	TypeEmbeddedDocument Type = 0x03
	TypeArray            Type = 0x04
	TypeBinary           Type = 0x05
	TypeUndefined        Type = 0x06 // deprecated, decode-only
	TypeObjectID         Type = 0x07
	TypeBoolean          Type = 0x08
	TypeDateTime         Type = 0x09
	TypeNull             Type = 0x0A
	TypeRegex            Type = 0x0B
	TypeDBPointer        Type = 0x0C // deprecated, decode-only
	TypeJavaScript       Type = 0x0D
	TypeSymbol           Type = 0x0E // deprecated, decode-only
	TypeCodeWithScope    Type = 0x0F
	TypeInt32            Type = 0x10
	TypeTimestamp        Type = 0x11
	TypeInt64            Type = 0x12
	TypeDecimal128       Type = 0x13
	TypeMinKey           Type = 0xFF
	TypeMaxKey           Type = 0x7F
)

// String implements fmt.Stringer for debugging.
func (t Type) String() string {
	switch t {
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeEmbeddedDocument:
		return "embedded document"
	case TypeArray:
		return "array"
	case TypeBinary:
		return "binary"
	case TypeUndefined:
		return "undefined"
	case TypeObjectID:
		return "objectID"
	case TypeBoolean:
		return "bool"
	case TypeDateTime:
		return "UTC datetime"
	case TypeNull:
		return "null"
	case TypeRegex:
		return "regex"
	case TypeDBPointer:
		return "dbPointer"
	case TypeJavaScript:
		return "javascript"
	case TypeSymbol:
		return "symbol"
	case TypeCodeWithScope:
		return "code with scope"
	case TypeInt32:
		return "32-bit integer"
	case TypeTimestamp:
		return "timestamp"
	case TypeInt64:
		return "64-bit integer"
	case TypeDecimal128:
		return "decimal128"
	case TypeMinKey:
		return "min key"
	case TypeMaxKey:
		return "max key"
	default:
		return fmt.Sprintf("<unknown type %x>", byte(t))
	}
}

// BinarySubtype tags the subtype of a TypeBinary element.
type BinarySubtype byte

// Recognized binary subtypes.
const (
	BinaryGeneric     BinarySubtype = 0x00
	BinaryFunction    BinarySubtype = 0x01
	BinaryBinaryOld   BinarySubtype = 0x02
	BinaryUUIDOld     BinarySubtype = 0x03
	BinaryUUID        BinarySubtype = 0x04
	BinaryMD5         BinarySubtype = 0x05
	BinaryEncrypted   BinarySubtype = 0x06
	BinaryColumn      BinarySubtype = 0x07
	BinaryUserDefined BinarySubtype = 0x80
)

// Errors returned by the raw-document validator and reader helpers.
var (
	ErrMissingNull  = errors.New("document or array is missing trailing null byte")
	ErrInvalidLength = errors.New("document or array length is invalid")
)

// InsufficientBytesError reports that a buffer ended before a complete
// element, document, or array could be read from it.
type InsufficientBytesError struct {
	Src    []byte
	Remain []byte
}

func (ibe InsufficientBytesError) Error() string {
	return "too few bytes to read the next document element"
}

// NewInsufficientBytesError constructs an InsufficientBytesError for the
// given source and remaining bytes.
func NewInsufficientBytesError(src, remain []byte) InsufficientBytesError {
	return InsufficientBytesError{Src: src, Remain: remain}
}

func lengthError(kind string, length, available int) error {
	return fmt.Errorf("invalid %s length: advertised length is %d, but only %d bytes available", kind, length, available)
}

// maxDocumentSize is the default cap on an encoded document, matching the
// wire codec contract in component (A): 16 MiB unless a server advertises a
// lower maxBsonObjectSize.
const maxDocumentSize = 16 * 1024 * 1024

// ReadLength reads a little-endian int32 length prefix from the front of
// src, returning the remaining bytes after the 4-byte prefix.
func ReadLength(src []byte) (int32, []byte, bool) {
	return readi32(src)
}

func readi32(src []byte) (int32, []byte, bool) {
	if len(src) < 4 {
		return 0, src, false
	}
	return int32(binary.LittleEndian.Uint32(src)), src[4:], true
}

func readi64(src []byte) (int64, []byte, bool) {
	if len(src) < 8 {
		return 0, src, false
	}
	return int64(binary.LittleEndian.Uint64(src)), src[8:], true
}

func readu32(src []byte) (uint32, []byte, bool) {
	if len(src) < 4 {
		return 0, src, false
	}
	return binary.LittleEndian.Uint32(src), src[4:], true
}

func appendi32(dst []byte, i32 int32) []byte {
	return append(dst, byte(i32), byte(i32>>8), byte(i32>>16), byte(i32>>24))
}

func appendi64(dst []byte, i64 int64) []byte {
	return append(dst,
		byte(i64), byte(i64>>8), byte(i64>>16), byte(i64>>24),
		byte(i64>>32), byte(i64>>40), byte(i64>>48), byte(i64>>56))
}

func appendu32(dst []byte, u32 uint32) []byte {
	return appendi32(dst, int32(u32))
}

// AppendType appends a type tag byte.
func AppendType(dst []byte, t Type) []byte { return append(dst, byte(t)) }

// AppendKey appends a NUL-terminated element key.
func AppendKey(dst []byte, key string) []byte {
	dst = append(dst, key...)
	return append(dst, 0x00)
}

// AppendHeader appends a type tag and key, the standard prefix of every
// element.
func AppendHeader(dst []byte, t Type, key string) []byte {
	dst = AppendType(dst, t)
	return AppendKey(dst, key)
}

// AppendDoubleElement appends a complete double element.
func AppendDoubleElement(dst []byte, key string, f float64) []byte {
	dst = AppendHeader(dst, TypeDouble, key)
	return appendi64(dst, int64(math.Float64bits(f)))
}

// AppendStringElement appends a complete string element.
func AppendStringElement(dst []byte, key, val string) []byte {
	dst = AppendHeader(dst, TypeString, key)
	return appendString(dst, val)
}

func appendString(dst []byte, val string) []byte {
	dst = appendi32(dst, int32(len(val)+1))
	dst = append(dst, val...)
	return append(dst, 0x00)
}

// AppendDocumentElement appends a key followed by a raw, already-encoded
// document value.
func AppendDocumentElement(dst []byte, key string, doc []byte) []byte {
	dst = AppendHeader(dst, TypeEmbeddedDocument, key)
	return append(dst, doc...)
}

// AppendArrayElement appends a key followed by a raw, already-encoded array
// value.
func AppendArrayElement(dst []byte, key string, arr []byte) []byte {
	dst = AppendHeader(dst, TypeArray, key)
	return append(dst, arr...)
}

// AppendBinaryElement appends a complete binary element.
func AppendBinaryElement(dst []byte, key string, subtype byte, data []byte) []byte {
	dst = AppendHeader(dst, TypeBinary, key)
	if BinarySubtype(subtype) == BinaryBinaryOld {
		dst = appendi32(dst, int32(len(data)+4))
		dst = append(dst, subtype)
		dst = appendi32(dst, int32(len(data)))
		return append(dst, data...)
	}
	dst = appendi32(dst, int32(len(data)))
	dst = append(dst, subtype)
	return append(dst, data...)
}

// AppendObjectIDElement appends a complete ObjectID element.
func AppendObjectIDElement(dst []byte, key string, oid [12]byte) []byte {
	dst = AppendHeader(dst, TypeObjectID, key)
	return append(dst, oid[:]...)
}

// AppendBooleanElement appends a complete boolean element.
func AppendBooleanElement(dst []byte, key string, b bool) []byte {
	dst = AppendHeader(dst, TypeBoolean, key)
	if b {
		return append(dst, 0x01)
	}
	return append(dst, 0x00)
}

// AppendDateTimeElement appends a complete UTC datetime element (epoch
// milliseconds).
func AppendDateTimeElement(dst []byte, key string, dt int64) []byte {
	dst = AppendHeader(dst, TypeDateTime, key)
	return appendi64(dst, dt)
}

// AppendNullElement appends a complete null element (no value bytes).
func AppendNullElement(dst []byte, key string) []byte {
	return AppendHeader(dst, TypeNull, key)
}

// AppendInt32Element appends a complete int32 element.
func AppendInt32Element(dst []byte, key string, i32 int32) []byte {
	dst = AppendHeader(dst, TypeInt32, key)
	return appendi32(dst, i32)
}

// AppendTimestampElement appends a complete monotonic-logical-timestamp
// element: two paired 32-bit counters (increment, then time-in-seconds).
func AppendTimestampElement(dst []byte, key string, t, i uint32) []byte {
	dst = AppendHeader(dst, TypeTimestamp, key)
	dst = appendu32(dst, i)
	return appendu32(dst, t)
}

// AppendInt64Element appends a complete int64 element.
func AppendInt64Element(dst []byte, key string, i64 int64) []byte {
	dst = AppendHeader(dst, TypeInt64, key)
	return appendi64(dst, i64)
}

// BuildDocument wraps the elements already appended to dst (starting at the
// 4-byte length placeholder written by AppendDocumentStart) into a complete,
// length-prefixed, null-terminated document.
func BuildDocument(dst []byte, index int32, elements []byte) []byte {
	dst = append(dst, elements...)
	dst = append(dst, 0x00)
	return UpdateLength(dst, index, int32(len(dst[index:])))
}

// AppendDocumentStart reserves space for a document's length prefix and
// returns the buffer and the index at which the prefix begins.
func AppendDocumentStart(dst []byte) ([]byte, int32) {
	index := int32(len(dst))
	return appendi32(dst, 0), index
}

// AppendDocumentEnd terminates a document started with AppendDocumentStart,
// writing its final length into the reserved prefix.
func AppendDocumentEnd(dst []byte, index int32) []byte {
	dst = append(dst, 0x00)
	return UpdateLength(dst, index, int32(len(dst[index:])))
}

// AppendDocumentElementStart writes the header and length placeholder for an
// embedded document value under key, returning the buffer and the index
// AppendDocumentEnd needs to close it.
func AppendDocumentElementStart(dst []byte, key string) ([]byte, int32) {
	dst = AppendHeader(dst, TypeEmbeddedDocument, key)
	return AppendDocumentStart(dst)
}

// AppendArrayElementStart writes the header and length placeholder for an
// array value under key; close it with AppendArrayEnd.
func AppendArrayElementStart(dst []byte, key string) ([]byte, int32) {
	dst = AppendHeader(dst, TypeArray, key)
	return AppendDocumentStart(dst)
}

// UpdateLength overwrites the 4-byte length prefix at index with length.
func UpdateLength(dst []byte, index, length int32) []byte {
	binary.LittleEndian.PutUint32(dst[index:], uint32(length))
	return dst
}

// EmptyDocument returns the 5-byte encoding of an empty document.
func EmptyDocument() []byte {
	return []byte{0x05, 0x00, 0x00, 0x00, 0x00}
}

// MaxDocumentSize is the wire codec's default document size ceiling.
func MaxDocumentSize() int32 { return maxDocumentSize }
