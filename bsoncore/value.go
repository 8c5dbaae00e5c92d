// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsoncore

import (
	"fmt"
	"math"
)

// Element is a raw, undecoded (type tag, key, value) triple as it appears
// in a Document's byte stream.
type Element []byte

// ReadElement reads a single element from the front of src, returning the
// remaining bytes after it. The returned bool is false if src does not
// contain a complete element.
func ReadElement(src []byte) (Element, []byte, bool) {
	if len(src) < 1 {
		return nil, src, false
	}
	t := Type(src[0])
	rest := src[1:]

	keyEnd := -1
	for i, b := range rest {
		if b == 0x00 {
			keyEnd = i
			break
		}
	}
	if keyEnd == -1 {
		return nil, src, false
	}
	headerLen := 1 + keyEnd + 1

	valueLen, ok := valueLength(t, rest[keyEnd+1:])
	if !ok {
		return nil, src, false
	}
	total := headerLen + valueLen
	if total > len(src) {
		return nil, src, false
	}
	return Element(src[:total]), src[total:], true
}

// valueLength returns the number of bytes the value portion of a Type t
// value occupies, given the bytes immediately following the key.
func valueLength(t Type, src []byte) (int, bool) {
	switch t {
	case TypeDouble, TypeDateTime, TypeTimestamp, TypeInt64:
		return 8, len(src) >= 8
	case TypeString, TypeJavaScript, TypeSymbol:
		length, _, ok := readi32(src)
		if !ok {
			return 0, false
		}
		return 4 + int(length), len(src) >= 4+int(length)
	case TypeEmbeddedDocument, TypeArray, TypeCodeWithScope:
		length, _, ok := readi32(src)
		if !ok {
			return 0, false
		}
		return int(length), len(src) >= int(length)
	case TypeBinary:
		length, _, ok := readi32(src)
		if !ok {
			return 0, false
		}
		return 5 + int(length), len(src) >= 5+int(length)
	case TypeObjectID:
		return 12, len(src) >= 12
	case TypeBoolean:
		return 1, len(src) >= 1
	case TypeNull, TypeUndefined, TypeMinKey, TypeMaxKey:
		return 0, true
	case TypeRegex:
		n := 0
		seen := 0
		for _, b := range src {
			n++
			if b == 0x00 {
				seen++
				if seen == 2 {
					break
				}
			}
		}
		if seen != 2 {
			return 0, false
		}
		return n, true
	case TypeDBPointer:
		length, _, ok := readi32(src)
		if !ok {
			return 0, false
		}
		return 4 + int(length) + 12, len(src) >= 4+int(length)+12
	case TypeInt32:
		return 4, len(src) >= 4
	case TypeDecimal128:
		return 16, len(src) >= 16
	default:
		return 0, false
	}
}

// Key returns the element's key.
func (e Element) Key() string {
	end := 1
	for end < len(e) && e[end] != 0x00 {
		end++
	}
	return string(e[1:end])
}

// Value returns the element's value as a Value referencing e's bytes.
func (e Element) Value() Value {
	end := 1
	for end < len(e) && e[end] != 0x00 {
		end++
	}
	return Value{Type: Type(e[0]), Data: e[end+1:]}
}

// Validate checks that the element holds at least a type byte and a key
// byte and that its value decodes to a length matching its header. The
// key's bytes are not checked for valid UTF-8.
func (e Element) Validate() error {
	if len(e) < 2 {
		return NewInsufficientBytesError(e, nil)
	}
	return e.Value().Validate()
}

// DebugString renders key:type for diagnostics.
func (e Element) DebugString() string {
	return fmt.Sprintf("%s: %s", e.Key(), e.Value().DebugString())
}

// String renders the element as `"key":value` JSON-ish text.
func (e Element) String() string {
	return fmt.Sprintf("%q: %s", e.Key(), e.Value().String())
}

// Value is a raw, undecoded BSON value: a type tag plus the bytes of its
// payload.
type Value struct {
	Type Type
	Data []byte
}

// Validate checks that Data is the correct length for Type and, for
// composite types, recursively valid. Data is assumed to already be sliced
// to exactly the value's extent (as ReadElement does); this only re-checks
// the internal framing of variable-length types.
func (v Value) Validate() error {
	switch v.Type {
	case TypeEmbeddedDocument:
		return Document(v.Data).Validate()
	case TypeArray:
		return Array(v.Data).Validate()
	case TypeString, TypeJavaScript, TypeSymbol:
		if len(v.Data) < 4 {
			return NewInsufficientBytesError(v.Data, nil)
		}
		length, rem, _ := readi32(v.Data)
		if int(length) != len(rem) {
			return lengthError("string", int(length), len(rem))
		}
		if len(rem) == 0 || rem[len(rem)-1] != 0x00 {
			return ErrMissingNull
		}
	case TypeBinary:
		if len(v.Data) < 5 {
			return NewInsufficientBytesError(v.Data, nil)
		}
		length, rem, _ := readi32(v.Data)
		if int(length) != len(rem)-1 {
			return lengthError("binary", int(length), len(rem)-1)
		}
	}
	return nil
}

// DebugString renders the value's type and a best-effort preview.
func (v Value) DebugString() string {
	return fmt.Sprintf("%s(%s)", v.Type, v.String())
}

// String renders the value as JSON-ish text. Unsupported or malformed
// values render as "".
func (v Value) String() string {
	switch v.Type {
	case TypeDouble:
		f, _ := v.AsFloat64OK()
		return fmt.Sprintf("%v", f)
	case TypeString:
		s, _ := v.StringValueOK()
		return fmt.Sprintf("%q", s)
	case TypeEmbeddedDocument:
		return Document(v.Data).String()
	case TypeArray:
		return Array(v.Data).String()
	case TypeBoolean:
		b, _ := v.BooleanOK()
		return fmt.Sprintf("%v", b)
	case TypeInt32:
		i, _ := v.AsInt32OK()
		return fmt.Sprintf("%d", i)
	case TypeInt64:
		i, _ := v.AsInt64OK()
		return fmt.Sprintf("%d", i)
	case TypeNull:
		return "null"
	case TypeObjectID:
		oid, _ := v.ObjectIDOK()
		return fmt.Sprintf("ObjectID(%x)", oid)
	default:
		return ""
	}
}

// AsFloat64OK returns the value as a float64, converting ints, and reports
// whether the conversion was possible.
func (v Value) AsFloat64OK() (float64, bool) {
	switch v.Type {
	case TypeDouble:
		if len(v.Data) < 8 {
			return 0, false
		}
		bits, _, ok := readi64(v.Data)
		if !ok {
			return 0, false
		}
		return math.Float64frombits(uint64(bits)), true
	case TypeInt32:
		i, ok := v.AsInt32OK()
		return float64(i), ok
	case TypeInt64:
		i, ok := v.AsInt64OK()
		return float64(i), ok
	default:
		return 0, false
	}
}

// StringValueOK returns the string value, if this is a string/js/symbol.
func (v Value) StringValueOK() (string, bool) {
	switch v.Type {
	case TypeString, TypeJavaScript, TypeSymbol:
	default:
		return "", false
	}
	length, rem, ok := readi32(v.Data)
	if !ok || int(length) > len(rem) || length < 1 {
		return "", false
	}
	return string(rem[:length-1]), true
}

// DocumentOK returns the value as a Document, if it is an embedded
// document.
func (v Value) DocumentOK() (Document, bool) {
	if v.Type != TypeEmbeddedDocument {
		return nil, false
	}
	return Document(v.Data), true
}

// ArrayOK returns the value as an Array, if it is one.
func (v Value) ArrayOK() (Array, bool) {
	if v.Type != TypeArray {
		return nil, false
	}
	return Array(v.Data), true
}

// BooleanOK returns the boolean value, if this is a bool.
func (v Value) BooleanOK() (bool, bool) {
	if v.Type != TypeBoolean || len(v.Data) < 1 {
		return false, false
	}
	return v.Data[0] == 0x01, true
}

// BinaryOK returns the subtype and raw bytes, if this is binary data.
func (v Value) BinaryOK() (subtype byte, data []byte, ok bool) {
	if v.Type != TypeBinary || len(v.Data) < 5 {
		return 0, nil, false
	}
	length, _, ok := readi32(v.Data)
	if !ok || int(length) < 0 || 5+int(length) > len(v.Data) {
		return 0, nil, false
	}
	return v.Data[4], v.Data[5 : 5+length], true
}

// AsInt32OK returns the value as an int32, if this is an int32.
func (v Value) AsInt32OK() (int32, bool) {
	if v.Type != TypeInt32 {
		return 0, false
	}
	i, _, ok := readi32(v.Data)
	return i, ok
}

// AsInt64OK returns the value as an int64, converting int32, if numeric.
func (v Value) AsInt64OK() (int64, bool) {
	switch v.Type {
	case TypeInt64:
		i, _, ok := readi64(v.Data)
		return i, ok
	case TypeInt32:
		i, ok := v.AsInt32OK()
		return int64(i), ok
	default:
		return 0, false
	}
}

// DateTimeOK returns the epoch-millisecond value, if this is a datetime.
func (v Value) DateTimeOK() (int64, bool) {
	if v.Type != TypeDateTime {
		return 0, false
	}
	i, _, ok := readi64(v.Data)
	return i, ok
}

// TimestampOK returns the paired (time, increment) 32-bit counters, if this
// is a monotonic logical timestamp.
func (v Value) TimestampOK() (t, i uint32, ok bool) {
	if v.Type != TypeTimestamp || len(v.Data) < 8 {
		return 0, 0, false
	}
	inc, _, _ := readu32(v.Data)
	tm, _, _ := readu32(v.Data[4:])
	return tm, inc, true
}

// ObjectIDOK returns the 12-byte ObjectID value, if this is one.
func (v Value) ObjectIDOK() ([12]byte, bool) {
	var oid [12]byte
	if v.Type != TypeObjectID || len(v.Data) < 12 {
		return oid, false
	}
	copy(oid[:], v.Data)
	return oid, true
}

// IsNumber reports whether the value is a double, int32, or int64.
func (v Value) IsNumber() bool {
	switch v.Type {
	case TypeDouble, TypeInt32, TypeInt64:
		return true
	default:
		return false
	}
}
