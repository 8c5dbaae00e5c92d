// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsoncore

import (
	"bytes"
	"fmt"
	"strconv"
)

// Array is a raw bytes representation of a BSON array: on the wire, an
// array is encoded identically to a document whose keys are the stringified
// indices "0", "1", "2", ….
type Array []byte

// Index searches for and retrieves the element at the given index. This
// method will panic if the array is invalid or the index is out of bounds.
func (a Array) Index(index uint) Element {
	elem, err := a.IndexErr(index)
	if err != nil {
		panic(err)
	}
	return elem
}

// IndexErr searches for and retrieves the element at the given index.
func (a Array) IndexErr(index uint) (Element, error) {
	return Document(a).IndexErr(index)
}

// Values decodes the array into a slice of its values, in order.
func (a Array) Values() ([]Value, error) {
	elems, err := Document(a).Elements()
	if err != nil {
		return nil, err
	}
	values := make([]Value, 0, len(elems))
	for _, elem := range elems {
		values = append(values, elem.Value())
	}
	return values, nil
}

// Validate validates the array and the elements contained within it.
func (a Array) Validate() error {
	length, rem, ok := readi32(a)
	if !ok {
		return NewInsufficientBytesError(a, rem)
	}
	if int(length) > len(a) {
		return lengthError("array", int(length), len(a))
	}
	if length < 5 || a[length-1] != 0x00 {
		return ErrMissingNull
	}

	length -= 4
	var elem Element
	for length > 1 {
		elem, rem, ok = ReadElement(rem)
		length -= int32(len(elem))
		if !ok {
			return NewInsufficientBytesError(a, rem)
		}
		if err := elem.Validate(); err != nil {
			return err
		}
	}
	if len(rem) < 1 || rem[0] != 0x00 {
		return ErrMissingNull
	}
	return nil
}

// String outputs a JSON-ish version of Array. Returns "" if the array is
// malformed.
func (a Array) String() string {
	elems, err := Document(a).Elements()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range elems {
		if i != 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(elem.Value().String())
	}
	buf.WriteByte(']')
	return buf.String()
}

// DebugString outputs a human readable version of Array, continuing past a
// malformed element rather than failing outright.
func (a Array) DebugString() string {
	if len(a) < 5 {
		return "<malformed>"
	}
	var buf bytes.Buffer
	length, rem, _ := readi32(a)
	buf.WriteString("Array")
	buf.WriteByte('(')
	buf.WriteString(strconv.Itoa(int(length)))
	length -= 4
	buf.WriteString(")[")
	var elem Element
	var ok bool
	for length > 1 {
		elem, rem, ok = ReadElement(rem)
		length -= int32(len(elem))
		if !ok {
			fmt.Fprintf(&buf, "<malformed (%d)>", length)
			break
		}
		fmt.Fprintf(&buf, "%s ", elem.DebugString())
	}
	buf.WriteByte(']')
	return buf.String()
}

// AppendArrayStart reserves space for an array's length prefix.
func AppendArrayStart(dst []byte) ([]byte, int32) { return AppendDocumentStart(dst) }

// AppendArrayEnd terminates an array started with AppendArrayStart.
func AppendArrayEnd(dst []byte, index int32) []byte { return AppendDocumentEnd(dst, index) }

// ArrayElementKey returns the stringified integer key used by
// array-as-document encoding for the element at position idx.
func ArrayElementKey(idx int) string {
	return strconv.Itoa(idx)
}
