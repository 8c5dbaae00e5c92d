// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsoncore

import (
	"bytes"
	"fmt"
)

// Document is a raw bytes representation of a BSON document: the zero-copy
// view over a borrowed buffer described by component (A). Field lookup is a
// sequential scan over the elements, and it MUST be preferred over an owned tree
// on hot read paths (command construction, cursor-batch iteration).
type Document []byte

// NewDocumentFromReader validates that the length prefix and trailing NUL
// of b describe b in its entirety and returns it as a Document.
func NewDocumentFromReader(b []byte) (Document, error) {
	doc := Document(b)
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if l, _ := doc.Len(); int(l) != len(b) {
		return nil, lengthError("document", int(l), len(b))
	}
	return doc, nil
}

// ReadDocument reads a single length-prefixed document from the front of
// src, returning it as a Document without requiring src to contain nothing
// else afterward — unlike NewDocumentFromReader, which validates src is
// exactly one document. Used when documents are packed back-to-back, as in
// an OP_MSG document sequence section or a top-level BSON array.
func ReadDocument(src []byte) (Document, error) {
	length, rem, ok := readi32(src)
	if !ok {
		return nil, NewInsufficientBytesError(src, rem)
	}
	if length < 5 || int(length) > len(src) {
		return nil, lengthError("document", int(length), len(src))
	}
	doc := Document(src[:length])
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Len returns the length encoded in the document's length prefix, or an
// error if the prefix cannot be read.
func (d Document) Len() (int32, error) {
	length, _, ok := readi32(d)
	if !ok {
		return 0, NewInsufficientBytesError(d, nil)
	}
	return length, nil
}

// Validate walks every element of the document, ensuring the length prefix,
// trailing NUL, and every element are well-formed. It is the decode-path
// entry point described by component (A): malformed framing and malformed
// elements are reported here. It does not check which fields are present or
// what types they hold.
func (d Document) Validate() error {
	length, rem, ok := readi32(d)
	if !ok {
		return NewInsufficientBytesError(d, rem)
	}
	if int(length) > len(d) {
		return lengthError("document", int(length), len(d))
	}
	if length < 5 {
		return ErrInvalidLength
	}
	if d[length-1] != 0x00 {
		return ErrMissingNull
	}

	length -= 4
	var elem Element
	for length > 1 {
		elem, rem, ok = ReadElement(rem)
		length -= int32(len(elem))
		if !ok {
			return NewInsufficientBytesError(d, rem)
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

// Elements decodes every top-level element of the document into a slice.
// Prefer iterating with Index/Lookup on hot paths; this is a convenience
// for callers that need the whole set (for example, response decoding of a
// small, known-shape reply).
func (d Document) Elements() ([]Element, error) {
	length, rem, ok := readi32(d)
	if !ok {
		return nil, NewInsufficientBytesError(d, rem)
	}
	length -= 4

	var elems []Element
	for length > 1 {
		elem, r, ok := ReadElement(rem)
		if !ok {
			return nil, NewInsufficientBytesError(d, rem)
		}
		length -= int32(len(elem))
		rem = r
		elems = append(elems, elem)
	}
	return elems, nil
}

// Lookup scans the document for the element matching the given dotted key
// path and returns its value. Because the raw view has no index, this is
// O(n) in the number of elements; it is still the preferred read path
// because it never builds a parse tree.
func (d Document) Lookup(key ...string) Value {
	v, _ := d.LookupErr(key...)
	return v
}

// LookupErr is the error-returning counterpart to Lookup.
func (d Document) LookupErr(key ...string) (Value, error) {
	if len(key) == 0 {
		return Value{}, fmt.Errorf("empty key path")
	}
	elems, err := d.Elements()
	if err != nil {
		return Value{}, err
	}
	for _, elem := range elems {
		if elem.Key() != key[0] {
			continue
		}
		if len(key) == 1 {
			return elem.Value(), nil
		}
		sub, ok := elem.Value().DocumentOK()
		if !ok {
			return Value{}, fmt.Errorf("key %q is not a document", key[0])
		}
		return sub.LookupErr(key[1:]...)
	}
	return Value{}, fmt.Errorf("key %q not found", key[0])
}

// Index returns the element at position index, scanning from the start of
// the document. Panics if the index is out of bounds or the document is
// malformed; use IndexErr to avoid panicking.
func (d Document) Index(index uint) Element {
	elem, err := d.IndexErr(index)
	if err != nil {
		panic(err)
	}
	return elem
}

// IndexErr is the error-returning counterpart to Index.
func (d Document) IndexErr(index uint) (Element, error) {
	elems, err := d.Elements()
	if err != nil {
		return nil, err
	}
	if uint(len(elems)) <= index {
		return nil, fmt.Errorf("index %d out of bounds (len %d)", index, len(elems))
	}
	return elems[index], nil
}

// String renders the document as extended-JSON-ish text for logs and
// errors. Best-effort: a malformed document renders as "".
func (d Document) String() string {
	elems, err := d.Elements()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, elem := range elems {
		if i != 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:%s", elem.Key(), elem.Value().String())
	}
	buf.WriteByte('}')
	return buf.String()
}

// DebugString outputs a human-readable rendering that keeps going past a
// malformed element, unlike String.
func (d Document) DebugString() string {
	if len(d) < 5 {
		return "<malformed>"
	}
	var buf bytes.Buffer
	length, rem, _ := readi32(d)
	fmt.Fprintf(&buf, "Document(%d)[", length)
	length -= 4
	first := true
	for length > 1 {
		elem, r, ok := ReadElement(rem)
		length -= int32(len(elem))
		rem = r
		if !first {
			buf.WriteByte(' ')
		}
		first = false
		if !ok {
			fmt.Fprintf(&buf, "<malformed (%d)>", length)
			break
		}
		buf.WriteString(elem.DebugString())
	}
	buf.WriteByte(']')
	return buf.String()
}

// Copy returns an independent copy of the document's bytes, severing any
// borrow from an underlying connection read buffer. Callers that retain a
// Document beyond the lifetime of the buffer it was read from (for example,
// buffering a cursor batch) MUST Copy it first.
func (d Document) Copy() Document {
	cp := make([]byte, len(d))
	copy(cp, d)
	return cp
}

// BuildDocumentValue wraps dst, built using AppendDocumentStart/End, in an
// Document value for return from an encoder.
func BuildDocumentValue(dst []byte) Document { return Document(dst) }
