// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package bson provides the document format's owned, in-memory tree: an
// ergonomic companion to package bsoncore's zero-copy raw view, used by
// command builders that construct documents from literal Go values rather
// than scanning borrowed bytes.
package bson

import (
	"fmt"
	"sort"

	"github.com/docdb-go/docdb/bsoncore"
)

// E is a single key/value pair in an ordered document.
type E struct {
	Key   string
	Value interface{}
}

// D is an ordered BSON document, represented as a slice so that key order
// (significant for commands, where the verb must be the first field) is
// preserved.
type D []E

// M is an unordered BSON document. Useful for filters and other documents
// where field order carries no meaning; Marshal sorts M's keys so encoding
// is deterministic.
type M map[string]interface{}

// A is a BSON array.
type A []interface{}

// Raw is an alias for the zero-copy raw document view, re-exported so
// callers of this package don't need to import bsoncore directly just to
// hold onto a decoded reply.
type Raw = bsoncore.Document

// Marshal encodes v, which must be a D, M or map[string]interface{}, into a
// raw document; nil yields an empty document and any other type (including
// A) is an error.
func Marshal(v interface{}) (Raw, error) {
	dst, idx := bsoncore.AppendDocumentStart(nil)
	var err error
	dst, err = marshalInto(dst, v)
	if err != nil {
		return nil, err
	}
	dst = bsoncore.AppendDocumentEnd(dst, idx)
	return Raw(dst), nil
}

func marshalInto(dst []byte, v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case D:
		for _, e := range t {
			var err error
			dst, err = appendElement(dst, e.Key, e.Value)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	case M:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			var err error
			dst, err = appendElement(dst, k, t[k])
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	case map[string]interface{}:
		return marshalInto(dst, M(t))
	case nil:
		return dst, nil
	default:
		return nil, fmt.Errorf("bson: cannot marshal into document fields: %T", v)
	}
}

func appendElement(dst []byte, key string, val interface{}) ([]byte, error) {
	switch v := val.(type) {
	case nil:
		return bsoncore.AppendNullElement(dst, key), nil
	case string:
		return bsoncore.AppendStringElement(dst, key, v), nil
	case bool:
		return bsoncore.AppendBooleanElement(dst, key, v), nil
	case int:
		return bsoncore.AppendInt64Element(dst, key, int64(v)), nil
	case int32:
		return bsoncore.AppendInt32Element(dst, key, v), nil
	case int64:
		return bsoncore.AppendInt64Element(dst, key, v), nil
	case float64:
		return bsoncore.AppendDoubleElement(dst, key, v), nil
	case []byte:
		return bsoncore.AppendBinaryElement(dst, key, byte(bsoncore.BinaryGeneric), v), nil
	case D, M, map[string]interface{}:
		sub, idx := bsoncore.AppendDocumentStart(nil)
		sub, err := marshalInto(sub, v)
		if err != nil {
			return nil, err
		}
		sub = bsoncore.AppendDocumentEnd(sub, idx)
		return bsoncore.AppendDocumentElement(dst, key, sub), nil
	case A:
		sub, idx := bsoncore.AppendArrayStart(nil)
		for i, item := range v {
			var err error
			sub, err = appendElement(sub, bsoncore.ArrayElementKey(i), item)
			if err != nil {
				return nil, err
			}
		}
		sub = bsoncore.AppendArrayEnd(sub, idx)
		return bsoncore.AppendArrayElement(dst, key, sub), nil
	case Raw:
		return bsoncore.AppendDocumentElement(dst, key, []byte(v)), nil
	case Marshaler:
		raw, err := v.MarshalBSON()
		if err != nil {
			return nil, err
		}
		return bsoncore.AppendDocumentElement(dst, key, []byte(raw)), nil
	default:
		return nil, fmt.Errorf("bson: unsupported value type %T for key %q", val, key)
	}
}

// Marshaler is implemented by types that can encode themselves to a raw
// document, mirroring the teacher's bsoncodec.Marshaler contract.
type Marshaler interface {
	MarshalBSON() (Raw, error)
}

// Unmarshal decodes a raw document into D, preserving field order. It is
// intentionally conservative: callers that need typed decoding should read
// individual fields off the Raw value with bsoncore's accessors instead.
func Unmarshal(data []byte, out *D) error {
	doc := Raw(data)
	elems, err := doc.Elements()
	if err != nil {
		return err
	}
	result := make(D, 0, len(elems))
	for _, elem := range elems {
		v, err := toGo(elem.Value())
		if err != nil {
			return err
		}
		result = append(result, E{Key: elem.Key(), Value: v})
	}
	*out = result
	return nil
}

func toGo(v bsoncore.Value) (interface{}, error) {
	switch v.Type {
	case bsoncore.TypeNull:
		return nil, nil
	case bsoncore.TypeString:
		s, _ := v.StringValueOK()
		return s, nil
	case bsoncore.TypeBoolean:
		b, _ := v.BooleanOK()
		return b, nil
	case bsoncore.TypeInt32:
		i, _ := v.AsInt32OK()
		return i, nil
	case bsoncore.TypeInt64:
		i, _ := v.AsInt64OK()
		return i, nil
	case bsoncore.TypeDouble:
		f, _ := v.AsFloat64OK()
		return f, nil
	case bsoncore.TypeEmbeddedDocument:
		var d D
		if err := Unmarshal(v.Data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case bsoncore.TypeArray:
		values, err := bsoncore.Array(v.Data).Values()
		if err != nil {
			return nil, err
		}
		arr := make(A, 0, len(values))
		for _, item := range values {
			gv, err := toGo(item)
			if err != nil {
				return nil, err
			}
			arr = append(arr, gv)
		}
		return arr, nil
	default:
		return v, nil
	}
}

// MustMarshal is like Marshal but panics on error; used for command
// construction where the input shape is controlled by the caller and an
// error indicates a programming mistake, not bad external input.
func MustMarshal(v interface{}) Raw {
	raw, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
