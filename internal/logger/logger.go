// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/docdb-go/docdb/bson"
)

const jobBufferSize = 100
const logSinkPathEnvVar = "MONGODB_LOG_PATH"
const maxDocumentLengthEnvVar = "MONGODB_LOG_MAX_DOCUMENT_LENGTH"

// DefaultMaxDocumentLength is the default cap, in bytes, on a stringified
// BSON document embedded in a log record.
const DefaultMaxDocumentLength = 1000

// TruncationSuffix is appended to a truncated document string. It does not
// count toward MaxDocumentLength.
const TruncationSuffix = "..."

const (
	logSinkPathStdout = "stdout"
	logSinkPathStderr = "stderr"
)

// LogSink is the subset of go-logr/logr's LogSink interface the driver
// needs: a single leveled, structured record method.
type LogSink interface {
	Info(level int, msg string, keysAndValues ...interface{})
}

type job struct {
	level         Level
	component     Component
	msg           string
	keysAndValues []interface{}
}

// Logger buffers records on a channel and prints them from a single
// goroutine, so that logging from hot paths (the pool, the monitor, the
// command pipeline) never blocks on the sink itself.
type Logger struct {
	ComponentLevels   map[Component]Level
	Sink              LogSink
	MaxDocumentLength uint

	jobs chan job
}

// New constructs a Logger. A nil sink falls back to the environment
// (MONGODB_LOG_PATH) and finally to os.Stderr. A nil componentLevels map
// falls back to the environment's per-component variables.
func New(sink LogSink, maxDocumentLength uint, componentLevels map[Component]Level) *Logger {
	l := &Logger{
		ComponentLevels:   selectComponentLevels(componentLevels),
		MaxDocumentLength: selectMaxDocumentLength(maxDocumentLength),
		Sink:              selectLogSink(sink),
		jobs:              make(chan job, jobBufferSize),
	}
	return l
}

// Close stops the printer goroutine started by StartPrintListener.
func (l *Logger) Close() { close(l.jobs) }

// Is reports whether level is enabled for component.
func (l *Logger) Is(level Level, component Component) bool {
	return l.ComponentLevels[component] >= level
}

// Print enqueues a log record. If the job buffer is full the record is
// dropped rather than blocking the caller.
func (l *Logger) Print(level Level, component Component, msg string, keysAndValues ...interface{}) {
	if !l.Is(level, component) {
		return
	}
	select {
	case l.jobs <- job{level, component, msg, keysAndValues}:
	default:
	}
}

// StartPrintListener starts the goroutine that drains l.jobs into l.Sink.
func StartPrintListener(l *Logger) {
	go func() {
		for j := range l.jobs {
			if l.Sink == nil {
				continue
			}
			formatted, err := formatMessage(j.keysAndValues, l.MaxDocumentLength)
			if err != nil {
				l.Sink.Info(int(LevelInfo)-DiffToInfo, "error formatting log record", "error", err)
				continue
			}
			l.Sink.Info(int(j.level)-DiffToInfo, j.msg, formatted...)
		}
	}()
}

func truncate(s string, width uint) string {
	if uint(len(s)) <= width {
		return s
	}
	cut := int(width)
	for cut > 0 && !isUTF8Boundary(s, cut) {
		cut--
	}
	return s[:cut] + TruncationSuffix
}

// isUTF8Boundary reports whether s[:i] ends on a complete UTF-8 sequence,
// that is, whether s[i] does not continue a multi-byte sequence.
func isUTF8Boundary(s string, i int) bool {
	return i >= len(s) || s[i]&0xC0 != 0x80
}

// formatMessage truncates any "command"/"reply" bson.Raw values embedded in
// keysAndValues to commandWidth bytes, leaving everything else untouched.
func formatMessage(keysAndValues []interface{}, commandWidth uint) ([]interface{}, error) {
	out := make([]interface{}, len(keysAndValues))
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, _ := keysAndValues[i].(string)
		val := keysAndValues[i+1]

		if key == "command" || key == "reply" {
			raw, ok := val.(bson.Raw)
			if !ok {
				return nil, fmt.Errorf("expected bson.Raw for key %q, got %T", key, val)
			}
			str := raw.String()
			if str == "" {
				str = "{}"
			}
			val = truncate(str, commandWidth)
		}

		out[i] = keysAndValues[i]
		out[i+1] = val
	}
	return out, nil
}

func selectMaxDocumentLength(arg uint) uint {
	if arg != 0 {
		return arg
	}
	if raw := os.Getenv(maxDocumentLengthEnvVar); raw != "" {
		if parsed, err := strconv.ParseUint(raw, 10, 32); err == nil {
			return uint(parsed)
		}
	}
	return DefaultMaxDocumentLength
}

func selectLogSink(arg LogSink) LogSink {
	if arg != nil {
		return arg
	}
	switch strings.ToLower(os.Getenv(logSinkPathEnvVar)) {
	case logSinkPathStdout:
		return newOSSink(os.Stdout)
	case logSinkPathStderr:
		return newOSSink(os.Stderr)
	}
	return newOSSink(os.Stderr)
}

func selectComponentLevels(arg map[Component]Level) map[Component]Level {
	if arg != nil {
		merged := getEnvComponentLevels()
		for c, l := range arg {
			merged[c] = l
		}
		return merged
	}
	return getEnvComponentLevels()
}
