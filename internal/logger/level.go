// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import "strings"

// DiffToInfo is the number of levels that come before LevelInfo. Consumers
// that pass levels to a logr-shaped sink (which treats 0 as Info) subtract
// this from a Level before calling Info.
const DiffToInfo = 1

// Level is the severity of one log record. Ordering matters: a component's
// configured Level gates which records reach the sink.
type Level int

// The three severities the driver emits.
const (
	LevelOff Level = iota
	LevelInfo
	LevelDebug
)

var levelLiterals = map[string]Level{
	"off":   LevelOff,
	"info":  LevelInfo,
	"debug": LevelDebug,
	"trace": LevelDebug,
}

// ParseLevel parses an environment-variable literal into a Level, defaulting
// to LevelOff for anything unrecognized.
func ParseLevel(str string) Level {
	for literal, level := range levelLiterals {
		if strings.EqualFold(literal, str) {
			return level
		}
	}
	return LevelOff
}
