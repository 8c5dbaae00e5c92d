// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import "os"

// Component identifies which subsystem produced a log record, letting
// callers set per-component verbosity.
type Component string

// The components the driver logs from.
const (
	ComponentCommand         Component = "command"
	ComponentTopology        Component = "topology"
	ComponentServerSelection Component = "serverSelection"
	ComponentConnection      Component = "connection"
)

var allComponents = []Component{
	ComponentCommand, ComponentTopology, ComponentServerSelection, ComponentConnection,
}

func envVarForComponent(c Component) string {
	switch c {
	case ComponentCommand:
		return "MONGODB_LOG_COMMAND"
	case ComponentTopology:
		return "MONGODB_LOG_TOPOLOGY"
	case ComponentServerSelection:
		return "MONGODB_LOG_SERVER_SELECTION"
	case ComponentConnection:
		return "MONGODB_LOG_CONNECTION"
	default:
		return ""
	}
}

const allComponentsEnvVar = "MONGODB_LOG_ALL"

// getEnvComponentLevels builds a component-to-level mapping from the
// environment, with MONGODB_LOG_ALL overriding any per-component setting.
func getEnvComponentLevels() map[Component]Level {
	levels := make(map[Component]Level, len(allComponents))
	global := ParseLevel(os.Getenv(allComponentsEnvVar))

	for _, c := range allComponents {
		level := global
		if global == LevelOff {
			level = ParseLevel(os.Getenv(envVarForComponent(c)))
		}
		levels[c] = level
	}
	return levels
}
