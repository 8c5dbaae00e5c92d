// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package address provides the ServerAddress type: the identity of a single
// server within a deployment, used as the map key for pools and monitors.
package address

import (
	"net"
	"strings"
)

// Type represents the type of an address, either a TCP endpoint or a Unix
// domain socket path.
type Type uint8

// These constants enumerate the address types recognized by this package.
const (
	TCP Type = iota
	Unix
)

// defaultPort is used when an address does not specify one.
const defaultPort = "27017"

// Address is the identity of a server: either "host:port" or, for a Unix
// domain socket, a filesystem path ending in ".sock". It is comparable and
// hashable, so it can key maps of pools and monitors directly.
type Address string

// Network returns the network type for this address, either "tcp" or "unix".
func (a Address) Network() string {
	if strings.HasSuffix(string(a), ".sock") {
		return "unix"
	}
	return "tcp"
}

// Type classifies this address.
func (a Address) Type() Type {
	if a.Network() == "unix" {
		return Unix
	}
	return TCP
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return string(a)
}

// ParseHostPort splits the address into a host and a port, applying the
// default port (27017) when none was supplied. For Unix sockets the path is
// returned verbatim as the host, with an empty port.
func (a Address) ParseHostPort() (host, port string, err error) {
	if a.Type() == Unix {
		return string(a), "", nil
	}
	s := string(a)
	if !strings.Contains(s, ":") {
		return s, defaultPort, nil
	}
	host, port, err = net.SplitHostPort(s)
	if err != nil {
		return "", "", err
	}
	if port == "" {
		port = defaultPort
	}
	return host, port, nil
}

// Canonicalize normalizes an address the way the server itself reports
// members of a replica set: lowercased host, default port filled in, and
// any surrounding whitespace trimmed. Unix socket paths are left untouched.
func (a Address) Canonicalize() Address {
	if a.Type() == Unix {
		return a
	}

	s := strings.ToLower(strings.TrimSpace(string(a)))
	host, port, err := Address(s).ParseHostPort()
	if err != nil {
		return Address(s)
	}
	return Address(net.JoinHostPort(host, port))
}

// Empty reports whether the address carries no host information.
func (a Address) Empty() bool {
	return len(a) == 0
}
