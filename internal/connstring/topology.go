// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connstring

import (
	"fmt"
	"strings"
	"time"

	"github.com/docdb-go/docdb/address"
	"github.com/docdb-go/docdb/description"
	"github.com/docdb-go/docdb/x/driver/auth"
)

// Addresses converts Hosts into the address.Address values topology.Config
// expects as its SeedList.
func (cs *ConnString) Addresses() []address.Address {
	addrs := make([]address.Address, 0, len(cs.Hosts))
	for _, h := range cs.Hosts {
		addrs = append(addrs, address.Address(h))
	}
	return addrs
}

// Credential builds an *auth.Cred from the parsed authentication options,
// or nil when no username, password, or explicit mechanism was supplied —
// topology.Config.Credential left nil skips authentication entirely.
func (cs *ConnString) Credential() *auth.Cred {
	if cs.Username == "" && !cs.PasswordSet && cs.AuthMechanism == "" {
		return nil
	}
	source := cs.AuthSource
	if source == "" {
		source = defaultAuthSource(cs)
	}
	return &auth.Cred{
		Source:      source,
		Username:    cs.Username,
		Password:    cs.Password,
		PasswordSet: cs.PasswordSet,
		Mechanism:   cs.AuthMechanism,
		Props:       cs.AuthMechanismProperties,
	}
}

// defaultAuthSource follows the same defaulting rule the wider driver
// ecosystem uses: MONGODB-X509, MONGODB-AWS and PLAIN always authenticate against
// "$external"; everything else defaults to the connection string's
// database, falling back to "admin" when none was given.
func defaultAuthSource(cs *ConnString) string {
	switch cs.AuthMechanism {
	case auth.MongoDBX509, auth.MongoDBAWS, auth.PLAIN:
		return "$external"
	}
	if cs.Database != "" {
		return cs.Database
	}
	return "admin"
}

// HeartbeatOrDefault returns HeartbeatInterval, falling back to def when the
// connection string left heartbeatFrequencyMS unset.
func (cs *ConnString) HeartbeatOrDefault(def time.Duration) time.Duration {
	if cs.HeartbeatInterval == 0 {
		return def
	}
	return cs.HeartbeatInterval
}

// ReadPref builds a *description.ReadPreference from the readPreference/
// readPreferenceTags/maxStalenessSeconds options, or nil when none of them
// were set (callers default to description.Primary() in that case).
func (cs *ConnString) ReadPref() (*description.ReadPreference, error) {
	if cs.ReadPreference == "" && len(cs.ReadPreferenceTags) == 0 && cs.MaxStaleness == 0 {
		return nil, nil
	}
	mode := description.PrimaryMode
	switch strings.ToLower(cs.ReadPreference) {
	case "", "primary":
		mode = description.PrimaryMode
	case "primarypreferred":
		mode = description.PrimaryPreferredMode
	case "secondary":
		mode = description.SecondaryMode
	case "secondarypreferred":
		mode = description.SecondaryPreferredMode
	case "nearest":
		mode = description.NearestMode
	default:
		return nil, fmt.Errorf("connstring: unrecognized readPreference %q", cs.ReadPreference)
	}
	if mode == description.PrimaryMode && (len(cs.ReadPreferenceTags) > 0 || cs.MaxStaleness != 0) {
		return nil, fmt.Errorf("connstring: readPreferenceTags/maxStalenessSeconds are incompatible with readPreference=primary")
	}

	tagSets := make([]description.TagSet, 0, len(cs.ReadPreferenceTags))
	for _, t := range cs.ReadPreferenceTags {
		tagSets = append(tagSets, description.TagSet(t))
	}
	return &description.ReadPreference{
		Mode:         mode,
		TagSets:      tagSets,
		MaxStaleness: cs.MaxStaleness,
	}, nil
}
