// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package dns

import "testing"

func TestParseHosts(t *testing.T) {
	domain, err := ParseHosts("_mongodb._tcp.cluster0.example.com")
	if err != nil {
		t.Fatalf("ParseHosts returned error: %v", err)
	}
	if domain != "cluster0.example.com" {
		t.Fatalf("got %q", domain)
	}

	if _, err := ParseHosts("noNameHere"); err == nil {
		t.Fatal("expected error for a name with no dot")
	}
}

func TestValidateSRVHost(t *testing.T) {
	cases := []struct {
		host, srvName string
		wantErr       bool
	}{
		{"shard-a.cluster0.example.com", "cluster0.example.com", false},
		{"cluster0.example.com", "cluster0.example.com", false},
		{"evil.com", "cluster0.example.com", true},
		{"shard-a.cluster0.evil.com", "cluster0.example.com", true},
	}
	for _, c := range cases {
		err := validateSRVHost(c.host, c.srvName)
		if (err != nil) != c.wantErr {
			t.Errorf("validateSRVHost(%q, %q) error = %v, wantErr %v", c.host, c.srvName, err, c.wantErr)
		}
	}
}
