// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package dns resolves the SRV and TXT records an "mongodb+srv://"
// connection string needs, using github.com/miekg/dns rather than the
// stdlib resolver so callers can read each record's own TTL (net.Resolver
// only ever returns the records, never how long they're valid for).
package dns

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DefaultRescanInterval is the upper bound on the SRV re-poll interval:
// LookupSRV returns min(TTL, DefaultRescanInterval), so records are
// re-resolved at least once a minute, and sooner when a TTL is shorter.
const DefaultRescanInterval = 60 * time.Second

// SRVTarget is one resolved SRV record: a host/port pair to dial.
type SRVTarget struct {
	Host string
	Port uint16
}

func (t SRVTarget) String() string { return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port))) }

// Resolver looks up SRV and TXT records against a configured DNS server,
// falling back to the system's configured resolvers when Server is empty.
type Resolver struct {
	// Server, if set, is used instead of the system resolver — host:port,
	// e.g. "127.0.0.1:53".
	Server string
}

// ParseHosts splits "_mongodb._tcp.<name>" into "<name>", the root domain
// a TXT lookup and the client's own validation both address directly.
func ParseHosts(srvName string) (string, error) {
	parts := strings.SplitN(srvName, ".", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("dns: invalid SRV name %q", srvName)
	}
	return parts[2], nil
}

// LookupSRV resolves "_<service>._tcp.<name>" (service defaults to
// "mongodb" when empty), returning every target and
// min(TTL, DefaultRescanInterval) — the interval a caller should wait
// before re-resolving, per spec.md §4.2.
func (r *Resolver) LookupSRV(ctx context.Context, name, service string) ([]SRVTarget, time.Duration, error) {
	if service == "" {
		service = "mongodb"
	}
	query := "_" + service + "._tcp." + name
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(query), dns.TypeSRV)

	reply, err := r.exchange(ctx, msg)
	if err != nil {
		return nil, 0, fmt.Errorf("dns: SRV lookup for %s: %w", query, err)
	}

	var targets []SRVTarget
	ttl := DefaultRescanInterval
	for _, rr := range reply.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		host := strings.TrimSuffix(srv.Target, ".")
		if err := validateSRVHost(host, name); err != nil {
			return nil, 0, err
		}
		targets = append(targets, SRVTarget{Host: host, Port: srv.Port})
		if recordTTL := time.Duration(srv.Hdr.Ttl) * time.Second; recordTTL < ttl {
			ttl = recordTTL
		}
	}
	if len(targets) == 0 {
		return nil, 0, fmt.Errorf("dns: no SRV records found for %s", query)
	}
	return targets, ttl, nil
}

// validateSRVHost enforces the connection-string spec's rule that every
// resolved target must share at least the parent domain's last two
// labels with the SRV name queried, so a compromised resolver can't
// redirect a client to an arbitrary host.
func validateSRVHost(host, srvName string) error {
	hostParts := strings.Split(host, ".")
	nameParts := strings.Split(srvName, ".")
	if len(nameParts) < 2 {
		return fmt.Errorf("dns: SRV name %q has no parent domain to validate against", srvName)
	}
	parent := strings.Join(nameParts[len(nameParts)-2:], ".")
	if len(hostParts) < len(nameParts) || !strings.HasSuffix(host, "."+parent) && host != parent {
		return fmt.Errorf("dns: resolved host %q is not a subdomain of %q", host, parent)
	}
	return nil
}

// LookupTXT resolves name's TXT record(s) into connection-string options
// ("replicaSet=rs0&authSource=admin"-style key/value pairs), the only use
// mongodb+srv:// has for TXT records. At most one TXT record is permitted;
// LookupTXT returns an error when more than one is found.
func (r *Resolver) LookupTXT(ctx context.Context, name string) (map[string]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)

	reply, err := r.exchange(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("dns: TXT lookup for %s: %w", name, err)
	}

	var records []string
	for _, rr := range reply.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		records = append(records, strings.Join(txt.Txt, ""))
	}
	if len(records) == 0 {
		return map[string]string{}, nil
	}
	if len(records) > 1 {
		return nil, fmt.Errorf("dns: multiple TXT records found for %s, expected at most one", name)
	}

	options := make(map[string]string)
	for _, pair := range strings.Split(records[0], "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("dns: malformed TXT option %q", pair)
		}
		options[kv[0]] = kv[1]
	}
	return options, nil
}

func (r *Resolver) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	client := new(dns.Client)
	server := r.Server
	if server == "" {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil || len(conf.Servers) == 0 {
			return nil, fmt.Errorf("dns: no resolver configured: %w", err)
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	reply, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, err
	}
	if reply.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns: query failed with rcode %d", reply.Rcode)
	}
	return reply, nil
}
