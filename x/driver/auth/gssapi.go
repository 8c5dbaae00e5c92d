// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import "context"

// gssapiAuthenticator is a stub: Kerberos/SSPI authentication needs a
// platform-specific GSS implementation (cgo on Unix, SSPI on Windows)
// this module intentionally does not vendor. CreateAuthenticator still
// recognizes the mechanism name so credential parsing and URI validation
// behave the same as for a build that does support it; Auth always fails.
type gssapiAuthenticator struct{}

func newGSSAPIAuthenticator(cred *Cred) (Authenticator, error) {
	return &gssapiAuthenticator{}, nil
}

func (a *gssapiAuthenticator) Name() string { return GSSAPI }

func (a *gssapiAuthenticator) Auth(ctx context.Context, cfg *Config) error {
	return newAuthError("GSSAPI authentication is not implemented in this build", nil)
}
