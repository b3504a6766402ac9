// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth authenticates the two callers of stromd's wire protocol:
// workers/runners, which present a shared bearer token, and operators,
// which present a JWT (spec.md §6).
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// BearerAuthenticator checks worker requests against a single shared
// secret (ServerConfig.WorkerToken / WorkerConfig.Token).
type BearerAuthenticator struct {
	secret string
}

// NewBearerAuthenticator constructs a BearerAuthenticator for secret.
func NewBearerAuthenticator(secret string) *BearerAuthenticator {
	return &BearerAuthenticator{secret: secret}
}

// Authenticate extracts the Authorization header's bearer token and
// compares it against the configured secret in constant time.
func (a *BearerAuthenticator) Authenticate(r *http.Request) error {
	token, err := ExtractBearerToken(r)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) != 1 {
		return fmt.Errorf("invalid bearer token")
	}
	return nil
}

// ExtractBearerToken pulls the token out of an "Authorization: Bearer
// <token>" header, case-insensitively on the scheme per RFC 6750.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", fmt.Errorf("invalid Authorization header format, expected 'Bearer <token>'")
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", fmt.Errorf("empty bearer token")
	}
	return token, nil
}
