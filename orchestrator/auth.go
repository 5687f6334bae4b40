// Copyright 2025 SLM Legal ES Research
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

package orchestrator

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Caller is the authenticated identity extracted from a bearer token.
type Caller struct {
	ClientID string
	Role     string
	TenantID string
}

// Authenticator validates HS256 bearer tokens on the public API. An
// empty secret disables authentication entirely, for local development
// and tests.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator builds an authenticator over the shared secret.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return &Authenticator{}
	}
	return &Authenticator{secret: []byte(secret)}
}

// Enabled reports whether token validation is active.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// Authenticate extracts and validates the bearer token of a request.
func (a *Authenticator) Authenticate(r *http.Request) (*Caller, error) {
	if !a.Enabled() {
		return &Caller{ClientID: "anonymous"}, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == header {
		return nil, fmt.Errorf("Authorization header must use Bearer scheme")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	caller := &Caller{
		ClientID: claimString(claims, "client_id"),
		Role:     claimString(claims, "role"),
		TenantID: claimString(claims, "tenant_id"),
	}
	if caller.ClientID == "" {
		return nil, fmt.Errorf("token missing client_id claim")
	}
	return caller, nil
}

// Middleware wraps a handler with bearer-token validation and stores the
// caller's client id on the request header for downstream handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.Authenticate(r)
		if err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		r.Header.Set("X-Client-ID", caller.ClientID)
		next.ServeHTTP(w, r)
	})
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
