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

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the operator-facing user-auth used by POST /run.
type JWTConfig struct {
	// Secret is the HS256 signing key. An empty Secret disables JWT
	// validation entirely (every /run call fails closed).
	Secret []byte

	Issuer    string
	ClockSkew time.Duration
}

// Claims identifies the operator that submitted a manual run.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

// ValidateJWT parses and validates tokenString against cfg, returning the
// caller's claims on success.
func ValidateJWT(tokenString string, cfg JWTConfig) (*Claims, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("user auth is not configured")
	}
	if tokenString == "" {
		return nil, fmt.Errorf("token is empty")
	}

	parser := jwt.NewParser(jwt.WithLeeway(cfg.ClockSkew))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer: expected %s, got %s", cfg.Issuer, claims.Issuer)
	}
	return claims, nil
}

// GenerateJWT signs claims for tests and the strom CLI's local token
// issuance helper; production deployments mint tokens with their own
// identity provider and only need ValidateJWT here.
func GenerateJWT(claims Claims, cfg JWTConfig) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", fmt.Errorf("user auth is not configured")
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(24 * time.Hour))
	}
	if cfg.Issuer != "" && claims.Issuer == "" {
		claims.Issuer = cfg.Issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}
