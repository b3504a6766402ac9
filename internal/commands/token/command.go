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

// Package token implements "strom token issue", a local helper for
// minting operator JWTs against a signing secret the caller already
// holds. It does not call stromd: production deployments mint tokens
// with their own identity provider.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/stromhub/strom/internal/auth"
	"github.com/stromhub/strom/internal/commands/shared"
)

// NewCommand creates the token command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint and inspect operator JWTs",
	}
	cmd.AddCommand(newIssueCommand())
	return cmd
}

func newIssueCommand() *cobra.Command {
	var (
		secret   string
		issuer   string
		userID   string
		lifetime time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a new operator JWT for POST /run",
		Long: `Issue signs a JWT against --secret, which must match the target stromd's
UserAuthSecret. This is a development convenience: a production deployment
issues operator tokens from its own identity provider, not this command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, secret, issuer, userID, lifetime)
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "HS256 signing secret (must match stromd's user_auth_secret)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "Issuer claim")
	cmd.Flags().StringVar(&userID, "user", "", "Operator identity to embed in the token")
	cmd.Flags().DurationVar(&lifetime, "lifetime", 24*time.Hour, "Token validity period")
	_ = cmd.MarkFlagRequired("secret")

	return cmd
}

func run(cmd *cobra.Command, secret, issuer, userID string, lifetime time.Duration) error {
	if secret == "" {
		return shared.NewMissingInputError("--secret is required", nil)
	}

	cfg := auth.JWTConfig{Secret: []byte(secret), Issuer: issuer}
	claims := auth.Claims{UserID: userID}
	if lifetime > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(lifetime))
	}

	signed, err := auth.GenerateJWT(claims, cfg)
	if err != nil {
		return shared.NewExecutionError("signing token", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(map[string]string{"token": signed})
	}
	cmd.Println(signed)
	return nil
}
