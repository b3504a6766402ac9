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

package server

import (
	"context"
	"net/http"

	"github.com/stromhub/strom/internal/auth"
)

type userContextKey struct{}

// requireWorker rejects any request that doesn't carry a valid worker
// bearer token before calling next.
func (r *Router) requireWorker(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := r.srv.WorkerAuth.Authenticate(req); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, req)
	}
}

// requireUser rejects any request that doesn't carry a valid operator
// JWT before calling next, stashing the validated claims in the request
// context.
func (r *Router) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := auth.ExtractBearerToken(req)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ValidateJWT(token, r.srv.UserAuth)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(req.Context(), userContextKey{}, claims)
		next(w, req.WithContext(ctx))
	}
}

func userFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(userContextKey{}).(*auth.Claims)
	return claims
}
