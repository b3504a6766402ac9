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

// Package workspace maintains the process-wide current definition
// snapshot: it watches a source tree (local directory or remote VCS
// checkout), computes a content revision over the tree, parses the
// definition set, and serves immutable, content-addressed snapshot
// tarballs to runners.
package workspace

import (
	"context"

	"github.com/stromhub/strom/internal/defs"
)

// Source supplies the raw file tree the synchronizer hashes and parses.
// Local and remote (VCS) sources implement it differently but both
// reduce to "a directory on local disk, plus a way to be told about
// changes to it".
type Source interface {
	// Root is the local directory to walk on every rescan.
	Root() string

	// Watch blocks until ctx is done, calling rescan whenever the source
	// observes (or suspects) a change to the tree. It does not walk the
	// tree itself; the caller is responsible for reacting. Watch must
	// call rescan at least once up front so the synchronizer has an
	// initial revision before relying on further notifications.
	Watch(ctx context.Context, rescan func())
}

// revisionState is the synchronizer's current published view.
type revisionState struct {
	revision string
	defs     *defs.Definitions
	err      error // last parse error, if the current state is stale because of one
}
