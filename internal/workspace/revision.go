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

package workspace

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/crypto/blake2b"
)

// tree is a walked, ignore-filtered snapshot of a directory: relative
// path (slash-separated, lexicographically sortable) to file bytes.
type tree struct {
	files map[string][]byte
	order []string // sorted relative paths, computed once
}

// walkTree enumerates root in deterministic (lexicographic by relative
// path) order, reading every regular file not matched by an ignore
// pattern. Symlinks that resolve outside root are a hard error; ignore
// patterns are doublestar globs matched against the slash-separated
// relative path, the same matcher the rest of the codebase already uses
// for permission rules.
func walkTree(root string, ignore []string) (*tree, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}

	t := &tree{files: make(map[string][]byte)}

	err = filepath.Walk(absRoot, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				return fmt.Errorf("resolving symlink %s: %w", rel, err)
			}
			if !withinRoot(absRoot, target) {
				return fmt.Errorf("symlink %s points outside the workspace root", rel)
			}
			// Re-stat through the resolved target so a symlinked file is read
			// below. filepath.Walk does not descend into a symlinked
			// directory, so its contents are not part of the revision.
			info, err = os.Stat(target)
			if err != nil {
				return err
			}
		}

		for _, pattern := range ignore {
			matched, err := doublestar.Match(pattern, rel)
			if err != nil {
				return fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
			}
			if matched {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if info.IsDir() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		t.files[rel] = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.order = make([]string, 0, len(t.files))
	for p := range t.files {
		t.order = append(t.order, p)
	}
	sort.Strings(t.order)

	return t, nil
}

func withinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// computeRevision hashes a tree's (path, bytes) pairs in lexicographic
// path order through BLAKE2b-256, per spec.md §4.1: two byte-identical
// trees always yield identical revisions, and any change to any file
// changes the digest.
func computeRevision(t *tree) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("constructing blake2b hasher: %w", err)
	}

	for _, path := range t.order {
		fmt.Fprintf(h, "%d:%s\n", len(path), path)
		data := t.files[path]
		fmt.Fprintf(h, "%d:", len(data))
		h.Write(data)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
