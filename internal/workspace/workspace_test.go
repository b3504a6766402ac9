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
	"context"
	"os"
	"path/filepath"
	"testing"

	stromerrors "github.com/stromhub/strom/pkg/errors"
)

const fixtureYAML = `
actions:
  - name: noop
    executor:
      command: "true"
tasks:
  - name: release
    flow:
      build:
        action: noop
`

// manualSource is a Source whose Watch only fires when the test calls
// trigger(); it never polls or watches anything itself.
type manualSource struct {
	dir     string
	rescan  func()
	started chan struct{}
}

func (s *manualSource) Root() string { return s.dir }

func (s *manualSource) Watch(ctx context.Context, rescan func()) {
	s.rescan = rescan
	rescan()
	close(s.started)
	<-ctx.Done()
}

func (s *manualSource) trigger() { s.rescan() }

func writeFixture(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "definitions.yaml"), []byte(fixtureYAML), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRevisionDeterminism(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeFixture(t, dirA)
	writeFixture(t, dirB)

	treeA, err := walkTree(dirA, nil)
	if err != nil {
		t.Fatal(err)
	}
	treeB, err := walkTree(dirB, nil)
	if err != nil {
		t.Fatal(err)
	}

	revA, err := computeRevision(treeA)
	if err != nil {
		t.Fatal(err)
	}
	revB, err := computeRevision(treeB)
	if err != nil {
		t.Fatal(err)
	}

	if revA != revB {
		t.Fatalf("byte-identical trees yielded different revisions: %s != %s", revA, revB)
	}

	if err := os.WriteFile(filepath.Join(dirB, "definitions.yaml"), []byte(fixtureYAML+"\n# comment\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	treeB2, err := walkTree(dirB, nil)
	if err != nil {
		t.Fatal(err)
	}
	revB2, err := computeRevision(treeB2)
	if err != nil {
		t.Fatal(err)
	}
	if revB2 == revA {
		t.Fatal("changed tree content must change the revision")
	}
}

func TestWalkTree_IgnoresMatchedPatterns(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tr, err := walkTree(dir, []string{".git/**"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.files[".git/HEAD"]; ok {
		t.Fatal(".git/HEAD should have been excluded by the ignore pattern")
	}
	if _, ok := tr.files["definitions.yaml"]; !ok {
		t.Fatal("definitions.yaml should have survived the ignore filter")
	}
}

func TestSynchronizer_PublishesOnChangeAndServesSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)

	src := &manualSource{dir: dir, started: make(chan struct{})}
	s := New(src, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	<-src.started

	revision, definitions, err := s.Current(ctx)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if revision == "" {
		t.Fatal("expected a non-empty revision after the initial rescan")
	}
	if _, ok := definitions.Tasks["release"]; !ok {
		t.Fatal("expected the release task to be parsed")
	}

	snap, err := s.Snapshot(ctx, revision)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap) == 0 {
		t.Fatal("expected non-empty snapshot bytes")
	}

	sub := s.Subscribe(ctx)

	// Re-scanning with no change must not republish.
	src.trigger()
	select {
	case rev := <-sub:
		t.Fatalf("unexpected republish with no tree change: %s", rev)
	default:
	}

	if err := os.WriteFile(filepath.Join(dir, "extra.yaml"), []byte("actions: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src.trigger()

	select {
	case rev := <-sub:
		if rev == revision {
			t.Fatal("expected a new revision after the tree changed")
		}
	default:
		t.Fatal("expected a subscriber notification after the tree changed")
	}
}

func TestSynchronizer_SnapshotNotFoundForUnknownRevision(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)

	src := &manualSource{dir: dir, started: make(chan struct{})}
	s := New(src, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	<-src.started

	_, err := s.Snapshot(ctx, "does-not-exist")
	var nf *stromerrors.NotFoundError
	if err == nil {
		t.Fatal("expected an error for an unknown revision")
	}
	if !asNotFound(err, &nf) {
		t.Fatalf("expected *stromerrors.NotFoundError, got %T: %v", err, err)
	}
}

func asNotFound(err error, target **stromerrors.NotFoundError) bool {
	nf, ok := err.(*stromerrors.NotFoundError)
	if ok {
		*target = nf
	}
	return ok
}
