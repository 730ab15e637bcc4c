// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package notmuchgo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/matta/notmuchgo/internal/prefix"
	"github.com/matta/notmuchgo/internal/store"
)

// createV0Database hand-builds a schema-version-0 database containing
// one mail document whose legacy filename sits in its data blob, and
// one legacy XTIMESTAMP directory-mtime document, matching spec.md's
// upgrade scenario.
func createV0Database(ctx context.Context, t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, indexSubdir), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	sdb, err := store.Open(ctx, indexPath(root), true)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	tx, err := sdb.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	mailDoc, err := tx.CreateDocument(ctx)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := tx.AddTerm(ctx, mailDoc, prefix.Find("id").Prefix, "m1@x"); err != nil {
		t.Fatalf("AddTerm: %v", err)
	}
	if err := tx.SetData(ctx, mailDoc, []byte("maildir/cur/001")); err != nil {
		t.Fatalf("SetData: %v", err)
	}

	legacyDoc, err := tx.CreateDocument(ctx)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := tx.AddTerm(ctx, legacyDoc, legacyTimestampPrefix, "maildir/cur"); err != nil {
		t.Fatalf("AddTerm: %v", err)
	}
	if err := tx.SetValue(ctx, legacyDoc, SlotTimestamp, store.EncodeTimestamp(12345)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	if err := tx.SetMetadata(ctx, "version", "0"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := tx.SetMetadata(ctx, "last_thread_id", "0000000000000000"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := sdb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return root
}

func TestUpgradeV0ToV1(t *testing.T) {
	ctx := context.Background()
	root := createV0Database(ctx, t)

	db, err := Open(ctx, root, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close(ctx)

	needsUpgrade, err := db.NeedsUpgrade(ctx)
	if err != nil {
		t.Fatalf("NeedsUpgrade: %v", err)
	}
	if !needsUpgrade {
		t.Fatal("NeedsUpgrade = false, want true for a v0 database")
	}

	var progressCalls int
	if err := db.Upgrade(ctx, func(fraction float64) { progressCalls++ }); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}

	version, err := db.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("Version after upgrade = %d, want %d", version, CurrentSchemaVersion)
	}

	docID, ok, err := db.findUniqueDoc(ctx, "id", "m1@x")
	if err != nil {
		t.Fatalf("findUniqueDoc: %v", err)
	}
	if !ok {
		t.Fatal("mail document m1@x no longer findable after upgrade")
	}
	direntries, err := db.tx.TermValues(ctx, docID, prefix.Find("file-direntry").Prefix)
	if err != nil {
		t.Fatalf("TermValues(file-direntry): %v", err)
	}
	if len(direntries) != 1 || !hasSuffix(direntries[0], ":001") {
		t.Errorf("file-direntry terms = %v, want exactly one ending in \":001\"", direntries)
	}
	data, err := db.tx.GetData(ctx, docID)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("data blob after upgrade = %q, want empty", data)
	}

	legacy, err := db.tx.AllTermsWithPrefix(ctx, legacyTimestampPrefix)
	if err != nil {
		t.Fatalf("AllTermsWithPrefix: %v", err)
	}
	if len(legacy) != 0 {
		t.Errorf("legacy XTIMESTAMP terms remain after upgrade: %v", legacy)
	}

	dir, found, err := db.findDirectory(ctx, "maildir/cur")
	if err != nil {
		t.Fatalf("findDirectory: %v", err)
	}
	if !found {
		t.Fatal("directory maildir/cur was not created by the upgrade")
	}
	mtime, err := dir.Mtime(ctx)
	if err != nil {
		t.Fatalf("Mtime: %v", err)
	}
	if mtime != 12345 {
		t.Errorf("directory mtime after upgrade = %d, want 12345 (copied from the legacy document)", mtime)
	}

	if progressCalls == 0 {
		t.Error("progress callback was never invoked; Upgrade always calls it once at completion")
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
