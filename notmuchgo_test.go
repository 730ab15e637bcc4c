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
)

// createTestDB creates a fresh writable database rooted at a fresh
// temporary directory, closing it automatically at test cleanup.
func createTestDB(ctx context.Context, t *testing.T) *DB {
	t.Helper()
	root := t.TempDir()
	db, err := Create(ctx, root)
	if err != nil {
		t.Fatalf("Create(%q): %v", root, err)
	}
	t.Cleanup(func() {
		if err := db.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return db
}

// writeMessage writes a minimal RFC-822 message under db's root at
// relative and returns its absolute path.
func writeMessage(t *testing.T, db *DB, relative string, headers map[string]string, body string) string {
	t.Helper()
	full := filepath.Join(db.Root(), relative)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	var buf []byte
	for _, k := range []string{"From", "To", "Subject", "Date", "Message-Id", "In-Reply-To", "References", "Content-Type"} {
		if v, ok := headers[k]; ok {
			buf = append(buf, []byte(k+": "+v+"\r\n")...)
		}
	}
	buf = append(buf, []byte("\r\n")...)
	buf = append(buf, []byte(body)...)
	if err := os.WriteFile(full, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return full
}
