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
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matta/notmuchgo/internal/prefix"
)

func TestAddMessageNotAnEmailFails(t *testing.T) {
	ctx := context.Background()
	db := createTestDB(ctx, t)
	path := writeMessage(t, db, "cur/1", map[string]string{}, "no headers at all")
	_, err := db.AddMessage(ctx, path)
	if !isStatus(err, FileNotEmail) {
		t.Errorf("AddMessage = %v, want FileNotEmail", err)
	}
}

func TestAddMessageDuplicateLinksFilename(t *testing.T) {
	ctx := context.Background()
	db := createTestDB(ctx, t)
	first := writeMessage(t, db, "cur/1", map[string]string{"From": "a@x", "Message-Id": "<m@x>"}, "hi")
	m1, err := db.AddMessage(ctx, first)
	if err != nil {
		t.Fatalf("AddMessage(first): %v", err)
	}

	second := writeMessage(t, db, "cur/2", map[string]string{"From": "a@x", "Message-Id": "<m@x>"}, "hi")
	m2, err := db.AddMessage(ctx, second)
	if !IsDuplicateMessageId(err) {
		t.Fatalf("AddMessage(second) = %v, want DuplicateMessageId", err)
	}
	if m2.DocID != m1.DocID {
		t.Errorf("duplicate ingest produced a distinct document: %d != %d", m2.DocID, m1.DocID)
	}
	names, err := m2.Filenames(ctx)
	if err != nil {
		t.Fatalf("Filenames: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("Filenames = %v, want both locations", names)
	}
}

func TestRemoveMessageLastFilenameDeletesDocument(t *testing.T) {
	ctx := context.Background()
	db := createTestDB(ctx, t)
	path := writeMessage(t, db, "cur/1", map[string]string{"From": "a@x", "Message-Id": "<m@x>"}, "hi")
	if _, err := db.AddMessage(ctx, path); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	if err := db.RemoveMessage(ctx, path); err != nil {
		t.Fatalf("RemoveMessage: %v", err)
	}
	m, err := db.FindMessage(ctx, "m@x")
	if err != nil {
		t.Fatalf("FindMessage: %v", err)
	}
	if m != nil {
		t.Errorf("FindMessage after removing last filename = %+v, want nil", m)
	}
}

func TestRemoveMessageKeepsDocumentWithOtherFilenames(t *testing.T) {
	ctx := context.Background()
	db := createTestDB(ctx, t)
	first := writeMessage(t, db, "cur/1", map[string]string{"From": "a@x", "Message-Id": "<m@x>"}, "hi")
	if _, err := db.AddMessage(ctx, first); err != nil {
		t.Fatalf("AddMessage(first): %v", err)
	}
	second := writeMessage(t, db, "cur/2", map[string]string{"From": "a@x", "Message-Id": "<m@x>"}, "hi")
	if _, err := db.AddMessage(ctx, second); !IsDuplicateMessageId(err) {
		t.Fatalf("AddMessage(second) = %v, want DuplicateMessageId", err)
	}

	err := db.RemoveMessage(ctx, first)
	if !IsDuplicateMessageId(err) {
		t.Fatalf("RemoveMessage = %v, want DuplicateMessageId (other filenames remain)", err)
	}
	m, err := db.FindMessage(ctx, "m@x")
	if err != nil {
		t.Fatalf("FindMessage: %v", err)
	}
	if m == nil {
		t.Fatal("FindMessage returned nil after removing only one of two filenames")
	}
}

func TestRemoveMessageUnknownFileIsNoop(t *testing.T) {
	ctx := context.Background()
	db := createTestDB(ctx, t)
	if err := db.RemoveMessage(ctx, db.Root()+"/never/written"); err != nil {
		t.Errorf("RemoveMessage(unknown) = %v, want nil", err)
	}
}

func TestLongDirectoryPathIsHashed(t *testing.T) {
	ctx := context.Background()
	db := createTestDB(ctx, t)

	long := strings.Repeat("segment/", 300) + "message"
	path := writeMessage(t, db, long, map[string]string{"From": "a@x", "Message-Id": "<long@x>"}, "hi")
	if _, err := db.AddMessage(ctx, path); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	dirRelative := strings.TrimSuffix(long, "/message")
	dir, found, err := db.findDirectory(ctx, dirRelative)
	if err != nil {
		t.Fatalf("findDirectory: %v", err)
	}
	if !found {
		t.Fatal("findDirectory did not find the long directory")
	}

	term, ok, err := db.tx.TermValue(ctx, dir.DocID, prefix.Find("directory").Prefix)
	if err != nil {
		t.Fatalf("TermValue(directory): %v", err)
	}
	if !ok {
		t.Fatal("directory document has no directory term")
	}
	want := sha1.Sum([]byte(dirRelative))
	if term != hex.EncodeToString(want[:]) {
		t.Errorf("directory term = %q, want the SHA-1 fold %q", term, hex.EncodeToString(want[:]))
	}

	data, err := db.tx.GetData(ctx, dir.DocID)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if string(data) != dirRelative {
		t.Errorf("data blob = %q, want untruncated path %q", data, dirRelative)
	}
}

func TestDeriveMessageIDFallsBackToSHA1(t *testing.T) {
	contents := []byte("From: a@x\r\n\r\nhello")
	id, err := deriveMessageID("", contents)
	if err != nil {
		t.Fatalf("deriveMessageID: %v", err)
	}
	sum := sha1.Sum(contents)
	want := "notmuch-sha1-" + hex.EncodeToString(sum[:])
	if id != want {
		t.Errorf("deriveMessageID = %q, want %q", id, want)
	}
}

func TestDeriveMessageIDRejectsOverlong(t *testing.T) {
	contents := []byte("irrelevant")
	overlong := strings.Repeat("x", MaxTermLen)
	id, err := deriveMessageID(overlong, contents)
	if err != nil {
		t.Fatalf("deriveMessageID: %v", err)
	}
	if strings.HasPrefix(id, "notmuch-sha1-") == false {
		t.Errorf("deriveMessageID(overlong) = %q, want SHA-1 fallback", id)
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("Hello, World! 123-abc")
	want := []string{"hello", "world", "123", "abc"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tokenize mismatch (-want +got):\n%s", diff)
	}
}

func TestAttachmentNames(t *testing.T) {
	body := "--XYZ\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"hi\r\n" +
		"--XYZ\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n\r\n" +
		"...\r\n" +
		"--XYZ--\r\n"
	names := attachmentNames(`multipart/mixed; boundary="XYZ"`, []byte(body))
	if diff := cmp.Diff([]string{"report.pdf"}, names); diff != "" {
		t.Errorf("attachmentNames mismatch (-want +got):\n%s", diff)
	}
}

func TestAttachmentNamesNonMultipart(t *testing.T) {
	if names := attachmentNames("text/plain", []byte("hi")); names != nil {
		t.Errorf("attachmentNames(non-multipart) = %v, want nil", names)
	}
}
