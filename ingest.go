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
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"os"
	"strings"
	"unicode"

	"github.com/matta/notmuchgo/internal/messageid"
	"github.com/matta/notmuchgo/internal/path"
	"github.com/matta/notmuchgo/internal/prefix"
	"github.com/matta/notmuchgo/internal/store"
)

// AddMessage ingests filename (a path under the database root) as a
// mail document, performing thread resolution and content indexing
// (spec.md §4.6). If a document for this message already exists,
// filename is recorded as an additional location and AddMessage
// returns the existing *Message together with
// Status{Code: DuplicateMessageId} — a non-fatal, semantic result, not
// a failure.
func (d *DB) AddMessage(ctx context.Context, filename string) (*Message, error) {
	if !d.writable {
		return nil, status(ReadOnly)
	}

	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, wrap(FileError, err)
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, wrap(FileError, err)
	}
	header := msg.Header

	from := strings.TrimSpace(header.Get("From"))
	to := strings.TrimSpace(header.Get("To"))
	subject := strings.TrimSpace(header.Get("Subject"))
	if from == "" && to == "" && subject == "" {
		return nil, status(FileNotEmail)
	}

	mid, err := deriveMessageID(header.Get("Message-Id"), raw)
	if err != nil {
		return nil, err
	}

	relative, ok := path.Relative(d.root, filename)
	if !ok {
		return nil, wrap(FileError, fmt.Errorf("filename %q is not under database root %q", filename, d.root))
	}
	dirRel, base := path.Split(relative)
	dir, err := d.getDirectoryRelative(ctx, dirRel)
	if err != nil {
		return nil, err
	}
	direntry := fmt.Sprintf("%d:%s", dir.DocID, base)

	docID, exists, err := d.findUniqueDoc(ctx, "id", mid)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := d.tx.AddTerm(ctx, docID, prefix.Find("file-direntry").Prefix, direntry); err != nil {
			return nil, wrap(EngineException, err)
		}
		if err := d.Flush(ctx); err != nil {
			return nil, err
		}
		m, err := d.hydrateMessage(ctx, docID, mid)
		if err != nil {
			return nil, err
		}
		return m, status(DuplicateMessageId)
	}

	docID, err = d.tx.CreateDocument(ctx)
	if err != nil {
		return nil, wrap(EngineException, err)
	}
	if err := d.tx.AddTerm(ctx, docID, prefix.Find("type").Prefix, "mail"); err != nil {
		return nil, wrap(EngineException, err)
	}
	if err := d.tx.AddTerm(ctx, docID, prefix.Find("id").Prefix, mid); err != nil {
		return nil, wrap(EngineException, err)
	}
	if err := d.tx.AddTerm(ctx, docID, prefix.Find("file-direntry").Prefix, direntry); err != nil {
		return nil, wrap(EngineException, err)
	}

	threadID, err := d.resolveThread(ctx, docID, mid, header.Get("References"), header.Get("In-Reply-To"))
	if err != nil {
		return nil, err
	}
	if err := d.tx.AddTerm(ctx, docID, prefix.Find("thread").Prefix, threadID); err != nil {
		return nil, wrap(EngineException, err)
	}

	if dateHeader := header.Get("Date"); dateHeader != "" {
		if t, perr := mail.ParseDate(dateHeader); perr == nil {
			if err := d.tx.SetValue(ctx, docID, SlotTimestamp, store.EncodeTimestamp(t.Unix())); err != nil {
				return nil, wrap(EngineException, err)
			}
			if err := d.tx.AddTerm(ctx, docID, prefix.Find("date").Prefix, dateHeader); err != nil {
				return nil, wrap(EngineException, err)
			}
		}
		// An unparsable Date header is not fatal to ingest; the
		// message simply carries no TIMESTAMP.
	}

	if err := d.tx.SetValue(ctx, docID, SlotMessageID, []byte(mid)); err != nil {
		return nil, wrap(EngineException, err)
	}

	if err := indexContent(ctx, d, docID, header, msg.Body); err != nil {
		return nil, err
	}

	if err := d.Flush(ctx); err != nil {
		return nil, err
	}

	return &Message{db: d, DocID: docID, MessageID: mid, ThreadID: threadID}, nil
}

// RemoveMessage locates the mail document carrying filename and
// removes that one file-direntry term. If no file-direntry terms
// remain afterward the document is deleted entirely and a nil error
// is returned; otherwise the document is kept (other filenames still
// reference it) and Status{Code: DuplicateMessageId} is returned, per
// spec.md §4.6's reuse of that value to mean "other filenames
// remain."
func (d *DB) RemoveMessage(ctx context.Context, filename string) error {
	if !d.writable {
		return status(ReadOnly)
	}

	relative, ok := path.Relative(d.root, filename)
	if !ok {
		return wrap(FileError, fmt.Errorf("filename %q is not under database root %q", filename, d.root))
	}
	dirRel, base := path.Split(relative)
	dir, found, err := d.findDirectory(ctx, dirRel)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	direntry := fmt.Sprintf("%d:%s", dir.DocID, base)

	docID, found, err := d.findUniqueDoc(ctx, "file-direntry", direntry)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if err := d.tx.RemoveTerm(ctx, docID, prefix.Find("file-direntry").Prefix, direntry); err != nil {
		return wrap(EngineException, err)
	}

	remaining, err := d.tx.TermValues(ctx, docID, prefix.Find("file-direntry").Prefix)
	if err != nil {
		return wrap(EngineException, err)
	}

	if len(remaining) == 0 {
		if err := d.tx.DeleteDocument(ctx, docID); err != nil {
			return wrap(EngineException, err)
		}
		return d.Flush(ctx)
	}

	if err := d.Flush(ctx); err != nil {
		return err
	}
	return status(DuplicateMessageId)
}

// deriveMessageID implements spec.md §3's identifier derivation:
// parse headerValue via the message-id grammar; fall back to the raw
// header text if parsing fails but the header is non-empty; reject
// anything longer than MAX_TERM_LEN (leaving room for the one-byte
// "Q" term prefix); and as a last resort synthesize
// notmuch-sha1-<hex> from the whole file's contents.
func deriveMessageID(headerValue string, fileContents []byte) (string, error) {
	var candidate string
	if id, ok := messageid.Parse(headerValue); ok {
		candidate = id
	} else if strings.TrimSpace(headerValue) != "" {
		candidate = strings.TrimSpace(headerValue)
	}

	if candidate != "" && len(candidate)+1 <= MaxTermLen {
		return candidate, nil
	}

	sum := sha1.Sum(fileContents)
	return "notmuch-sha1-" + hex.EncodeToString(sum[:]), nil
}

// indexContent tokenizes the probabilistic fields of a message
// (from/to/subject/body/attachment names) and indexes each token as a
// term under the appropriate prefix. There is no stemming library
// anywhere in the reference corpus, so this performs the simplified,
// un-stemmed tokenization documented in DESIGN.md in place of
// spec.md §6.1's assumed per-language stemmer.
func indexContent(ctx context.Context, d *DB, docID int64, header mail.Header, body io.Reader) error {
	fields := []struct{ name, text string }{
		{"from", header.Get("From")},
		{"to", header.Get("To")},
		{"subject", header.Get("Subject")},
	}
	for _, f := range fields {
		for _, term := range tokenize(f.text) {
			if err := d.tx.AddTerm(ctx, docID, prefix.Find(f.name).Prefix, term); err != nil {
				return wrap(EngineException, err)
			}
		}
	}

	bodyBytes, err := io.ReadAll(body)
	if err != nil {
		return wrap(FileError, err)
	}
	for _, term := range tokenize(string(bodyBytes)) {
		if err := d.tx.AddTerm(ctx, docID, prefix.Find("body").Prefix, term); err != nil {
			return wrap(EngineException, err)
		}
	}

	for _, name := range attachmentNames(header.Get("Content-Type"), bodyBytes) {
		for _, term := range tokenize(name) {
			if err := d.tx.AddTerm(ctx, docID, prefix.Find("attachment").Prefix, term); err != nil {
				return wrap(EngineException, err)
			}
		}
	}
	return nil
}

// tokenize lower-cases s and splits it on runs of non-alphanumeric
// characters.
func tokenize(s string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return out
}

// attachmentNames returns the filenames of any MIME parts with a
// filename parameter, if contentType describes a multipart message.
func attachmentNames(contentType string, body []byte) []string {
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mt, "multipart/") {
		return nil
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil
	}

	var names []string
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if fn := part.FileName(); fn != "" {
			names = append(names, fn)
		}
		part.Close()
	}
	return names
}
