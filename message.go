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
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/matta/notmuchgo/internal/path"
	"github.com/matta/notmuchgo/internal/prefix"
	"github.com/matta/notmuchgo/internal/store"
)

// Message wraps one mail document id, caching the two terms looked up
// most often (spec.md §4.4).
type Message struct {
	db        *DB
	DocID     int64
	MessageID string
	ThreadID  string

	freezeDepth int
	dirty       bool
}

// FindMessage looks up the (at most one) mail document carrying
// message-id id. Returns (nil, nil) if no such document exists.
func (d *DB) FindMessage(ctx context.Context, id string) (*Message, error) {
	docID, ok, err := d.findUniqueDoc(ctx, "id", id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return d.hydrateMessage(ctx, docID, id)
}

func (d *DB) hydrateMessage(ctx context.Context, docID int64, messageID string) (*Message, error) {
	if messageID == "" {
		v, _, err := d.tx.TermValue(ctx, docID, prefix.Find("id").Prefix)
		if err != nil {
			return nil, wrap(EngineException, err)
		}
		messageID = v
	}
	threadID, _, err := d.tx.TermValue(ctx, docID, prefix.Find("thread").Prefix)
	if err != nil {
		return nil, wrap(EngineException, err)
	}
	return &Message{db: d, DocID: docID, MessageID: messageID, ThreadID: threadID}, nil
}

// sync realizes "every mutation normally triggers a re-store" (spec.md
// §4.4): when unfrozen, it flushes immediately, making the mutation
// visible to other handles; while frozen, it only marks the message
// dirty, so a whole batch of mutations between Freeze and Thaw becomes
// visible to other handles atomically, in a single flush.
func (m *Message) sync(ctx context.Context) error {
	if m.freezeDepth > 0 {
		m.dirty = true
		return nil
	}
	return m.db.Flush(ctx)
}

// Freeze defers the flush triggered by subsequent tag/date/filename
// mutations on m until a matching number of Thaw calls (spec.md §4.4,
// §9).
func (m *Message) Freeze() error {
	if !m.db.writable {
		return status(ReadOnly)
	}
	m.freezeDepth++
	return nil
}

// Thaw reverses one Freeze. Once the freeze depth returns to zero, any
// mutation deferred since the matching Freeze is flushed in one step.
// Calling Thaw with no outstanding Freeze fails with
// Status{Code: UnbalancedFreezeThaw}.
func (m *Message) Thaw(ctx context.Context) error {
	if m.freezeDepth == 0 {
		return status(UnbalancedFreezeThaw)
	}
	m.freezeDepth--
	if m.freezeDepth == 0 && m.dirty {
		m.dirty = false
		return m.db.Flush(ctx)
	}
	return nil
}

// Tags returns m's tags in lexicographic order.
func (m *Message) Tags(ctx context.Context) ([]string, error) {
	tags, err := m.db.tx.TermValues(ctx, m.DocID, prefix.Find("tag").Prefix)
	if err != nil {
		return nil, wrap(EngineException, err)
	}
	return tags, nil
}

// AddTag adds tag to m's tag set. Idempotent.
func (m *Message) AddTag(ctx context.Context, tag string) error {
	if !m.db.writable {
		return status(ReadOnly)
	}
	if tag == "" {
		return status(NullPointer)
	}
	if len(tag) > MaxTagLen {
		return status(TagTooLong)
	}
	if err := m.db.tx.AddTerm(ctx, m.DocID, prefix.Find("tag").Prefix, tag); err != nil {
		return wrap(EngineException, err)
	}
	return m.sync(ctx)
}

// RemoveTag removes tag from m's tag set. Idempotent.
func (m *Message) RemoveTag(ctx context.Context, tag string) error {
	if !m.db.writable {
		return status(ReadOnly)
	}
	if tag == "" {
		return status(NullPointer)
	}
	if len(tag) > MaxTagLen {
		return status(TagTooLong)
	}
	if err := m.db.tx.RemoveTerm(ctx, m.DocID, prefix.Find("tag").Prefix, tag); err != nil {
		return wrap(EngineException, err)
	}
	return m.sync(ctx)
}

// RemoveAllTags drops every tag from m.
func (m *Message) RemoveAllTags(ctx context.Context) error {
	if !m.db.writable {
		return status(ReadOnly)
	}
	if err := m.db.tx.RemoveTermsWithPrefix(ctx, m.DocID, prefix.Find("tag").Prefix); err != nil {
		return wrap(EngineException, err)
	}
	return m.sync(ctx)
}

// SetDate parses header (an RFC-822 Date header value) and records
// the resulting seconds-since-epoch as m's sortable TIMESTAMP slot.
// Fails with Status{Code: InvalidDate} if header cannot be parsed.
func (m *Message) SetDate(ctx context.Context, header string) error {
	if !m.db.writable {
		return status(ReadOnly)
	}
	t, err := mail.ParseDate(header)
	if err != nil {
		return wrap(InvalidDate, err)
	}
	if err := m.db.tx.SetValue(ctx, m.DocID, SlotTimestamp, store.EncodeTimestamp(t.Unix())); err != nil {
		return wrap(EngineException, err)
	}
	return m.sync(ctx)
}

// Date returns m's recorded TIMESTAMP, or 0 if never set.
func (m *Message) Date(ctx context.Context) (int64, error) {
	val, ok, err := m.db.tx.GetValue(ctx, m.DocID, SlotTimestamp)
	if err != nil {
		return 0, wrap(EngineException, err)
	}
	if !ok {
		return 0, nil
	}
	return store.DecodeTimestamp(val), nil
}

// GetHeader reads header name from one of m's associated files (not
// from the index), matching spec.md §4.4's "reads from the underlying
// file, not the index."
func (m *Message) GetHeader(ctx context.Context, name string) (string, error) {
	filenames, err := m.Filenames(ctx)
	if err != nil {
		return "", err
	}
	if len(filenames) == 0 {
		return "", wrap(FileError, fmt.Errorf("message %s has no associated files", m.MessageID))
	}
	f, err := os.Open(filenames[0])
	if err != nil {
		return "", wrap(FileError, err)
	}
	defer f.Close()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return "", wrap(FileError, err)
	}
	return msg.Header.Get(name), nil
}

// Filenames returns every file location (absolute paths under the
// database root) known for m, derived from its file-direntry terms.
func (m *Message) Filenames(ctx context.Context) ([]string, error) {
	entries, err := m.db.tx.TermValues(ctx, m.DocID, prefix.Find("file-direntry").Prefix)
	if err != nil {
		return nil, wrap(EngineException, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		dirID, base, err := splitDirentry(e)
		if err != nil {
			return nil, wrap(EngineException, err)
		}
		data, err := m.db.tx.GetData(ctx, dirID)
		if err != nil {
			return nil, wrap(EngineException, err)
		}
		out = append(out, filepath.Join(m.db.root, string(data), base))
	}
	return out, nil
}

// AddFilename records filename (an additional on-disk location) for
// m, creating any missing ancestor directory documents.
func (m *Message) AddFilename(ctx context.Context, filename string) error {
	if !m.db.writable {
		return status(ReadOnly)
	}
	relative, ok := path.Relative(m.db.root, filename)
	if !ok {
		return wrap(FileError, fmt.Errorf("filename %q is not under database root %q", filename, m.db.root))
	}
	dirRel, base := path.Split(relative)
	dir, err := m.db.getDirectoryRelative(ctx, dirRel)
	if err != nil {
		return err
	}
	direntry := fmt.Sprintf("%d:%s", dir.DocID, base)
	if err := m.db.tx.AddTerm(ctx, m.DocID, prefix.Find("file-direntry").Prefix, direntry); err != nil {
		return wrap(EngineException, err)
	}
	return m.sync(ctx)
}

// RemoveFilename drops filename from m's set of known locations, if
// present. It never deletes m: removing the last filename leaves the
// document in place with no file-direntry terms, where RemoveMessage
// (which locates documents by file-direntry) no longer finds it.
func (m *Message) RemoveFilename(ctx context.Context, filename string) error {
	if !m.db.writable {
		return status(ReadOnly)
	}
	relative, ok := path.Relative(m.db.root, filename)
	if !ok {
		return wrap(FileError, fmt.Errorf("filename %q is not under database root %q", filename, m.db.root))
	}
	dirRel, base := path.Split(relative)
	dir, found, err := m.db.findDirectory(ctx, dirRel)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	direntry := fmt.Sprintf("%d:%s", dir.DocID, base)
	if err := m.db.tx.RemoveTerm(ctx, m.DocID, prefix.Find("file-direntry").Prefix, direntry); err != nil {
		return wrap(EngineException, err)
	}
	return m.sync(ctx)
}

func splitDirentry(entry string) (dirDocID int64, base string, err error) {
	idx := strings.IndexByte(entry, ':')
	if idx < 0 {
		return 0, "", fmt.Errorf("malformed direntry %q", entry)
	}
	id, err := strconv.ParseInt(entry[:idx], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed direntry %q: %w", entry, err)
	}
	return id, entry[idx+1:], nil
}
