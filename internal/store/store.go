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

// Package store implements the term/posting-list/value-slot substrate
// that spec.md §6.1 assumes as a pre-existing "underlying index
// engine." No Go binding for such an engine (Xapian or otherwise)
// appears anywhere in the reference corpus, so this package builds
// one directly atop SQLite, following the same DB/Tx shape, DSN
// construction, and busy-timeout handling that the teacher's own
// bookkeeping database used -- just retargeted from "GMail message
// bookkeeping" onto "generic term index."
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	_ "github.com/mattn/go-sqlite3"
)

var createTableSQL = []string{
	// documents holds one row per indexed entity (mail or
	// directory). data is the entity's opaque data blob (empty for
	// mail documents; the relative directory path for directory
	// documents).
	`
CREATE TABLE IF NOT EXISTS documents (
doc_id INTEGER PRIMARY KEY AUTOINCREMENT,
data BLOB NOT NULL DEFAULT ''
);`,
	// terms is the posting-list substrate: every (prefix, value)
	// pair maps to the set of documents carrying that term. Used
	// for both singleton boolean terms (id=, thread=, directory=)
	// and multi-valued ones (tag=, reference=, file-direntry=) as
	// well as the tokenised probabilistic fields (from=, to=,
	// subject=, attachment=, body).
	`
CREATE TABLE IF NOT EXISTS terms (
prefix TEXT NOT NULL,
value TEXT NOT NULL,
doc_id INTEGER NOT NULL REFERENCES documents (doc_id),
PRIMARY KEY (prefix, value, doc_id)
);`,
	`CREATE INDEX IF NOT EXISTS terms_doc_idx ON terms (doc_id);`,
	// docvalues is the per-document sortable-value-slot substrate
	// (spec.md's TIMESTAMP and MESSAGE_ID slots).
	`
CREATE TABLE IF NOT EXISTS docvalues (
doc_id INTEGER NOT NULL REFERENCES documents (doc_id),
slot INTEGER NOT NULL,
val BLOB NOT NULL,
PRIMARY KEY (doc_id, slot)
);`,
	// metadata holds small persistent key/value state: schema
	// "version" and "last_thread_id".
	`
CREATE TABLE IF NOT EXISTS metadata (
key TEXT PRIMARY KEY,
value TEXT NOT NULL
);`,
}

// ErrWriteLocked is returned by Open when a writable handle to the
// same database path is already open elsewhere in this process. The
// database is a single-writer resource (spec.md §5); this is a
// best-effort, in-process guard, not a cross-process lock.
var ErrWriteLocked = errors.New("store: database already open for writing in this process")

var (
	writeLocksMu sync.Mutex
	writeLocks   = map[string]*semaphore.Weighted{}
)

func acquireWriteLock(path string) (*semaphore.Weighted, error) {
	writeLocksMu.Lock()
	sem, ok := writeLocks[path]
	if !ok {
		sem = semaphore.NewWeighted(1)
		writeLocks[path] = sem
	}
	writeLocksMu.Unlock()

	if !sem.TryAcquire(1) {
		return nil, ErrWriteLocked
	}
	return sem, nil
}

// DB is a handle onto the term index for one database path.
type DB struct {
	db       *sql.DB
	path     string
	writable bool
	sem      *semaphore.Weighted

	warnedOnce sync.Once
}

// Tx is a single read-write transaction against a DB.
type Tx struct {
	tx *sql.Tx
	db *DB
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Open opens (creating if necessary) the term index at path. When
// writable is true, the call acquires this process's single-writer
// guard for path and fails with ErrWriteLocked if another writable
// handle to the same path is already open.
func Open(ctx context.Context, path string, writable bool) (*DB, error) {
	var sem *semaphore.Weighted
	if writable {
		var err error
		sem, err = acquireWriteLock(path)
		if err != nil {
			return nil, err
		}
	}

	busyTimeout := int(5*time.Minute) / int(time.Millisecond)
	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)},
	})
	if err != nil {
		releaseIfHeld(sem)
		return nil, errors.Wrapf(err, "store.Open(%q): could not form a DSN", path)
	}

	log.Printf("store: opening index at %q (writable=%v)", dsn, writable)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		releaseIfHeld(sem)
		return nil, errors.Wrapf(err, "store.Open(%q): could not open %q", path, dsn)
	}

	if writable {
		if err := initSchema(ctx, db); err != nil {
			db.Close()
			releaseIfHeld(sem)
			return nil, errors.Wrapf(err, "store.Open(%q): could not initialize schema", path)
		}
	}

	return &DB{db: db, path: path, writable: writable, sem: sem}, nil
}

func releaseIfHeld(sem *semaphore.Weighted) {
	if sem != nil {
		sem.Release(1)
	}
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range createTableSQL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "while executing %q", stmt)
		}
	}
	return nil
}

// Close releases the underlying database handle and, if this handle
// was opened writable, the in-process write guard.
func (d *DB) Close() error {
	releaseIfHeld(d.sem)
	d.sem = nil
	return d.db.Close()
}

// Writable reports whether this handle was opened for writing.
func (d *DB) Writable() bool {
	return d.writable
}

// Path returns the path this handle was opened with.
func (d *DB) Path() string {
	return d.path
}

// WarnEngineExceptionOnce logs err to stderr the first time it is
// called for this handle, and is a silent no-op on every subsequent
// call. Nothing in this module calls it: EngineException statuses are
// returned to the caller without being logged.
func (d *DB) WarnEngineExceptionOnce(err error) {
	d.warnedOnce.Do(func() {
		log.Printf("notmuchgo: engine exception: %v", err)
	})
}

// Begin starts a new transaction.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "store: begin transaction failed")
	}
	return &Tx{tx: tx, db: d}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return errors.Wrap(err, "store: commit failed")
	}
	return nil
}

// Rollback aborts the transaction. Calling Rollback after a
// successful Commit is a documented no-op (database/sql returns
// sql.ErrTxDone, which this method swallows).
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return errors.Wrap(err, "store: rollback failed")
	}
	return nil
}

// CreateDocument inserts a new, empty document and returns its id.
func (t *Tx) CreateDocument(ctx context.Context) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO documents (data) VALUES ('')`)
	if err != nil {
		return 0, errors.Wrap(err, "store: create document failed")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "store: create document: last insert id")
	}
	return id, nil
}

// DeleteDocument removes a document and all of its terms and values.
func (t *Tx) DeleteDocument(ctx context.Context, docID int64) error {
	stmts := []string{
		`DELETE FROM terms WHERE doc_id = ?`,
		`DELETE FROM docvalues WHERE doc_id = ?`,
		`DELETE FROM documents WHERE doc_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := t.tx.ExecContext(ctx, stmt, docID); err != nil {
			return errors.Wrapf(err, "store: delete document %d failed", docID)
		}
	}
	return nil
}

// GetData returns a document's data blob.
func (t *Tx) GetData(ctx context.Context, docID int64) ([]byte, error) {
	var data []byte
	row := t.tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE doc_id = ?`, docID)
	if err := row.Scan(&data); err != nil {
		return nil, errors.Wrapf(err, "store: get data for document %d failed", docID)
	}
	return data, nil
}

// SetData replaces a document's data blob.
func (t *Tx) SetData(ctx context.Context, docID int64, data []byte) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE documents SET data = ? WHERE doc_id = ?`, data, docID)
	if err != nil {
		return errors.Wrapf(err, "store: set data for document %d failed", docID)
	}
	return nil
}

// AddTerm associates (prefix, value) with docID. Idempotent.
func (t *Tx) AddTerm(ctx context.Context, docID int64, prefix, value string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO terms (prefix, value, doc_id) VALUES (?, ?, ?)`,
		prefix, value, docID)
	if err != nil {
		return errors.Wrapf(err, "store: add term %s=%s to document %d failed", prefix, value, docID)
	}
	return nil
}

// RemoveTerm disassociates (prefix, value) from docID. Idempotent.
func (t *Tx) RemoveTerm(ctx context.Context, docID int64, prefix, value string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM terms WHERE prefix = ? AND value = ? AND doc_id = ?`,
		prefix, value, docID)
	if err != nil {
		return errors.Wrapf(err, "store: remove term %s=%s from document %d failed", prefix, value, docID)
	}
	return nil
}

// RemoveTermsWithPrefix removes every term of the given prefix from
// docID (used by remove_all_tags).
func (t *Tx) RemoveTermsWithPrefix(ctx context.Context, docID int64, prefix string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM terms WHERE prefix = ? AND doc_id = ?`, prefix, docID)
	if err != nil {
		return errors.Wrapf(err, "store: remove terms with prefix %s from document %d failed", prefix, docID)
	}
	return nil
}

// TermValue returns the single value stored for (docID, prefix),
// suitable for singleton boolean terms such as id=, thread=,
// replyto=, directory=.
func (t *Tx) TermValue(ctx context.Context, docID int64, prefix string) (string, bool, error) {
	var value string
	row := t.tx.QueryRowContext(ctx,
		`SELECT value FROM terms WHERE prefix = ? AND doc_id = ? LIMIT 1`, prefix, docID)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "store: get term value %s for document %d failed", prefix, docID)
	}
	return value, true, nil
}

// TermValues returns every value stored for (docID, prefix), in
// lexicographic order, suitable for multi-valued terms such as tag=
// and reference=.
func (t *Tx) TermValues(ctx context.Context, docID int64, prefix string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT value FROM terms WHERE prefix = ? AND doc_id = ? ORDER BY value`, prefix, docID)
	if err != nil {
		return nil, errors.Wrapf(err, "store: get term values %s for document %d failed", prefix, docID)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "store: scan term value failed")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// FindUniqueDocID finds the (at most one, by invariant) document
// carrying term (prefix, value).
func (t *Tx) FindUniqueDocID(ctx context.Context, prefix, value string) (int64, bool, error) {
	var docID int64
	row := t.tx.QueryRowContext(ctx,
		`SELECT doc_id FROM terms WHERE prefix = ? AND value = ? LIMIT 1`, prefix, value)
	if err := row.Scan(&docID); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, errors.Wrapf(err, "store: find unique document for %s=%s failed", prefix, value)
	}
	return docID, true, nil
}

// PostingList returns every document id carrying term (prefix,
// value), in ascending doc_id order.
func (t *Tx) PostingList(ctx context.Context, prefix, value string) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT doc_id FROM terms WHERE prefix = ? AND value = ? ORDER BY doc_id`, prefix, value)
	if err != nil {
		return nil, errors.Wrapf(err, "store: posting list for %s=%s failed", prefix, value)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "store: scan posting list failed")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// TermsWithValuePrefix returns every distinct value stored under
// prefix whose value itself begins with valuePrefix, in
// lexicographic order. Used to enumerate file-direntry=<dirID>: and
// directory-direntry=<dirID>: children.
func (t *Tx) TermsWithValuePrefix(ctx context.Context, prefix, valuePrefix string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT DISTINCT value FROM terms WHERE prefix = ? AND value >= ? AND value < ? ORDER BY value`,
		prefix, valuePrefix, upperBound(valuePrefix))
	if err != nil {
		return nil, errors.Wrapf(err, "store: terms with prefix %s value-prefix %s failed", prefix, valuePrefix)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "store: scan term failed")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Posting is one (doc_id, value) pair under a term prefix.
type Posting struct {
	DocID int64
	Value string
}

// AllTermsWithPrefix returns every (doc_id, value) pair stored under
// prefix, regardless of value, in doc_id order. Used by schema
// upgrades to enumerate documents carrying a retired legacy prefix
// that the current registry no longer assigns to any field.
func (t *Tx) AllTermsWithPrefix(ctx context.Context, prefix string) ([]Posting, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT doc_id, value FROM terms WHERE prefix = ? ORDER BY doc_id`, prefix)
	if err != nil {
		return nil, errors.Wrapf(err, "store: all terms with prefix %s failed", prefix)
	}
	defer rows.Close()

	var out []Posting
	for rows.Next() {
		var p Posting
		if err := rows.Scan(&p.DocID, &p.Value); err != nil {
			return nil, errors.Wrap(err, "store: scan posting failed")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// upperBound returns the smallest string that is lexicographically
// greater than every string beginning with prefix, for use as an
// exclusive range bound.
func upperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	// prefix was all 0xff bytes (practically unreachable for our
	// callers); fall back to a value nothing can be less than.
	return string(append(b, 0xff))
}

// SetValue upserts the sortable value slot for docID.
func (t *Tx) SetValue(ctx context.Context, docID int64, slot int, val []byte) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO docvalues (doc_id, slot, val) VALUES (?, ?, ?)
		 ON CONFLICT (doc_id, slot) DO UPDATE SET val = excluded.val`,
		docID, slot, val)
	if err != nil {
		return errors.Wrapf(err, "store: set value slot %d for document %d failed", slot, docID)
	}
	return nil
}

// GetValue reads the sortable value slot for docID.
func (t *Tx) GetValue(ctx context.Context, docID int64, slot int) ([]byte, bool, error) {
	var val []byte
	row := t.tx.QueryRowContext(ctx,
		`SELECT val FROM docvalues WHERE doc_id = ? AND slot = ?`, docID, slot)
	if err := row.Scan(&val); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "store: get value slot %d for document %d failed", slot, docID)
	}
	return val, true, nil
}

// GetMetadata reads a metadata key.
func (t *Tx) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	var value string
	row := t.tx.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "store: get metadata %q failed", key)
	}
	return value, true, nil
}

// SetMetadata upserts a metadata key.
func (t *Tx) SetMetadata(ctx context.Context, key, value string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return errors.Wrapf(err, "store: set metadata %q failed", key)
	}
	return nil
}

// TermClause matches documents carrying the boolean (or tokenised
// probabilistic) term (Prefix, Value).
type TermClause struct {
	Prefix string
	Value  string
}

// RangeClause matches documents whose value slot falls within
// [Min, Max) (half-open, per spec.md's date-range semantics).
type RangeClause struct {
	Slot int
	Min  []byte
	Max  []byte
}

// Order requests the result of Search be sorted by a value slot.
type Order struct {
	Slot       int
	Descending bool
}

// Search returns the document ids satisfying every TermClause and
// RangeClause (implicit AND), optionally sorted by a value slot. With
// no Order, results come back in ascending doc_id order (the
// substrate's only notion of "natural" order, since it performs no
// relevance ranking of its own -- see DESIGN.md).
func (t *Tx) Search(ctx context.Context, terms []TermClause, ranges []RangeClause, order *Order) ([]int64, error) {
	if len(terms) == 0 && len(ranges) == 0 {
		return nil, errors.New("store: Search requires at least one clause")
	}

	var parts []string
	var args []interface{}

	for _, c := range terms {
		parts = append(parts, `SELECT doc_id FROM terms WHERE prefix = ? AND value = ?`)
		args = append(args, c.Prefix, c.Value)
	}
	for _, r := range ranges {
		parts = append(parts, `SELECT doc_id FROM docvalues WHERE slot = ? AND val >= ? AND val < ?`)
		args = append(args, r.Slot, r.Min, r.Max)
	}

	inner := strings.Join(parts, " INTERSECT ")

	query := `SELECT doc_id FROM (` + inner + `) AS matched`
	if order != nil {
		query = `SELECT matched.doc_id FROM (` + inner + `) AS matched
			LEFT JOIN docvalues v ON v.doc_id = matched.doc_id AND v.slot = ?`
		args = append(args, order.Slot)
		if order.Descending {
			query += ` ORDER BY v.val DESC, matched.doc_id DESC`
		} else {
			query += ` ORDER BY v.val ASC, matched.doc_id ASC`
		}
	} else {
		query += ` ORDER BY doc_id ASC`
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "store: search query failed")
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "store: scan search result failed")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
