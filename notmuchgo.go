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
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/matta/notmuchgo/internal/prefix"
	"github.com/matta/notmuchgo/internal/store"
)

// Value slot assignments (spec.md §6.3).
const (
	SlotTimestamp = 0
	SlotMessageID = 1
)

// CurrentSchemaVersion is the schema version this code reads and
// writes (spec.md §6.5).
const CurrentSchemaVersion = 1

// MaxTermLen and MaxTagLen are the hard length bounds of spec.md §6.5.
const (
	MaxTermLen = 245
	MaxTagLen  = 200
)

const indexSubdir = ".notmuch"
const indexFile = "index.db"

// DB is a handle onto one mail corpus's index. It owns every
// Message, Directory, and query result derived from it; there is no
// need to release those individually.
type DB struct {
	store    *store.DB
	tx       *store.Tx
	root     string
	writable bool
}

func indexPath(root string) string {
	return filepath.Join(root, indexSubdir, indexFile)
}

// Create initializes a new, empty index rooted at root, creating the
// .notmuch directory if it does not already exist.
func Create(ctx context.Context, root string) (*DB, error) {
	if err := os.MkdirAll(filepath.Join(root, indexSubdir), 0o755); err != nil {
		return nil, wrap(FileError, err)
	}
	sdb, err := store.Open(ctx, indexPath(root), true)
	if err != nil {
		return nil, storeOpenErr(err)
	}

	tx, err := sdb.Begin(ctx)
	if err != nil {
		sdb.Close()
		return nil, wrap(EngineException, err)
	}
	_, ok, err := tx.GetMetadata(ctx, "version")
	if err != nil {
		tx.Rollback()
		sdb.Close()
		return nil, wrap(EngineException, err)
	}
	if !ok {
		if err := tx.SetMetadata(ctx, "version", strconv.Itoa(CurrentSchemaVersion)); err != nil {
			tx.Rollback()
			sdb.Close()
			return nil, wrap(EngineException, err)
		}
		if err := tx.SetMetadata(ctx, "last_thread_id", "0000000000000000"); err != nil {
			tx.Rollback()
			sdb.Close()
			return nil, wrap(EngineException, err)
		}
	}
	if err := tx.Commit(); err != nil {
		sdb.Close()
		return nil, wrap(EngineException, err)
	}
	sdb.Close()

	return Open(ctx, root, true)
}

// Open opens an existing index rooted at root. If writable is true
// and a writable handle to this path is already open elsewhere in
// this process, Open fails with Status{Code: ReadOnly}.
func Open(ctx context.Context, root string, writable bool) (*DB, error) {
	sdb, err := store.Open(ctx, indexPath(root), writable)
	if err != nil {
		return nil, storeOpenErr(err)
	}

	tx, err := sdb.Begin(ctx)
	if err != nil {
		sdb.Close()
		return nil, wrap(EngineException, err)
	}
	db := &DB{store: sdb, tx: tx, root: root, writable: writable}

	version, err := db.readVersion(ctx)
	if err != nil {
		db.tx.Rollback()
		sdb.Close()
		return nil, err
	}
	if version > CurrentSchemaVersion {
		if writable {
			db.tx.Rollback()
			sdb.Close()
			return nil, wrap(EngineException, fmt.Errorf(
				"database schema version %d is newer than the %d this code understands", version, CurrentSchemaVersion))
		}
		log.Printf("notmuchgo: warning: opening database %q read-only at schema version %d (newer than %d)",
			root, version, CurrentSchemaVersion)
	}
	return db, nil
}

func storeOpenErr(err error) error {
	if errors.Cause(err) == store.ErrWriteLocked || err == store.ErrWriteLocked {
		return wrap(ReadOnly, err)
	}
	return wrap(EngineException, err)
}

func (d *DB) readVersion(ctx context.Context) (int, error) {
	raw, ok, err := d.tx.GetMetadata(ctx, "version")
	if err != nil {
		return 0, wrap(EngineException, err)
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, wrap(EngineException, errors.Wrapf(err, "malformed version metadata %q", raw))
	}
	return v, nil
}

// Version returns the schema version currently recorded in the
// index.
func (d *DB) Version(ctx context.Context) (int, error) {
	return d.readVersion(ctx)
}

// NeedsUpgrade reports whether Upgrade must be called before any
// write (spec.md §4.9).
func (d *DB) NeedsUpgrade(ctx context.Context) (bool, error) {
	v, err := d.readVersion(ctx)
	if err != nil {
		return false, err
	}
	return v < CurrentSchemaVersion, nil
}

// Root returns the mail root directory this index covers.
func (d *DB) Root() string { return d.root }

// Writable reports whether this handle was opened for writing.
func (d *DB) Writable() bool { return d.writable }

// Flush commits all writes made through this handle so far and
// begins a fresh transaction. Readers opening the database via a
// different handle observe only flushed state (spec.md §5).
func (d *DB) Flush(ctx context.Context) error {
	if err := d.tx.Commit(); err != nil {
		return wrap(EngineException, err)
	}
	tx, err := d.store.Begin(ctx)
	if err != nil {
		return wrap(EngineException, err)
	}
	d.tx = tx
	return nil
}

// Close flushes pending writes and releases the underlying index
// handle, including this process's single-writer guard if held.
func (d *DB) Close(ctx context.Context) error {
	commitErr := d.tx.Commit()
	closeErr := d.store.Close()
	if commitErr != nil {
		return wrap(EngineException, commitErr)
	}
	if closeErr != nil {
		return wrap(EngineException, closeErr)
	}
	return nil
}

// NextThreadID allocates and persists a fresh 16-hex-digit thread
// identifier, advancing the database-metadata counter last_thread_id
// (spec.md §3, §5).
func (d *DB) NextThreadID(ctx context.Context) (string, error) {
	raw, ok, err := d.tx.GetMetadata(ctx, "last_thread_id")
	if err != nil {
		return "", wrap(EngineException, err)
	}
	var counter uint64
	if ok {
		counter, err = strconv.ParseUint(raw, 16, 64)
		if err != nil {
			return "", wrap(EngineException, errors.Wrapf(err, "malformed last_thread_id %q", raw))
		}
	}
	counter++
	encoded := fmt.Sprintf("%016x", counter)
	if err := d.tx.SetMetadata(ctx, "last_thread_id", encoded); err != nil {
		return "", wrap(EngineException, err)
	}
	return encoded, nil
}

// findUniqueDoc looks up the (at most one, by invariant) document
// carrying fieldName=value, resolving fieldName to its opaque term
// prefix via the prefix registry.
func (d *DB) findUniqueDoc(ctx context.Context, fieldName, value string) (int64, bool, error) {
	docID, ok, err := d.tx.FindUniqueDocID(ctx, prefix.Find(fieldName).Prefix, value)
	if err != nil {
		return 0, false, wrap(EngineException, err)
	}
	return docID, ok, nil
}
