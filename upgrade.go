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
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/matta/notmuchgo/internal/path"
	"github.com/matta/notmuchgo/internal/prefix"
)

// legacyTimestampPrefix is the retired term prefix a v0 database used
// to record a directory's mtime directly on a synthetic document,
// before directories got their own slot TIMESTAMP. It is deliberately
// absent from internal/prefix's registry: nothing written after v0
// ever produces it again.
const legacyTimestampPrefix = "XTIMESTAMP"

// ProgressFunc is invoked roughly once a second while Upgrade runs,
// with fraction in [0,1] (spec.md §4.9).
type ProgressFunc func(fraction float64)

// Upgrade migrates the database forward to CurrentSchemaVersion. It
// is a no-op if the database is already current, and fails with
// Status{Code: ReadOnly} if the handle was not opened writable. If
// progress is non-nil it is called at most once a second with the
// fraction of migration work completed so far while the passes run,
// and once more with 1.0 when they have all completed.
func (d *DB) Upgrade(ctx context.Context, progress ProgressFunc) error {
	if !d.writable {
		return status(ReadOnly)
	}
	version, err := d.readVersion(ctx)
	if err != nil {
		return err
	}
	if version >= CurrentSchemaVersion {
		return nil
	}

	var ticker *rate.Sometimes
	if progress != nil {
		ticker = &rate.Sometimes{Interval: time.Second}
	}

	log.Printf("notmuchgo: upgrading database %q from schema version %d to %d", d.root, version, CurrentSchemaVersion)

	mailDocs, err := d.tx.AllTermsWithPrefix(ctx, prefix.Find("id").Prefix)
	if err != nil {
		return wrap(EngineException, err)
	}
	legacyTimestamps, err := d.tx.AllTermsWithPrefix(ctx, legacyTimestampPrefix)
	if err != nil {
		return wrap(EngineException, err)
	}

	total := len(mailDocs) + len(legacyTimestamps) + len(mailDocs) + len(legacyTimestamps)
	var done int
	tick := func() {
		done++
		if ticker != nil {
			ticker.Do(func() { progress(float64(done) / float64(total)) })
		}
	}

	// Step 1: for every mail document whose legacy filename sits in
	// the data blob (no file-direntry term yet, non-empty data),
	// interpret the blob as a path relative to the database root and
	// add the equivalent file-direntry term.
	for _, p := range mailDocs {
		existing, err := d.tx.TermValues(ctx, p.DocID, prefix.Find("file-direntry").Prefix)
		if err != nil {
			return wrap(EngineException, err)
		}
		if len(existing) == 0 {
			data, err := d.tx.GetData(ctx, p.DocID)
			if err != nil {
				return wrap(EngineException, err)
			}
			if len(data) > 0 {
				dirRel, base := path.Split(string(data))
				dir, err := d.getDirectoryRelative(ctx, dirRel)
				if err != nil {
					return err
				}
				direntry := fmt.Sprintf("%d:%s", dir.DocID, base)
				if err := d.tx.AddTerm(ctx, p.DocID, prefix.Find("file-direntry").Prefix, direntry); err != nil {
					return wrap(EngineException, err)
				}
			}
		}
		tick()
	}

	// Step 2: for every legacy XTIMESTAMP:<path> directory-like term,
	// copy its slot TIMESTAMP into the directory document's own slot
	// TIMESTAMP.
	for _, p := range legacyTimestamps {
		val, ok, err := d.tx.GetValue(ctx, p.DocID, SlotTimestamp)
		if err != nil {
			return wrap(EngineException, err)
		}
		if ok {
			dir, found, err := d.findDirectory(ctx, p.Value)
			if err != nil {
				return err
			}
			if found {
				if err := d.tx.SetValue(ctx, dir.DocID, SlotTimestamp, val); err != nil {
					return wrap(EngineException, err)
				}
			}
		}
		tick()
	}

	// Step 3: erase the now-redundant data blobs from all mail
	// documents.
	for _, p := range mailDocs {
		if err := d.tx.SetData(ctx, p.DocID, []byte{}); err != nil {
			return wrap(EngineException, err)
		}
		tick()
	}

	// Step 4: delete all legacy XTIMESTAMP documents.
	seen := map[int64]bool{}
	for _, p := range legacyTimestamps {
		if !seen[p.DocID] {
			seen[p.DocID] = true
			if err := d.tx.DeleteDocument(ctx, p.DocID); err != nil {
				return wrap(EngineException, err)
			}
		}
		tick()
	}

	// Step 5: only once every cleanup pass above has completed does
	// this write version=CurrentSchemaVersion. Steps 1-4 are each
	// idempotent (guarded on the legacy state they clean up still
	// being present), so a crash at any point before this write simply
	// means the next Upgrade call redoes whatever was left unfinished
	// instead of silently skipping it, as it would if the version bump
	// happened first and NeedsUpgrade turned false before cleanup
	// actually finished.
	if err := d.tx.SetMetadata(ctx, "version", strconv.Itoa(CurrentSchemaVersion)); err != nil {
		return wrap(EngineException, err)
	}

	if progress != nil {
		progress(1.0)
	}

	return d.Flush(ctx)
}
