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
	"strconv"
	"strings"

	"github.com/matta/notmuchgo/internal/path"
	"github.com/matta/notmuchgo/internal/prefix"
	"github.com/matta/notmuchgo/internal/store"
)

// Directory represents one filesystem directory under the mail root
// (spec.md §4.3).
type Directory struct {
	db    *DB
	DocID int64
	// Path is the directory's path relative to the database root,
	// taken from the document's data blob (authoritative even when
	// the indexed term itself is a SHA-1 fold).
	Path string
}

// directoryTermValue computes the term value get_directory stores for
// relative: the path itself if it fits under MAX_TERM_LEN alongside
// the directory prefix, else its SHA-1 fold (spec.md §4.3 step 2).
func directoryTermValue(relative string) string {
	value, _ := path.Fold(len(prefix.Find("directory").Prefix), relative)
	return value
}

// GetDirectory resolves p (absolute or already relative to the
// database root) to its Directory document, creating the document
// (and any missing ancestor directory documents) if it does not yet
// exist.
func (d *DB) GetDirectory(ctx context.Context, p string) (*Directory, error) {
	relative, ok := path.Relative(d.root, p)
	if !ok {
		return nil, wrap(FileError, fmt.Errorf("path %q is not under database root %q", p, d.root))
	}
	return d.getDirectoryRelative(ctx, relative)
}

func (d *DB) getDirectoryRelative(ctx context.Context, relative string) (*Directory, error) {
	value := directoryTermValue(relative)
	docID, ok, err := d.findUniqueDoc(ctx, "directory", value)
	if err != nil {
		return nil, err
	}
	if ok {
		return &Directory{db: d, DocID: docID, Path: relative}, nil
	}
	if !d.writable {
		return nil, status(ReadOnly)
	}

	var parentID int64
	var base string
	if relative != "" {
		parentRel, b := path.Split(relative)
		base = b
		parent, err := d.getDirectoryRelative(ctx, parentRel)
		if err != nil {
			return nil, err
		}
		parentID = parent.DocID
	}

	docID, err = d.tx.CreateDocument(ctx)
	if err != nil {
		return nil, wrap(EngineException, err)
	}
	if err := d.tx.AddTerm(ctx, docID, prefix.Find("directory").Prefix, value); err != nil {
		return nil, wrap(EngineException, err)
	}
	if relative != "" {
		direntry := fmt.Sprintf("%d:%s", parentID, base)
		if err := d.tx.AddTerm(ctx, docID, prefix.Find("directory-direntry").Prefix, direntry); err != nil {
			return nil, wrap(EngineException, err)
		}
	}
	if err := d.tx.SetData(ctx, docID, []byte(relative)); err != nil {
		return nil, wrap(EngineException, err)
	}
	if err := d.Flush(ctx); err != nil {
		return nil, err
	}

	return &Directory{db: d, DocID: docID, Path: relative}, nil
}

// findDirectory resolves relative to an existing Directory document
// without creating one, returning ok == false if no such document has
// ever been created.
func (d *DB) findDirectory(ctx context.Context, relative string) (*Directory, bool, error) {
	value := directoryTermValue(relative)
	docID, ok, err := d.findUniqueDoc(ctx, "directory", value)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Directory{db: d, DocID: docID, Path: relative}, true, nil
}

// SetMtime records t (seconds since epoch) as dir's last-known
// modification time.
func (dir *Directory) SetMtime(ctx context.Context, t int64) error {
	if !dir.db.writable {
		return status(ReadOnly)
	}
	if err := dir.db.tx.SetValue(ctx, dir.DocID, SlotTimestamp, store.EncodeTimestamp(t)); err != nil {
		return wrap(EngineException, err)
	}
	return dir.db.Flush(ctx)
}

// Mtime returns dir's last recorded modification time, or 0 if none
// has ever been set (indistinguishable from an mtime of exactly 0).
func (dir *Directory) Mtime(ctx context.Context) (int64, error) {
	val, ok, err := dir.db.tx.GetValue(ctx, dir.DocID, SlotTimestamp)
	if err != nil {
		return 0, wrap(EngineException, err)
	}
	if !ok {
		return 0, nil
	}
	return store.DecodeTimestamp(val), nil
}

// ChildFiles returns the basenames of every file directly within dir,
// in lexicographic order.
func (dir *Directory) ChildFiles(ctx context.Context) ([]string, error) {
	return dir.childBasenames(ctx, "file-direntry")
}

// ChildDirectories returns the basenames of every subdirectory
// directly within dir, in lexicographic order.
func (dir *Directory) ChildDirectories(ctx context.Context) ([]string, error) {
	return dir.childBasenames(ctx, "directory-direntry")
}

func (dir *Directory) childBasenames(ctx context.Context, fieldName string) ([]string, error) {
	valuePrefix := strconv.FormatInt(dir.DocID, 10) + ":"
	terms, err := dir.db.tx.TermsWithValuePrefix(ctx, prefix.Find(fieldName).Prefix, valuePrefix)
	if err != nil {
		return nil, wrap(EngineException, err)
	}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, strings.TrimPrefix(t, valuePrefix))
	}
	return out, nil
}
