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

	"github.com/matta/notmuchgo/internal/messageid"
	"github.com/matta/notmuchgo/internal/prefix"
)

// resolveThread implements spec.md §4.5's two-directional thread
// linking for the mail document docID/mid being ingested, returning
// the thread id it should be assigned (freshly allocated if linking
// found none). It must be called before docID's own thread= term is
// written, so that any merge triggered along the way never mistakes
// docID for a member of the thread it is still joining.
func (d *DB) resolveThread(ctx context.Context, docID int64, mid string, referencesHeader, inReplyToHeader string) (string, error) {
	var threadID string

	parents := messageid.References(referencesHeader, mid)

	// In-Reply-To can itself name more than one identifier; run it
	// through the same multi-id grammar as References and fold every
	// candidate it yields into the parent set, not just the first.
	inReplyTo := messageid.References(inReplyToHeader, mid)

	var replyTo string
	if len(inReplyTo) > 0 {
		replyTo = inReplyTo[0]
	}
	for _, id := range inReplyTo {
		present := false
		for _, p := range parents {
			if p == id {
				present = true
				break
			}
		}
		if !present {
			parents = append(parents, id)
		}
	}
	if replyTo != "" {
		if err := d.tx.AddTerm(ctx, docID, prefix.Find("replyto").Prefix, replyTo); err != nil {
			return "", wrap(EngineException, err)
		}
	}

	// Step 1: link to parents.
	for _, p := range parents {
		parentDocID, ok, err := d.findUniqueDoc(ctx, "id", p)
		if err != nil {
			return "", err
		}
		if !ok {
			if err := d.tx.AddTerm(ctx, docID, prefix.Find("reference").Prefix, p); err != nil {
				return "", wrap(EngineException, err)
			}
			continue
		}
		tid, _, err := d.tx.TermValue(ctx, parentDocID, prefix.Find("thread").Prefix)
		if err != nil {
			return "", wrap(EngineException, err)
		}
		if threadID == "" {
			threadID = tid
		} else if tid != threadID {
			if err := d.mergeThreads(ctx, threadID, tid); err != nil {
				return "", err
			}
		}
	}

	// Step 2: link to children (mail documents that referenced mid
	// before mid itself was ingested).
	children, err := d.tx.PostingList(ctx, prefix.Find("reference").Prefix, mid)
	if err != nil {
		return "", wrap(EngineException, err)
	}
	for _, x := range children {
		tidX, _, err := d.tx.TermValue(ctx, x, prefix.Find("thread").Prefix)
		if err != nil {
			return "", wrap(EngineException, err)
		}
		if threadID == "" {
			threadID = tidX
			continue
		}
		if tidX == threadID {
			continue
		}
		if err := d.tx.RemoveTerm(ctx, x, prefix.Find("reference").Prefix, mid); err != nil {
			return "", wrap(EngineException, err)
		}
		if err := d.Flush(ctx); err != nil {
			return "", err
		}
		if err := d.mergeThreads(ctx, threadID, tidX); err != nil {
			return "", err
		}
	}

	// Step 3: allocate, if linking found nothing.
	if threadID == "" {
		tid, err := d.NextThreadID(ctx)
		if err != nil {
			return "", err
		}
		threadID = tid
	}

	return threadID, nil
}

// mergeThreads folds every mail document currently in loser's thread
// into winner. The merge is one-directional: loser ceases to exist as
// a live thread, and no record of the merge is kept (spec.md §4.5).
func (d *DB) mergeThreads(ctx context.Context, winner, loser string) error {
	if winner == loser {
		return nil
	}
	docIDs, err := d.tx.PostingList(ctx, prefix.Find("thread").Prefix, loser)
	if err != nil {
		return wrap(EngineException, err)
	}
	for _, id := range docIDs {
		if err := d.tx.RemoveTerm(ctx, id, prefix.Find("thread").Prefix, loser); err != nil {
			return wrap(EngineException, err)
		}
		if err := d.tx.AddTerm(ctx, id, prefix.Find("thread").Prefix, winner); err != nil {
			return wrap(EngineException, err)
		}
	}
	return d.Flush(ctx)
}
