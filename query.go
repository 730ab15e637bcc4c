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
	"strings"
	"time"

	"github.com/matta/notmuchgo/internal/prefix"
	"github.com/matta/notmuchgo/internal/store"
)

// SortOrder selects how search results are ordered (spec.md §4.7).
type SortOrder int

const (
	// OldestFirst orders by slot TIMESTAMP ascending.
	OldestFirst SortOrder = iota
	// NewestFirst orders by slot TIMESTAMP descending.
	NewestFirst
	// MessageIDOrder orders lexicographically by slot MESSAGE_ID.
	MessageIDOrder
	Unsorted
)

func (s SortOrder) storeOrder() *store.Order {
	switch s {
	case OldestFirst:
		return &store.Order{Slot: SlotTimestamp, Descending: false}
	case NewestFirst:
		return &store.Order{Slot: SlotTimestamp, Descending: true}
	case MessageIDOrder:
		return &store.Order{Slot: SlotMessageID, Descending: false}
	default:
		return nil
	}
}

// ThreadSummary is one group yielded by SearchThreads: every matched
// message sharing a thread= term, folded into display summary fields
// (spec.md §4.7).
type ThreadSummary struct {
	ThreadID string
	Authors  string // From headers of matched messages, comma-joined in result order
	Subject  string // Subject of the first matched message in result order
	Matched  int    // messages in this thread satisfying the query
	Total    int    // messages in this thread overall
	MinDate  int64  // minimum slot TIMESTAMP among matched messages
	MaxDate  int64  // maximum slot TIMESTAMP among matched messages
}

// parseQuery translates a textual field:value query (spec.md §4.7)
// into the boolean-AND clauses store.Search understands. The empty
// string and "*" both mean "every mail document." Bare words with no
// field prefix are tokenised and matched against the body field,
// mirroring the underlying engine's default unprefixed-term behavior.
func (d *DB) parseQuery(q string, now time.Time) ([]store.TermClause, []store.RangeClause, error) {
	terms := []store.TermClause{{Prefix: prefix.Find("type").Prefix, Value: "mail"}}
	var ranges []store.RangeClause

	q = strings.TrimSpace(q)
	if q == "" || q == "*" {
		return terms, ranges, nil
	}

	for _, token := range strings.Fields(q) {
		field, value, hasField := strings.Cut(token, ":")
		if !hasField {
			for _, t := range tokenize(token) {
				terms = append(terms, store.TermClause{Prefix: prefix.Find("body").Prefix, Value: t})
			}
			continue
		}

		if field == "date" {
			begin, end, ok := strings.Cut(value, "..")
			if !ok {
				return nil, nil, fmt.Errorf("notmuchgo: malformed date range %q: want begin..end", value)
			}
			min, max, err := d.DateRange(begin, end, now)
			if err != nil {
				return nil, nil, err
			}
			ranges = append(ranges, store.RangeClause{
				Slot: SlotTimestamp,
				Min:  store.EncodeTimestamp(min),
				Max:  store.EncodeTimestamp(max),
			})
			continue
		}

		if !prefix.External(field) {
			return nil, nil, fmt.Errorf("notmuchgo: unrecognized query field %q", field)
		}
		f := prefix.Find(field)
		switch f.Kind {
		case prefix.BooleanExternal:
			terms = append(terms, store.TermClause{Prefix: f.Prefix, Value: value})
		case prefix.Probabilistic:
			for _, t := range tokenize(value) {
				terms = append(terms, store.TermClause{Prefix: f.Prefix, Value: t})
			}
		default:
			return nil, nil, fmt.Errorf("notmuchgo: unrecognized query field %q", field)
		}
	}

	return terms, ranges, nil
}

// searchMessageDocIDs resolves q to the ordered list of mail document
// ids it matches.
func (d *DB) searchMessageDocIDs(ctx context.Context, q string, sort SortOrder, now time.Time) ([]int64, error) {
	terms, ranges, err := d.parseQuery(q, now)
	if err != nil {
		return nil, err
	}
	ids, err := d.tx.Search(ctx, terms, ranges, sort.storeOrder())
	if err != nil {
		return nil, wrap(EngineException, err)
	}
	return ids, nil
}

// SearchMessages returns every mail document matching q, in sort
// order (spec.md §4.7).
func (d *DB) SearchMessages(ctx context.Context, q string, sort SortOrder, now time.Time) ([]*Message, error) {
	ids, err := d.searchMessageDocIDs(ctx, q, sort, now)
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		m, err := d.hydrateMessage(ctx, id, "")
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// SearchThreads groups q's matching messages by their thread= term,
// yielding one ThreadSummary per distinct thread in the order its
// first matching message appears under sort (spec.md §4.7).
func (d *DB) SearchThreads(ctx context.Context, q string, sort SortOrder, now time.Time) ([]*ThreadSummary, error) {
	ids, err := d.searchMessageDocIDs(ctx, q, sort, now)
	if err != nil {
		return nil, err
	}

	var order []string
	byThread := map[string]*ThreadSummary{}
	for _, id := range ids {
		m, err := d.hydrateMessage(ctx, id, "")
		if err != nil {
			return nil, err
		}
		ts, ok := byThread[m.ThreadID]
		if !ok {
			ts = &ThreadSummary{ThreadID: m.ThreadID}
			order = append(order, m.ThreadID)
			byThread[m.ThreadID] = ts
		}

		date, err := m.Date(ctx)
		if err != nil {
			return nil, err
		}
		if ts.Matched == 0 || date < ts.MinDate {
			ts.MinDate = date
		}
		if date > ts.MaxDate {
			ts.MaxDate = date
		}
		if ts.Matched == 0 {
			subject, err := m.GetHeader(ctx, "Subject")
			if err != nil {
				return nil, err
			}
			ts.Subject = subject
		}
		from, err := m.GetHeader(ctx, "From")
		if err != nil {
			return nil, err
		}
		if from != "" {
			if ts.Authors == "" {
				ts.Authors = from
			} else {
				ts.Authors = ts.Authors + ", " + from
			}
		}
		ts.Matched++
	}

	out := make([]*ThreadSummary, 0, len(order))
	for _, tid := range order {
		ts := byThread[tid]
		all, err := d.tx.PostingList(ctx, prefix.Find("thread").Prefix, tid)
		if err != nil {
			return nil, wrap(EngineException, err)
		}
		ts.Total = len(all)
		out = append(out, ts)
	}
	return out, nil
}
