// Package prefix holds the compile-time table mapping semantic field
// names to the short, opaque term prefixes used inside the index.
//
// The table mirrors the one documented at the top of notmuch's
// lib/database.cc: a handful of single terms distinguish document
// kind and linkage (internal, never exposed to the query grammar), a
// few more are exposed to users for exact-match lookups (external),
// and the rest are tokenised before indexing (probabilistic). The
// tokeniser does not stem.
package prefix

import "fmt"

// Kind classifies how a field's values are indexed.
type Kind int

const (
	// BooleanInternal fields are used only by the core (never
	// reachable from the user-facing query grammar).
	BooleanInternal Kind = iota
	// BooleanExternal fields store their value verbatim as a
	// single atomic term and are exposed to the query grammar.
	BooleanExternal
	// Probabilistic fields are tokenised (without stemming) before
	// storage, and are exposed to the query grammar.
	Probabilistic
)

// Field describes one entry in the registry.
type Field struct {
	Name   string
	Prefix string
	Kind   Kind
}

// These follow http://xapian.org/docs/omega/termprefixes.html "as
// much as makes sense" -- see the comment in the original notmuch
// lib/database.cc for the rationale behind the single-letter choices.
var fields = []Field{
	{"type", "T", BooleanInternal},
	{"reference", "XREFERENCE", BooleanInternal},
	{"replyto", "XREPLYTO", BooleanInternal},
	{"directory", "XDIRECTORY", BooleanInternal},
	{"file-direntry", "XFDIRENTRY", BooleanInternal},
	{"directory-direntry", "XDDIRENTRY", BooleanInternal},
	{"date", "XDATE", BooleanInternal},

	{"thread", "G", BooleanExternal},
	{"tag", "K", BooleanExternal},
	{"id", "Q", BooleanExternal},

	{"from", "XFROM", Probabilistic},
	{"to", "XTO", Probabilistic},
	{"attachment", "XATTACHMENT", Probabilistic},
	{"subject", "XSUBJECT", Probabilistic},
	{"body", "", Probabilistic},
}

var byName map[string]Field

func init() {
	byName = make(map[string]Field, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
}

// Find looks up a field by its semantic name. Looking up an unknown
// name is a programmer error: it must never be reachable on
// well-formed input (the query parser only ever asks about names it
// itself recognises), so this aborts the process rather than
// returning an error.
func Find(name string) Field {
	f, ok := byName[name]
	if !ok {
		panic(fmt.Sprintf("notmuchgo: internal error: no prefix registered for field %q", name))
	}
	return f
}

// External reports whether name is one of the fields exposed to the
// user-facing query grammar, i.e. a registered field that is not
// BooleanInternal (thread, tag, id, from, to, attachment, subject,
// body). It reports false for date, whose XDATE term is internal; the
// query parser handles date: ranges itself.
func External(name string) bool {
	f, ok := byName[name]
	if !ok {
		return false
	}
	return f.Kind != BooleanInternal
}
