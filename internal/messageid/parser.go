// Package messageid parses RFC-822 Message-ID-style header values:
// "<local@domain>", possibly preceded by free text and containing
// (nestable, backslash-escaped) comments, with internal whitespace
// collapsed out of the final identifier.
//
// This is a direct port of _parse_message_id and parse_references from
// notmuch's lib/database.cc, adapted to return Go strings instead of
// talloc'ed C buffers and (bool) instead of NULL.
package messageid

import "strings"

// Parse extracts the identifier from a single Message-ID-shaped header
// value. next, if requested via ParseWithRemainder, points just past
// the parsed '>' (or at the terminator if none was found), enabling a
// caller to re-invoke Parse on the remainder to walk a References
// header containing several identifiers back to back.
//
// Returns ok == false if s contains no '<' or the bracketed region is
// empty.
func Parse(s string) (id string, ok bool) {
	id, _, ok = ParseWithRemainder(s)
	return id, ok
}

// ParseWithRemainder is Parse, additionally returning the unparsed
// remainder of s (the portion after the matched '>', or the empty
// string if no '<' was found at all).
func ParseWithRemainder(s string) (id string, remainder string, ok bool) {
	i := 0
	n := len(s)

	i = skipSpaceAndComments(s, i)

	// Skip any unstructured text as well.
	for i < n && s[i] != '<' {
		i++
	}
	if i >= n || s[i] != '<' {
		return "", s[i:], false
	}
	i++ // consume '<'

	i = skipSpaceAndComments(s, i)

	start := i
	for i < n && s[i] != '>' {
		i++
	}
	end := i
	if i < n {
		remainder = s[i+1:]
	} else {
		remainder = s[i:]
	}

	if end <= start {
		return "", remainder, false
	}

	raw := s[start:end]

	// Collapse internal whitespace within the identifier itself.
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	id = b.String()
	if id == "" {
		return "", remainder, false
	}
	return id, remainder, true
}

// skipSpaceAndComments advances past whitespace and RFC-822 comments
// (parenthesised, nestable, with '\\' escaping the next character),
// returning the new index.
func skipSpaceAndComments(s string, i int) int {
	n := len(s)
	for i < n {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			i++
		case '(':
			depth := 1
			i++
			for i < n && depth > 0 {
				switch s[i] {
				case '\\':
					i++ // skip escaped character too
					if i < n {
						i++
					}
					continue
				case '(':
					depth++
				case ')':
					depth--
				}
				i++
			}
		default:
			return i
		}
	}
	return i
}

// References parses a References (or In-Reply-To) header value,
// returning the set of distinct message identifiers it names, in
// order of first appearance, excluding any identifier equal to own
// (the message's own id). This guards against mail that cyclically
// references itself -- not as rare in the wild as one would hope.
func References(header string, own string) []string {
	if header == "" {
		return nil
	}

	seen := make(map[string]bool)
	var out []string

	rest := header
	for rest != "" {
		id, remainder, ok := ParseWithRemainder(rest)
		if remainder == rest {
			// No progress possible; avoid looping forever.
			break
		}
		rest = remainder
		if !ok || id == own || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
