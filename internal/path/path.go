// Package path implements the directory-path bookkeeping notmuchgo
// needs: resolving a filesystem path to one relative to the database
// root, splitting a path into directory and basename components, and
// folding over-long paths down to a bounded-length term via SHA-1.
//
// Ported from the path-handling routines in notmuch's
// lib/database.cc: _notmuch_database_relative_path,
// _notmuch_database_split_path, and
// _notmuch_database_get_directory_db_path.
package path

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Relative returns path made relative to root. If path is absolute it
// must begin with root; the root prefix (and any slashes following
// it) is stripped. A relative path is returned unchanged, aside from
// collapsing repeated leading slashes the way the original does for
// paths that happen to start with "//".
//
// ok is false if path is absolute and does not begin with root.
func Relative(root, p string) (relative string, ok bool) {
	if len(p) == 0 || p[0] != '/' {
		return p, true
	}

	// Collapse repeated leading slashes before comparing against
	// root, matching the C implementation's handling of "//foo".
	for len(p) > 1 && p[0] == '/' && p[1] == '/' {
		p = p[1:]
	}

	if !strings.HasPrefix(p, root) {
		return "", false
	}
	rest := p[len(root):]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return rest, true
}

// Split divides a relative path into its directory component
// (without a trailing slash) and basename. Trailing slashes and the
// run of slashes between the directory and the basename are dropped;
// runs of slashes inside the directory component are kept as they
// are. A path with no directory component (a bare filename) yields an
// empty directory.
func Split(p string) (dir string, base string) {
	i := len(p)
	for i > 0 && p[i-1] == '/' {
		i--
	}
	p = p[:i]

	slash := strings.LastIndexByte(p, '/')
	if slash < 0 {
		return "", p
	}
	base = p[slash+1:]

	end := slash
	for end > 0 && p[end-1] == '/' {
		end--
	}
	return p[:end], base
}

// MaxTermLen is the hard bound (in bytes) on an index term's total
// length, prefix included.
const MaxTermLen = 245

// Fold returns the term value to store for relative, given the byte
// length of the prefix that will be prepended to it inside the index.
// If the combined length would exceed MaxTermLen, the 40-character
// lowercase hex SHA-1 digest of relative is returned instead and
// folded reports true; otherwise relative is returned unchanged.
func Fold(prefixLen int, relative string) (value string, folded bool) {
	if prefixLen+len(relative) <= MaxTermLen {
		return relative, false
	}
	sum := sha1.Sum([]byte(relative))
	return hex.EncodeToString(sum[:]), true
}
