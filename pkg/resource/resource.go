// Package resource canonicalizes the paths and URLs used to name the
// sources a debug session knows about.
package resource

import (
	"net/url"
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

// Identifier names a source by local path or URL. Two identifiers are
// equal iff their canonical forms are equal; the display form is kept
// for output only.
type Identifier struct {
	canonical string
	display   string
	local     bool
}

// Parser turns raw strings into identifiers.
type Parser struct {
	// CaseInsensitive makes local paths compare without regard to case.
	CaseInsensitive bool
}

// DefaultParser follows the case sensitivity of the host file system.
var DefaultParser = Parser{CaseInsensitive: runtime.GOOS == "windows" || runtime.GOOS == "darwin"}

// Parse parses s with DefaultParser.
func Parse(s string) Identifier {
	return DefaultParser.Parse(s)
}

// Parse returns the identifier for s. file:// URLs are converted to the
// local path they designate.
func (p Parser) Parse(s string) Identifier {
	if s == "" {
		return Identifier{}
	}
	if isURL(s) {
		u, err := url.Parse(s)
		if err == nil && u.Scheme == "file" {
			return p.parseLocal(fileURLToPath(u))
		}
		if err != nil {
			return Identifier{canonical: s, display: s}
		}
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		return Identifier{canonical: u.String(), display: s}
	}
	return p.parseLocal(s)
}

func (p Parser) parseLocal(s string) Identifier {
	canonical := strings.ReplaceAll(s, "\\", "/")
	if hasDriveLetter(canonical) {
		canonical = strings.ToLower(canonical[:1]) + canonical[1:]
	}
	canonical = path.Clean(canonical)
	if p.CaseInsensitive {
		canonical = strings.ToLower(canonical)
	}
	return Identifier{canonical: canonical, display: s, local: true}
}

// String returns the display form.
func (id Identifier) String() string { return id.display }

// Canonical returns the normalized form used for comparisons.
func (id Identifier) Canonical() string { return id.canonical }

// IsLocal reports whether id names a local file rather than a remote URL.
func (id Identifier) IsLocal() bool { return id.local }

// IsEmpty reports whether id was parsed from an empty string.
func (id Identifier) IsEmpty() bool { return id.canonical == "" }

// Equal compares canonical forms.
func (id Identifier) Equal(other Identifier) bool { return id.canonical == other.canonical }

// Base returns the last path element of the canonical form.
func (id Identifier) Base() string {
	c := id.canonical
	if i := strings.IndexAny(c, "?#"); i >= 0 && !id.local {
		c = c[:i]
	}
	return path.Base(c)
}

// TextualBase returns the last path element of the display form.
func (id Identifier) TextualBase() string {
	d := strings.ReplaceAll(id.display, "\\", "/")
	if i := strings.IndexAny(d, "?#"); i >= 0 && !id.local {
		d = d[:i]
	}
	return path.Base(d)
}

// Resolve interprets ref relative to id, the way a browser resolves a
// relative URL against a document or a loader resolves a relative file
// against a directory.
func (id Identifier) Resolve(ref string, p Parser) Identifier {
	if ref == "" {
		return id
	}
	if isURL(ref) || filepath.IsAbs(ref) || strings.HasPrefix(ref, "/") {
		return p.Parse(ref)
	}
	if id.local {
		return p.Parse(path.Join(path.Dir(strings.ReplaceAll(id.display, "\\", "/")), ref))
	}
	base, err := url.Parse(id.display)
	if err != nil {
		return p.Parse(ref)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return p.Parse(ref)
	}
	return p.Parse(base.ResolveReference(r).String())
}

func isURL(s string) bool {
	i := strings.Index(s, "://")
	if i <= 1 {
		// "c://" is not a scheme, and neither is an empty one.
		return strings.HasPrefix(s, "data:")
	}
	for _, ch := range s[:i] {
		if !(ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '+' || ch == '-' || ch == '.') {
			return false
		}
	}
	return true
}

func hasDriveLetter(s string) bool {
	return len(s) >= 2 && s[1] == ':' && (s[0] >= 'a' && s[0] <= 'z' || s[0] >= 'A' && s[0] <= 'Z')
}

func fileURLToPath(u *url.URL) string {
	p := u.Path
	// file:///c:/dir/file.js
	if len(p) >= 3 && p[0] == '/' && hasDriveLetter(p[1:]) {
		return p[1:]
	}
	if u.Host != "" && u.Host != "localhost" {
		return "//" + u.Host + p
	}
	return p
}
