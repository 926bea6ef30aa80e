// Package routetable composes pre-built routers into a parent router by
// path prefix.
//
// A Table is a fixed, ordered list of (prefix, router) records. It is built
// once at startup, mounted onto a chi router, and never mutated afterwards.
// Resolve answers which entry a path belongs to without dispatching a request,
// which is what the tests and the request metrics use.
package routetable

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

var (
	// ErrDuplicatePrefix is returned when two entries normalize to the same prefix.
	ErrDuplicatePrefix = errors.New("routetable: duplicate prefix")
	// ErrDuplicateName is returned when two entries share a namespace.
	ErrDuplicateName = errors.New("routetable: duplicate name")
	// ErrInvalidEntry is returned for an entry without a name or handler.
	ErrInvalidEntry = errors.New("routetable: invalid entry")
)

// Entry binds a path prefix to a router. Name is the namespace the
// router's paths resolve into.
type Entry struct {
	Prefix  string
	Name    string
	Handler http.Handler
}

// Table is an immutable, ordered set of entries.
type Table struct {
	entries []Entry
}

// New validates and normalizes entries. Prefixes are written either the
// URLconf way ("", "registration/") or the chi way ("/", "/registration");
// both normalize to the chi form.
func New(entries ...Entry) (*Table, error) {
	seenPrefix := make(map[string]string, len(entries))
	seenName := make(map[string]struct{}, len(entries))

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" || e.Handler == nil {
			return nil, fmt.Errorf("%w: prefix %q", ErrInvalidEntry, e.Prefix)
		}
		prefix := NormalizePrefix(e.Prefix)
		if other, ok := seenPrefix[prefix]; ok {
			return nil, fmt.Errorf("%w: %q used by %q and %q", ErrDuplicatePrefix, prefix, other, name)
		}
		if _, ok := seenName[name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		seenPrefix[prefix] = name
		seenName[name] = struct{}{}
		out = append(out, Entry{Prefix: prefix, Name: name, Handler: e.Handler})
	}
	return &Table{entries: out}, nil
}

// MustNew is New for tables defined in code; it panics on error.
func MustNew(entries ...Entry) *Table {
	t, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return t
}

// Entries returns a copy of the entries in registration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Names returns the namespaces in registration order.
func (t *Table) Names() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Name
	}
	return out
}

// Mount prefix-mounts every entry on r in table order.
func (t *Table) Mount(r chi.Router) {
	for _, e := range t.entries {
		r.Mount(e.Prefix, e.Handler)
	}
}

// Router returns a fresh chi router with the table mounted.
func (t *Table) Router() chi.Router {
	r := chi.NewRouter()
	t.Mount(r)
	return r
}

// Resolve returns the entry that owns path: the longest prefix that
// matches on a segment boundary. "/" owns every path no other entry claims.
func (t *Table) Resolve(path string) (Entry, bool) {
	p := "/" + strings.TrimLeft(path, "/")

	best := -1
	bestLen := -1
	for i, e := range t.entries {
		if !matches(e.Prefix, p) {
			continue
		}
		if len(e.Prefix) > bestLen {
			best, bestLen = i, len(e.Prefix)
		}
	}
	if best < 0 {
		return Entry{}, false
	}
	return t.entries[best], true
}

// NormalizePrefix converts a prefix to "/seg/seg" form with no trailing
// slash. The empty prefix becomes "/".
func NormalizePrefix(prefix string) string {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		return "/"
	}
	return "/" + p
}

func matches(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/'
}
