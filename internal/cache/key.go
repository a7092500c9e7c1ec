package cache

import (
	"net/url"
	"strings"
)

// Key names a cached value by meaning, e.g. NewKey("streamToken", userID).
// Segments are path-escaped, so a "/" inside a part never splits it.
type Key string

func NewKey(parts ...string) Key {
	escaped := make([]string, len(parts))
	for i, part := range parts {
		escaped[i] = url.PathEscape(part)
	}
	return Key(strings.Join(escaped, "/"))
}

// Root is the first segment of the key; fetchers are registered per root.
func (k Key) Root() string {
	root, _, _ := strings.Cut(string(k), "/")
	return unescape(root)
}

// Parts splits the key back into the segments it was built from.
func (k Key) Parts() []string {
	if k == "" {
		return nil
	}
	raw := strings.Split(string(k), "/")
	parts := make([]string, len(raw))
	for i, part := range raw {
		parts[i] = unescape(part)
	}
	return parts
}

func (k Key) String() string { return string(k) }

func unescape(part string) string {
	if unescaped, err := url.PathUnescape(part); err == nil {
		return unescaped
	}
	return part
}
