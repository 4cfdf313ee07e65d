// Package keys maps local media paths to bucket-relative storage keys.
//
// A key is the suffix of a local path after a fixed content root, so the
// mapping is reversible: Path(Derive(p, root), root) == p for every path
// that derives a non-empty key.
package keys

import (
	"path/filepath"
	"strings"
)

// NormalizeRoot cleans root and guarantees exactly one trailing slash.
// An empty root stays empty and never matches any path.
func NormalizeRoot(root string) string {
	if root == "" {
		return ""
	}
	cleaned := strings.TrimRight(filepath.Clean(root), "/")
	return cleaned + "/"
}

// Derive returns the storage key for path under root, or "" when path is not
// strictly below root. Callers must treat "" as "do not touch remote storage".
func Derive(path, root string) string {
	prefix := NormalizeRoot(root)
	if path == "" || prefix == "" {
		return ""
	}
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	key := path[len(prefix):]
	if key == "" || strings.HasPrefix(key, "/") {
		return ""
	}
	// A ".." segment would resolve outside the root.
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return ""
		}
	}
	return key
}

// Path reconstructs the local path for key under root.
func Path(key, root string) string {
	return NormalizeRoot(root) + key
}

// Base returns the trailing segment of key, used as the file name when a
// remote object is materialized locally.
func Base(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}
