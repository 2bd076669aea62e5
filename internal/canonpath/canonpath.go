// Package canonpath normalizes filesystem paths to the single canonical
// form used as the primary key in every cache (spec.md §3, CanonicalPath).
package canonpath

import (
	"path/filepath"
	"strings"
)

// Canonicalize returns the absolute, forward-slash-normalized form of p.
// It does not require p to exist on disk; callers that need OS-resolved
// case/symlink canonicalization should use Resolve instead.
func Canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return toSlash(abs), nil
}

// Resolve canonicalizes p and, if it exists on disk, resolves symlinks so
// two different paths to the same file collapse to one cache key.
func Resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return toSlash(abs), nil
}

func toSlash(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

// StripRoot removes libraryRoot as a path prefix from canonicalPath,
// returning the remainder with no leading slash. This is used before
// parsing parent-folder segments so a library root like "/mnt/Tor/" never
// leaks into series-title candidates (spec.md §4.5 precondition 1).
func StripRoot(canonicalPath, libraryRoot string) string {
	root := toSlash(libraryRoot)
	root = strings.TrimSuffix(root, "/") + "/"
	if strings.HasPrefix(canonicalPath, root) {
		return strings.TrimPrefix(canonicalPath, root)
	}
	return strings.TrimPrefix(canonicalPath, "/")
}

// ParentSegments returns the path segments between the library root and
// the file's basename, innermost-last excluded (i.e. the directory chain),
// closest-to-file first.
func ParentSegments(canonicalPath, libraryRoot string) []string {
	rel := StripRoot(canonicalPath, libraryRoot)
	dir := filepath.Dir(rel)
	if dir == "." || dir == "/" {
		return nil
	}
	parts := strings.Split(dir, "/")
	// reverse so index 0 is the immediate parent folder
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts
}
