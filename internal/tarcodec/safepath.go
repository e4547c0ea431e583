package tarcodec

import (
	"path"
	"strings"
)

// safeRelativePath normalizes a tar entry name and reports whether it is
// safe to extract (spec §4.1 "Reader contract": "entries with unsafe
// names (absolute, containing .., or empty after ./ stripping) are
// skipped with a warning"). Returns the normalized name and true when
// safe.
func safeRelativePath(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if strings.HasPrefix(name, "/") {
		return "", false
	}
	clean := path.Clean(name)
	clean = strings.TrimPrefix(clean, "./")
	if clean == "." || clean == "" {
		return "", false
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return "", false
		}
	}
	return clean, true
}
