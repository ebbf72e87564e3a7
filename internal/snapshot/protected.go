package snapshot

import (
	"strings"

	"github.com/hangar-sh/hangar/internal/uvenv"
)

// The protected package set is never installed, upgraded or removed by
// a restore. Breaking any of these bricks the environment harder than
// any snapshot mismatch would.
var (
	protectedExact = map[string]bool{
		"pip":        true,
		"setuptools": true,
		"wheel":      true,
		"uv":         true,
	}
	protectedPrefixes = []string{"torch", "nvidia", "triton", "cuda"}
)

// IsProtected reports whether a package name (PEP 503 normalized first)
// belongs to the protected set: exact matches plus the GPU-stack
// prefixes and their name- / name_ extensions.
func IsProtected(name string) bool {
	n := uvenv.NormalizeName(name)
	if protectedExact[n] {
		return true
	}
	for _, p := range protectedPrefixes {
		if n == p || strings.HasPrefix(n, p) {
			return true
		}
	}
	return false
}
