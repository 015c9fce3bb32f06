package security

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolvePath makes raw absolute relative to cwd, expands a leading "~" and
// canonicalizes the result.
func ResolvePath(raw, cwd string) string {
	p := raw
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = home + p[1:]
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(cwd, p)
	}
	return CanonicalPath(p)
}

// CanonicalPath cleans path and resolves symlinks on the longest existing
// prefix, so paths that do not exist yet still compare correctly against
// paths that do (e.g. /tmp vs /private/tmp on macOS).
func CanonicalPath(path string) string {
	clean := filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		return resolved
	}

	parent := filepath.Dir(clean)
	if parent == clean {
		return clean
	}
	return filepath.Join(CanonicalPath(parent), filepath.Base(clean))
}

// IsPathWithin reports whether target equals base or lies beneath it.
// Both paths must be absolute and clean.
func IsPathWithin(target, base string) bool {
	if runtime.GOOS == "windows" {
		target = strings.ToLower(target)
		base = strings.ToLower(base)
	}
	if filepath.VolumeName(target) != filepath.VolumeName(base) {
		return false
	}

	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// pathsOverlap reports whether a covers b or b covers a.
func pathsOverlap(a, b string) bool {
	return IsPathWithin(a, b) || IsPathWithin(b, a)
}
