// Package pathconfine implements the hardened "is this path inside the
// workspace" predicate used by every path-accepting operation in the
// kernel: skill supporting-file inventory, sandbox I/O, and promotion.
package pathconfine

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/ara-systems/ara/internal/arerr"
)

// reservedDeviceNames are Windows reserved device names; rejected
// regardless of the host OS so role profiles behave identically across
// platforms.
var reservedDeviceNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// Confine checks candidate against base and returns the resolved,
// confinement-clean path, or a *arerr.Error of KindPathEscape.
//
// Resolvers that need to check a hypothetical (not-yet-existing) path
// should use Confine; those that additionally must resolve an existing
// symlink chain should combine it with filepath.EvalSymlinks on the
// returned path.
func Confine(candidate, base string) (string, error) {
	if strings.ContainsRune(candidate, 0) {
		return "", arerr.New(arerr.KindPathEscape, "path contains a null byte")
	}

	for _, part := range strings.Split(filepath.ToSlash(candidate), "/") {
		folded := foldCase(part)
		if reservedDeviceNames[strings.TrimSuffix(folded, filepath.Ext(folded))] {
			return "", arerr.New(arerr.KindPathEscape, "reserved device name: "+part)
		}
		if strings.Contains(part, ":") && part != filepath.VolumeName(candidate) {
			return "", arerr.New(arerr.KindPathEscape, "alternate data stream reference: "+part)
		}
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", arerr.Wrap(arerr.KindPathEscape, "cannot resolve base", err)
	}
	absCandidate, err := filepath.Abs(filepath.Join(base, candidate))
	if err != nil {
		return "", arerr.Wrap(arerr.KindPathEscape, "cannot resolve candidate", err)
	}

	absBase = filepath.Clean(absBase)
	absCandidate = filepath.Clean(absCandidate)

	if !isDescendant(absCandidate, absBase) {
		return "", arerr.New(arerr.KindPathEscape, "escapes workspace: "+candidate)
	}

	if real, err := filepath.EvalSymlinks(absCandidate); err == nil {
		realBase, err := filepath.EvalSymlinks(absBase)
		if err != nil {
			return "", arerr.Wrap(arerr.KindPathEscape, "cannot resolve base symlinks", err)
		}
		if !isDescendant(real, realBase) {
			return "", arerr.New(arerr.KindPathEscape, "symlink escapes workspace: "+candidate)
		}
	}
	// If EvalSymlinks fails (path does not exist yet) that's fine: the
	// path is being created, not traversed.

	return absCandidate, nil
}

// IsConfined is the pure-predicate form used by tests and callers that
// only need a boolean.
func IsConfined(candidate, base string) bool {
	_, err := Confine(candidate, base)
	return err == nil
}

func isDescendant(candidate, base string) bool {
	foldedBase := foldCase(base)
	foldedCandidate := foldCase(candidate)
	rel, err := filepath.Rel(foldedBase, foldedCandidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..") && rel != ".."
}

// foldCase applies Unicode NFKC normalization followed by simple case
// folding, matching the confinement check's cross-filesystem semantics.
func foldCase(s string) string {
	normalized := norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if utf8.ValidRune(r) {
			b.WriteRune(toLower(r))
		}
	}
	return b.String()
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
