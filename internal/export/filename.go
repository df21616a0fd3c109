package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrInvalidPrefix is returned for file name prefixes that are not plain names.
var ErrInvalidPrefix = errors.New("invalid file name prefix")

// maxPrefixLen bounds CleanPrefix output.
const maxPrefixLen = 96

// CleanPrefix turns an arbitrary label into a file name prefix. Runs of
// characters other than ASCII letters, digits, dot, underscore and dash
// become a single underscore; leading and trailing dots and underscores are
// trimmed. An empty result becomes "hologram".
func CleanPrefix(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxPrefixLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "hologram"
	}
	return out
}

// ValidatePrefix rejects prefixes that CleanPrefix would change, or that
// contain "..".
func ValidatePrefix(prefix string) error {
	if prefix != CleanPrefix(prefix) || strings.Contains(prefix, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return nil
}

// withinDir reports an error unless path resolves inside dir. dir must
// exist; symlinks in dir are resolved.
func withinDir(path, dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if resolved, err := filepath.EvalSymlinks(absDir); err == nil {
		absDir = resolved
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if resolved, err := filepath.EvalSymlinks(filepath.Dir(absPath)); err == nil {
		absPath = filepath.Join(resolved, filepath.Base(absPath))
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return fmt.Errorf("%s is outside %s: %w", path, dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%s escapes %s", path, dir)
	}
	return nil
}
