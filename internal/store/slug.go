package store

import (
	"strings"

	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

const maxSlugLen = 96

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single dash, trimming dashes at both ends.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// validSlug reports whether s is already in Slugify form.
func validSlug(s string) bool {
	return s != "" && len(s) <= maxSlugLen && Slugify(s) == s
}

func checkSlug(s string) error {
	if !validSlug(s) {
		return xerrors.Mark(xerrors.ErrInvalid, "slug %q must be lowercase letters, digits and dashes", s)
	}
	return nil
}
