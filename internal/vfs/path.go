package vfs

import (
	"path"
	"strings"
	"unicode/utf8"
)

const reservedChars = `"*:<>?|`

// Sanitize normalises a script-supplied path to its canonical form: no
// leading or trailing separator, no "." or ".." segments. The root is "".
func Sanitize(p string) (string, error) {
	if !utf8.ValidString(p) {
		return "", &PathError{Op: "sanitize", Path: p, Err: ErrPathInvalid}
	}
	for _, r := range p {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(reservedChars, r) {
			return "", &PathError{Op: "sanitize", Path: p, Err: ErrPathInvalid}
		}
	}

	p = strings.ReplaceAll(p, `\`, "/")
	parts := make([]string, 0, 8)
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(parts) == 0 {
				return "", &PathError{Op: "sanitize", Path: p, Err: ErrPathInvalid}
			}
			parts = parts[:len(parts)-1]
		default:
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "/"), nil
}

// parent returns the directory containing p; the parent of a top-level
// entry is the root "".
func parent(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return ""
	}
	return d
}

// Name returns the last element of a sanitized path.
func Name(p string) string {
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// within reports whether p equals prefix or lies beneath it.
func within(p, prefix string) bool {
	if prefix == "" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// relative strips prefix from p; callers must check within first.
func relative(p, prefix string) string {
	if prefix == "" {
		return p
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, prefix), "/")
}
