package archive

import (
	"path"
	"path/filepath"
	"strings"
)

// NormalizePath converts a stored entry name to the canonical slash form:
// backslashes become slashes, empty and "." segments and trailing slashes
// are removed. Leading ".." segments survive so IsSafePath still sees them.
// Case is preserved.
func NormalizePath(name string) string {
	name = toSlash(name)
	if name == "" {
		return ""
	}
	name = path.Clean(name)
	if name == "." {
		return ""
	}
	return strings.TrimSuffix(name, "/")
}

// IsSafePath reports whether name stays inside the container root once
// joined to a destination directory.
func IsSafePath(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return false
	}
	if len(name) >= 2 && name[1] == ':' {
		return false
	}
	cleaned := path.Clean(name)
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

// Split returns the directory components and the basename of an entry path.
func Split(name string) (dirs []string, base string) {
	name = NormalizePath(name)
	i := strings.LastIndexByte(name, '/')
	if i < 0 {
		return nil, name
	}
	return strings.Split(name[:i], "/"), name[i+1:]
}

// Base returns the last element of an entry path.
func Base(name string) string {
	_, base := Split(name)
	return base
}

func toSlash(p string) string {
	if strings.IndexByte(p, '\\') == -1 {
		return p
	}
	return strings.ReplaceAll(p, "\\", "/")
}

// destination joins an entry path to destDir, refusing names that escape it.
func destination(destDir, name string) (string, error) {
	if !IsSafePath(name) {
		return "", ErrInvalidPath
	}
	return filepath.Join(destDir, filepath.FromSlash(path.Clean(name))), nil
}
