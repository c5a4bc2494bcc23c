package objectdal

import "strings"

// NormalizeRoot turns a configured root into the canonical "/a/b/" form.
// An empty root becomes "/".
func NormalizeRoot(root string) string {
	parts := splitPath(strings.TrimSpace(root))
	if len(parts) == 0 {
		return "/"
	}
	return "/" + strings.Join(parts, "/") + "/"
}

// NormalizePath turns a user path into the canonical relative form: no
// leading slash, no empty segments, trailing slash kept for directories.
// An empty path becomes "/", which is the root.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	isDir := strings.HasSuffix(path, "/")
	parts := splitPath(path)
	if len(parts) == 0 {
		return "/"
	}
	p := strings.Join(parts, "/")
	if isDir {
		p += "/"
	}
	return p
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BuildAbsPath joins a normalized root and a normalized path into a key
// without leading slash, as object stores expect. The root path "/" maps to
// the root itself.
func BuildAbsPath(root, path string) string {
	p := strings.TrimPrefix(root, "/")
	if path == "/" {
		return p
	}
	return p + strings.TrimPrefix(path, "/")
}

// BuildRootedAbsPath is BuildAbsPath with the leading slash kept.
func BuildRootedAbsPath(root, path string) string {
	if path == "/" {
		return root
	}
	return root + strings.TrimPrefix(path, "/")
}

// BuildRelPath strips a normalized root from an absolute key. The key may
// carry a leading slash or not. The root itself becomes "/".
func BuildRelPath(root, path string) string {
	path = strings.TrimPrefix(path, "/")
	rel := strings.TrimPrefix(path, strings.TrimPrefix(root, "/"))
	if rel == "" {
		return "/"
	}
	return rel
}

// GetBasename returns the last segment, keeping a trailing slash.
//
//	"abc/def"  -> "def"
//	"abc/def/" -> "def/"
//	"/"        -> "/"
func GetBasename(path string) string {
	if path == "/" {
		return "/"
	}
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// GetParent returns the parent directory with a trailing slash, or "/".
//
//	"abc/def"  -> "abc/"
//	"abc/def/" -> "abc/"
//	"abc"      -> "/"
func GetParent(path string) string {
	if path == "/" {
		return "/"
	}
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "/"
	}
	return trimmed[:idx+1]
}
