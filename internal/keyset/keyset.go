// Package keyset holds a sorted set of object keys and answers one level
// directory listings over it.
package keyset

import (
	"slices"
	"sort"
	"strings"
)

// Set is an immutable sorted set of keys. Directory keys end with "/".
// It is safe for concurrent reads.
type Set struct {
	keys []string
}

// New builds a set from keys, dropping duplicates and empty keys.
func New(keys []string) *Set {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, strings.TrimPrefix(k, "/"))
		}
	}
	slices.Sort(out)
	return &Set{keys: slices.Compact(out)}
}

// Len returns the number of keys.
func (s *Set) Len() int { return len(s.keys) }

// Keys returns a copy of the keys in order.
func (s *Set) Keys() []string { return slices.Clone(s.keys) }

// Contains reports whether key is in the set.
func (s *Set) Contains(key string) bool {
	_, ok := slices.BinarySearch(s.keys, key)
	return ok
}

// HasPrefix reports whether any key starts with prefix.
func (s *Set) HasPrefix(prefix string) bool {
	i := sort.SearchStrings(s.keys, prefix)
	return i < len(s.keys) && strings.HasPrefix(s.keys[i], prefix)
}

// Children lists the direct children of dir. See Children.
func (s *Set) Children(dir string) []string {
	return Children(s.keys, dir)
}

// Children lists the direct children of dir within sorted keys. dir is ""
// or "/" for the root, otherwise a key ending with "/".
//
// A key below dir is returned as is when it is a file or a directory right
// under dir. A deeper key is cut after its first "/" past dir, so callers
// see the intermediate directory. Every result appears once.
func Children(sorted []string, dir string) []string {
	if dir == "/" {
		dir = ""
	}
	var out []string
	for i := sort.SearchStrings(sorted, dir); i < len(sorted); i++ {
		k := sorted[i]
		if !strings.HasPrefix(k, dir) {
			break
		}
		if k == dir {
			continue
		}
		rest := k[len(dir):]
		child := k
		if idx := strings.Index(rest, "/"); idx >= 0 && idx != len(rest)-1 {
			child = dir + rest[:idx+1]
		}
		if len(out) > 0 && out[len(out)-1] == child {
			continue
		}
		out = append(out, child)
	}
	return out
}
