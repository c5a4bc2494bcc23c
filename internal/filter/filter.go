// Package filter selects objects by key pattern, size and age.
//
//	f := filter.New(
//	    filter.Include("*.json"),
//	    filter.Exclude("tmp/**"),
//	    filter.MaxSize(100*filter.MB),
//	)
//	if f.Match(path, meta) { ... }
//
// Directories only face the pattern rules, since they carry no size or
// modification time.
package filter

import (
	"path"
	"strings"
	"time"

	"github.com/grokify/objectdal"
)

// Size units.
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

type ruleKind int

const (
	ruleInclude ruleKind = iota
	ruleExclude
	ruleMinSize
	ruleMaxSize
	ruleMaxAge
)

type rule struct {
	kind    ruleKind
	pattern string
	size    int64
	age     time.Duration
}

// Filter is an ordered set of rules. The nil Filter matches everything.
type Filter struct {
	rules []rule
	now   func() time.Time
}

// Option adds a rule.
type Option func(*Filter)

// New builds a filter from rules.
func New(opts ...Option) *Filter {
	f := &Filter{now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Include keeps only keys matching one of the include patterns.
func Include(pattern string) Option {
	return func(f *Filter) { f.rules = append(f.rules, rule{kind: ruleInclude, pattern: pattern}) }
}

// Exclude drops keys matching pattern. Excludes win over includes.
func Exclude(pattern string) Option {
	return func(f *Filter) { f.rules = append(f.rules, rule{kind: ruleExclude, pattern: pattern}) }
}

// MinSize drops files smaller than n bytes.
func MinSize(n int64) Option {
	return func(f *Filter) { f.rules = append(f.rules, rule{kind: ruleMinSize, size: n}) }
}

// MaxSize drops files larger than n bytes.
func MaxSize(n int64) Option {
	return func(f *Filter) { f.rules = append(f.rules, rule{kind: ruleMaxSize, size: n}) }
}

// MaxAge drops files last modified more than d ago. Files without a
// modification time pass.
func MaxAge(d time.Duration) Option {
	return func(f *Filter) { f.rules = append(f.rules, rule{kind: ruleMaxAge, age: d}) }
}

// Patterns turns "+pattern" and "-pattern" strings into include and exclude
// rules. A bare pattern is an exclude.
func Patterns(specs []string) Option {
	return func(f *Filter) {
		for _, s := range specs {
			s = strings.TrimSpace(s)
			switch {
			case s == "" || strings.HasPrefix(s, "#"):
			case strings.HasPrefix(s, "+"):
				Include(strings.TrimSpace(s[1:]))(f)
			case strings.HasPrefix(s, "-"):
				Exclude(strings.TrimSpace(s[1:]))(f)
			default:
				Exclude(s)(f)
			}
		}
	}
}

// IsEmpty reports whether the filter has no rules.
func (f *Filter) IsEmpty() bool { return f == nil || len(f.rules) == 0 }

// Match reports whether the object at p passes every rule. meta may be
// partial; missing fields don't fail size or age rules.
func (f *Filter) Match(p string, meta objectdal.ObjectMetadata) bool {
	if f.IsEmpty() {
		return true
	}

	included, hasIncludes := false, false
	for _, r := range f.rules {
		if r.kind == ruleInclude {
			hasIncludes = true
			included = included || matchPattern(r.pattern, p)
		}
	}
	// Directories stay so that walks can reach matching files below them.
	if hasIncludes && !included && !objectdal.ModeOfPath(p).IsDir() {
		return false
	}

	for _, r := range f.rules {
		switch r.kind {
		case ruleExclude:
			if matchPattern(r.pattern, p) {
				return false
			}
		case ruleMinSize:
			if meta.Mode.IsFile() && meta.HasContentLength() && meta.ContentLength < r.size {
				return false
			}
		case ruleMaxSize:
			if meta.Mode.IsFile() && meta.HasContentLength() && meta.ContentLength > r.size {
				return false
			}
		case ruleMaxAge:
			if meta.Mode.IsFile() && !meta.LastModified.IsZero() && f.now().Sub(meta.LastModified) > r.age {
				return false
			}
		}
	}
	return true
}

// NeedsMetadata reports whether Match looks past the key.
func (f *Filter) NeedsMetadata() bool {
	if f == nil {
		return false
	}
	for _, r := range f.rules {
		if r.kind != ruleInclude && r.kind != ruleExclude {
			return true
		}
	}
	return false
}

// matchPattern matches the whole key, then the basename. "**" spans
// directory separators.
func matchPattern(pattern, p string) bool {
	key := strings.TrimSuffix(p, "/")
	if strings.Contains(pattern, "**") {
		return matchDoubleStar(pattern, key)
	}
	if ok, _ := path.Match(pattern, key); ok {
		return true
	}
	ok, _ := path.Match(pattern, path.Base(key))
	return ok
}

func matchDoubleStar(pattern, key string) bool {
	prefix, suffix, _ := strings.Cut(pattern, "**")
	prefix = strings.TrimSuffix(prefix, "/")
	suffix = strings.TrimPrefix(suffix, "/")
	if prefix != "" {
		if key != prefix && !strings.HasPrefix(key, prefix+"/") {
			ok, _ := path.Match(prefix, firstSegments(key, strings.Count(prefix, "/")+1))
			if !ok {
				return false
			}
		}
	}
	if suffix == "" {
		return true
	}
	ok, _ := path.Match(suffix, path.Base(key))
	return ok
}

func firstSegments(key string, n int) string {
	parts := strings.SplitN(key, "/", n+1)
	if len(parts) > n {
		parts = parts[:n]
	}
	return strings.Join(parts, "/")
}
