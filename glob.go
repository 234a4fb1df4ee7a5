package storagekit

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Matcher matches slash-separated paths against a glob pattern. "*", "?"
// and character classes stay within one segment, "**" spans any number of
// segments including none, and "{a,b}" selects alternatives.
type Matcher struct {
	globs []glob.Glob
}

// CompileGlob compiles pattern into a Matcher.
func CompileGlob(pattern string) (*Matcher, error) {
	variants := []string{pattern}
	// "a/**/b" must also match "a/b".
	if strings.Contains(pattern, "/**/") {
		variants = append(variants, strings.ReplaceAll(pattern, "/**/", "/"))
	}
	if strings.HasPrefix(pattern, "**/") {
		variants = append(variants, strings.TrimPrefix(pattern, "**/"))
	}

	m := &Matcher{}
	for _, v := range variants {
		g, err := glob.Compile(v, '/')
		if err != nil {
			return nil, err
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// Match reports whether p matches.
func (m *Matcher) Match(p string) bool {
	for _, g := range m.globs {
		if g.Match(p) {
			return true
		}
	}
	return false
}

// HasMeta reports whether p contains glob metacharacters.
func HasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

// globRoot returns the longest leading directory of pattern that contains
// no metacharacters.
func globRoot(pattern string) string {
	segments := strings.Split(pattern, "/")
	var root []string
	for _, seg := range segments[:len(segments)-1] {
		if HasMeta(seg) {
			break
		}
		root = append(root, seg)
	}
	joined := strings.Join(root, "/")
	if joined == "" && strings.HasPrefix(pattern, "/") {
		return "/"
	}
	return joined
}

// Glob expands pattern over fs by listing the pattern's static root
// recursively and matching every entry. Backends with their own glob
// support are used directly.
func Glob(ctx context.Context, fs FileReader, pattern string) ([]string, error) {
	if g, ok := fs.(CanGlob); ok {
		return g.Glob(ctx, pattern)
	}

	if !HasMeta(pattern) {
		ok, err := fs.Exists(ctx, pattern)
		if err != nil || !ok {
			return nil, err
		}
		return []string{pattern}, nil
	}

	m, err := CompileGlob(pattern)
	if err != nil {
		return nil, &PathError{Op: "glob", Path: pattern, Err: err}
	}

	root := globRoot(pattern)
	entries, err := fs.ListContents(ctx, root, true)
	if err != nil {
		if IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var matches []string
	for _, e := range entries {
		p := strings.TrimSuffix(e.Path, "/")
		if m.Match(p) {
			matches = append(matches, p)
		}
	}
	sort.Strings(matches)
	return dedupe(matches), nil
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i > 0 && sorted[i-1] == s {
			continue
		}
		out = append(out, s)
	}
	return out
}

// cleanListPath normalizes a listing result for comparison.
func cleanListPath(p string) string {
	if p == "" {
		return p
	}
	return path.Clean(p)
}
