package storagekit

import (
	"context"
	"sort"
)

// List returns the direct children of a directory, files and
// subdirectories alike.
func (h *Handler) List(ctx context.Context, prefix string, relative bool) ([]string, error) {
	target, err := h.Resolve(prefix, relative)
	if err != nil {
		return nil, err
	}

	entries, err := h.fs.ListContents(ctx, target, false)
	if err != nil {
		return nil, classify("list", target, err)
	}
	return entryPaths(entries, false), nil
}

// ListRecursive returns every file below a directory.
func (h *Handler) ListRecursive(ctx context.Context, prefix string, relative bool) ([]string, error) {
	target, err := h.Resolve(prefix, relative)
	if err != nil {
		return nil, err
	}

	entries, err := h.fs.ListContents(ctx, target, true)
	if err != nil {
		return nil, classify("find", target, err)
	}
	return entryPaths(entries, true), nil
}

// Glob returns all paths matching pattern. The pattern is resolved like a
// path.
func (h *Handler) Glob(ctx context.Context, pattern string, relative bool) ([]string, error) {
	target, err := h.Resolve(pattern, relative)
	if err != nil {
		return nil, err
	}

	matches, err := Glob(ctx, h.fs, target)
	if err != nil {
		return nil, classify("glob", target, err)
	}
	return matches, nil
}

func entryPaths(entries []FileInfo, filesOnly bool) []string {
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if filesOnly && e.IsDir() {
			continue
		}
		paths = append(paths, cleanListPath(e.Path))
	}
	sort.Strings(paths)
	return paths
}
