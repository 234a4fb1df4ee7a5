package storagekit

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Resolve returns the fully qualified backend path for p. With relative
// set, p is joined onto the base path and may not climb above it; a
// leading "/" in p does not escape the base. Without relative, p is
// returned verbatim.
func (h *Handler) Resolve(p string, relative bool) (string, error) {
	if !relative {
		return p, nil
	}
	return joinUnder(h.basePath, p)
}

func joinUnder(base, p string) (string, error) {
	if base == "" {
		cleaned := path.Clean(p)
		if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return "", escapeErr(p)
		}
		if cleaned == "." {
			return "", nil
		}
		return cleaned, nil
	}

	root := path.Clean(base)
	joined := path.Join(root, p)
	if !within(root, joined) {
		return "", escapeErr(p)
	}
	return joined, nil
}

func within(root, p string) bool {
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == root || strings.HasPrefix(p, root+"/")
}

func escapeErr(p string) error {
	return &PathError{Op: "resolve", Path: p, Err: fmt.Errorf("%w: path escapes base path: %w", ErrConfiguration, ErrNotAllowed)}
}

// ResolveAndEnsureParent resolves p and makes sure its parent directory
// exists. Creation is create-if-missing, so concurrent writers to sibling
// paths do not race.
func (h *Handler) ResolveAndEnsureParent(ctx context.Context, p string, relative bool) (string, error) {
	target, err := h.Resolve(p, relative)
	if err != nil {
		return "", err
	}
	if err := h.ensureParent(ctx, target); err != nil {
		return "", err
	}
	return target, nil
}

func (h *Handler) ensureParent(ctx context.Context, target string) error {
	if h.implicitDirs() {
		return nil
	}

	parent := path.Dir(target)
	if parent == "." || parent == "/" || parent == "" {
		return nil
	}

	if err := h.fs.CreateDir(ctx, parent); err != nil {
		h.logger.Error("could not create parent directory", "path", parent, "err", err)
		return &PathError{Op: "mkdir", Path: parent, Err: fmt.Errorf("%w: %w", ErrDirectory, err)}
	}
	h.logger.Debug("ensured parent directory", "path", parent)
	return nil
}

func (h *Handler) implicitDirs() bool {
	implicit, ok := h.fs.(ImplicitDirs)
	return ok && implicit.ImplicitDirs()
}
