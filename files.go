package storagekit

import (
	"bytes"
	"context"
	"io"
	"time"
)

// Metadata is the normalized view of a backend entry. Size is -1 and
// Modified is the zero time when the backend does not report them.
type Metadata struct {
	Name        string
	Size        int64
	Type        FileType
	Modified    time.Time
	ContentType string
}

// Read returns the full content of a file.
func (h *Handler) Read(ctx context.Context, remotePath string, relative bool) ([]byte, error) {
	target, err := h.Resolve(remotePath, relative)
	if err != nil {
		return nil, err
	}

	rc, err := h.fs.Read(ctx, target)
	if err != nil {
		return nil, classify("read", target, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, classify("read", target, err)
	}
	return data, nil
}

// Write replaces the content of a file with data, creating parent
// directories as needed.
func (h *Handler) Write(ctx context.Context, remotePath string, data []byte, relative bool, opts ...Option) error {
	target, err := h.ResolveAndEnsureParent(ctx, remotePath, relative)
	if err != nil {
		return err
	}

	if err := h.fs.Write(ctx, target, bytes.NewReader(data), opts...); err != nil {
		return classify("write", target, err)
	}
	return nil
}

// Delete removes a file. Deleting a missing file succeeds.
func (h *Handler) Delete(ctx context.Context, remotePath string, relative bool) error {
	target, err := h.Resolve(remotePath, relative)
	if err != nil {
		return err
	}

	if err := h.fs.Delete(ctx, target); err != nil {
		if IsNotExist(err) {
			h.logger.Warn("file not found, nothing to delete", "path", target)
			return nil
		}
		return classify("delete", target, err)
	}
	return nil
}

// DeleteDirectory removes a directory. Without recursive only an empty
// directory is removed. Deleting a missing directory succeeds.
func (h *Handler) DeleteDirectory(ctx context.Context, remotePath string, relative, recursive bool) error {
	target, err := h.Resolve(remotePath, relative)
	if err != nil {
		return err
	}

	if err := h.fs.DeleteDir(ctx, target, recursive); err != nil {
		if IsNotExist(err) {
			h.logger.Warn("directory not found, nothing to delete", "path", target)
			return nil
		}
		return classify("deletedir", target, err)
	}
	return nil
}

// Exists reports whether a file or directory exists. Backend failures are
// returned as *BackendError rather than reported as absence.
func (h *Handler) Exists(ctx context.Context, remotePath string, relative bool) (bool, error) {
	target, err := h.Resolve(remotePath, relative)
	if err != nil {
		return false, err
	}

	ok, err := h.fs.Exists(ctx, target)
	if err != nil {
		if IsNotExist(err) {
			return false, nil
		}
		return false, classify("exists", target, err)
	}
	return ok, nil
}

// Rename moves oldPath to newPath. Both paths are resolved independently.
func (h *Handler) Rename(ctx context.Context, oldPath, newPath string, relative bool) error {
	src, err := h.Resolve(oldPath, relative)
	if err != nil {
		return err
	}
	dst, err := h.ResolveAndEnsureParent(ctx, newPath, relative)
	if err != nil {
		return err
	}

	if mover, ok := h.fs.(CanMove); ok {
		if err := mover.Move(ctx, src, dst); err != nil {
			return classify("rename", src, err)
		}
		return nil
	}

	if err := h.copyContent(ctx, src, dst); err != nil {
		return classify("rename", src, err)
	}
	if err := h.fs.Delete(ctx, src); err != nil {
		return classify("rename", src, err)
	}
	return nil
}

// Copy duplicates src to dst within the backend. Both paths are resolved
// independently.
func (h *Handler) Copy(ctx context.Context, src, dst string, relative bool) error {
	from, err := h.Resolve(src, relative)
	if err != nil {
		return err
	}
	to, err := h.ResolveAndEnsureParent(ctx, dst, relative)
	if err != nil {
		return err
	}

	if copier, ok := h.fs.(CanCopy); ok {
		if err := copier.Copy(ctx, from, to); err != nil {
			return classify("copy", from, err)
		}
		return nil
	}

	if err := h.copyContent(ctx, from, to); err != nil {
		return classify("copy", from, err)
	}
	return nil
}

func (h *Handler) copyContent(ctx context.Context, src, dst string) error {
	rc, err := h.fs.Read(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()
	return h.fs.Write(ctx, dst, rc)
}

// CreateDirectory creates a directory and its parents. On object stores
// this writes a zero-byte marker object whose key ends in "/".
func (h *Handler) CreateDirectory(ctx context.Context, remotePath string, relative bool) error {
	target, err := h.Resolve(remotePath, relative)
	if err != nil {
		return err
	}

	if err := h.fs.CreateDir(ctx, target); err != nil {
		return classify("createdir", target, err)
	}
	return nil
}

// Metadata returns the normalized metadata of an entry, or nil when it
// does not exist.
func (h *Handler) Metadata(ctx context.Context, remotePath string, relative bool) (*Metadata, error) {
	target, err := h.Resolve(remotePath, relative)
	if err != nil {
		return nil, err
	}

	info, err := h.fs.Stat(ctx, target)
	if err != nil {
		if IsNotExist(err) {
			return nil, nil
		}
		return nil, classify("stat", target, err)
	}

	md := &Metadata{
		Name:        info.Name,
		Size:        info.Size,
		Type:        info.Type,
		Modified:    info.ModTime,
		ContentType: info.ContentType,
	}
	if md.Type == "" {
		md.Type = TypeOther
	}
	return md, nil
}
