package storagekit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Upload copies a local file to the backend.
func (h *Handler) Upload(ctx context.Context, localPath, remotePath string, relative bool) error {
	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &PathError{Op: "upload", Path: localPath, Err: ErrNotExist}
		}
		return classify("upload", localPath, err)
	}
	if info.IsDir() {
		return classify("upload", localPath, ErrIsDir)
	}

	target, err := h.ResolveAndEnsureParent(ctx, remotePath, relative)
	if err != nil {
		return err
	}

	if err := h.uploadFile(ctx, localPath, target); err != nil {
		return err
	}
	h.logger.Info("uploaded file", "local", localPath, "path", target)
	return nil
}

func (h *Handler) uploadFile(ctx context.Context, localPath, target string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return classify("upload", localPath, err)
	}
	defer f.Close()

	var opts []Option
	if ct := ContentTypeOf(localPath, nil); ct != "" {
		opts = append(opts, WithContentType(ct))
	}
	if err := h.fs.Write(ctx, target, f, opts...); err != nil {
		return classify("upload", target, err)
	}
	return nil
}

// Download copies a backend file to localPath, creating local parent
// directories. The local file is replaced atomically.
func (h *Handler) Download(ctx context.Context, remotePath, localPath string, relative bool) error {
	target, err := h.Resolve(remotePath, relative)
	if err != nil {
		return err
	}

	if err := h.downloadFile(ctx, target, localPath); err != nil {
		return err
	}
	h.logger.Info("downloaded file", "path", target, "local", localPath)
	return nil
}

func (h *Handler) downloadFile(ctx context.Context, target, localPath string) error {
	rc, err := h.fs.Read(ctx, target)
	if err != nil {
		return classify("download", target, err)
	}
	defer rc.Close()

	return writeLocalFile(localPath, rc)
}

// writeLocalFile streams r into a temp file next to dst and renames it
// into place.
func writeLocalFile(dst string, r io.Reader) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &PathError{Op: "download", Path: dir, Err: fmt.Errorf("%w: %w", ErrDirectory, err)}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return classify("download", dst, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return classify("download", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return classify("download", dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return classify("download", dst, err)
	}
	return nil
}

// SyncFromLocal copies every file below localDir to remoteDir, keeping the
// directory layout. It is a full copy: nothing is skipped or deleted.
func (h *Handler) SyncFromLocal(ctx context.Context, localDir, remoteDir string, relative bool) error {
	info, err := os.Stat(localDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &PathError{Op: "sync", Path: localDir, Err: ErrNotExist}
		}
		return classify("sync", localDir, err)
	}
	if !info.IsDir() {
		return classify("sync", localDir, ErrNotDir)
	}

	root, err := h.Resolve(remoteDir, relative)
	if err != nil {
		return err
	}

	implicit := h.implicitDirs()
	var files int
	err = filepath.WalkDir(localDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return classify("sync", p, walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return classify("sync", p, err)
		}
		target := root
		if rel != "." {
			target = path.Join(root, filepath.ToSlash(rel))
		}

		if d.IsDir() {
			if implicit {
				return nil
			}
			if err := h.fs.CreateDir(ctx, target); err != nil {
				return &PathError{Op: "mkdir", Path: target, Err: fmt.Errorf("%w: %w", ErrDirectory, err)}
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		files++
		return h.uploadFile(ctx, p, target)
	})
	if err != nil {
		return err
	}

	h.logger.Info("synced local directory", "local", localDir, "path", root, "files", files)
	return nil
}

// SyncToLocal copies every file below remoteDir into localDir, keeping the
// directory layout.
func (h *Handler) SyncToLocal(ctx context.Context, remoteDir, localDir string, relative bool) error {
	root, err := h.Resolve(remoteDir, relative)
	if err != nil {
		return err
	}

	entries, err := h.fs.ListContents(ctx, root, true)
	if err != nil {
		return classify("sync", root, err)
	}

	if err := os.MkdirAll(localDir, 0755); err != nil {
		return &PathError{Op: "sync", Path: localDir, Err: fmt.Errorf("%w: %w", ErrDirectory, err)}
	}

	prefix := strings.TrimSuffix(root, "/") + "/"
	var files int
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		entryPath := strings.TrimSuffix(e.Path, "/")
		rel, ok := strings.CutPrefix(entryPath, prefix)
		if !ok || rel == "" {
			h.logger.Warn("skipping entry outside sync root", "path", e.Path, "root", root)
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			h.logger.Warn("skipping entry escaping sync root", "path", e.Path, "root", root)
			continue
		}
		local := filepath.Join(localDir, filepath.FromSlash(rel))

		if e.IsDir() {
			if err := os.MkdirAll(local, 0755); err != nil {
				return &PathError{Op: "sync", Path: local, Err: fmt.Errorf("%w: %w", ErrDirectory, err)}
			}
			continue
		}

		if err := h.downloadFile(ctx, entryPath, local); err != nil {
			return err
		}
		files++
	}

	h.logger.Info("synced remote directory", "path", root, "local", localDir, "files", files)
	return nil
}
