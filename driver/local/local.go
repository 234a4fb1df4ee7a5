// Package local implements the file protocol on top of an afero.Fs, the
// operating system's filesystem by default.
package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobeaver/storagekit"
	"github.com/gobeaver/storagekit/internal/filelock"
	"github.com/spf13/afero"
)

// Adapter provides a local filesystem implementation of storagekit.FileSystem.
// Paths are used as given; the handler is responsible for anchoring them.
type Adapter struct {
	fs       afero.Fs
	lockOpts []filelock.Option
}

// AdapterOption is a function that configures Adapter
type AdapterOption func(*Adapter)

// WithFs replaces the underlying filesystem, e.g. with afero.NewMemMapFs()
// in tests.
func WithFs(fsys afero.Fs) AdapterOption {
	return func(a *Adapter) {
		a.fs = fsys
	}
}

// WithLockOptions tunes the lock files created by Lock.
func WithLockOptions(opts ...filelock.Option) AdapterOption {
	return func(a *Adapter) {
		a.lockOpts = append(a.lockOpts, opts...)
	}
}

// New creates a new local filesystem adapter
func New(options ...AdapterOption) *Adapter {
	a := &Adapter{fs: afero.NewOsFs()}
	for _, option := range options {
		option(a)
	}
	return a
}

// Fs returns the underlying afero filesystem.
func (a *Adapter) Fs() afero.Fs {
	return a.fs
}

// ImplicitDirs implements storagekit.ImplicitDirs. Local files need real
// parent directories.
func (a *Adapter) ImplicitDirs() bool {
	return false
}

// Write implements storagekit.FileWriter
func (a *Adapter) Write(ctx context.Context, path string, content io.Reader, options ...storagekit.Option) error {
	w, err := a.Create(ctx, path, options...)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, content); err != nil {
		_ = w.(*fileWriter).Abort(err)
		return &storagekit.PathError{Op: "write", Path: path, Err: err}
	}
	return w.Close()
}

// Create implements storagekit.FileWriter. Content is written to a hidden
// temp file in the target directory and renamed into place on Close.
func (a *Adapter) Create(ctx context.Context, path string, options ...storagekit.Option) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if info, err := a.fs.Stat(path); err == nil && info.IsDir() {
		return nil, &storagekit.PathError{Op: "write", Path: path, Err: storagekit.ErrIsDir}
	}

	dir := filepath.Dir(path)
	if err := a.fs.MkdirAll(dir, 0755); err != nil {
		return nil, mapError("write", path, err)
	}

	tmp, err := afero.TempFile(a.fs, dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, mapError("write", path, err)
	}

	return &fileWriter{fs: a.fs, tmp: tmp, path: path}, nil
}

// fileWriter commits a temp file to its destination on Close.
type fileWriter struct {
	fs   afero.Fs
	tmp  afero.File
	path string
	done bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

func (w *fileWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.tmp.Close(); err != nil {
		_ = w.fs.Remove(w.tmp.Name())
		return mapError("write", w.path, err)
	}
	// Temp files are created 0600.
	_ = w.fs.Chmod(w.tmp.Name(), 0644)
	if err := w.fs.Rename(w.tmp.Name(), w.path); err != nil {
		_ = w.fs.Remove(w.tmp.Name())
		return mapError("write", w.path, err)
	}
	return nil
}

// Abort implements storagekit.Aborter.
func (w *fileWriter) Abort(error) error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.tmp.Close()
	return w.fs.Remove(w.tmp.Name())
}

// Read implements storagekit.FileReader
func (a *Adapter) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := a.fs.Stat(path)
	if err != nil {
		return nil, mapError("read", path, err)
	}
	if info.IsDir() {
		return nil, &storagekit.PathError{Op: "read", Path: path, Err: storagekit.ErrIsDir}
	}

	f, err := a.fs.Open(path)
	if err != nil {
		return nil, mapError("read", path, err)
	}
	return f, nil
}

// Delete implements storagekit.FileWriter
func (a *Adapter) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := a.fs.Stat(path)
	if err != nil {
		return mapError("delete", path, err)
	}
	if info.IsDir() {
		return &storagekit.PathError{Op: "delete", Path: path, Err: storagekit.ErrIsDir}
	}

	if err := a.fs.Remove(path); err != nil {
		return mapError("delete", path, err)
	}
	return nil
}

// Exists implements storagekit.FileReader
func (a *Adapter) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := a.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, mapError("exists", path, err)
	}
	return true, nil
}

// Stat implements storagekit.FileReader
func (a *Adapter) Stat(ctx context.Context, path string) (*storagekit.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := a.fs.Stat(path)
	if err != nil {
		return nil, mapError("stat", path, err)
	}

	fi := toFileInfo(path, info)
	if fi.Type == storagekit.TypeFile {
		fi.ContentType = a.contentType(path)
	}
	return &fi, nil
}

// ListContents implements storagekit.FileReader
func (a *Adapter) ListContents(ctx context.Context, path string, recursive bool) ([]storagekit.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := a.fs.Stat(path)
	if err != nil {
		return nil, mapError("listcontents", path, err)
	}
	if !info.IsDir() {
		return nil, &storagekit.PathError{Op: "listcontents", Path: path, Err: storagekit.ErrNotDir}
	}

	var files []storagekit.FileInfo

	if recursive {
		err = afero.Walk(a.fs, path, func(walkPath string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if walkPath == path {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if isTempName(info.Name()) {
				return nil
			}
			files = append(files, toFileInfo(walkPath, info))
			return nil
		})
		if err != nil {
			return nil, mapError("listcontents", path, err)
		}
		return files, nil
	}

	entries, err := afero.ReadDir(a.fs, path)
	if err != nil {
		return nil, mapError("listcontents", path, err)
	}

	files = make([]storagekit.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if isTempName(entry.Name()) {
			continue
		}
		files = append(files, toFileInfo(filepath.Join(path, entry.Name()), entry))
	}
	return files, nil
}

// CreateDir implements storagekit.FileWriter
func (a *Adapter) CreateDir(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := a.fs.MkdirAll(path, 0755); err != nil {
		return mapError("createdir", path, err)
	}
	return nil
}

// DeleteDir implements storagekit.FileWriter
func (a *Adapter) DeleteDir(ctx context.Context, path string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := a.fs.Stat(path)
	if err != nil {
		return mapError("deletedir", path, err)
	}
	if !info.IsDir() {
		return &storagekit.PathError{Op: "deletedir", Path: path, Err: storagekit.ErrNotDir}
	}

	if recursive {
		if err := a.fs.RemoveAll(path); err != nil {
			return mapError("deletedir", path, err)
		}
		return nil
	}

	entries, err := afero.ReadDir(a.fs, path)
	if err != nil {
		return mapError("deletedir", path, err)
	}
	if len(entries) > 0 {
		return &storagekit.PathError{Op: "deletedir", Path: path, Err: storagekit.ErrNotEmpty}
	}
	if err := a.fs.Remove(path); err != nil {
		return mapError("deletedir", path, err)
	}
	return nil
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================

// Copy implements storagekit.CanCopy for native file copying.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	srcFile, err := a.Read(ctx, src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	if err := a.Write(ctx, dst, srcFile); err != nil {
		return err
	}

	// Copy file permissions
	if srcInfo, err := a.fs.Stat(src); err == nil {
		_ = a.fs.Chmod(dst, srcInfo.Mode().Perm())
	}
	return nil
}

// Move implements storagekit.CanMove for native file moving/renaming.
func (a *Adapter) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := a.fs.Stat(src)
	if err != nil {
		return mapError("move", src, err)
	}

	if err := a.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return mapError("move", dst, err)
	}

	// Try rename first (works if same filesystem)
	if err := a.fs.Rename(src, dst); err != nil {
		if info.IsDir() {
			return mapError("move", src, err)
		}
		// If rename fails (cross-device), fall back to copy+delete
		if err := a.Copy(ctx, src, dst); err != nil {
			return err
		}
		if err := a.fs.Remove(src); err != nil {
			return mapError("move", src, err)
		}
	}
	return nil
}

// Checksum implements storagekit.CanChecksum for local files.
func (a *Adapter) Checksum(ctx context.Context, path string, algorithm storagekit.ChecksumAlgorithm) (string, error) {
	rc, err := a.Read(ctx, path)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	sum, err := storagekit.CalculateChecksum(rc, algorithm)
	if err != nil {
		return "", &storagekit.PathError{Op: "checksum", Path: path, Err: err}
	}
	return sum, nil
}

// Lock implements storagekit.CanLock with an exclusive lock file.
func (a *Adapter) Lock(ctx context.Context, lockPath string) (func() error, error) {
	release, err := filelock.Acquire(ctx, a.fs, lockPath, a.lockOpts...)
	if err != nil {
		return nil, mapError("lock", lockPath, err)
	}
	return release, nil
}

func toFileInfo(path string, info os.FileInfo) storagekit.FileInfo {
	t := storagekit.TypeOther
	switch {
	case info.IsDir():
		t = storagekit.TypeDirectory
	case info.Mode().IsRegular():
		t = storagekit.TypeFile
	}
	return storagekit.FileInfo{
		Name:    info.Name(),
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Type:    t,
	}
}

// contentType tries to determine the content type of a file
func (a *Adapter) contentType(path string) string {
	if ct := storagekit.ContentTypeOf(path, nil); ct != "" {
		return ct
	}

	f, err := a.fs.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	// Read a small slice of the file to detect content type
	buffer := make([]byte, 512)
	n, err := f.Read(buffer)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	return storagekit.ContentTypeOf(path, buffer[:n])
}

// isTempName reports whether name is an in-flight write from Create.
func isTempName(name string) bool {
	return len(name) > 1 && name[0] == '.' && filepath.Ext(name) == ".tmp"
}

// mapError maps os errors to storagekit errors
func mapError(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &storagekit.PathError{Op: op, Path: path, Err: storagekit.ErrNotExist}
	case errors.Is(err, fs.ErrPermission):
		return &storagekit.PathError{Op: op, Path: path, Err: storagekit.ErrPermission}
	case errors.Is(err, fs.ErrExist):
		return &storagekit.PathError{Op: op, Path: path, Err: storagekit.ErrExist}
	}
	return &storagekit.PathError{Op: op, Path: path, Err: err}
}

// Ensure Adapter implements required and optional interfaces
var (
	_ storagekit.FileSystem   = (*Adapter)(nil)
	_ storagekit.CanCopy      = (*Adapter)(nil)
	_ storagekit.CanMove      = (*Adapter)(nil)
	_ storagekit.CanChecksum  = (*Adapter)(nil)
	_ storagekit.CanLock      = (*Adapter)(nil)
	_ storagekit.ImplicitDirs = (*Adapter)(nil)
)
