// Package memory is an in-memory storagekit.FileSystem. It behaves like a
// strict POSIX filesystem: writes need an existing parent directory.
package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/storagekit"
)

// ErrNoSpace is returned when a write would exceed Config.MaxSize.
var ErrNoSpace = errors.New("storage limit exceeded")

// memoryFile represents a file stored in memory
type memoryFile struct {
	content     []byte
	contentType string
	metadata    map[string]string
	modTime     time.Time
}

// Adapter provides an in-memory implementation of storagekit.FileSystem
// Useful for testing
type Adapter struct {
	mu      sync.RWMutex
	files   map[string]*memoryFile
	dirs    map[string]time.Time
	maxSize int64 // Maximum total storage size (0 = unlimited)
	size    int64 // Current total size
}

// Config holds configuration for the memory adapter
type Config struct {
	// MaxSize is the maximum total storage size in bytes (0 = unlimited)
	MaxSize int64
}

// New creates a new in-memory filesystem adapter
func New(cfg ...Config) *Adapter {
	var maxSize int64
	if len(cfg) > 0 {
		maxSize = cfg[0].MaxSize
	}

	return &Adapter{
		files:   make(map[string]*memoryFile),
		dirs:    map[string]time.Time{"": time.Now()},
		maxSize: maxSize,
	}
}

// normalizePath maps "/a/b/", "a/b" and "a//b" to the key "a/b". The root
// is "".
func normalizePath(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

// display renders a key in the caller's style: rooted when the request
// path was rooted.
func display(key string, rooted bool) string {
	if rooted {
		return "/" + key
	}
	return key
}

func parentKey(key string) string {
	if key == "" {
		return ""
	}
	dir := path.Dir(key)
	if dir == "." {
		return ""
	}
	return dir
}

// ImplicitDirs implements storagekit.ImplicitDirs.
func (a *Adapter) ImplicitDirs() bool {
	return false
}

// Write implements storagekit.FileWriter
func (a *Adapter) Write(ctx context.Context, p string, content io.Reader, options ...storagekit.Option) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return &storagekit.PathError{Op: "write", Path: p, Err: err}
	}
	return a.store(p, data, storagekit.ProcessOptions(options...))
}

func (a *Adapter) store(p string, data []byte, opts *storagekit.Options) error {
	key := normalizePath(p)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, isDir := a.dirs[key]; isDir {
		return &storagekit.PathError{Op: "write", Path: p, Err: storagekit.ErrIsDir}
	}
	if err := a.checkParent("write", p, key); err != nil {
		return err
	}

	var oldSize int64
	if existing, ok := a.files[key]; ok {
		oldSize = int64(len(existing.content))
	}
	newTotal := a.size - oldSize + int64(len(data))
	if a.maxSize > 0 && newTotal > a.maxSize {
		return &storagekit.PathError{Op: "write", Path: p, Err: ErrNoSpace}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = storagekit.ContentTypeOf(key, data)
	}

	a.files[key] = &memoryFile{
		content:     data,
		contentType: contentType,
		metadata:    opts.Metadata,
		modTime:     time.Now(),
	}
	a.size = newTotal
	return nil
}

// checkParent requires the parent of key to be a directory. Callers hold mu.
func (a *Adapter) checkParent(op, p, key string) error {
	parent := parentKey(key)
	if _, ok := a.dirs[parent]; ok {
		return nil
	}
	if _, ok := a.files[parent]; ok {
		return &storagekit.PathError{Op: op, Path: p, Err: storagekit.ErrNotDir}
	}
	return &storagekit.PathError{Op: op, Path: p, Err: storagekit.ErrNotExist}
}

// Create implements storagekit.FileWriter. Content is buffered and stored
// on Close.
func (a *Adapter) Create(ctx context.Context, p string, options ...storagekit.Option) (io.WriteCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	key := normalizePath(p)
	a.mu.RLock()
	_, isDir := a.dirs[key]
	err := a.checkParent("write", p, key)
	a.mu.RUnlock()
	if isDir {
		return nil, &storagekit.PathError{Op: "write", Path: p, Err: storagekit.ErrIsDir}
	}
	if err != nil {
		return nil, err
	}

	return &memoryWriter{a: a, path: p, opts: storagekit.ProcessOptions(options...)}, nil
}

type memoryWriter struct {
	a    *Adapter
	path string
	opts *storagekit.Options
	buf  bytes.Buffer
	done bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, storagekit.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *memoryWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.a.store(w.path, w.buf.Bytes(), w.opts)
}

// Abort implements storagekit.Aborter.
func (w *memoryWriter) Abort(error) error {
	w.done = true
	w.buf.Reset()
	return nil
}

// Read implements storagekit.FileReader
func (a *Adapter) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	key := normalizePath(p)

	a.mu.RLock()
	defer a.mu.RUnlock()

	file, ok := a.files[key]
	if !ok {
		if _, isDir := a.dirs[key]; isDir {
			return nil, &storagekit.PathError{Op: "read", Path: p, Err: storagekit.ErrIsDir}
		}
		return nil, &storagekit.PathError{Op: "read", Path: p, Err: storagekit.ErrNotExist}
	}

	// Stored slices are never mutated, so readers can share them.
	return io.NopCloser(bytes.NewReader(file.content)), nil
}

// Delete implements storagekit.FileWriter
func (a *Adapter) Delete(ctx context.Context, p string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	key := normalizePath(p)

	a.mu.Lock()
	defer a.mu.Unlock()

	file, ok := a.files[key]
	if !ok {
		if _, isDir := a.dirs[key]; isDir {
			return &storagekit.PathError{Op: "delete", Path: p, Err: storagekit.ErrIsDir}
		}
		return &storagekit.PathError{Op: "delete", Path: p, Err: storagekit.ErrNotExist}
	}

	a.size -= int64(len(file.content))
	delete(a.files, key)
	return nil
}

// Exists implements storagekit.FileReader
func (a *Adapter) Exists(ctx context.Context, p string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	key := normalizePath(p)

	a.mu.RLock()
	defer a.mu.RUnlock()

	_, isFile := a.files[key]
	_, isDir := a.dirs[key]
	return isFile || isDir, nil
}

// Stat implements storagekit.FileReader
func (a *Adapter) Stat(ctx context.Context, p string) (*storagekit.FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	key := normalizePath(p)
	rooted := strings.HasPrefix(p, "/")

	a.mu.RLock()
	defer a.mu.RUnlock()

	if file, ok := a.files[key]; ok {
		fi := fileInfo(key, file, rooted)
		return &fi, nil
	}
	if modTime, ok := a.dirs[key]; ok {
		fi := dirInfo(key, modTime, rooted)
		return &fi, nil
	}
	return nil, &storagekit.PathError{Op: "stat", Path: p, Err: storagekit.ErrNotExist}
}

func fileInfo(key string, file *memoryFile, rooted bool) storagekit.FileInfo {
	return storagekit.FileInfo{
		Name:        path.Base(key),
		Path:        display(key, rooted),
		Size:        int64(len(file.content)),
		ModTime:     file.modTime,
		Type:        storagekit.TypeFile,
		ContentType: file.contentType,
		Metadata:    file.metadata,
	}
}

func dirInfo(key string, modTime time.Time, rooted bool) storagekit.FileInfo {
	name := path.Base(key)
	if key == "" {
		name = "/"
	}
	return storagekit.FileInfo{
		Name:    name,
		Path:    display(key, rooted),
		Size:    0,
		ModTime: modTime,
		Type:    storagekit.TypeDirectory,
	}
}

// under reports whether key lies below dir, and whether it is a direct
// child.
func under(key, dir string) (below, direct bool) {
	if key == dir {
		return false, false
	}
	rel := key
	if dir != "" {
		if !strings.HasPrefix(key, dir+"/") {
			return false, false
		}
		rel = key[len(dir)+1:]
	}
	return true, !strings.Contains(rel, "/")
}

// ListContents implements storagekit.FileReader
func (a *Adapter) ListContents(ctx context.Context, p string, recursive bool) ([]storagekit.FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	key := normalizePath(p)
	rooted := strings.HasPrefix(p, "/")

	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, ok := a.dirs[key]; !ok {
		if _, isFile := a.files[key]; isFile {
			return nil, &storagekit.PathError{Op: "listcontents", Path: p, Err: storagekit.ErrNotDir}
		}
		return nil, &storagekit.PathError{Op: "listcontents", Path: p, Err: storagekit.ErrNotExist}
	}

	var files []storagekit.FileInfo
	for k, file := range a.files {
		if below, direct := under(k, key); below && (recursive || direct) {
			files = append(files, fileInfo(k, file, rooted))
		}
	}
	for k, modTime := range a.dirs {
		if below, direct := under(k, key); below && (recursive || direct) {
			files = append(files, dirInfo(k, modTime, rooted))
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// CreateDir implements storagekit.FileWriter
func (a *Adapter) CreateDir(ctx context.Context, p string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	key := normalizePath(p)

	a.mu.Lock()
	defer a.mu.Unlock()

	// Check every ancestor before creating any.
	for k := key; k != ""; k = parentKey(k) {
		if _, isFile := a.files[k]; isFile {
			return &storagekit.PathError{Op: "createdir", Path: p, Err: storagekit.ErrNotDir}
		}
	}

	now := time.Now()
	for k := key; k != ""; k = parentKey(k) {
		if _, ok := a.dirs[k]; ok {
			break
		}
		a.dirs[k] = now
	}
	return nil
}

// DeleteDir implements storagekit.FileWriter
func (a *Adapter) DeleteDir(ctx context.Context, p string, recursive bool) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	key := normalizePath(p)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.dirs[key]; !ok {
		if _, isFile := a.files[key]; isFile {
			return &storagekit.PathError{Op: "deletedir", Path: p, Err: storagekit.ErrNotDir}
		}
		return &storagekit.PathError{Op: "deletedir", Path: p, Err: storagekit.ErrNotExist}
	}
	if key == "" {
		return &storagekit.PathError{Op: "deletedir", Path: p, Err: storagekit.ErrNotAllowed}
	}

	var childFiles, childDirs []string
	for k := range a.files {
		if below, _ := under(k, key); below {
			childFiles = append(childFiles, k)
		}
	}
	for k := range a.dirs {
		if below, _ := under(k, key); below {
			childDirs = append(childDirs, k)
		}
	}

	if !recursive && len(childFiles)+len(childDirs) > 0 {
		return &storagekit.PathError{Op: "deletedir", Path: p, Err: storagekit.ErrNotEmpty}
	}

	for _, k := range childFiles {
		a.size -= int64(len(a.files[k].content))
		delete(a.files, k)
	}
	for _, k := range childDirs {
		delete(a.dirs, k)
	}
	delete(a.dirs, key)
	return nil
}

// Clear removes all files and directories
func (a *Adapter) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.files = make(map[string]*memoryFile)
	a.dirs = map[string]time.Time{"": time.Now()}
	a.size = 0
}

// Size returns the current total size of all files
func (a *Adapter) Size() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// FileCount returns the number of files
func (a *Adapter) FileCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.files)
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================

// Copy implements storagekit.CanCopy for in-memory file copying.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	a.mu.RLock()
	file, ok := a.files[normalizePath(src)]
	a.mu.RUnlock()
	if !ok {
		return &storagekit.PathError{Op: "copy", Path: src, Err: storagekit.ErrNotExist}
	}

	opts := &storagekit.Options{ContentType: file.contentType, Metadata: copyMetadata(file.metadata)}
	return a.store(dst, file.content, opts)
}

// Move implements storagekit.CanMove for in-memory file moving.
func (a *Adapter) Move(ctx context.Context, src, dst string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	srcKey, dstKey := normalizePath(src), normalizePath(dst)

	a.mu.Lock()
	defer a.mu.Unlock()

	file, ok := a.files[srcKey]
	if !ok {
		return &storagekit.PathError{Op: "move", Path: src, Err: storagekit.ErrNotExist}
	}
	if _, isDir := a.dirs[dstKey]; isDir {
		return &storagekit.PathError{Op: "move", Path: dst, Err: storagekit.ErrIsDir}
	}
	if err := a.checkParent("move", dst, dstKey); err != nil {
		return err
	}
	if existing, ok := a.files[dstKey]; ok && dstKey != srcKey {
		a.size -= int64(len(existing.content))
	}

	delete(a.files, srcKey)
	file.modTime = time.Now()
	a.files[dstKey] = file
	return nil
}

// Glob implements storagekit.CanGlob by matching every stored path.
func (a *Adapter) Glob(ctx context.Context, pattern string) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	rooted := strings.HasPrefix(pattern, "/")
	m, err := storagekit.CompileGlob(display(normalizePath(pattern), rooted))
	if err != nil {
		return nil, &storagekit.PathError{Op: "glob", Path: pattern, Err: err}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	var matches []string
	for k := range a.files {
		if p := display(k, rooted); m.Match(p) {
			matches = append(matches, p)
		}
	}
	for k := range a.dirs {
		if k == "" {
			continue
		}
		if p := display(k, rooted); m.Match(p) {
			matches = append(matches, p)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// Checksum implements storagekit.CanChecksum.
func (a *Adapter) Checksum(ctx context.Context, p string, algorithm storagekit.ChecksumAlgorithm) (string, error) {
	rc, err := a.Read(ctx, p)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	sum, err := storagekit.CalculateChecksum(rc, algorithm)
	if err != nil {
		return "", &storagekit.PathError{Op: "checksum", Path: p, Err: err}
	}
	return sum, nil
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Ensure Adapter implements required and optional interfaces
var (
	_ storagekit.FileSystem   = (*Adapter)(nil)
	_ storagekit.CanCopy      = (*Adapter)(nil)
	_ storagekit.CanMove      = (*Adapter)(nil)
	_ storagekit.CanGlob      = (*Adapter)(nil)
	_ storagekit.CanChecksum  = (*Adapter)(nil)
	_ storagekit.ImplicitDirs = (*Adapter)(nil)
	_ storagekit.Aborter      = (*memoryWriter)(nil)
)
