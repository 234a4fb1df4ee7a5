package storagekit_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobeaver/storagekit"
	"github.com/gobeaver/storagekit/driver/memory"
)

var errInjected = errors.New("injected backend failure")

// plainFS exposes only the core contract, hiding every optional capability
// of the wrapped backend.
type plainFS struct {
	storagekit.FileSystem
}

// objectStoreFS stands in for an s3 or gs backend: no parent directories,
// signed URLs and ACLs.
type objectStoreFS struct {
	storagekit.FileSystem

	mu   sync.Mutex
	acls map[string]string
}

func newObjectStore() *objectStoreFS {
	return &objectStoreFS{FileSystem: memory.New(), acls: make(map[string]string)}
}

func (o *objectStoreFS) ImplicitDirs() bool { return true }

// Write creates the parent prefix on the strict inner store, the way an
// object store accepts any key.
func (o *objectStoreFS) Write(ctx context.Context, p string, r io.Reader, opts ...storagekit.Option) error {
	if err := o.FileSystem.CreateDir(ctx, path.Dir(p)); err != nil {
		return err
	}
	return o.FileSystem.Write(ctx, p, r, opts...)
}

func (o *objectStoreFS) Create(ctx context.Context, p string, opts ...storagekit.Option) (io.WriteCloser, error) {
	if err := o.FileSystem.CreateDir(ctx, path.Dir(p)); err != nil {
		return nil, err
	}
	return o.FileSystem.Create(ctx, p, opts...)
}

func (o *objectStoreFS) SignedURL(ctx context.Context, p string, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://signed.example.com/%s?expires=%d", p, int(expires.Seconds())), nil
}

func (o *objectStoreFS) SetACL(ctx context.Context, p, acl string) error {
	ok, err := o.Exists(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return &storagekit.PathError{Op: "setacl", Path: p, Err: storagekit.ErrNotExist}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acls[p] = acl
	return nil
}

func (o *objectStoreFS) acl(p string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.acls[p]
}

// faultyFS fails selected operations with errInjected.
type faultyFS struct {
	storagekit.FileSystem
	failWrite  bool
	failExists bool
	failMkdir  bool
}

func (f *faultyFS) Write(ctx context.Context, p string, r io.Reader, opts ...storagekit.Option) error {
	if f.failWrite {
		// Consume part of the body like a real upload would.
		_, _ = io.CopyN(io.Discard, r, 16)
		return errInjected
	}
	return f.FileSystem.Write(ctx, p, r, opts...)
}

func (f *faultyFS) Exists(ctx context.Context, p string) (bool, error) {
	if f.failExists {
		return false, errInjected
	}
	return f.FileSystem.Exists(ctx, p)
}

func (f *faultyFS) CreateDir(ctx context.Context, p string) error {
	if f.failMkdir {
		return errInjected
	}
	return f.FileSystem.CreateDir(ctx, p)
}

// trackingFS counts open read handles.
type trackingFS struct {
	storagekit.FileSystem
	open   atomic.Int32
	opened atomic.Int32
}

func (t *trackingFS) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	rc, err := t.FileSystem.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	t.open.Add(1)
	t.opened.Add(1)
	return &trackedReader{ReadCloser: rc, fs: t}, nil
}

type trackedReader struct {
	io.ReadCloser
	fs     *trackingFS
	closed atomic.Bool
}

func (r *trackedReader) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		r.fs.open.Add(-1)
	}
	return r.ReadCloser.Close()
}

// extraListFS appends raw entries to every listing and serves their content
// on Read, the way a hostile or buggy remote could name keys.
type extraListFS struct {
	storagekit.FileSystem
	extra []storagekit.FileInfo
}

func (f *extraListFS) ListContents(ctx context.Context, p string, recursive bool) ([]storagekit.FileInfo, error) {
	entries, err := f.FileSystem.ListContents(ctx, p, recursive)
	if err != nil {
		return nil, err
	}
	return append(entries, f.extra...), nil
}

func (f *extraListFS) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	for _, e := range f.extra {
		if e.Path == p {
			return io.NopCloser(strings.NewReader("planted")), nil
		}
	}
	return f.FileSystem.Read(ctx, p)
}

// fakeMounter records mount calls instead of running sshfs.
type fakeMounter struct {
	mu         sync.Mutex
	mounted    map[string]bool
	specs      []storagekit.MountSpec
	unmounts   int
	mountErr   error
	unmountErr error
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{mounted: make(map[string]bool)}
}

func (m *fakeMounter) IsMounted(mountPoint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted[mountPoint], nil
}

func (m *fakeMounter) Mount(ctx context.Context, spec storagekit.MountSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mountErr != nil {
		return m.mountErr
	}
	m.specs = append(m.specs, spec)
	m.mounted[spec.MountPoint] = true
	return nil
}

func (m *fakeMounter) Unmount(ctx context.Context, mountPoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unmountErr != nil {
		return m.unmountErr
	}
	m.unmounts++
	delete(m.mounted, mountPoint)
	return nil
}

// newMemoryHandler returns a file handler over an in-memory backend rooted
// at /data.
func newMemoryHandler(t *testing.T, opts ...storagekit.HandlerOption) (*storagekit.Handler, *memory.Adapter) {
	t.Helper()
	backend := memory.New()
	if err := backend.CreateDir(context.Background(), "/data"); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	h, err := storagekit.NewHandler(storagekit.ProtocolFile, "/data", backend, opts...)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h, backend
}

func newHandler(t *testing.T, protocol storagekit.Protocol, base string, fs storagekit.FileSystem) *storagekit.Handler {
	t.Helper()
	h, err := storagekit.NewHandler(protocol, base, fs)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}
