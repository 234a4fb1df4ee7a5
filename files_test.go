package storagekit_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gobeaver/storagekit"
	"github.com/gobeaver/storagekit/driver/memory"
)

func TestWriteRead(t *testing.T) {
	ctx := context.Background()
	h, _ := newMemoryHandler(t)

	large := bytes.Repeat([]byte("0123456789abcdef"), 5<<16) // 5 MiB

	tests := []struct {
		name string
		path string
		data []byte
	}{
		{name: "empty", path: "empty.bin", data: []byte{}},
		{name: "one byte", path: "one.bin", data: []byte{0x7f}},
		{name: "text", path: "docs/readme.txt", data: []byte("hello world")},
		{name: "large", path: "blobs/deep/large.bin", data: large},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.Write(ctx, tt.path, tt.data, true); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			got, err := h.Read(ctx, tt.path, true)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Errorf("Read() returned %d bytes, want %d", len(got), len(tt.data))
			}
		})
	}

	t.Run("overwrite", func(t *testing.T) {
		if err := h.Write(ctx, "docs/readme.txt", []byte("v2"), true); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		got, _ := h.Read(ctx, "docs/readme.txt", true)
		if string(got) != "v2" {
			t.Errorf("Read() = %q, want v2", got)
		}
	})

	t.Run("absolute path", func(t *testing.T) {
		got, err := h.Read(ctx, "/data/docs/readme.txt", false)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if string(got) != "v2" {
			t.Errorf("Read() = %q, want v2", got)
		}
	})
}

func TestReadErrors(t *testing.T) {
	ctx := context.Background()
	h, _ := newMemoryHandler(t)

	_, err := h.Read(ctx, "missing.txt", true)
	if !storagekit.IsNotExist(err) {
		t.Errorf("Read(missing) error = %v, want not exist", err)
	}
	var pe *storagekit.PathError
	if !errors.As(err, &pe) || pe.Path != "/data/missing.txt" {
		t.Errorf("Read(missing) error = %#v, want PathError on /data/missing.txt", err)
	}

	if err := h.CreateDirectory(ctx, "dir", true); err != nil {
		t.Fatalf("CreateDirectory() error = %v", err)
	}
	_, err = h.Read(ctx, "dir", true)
	if !errors.Is(err, storagekit.ErrIsDir) {
		t.Errorf("Read(dir) error = %v, want ErrIsDir", err)
	}
	if !storagekit.IsBackendError(err) {
		t.Errorf("Read(dir) error = %T, want *BackendError", err)
	}

	if _, err := h.Read(ctx, "../../etc/passwd", true); !errors.Is(err, storagekit.ErrConfiguration) {
		t.Errorf("Read(escape) error = %v, want ErrConfiguration", err)
	}
}

func TestWriteFailure(t *testing.T) {
	h := newHandler(t, storagekit.ProtocolFile, "/data", &faultyFS{FileSystem: memory.New(), failWrite: true})

	err := h.Write(context.Background(), "a.txt", []byte("payload that is long enough"), true)
	if !errors.Is(err, errInjected) {
		t.Fatalf("Write() error = %v, want injected failure", err)
	}
	if !storagekit.IsBackendError(err) {
		t.Errorf("Write() error = %T, want *BackendError", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	h, backend := newMemoryHandler(t)

	if err := h.Write(ctx, "a.txt", []byte("a"), true); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := h.Delete(ctx, "a.txt", true); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if backend.FileCount() != 0 {
		t.Errorf("FileCount() = %d, want 0", backend.FileCount())
	}

	// Deleting again is a no-op.
	if err := h.Delete(ctx, "a.txt", true); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}

	if err := h.CreateDirectory(ctx, "dir", true); err != nil {
		t.Fatalf("CreateDirectory() error = %v", err)
	}
	if err := h.Delete(ctx, "dir", true); !errors.Is(err, storagekit.ErrIsDir) {
		t.Errorf("Delete(dir) error = %v, want ErrIsDir", err)
	}
}

func TestDeleteDirectory(t *testing.T) {
	ctx := context.Background()
	h, _ := newMemoryHandler(t)

	for _, p := range []string{"tree/a.txt", "tree/sub/b.txt"} {
		if err := h.Write(ctx, p, []byte(p), true); err != nil {
			t.Fatalf("Write(%s) error = %v", p, err)
		}
	}

	err := h.DeleteDirectory(ctx, "tree", true, false)
	if !errors.Is(err, storagekit.ErrNotEmpty) {
		t.Fatalf("DeleteDirectory(non-recursive) error = %v, want ErrNotEmpty", err)
	}

	if err := h.DeleteDirectory(ctx, "tree", true, true); err != nil {
		t.Fatalf("DeleteDirectory(recursive) error = %v", err)
	}
	if ok, _ := h.Exists(ctx, "tree/sub/b.txt", true); ok {
		t.Error("descendant survived recursive delete")
	}

	if err := h.DeleteDirectory(ctx, "tree", true, true); err != nil {
		t.Errorf("DeleteDirectory(missing) error = %v", err)
	}

	if err := h.CreateDirectory(ctx, "empty", true); err != nil {
		t.Fatalf("CreateDirectory() error = %v", err)
	}
	if err := h.DeleteDirectory(ctx, "empty", true, false); err != nil {
		t.Errorf("DeleteDirectory(empty) error = %v", err)
	}
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	h, _ := newMemoryHandler(t)

	if err := h.Write(ctx, "dir/file.txt", []byte("x"), true); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{path: "dir/file.txt", want: true},
		{path: "dir", want: true},
		{path: "", want: true},
		{path: "dir/other.txt", want: false},
	}
	for _, tt := range tests {
		got, err := h.Exists(ctx, tt.path, true)
		if err != nil {
			t.Fatalf("Exists(%q) error = %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("Exists(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	faulty := newHandler(t, storagekit.ProtocolFile, "/data", &faultyFS{FileSystem: memory.New(), failExists: true})
	ok, err := faulty.Exists(ctx, "file.txt", true)
	if ok || !storagekit.IsBackendError(err) {
		t.Errorf("Exists() = %v, %v; want false and a backend error", ok, err)
	}
}

func TestRenameCopy(t *testing.T) {
	ctx := context.Background()

	backends := []struct {
		name string
		fs   func() storagekit.FileSystem
	}{
		{name: "native", fs: func() storagekit.FileSystem { return memory.New() }},
		{name: "fallback", fs: func() storagekit.FileSystem { return plainFS{memory.New()} }},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			h := newHandler(t, storagekit.ProtocolFile, "/", b.fs())

			if err := h.Write(ctx, "src/a.txt", []byte("content"), true); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			if err := h.Copy(ctx, "src/a.txt", "copies/nested/a.txt", true); err != nil {
				t.Fatalf("Copy() error = %v", err)
			}
			got, err := h.Read(ctx, "copies/nested/a.txt", true)
			if err != nil || string(got) != "content" {
				t.Errorf("Read(copy) = %q, %v; want content", got, err)
			}
			if ok, _ := h.Exists(ctx, "src/a.txt", true); !ok {
				t.Error("Copy() removed the source")
			}

			if err := h.Rename(ctx, "src/a.txt", "moved/a.txt", true); err != nil {
				t.Fatalf("Rename() error = %v", err)
			}
			if ok, _ := h.Exists(ctx, "src/a.txt", true); ok {
				t.Error("Rename() kept the source")
			}
			got, err = h.Read(ctx, "moved/a.txt", true)
			if err != nil || string(got) != "content" {
				t.Errorf("Read(renamed) = %q, %v; want content", got, err)
			}

			if err := h.Rename(ctx, "src/missing.txt", "moved/b.txt", true); !storagekit.IsNotExist(err) {
				t.Errorf("Rename(missing) error = %v, want not exist", err)
			}
		})
	}
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	h, _ := newMemoryHandler(t)

	if err := h.Write(ctx, "reports/q1.json", []byte(`{"total":42}`), true); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	md, err := h.Metadata(ctx, "reports/q1.json", true)
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if md.Name != "q1.json" || md.Size != 12 || md.Type != storagekit.TypeFile {
		t.Errorf("Metadata() = %+v", md)
	}
	if md.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want application/json", md.ContentType)
	}
	if md.Modified.IsZero() {
		t.Error("Modified is zero")
	}

	md, err = h.Metadata(ctx, "reports", true)
	if err != nil {
		t.Fatalf("Metadata(dir) error = %v", err)
	}
	if md.Type != storagekit.TypeDirectory {
		t.Errorf("Metadata(dir).Type = %q, want directory", md.Type)
	}

	md, err = h.Metadata(ctx, "reports/missing.json", true)
	if err != nil || md != nil {
		t.Errorf("Metadata(missing) = %+v, %v; want nil, nil", md, err)
	}
}

func TestCreateDirectory(t *testing.T) {
	ctx := context.Background()
	h, _ := newMemoryHandler(t)

	for range 2 {
		if err := h.CreateDirectory(ctx, "a/b/c", true); err != nil {
			t.Fatalf("CreateDirectory() error = %v", err)
		}
	}
	if ok, _ := h.Exists(ctx, "a/b", true); !ok {
		t.Error("intermediate directory missing")
	}

	if err := h.Write(ctx, "file", nil, true); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := h.CreateDirectory(ctx, "file/sub", true); !errors.Is(err, storagekit.ErrNotDir) {
		t.Errorf("CreateDirectory(under file) error = %v, want ErrNotDir", err)
	}
}

func TestWriteOptions(t *testing.T) {
	ctx := context.Background()
	h, backend := newMemoryHandler(t)

	err := h.Write(ctx, "page", []byte("<p>hi</p>"), true,
		storagekit.WithContentType("text/html"),
		storagekit.WithMetadata(map[string]string{"owner": "ops"}),
	)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	info, err := backend.Stat(ctx, "/data/page")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.ContentType != "text/html" {
		t.Errorf("ContentType = %q, want text/html", info.ContentType)
	}
	if info.Metadata["owner"] != "ops" {
		t.Errorf("Metadata = %v, want owner=ops", info.Metadata)
	}
}
