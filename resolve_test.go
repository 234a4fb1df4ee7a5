package storagekit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gobeaver/storagekit"
	"github.com/gobeaver/storagekit/driver/memory"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		path     string
		relative bool
		want     string
		wantErr  bool
	}{
		{name: "relative join", base: "/data", path: "a/b.txt", relative: true, want: "/data/a/b.txt"},
		{name: "leading slash stays under base", base: "/data", path: "/a/b.txt", relative: true, want: "/data/a/b.txt"},
		{name: "empty path is base", base: "/data", path: "", relative: true, want: "/data"},
		{name: "inner dot dot", base: "/data", path: "a/../b", relative: true, want: "/data/b"},
		{name: "escape", base: "/data", path: "../etc/passwd", relative: true, wantErr: true},
		{name: "nested escape", base: "/data", path: "a/../../x", relative: true, wantErr: true},
		{name: "sibling with shared prefix", base: "/data", path: "../data2/x", relative: true, wantErr: true},
		{name: "root base", base: "/", path: "../x", relative: true, want: "/x"},
		{name: "bucket prefix", base: "bucket/prefix", path: "a.txt", relative: true, want: "bucket/prefix/a.txt"},
		{name: "bucket escape", base: "bucket", path: "../other/x", relative: true, wantErr: true},
		{name: "verbatim", base: "/data", path: "../anywhere/../x", relative: false, want: "../anywhere/../x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(t, storagekit.ProtocolFile, tt.base, memory.New())

			got, err := h.Resolve(tt.path, tt.relative)
			if tt.wantErr {
				if !errors.Is(err, storagekit.ErrConfiguration) {
					t.Fatalf("Resolve() error = %v, want ErrConfiguration", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveAndEnsureParent(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing parents", func(t *testing.T) {
		h, backend := newMemoryHandler(t)

		got, err := h.ResolveAndEnsureParent(ctx, "a/b/c.txt", true)
		if err != nil {
			t.Fatalf("ResolveAndEnsureParent() error = %v", err)
		}
		if got != "/data/a/b/c.txt" {
			t.Errorf("ResolveAndEnsureParent() = %q, want /data/a/b/c.txt", got)
		}
		info, err := backend.Stat(ctx, "/data/a/b")
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if !info.IsDir() {
			t.Errorf("parent type = %q, want directory", info.Type)
		}

		// Existing parents are fine.
		if _, err := h.ResolveAndEnsureParent(ctx, "a/b/d.txt", true); err != nil {
			t.Errorf("second ResolveAndEnsureParent() error = %v", err)
		}
	})

	t.Run("skips object stores", func(t *testing.T) {
		store := newObjectStore()
		h := newHandler(t, storagekit.ProtocolS3, "bucket", store)

		if _, err := h.ResolveAndEnsureParent(ctx, "a/b/c.txt", true); err != nil {
			t.Fatalf("ResolveAndEnsureParent() error = %v", err)
		}
		if ok, _ := store.Exists(ctx, "bucket/a"); ok {
			t.Error("object store got a directory marker")
		}
	})

	t.Run("parent creation failure", func(t *testing.T) {
		h := newHandler(t, storagekit.ProtocolFile, "/data", &faultyFS{FileSystem: memory.New(), failMkdir: true})

		_, err := h.ResolveAndEnsureParent(ctx, "a/b.txt", true)
		if !errors.Is(err, storagekit.ErrDirectory) {
			t.Fatalf("ResolveAndEnsureParent() error = %v, want ErrDirectory", err)
		}
	})

	t.Run("parent is a file", func(t *testing.T) {
		h, _ := newMemoryHandler(t)
		if err := h.Write(ctx, "blocker", []byte("x"), true); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		_, err := h.ResolveAndEnsureParent(ctx, "blocker/child.txt", true)
		if !errors.Is(err, storagekit.ErrDirectory) {
			t.Fatalf("ResolveAndEnsureParent() error = %v, want ErrDirectory", err)
		}
	})

	t.Run("escape", func(t *testing.T) {
		h, _ := newMemoryHandler(t)
		if _, err := h.ResolveAndEnsureParent(ctx, "../x", true); !errors.Is(err, storagekit.ErrConfiguration) {
			t.Errorf("ResolveAndEnsureParent() error = %v, want ErrConfiguration", err)
		}
	})
}
