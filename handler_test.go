package storagekit_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gobeaver/storagekit"
	"github.com/gobeaver/storagekit/driver/local"
	"github.com/gobeaver/storagekit/driver/memory"
)

func TestParseStorageURL(t *testing.T) {
	tests := []struct {
		url          string
		wantProtocol storagekit.Protocol
		wantPath     string
		wantErr      bool
	}{
		{url: "file:///var/data/", wantProtocol: storagekit.ProtocolFile, wantPath: "/var/data"},
		{url: "s3://my-bucket/prefix", wantProtocol: storagekit.ProtocolS3, wantPath: "my-bucket/prefix"},
		{url: "gs://bucket", wantProtocol: storagekit.ProtocolGS, wantPath: "bucket"},
		{url: "sftp://user@host/home", wantProtocol: storagekit.ProtocolSFTP, wantPath: "user@host/home"},
		{url: "file:///", wantProtocol: storagekit.ProtocolFile, wantPath: "/"},
		{url: "ftp://host/path", wantErr: true},
		{url: "/no/protocol", wantErr: true},
		{url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			protocol, p, err := storagekit.ParseStorageURL(tt.url)
			if tt.wantErr {
				if !errors.Is(err, storagekit.ErrConfiguration) {
					t.Fatalf("ParseStorageURL() error = %v, want ErrConfiguration", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStorageURL() error = %v", err)
			}
			if protocol != tt.wantProtocol {
				t.Errorf("protocol = %q, want %q", protocol, tt.wantProtocol)
			}
			if p != tt.wantPath {
				t.Errorf("path = %q, want %q", p, tt.wantPath)
			}
		})
	}
}

func TestOpenUnsupportedProtocol(t *testing.T) {
	_, err := storagekit.Open(context.Background(), "ftp://example.com/pub", storagekit.WithEnvConfig(storagekit.Config{}))
	if !errors.Is(err, storagekit.ErrConfiguration) {
		t.Fatalf("Open() error = %v, want ErrConfiguration", err)
	}
}

func TestOpenFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	h, err := storagekit.Open(ctx, "file://"+dir+"/", storagekit.WithEnvConfig(storagekit.Config{}))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	if h.Protocol() != storagekit.ProtocolFile {
		t.Errorf("Protocol() = %q, want file", h.Protocol())
	}
	if h.BasePath() != dir {
		t.Errorf("BasePath() = %q, want %q", h.BasePath(), dir)
	}
	if _, ok := h.Backend().(*local.Adapter); !ok {
		t.Errorf("Backend() = %T, want *local.Adapter", h.Backend())
	}

	if err := h.Write(ctx, "reports/q1.txt", []byte("quarterly"), true); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := h.Read(ctx, filepath.Join(dir, "reports", "q1.txt"), false)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(got) != "quarterly" {
		t.Errorf("Read() = %q, want quarterly", got)
	}
}

func TestOpenFileMountOverride(t *testing.T) {
	mount := t.TempDir()

	h, err := storagekit.Open(context.Background(), "file:///ignored/path",
		storagekit.WithEnvConfig(storagekit.Config{FileMount: "/from/env"}),
		storagekit.WithConfig(storagekit.Config{FileMount: mount}),
	)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	if h.BasePath() != mount {
		t.Errorf("BasePath() = %q, want %q", h.BasePath(), mount)
	}
}

func TestOpenNativeSFTPRequiresHost(t *testing.T) {
	_, err := storagekit.Open(context.Background(), "sftp:///upload",
		storagekit.WithEnvConfig(storagekit.Config{}),
		storagekit.WithNativeSFTP(),
	)
	if !errors.Is(err, storagekit.ErrConfiguration) {
		t.Fatalf("Open() error = %v, want ErrConfiguration", err)
	}
}

func TestOpenSFTPMountMode(t *testing.T) {
	ctx := context.Background()

	t.Run("mounts and rebinds to file", func(t *testing.T) {
		mounter := newFakeMounter()
		mountPoint := filepath.Join(t.TempDir(), "mnt")

		h, err := storagekit.Open(ctx, "sftp://deploy@files.example.com:2222/srv/upload",
			storagekit.WithEnvConfig(storagekit.Config{SFTPPassword: "secret"}),
			storagekit.WithMounter(mounter),
			storagekit.WithMountPoint(mountPoint),
		)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}

		if h.Protocol() != storagekit.ProtocolFile {
			t.Errorf("Protocol() = %q, want file", h.Protocol())
		}
		if h.BasePath() != mountPoint {
			t.Errorf("BasePath() = %q, want %q", h.BasePath(), mountPoint)
		}
		if !h.Mounted() {
			t.Error("Mounted() = false, want true")
		}
		if len(mounter.specs) != 1 {
			t.Fatalf("Mount called %d times, want 1", len(mounter.specs))
		}
		want := storagekit.MountSpec{
			Host:       "files.example.com",
			Port:       2222,
			Username:   "deploy",
			Password:   "secret",
			RemotePath: "/srv/upload",
			MountPoint: mountPoint,
		}
		if mounter.specs[0] != want {
			t.Errorf("MountSpec = %+v, want %+v", mounter.specs[0], want)
		}
		if mounter.unmounts != 0 {
			t.Errorf("Unmount called %d times before Close, want 0", mounter.unmounts)
		}

		if err := h.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if err := h.Close(); err != nil {
			t.Fatalf("second Close() error = %v", err)
		}
		if mounter.unmounts != 1 {
			t.Errorf("Unmount called %d times, want 1", mounter.unmounts)
		}
	})

	t.Run("remounts a stale mount", func(t *testing.T) {
		mounter := newFakeMounter()
		mountPoint := t.TempDir()
		mounter.mounted[mountPoint] = true

		h, err := storagekit.Open(ctx, "sftp://deploy@files.example.com/srv",
			storagekit.WithEnvConfig(storagekit.Config{}),
			storagekit.WithMounter(mounter),
			storagekit.WithMountPoint(mountPoint),
		)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer h.Close()

		if mounter.unmounts != 1 {
			t.Errorf("Unmount called %d times, want 1", mounter.unmounts)
		}
		if len(mounter.specs) != 1 || mounter.specs[0].Port != 22 {
			t.Errorf("specs = %+v, want one mount on port 22", mounter.specs)
		}
	})

	t.Run("mount failure", func(t *testing.T) {
		mounter := newFakeMounter()
		mounter.mountErr = errors.New("sshfs: exit status 1")

		_, err := storagekit.Open(ctx, "sftp://deploy@files.example.com/srv",
			storagekit.WithEnvConfig(storagekit.Config{}),
			storagekit.WithMounter(mounter),
			storagekit.WithMountPoint(t.TempDir()),
		)
		if !errors.Is(err, storagekit.ErrMount) {
			t.Fatalf("Open() error = %v, want ErrMount", err)
		}
	})

	t.Run("stale mount unmount failure", func(t *testing.T) {
		mounter := newFakeMounter()
		mountPoint := t.TempDir()
		mounter.mounted[mountPoint] = true
		mounter.unmountErr = errors.New("fusermount: device busy")

		_, err := storagekit.Open(ctx, "sftp://deploy@files.example.com/srv",
			storagekit.WithEnvConfig(storagekit.Config{}),
			storagekit.WithMounter(mounter),
			storagekit.WithMountPoint(mountPoint),
		)
		if !errors.Is(err, storagekit.ErrMount) {
			t.Fatalf("Open() error = %v, want ErrMount", err)
		}
		if len(mounter.specs) != 0 {
			t.Errorf("Mount called %d times over a busy mount, want 0", len(mounter.specs))
		}
	})

	t.Run("close retries a failed unmount", func(t *testing.T) {
		mounter := newFakeMounter()
		mountPoint := t.TempDir()

		h, err := storagekit.Open(ctx, "sftp://deploy@files.example.com/srv",
			storagekit.WithEnvConfig(storagekit.Config{}),
			storagekit.WithMounter(mounter),
			storagekit.WithMountPoint(mountPoint),
		)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}

		mounter.unmountErr = errors.New("fusermount: device busy")
		if err := h.Close(); !errors.Is(err, storagekit.ErrMount) {
			t.Fatalf("Close() error = %v, want ErrMount", err)
		}
		if !mounter.mounted[mountPoint] {
			t.Fatal("mount dropped after a failed unmount")
		}

		mounter.unmountErr = nil
		if err := h.Close(); err != nil {
			t.Fatalf("retried Close() error = %v", err)
		}
		if err := h.Close(); err != nil {
			t.Fatalf("third Close() error = %v", err)
		}
		if mounter.unmounts != 1 || mounter.mounted[mountPoint] {
			t.Errorf("unmounts = %d, mounted = %v; want 1, false", mounter.unmounts, mounter.mounted[mountPoint])
		}
	})

	t.Run("requires username", func(t *testing.T) {
		mounter := newFakeMounter()

		_, err := storagekit.Open(ctx, "sftp://files.example.com/srv",
			storagekit.WithEnvConfig(storagekit.Config{}),
			storagekit.WithMounter(mounter),
			storagekit.WithMountPoint(t.TempDir()),
		)
		if !errors.Is(err, storagekit.ErrConfiguration) {
			t.Fatalf("Open() error = %v, want ErrConfiguration", err)
		}
		if len(mounter.specs) != 0 {
			t.Errorf("Mount called %d times, want 0", len(mounter.specs))
		}
	})

	t.Run("config host wins over url", func(t *testing.T) {
		mounter := newFakeMounter()

		h, err := storagekit.Open(ctx, "sftp://deploy@url.example.com/srv",
			storagekit.WithEnvConfig(storagekit.Config{}),
			storagekit.WithConfig(storagekit.Config{SFTPHost: "config.example.com", SFTPUsername: "ops"}),
			storagekit.WithMounter(mounter),
			storagekit.WithMountPoint(t.TempDir()),
		)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer h.Close()

		spec := mounter.specs[0]
		if spec.Host != "config.example.com" || spec.Username != "ops" {
			t.Errorf("spec = %+v, want host config.example.com and user ops", spec)
		}
	})
}

func TestNewHandler(t *testing.T) {
	if _, err := storagekit.NewHandler("ftp", "/", memory.New()); !errors.Is(err, storagekit.ErrConfiguration) {
		t.Errorf("NewHandler(ftp) error = %v, want ErrConfiguration", err)
	}
	if _, err := storagekit.NewHandler(storagekit.ProtocolFile, "/", nil); !errors.Is(err, storagekit.ErrConfiguration) {
		t.Errorf("NewHandler(nil) error = %v, want ErrConfiguration", err)
	}

	h, err := storagekit.NewHandler(storagekit.ProtocolS3, "bucket/prefix/", memory.New())
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if h.BasePath() != "bucket/prefix" {
		t.Errorf("BasePath() = %q, want bucket/prefix", h.BasePath())
	}
	if h.Mounted() {
		t.Error("Mounted() = true, want false")
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
