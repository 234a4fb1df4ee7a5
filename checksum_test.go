package storagekit_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gobeaver/storagekit"
	"github.com/gobeaver/storagekit/driver/memory"
)

func TestCalculateChecksum(t *testing.T) {
	tests := []struct {
		algorithm storagekit.ChecksumAlgorithm
		want      string
	}{
		{storagekit.ChecksumMD5, "5d41402abc4b2a76b9719d911017c592"},
		{storagekit.ChecksumSHA1, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"},
		{storagekit.ChecksumSHA256, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{storagekit.ChecksumCRC32, "3610a686"},
		{storagekit.ChecksumXXHash, "26c7827d889f6da3"},
	}

	for _, tt := range tests {
		t.Run(string(tt.algorithm), func(t *testing.T) {
			got, err := storagekit.CalculateChecksum(strings.NewReader("hello"), tt.algorithm)
			if err != nil {
				t.Fatalf("CalculateChecksum() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CalculateChecksum() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := storagekit.CalculateChecksum(strings.NewReader("hello"), "blake3"); !storagekit.IsUnsupported(err) {
		t.Errorf("CalculateChecksum(blake3) error = %v, want unsupported", err)
	}
}

func TestHandlerChecksum(t *testing.T) {
	ctx := context.Background()
	const sha = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	backends := []struct {
		name string
		fs   storagekit.FileSystem
	}{
		{name: "native", fs: memory.New()},
		{name: "streamed", fs: plainFS{memory.New()}},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			h := newHandler(t, storagekit.ProtocolFile, "/", b.fs)
			if err := h.Write(ctx, "greeting.txt", []byte("hello"), true); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			got, err := h.Checksum(ctx, "greeting.txt", storagekit.ChecksumSHA256, true)
			if err != nil {
				t.Fatalf("Checksum() error = %v", err)
			}
			if got != sha {
				t.Errorf("Checksum() = %s, want %s", got, sha)
			}

			if _, err := h.Checksum(ctx, "missing.txt", storagekit.ChecksumSHA256, true); !storagekit.IsNotExist(err) {
				t.Errorf("Checksum(missing) error = %v, want not exist", err)
			}
			if _, err := h.Checksum(ctx, "greeting.txt", "blake3", true); !errors.Is(err, storagekit.ErrNotSupported) {
				t.Errorf("Checksum(blake3) error = %v, want unsupported", err)
			}
		})
	}
}
