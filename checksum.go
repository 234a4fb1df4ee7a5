package storagekit

import (
	"context"
	"crypto/md5"  //nolint:gosec // MD5 used for checksum verification, not security
	"crypto/sha1" //nolint:gosec // SHA1 used for checksum verification, not security
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/cespare/xxhash/v2"
)

// NewHasher creates a new hash.Hash for the given algorithm.
// Returns an error if the algorithm is not supported.
func NewHasher(algorithm ChecksumAlgorithm) (hash.Hash, error) {
	switch algorithm {
	case ChecksumMD5:
		return md5.New(), nil //nolint:gosec // MD5 used for checksum verification, not security
	case ChecksumSHA1:
		return sha1.New(), nil //nolint:gosec // SHA1 used for checksum verification, not security
	case ChecksumSHA256:
		return sha256.New(), nil
	case ChecksumSHA512:
		return sha512.New(), nil
	case ChecksumCRC32:
		return crc32.NewIEEE(), nil
	case ChecksumXXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported checksum algorithm: %s", ErrUnsupported, algorithm)
	}
}

// CalculateChecksum reads from the reader and calculates the checksum using
// the specified algorithm. Returns the hex-encoded checksum string.
func CalculateChecksum(r io.Reader, algorithm ChecksumAlgorithm) (string, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Checksum returns the hex-encoded checksum of a file. Backends that
// implement CanChecksum compute it themselves; otherwise the content is
// streamed through the hasher.
func (h *Handler) Checksum(ctx context.Context, remotePath string, algorithm ChecksumAlgorithm, relative bool) (string, error) {
	target, err := h.Resolve(remotePath, relative)
	if err != nil {
		return "", err
	}

	if cs, ok := h.fs.(CanChecksum); ok {
		sum, err := cs.Checksum(ctx, target, algorithm)
		if err != nil {
			return "", classify("checksum", target, err)
		}
		return sum, nil
	}

	if _, err := NewHasher(algorithm); err != nil {
		return "", err
	}

	rc, err := h.fs.Read(ctx, target)
	if err != nil {
		return "", classify("checksum", target, err)
	}
	defer rc.Close()

	sum, err := CalculateChecksum(rc, algorithm)
	if err != nil {
		return "", classify("checksum", target, err)
	}
	return sum, nil
}
