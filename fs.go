package storagekit

import (
	"context"
	"io"
	"time"
)

// FileType classifies a backend entry.
type FileType string

const (
	TypeFile      FileType = "file"
	TypeDirectory FileType = "directory"
	TypeOther     FileType = "other"
)

// FileInfo represents file/directory metadata as reported by a backend.
// A negative Size means the backend could not report one.
type FileInfo struct {
	Name        string
	Path        string
	Size        int64
	ModTime     time.Time
	Type        FileType
	ContentType string
	Metadata    map[string]string
}

// IsDir reports whether the entry is a directory.
func (fi FileInfo) IsDir() bool {
	return fi.Type == TypeDirectory
}

// ============================================================================
// Core Interfaces (Interface Segregation)
// ============================================================================
// Paths handed to a backend are fully qualified: for object stores the first
// segment is the bucket, for filesystem-like backends the path is used as is.

// FileReader provides read-only backend access.
type FileReader interface {
	// Read returns a stream for reading file content.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether a file or directory exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns file/directory metadata.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// ListContents lists directory contents.
	// If recursive is true, includes all descendants.
	ListContents(ctx context.Context, path string, recursive bool) ([]FileInfo, error)
}

// FileWriter provides write operations.
type FileWriter interface {
	// Write replaces the content at path with everything read from r.
	Write(ctx context.Context, path string, r io.Reader, opts ...Option) error

	// Create opens a sink at path. Content becomes visible when the sink
	// is closed without error.
	Create(ctx context.Context, path string, opts ...Option) (io.WriteCloser, error)

	// Delete removes a file.
	Delete(ctx context.Context, path string) error

	// CreateDir creates a directory and any missing parents. Creating an
	// existing directory is not an error.
	CreateDir(ctx context.Context, path string) error

	// DeleteDir removes a directory. Without recursive it fails with
	// ErrNotEmpty when the directory has children.
	DeleteDir(ctx context.Context, path string, recursive bool) error
}

// FileSystem provides full read-write backend access.
type FileSystem interface {
	FileReader
	FileWriter
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================
// Use type assertion to check if a backend supports a capability:
//
//	if signer, ok := fs.(CanSignURL); ok {
//	    url, err := signer.SignedURL(ctx, "bucket/report.pdf", time.Hour)
//	}

// CanCopy indicates the backend supports native copy operations.
type CanCopy interface {
	Copy(ctx context.Context, src, dst string) error
}

// CanMove indicates the backend supports native move/rename operations.
type CanMove interface {
	Move(ctx context.Context, src, dst string) error
}

// CanGlob indicates the backend can expand glob patterns itself.
type CanGlob interface {
	Glob(ctx context.Context, pattern string) ([]string, error)
}

// CanSignURL indicates the backend can generate pre-signed download URLs.
type CanSignURL interface {
	SignedURL(ctx context.Context, path string, expires time.Duration) (string, error)
}

// CanSetACL indicates the backend understands per-object access control
// policies such as "public-read" or "private".
type CanSetACL interface {
	SetACL(ctx context.Context, path string, acl string) error
}

// CanLock indicates the backend is filesystem-like and can take an
// exclusive advisory lock on a lock-file path. The returned release func
// must be called exactly once.
type CanLock interface {
	Lock(ctx context.Context, lockPath string) (release func() error, err error)
}

// ImplicitDirs is implemented by backends whose writes never need a parent
// directory to exist, such as object stores. The handler skips parent
// creation for them when ImplicitDirs returns true.
type ImplicitDirs interface {
	ImplicitDirs() bool
}

// Aborter is implemented by sinks returned from Create that can discard
// partially written content instead of committing it.
type Aborter interface {
	Abort(err error) error
}

// ============================================================================
// Checksum Interface
// ============================================================================

// ChecksumAlgorithm represents a supported checksum algorithm
type ChecksumAlgorithm string

const (
	ChecksumMD5    ChecksumAlgorithm = "md5"
	ChecksumSHA1   ChecksumAlgorithm = "sha1"
	ChecksumSHA256 ChecksumAlgorithm = "sha256"
	ChecksumSHA512 ChecksumAlgorithm = "sha512"
	ChecksumCRC32  ChecksumAlgorithm = "crc32"
	ChecksumXXHash ChecksumAlgorithm = "xxhash"
)

// CanChecksum indicates the backend can compute checksums without the
// caller streaming the content.
type CanChecksum interface {
	// Checksum returns the hex-encoded checksum of the file at path.
	Checksum(ctx context.Context, path string, algorithm ChecksumAlgorithm) (string, error)
}
