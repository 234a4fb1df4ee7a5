// Package storagekit gives one storage API over local files, SFTP, Google
// Cloud Storage and Amazon S3.
//
// A [Handler] binds a protocol to a base path. Every operation takes a
// relative flag: when set, the path is joined onto the base path and may
// not climb above it; when unset, the path is handed to the backend as is.
//
// # Opening a handler
//
// Drivers register themselves when imported:
//
//	import _ "github.com/gobeaver/storagekit/driver/all"
//
//	h, err := storagekit.Open(ctx, "s3://reports-bucket/2024",
//	    storagekit.WithClientOptions(map[string]string{"region_name": "eu-west-1"}),
//	    storagekit.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close()
//
//	err = h.Write(ctx, "summary.json", data, true)
//
// Settings are read from BEAVER_STORAGEKIT_* environment variables and can
// be overridden per handler with [WithConfig].
//
// # URLs
//
//   - file:///srv/data
//   - sftp://user@host:2222/home/user/data
//   - gs://bucket/prefix
//   - s3://bucket/prefix
//
// For gs and s3 the first path segment is the bucket. An sftp handler
// mounts the remote directory with sshfs unless native mode is selected
// with [WithNativeSFTP] or STORAGEKIT_SFTP_NATIVE, in which case it talks
// SFTP directly.
//
// # Capabilities
//
// Backends implement [FileSystem]. Optional features are separate
// interfaces checked with a type assertion:
//
//   - [CanSignURL] and [CanSetACL]: object stores only
//   - [CanLock]: the local backend, used by [Handler.SafeWrite]
//   - [CanCopy], [CanMove], [CanGlob], [CanChecksum]: faster paths with
//     generic fallbacks
//
// Operations the backend cannot perform fail with [ErrUnsupported].
//
// # Errors
//
// Handler errors match one of [ErrConfiguration], [ErrNotExist],
// [ErrDirectory], [ErrMount] or [ErrUnsupported] with errors.Is. Anything
// else the backend reports is returned as a [*BackendError]. Deleting a
// missing file or directory is not an error.
package storagekit
