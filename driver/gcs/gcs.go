// Package gcs implements the gs protocol on Google Cloud Storage. Paths are
// "bucket/key".
package gcs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gobeaver/storagekit"
	"github.com/gobeaver/storagekit/internal/objpath"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const dirContentType = "application/x-directory"

// ClientFunc creates the storage client on first use.
type ClientFunc func(ctx context.Context) (*storage.Client, error)

// Adapter provides a Google Cloud Storage implementation of storagekit.FileSystem
type Adapter struct {
	newClient ClientFunc
	once      sync.Once
	client    *storage.Client
	clientErr error

	project string
	signer  *signer
}

type signer struct {
	accessID   string
	privateKey []byte
}

// AdapterOption is a function that configures GCS Adapter
type AdapterOption func(*Adapter)

// WithProject records the project the adapter works in.
func WithProject(project string) AdapterOption {
	return func(a *Adapter) {
		a.project = project
	}
}

// WithSigner signs URLs with an explicit service account key instead of the
// client's credentials.
func WithSigner(accessID string, privateKeyPEM []byte) AdapterOption {
	return func(a *Adapter) {
		a.signer = &signer{accessID: accessID, privateKey: privateKeyPEM}
	}
}

// New creates a new GCS filesystem adapter around an existing client.
func New(client *storage.Client, options ...AdapterOption) *Adapter {
	return NewLazy(func(context.Context) (*storage.Client, error) { return client, nil }, options...)
}

// NewLazy creates an adapter that builds its client on the first call that
// needs one. Construction never touches the network or credentials.
func NewLazy(newClient ClientFunc, options ...AdapterOption) *Adapter {
	a := &Adapter{newClient: newClient}
	for _, option := range options {
		option(a)
	}
	return a
}

// Project returns the configured project name.
func (a *Adapter) Project() string {
	return a.project
}

func (a *Adapter) bucket(ctx context.Context, op, p string) (*storage.BucketHandle, error) {
	a.once.Do(func() {
		a.client, a.clientErr = a.newClient(context.WithoutCancel(ctx))
	})
	if a.clientErr != nil {
		return nil, &storagekit.PathError{Op: op, Path: p, Err: fmt.Errorf("gcs client: %w", a.clientErr)}
	}
	bucket, _, _ := objpath.Split(p)
	return a.client.Bucket(bucket), nil
}

// Close closes the client if it was created.
func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// ImplicitDirs implements storagekit.ImplicitDirs. Keys need no parents.
func (a *Adapter) ImplicitDirs() bool {
	return true
}

func split(op, p string) (string, error) {
	_, key, err := objpath.Split(p)
	if err != nil {
		return "", &storagekit.PathError{Op: op, Path: p, Err: fmt.Errorf("%w: %w", storagekit.ErrInvalidName, err)}
	}
	return key, nil
}

func splitObject(op, p string) (string, error) {
	key, err := split(op, p)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", &storagekit.PathError{Op: op, Path: p, Err: storagekit.ErrIsDir}
	}
	return key, nil
}

// object resolves p to an object handle.
func (a *Adapter) object(ctx context.Context, op, p string) (*storage.ObjectHandle, string, error) {
	key, err := splitObject(op, p)
	if err != nil {
		return nil, "", err
	}
	bkt, err := a.bucket(ctx, op, p)
	if err != nil {
		return nil, "", err
	}
	return bkt.Object(key), key, nil
}

// Write implements storagekit.FileWriter
func (a *Adapter) Write(ctx context.Context, filePath string, content io.Reader, options ...storagekit.Option) error {
	w, err := a.Create(ctx, filePath, options...)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, content); err != nil {
		_ = w.(*objectWriter).Abort(err)
		return mapGCSError("write", filePath, err)
	}
	return w.Close()
}

// Create implements storagekit.FileWriter. The object is committed when the
// writer is closed.
func (a *Adapter) Create(ctx context.Context, filePath string, options ...storagekit.Option) (io.WriteCloser, error) {
	obj, _, err := a.object(ctx, "write", filePath)
	if err != nil {
		return nil, err
	}
	opts := storagekit.ProcessOptions(options...)

	wctx, cancel := context.WithCancel(ctx)
	writer := obj.NewWriter(wctx)
	if opts.ContentType != "" {
		writer.ContentType = opts.ContentType
	}
	if opts.CacheControl != "" {
		writer.CacheControl = opts.CacheControl
	}
	if len(opts.Metadata) > 0 {
		writer.Metadata = opts.Metadata
	}
	if opts.ACL != "" {
		writer.PredefinedACL = predefinedACL(opts.ACL)
	}
	return &objectWriter{w: writer, cancel: cancel, path: filePath}, nil
}

type objectWriter struct {
	w      *storage.Writer
	cancel context.CancelFunc
	path   string
}

func (o *objectWriter) Write(p []byte) (int, error) {
	return o.w.Write(p)
}

func (o *objectWriter) Close() error {
	defer o.cancel()
	if err := o.w.Close(); err != nil {
		return mapGCSError("write", o.path, err)
	}
	return nil
}

// Abort implements storagekit.Aborter. Cancelling the writer's context
// discards the upload.
func (o *objectWriter) Abort(error) error {
	o.cancel()
	_ = o.w.Close()
	return nil
}

// Read implements storagekit.FileReader
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	obj, _, err := a.object(ctx, "read", filePath)
	if err != nil {
		return nil, err
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, mapGCSError("read", filePath, err)
	}
	return reader, nil
}

// Delete implements storagekit.FileWriter
func (a *Adapter) Delete(ctx context.Context, filePath string) error {
	obj, key, err := a.object(ctx, "delete", filePath)
	if err != nil {
		return err
	}

	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			if dir, derr := a.isDir(ctx, filePath, key); derr == nil && dir {
				return &storagekit.PathError{Op: "delete", Path: filePath, Err: storagekit.ErrIsDir}
			}
		}
		return mapGCSError("delete", filePath, err)
	}
	return nil
}

// Exists implements storagekit.FileReader. A key counts as present when it
// is an object or a prefix of one.
func (a *Adapter) Exists(ctx context.Context, filePath string) (bool, error) {
	key, err := split("exists", filePath)
	if err != nil {
		return false, err
	}
	bkt, err := a.bucket(ctx, "exists", filePath)
	if err != nil {
		return false, err
	}

	if key == "" {
		if _, err := bkt.Attrs(ctx); err != nil {
			if errors.Is(err, storage.ErrBucketNotExist) {
				return false, nil
			}
			return false, mapGCSError("exists", filePath, err)
		}
		return true, nil
	}

	if _, err := bkt.Object(key).Attrs(ctx); err == nil {
		return true, nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return false, mapGCSError("exists", filePath, err)
	}

	dir, err := a.isDir(ctx, filePath, key)
	if err != nil {
		return false, mapGCSError("exists", filePath, err)
	}
	return dir, nil
}

// Stat implements storagekit.FileReader
func (a *Adapter) Stat(ctx context.Context, filePath string) (*storagekit.FileInfo, error) {
	key, err := split("stat", filePath)
	if err != nil {
		return nil, err
	}

	if key != "" {
		bkt, err := a.bucket(ctx, "stat", filePath)
		if err != nil {
			return nil, err
		}
		attrs, err := bkt.Object(key).Attrs(ctx)
		if err == nil {
			return &storagekit.FileInfo{
				Name:        objpath.Base(key),
				Path:        filePath,
				Size:        attrs.Size,
				ModTime:     attrs.Updated,
				Type:        storagekit.TypeFile,
				ContentType: attrs.ContentType,
				Metadata:    attrs.Metadata,
			}, nil
		}
		if !errors.Is(err, storage.ErrObjectNotExist) {
			return nil, mapGCSError("stat", filePath, err)
		}
	}

	exists, err := a.Exists(ctx, filePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &storagekit.PathError{Op: "stat", Path: filePath, Err: storagekit.ErrNotExist}
	}
	bucket, _, _ := objpath.Split(filePath)
	name := bucket
	if key != "" {
		name = objpath.Base(key)
	}
	return &storagekit.FileInfo{
		Name: name,
		Path: filePath,
		Size: -1,
		Type: storagekit.TypeDirectory,
	}, nil
}

// ListContents implements storagekit.FileReader
func (a *Adapter) ListContents(ctx context.Context, dirPath string, recursive bool) ([]storagekit.FileInfo, error) {
	key, err := split("listcontents", dirPath)
	if err != nil {
		return nil, err
	}
	bkt, err := a.bucket(ctx, "listcontents", dirPath)
	if err != nil {
		return nil, err
	}
	bucket, _, _ := objpath.Split(dirPath)
	prefix := objpath.DirPrefix(key)

	query := &storage.Query{Prefix: prefix}
	if !recursive {
		query.Delimiter = "/"
	}

	var (
		files      []storagekit.FileInfo
		seenPrefix bool
	)
	it := bkt.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapGCSError("listcontents", dirPath, err)
		}
		seenPrefix = true

		// Synthetic entries for common prefixes
		if attrs.Prefix != "" {
			name := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, prefix), "/")
			if name == "" || !objpath.Addressable(prefix+name) {
				continue
			}
			files = append(files, storagekit.FileInfo{
				Name: name,
				Path: objpath.Join(bucket, prefix+name),
				Size: -1,
				Type: storagekit.TypeDirectory,
			})
			continue
		}

		if attrs.Name == prefix || !objpath.Addressable(attrs.Name) {
			continue
		}

		fi := storagekit.FileInfo{
			Name:        objpath.Base(attrs.Name),
			Path:        objpath.Join(bucket, strings.TrimSuffix(attrs.Name, "/")),
			Size:        attrs.Size,
			ModTime:     attrs.Updated,
			Type:        storagekit.TypeFile,
			ContentType: attrs.ContentType,
			Metadata:    attrs.Metadata,
		}
		if strings.HasSuffix(attrs.Name, "/") || attrs.ContentType == dirContentType {
			fi.Type = storagekit.TypeDirectory
			fi.Size = -1
		}
		files = append(files, fi)
	}

	if !seenPrefix && key != "" {
		if _, err := bkt.Object(key).Attrs(ctx); err == nil {
			return nil, &storagekit.PathError{Op: "listcontents", Path: dirPath, Err: storagekit.ErrNotDir}
		}
		return nil, &storagekit.PathError{Op: "listcontents", Path: dirPath, Err: storagekit.ErrNotExist}
	}
	return files, nil
}

// CreateDir implements storagekit.FileWriter with a zero-byte placeholder
// object.
func (a *Adapter) CreateDir(ctx context.Context, dirPath string) error {
	key, err := split("createdir", dirPath)
	if err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	bkt, err := a.bucket(ctx, "createdir", dirPath)
	if err != nil {
		return err
	}

	writer := bkt.Object(objpath.DirPrefix(key)).NewWriter(ctx)
	writer.ContentType = dirContentType
	if err := writer.Close(); err != nil {
		return mapGCSError("createdir", dirPath, err)
	}
	return nil
}

// DeleteDir implements storagekit.FileWriter
func (a *Adapter) DeleteDir(ctx context.Context, dirPath string, recursive bool) error {
	key, err := split("deletedir", dirPath)
	if err != nil {
		return err
	}
	bkt, err := a.bucket(ctx, "deletedir", dirPath)
	if err != nil {
		return err
	}
	prefix := objpath.DirPrefix(key)

	var names []string
	it := bkt.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return mapGCSError("deletedir", dirPath, err)
		}
		if !recursive && attrs.Name != prefix {
			return &storagekit.PathError{Op: "deletedir", Path: dirPath, Err: storagekit.ErrNotEmpty}
		}
		names = append(names, attrs.Name)
	}

	if len(names) == 0 && key != "" {
		if _, err := bkt.Object(key).Attrs(ctx); err == nil {
			return &storagekit.PathError{Op: "deletedir", Path: dirPath, Err: storagekit.ErrNotDir}
		}
		return &storagekit.PathError{Op: "deletedir", Path: dirPath, Err: storagekit.ErrNotExist}
	}

	for _, name := range names {
		if err := bkt.Object(name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return mapGCSError("deletedir", dirPath, err)
		}
	}
	return nil
}

// isDir reports whether any object lives under key as a prefix.
func (a *Adapter) isDir(ctx context.Context, filePath, key string) (bool, error) {
	bkt, err := a.bucket(ctx, "exists", filePath)
	if err != nil {
		return false, err
	}
	it := bkt.Objects(ctx, &storage.Query{Prefix: objpath.DirPrefix(key)})
	_, err = it.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================

// Copy implements storagekit.CanCopy using GCS's server-side copy.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	srcObj, _, err := a.object(ctx, "copy", src)
	if err != nil {
		return err
	}
	dstObj, _, err := a.object(ctx, "copy", dst)
	if err != nil {
		return err
	}

	if _, err := dstObj.CopierFrom(srcObj).Run(ctx); err != nil {
		return mapGCSError("copy", src, err)
	}
	return nil
}

// Move implements storagekit.CanMove as copy followed by delete.
func (a *Adapter) Move(ctx context.Context, src, dst string) error {
	if err := a.Copy(ctx, src, dst); err != nil {
		return err
	}

	srcObj, _, _ := a.object(ctx, "move", src)
	if err := srcObj.Delete(ctx); err != nil {
		return mapGCSError("move", src, err)
	}
	return nil
}

// SignedURL implements storagekit.CanSignURL with a V4 signed GET.
func (a *Adapter) SignedURL(ctx context.Context, filePath string, expires time.Duration) (string, error) {
	key, err := splitObject("presign", filePath)
	if err != nil {
		return "", err
	}

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(expires),
	}

	if a.signer != nil {
		opts.GoogleAccessID = a.signer.accessID
		opts.PrivateKey = a.signer.privateKey
		bucket, _, _ := objpath.Split(filePath)
		url, err := storage.SignedURL(bucket, key, opts)
		if err != nil {
			return "", mapGCSError("presign", filePath, err)
		}
		return url, nil
	}

	bkt, err := a.bucket(ctx, "presign", filePath)
	if err != nil {
		return "", err
	}
	url, err := bkt.SignedURL(key, opts)
	if err != nil {
		return "", mapGCSError("presign", filePath, err)
	}
	return url, nil
}

// SetACL implements storagekit.CanSetACL with a predefined ACL. Both GCS
// names ("publicRead") and canned S3 names ("public-read") are accepted.
func (a *Adapter) SetACL(ctx context.Context, filePath string, acl string) error {
	predefined := predefinedACL(acl)
	if predefined == "" {
		return &storagekit.PathError{Op: "setacl", Path: filePath, Err: fmt.Errorf("%w: unknown predefined acl %q", storagekit.ErrConfiguration, acl)}
	}

	obj, _, err := a.object(ctx, "setacl", filePath)
	if err != nil {
		return err
	}
	if _, err := obj.Update(ctx, storage.ObjectAttrsToUpdate{PredefinedACL: predefined}); err != nil {
		return mapGCSError("setacl", filePath, err)
	}
	return nil
}

var predefinedACLs = map[string]string{
	"authenticatedRead":         "authenticatedRead",
	"authenticated-read":        "authenticatedRead",
	"bucketOwnerFullControl":    "bucketOwnerFullControl",
	"bucket-owner-full-control": "bucketOwnerFullControl",
	"bucketOwnerRead":           "bucketOwnerRead",
	"bucket-owner-read":         "bucketOwnerRead",
	"private":                   "private",
	"projectPrivate":            "projectPrivate",
	"project-private":           "projectPrivate",
	"publicRead":                "publicRead",
	"public-read":               "publicRead",
}

func predefinedACL(acl string) string {
	return predefinedACLs[acl]
}

// Checksum implements storagekit.CanChecksum. MD5 comes from object
// metadata when GCS has it (composite objects don't).
func (a *Adapter) Checksum(ctx context.Context, filePath string, algorithm storagekit.ChecksumAlgorithm) (string, error) {
	if algorithm == storagekit.ChecksumMD5 {
		obj, _, err := a.object(ctx, "checksum", filePath)
		if err != nil {
			return "", err
		}
		attrs, err := obj.Attrs(ctx)
		if err != nil {
			return "", mapGCSError("checksum", filePath, err)
		}
		if len(attrs.MD5) > 0 {
			return hex.EncodeToString(attrs.MD5), nil
		}
	}

	reader, err := a.Read(ctx, filePath)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	checksum, err := storagekit.CalculateChecksum(reader, algorithm)
	if err != nil {
		return "", &storagekit.PathError{Op: "checksum", Path: filePath, Err: err}
	}
	return checksum, nil
}

// mapGCSError maps GCS errors to storagekit errors
func mapGCSError(op, p string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &storagekit.PathError{Op: op, Path: p, Err: storagekit.ErrNotExist}
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return &storagekit.PathError{Op: op, Path: p, Err: storagekit.ErrNotExist}
		case http.StatusForbidden, http.StatusUnauthorized:
			return &storagekit.PathError{Op: op, Path: p, Err: fmt.Errorf("%w: %w", storagekit.ErrPermission, err)}
		}
	}
	return &storagekit.PathError{Op: op, Path: p, Err: err}
}

// Ensure Adapter implements required and optional interfaces
var (
	_ storagekit.FileSystem   = (*Adapter)(nil)
	_ storagekit.CanCopy      = (*Adapter)(nil)
	_ storagekit.CanMove      = (*Adapter)(nil)
	_ storagekit.CanSignURL   = (*Adapter)(nil)
	_ storagekit.CanSetACL    = (*Adapter)(nil)
	_ storagekit.CanChecksum  = (*Adapter)(nil)
	_ storagekit.ImplicitDirs = (*Adapter)(nil)
	_ storagekit.Aborter      = (*objectWriter)(nil)
	_ io.Closer               = (*Adapter)(nil)
)
