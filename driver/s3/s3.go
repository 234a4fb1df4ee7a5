// Package s3 implements the s3 protocol on Amazon S3 and S3-compatible
// object stores. Paths are "bucket/key".
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gobeaver/storagekit"
	"github.com/gobeaver/storagekit/internal/objpath"
)

// dirContentType marks zero-byte directory placeholder objects.
const dirContentType = "application/x-directory"

// Adapter provides an S3 implementation of storagekit.FileSystem
type Adapter struct {
	client   *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
}

// AdapterOption is a function that configures Adapter
type AdapterOption func(*manager.Uploader)

// WithPartSize sets the multipart chunk size used for uploads.
func WithPartSize(size int64) AdapterOption {
	return func(u *manager.Uploader) {
		u.PartSize = size
	}
}

// WithConcurrency sets how many parts are uploaded in parallel.
func WithConcurrency(n int) AdapterOption {
	return func(u *manager.Uploader) {
		u.Concurrency = n
	}
}

// New creates a new S3 filesystem adapter
func New(client *s3.Client, options ...AdapterOption) *Adapter {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		for _, option := range options {
			option(u)
		}
	})
	return &Adapter{
		client:   client,
		presign:  s3.NewPresignClient(client),
		uploader: uploader,
	}
}

// ImplicitDirs implements storagekit.ImplicitDirs. Keys need no parents.
func (a *Adapter) ImplicitDirs() bool {
	return true
}

func split(op, p string) (string, string, error) {
	bucket, key, err := objpath.Split(p)
	if err != nil {
		return "", "", &storagekit.PathError{Op: op, Path: p, Err: fmt.Errorf("%w: %w", storagekit.ErrInvalidName, err)}
	}
	return bucket, key, nil
}

// splitObject is split for operations that need an object key.
func splitObject(op, p string) (string, string, error) {
	bucket, key, err := split(op, p)
	if err != nil {
		return "", "", err
	}
	if key == "" {
		return "", "", &storagekit.PathError{Op: op, Path: p, Err: storagekit.ErrIsDir}
	}
	return bucket, key, nil
}

func (a *Adapter) putInput(bucket, key string, body io.Reader, options []storagekit.Option) *s3.PutObjectInput {
	opts := storagekit.ProcessOptions(options...)

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}
	if opts.ACL != "" {
		input.ACL = types.ObjectCannedACL(opts.ACL)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			input.Metadata[k] = v
		}
	}
	return input
}

// Write implements storagekit.FileWriter. Bodies larger than one part are
// sent as a multipart upload.
func (a *Adapter) Write(ctx context.Context, filePath string, content io.Reader, options ...storagekit.Option) error {
	bucket, key, err := splitObject("write", filePath)
	if err != nil {
		return err
	}

	if _, err := a.uploader.Upload(ctx, a.putInput(bucket, key, content, options)); err != nil {
		return mapS3Error("write", filePath, err)
	}
	return nil
}

// Create implements storagekit.FileWriter. Written bytes are piped into an
// upload that completes on Close.
func (a *Adapter) Create(ctx context.Context, filePath string, options ...storagekit.Option) (io.WriteCloser, error) {
	bucket, key, err := splitObject("write", filePath)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	w := &uploadWriter{pw: pw, done: make(chan error, 1), path: filePath}
	input := a.putInput(bucket, key, pr, options)

	go func() {
		_, err := a.uploader.Upload(ctx, input)
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

type uploadWriter struct {
	pw     *io.PipeWriter
	done   chan error
	path   string
	closed bool
	err    error
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *uploadWriter) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	_ = w.pw.Close()
	if err := <-w.done; err != nil {
		w.err = mapS3Error("write", w.path, err)
	}
	return w.err
}

// Abort implements storagekit.Aborter. A failed body makes the uploader
// abandon any multipart upload it started.
func (w *uploadWriter) Abort(cause error) error {
	if w.closed {
		return nil
	}
	w.closed = true
	if cause == nil {
		cause = errors.New("upload aborted")
	}
	_ = w.pw.CloseWithError(cause)
	<-w.done
	return nil
}

// Read implements storagekit.FileReader
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	bucket, key, err := splitObject("read", filePath)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapS3Error("read", filePath, err)
	}
	return resp.Body, nil
}

// Delete implements storagekit.FileWriter. S3 accepts deletes of missing
// keys, so presence is checked first.
func (a *Adapter) Delete(ctx context.Context, filePath string) error {
	bucket, key, err := splitObject("delete", filePath)
	if err != nil {
		return err
	}

	if _, err := a.head(ctx, bucket, key); err != nil {
		if isNotFound(err) {
			if dir, derr := a.isDir(ctx, bucket, key); derr == nil && dir {
				return &storagekit.PathError{Op: "delete", Path: filePath, Err: storagekit.ErrIsDir}
			}
		}
		return mapS3Error("delete", filePath, err)
	}

	_, err = a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapS3Error("delete", filePath, err)
	}
	return nil
}

// Exists implements storagekit.FileReader. A key counts as present when it
// is an object or a prefix of one.
func (a *Adapter) Exists(ctx context.Context, filePath string) (bool, error) {
	bucket, key, err := split("exists", filePath)
	if err != nil {
		return false, err
	}

	if key == "" {
		_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if err != nil {
			if isNotFound(err) {
				return false, nil
			}
			return false, mapS3Error("exists", filePath, err)
		}
		return true, nil
	}

	if _, err := a.head(ctx, bucket, key); err == nil {
		return true, nil
	} else if !isNotFound(err) {
		return false, mapS3Error("exists", filePath, err)
	}

	dir, err := a.isDir(ctx, bucket, key)
	if err != nil {
		return false, mapS3Error("exists", filePath, err)
	}
	return dir, nil
}

// Stat implements storagekit.FileReader
func (a *Adapter) Stat(ctx context.Context, filePath string) (*storagekit.FileInfo, error) {
	bucket, key, err := split("stat", filePath)
	if err != nil {
		return nil, err
	}

	if key != "" {
		resp, err := a.head(ctx, bucket, key)
		if err == nil {
			metadata := make(map[string]string, len(resp.Metadata))
			for k, v := range resp.Metadata {
				metadata[k] = v
			}
			return &storagekit.FileInfo{
				Name:        objpath.Base(key),
				Path:        filePath,
				Size:        aws.ToInt64(resp.ContentLength),
				ModTime:     aws.ToTime(resp.LastModified),
				Type:        storagekit.TypeFile,
				ContentType: aws.ToString(resp.ContentType),
				Metadata:    metadata,
			}, nil
		}
		if !isNotFound(err) {
			return nil, mapS3Error("stat", filePath, err)
		}
	}

	exists, err := a.Exists(ctx, objpath.Join(bucket, key))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &storagekit.PathError{Op: "stat", Path: filePath, Err: storagekit.ErrNotExist}
	}
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

// ListContents implements storagekit.FileReader. Directory entries come
// from common prefixes; recursive listings report placeholder objects as
// directories.
func (a *Adapter) ListContents(ctx context.Context, dirPath string, recursive bool) ([]storagekit.FileInfo, error) {
	bucket, key, err := split("listcontents", dirPath)
	if err != nil {
		return nil, err
	}
	prefix := objpath.DirPrefix(key)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	var (
		files      []storagekit.FileInfo
		seenPrefix bool
	)
	paginator := s3.NewListObjectsV2Paginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error("listcontents", dirPath, err)
		}

		for _, p := range page.CommonPrefixes {
			seenPrefix = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), prefix), "/")
			if name == "" || !objpath.Addressable(prefix+name) {
				continue
			}
			files = append(files, storagekit.FileInfo{
				Name: name,
				Path: objpath.Join(bucket, prefix+name),
				Size: -1,
				Type: storagekit.TypeDirectory,
			})
		}

		for _, obj := range page.Contents {
			seenPrefix = true
			objKey := aws.ToString(obj.Key)
			if objKey == prefix || !objpath.Addressable(objKey) {
				continue
			}

			fi := storagekit.FileInfo{
				Name:    objpath.Base(objKey),
				Path:    objpath.Join(bucket, strings.TrimSuffix(objKey, "/")),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
				Type:    storagekit.TypeFile,
			}
			if strings.HasSuffix(objKey, "/") {
				fi.Type = storagekit.TypeDirectory
				fi.Size = -1
			}
			files = append(files, fi)
		}
	}

	if !seenPrefix && key != "" {
		if _, err := a.head(ctx, bucket, key); err == nil {
			return nil, &storagekit.PathError{Op: "listcontents", Path: dirPath, Err: storagekit.ErrNotDir}
		}
		return nil, &storagekit.PathError{Op: "listcontents", Path: dirPath, Err: storagekit.ErrNotExist}
	}
	return files, nil
}

// CreateDir implements storagekit.FileWriter with a zero-byte placeholder
// object. Putting an existing placeholder again is harmless.
func (a *Adapter) CreateDir(ctx context.Context, dirPath string) error {
	bucket, key, err := split("createdir", dirPath)
	if err != nil {
		return err
	}
	if key == "" {
		return nil
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(objpath.DirPrefix(key)),
		Body:        bytes.NewReader(nil),
		ContentType: aws.String(dirContentType),
	})
	if err != nil {
		return mapS3Error("createdir", dirPath, err)
	}
	return nil
}

// DeleteDir implements storagekit.FileWriter
func (a *Adapter) DeleteDir(ctx context.Context, dirPath string, recursive bool) error {
	bucket, key, err := split("deletedir", dirPath)
	if err != nil {
		return err
	}
	prefix := objpath.DirPrefix(key)

	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	found := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return mapS3Error("deletedir", dirPath, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		found = true

		if !recursive {
			for _, obj := range page.Contents {
				if aws.ToString(obj.Key) != prefix {
					return &storagekit.PathError{Op: "deletedir", Path: dirPath, Err: storagekit.ErrNotEmpty}
				}
			}
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		resp, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return mapS3Error("deletedir", dirPath, err)
		}
		if len(resp.Errors) > 0 {
			e := resp.Errors[0]
			return mapS3Error("deletedir", objpath.Join(bucket, aws.ToString(e.Key)),
				fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message)))
		}
	}

	if !found && key != "" {
		if _, err := a.head(ctx, bucket, key); err == nil {
			return &storagekit.PathError{Op: "deletedir", Path: dirPath, Err: storagekit.ErrNotDir}
		}
		return &storagekit.PathError{Op: "deletedir", Path: dirPath, Err: storagekit.ErrNotExist}
	}
	return nil
}

func (a *Adapter) head(ctx context.Context, bucket, key string) (*s3.HeadObjectOutput, error) {
	return a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
}

// isDir reports whether any object lives under key as a prefix.
func (a *Adapter) isDir(ctx context.Context, bucket, key string) (bool, error) {
	resp, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(objpath.DirPrefix(key)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(resp.Contents) > 0 || len(resp.CommonPrefixes) > 0, nil
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================

// Copy implements storagekit.CanCopy using server-side CopyObject.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	srcBucket, srcKey, err := splitObject("copy", src)
	if err != nil {
		return err
	}
	dstBucket, dstKey, err := splitObject("copy", dst)
	if err != nil {
		return err
	}

	_, err = a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		CopySource: aws.String(copySource(srcBucket, srcKey)),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return mapS3Error("copy", src, err)
	}
	return nil
}

// copySource formats the URL-encoded "bucket/key" CopyObject expects. Each
// key segment is escaped on its own so the separators survive; "+" is
// escaped too since some stores read it as a space.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = strings.ReplaceAll(url.PathEscape(seg), "+", "%2B")
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// Move implements storagekit.CanMove as CopyObject followed by DeleteObject.
func (a *Adapter) Move(ctx context.Context, src, dst string) error {
	if err := a.Copy(ctx, src, dst); err != nil {
		return err
	}

	bucket, key, _ := splitObject("move", src)
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapS3Error("move", src, err)
	}
	return nil
}

// SignedURL implements storagekit.CanSignURL with a presigned GET.
func (a *Adapter) SignedURL(ctx context.Context, filePath string, expires time.Duration) (string, error) {
	bucket, key, err := splitObject("presign", filePath)
	if err != nil {
		return "", err
	}

	request, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", mapS3Error("presign", filePath, err)
	}
	return request.URL, nil
}

// SetACL implements storagekit.CanSetACL with a canned ACL such as
// "public-read" or "private".
func (a *Adapter) SetACL(ctx context.Context, filePath string, acl string) error {
	bucket, key, err := splitObject("setacl", filePath)
	if err != nil {
		return err
	}

	canned := types.ObjectCannedACL(acl)
	if !slices.Contains(canned.Values(), canned) {
		return &storagekit.PathError{Op: "setacl", Path: filePath, Err: fmt.Errorf("%w: unknown canned acl %q", storagekit.ErrConfiguration, acl)}
	}

	_, err = a.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		ACL:    canned,
	})
	if err != nil {
		return mapS3Error("setacl", filePath, err)
	}
	return nil
}

// Checksum implements storagekit.CanChecksum. MD5 is answered from the ETag
// of single-part uploads; everything else streams the object.
func (a *Adapter) Checksum(ctx context.Context, filePath string, algorithm storagekit.ChecksumAlgorithm) (string, error) {
	if algorithm == storagekit.ChecksumMD5 {
		bucket, key, err := splitObject("checksum", filePath)
		if err != nil {
			return "", err
		}
		resp, err := a.head(ctx, bucket, key)
		if err != nil {
			return "", mapS3Error("checksum", filePath, err)
		}
		etag := strings.Trim(aws.ToString(resp.ETag), `"`)
		if len(etag) == 32 && !strings.Contains(etag, "-") {
			return etag, nil
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

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	if errors.As(err, &nsk) || errors.As(err, &notFound) || errors.As(err, &noBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

// mapS3Error maps S3 errors to storagekit errors
func mapS3Error(op, filePath string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isNotFound(err) {
		return &storagekit.PathError{Op: op, Path: filePath, Err: storagekit.ErrNotExist}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "AccessDenied" || apiErr.ErrorCode() == "Forbidden") {
		return &storagekit.PathError{Op: op, Path: filePath, Err: fmt.Errorf("%w: %w", storagekit.ErrPermission, err)}
	}
	return &storagekit.PathError{Op: op, Path: filePath, Err: err}
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
	_ storagekit.Aborter      = (*uploadWriter)(nil)
)
