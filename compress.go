package storagekit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// CompressAndUpload gzips a local file into a temporary file next to it
// and uploads the result. The temporary file is removed whether or not the
// upload succeeds.
func (h *Handler) CompressAndUpload(ctx context.Context, localPath, remotePath string, relative bool) error {
	src, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &PathError{Op: "compress", Path: localPath, Err: ErrNotExist}
		}
		return classify("compress", localPath, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*.gz")
	if err != nil {
		return classify("compress", localPath, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := gzipTo(tmp, src); err != nil {
		tmp.Close()
		return classify("compress", localPath, err)
	}
	if err := tmp.Close(); err != nil {
		return classify("compress", localPath, err)
	}

	return h.Upload(ctx, tmpName, remotePath, relative)
}

func gzipTo(dst io.Writer, src io.Reader) error {
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// DownloadAndDecompress downloads a gzip file into a temporary file next
// to localPath and decompresses it into localPath. The temporary file is
// always removed.
func (h *Handler) DownloadAndDecompress(ctx context.Context, remotePath, localPath string, relative bool) error {
	target, err := h.Resolve(remotePath, relative)
	if err != nil {
		return err
	}

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &PathError{Op: "decompress", Path: dir, Err: fmt.Errorf("%w: %w", ErrDirectory, err)}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*.gz")
	if err != nil {
		return classify("decompress", localPath, err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	if err := h.downloadFile(ctx, target, tmpName); err != nil {
		return err
	}

	compressed, err := os.Open(tmpName)
	if err != nil {
		return classify("decompress", tmpName, err)
	}
	defer compressed.Close()

	zr, err := gzip.NewReader(compressed)
	if err != nil {
		return classify("decompress", target, err)
	}
	defer zr.Close()

	if err := writeLocalFile(localPath, zr); err != nil {
		return err
	}
	h.logger.Info("downloaded and decompressed file", "path", target, "local", localPath)
	return nil
}
