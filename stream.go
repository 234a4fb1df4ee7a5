package storagekit

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync/atomic"
)

// DefaultChunkSize is used by StreamRead when chunkSize is not positive.
const DefaultChunkSize = 1 << 20

// StreamRead returns a single-use sequence of chunks read from a file.
// Every chunk except the last is exactly chunkSize bytes. The file is
// opened when iteration starts and closed when the sequence is exhausted,
// fails, or the caller stops ranging early. Open and read failures are
// yielded once as the final element.
func (h *Handler) StreamRead(ctx context.Context, remotePath string, chunkSize int, relative bool) iter.Seq2[[]byte, error] {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var started atomic.Bool

	return func(yield func([]byte, error) bool) {
		if !started.CompareAndSwap(false, true) {
			yield(nil, ErrStreamConsumed)
			return
		}

		target, err := h.Resolve(remotePath, relative)
		if err != nil {
			yield(nil, err)
			return
		}

		rc, err := h.fs.Read(ctx, target)
		if err != nil {
			yield(nil, classify("streamread", target, err))
			return
		}
		defer rc.Close()

		for {
			buf := make([]byte, chunkSize)
			n, err := io.ReadFull(rc, buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}
			switch {
			case err == nil:
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return
			default:
				yield(nil, classify("streamread", target, err))
				return
			}
		}
	}
}

// StreamWrite writes chunks to a file in order, creating parent
// directories as needed. Each chunk is handed to the backend before the
// next is requested. A chunk error aborts the write and is returned.
func (h *Handler) StreamWrite(ctx context.Context, remotePath string, chunks iter.Seq2[[]byte, error], relative bool) error {
	target, err := h.ResolveAndEnsureParent(ctx, remotePath, relative)
	if err != nil {
		return err
	}

	w, err := h.fs.Create(ctx, target)
	if err != nil {
		return classify("streamwrite", target, err)
	}

	for chunk, err := range chunks {
		if err != nil {
			abort(w, err)
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			abort(w, err)
			return classify("streamwrite", target, err)
		}
	}

	if err := w.Close(); err != nil {
		return classify("streamwrite", target, err)
	}
	return nil
}

// abort discards a partially written sink.
func abort(w io.WriteCloser, cause error) {
	if a, ok := w.(Aborter); ok {
		_ = a.Abort(cause)
		return
	}
	_ = w.Close()
}

// Chunks adapts a slice of chunks to the sequence StreamWrite consumes.
func Chunks(chunks ...[]byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}
