package storagekit

import (
	"context"
)

// LockSuffix names the lock file that guards a SafeWrite target.
const LockSuffix = ".lock"

// SafeWrite writes data while holding an exclusive lock on
// "<resolved path>.lock". Writers that use SafeWrite on the same path never
// overlap. Only filesystem-like backends can lock; others fail with
// ErrUnsupported before any lock is attempted.
func (h *Handler) SafeWrite(ctx context.Context, remotePath string, data []byte, relative bool) (err error) {
	locker, ok := h.fs.(CanLock)
	if !ok {
		h.logger.Error("file locking is not supported for this backend", "protocol", h.protocol)
		return h.unsupported("safewrite", remotePath)
	}

	target, err := h.ResolveAndEnsureParent(ctx, remotePath, relative)
	if err != nil {
		return err
	}

	release, err := locker.Lock(ctx, target+LockSuffix)
	if err != nil {
		return classify("lock", target, err)
	}
	defer func() {
		if rerr := release(); rerr != nil && err == nil {
			err = classify("unlock", target, rerr)
		}
	}()

	if err := h.Write(ctx, target, data, false); err != nil {
		return err
	}
	h.logger.Info("safely wrote file", "path", target)
	return nil
}
