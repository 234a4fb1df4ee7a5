package storagekit

import (
	"context"
	"fmt"
	"time"
)

// DefaultPresignExpiry is the lifetime used by callers that have no
// preference.
const DefaultPresignExpiry = time.Hour

// PresignedURL returns a time-limited download URL. Only object-store
// backends can sign URLs; others fail with ErrUnsupported.
func (h *Handler) PresignedURL(ctx context.Context, remotePath string, expiration time.Duration, relative bool) (string, error) {
	signer, ok := h.fs.(CanSignURL)
	if !ok {
		return "", h.unsupported("presign", remotePath)
	}
	if expiration <= 0 {
		return "", fmt.Errorf("%w: presign expiration must be positive, got %s", ErrConfiguration, expiration)
	}

	target, err := h.Resolve(remotePath, relative)
	if err != nil {
		return "", err
	}

	url, err := signer.SignedURL(ctx, target, expiration)
	if err != nil {
		h.logger.Error("failed to generate presigned url", "path", target, "err", err)
		return "", classify("presign", target, err)
	}
	return url, nil
}

// SetPermissions applies a canned ACL such as "public-read" to an object.
// Only object-store backends support ACLs; others fail with
// ErrUnsupported.
func (h *Handler) SetPermissions(ctx context.Context, remotePath, acl string, relative bool) error {
	setter, ok := h.fs.(CanSetACL)
	if !ok {
		return h.unsupported("setacl", remotePath)
	}

	target, err := h.Resolve(remotePath, relative)
	if err != nil {
		return err
	}

	if err := setter.SetACL(ctx, target, acl); err != nil {
		return classify("setacl", target, err)
	}
	h.logger.Info("set permissions", "path", target, "acl", acl)
	return nil
}

func (h *Handler) unsupported(op, p string) error {
	return &PathError{Op: op, Path: p, Err: fmt.Errorf("%w for protocol %s", ErrUnsupported, h.protocol)}
}
