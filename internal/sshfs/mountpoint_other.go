//go:build !unix

package sshfs

import "errors"

// IsMountPoint is not available on this platform.
func IsMountPoint(dir string) (bool, error) {
	return false, errors.New("sshfs: mount detection is not supported on this platform")
}
