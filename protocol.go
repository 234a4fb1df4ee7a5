package storagekit

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Protocol identifies a storage backend.
type Protocol string

const (
	ProtocolFile Protocol = "file"
	ProtocolSFTP Protocol = "sftp"
	ProtocolGS   Protocol = "gs"
	ProtocolS3   Protocol = "s3"
)

// SupportedProtocols lists every protocol Open accepts.
var SupportedProtocols = []Protocol{ProtocolFile, ProtocolSFTP, ProtocolGS, ProtocolS3}

// Supported reports whether p is in the supported set.
func (p Protocol) Supported() bool {
	for _, s := range SupportedProtocols {
		if p == s {
			return true
		}
	}
	return false
}

// ObjectStore reports whether p addresses a bucket-based object store.
func (p Protocol) ObjectStore() bool {
	return p == ProtocolGS || p == ProtocolS3
}

func (p Protocol) String() string {
	return string(p)
}

// ParseStorageURL splits "<protocol>://<path>" and validates the protocol.
// The returned path has trailing slashes removed.
func ParseStorageURL(storageURL string) (Protocol, string, error) {
	scheme, rest, found := strings.Cut(storageURL, "://")
	if !found {
		return "", "", fmt.Errorf("%w: storage url %q has no protocol", ErrConfiguration, storageURL)
	}

	protocol := Protocol(scheme)
	if !protocol.Supported() {
		return "", "", fmt.Errorf("%w: unsupported protocol: %s", ErrConfiguration, scheme)
	}

	return protocol, trimTrailingSlash(rest), nil
}

// sftpAuthority is the optional "user@host:port" head of an sftp url.
type sftpAuthority struct {
	username string
	host     string
	port     int
}

// splitSFTPPath separates an optional authority from the remote path. A
// rest that starts with "/" carries no authority.
func splitSFTPPath(rest string) (sftpAuthority, string, error) {
	if rest == "" || strings.HasPrefix(rest, "/") {
		return sftpAuthority{}, rest, nil
	}

	authority, remote, _ := strings.Cut(rest, "/")
	remote = "/" + remote

	var auth sftpAuthority
	if user, hostport, ok := strings.Cut(authority, "@"); ok {
		auth.username = user
		authority = hostport
	}

	auth.host = authority
	if host, port, err := net.SplitHostPort(authority); err == nil {
		n, err := strconv.Atoi(port)
		if err != nil {
			return sftpAuthority{}, "", fmt.Errorf("%w: invalid sftp port %q", ErrConfiguration, port)
		}
		auth.host = host
		auth.port = n
	}

	return auth, trimTrailingSlash(remote), nil
}

func trimTrailingSlash(p string) string {
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" && strings.HasPrefix(p, "/") {
		return "/"
	}
	return trimmed
}
