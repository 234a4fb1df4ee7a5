// Package objpath splits the "bucket/key" paths object-store drivers
// receive.
package objpath

import (
	"errors"
	"path"
	"strings"
)

// ErrNoBucket is returned for paths without a bucket segment.
var ErrNoBucket = errors.New("path has no bucket")

// Split separates the bucket from the object key. The key is cleaned and
// has no leading or trailing slash; it is empty for the bucket root.
//
// Cleaning means keys containing empty, "." or ".." segments cannot be
// addressed; see Addressable.
func Split(p string) (bucket, key string, err error) {
	p = strings.TrimLeft(p, "/")
	bucket, key, _ = strings.Cut(p, "/")
	if bucket == "" {
		return "", "", ErrNoBucket
	}
	if key != "" {
		key = strings.Trim(path.Clean("/"+key), "/")
	}
	return bucket, key, nil
}

// Addressable reports whether a stored key survives Split unchanged, so
// the path listed for it reads back the same object. A trailing slash
// marking a directory object is ignored.
func Addressable(key string) bool {
	key = strings.TrimSuffix(key, "/")
	return key != "" && strings.Trim(path.Clean("/"+key), "/") == key
}

// Join is the inverse of Split.
func Join(bucket, key string) string {
	if key == "" {
		return bucket
	}
	return bucket + "/" + key
}

// DirPrefix returns the listing prefix for a directory key: key followed by
// a slash, or "" for the bucket root.
func DirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

// Base returns the last element of a key, ignoring a trailing slash.
func Base(key string) string {
	return path.Base(strings.TrimSuffix(key, "/"))
}
