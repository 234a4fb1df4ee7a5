package storagekit

// Option represents a per-write option
type Option func(*Options)

// Options contains the settings a backend may honour when writing
type Options struct {
	// ContentType specifies the MIME type of the file
	ContentType string

	// Metadata contains additional metadata for the file
	Metadata map[string]string

	// CacheControl sets the Cache-Control header for the file
	CacheControl string

	// ACL sets a canned access control policy on object stores
	ACL string
}

// ProcessOptions applies options in order and returns the result.
func ProcessOptions(options ...Option) *Options {
	opts := &Options{}
	for _, option := range options {
		if option != nil {
			option(opts)
		}
	}
	return opts
}

// WithContentType sets the content type of the file
func WithContentType(contentType string) Option {
	return func(o *Options) {
		o.ContentType = contentType
	}
}

// WithMetadata sets additional metadata for the file
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) {
		o.Metadata = metadata
	}
}

// WithCacheControl sets the Cache-Control header
func WithCacheControl(cacheControl string) Option {
	return func(o *Options) {
		o.CacheControl = cacheControl
	}
}

// WithACL sets specific access control list settings
func WithACL(acl string) Option {
	return func(o *Options) {
		o.ACL = acl
	}
}
