package storagekit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/gobeaver/storagekit/internal/sshfs"
)

// Mounter binds a remote SFTP path onto a local directory. It is only used
// when an sftp handler runs in mount mode.
type Mounter = sshfs.Mounter

// MountSpec describes a single sshfs mount.
type MountSpec = sshfs.Spec

// Handler is a storage target: one backend, one base path. All operations
// resolve their paths against the base path unless called with
// relative=false.
type Handler struct {
	protocol Protocol
	basePath string
	fs       FileSystem
	logger   *slog.Logger

	// mount mode only
	mounter    Mounter
	mountPoint string

	closeMu       sync.Mutex
	backendClosed bool
	closed        bool
}

// HandlerOption configures Open and NewHandler.
type HandlerOption func(*handlerSettings)

type handlerSettings struct {
	env           *Config
	overrides     []Config
	clientOptions map[string]string
	nativeSFTP    bool
	logger        *slog.Logger
	mounter       Mounter
	mountPoint    string
}

// WithConfig overrides the environment defaults with every non-zero field
// of cfg. It may be given more than once; later values win.
func WithConfig(cfg Config) HandlerOption {
	return func(s *handlerSettings) {
		s.overrides = append(s.overrides, cfg)
	}
}

// WithEnvConfig replaces the environment-loaded defaults entirely.
func WithEnvConfig(cfg Config) HandlerOption {
	return func(s *handlerSettings) {
		s.env = &cfg
	}
}

// WithClientOptions passes backend client settings through untouched.
// The s3 driver understands endpoint_url, region_name and addressing_style.
func WithClientOptions(opts map[string]string) HandlerOption {
	return func(s *handlerSettings) {
		if s.clientOptions == nil {
			s.clientOptions = make(map[string]string, len(opts))
		}
		for k, v := range opts {
			s.clientOptions[k] = v
		}
	}
}

// WithNativeSFTP selects the in-process SFTP client instead of an sshfs
// mount.
func WithNativeSFTP() HandlerOption {
	return func(s *handlerSettings) {
		s.nativeSFTP = true
	}
}

// WithLogger sets the diagnostic sink. Without it diagnostics are dropped.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(s *handlerSettings) {
		s.logger = logger
	}
}

// WithMounter replaces the sshfs mounter used in mount mode.
func WithMounter(m Mounter) HandlerOption {
	return func(s *handlerSettings) {
		s.mounter = m
	}
}

// WithMountPoint sets the local directory used in mount mode.
func WithMountPoint(dir string) HandlerOption {
	return func(s *handlerSettings) {
		s.mountPoint = dir
	}
}

func newSettings(opts []HandlerOption) *handlerSettings {
	s := &handlerSettings{}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Open parses storageURL ("<protocol>://<path>") and connects to the
// backend it names. Drivers must be registered by importing their packages,
// for example github.com/gobeaver/storagekit/driver/all.
func Open(ctx context.Context, storageURL string, opts ...HandlerOption) (*Handler, error) {
	protocol, rest, err := ParseStorageURL(storageURL)
	if err != nil {
		return nil, err
	}

	s := newSettings(opts)
	cfg, err := s.resolveConfig()
	if err != nil {
		return nil, err
	}

	h := &Handler{
		protocol: protocol,
		basePath: rest,
		logger:   s.logger,
	}

	switch protocol {
	case ProtocolFile:
		if cfg.FileMount != "" {
			h.basePath = cfg.FileMount
		}
	case ProtocolSFTP:
		auth, remote, err := splitSFTPPath(rest)
		if err != nil {
			return nil, err
		}
		applyAuthority(&cfg, auth)
		h.basePath = remote
		if !s.nativeSFTP && !cfg.SFTPNative {
			if err := h.openMounted(ctx, s, cfg, remote); err != nil {
				return nil, err
			}
			h.logInitialized()
			return h, nil
		}
		if cfg.SFTPHost == "" {
			return nil, fmt.Errorf("%w: host must be provided for the sftp protocol", ErrConfiguration)
		}
	}

	fs, err := CreateDriver(ctx, &Target{
		Protocol:      protocol,
		BasePath:      h.basePath,
		Config:        cfg,
		ClientOptions: s.clientOptions,
	})
	if err != nil {
		return nil, wrapConstructErr(protocol, err)
	}
	h.fs = fs

	h.logInitialized()
	return h, nil
}

// NewHandler wraps an already constructed backend.
func NewHandler(protocol Protocol, basePath string, fs FileSystem, opts ...HandlerOption) (*Handler, error) {
	if !protocol.Supported() {
		return nil, fmt.Errorf("%w: unsupported protocol: %s", ErrConfiguration, protocol)
	}
	if fs == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrConfiguration)
	}

	s := newSettings(opts)
	h := &Handler{
		protocol: protocol,
		basePath: trimTrailingSlash(basePath),
		fs:       fs,
		logger:   s.logger,
	}
	return h, nil
}

func (s *handlerSettings) resolveConfig() (Config, error) {
	var cfg Config
	if s.env != nil {
		cfg = *s.env
	} else {
		loaded, err := LoadConfig()
		if err != nil {
			return Config{}, fmt.Errorf("%w: load environment: %w", ErrConfiguration, err)
		}
		cfg = *loaded
	}
	for _, o := range s.overrides {
		cfg.merge(o)
	}
	if cfg.SFTPPort == 0 {
		cfg.SFTPPort = 22
	}
	return cfg, nil
}

// applyAuthority fills sftp settings still unset from the url authority.
func applyAuthority(cfg *Config, auth sftpAuthority) {
	if cfg.SFTPHost == "" {
		cfg.SFTPHost = auth.host
	}
	if cfg.SFTPUsername == "" {
		cfg.SFTPUsername = auth.username
	}
	if auth.port != 0 && cfg.SFTPPort == 22 {
		cfg.SFTPPort = auth.port
	}
}

func wrapConstructErr(protocol Protocol, err error) error {
	if errors.Is(err, ErrConfiguration) {
		return err
	}
	return &BackendError{Op: "open", Path: string(protocol), Err: err}
}

// openMounted mounts the remote path and rebinds the handler to the local
// backend rooted at the mount point.
func (h *Handler) openMounted(ctx context.Context, s *handlerSettings, cfg Config, remote string) error {
	if cfg.SFTPUsername == "" || cfg.SFTPHost == "" {
		return fmt.Errorf("%w: username and host must be provided for sshfs mounts", ErrConfiguration)
	}

	mountPoint := s.mountPoint
	if mountPoint == "" {
		mountPoint = cfg.SSHFSMountPoint
	}
	if mountPoint == "" {
		mountPoint = sshfs.DefaultMountPoint()
	}

	mounter := s.mounter
	if mounter == nil {
		mounter = sshfs.New(sshfs.WithLogger(h.logger))
	}

	mounted, err := mounter.IsMounted(mountPoint)
	if err != nil {
		return &PathError{Op: "mount", Path: mountPoint, Err: fmt.Errorf("%w: %w", ErrMount, err)}
	}
	if mounted {
		if err := mounter.Unmount(ctx, mountPoint); err != nil {
			return &PathError{Op: "unmount", Path: mountPoint, Err: fmt.Errorf("%w: %w", ErrMount, err)}
		}
	}
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return &PathError{Op: "mount", Path: mountPoint, Err: fmt.Errorf("%w: %w", ErrMount, err)}
	}

	spec := MountSpec{
		Host:       cfg.SFTPHost,
		Port:       cfg.SFTPPort,
		Username:   cfg.SFTPUsername,
		Password:   cfg.SFTPPassword,
		KeyFile:    cfg.SFTPKeyFilename,
		RemotePath: remote,
		MountPoint: mountPoint,

		KnownHostsFile: cfg.SFTPKnownHosts,
	}
	if err := mounter.Mount(ctx, spec); err != nil {
		return &PathError{Op: "mount", Path: mountPoint, Err: fmt.Errorf("%w: %w", ErrMount, err)}
	}

	fs, err := CreateDriver(ctx, &Target{
		Protocol: ProtocolFile,
		BasePath: mountPoint,
		Config:   cfg,
	})
	if err != nil {
		if uerr := mounter.Unmount(ctx, mountPoint); uerr != nil {
			h.logger.Error("unmount after failed open", "path", mountPoint, "err", uerr)
		}
		return wrapConstructErr(ProtocolFile, err)
	}

	h.protocol = ProtocolFile
	h.basePath = mountPoint
	h.fs = fs
	h.mounter = mounter
	h.mountPoint = mountPoint
	return nil
}

func (h *Handler) logInitialized() {
	h.logger.Info("storage handler initialized", "protocol", h.protocol, "base_path", h.basePath)
}

// Protocol returns the active protocol. A mount-mode sftp handler reports
// ProtocolFile.
func (h *Handler) Protocol() Protocol {
	return h.protocol
}

// BasePath returns the root relative operations are anchored to.
func (h *Handler) BasePath() string {
	return h.basePath
}

// Backend returns the backend the handler delegates to.
func (h *Handler) Backend() FileSystem {
	return h.fs
}

// Mounted reports whether the handler owns an sshfs mount.
func (h *Handler) Mounted() bool {
	return h.mounter != nil
}

// Close tears the handler down: it unmounts in mount mode and closes the
// backend when it holds a connection. A failed unmount is retried by the
// next Close; once Close succeeds, further calls are no-ops.
func (h *Handler) Close() error {
	h.closeMu.Lock()
	defer h.closeMu.Unlock()
	if h.closed {
		return nil
	}

	var errs []error
	if !h.backendClosed {
		h.backendClosed = true
		if c, ok := h.fs.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, classify("close", h.basePath, err))
			}
		}
	}
	if h.mounter != nil {
		if err := h.mounter.Unmount(context.Background(), h.mountPoint); err != nil {
			h.logger.Error("unmount failed", "path", h.mountPoint, "err", err)
			return errors.Join(append(errs, &PathError{Op: "unmount", Path: h.mountPoint, Err: fmt.Errorf("%w: %w", ErrMount, err)})...)
		}
	}
	h.closed = true
	return errors.Join(errs...)
}
