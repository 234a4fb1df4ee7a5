// Package sshfs mounts remote SFTP paths onto local directories with the
// sshfs and fusermount utilities.
package sshfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Spec describes a single mount.
type Spec struct {
	Host       string
	Port       int
	Username   string
	Password   string
	KeyFile    string
	RemotePath string
	MountPoint string

	// KnownHostsFile pins the server to the keys it lists. When empty,
	// ssh trusts an unknown host on first use (StrictHostKeyChecking=accept-new).
	KnownHostsFile string
}

// Mounter is the contract the storage handler relies on. Mount and Unmount
// are only called after IsMounted has been consulted, so implementations
// do not need to be idempotent themselves.
type Mounter interface {
	IsMounted(mountPoint string) (bool, error)
	Mount(ctx context.Context, spec Spec) error
	Unmount(ctx context.Context, mountPoint string) error
}

// Runner executes an external command, feeding stdin when non-nil, and
// returns its combined output.
type Runner func(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// DefaultMountPoint is the directory used when none is configured.
func DefaultMountPoint() string {
	return filepath.Join(os.TempDir(), "storagekit", "sshfs")
}

// Command mounts with the sshfs binary.
type Command struct {
	run       Runner
	logger    *slog.Logger
	isMounted func(string) (bool, error)
}

// Option configures Command.
type Option func(*Command)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(c *Command) {
		c.run = r
	}
}

// WithLogger sets the logger used for command failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Command) {
		c.logger = logger
	}
}

// WithMountCheck replaces the mount point detection.
func WithMountCheck(fn func(string) (bool, error)) Option {
	return func(c *Command) {
		c.isMounted = fn
	}
}

// New returns a Command mounter.
func New(opts ...Option) *Command {
	c := &Command{
		run:       ExecRunner,
		logger:    slog.New(slog.DiscardHandler),
		isMounted: IsMountPoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsMounted implements Mounter.
func (c *Command) IsMounted(mountPoint string) (bool, error) {
	return c.isMounted(mountPoint)
}

// Mount implements Mounter.
func (c *Command) Mount(ctx context.Context, spec Spec) error {
	args := mountArgs(spec)

	var stdin io.Reader
	if spec.Password != "" && spec.KeyFile == "" {
		stdin = strings.NewReader(spec.Password + "\n")
	}

	out, err := c.run(ctx, stdin, "sshfs", args...)
	if err != nil {
		c.logger.Error("sshfs mount failed", "path", spec.MountPoint, "output", strings.TrimSpace(string(out)), "err", err)
		return fmt.Errorf("sshfs %s@%s:%s: %w", spec.Username, spec.Host, spec.RemotePath, err)
	}
	return nil
}

// Unmount implements Mounter.
func (c *Command) Unmount(ctx context.Context, mountPoint string) error {
	name, args := unmountCommand(mountPoint)
	out, err := c.run(ctx, nil, name, args...)
	if err != nil {
		c.logger.Error("unmount failed", "path", mountPoint, "output", strings.TrimSpace(string(out)), "err", err)
		return fmt.Errorf("%s %s: %w", name, mountPoint, err)
	}
	return nil
}

func mountArgs(spec Spec) []string {
	remote := spec.RemotePath
	if remote == "" {
		remote = "/"
	}
	args := []string{
		fmt.Sprintf("%s@%s:%s", spec.Username, spec.Host, remote),
		spec.MountPoint,
	}
	if spec.Port != 0 {
		args = append(args, "-p", strconv.Itoa(spec.Port))
	}
	switch {
	case spec.KeyFile != "":
		args = append(args, "-o", "IdentityFile="+spec.KeyFile)
	case spec.Password != "":
		args = append(args, "-o", "password_stdin")
	}
	args = append(args, "-o", "reconnect")
	if spec.KnownHostsFile != "" {
		args = append(args, "-o", "UserKnownHostsFile="+spec.KnownHostsFile, "-o", "StrictHostKeyChecking=yes")
	} else {
		args = append(args, "-o", "StrictHostKeyChecking=accept-new")
	}
	return args
}

func unmountCommand(mountPoint string) (string, []string) {
	if runtime.GOOS == "darwin" {
		return "umount", []string{mountPoint}
	}
	return "fusermount", []string{"-u", mountPoint}
}
