// Package sftp implements the native sftp protocol over an SSH connection.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"sync"

	"github.com/gobeaver/storagekit"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Adapter provides an SFTP implementation of storagekit.FileSystem
type Adapter struct {
	mu        sync.Mutex
	client    *sftp.Client
	sshConn   *ssh.Client
	agentConn net.Conn
	config    Config
}

// Config holds SFTP connection configuration
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// KeyFilename points to a PEM encoded private key. PrivateKey, when
	// set, takes precedence.
	KeyFilename string
	PrivateKey  []byte

	// AgentSocket is the ssh-agent socket. Defaults to $SSH_AUTH_SOCK.
	AgentSocket string

	// HostKeyCallback verifies the server. When nil, KnownHostsFiles are
	// used; with neither set ANY host key is accepted, which leaves the
	// connection open to man-in-the-middle attacks.
	HostKeyCallback ssh.HostKeyCallback

	// KnownHostsFiles are OpenSSH known_hosts files checked when
	// HostKeyCallback is nil.
	KnownHostsFiles []string
}

// New dials the server and starts an SFTP session.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: sftp host is required", storagekit.ErrConfiguration)
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.AgentSocket == "" {
		cfg.AgentSocket = os.Getenv("SSH_AUTH_SOCK")
	}

	a := &Adapter{config: cfg}
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// NewWithClient wraps an established SFTP session. Close closes client.
func NewWithClient(client *sftp.Client) *Adapter {
	return &Adapter{client: client}
}

// connect establishes SSH and SFTP connections
func (a *Adapter) connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	auth, err := a.authMethods()
	if err != nil {
		return err
	}

	hostKey, err := a.hostKeyCallback()
	if err != nil {
		a.closeAgent()
		return err
	}
	sshConfig := &ssh.ClientConfig{
		User:            a.config.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
	}

	addr := net.JoinHostPort(a.config.Host, strconv.Itoa(a.config.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		a.closeAgent()
		return fmt.Errorf("failed to connect to SSH: %w", err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		a.closeAgent()
		return fmt.Errorf("failed to connect to SSH: %w", err)
	}
	sshConn := ssh.NewClient(c, chans, reqs)

	// Create SFTP client
	sftpClient, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		a.closeAgent()
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}

	a.sshConn = sshConn
	a.client = sftpClient
	return nil
}

func (a *Adapter) hostKeyCallback() (ssh.HostKeyCallback, error) {
	switch {
	case a.config.HostKeyCallback != nil:
		return a.config.HostKeyCallback, nil
	case len(a.config.KnownHostsFiles) > 0:
		cb, err := knownhosts.New(a.config.KnownHostsFiles...)
		if err != nil {
			return nil, fmt.Errorf("%w: known_hosts: %w", storagekit.ErrConfiguration, err)
		}
		return cb, nil
	default:
		return ssh.InsecureIgnoreHostKey(), nil
	}
}

// authMethods tries the key, then the password, then the agent.
func (a *Adapter) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	key := a.config.PrivateKey
	if len(key) == 0 && a.config.KeyFilename != "" {
		data, err := os.ReadFile(a.config.KeyFilename)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read private key: %w", storagekit.ErrConfiguration, err)
		}
		key = data
	}
	if len(key) > 0 {
		signer, err := parseKey(key, a.config.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse private key: %w", storagekit.ErrConfiguration, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if a.config.Password != "" {
		methods = append(methods, ssh.Password(a.config.Password))
	}

	if a.config.AgentSocket != "" {
		conn, err := net.Dial("unix", a.config.AgentSocket)
		if err == nil {
			a.agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no sftp authentication method provided", storagekit.ErrConfiguration)
	}
	return methods, nil
}

// parseKey handles both plain keys and keys protected by the password.
func parseKey(key []byte, passphrase string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(key)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	return signer, err
}

func (a *Adapter) closeAgent() {
	if a.agentConn != nil {
		a.agentConn.Close()
		a.agentConn = nil
	}
}

// Close closes the SFTP and SSH connections
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			errs = append(errs, err)
		}
		a.client = nil
	}
	if a.sshConn != nil {
		if err := a.sshConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		a.sshConn = nil
	}
	a.closeAgent()
	return errors.Join(errs...)
}

// session returns the live client or ErrClosed. Lost connections are not
// re-established.
func (a *Adapter) session(op, p string) (*sftp.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil, &storagekit.PathError{Op: op, Path: p, Err: storagekit.ErrClosed}
	}
	return a.client, nil
}

// ImplicitDirs implements storagekit.ImplicitDirs.
func (a *Adapter) ImplicitDirs() bool {
	return false
}

// Write implements storagekit.FileWriter
func (a *Adapter) Write(ctx context.Context, filePath string, content io.Reader, options ...storagekit.Option) error {
	w, err := a.Create(ctx, filePath, options...)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, content); err != nil {
		_ = w.(*fileWriter).Abort(err)
		return mapSFTPError("write", filePath, err)
	}
	return w.Close()
}

// Create implements storagekit.FileWriter
func (a *Adapter) Create(ctx context.Context, filePath string, options ...storagekit.Option) (io.WriteCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	client, err := a.session("write", filePath)
	if err != nil {
		return nil, err
	}

	if info, err := client.Stat(filePath); err == nil && info.IsDir() {
		return nil, &storagekit.PathError{Op: "write", Path: filePath, Err: storagekit.ErrIsDir}
	}

	file, err := client.Create(filePath)
	if err != nil {
		return nil, mapSFTPError("write", filePath, err)
	}
	return &fileWriter{client: client, file: file, path: filePath}, nil
}

type fileWriter struct {
	client *sftp.Client
	file   *sftp.File
	path   string
}

func (w *fileWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *fileWriter) Close() error {
	if err := w.file.Close(); err != nil {
		return mapSFTPError("write", w.path, err)
	}
	return nil
}

// Abort implements storagekit.Aborter.
func (w *fileWriter) Abort(error) error {
	_ = w.file.Close()
	if err := w.client.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Read implements storagekit.FileReader
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	client, err := a.session("read", filePath)
	if err != nil {
		return nil, err
	}

	info, err := client.Stat(filePath)
	if err != nil {
		return nil, mapSFTPError("read", filePath, err)
	}
	if info.IsDir() {
		return nil, &storagekit.PathError{Op: "read", Path: filePath, Err: storagekit.ErrIsDir}
	}

	file, err := client.Open(filePath)
	if err != nil {
		return nil, mapSFTPError("read", filePath, err)
	}
	return file, nil
}

// Delete implements storagekit.FileWriter
func (a *Adapter) Delete(ctx context.Context, filePath string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	client, err := a.session("delete", filePath)
	if err != nil {
		return err
	}

	info, err := client.Stat(filePath)
	if err != nil {
		return mapSFTPError("delete", filePath, err)
	}
	if info.IsDir() {
		return &storagekit.PathError{Op: "delete", Path: filePath, Err: storagekit.ErrIsDir}
	}

	if err := client.Remove(filePath); err != nil {
		return mapSFTPError("delete", filePath, err)
	}
	return nil
}

// Exists implements storagekit.FileReader
func (a *Adapter) Exists(ctx context.Context, filePath string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	client, err := a.session("exists", filePath)
	if err != nil {
		return false, err
	}

	if _, err := client.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, mapSFTPError("exists", filePath, err)
	}
	return true, nil
}

// Stat implements storagekit.FileReader
func (a *Adapter) Stat(ctx context.Context, filePath string) (*storagekit.FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	client, err := a.session("stat", filePath)
	if err != nil {
		return nil, err
	}

	info, err := client.Stat(filePath)
	if err != nil {
		return nil, mapSFTPError("stat", filePath, err)
	}

	fi := toFileInfo(filePath, info)
	if fi.Type == storagekit.TypeFile {
		fi.ContentType = storagekit.ContentTypeOf(filePath, nil)
	}
	return &fi, nil
}

// ListContents implements storagekit.FileReader
func (a *Adapter) ListContents(ctx context.Context, dirPath string, recursive bool) ([]storagekit.FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	client, err := a.session("listcontents", dirPath)
	if err != nil {
		return nil, err
	}

	info, err := client.Stat(dirPath)
	if err != nil {
		return nil, mapSFTPError("listcontents", dirPath, err)
	}
	if !info.IsDir() {
		return nil, &storagekit.PathError{Op: "listcontents", Path: dirPath, Err: storagekit.ErrNotDir}
	}

	var files []storagekit.FileInfo
	if recursive {
		walker := client.Walk(dirPath)
		for walker.Step() {
			if err := walker.Err(); err != nil {
				return nil, mapSFTPError("listcontents", walker.Path(), err)
			}
			if walker.Path() == dirPath {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			files = append(files, toFileInfo(walker.Path(), walker.Stat()))
		}
		return files, nil
	}

	entries, err := client.ReadDir(dirPath)
	if err != nil {
		return nil, mapSFTPError("listcontents", dirPath, err)
	}
	files = make([]storagekit.FileInfo, 0, len(entries))
	for _, entry := range entries {
		files = append(files, toFileInfo(path.Join(dirPath, entry.Name()), entry))
	}
	return files, nil
}

// CreateDir implements storagekit.FileWriter
func (a *Adapter) CreateDir(ctx context.Context, dirPath string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	client, err := a.session("createdir", dirPath)
	if err != nil {
		return err
	}

	// MkdirAll treats an existing directory as success.
	if err := client.MkdirAll(dirPath); err != nil {
		return mapSFTPError("createdir", dirPath, err)
	}
	return nil
}

// DeleteDir implements storagekit.FileWriter
func (a *Adapter) DeleteDir(ctx context.Context, dirPath string, recursive bool) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	client, err := a.session("deletedir", dirPath)
	if err != nil {
		return err
	}

	info, err := client.Stat(dirPath)
	if err != nil {
		return mapSFTPError("deletedir", dirPath, err)
	}
	if !info.IsDir() {
		return &storagekit.PathError{Op: "deletedir", Path: dirPath, Err: storagekit.ErrNotDir}
	}

	if recursive {
		if err := client.RemoveAll(dirPath); err != nil {
			return mapSFTPError("deletedir", dirPath, err)
		}
		return nil
	}

	entries, err := client.ReadDir(dirPath)
	if err != nil {
		return mapSFTPError("deletedir", dirPath, err)
	}
	if len(entries) > 0 {
		return &storagekit.PathError{Op: "deletedir", Path: dirPath, Err: storagekit.ErrNotEmpty}
	}
	if err := client.RemoveDirectory(dirPath); err != nil {
		return mapSFTPError("deletedir", dirPath, err)
	}
	return nil
}

func toFileInfo(p string, info os.FileInfo) storagekit.FileInfo {
	t := storagekit.TypeOther
	switch {
	case info.IsDir():
		t = storagekit.TypeDirectory
	case info.Mode().IsRegular():
		t = storagekit.TypeFile
	}
	return storagekit.FileInfo{
		Name:    info.Name(),
		Path:    p,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Type:    t,
	}
}

// mapSFTPError maps SFTP errors to storagekit errors
func mapSFTPError(op, p string, err error) error {
	var status *sftp.StatusError
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &storagekit.PathError{Op: op, Path: p, Err: storagekit.ErrNotExist}
	case errors.Is(err, os.ErrPermission):
		return &storagekit.PathError{Op: op, Path: p, Err: storagekit.ErrPermission}
	case errors.As(err, &status) && status.FxCode() == sftp.ErrSSHFxNoSuchFile:
		return &storagekit.PathError{Op: op, Path: p, Err: storagekit.ErrNotExist}
	}
	return &storagekit.PathError{Op: op, Path: p, Err: err}
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================

// Copy implements storagekit.CanCopy by streaming through the client.
// SFTP has no server-side copy.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	rc, err := a.Read(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()

	client, err := a.session("copy", dst)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(path.Dir(dst)); err != nil {
		return mapSFTPError("copy", dst, err)
	}
	return a.Write(ctx, dst, rc)
}

// Move implements storagekit.CanMove using SFTP's native Rename.
func (a *Adapter) Move(ctx context.Context, src, dst string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	client, err := a.session("move", src)
	if err != nil {
		return err
	}

	if err := client.MkdirAll(path.Dir(dst)); err != nil {
		return mapSFTPError("move", dst, err)
	}

	// Plain rename refuses to replace an existing target.
	if err := client.PosixRename(src, dst); err != nil {
		if err := client.Rename(src, dst); err != nil {
			return mapSFTPError("move", src, err)
		}
	}
	return nil
}

// Checksum implements storagekit.CanChecksum by reading and hashing the file.
func (a *Adapter) Checksum(ctx context.Context, filePath string, algorithm storagekit.ChecksumAlgorithm) (string, error) {
	reader, err := a.Read(ctx, filePath)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	checksum, err := storagekit.CalculateChecksum(reader, algorithm)
	if err != nil {
		return "", &storagekit.PathError{Op: "checksum", Path: filePath, Err: err}
	}
	return checksum, nil
}

// Ensure Adapter implements required and optional interfaces
var (
	_ storagekit.FileSystem   = (*Adapter)(nil)
	_ storagekit.CanCopy      = (*Adapter)(nil)
	_ storagekit.CanMove      = (*Adapter)(nil)
	_ storagekit.CanChecksum  = (*Adapter)(nil)
	_ storagekit.ImplicitDirs = (*Adapter)(nil)
	_ io.Closer               = (*Adapter)(nil)
)
