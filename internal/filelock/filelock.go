// Package filelock provides an exclusive advisory lock backed by a lock file
// that exists only while the lock is held.
package filelock

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
)

// Suffix is appended to a target path to form its lock path.
const Suffix = ".lock"

// breakSuffix names the guard file waiters hold while breaking a stale lock.
const breakSuffix = ".break"

const (
	DefaultPollInterval = 50 * time.Millisecond
	DefaultStaleAfter   = 10 * time.Minute
)

// ErrLost is returned by release when the lock file no longer carries the
// holder's token, meaning another process broke the lock.
var ErrLost = errors.New("lock lost to another holder")

// Option configures Acquire.
type Option func(*locker)

type locker struct {
	fs         afero.Fs
	path       string
	poll       time.Duration
	staleAfter time.Duration
	now        func() time.Time
	token      string

	stop chan struct{}
	done chan struct{}
}

// WithPollInterval sets how often a held lock is re-checked.
func WithPollInterval(d time.Duration) Option {
	return func(l *locker) {
		l.poll = d
	}
}

// WithStaleAfter sets the age after which an abandoned lock file is
// broken. Zero disables stale lock breaking. Holders refresh the lock
// file's mtime well within this age.
func WithStaleAfter(d time.Duration) Option {
	return func(l *locker) {
		l.staleAfter = d
	}
}

// Acquire blocks until it creates lockPath exclusively or ctx ends. The
// returned release func removes the lock file if it still carries this
// holder's token, and fails with ErrLost otherwise.
//
// Lock content is "hostname pid timestamp token".
func Acquire(ctx context.Context, fs afero.Fs, lockPath string, opts ...Option) (release func() error, err error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}
	l := &locker{
		fs:         fs,
		path:       lockPath,
		poll:       DefaultPollInterval,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		token:      token,
	}
	for _, opt := range opts {
		opt(l)
	}

	var timer *time.Timer
	for {
		err := l.tryCreate()
		if err == nil {
			l.startHeartbeat()
			return l.release, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lock %s: %w", lockPath, err)
		}

		if l.breakIfStale() {
			continue
		}

		if timer == nil {
			timer = time.NewTimer(l.poll)
			defer timer.Stop()
		} else {
			timer.Reset(l.poll)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (l *locker) tryCreate() error {
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	host, _ := os.Hostname()
	fmt.Fprintf(f, "%s %d %s %s\n", host, os.Getpid(), l.now().Format(time.RFC3339), l.token)
	return f.Close()
}

// readToken returns the last field of the lock file at p.
func (l *locker) readToken(p string) (string, error) {
	data, err := afero.ReadFile(l.fs, p)
	if err != nil {
		return "", err
	}
	fields := bytes.Fields(data)
	if len(fields) == 0 {
		return "", nil
	}
	return string(fields[len(fields)-1]), nil
}

func (l *locker) owned() bool {
	token, err := l.readToken(l.path)
	return err == nil && token == l.token
}

// startHeartbeat keeps the lock file's mtime fresh while stale breaking is
// enabled, so a long write is never mistaken for an abandoned lock.
func (l *locker) startHeartbeat() {
	if l.staleAfter <= 0 {
		return
	}
	interval := max(l.staleAfter/4, time.Millisecond)
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				if !l.owned() {
					return
				}
				now := l.now()
				_ = l.fs.Chtimes(l.path, now, now)
			}
		}
	}()
}

// breakIfStale removes the lock file when its mtime is older than the stale
// age. It reports whether another attempt should be made right away.
//
// Breakers serialize on a guard file and re-check the lock under it, so a
// lock taken after the first break is never removed.
func (l *locker) breakIfStale() bool {
	if l.staleAfter <= 0 {
		return false
	}
	if age, ok := l.age(l.path); !ok || age < l.staleAfter {
		// Gone means released between our create and stat.
		return !ok
	}

	guard := l.path + breakSuffix
	f, err := l.fs.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		// A crashed breaker leaves its guard behind.
		if age, ok := l.age(guard); ok && age >= l.staleAfter {
			_ = l.fs.Remove(guard)
		}
		return false
	}
	f.Close()
	defer l.fs.Remove(guard)

	age, ok := l.age(l.path)
	if !ok {
		return true
	}
	if age < l.staleAfter {
		return false
	}
	if err := l.fs.Remove(l.path); err != nil {
		return os.IsNotExist(err)
	}
	return true
}

// age reports how long ago p was modified, and false when p is gone. A
// file that cannot be stat'ed counts as fresh.
func (l *locker) age(p string) (time.Duration, bool) {
	info, err := l.fs.Stat(p)
	if err != nil {
		return 0, !os.IsNotExist(err)
	}
	return l.now().Sub(info.ModTime()), true
}

func (l *locker) release() error {
	if l.stop != nil {
		close(l.stop)
		<-l.done
	}
	token, err := l.readToken(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("unlock %s: %w", l.path, ErrLost)
		}
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	if token != l.token {
		return fmt.Errorf("unlock %s: %w", l.path, ErrLost)
	}
	if err := l.fs.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return nil
}
