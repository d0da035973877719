// ABOUTME: Unix socket listener that yields one Session per accepted connection
// ABOUTME: Bind failures surface once from Listen; accept failures are retried

package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/2389/secret-agent/internal/session"
)

// DefaultMode is the permission applied to the socket file.
const DefaultMode os.FileMode = 0o600

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// ErrAgentRunning is returned when another process already serves the
// socket path.
var ErrAgentRunning = errors.New("an agent is already listening on the socket")

// Options tune Listen.
type Options struct {
	// Mode is applied to the socket file. Zero means DefaultMode.
	Mode os.FileMode
	// Provenance captures peer details for each accepted connection.
	// Nil means session.PeerProvenance.
	Provenance func(net.Conn) session.Provenance
	Logger     *slog.Logger
}

// Controller owns the listening socket.
type Controller struct {
	path       string
	listener   *net.UnixListener
	provenance func(net.Conn) session.Provenance
	logger     *slog.Logger
}

// Listen binds path. Any error here is fatal for the agent.
func Listen(path string, opts Options) (*Controller, error) {
	if opts.Mode == 0 {
		opts.Mode = DefaultMode
	}
	if opts.Provenance == nil {
		opts.Provenance = session.PeerProvenance
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := clearStale(path); err != nil {
		return nil, err
	}

	listener, err := listenUnix(path, opts.Mode)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	listener.SetUnlinkOnClose(true)

	if err := os.Chmod(path, opts.Mode); err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}

	logger := opts.Logger.With("component", "socket")
	logger.Info("socket listening", "path", path)

	return &Controller{
		path:       path,
		listener:   listener,
		provenance: opts.Provenance,
		logger:     logger,
	}, nil
}

// umaskMu guards the process-wide umask while a socket is bound.
var umaskMu sync.Mutex

// listenUnix binds path with a umask that already yields mode, so the
// socket is never reachable with looser permissions.
func listenUnix(path string, mode os.FileMode) (*net.UnixListener, error) {
	umaskMu.Lock()
	defer umaskMu.Unlock()

	old := unix.Umask(int(0o777 &^ mode.Perm()))
	defer unix.Umask(old)

	return net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
}

// clearStale removes a socket file left behind by a dead agent.
func clearStale(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking socket path: %w", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}

	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrAgentRunning, path)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	return nil
}

// Path returns the socket path.
func (c *Controller) Path() string {
	return c.path
}

// Sessions accepts connections until ctx is cancelled or Close is called,
// then closes the returned channel. The channel is unbuffered: a
// connection is only accepted once the previous session has been taken.
func (c *Controller) Sessions(ctx context.Context) <-chan *session.Session {
	out := make(chan *session.Session)

	// Unblock Accept when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { c.listener.Close() })

	go func() {
		defer close(out)
		defer stop()

		backoff := time.Duration(0)
		for {
			conn, err := c.listener.AcceptUnix()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				backoff = nextBackoff(backoff)
				c.logger.Error("accept failed", "error", err, "retry_in", backoff)
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return
				}
			}
			backoff = 0

			s := session.New(conn, c.provenance(conn), c.logger)
			select {
			case out <- s:
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}()

	return out
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}

// Close stops listening and removes the socket file.
func (c *Controller) Close() error {
	err := c.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
