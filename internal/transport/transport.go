// Package transport performs one-shot TCP exchanges with an amplifier: open a
// connection, write a frame, read whatever comes back, close. It also tracks
// consecutive failures so the caller can infer that the device is off.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"dynaudio-go-home/internal/frame"
)

const (
	DefaultPort             = 1901
	DefaultTimeout          = 2 * time.Second
	DefaultFailureThreshold = 3

	readBufferSize = 1024
)

var (
	// ErrRefused means the device actively rejected the connection.
	// It does not count towards the failure threshold.
	ErrRefused = errors.New("transport: connection refused")
	// ErrTransport covers every other socket failure.
	ErrTransport = errors.New("transport: exchange failed")
)

// DialFunc opens a connection. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Health is a snapshot of the connection failure counter.
type Health struct {
	ConsecutiveFailures int `json:"consecutive_failures"`
	Threshold           int `json:"threshold"`
}

// Exhausted reports whether enough consecutive failures have accumulated to
// treat the device as powered off.
func (h Health) Exhausted() bool {
	return h.Threshold > 0 && h.ConsecutiveFailures >= h.Threshold
}

// Option configures a Transport.
type Option func(*Transport)

// WithTimeout bounds connect, write and read.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithFailureThreshold sets how many consecutive failures mark the device off.
func WithFailureThreshold(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.threshold = n
		}
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(d DialFunc) Option {
	return func(t *Transport) { t.dial = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l.With("component", "transport") }
}

// Transport talks to a single amplifier address.
type Transport struct {
	addr      string
	timeout   time.Duration
	threshold int
	dial      DialFunc
	logger    *slog.Logger

	mu       sync.Mutex
	failures int
}

// New creates a transport for host:port. A zero port selects DefaultPort.
func New(host string, port int, opts ...Option) *Transport {
	if port == 0 {
		port = DefaultPort
	}
	t := &Transport{
		addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		timeout:   DefaultTimeout,
		threshold: DefaultFailureThreshold,
		logger:    slog.Default().With("component", "transport"),
	}
	for _, o := range opts {
		o(t)
	}
	if t.dial == nil {
		d := &net.Dialer{Timeout: t.timeout}
		t.dial = d.DialContext
	}
	return t
}

// Addr returns the host:port this transport connects to.
func (t *Transport) Addr() string { return t.addr }

// Health returns the current failure counter.
func (t *Transport) Health() Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Health{ConsecutiveFailures: t.failures, Threshold: t.threshold}
}

// Exchange sends one frame on a fresh connection and returns whatever the
// device answers within the timeout. A device that stays silent yields an
// empty response and no error.
func (t *Transport) Exchange(ctx context.Context, data []byte) ([]byte, error) {
	resp, err := t.exchange(ctx, data)
	switch {
	case err == nil:
		t.reset()
		t.logger.Debug("exchange", "addr", t.addr, "tx", frame.FormatHex(data), "rx", frame.FormatHex(resp))
		return resp, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, syscall.ECONNREFUSED):
		t.logger.Debug("connection refused", "addr", t.addr)
		return nil, fmt.Errorf("%w: %s: %w", ErrRefused, t.addr, err)
	default:
		n := t.fail()
		t.logger.Warn("exchange failed", "addr", t.addr, "failures", n, "err", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, t.addr, err)
	}
}

func (t *Transport) exchange(ctx context.Context, data []byte) ([]byte, error) {
	dctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	conn, err := t.dial(dctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	if err != nil && !isQuietEnd(err) {
		return nil, fmt.Errorf("read: %w", err)
	}
	return buf[:n], nil
}

// isQuietEnd reports read errors that just mean the device had nothing to say.
func isQuietEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded)
}

func (t *Transport) reset() {
	t.mu.Lock()
	t.failures = 0
	t.mu.Unlock()
}

func (t *Transport) fail() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures++
	return t.failures
}
