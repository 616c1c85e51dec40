package hislipclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Transport is a bidirectional byte stream to the instrument. A session owns two transports, one per channel.
//
// Send and Receive may be called concurrently with each other, but each of them is called by at most
// one goroutine at a time. Close must unblock a pending Receive.
type Transport interface {
	// Connect establishes the stream. The context bounds the whole connection attempt.
	Connect(ctx context.Context, host string, port int) error
	// Send writes all of data, or returns an error.
	Send(data []byte) error
	// Receive reads up to len(buf) bytes. A timeout <= 0 waits without limit.
	// A timeout expiry must be reported as an error whose Timeout() method returns true.
	Receive(buf []byte, timeout time.Duration) (int, error)
	// Close closes the stream. It is safe to call Close more than once.
	Close() error
}

// TransportFactory creates a new, unconnected Transport.
type TransportFactory func() Transport

const (
	dialInitialInterval = 50 * time.Millisecond
	dialMaxInterval     = time.Second
)

// TCPTransport is the default Transport, a TCP connection with Nagle's algorithm disabled.
type TCPTransport struct {
	writeTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

var _ Transport = (*TCPTransport)(nil)

// NewTCPTransport creates a TCP transport. writeTimeout bounds every Send; zero disables the write deadline.
func NewTCPTransport(writeTimeout time.Duration) *TCPTransport {
	return &TCPTransport{writeTimeout: writeTimeout}
}

// Connect dials host:port, retrying refused or unreachable attempts with exponential back-off until ctx is done.
func (t *TCPTransport) Connect(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{}

	var lastErr error
	conn, err := backoff.RetryNotifyWithData(
		func() (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil && !isRetryableDialError(err) {
				return nil, backoff.Permanent(err)
			}

			return conn, err
		},
		backoff.WithContext(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(dialInitialInterval),
			backoff.WithMaxInterval(dialMaxInterval),
			backoff.WithMaxElapsedTime(0),
		), ctx),
		func(err error, _ time.Duration) {
			lastErr = err
		},
	)
	if err != nil {
		if lastErr != nil && ctx.Err() != nil {
			return errors.Join(lastErr, err)
		}

		return err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		_ = conn.Close()
		return fmt.Errorf("transport to %s already connected", addr)
	}
	t.conn = conn

	return nil
}

// Send writes data with the configured write deadline.
func (t *TCPTransport) Send(data []byte) error {
	conn := t.getConn()
	if conn == nil {
		return net.ErrClosed
	}

	if t.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}

	_, err := conn.Write(data)

	return err
}

// Receive reads into buf, waiting at most timeout when timeout is positive.
func (t *TCPTransport) Receive(buf []byte, timeout time.Duration) (int, error) {
	conn := t.getConn()
	if conn == nil {
		return 0, net.ErrClosed
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	return conn.Read(buf)
}

// Close closes the connection, discarding unsent data.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetLinger(0)
	}

	err := conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

func (t *TCPTransport) getConn() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn
}

// isRetryableDialError reports whether a dial failure may succeed on a later attempt,
// such as an instrument which is still booting and refuses connections.
func isRetryableDialError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// transportReader adapts a Transport to io.Reader with an adjustable receive timeout.
// It is only used by the goroutine which reads the channel.
type transportReader struct {
	transport Transport
	timeout   time.Duration
}

func (r *transportReader) Read(p []byte) (int, error) {
	return r.transport.Receive(p, r.timeout)
}

// isTimeout reports whether err is a timeout reported by a Transport.
func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
