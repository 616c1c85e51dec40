package hislipclient

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/logger"
)

// ServiceRequestHandler is invoked for every AsyncServiceRequest message, with the status byte carried
// by the message. Calls are made one at a time from a session goroutine; service requests arriving while
// the handler is behind by more than 16 calls are dropped.
type ServiceRequestHandler func(statusByte byte)

// ConnectionConfig represents the configuration parameters of a HiSLIP session.
type ConnectionConfig struct {
	mu sync.RWMutex

	// host specifies the host of the instrument.
	host string

	// port specifies the TCP port number of the instrument. Both channels connect to the same port.
	port int

	// subAddress is the HiSLIP sub-address sent in the Initialize message, e.g. "hislip0".
	// Defaults to "hislip0".
	subAddress string

	// vendorID is the two-character vendor abbreviation sent in the Initialize message.
	// Defaults to "GO".
	vendorID hislip.VendorID

	// connectTimeout bounds the TCP connection establishment of each channel, retries included.
	// Defaults to 5 seconds.
	connectTimeout time.Duration

	// handshakeTimeout bounds the wait for every response of the session negotiation.
	// Defaults to 5 seconds.
	handshakeTimeout time.Duration

	// ioTimeout is the write deadline of every message and the maximum time to receive the remainder
	// of a message once its header has started to arrive.
	// Defaults to 5 seconds.
	ioTimeout time.Duration

	// readTimeout is the timeout used by Read when it is called with a zero timeout.
	// Defaults to 10 seconds.
	//
	// This option can be changed at runtime.
	readTimeout time.Duration

	// asyncTimeout bounds the wait for the response of an asynchronous channel request such as
	// a status query, a remote/local request, a lock release or a device clear.
	// Defaults to 5 seconds.
	//
	// This option can be changed at runtime.
	asyncTimeout time.Duration

	// closeTimeout bounds the wait for the session goroutines to terminate in Close.
	// Defaults to 3 seconds.
	closeTimeout time.Duration

	// maxMessageSize is the maximum payload size proposed to the server. The effective maximum is
	// the lower of this value and the server's proposal.
	// Defaults to 1 MiB.
	maxMessageSize uint64

	// inboxSize is the number of synchronous channel responses buffered between the channel reader
	// and Read.
	// Defaults to 16.
	inboxSize int

	srqHandler       ServiceRequestHandler
	transportFactory TransportFactory

	// logger provides a logger instance for logging HiSLIP-related events and errors.
	// Defaults to a logger which discards everything.
	logger logger.Logger
}

// NewConnectionConfig creates a new HiSLIP connection configuration with the given host, port number,
// and optional functional options.
//
// It initializes a ConnectionConfig struct with default values and then applies the provided options
// to customize the configuration. A port of 0 selects the default HiSLIP port 4880.
//
// Returns a pointer to the initialized ConnectionConfig and an error if any occurred during the configuration process.
func NewConnectionConfig(host string, port int, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		subAddress:       "hislip0",
		vendorID:         hislip.DefaultVendorID,
		connectTimeout:   5 * time.Second,
		handshakeTimeout: 5 * time.Second,
		ioTimeout:        5 * time.Second,
		readTimeout:      10 * time.Second,
		asyncTimeout:     5 * time.Second,
		closeTimeout:     3 * time.Second,
		maxMessageSize:   hislip.DefaultMaxMessageSize,
		inboxSize:        16,
		logger:           logger.NewNop(),
	}

	if port == 0 {
		port = hislip.DefaultPort
	}

	if err := withRemoteHost(host).apply(cfg); err != nil {
		return cfg, err
	}

	if err := withPort(port).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.transportFactory == nil {
		ioTimeout := cfg.ioTimeout
		cfg.transportFactory = func() Transport { return NewTCPTransport(ioTimeout) }
	}

	return cfg, nil
}

// Host returns the instrument host.
func (cfg *ConnectionConfig) Host() string { return cfg.host }

// Port returns the instrument TCP port.
func (cfg *ConnectionConfig) Port() int { return cfg.port }

// SubAddress returns the HiSLIP sub-address.
func (cfg *ConnectionConfig) SubAddress() string { return cfg.subAddress }

// ReadTimeout returns the default timeout of Read.
func (cfg *ConnectionConfig) ReadTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readTimeout
}

// AsyncTimeout returns the timeout of asynchronous channel requests.
func (cfg *ConnectionConfig) AsyncTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.asyncTimeout
}

// ConnOption represents a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc struct {
	name      string
	runtime   bool
	applyFunc func(*ConnectionConfig) error
}

func (c *connOptFunc) apply(cfg *ConnectionConfig) error {
	if cfg == nil {
		return hislip.ErrConnConfigNil
	}

	return c.applyFunc(cfg)
}

func newConnOptFunc(name string, runtime bool, f func(*ConnectionConfig) error) *connOptFunc {
	return &connOptFunc{
		name:      name,
		runtime:   runtime,
		applyFunc: f,
	}
}

func positiveDuration(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s should be positive, got %v", name, d)
	}

	return nil
}

// withRemoteHost sets the host of the instrument.
// An error is returned if the host is empty or contains whitespace.
func withRemoteHost(host string) ConnOption {
	return newConnOptFunc("withRemoteHost", false, func(cfg *ConnectionConfig) error {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
		if host == "" || strings.ContainsAny(host, " \t\r\n") {
			return errors.New("invalid host")
		}
		cfg.host = host

		return nil
	})
}

// withPort sets the TCP port number of the instrument.
// An error is returned if the port number is out of the valid range (1-65535).
func withPort(port int) ConnOption {
	return newConnOptFunc("withPort", false, func(cfg *ConnectionConfig) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %d, should be in range of [1, 65535]", port)
		}
		cfg.port = port

		return nil
	})
}

// WithSubAddress sets the HiSLIP sub-address sent in the Initialize message.
//
// The default sub-address is "hislip0".
//
// This option can't be changed at runtime.
func WithSubAddress(subAddress string) ConnOption {
	return newConnOptFunc("WithSubAddress", false, func(cfg *ConnectionConfig) error {
		if subAddress == "" {
			return errors.New("sub-address should not be empty")
		}
		cfg.subAddress = subAddress

		return nil
	})
}

// WithVendorID sets the two-character vendor abbreviation sent in the Initialize message.
//
// This option can't be changed at runtime.
func WithVendorID(vendor string) ConnOption {
	return newConnOptFunc("WithVendorID", false, func(cfg *ConnectionConfig) error {
		id, err := hislip.ParseVendorID(vendor)
		if err != nil {
			return err
		}
		cfg.vendorID = id

		return nil
	})
}

// WithConnectTimeout sets the timeout of the TCP connection establishment of each channel.
//
// This option can't be changed at runtime.
func WithConnectTimeout(d time.Duration) ConnOption {
	return newConnOptFunc("WithConnectTimeout", false, func(cfg *ConnectionConfig) error {
		if err := positiveDuration("connect timeout", d); err != nil {
			return err
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithHandshakeTimeout sets the timeout of each response of the session negotiation.
//
// This option can't be changed at runtime.
func WithHandshakeTimeout(d time.Duration) ConnOption {
	return newConnOptFunc("WithHandshakeTimeout", false, func(cfg *ConnectionConfig) error {
		if err := positiveDuration("handshake timeout", d); err != nil {
			return err
		}
		cfg.handshakeTimeout = d

		return nil
	})
}

// WithIOTimeout sets the write deadline of messages and the maximum time to receive the rest of a
// message once its header arrived.
//
// This option can't be changed at runtime.
func WithIOTimeout(d time.Duration) ConnOption {
	return newConnOptFunc("WithIOTimeout", false, func(cfg *ConnectionConfig) error {
		if err := positiveDuration("io timeout", d); err != nil {
			return err
		}
		cfg.ioTimeout = d

		return nil
	})
}

// WithReadTimeout sets the timeout used by Read when it is called with a zero timeout.
//
// This option can be changed at runtime.
func WithReadTimeout(d time.Duration) ConnOption {
	return newConnOptFunc("WithReadTimeout", true, func(cfg *ConnectionConfig) error {
		if err := positiveDuration("read timeout", d); err != nil {
			return err
		}
		cfg.mu.Lock()
		cfg.readTimeout = d
		cfg.mu.Unlock()

		return nil
	})
}

// WithAsyncTimeout sets the timeout of asynchronous channel requests.
//
// This option can be changed at runtime.
func WithAsyncTimeout(d time.Duration) ConnOption {
	return newConnOptFunc("WithAsyncTimeout", true, func(cfg *ConnectionConfig) error {
		if err := positiveDuration("async timeout", d); err != nil {
			return err
		}
		cfg.mu.Lock()
		cfg.asyncTimeout = d
		cfg.mu.Unlock()

		return nil
	})
}

// WithCloseTimeout sets the maximum time Close waits for the session goroutines to terminate.
//
// This option can't be changed at runtime.
func WithCloseTimeout(d time.Duration) ConnOption {
	return newConnOptFunc("WithCloseTimeout", false, func(cfg *ConnectionConfig) error {
		if err := positiveDuration("close timeout", d); err != nil {
			return err
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithMaxMessageSize sets the maximum payload size proposed to the server.
//
// This option can't be changed at runtime.
func WithMaxMessageSize(size uint64) ConnOption {
	return newConnOptFunc("WithMaxMessageSize", false, func(cfg *ConnectionConfig) error {
		if size == 0 {
			return errors.New("maximum message size should be positive")
		}
		cfg.maxMessageSize = size

		return nil
	})
}

// WithInboxSize sets the number of responses buffered between the synchronous channel reader and Read.
//
// This option can't be changed at runtime.
func WithInboxSize(size int) ConnOption {
	return newConnOptFunc("WithInboxSize", false, func(cfg *ConnectionConfig) error {
		if size < 1 {
			return fmt.Errorf("inbox size should be positive, got %d", size)
		}
		cfg.inboxSize = size

		return nil
	})
}

// WithServiceRequestHandler registers a handler invoked for every service request.
//
// This option can't be changed at runtime.
func WithServiceRequestHandler(handler ServiceRequestHandler) ConnOption {
	return newConnOptFunc("WithServiceRequestHandler", false, func(cfg *ConnectionConfig) error {
		cfg.srqHandler = handler
		return nil
	})
}

// WithTransportFactory replaces the TCP transport used by both channels.
// The factory is called once per channel.
//
// This option can't be changed at runtime.
func WithTransportFactory(factory TransportFactory) ConnOption {
	return newConnOptFunc("WithTransportFactory", false, func(cfg *ConnectionConfig) error {
		if factory == nil {
			return errors.New("transport factory is nil")
		}
		cfg.transportFactory = factory

		return nil
	})
}

// WithLogger sets the logger of the session.
//
// This option can't be changed at runtime.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", false, func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
