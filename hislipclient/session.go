package hislipclient

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/internal/queue"
	"github.com/arloliu/go-hislip/logger"
)

// Session is a HiSLIP client session with one instrument, made of a synchronous and an asynchronous channel.
//
// A Session is created by Open and is safe for concurrent use. It never reconnects: a transport failure,
// a protocol violation or a FatalError from the server moves it to the fatal state, after which every
// operation fails with a *hislip.ConnectionError until the session is closed.
type Session struct {
	cfg    *ConnectionConfig
	logger logger.Logger

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc

	stateMgr *hislip.StateMgr
	taskMgr  *hislip.TaskManager
	reader   *messageReader

	sync  *channel
	async *channel

	// mu is held shared by senders of the synchronous channel and exclusively by device clear.
	mu sync.RWMutex

	// negotiated session parameters, immutable once the session is ready
	sessionID      uint16
	version        hislip.Version
	serverVersion  hislip.Version
	serverVendorID hislip.VendorID
	maxMsgSize     uint64
	overlap        atomic.Bool

	// recvMu serializes Read calls.
	recvMu sync.Mutex
	// qmu guards pending, rmtDelivered and the last write.
	qmu          sync.Mutex
	pending      *queue.Queue[uint32]
	rmtDelivered bool
	// lastWriteID is the DataEND id of the latest write that registered no pending response.
	lastWriteID  uint32
	hasLastWrite bool
	abandoned    *xsync.MapOf[uint32, struct{}]
	inbox        chan *hislip.Message
	clearAck     chan *hislip.Message
	// readAbort wakes a Read blocked in front of a device clear.
	readAbort chan struct{}

	// asyncReqMu serializes requests on the asynchronous channel.
	asyncReqMu   sync.Mutex
	asyncWaiters *xsync.MapOf[hislip.MsgType, chan *hislip.Message]
	lockState    atomic.Uint32

	srq serviceRequests
	// srqEvents feeds the service request handler task.
	srqEvents chan byte

	errMu    sync.Mutex
	fatalErr error

	closeOnce sync.Once

	metrics SessionMetrics
}

// LockState is the lock held by the session, as far as the client knows.
type LockState uint32

const (
	// LockNone indicates that the session holds no lock.
	LockNone LockState = iota
	// LockExclusive indicates that the session holds the exclusive lock.
	LockExclusive
	// LockShared indicates that the session holds a shared lock.
	LockShared
)

func (l LockState) String() string {
	switch l {
	case LockNone:
		return "none"
	case LockExclusive:
		return "exclusive"
	case LockShared:
		return "shared"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the state of a session, for logging and diagnostics.
type Snapshot struct {
	Addr             string
	State            hislip.SessionState
	SessionID        uint16
	Version          hislip.Version
	ServerVersion    hislip.Version
	ServerVendorID   hislip.VendorID
	Overlap          bool
	MaxMessageSize   uint64
	NextSyncID       uint32
	NextAsyncID      uint32
	SyncMsgSent      uint64
	AsyncMsgSent     uint64
	PendingQueries   []uint32
	AbandonedQueries int
	Lock             LockState
	ServiceRequests  uint64
	LastStatusByte   byte
	Err              error
}

// KeyValues returns the snapshot as key/value pairs for structured logging.
func (s Snapshot) KeyValues() []any {
	kv := []any{
		"addr", s.Addr,
		"state", s.State.String(),
		"sessionID", s.SessionID,
		"version", s.Version.String(),
		"overlap", s.Overlap,
		"maxMessageSize", s.MaxMessageSize,
		"pendingQueries", len(s.PendingQueries),
		"lock", s.Lock.String(),
	}
	if s.Err != nil {
		kv = append(kv, "error", s.Err)
	}

	return kv
}

// Open establishes a HiSLIP session as described by cfg.
//
// It connects both channels and negotiates the session. ctx bounds the whole establishment in addition to
// the connect and handshake timeouts of cfg. On failure nothing is left open and the returned error is a
// *hislip.ConnectionError, *hislip.ProtocolError, *hislip.FatalSessionError or *hislip.ServerError.
func Open(ctx context.Context, cfg *ConnectionConfig) (*Session, error) {
	if cfg == nil {
		return nil, hislip.ErrConnConfigNil
	}

	s := newSession(cfg)
	if err := s.negotiate(ctx); err != nil {
		s.abort(err)
		return nil, err
	}

	return s, nil
}

// Dial is a shorthand for NewConnectionConfig and Open. An empty subAddress selects "hislip0"; a positive
// timeout is used as both the connect and the handshake timeout.
func Dial(ctx context.Context, host string, port int, subAddress string, timeout time.Duration, opts ...ConnOption) (*Session, error) {
	base := make([]ConnOption, 0, 3)
	if subAddress != "" {
		base = append(base, WithSubAddress(subAddress))
	}
	if timeout > 0 {
		base = append(base, WithConnectTimeout(timeout), WithHandshakeTimeout(timeout))
	}

	cfg, err := NewConnectionConfig(host, port, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	return Open(ctx, cfg)
}

func newSession(cfg *ConnectionConfig) *Session {
	addr := net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
	l := cfg.logger.With("remoteAddr", addr, "subAddress", cfg.subAddress)

	s := &Session{
		cfg:          cfg,
		logger:       l,
		reader:       newMessageReader(cfg.ioTimeout),
		pending:      queue.New[uint32](4),
		abandoned:    xsync.NewMapOf[uint32, struct{}](),
		inbox:        make(chan *hislip.Message, cfg.inboxSize),
		clearAck:     make(chan *hislip.Message, 1),
		srqEvents:    make(chan byte, srqQueueSize),
		readAbort:    make(chan struct{}, 1),
		asyncWaiters: xsync.NewMapOf[hislip.MsgType, chan *hislip.Message](),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.stateMgr = hislip.NewStateMgr(l)
	s.taskMgr = hislip.NewTaskManager(s.ctx, l)
	s.srq.init()

	s.sync = newChannel("sync", cfg.transportFactory(), l)
	s.async = newChannel("async", cfg.transportFactory(), l)

	return s
}

// Addr returns the host:port address of the instrument.
func (s *Session) Addr() string {
	return net.JoinHostPort(s.cfg.host, strconv.Itoa(s.cfg.port))
}

// State returns the current session state.
func (s *Session) State() hislip.SessionState {
	return s.stateMgr.State()
}

// IsReady returns if the session is ready for commands.
func (s *Session) IsReady() bool {
	return s.stateMgr.IsReady()
}

// SessionID returns the session id assigned by the instrument.
func (s *Session) SessionID() uint16 {
	return s.sessionID
}

// Version returns the negotiated protocol version.
func (s *Session) Version() hislip.Version {
	return s.version
}

// MaxMessageSize returns the negotiated maximum payload size.
func (s *Session) MaxMessageSize() uint64 {
	return s.maxMsgSize
}

// Overlapped returns if the session runs in overlapped mode.
func (s *Session) Overlapped() bool {
	return s.overlap.Load()
}

// Err returns the cause of the fatal state, or nil if the session did not fail.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.fatalErr
}

// Metrics returns the counters of the session.
func (s *Session) Metrics() *SessionMetrics {
	return &s.metrics
}

// AddStateChangeHandler registers handlers invoked on every state change.
//
// Handlers run synchronously inside the state transition and must not call back into the session.
func (s *Session) AddStateChangeHandler(handlers ...hislip.StateChangeHandler) {
	s.stateMgr.AddHandler(handlers...)
}

// WaitState waits until the session reaches state, or fails if the session reaches another terminal
// state or ctx is done.
func (s *Session) WaitState(ctx context.Context, state hislip.SessionState) error {
	return s.stateMgr.WaitState(ctx, state)
}

// UpdateConfigOptions applies options which can be changed at runtime.
//
// It returns an error, without applying anything, if one of the options can't be changed at runtime.
func (s *Session) UpdateConfigOptions(opts ...ConnOption) error {
	for _, opt := range opts {
		if o, ok := opt.(*connOptFunc); !ok || !o.runtime {
			return errors.New("option can't be changed at runtime")
		}
	}

	for _, opt := range opts {
		if err := opt.apply(s.cfg); err != nil {
			return err
		}
	}

	return nil
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	nextSync, syncSent := s.sync.ids()
	nextAsync, asyncSent := s.async.ids()

	s.qmu.Lock()
	pending := s.pending.Items()
	s.qmu.Unlock()

	count, status := s.srq.stats()

	return Snapshot{
		Addr:             s.Addr(),
		State:            s.stateMgr.State(),
		SessionID:        s.sessionID,
		Version:          s.version,
		ServerVersion:    s.serverVersion,
		ServerVendorID:   s.serverVendorID,
		Overlap:          s.overlap.Load(),
		MaxMessageSize:   s.maxMsgSize,
		NextSyncID:       nextSync,
		NextAsyncID:      nextAsync,
		SyncMsgSent:      syncSent,
		AsyncMsgSent:     asyncSent,
		PendingQueries:   pending,
		AbandonedQueries: s.abandoned.Size(),
		Lock:             LockState(s.lockState.Load()),
		ServiceRequests:  count,
		LastStatusByte:   status,
		Err:              s.Err(),
	}
}

// Close closes the session. It is idempotent and may be called in any state, including the fatal state.
//
// It stops the session goroutines, closes both channels and waits for the goroutines to terminate, at
// most for the configured close timeout.
func (s *Session) Close() error {
	prev := s.stateMgr.ToClosed()
	if prev == hislip.ClosedState {
		return nil
	}

	var err error
	s.closeOnce.Do(func() {
		s.logger.Debug("closing session", "prevState", prev)

		s.cancel()
		s.taskMgr.Stop()
		err = s.closeChannels()

		done := make(chan struct{})
		go func() {
			s.taskMgr.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(s.cfg.closeTimeout):
			s.logger.Warn("session goroutines did not terminate in time", "timeout", s.cfg.closeTimeout)
		}

		s.logger.Info("session closed")
	})

	return err
}

// checkUsable returns a *hislip.ConnectionError if the session is not ready.
func (s *Session) checkUsable(op string) error {
	switch state := s.stateMgr.State(); state {
	case hislip.ReadyState:
		return nil
	case hislip.FatalState:
		return &hislip.ConnectionError{Op: op, Err: hislip.ErrSessionFatal}
	case hislip.ClosedState:
		return &hislip.ConnectionError{Op: op, Err: hislip.ErrSessionClosed}
	default:
		return &hislip.ConnectionError{Op: op, Err: hislip.ErrSessionNotReady}
	}
}

// terminalErr returns the error reported to an operation released by the end of the session.
func (s *Session) terminalErr(op string) error {
	if s.stateMgr.State() == hislip.FatalState {
		if err := s.Err(); err != nil {
			return err
		}

		return &hislip.ConnectionError{Op: op, Err: hislip.ErrSessionFatal}
	}

	return &hislip.ConnectionError{Op: op, Err: hislip.ErrSessionClosed}
}

// fail moves the session to the fatal state because of cause. Only the first call has an effect.
//
// It releases every blocked operation by canceling the session context and closing both channels, then
// takes the session mutex to drop the dispatcher state. The caller must not hold mu.
func (s *Session) fail(cause error) {
	if !s.stateMgr.ToFatal() {
		return
	}

	s.errMu.Lock()
	s.fatalErr = cause
	s.errMu.Unlock()

	s.logger.Error("session failed", "error", cause)

	if errors.Is(cause, hislip.ErrProtocol) {
		s.sync.trySend(hislip.NewMessage(hislip.FatalErrorType, uint8(hislip.FatalPoorlyFormedHeader), 0, []byte(cause.Error())))
	}

	s.cancel()
	s.taskMgr.Stop()
	_ = s.closeChannels()

	s.mu.Lock()
	s.resetDispatcher()
	s.mu.Unlock()
}

// abort tears down a session whose negotiation failed.
func (s *Session) abort(cause error) {
	s.errMu.Lock()
	s.fatalErr = cause
	s.errMu.Unlock()

	s.stateMgr.ToFatal()
	s.cancel()
	s.taskMgr.Stop()
	_ = s.closeChannels()
	s.taskMgr.Wait()

	s.logger.Debug("session establishment failed", "error", cause)
}

func (s *Session) closeChannels() error {
	return errors.Join(s.sync.close(), s.async.close())
}

// connErr converts a channel I/O failure into the error reported to the caller.
func connErr(op string, err error) error {
	var perr *hislip.ProtocolError
	if errors.As(err, &perr) {
		return perr
	}

	return &hislip.ConnectionError{Op: op, Err: err}
}
