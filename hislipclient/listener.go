package hislipclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/internal/pool"
)

// serviceRequests counts the service requests of a session and wakes up their waiters.
type serviceRequests struct {
	mu      sync.Mutex
	count   uint64
	unseen  uint64
	status  byte
	arrival chan struct{}
}

func (sr *serviceRequests) init() {
	sr.arrival = make(chan struct{}, 1)
}

func (sr *serviceRequests) record(status byte) {
	sr.mu.Lock()
	sr.count++
	sr.unseen++
	sr.status = status
	sr.mu.Unlock()

	select {
	case sr.arrival <- struct{}{}:
	default:
	}
}

// take consumes one unseen service request.
func (sr *serviceRequests) take() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.unseen == 0 {
		return false
	}
	sr.unseen--

	return true
}

func (sr *serviceRequests) stats() (count uint64, status byte) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	return sr.count, sr.status
}

// WaitForServiceRequest waits at most timeout for a service request from the instrument.
//
// Service requests received since the last call are consumed one per call. It returns false if the timeout
// expires or the session is not ready.
func (s *Session) WaitForServiceRequest(timeout time.Duration) bool {
	if s.checkUsable("wait for service request") != nil {
		return false
	}

	timerCh, release := pool.GetTimerOrNever(timeout)
	defer release()

	for {
		if s.srq.take() {
			return true
		}

		select {
		case <-s.srq.arrival:
		case <-timerCh:
			return s.srq.take()
		case <-s.ctx.Done():
			return false
		}
	}
}

// ServiceRequestCount returns the number of service requests received and the status byte of the last one.
func (s *Session) ServiceRequestCount() (uint64, byte) {
	return s.srq.stats()
}

// srqQueueSize is the number of service requests queued for a busy handler.
const srqQueueSize = 16

// srqHandlerTask calls the service request handler for one queued service request.
func (s *Session) srqHandlerTask() bool {
	select {
	case status := <-s.srqEvents:
		s.cfg.srqHandler(status)
		return true

	case <-s.ctx.Done():
		return false
	}
}

// asyncListenerTask reads one message from the asynchronous channel and dispatches it.
func (s *Session) asyncListenerTask() bool {
	msg, err := s.reader.ReadMessage(s.async, 0, s.maxMsgSize)
	if err != nil {
		if !s.isShutdown() {
			s.fail(connErr("read async channel", err))
		}

		return false
	}

	s.metrics.incAsyncMsgRecvCount()

	switch msg.Type() {
	case hislip.AsyncServiceRequestType:
		status := msg.Control()
		s.srq.record(status)
		s.metrics.incServiceRequestCount()
		s.logger.Debug("service request", "statusByte", status)

		if s.cfg.srqHandler != nil {
			select {
			case s.srqEvents <- status:
			default:
				s.logger.Warn("service request handler is busy, drop service request", "statusByte", status)
			}
		}

	case hislip.FatalErrorType:
		s.fail(hislip.NewFatalSessionError(msg))
		return false

	case hislip.ErrorType:
		s.metrics.incServerErrCount()
		s.logger.Warn("server reported an error on async channel",
			"code", hislip.ErrorCode(msg.Control()).String(),
			"text", string(msg.Payload()),
		)
		s.asyncWaiters.Range(func(_ hislip.MsgType, ch chan *hislip.Message) bool {
			s.deliverAsync(ch, msg)
			return true
		})

	case hislip.AsyncLockResponseType,
		hislip.AsyncLockInfoResponseType,
		hislip.AsyncRemoteLocalResponseType,
		hislip.AsyncStatusResponseType,
		hislip.AsyncDeviceClearAcknowledgeType,
		hislip.AsyncMaximumMessageSizeResponseType:
		ch, ok := s.asyncWaiters.Load(msg.Type())
		if !ok {
			s.logger.Warn("discard unsolicited async response", hislip.MsgInfo(msg)...)
			return true
		}
		s.deliverAsync(ch, msg)

	default:
		s.fail(&hislip.ProtocolError{
			Reason:  "unexpected " + msg.Type().String() + " message on async channel",
			MsgType: msg.Type(),
		})

		return false
	}

	return true
}

func (s *Session) deliverAsync(ch chan *hislip.Message, msg *hislip.Message) {
	select {
	case ch <- msg:
	default:
		s.logger.Warn("discard duplicated async response", hislip.MsgInfo(msg)...)
	}
}

// asyncRequest sends req on the asynchronous channel and waits for the response of type respType.
//
// It does not make the session fatal on failure: the caller may hold mu and must call fail itself when
// the returned error is a connection error.
func (s *Session) asyncRequest(ctx context.Context, op string, req *hislip.Message, respType hislip.MsgType, timeout time.Duration) (*hislip.Message, error) {
	s.asyncReqMu.Lock()
	defer s.asyncReqMu.Unlock()

	ch := make(chan *hislip.Message, 1)
	s.asyncWaiters.Store(respType, ch)
	defer s.asyncWaiters.Delete(respType)

	if err := s.async.sendCounted(req); err != nil {
		return nil, connErr(op, err)
	}
	s.metrics.incAsyncMsgSendCount()

	timerCh, release := pool.GetTimerOrNever(timeout)
	defer release()

	select {
	case resp := <-ch:
		if resp.Type() == hislip.ErrorType {
			return nil, hislip.NewServerError(resp)
		}

		return resp, nil

	case <-timerCh:
		return nil, &hislip.TimeoutError{Op: op, Duration: timeout}

	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &hislip.TimeoutError{Op: op, Duration: timeout}
		}

		return nil, ctx.Err()

	case <-s.ctx.Done():
		return nil, s.terminalErr(op)
	}
}

// failOnConnErr makes the session fatal if err is a connection or protocol failure, and returns err.
// The caller must not hold mu.
func (s *Session) failOnConnErr(err error) error {
	if err != nil && !s.isShutdown() && (errors.Is(err, hislip.ErrConnection) || errors.Is(err, hislip.ErrProtocol)) {
		s.fail(err)
	}

	return err
}

// RemoteLocal sends a remote/local control request, the equivalent of the VISA viGpibControlREN.
func (s *Session) RemoteLocal(ctx context.Context, code hislip.RemoteLocalCode) error {
	if err := s.checkUsable("remote local"); err != nil {
		return err
	}
	if !code.IsValid() {
		return fmt.Errorf("invalid remote/local request %d", code)
	}

	req := hislip.NewMessage(hislip.AsyncRemoteLocalControlType, uint8(code), s.sync.lastSentID(), nil)
	_, err := s.asyncRequest(ctx, "remote local", req, hislip.AsyncRemoteLocalResponseType, s.cfg.AsyncTimeout())

	return s.failOnConnErr(err)
}

// Status queries the status byte of the instrument, the equivalent of a GPIB serial poll.
func (s *Session) Status(ctx context.Context) (byte, error) {
	if err := s.checkUsable("status"); err != nil {
		return 0, err
	}

	req := hislip.NewMessage(hislip.AsyncStatusQueryType, s.takeRMTDelivered(), s.sync.lastSentID(), nil)
	resp, err := s.asyncRequest(ctx, "status", req, hislip.AsyncStatusResponseType, s.cfg.AsyncTimeout())
	if err != nil {
		return 0, s.failOnConnErr(err)
	}

	return resp.Control(), nil
}

// LockRequest describes a lock request.
type LockRequest struct {
	// Shared is the name of the shared lock to acquire. An empty name requests the exclusive lock.
	Shared string
	// Timeout is the time the instrument waits for the lock to become available. Zero fails immediately
	// if the lock is held by another session.
	Timeout time.Duration
}

// LockInfo describes the locks held on the instrument.
type LockInfo struct {
	// Exclusive reports whether some session holds the exclusive lock.
	Exclusive bool
	// Holders is the number of sessions holding a lock, shared or exclusive.
	Holders uint32
}

// Lock acquires the exclusive lock or a shared lock of the instrument.
//
// It returns a *hislip.LockError if the lock is not granted within req.Timeout.
func (s *Session) Lock(ctx context.Context, req LockRequest) error {
	if err := s.checkUsable("lock"); err != nil {
		return err
	}
	if req.Timeout < 0 {
		return fmt.Errorf("negative lock timeout %v", req.Timeout)
	}

	timeoutMs := uint32(min(req.Timeout.Milliseconds(), int64(^uint32(0)))) //nolint:gosec
	msg := hislip.NewMessage(hislip.AsyncLockType, hislip.LockRequest, timeoutMs, []byte(req.Shared))

	resp, err := s.asyncRequest(ctx, "lock", msg, hislip.AsyncLockResponseType, req.Timeout+s.cfg.AsyncTimeout())
	if err != nil {
		return s.failOnConnErr(err)
	}

	switch resp.Control() {
	case hislip.LockSuccess:
		if req.Shared == "" {
			s.lockState.Store(uint32(LockExclusive))
		} else {
			s.lockState.Store(uint32(LockShared))
		}
		s.logger.Debug("lock granted", "shared", req.Shared)

		return nil
	case hislip.LockFailure:
		return &hislip.LockError{Control: resp.Control(), Reason: "lock not granted within " + req.Timeout.String()}
	case hislip.LockResponseError:
		return &hislip.LockError{Control: resp.Control(), Reason: "invalid lock request"}
	default:
		return &hislip.LockError{Control: resp.Control(), Reason: fmt.Sprintf("unexpected lock response %d", resp.Control())}
	}
}

// Unlock releases the lock held by the session.
func (s *Session) Unlock(ctx context.Context) error {
	if err := s.checkUsable("unlock"); err != nil {
		return err
	}

	// the release must reference the last message sent, no send may be in progress
	s.mu.Lock()
	lastID := s.sync.lastSentID()
	s.mu.Unlock()

	msg := hislip.NewMessage(hislip.AsyncLockType, hislip.LockRelease, lastID, nil)
	resp, err := s.asyncRequest(ctx, "unlock", msg, hislip.AsyncLockResponseType, s.cfg.AsyncTimeout())
	if err != nil {
		return s.failOnConnErr(err)
	}

	switch resp.Control() {
	case hislip.LockSuccess, hislip.LockSharedReleased:
		s.lockState.Store(uint32(LockNone))
		s.logger.Debug("lock released")

		return nil
	case hislip.LockResponseError:
		return &hislip.LockError{Control: resp.Control(), Reason: "no lock held"}
	default:
		return &hislip.LockError{Control: resp.Control(), Reason: fmt.Sprintf("unexpected unlock response %d", resp.Control())}
	}
}

// LockInfo queries the locks held on the instrument.
func (s *Session) LockInfo(ctx context.Context) (LockInfo, error) {
	if err := s.checkUsable("lock info"); err != nil {
		return LockInfo{}, err
	}

	msg := hislip.NewMessage(hislip.AsyncLockInfoType, 0, 0, nil)
	resp, err := s.asyncRequest(ctx, "lock info", msg, hislip.AsyncLockInfoResponseType, s.cfg.AsyncTimeout())
	if err != nil {
		return LockInfo{}, s.failOnConnErr(err)
	}

	return LockInfo{Exclusive: resp.Control()&0x01 != 0, Holders: resp.Param()}, nil
}

// LockState returns the lock held by the session.
func (s *Session) LockState() LockState {
	return LockState(s.lockState.Load())
}

// DeviceClear clears the instrument, the equivalent of the VISA viClear.
//
// The instrument discards its pending input and output. Pending and abandoned queries are dropped, and the
// message ids of both channels restart from their initial value. Writes and reads wait for the clear to finish.
// A Read blocked waiting for a response returns hislip.ErrInterrupted.
func (s *Session) DeviceClear(ctx context.Context) error {
	if err := s.checkUsable("device clear"); err != nil {
		return err
	}

	select {
	case s.readAbort <- struct{}{}:
	default:
	}

	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	select {
	case <-s.readAbort:
	default:
	}

	s.mu.Lock()
	err := s.deviceClear(ctx)
	s.mu.Unlock()

	if err != nil {
		return s.failOnConnErr(err)
	}

	s.metrics.incDeviceClearCount()
	s.logger.Info("device cleared", "overlap", s.overlap.Load())

	return nil
}

// deviceClear must be called with recvMu and mu held.
func (s *Session) deviceClear(ctx context.Context) error {
	timeout := s.cfg.AsyncTimeout()

	ack, err := s.asyncRequest(ctx, "device clear",
		hislip.NewMessage(hislip.AsyncDeviceClearType, 0, 0, nil),
		hislip.AsyncDeviceClearAcknowledgeType,
		timeout,
	)
	if err != nil {
		return err
	}

	// stale acknowledgements of an earlier, timed out, clear
	select {
	case <-s.clearAck:
	default:
	}

	// the feature preference of the acknowledge is echoed back
	if err := s.sync.send(hislip.NewMessage(hislip.DeviceClearCompleteType, ack.Control(), 0, nil)); err != nil {
		return connErr("device clear", err)
	}

	timerCh, release := pool.GetTimerOrNever(timeout)
	defer release()

	for {
		select {
		case resp := <-s.clearAck:
			s.overlap.Store(resp.Control()&0x01 != 0)

			s.sync.resetIDs()
			s.async.resetIDs()
			s.resetDispatcher()

			return nil

		// responses produced before the clear are discarded by the instrument, drop those already received
		case msg := <-s.inbox:
			s.logger.Debug("drop response received before device clear", hislip.MsgInfo(msg)...)

		case <-timerCh:
			return &hislip.TimeoutError{Op: "device clear", Duration: timeout}

		case <-ctx.Done():
			return ctx.Err()

		case <-s.ctx.Done():
			return s.terminalErr("device clear")
		}
	}
}
