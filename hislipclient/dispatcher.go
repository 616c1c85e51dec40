package hislipclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/internal/pool"
)

// Write sends a command to the instrument. See WriteBytes.
func (s *Session) Write(cmd string) error {
	return s.WriteBytes([]byte(cmd))
}

// WriteBytes sends data to the instrument on the synchronous channel.
//
// data is a query if its text, with surrounding whitespace removed, ends with '?'. A query registers the
// message id of its last message as pending; its response is returned by a following Read. In synchronized
// mode only one query may be pending, a second one fails with hislip.ErrQueryPending without being sent.
//
// data is split into messages of at most the negotiated maximum message size.
func (s *Session) WriteBytes(data []byte) error {
	return s.write("write", data, isQuery(data))
}

// WriteQuery is like WriteBytes, but always registers a pending response, for commands which produce a
// response without ending in '?'.
func (s *Session) WriteQuery(data []byte) error {
	return s.write("write", data, true)
}

// Query writes cmd and reads its response, waiting at most timeout as Read does.
func (s *Session) Query(cmd string, timeout time.Duration) ([]byte, error) {
	if err := s.write("query", []byte(cmd), true); err != nil {
		return nil, err
	}

	return s.Read(timeout)
}

// Trigger sends a Trigger message, the equivalent of the GPIB group execute trigger.
func (s *Session) Trigger() error {
	if err := s.checkUsable("trigger"); err != nil {
		return err
	}

	s.mu.RLock()
	var rmt uint8
	_, err := s.sync.sendNumbered(1,
		func(_ int, id uint32) *hislip.Message {
			return hislip.NewMessage(hislip.TriggerType, rmt, id, nil)
		},
		func(uint32) error {
			rmt = s.takeRMTDelivered()
			return nil
		},
	)
	s.mu.RUnlock()

	if err != nil {
		cerr := connErr("trigger", err)
		s.fail(cerr)

		return cerr
	}

	return nil
}

func (s *Session) write(op string, data []byte, query bool) error {
	if err := s.checkUsable(op); err != nil {
		return err
	}

	chunks := splitPayload(data, s.maxMsgSize)
	var rmt uint8

	s.mu.RLock()
	_, err := s.sync.sendNumbered(len(chunks),
		func(i int, id uint32) *hislip.Message {
			msgType := hislip.DataType
			if i == len(chunks)-1 {
				msgType = hislip.DataEndType
			}

			var ctrl uint8
			if i == 0 {
				ctrl = rmt
			}

			return hislip.NewMessage(msgType, ctrl, id, chunks[i])
		},
		func(lastID uint32) error {
			s.qmu.Lock()
			defer s.qmu.Unlock()

			if query {
				if !s.overlap.Load() && !s.pending.IsEmpty() {
					return hislip.ErrQueryPending
				}
				s.pending.Enqueue(lastID)
				s.metrics.incQueryCount()
				s.hasLastWrite = false
			} else {
				s.lastWriteID, s.hasLastWrite = lastID, true
			}

			rmt = s.takeRMTDeliveredLocked()

			return nil
		},
	)
	s.mu.RUnlock()

	if err != nil {
		if errors.Is(err, hislip.ErrQueryPending) {
			return err
		}

		cerr := connErr(op, err)
		s.fail(cerr)

		return cerr
	}

	s.metrics.incDataMsgSendCount(len(chunks))

	return nil
}

// Read returns the next complete response from the instrument.
//
// If a query is pending, Read returns its response; a response carrying any other message id is a protocol
// violation and makes the session fatal. Without a pending query, any response is returned.
//
// A timeout <= 0 selects the configured read timeout. When the timeout expires Read returns a
// *hislip.TimeoutError and the session stays usable: the response of the pending query, or of the latest
// write, is discarded whenever it arrives, as is the rest of a partly received response. A DeviceClear
// releases a blocked Read with hislip.ErrInterrupted.
func (s *Session) Read(timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = s.cfg.ReadTimeout()
	}

	timerCh, release := pool.GetTimerOrNever(timeout)
	defer release()

	return s.read(context.Background(), timerCh, timeout)
}

// ReadContext is like Read, but waits until ctx is done instead of a timeout. An expired ctx deadline is
// reported as a *hislip.TimeoutError.
func (s *Session) ReadContext(ctx context.Context) ([]byte, error) {
	return s.read(ctx, nil, 0)
}

func (s *Session) read(ctx context.Context, timerCh <-chan time.Time, timeout time.Duration) ([]byte, error) {
	if err := s.checkUsable("read"); err != nil {
		return nil, err
	}

	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	start := time.Now()

	var (
		buf     bytes.Buffer
		fragID  uint32
		hasFrag bool
	)

	for {
		select {
		case <-s.ctx.Done():
			return nil, s.terminalErr("read")

		case <-s.readAbort:
			s.logger.Debug("read interrupted by device clear")
			return nil, fmt.Errorf("read: %w", hislip.ErrInterrupted)

		case <-timerCh:
			s.abandonPending(fragID, hasFrag)
			return nil, &hislip.TimeoutError{Op: "read", Duration: timeout}

		case <-ctx.Done():
			s.abandonPending(fragID, hasFrag)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &hislip.TimeoutError{Op: "read", Duration: time.Since(start)}
			}

			return nil, ctx.Err()

		case msg := <-s.inbox:
			switch msg.Type() {
			case hislip.InterruptedType:
				s.logger.Debug("pending response interrupted by server", hislip.MsgInfo(msg)...)
				s.clearPending()

				return nil, hislip.ErrInterrupted

			case hislip.ErrorType:
				s.metrics.incServerErrCount()
				return nil, hislip.NewServerError(msg)
			}

			id := msg.MessageID()
			if s.discardAbandoned(msg) {
				continue
			}

			expected, hasExpected := s.expectedResponse()
			if hasExpected && id != expected {
				perr := &hislip.ProtocolError{
					Reason:  fmt.Sprintf("response message id 0x%08x does not match pending query 0x%08x", id, expected),
					MsgType: msg.Type(),
				}
				s.fail(perr)

				return nil, perr
			}

			if hasFrag && id != fragID {
				perr := &hislip.ProtocolError{
					Reason:  fmt.Sprintf("response fragment message id 0x%08x does not match 0x%08x", id, fragID),
					MsgType: msg.Type(),
				}
				s.fail(perr)

				return nil, perr
			}

			buf.Write(msg.Payload())
			fragID, hasFrag = id, true

			if msg.Type() == hislip.DataEndType {
				s.completeResponse(id, hasExpected)
				return buf.Bytes(), nil
			}
		}
	}
}

// expectedResponse returns the message id the next response must carry, if a query is pending.
func (s *Session) expectedResponse() (uint32, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	return s.pending.Peek()
}

// completeResponse records the delivery of a complete response to the caller.
func (s *Session) completeResponse(id uint32, solicited bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	if solicited {
		if _, ok := s.pending.Dequeue(); ok {
			s.metrics.decPendingQueryCount()
		}
	} else if s.hasLastWrite && id == s.lastWriteID {
		s.hasLastWrite = false
	}
	s.rmtDelivered = true
	s.metrics.incResponseCount()
}

// abandonPending gives up on the response a timed out Read was waiting for, which is discarded when it
// arrives: the oldest pending query, or else the reply to the latest write. A partly received response
// with id fragID is abandoned as well when hasFrag is set.
func (s *Session) abandonPending(fragID uint32, hasFrag bool) {
	s.metrics.incReadTimeoutCount()

	s.qmu.Lock()
	defer s.qmu.Unlock()

	if id, ok := s.pending.Dequeue(); ok {
		s.abandon(id, "query")
		s.metrics.decPendingQueryCount()
	} else if s.hasLastWrite {
		s.abandon(s.lastWriteID, "write")
		s.hasLastWrite = false
	}

	if hasFrag {
		s.abandon(fragID, "partial response")
	}
}

func (s *Session) abandon(id uint32, what string) {
	s.abandoned.Store(id, struct{}{})
	s.logger.Debug(what+" abandoned", "messageID", fmt.Sprintf("0x%08x", id))
}

// discardAbandoned reports whether msg belongs to an abandoned query, forgetting the query on its DataEND.
func (s *Session) discardAbandoned(msg *hislip.Message) bool {
	id := msg.MessageID()
	if _, ok := s.abandoned.Load(id); !ok {
		return false
	}

	if msg.Type() == hislip.DataEndType {
		s.abandoned.Delete(id)
	}
	s.metrics.incDiscardedMsgCount()
	s.logger.Debug("discard late response of abandoned query", hislip.MsgInfo(msg)...)

	return true
}

func (s *Session) clearPending() {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	s.pending.Reset()
	s.metrics.resetPendingQueryCount()
}

func (s *Session) takeRMTDelivered() uint8 {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	return s.takeRMTDeliveredLocked()
}

// takeRMTDeliveredLocked returns the control bits of the next message and clears the RMT-delivered flag.
// The caller must hold qmu.
func (s *Session) takeRMTDeliveredLocked() uint8 {
	if !s.rmtDelivered {
		return 0
	}
	s.rmtDelivered = false

	return hislip.RMTDeliveredBit
}

// resetDispatcher drops every pending, abandoned and buffered response.
func (s *Session) resetDispatcher() {
	s.clearPending()

	s.qmu.Lock()
	s.rmtDelivered = false
	s.hasLastWrite = false
	s.qmu.Unlock()

	s.abandoned.Clear()

	for {
		select {
		case <-s.inbox:
		default:
			return
		}
	}
}

// syncReaderTask reads one message from the synchronous channel and routes it.
func (s *Session) syncReaderTask() bool {
	msg, err := s.reader.ReadMessage(s.sync, 0, s.maxMsgSize)
	if err != nil {
		if !s.isShutdown() {
			s.fail(connErr("read sync channel", err))
		}

		return false
	}

	switch msg.Type() {
	case hislip.DataType, hislip.DataEndType:
		s.metrics.incDataMsgRecvCount()
		return s.deliver(msg)

	case hislip.InterruptedType:
		return s.deliver(msg)

	case hislip.ErrorType:
		s.logger.Warn("server reported an error", "code", hislip.ErrorCode(msg.Control()).String(), "text", string(msg.Payload()))
		return s.deliver(msg)

	case hislip.DeviceClearAcknowledgeType:
		select {
		case s.clearAck <- msg:
		default:
			s.logger.Warn("unexpected message on sync channel", hislip.MsgInfo(msg)...)
		}

		return true

	case hislip.FatalErrorType:
		s.fail(hislip.NewFatalSessionError(msg))
		return false

	default:
		s.fail(&hislip.ProtocolError{
			Reason:  "unexpected " + msg.Type().String() + " message on sync channel",
			MsgType: msg.Type(),
		})

		return false
	}
}

func (s *Session) deliver(msg *hislip.Message) bool {
	select {
	case s.inbox <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// isQuery reports whether data is a query: its text ends with '?'.
func isQuery(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[len(data)-1] == '?'
}

// splitPayload splits data into chunks of at most size bytes. Empty data yields one empty chunk.
func splitPayload(data []byte, size uint64) [][]byte {
	if size == 0 || uint64(len(data)) <= size {
		return [][]byte{data}
	}

	n := int(size) //nolint:gosec
	chunks := make([][]byte, 0, (len(data)+n-1)/n)
	for len(data) > n {
		chunks = append(chunks, data[:n])
		data = data[n:]
	}

	return append(chunks, data)
}
