package hislipclient

import (
	"bufio"
	"context"
	"sync"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/logger"
)

const channelReadBufferSize = 64 * 1024

// channel is one of the two TCP connections of a session.
//
// Senders serialize on sendMu, which also guards the message id counter, so the messages of one logical
// operation are written contiguously and numbered in send order. The read side is owned by a single goroutine.
type channel struct {
	name      string
	transport Transport
	logger    logger.Logger

	rd *transportReader
	br *bufio.Reader

	sendMu    sync.Mutex
	nextID    uint32
	lastID    uint32
	sentCount uint64

	closeOnce sync.Once
	closeErr  error
}

func newChannel(name string, transport Transport, l logger.Logger) *channel {
	ch := &channel{
		name:      name,
		transport: transport,
		logger:    l.With("channel", name),
		nextID:    hislip.InitialMessageID,
		lastID:    hislip.UnknownMessageID,
	}
	ch.rd = &transportReader{transport: transport}
	ch.br = bufio.NewReaderSize(ch.rd, channelReadBufferSize)

	return ch
}

func (ch *channel) connect(ctx context.Context, host string, port int) error {
	return ch.transport.Connect(ctx, host, port)
}

// send writes msg without consuming a message id.
func (ch *channel) send(msg *hislip.Message) error {
	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()

	return ch.write(msg)
}

// trySend is like send, but gives up immediately if another sender holds the channel.
func (ch *channel) trySend(msg *hislip.Message) bool {
	if !ch.sendMu.TryLock() {
		return false
	}
	defer ch.sendMu.Unlock()

	return ch.write(msg) == nil
}

// sendCounted writes msg and advances the message id counter, for requests whose parameter
// field carries something other than their own message id.
func (ch *channel) sendCounted(msg *hislip.Message) error {
	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()

	if err := ch.write(msg); err != nil {
		return err
	}
	ch.lastID = ch.nextID
	ch.nextID = hislip.NextMessageID(ch.nextID)

	return nil
}

// sendNumbered writes n messages created by build, each carrying the next message id.
//
// prepare is called with the id the last message will carry before anything is written or any id is
// consumed; an error from prepare aborts the operation. It returns the id of the last message.
func (ch *channel) sendNumbered(n int, build func(i int, id uint32) *hislip.Message, prepare func(lastID uint32) error) (uint32, error) {
	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()

	lastID := ch.nextID + uint32(2*(n-1)) //nolint:gosec

	if prepare != nil {
		if err := prepare(lastID); err != nil {
			return 0, err
		}
	}

	for i := range n {
		id := ch.nextID
		// ids are consumed even if the write fails, the session is fatal at that point anyway
		ch.lastID = id
		ch.nextID = hislip.NextMessageID(id)

		if err := ch.write(build(i, id)); err != nil {
			return id, err
		}
	}

	return lastID, nil
}

// write must be called with sendMu held.
func (ch *channel) write(msg *hislip.Message) error {
	if err := ch.transport.Send(msg.ToBytes()); err != nil {
		ch.logger.Debug("failed to send message", hislip.MsgInfo(msg, "error", err)...)
		return err
	}
	ch.sentCount++
	if ch.logger.Level() == logger.DebugLevel {
		ch.logger.Debug("message sent", hislip.MsgInfo(msg)...)
	}

	return nil
}

// lastSentID returns the id of the most recent numbered message, or UnknownMessageID.
func (ch *channel) lastSentID() uint32 {
	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()

	return ch.lastID
}

// ids returns the next message id and the number of messages sent.
func (ch *channel) ids() (next uint32, sent uint64) {
	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()

	return ch.nextID, ch.sentCount
}

// resetIDs restarts message numbering, as after a device clear.
func (ch *channel) resetIDs() {
	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()

	ch.nextID = hislip.InitialMessageID
	ch.lastID = hislip.UnknownMessageID
}

func (ch *channel) close() error {
	ch.closeOnce.Do(func() {
		ch.closeErr = ch.transport.Close()
	})

	return ch.closeErr
}
