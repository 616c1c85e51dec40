package hislipclient

import (
	"fmt"
	"time"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/logger"
)

// messageReader reads complete HiSLIP messages from a channel.
//
// Waiting for the start of a message and receiving its remainder are bounded separately: the wait for the
// header uses the caller's idle timeout, which may be unlimited, while the rest of the message must arrive
// within the I/O timeout.
type messageReader struct {
	ioTimeout time.Duration
}

func newMessageReader(ioTimeout time.Duration) *messageReader {
	return &messageReader{ioTimeout: ioTimeout}
}

// ReadMessage reads the next message from ch.
//
// idleTimeout <= 0 waits for the header without limit. Payloads larger than maxPayload are rejected with a
// *hislip.ProtocolError before they are received. A timeout while waiting for the header leaves the channel
// intact; any other error leaves the stream in an undefined position.
func (mr *messageReader) ReadMessage(ch *channel, idleTimeout time.Duration, maxPayload uint64) (*hislip.Message, error) {
	ch.rd.timeout = idleTimeout
	if _, err := ch.br.Peek(hislip.HeaderSize); err != nil {
		return nil, fmt.Errorf("wait for message on %s channel: %w", ch.name, err)
	}

	ch.rd.timeout = mr.ioTimeout

	msg, err := hislip.DecodeMessage(ch.br, maxPayload)
	if err != nil {
		return nil, err
	}

	if ch.logger.Level() == logger.DebugLevel {
		ch.logger.Debug("message received", hislip.MsgInfo(msg)...)
	}

	return msg, nil
}
