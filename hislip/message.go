package hislip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// HeaderSize is the size of the HiSLIP message header in bytes.
	HeaderSize = 16

	// PrologueHi and PrologueLo are the two prologue bytes ("HS") which start every message.
	PrologueHi byte = 'H'
	PrologueLo byte = 'S'

	// DefaultPort is the IANA registered TCP port of HiSLIP.
	DefaultPort = 4880

	// InitialMessageID is the message id of the first message sent on a channel after the
	// session is established or after a device clear.
	InitialMessageID uint32 = 0xffffff00

	// UnknownMessageID is used as message parameter when no message has been sent yet.
	UnknownMessageID uint32 = 0xfffffefe

	// DefaultMaxMessageSize is the maximum payload size proposed by the client when negotiating.
	DefaultMaxMessageSize uint64 = 1 << 20
)

// RMTDeliveredBit is control code bit 0 of Data, DataEND and Trigger messages, set on the first
// message sent after the client has consumed a complete response.
const RMTDeliveredBit uint8 = 0x01

var headerBufPool = sync.Pool{New: func() any { return new([HeaderSize]byte) }}

// Message represents a complete HiSLIP message, the fixed header fields followed by the payload.
type Message struct {
	msgType MsgType
	control uint8
	param   uint32
	payload []byte
}

// NewMessage creates a new message with the given header fields and payload.
// The payload length of the header is derived from len(payload).
func NewMessage(msgType MsgType, control uint8, param uint32, payload []byte) *Message {
	return &Message{
		msgType: msgType,
		control: control,
		param:   param,
		payload: payload,
	}
}

// Type returns the message type.
func (m *Message) Type() MsgType { return m.msgType }

// Control returns the control code.
func (m *Message) Control() uint8 { return m.control }

// Param returns the message parameter.
func (m *Message) Param() uint32 { return m.param }

// MessageID returns the message parameter interpreted as a message id, which is its meaning for
// Data, DataEND, Trigger and the messages that refer to the most recently sent message.
func (m *Message) MessageID() uint32 { return m.param }

// Payload returns the payload of the message.
func (m *Message) Payload() []byte { return m.payload }

// PayloadLength returns the payload length field of the message.
func (m *Message) PayloadLength() uint64 { return uint64(len(m.payload)) }

// String returns a short human readable representation of the message header.
func (m *Message) String() string {
	return fmt.Sprintf("%s{ctrl:0x%02x param:0x%08x len:%d}", m.msgType, m.control, m.param, len(m.payload))
}

// EncodeHeader writes the 16-byte header of the message into dst, which must be at least HeaderSize long.
func (m *Message) EncodeHeader(dst []byte) {
	_ = dst[HeaderSize-1]
	dst[0] = PrologueHi
	dst[1] = PrologueLo
	dst[2] = byte(m.msgType)
	dst[3] = m.control
	binary.BigEndian.PutUint32(dst[4:8], m.param)
	binary.BigEndian.PutUint64(dst[8:16], uint64(len(m.payload)))
}

// ToBytes encodes the message, header followed by payload, into a newly allocated byte slice.
func (m *Message) ToBytes() []byte {
	buf := make([]byte, HeaderSize+len(m.payload))
	m.EncodeHeader(buf)
	copy(buf[HeaderSize:], m.payload)

	return buf
}

// Header is the decoded fixed header of a HiSLIP message.
type Header struct {
	Type          MsgType
	Control       uint8
	Param         uint32
	PayloadLength uint64
}

// DecodeHeader decodes a 16-byte HiSLIP header.
//
// It returns a *ProtocolError if data is shorter than HeaderSize or the prologue does not match "HS".
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, &ProtocolError{Reason: fmt.Sprintf("short header: %d bytes", len(data))}
	}

	if data[0] != PrologueHi || data[1] != PrologueLo {
		return Header{}, &ProtocolError{Reason: fmt.Sprintf("invalid prologue %q", data[0:2])}
	}

	return Header{
		Type:          MsgType(data[2]),
		Control:       data[3],
		Param:         binary.BigEndian.Uint32(data[4:8]),
		PayloadLength: binary.BigEndian.Uint64(data[8:16]),
	}, nil
}

// DecodeMessage reads one complete HiSLIP message from r.
//
// The header is read and validated first. The declared payload length is checked against maxPayload
// before any payload buffer is allocated; a length above maxPayload results in a *ProtocolError.
// I/O errors are returned wrapped, so callers can still inspect them with errors.Is / errors.As.
func DecodeMessage(r io.Reader, maxPayload uint64) (*Message, error) {
	hdrBuf, _ := headerBufPool.Get().(*[HeaderSize]byte)
	defer headerBufPool.Put(hdrBuf)

	if _, err := io.ReadFull(r, hdrBuf[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	hdr, err := DecodeHeader(hdrBuf[:])
	if err != nil {
		return nil, err
	}

	if hdr.PayloadLength > maxPayload {
		return nil, &ProtocolError{
			Reason:  fmt.Sprintf("payload length %d exceeds maximum %d", hdr.PayloadLength, maxPayload),
			MsgType: hdr.Type,
		}
	}

	msg := &Message{msgType: hdr.Type, control: hdr.Control, param: hdr.Param}
	if hdr.PayloadLength == 0 {
		return msg, nil
	}

	msg.payload = make([]byte, hdr.PayloadLength)
	if _, err := io.ReadFull(r, msg.payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}

		return nil, fmt.Errorf("read %s payload: %w", hdr.Type, err)
	}

	return msg, nil
}

// MsgInfo returns key/value pairs describing msg, appended after keysAndValues, for structured logging.
func MsgInfo(msg *Message, keysAndValues ...any) []any {
	if msg == nil {
		return keysAndValues
	}

	return append(keysAndValues,
		"msgType", msg.msgType.String(),
		"control", msg.control,
		"param", fmt.Sprintf("0x%08x", msg.param),
		"payloadLen", len(msg.payload),
	)
}
