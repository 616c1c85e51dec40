package hislip

import (
	"bytes"
	"errors"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessage_Encode(t *testing.T) {
	require := require.New(t)

	msg := NewMessage(DataEndType, 0x01, 0xffffff02, []byte("*IDN?\n"))
	data := msg.ToBytes()

	require.Equal([]byte{
		'H', 'S', 7, 0x01,
		0xff, 0xff, 0xff, 0x02,
		0, 0, 0, 0, 0, 0, 0, 6,
		'*', 'I', 'D', 'N', '?', '\n',
	}, data)
	require.Equal(uint64(6), msg.PayloadLength())
	require.Equal(uint32(0xffffff02), msg.MessageID())
	require.Equal("DataEND{ctrl:0x01 param:0xffffff02 len:6}", msg.String())
}

func TestMessage_RoundTrip(t *testing.T) {
	require := require.New(t)

	rnd := rand.New(rand.NewPCG(1, 2)) //nolint:gosec
	types := []MsgType{InitializeType, DataType, DataEndType, AsyncLockType, AsyncLockInfoResponseType, VendorSpecificType}

	for i := range 200 {
		payload := make([]byte, rnd.IntN(512))
		for j := range payload {
			payload[j] = byte(rnd.UintN(256))
		}
		if i%7 == 0 {
			payload = nil
		}

		msg := NewMessage(types[i%len(types)], uint8(rnd.UintN(256)), rnd.Uint32(), payload)

		decoded, err := DecodeMessage(bytes.NewReader(msg.ToBytes()), DefaultMaxMessageSize)
		require.NoError(err)
		require.Equal(msg.Type(), decoded.Type())
		require.Equal(msg.Control(), decoded.Control())
		require.Equal(msg.Param(), decoded.Param())
		require.Equal(len(payload), len(decoded.Payload()))
		if len(payload) > 0 {
			require.Equal(payload, decoded.Payload())
		}
	}
}

func TestMessage_DecodeConsecutive(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	buf.Write(NewMessage(DataType, 0, InitialMessageID, []byte("abc")).ToBytes())
	buf.Write(NewMessage(DataEndType, 0, InitialMessageID, []byte("def")).ToBytes())

	first, err := DecodeMessage(&buf, 16)
	require.NoError(err)
	require.Equal(DataType, first.Type())
	require.Equal([]byte("abc"), first.Payload())

	second, err := DecodeMessage(&buf, 16)
	require.NoError(err)
	require.Equal(DataEndType, second.Type())
	require.Equal([]byte("def"), second.Payload())

	_, err = DecodeMessage(&buf, 16)
	require.ErrorIs(err, io.EOF)
}

func TestDecodeHeader(t *testing.T) {
	require := require.New(t)

	hdr, err := DecodeHeader([]byte{'H', 'S', 1, 1, 0x01, 0x00, 0x00, 0x2a, 0, 0, 0, 0, 0, 0, 0x01, 0x00})
	require.NoError(err)
	require.Equal(InitializeResponseType, hdr.Type)
	require.Equal(uint8(1), hdr.Control)
	require.Equal(uint32(0x0100002a), hdr.Param)
	require.Equal(uint64(256), hdr.PayloadLength)

	_, err = DecodeHeader([]byte{'H', 'S', 1})
	require.ErrorIs(err, ErrProtocol)

	_, err = DecodeHeader([]byte{'S', 'H', 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	var perr *ProtocolError
	require.ErrorAs(err, &perr)
	require.Contains(perr.Reason, "prologue")
}

func TestDecodeMessage_Errors(t *testing.T) {
	t.Run("bad prologue", func(t *testing.T) {
		require := require.New(t)

		data := NewMessage(DataEndType, 0, 0, []byte("x")).ToBytes()
		data[0] = 'X'

		_, err := DecodeMessage(bytes.NewReader(data), 1024)
		require.ErrorIs(err, ErrProtocol)
		require.NotErrorIs(err, ErrTimeout)
	})

	t.Run("oversize payload rejected before reading it", func(t *testing.T) {
		require := require.New(t)

		hdr := make([]byte, HeaderSize)
		NewMessage(DataEndType, 0, 0, nil).EncodeHeader(hdr)
		// declare a 4 GiB payload which is never sent
		hdr[11] = 0x01

		r := &countingReader{r: bytes.NewReader(hdr)}
		_, err := DecodeMessage(r, DefaultMaxMessageSize)

		var perr *ProtocolError
		require.ErrorAs(err, &perr)
		require.Equal(DataEndType, perr.MsgType)
		require.Equal(HeaderSize, r.n)
	})

	t.Run("truncated header", func(t *testing.T) {
		require := require.New(t)

		_, err := DecodeMessage(bytes.NewReader([]byte{'H', 'S', 6}), 1024)
		require.ErrorIs(err, io.ErrUnexpectedEOF)
		require.NotErrorIs(err, ErrProtocol)
	})

	t.Run("truncated payload", func(t *testing.T) {
		require := require.New(t)

		data := NewMessage(DataType, 0, 0, []byte("0123456789")).ToBytes()

		_, err := DecodeMessage(bytes.NewReader(data[:HeaderSize+4]), 1024)
		require.ErrorIs(err, io.ErrUnexpectedEOF)
	})

	t.Run("i/o error is wrapped", func(t *testing.T) {
		require := require.New(t)

		ioErr := errors.New("connection reset")
		_, err := DecodeMessage(&failingReader{err: ioErr}, 1024)
		require.ErrorIs(err, ioErr)
	})
}

func TestMsgInfo(t *testing.T) {
	require := require.New(t)

	kv := MsgInfo(NewMessage(TriggerType, 1, 0xffffff00, nil), "channel", "sync")
	require.Equal([]any{
		"channel", "sync",
		"msgType", "Trigger",
		"control", uint8(1),
		"param", "0xffffff00",
		"payloadLen", 0,
	}, kv)

	require.Equal([]any{"a", 1}, MsgInfo(nil, "a", 1))
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n

	return n, err
}

type failingReader struct {
	err error
}

func (f *failingReader) Read([]byte) (int, error) {
	return 0, f.err
}
