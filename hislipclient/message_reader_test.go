package hislipclient

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-hislip/hislip"
	"github.com/arloliu/go-hislip/logger"
)

func newPipeChannel(t *testing.T) (*channel, net.Conn) {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	return newChannel("sync", &connTransport{conn: client}, logger.NewNop()), server
}

// TestMessageReader_Success verifies that consecutive messages are read and decoded.
func TestMessageReader_Success(t *testing.T) {
	require := require.New(t)

	ch, server := newPipeChannel(t)
	reader := newMessageReader(time.Second)

	go func() {
		_, _ = server.Write(hislip.NewMessage(hislip.DataType, 0, hislip.InitialMessageID, []byte("1.2,")).ToBytes())
		_, _ = server.Write(hislip.NewMessage(hislip.DataEndType, 1, hislip.InitialMessageID, []byte("3.4")).ToBytes())
	}()

	msg, err := reader.ReadMessage(ch, time.Second, 1024)
	require.NoError(err)
	require.Equal(hislip.DataType, msg.Type())
	require.Equal([]byte("1.2,"), msg.Payload())

	msg, err = reader.ReadMessage(ch, 0, 1024)
	require.NoError(err)
	require.Equal(hislip.DataEndType, msg.Type())
	require.Equal(uint8(1), msg.Control())
	require.Equal(hislip.InitialMessageID, msg.MessageID())
	require.Equal([]byte("3.4"), msg.Payload())
}

// TestMessageReader_BadPrologue verifies that a header without the "HS" prologue is a protocol error.
func TestMessageReader_BadPrologue(t *testing.T) {
	require := require.New(t)

	ch, server := newPipeChannel(t)
	reader := newMessageReader(time.Second)

	go func() {
		frame := hislip.NewMessage(hislip.DataEndType, 0, 0, nil).ToBytes()
		frame[0] = 'X'
		_, _ = server.Write(frame)
	}()

	msg, err := reader.ReadMessage(ch, time.Second, 1024)
	require.Nil(msg)
	require.ErrorIs(err, hislip.ErrProtocol)
}

// TestMessageReader_Oversize verifies that an oversize payload is rejected from its header alone.
func TestMessageReader_Oversize(t *testing.T) {
	require := require.New(t)

	ch, server := newPipeChannel(t)
	reader := newMessageReader(time.Second)

	go func() {
		header := hislip.NewMessage(hislip.DataEndType, 0, 0, nil).ToBytes()
		binary.BigEndian.PutUint64(header[8:], 1<<40)
		_, _ = server.Write(header)
	}()

	msg, err := reader.ReadMessage(ch, time.Second, 1024)
	require.Nil(msg)
	require.ErrorIs(err, hislip.ErrProtocol)
}

// TestMessageReader_IdleTimeout verifies that the wait for a message is bounded by the idle timeout.
func TestMessageReader_IdleTimeout(t *testing.T) {
	require := require.New(t)

	ch, _ := newPipeChannel(t)
	reader := newMessageReader(time.Second)

	start := time.Now()
	msg, err := reader.ReadMessage(ch, 20*time.Millisecond, 1024)
	require.Nil(msg)
	require.True(isTimeout(err))
	require.Less(time.Since(start), time.Second)
}

// TestMessageReader_StalledPayload verifies that the remainder of a started message is bounded by
// the I/O timeout.
func TestMessageReader_StalledPayload(t *testing.T) {
	require := require.New(t)

	ch, server := newPipeChannel(t)
	reader := newMessageReader(30 * time.Millisecond)

	go func() {
		frame := hislip.NewMessage(hislip.DataEndType, 0, 0, []byte("0123456789")).ToBytes()
		_, _ = server.Write(frame[:hislip.HeaderSize+3])
	}()

	msg, err := reader.ReadMessage(ch, 0, 1024)
	require.Nil(msg)
	require.Error(err)
	require.True(isTimeout(err))
}

// TestMessageReader_Closed verifies that a closed peer is reported as EOF.
func TestMessageReader_Closed(t *testing.T) {
	require := require.New(t)

	ch, server := newPipeChannel(t)
	reader := newMessageReader(time.Second)

	require.NoError(server.Close())

	_, err := reader.ReadMessage(ch, time.Second, 1024)
	require.ErrorIs(err, io.EOF)
}
