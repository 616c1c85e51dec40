package hislipclient

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-hislip/hislip"
)

const testTimeout = 2 * time.Second

// fakeInstrument is a minimal HiSLIP server listening on a loopback port.
//
// After the handshake every message received on a channel is recorded, then handled by onSync/onAsync if set,
// or by the default behavior otherwise: queries are answered with "resp:<command>", async requests get a
// positive response.
type fakeInstrument struct {
	t    *testing.T
	ln   net.Listener
	port int

	sessionID  uint16
	version    hislip.Version
	vendor     hislip.VendorID
	overlap    bool
	maxMsgSize uint64
	statusByte byte
	lockResult uint8

	// initResponse replaces the InitializeResponse; returning nil sends nothing.
	initResponse func(req *hislip.Message) *hislip.Message
	onSync       func(f *fakeInstrument, msg *hislip.Message)
	onAsync      func(f *fakeInstrument, msg *hislip.Message)

	initReq   chan *hislip.Message
	syncMsgs  chan *hislip.Message
	asyncMsgs chan *hislip.Message

	mu        sync.Mutex
	syncConn  net.Conn
	asyncConn net.Conn
	syncWMu   sync.Mutex
	asyncWMu  sync.Mutex

	fragments bytes.Buffer
	done      chan struct{}
}

func newFakeInstrument(t *testing.T, opts ...func(f *fakeInstrument)) *fakeInstrument {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeInstrument{
		t:          t,
		ln:         ln,
		port:       ln.Addr().(*net.TCPAddr).Port,
		sessionID:  0x0042,
		version:    hislip.MakeVersion(1, 1),
		vendor:     hislip.MustVendorID("FK"),
		maxMsgSize: 1 << 16,
		lockResult: hislip.LockSuccess,
		initReq:    make(chan *hislip.Message, 1),
		syncMsgs:   make(chan *hislip.Message, 256),
		asyncMsgs:  make(chan *hislip.Message, 256),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	go f.serve()

	t.Cleanup(f.close)

	return f
}

func (f *fakeInstrument) close() {
	select {
	case <-f.done:
		return
	default:
		close(f.done)
	}

	_ = f.ln.Close()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.syncConn != nil {
		_ = f.syncConn.Close()
	}
	if f.asyncConn != nil {
		_ = f.asyncConn.Close()
	}
}

func (f *fakeInstrument) serve() {
	syncConn, err := f.ln.Accept()
	if err != nil {
		return
	}
	f.mu.Lock()
	f.syncConn = syncConn
	f.mu.Unlock()

	req, err := hislip.DecodeMessage(syncConn, 1<<20)
	if err != nil {
		return
	}
	f.initReq <- req

	resp := hislip.MakeInitializeResponse(hislip.InitializeResult{
		Overlap:       f.overlap,
		ServerVersion: f.version,
		SessionID:     f.sessionID,
	})
	if f.initResponse != nil {
		resp = f.initResponse(req)
	}
	if resp == nil {
		<-f.done
		return
	}
	f.sendSync(resp)
	if resp.Type() != hislip.InitializeResponseType {
		return
	}

	asyncConn, err := f.ln.Accept()
	if err != nil {
		return
	}
	f.mu.Lock()
	f.asyncConn = asyncConn
	f.mu.Unlock()

	req, err = hislip.DecodeMessage(asyncConn, 1<<20)
	if err != nil || req.Type() != hislip.AsyncInitializeType || req.Param() != uint32(f.sessionID) {
		return
	}
	f.sendAsync(hislip.NewMessage(hislip.AsyncInitializeResponseType, 0, uint32(f.vendor), nil))

	req, err = hislip.DecodeMessage(asyncConn, 1<<20)
	if err != nil || req.Type() != hislip.AsyncMaximumMessageSizeType {
		return
	}
	f.sendAsync(hislip.NewMessage(hislip.AsyncMaximumMessageSizeResponseType, 0, 0, hislip.EncodeMaxMessageSize(f.maxMsgSize)))

	go f.serveSync(syncConn)
	go f.serveAsync(asyncConn)
}

func (f *fakeInstrument) serveSync(conn net.Conn) {
	for {
		msg, err := hislip.DecodeMessage(conn, 1<<20)
		if err != nil {
			return
		}
		f.syncMsgs <- msg

		if f.onSync != nil {
			f.onSync(f, msg)
			continue
		}
		f.defaultSync(msg)
	}
}

func (f *fakeInstrument) defaultSync(msg *hislip.Message) {
	switch msg.Type() {
	case hislip.DataType:
		f.fragments.Write(msg.Payload())

	case hislip.DataEndType:
		f.fragments.Write(msg.Payload())
		cmd := strings.TrimSpace(f.fragments.String())
		f.fragments.Reset()

		if strings.HasSuffix(cmd, "?") {
			f.reply(msg, "resp:"+cmd)
		}

	case hislip.DeviceClearCompleteType:
		f.fragments.Reset()
		var ctrl uint8
		if f.overlap {
			ctrl = 1
		}
		f.sendSync(hislip.NewMessage(hislip.DeviceClearAcknowledgeType, ctrl, 0, nil))
	}
}

func (f *fakeInstrument) serveAsync(conn net.Conn) {
	for {
		msg, err := hislip.DecodeMessage(conn, 1<<20)
		if err != nil {
			return
		}
		f.asyncMsgs <- msg

		if f.onAsync != nil {
			f.onAsync(f, msg)
			continue
		}
		f.defaultAsync(msg)
	}
}

func (f *fakeInstrument) defaultAsync(msg *hislip.Message) {
	switch msg.Type() {
	case hislip.AsyncLockType:
		ctrl := f.lockResult
		if msg.Control() == hislip.LockRelease {
			ctrl = hislip.LockSuccess
		}
		f.sendAsync(hislip.NewMessage(hislip.AsyncLockResponseType, ctrl, 0, nil))

	case hislip.AsyncLockInfoType:
		f.sendAsync(hislip.NewMessage(hislip.AsyncLockInfoResponseType, 1, 1, nil))

	case hislip.AsyncStatusQueryType:
		f.sendAsync(hislip.NewMessage(hislip.AsyncStatusResponseType, f.statusByte, 0, nil))

	case hislip.AsyncRemoteLocalControlType:
		f.sendAsync(hislip.NewMessage(hislip.AsyncRemoteLocalResponseType, 0, 0, nil))

	case hislip.AsyncDeviceClearType:
		f.sendAsync(hislip.NewMessage(hislip.AsyncDeviceClearAcknowledgeType, 0, 0, nil))
	}
}

// reply answers the query msg with a single DataEND message.
func (f *fakeInstrument) reply(msg *hislip.Message, payload string) {
	f.sendSync(hislip.NewMessage(hislip.DataEndType, 0, msg.MessageID(), []byte(payload)))
}

func (f *fakeInstrument) sendSync(msg *hislip.Message) {
	f.syncWMu.Lock()
	defer f.syncWMu.Unlock()

	f.mu.Lock()
	conn := f.syncConn
	f.mu.Unlock()

	_, _ = conn.Write(msg.ToBytes())
}

func (f *fakeInstrument) sendAsync(msg *hislip.Message) {
	f.asyncWMu.Lock()
	defer f.asyncWMu.Unlock()

	f.mu.Lock()
	conn := f.asyncConn
	f.mu.Unlock()

	_, _ = conn.Write(msg.ToBytes())
}

// closeSync drops the synchronous channel connection.
func (f *fakeInstrument) closeSync() {
	f.mu.Lock()
	defer f.mu.Unlock()

	_ = f.syncConn.Close()
}

// nextMsg returns the next message of type msgType recorded on ch, skipping other types.
func nextMsg(t *testing.T, ch <-chan *hislip.Message, msgType hislip.MsgType) *hislip.Message {
	t.Helper()

	timer := time.NewTimer(testTimeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-ch:
			if msg.Type() == msgType {
				return msg
			}
		case <-timer.C:
			require.FailNow(t, "message not received", "type %s", msgType)
			return nil
		}
	}
}

// noMsg asserts that nothing is recorded on ch within a short period.
func noMsg(t *testing.T, ch <-chan *hislip.Message) {
	t.Helper()

	select {
	case msg := <-ch:
		require.FailNow(t, "unexpected message", "%s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// countingTransport counts the Send calls of a TCPTransport.
type countingTransport struct {
	*TCPTransport
	sends atomic.Int64
}

func (c *countingTransport) Send(data []byte) error {
	c.sends.Add(1)
	return c.TCPTransport.Send(data)
}

type transportRecorder struct {
	mu         sync.Mutex
	transports []*countingTransport
}

func (r *transportRecorder) factory() Transport {
	ct := &countingTransport{TCPTransport: NewTCPTransport(testTimeout)}

	r.mu.Lock()
	r.transports = append(r.transports, ct)
	r.mu.Unlock()

	return ct
}

// sends returns the total number of Send calls on all transports.
func (r *transportRecorder) sends() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, ct := range r.transports {
		n += ct.sends.Load()
	}

	return n
}

func testConfig(t *testing.T, port int, opts ...ConnOption) *ConnectionConfig {
	t.Helper()

	base := []ConnOption{
		WithConnectTimeout(testTimeout),
		WithHandshakeTimeout(testTimeout),
		WithIOTimeout(testTimeout),
		WithReadTimeout(testTimeout),
		WithAsyncTimeout(testTimeout),
		WithCloseTimeout(time.Second),
		WithLogger(testLogger),
	}

	cfg, err := NewConnectionConfig("127.0.0.1", port, append(base, opts...)...)
	require.NoError(t, err)

	return cfg
}

func openSession(t *testing.T, f *fakeInstrument, opts ...ConnOption) *Session {
	t.Helper()

	s, err := Open(context.Background(), testConfig(t, f.port, opts...))
	require.NoError(t, err)
	require.NotNil(t, s)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

// waitReadBlocked waits until a Read call holds the receive lock.
func waitReadBlocked(t *testing.T, s *Session) {
	t.Helper()

	require.Eventually(t, func() bool {
		if s.recvMu.TryLock() {
			s.recvMu.Unlock()
			return false
		}

		return true
	}, testTimeout, time.Millisecond)
}

// connTransport adapts a net.Conn, typically one end of net.Pipe, to Transport.
type connTransport struct {
	conn net.Conn
}

func (c *connTransport) Connect(context.Context, string, int) error { return nil }

func (c *connTransport) Send(data []byte) error {
	_, err := c.conn.Write(data)
	return err
}

func (c *connTransport) Receive(buf []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	// net.Pipe rejects deadlines once the peer is closed, Read then reports io.EOF
	_ = c.conn.SetReadDeadline(deadline)

	return c.conn.Read(buf)
}

func (c *connTransport) Close() error {
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}
