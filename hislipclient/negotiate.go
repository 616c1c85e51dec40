package hislipclient

import (
	"context"
	"fmt"

	"github.com/arloliu/go-hislip/hislip"
)

// negotiate establishes both channels and walks the session state from DisconnectedState to ReadyState.
func (s *Session) negotiate(ctx context.Context) error {
	cfg := s.cfg

	// synchronous channel
	if err := s.connectChannel(ctx, s.sync); err != nil {
		return err
	}
	if err := s.stateMgr.Advance(hislip.SyncOpenState); err != nil {
		return err
	}

	initMsg := hislip.NewMessage(
		hislip.InitializeType,
		0,
		hislip.MakeInitializeParam(hislip.ProtocolVersion, cfg.vendorID),
		[]byte(cfg.subAddress),
	)
	resp, err := s.handshake(ctx, s.sync, initMsg, hislip.InitializeResponseType)
	if err != nil {
		return err
	}

	res, err := hislip.ParseInitializeResponse(resp)
	if err != nil {
		return err
	}
	s.sessionID = res.SessionID
	s.serverVersion = res.ServerVersion
	s.version = hislip.MinVersion(hislip.ProtocolVersion, res.ServerVersion)
	s.overlap.Store(res.Overlap)

	if err := s.stateMgr.Advance(hislip.SyncInitializedState); err != nil {
		return err
	}

	// asynchronous channel
	if err := s.connectChannel(ctx, s.async); err != nil {
		return err
	}
	if err := s.stateMgr.Advance(hislip.AsyncOpenState); err != nil {
		return err
	}

	resp, err = s.handshake(ctx, s.async,
		hislip.NewMessage(hislip.AsyncInitializeType, 0, uint32(s.sessionID), nil),
		hislip.AsyncInitializeResponseType,
	)
	if err != nil {
		return err
	}
	s.serverVendorID = hislip.VendorID(resp.Param()) //nolint:gosec

	if err := s.stateMgr.Advance(hislip.AsyncInitializedState); err != nil {
		return err
	}

	// maximum message size
	resp, err = s.handshake(ctx, s.async,
		hislip.NewMessage(hislip.AsyncMaximumMessageSizeType, 0, 0, hislip.EncodeMaxMessageSize(cfg.maxMessageSize)),
		hislip.AsyncMaximumMessageSizeResponseType,
	)
	if err != nil {
		return err
	}

	serverMax, err := hislip.DecodeMaxMessageSize(resp)
	if err != nil {
		return err
	}
	s.maxMsgSize = min(cfg.maxMessageSize, serverMax)
	if s.maxMsgSize == 0 {
		return &hislip.ProtocolError{Reason: "server announced a maximum message size of 0", MsgType: resp.Type()}
	}

	if err := s.stateMgr.Advance(hislip.MaxSizeNegotiatedState); err != nil {
		return err
	}

	if err := s.startTasks(); err != nil {
		return err
	}

	if err := s.stateMgr.Advance(hislip.ReadyState); err != nil {
		return err
	}

	s.logger.Info("session established",
		"sessionID", s.sessionID,
		"version", s.version.String(),
		"serverVersion", s.serverVersion.String(),
		"serverVendor", s.serverVendorID.String(),
		"overlap", res.Overlap,
		"maxMessageSize", s.maxMsgSize,
	)

	return nil
}

func (s *Session) connectChannel(ctx context.Context, ch *channel) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.connectTimeout)
	defer cancel()

	if err := ch.connect(ctx, s.cfg.host, s.cfg.port); err != nil {
		s.logger.Debug("failed to connect channel", "channel", ch.name, "error", err)
		return &hislip.ConnectionError{Op: "connect " + ch.name + " channel", Err: err}
	}

	return nil
}

// handshake sends req on ch and waits for a response of type expected.
//
// A FatalError or Error response is converted to *hislip.FatalSessionError or *hislip.ServerError,
// any other type is a protocol violation.
func (s *Session) handshake(ctx context.Context, ch *channel, req *hislip.Message, expected hislip.MsgType) (*hislip.Message, error) {
	op := req.Type().String()

	if err := ctx.Err(); err != nil {
		return nil, &hislip.ConnectionError{Op: op, Err: err}
	}

	// a canceled context unblocks the read by closing the channels
	stop := context.AfterFunc(ctx, func() { _ = s.closeChannels() })
	defer stop()

	if err := ch.send(req); err != nil {
		return nil, &hislip.ConnectionError{Op: op, Err: err}
	}

	resp, err := s.reader.ReadMessage(ch, s.cfg.handshakeTimeout, s.cfg.maxMessageSize)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &hislip.ConnectionError{Op: op, Err: ctxErr}
		}
		if isTimeout(err) {
			return nil, &hislip.ConnectionError{
				Op:  op,
				Err: fmt.Errorf("%w: %w", &hislip.TimeoutError{Op: "wait for " + expected.String(), Duration: s.cfg.handshakeTimeout}, err),
			}
		}

		return nil, connErr(op, err)
	}

	switch resp.Type() {
	case expected:
		return resp, nil
	case hislip.FatalErrorType:
		return nil, hislip.NewFatalSessionError(resp)
	case hislip.ErrorType:
		return nil, hislip.NewServerError(resp)
	default:
		return nil, hislip.UnexpectedMsgError(expected, resp)
	}
}

func (s *Session) startTasks() error {
	if err := s.taskMgr.Start("syncReader", s.syncReaderTask, nil); err != nil {
		return err
	}

	if s.cfg.srqHandler != nil {
		if err := s.taskMgr.Start("srqHandler", s.srqHandlerTask, nil); err != nil {
			return err
		}
	}

	return s.taskMgr.Start("asyncListener", s.asyncListenerTask, nil)
}

// isShutdown reports whether the session is ending, in which case channel read failures are expected.
func (s *Session) isShutdown() bool {
	return s.ctx.Err() != nil || s.stateMgr.IsTerminal()
}
