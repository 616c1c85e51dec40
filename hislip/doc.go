// Package hislip provides the protocol core of HiSLIP (High-Speed LAN Instrument Protocol, IVI-6.1),
// the LAN replacement for GPIB/USB instrument buses used to control test and measurement instruments over TCP.
//
// This package offers functionalities for encoding/decoding HiSLIP messages, building and parsing
// the type-specific header parameters, and a generic session state manager for handling HiSLIP
// session state transitions. It also defines the error taxonomy shared by the client implementation.
//
// Message Format:
// Every HiSLIP message consists of a fixed 16-byte header followed by a variable payload.
// All multi-byte integers are big-endian.
//   - Prologue (2 bytes): the ASCII characters "HS".
//   - Message type (1 byte): see MsgType.
//   - Control code (1 byte): type-specific flags or sub-code.
//   - Message parameter (4 bytes): type-specific, e.g. message id, protocol version, lock timeout.
//   - Payload length (8 bytes): the exact length of the following payload.
//
// Message Types:
// The package defines MsgType constants categorized by the channel they travel on:
//   - Synchronous channel: Initialize, InitializeResponse, Data, DataEND, Trigger, Interrupted,
//     DeviceClearComplete, DeviceClearAcknowledge.
//   - Asynchronous channel: AsyncInitialize, AsyncMaximumMessageSize, AsyncLock, AsyncLockInfo,
//     AsyncRemoteLocalControl, AsyncDeviceClear, AsyncServiceRequest, AsyncStatusQuery and their responses.
//   - Either channel: FatalError, Error.
//
// Errors:
// Errors returned by this package and by hislipclient match one of the kind sentinels
// (ErrConnection, ErrProtocol, ErrTimeout, ErrFatalSession, ErrLock, ErrServer) through errors.Is, and
// carry details that can be extracted with errors.As.
package hislip
