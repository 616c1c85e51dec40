package hislip

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Version is a HiSLIP protocol version, encoded on the wire as major<<8 | minor.
type Version uint16

// ProtocolVersion is the protocol version implemented by this package.
const ProtocolVersion Version = 0x0100

// MakeVersion creates a Version from its major and minor numbers.
func MakeVersion(major, minor uint8) Version {
	return Version(uint16(major)<<8 | uint16(minor))
}

// Major returns the major version number.
func (v Version) Major() uint8 { return uint8(v >> 8) }

// Minor returns the minor version number.
func (v Version) Minor() uint8 { return uint8(v) }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

// MinVersion returns the lower of two versions.
func MinVersion(a, b Version) Version {
	if a < b {
		return a
	}

	return b
}

// VendorID is the two-character vendor abbreviation exchanged during initialization.
type VendorID uint16

// DefaultVendorID is the vendor id sent by this client.
var DefaultVendorID = MustVendorID("GO")

// ParseVendorID converts a two-character ASCII vendor abbreviation into a VendorID.
func ParseVendorID(s string) (VendorID, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("vendor id %q must be exactly 2 ASCII characters", s)
	}

	if s[0] > 0x7f || s[1] > 0x7f {
		return 0, fmt.Errorf("vendor id %q must be ASCII", s)
	}

	return VendorID(uint16(s[0])<<8 | uint16(s[1])), nil
}

// MustVendorID is like ParseVendorID but panics on error.
func MustVendorID(s string) VendorID {
	id, err := ParseVendorID(s)
	if err != nil {
		panic(err)
	}

	return id
}

func (v VendorID) String() string {
	b := [2]byte{byte(v >> 8), byte(v)}
	return strings.ToValidUTF8(string(b[:]), "?")
}

// MakeInitializeParam builds the message parameter of the Initialize message:
// the client protocol version in the upper 16 bits and the client vendor id in the lower 16 bits.
func MakeInitializeParam(version Version, vendorID VendorID) uint32 {
	return uint32(version)<<16 | uint32(vendorID)
}

// ParseInitializeParam is the inverse of MakeInitializeParam.
func ParseInitializeParam(param uint32) (Version, VendorID) {
	return Version(param >> 16), VendorID(param)
}

// InitializeResult holds the fields carried by an InitializeResponse message.
type InitializeResult struct {
	// Overlap is true when the server runs the session in overlapped mode.
	Overlap bool
	// ServerVersion is the protocol version announced by the server.
	ServerVersion Version
	// SessionID is the session id assigned by the server.
	SessionID uint16
}

// MakeInitializeResponse builds an InitializeResponse message.
func MakeInitializeResponse(res InitializeResult) *Message {
	var ctrl uint8
	if res.Overlap {
		ctrl = 1
	}

	return NewMessage(InitializeResponseType, ctrl, uint32(res.ServerVersion)<<16|uint32(res.SessionID), nil)
}

// ParseInitializeResponse extracts the fields of an InitializeResponse message.
func ParseInitializeResponse(msg *Message) (InitializeResult, error) {
	if msg.Type() != InitializeResponseType {
		return InitializeResult{}, UnexpectedMsgError(InitializeResponseType, msg)
	}

	return InitializeResult{
		Overlap:       msg.Control()&0x01 != 0,
		ServerVersion: Version(msg.Param() >> 16),
		SessionID:     uint16(msg.Param()),
	}, nil
}

// EncodeMaxMessageSize encodes a maximum message size as the 8-byte payload of
// AsyncMaximumMessageSize and its response.
func EncodeMaxMessageSize(size uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, size)

	return buf
}

// DecodeMaxMessageSize decodes the payload of AsyncMaximumMessageSize and its response.
func DecodeMaxMessageSize(msg *Message) (uint64, error) {
	if len(msg.Payload()) != 8 {
		return 0, &ProtocolError{
			Reason:  fmt.Sprintf("maximum message size payload must be 8 bytes, got %d", len(msg.Payload())),
			MsgType: msg.Type(),
		}
	}

	return binary.BigEndian.Uint64(msg.Payload()), nil
}

// NextMessageID returns the message id following id. Message ids advance by 2 and wrap around.
func NextMessageID(id uint32) uint32 {
	return id + 2
}

// RemoteLocalCode is the control code of AsyncRemoteLocalControl.
type RemoteLocalCode uint8

// Remote/local control requests, equivalent to the VISA viGpibControlREN modes.
const (
	DisableRemote       RemoteLocalCode = 0
	EnableRemote        RemoteLocalCode = 1
	DisableAndGoLocal   RemoteLocalCode = 2
	EnableAndGoRemote   RemoteLocalCode = 3
	EnableAndLockout    RemoteLocalCode = 4
	EnableRemoteLockout RemoteLocalCode = 5
	GoToLocal           RemoteLocalCode = 6
)

// IsValid reports whether c is a defined remote/local request.
func (c RemoteLocalCode) IsValid() bool { return c <= GoToLocal }

// AsyncLock control codes.
const (
	LockRelease uint8 = 0
	LockRequest uint8 = 1
)

// AsyncLockResponse control codes.
const (
	LockFailure        uint8 = 0 // request timed out
	LockSuccess        uint8 = 1 // request granted, or exclusive lock released
	LockSharedReleased uint8 = 2 // shared lock released
	LockResponseError  uint8 = 3 // invalid request, e.g. release without lock
)
