package hislip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	require := require.New(t)

	v := MakeVersion(1, 1)
	require.Equal(Version(0x0101), v)
	require.Equal(uint8(1), v.Major())
	require.Equal(uint8(1), v.Minor())
	require.Equal("1.1", v.String())
	require.Equal("1.0", ProtocolVersion.String())

	require.Equal(ProtocolVersion, MinVersion(ProtocolVersion, MakeVersion(2, 0)))
	require.Equal(MakeVersion(0, 9), MinVersion(ProtocolVersion, MakeVersion(0, 9)))
}

func TestVendorID(t *testing.T) {
	require := require.New(t)

	id, err := ParseVendorID("KE")
	require.NoError(err)
	require.Equal(VendorID(0x4b45), id)
	require.Equal("KE", id.String())

	_, err = ParseVendorID("K")
	require.Error(err)
	_, err = ParseVendorID("KEY")
	require.Error(err)
	_, err = ParseVendorID("K\xff")
	require.Error(err)

	require.Panics(func() { MustVendorID("") })
}

func TestInitializeParams(t *testing.T) {
	require := require.New(t)

	param := MakeInitializeParam(ProtocolVersion, MustVendorID("GO"))
	require.Equal(uint32(0x0100474f), param)

	version, vendor := ParseInitializeParam(param)
	require.Equal(ProtocolVersion, version)
	require.Equal("GO", vendor.String())

	resp := MakeInitializeResponse(InitializeResult{Overlap: true, ServerVersion: MakeVersion(1, 1), SessionID: 0x1234})
	require.Equal(InitializeResponseType, resp.Type())
	require.Equal(uint8(1), resp.Control())
	require.Equal(uint32(0x01011234), resp.Param())

	res, err := ParseInitializeResponse(resp)
	require.NoError(err)
	require.True(res.Overlap)
	require.Equal(MakeVersion(1, 1), res.ServerVersion)
	require.Equal(uint16(0x1234), res.SessionID)

	res, err = ParseInitializeResponse(NewMessage(InitializeResponseType, 0, 0x01000001, nil))
	require.NoError(err)
	require.False(res.Overlap)
	require.Equal(uint16(1), res.SessionID)

	_, err = ParseInitializeResponse(NewMessage(ErrorType, 0, 0, nil))
	require.ErrorIs(err, ErrProtocol)
}

func TestMaxMessageSize(t *testing.T) {
	require := require.New(t)

	payload := EncodeMaxMessageSize(0x0102030405060708)
	require.Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8}, payload)

	size, err := DecodeMaxMessageSize(NewMessage(AsyncMaximumMessageSizeResponseType, 0, 0, payload))
	require.NoError(err)
	require.Equal(uint64(0x0102030405060708), size)

	_, err = DecodeMaxMessageSize(NewMessage(AsyncMaximumMessageSizeResponseType, 0, 0, payload[:4]))
	require.ErrorIs(err, ErrProtocol)
}

func TestNextMessageID(t *testing.T) {
	require := require.New(t)

	require.Equal(uint32(0xffffff02), NextMessageID(InitialMessageID))
	require.Equal(uint32(0), NextMessageID(0xfffffffe))
	require.Equal(uint32(1), NextMessageID(0xffffffff))

	// 128 messages after the initial id, the counter wraps to 0
	id := InitialMessageID
	for range 128 {
		id = NextMessageID(id)
	}
	require.Equal(uint32(0), id)
}

func TestRemoteLocalCode(t *testing.T) {
	require := require.New(t)

	for code := DisableRemote; code <= GoToLocal; code++ {
		require.True(code.IsValid())
	}
	require.False(RemoteLocalCode(7).IsValid())
}

func TestMsgType(t *testing.T) {
	require := require.New(t)

	require.Equal("Initialize", InitializeType.String())
	require.Equal("DataEND", DataEndType.String())
	require.Equal("AsyncLockInfoResponse", AsyncLockInfoResponseType.String())
	require.Equal("Unknown(25)", MsgType(25).String())
	require.Equal("VendorSpecific(130)", MsgType(130).String())

	require.True(AsyncLockInfoResponseType.IsDefined())
	require.False(MsgType(25).IsDefined())

	require.True(AsyncStatusQueryType.IsAsync())
	require.True(AsyncInitializeType.IsAsync())
	require.False(DataType.IsAsync())
	require.False(FatalErrorType.IsAsync())
	require.False(DeviceClearCompleteType.IsAsync())
}
