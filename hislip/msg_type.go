package hislip

import "strconv"

// MsgType is the HiSLIP message type carried in the third byte of the header.
type MsgType uint8

// HiSLIP message types.
const (
	InitializeType                      MsgType = 0
	InitializeResponseType              MsgType = 1
	FatalErrorType                      MsgType = 2
	ErrorType                           MsgType = 3
	AsyncLockType                       MsgType = 4
	AsyncLockResponseType               MsgType = 5
	DataType                            MsgType = 6
	DataEndType                         MsgType = 7
	DeviceClearCompleteType             MsgType = 8
	DeviceClearAcknowledgeType          MsgType = 9
	AsyncRemoteLocalControlType         MsgType = 10
	AsyncRemoteLocalResponseType        MsgType = 11
	TriggerType                         MsgType = 12
	InterruptedType                     MsgType = 13
	AsyncMaximumMessageSizeType         MsgType = 14
	AsyncMaximumMessageSizeResponseType MsgType = 15
	AsyncInitializeType                 MsgType = 16
	AsyncInitializeResponseType         MsgType = 17
	AsyncDeviceClearType                MsgType = 18
	AsyncServiceRequestType             MsgType = 19
	AsyncStatusQueryType                MsgType = 20
	AsyncStatusResponseType             MsgType = 21
	AsyncDeviceClearAcknowledgeType     MsgType = 22
	AsyncLockInfoType                   MsgType = 23
	AsyncLockInfoResponseType           MsgType = 24

	// VendorSpecificType is the first message type reserved for vendor specific extensions.
	VendorSpecificType MsgType = 128
)

var msgTypeNames = [...]string{
	InitializeType:                      "Initialize",
	InitializeResponseType:              "InitializeResponse",
	FatalErrorType:                      "FatalError",
	ErrorType:                           "Error",
	AsyncLockType:                       "AsyncLock",
	AsyncLockResponseType:               "AsyncLockResponse",
	DataType:                            "Data",
	DataEndType:                         "DataEND",
	DeviceClearCompleteType:             "DeviceClearComplete",
	DeviceClearAcknowledgeType:          "DeviceClearAcknowledge",
	AsyncRemoteLocalControlType:         "AsyncRemoteLocalControl",
	AsyncRemoteLocalResponseType:        "AsyncRemoteLocalResponse",
	TriggerType:                         "Trigger",
	InterruptedType:                     "Interrupted",
	AsyncMaximumMessageSizeType:         "AsyncMaximumMessageSize",
	AsyncMaximumMessageSizeResponseType: "AsyncMaximumMessageSizeResponse",
	AsyncInitializeType:                 "AsyncInitialize",
	AsyncInitializeResponseType:         "AsyncInitializeResponse",
	AsyncDeviceClearType:                "AsyncDeviceClear",
	AsyncServiceRequestType:             "AsyncServiceRequest",
	AsyncStatusQueryType:                "AsyncStatusQuery",
	AsyncStatusResponseType:             "AsyncStatusResponse",
	AsyncDeviceClearAcknowledgeType:     "AsyncDeviceClearAcknowledge",
	AsyncLockInfoType:                   "AsyncLockInfo",
	AsyncLockInfoResponseType:           "AsyncLockInfoResponse",
}

// String returns the name of the message type.
func (t MsgType) String() string {
	if int(t) < len(msgTypeNames) {
		return msgTypeNames[t]
	}

	if t >= VendorSpecificType {
		return "VendorSpecific(" + strconv.Itoa(int(t)) + ")"
	}

	return "Unknown(" + strconv.Itoa(int(t)) + ")"
}

// IsDefined reports whether t is one of the message types defined by the protocol.
func (t MsgType) IsDefined() bool {
	return int(t) < len(msgTypeNames)
}

// IsAsync reports whether messages of type t travel on the asynchronous channel.
//
// FatalError and Error may travel on either channel and are reported as false.
func (t MsgType) IsAsync() bool {
	switch t {
	case AsyncLockType, AsyncLockResponseType,
		AsyncRemoteLocalControlType, AsyncRemoteLocalResponseType,
		AsyncMaximumMessageSizeType, AsyncMaximumMessageSizeResponseType,
		AsyncInitializeType, AsyncInitializeResponseType,
		AsyncDeviceClearType, AsyncDeviceClearAcknowledgeType,
		AsyncServiceRequestType,
		AsyncStatusQueryType, AsyncStatusResponseType,
		AsyncLockInfoType, AsyncLockInfoResponseType:
		return true
	default:
		return false
	}
}
