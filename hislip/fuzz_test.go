package hislip

import (
	"bytes"
	"testing"
)

// FuzzDecodeMessage feeds arbitrary bytes to the message decoder.
//
// DecodeMessage must never panic, and a decoded message must encode back to the bytes it was decoded from.
func FuzzDecodeMessage(f *testing.F) {
	f.Add(NewMessage(InitializeType, 0, MakeInitializeParam(ProtocolVersion, DefaultVendorID), []byte("hislip0")).ToBytes())
	f.Add(NewMessage(DataEndType, 1, InitialMessageID, []byte("*IDN?\n")).ToBytes())
	f.Add(NewMessage(AsyncMaximumMessageSizeType, 0, 0, EncodeMaxMessageSize(DefaultMaxMessageSize)).ToBytes())
	f.Add([]byte("HS"))
	f.Add([]byte{})
	// declared length far beyond the maximum
	f.Add([]byte{'H', 'S', 7, 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	// bad prologue
	f.Add([]byte{'X', 'S', 7, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := DecodeMessage(bytes.NewReader(data), 4096)
		if err != nil {
			return
		}

		encoded := msg.ToBytes()
		if !bytes.Equal(encoded, data[:len(encoded)]) {
			t.Fatalf("re-encoded message %x differs from input %x", encoded, data[:len(encoded)])
		}
	})
}
