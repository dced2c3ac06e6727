package wire

import (
	"encoding/binary"
	"fmt"
)

// EncodeProtocolDatagram builds the first handshake datagram: one byte.
func EncodeProtocolDatagram(p Protocol) []byte {
	return []byte{p.Byte()}
}

// DecodeProtocolDatagram parses the first handshake datagram.
func DecodeProtocolDatagram(b []byte) (Protocol, error) {
	if len(b) != 1 {
		return 0, fmt.Errorf("protocol datagram must be 1 byte, got %d", len(b))
	}
	return ProtocolFromByte(b[0])
}

// EncodePortDatagram builds the second handshake datagram: the
// requested remote port, big-endian.
func EncodePortDatagram(port uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, port)
	return buf
}

// DecodePortDatagram parses the second handshake datagram.
func DecodePortDatagram(b []byte) (uint16, error) {
	if len(b) != 2 {
		return 0, fmt.Errorf("port datagram must be 2 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}
