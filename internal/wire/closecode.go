package wire

// CloseCode is carried as the transport's application-close numeric
// code when the server refuses or tears down a session.
type CloseCode uint64

const (
	Unauthorized    CloseCode = 1
	InvalidPort     CloseCode = 2
	InvalidProtocol CloseCode = 3
	Unknown         CloseCode = 255
)

// CloseCodeFromVarint maps a transport close code back to a CloseCode,
// defaulting to Unknown for anything the server never sends itself
// (e.g. a transport-level abort).
func CloseCodeFromVarint(v uint64) CloseCode {
	switch CloseCode(v) {
	case Unauthorized, InvalidPort, InvalidProtocol:
		return CloseCode(v)
	default:
		return Unknown
	}
}

func (c CloseCode) Varint() uint64 {
	return uint64(c)
}

// Reason is the human text sent as the close reason and shown to the
// client; it must match byte-for-byte what the server sends so both
// sides agree on the displayed message.
func (c CloseCode) Reason() string {
	switch c {
	case Unauthorized:
		return "Unauthorized connection attempt"
	case InvalidPort:
		return "Invalid port requested, must be between 1024 and 65535"
	case InvalidProtocol:
		return "Invalid protocol requested, must be TCP or UDP"
	default:
		return "Unknown close reason"
	}
}

func (c CloseCode) String() string {
	switch c {
	case Unauthorized:
		return "Unauthorized"
	case InvalidPort:
		return "InvalidPort"
	case InvalidProtocol:
		return "InvalidProtocol"
	default:
		return "Unknown"
	}
}
