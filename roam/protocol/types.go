package protocol

// MessageType is the first byte of every frame.
type MessageType uint8

const (
	MessageTypeHello     MessageType = 1
	MessageTypeConfirm   MessageType = 2
	MessageTypeKeepalive MessageType = 3
	MessageTypePeerList  MessageType = 4
	MessageTypeData      MessageType = 5
	MessageTypeClose     MessageType = 6
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeHello:
		return "HELLO"
	case MessageTypeConfirm:
		return "CONFIRM"
	case MessageTypeKeepalive:
		return "KEEPALIVE"
	case MessageTypePeerList:
		return "PEER_LIST"
	case MessageTypeData:
		return "DATA"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Sealed reports whether frames of this type carry an encrypted payload.
// Only the handshake frames travel in the clear.
func (t MessageType) Sealed() bool {
	return t >= MessageTypeKeepalive && t <= MessageTypeClose
}

// AD is the associated data bound into sealed frames of this type.
func (t MessageType) AD() []byte { return []byte{byte(t)} }
