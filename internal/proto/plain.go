package proto

import (
	"encoding/binary"
	"fmt"
)

// EncodePlain builds an unencrypted envelope: zero auth key id, message id,
// length and body. Only the key exchange uses it.
func EncodePlain(msgID int64, body []byte) []byte {
	b := make([]byte, 0, 20+len(body))
	b = binary.LittleEndian.AppendUint64(b, 0)
	b = binary.LittleEndian.AppendUint64(b, uint64(msgID))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(body)))
	return append(b, body...)
}

// DecodePlain parses an unencrypted envelope. Bytes past the declared length
// are transport padding and ignored.
func DecodePlain(b []byte) (msgID int64, body []byte, err error) {
	if len(b) < 20 {
		return 0, nil, fmt.Errorf("plain envelope too short: %d", len(b))
	}
	if id := binary.LittleEndian.Uint64(b[0:8]); id != 0 {
		return 0, nil, fmt.Errorf("plain envelope has auth key id %x", id)
	}
	msgID = int64(binary.LittleEndian.Uint64(b[8:16]))
	l := int(binary.LittleEndian.Uint32(b[16:20]))
	if l < 0 || l > len(b)-20 {
		return 0, nil, fmt.Errorf("plain envelope length %d out of bounds", l)
	}
	return msgID, b[20 : 20+l], nil
}

// IsPlain reports whether the packet starts with a zero auth key id.
func IsPlain(b []byte) bool {
	return len(b) >= 8 && binary.LittleEndian.Uint64(b[0:8]) == 0
}
