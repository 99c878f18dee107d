// internal/stun/message.go
package stun

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Wire constants for the binding protocol.
const (
	HeaderSize = 20

	TypeBindingRequest uint16 = 0x0001
	TypeBindingSuccess uint16 = 0x0101
	TypeBindingError   uint16 = 0x0111

	AttrUsername         uint16 = 0x0006
	AttrMessageIntegrity uint16 = 0x0008
	AttrErrorCode        uint16 = 0x0009
	AttrRealm            uint16 = 0x0014
	AttrNonce            uint16 = 0x0015
	AttrXORMappedAddress uint16 = 0x0020
	AttrSoftware         uint16 = 0x8022

	CodeBadRequest      uint16 = 400
	CodeUnauthorized    uint16 = 401
	CodeTooManyRequests uint16 = 429

	// Software identifies this responder in every success response.
	Software = "PES2021-STUN/1.0"
)

// magicCookie is XORed into the mapped address. The port is XORed with its
// top half.
var magicCookie = [4]byte{0x21, 0x12, 0xA4, 0x42}

const portXOR = 0x2112

var (
	ErrShortPacket    = errors.New("packet shorter than header")
	ErrLengthMismatch = errors.New("declared length does not match datagram")
	ErrBadAttribute   = errors.New("truncated attribute")
)

// Attribute is one TLV entry in a binding message.
type Attribute struct {
	Type  uint16
	Value []byte
}

// Message is a decoded binding request or response. IntegrityOffset is the
// byte offset of the MESSAGE-INTEGRITY attribute header in the original
// datagram, or -1; the integrity digest covers everything before it.
type Message struct {
	Type            uint16
	TransactionID   [16]byte
	Attributes      []Attribute
	IntegrityOffset int
}

// NewMessage creates an empty message with the given type and transaction id.
func NewMessage(msgType uint16, txID [16]byte) *Message {
	return &Message{Type: msgType, TransactionID: txID, IntegrityOffset: -1}
}

// Add appends one attribute.
func (m *Message) Add(attrType uint16, value []byte) {
	m.Attributes = append(m.Attributes, Attribute{Type: attrType, Value: value})
}

// Attr returns the first attribute of the given type.
func (m *Message) Attr(attrType uint16) ([]byte, bool) {
	for _, a := range m.Attributes {
		if a.Type == attrType {
			return a.Value, true
		}
	}
	return nil, false
}

// Parse decodes a datagram. Attribute values are padded to 4-byte
// boundaries on the wire; the declared length in each TLV is exact.
func Parse(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortPacket
	}
	declared := int(binary.BigEndian.Uint16(data[2:4]))
	if len(data) != declared+HeaderSize {
		return nil, ErrLengthMismatch
	}

	m := &Message{
		Type:            binary.BigEndian.Uint16(data[0:2]),
		IntegrityOffset: -1,
	}
	copy(m.TransactionID[:], data[4:HeaderSize])

	pos := HeaderSize
	for pos+4 <= len(data) {
		attrType := binary.BigEndian.Uint16(data[pos : pos+2])
		attrLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if pos+4+attrLen > len(data) {
			return nil, ErrBadAttribute
		}
		if attrType == AttrMessageIntegrity && m.IntegrityOffset < 0 {
			m.IntegrityOffset = pos
		}
		value := make([]byte, attrLen)
		copy(value, data[pos+4:pos+4+attrLen])
		m.Attributes = append(m.Attributes, Attribute{Type: attrType, Value: value})

		pos += 4 + attrLen
		if attrLen%4 != 0 {
			pos += 4 - attrLen%4
		}
	}
	return m, nil
}

// Encode serializes the message, padding each attribute to a 4-byte
// boundary and filling in the header length field.
func (m *Message) Encode() []byte {
	buf := make([]byte, HeaderSize, HeaderSize+64)
	binary.BigEndian.PutUint16(buf[0:2], m.Type)
	copy(buf[4:HeaderSize], m.TransactionID[:])

	for _, a := range m.Attributes {
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[0:2], a.Type)
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(a.Value)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, a.Value...)
		if pad := len(a.Value) % 4; pad != 0 {
			buf = append(buf, make([]byte, 4-pad)...)
		}
	}
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)-HeaderSize))
	return buf
}

// XORMappedAddress builds the obscured-address attribute value for an IPv4
// peer: family byte, port XORed with 0x2112, address bytes XORed with the
// magic cookie.
func XORMappedAddress(addr *net.UDPAddr) ([]byte, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("not an IPv4 address: %s", addr.IP)
	}
	value := make([]byte, 8)
	value[0] = 0
	value[1] = 1
	binary.BigEndian.PutUint16(value[2:4], uint16(addr.Port)^portXOR)
	for i := 0; i < 4; i++ {
		value[4+i] = ip4[i] ^ magicCookie[i]
	}
	return value, nil
}

// DecodeXORMappedAddress reverses XORMappedAddress.
func DecodeXORMappedAddress(value []byte) (net.IP, int, error) {
	if len(value) != 8 {
		return nil, 0, fmt.Errorf("bad mapped address length %d", len(value))
	}
	port := int(binary.BigEndian.Uint16(value[2:4]) ^ portXOR)
	ip := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		ip[i] = value[4+i] ^ magicCookie[i]
	}
	return ip, port, nil
}

// ErrorCodeValue builds the error-code attribute value: the code as a
// 16-bit integer followed by two reserved bytes. This matches the client's
// expectation, not the RFC layout.
func ErrorCodeValue(code uint16) []byte {
	value := make([]byte, 4)
	binary.BigEndian.PutUint16(value[0:2], code)
	return value
}

// ErrorResponse builds a complete error message carrying just an
// error-code attribute.
func ErrorResponse(code uint16, txID [16]byte) []byte {
	m := NewMessage(TypeBindingError, txID)
	m.Add(AttrErrorCode, ErrorCodeValue(code))
	return m.Encode()
}
