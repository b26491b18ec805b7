package protos

import "encoding/binary"

// Field is one wire-level occurrence of a field number.
type Field struct {
	Wire   int
	Varint int64  // WireVarint, WireFixed64 (signed), WireFixed32
	Bytes  []byte // WireBytes, a sub-slice of the parsed buffer
}

// Message maps a field number to its occurrences in wire order.
// Repeated fields keep their multiplicity.
type Message map[int][]Field

// Parse walks buf and collects every field it can. It never reads past
// the buffer: an unknown wire type, a truncated varint or a
// length-delimited field longer than the remaining bytes all terminate
// parsing and return what was collected so far.
func Parse(buf []byte) Message {
	msg := make(Message)
	pos := 0
	for pos < len(buf) {
		tag, n := uvarint(buf[pos:])
		if n <= 0 {
			return msg
		}
		pos += n
		fieldNumber := int(tag >> 3)
		wireType := int(tag & 7)
		switch wireType {
		case WireVarint:
			v, n := uvarint(buf[pos:])
			if n <= 0 {
				return msg
			}
			pos += n
			msg[fieldNumber] = append(msg[fieldNumber], Field{Wire: wireType, Varint: int64(v)})
		case WireFixed64:
			if pos+8 > len(buf) {
				return msg
			}
			v := binary.LittleEndian.Uint64(buf[pos:])
			pos += 8
			msg[fieldNumber] = append(msg[fieldNumber], Field{Wire: wireType, Varint: int64(v)})
		case WireBytes:
			l, n := uvarint(buf[pos:])
			if n <= 0 {
				return msg
			}
			pos += n
			if l > uint64(len(buf)-pos) {
				return msg
			}
			msg[fieldNumber] = append(msg[fieldNumber], Field{Wire: wireType, Bytes: buf[pos : pos+int(l)]})
			pos += int(l)
		case WireFixed32:
			if pos+4 > len(buf) {
				return msg
			}
			v := binary.LittleEndian.Uint32(buf[pos:])
			pos += 4
			msg[fieldNumber] = append(msg[fieldNumber], Field{Wire: wireType, Varint: int64(v)})
		default:
			return msg
		}
	}
	return msg
}

// FirstVarint returns the first numeric occurrence of fieldNumber: a
// varint or a 32/64-bit fixed field.
func (m Message) FirstVarint(fieldNumber int) (int64, bool) {
	for _, f := range m[fieldNumber] {
		if f.Wire == WireVarint || f.Wire == WireFixed64 || f.Wire == WireFixed32 {
			return f.Varint, true
		}
	}
	return 0, false
}

// FirstBool reads the FirstVarint value as a bool (non-zero is true).
func (m Message) FirstBool(fieldNumber int) bool {
	v, ok := m.FirstVarint(fieldNumber)
	return ok && v != 0
}

// FirstBytes returns the first length-delimited occurrence of fieldNumber.
func (m Message) FirstBytes(fieldNumber int) ([]byte, bool) {
	for _, f := range m[fieldNumber] {
		if f.Wire == WireBytes {
			return f.Bytes, true
		}
	}
	return nil, false
}

// FirstString returns the first length-delimited occurrence as UTF-8.
func (m Message) FirstString(fieldNumber int) (string, bool) {
	b, ok := m.FirstBytes(fieldNumber)
	if !ok {
		return "", false
	}
	return string(b), true
}

// FirstMessage parses the first length-delimited occurrence as a
// nested message.
func (m Message) FirstMessage(fieldNumber int) (Message, bool) {
	b, ok := m.FirstBytes(fieldNumber)
	if !ok {
		return nil, false
	}
	return Parse(b), true
}

// Messages parses every length-delimited occurrence of fieldNumber.
func (m Message) Messages(fieldNumber int) []Message {
	var out []Message
	for _, f := range m[fieldNumber] {
		if f.Wire == WireBytes {
			out = append(out, Parse(f.Bytes))
		}
	}
	return out
}

// Varints returns every varint occurrence of fieldNumber in wire order.
func (m Message) Varints(fieldNumber int) []int64 {
	var out []int64
	for _, f := range m[fieldNumber] {
		if f.Wire == WireVarint {
			out = append(out, f.Varint)
		}
	}
	return out
}
