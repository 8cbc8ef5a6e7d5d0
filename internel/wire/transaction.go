package wire

import (
	"encoding/binary"
)

// Field is one typed parameter of a transaction. Data layout per field is
// defined by the field id; this layer treats it as opaque bytes.
type Field struct {
	ID   uint16
	Data []byte
}

func NewField(id uint16, data []byte) Field {
	return Field{ID: id, Data: data}
}

func Uint16Field(id uint16, v uint16) Field {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return Field{ID: id, Data: b}
}

func Uint32Field(id uint16, v uint32) Field {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return Field{ID: id, Data: b}
}

// Transaction is one framed request or reply unit on the control connection.
// ID is assigned by the session when the transaction is sent.
type Transaction struct {
	Flags     uint8
	IsReply   uint8
	Type      uint16
	ID        uint32
	ErrorCode uint32
	Fields    []Field
}

func NewTransaction(t uint16, fields ...Field) *Transaction {
	return &Transaction{Type: t, Fields: fields}
}

// Field returns the payload of the first field with the given id.
func (t *Transaction) Field(id uint16) ([]byte, bool) {
	for _, f := range t.Fields {
		if f.ID == id {
			return f.Data, true
		}
	}
	return nil, false
}

// FieldsAll returns every field carrying the given id, in wire order.
func (t *Transaction) FieldsAll(id uint16) [][]byte {
	var out [][]byte
	for _, f := range t.Fields {
		if f.ID == id {
			out = append(out, f.Data)
		}
	}
	return out
}

func (t *Transaction) FieldString(id uint16) string {
	b, _ := t.Field(id)
	return string(b)
}

// FieldUint16 tolerates 1- and 2-byte encodings, which servers emit
// interchangeably for small integers.
func (t *Transaction) FieldUint16(id uint16) (uint16, bool) {
	b, ok := t.Field(id)
	if !ok {
		return 0, false
	}
	switch len(b) {
	case 1:
		return uint16(b[0]), true
	case 2:
		return binary.BigEndian.Uint16(b), true
	}
	return 0, false
}

func (t *Transaction) FieldUint32(id uint16) (uint32, bool) {
	b, ok := t.Field(id)
	if !ok {
		return 0, false
	}
	switch len(b) {
	case 1:
		return uint32(b[0]), true
	case 2:
		return uint32(binary.BigEndian.Uint16(b)), true
	case 4:
		return binary.BigEndian.Uint32(b), true
	}
	return 0, false
}

func (t *Transaction) ErrorText() string {
	if s := t.FieldString(FieldError); s != "" {
		return s
	}
	return "server rejected the request"
}
