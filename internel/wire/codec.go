package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	headerLen = 20

	// Upper bound on a single logical payload. Anything larger is treated
	// as a corrupt length word rather than an allocation request.
	maxPayloadLen = 16 << 20
)

// ErrMalformedFrame marks wire data the codec cannot recover from. The
// connection carrying it must be torn down.
var ErrMalformedFrame = errors.New("malformed frame")

var (
	protocolID  = [4]byte{'T', 'R', 'T', 'P'}
	subProtocol = [4]byte{'H', 'O', 'T', 'L'}
)

// Encode serializes a transaction into a single frame. Encoding is total:
// any transaction built through this package serializes without error.
func Encode(t *Transaction) []byte {
	payload := encodePayload(t.Fields)

	buf := make([]byte, headerLen+len(payload))
	buf[0] = t.Flags
	buf[1] = t.IsReply
	binary.BigEndian.PutUint16(buf[2:4], t.Type)
	binary.BigEndian.PutUint32(buf[4:8], t.ID)
	binary.BigEndian.PutUint32(buf[8:12], t.ErrorCode)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(payload)))
	copy(buf[headerLen:], payload)
	return buf
}

func encodePayload(fields []Field) []byte {
	size := 2
	for _, f := range fields {
		size += 4 + len(f.Data)
	}
	payload := make([]byte, 2, size)
	binary.BigEndian.PutUint16(payload, uint16(len(fields)))
	for _, f := range fields {
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[0:2], f.ID)
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(f.Data)))
		payload = append(payload, hdr[:]...)
		payload = append(payload, f.Data...)
	}
	return payload
}

// Decoder reassembles transactions from a byte stream. Bytes are appended
// with Feed in whatever chunk sizes the socket produces; Next returns each
// completed transaction in order, nil when more bytes are needed, and
// ErrMalformedFrame on unrecoverable input.
//
// Oversized logical payloads arrive split across several frames that repeat
// the header with the same id; the decoder accumulates parts until the
// declared total size is reached.
type Decoder struct {
	buf []byte

	// in-progress multipart transaction
	partial      *Transaction
	partialData  []byte
	partialTotal uint32
}

func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

func (d *Decoder) Next() (*Transaction, error) {
	for {
		if len(d.buf) < headerLen {
			return nil, nil
		}

		totalSize := binary.BigEndian.Uint32(d.buf[12:16])
		dataSize := binary.BigEndian.Uint32(d.buf[16:20])
		if dataSize > totalSize || totalSize > maxPayloadLen {
			return nil, errors.Wrapf(ErrMalformedFrame, "sizes total=%d data=%d", totalSize, dataSize)
		}
		if uint32(len(d.buf)-headerLen) < dataSize {
			return nil, nil
		}

		t := &Transaction{
			Flags:     d.buf[0],
			IsReply:   d.buf[1],
			Type:      binary.BigEndian.Uint16(d.buf[2:4]),
			ID:        binary.BigEndian.Uint32(d.buf[4:8]),
			ErrorCode: binary.BigEndian.Uint32(d.buf[8:12]),
		}
		part := d.buf[headerLen : headerLen+dataSize]

		if d.partial == nil {
			d.partial = t
			d.partialTotal = totalSize
			d.partialData = append([]byte(nil), part...)
		} else {
			if t.ID != d.partial.ID {
				return nil, errors.Wrapf(ErrMalformedFrame, "continuation id %d for transaction %d", t.ID, d.partial.ID)
			}
			d.partialData = append(d.partialData, part...)
		}
		d.buf = d.buf[headerLen+dataSize:]

		if uint32(len(d.partialData)) > d.partialTotal {
			return nil, errors.Wrap(ErrMalformedFrame, "payload exceeds declared total size")
		}
		if uint32(len(d.partialData)) < d.partialTotal {
			continue
		}

		done := d.partial
		fields, err := decodeFields(d.partialData)
		d.partial, d.partialData, d.partialTotal = nil, nil, 0
		if err != nil {
			return nil, err
		}
		done.Fields = fields
		return done, nil
	}
}

func decodeFields(payload []byte) ([]Field, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if len(payload) < 2 {
		return nil, errors.Wrap(ErrMalformedFrame, "truncated parameter count")
	}
	count := int(binary.BigEndian.Uint16(payload[0:2]))
	rest := payload[2:]

	fields := make([]Field, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 4 {
			return nil, errors.Wrap(ErrMalformedFrame, "truncated field header")
		}
		id := binary.BigEndian.Uint16(rest[0:2])
		size := int(binary.BigEndian.Uint16(rest[2:4]))
		rest = rest[4:]
		if len(rest) < size {
			return nil, errors.Wrapf(ErrMalformedFrame, "field %d truncated", id)
		}
		fields = append(fields, Field{ID: id, Data: append([]byte(nil), rest[:size]...)})
		rest = rest[size:]
	}
	if len(rest) != 0 {
		return nil, errors.Wrap(ErrMalformedFrame, "trailing bytes after parameter list")
	}
	return fields, nil
}

// WriteHandshake sends the 12-byte client hello that opens every control
// connection.
func WriteHandshake(w io.Writer) error {
	var hello [12]byte
	copy(hello[0:4], protocolID[:])
	copy(hello[4:8], subProtocol[:])
	binary.BigEndian.PutUint16(hello[8:10], 1)
	binary.BigEndian.PutUint16(hello[10:12], 2)
	_, err := w.Write(hello[:])
	return errors.Wrap(err, "write handshake")
}

// ReadHandshakeReply consumes the 8-byte server response and checks both the
// magic and the embedded error code.
func ReadHandshakeReply(r io.Reader) error {
	var reply [8]byte
	if _, err := io.ReadFull(r, reply[:]); err != nil {
		return errors.Wrap(err, "read handshake reply")
	}
	if !bytes.Equal(reply[0:4], protocolID[:]) {
		return errors.Wrap(ErrMalformedFrame, "bad handshake magic")
	}
	if code := binary.BigEndian.Uint32(reply[4:8]); code != 0 {
		return errors.Errorf("server refused handshake, code %d", code)
	}
	return nil
}

// WriteTransaction serializes t onto w in one call. Callers are responsible
// for serializing concurrent writers.
func WriteTransaction(w io.Writer, t *Transaction) error {
	_, err := w.Write(Encode(t))
	return errors.Wrapf(err, "write transaction %s", TranName(t.Type))
}
