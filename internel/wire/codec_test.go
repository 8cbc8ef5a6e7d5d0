package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"
)

func sampleTransactions() []*Transaction {
	return []*Transaction{
		NewTransaction(TranKeepAlive),
		{
			Type: TranLogin,
			ID:   1,
			Fields: []Field{
				NewField(FieldUserLogin, ObfuscateString([]byte("guest"))),
				NewField(FieldUserPassword, ObfuscateString(nil)),
				NewField(FieldUserName, []byte("tester")),
				Uint16Field(FieldUserIconID, 128),
			},
		},
		{
			IsReply:   1,
			Type:      0,
			ID:        7,
			ErrorCode: 1,
			Fields: []Field{
				NewField(FieldError, []byte("no such file")),
			},
		},
		{
			Type: TranGetFileNameList,
			ID:   42,
			Fields: []Field{
				NewField(FieldFilePath, EncodeFilePath([]string{"uploads", "stuff"})),
			},
		},
	}
}

func equalTransactions(a, b *Transaction) bool {
	if a.Flags != b.Flags || a.IsReply != b.IsReply || a.Type != b.Type ||
		a.ID != b.ID || a.ErrorCode != b.ErrorCode || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i].ID != b.Fields[i].ID || !bytes.Equal(a.Fields[i].Data, b.Fields[i].Data) {
			return false
		}
	}
	return true
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, want := range sampleTransactions() {
		var dec Decoder
		dec.Feed(Encode(want))
		got, err := dec.Next()
		if err != nil {
			t.Fatalf("decode %s: %v", TranName(want.Type), err)
		}
		if got == nil {
			t.Fatalf("decode %s: incomplete", TranName(want.Type))
		}
		if !equalTransactions(want, got) {
			t.Errorf("round trip %s: got %+v want %+v", TranName(want.Type), got, want)
		}
		if extra, _ := dec.Next(); extra != nil {
			t.Errorf("unexpected extra transaction after %s", TranName(want.Type))
		}
	}
}

// Decoding must not depend on how the byte stream is chopped into reads.
func TestDecodeFragmentationIndependence(t *testing.T) {
	var stream []byte
	want := sampleTransactions()
	for _, tr := range want {
		stream = append(stream, Encode(tr)...)
	}

	decodeAll := func(chunks [][]byte) []*Transaction {
		var dec Decoder
		var out []*Transaction
		for _, c := range chunks {
			dec.Feed(c)
			for {
				tr, err := dec.Next()
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				if tr == nil {
					break
				}
				out = append(out, tr)
			}
		}
		return out
	}

	whole := decodeAll([][]byte{stream})

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		var chunks [][]byte
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		got := decodeAll(chunks)
		if len(got) != len(whole) {
			t.Fatalf("trial %d: got %d transactions, want %d", trial, len(got), len(whole))
		}
		for i := range got {
			if !equalTransactions(got[i], whole[i]) {
				t.Errorf("trial %d: transaction %d differs", trial, i)
			}
		}
	}
}

// Oversized payloads arrive as continuation frames repeating the header;
// the decoder must reassemble them into one transaction.
func TestDecodeMultipartTransaction(t *testing.T) {
	want := &Transaction{
		IsReply: 1,
		ID:      9,
		Fields: []Field{
			NewField(FieldData, bytes.Repeat([]byte("x"), 1000)),
		},
	}
	frame := Encode(want)
	header, payload := frame[:20], frame[20:]

	split := len(payload) / 2
	part1 := append(append([]byte(nil), header...), payload[:split]...)
	binary.BigEndian.PutUint32(part1[16:20], uint32(split))
	part2 := append(append([]byte(nil), header...), payload[split:]...)
	binary.BigEndian.PutUint32(part2[16:20], uint32(len(payload)-split))

	var dec Decoder
	dec.Feed(part1)
	if tr, err := dec.Next(); err != nil || tr != nil {
		t.Fatalf("after first part: tr=%v err=%v", tr, err)
	}
	dec.Feed(part2)
	got, err := dec.Next()
	if err != nil {
		t.Fatalf("after second part: %v", err)
	}
	if got == nil || !equalTransactions(want, got) {
		t.Fatalf("multipart reassembly failed: %+v", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		mould func([]byte) []byte
	}{
		{"data exceeds total", func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[12:16], 1)
			return b
		}},
		{"absurd total size", func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[12:16], 1<<30)
			binary.BigEndian.PutUint32(b[16:20], 1<<30)
			return b
		}},
		{"field overruns payload", func(b []byte) []byte {
			// inflate the first field's declared size
			binary.BigEndian.PutUint16(b[24:26], 0xffff)
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := tt.mould(Encode(sampleTransactions()[1]))
			var dec Decoder
			dec.Feed(frame)
			_, err := dec.Next()
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("got %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestHandshake(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHandshake(&buf); err != nil {
		t.Fatal(err)
	}
	if got := buf.Len(); got != 12 {
		t.Fatalf("handshake length %d, want 12", got)
	}
	if !bytes.Equal(buf.Bytes()[0:8], []byte("TRTPHOTL")) {
		t.Errorf("handshake magic %q", buf.Bytes()[0:8])
	}

	ok := append([]byte("TRTP"), 0, 0, 0, 0)
	if err := ReadHandshakeReply(bytes.NewReader(ok)); err != nil {
		t.Errorf("valid reply rejected: %v", err)
	}

	refused := append([]byte("TRTP"), 0, 0, 0, 1)
	if err := ReadHandshakeReply(bytes.NewReader(refused)); err == nil {
		t.Error("nonzero error code accepted")
	}

	garbage := append([]byte("HTTP"), 0, 0, 0, 0)
	err := ReadHandshakeReply(bytes.NewReader(garbage))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("bad magic: got %v, want ErrMalformedFrame", err)
	}
}
