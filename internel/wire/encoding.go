package wire

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// ObfuscateString applies the protocol's credential masking, a bytewise
// negation. It is its own inverse and is not encryption.
func ObfuscateString(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = 0xff - c
	}
	return out
}

// EncodeFilePath serializes a path as the protocol's segment list: a segment
// count followed by {0, 0, length, name} per segment. The root is the empty
// segment list.
func EncodeFilePath(segments []string) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(len(segments)))
	for _, seg := range segments {
		out = append(out, 0, 0, byte(len(seg)))
		out = append(out, seg...)
	}
	return out
}

func DecodeFilePath(data []byte) ([]string, error) {
	if len(data) < 2 {
		return nil, errors.Wrap(ErrMalformedFrame, "truncated file path")
	}
	count := int(binary.BigEndian.Uint16(data[0:2]))
	rest := data[2:]
	segments := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 3 {
			return nil, errors.Wrap(ErrMalformedFrame, "truncated path segment")
		}
		n := int(rest[2])
		rest = rest[3:]
		if len(rest) < n {
			return nil, errors.Wrap(ErrMalformedFrame, "truncated path segment name")
		}
		segments = append(segments, string(rest[:n]))
		rest = rest[n:]
	}
	return segments, nil
}

// EncodeDate packs a timestamp into the protocol's 8-byte date: year,
// milliseconds, and whole seconds elapsed since the start of that year, all
// in UTC.
func EncodeDate(t time.Time) [8]byte {
	var out [8]byte
	t = t.UTC()
	yearStart := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	binary.BigEndian.PutUint16(out[0:2], uint16(t.Year()))
	binary.BigEndian.PutUint16(out[2:4], uint16(t.Nanosecond()/1e6))
	binary.BigEndian.PutUint32(out[4:8], uint32(t.Sub(yearStart)/time.Second))
	return out
}

func DecodeDate(b []byte) time.Time {
	if len(b) < 8 {
		return time.Time{}
	}
	year := int(binary.BigEndian.Uint16(b[0:2]))
	msecs := time.Duration(binary.BigEndian.Uint16(b[2:4])) * time.Millisecond
	secs := time.Duration(binary.BigEndian.Uint32(b[4:8])) * time.Second
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Add(secs + msecs)
}

// FileNameWithInfo is one entry of a directory listing reply.
type FileNameWithInfo struct {
	Type    [4]byte // file type code, "fldr" for folders
	Creator [4]byte
	Size    uint32 // item count for folders
	Name    string
}

const folderTypeCode = "fldr"

func (f FileNameWithInfo) IsFolder() bool {
	return string(f.Type[:]) == folderTypeCode
}

func (f FileNameWithInfo) MarshalBinary() []byte {
	out := make([]byte, 20, 20+len(f.Name))
	copy(out[0:4], f.Type[:])
	copy(out[4:8], f.Creator[:])
	binary.BigEndian.PutUint32(out[8:12], f.Size)
	// bytes 12..16 reserved, 16..18 name script
	binary.BigEndian.PutUint16(out[18:20], uint16(len(f.Name)))
	return append(out, f.Name...)
}

func UnmarshalFileNameWithInfo(data []byte) (FileNameWithInfo, error) {
	var f FileNameWithInfo
	if len(data) < 20 {
		return f, errors.Wrap(ErrMalformedFrame, "truncated file listing entry")
	}
	copy(f.Type[:], data[0:4])
	copy(f.Creator[:], data[4:8])
	f.Size = binary.BigEndian.Uint32(data[8:12])
	n := int(binary.BigEndian.Uint16(data[18:20]))
	if len(data) < 20+n {
		return f, errors.Wrap(ErrMalformedFrame, "truncated file name")
	}
	f.Name = string(data[20 : 20+n])
	return f, nil
}
