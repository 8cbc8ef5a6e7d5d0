package transfer

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Data connections start with a 16-byte preamble carrying the server-issued
// reference number, then stream a flattened file object: a FILP header
// followed by typed forks. The client writes the object on uploads and
// consumes it on downloads, counting only data-fork bytes toward progress.

var (
	preambleMagic = [4]byte{'H', 'T', 'X', 'F'}
	flatMagic     = [4]byte{'F', 'I', 'L', 'P'}
	forkInfo      = [4]byte{'I', 'N', 'F', 'O'}
	forkData      = [4]byte{'D', 'A', 'T', 'A'}
)

const copyChunkSize = 32 * 1024

func WritePreamble(w io.Writer, ref [4]byte, dataSize uint32) error {
	var out [16]byte
	copy(out[0:4], preambleMagic[:])
	copy(out[4:8], ref[:])
	binary.BigEndian.PutUint32(out[8:12], dataSize)
	_, err := w.Write(out[:])
	return errors.Wrap(err, "write transfer preamble")
}

// ReadPreamble consumes and validates a preamble, returning the reference
// number. The manager itself never reads one; test servers do.
func ReadPreamble(r io.Reader) ([4]byte, uint32, error) {
	var in [16]byte
	var ref [4]byte
	if _, err := io.ReadFull(r, in[:]); err != nil {
		return ref, 0, errors.Wrap(err, "read transfer preamble")
	}
	if [4]byte(in[0:4]) != preambleMagic {
		return ref, 0, errors.New("bad transfer preamble magic")
	}
	copy(ref[:], in[4:8])
	return ref, binary.BigEndian.Uint32(in[8:12]), nil
}

// infoForkPayload renders the information fork for an upload: platform,
// type/creator codes and an encoded name. Dates are zeroed; the server
// stamps its own.
func infoForkPayload(name string) []byte {
	out := make([]byte, 66, 66+len(name)+2)
	copy(out[0:4], "AMAC")
	copy(out[4:8], "????")
	copy(out[8:12], "????")
	binary.BigEndian.PutUint16(out[62:64], 0) // name script
	binary.BigEndian.PutUint16(out[64:66], uint16(len(name)))
	out = append(out, name...)
	out = append(out, 0, 0) // empty comment
	return out
}

func writeForkHeader(w io.Writer, kind [4]byte, size uint32) error {
	var hdr [16]byte
	copy(hdr[0:4], kind[:])
	binary.BigEndian.PutUint32(hdr[12:16], size)
	_, err := w.Write(hdr[:])
	return err
}

// FlatFileSize reports the full on-wire size of the flattened object for a
// file of the given name and length, as declared in the upload request.
func FlatFileSize(name string, size int64) int64 {
	return 24 + // FILP header
		16 + int64(len(infoForkPayload(name))) + // INFO fork
		16 + size // DATA fork
}

// WriteFlatFile streams one file as a flattened object. progress is invoked
// per chunk of data-fork bytes written.
func WriteFlatFile(w io.Writer, name string, size int64, r io.Reader, progress func(int)) error {
	var hdr [24]byte
	copy(hdr[0:4], flatMagic[:])
	binary.BigEndian.PutUint16(hdr[4:6], 1) // format version
	binary.BigEndian.PutUint16(hdr[22:24], 2)
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "write flat file header")
	}

	info := infoForkPayload(name)
	if err := writeForkHeader(w, forkInfo, uint32(len(info))); err != nil {
		return errors.Wrap(err, "write info fork")
	}
	if _, err := w.Write(info); err != nil {
		return errors.Wrap(err, "write info fork")
	}

	if err := writeForkHeader(w, forkData, uint32(size)); err != nil {
		return errors.Wrap(err, "write data fork header")
	}
	n, err := copyChunked(w, io.LimitReader(r, size), progress)
	if err != nil {
		return err
	}
	if n != size {
		return errors.Errorf("source ended at %d of %d data bytes", n, size)
	}
	return nil
}

// ReadFlatFile consumes a flattened object, writing the data fork to dst.
// Unknown forks (resource forks and newer additions) are drained and
// ignored. Returns the file name declared in the information fork, when
// present.
func ReadFlatFile(dst io.Writer, r io.Reader, progress func(int)) (string, error) {
	var hdr [24]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", errors.Wrap(err, "read flat file header")
	}
	if [4]byte(hdr[0:4]) != flatMagic {
		return "", errors.New("bad flat file magic")
	}
	forkCount := int(binary.BigEndian.Uint16(hdr[22:24]))

	var name string
	for i := 0; i < forkCount; i++ {
		var fh [16]byte
		if _, err := io.ReadFull(r, fh[:]); err != nil {
			return name, errors.Wrap(err, "read fork header")
		}
		size := int64(binary.BigEndian.Uint32(fh[12:16]))
		switch [4]byte(fh[0:4]) {
		case forkInfo:
			payload := make([]byte, size)
			if _, err := io.ReadFull(r, payload); err != nil {
				return name, errors.Wrap(err, "read info fork")
			}
			name = infoForkName(payload)
		case forkData:
			n, err := copyChunked(dst, io.LimitReader(r, size), progress)
			if err != nil {
				return name, err
			}
			if n != size {
				return name, errors.Errorf("data fork ended at %d of %d bytes", n, size)
			}
		default:
			if _, err := io.CopyN(io.Discard, r, size); err != nil {
				return name, errors.Wrap(err, "skip fork")
			}
		}
	}
	return name, nil
}

func infoForkName(payload []byte) string {
	if len(payload) < 66 {
		return ""
	}
	n := int(binary.BigEndian.Uint16(payload[64:66]))
	if len(payload) < 66+n {
		return ""
	}
	return string(payload[66 : 66+n])
}

// copyChunked reports how many bytes actually moved; a stream ending early
// is the caller's to detect against the declared fork size.
func copyChunked(dst io.Writer, src io.Reader, progress func(int)) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, errors.Wrap(werr, "write chunk")
			}
			if progress != nil {
				progress(n)
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, errors.Wrap(err, "read chunk")
		}
	}
}

// EncodeResumeData renders the resume field sent with a download request
// when the caller opted in and a partial destination exists: the server is
// asked to start the data fork at offset.
func EncodeResumeData(offset int64) []byte {
	out := make([]byte, 42, 58)
	copy(out[0:4], "RFLT")
	binary.BigEndian.PutUint16(out[4:6], 1)
	binary.BigEndian.PutUint16(out[40:42], 1) // fork count
	var fork [16]byte
	copy(fork[0:4], forkData[:])
	binary.BigEndian.PutUint32(fork[4:8], uint32(offset))
	return append(out, fork[:]...)
}

// DecodeResumeOffset extracts the data-fork offset from a resume field.
func DecodeResumeOffset(data []byte) int64 {
	if len(data) < 58 || string(data[0:4]) != "RFLT" {
		return 0
	}
	return int64(binary.BigEndian.Uint32(data[46:50]))
}
