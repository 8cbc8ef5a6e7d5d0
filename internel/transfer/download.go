package transfer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"hotline-client/internel/session"
	"hotline-client/internel/shared"
	"hotline-client/internel/wire"
)

// StartDownload begins a single-file download into destDir. The capability
// check runs before anything touches the wire: a locally denied download
// returns immediately and no transaction is sent.
func (m *Manager) StartDownload(entry shared.FileEntry, destDir string, opts ...Option) (Transfer, error) {
	if !m.c.Allowed(wire.AccessDownloadFile) {
		return Transfer{}, session.NewError(session.KindPermissionLocal, "file download not granted")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a, err := m.register(entry.Name, Download, false, entry.Size)
	if err != nil {
		return Transfer{}, err
	}
	return m.submit(a, func() error {
		destPath := filepath.Join(destDir, entry.Name)
		var resumeFrom int64
		if o.resume {
			if st, err := os.Stat(destPath); err == nil {
				resumeFrom = st.Size()
			}
		}
		return m.downloadFile(a.ctx, a, entry, destPath, resumeFrom, nil, true)
	})
}

// StartPreview downloads a small file fully into memory; the bytes arrive in
// the terminal event's snapshot instead of on disk.
func (m *Manager) StartPreview(entry shared.FileEntry) (Transfer, error) {
	if !m.c.Allowed(wire.AccessDownloadFile) {
		return Transfer{}, session.NewError(session.KindPermissionLocal, "file download not granted")
	}
	a, err := m.register(entry.Name, Download, false, entry.Size)
	if err != nil {
		return Transfer{}, err
	}
	return m.submit(a, func() error {
		var buf bytes.Buffer
		if err := m.downloadFile(a.ctx, a, entry, "", 0, &buf, true); err != nil {
			return err
		}
		m.mu.Lock()
		a.snap.Preview = buf.Bytes()
		m.mu.Unlock()
		return nil
	})
}

// downloadFile obtains a reference number over the control channel, opens
// the data connection and streams the data fork to destPath (or into buf
// for previews). single marks a standalone transfer that owns the record's
// totals; folder constituents contribute to their parent's instead.
func (m *Manager) downloadFile(ctx context.Context, a *active, entry shared.FileEntry, destPath string, resumeFrom int64, buf *bytes.Buffer, single bool) error {
	t := wire.NewTransaction(wire.TranDownloadFile,
		wire.NewField(wire.FieldFileName, []byte(entry.Name)),
		wire.NewField(wire.FieldFilePath, wire.EncodeFilePath(entry.Path)),
	)
	if resumeFrom > 0 {
		t.Fields = append(t.Fields, wire.NewField(wire.FieldFileResumeData, EncodeResumeData(resumeFrom)))
	}
	rep, err := m.c.CallGated(ctx, wire.AccessDownloadFile, t)
	if err != nil {
		return err
	}

	var ref [4]byte
	if b, ok := rep.Field(wire.FieldRefNum); ok {
		copy(ref[:], b)
	} else {
		return session.NewError(session.KindProtocol, "download reply missing reference number")
	}
	size, ok := rep.FieldUint32(wire.FieldFileSize)
	if !ok {
		size, _ = rep.FieldUint32(wire.FieldTransferSize)
	}
	if single {
		m.mu.Lock()
		if !a.snap.State.Terminal() {
			a.snap.RefNum = ref
			a.snap.TotalSize = int64(size) + resumeFrom
			a.snap.Transferred = resumeFrom
		}
		m.mu.Unlock()
	}

	conn, err := m.dialData(a)
	if err != nil {
		return err
	}
	defer m.releaseConn(a, conn)
	if single {
		m.markActive(a)
	}

	if err := WritePreamble(conn, ref, 0); err != nil {
		return session.WrapError(session.KindTransfer, err, "download %s", entry.Name)
	}

	var dst interface {
		Write(p []byte) (int, error)
	}
	if buf != nil {
		dst = buf
	} else {
		flags := os.O_WRONLY | os.O_CREATE
		if resumeFrom > 0 {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		f, err := os.OpenFile(destPath, flags, 0o644)
		if err != nil {
			return session.WrapError(session.KindTransfer, err, "open %s", destPath)
		}
		defer f.Close()
		dst = f
	}

	if _, err := ReadFlatFile(dst, conn, func(n int) { m.progress(a, n) }); err != nil {
		return session.WrapError(session.KindTransfer, err, "download %s", entry.Name)
	}
	return nil
}
