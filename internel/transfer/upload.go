package transfer

import (
	"context"
	"os"
	"path/filepath"

	"hotline-client/internel/session"
	"hotline-client/internel/wire"
)

// StartUpload begins a single-file upload of localPath into the remote
// destPath directory. Fails fast locally when the upload bit is not
// granted.
func (m *Manager) StartUpload(localPath string, destPath []string) (Transfer, error) {
	if !m.c.Allowed(wire.AccessUploadFile) {
		return Transfer{}, session.NewError(session.KindPermissionLocal, "file upload not granted")
	}
	st, err := os.Stat(localPath)
	if err != nil {
		return Transfer{}, session.WrapError(session.KindTransfer, err, "stat %s", localPath)
	}
	if st.IsDir() {
		return Transfer{}, session.NewError(session.KindTransfer, "%s is a directory, use StartFolderUpload", localPath)
	}
	name := filepath.Base(localPath)
	a, regErr := m.register(name, Upload, false, st.Size())
	if regErr != nil {
		return Transfer{}, regErr
	}
	return m.submit(a, func() error {
		return m.uploadFile(a.ctx, a, localPath, name, destPath, true)
	})
}

// uploadFile negotiates a reference number, opens the data connection and
// streams localPath as a flattened file object.
func (m *Manager) uploadFile(ctx context.Context, a *active, localPath, name string, destPath []string, single bool) error {
	st, err := os.Stat(localPath)
	if err != nil {
		return session.WrapError(session.KindTransfer, err, "stat %s", localPath)
	}
	flatSize := FlatFileSize(name, st.Size())

	t := wire.NewTransaction(wire.TranUploadFile,
		wire.NewField(wire.FieldFileName, []byte(name)),
		wire.Uint32Field(wire.FieldTransferSize, uint32(flatSize)),
	)
	if len(destPath) > 0 {
		t.Fields = append(t.Fields, wire.NewField(wire.FieldFilePath, wire.EncodeFilePath(destPath)))
	}
	rep, err := m.c.CallGated(ctx, wire.AccessUploadFile, t)
	if err != nil {
		return err
	}
	var ref [4]byte
	if b, ok := rep.Field(wire.FieldRefNum); ok {
		copy(ref[:], b)
	} else {
		return session.NewError(session.KindProtocol, "upload reply missing reference number")
	}
	if single {
		m.mu.Lock()
		if !a.snap.State.Terminal() {
			a.snap.RefNum = ref
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

	if err := WritePreamble(conn, ref, uint32(flatSize)); err != nil {
		return session.WrapError(session.KindTransfer, err, "upload %s", name)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return session.WrapError(session.KindTransfer, err, "open %s", localPath)
	}
	defer f.Close()

	if err := WriteFlatFile(conn, name, st.Size(), f, func(n int) { m.progress(a, n) }); err != nil {
		return session.WrapError(session.KindTransfer, err, "upload %s", name)
	}
	return nil
}
