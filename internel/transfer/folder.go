package transfer

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"hotline-client/internel/fs"
	"hotline-client/internel/session"
	"hotline-client/internel/shared"
	"hotline-client/internel/wire"
)

// Folder transfers are one Transfer record aggregating an internally managed
// sequence of per-file constituents. The aggregate completes only when every
// constituent completes; one constituent failing fails the folder, with
// already-finished files left in place.

// StartFolderDownload mirrors a remote folder under destDir. Constituents
// are discovered by recursive listing over the control channel and streamed
// over their own data connections with bounded parallelism.
func (m *Manager) StartFolderDownload(entry shared.FileEntry, destDir string) (Transfer, error) {
	if !m.c.Allowed(wire.AccessDownloadFile) {
		return Transfer{}, session.NewError(session.KindPermissionLocal, "file download not granted")
	}
	if m.lister == nil {
		return Transfer{}, session.NewError(session.KindTransfer, "no lister wired for folder downloads")
	}
	a, err := m.register(entry.Name, Download, true, 0)
	if err != nil {
		return Transfer{}, err
	}
	return m.submit(a, func() error {
		return m.runFolderDownload(a, entry, destDir)
	})
}

func (m *Manager) runFolderDownload(a *active, root shared.FileEntry, destDir string) error {
	base := append(append([]string(nil), root.Path...), root.Name)
	files, total, err := m.collectRemote(a.ctx, base)
	if err != nil {
		return err
	}
	m.setTotal(a, total)
	m.markActive(a)

	g, ctx := errgroup.WithContext(a.ctx)
	g.SetLimit(folderParallelism)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rel := append(append([]string(nil), f.Path[len(base):]...), f.Name)
			local := filepath.Join(append([]string{destDir, root.Name}, rel...)...)
			if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
				return session.WrapError(session.KindTransfer, err, "mkdir for %s", f.Name)
			}
			return m.downloadFile(ctx, a, f, local, 0, nil, false)
		})
	}
	return g.Wait()
}

// collectRemote walks the remote tree breadth-first, returning the files in
// listing order along with their total size.
func (m *Manager) collectRemote(ctx context.Context, base []string) ([]shared.FileEntry, int64, error) {
	var (
		files []shared.FileEntry
		total int64
	)
	queue := [][]string{base}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]
		entries, err := m.lister.List(ctx, dir)
		if err != nil {
			return nil, 0, err
		}
		for _, e := range entries {
			if e.IsFolder {
				queue = append(queue, append(append([]string(nil), dir...), e.Name))
				continue
			}
			files = append(files, e)
			total += e.Size
		}
	}
	return files, total, nil
}

// StartFolderUpload sends a local directory tree into the remote destPath.
// A folder named after localDir's base is created remotely, then remote
// directories are created parents-first and files streamed with bounded
// parallelism.
func (m *Manager) StartFolderUpload(localDir string, destPath []string) (Transfer, error) {
	if !m.c.Allowed(wire.AccessUploadFile) {
		return Transfer{}, session.NewError(session.KindPermissionLocal, "file upload not granted")
	}
	st, err := os.Stat(localDir)
	if err != nil {
		return Transfer{}, session.WrapError(session.KindTransfer, err, "stat %s", localDir)
	}
	if !st.IsDir() {
		return Transfer{}, session.NewError(session.KindTransfer, "%s is not a directory", localDir)
	}
	a, regErr := m.register(filepath.Base(localDir), Upload, true, 0)
	if regErr != nil {
		return Transfer{}, regErr
	}
	return m.submit(a, func() error {
		return m.runFolderUpload(a, localDir, destPath)
	})
}

func (m *Manager) runFolderUpload(a *active, localDir string, destPath []string) error {
	entries, err := fs.CollectEntries(localDir)
	if err != nil {
		return session.WrapError(session.KindTransfer, err, "walk %s", localDir)
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	m.setTotal(a, total)
	m.markActive(a)

	rootName := filepath.Base(localDir)
	if err := m.makeRemoteFolder(a.ctx, destPath, rootName); err != nil {
		return err
	}
	remoteRoot := append(append([]string(nil), destPath...), rootName)

	// CollectEntries orders directories first, so parents exist before
	// their contents upload.
	var files []fs.LocalEntry
	for _, e := range entries {
		if e.IsDir {
			segs := fs.Segments(e.RelPath)
			parent := append(append([]string(nil), remoteRoot...), segs[:len(segs)-1]...)
			if err := m.makeRemoteFolder(a.ctx, parent, segs[len(segs)-1]); err != nil {
				return err
			}
			continue
		}
		files = append(files, e)
	}

	g, ctx := errgroup.WithContext(a.ctx)
	g.SetLimit(folderParallelism)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			segs := fs.Segments(f.RelPath)
			dest := append(append([]string(nil), remoteRoot...), segs[:len(segs)-1]...)
			local := filepath.Join(localDir, filepath.FromSlash(f.RelPath))
			return m.uploadFile(ctx, a, local, segs[len(segs)-1], dest, false)
		})
	}
	return g.Wait()
}

func (m *Manager) makeRemoteFolder(ctx context.Context, parent []string, name string) error {
	t := wire.NewTransaction(wire.TranNewFolder,
		wire.NewField(wire.FieldFileName, []byte(name)),
	)
	if len(parent) > 0 {
		t.Fields = append(t.Fields, wire.NewField(wire.FieldFilePath, wire.EncodeFilePath(parent)))
	}
	_, err := m.c.CallGated(ctx, wire.AccessCreateFolder, t)
	return err
}
