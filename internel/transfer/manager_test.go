package transfer

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"hotline-client/internel/session"
	"hotline-client/internel/shared"
	"hotline-client/internel/wire"
)

// stubControl answers control-channel requests from a script. Allowed is
// driven by the deny set so tests can exercise the local fail-fast gate.
type stubControl struct {
	mu    sync.Mutex
	deny  map[int]bool
	calls []*wire.Transaction
	reply func(t *wire.Transaction) (*wire.Transaction, error)
}

func (c *stubControl) Call(_ context.Context, t *wire.Transaction) (*wire.Transaction, error) {
	return c.CallGated(nil, -1, t)
}

func (c *stubControl) CallGated(_ context.Context, _ int, t *wire.Transaction) (*wire.Transaction, error) {
	c.mu.Lock()
	c.calls = append(c.calls, t)
	reply := c.reply
	c.mu.Unlock()
	return reply(t)
}

func (c *stubControl) Allowed(bit int) bool { return !c.deny[bit] }

func (c *stubControl) RemoteAddr() string { return "testserver:5500" }

func (c *stubControl) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// fileServer hands out reference numbers over the stub control channel and
// serves the matching flattened file on each data connection.
type fileServer struct {
	mu      sync.Mutex
	nextRef uint32
	byRef   map[[4]byte][]byte
}

func newFileServer() *fileServer {
	return &fileServer{byRef: make(map[[4]byte][]byte)}
}

func (fs *fileServer) reply(t *wire.Transaction) (*wire.Transaction, error) {
	name := t.FieldString(wire.FieldFileName)
	fs.mu.Lock()
	fs.nextRef++
	var ref [4]byte
	ref[3] = byte(fs.nextRef)
	payload := fs.payloadFor(name)
	fs.byRef[ref] = payload
	fs.mu.Unlock()
	return &wire.Transaction{IsReply: 1, Fields: []wire.Field{
		wire.NewField(wire.FieldRefNum, ref[:]),
		wire.Uint32Field(wire.FieldFileSize, uint32(len(payload))),
	}}, nil
}

// payloadFor is deterministic per name so folder constituents differ.
func (fs *fileServer) payloadFor(name string) []byte {
	return bytes.Repeat([]byte(name+"|"), 64)
}

func (fs *fileServer) serve(conn net.Conn) {
	defer conn.Close()
	ref, _, err := ReadPreamble(conn)
	if err != nil {
		return
	}
	fs.mu.Lock()
	payload, ok := fs.byRef[ref]
	fs.mu.Unlock()
	if !ok {
		return
	}
	WriteFlatFile(conn, "served", int64(len(payload)), bytes.NewReader(payload), nil)
}

func newTestManager(t *testing.T, c Control, lister Lister, serve func(net.Conn)) *Manager {
	t.Helper()
	m, err := NewManager(c, lister)
	if err != nil {
		t.Fatal(err)
	}
	m.dial = func(string) (net.Conn, error) {
		client, server := net.Pipe()
		go serve(server)
		return client, nil
	}
	t.Cleanup(m.Close)
	return m
}

// awaitTerminal drains events for id, asserting progress is monotone on the
// way, and returns the terminal snapshot.
func awaitTerminal(t *testing.T, events <-chan Event, id string) Transfer {
	t.Helper()
	deadline := time.After(5 * time.Second)
	var last int64
	for {
		select {
		case ev := <-events:
			if ev.Transfer.ID != id {
				continue
			}
			if ev.Transfer.Transferred < last {
				t.Fatalf("progress went backwards: %d after %d", ev.Transfer.Transferred, last)
			}
			last = ev.Transfer.Transferred
			if ev.Type == EventTerminal {
				return ev.Transfer
			}
		case <-deadline:
			t.Fatal("transfer never reached a terminal state")
		}
	}
}

// assertNoMoreTerminals verifies no second terminal event arrives for id.
func assertNoMoreTerminals(t *testing.T, events <-chan Event, id string) {
	t.Helper()
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case ev := <-events:
			if ev.Transfer.ID == id && ev.Type == EventTerminal {
				t.Fatal("terminal event delivered twice")
			}
		case <-timeout:
			return
		}
	}
}

func TestDownloadCompletes(t *testing.T) {
	srv := newFileServer()
	c := &stubControl{reply: srv.reply}
	m := newTestManager(t, c, nil, srv.serve)
	events := m.Events()

	destDir := t.TempDir()
	tr, err := m.StartDownload(shared.FileEntry{Name: "notes.txt", Path: []string{"docs"}}, destDir)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, tr.State, Pending)

	final := awaitTerminal(t, events, tr.ID)
	assert.Equal(t, final.State, Completed)
	assert.Equal(t, final.Transferred, final.TotalSize)
	assertNoMoreTerminals(t, events, tr.ID)

	got, err := os.ReadFile(filepath.Join(destDir, "notes.txt"))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, got, srv.payloadFor("notes.txt"))

	// the manager's snapshot is frozen at the terminal state
	snap, ok := m.Get(tr.ID)
	assert.Equal(t, ok, true)
	assert.Equal(t, snap.State, Completed)
}

func TestDownloadDeniedLocally(t *testing.T) {
	c := &stubControl{deny: map[int]bool{wire.AccessDownloadFile: true}}
	m := newTestManager(t, c, nil, func(conn net.Conn) { conn.Close() })

	_, err := m.StartDownload(shared.FileEntry{Name: "x"}, t.TempDir())
	assert.Equal(t, session.KindOf(err), session.KindPermissionLocal)
	// the denial happened before anything touched the wire
	assert.Equal(t, c.callCount(), 0)
	assert.Equal(t, len(m.List()), 0)
}

func TestDownloadServerDenied(t *testing.T) {
	c := &stubControl{reply: func(*wire.Transaction) (*wire.Transaction, error) {
		return nil, session.NewError(session.KindPermissionRemote, "DOWNLOAD: no access")
	}}
	m := newTestManager(t, c, nil, func(conn net.Conn) { conn.Close() })
	events := m.Events()

	tr, err := m.StartDownload(shared.FileEntry{Name: "x"}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	final := awaitTerminal(t, events, tr.ID)
	assert.Equal(t, final.State, Failed)
	assert.Equal(t, session.KindOf(final.Err), session.KindPermissionRemote)
}

func TestCancelLeavesPartialData(t *testing.T) {
	release := make(chan struct{})
	var ref [4]byte
	ref[3] = 1
	c := &stubControl{reply: func(*wire.Transaction) (*wire.Transaction, error) {
		return &wire.Transaction{IsReply: 1, Fields: []wire.Field{
			wire.NewField(wire.FieldRefNum, ref[:]),
			wire.Uint32Field(wire.FieldFileSize, 100),
		}}, nil
	}}
	m := newTestManager(t, c, nil, func(conn net.Conn) {
		defer conn.Close()
		if _, _, err := ReadPreamble(conn); err != nil {
			return
		}
		// flat header, info fork, data fork header and 10 of 100 declared
		// bytes, then stall until the test cancels
		var hdr [24]byte
		copy(hdr[0:4], "FILP")
		hdr[23] = 2
		conn.Write(hdr[:])
		info := infoForkPayload("stalled.bin")
		writeForkHeader(conn, forkInfo, uint32(len(info)))
		conn.Write(info)
		writeForkHeader(conn, forkData, 100)
		conn.Write(bytes.Repeat([]byte{0xAA}, 10))
		<-release
	})
	defer close(release)
	events := m.Events()

	destDir := t.TempDir()
	tr, err := m.StartDownload(shared.FileEntry{Name: "stalled.bin"}, destDir)
	if err != nil {
		t.Fatal(err)
	}

	// wait for the first bytes to land before cancelling
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, _ := m.Get(tr.ID)
		if snap.Transferred >= 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no bytes ever arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	m.Cancel(tr.ID)

	final := awaitTerminal(t, events, tr.ID)
	assert.Equal(t, final.State, Cancelled)
	assertNoMoreTerminals(t, events, tr.ID)

	// cancellation keeps partial destination data
	got, err := os.ReadFile(filepath.Join(destDir, "stalled.bin"))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, len(got) >= 10, true)

	// cancelling a terminal transfer is a silent no-op
	m.Cancel(tr.ID)
	assertNoMoreTerminals(t, events, tr.ID)
	snap, _ := m.Get(tr.ID)
	assert.Equal(t, snap.State, Cancelled)
}

// A data connection that closes cleanly mid-fork must end the transfer
// Failed, never Completed short of its total.
func TestDownloadTruncatedStreamFails(t *testing.T) {
	var ref [4]byte
	ref[3] = 7
	c := &stubControl{reply: func(*wire.Transaction) (*wire.Transaction, error) {
		return &wire.Transaction{IsReply: 1, Fields: []wire.Field{
			wire.NewField(wire.FieldRefNum, ref[:]),
			wire.Uint32Field(wire.FieldFileSize, 100),
		}}, nil
	}}
	m := newTestManager(t, c, nil, func(conn net.Conn) {
		defer conn.Close()
		if _, _, err := ReadPreamble(conn); err != nil {
			return
		}
		var hdr [24]byte
		copy(hdr[0:4], "FILP")
		hdr[23] = 2
		conn.Write(hdr[:])
		info := infoForkPayload("cut.bin")
		writeForkHeader(conn, forkInfo, uint32(len(info)))
		conn.Write(info)
		writeForkHeader(conn, forkData, 100)
		conn.Write(bytes.Repeat([]byte{0xBB}, 10))
	})
	events := m.Events()

	tr, err := m.StartDownload(shared.FileEntry{Name: "cut.bin"}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	final := awaitTerminal(t, events, tr.ID)
	assert.Equal(t, final.State, Failed)
	assert.Equal(t, session.KindOf(final.Err), session.KindTransfer)
	assert.Equal(t, final.Transferred < final.TotalSize, true)
	assertNoMoreTerminals(t, events, tr.ID)
}

func TestPreviewKeepsBytesInMemory(t *testing.T) {
	srv := newFileServer()
	c := &stubControl{reply: srv.reply}
	m := newTestManager(t, c, nil, srv.serve)
	events := m.Events()

	tr, err := m.StartPreview(shared.FileEntry{Name: "readme"})
	if err != nil {
		t.Fatal(err)
	}
	final := awaitTerminal(t, events, tr.ID)
	assert.Equal(t, final.State, Completed)
	assert.Equal(t, final.Preview, srv.payloadFor("readme"))
}

func TestUploadStreamsFlatFile(t *testing.T) {
	content := bytes.Repeat([]byte("payload"), 1024)
	local := filepath.Join(t.TempDir(), "up.bin")
	if err := os.WriteFile(local, content, 0o644); err != nil {
		t.Fatal(err)
	}

	var ref [4]byte
	ref[3] = 9
	c := &stubControl{reply: func(t *wire.Transaction) (*wire.Transaction, error) {
		return &wire.Transaction{IsReply: 1, Fields: []wire.Field{
			wire.NewField(wire.FieldRefNum, ref[:]),
		}}, nil
	}}

	type received struct {
		name string
		data []byte
		size uint32
	}
	got := make(chan received, 1)
	m := newTestManager(t, c, nil, func(conn net.Conn) {
		defer conn.Close()
		_, declared, err := ReadPreamble(conn)
		if err != nil {
			return
		}
		var buf bytes.Buffer
		name, err := ReadFlatFile(&buf, conn, nil)
		if err != nil {
			return
		}
		got <- received{name: name, data: buf.Bytes(), size: declared}
	})
	events := m.Events()

	tr, err := m.StartUpload(local, []string{"uploads"})
	if err != nil {
		t.Fatal(err)
	}
	final := awaitTerminal(t, events, tr.ID)
	assert.Equal(t, final.State, Completed)

	select {
	case r := <-got:
		assert.Equal(t, r.name, "up.bin")
		assert.Equal(t, r.data, content)
		assert.Equal(t, int64(r.size), FlatFileSize("up.bin", int64(len(content))))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the upload")
	}

	// the upload request declared the flattened size, not the raw size
	declared, _ := c.calls[0].FieldUint32(wire.FieldTransferSize)
	assert.Equal(t, int64(declared), FlatFileSize("up.bin", int64(len(content))))
}

func TestUploadRejectsDirectory(t *testing.T) {
	c := &stubControl{}
	m := newTestManager(t, c, nil, func(conn net.Conn) { conn.Close() })

	_, err := m.StartUpload(t.TempDir(), nil)
	assert.Equal(t, session.KindOf(err), session.KindTransfer)
	assert.Equal(t, c.callCount(), 0)
}

// stubLister serves a fixed remote tree for folder downloads.
type stubLister struct {
	tree map[string][]shared.FileEntry
}

func (l *stubLister) List(_ context.Context, path []string) ([]shared.FileEntry, error) {
	return l.tree[filepath.Join(path...)], nil
}

func TestFolderDownloadAggregate(t *testing.T) {
	srv := newFileServer()
	c := &stubControl{reply: srv.reply}
	sizeOf := func(name string) int64 { return int64(len(srv.payloadFor(name))) }
	lister := &stubLister{tree: map[string][]shared.FileEntry{
		"docs": {
			{Name: "a.txt", Path: []string{"docs"}, Size: sizeOf("a.txt")},
			{Name: "sub", Path: []string{"docs"}, IsFolder: true},
		},
		filepath.Join("docs", "sub"): {
			{Name: "b.txt", Path: []string{"docs", "sub"}, Size: sizeOf("b.txt")},
		},
	}}
	m := newTestManager(t, c, lister, srv.serve)
	events := m.Events()

	tr, err := m.StartFolderDownload(shared.FileEntry{Name: "docs", IsFolder: true}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, tr.IsFolder, true)

	final := awaitTerminal(t, events, tr.ID)
	assert.Equal(t, final.State, Completed)
	assertNoMoreTerminals(t, events, tr.ID)

	// one aggregate record, not one per constituent
	assert.Equal(t, len(m.List()), 1)

	wantTotal := int64(len(srv.payloadFor("a.txt")) + len(srv.payloadFor("b.txt")))
	assert.Equal(t, final.TotalSize, wantTotal)
	assert.Equal(t, final.Transferred, wantTotal)
}

func TestFolderUpload(t *testing.T) {
	localDir := filepath.Join(t.TempDir(), "album")
	if err := os.MkdirAll(filepath.Join(localDir, "inner"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(localDir, "one.txt"), []byte("first file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(localDir, "inner", "two.txt"), []byte("second file"), 0o644); err != nil {
		t.Fatal(err)
	}

	var (
		mu      sync.Mutex
		folders []string
		nextRef byte
	)
	c := &stubControl{}
	c.reply = func(tr *wire.Transaction) (*wire.Transaction, error) {
		mu.Lock()
		defer mu.Unlock()
		if tr.Type == wire.TranNewFolder {
			folders = append(folders, tr.FieldString(wire.FieldFileName))
			return &wire.Transaction{IsReply: 1}, nil
		}
		nextRef++
		var ref [4]byte
		ref[3] = nextRef
		return &wire.Transaction{IsReply: 1, Fields: []wire.Field{
			wire.NewField(wire.FieldRefNum, ref[:]),
		}}, nil
	}

	received := make(chan string, 4)
	m := newTestManager(t, c, nil, func(conn net.Conn) {
		defer conn.Close()
		if _, _, err := ReadPreamble(conn); err != nil {
			return
		}
		var buf bytes.Buffer
		name, err := ReadFlatFile(&buf, conn, nil)
		if err != nil {
			return
		}
		received <- name
	})
	events := m.Events()

	tr, err := m.StartFolderUpload(localDir, []string{"uploads"})
	if err != nil {
		t.Fatal(err)
	}
	final := awaitTerminal(t, events, tr.ID)
	assert.Equal(t, final.State, Completed)
	assert.Equal(t, final.Transferred, int64(len("first file")+len("second file")))

	names := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case n := <-received:
			names[n] = true
		case <-time.After(2 * time.Second):
			t.Fatal("server did not receive both files")
		}
	}
	assert.Equal(t, names["one.txt"], true)
	assert.Equal(t, names["two.txt"], true)

	// remote folders created: the root, then the nested directory
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, folders[0], "album")
	assert.Equal(t, len(folders), 2)
	assert.Equal(t, folders[1], "inner")
}

func TestFolderDownloadMirrorsTree(t *testing.T) {
	srv := newFileServer()
	c := &stubControl{reply: srv.reply}
	lister := &stubLister{tree: map[string][]shared.FileEntry{
		"docs": {
			{Name: "a.txt", Path: []string{"docs"}},
			{Name: "sub", Path: []string{"docs"}, IsFolder: true},
		},
		filepath.Join("docs", "sub"): {
			{Name: "b.txt", Path: []string{"docs", "sub"}},
		},
	}}
	m := newTestManager(t, c, lister, srv.serve)
	events := m.Events()

	destDir := t.TempDir()
	tr, err := m.StartFolderDownload(shared.FileEntry{Name: "docs", IsFolder: true}, destDir)
	if err != nil {
		t.Fatal(err)
	}
	final := awaitTerminal(t, events, tr.ID)
	assert.Equal(t, final.State, Completed)

	for _, rel := range []string{
		filepath.Join("docs", "a.txt"),
		filepath.Join("docs", "sub", "b.txt"),
	} {
		if _, err := os.Stat(filepath.Join(destDir, rel)); err != nil {
			t.Errorf("constituent %s missing: %v", rel, err)
		}
	}
}

// One failed constituent fails the aggregate; already-finished files stay.
func TestFolderDownloadConstituentFailure(t *testing.T) {
	srv := newFileServer()
	c := &stubControl{reply: func(t *wire.Transaction) (*wire.Transaction, error) {
		if t.FieldString(wire.FieldFileName) == "bad.txt" {
			return nil, session.NewError(session.KindPermissionRemote, "DOWNLOAD: no access")
		}
		return srv.reply(t)
	}}
	lister := &stubLister{tree: map[string][]shared.FileEntry{
		"docs": {
			{Name: "good.txt", Path: []string{"docs"}},
			{Name: "bad.txt", Path: []string{"docs"}},
		},
	}}
	m := newTestManager(t, c, lister, srv.serve)
	events := m.Events()

	tr, err := m.StartFolderDownload(shared.FileEntry{Name: "docs", IsFolder: true}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	final := awaitTerminal(t, events, tr.ID)
	assert.Equal(t, final.State, Failed)
	assert.Equal(t, final.Err != nil, true)
	assertNoMoreTerminals(t, events, tr.ID)
}

func TestResumeDownload(t *testing.T) {
	destDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(destDir, "big.bin"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}

	rest := []byte("defgh")
	var ref [4]byte
	ref[3] = 5
	offsets := make(chan int64, 1)
	c := &stubControl{reply: func(t *wire.Transaction) (*wire.Transaction, error) {
		if data, ok := t.Field(wire.FieldFileResumeData); ok {
			offsets <- DecodeResumeOffset(data)
		} else {
			offsets <- 0
		}
		return &wire.Transaction{IsReply: 1, Fields: []wire.Field{
			wire.NewField(wire.FieldRefNum, ref[:]),
			wire.Uint32Field(wire.FieldFileSize, uint32(len(rest))),
		}}, nil
	}}
	m := newTestManager(t, c, nil, func(conn net.Conn) {
		defer conn.Close()
		if _, _, err := ReadPreamble(conn); err != nil {
			return
		}
		WriteFlatFile(conn, "big.bin", int64(len(rest)), bytes.NewReader(rest), nil)
	})
	events := m.Events()

	tr, err := m.StartDownload(shared.FileEntry{Name: "big.bin"}, destDir, WithResume())
	if err != nil {
		t.Fatal(err)
	}
	final := awaitTerminal(t, events, tr.ID)
	assert.Equal(t, final.State, Completed)
	assert.Equal(t, final.TotalSize, int64(8))
	assert.Equal(t, final.Transferred, int64(8))

	assert.Equal(t, <-offsets, int64(3))
	got, err := os.ReadFile(filepath.Join(destDir, "big.bin"))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, string(got), "abcdefgh")
}

// Without the resume option an existing partial file is overwritten.
func TestDownloadWithoutResumeTruncates(t *testing.T) {
	destDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(destDir, "notes.txt"), []byte("stale partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := newFileServer()
	c := &stubControl{reply: srv.reply}
	m := newTestManager(t, c, nil, srv.serve)
	events := m.Events()

	tr, err := m.StartDownload(shared.FileEntry{Name: "notes.txt"}, destDir)
	if err != nil {
		t.Fatal(err)
	}
	final := awaitTerminal(t, events, tr.ID)
	assert.Equal(t, final.State, Completed)

	got, _ := os.ReadFile(filepath.Join(destDir, "notes.txt"))
	assert.Equal(t, got, srv.payloadFor("notes.txt"))
}

func TestDataAddr(t *testing.T) {
	addr, err := DataAddr("example.com:5500")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, addr, "example.com:5501")

	if _, err := DataAddr("no-port"); err == nil {
		t.Error("address without port accepted")
	}
}
