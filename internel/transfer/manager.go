// Package transfer owns every upload/download state machine. Transfers run
// on dedicated data connections, independent of the control channel: tearing
// down the session does not touch in-flight transfers, cancellation is
// explicit and per transfer.
package transfer

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/segmentio/ksuid"

	. "hotline-client/internel/log"
	"hotline-client/internel/session"
	"hotline-client/internel/shared"
	"hotline-client/internel/wire"
)

// Control is the slice of the session the manager needs. *session.Session
// satisfies it.
type Control interface {
	CallGated(ctx context.Context, bit int, t *wire.Transaction) (*wire.Transaction, error)
	Call(ctx context.Context, t *wire.Transaction) (*wire.Transaction, error)
	Allowed(bit int) bool
	RemoteAddr() string
}

// Lister enumerates remote directories; folder downloads discover their
// constituents through it. *files.Service satisfies it.
type Lister interface {
	List(ctx context.Context, path []string) ([]shared.FileEntry, error)
}

const (
	workerPoolSize    = 32
	folderParallelism = 3
	dataDialTimeout   = 10 * time.Second
	eventBuffer       = 512
)

type Option func(*options)

type options struct {
	resume bool
}

// WithResume opts a download into resuming from an existing partial
// destination file. Resume is never attempted implicitly.
func WithResume() Option {
	return func(o *options) { o.resume = true }
}

// active is the manager-owned live record behind a Transfer snapshot.
type active struct {
	snap   Transfer
	ctx    context.Context
	cancel context.CancelFunc
	conns  map[net.Conn]struct{}
	speed  speedometer
}

type Manager struct {
	c      Control
	lister Lister
	pool   *ants.Pool

	// dial is swappable for tests; the default dials TCP.
	dial func(addr string) (net.Conn, error)

	mu        sync.Mutex
	transfers map[string]*active
	subs      []chan Event
	closed    bool
}

func NewManager(c Control, lister Lister) (*Manager, error) {
	pool, err := ants.NewPool(workerPoolSize)
	if err != nil {
		return nil, err
	}
	return &Manager{
		c:      c,
		lister: lister,
		pool:   pool,
		dial: func(addr string) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, dataDialTimeout)
		},
		transfers: make(map[string]*active),
	}, nil
}

// Close cancels every live transfer and releases the worker pool.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.CancelAll()
	m.pool.Release()
}

// Events subscribes to progress and terminal notifications. Terminal events
// are delivered exactly once per transfer and never dropped; subscribers
// must keep draining the channel.
func (m *Manager) Events() <-chan Event {
	ch := make(chan Event, eventBuffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.subs {
		if c == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// Get returns a snapshot of one transfer.
func (m *Manager) Get(id string) (Transfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.transfers[id]
	if !ok {
		return Transfer{}, false
	}
	return a.snap, true
}

// List snapshots every transfer the manager knows about.
func (m *Manager) List() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, 0, len(m.transfers))
	for _, a := range m.transfers {
		out = append(out, a.snap)
	}
	return out
}

// Cancel stops a pending or active transfer: the data connections close and
// the transfer ends Cancelled, leaving partial destination data in place.
// Cancelling a transfer that already reached a terminal state is a no-op,
// not an error.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	a, ok := m.transfers[id]
	if !ok || a.snap.State.Terminal() {
		m.mu.Unlock()
		return
	}
	a.cancel()
	conns := make([]net.Conn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	Log.Infoln("transfer cancel requested", id)
}

// CancelAll bulk-cancels every non-terminal transfer.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.transfers))
	for id, a := range m.transfers {
		if !a.snap.State.Terminal() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Cancel(id)
	}
}

// register creates the live record in Pending state.
func (m *Manager) register(title string, dir Direction, folder bool, total int64) (*active, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &active{
		snap: Transfer{
			ID:        ksuid.New().String(),
			Title:     title,
			Direction: dir,
			IsFolder:  folder,
			TotalSize: total,
			State:     Pending,
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, session.NewError(session.KindTransfer, "transfer manager closed")
	}
	m.transfers[a.snap.ID] = a
	m.mu.Unlock()
	return a, nil
}

// submit hands the worker to the pool; a saturated or released pool fails
// the transfer immediately.
func (m *Manager) submit(a *active, run func() error) (Transfer, error) {
	err := m.pool.Submit(func() {
		m.finish(a, run())
	})
	if err != nil {
		m.mu.Lock()
		delete(m.transfers, a.snap.ID)
		m.mu.Unlock()
		a.cancel()
		return Transfer{}, session.WrapError(session.KindTransfer, err, "queue transfer worker")
	}
	m.mu.Lock()
	snap := a.snap
	m.mu.Unlock()
	return snap, nil
}

func (m *Manager) markActive(a *active) {
	m.mu.Lock()
	if !a.snap.State.Terminal() {
		a.snap.State = Active
	}
	m.mu.Unlock()
}

func (m *Manager) setTotal(a *active, total int64) {
	m.mu.Lock()
	if !a.snap.State.Terminal() {
		a.snap.TotalSize = total
	}
	m.mu.Unlock()
}

func (m *Manager) addTotal(a *active, n int64) {
	m.mu.Lock()
	if !a.snap.State.Terminal() {
		a.snap.TotalSize += n
	}
	m.mu.Unlock()
}

// progress advances the byte count; monotone while Active, frozen once a
// terminal state is reached.
func (m *Manager) progress(a *active, n int) {
	m.mu.Lock()
	if a.snap.State.Terminal() {
		m.mu.Unlock()
		return
	}
	a.snap.Transferred += int64(n)
	a.snap.Speed = a.speed.sample(n, time.Now())
	ev := Event{Type: EventProgress, Transfer: a.snap}
	subs := append([]chan Event(nil), m.subs...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// finish resolves the terminal state exactly once. Worker errors after a
// cancellation collapse to Cancelled; everything else is Failed with the
// cause attached.
func (m *Manager) finish(a *active, err error) {
	m.mu.Lock()
	if a.snap.State.Terminal() {
		m.mu.Unlock()
		return
	}
	switch {
	case err == nil:
		a.snap.State = Completed
	case a.ctx.Err() != nil:
		a.snap.State = Cancelled
	default:
		a.snap.State = Failed
		if session.KindOf(err) == 0 {
			err = session.WrapError(session.KindTransfer, err, "%s %s", a.snap.Direction, a.snap.Title)
		}
		a.snap.Err = err
	}
	a.cancel()
	ev := Event{Type: EventTerminal, Transfer: a.snap}
	subs := append([]chan Event(nil), m.subs...)
	m.mu.Unlock()

	if ev.Transfer.State == Failed {
		Log.Warnln("transfer failed", ev.Transfer.Title, ev.Transfer.Err)
	} else {
		Log.Infoln("transfer", ev.Transfer.State.String(), ev.Transfer.Title)
	}
	for _, ch := range subs {
		ch <- ev
	}
}

// dialData opens the per-transfer data connection at control port + 1 and
// registers it for cancellation.
func (m *Manager) dialData(a *active) (net.Conn, error) {
	addr, err := DataAddr(m.c.RemoteAddr())
	if err != nil {
		return nil, err
	}
	conn, err := m.dial(addr)
	if err != nil {
		return nil, session.WrapError(session.KindTransfer, err, "open data connection to %s", addr)
	}
	m.mu.Lock()
	if a.snap.State.Terminal() || a.ctx.Err() != nil {
		m.mu.Unlock()
		conn.Close()
		return nil, session.WrapError(session.KindTransfer, a.ctx.Err(), "transfer cancelled")
	}
	a.conns[conn] = struct{}{}
	m.mu.Unlock()
	return conn, nil
}

func (m *Manager) releaseConn(a *active, conn net.Conn) {
	m.mu.Lock()
	delete(a.conns, conn)
	m.mu.Unlock()
	conn.Close()
}

// DataAddr derives the data-connection address from the control address.
func DataAddr(controlAddr string) (string, error) {
	host, portStr, err := net.SplitHostPort(controlAddr)
	if err != nil {
		return "", session.WrapError(session.KindTransfer, err, "control address %q", controlAddr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", session.WrapError(session.KindTransfer, err, "control port %q", portStr)
	}
	return net.JoinHostPort(host, strconv.Itoa(port+shared.DataPortOffset)), nil
}
