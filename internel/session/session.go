package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	. "hotline-client/internel/log"
	"hotline-client/internel/shared"
	"hotline-client/internel/wire"
)

type State int

const (
	Disconnected State = iota
	Connecting
	LoggingIn
	LoggedIn
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case LoggingIn:
		return "logging-in"
	case LoggedIn:
		return "logged-in"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	dialTimeout       = 10 * time.Second
	handshakeTimeout  = 10 * time.Second
	keepaliveInterval = 3 * time.Minute

	// Per-subscriber buffer. A subscriber that falls this far behind has
	// events dropped with a warning rather than stalling the read loop.
	subscriberBuffer = 256
)

type reply struct {
	t   *wire.Transaction
	err error
}

// Session owns the control connection: the socket, the login handshake, the
// outstanding-transaction table, and the fan-out of server pushes. All
// mutation happens inside the session; callers interact only through its
// methods.
type Session struct {
	// Dialer is swappable for tests; the default dials TCP.
	Dialer func(addr string) (net.Conn, error)

	mu         sync.Mutex
	state      State
	connecting bool
	conn       net.Conn
	addr       string
	access     wire.AccessBitmap
	hasAccess  bool
	agreed     bool
	userName   string
	iconID     uint16
	nextID     uint32
	pending    map[uint32]chan reply
	noReply    map[uint32]struct{}
	subs       map[uint16][]chan *wire.Transaction
	stateSubs  []chan State
	done       chan struct{}

	// writes from any caller are serialized onto the socket
	writeMu sync.Mutex
}

func New() *Session {
	return &Session{
		Dialer: func(addr string) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, dialTimeout)
		},
		pending: make(map[uint32]chan reply),
		noReply: make(map[uint32]struct{}),
		subs:    make(map[uint16][]chan *wire.Transaction),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteAddr reports the address passed to Connect.
func (s *Session) RemoteAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Access returns the capability mask and whether the server has issued one
// yet.
func (s *Session) Access() (wire.AccessBitmap, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access, s.hasAccess
}

// Allowed checks one capability bit against the mask. Until the server has
// issued a mask the session does not second-guess the caller; the server
// stays the authority either way.
func (s *Session) Allowed(bit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasAccess {
		return true
	}
	return s.access.Has(bit)
}

func (s *Session) AgreementAccepted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agreed
}

// Connect opens the socket and runs the protocol handshake. On success the
// session is Connecting and ready for Login.
func (s *Session) Connect(addr string) error {
	s.mu.Lock()
	if s.connecting || (s.state != Disconnected && s.state != Failed) {
		s.mu.Unlock()
		return NewError(KindConnectivity, "already connected or connecting to %s", addr)
	}
	// the flag holds the guard across the dial, which runs unlocked
	s.connecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	conn, err := s.Dialer(addr)
	if err != nil {
		s.setState(Failed)
		return WrapError(KindConnectivity, err, "dial %s", addr)
	}

	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := wire.WriteHandshake(conn); err != nil {
		conn.Close()
		s.setState(Failed)
		return WrapError(KindConnectivity, err, "handshake with %s", addr)
	}
	if err := wire.ReadHandshakeReply(conn); err != nil {
		conn.Close()
		s.setState(Failed)
		if errors.Is(err, wire.ErrMalformedFrame) {
			return WrapError(KindProtocol, err, "handshake with %s", addr)
		}
		return WrapError(KindConnectivity, err, "handshake with %s", addr)
	}
	_ = conn.SetDeadline(time.Time{})

	s.mu.Lock()
	s.conn = conn
	s.addr = addr
	s.done = make(chan struct{})
	s.state = Connecting
	s.mu.Unlock()
	s.notifyState(Connecting)

	go s.readLoop(conn)
	Log.Infoln("connected", addr)
	return nil
}

// Login authenticates with obfuscated credentials. A server rejection closes
// the socket and fails the session with an authentication error, distinct
// from connectivity failures.
func (s *Session) Login(ctx context.Context, login, password, name string, icon uint16) error {
	s.mu.Lock()
	if s.state != Connecting {
		st := s.state
		s.mu.Unlock()
		return NewError(KindConnectivity, "login in state %s", st)
	}
	s.state = LoggingIn
	s.userName = name
	s.iconID = icon
	s.mu.Unlock()
	s.notifyState(LoggingIn)

	t := wire.NewTransaction(wire.TranLogin,
		wire.NewField(wire.FieldUserLogin, wire.ObfuscateString([]byte(login))),
		wire.NewField(wire.FieldUserPassword, wire.ObfuscateString([]byte(password))),
		wire.NewField(wire.FieldUserName, []byte(name)),
		wire.Uint16Field(wire.FieldUserIconID, icon),
		wire.Uint16Field(wire.FieldVersion, shared.ClientVersion),
	)
	rep, err := s.roundTrip(ctx, t)
	if err != nil {
		s.fail(err)
		return err
	}
	if rep.ErrorCode != 0 {
		authErr := NewError(KindAuthentication, "login rejected: %s", rep.ErrorText())
		s.fail(authErr)
		return authErr
	}

	s.mu.Lock()
	if data, ok := rep.Field(wire.FieldUserAccess); ok {
		s.access = wire.ParseAccessBitmap(data)
		s.hasAccess = true
	}
	s.state = LoggedIn
	done := s.done
	s.mu.Unlock()
	s.notifyState(LoggedIn)

	go s.keepalive(done)
	Log.Infoln("logged in as", login)
	return nil
}

// Call sends a request and waits for its reply, matched by transaction id.
// Concurrent calls may complete out of order. A nonzero server error code is
// mapped to a server-reported failure.
func (s *Session) Call(ctx context.Context, t *wire.Transaction) (*wire.Transaction, error) {
	rep, err := s.roundTrip(ctx, t)
	if err != nil {
		return nil, err
	}
	if rep.ErrorCode != 0 {
		return nil, NewError(KindServer, "%s: %s", wire.TranName(t.Type), rep.ErrorText())
	}
	return rep, nil
}

// CallGated checks the capability bit before encoding anything; a locally
// denied call never reaches the socket. The server may still deny, which
// surfaces as a distinct remote permission error.
func (s *Session) CallGated(ctx context.Context, bit int, t *wire.Transaction) (*wire.Transaction, error) {
	if !s.Allowed(bit) {
		return nil, NewError(KindPermissionLocal, "capability bit %d not granted", bit)
	}
	rep, err := s.roundTrip(ctx, t)
	if err != nil {
		return nil, err
	}
	if rep.ErrorCode != 0 {
		return nil, NewError(KindPermissionRemote, "%s: %s", wire.TranName(t.Type), rep.ErrorText())
	}
	return rep, nil
}

func (s *Session) roundTrip(ctx context.Context, t *wire.Transaction) (*wire.Transaction, error) {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return nil, NewError(KindConnectivity, "not connected")
	}
	conn := s.conn
	s.nextID++
	t.ID = s.nextID
	ch := make(chan reply, 1)
	s.pending[t.ID] = ch
	s.mu.Unlock()

	if err := s.write(conn, t); err != nil {
		s.mu.Lock()
		delete(s.pending, t.ID)
		s.mu.Unlock()
		return nil, WrapError(KindConnectivity, err, "send %s", wire.TranName(t.Type))
	}

	select {
	case r := <-ch:
		return r.t, r.err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, t.ID)
		s.mu.Unlock()
		return nil, WrapError(KindConnectivity, ctx.Err(), "await %s reply", wire.TranName(t.Type))
	}
}

// Send writes a transaction without registering a reply slot, for requests
// the server answers only with pushes (chat, keepalive, agreed). Historical
// servers acknowledge some of these anyway; the id is remembered so the ack
// can be dropped without noise.
func (s *Session) Send(t *wire.Transaction) error {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return NewError(KindConnectivity, "not connected")
	}
	conn := s.conn
	s.nextID++
	t.ID = s.nextID
	s.noReply[t.ID] = struct{}{}
	s.mu.Unlock()

	if err := s.write(conn, t); err != nil {
		return WrapError(KindConnectivity, err, "send %s", wire.TranName(t.Type))
	}
	return nil
}

// SendChat posts a chat line, gated on the send-chat bit.
func (s *Session) SendChat(text string) error {
	if !s.Allowed(wire.AccessSendChat) {
		return NewError(KindPermissionLocal, "chat posting not granted")
	}
	return s.Send(wire.NewTransaction(wire.TranChatSend,
		wire.NewField(wire.FieldData, []byte(text)),
	))
}

func (s *Session) write(conn net.Conn, t *wire.Transaction) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteTransaction(conn, t)
}

// Disconnect is the user-initiated teardown, reachable from any state.
func (s *Session) Disconnect() {
	s.close(Disconnected, NewError(KindConnectivity, "connection closed"))
}

func (s *Session) fail(cause error) {
	s.close(Failed, cause)
}

// close tears the connection down once: every outstanding pending slot is
// resolved with cause so no caller is left waiting, then subscribers learn
// the new state.
func (s *Session) close(final State, cause error) {
	s.mu.Lock()
	if s.conn == nil && s.state == final {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
	released := make([]chan reply, 0, len(s.pending))
	for id, ch := range s.pending {
		released = append(released, ch)
		delete(s.pending, id)
	}
	s.state = final
	s.noReply = make(map[uint32]struct{})
	s.hasAccess = false
	s.access = wire.AccessBitmap{}
	s.agreed = false
	s.mu.Unlock()

	for _, ch := range released {
		ch <- reply{err: cause}
	}
	s.notifyState(final)
	Log.Infoln("session closed", final.String())
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.notifyState(st)
}

func (s *Session) readLoop(conn net.Conn) {
	var dec wire.Decoder
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				t, derr := dec.Next()
				if derr != nil {
					Log.Errorln("frame decode", derr)
					s.fail(WrapError(KindProtocol, derr, "decoding frame"))
					return
				}
				if t == nil {
					break
				}
				s.dispatch(t)
			}
		}
		if err != nil {
			s.mu.Lock()
			gone := s.conn == nil
			s.mu.Unlock()
			if gone {
				// local teardown already ran
				return
			}
			s.fail(WrapError(KindConnectivity, err, "read from %s", s.RemoteAddr()))
			return
		}
	}
}

// dispatch routes one decoded transaction: replies resolve the matching
// pending slot, everything else is a server push fanned out to subscribers.
func (s *Session) dispatch(t *wire.Transaction) {
	if t.IsReply == 1 {
		s.mu.Lock()
		ch, ok := s.pending[t.ID]
		delete(s.pending, t.ID)
		if !ok {
			_, fireAndForget := s.noReply[t.ID]
			delete(s.noReply, t.ID)
			s.mu.Unlock()
			if !fireAndForget {
				Log.Warnln("reply for unknown transaction", t.ID)
			}
			return
		}
		s.mu.Unlock()
		ch <- reply{t: t}
		return
	}
	s.handlePush(t)
	s.publish(t)
}

// handlePush applies session-level side effects of pushes the session itself
// must act on before subscribers see them.
func (s *Session) handlePush(t *wire.Transaction) {
	switch t.Type {
	case wire.TranUserAccess:
		if data, ok := t.Field(wire.FieldUserAccess); ok {
			s.mu.Lock()
			s.access = wire.ParseAccessBitmap(data)
			s.hasAccess = true
			s.mu.Unlock()
		}
	case wire.TranShowAgreement:
		s.mu.Lock()
		name, icon := s.userName, s.iconID
		s.agreed = true
		s.mu.Unlock()
		err := s.Send(wire.NewTransaction(wire.TranAgreed,
			wire.NewField(wire.FieldUserName, []byte(name)),
			wire.Uint16Field(wire.FieldUserIconID, icon),
		))
		if err != nil {
			Log.Errorln("accept agreement", err)
		}
	}
}

func (s *Session) keepalive(done chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.Send(wire.NewTransaction(wire.TranKeepAlive)); err != nil {
				return
			}
		}
	}
}
