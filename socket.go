package clustermq

import (
	"errors"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"

	"github.com/dermesser/clustermq/log"
	"github.com/dermesser/clustermq/transport"
)

/*
A Socket is an endpoint with a fixed messaging pattern. It can be bound and connected to any
number of endpoints at the same time; every established connection becomes an attached peer
("pipe"). Messages are queued per peer on the way out and in one socket-wide queue on the way in.

All methods are safe for concurrent use. On REQ and REP sockets only one Send or Recv can be in
progress; a call made out of turn, including one that overlaps a blocked call, fails with ErrState.
*/
type Socket struct {
	ctx     *Context
	pattern Pattern
	options SocketOptions
	token   string
	metrics *metrics

	mu        sync.Mutex
	pipes     []*pipe
	next      int
	changed   chan struct{}
	listeners []transport.Listener
	endpoints []string
	subs      *subscriptions

	// ROUTER only: routing identity -> pipe
	routes *haxmap.Map[string, *pipe]

	watch_mu sync.Mutex
	watchers map[chan struct{}]struct{}

	in        chan delivery
	closed    chan struct{}
	closeOnce sync.Once

	// REQ/REP turn state. busy marks a Send or Recv in progress; only that call changes the
	// other fields.
	state_mu sync.Mutex
	busy     bool
	awaiting bool
	pending  *pipe
	envelope Message
}

func newSocket(c *Context, p Pattern, o SocketOptions) *Socket {
	s := &Socket{
		ctx:      c,
		pattern:  p,
		options:  o,
		token:    log.GetLogToken(),
		metrics:  c.metrics,
		changed:  make(chan struct{}),
		watchers: make(map[chan struct{}]struct{}),
		in:       make(chan delivery, o.recvHWM),
		closed:   make(chan struct{}),
	}
	switch p {
	case SUB:
		s.subs = newSubscriptions()
	case ROUTER:
		s.routes = haxmap.New[string, *pipe]()
	}
	log.Event(log.LOGLEVEL_DEBUG).Str("socket", s.token).Stringer("pattern", p).Msg("socket created")
	return s
}

func (s *Socket) Pattern() Pattern {
	return s.pattern
}

// The identity announced to peers (set with the Identity option), may be empty.
func (s *Socket) Identity() []byte {
	return s.options.identity
}

// Number of attached peers.
func (s *Socket) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pipes)
}

// Endpoints returns the bound endpoints with the actual address, e.g. the port chosen for "tcp://127.0.0.1:0".
func (s *Socket) Endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.endpoints...)
}

// Readable reports whether a Recv would return a message right away. Closed sockets are never readable.
func (s *Socket) Readable() bool {
	return !s.isClosed() && len(s.in) > 0
}

func (s *Socket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

/*
Bind listens on endpoint ("inproc://name", "tcp://host:port", "ipc://path"). A socket may be bound
to several endpoints; each accepts peers independently.
*/
func (s *Socket) Bind(endpoint string) error {
	if s.isClosed() {
		return s.fail("bind", ErrClosed)
	}
	ln, err := s.ctx.registry.Listen(endpoint)
	if err != nil {
		if errors.Is(err, transport.ErrAddressInUse) {
			return s.failCause("bind", ErrAddressInUse, err)
		}
		return s.failCause("bind", ErrConnection, err)
	}

	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		ln.Close()
		return s.fail("bind", ErrClosed)
	}
	s.listeners = append(s.listeners, ln)
	s.endpoints = append(s.endpoints, ln.Addr())
	s.mu.Unlock()

	log.Event(log.LOGLEVEL_INFO).Str("socket", s.token).Stringer("pattern", s.pattern).Str("endpoint", ln.Addr()).Msg("bound")
	go s.acceptLoop(ln)
	return nil
}

func (s *Socket) acceptLoop(ln transport.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.isClosed() {
				log.Event(log.LOGLEVEL_DEBUG).Str("socket", s.token).Str("endpoint", ln.Addr()).Err(err).Msg("listener stopped")
			}
			return
		}
		go func() {
			if err := s.attach(conn); err != nil && !errors.Is(err, ErrClosed) {
				log.Event(log.LOGLEVEL_WARNINGS).Str("socket", s.token).Str("peer", conn.RemoteAddr()).Err(err).Msg("refused peer")
			}
		}()
	}
}

// Connect dials endpoint and attaches the peer once the greeting was exchanged. The endpoint
// must be bound already.
func (s *Socket) Connect(endpoint string) error {
	if s.isClosed() {
		return s.fail("connect", ErrClosed)
	}
	conn, err := s.ctx.registry.Dial(endpoint)
	if err != nil {
		return s.failCause("connect", ErrConnection, err)
	}
	if err := s.attach(conn); err != nil {
		if errors.Is(err, ErrClosed) {
			return s.fail("connect", ErrClosed)
		}
		return s.failCause("connect", ErrConnection, err)
	}
	log.Event(log.LOGLEVEL_INFO).Str("socket", s.token).Stringer("pattern", s.pattern).Str("endpoint", endpoint).Msg("connected")
	return nil
}

// Performs the handshake on a fresh connection and makes it a pipe of s.
func (s *Socket) attach(conn transport.Conn) error {
	g, peer, err := s.handshake(conn)
	if err != nil {
		return err
	}
	p := newPipe(s, conn, peer, g.Identity)
	go p.writeLoop()

	s.mu.Lock()
	if s.isClosed() || !p.alive() {
		s.mu.Unlock()
		p.terminate()
		return ErrClosed
	}
	if s.routes != nil {
		p.identity = s.routingIdentity(g.Identity)
		s.routes.Set(string(p.identity), p)
	}
	if s.subs != nil {
		for _, prefix := range s.subs.Prefixes() {
			p.push(transport.Msg{Command: true, Frames: [][]byte{cmdSubscribe, prefix}})
		}
	}
	s.pipes = append(s.pipes, p)
	s.peersChanged()
	s.mu.Unlock()

	s.metrics.peerAttached(s.pattern, 1)
	log.Event(log.LOGLEVEL_INFO).Str("socket", s.token).Str("pipe", p.token).Stringer("peer_pattern", peer).
		Str("peer", conn.RemoteAddr()).Msg("peer attached")

	go p.readLoop()
	return nil
}

// The peer's announced identity if it is set and not taken, otherwise a fresh UUIDv7. Called with s.mu held.
func (s *Socket) routingIdentity(announced []byte) []byte {
	if len(announced) > 0 {
		if _, taken := s.routes.Get(string(announced)); !taken {
			return announced
		}
		log.Event(log.LOGLEVEL_WARNINGS).Str("socket", s.token).Bytes("identity", announced).Msg("duplicate peer identity, generating one")
	}
	id := uuid.Must(uuid.NewV7())
	return id[:]
}

// Removes a failed pipe. Senders blocked on it retry on the remaining peers.
func (s *Socket) detach(p *pipe) {
	s.mu.Lock()
	found := false
	for i, q := range s.pipes {
		if q == p {
			s.pipes = append(s.pipes[:i], s.pipes[i+1:]...)
			if s.next > i {
				s.next--
			}
			if s.next >= len(s.pipes) {
				s.next = 0
			}
			found = true
			break
		}
	}
	if found {
		if s.routes != nil {
			if q, ok := s.routes.Get(string(p.identity)); ok && q == p {
				s.routes.Del(string(p.identity))
			}
		}
		s.peersChanged()
	}
	s.mu.Unlock()

	if found {
		s.metrics.peerAttached(s.pattern, -1)
		s.notify()
	}
}

// Wakes everybody waiting for the peer set to change. Called with s.mu held.
func (s *Socket) peersChanged() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Hands an incoming message to the inbound queue. Returns false once the pipe or socket is gone.
func (s *Socket) deliver(p *pipe, m Message) bool {
	switch s.pattern {
	case PUB, PUSH:
		s.metrics.messageDropped(s.pattern, "unexpected")
		return true
	case SUB:
		s.mu.Lock()
		match := s.subs.Match(m[0])
		s.mu.Unlock()
		if !match {
			s.metrics.messageDropped(s.pattern, "unsubscribed")
			return true
		}
	case ROUTER:
		m = prepend(m, p.identity)
	}

	select {
	case s.in <- delivery{p: p, msg: m}:
		s.notify()
		return true
	case <-p.done:
		return false
	case <-s.closed:
		return false
	}
}

// Registers a channel that receives a token whenever s may have become readable or was closed.
func (s *Socket) watch(ch chan struct{}) {
	s.watch_mu.Lock()
	defer s.watch_mu.Unlock()
	s.watchers[ch] = struct{}{}
}

func (s *Socket) unwatch(ch chan struct{}) {
	s.watch_mu.Lock()
	defer s.watch_mu.Unlock()
	delete(s.watchers, ch)
}

func (s *Socket) notify() {
	s.watch_mu.Lock()
	defer s.watch_mu.Unlock()
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

/*
Close stops listening, disconnects all peers and drops queued messages (unless the Linger option
gives them time to go out). Goroutines blocked in Send or Recv return ErrClosed, as does every
later operation. Closing twice is a no-op.
*/
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		listeners, pipes := s.listeners, s.pipes
		s.listeners, s.pipes = nil, nil
		s.peersChanged()
		s.mu.Unlock()

		for _, ln := range listeners {
			ln.Close()
		}
		if s.options.linger > 0 && len(pipes) > 0 {
			t, stop := deadline(s.options.linger)
			for _, p := range pipes {
				if !p.flush(t) {
					log.Event(log.LOGLEVEL_WARNINGS).Str("socket", s.token).Str("pipe", p.token).Msg("linger expired, dropping queued messages")
				}
			}
			stop()
		}
		for _, p := range pipes {
			p.terminate()
		}
		s.metrics.peerAttached(s.pattern, -float64(len(pipes)))

	drain:
		for {
			select {
			case <-s.in:
			default:
				break drain
			}
		}

		s.notify()
		s.ctx.forget(s)
		log.Event(log.LOGLEVEL_DEBUG).Str("socket", s.token).Stringer("pattern", s.pattern).Msg("socket closed")
	})
	return nil
}
