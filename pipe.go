package clustermq

import (
	"bytes"
	"sync"
	"time"

	"github.com/dermesser/clustermq/log"
	"github.com/dermesser/clustermq/transport"
)

// A pipe is one attached peer of a socket. It owns the connection and two goroutines:
// the writer drains out into the connection, the reader feeds the socket's inbound queue.
type pipe struct {
	s    *Socket
	conn transport.Conn
	peer Pattern
	// ROUTER: the routing identity; otherwise what the peer announced
	identity []byte
	token    string

	out  chan transport.Msg
	done chan struct{}
	once sync.Once
	// closed by the writer when it reaches the flush marker (a Msg without frames)
	flushed chan struct{}

	// Only used on PUB sockets: what the peer subscribed to.
	sub_mu sync.Mutex
	subs   *subscriptions
}

type delivery struct {
	p   *pipe
	msg Message
}

func newPipe(s *Socket, conn transport.Conn, peer Pattern, identity []byte) *pipe {
	p := &pipe{
		s:        s,
		conn:     conn,
		peer:     peer,
		identity: identity,
		token:    log.GetLogToken(),
		out:      make(chan transport.Msg, s.options.sendHWM),
		done:     make(chan struct{}),
		flushed:  make(chan struct{}),
	}
	if s.pattern == PUB {
		p.subs = newSubscriptions()
	}
	return p
}

func (p *pipe) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stops both goroutines and closes the connection. Returns false if the pipe was already down.
func (p *pipe) terminate() bool {
	first := false
	p.once.Do(func() {
		first = true
		close(p.done)
		p.conn.Close()
	})
	return first
}

// A transport error took the pipe down; detach it from its socket.
func (p *pipe) fail(err error) {
	if !p.terminate() {
		return
	}
	if p.s.isClosed() {
		return
	}
	log.Event(log.LOGLEVEL_WARNINGS).Str("socket", p.s.token).Str("pipe", p.token).
		Str("peer", p.conn.RemoteAddr()).Err(err).Msg("peer connection lost")
	p.s.detach(p)
}

func (p *pipe) writeLoop() {
	for {
		select {
		case m := <-p.out:
			if m.Frames == nil {
				close(p.flushed)
				continue
			}
			if err := p.conn.Send(m); err != nil {
				p.fail(err)
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *pipe) readLoop() {
	for {
		m, err := p.conn.Recv()
		if err != nil {
			p.fail(err)
			return
		}
		if m.Command {
			p.command(m)
			continue
		}
		if len(m.Frames) == 0 {
			continue
		}
		if !p.s.deliver(p, Message(m.Frames)) {
			return
		}
	}
}

// Handles connection control messages; only subscriptions travel after the greeting.
func (p *pipe) command(m transport.Msg) {
	if len(m.Frames) != 2 || p.subs == nil {
		log.Event(log.LOGLEVEL_DEBUG).Str("pipe", p.token).Int("frames", len(m.Frames)).Msg("ignored command")
		return
	}

	p.sub_mu.Lock()
	defer p.sub_mu.Unlock()

	switch {
	case bytes.Equal(m.Frames[0], cmdSubscribe):
		p.subs.Add(m.Frames[1])
	case bytes.Equal(m.Frames[0], cmdUnsubscribe):
		p.subs.Remove(m.Frames[1])
	default:
		log.Event(log.LOGLEVEL_DEBUG).Str("pipe", p.token).Bytes("command", m.Frames[0]).Msg("unknown command")
	}
}

func (p *pipe) subscribed(topic []byte) bool {
	p.sub_mu.Lock()
	defer p.sub_mu.Unlock()
	return p.subs.Match(topic)
}

// Enqueues m unless the pipe went down first.
func (p *pipe) push(m transport.Msg) bool {
	select {
	case p.out <- m:
		return true
	case <-p.done:
		return false
	}
}

// Waits until everything queued so far was handed to the connection, or until the deadline.
func (p *pipe) flush(timeout <-chan time.Time) bool {
	select {
	case p.out <- transport.Msg{}:
	case <-p.done:
		return false
	case <-timeout:
		return false
	}
	select {
	case <-p.flushed:
		return true
	case <-p.done:
		return false
	case <-timeout:
		return false
	}
}

// Non-blocking push; false if the outbound queue is full or the pipe is down.
func (p *pipe) tryPush(m transport.Msg) bool {
	if !p.alive() {
		return false
	}
	select {
	case p.out <- m:
		return true
	default:
		return false
	}
}
