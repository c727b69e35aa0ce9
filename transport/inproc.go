package transport

import (
	"fmt"
	"sync"
)

// Messages in flight per direction on an inproc connection, in addition to the sockets' own queues.
const inprocConnBuffer = 16

// Inproc is an in-memory transport. Endpoints are only visible within one Inproc value.
type Inproc struct {
	mu        sync.Mutex
	listeners map[string]*inprocListener
}

func NewInproc() *Inproc {
	return &Inproc{listeners: make(map[string]*inprocListener)}
}

func (t *Inproc) Scheme() string { return "inproc" }

func (t *Inproc) Listen(addr string) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.listeners[addr]; ok {
		return nil, fmt.Errorf("%w: inproc://%s", ErrAddressInUse, addr)
	}
	l := &inprocListener{
		owner:   t,
		addr:    addr,
		pending: make(chan Conn, inprocConnBuffer),
		closed:  make(chan struct{}),
	}
	t.listeners[addr] = l
	return l, nil
}

func (t *Inproc) Dial(addr string) (Conn, error) {
	t.mu.Lock()
	l, ok := t.listeners[addr]
	t.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: inproc://%s not bound", ErrRefused, addr)
	}
	client, server := Pipe("inproc://"+addr, "inproc://"+addr)

	select {
	case l.pending <- server:
		return client, nil
	case <-l.closed:
		client.Close()
		return nil, fmt.Errorf("%w: inproc://%s", ErrRefused, addr)
	}
}

func (t *Inproc) remove(l *inprocListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listeners[l.addr] == l {
		delete(t.listeners, l.addr)
	}
}

type inprocListener struct {
	owner   *Inproc
	addr    string
	pending chan Conn
	closed  chan struct{}
	once    sync.Once
}

func (l *inprocListener) Accept() (Conn, error) {
	select {
	case c := <-l.pending:
		return c, nil
	case <-l.closed:
		return nil, ErrClosed
	}
}

func (l *inprocListener) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.owner.remove(l)
		// Connections that were dialed but never accepted
		for {
			select {
			case c := <-l.pending:
				c.Close()
			default:
				return
			}
		}
	})
	return nil
}

func (l *inprocListener) Addr() string {
	return "inproc://" + l.addr
}

// Pipe returns the two ends of an in-memory connection.
func Pipe(addrA, addrB string) (Conn, Conn) {
	ab := make(chan Msg, inprocConnBuffer)
	ba := make(chan Msg, inprocConnBuffer)
	done := make(chan struct{})
	once := new(sync.Once)

	a := &inprocConn{in: ba, out: ab, done: done, once: once, remote: addrB}
	b := &inprocConn{in: ab, out: ba, done: done, once: once, remote: addrA}
	return a, b
}

type inprocConn struct {
	in, out chan Msg
	// shared by both ends: closing either end closes the connection
	done   chan struct{}
	once   *sync.Once
	remote string
}

func (c *inprocConn) Send(m Msg) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- m:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Messages sent before Close are still delivered.
func (c *inprocConn) Recv() (Msg, error) {
	select {
	case m := <-c.in:
		return m, nil
	default:
	}
	select {
	case m := <-c.in:
		return m, nil
	case <-c.done:
		select {
		case m := <-c.in:
			return m, nil
		default:
			return Msg{}, ErrClosed
		}
	}
}

func (c *inprocConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *inprocConn) RemoteAddr() string {
	return c.remote
}
