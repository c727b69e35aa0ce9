package clustermq

import (
	"context"
	"sync"
	"time"
)

/*
A Poller waits until one or more registered sockets can be read from.

The readable sockets are returned in rotating order: the socket that comes first advances by one
with every Poll, so a loop that services sockets in the returned order treats all of them fairly.
*/
type Poller struct {
	mu        sync.Mutex
	sockets   []*Socket
	offset    int
	readables []*Socket
	// Receives a token from every registered socket that became readable or was closed.
	wake chan struct{}
}

func NewPoller() *Poller {
	return &Poller{wake: make(chan struct{}, 1)}
}

// Register adds s. Registering a socket twice has no effect.
func (p *Poller) Register(s *Socket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.sockets {
		if r == s {
			return
		}
	}
	p.sockets = append(p.sockets, s)
	s.watch(p.wake)
	p.signal()
}

// Deregister removes s; unknown sockets are ignored.
func (p *Poller) Deregister(s *Socket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.sockets {
		if r == s {
			p.sockets = append(p.sockets[:i], p.sockets[i+1:]...)
			s.unwatch(p.wake)
			if p.offset >= len(p.sockets) {
				p.offset = 0
			}
			p.signal()
			return
		}
	}
}

// Close deregisters all sockets.
func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sockets {
		s.unwatch(p.wake)
	}
	p.sockets, p.readables = nil, nil
	p.signal()
}

func (p *Poller) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Poll waits up to timeout for registered sockets to become readable (timeout <= 0 waits
// indefinitely) and returns them. An expired timeout yields an empty set.
// An indefinite Poll without any open socket returns ErrClosed.
func (p *Poller) Poll(timeout time.Duration) ([]*Socket, error) {
	return p.PollContext(context.Background(), timeout)
}

// PollContext is Poll that also returns ctx.Err() when ctx is done.
func (p *Poller) PollContext(ctx context.Context, timeout time.Duration) ([]*Socket, error) {
	t, stop := deadline(timeout)
	defer stop()

	for {
		// Drain before scanning: a token arriving after the scan wakes the select below.
		select {
		case <-p.wake:
		default:
		}

		ready, open := p.scan()
		if len(ready) > 0 {
			return ready, nil
		}
		if open == 0 && timeout <= 0 {
			return nil, ErrClosed
		}

		select {
		case <-p.wake:
		case <-t:
			return p.expire(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Readables returns the result of the most recent Poll.
func (p *Poller) Readables() []*Socket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Socket(nil), p.readables...)
}

// Collects the readable sockets starting at the rotation offset. Returns the number of open sockets.
func (p *Poller) scan() ([]*Socket, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.sockets)
	var ready []*Socket
	open := 0
	for i := 0; i < n; i++ {
		s := p.sockets[(p.offset+i)%n]
		if s.isClosed() {
			continue
		}
		open++
		if s.Readable() {
			ready = append(ready, s)
		}
	}
	if len(ready) > 0 {
		p.readables = ready
		p.offset = (p.offset + 1) % n
	}
	return ready, open
}

func (p *Poller) expire() []*Socket {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readables = nil
	if n := len(p.sockets); n > 0 {
		p.offset = (p.offset + 1) % n
	}
	return nil
}
