package clustermq

import (
	"context"
	"errors"
	"time"

	"github.com/dermesser/clustermq/log"
	"github.com/dermesser/clustermq/transport"
)

// Returned by the internal wait helpers when the caller's context was canceled.
var errCanceled = errors.New("canceled")

// Send queues m for delivery according to the socket's pattern. It blocks while no peer can take
// the message (PUSH, DEALER, REQ, ROUTER); PUB never blocks. With a SendTimeout, a send that
// could not complete in time fails with ErrWouldBlock.
func (s *Socket) Send(m Message) error {
	return s.send(m, true, nil)
}

// SendNonblock is like Send, but fails with ErrWouldBlock instead of waiting.
func (s *Socket) SendNonblock(m Message) error {
	return s.send(m, false, nil)
}

// SendContext is like Send, but also gives up when ctx is done, returning ctx.Err().
func (s *Socket) SendContext(ctx context.Context, m Message) error {
	err := s.send(m, true, ctx.Done())
	if errors.Is(err, errCanceled) {
		return ctx.Err()
	}
	return err
}

func (s *Socket) send(m Message, block bool, cancel <-chan struct{}) error {
	if s.isClosed() {
		return s.fail("send", ErrClosed)
	}
	if !s.pattern.CanSend() {
		return s.fail("send", ErrInvalidOperation)
	}
	if len(m) == 0 {
		return s.failCause("send", ErrInvalidOperation, transport.ErrEmptyMessage)
	}

	var err error
	switch s.pattern {
	case PUB:
		err = s.publish(m)
	case PUSH, DEALER:
		_, err = s.sendRoundRobin(transport.Msg{Frames: m}, block, cancel)
	case REQ:
		err = s.sendRequest(m, block, cancel)
	case REP:
		err = s.sendReply(m, block, cancel)
	case ROUTER:
		err = s.route(m, block, cancel)
	}

	if err != nil {
		if errors.Is(err, errCanceled) {
			return err
		}
		var se *SocketError
		if errors.As(err, &se) {
			return err
		}
		return s.fail("send", err)
	}
	s.metrics.messageSent(s.pattern)
	return nil
}

// Delivers to every peer whose subscriptions match frame 0. Peers with a full queue miss the message.
func (s *Socket) publish(m Message) error {
	s.mu.Lock()
	pipes := append([]*pipe(nil), s.pipes...)
	s.mu.Unlock()

	msg := transport.Msg{Frames: m}
	for _, p := range pipes {
		if !p.subscribed(m[0]) {
			continue
		}
		if !p.tryPush(msg) {
			s.metrics.messageDropped(s.pattern, "hwm")
			if log.IsLoggingEnabled(log.LOGLEVEL_DEBUG) {
				log.Event(log.LOGLEVEL_DEBUG).Str("socket", s.token).Str("pipe", p.token).Msg("subscriber queue full, dropped message")
			}
		}
	}
	return nil
}

/*
Round-robin over the attached peers: starting at the cursor, the first peer with room takes the
message, and the cursor moves past it. If every queue is full (or there is no peer), wait for the
peer at the cursor or for the peer set to change.
*/
func (s *Socket) sendRoundRobin(m transport.Msg, block bool, cancel <-chan struct{}) (*pipe, error) {
	var timeout <-chan time.Time
	if block {
		t, stop := deadline(s.options.sendTimeout)
		defer stop()
		timeout = t
	}

	for {
		s.mu.Lock()
		if s.isClosed() {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		n := len(s.pipes)
		for i := 0; i < n; i++ {
			idx := (s.next + i) % n
			p := s.pipes[idx]
			if p.tryPush(m) {
				s.next = (idx + 1) % n
				s.mu.Unlock()
				return p, nil
			}
		}
		if !block {
			s.mu.Unlock()
			return nil, ErrWouldBlock
		}
		var target *pipe
		if n > 0 {
			target = s.pipes[s.next%n]
		}
		changed := s.changed
		s.mu.Unlock()

		if target == nil {
			select {
			case <-changed:
				continue
			case <-s.closed:
				return nil, ErrClosed
			case <-timeout:
				return nil, ErrWouldBlock
			case <-cancel:
				return nil, errCanceled
			}
		}

		select {
		case target.out <- m:
			s.mu.Lock()
			for i, p := range s.pipes {
				if p == target {
					s.next = (i + 1) % len(s.pipes)
					break
				}
			}
			s.mu.Unlock()
			return target, nil
		case <-target.done:
		case <-changed:
		case <-s.closed:
			return nil, ErrClosed
		case <-timeout:
			return nil, ErrWouldBlock
		case <-cancel:
			return nil, errCanceled
		}
	}
}

// Starts a REQ/REP operation if it is the caller's turn: awaiting must equal want and no other
// Send or Recv may be in progress. Never blocks.
func (s *Socket) claimTurn(want bool) bool {
	s.state_mu.Lock()
	defer s.state_mu.Unlock()
	if s.busy || s.awaiting != want {
		return false
	}
	s.busy = true
	return true
}

// Ends the operation started by claimTurn, applying update under the state lock.
func (s *Socket) releaseTurn(update func()) {
	s.state_mu.Lock()
	defer s.state_mu.Unlock()
	if update != nil {
		update()
	}
	s.busy = false
}

// REQ: one request at a time; the empty delimiter frame marks where the envelope ends.
func (s *Socket) sendRequest(m Message, block bool, cancel <-chan struct{}) error {
	if !s.claimTurn(false) {
		return ErrState
	}
	p, err := s.sendRoundRobin(transport.Msg{Frames: prepend(m, []byte{})}, block, cancel)
	s.releaseTurn(func() {
		if err == nil {
			s.awaiting, s.pending = true, p
		}
	})
	return err
}

// REP: the reply goes back to the peer the request came from, behind the saved envelope.
func (s *Socket) sendReply(m Message, block bool, cancel <-chan struct{}) error {
	if !s.claimTurn(true) {
		return ErrState
	}
	msg := transport.Msg{Frames: prepend(m, s.envelope...)}

	err := s.pushTo(s.pending, msg, block, cancel)
	s.releaseTurn(func() {
		// On ErrConnection the requester is gone; the next Recv may take a new request.
		if err == nil || errors.Is(err, ErrConnection) {
			s.awaiting, s.pending, s.envelope = false, nil, nil
		}
	})
	return err
}

// ROUTER: frame 0 names the peer, the rest is sent to it.
func (s *Socket) route(m Message, block bool, cancel <-chan struct{}) error {
	if len(m) < 2 {
		return ErrInvalidOperation
	}
	p, ok := s.routes.Get(string(m[0]))
	if !ok || !p.alive() {
		s.metrics.messageDropped(s.pattern, "unknown_peer")
		return s.failCause("send", ErrUnknownPeer, errors.New("no peer with identity "+printableIdentity(m[0])))
	}
	if err := s.pushTo(p, transport.Msg{Frames: m[1:]}, block, cancel); err != nil {
		if errors.Is(err, ErrConnection) {
			s.metrics.messageDropped(s.pattern, "unknown_peer")
			return ErrUnknownPeer
		}
		return err
	}
	return nil
}

// Queues m on one specific pipe. A pipe that is down yields ErrConnection.
func (s *Socket) pushTo(p *pipe, m transport.Msg, block bool, cancel <-chan struct{}) error {
	if p == nil || !p.alive() {
		return ErrConnection
	}
	if !block {
		if p.tryPush(m) {
			return nil
		}
		if !p.alive() {
			return ErrConnection
		}
		return ErrWouldBlock
	}

	t, stop := deadline(s.options.sendTimeout)
	defer stop()

	select {
	case p.out <- m:
		return nil
	case <-p.done:
		return ErrConnection
	case <-s.closed:
		return ErrClosed
	case <-t:
		return ErrWouldBlock
	case <-cancel:
		return errCanceled
	}
}
