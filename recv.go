package clustermq

import (
	"context"
	"errors"
	"time"
)

// Recv returns the next message, in arrival order across all peers. It blocks until a message
// arrives, the socket is closed or the RecvTimeout expires (ErrWouldBlock).
// ROUTER sockets get the sending peer's identity as frame 0.
func (s *Socket) Recv() (Message, error) {
	return s.recv(true, nil)
}

// RecvNonblock returns ErrWouldBlock if no message is queued.
func (s *Socket) RecvNonblock() (Message, error) {
	return s.recv(false, nil)
}

// RecvContext is like Recv, but also gives up when ctx is done, returning ctx.Err().
func (s *Socket) RecvContext(ctx context.Context) (Message, error) {
	m, err := s.recv(true, ctx.Done())
	if errors.Is(err, errCanceled) {
		return nil, ctx.Err()
	}
	return m, err
}

func (s *Socket) recv(block bool, cancel <-chan struct{}) (Message, error) {
	if s.isClosed() {
		return nil, s.fail("recv", ErrClosed)
	}
	if !s.pattern.CanRecv() {
		return nil, s.fail("recv", ErrInvalidOperation)
	}

	var timeout <-chan time.Time
	if block {
		t, stop := deadline(s.options.recvTimeout)
		defer stop()
		timeout = t
	}

	var m Message
	var err error
	switch s.pattern {
	case REQ:
		m, err = s.recvReply(block, cancel, timeout)
	case REP:
		m, err = s.recvRequest(block, cancel, timeout)
	default:
		var d delivery
		d, err = s.take(block, cancel, timeout, nil)
		m = d.msg
	}

	if err != nil {
		if errors.Is(err, errCanceled) {
			return nil, err
		}
		return nil, s.fail("recv", err)
	}
	s.metrics.messageReceived(s.pattern)
	return m, nil
}

// Takes the next delivery off the inbound queue. A closed gone channel (the peer a REQ waits for)
// ends the wait with ErrConnection, but queued messages are returned first.
func (s *Socket) take(block bool, cancel <-chan struct{}, timeout <-chan time.Time, gone <-chan struct{}) (delivery, error) {
	select {
	case d := <-s.in:
		return d, nil
	default:
	}
	if !block {
		if gone != nil && isDone(gone) {
			return delivery{}, ErrConnection
		}
		return delivery{}, ErrWouldBlock
	}

	select {
	case d := <-s.in:
		if s.isClosed() {
			return delivery{}, ErrClosed
		}
		return d, nil
	case <-s.closed:
		return delivery{}, ErrClosed
	case <-timeout:
		return delivery{}, ErrWouldBlock
	case <-cancel:
		return delivery{}, errCanceled
	case <-gone:
		return delivery{}, ErrConnection
	}
}

// REQ: wait for the reply from the peer that holds the request; anything else is stale.
func (s *Socket) recvReply(block bool, cancel <-chan struct{}, timeout <-chan time.Time) (Message, error) {
	if !s.claimTurn(true) {
		return nil, ErrState
	}
	pending := s.pending
	for {
		d, err := s.take(block, cancel, timeout, pending.done)
		if err != nil {
			s.releaseTurn(func() {
				if errors.Is(err, ErrConnection) {
					s.awaiting, s.pending = false, nil
				}
			})
			return nil, err
		}
		if d.p != pending {
			s.metrics.messageDropped(s.pattern, "stale")
			continue
		}
		if len(d.msg) < 2 || len(d.msg[0]) != 0 {
			s.metrics.messageDropped(s.pattern, "malformed")
			continue
		}
		s.releaseTurn(func() { s.awaiting, s.pending = false, nil })
		return d.msg[1:], nil
	}
}

// REP: strip and remember the envelope of the next well-formed request.
func (s *Socket) recvRequest(block bool, cancel <-chan struct{}, timeout <-chan time.Time) (Message, error) {
	if !s.claimTurn(false) {
		return nil, ErrState
	}
	for {
		d, err := s.take(block, cancel, timeout, nil)
		if err != nil {
			s.releaseTurn(nil)
			return nil, err
		}
		envelope, body, ok := splitEnvelope(d.msg)
		if !ok || len(body) == 0 {
			s.metrics.messageDropped(s.pattern, "malformed")
			continue
		}
		s.releaseTurn(func() { s.awaiting, s.pending, s.envelope = true, d.p, envelope })
		return body, nil
	}
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
