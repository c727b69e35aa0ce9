package clustermq

import (
	"context"
	"errors"
	"time"

	"github.com/fogfish/opts"

	"github.com/dermesser/clustermq/log"
	"github.com/dermesser/clustermq/queue"
)

// ProxyOptions tune Proxy.
type ProxyOptions struct {
	// Per-direction queue for messages the destination could not take right away; 0 = block instead.
	backlog int
	// Gets a copy of every relayed message, best effort.
	capture *Socket
}

var (
	Backlog = opts.ForName[ProxyOptions, int]("backlog")
	Capture = opts.ForName[ProxyOptions, *Socket]("capture")
)

const (
	// How often a proxy with queued messages retries its destinations.
	backlogRetryInterval = 10 * time.Millisecond
	// Upper bound for noticing that one of the sockets was closed.
	closeCheckInterval = 100 * time.Millisecond
)

type side int

const (
	sideFrontend side = iota
	sideBackend
)

func (s side) direction() string {
	if s == sideFrontend {
		return "frontend_to_backend"
	}
	return "backend_to_frontend"
}

// One direction of a proxy.
type relay struct {
	side     side
	from, to *Socket
	backlog  *queue.Queue[Message]
	capture  *Socket
	metrics  *metrics
}

/*
Proxy relays messages between frontend and backend in both directions until ctx is done or one of
the sockets is closed. Messages are passed on unchanged, including routing envelopes, so a ROUTER
frontend and a DEALER backend form a broker between REQ clients and REP workers.

Every cycle forwards at most one message per readable socket. When the destination has no peer
that can take a message, the relay blocks (or queues it, with the Backlog option).
A reply for a client that went away (ErrUnknownPeer) is logged and dropped.
*/
func Proxy(ctx context.Context, frontend, backend *Socket, options ...opts.Option[ProxyOptions]) error {
	var po ProxyOptions
	if err := opts.Apply(&po, options); err != nil {
		return err
	}

	relays := [2]*relay{
		{side: sideFrontend, from: frontend, to: backend, capture: po.capture, metrics: frontend.metrics},
		{side: sideBackend, from: backend, to: frontend, capture: po.capture, metrics: frontend.metrics},
	}
	if po.backlog > 0 {
		for _, r := range relays {
			r.backlog = queue.NewQueue[Message](po.backlog)
		}
	}

	poller := NewPoller()
	defer poller.Close()
	poller.Register(frontend)
	poller.Register(backend)

	log.Event(log.LOGLEVEL_INFO).Str("frontend", frontend.token).Stringer("frontend_pattern", frontend.pattern).
		Str("backend", backend.token).Stringer("backend_pattern", backend.pattern).Int("backlog", po.backlog).Msg("proxy started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if frontend.isClosed() || backend.isClosed() {
			return ErrClosed
		}

		timeout := closeCheckInterval
		for _, r := range relays {
			if err := r.flush(); err != nil {
				return err
			}
			if r.backlog != nil && r.backlog.Len() > 0 {
				timeout = backlogRetryInterval
			}
		}

		ready, err := poller.PollContext(ctx, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrClosed
		}

		for _, s := range ready {
			r := relays[sideBackend]
			if s == frontend {
				r = relays[sideFrontend]
			}
			m, err := s.RecvNonblock()
			if err != nil {
				if errors.Is(err, ErrWouldBlock) {
					continue
				}
				return err
			}
			if err := r.forward(ctx, m); err != nil {
				return err
			}
		}
	}
}

// Sends m, waiting until the destination takes it. A SendTimeout on the destination only
// paces the retries; the message is not dropped.
func (r *relay) send(ctx context.Context, m Message) error {
	for {
		err := r.to.SendContext(ctx, m)
		if !errors.Is(err, ErrWouldBlock) {
			return err
		}
		log.Event(log.LOGLEVEL_DEBUG).Str("direction", r.side.direction()).Msg("destination send timed out, retrying")
	}
}

// Relays m, keeping the order behind messages already in the backlog.
func (r *relay) forward(ctx context.Context, m Message) error {
	if r.backlog == nil {
		return r.done(m, r.send(ctx, m))
	}

	if r.backlog.Len() == 0 {
		err := r.to.SendNonblock(m)
		if !errors.Is(err, ErrWouldBlock) {
			return r.done(m, err)
		}
	}

	if !r.backlog.Push(m) {
		// Full: wait until the oldest message can go, then there is room again.
		oldest, _ := r.backlog.Pop()
		if err := r.done(oldest, r.send(ctx, oldest)); err != nil {
			return err
		}
		r.backlog.Push(m)
	}
	if r.backlog.Fill() >= 0.8 {
		log.Event(log.LOGLEVEL_WARNINGS).Str("direction", r.side.direction()).Int("queued", r.backlog.Len()).
			Int("capacity", r.backlog.Cap()).Msg("proxy backlog is at 80%")
	}
	r.metrics.backlogSize(r.side.direction(), r.backlog.Len())
	return nil
}

// Sends queued messages until the destination pushes back.
func (r *relay) flush() error {
	if r.backlog == nil {
		return nil
	}
	defer func() { r.metrics.backlogSize(r.side.direction(), r.backlog.Len()) }()

	for r.backlog.Len() > 0 {
		m, _ := r.backlog.Peek()
		err := r.to.SendNonblock(m)
		if errors.Is(err, ErrWouldBlock) {
			return nil
		}
		r.backlog.Pop()
		if err := r.done(m, err); err != nil {
			return err
		}
	}
	return nil
}

// Accounts for a send attempt. Only errors that end the proxy are returned.
func (r *relay) done(m Message, err error) error {
	switch {
	case err == nil:
		r.metrics.messageRelayed(r.side.direction())
		if r.capture != nil {
			r.capture.SendNonblock(m)
		}
		return nil
	case errors.Is(err, ErrUnknownPeer):
		log.Event(log.LOGLEVEL_WARNINGS).Str("direction", r.side.direction()).Err(err).Msg("dropped message for departed peer")
		return nil
	case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		log.Event(log.LOGLEVEL_ERRORS).Str("direction", r.side.direction()).Err(err).Msg("relay failed")
		return nil
	}
}
