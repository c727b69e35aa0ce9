package clustermq

import (
	"errors"
	"sync"

	"github.com/fogfish/opts"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dermesser/clustermq/log"
	"github.com/dermesser/clustermq/transport"
)

/*
A Context owns the resources shared by a group of sockets: the transports (and with that, the
inproc:// namespace), the set of live sockets and optionally the prometheus collectors.

Sockets of different contexts can only meet over tcp:// or ipc://.
*/
type Context struct {
	registry   *transport.Registry
	registerer prometheus.Registerer
	metrics    *metrics

	mu         sync.Mutex
	sockets    map[*Socket]struct{}
	terminated bool
	token      string
}

var (
	// Register collectors with the given registerer (e.g. prometheus.DefaultRegisterer)
	WithMetrics = opts.ForName[Context, prometheus.Registerer]("registerer")
)

// Adds (or replaces, by scheme) transports of the context.
func WithTransports(ts ...transport.Transport) opts.Option[Context] {
	return opts.Type[Context](func(c *Context) error {
		for _, t := range ts {
			if t == nil {
				return errors.New("nil transport")
			}
			c.registry.Register(t)
		}
		return nil
	})
}

func NewContext(options ...opts.Option[Context]) (*Context, error) {
	c := &Context{
		registry: transport.DefaultRegistry(),
		sockets:  make(map[*Socket]struct{}),
		token:    log.GetLogToken(),
	}
	if err := opts.Apply(c, options); err != nil {
		return nil, err
	}

	m, err := newMetrics(c.registerer)
	if err != nil {
		return nil, err
	}
	c.metrics = m

	log.Event(log.LOGLEVEL_DEBUG).Str("ctx", c.token).Msg("context created")
	return c, nil
}

// Create a socket of pattern p. The socket is ready for Bind/Connect right away.
func (c *Context) NewSocket(p Pattern, options ...opts.Option[SocketOptions]) (*Socket, error) {
	if !p.valid() {
		return nil, ErrInvalidOperation
	}
	o, err := newSocketOptions(options)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminated {
		return nil, ErrClosed
	}
	s := newSocket(c, p, o)
	c.sockets[s] = struct{}{}
	return s, nil
}

// Term closes all sockets of the context. Further calls to NewSocket fail with ErrClosed.
// Term is idempotent.
func (c *Context) Term() error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return nil
	}
	c.terminated = true
	sockets := make([]*Socket, 0, len(c.sockets))
	for s := range c.sockets {
		sockets = append(sockets, s)
	}
	c.mu.Unlock()

	for _, s := range sockets {
		s.Close()
	}
	log.Event(log.LOGLEVEL_DEBUG).Str("ctx", c.token).Int("sockets", len(sockets)).Msg("context terminated")
	return nil
}

// Number of sockets that were created and not yet closed.
func (c *Context) Sockets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sockets)
}

func (c *Context) forget(s *Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sockets, s)
}
