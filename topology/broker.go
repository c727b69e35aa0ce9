package topology

import (
	"context"
	"fmt"

	"github.com/fogfish/opts"

	"github.com/dermesser/clustermq"
	"github.com/dermesser/clustermq/log"
)

/*
Broker connects a pool of REQ clients with a pool of REP workers: a ROUTER facing the clients and
a DEALER facing the workers, joined by clustermq.Proxy. Neither side needs to know the other.
*/
type Broker struct {
	Context       *clustermq.Context
	ClientAddress string
	WorkerAddress string
	Options       []opts.Option[clustermq.ProxyOptions]
}

func (b *Broker) Run(ctx context.Context) error {
	frontend, err := b.Context.NewSocket(clustermq.ROUTER)
	if err != nil {
		return err
	}
	defer frontend.Close()
	backend, err := b.Context.NewSocket(clustermq.DEALER)
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := frontend.Bind(or(b.ClientAddress, BrokerClientAddress)); err != nil {
		return err
	}
	if err := backend.Bind(or(b.WorkerAddress, BrokerWorkerAddress)); err != nil {
		return err
	}
	return stopped(ctx, clustermq.Proxy(ctx, frontend, backend, b.Options...))
}

// BrokerClient sends Requests requests "Hello <id>-<n>" (default 10) through the broker.
type BrokerClient struct {
	Context  *clustermq.Context
	ID       string
	Address  string
	Requests int
}

func (c *BrokerClient) Run(ctx context.Context) ([]clustermq.Message, error) {
	sock, err := c.Context.NewSocket(clustermq.REQ)
	if err != nil {
		return nil, err
	}
	defer sock.Close()

	if err := connect(ctx, sock, or(c.Address, BrokerClientConnect)); err != nil {
		return nil, err
	}

	n := c.Requests
	if n == 0 {
		n = 10
	}
	replies := make([]clustermq.Message, 0, n)
	for i := 0; i < n; i++ {
		msg := fmt.Sprintf("Hello %s-%d", c.ID, i)
		log.Event(log.LOGLEVEL_INFO).Str("role", "client").Str("id", c.ID).Str("request", msg).Msg("sending")
		if err := sock.SendContext(ctx, clustermq.StringMessage(msg)); err != nil {
			return replies, err
		}
		reply, err := sock.RecvContext(ctx)
		if err != nil {
			return replies, err
		}
		log.Event(log.LOGLEVEL_INFO).Str("role", "client").Str("id", c.ID).Str("request", msg).Stringer("reply", reply).Msg("received reply")
		replies = append(replies, reply)
	}
	return replies, nil
}

// ReplyWorker serves requests from the broker until ctx ends, by default replying "World".
type ReplyWorker struct {
	Context *clustermq.Context
	ID      string
	Address string
	Handler Handler
}

func (w *ReplyWorker) Run(ctx context.Context) error {
	sock, err := w.Context.NewSocket(clustermq.REP)
	if err != nil {
		return err
	}
	defer sock.Close()

	if err := connect(ctx, sock, or(w.Address, BrokerWorkerConnect)); err != nil {
		return err
	}

	handler := w.Handler
	if handler == nil {
		handler = func(clustermq.Message) clustermq.Message { return clustermq.StringMessage("World") }
	}
	for {
		request, err := sock.RecvContext(ctx)
		if err != nil {
			return stopped(ctx, err)
		}
		log.Event(log.LOGLEVEL_INFO).Str("role", "worker").Str("id", w.ID).Stringer("request", request).Msg("received")

		if err := sock.SendContext(ctx, handler(request)); err != nil {
			if clustermq.IsRetryable(err) {
				// the client went away; the next request may come from someone else
				log.Event(log.LOGLEVEL_WARNINGS).Str("role", "worker").Str("id", w.ID).Err(err).Msg("reply not delivered")
				continue
			}
			return stopped(ctx, err)
		}
	}
}
