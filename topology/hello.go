package topology

import (
	"context"

	"github.com/dermesser/clustermq"
	"github.com/dermesser/clustermq/log"
)

// HelloServer answers every request, by default with "World".
type HelloServer struct {
	Context *clustermq.Context
	Address string
	Handler Handler
}

func (s *HelloServer) Run(ctx context.Context) error {
	sock, err := s.Context.NewSocket(clustermq.REP)
	if err != nil {
		return err
	}
	defer sock.Close()

	if err := sock.Bind(or(s.Address, HelloAddress)); err != nil {
		return err
	}

	handler := s.Handler
	if handler == nil {
		handler = func(clustermq.Message) clustermq.Message { return clustermq.StringMessage("World") }
	}

	for {
		request, err := sock.RecvContext(ctx)
		if err != nil {
			return stopped(ctx, err)
		}
		log.Event(log.LOGLEVEL_INFO).Str("role", "hello-server").Stringer("request", request).Msg("received request")

		if err := sock.SendContext(ctx, handler(request)); err != nil {
			return stopped(ctx, err)
		}
	}
}

// HelloClient sends Requests requests (default 10) and collects the replies.
type HelloClient struct {
	Context  *clustermq.Context
	Address  string
	Requests int
	// Default "Hello"
	Request clustermq.Message
}

func (c *HelloClient) Run(ctx context.Context) ([]clustermq.Message, error) {
	sock, err := c.Context.NewSocket(clustermq.REQ)
	if err != nil {
		return nil, err
	}
	defer sock.Close()

	if err := connect(ctx, sock, or(c.Address, HelloConnect)); err != nil {
		return nil, err
	}

	n := c.Requests
	if n == 0 {
		n = 10
	}
	request := c.Request
	if len(request) == 0 {
		request = clustermq.StringMessage("Hello")
	}

	replies := make([]clustermq.Message, 0, n)
	for i := 0; i < n; i++ {
		log.Event(log.LOGLEVEL_INFO).Str("role", "hello-client").Int("request", i).Msg("sending request")
		if err := sock.SendContext(ctx, request); err != nil {
			return replies, err
		}
		reply, err := sock.RecvContext(ctx)
		if err != nil {
			return replies, err
		}
		log.Event(log.LOGLEVEL_INFO).Str("role", "hello-client").Int("request", i).Stringer("reply", reply).Msg("received reply")
		replies = append(replies, reply)
	}
	return replies, nil
}
