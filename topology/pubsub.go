package topology

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/dermesser/clustermq"
	"github.com/dermesser/clustermq/log"
)

const defaultPublishInterval = time.Millisecond

// Publisher broadcasts "channel_1 <random number>" followed by a "channel_2" message until ctx ends.
// It binds every address in Addresses; peers may use any of them.
type Publisher struct {
	Context   *clustermq.Context
	Addresses []string
	// Pause after each pair of messages
	Interval time.Duration
}

func (p *Publisher) Run(ctx context.Context) error {
	sock, err := p.Context.NewSocket(clustermq.PUB)
	if err != nil {
		return err
	}
	defer sock.Close()

	addresses := p.Addresses
	if len(addresses) == 0 {
		addresses = []string{PublisherAddress, PublisherIPCAddress}
	}
	for _, a := range addresses {
		if err := sock.Bind(a); err != nil {
			return err
		}
	}

	interval := p.Interval
	if interval <= 0 {
		interval = defaultPublishInterval
	}

	for {
		update := clustermq.StringMessage(fmt.Sprintf("channel_1 %d", rand.Intn(1000)))
		if err := sock.Send(update); err != nil {
			return stopped(ctx, err)
		}
		if err := sock.Send(clustermq.StringMessage("channel_2 This message is not received by the client")); err != nil {
			return stopped(ctx, err)
		}
		if err := sleep(ctx, interval); err != nil {
			return nil
		}
	}
}

// Subscriber collects Messages updates (default 10) for Topic (default "channel_1").
type Subscriber struct {
	Context  *clustermq.Context
	Address  string
	Topic    string
	Messages int
}

func (s *Subscriber) Run(ctx context.Context) ([]clustermq.Message, error) {
	sock, err := s.Context.NewSocket(clustermq.SUB)
	if err != nil {
		return nil, err
	}
	defer sock.Close()

	if err := connect(ctx, sock, or(s.Address, PublisherConnect)); err != nil {
		return nil, err
	}
	if err := sock.Subscribe([]byte(or(s.Topic, "channel_1"))); err != nil {
		return nil, err
	}

	n := s.Messages
	if n == 0 {
		n = 10
	}
	updates := make([]clustermq.Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := sock.RecvContext(ctx)
		if err != nil {
			return updates, err
		}
		log.Event(log.LOGLEVEL_INFO).Str("role", "subscriber").Int("update", i).Stringer("message", m).Msg("received update")
		updates = append(updates, m)
	}
	return updates, nil
}
