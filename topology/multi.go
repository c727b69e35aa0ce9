package topology

import (
	"context"
	"errors"
	"time"

	"github.com/dermesser/clustermq"
	"github.com/dermesser/clustermq/log"
)

// MultiClient is both a subscriber to publisher updates and a pipeline worker.
// Received messages are handed to OnUpdate and OnTask.
type MultiClient struct {
	Context           *clustermq.Context
	PublisherAddress  string
	VentilatorAddress string
	// Default "channel_1"
	Topic    string
	OnUpdate func(clustermq.Message)
	OnTask   func(clustermq.Message)
}

func (c *MultiClient) connect(ctx context.Context) (sub, work *clustermq.Socket, err error) {
	sub, err = c.Context.NewSocket(clustermq.SUB)
	if err != nil {
		return nil, nil, err
	}
	work, err = c.Context.NewSocket(clustermq.PULL)
	if err != nil {
		sub.Close()
		return nil, nil, err
	}

	if err = connect(ctx, sub, or(c.PublisherAddress, PublisherConnect)); err == nil {
		if err = sub.Subscribe([]byte(or(c.Topic, "channel_1"))); err == nil {
			err = connect(ctx, work, or(c.VentilatorAddress, VentilatorConnect))
		}
	}
	if err != nil {
		sub.Close()
		work.Close()
		return nil, nil, err
	}
	return sub, work, nil
}

func (c *MultiClient) update(m clustermq.Message) {
	log.Event(log.LOGLEVEL_INFO).Str("role", "multi-client").Stringer("message", m).Msg("received push notification")
	if c.OnUpdate != nil {
		c.OnUpdate(m)
	}
}

func (c *MultiClient) task(m clustermq.Message) {
	log.Event(log.LOGLEVEL_INFO).Str("role", "multi-client").Stringer("message", m).Msg("received work to do")
	if c.OnTask != nil {
		c.OnTask(m)
	}
}

/*
RunNonblocking reads both sockets with non-blocking receives and sleeps Interval (default 1ms)
after each round. This costs latency when both sockets are idle.
*/
func (c *MultiClient) RunNonblocking(ctx context.Context, interval time.Duration) error {
	sub, work, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()
	defer work.Close()

	if interval <= 0 {
		interval = time.Millisecond
	}
	for {
		m, err := sub.RecvNonblock()
		if err == nil {
			c.update(m)
		} else if !errors.Is(err, clustermq.ErrWouldBlock) {
			return stopped(ctx, err)
		}

		m, err = work.RecvNonblock()
		if err == nil {
			c.task(m)
		} else if !errors.Is(err, clustermq.ErrWouldBlock) {
			return stopped(ctx, err)
		}

		if err := sleep(ctx, interval); err != nil {
			return nil
		}
	}
}

// RunPoller waits on both sockets with a Poller and services every readable socket in turn.
func (c *MultiClient) RunPoller(ctx context.Context) error {
	sub, work, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()
	defer work.Close()

	poller := clustermq.NewPoller()
	defer poller.Close()
	poller.Register(work)
	poller.Register(sub)

	for {
		readables, err := poller.PollContext(ctx, 0)
		if err != nil {
			return stopped(ctx, err)
		}
		for _, s := range readables {
			m, err := s.RecvNonblock()
			if err != nil {
				continue
			}
			switch s {
			case work:
				c.task(m)
			case sub:
				c.update(m)
			}
		}
	}
}
