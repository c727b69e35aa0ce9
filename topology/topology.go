/*
Package topology contains the classic ZeroMQ architectures built on clustermq sockets: hello-world
request/reply, publish/subscribe, the parallel pipeline (ventilator, workers, sink), request/reply
through a broker, and a client servicing two sockets at once.

Every role is a struct whose Run method blocks until the role is done or ctx is canceled; run
them in separate goroutines. Roles of one process usually share a clustermq.Context.
Fields left empty fall back to the addresses of the classic examples.
*/
package topology

import (
	"context"
	"errors"
	"time"

	"github.com/dermesser/clustermq"
	"github.com/dermesser/clustermq/log"
)

// A Handler computes the reply (or, in a pipeline worker, the result) for one message.
type Handler func(clustermq.Message) clustermq.Message

// Default endpoints
const (
	HelloAddress          = "tcp://*:5555"
	HelloConnect          = "tcp://localhost:5555"
	PublisherAddress      = "tcp://*:5556"
	PublisherIPCAddress   = "ipc://weather.ipc"
	PublisherConnect      = "tcp://localhost:5556"
	VentilatorAddress     = "tcp://*:5557"
	VentilatorConnect     = "tcp://localhost:5557"
	SinkAddress           = "tcp://*:5558"
	SinkConnect           = "tcp://localhost:5558"
	BrokerClientAddress   = "tcp://*:5559"
	BrokerClientConnect   = "tcp://localhost:5559"
	BrokerWorkerAddress   = "tcp://*:5560"
	BrokerWorkerConnect   = "tcp://localhost:5560"
	VentilatorSyncAddress = "tcp://*:5562"
	VentilatorSyncConnect = "tcp://localhost:5562"
)

const (
	// Queued messages of a role that stops are given this long to go out.
	lingerOnExit = time.Second
	// Pause between connection attempts to an endpoint that is not bound yet
	reconnectInterval = 10 * time.Millisecond
)

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// A role that ends because its context was canceled ends cleanly.
func stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, ctx.Err()) || errors.Is(err, clustermq.ErrClosed)) {
		return nil
	}
	return err
}

// Connects s to endpoint, retrying until the endpoint is bound. Roles may start in any order.
func connect(ctx context.Context, s *clustermq.Socket, endpoint string) error {
	for {
		err := s.Connect(endpoint)
		if err == nil || !errors.Is(err, clustermq.ErrConnection) {
			return err
		}
		log.Event(log.LOGLEVEL_DEBUG).Str("endpoint", endpoint).Err(err).Msg("endpoint not available, retrying")
		if err := sleep(ctx, reconnectInterval); err != nil {
			return err
		}
	}
}

// Sleeps for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
