package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/dermesser/clustermq"
	"github.com/dermesser/clustermq/log"
	"github.com/dermesser/clustermq/zmqbridge"
)

const zmqWorkerEndpoint = "inproc://clustermq-demo-workers"

/*
Serves broker requests with libzmq REP workers:

	broker DEALER <-> native DEALER <-> bridge <-> zmq DEALER <-> zmq REP workers

The native DEALER looks like one more worker to the broker.
*/
func runZMQWorkers(ctx context.Context, mq *clustermq.Context, brokerAddress string, n int) error {
	native, err := mq.NewSocket(clustermq.DEALER)
	if err != nil {
		return err
	}
	defer native.Close()
	for {
		err := native.Connect(brokerAddress)
		if err == nil {
			break
		}
		if !errors.Is(err, clustermq.ErrConnection) {
			return err
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return nil
		}
	}

	ext, err := zmqbridge.NewSocket(clustermq.DEALER)
	if err != nil {
		return err
	}
	if err := ext.Bind(zmqWorkerEndpoint); err != nil {
		ext.Close()
		return err
	}
	bridge, err := zmqbridge.New(native, ext)
	if err != nil {
		ext.Close()
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := zmqWorker(ctx, id); err != nil {
				log.Event(log.LOGLEVEL_ERRORS).Err(err).Int("worker", id).Msg("zmq worker failed")
			}
		}(i)
	}

	err = bridge.Run(ctx)
	ext.Close()
	wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func zmqWorker(ctx context.Context, id int) error {
	sock, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return err
	}
	defer sock.Close()
	if err := sock.SetRcvtimeo(100 * time.Millisecond); err != nil {
		return err
	}
	if err := sock.SetLinger(0); err != nil {
		return err
	}
	if err := sock.Connect(zmqWorkerEndpoint); err != nil {
		return err
	}

	for ctx.Err() == nil {
		req, err := sock.RecvMessageBytes(0)
		if errors.Is(err, zmq.Errno(syscall.EAGAIN)) {
			continue
		}
		if err != nil {
			return err
		}
		log.Event(log.LOGLEVEL_INFO).Str("role", "zmq-worker").Int("worker", id).Stringer("message", clustermq.Message(req)).Msg("received request")
		if _, err := sock.SendMessage(fmt.Sprintf("World from zmq-%d", id)); err != nil {
			return err
		}
	}
	return nil
}
