package main

import (
	"context"
	"fmt"

	"github.com/fogfish/opts"

	"github.com/dermesser/clustermq"
	"github.com/dermesser/clustermq/config"
	"github.com/dermesser/clustermq/log"
	"github.com/dermesser/clustermq/topology"
)

type demo struct {
	cfg        *config.Config
	mq         *clustermq.Context
	zmqWorkers int
}

func (d *demo) run(ctx context.Context) error {
	log.Event(log.LOGLEVEL_INFO).Str("topology", d.cfg.Topology).Msg("starting")
	switch d.cfg.Topology {
	case config.TopologyHello:
		return d.hello(ctx)
	case config.TopologyPubSub:
		return d.pubsub(ctx)
	case config.TopologyPipeline:
		return d.pipeline(ctx)
	case config.TopologyBroker:
		return d.broker(ctx)
	case config.TopologyMultiReader, config.TopologyMultiPoller:
		return d.multi(ctx)
	}
	return fmt.Errorf("unknown topology %q", d.cfg.Topology)
}

// Logs the messages a finite role returns.
func report(role string, run func(context.Context) ([]clustermq.Message, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		msgs, err := run(ctx)
		for i, m := range msgs {
			log.Event(log.LOGLEVEL_INFO).Str("role", role).Int("n", i).Stringer("message", m).Msg("received")
		}
		if err == nil {
			log.Event(log.LOGLEVEL_INFO).Str("role", role).Int("messages", len(msgs)).Msg("done")
		}
		return err
	}
}

func (d *demo) hello(ctx context.Context) error {
	c := d.cfg.Hello
	g := newGroup(ctx)
	g.background((&topology.HelloServer{Context: d.mq, Address: c.Bind}).Run)
	g.foreground(report("client", (&topology.HelloClient{Context: d.mq, Address: c.Connect, Requests: c.Requests}).Run))
	return g.wait(ctx, true)
}

func (d *demo) pubsub(ctx context.Context) error {
	c := d.cfg.PubSub
	g := newGroup(ctx)
	g.background((&topology.Publisher{Context: d.mq, Addresses: c.Bind, Interval: c.Interval}).Run)
	for i := 0; i < c.Subscribers; i++ {
		sub := &topology.Subscriber{Context: d.mq, Address: c.Connect, Topic: c.Topic, Messages: c.Messages}
		g.foreground(report(fmt.Sprintf("subscriber-%d", i), sub.Run))
	}
	return g.wait(ctx, c.Subscribers > 0)
}

func (d *demo) pipeline(ctx context.Context) error {
	c := d.cfg.Pipeline
	g := newGroup(ctx)

	syncBind, syncConnect, announced := "", "", 0
	if c.Handshake {
		syncBind, syncConnect, announced = c.SyncBind, c.SyncConnect, c.Workers
	}
	for i := 0; i < c.Workers; i++ {
		g.background((&topology.PipelineWorker{
			Context:        d.mq,
			ID:             fmt.Sprint(i),
			ReceiveAddress: c.VentilatorConnect,
			SendAddress:    c.SinkConnect,
			SyncAddress:    syncConnect,
		}).Run)
	}
	g.foreground(report("sink", (&topology.Sink{Context: d.mq, Address: c.SinkBind, Tasks: c.Tasks}).Run))
	g.foreground((&topology.Ventilator{
		Context:     d.mq,
		Address:     c.VentilatorBind,
		SyncAddress: syncBind,
		Workers:     announced,
		WarmupDelay: c.WarmupDelay,
		Tasks:       c.Tasks,
	}).Run)
	return g.wait(ctx, true)
}

func (d *demo) broker(ctx context.Context) error {
	c := d.cfg.Broker
	g := newGroup(ctx)

	var options []opts.Option[clustermq.ProxyOptions]
	if c.Backlog > 0 {
		options = append(options, clustermq.Backlog(c.Backlog))
	}
	g.background((&topology.Broker{
		Context:       d.mq,
		ClientAddress: c.ClientBind,
		WorkerAddress: c.WorkerBind,
		Options:       options,
	}).Run)
	for i := 0; i < c.Workers; i++ {
		g.background((&topology.ReplyWorker{Context: d.mq, ID: fmt.Sprint(i), Address: c.WorkerConnect}).Run)
	}
	if d.zmqWorkers > 0 {
		g.background(func(ctx context.Context) error {
			return runZMQWorkers(ctx, d.mq, c.WorkerConnect, d.zmqWorkers)
		})
	}
	for i := 0; i < c.Clients; i++ {
		client := &topology.BrokerClient{Context: d.mq, ID: fmt.Sprint(i), Address: c.ClientConnect, Requests: c.Requests}
		g.foreground(report(fmt.Sprintf("client-%d", i), client.Run))
	}
	return g.wait(ctx, c.Clients > 0)
}

// The multi client needs a publisher and a ventilator to read from; the ventilator sends its
// tasks once and the client keeps reading until the demo is stopped.
func (d *demo) multi(ctx context.Context) error {
	g := newGroup(ctx)
	ps, pl := d.cfg.PubSub, d.cfg.Pipeline

	g.background((&topology.Publisher{Context: d.mq, Addresses: ps.Bind, Interval: d.cfg.Multi.Interval}).Run)
	g.background((&topology.Ventilator{
		Context:     d.mq,
		Address:     pl.VentilatorBind,
		WarmupDelay: pl.WarmupDelay,
		Tasks:       pl.Tasks,
	}).Run)

	client := &topology.MultiClient{
		Context:           d.mq,
		PublisherAddress:  ps.Connect,
		VentilatorAddress: pl.VentilatorConnect,
		Topic:             d.cfg.Multi.Topic,
	}
	if d.cfg.Topology == config.TopologyMultiPoller {
		g.background(client.RunPoller)
	} else {
		g.background(func(ctx context.Context) error {
			return client.RunNonblocking(ctx, d.cfg.Multi.Interval)
		})
	}
	return g.wait(ctx, false)
}
