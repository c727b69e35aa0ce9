package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dermesser/clustermq"
	"github.com/dermesser/clustermq/config"
)

func newDemo(t *testing.T, cfg *config.Config) *demo {
	mq, err := clustermq.NewContext()
	require.NoError(t, err)
	t.Cleanup(func() { mq.Term() })
	return &demo{cfg: cfg, mq: mq}
}

func TestGroupStopsBackgroundAfterForeground(t *testing.T) {
	g := newGroup(context.Background())
	stopped := make(chan struct{})
	g.background(func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	})
	g.foreground(func(context.Context) error { return nil })

	require.NoError(t, g.wait(context.Background(), true))
	select {
	case <-stopped:
	default:
		t.Fatal("background role still running")
	}
}

func TestGroupReportsForegroundError(t *testing.T) {
	g := newGroup(context.Background())
	boom := errors.New("boom")
	g.background(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	g.foreground(func(context.Context) error { return boom })
	assert.ErrorIs(t, g.wait(context.Background(), true), boom)
}

func TestDemoHello(t *testing.T) {
	cfg := config.Default()
	cfg.Hello.Bind = "inproc://demo-hello"
	cfg.Hello.Connect = "inproc://demo-hello"
	cfg.Hello.Requests = 3

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, newDemo(t, cfg).run(ctx))
}

func TestDemoBroker(t *testing.T) {
	cfg := config.Default()
	cfg.Topology = config.TopologyBroker
	cfg.Broker.ClientBind = "inproc://demo-clients"
	cfg.Broker.ClientConnect = "inproc://demo-clients"
	cfg.Broker.WorkerBind = "inproc://demo-workers"
	cfg.Broker.WorkerConnect = "inproc://demo-workers"
	cfg.Broker.Clients = 2
	cfg.Broker.Workers = 2
	cfg.Broker.Requests = 3
	cfg.Broker.Backlog = 8

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, newDemo(t, cfg).run(ctx))
}

func TestDemoUnknownTopology(t *testing.T) {
	cfg := config.Default()
	cfg.Topology = "mesh"
	assert.Error(t, newDemo(t, cfg).run(context.Background()))
}
