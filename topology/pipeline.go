package topology

import (
	"context"
	"time"

	"github.com/dermesser/clustermq"
	"github.com/dermesser/clustermq/log"
)

// Sent by a pipeline worker on the sync endpoint once it is connected.
const ReadyMessage = "READY"

/*
Ventilator pushes Tasks workloads (default 10) round-robin to the connected workers.

The tasks are only spread evenly if all workers are connected when the first one is sent. With
Workers > 0 the ventilator binds SyncAddress and waits for that many READY messages (and attached
workers) before it starts. Otherwise it sleeps WarmupDelay.
*/
type Ventilator struct {
	Context     *clustermq.Context
	Address     string
	SyncAddress string
	Workers     int
	WarmupDelay time.Duration
	Tasks       int
	// Default "10"
	Workload string
}

func (v *Ventilator) Run(ctx context.Context) error {
	sock, err := v.Context.NewSocket(clustermq.PUSH, clustermq.Linger(lingerOnExit))
	if err != nil {
		return err
	}
	defer sock.Close()

	if err := sock.Bind(or(v.Address, VentilatorAddress)); err != nil {
		return err
	}

	if v.Workers > 0 {
		if err := v.awaitWorkers(ctx, sock); err != nil {
			return err
		}
	} else if err := sleep(ctx, v.WarmupDelay); err != nil {
		return err
	}

	n := v.Tasks
	if n == 0 {
		n = 10
	}
	workload := clustermq.StringMessage(or(v.Workload, "10"))
	for i := 0; i < n; i++ {
		log.Event(log.LOGLEVEL_INFO).Str("role", "ventilator").Int("workload", i).Msg("ventilating workload")
		if err := sock.SendContext(ctx, workload); err != nil {
			return err
		}
	}
	return nil
}

func (v *Ventilator) awaitWorkers(ctx context.Context, tasks *clustermq.Socket) error {
	sync, err := v.Context.NewSocket(clustermq.PULL)
	if err != nil {
		return err
	}
	defer sync.Close()

	if err := sync.Bind(or(v.SyncAddress, VentilatorSyncAddress)); err != nil {
		return err
	}
	for ready := 0; ready < v.Workers; {
		m, err := sync.RecvContext(ctx)
		if err != nil {
			return err
		}
		if m.Strings()[0] != ReadyMessage {
			continue
		}
		ready++
		log.Event(log.LOGLEVEL_INFO).Str("role", "ventilator").Strs("worker", m.Strings()[1:]).Int("ready", ready).Msg("worker ready")
	}

	// READY travels on its own connection; the task connection may be attached a moment later.
	for tasks.Peers() < v.Workers {
		if err := sleep(ctx, time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// PipelineWorker pulls tasks, processes them with Handler and pushes the result (default
// "Finished") to the sink, until ctx ends.
type PipelineWorker struct {
	Context        *clustermq.Context
	ID             string
	ReceiveAddress string
	SendAddress    string
	// If set, announce readiness to the ventilator there
	SyncAddress string
	Handler     Handler
}

func (w *PipelineWorker) Run(ctx context.Context) error {
	receiver, err := w.Context.NewSocket(clustermq.PULL)
	if err != nil {
		return err
	}
	defer receiver.Close()
	sender, err := w.Context.NewSocket(clustermq.PUSH, clustermq.Linger(lingerOnExit))
	if err != nil {
		return err
	}
	defer sender.Close()

	if err := connect(ctx, receiver, or(w.ReceiveAddress, VentilatorConnect)); err != nil {
		return err
	}
	if err := connect(ctx, sender, or(w.SendAddress, SinkConnect)); err != nil {
		return err
	}
	if w.SyncAddress != "" {
		if err := w.announce(ctx); err != nil {
			return err
		}
	}

	handler := w.Handler
	if handler == nil {
		handler = func(clustermq.Message) clustermq.Message { return clustermq.StringMessage("Finished") }
	}

	for {
		task, err := receiver.RecvContext(ctx)
		if err != nil {
			return stopped(ctx, err)
		}
		log.Event(log.LOGLEVEL_INFO).Str("role", "worker").Str("id", w.ID).Msgf("working for %ss", task.Strings()[0])
		if err := sender.SendContext(ctx, handler(task)); err != nil {
			return stopped(ctx, err)
		}
	}
}

func (w *PipelineWorker) announce(ctx context.Context) error {
	sync, err := w.Context.NewSocket(clustermq.PUSH, clustermq.Linger(lingerOnExit))
	if err != nil {
		return err
	}
	defer sync.Close()

	if err := connect(ctx, sync, w.SyncAddress); err != nil {
		return err
	}
	return sync.SendContext(ctx, clustermq.StringMessage(ReadyMessage, w.ID))
}

// Sink collects Tasks results (default 10).
type Sink struct {
	Context *clustermq.Context
	Address string
	Tasks   int
}

func (s *Sink) Run(ctx context.Context) ([]clustermq.Message, error) {
	sock, err := s.Context.NewSocket(clustermq.PULL)
	if err != nil {
		return nil, err
	}
	defer sock.Close()

	if err := sock.Bind(or(s.Address, SinkAddress)); err != nil {
		return nil, err
	}

	n := s.Tasks
	if n == 0 {
		n = 10
	}
	results := make([]clustermq.Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := sock.RecvContext(ctx)
		if err != nil {
			return results, err
		}
		log.Event(log.LOGLEVEL_INFO).Str("role", "sink").Int("task", i).Msg("finished task")
		results = append(results, m)
	}
	return results, nil
}
