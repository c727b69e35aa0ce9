package clustermq

import (
	"time"

	"github.com/fogfish/opts"
)

const (
	defaultHWM = 1000
)

// SocketOptions are fixed at socket creation.
type SocketOptions struct {
	// Announced to peers; a ROUTER uses it as this socket's identity if it is unique there.
	identity []byte
	// Capacity of each peer's outbound queue
	sendHWM int
	// Capacity of the socket's inbound queue
	recvHWM int
	// 0 blocks forever; otherwise Send/Recv fail with ErrWouldBlock after the timeout
	sendTimeout time.Duration
	recvTimeout time.Duration
	// How long Close waits for queued messages to be handed to the transport; 0 drops them
	linger time.Duration
}

var (
	Identity    = opts.ForName[SocketOptions, []byte]("identity")
	SendHWM     = opts.ForName[SocketOptions, int]("sendHWM")
	RecvHWM     = opts.ForName[SocketOptions, int]("recvHWM")
	SendTimeout = opts.ForName[SocketOptions, time.Duration]("sendTimeout")
	RecvTimeout = opts.ForName[SocketOptions, time.Duration]("recvTimeout")
	Linger      = opts.ForName[SocketOptions, time.Duration]("linger")
)

// Sets both high-water marks.
func HWM(n int) opts.Option[SocketOptions] {
	return opts.Type[SocketOptions](func(o *SocketOptions) error {
		o.sendHWM, o.recvHWM = n, n
		return nil
	})
}

func newSocketOptions(options []opts.Option[SocketOptions]) (SocketOptions, error) {
	o := SocketOptions{sendHWM: defaultHWM, recvHWM: defaultHWM}
	if err := opts.Apply(&o, options); err != nil {
		return o, err
	}
	if o.sendHWM < 1 {
		o.sendHWM = 1
	}
	if o.recvHWM < 1 {
		o.recvHWM = 1
	}
	if o.sendTimeout < 0 {
		o.sendTimeout = 0
	}
	if o.recvTimeout < 0 {
		o.recvTimeout = 0
	}
	if o.linger < 0 {
		o.linger = 0
	}
	return o, nil
}

// Returns a channel that fires after d, or nil (never fires) for d == 0, and a stop function.
func deadline(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}
