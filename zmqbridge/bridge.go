/*
Package zmqbridge connects clustermq sockets to libzmq sockets (github.com/pebbe/zmq4), so that a
native topology can talk to ZeroMQ peers, e.g. a native broker serving workers written against
libzmq.

A Bridge owns one native and one libzmq socket and copies whole messages between them in a single
goroutine. The libzmq socket is only ever used from that goroutine.
*/
package zmqbridge

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/dermesser/clustermq"
	"github.com/dermesser/clustermq/log"
)

// How long a pump cycle waits on the libzmq socket when nothing moved.
const DefaultPollInterval = 10 * time.Millisecond

// At most this many messages are moved per direction and cycle.
const batchSize = 64

var zmq_types = map[clustermq.Pattern]zmq.Type{
	clustermq.PUB:    zmq.PUB,
	clustermq.SUB:    zmq.SUB,
	clustermq.PUSH:   zmq.PUSH,
	clustermq.PULL:   zmq.PULL,
	clustermq.REQ:    zmq.REQ,
	clustermq.REP:    zmq.REP,
	clustermq.ROUTER: zmq.ROUTER,
	clustermq.DEALER: zmq.DEALER,
}

// Type returns the libzmq socket type of pattern p.
func Type(p clustermq.Pattern) (zmq.Type, error) {
	t, ok := zmq_types[p]
	if !ok {
		return 0, fmt.Errorf("%w: %s", clustermq.ErrInvalidOperation, p)
	}
	return t, nil
}

// NewSocket creates a libzmq socket of pattern p.
func NewSocket(p clustermq.Pattern) (*zmq.Socket, error) {
	t, err := Type(p)
	if err != nil {
		return nil, err
	}
	return zmq.NewSocket(t)
}

// REQ and REP would need the bridge to keep their alternation; they cannot be bridged.
func bridgeable(p clustermq.Pattern) bool {
	return p != clustermq.REQ && p != clustermq.REP
}

func canSend(t zmq.Type) bool {
	return t != zmq.SUB && t != zmq.PULL
}

func canRecv(t zmq.Type) bool {
	return t != zmq.PUB && t != zmq.PUSH
}

type Bridge struct {
	native       *clustermq.Socket
	ext          *zmq.Socket
	extType      zmq.Type
	pollInterval time.Duration

	// directions
	toExt, toNative bool
	token           string
}

// New creates a bridge between native and ext. Messages flow in every direction both sockets
// support; it is an error if there is none.
func New(native *clustermq.Socket, ext *zmq.Socket) (*Bridge, error) {
	if !bridgeable(native.Pattern()) {
		return nil, fmt.Errorf("%w: cannot bridge %s sockets", clustermq.ErrInvalidOperation, native.Pattern())
	}
	t, err := ext.GetType()
	if err != nil {
		return nil, err
	}
	if t == zmq.REQ || t == zmq.REP {
		return nil, fmt.Errorf("%w: cannot bridge %s sockets", clustermq.ErrInvalidOperation, t)
	}

	b := &Bridge{
		native:       native,
		ext:          ext,
		extType:      t,
		pollInterval: DefaultPollInterval,
		toExt:        native.Pattern().CanRecv() && canSend(t),
		toNative:     canRecv(t) && native.Pattern().CanSend(),
		token:        log.GetLogToken(),
	}
	if !b.toExt && !b.toNative {
		return nil, fmt.Errorf("%w: no direction between %s and %s", clustermq.ErrInvalidOperation, native.Pattern(), t)
	}
	return b, nil
}

func (b *Bridge) SetPollInterval(d time.Duration) {
	if d > 0 {
		b.pollInterval = d
	}
}

// Run pumps messages until ctx is done or the native socket is closed. It does not close either socket.
func (b *Bridge) Run(ctx context.Context) error {
	var poller *zmq.Poller
	if b.toNative {
		poller = zmq.NewPoller()
		poller.Add(b.ext, zmq.POLLIN)
	}
	log.Event(log.LOGLEVEL_INFO).Str("bridge", b.token).Stringer("native", b.native.Pattern()).
		Stringer("zmq", b.extType).Bool("to_zmq", b.toExt).Bool("to_native", b.toNative).Msg("bridge started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		moved := 0
		if b.toExt {
			n, err := b.pumpToExt()
			if err != nil {
				return err
			}
			moved += n
		}

		wait := b.pollInterval
		if moved > 0 {
			wait = 0
		}
		if b.toNative {
			n, err := b.pumpToNative(ctx, poller, wait)
			if err != nil {
				return err
			}
			moved += n
		} else if moved == 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}
}

func (b *Bridge) pumpToExt() (int, error) {
	n := 0
	for ; n < batchSize; n++ {
		m, err := b.native.RecvNonblock()
		if errors.Is(err, clustermq.ErrWouldBlock) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if _, err := b.ext.SendMessage([][]byte(m)); err != nil {
			// e.g. ROUTER without a route to the identity in frame 0
			log.Event(log.LOGLEVEL_WARNINGS).Str("bridge", b.token).Err(err).Msg("could not forward to zmq socket")
		}
	}
	return n, nil
}

func (b *Bridge) pumpToNative(ctx context.Context, poller *zmq.Poller, wait time.Duration) (int, error) {
	polled, err := poller.Poll(wait)
	if err != nil {
		if errors.Is(err, zmq.ETERM) {
			return 0, clustermq.ErrClosed
		}
		// EINTR and friends
		log.Event(log.LOGLEVEL_DEBUG).Str("bridge", b.token).Err(err).Msg("poll interrupted")
		return 0, nil
	}
	if len(polled) == 0 {
		return 0, nil
	}

	n := 0
	for ; n < batchSize; n++ {
		frames, err := b.ext.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			if errors.Is(err, zmq.Errno(syscall.EAGAIN)) {
				return n, nil
			}
			return n, err
		}
		if err := b.native.SendContext(ctx, clustermq.Message(frames)); err != nil {
			if clustermq.IsRetryable(err) {
				log.Event(log.LOGLEVEL_WARNINGS).Str("bridge", b.token).Err(err).Msg("could not forward to native socket")
				continue
			}
			return n, err
		}
	}
	return n, nil
}
