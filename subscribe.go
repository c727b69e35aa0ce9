package clustermq

import (
	"github.com/dermesser/clustermq/log"
	"github.com/dermesser/clustermq/transport"
)

/*
Subscribe adds a topic prefix on a SUB socket: messages whose first frame starts with prefix are
delivered. An empty prefix subscribes to everything. Subscriptions are reference counted and
sent to all current and future publishers.
*/
func (s *Socket) Subscribe(prefix []byte) error {
	return s.changeSubscription(prefix, true)
}

// Unsubscribe removes one reference to prefix. Unknown prefixes are ignored.
func (s *Socket) Unsubscribe(prefix []byte) error {
	return s.changeSubscription(prefix, false)
}

// Subscriptions returns the distinct subscribed prefixes of a SUB socket.
func (s *Socket) Subscriptions() [][]byte {
	if s.subs == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs.Prefixes()
}

func (s *Socket) changeSubscription(prefix []byte, add bool) error {
	op := "unsubscribe"
	if add {
		op = "subscribe"
	}
	if s.isClosed() {
		return s.fail(op, ErrClosed)
	}
	if s.pattern != SUB {
		return s.fail(op, ErrInvalidOperation)
	}
	prefix = append([]byte{}, prefix...)

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed bool
	cmd := cmdUnsubscribe
	if add {
		changed = s.subs.Add(prefix)
		cmd = cmdSubscribe
	} else {
		changed = s.subs.Remove(prefix)
	}
	if !changed {
		return nil
	}

	for _, p := range s.pipes {
		p.push(transport.Msg{Command: true, Frames: [][]byte{cmd, prefix}})
	}
	log.Event(log.LOGLEVEL_DEBUG).Str("socket", s.token).Str("op", op).Bytes("prefix", prefix).Int("peers", len(s.pipes)).Msg("subscription changed")
	return nil
}
