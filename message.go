package clustermq

import (
	"bytes"
	"fmt"
	"strings"
)

// Message is an ordered, non-empty sequence of frames, delivered as a whole or not at all.
// Frames must not be modified after a Message was handed to Send.
type Message [][]byte

func NewMessage(frames ...[]byte) Message {
	return Message(frames)
}

// StringMessage builds a Message with one frame per part.
func StringMessage(parts ...string) Message {
	m := make(Message, len(parts))
	for i, p := range parts {
		m[i] = []byte(p)
	}
	return m
}

// Strings returns the frames as strings, e.g. for logging or comparisons in tests.
func (m Message) Strings() []string {
	s := make([]string, len(m))
	for i, f := range m {
		s[i] = string(f)
	}
	return s
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	c := make(Message, len(m))
	for i, f := range m {
		c[i] = bytes.Clone(f)
		if c[i] == nil {
			c[i] = []byte{}
		}
	}
	return c
}

func (m Message) String() string {
	return "[" + strings.Join(m.Strings(), "|") + "]"
}

// Returns a new message with prefix frames in front of m. m itself is not modified.
func prepend(m Message, prefix ...[]byte) Message {
	out := make(Message, 0, len(prefix)+len(m))
	out = append(out, prefix...)
	return append(out, m...)
}

// Splits an incoming REP-side message into its envelope (everything up to and including the first
// empty delimiter frame) and body. ok is false if there is no delimiter.
func splitEnvelope(m Message) (envelope, body Message, ok bool) {
	for i, f := range m {
		if len(f) == 0 {
			return m[:i+1], m[i+1:], true
		}
	}
	return nil, nil, false
}

// For log lines and errors: identities are often binary (generated UUIDs).
func printableIdentity(id []byte) string {
	for _, b := range id {
		if b < 0x20 || b > 0x7e {
			return fmt.Sprintf("%x", id)
		}
	}
	return string(id)
}
