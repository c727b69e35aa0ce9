package clustermq

import (
	"bytes"
	"fmt"
	"time"

	pb "github.com/gogo/protobuf/proto"

	"github.com/dermesser/clustermq/transport"
)

// Version of the connection greeting; peers with a different major version are refused.
const greetingVersion uint32 = 1

const handshakeTimeout = 5 * time.Second

var (
	cmdReady       = []byte("READY")
	cmdSubscribe   = []byte("SUBSCRIBE")
	cmdUnsubscribe = []byte("UNSUBSCRIBE")
)

// greeting is exchanged by both ends of a new connection before any message.
type greeting struct {
	Pattern          *string `protobuf:"bytes,1,opt,name=pattern" json:"pattern,omitempty"`
	Identity         []byte  `protobuf:"bytes,2,opt,name=identity" json:"identity,omitempty"`
	Version          *uint32 `protobuf:"varint,3,opt,name=version" json:"version,omitempty"`
	XXX_unrecognized []byte  `json:"-"`
}

func (m *greeting) Reset()         { *m = greeting{} }
func (m *greeting) String() string { return pb.CompactTextString(m) }
func (*greeting) ProtoMessage()    {}

func (m *greeting) GetPattern() string {
	if m != nil && m.Pattern != nil {
		return *m.Pattern
	}
	return ""
}

func (m *greeting) GetVersion() uint32 {
	if m != nil && m.Version != nil {
		return *m.Version
	}
	return 0
}

func newGreeting(p Pattern, identity []byte) *greeting {
	return &greeting{Pattern: pb.String(p.String()), Identity: identity, Version: pb.Uint32(greetingVersion)}
}

func (s *Socket) greetingMsg() (transport.Msg, error) {
	buf, err := pb.Marshal(newGreeting(s.pattern, s.options.identity))
	if err != nil {
		return transport.Msg{}, err
	}
	return transport.Msg{Command: true, Frames: [][]byte{cmdReady, buf}}, nil
}

func parseGreeting(m transport.Msg) (*greeting, Pattern, error) {
	if !m.Command || len(m.Frames) != 2 || !bytes.Equal(m.Frames[0], cmdReady) {
		return nil, 0, fmt.Errorf("expected greeting, got %d frames", len(m.Frames))
	}
	g := new(greeting)
	if err := pb.Unmarshal(m.Frames[1], g); err != nil {
		return nil, 0, err
	}
	if g.GetVersion() != greetingVersion {
		return nil, 0, fmt.Errorf("unsupported greeting version %d", g.GetVersion())
	}
	p, err := ParsePattern(g.GetPattern())
	if err != nil {
		return nil, 0, err
	}
	return g, p, nil
}

// Exchanges greetings over a fresh connection and checks pattern compatibility.
// The connection is closed on failure.
func (s *Socket) handshake(conn transport.Conn) (*greeting, Pattern, error) {
	hello, err := s.greetingMsg()
	if err != nil {
		conn.Close()
		return nil, 0, err
	}

	type result struct {
		m   transport.Msg
		err error
	}
	received := make(chan result, 1)
	go func() {
		m, err := conn.Recv()
		received <- result{m, err}
	}()

	if err = conn.Send(hello); err != nil {
		conn.Close()
		return nil, 0, err
	}

	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()

	var r result
	select {
	case r = <-received:
	case <-timer.C:
		conn.Close()
		return nil, 0, fmt.Errorf("no greeting from %s within %s", conn.RemoteAddr(), handshakeTimeout)
	case <-s.closed:
		conn.Close()
		return nil, 0, ErrClosed
	}
	if r.err != nil {
		conn.Close()
		return nil, 0, r.err
	}

	g, peer, err := parseGreeting(r.m)
	if err != nil {
		conn.Close()
		return nil, 0, err
	}
	if !s.pattern.Compatible(peer) {
		conn.Close()
		return nil, 0, fmt.Errorf("%s cannot talk to %s peer at %s", s.pattern, peer, conn.RemoteAddr())
	}
	return g, peer, nil
}
