package clustermq

import (
	"testing"
	"time"

	"github.com/fogfish/opts"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func newTestContext(t *testing.T, options ...opts.Option[Context]) *Context {
	t.Helper()
	c, err := NewContext(options...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Term() })
	return c
}

func mustSocket(t *testing.T, c *Context, p Pattern, options ...opts.Option[SocketOptions]) *Socket {
	t.Helper()
	s, err := c.NewSocket(p, options...)
	require.NoError(t, err)
	return s
}

// Waits until s has at least n attached peers. Bound sockets attach peers asynchronously.
func waitPeers(t *testing.T, s *Socket, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Peers() >= n }, testTimeout, time.Millisecond,
		"%s socket has %d peers, want %d", s.Pattern(), s.Peers(), n)
}

// A PULL/SUB/... socket that gives up after testTimeout instead of hanging the test.
func recvTimeout() opts.Option[SocketOptions] {
	return RecvTimeout(testTimeout)
}
