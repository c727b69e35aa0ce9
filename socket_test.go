package clustermq

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternExclusivity(t *testing.T) {
	c := newTestContext(t)

	for _, p := range []Pattern{SUB, PULL} {
		s := mustSocket(t, c, p)
		assert.ErrorIs(t, s.Send(StringMessage("x")), ErrInvalidOperation, p.String())
		assert.ErrorIs(t, s.SendNonblock(StringMessage("x")), ErrInvalidOperation, p.String())
	}
	for _, p := range []Pattern{PUB, PUSH} {
		s := mustSocket(t, c, p)
		_, err := s.Recv()
		assert.ErrorIs(t, err, ErrInvalidOperation, p.String())
		_, err = s.RecvNonblock()
		assert.ErrorIs(t, err, ErrInvalidOperation, p.String())
	}
	for _, p := range []Pattern{PUB, PUSH, PULL, REQ, REP, ROUTER, DEALER} {
		s := mustSocket(t, c, p)
		assert.ErrorIs(t, s.Subscribe([]byte("a")), ErrInvalidOperation, p.String())
		assert.ErrorIs(t, s.Unsubscribe([]byte("a")), ErrInvalidOperation, p.String())
	}
}

func TestSocketErrorCarriesContext(t *testing.T) {
	c := newTestContext(t)
	s := mustSocket(t, c, PULL)

	err := s.Send(StringMessage("x"))
	var se *SocketError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, PULL, se.Pattern)
	assert.Equal(t, "send", se.Op)
	assert.Contains(t, err.Error(), "PULL send")
	assert.False(t, IsRetryable(err))
}

func TestEmptyMessageRejected(t *testing.T) {
	c := newTestContext(t)
	s := mustSocket(t, c, PUSH)
	assert.ErrorIs(t, s.SendNonblock(Message{}), ErrInvalidOperation)
}

func TestInvalidPattern(t *testing.T) {
	c := newTestContext(t)
	_, err := c.NewSocket(Pattern(42))
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestBindErrors(t *testing.T) {
	c := newTestContext(t)
	a := mustSocket(t, c, PULL)
	b := mustSocket(t, c, PULL)

	require.NoError(t, a.Bind("inproc://pipeline"))
	assert.ErrorIs(t, b.Bind("inproc://pipeline"), ErrAddressInUse)
	assert.ErrorIs(t, b.Bind("pipeline"), ErrConnection)
	assert.ErrorIs(t, b.Bind("pgm://239.192.1.1:5555"), ErrConnection)

	// Released on close
	require.NoError(t, a.Close())
	require.NoError(t, b.Bind("inproc://pipeline"))
}

func TestConnectUnboundEndpoint(t *testing.T) {
	c := newTestContext(t)
	s := mustSocket(t, c, PUSH)

	err := s.Connect("inproc://nowhere")
	assert.ErrorIs(t, err, ErrConnection)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 0, s.Peers())
}

func TestIncompatiblePeerRefused(t *testing.T) {
	c := newTestContext(t)
	pub := mustSocket(t, c, PUB)
	require.NoError(t, pub.Bind("inproc://weather"))

	push := mustSocket(t, c, PUSH)
	assert.ErrorIs(t, push.Connect("inproc://weather"), ErrConnection)
	assert.Equal(t, 0, push.Peers())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, pub.Peers())
}

func TestPushPullFIFO(t *testing.T) {
	c := newTestContext(t)
	push := mustSocket(t, c, PUSH)
	require.NoError(t, push.Bind("inproc://tasks"))
	pull := mustSocket(t, c, PULL, recvTimeout())
	require.NoError(t, pull.Connect("inproc://tasks"))
	waitPeers(t, push, 1)

	for i := 0; i < 100; i++ {
		require.NoError(t, push.Send(StringMessage("task", fmt.Sprint(i))))
	}
	for i := 0; i < 100; i++ {
		m, err := pull.Recv()
		require.NoError(t, err)
		assert.Equal(t, []string{"task", fmt.Sprint(i)}, m.Strings())
	}
}

func TestPushSpreadsRoundRobin(t *testing.T) {
	const workers, perWorker = 3, 10

	c := newTestContext(t)
	push := mustSocket(t, c, PUSH)
	require.NoError(t, push.Bind("inproc://ventilator"))

	pulls := make([]*Socket, workers)
	for i := range pulls {
		pulls[i] = mustSocket(t, c, PULL, recvTimeout())
		require.NoError(t, pulls[i].Connect("inproc://ventilator"))
	}
	waitPeers(t, push, workers)

	for i := 0; i < workers*perWorker; i++ {
		require.NoError(t, push.Send(StringMessage(fmt.Sprint(i))))
	}

	seen := make(map[string]bool)
	for _, pull := range pulls {
		for i := 0; i < perWorker; i++ {
			m, err := pull.Recv()
			require.NoError(t, err)
			seen[m.Strings()[0]] = true
		}
		_, err := pull.RecvNonblock()
		assert.ErrorIs(t, err, ErrWouldBlock)
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestPushWithoutPeers(t *testing.T) {
	c := newTestContext(t)
	push := mustSocket(t, c, PUSH, SendTimeout(20*time.Millisecond))

	assert.ErrorIs(t, push.SendNonblock(StringMessage("x")), ErrWouldBlock)

	start := time.Now()
	err := push.Send(StringMessage("x"))
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.True(t, IsRetryable(err))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPushWaitsForPeer(t *testing.T) {
	c := newTestContext(t)
	push := mustSocket(t, c, PUSH)
	require.NoError(t, push.Bind("inproc://late"))

	sent := make(chan error, 1)
	go func() { sent <- push.Send(StringMessage("first")) }()

	time.Sleep(10 * time.Millisecond)
	pull := mustSocket(t, c, PULL, recvTimeout())
	require.NoError(t, pull.Connect("inproc://late"))

	require.NoError(t, <-sent)
	m, err := pull.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", m.Strings()[0])
}

// Publishes until the subscription has reached the publisher.
func syncSubscriber(t *testing.T, pub, sub *Socket, topic string) {
	t.Helper()
	require.Eventually(t, func() bool {
		if pub.Send(StringMessage(topic)) != nil {
			return false
		}
		_, err := sub.RecvNonblock()
		return err == nil
	}, testTimeout, time.Millisecond)
}

func TestPubSubPrefixMatching(t *testing.T) {
	c := newTestContext(t)
	pub := mustSocket(t, c, PUB)
	require.NoError(t, pub.Bind("inproc://weather"))
	sub := mustSocket(t, c, SUB, recvTimeout())
	require.NoError(t, sub.Connect("inproc://weather"))
	require.NoError(t, sub.Subscribe([]byte("channel_1")))

	syncSubscriber(t, pub, sub, "channel_1 sync")

	for _, topic := range []string{"channel_2 a", "channel_1 a", "chan", "channel_1b", "channel_2 b", "channel_1 end"} {
		require.NoError(t, pub.Send(StringMessage(topic, "payload")))
	}

	var got []string
	for {
		m, err := sub.Recv()
		require.NoError(t, err)
		if m.Strings()[0] == "channel_1 sync" {
			continue
		}
		assert.Equal(t, "payload", m.Strings()[1])
		got = append(got, m.Strings()[0])
		if m.Strings()[0] == "channel_1 end" {
			break
		}
	}
	assert.Equal(t, []string{"channel_1 a", "channel_1b", "channel_1 end"}, got)
}

func TestSubscriptionReplayedToLatePublisher(t *testing.T) {
	c := newTestContext(t)
	sub := mustSocket(t, c, SUB, recvTimeout())
	require.NoError(t, sub.Bind("inproc://updates"))
	require.NoError(t, sub.Subscribe([]byte("A")))

	pub := mustSocket(t, c, PUB)
	require.NoError(t, pub.Connect("inproc://updates"))
	syncSubscriber(t, pub, sub, "A sync")

	require.NoError(t, pub.Send(StringMessage("B skipped")))
	require.NoError(t, pub.Send(StringMessage("A kept")))
	for {
		m, err := sub.Recv()
		require.NoError(t, err)
		if m.Strings()[0] != "A sync" {
			assert.Equal(t, "A kept", m.Strings()[0])
			break
		}
	}
}

func TestSubscriptionsRefCounted(t *testing.T) {
	c := newTestContext(t)
	sub := mustSocket(t, c, SUB)

	require.NoError(t, sub.Subscribe([]byte("x")))
	require.NoError(t, sub.Subscribe([]byte("x")))
	require.NoError(t, sub.Subscribe(nil))
	assert.Equal(t, [][]byte{{}, []byte("x")}, sub.Subscriptions())

	require.NoError(t, sub.Unsubscribe([]byte("x")))
	assert.Len(t, sub.Subscriptions(), 2)
	require.NoError(t, sub.Unsubscribe([]byte("x")))
	require.NoError(t, sub.Unsubscribe([]byte("never")))
	assert.Equal(t, [][]byte{{}}, sub.Subscriptions())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c := newTestContext(t)
	pub := mustSocket(t, c, PUB)
	require.NoError(t, pub.Bind("inproc://ticker"))
	sub := mustSocket(t, c, SUB, recvTimeout())
	require.NoError(t, sub.Connect("inproc://ticker"))
	require.NoError(t, sub.Subscribe([]byte("T")))
	require.NoError(t, sub.Subscribe([]byte("end")))
	syncSubscriber(t, pub, sub, "T sync")

	require.NoError(t, sub.Unsubscribe([]byte("T")))
	// The local filter applies right away, whatever the publisher still sends.
	require.NoError(t, pub.Send(StringMessage("T dropped")))
	require.NoError(t, pub.Send(StringMessage("end")))
	for {
		m, err := sub.Recv()
		require.NoError(t, err)
		if m.Strings()[0] != "T sync" {
			assert.Equal(t, "end", m.Strings()[0])
			break
		}
	}
}

func TestPublishWithoutSubscribersNeverBlocks(t *testing.T) {
	c := newTestContext(t)
	pub := mustSocket(t, c, PUB, SendHWM(1))
	for i := 0; i < 10; i++ {
		assert.NoError(t, pub.Send(StringMessage("nobody listens")))
	}
}

func TestReqRep(t *testing.T) {
	c := newTestContext(t)
	rep := mustSocket(t, c, REP, recvTimeout())
	require.NoError(t, rep.Bind("inproc://hello"))
	req := mustSocket(t, c, REQ, recvTimeout())
	require.NoError(t, req.Connect("inproc://hello"))

	for i := 0; i < 10; i++ {
		require.NoError(t, req.Send(StringMessage("Hello", fmt.Sprint(i))))
		m, err := rep.Recv()
		require.NoError(t, err)
		assert.Equal(t, []string{"Hello", fmt.Sprint(i)}, m.Strings())

		require.NoError(t, rep.Send(StringMessage("World")))
		m, err = req.Recv()
		require.NoError(t, err)
		assert.Equal(t, []string{"World"}, m.Strings())
	}
}

func TestReqRepStateErrors(t *testing.T) {
	c := newTestContext(t)
	rep := mustSocket(t, c, REP, recvTimeout())
	require.NoError(t, rep.Bind("inproc://strict"))
	req := mustSocket(t, c, REQ, recvTimeout())
	require.NoError(t, req.Connect("inproc://strict"))

	_, err := req.Recv()
	assert.ErrorIs(t, err, ErrState)
	assert.ErrorIs(t, rep.Send(StringMessage("World")), ErrState)

	require.NoError(t, req.Send(StringMessage("Hello")))
	assert.ErrorIs(t, req.Send(StringMessage("Hello again")), ErrState)

	_, err = rep.Recv()
	require.NoError(t, err)
	_, err = rep.Recv()
	assert.ErrorIs(t, err, ErrState)
	require.NoError(t, rep.Send(StringMessage("World")))
	assert.ErrorIs(t, rep.Send(StringMessage("World")), ErrState)

	_, err = req.Recv()
	require.NoError(t, err)
	assert.False(t, IsRetryable(&SocketError{Pattern: REQ, Op: "recv", Err: ErrState}))
}

// Reports whether a Send or Recv is in progress on a REQ/REP socket.
func turnInProgress(s *Socket) bool {
	s.state_mu.Lock()
	defer s.state_mu.Unlock()
	return s.busy
}

func TestRepOutOfTurnSendDuringRecv(t *testing.T) {
	c := newTestContext(t)
	rep := mustSocket(t, c, REP, recvTimeout())
	require.NoError(t, rep.Bind("inproc://rep-turns"))
	req := mustSocket(t, c, REQ, recvTimeout())
	require.NoError(t, req.Connect("inproc://rep-turns"))

	received := make(chan Message, 1)
	go func() {
		m, err := rep.Recv()
		assert.NoError(t, err)
		received <- m
	}()
	require.Eventually(t, func() bool { return turnInProgress(rep) }, testTimeout, time.Millisecond)

	start := time.Now()
	assert.ErrorIs(t, rep.Send(StringMessage("too early")), ErrState)
	_, err := rep.RecvNonblock()
	assert.ErrorIs(t, err, ErrState)
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, req.Send(StringMessage("Hello")))
	assert.Equal(t, []string{"Hello"}, (<-received).Strings())
	require.NoError(t, rep.Send(StringMessage("World")))
	m, err := req.Recv()
	require.NoError(t, err)
	assert.Equal(t, []string{"World"}, m.Strings())
}

func TestReqOutOfTurnSendDuringRecv(t *testing.T) {
	c := newTestContext(t)
	rep := mustSocket(t, c, REP, recvTimeout())
	require.NoError(t, rep.Bind("inproc://req-turns"))
	req := mustSocket(t, c, REQ, recvTimeout())
	require.NoError(t, req.Connect("inproc://req-turns"))

	require.NoError(t, req.Send(StringMessage("first")))
	replies := make(chan Message, 1)
	go func() {
		m, err := req.Recv()
		assert.NoError(t, err)
		replies <- m
	}()
	require.Eventually(t, func() bool { return turnInProgress(req) }, testTimeout, time.Millisecond)

	start := time.Now()
	assert.ErrorIs(t, req.Send(StringMessage("second")), ErrState)
	_, err := req.RecvNonblock()
	assert.ErrorIs(t, err, ErrState)
	assert.Less(t, time.Since(start), time.Second)

	m, err := rep.Recv()
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, m.Strings())
	require.NoError(t, rep.Send(StringMessage("reply")))
	assert.Equal(t, []string{"reply"}, (<-replies).Strings())

	// "second" was refused, not queued
	_, err = rep.RecvNonblock()
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestReqLosesPeer(t *testing.T) {
	c := newTestContext(t)
	rep := mustSocket(t, c, REP)
	require.NoError(t, rep.Bind("inproc://flaky"))
	req := mustSocket(t, c, REQ, recvTimeout())
	require.NoError(t, req.Connect("inproc://flaky"))

	require.NoError(t, req.Send(StringMessage("Hello")))
	require.NoError(t, rep.Close())

	_, err := req.Recv()
	assert.ErrorIs(t, err, ErrConnection)

	// The request is abandoned; a new one may be sent.
	assert.ErrorIs(t, req.SendNonblock(StringMessage("Hello")), ErrWouldBlock)
}

func TestRepSpreadsOverRequesters(t *testing.T) {
	c := newTestContext(t)
	rep := mustSocket(t, c, REP, recvTimeout())
	require.NoError(t, rep.Bind("inproc://shared"))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		req := mustSocket(t, c, REQ, recvTimeout())
		require.NoError(t, req.Connect("inproc://shared"))
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				body := fmt.Sprintf("%d-%d", id, j)
				assert.NoError(t, req.Send(StringMessage(body)))
				m, err := req.Recv()
				if assert.NoError(t, err) {
					assert.Equal(t, "re: "+body, m.Strings()[0])
				}
			}
		}(i)
	}

	for i := 0; i < 15; i++ {
		m, err := rep.Recv()
		require.NoError(t, err)
		require.NoError(t, rep.Send(StringMessage("re: "+m.Strings()[0])))
	}
	wg.Wait()
}

func TestRouterUnknownPeer(t *testing.T) {
	c := newTestContext(t)
	router := mustSocket(t, c, ROUTER)

	err := router.Send(StringMessage("ghost", "hello"))
	assert.ErrorIs(t, err, ErrUnknownPeer)
	assert.True(t, IsRetryable(err))

	assert.ErrorIs(t, router.Send(StringMessage("only-identity")), ErrInvalidOperation)
}

func TestRouterDealerIdentities(t *testing.T) {
	c := newTestContext(t)
	router := mustSocket(t, c, ROUTER, recvTimeout())
	require.NoError(t, router.Bind("inproc://router"))

	named := mustSocket(t, c, DEALER, Identity([]byte("worker-1")), recvTimeout())
	require.NoError(t, named.Connect("inproc://router"))
	assert.Equal(t, []byte("worker-1"), named.Identity())
	waitPeers(t, router, 1)
	twin := mustSocket(t, c, DEALER, Identity([]byte("worker-1")), recvTimeout())
	require.NoError(t, twin.Connect("inproc://router"))
	waitPeers(t, router, 2)

	require.NoError(t, named.Send(StringMessage("hi")))
	m, err := router.Recv()
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-1", "hi"}, m.Strings())

	require.NoError(t, twin.Send(StringMessage("hi too")))
	m, err = router.Recv()
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Len(t, m[0], 16, "duplicate identity is replaced by a generated one")
	twinID := m[0]

	require.NoError(t, router.Send(StringMessage("worker-1", "back")))
	require.NoError(t, router.Send(NewMessage(twinID, []byte("back too"))))

	m, err = named.Recv()
	require.NoError(t, err)
	assert.Equal(t, []string{"back"}, m.Strings())
	m, err = twin.Recv()
	require.NoError(t, err)
	assert.Equal(t, []string{"back too"}, m.Strings())

	// Identities die with the connection
	require.NoError(t, named.Close())
	require.Eventually(t, func() bool {
		return router.Send(StringMessage("worker-1", "gone")) != nil
	}, testTimeout, time.Millisecond)
	assert.ErrorIs(t, router.Send(StringMessage("worker-1", "gone")), ErrUnknownPeer)
}

func TestCloseWakesBlockedCalls(t *testing.T) {
	c := newTestContext(t)
	pull := mustSocket(t, c, PULL)
	push := mustSocket(t, c, PUSH)

	recvErr := make(chan error, 1)
	go func() {
		_, err := pull.Recv()
		recvErr <- err
	}()
	sendErr := make(chan error, 1)
	go func() { sendErr <- push.Send(StringMessage("x")) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, pull.Close())
	require.NoError(t, push.Close())

	assert.ErrorIs(t, <-recvErr, ErrClosed)
	assert.ErrorIs(t, <-sendErr, ErrClosed)
}

func TestClosedSocket(t *testing.T) {
	c := newTestContext(t)
	s := mustSocket(t, c, DEALER)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Send(StringMessage("x")), ErrClosed)
	_, err := s.Recv()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Bind("inproc://x"), ErrClosed)
	assert.ErrorIs(t, s.Connect("inproc://x"), ErrClosed)
	assert.False(t, s.Readable())
	assert.False(t, IsRetryable(err))
}

func TestCloseDropsQueuedMessages(t *testing.T) {
	c := newTestContext(t)
	pull := mustSocket(t, c, PULL)
	require.NoError(t, pull.Bind("inproc://q"))
	push := mustSocket(t, c, PUSH)
	require.NoError(t, push.Connect("inproc://q"))

	require.NoError(t, push.Send(StringMessage("x")))
	require.Eventually(t, pull.Readable, testTimeout, time.Millisecond)
	require.NoError(t, pull.Close())

	assert.False(t, pull.Readable())
	_, err := pull.RecvNonblock()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMultipleBinds(t *testing.T) {
	c := newTestContext(t)
	pull := mustSocket(t, c, PULL, recvTimeout())
	require.NoError(t, pull.Bind("inproc://one"))
	require.NoError(t, pull.Bind("inproc://two"))
	assert.Equal(t, []string{"inproc://one", "inproc://two"}, pull.Endpoints())

	for _, ep := range []string{"inproc://one", "inproc://two"} {
		push := mustSocket(t, c, PUSH)
		require.NoError(t, push.Connect(ep))
		require.NoError(t, push.Send(StringMessage(ep)))
	}
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		m, err := pull.Recv()
		require.NoError(t, err)
		got[m.Strings()[0]] = true
	}
	assert.Equal(t, map[string]bool{"inproc://one": true, "inproc://two": true}, got)
}

func TestRecvContextCanceled(t *testing.T) {
	c := newTestContext(t)
	pull := mustSocket(t, c, PULL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := pull.RecvContext(ctx)
	assert.ErrorIs(t, err, ctx.Err())
}

func TestRecvTimeout(t *testing.T) {
	c := newTestContext(t)
	pull := mustSocket(t, c, PULL, RecvTimeout(10*time.Millisecond))
	_, err := pull.Recv()
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestTCPEndToEnd(t *testing.T) {
	server := newTestContext(t)
	client := newTestContext(t)

	rep := mustSocket(t, server, REP, recvTimeout())
	require.NoError(t, rep.Bind("tcp://127.0.0.1:0"))
	endpoint := rep.Endpoints()[0]
	assert.NotEqual(t, "tcp://127.0.0.1:0", endpoint)

	req := mustSocket(t, client, REQ, recvTimeout())
	require.NoError(t, req.Connect(endpoint))

	require.NoError(t, req.Send(StringMessage("Hello", "")))
	m, err := rep.Recv()
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", ""}, m.Strings())
	require.NoError(t, rep.Send(StringMessage("World")))
	m, err = req.Recv()
	require.NoError(t, err)
	assert.Equal(t, "World", m.Strings()[0])
}

func TestContextTerm(t *testing.T) {
	c, err := NewContext()
	require.NoError(t, err)
	a := mustSocket(t, c, PUSH)
	mustSocket(t, c, PULL)
	require.NoError(t, a.Close())
	assert.Equal(t, 1, c.Sockets())

	require.NoError(t, c.Term())
	require.NoError(t, c.Term())
	assert.Equal(t, 0, c.Sockets())

	_, err = c.NewSocket(PUSH)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLingerFlushesQueuedMessages(t *testing.T) {
	c := newTestContext(t)
	pull := mustSocket(t, c, PULL, recvTimeout())
	require.NoError(t, pull.Bind("inproc://linger"))
	push := mustSocket(t, c, PUSH, Linger(time.Second))
	require.NoError(t, push.Connect("inproc://linger"))

	for i := 0; i < 50; i++ {
		require.NoError(t, push.Send(StringMessage(fmt.Sprint(i))))
	}
	require.NoError(t, push.Close())

	for i := 0; i < 50; i++ {
		m, err := pull.Recv()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), m.Strings()[0])
	}
}
