package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
)

// streamTransport carries messages over a net.Conn (TCP or Unix domain sockets).
type streamTransport struct {
	scheme, network string
}

func TCP() Transport {
	return &streamTransport{scheme: "tcp", network: "tcp"}
}

func IPC() Transport {
	return &streamTransport{scheme: "ipc", network: "unix"}
}

func (t *streamTransport) Scheme() string { return t.scheme }

// "*:5556" listens on every interface, like ZeroMQ.
func (t *streamTransport) listenAddr(addr string) string {
	if t.network == "tcp" && strings.HasPrefix(addr, "*:") {
		return addr[1:]
	}
	return addr
}

func (t *streamTransport) Listen(addr string) (Listener, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty %s address", ErrMalformedAddress, t.scheme)
	}
	l, err := net.Listen(t.network, t.listenAddr(addr))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %s://%s", ErrAddressInUse, t.scheme, addr)
		}
		return nil, err
	}
	return &streamListener{scheme: t.scheme, l: l}, nil
}

func (t *streamTransport) Dial(addr string) (Conn, error) {
	c, err := net.Dial(t.network, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s://%s: %s", ErrRefused, t.scheme, addr, err.Error())
	}
	return newStreamConn(c, t.scheme), nil
}

type streamListener struct {
	scheme string
	l      net.Listener
}

func (l *streamListener) Accept() (Conn, error) {
	c, err := l.l.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return newStreamConn(c, l.scheme), nil
}

func (l *streamListener) Close() error {
	return l.l.Close()
}

// For tcp, the actual port (useful after binding to port 0)
func (l *streamListener) Addr() string {
	return l.scheme + "://" + l.l.Addr().String()
}

type streamConn struct {
	c      net.Conn
	scheme string

	wlock sync.Mutex
	w     *bufio.Writer
	r     *bufio.Reader
}

func newStreamConn(c net.Conn, scheme string) *streamConn {
	return &streamConn{c: c, scheme: scheme, w: bufio.NewWriter(c), r: bufio.NewReader(c)}
}

func (c *streamConn) Send(m Msg) error {
	c.wlock.Lock()
	defer c.wlock.Unlock()

	if err := writeMsg(c.w, m); err != nil {
		return c.mapErr(err)
	}
	return c.mapErr(c.w.Flush())
}

func (c *streamConn) Recv() (Msg, error) {
	m, err := readMsg(c.r)
	if err != nil {
		return Msg{}, c.mapErr(err)
	}
	return m, nil
}

func (c *streamConn) mapErr(err error) error {
	if err != nil && errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (c *streamConn) Close() error {
	return c.c.Close()
}

func (c *streamConn) RemoteAddr() string {
	return c.scheme + "://" + c.c.RemoteAddr().String()
}
