/*
Package transport is the collaborator that moves whole messages between two connected sockets.
It knows nothing about socket patterns; it only establishes connections for an endpoint
("scheme://address") and preserves frame boundaries across Send/Recv.

Three schemes are built in:

	inproc://name      in-memory, scoped to one Registry (i.e. one clustermq.Context)
	tcp://host:port    TCP; "*" as host listens on all interfaces
	ipc://path         Unix domain sockets
*/
package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrAddressInUse     = errors.New("transport: address in use")
	ErrRefused          = errors.New("transport: connection refused")
	ErrClosed           = errors.New("transport: closed")
	ErrUnknownScheme    = errors.New("transport: unknown scheme")
	ErrMalformedAddress = errors.New("transport: malformed address")
	ErrFrameTooLarge    = errors.New("transport: frame too large")
	ErrEmptyMessage     = errors.New("transport: message without frames")
)

// Msg is the unit moved by a Conn. Command messages carry connection control traffic
// (greetings, subscriptions) and are never delivered to applications.
type Msg struct {
	Command bool
	Frames  [][]byte
}

// Conn is one established, bidirectional connection. Send and Recv may be called concurrently
// with each other, but each of them only from one goroutine at a time.
type Conn interface {
	// Send blocks until the message was handed to the transport.
	Send(m Msg) error
	// Recv blocks until a whole message arrived or the connection failed.
	Recv() (Msg, error)
	// Close tears down the connection; the peer's Recv fails afterwards.
	Close() error
	RemoteAddr() string
}

type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

type Transport interface {
	Scheme() string
	// addr is the endpoint without "scheme://"
	Listen(addr string) (Listener, error)
	Dial(addr string) (Conn, error)
}

// SplitEndpoint splits "scheme://address".
func SplitEndpoint(endpoint string) (scheme, addr string, err error) {
	i := strings.Index(endpoint, "://")
	if i <= 0 || i+3 >= len(endpoint) {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedAddress, endpoint)
	}
	return endpoint[:i], endpoint[i+3:], nil
}

// Registry maps schemes to transports.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRegistry returns a registry with the given transports; later ones override earlier ones with
// the same scheme.
func NewRegistry(ts ...Transport) *Registry {
	r := &Registry{transports: make(map[string]Transport)}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// DefaultRegistry has a fresh inproc namespace plus tcp and ipc.
func DefaultRegistry() *Registry {
	return NewRegistry(NewInproc(), TCP(), IPC())
}

func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Scheme()] = t
}

func (r *Registry) lookup(endpoint string) (Transport, string, error) {
	scheme, addr, err := SplitEndpoint(endpoint)
	if err != nil {
		return nil, "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[scheme]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	return t, addr, nil
}

func (r *Registry) Listen(endpoint string) (Listener, error) {
	t, addr, err := r.lookup(endpoint)
	if err != nil {
		return nil, err
	}
	return t.Listen(addr)
}

func (r *Registry) Dial(endpoint string) (Conn, error) {
	t, addr, err := r.lookup(endpoint)
	if err != nil {
		return nil, err
	}
	return t.Dial(addr)
}
