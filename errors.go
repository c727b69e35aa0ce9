package clustermq

import (
	"errors"
	"fmt"
)

var (
	// Transport-level bind failures: the endpoint is already bound.
	ErrAddressInUse = errors.New("address in use")
	// Transport-level connect/bind failures and peers vanishing mid-request.
	ErrConnection = errors.New("connection error")
	// The operation is not part of the socket's pattern (e.g. Send on SUB, Recv on PUSH).
	ErrInvalidOperation = errors.New("invalid operation for socket pattern")
	// REQ/REP alternation was violated.
	ErrState = errors.New("operation not allowed in current socket state")
	// ROUTER send to an identity without a live connection. The message was dropped.
	ErrUnknownPeer = errors.New("unknown peer identity")
	// A non-blocking operation (or one whose timeout expired) found no data or no peer.
	ErrWouldBlock = errors.New("operation would block")
	// The socket, context or poller is closed. Terminal.
	ErrClosed = errors.New("closed")
)

// SocketError attaches the socket pattern and operation to one of the sentinel errors above.
// Use errors.Is with the sentinels to classify it.
type SocketError struct {
	Pattern Pattern
	Op      string
	Err     error
	// Transport or library cause, may be nil
	Cause error
}

func (e *SocketError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s: %s", e.Pattern, e.Op, e.Err.Error(), e.Cause.Error())
	}
	return fmt.Sprintf("%s %s: %s", e.Pattern, e.Op, e.Err.Error())
}

func (e *SocketError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func (s *Socket) fail(op string, err error) error {
	return &SocketError{Pattern: s.pattern, Op: op, Err: err}
}

func (s *Socket) failCause(op string, err, cause error) error {
	return &SocketError{Pattern: s.pattern, Op: op, Err: err, Cause: cause}
}

// IsRetryable reports whether the error is transient (no peer/data right now, a peer went away).
// Pattern and state violations are programmer errors and never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidOperation) || errors.Is(err, ErrState) || errors.Is(err, ErrClosed) {
		return false
	}
	return errors.Is(err, ErrWouldBlock) || errors.Is(err, ErrUnknownPeer) || errors.Is(err, ErrConnection)
}
