package clustermq

import (
	"fmt"
	"strings"
)

// Pattern is the role contract of a Socket.
type Pattern int

const (
	PUB Pattern = iota
	SUB
	PUSH
	PULL
	REQ
	REP
	ROUTER
	DEALER
)

var pattern_names = []string{"PUB", "SUB", "PUSH", "PULL", "REQ", "REP", "ROUTER", "DEALER"}

func (p Pattern) String() string {
	if p < 0 || int(p) >= len(pattern_names) {
		return fmt.Sprintf("Pattern(%d)", int(p))
	}
	return pattern_names[p]
}

func (p Pattern) valid() bool {
	return p >= PUB && p <= DEALER
}

// ParsePattern accepts the names returned by Pattern.String, case-insensitively.
func ParsePattern(s string) (Pattern, error) {
	for i, n := range pattern_names {
		if strings.EqualFold(n, s) {
			return Pattern(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown pattern %q", ErrInvalidOperation, s)
}

func (p Pattern) CanSend() bool {
	return p != SUB && p != PULL
}

func (p Pattern) CanRecv() bool {
	return p != PUB && p != PUSH
}

// Which peer patterns a socket of pattern p may talk to.
var compatible_peers = map[Pattern][]Pattern{
	PUB:    {SUB},
	SUB:    {PUB},
	PUSH:   {PULL},
	PULL:   {PUSH},
	REQ:    {REP, ROUTER},
	REP:    {REQ, DEALER},
	DEALER: {REP, DEALER, ROUTER},
	ROUTER: {REQ, DEALER, ROUTER},
}

func (p Pattern) Compatible(peer Pattern) bool {
	for _, c := range compatible_peers[p] {
		if c == peer {
			return true
		}
	}
	return false
}
