package network

import (
	"fmt"
	"net/netip"
)

// Kind is the coarse connectivity state.
type Kind int

const (
	Disconnected Kind = iota
	Joining
	Connected
)

func (k Kind) String() string {
	switch k {
	case Disconnected:
		return "disconnected"
	case Joining:
		return "joining"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is the published connectivity state. Addr is only valid when
// Kind is Connected.
type State struct {
	Kind Kind
	Addr netip.Addr
}

func (s State) String() string {
	if s.Kind == Connected {
		return fmt.Sprintf("connected(%s)", s.Addr)
	}
	return s.Kind.String()
}

// IsConnected reports whether the link is usable.
func (s State) IsConnected() bool {
	return s.Kind == Connected
}

// transitions lists the legal next states for each state. Anything else
// is a programming error in the supervisor.
var transitions = map[Kind][]Kind{
	Disconnected: {Joining},
	Joining:      {Connected, Disconnected},
	Connected:    {Disconnected},
}

func validTransition(from, to Kind) bool {
	for _, k := range transitions[from] {
		if k == to {
			return true
		}
	}
	return false
}
