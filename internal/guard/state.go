package guard

import (
	"fmt"

	"pns/internal/network"
	"pns/internal/pnserr"
)

type Connection int

const (
	Disconnected Connection = iota
	Connecting
	Connected
)

func (c Connection) String() string {
	switch c {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

type NetworkStatus int

const (
	NetworkUnknown NetworkStatus = iota
	NetworkCorrect
	NetworkIncorrect
)

func (s NetworkStatus) String() string {
	switch s {
	case NetworkCorrect:
		return "correct"
	case NetworkIncorrect:
		return "incorrect"
	}
	return "unknown"
}

// NetworkState is Unknown, Correct, or Incorrect with the offending chain.
type NetworkState struct {
	Status  NetworkStatus
	ChainID uint64
}

func (n NetworkState) String() string {
	if n.Status == NetworkIncorrect {
		return fmt.Sprintf("incorrect(%s)", network.HexID(n.ChainID))
	}
	return n.Status.String()
}

// State is the guard's full view. Values are snapshots; the guard replaces
// its state through the transition methods below, never in place.
type State struct {
	Connection Connection
	Account    string
	Network    NetworkState
}

func (s State) connecting() State {
	if s.Connection == Connected {
		return s
	}
	s.Connection = Connecting
	return s
}

func (s State) withAccount(account string) State {
	if account == "" {
		s.Connection = Disconnected
		s.Account = ""
		return s
	}
	s.Connection = Connected
	s.Account = account
	return s
}

func (s State) connectFailed() State {
	if s.Account != "" {
		s.Connection = Connected
		return s
	}
	s.Connection = Disconnected
	return s
}

// withChain recomputes the network axis and leaves the account alone.
func (s State) withChain(target network.Descriptor, chainID uint64) State {
	if target.Matches(chainID) {
		s.Network = NetworkState{Status: NetworkCorrect, ChainID: chainID}
	} else {
		s.Network = NetworkState{Status: NetworkIncorrect, ChainID: chainID}
	}
	return s
}

// Decision is the guard's verdict on a mutating workflow.
type Decision struct {
	Allowed bool
	// Reason is nil when Allowed.
	Reason error
}

// Decide is the pure precondition check for mint and update.
func (s State) Decide() Decision {
	if s.Connection != Connected || s.Account == "" {
		return Decision{Reason: pnserr.ErrNotConnected}
	}
	switch s.Network.Status {
	case NetworkCorrect:
		return Decision{Allowed: true}
	case NetworkIncorrect:
		return Decision{Reason: fmt.Errorf("%w: on chain %s", pnserr.ErrWrongNetwork, network.HexID(s.Network.ChainID))}
	}
	return Decision{Reason: fmt.Errorf("%w: network unknown", pnserr.ErrWrongNetwork)}
}

// CacheTrusted reports whether the registry snapshot may be shown as current.
func (s State) CacheTrusted() bool {
	return s.Network.Status == NetworkCorrect
}
