package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"pns/internal/network"
)

// MemoryProvider is a scripted wallet for tests and dry runs. The Reject*
// fields decide how the simulated human answers each prompt.
type MemoryProvider struct {
	mu sync.Mutex

	Account string
	Chain   uint64
	Known   map[uint64]network.Descriptor

	RejectAccounts bool
	RejectSwitch   bool
	RejectAdd      bool
	RejectSign     bool

	authorized bool
	handlers   map[int]func(uint64)
	nextID     int
	calls      []string
}

// NewMemoryProvider starts on chain with no account authorised yet.
func NewMemoryProvider(account string, chain uint64, known ...network.Descriptor) *MemoryProvider {
	m := &MemoryProvider{
		Account:  account,
		Chain:    chain,
		Known:    make(map[uint64]network.Descriptor),
		handlers: make(map[int]func(uint64)),
	}
	for _, d := range known {
		m.Known[d.MustID()] = d
	}
	return m
}

// Authorize marks the account as already connected, as if approved in an
// earlier session.
func (m *MemoryProvider) Authorize() {
	m.mu.Lock()
	m.authorized = true
	m.mu.Unlock()
}

// Calls lists the provider methods invoked so far, in order.
func (m *MemoryProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MemoryProvider) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *MemoryProvider) RequestAccounts(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("requestAccounts")
	if m.RejectAccounts {
		return nil, rejected("account access")
	}
	m.authorized = true
	return []string{m.Account}, nil
}

func (m *MemoryProvider) Accounts(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("accounts")
	if !m.authorized {
		return nil, nil
	}
	return []string{m.Account}, nil
}

func (m *MemoryProvider) ChainID(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("chainId")
	return m.Chain, nil
}

func (m *MemoryProvider) SwitchChain(_ context.Context, chainID uint64) error {
	m.mu.Lock()
	m.record("switchChain")
	if _, ok := m.Known[chainID]; !ok {
		m.mu.Unlock()
		return unrecognized(chainID)
	}
	if m.RejectSwitch {
		m.mu.Unlock()
		return rejected("network switch")
	}
	m.mu.Unlock()
	m.SetChain(chainID)
	return nil
}

func (m *MemoryProvider) AddChain(_ context.Context, d network.Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("addChain")
	if err := d.Validate(); err != nil {
		return err
	}
	if m.RejectAdd {
		return rejected("add network")
	}
	m.Known[d.MustID()] = d
	return nil
}

func (m *MemoryProvider) OnChainChanged(handler func(chainID uint64)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

// SetChain simulates the human switching networks inside the wallet.
func (m *MemoryProvider) SetChain(chainID uint64) {
	m.mu.Lock()
	changed := m.Chain != chainID
	m.Chain = chainID
	handlers := make([]func(uint64), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	for _, h := range handlers {
		h(chainID)
	}
}

func (m *MemoryProvider) Backend(context.Context) (Backend, error) {
	return nil, fmt.Errorf("memory wallet has no rpc backend")
}

// SignTx returns tx unchanged once the simulated human approves it.
func (m *MemoryProvider) SignTx(_ context.Context, from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("signTx")
	if !m.authorized || !strings.EqualFold(from.Hex(), m.Account) {
		return nil, &RPCError{Code: CodeUnauthorized, Message: "account " + from.Hex() + " is not authorised"}
	}
	if m.RejectSign {
		return nil, rejected("transaction")
	}
	return tx, nil
}
