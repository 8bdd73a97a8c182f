package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"pns/internal/network"
	"pns/internal/pnserr"
	"pns/internal/pricing"
)

// DialFunc opens an RPC backend for a chain.
type DialFunc func(ctx context.Context, rawURL string) (Backend, error)

func dialEthclient(ctx context.Context, rawURL string) (Backend, error) {
	cli, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return cli, nil
}

// KeystoreProvider is a local wallet backed by an encrypted go-ethereum
// keystore. Every access, network change and signature is confirmed through
// its Prompter.
type KeystoreProvider struct {
	ks       *keystore.KeyStore
	prompter Prompter
	dial     DialFunc
	logger   *slog.Logger

	mu         sync.Mutex
	chains     map[uint64]network.Descriptor
	current    uint64
	authorized []accounts.Account
	backends   map[uint64]Backend
	handlers   map[int]func(uint64)
	nextID     int
}

type KeystoreOption func(*KeystoreProvider)

func WithDialer(dial DialFunc) KeystoreOption {
	return func(p *KeystoreProvider) { p.dial = dial }
}

func WithLogger(logger *slog.Logger) KeystoreOption {
	return func(p *KeystoreProvider) { p.logger = logger }
}

// NewKeystoreProvider starts on the first known chain. Further chains can be
// added at runtime through AddChain.
func NewKeystoreProvider(ks *keystore.KeyStore, prompter Prompter, known []network.Descriptor, opts ...KeystoreOption) (*KeystoreProvider, error) {
	if ks == nil {
		return nil, fmt.Errorf("keystore is required")
	}
	if prompter == nil {
		return nil, fmt.Errorf("prompter is required")
	}
	if len(known) == 0 {
		return nil, fmt.Errorf("at least one known chain is required")
	}

	p := &KeystoreProvider{
		ks:       ks,
		prompter: prompter,
		dial:     dialEthclient,
		logger:   slog.Default(),
		chains:   make(map[uint64]network.Descriptor),
		backends: make(map[uint64]Backend),
		handlers: make(map[int]func(uint64)),
	}
	for i, d := range known {
		id, err := d.ID()
		if err != nil {
			return nil, err
		}
		if i == 0 {
			p.current = id
		}
		p.chains[id] = d
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *KeystoreProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	if existing, _ := p.Accounts(ctx); len(existing) > 0 {
		return existing, nil
	}

	all := p.ks.Accounts()
	if len(all) == 0 {
		return nil, fmt.Errorf("keystore holds no accounts: %w", pnserr.ErrProviderMissing)
	}
	acc := all[0]

	ok, err := p.prompter.Confirm(ctx, fmt.Sprintf("Connect account %s?", acc.Address.Hex()))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rejected("account access")
	}

	pass, err := p.prompter.Passphrase(ctx, "Passphrase for "+acc.Address.Hex())
	if err != nil {
		return nil, err
	}
	if err := p.ks.Unlock(acc, pass); err != nil {
		return nil, fmt.Errorf("unlock account: %w", err)
	}

	p.mu.Lock()
	p.authorized = []accounts.Account{acc}
	p.mu.Unlock()

	p.logger.Info("account authorised", "account", acc.Address.Hex())
	return []string{acc.Address.Hex()}, nil
}

func (p *KeystoreProvider) Accounts(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.authorized))
	for _, a := range p.authorized {
		out = append(out, a.Address.Hex())
	}
	return out, nil
}

// ChainID reports the chain the selected network's RPC node actually serves,
// which is not necessarily the chain it was configured as.
func (p *KeystoreProvider) ChainID(ctx context.Context) (uint64, error) {
	b, err := p.Backend(ctx)
	if err != nil {
		return 0, err
	}
	return servedChain(ctx, b)
}

func servedChain(ctx context.Context, b Backend) (uint64, error) {
	id, err := b.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("read chain id: %w", err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id %s out of range", id)
	}
	return id.Uint64(), nil
}

func (p *KeystoreProvider) SwitchChain(ctx context.Context, chainID uint64) error {
	p.mu.Lock()
	d, known := p.chains[chainID]
	current := p.current
	p.mu.Unlock()

	if !known {
		return unrecognized(chainID)
	}

	b, err := p.backendFor(ctx, chainID)
	if err != nil {
		return err
	}
	served, err := servedChain(ctx, b)
	if err != nil {
		return err
	}
	if served != chainID {
		return fmt.Errorf("rpc %s for %s serves chain %s", d.RPCURL(), d.ChainName, network.HexID(served))
	}
	if current == chainID {
		return nil
	}

	ok, err := p.prompter.Confirm(ctx, fmt.Sprintf("Switch network to %s?", d.ChainName))
	if err != nil {
		return err
	}
	if !ok {
		return rejected("network switch")
	}

	p.mu.Lock()
	p.current = chainID
	handlers := make([]func(uint64), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	p.logger.Info("chain switched", "chain_id", network.HexID(chainID), "name", d.ChainName)
	for _, h := range handlers {
		h(chainID)
	}
	return nil
}

func (p *KeystoreProvider) AddChain(ctx context.Context, d network.Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("add chain: %w", err)
	}
	id := d.MustID()

	ok, err := p.prompter.Confirm(ctx, fmt.Sprintf("Add network %s (%s) using %s?", d.ChainName, d.ChainID, d.RPCURL()))
	if err != nil {
		return err
	}
	if !ok {
		return rejected("add network")
	}

	p.mu.Lock()
	p.chains[id] = d
	delete(p.backends, id)
	p.mu.Unlock()
	return nil
}

func (p *KeystoreProvider) OnChainChanged(handler func(chainID uint64)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = handler
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

// Backend returns an RPC client for the current chain, dialling on first use.
func (p *KeystoreProvider) Backend(ctx context.Context) (Backend, error) {
	p.mu.Lock()
	id := p.current
	p.mu.Unlock()
	return p.backendFor(ctx, id)
}

func (p *KeystoreProvider) backendFor(ctx context.Context, id uint64) (Backend, error) {
	p.mu.Lock()
	if b, ok := p.backends[id]; ok {
		p.mu.Unlock()
		return b, nil
	}
	url := p.chains[id].RPCURL()
	p.mu.Unlock()

	b, err := p.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", url, err)
	}

	p.mu.Lock()
	p.backends[id] = b
	p.mu.Unlock()
	return b, nil
}

func (p *KeystoreProvider) SignTx(ctx context.Context, from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	p.mu.Lock()
	var acc *accounts.Account
	for i := range p.authorized {
		if p.authorized[i].Address == from {
			acc = &p.authorized[i]
		}
	}
	chainID := new(big.Int).SetUint64(p.current)
	symbol := p.chains[p.current].NativeCurrency.Symbol
	p.mu.Unlock()

	if acc == nil {
		return nil, &RPCError{Code: CodeUnauthorized, Message: "account " + from.Hex() + " is not authorised"}
	}

	to := "contract creation"
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	msg := fmt.Sprintf("Sign transaction to %s paying %s %s?", to, pricing.FromWei(tx.Value()), strings.TrimSpace(symbol))
	ok, err := p.prompter.Confirm(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rejected("transaction")
	}
	return p.ks.SignTx(*acc, tx, chainID)
}
