package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"pns/internal/network"
	"pns/internal/notify"
	"pns/internal/pnserr"
	"pns/internal/wallet"
)

// ChangeHandler observes guard transitions.
type ChangeHandler func(prev, next State)

// Guard tracks wallet connection and network correctness. It is the single
// writer of the account and network state; everyone else reads snapshots.
type Guard struct {
	provider wallet.Provider
	target   network.Descriptor
	targetID uint64
	notifier notify.Sink
	logger   *slog.Logger

	mu          sync.RWMutex
	state       State
	onChange    ChangeHandler
	unsubscribe func()
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

func WithNotifier(sink notify.Sink) Option {
	return func(g *Guard) { g.notifier = sink }
}

// New builds a guard for target. A nil provider means no wallet is installed;
// every prompting call then fails with ErrProviderMissing.
func New(provider wallet.Provider, target network.Descriptor, opts ...Option) (*Guard, error) {
	id, err := target.ID()
	if err != nil {
		return nil, err
	}
	g := &Guard{
		provider: provider,
		target:   target,
		targetID: id,
		notifier: notify.Discard,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Guard) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Guard) NetworkState() NetworkState {
	return g.State().Network
}

func (g *Guard) Account() string {
	return g.State().Account
}

func (g *Guard) Target() network.Descriptor {
	return g.target
}

// OnChange registers the single transition handler, replacing any previous
// one.
func (g *Guard) OnChange(h ChangeHandler) {
	g.mu.Lock()
	g.onChange = h
	g.mu.Unlock()
}

// CheckConnected adopts an already authorised account and the current chain
// without prompting, then starts following chain changes.
func (g *Guard) CheckConnected(ctx context.Context) error {
	if g.provider == nil {
		g.logger.Info("no wallet provider found")
		return pnserr.ErrProviderMissing
	}

	accounts, err := g.provider.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("read accounts: %w", err)
	}
	if len(accounts) > 0 {
		g.logger.Info("authorised account found", "account", accounts[0])
		g.transition(func(s State) State { return s.withAccount(accounts[0]) })
	} else {
		g.logger.Info("no authorised account found")
	}

	g.subscribe()
	return g.refreshChain(ctx)
}

// Connect asks the wallet for account access.
func (g *Guard) Connect(ctx context.Context) (string, error) {
	if g.provider == nil {
		g.notifier.Notify(ctx, notify.Event{
			Kind:    notify.ProviderMissing,
			Title:   "Wallet Not Found",
			Message: "No wallet provider is configured.",
			Err:     pnserr.ErrProviderMissing,
		})
		return "", pnserr.ErrProviderMissing
	}

	g.transition(State.connecting)

	accounts, err := g.provider.RequestAccounts(ctx)
	if err == nil && len(accounts) == 0 {
		err = fmt.Errorf("wallet returned no accounts: %w", pnserr.ErrProviderMissing)
	}
	if err != nil {
		g.transition(State.connectFailed)
		kind := notify.GenericError
		if errors.Is(err, pnserr.ErrProviderMissing) {
			kind = notify.ProviderMissing
		}
		g.notifier.Notify(ctx, notify.Event{Kind: kind, Title: "App Error", Message: err.Error(), Err: err})
		return "", fmt.Errorf("connect: %w", err)
	}

	g.logger.Info("account authorised", "account", accounts[0])
	g.transition(func(s State) State { return s.withAccount(accounts[0]) })
	g.subscribe()

	if g.NetworkState().Status == NetworkUnknown {
		if err := g.refreshChain(ctx); err != nil {
			g.logger.Warn("read chain id after connect", "error", err)
		}
	}
	return accounts[0], nil
}

// EnsureCorrectNetwork switches the wallet to the target chain, adding the
// chain first if the wallet does not know it. Failures are also notified.
func (g *Guard) EnsureCorrectNetwork(ctx context.Context) error {
	if g.NetworkState().Status == NetworkCorrect {
		return nil
	}
	err := g.switchToTarget(ctx)
	if err == nil {
		return nil
	}

	g.logger.Warn("network switch failed", "error", err)
	kind := notify.GenericError
	if errors.Is(err, pnserr.ErrProviderMissing) {
		kind = notify.ProviderMissing
	}
	g.notifier.Notify(ctx, notify.Event{
		Kind:    kind,
		Title:   "Network Switch Failed",
		Message: err.Error(),
		Err:     err,
	})
	return err
}

func (g *Guard) switchToTarget(ctx context.Context) error {
	if g.provider == nil {
		return pnserr.ErrProviderMissing
	}

	err := g.provider.SwitchChain(ctx, g.targetID)
	if errors.Is(err, wallet.ErrUnrecognizedChain) {
		g.logger.Info("target chain unknown to wallet, adding it", "chain", g.target.ChainName)
		if addErr := g.provider.AddChain(ctx, g.target); addErr != nil {
			return switchFailed(addErr)
		}
		err = g.provider.SwitchChain(ctx, g.targetID)
	}
	if err != nil {
		return switchFailed(err)
	}
	return g.refreshChain(ctx)
}

func switchFailed(err error) error {
	if errors.Is(err, pnserr.ErrUserRejected) {
		return fmt.Errorf("%w: %w", pnserr.ErrNetworkSwitchDenied, err)
	}
	return fmt.Errorf("switch network: %w", err)
}

// Authorize is the gate in front of every mutating workflow. A blocked call
// offers only the network switch prompt.
func (g *Guard) Authorize(ctx context.Context) error {
	d := g.State().Decide()
	if d.Allowed {
		return nil
	}
	if errors.Is(d.Reason, pnserr.ErrWrongNetwork) {
		g.notifier.Notify(ctx, notify.Event{
			Kind:    notify.NetworkSwitchPrompt,
			Title:   "Wrong Network",
			Message: fmt.Sprintf("Please connect to the %s.", g.target.ChainName),
			Err:     d.Reason,
		})
	}
	return d.Reason
}

// Close stops following chain changes.
func (g *Guard) Close() {
	g.mu.Lock()
	unsub := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (g *Guard) subscribe() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unsubscribe != nil || g.provider == nil {
		return
	}
	g.unsubscribe = g.provider.OnChainChanged(g.handleChainChanged)
}

// handleChainChanged recomputes the network axis in place and keeps the
// account.
func (g *Guard) handleChainChanged(chainID uint64) {
	g.logger.Info("chain changed", "chain_id", network.HexID(chainID))
	g.transition(func(s State) State { return s.withChain(g.target, chainID) })
}

func (g *Guard) refreshChain(ctx context.Context) error {
	id, err := g.provider.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	g.transition(func(s State) State { return s.withChain(g.target, id) })
	return nil
}

func (g *Guard) transition(fn func(State) State) {
	g.mu.Lock()
	prev := g.state
	next := fn(prev)
	g.state = next
	h := g.onChange
	g.mu.Unlock()

	if h != nil && prev != next {
		h(prev, next)
	}
}
