// Package app builds the object graph shared by the CLI and the local API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/keystore"

	"pns/internal/cache"
	"pns/internal/config"
	"pns/internal/guard"
	"pns/internal/network"
	"pns/internal/notify"
	"pns/internal/orchestrator"
	"pns/internal/pnserr"
	"pns/internal/registry"
	"pns/internal/snapshot"
	"pns/internal/wallet"
)

// DryRunAccount is the account the in-memory wallet hands out.
const DryRunAccount = "0x000000000000000000000000000000000000d00d"

// Observer receives workflow, refresh and guard outcomes. The API's
// Prometheus registry implements it.
type Observer interface {
	orchestrator.Observer
	cache.Observer
	ObserveBlocked(workflow string, reason pnserr.Kind)
}

type App struct {
	cfg      *config.AppConfig
	logger   *slog.Logger
	observer Observer

	gateway registry.Gateway
	store   snapshot.Store
	guard   *guard.Guard
	cache   *cache.Cache
	orch    *orchestrator.Orchestrator
}

type options struct {
	logger   *slog.Logger
	notifier notify.Sink
	observer Observer
	prompter wallet.Prompter
	gateway  registry.Gateway
	store    snapshot.Store
	dryRun   bool
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithNotifier(sink notify.Sink) Option {
	return func(o *options) { o.notifier = sink }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithPrompter sets how the keystore wallet asks its human for approval.
func WithPrompter(p wallet.Prompter) Option {
	return func(o *options) { o.prompter = p }
}

// WithGateway replaces the wallet and registry built from configuration.
func WithGateway(gw registry.Gateway) Option {
	return func(o *options) { o.gateway = gw }
}

// WithStore replaces the snapshot store built from configuration.
func WithStore(store snapshot.Store) Option {
	return func(o *options) { o.store = store }
}

// WithDryRun uses an in-memory wallet and ledger instead of the chain.
func WithDryRun(enabled bool) Option {
	return func(o *options) { o.dryRun = enabled }
}

// New wires the guard, cache and orchestrator. Nothing touches the wallet
// until Start.
func New(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	o := options{
		logger:   slog.Default(),
		notifier: notify.Discard,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = notify.Discard
	}

	a := &App{cfg: cfg, logger: o.logger, observer: o.observer}

	gw, err := buildGateway(cfg, o)
	if err != nil {
		return nil, err
	}
	a.gateway = gw

	a.store = o.store
	if a.store == nil {
		store, err := OpenStore(ctx, cfg.Snapshot)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	// A nil interface, not a typed nil, tells the guard no wallet exists.
	var provider wallet.Provider
	var reader registry.Reader = unavailable{}
	var transactor registry.Transactor = unavailable{}
	if gw != nil {
		provider, reader, transactor = gw, gw, gw
	}

	g, err := guard.New(provider, cfg.Network, guard.WithLogger(o.logger), guard.WithNotifier(o.notifier))
	if err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}
	a.guard = g

	cacheOpts := []cache.Option{
		cache.WithLogger(o.logger),
		cache.WithStore(a.store),
		cache.WithConcurrency(cfg.Service.FetchConcurrency),
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(o.logger),
		orchestrator.WithNotifier(o.notifier),
		orchestrator.WithRefreshDelay(cfg.Service.RefreshDelay),
	}
	if o.observer != nil {
		cacheOpts = append(cacheOpts, cache.WithObserver(o.observer))
		orchOpts = append(orchOpts, orchestrator.WithObserver(o.observer))
	}
	a.cache = cache.New(reader, cfg.Network, cfg.RegistryAddress(), cacheOpts...)
	a.orch = orchestrator.New(g, transactor, a.cache, cfg.Network, orchOpts...)
	return a, nil
}

func buildGateway(cfg *config.AppConfig, o options) (registry.Gateway, error) {
	if o.gateway != nil {
		return o.gateway, nil
	}
	if o.dryRun {
		mem := wallet.NewMemoryProvider(DryRunAccount, cfg.Network.MustID(), cfg.Network)
		return registry.NewFakeGateway(mem, cfg.RegistryAddress()), nil
	}
	if cfg.Wallet.KeystoreDir == "" {
		o.logger.Info("no keystore configured; wallet unavailable")
		return nil, nil
	}

	prompter := o.prompter
	if prompter == nil {
		prompter = wallet.NewTerminalPrompter()
	}
	ks := keystore.NewKeyStore(cfg.Wallet.KeystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)
	prov, err := wallet.NewKeystoreProvider(ks, prompter, []network.Descriptor{cfg.Network}, wallet.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("keystore wallet: %w", err)
	}
	gw, err := registry.NewEthGateway(prov, registry.EthGatewayConfig{
		RegistryAddress:     cfg.RegistryAddress(),
		ReceiptPollInterval: cfg.Service.ReceiptPoll,
	})
	if err != nil {
		return nil, fmt.Errorf("registry gateway: %w", err)
	}
	return gw, nil
}

// Start adopts an already authorised account, seeds the cache from the last
// snapshot and refreshes it when the wallet is on the registry network.
// From then on every transition onto the registry network refreshes again.
func (a *App) Start(ctx context.Context) error {
	if err := a.guard.CheckConnected(ctx); err != nil && !errors.Is(err, pnserr.ErrProviderMissing) {
		a.logger.Warn("check wallet connection", "error", err)
	}
	if err := a.cache.Seed(ctx); err != nil {
		a.logger.Warn("seed registry cache", "error", err)
	}
	a.guard.OnChange(a.onGuardChange)

	if a.guard.State().CacheTrusted() {
		return a.cache.Refresh(ctx)
	}
	return nil
}

func (a *App) onGuardChange(prev, next guard.State) {
	a.logger.Debug("guard state changed",
		"connection", next.Connection.String(),
		"account", next.Account,
		"network", next.Network.String(),
	)
	if next.Network.Status != guard.NetworkCorrect {
		return
	}
	if prev.Network.Status != guard.NetworkCorrect || prev.Account != next.Account {
		a.cache.ScheduleRefresh(0)
	}
}

func (a *App) Connect(ctx context.Context) (string, error) {
	return a.guard.Connect(ctx)
}

func (a *App) SwitchNetwork(ctx context.Context) error {
	return a.guard.EnsureCorrectNetwork(ctx)
}

// Mint runs the mint workflow if the guard allows it.
func (a *App) Mint(ctx context.Context, domain, record string) (orchestrator.Result, error) {
	if err := a.authorize(ctx, orchestrator.WorkflowMint); err != nil {
		return blocked(orchestrator.WorkflowMint, domain, record, err), err
	}
	return a.orch.Mint(ctx, domain, record)
}

// Update runs the update workflow if the guard allows it. Empty inputs are a
// no-op before the guard is consulted.
func (a *App) Update(ctx context.Context, domain, record string) (orchestrator.Result, error) {
	if domain == "" || record == "" {
		return orchestrator.Result{Workflow: orchestrator.WorkflowUpdate, Domain: domain, Record: record}, nil
	}
	if err := a.authorize(ctx, orchestrator.WorkflowUpdate); err != nil {
		return blocked(orchestrator.WorkflowUpdate, domain, record, err), err
	}
	return a.orch.Update(ctx, domain, record)
}

func (a *App) authorize(ctx context.Context, workflow string) error {
	err := a.guard.Authorize(ctx)
	if err != nil {
		a.logger.Info("workflow blocked by guard", "workflow", workflow, "reason", err)
		if a.observer != nil {
			a.observer.ObserveBlocked(workflow, pnserr.KindOf(err))
		}
	}
	return err
}

func blocked(workflow, domain, record string, err error) orchestrator.Result {
	return orchestrator.Result{
		Workflow: workflow,
		Domain:   domain,
		Record:   record,
		Outcome:  orchestrator.OutcomeBlocked,
		Err:      err,
	}
}

func (a *App) Refresh(ctx context.Context) error {
	return a.cache.Refresh(ctx)
}

func (a *App) View() cache.View {
	st := a.guard.State()
	return a.cache.View(st.Account, st.Network)
}

// Status is the guard and form state as shown to the user.
type Status struct {
	Connection string            `json:"connection"`
	Account    string            `json:"account,omitempty"`
	Network    string            `json:"network"`
	ChainID    string            `json:"chainId,omitempty"`
	ChainName  string            `json:"chainName,omitempty"`
	Target     string            `json:"target"`
	Registry   string            `json:"registry"`
	Form       orchestrator.Form `json:"form"`
}

func (a *App) Status() Status {
	st := a.guard.State()
	s := Status{
		Connection: st.Connection.String(),
		Account:    st.Account,
		Network:    st.Network.String(),
		Target:     a.cfg.Network.ChainName,
		Registry:   a.cfg.RegistryAddress(),
		Form:       a.orch.Form(),
	}
	if st.Network.Status != guard.NetworkUnknown {
		s.ChainID = network.HexID(st.Network.ChainID)
		s.ChainName = network.NameOf(st.Network.ChainID)
		if a.cfg.Network.Matches(st.Network.ChainID) {
			s.ChainName = a.cfg.Network.ChainName
		}
	}
	return s
}

// Orchestrator exposes the form operations.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Quote returns the price of domain in native currency and in wei.
func (a *App) Quote(domain string) (string, *big.Int, error) {
	return Quote(domain)
}

// PingRPC probes the node behind the wallet; nil when there is nothing to
// probe.
func (a *App) PingRPC(ctx context.Context) error {
	if a.gateway == nil {
		return pnserr.ErrProviderMissing
	}
	if hc, ok := a.gateway.(registry.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

func (a *App) PingStore(ctx context.Context) error {
	if p, ok := a.store.(snapshot.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Gateway is nil when no wallet is configured.
func (a *App) Gateway() registry.Gateway {
	return a.gateway
}

func (a *App) Close() {
	a.guard.Close()
	a.cache.Close()
	switch s := a.store.(type) {
	case *snapshot.PostgresStore:
		s.Close()
	case *snapshot.RedisStore:
		if err := s.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
}
