package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pns/internal/config"
	"pns/internal/network"
	"pns/internal/notify"
	"pns/internal/orchestrator"
	"pns/internal/pnserr"
	"pns/internal/registry"
	"pns/internal/snapshot"
	"pns/internal/wallet"
)

const user = "0x00000000000000000000000000000000000000aa"

type recordingObserver struct {
	mu        sync.Mutex
	workflows []string
	refreshes []bool
	blocked   []string
}

func (r *recordingObserver) ObserveWorkflow(workflow string, outcome orchestrator.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows = append(r.workflows, workflow+":"+outcome.String())
}

func (r *recordingObserver) ObserveRefresh(ok bool, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes = append(r.refreshes, ok)
}

func (r *recordingObserver) ObserveBlocked(workflow string, reason pnserr.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked = append(r.blocked, workflow+":"+string(reason))
}

func testConfig() *config.AppConfig {
	cfg := &config.AppConfig{Network: network.Mumbai}
	cfg.Deployment.Contracts.Registry = config.DefaultRegistryAddress
	cfg.Service.RefreshDelay = 10 * time.Millisecond
	cfg.Service.FetchConcurrency = 4
	return cfg
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	wallet   *wallet.MemoryProvider
	gateway  *registry.FakeGateway
	recorder *notify.Recorder
	observer *recordingObserver
	app      *App
}

func newHarness(t *testing.T, chain uint64) *harness {
	t.Helper()
	w := wallet.NewMemoryProvider(user, chain, network.Mumbai)
	h := &harness{
		wallet:   w,
		gateway:  registry.NewFakeGateway(w, config.DefaultRegistryAddress),
		recorder: &notify.Recorder{},
		observer: &recordingObserver{},
	}
	a, err := New(context.Background(), testConfig(),
		WithLogger(quiet()),
		WithNotifier(h.recorder),
		WithObserver(h.observer),
		WithGateway(h.gateway),
		WithStore(snapshot.NewMemoryStore()),
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	h.app = a
	return h
}

func TestMintBlockedOnWrongNetwork(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	require.NoError(t, h.app.Start(ctx))
	_, err := h.app.Connect(ctx)
	require.NoError(t, err)

	res, err := h.app.Mint(ctx, "ab", "hello")
	require.ErrorIs(t, err, pnserr.ErrWrongNetwork)
	assert.Equal(t, orchestrator.OutcomeBlocked, res.Outcome)

	res, err = h.app.Update(ctx, "ab", "hello")
	require.ErrorIs(t, err, pnserr.ErrWrongNetwork)
	assert.Equal(t, orchestrator.OutcomeBlocked, res.Outcome)

	assert.Empty(t, h.gateway.Calls())
	assert.NotContains(t, h.wallet.Calls(), "signTx")
	assert.Equal(t, []notify.Kind{notify.NetworkSwitchPrompt, notify.NetworkSwitchPrompt}, h.recorder.Kinds())
	assert.Equal(t, []string{"mint:wrong_network", "update:wrong_network"}, h.observer.blocked)
	assert.Empty(t, h.observer.workflows)
}

func TestMintBlockedWhenDisconnected(t *testing.T) {
	h := newHarness(t, network.Mumbai.MustID())

	_, err := h.app.Mint(context.Background(), "ab", "hello")
	require.ErrorIs(t, err, pnserr.ErrNotConnected)
	assert.Empty(t, h.gateway.Calls())
}

func TestUpdateEmptyInputsSkipsGuard(t *testing.T) {
	h := newHarness(t, 1)

	res, err := h.app.Update(context.Background(), "", "value")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomeNoop, res.Outcome)
	assert.Empty(t, h.recorder.Events())
	assert.Empty(t, h.observer.blocked)
}

func TestMintThenViewOwnedEntry(t *testing.T) {
	h := newHarness(t, network.Mumbai.MustID())
	ctx := context.Background()
	require.NoError(t, h.app.Start(ctx))
	_, err := h.app.Connect(ctx)
	require.NoError(t, err)

	res, err := h.app.Mint(ctx, "ab", "hello")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomeSucceeded, res.Outcome)

	require.Eventually(t, func() bool { return len(h.app.View().Entries) == 1 }, time.Second, 5*time.Millisecond)
	v := h.app.View()
	assert.False(t, v.Stale)
	assert.True(t, v.Entries[0].Editable)
	assert.Equal(t, "hello", v.Entries[0].Record)

	st := h.app.Status()
	assert.Equal(t, "connected", st.Connection)
	assert.Equal(t, "correct", st.Network)
	assert.Equal(t, "0x13881", st.ChainID)
	assert.Equal(t, network.Mumbai.ChainName, st.ChainName)
	assert.Equal(t, orchestrator.Form{}, st.Form)
	assert.Contains(t, h.observer.workflows, "mint:succeeded")
}

func TestSwitchingOntoRegistryNetworkRefreshes(t *testing.T) {
	h := newHarness(t, 1)
	h.gateway.Seed("potato", user, "tasty")
	ctx := context.Background()

	require.NoError(t, h.app.Start(ctx))
	_, err := h.app.Connect(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.app.View().Entries)
	assert.True(t, h.app.View().Stale)
	assert.Equal(t, "Mainnet", h.app.Status().ChainName)

	require.NoError(t, h.app.SwitchNetwork(ctx))

	require.Eventually(t, func() bool { return len(h.app.View().Entries) == 1 }, time.Second, 5*time.Millisecond)
	v := h.app.View()
	assert.False(t, v.Stale)
	assert.True(t, v.Entries[0].Editable)
	assert.Equal(t, user, h.app.Status().Account)
}

func TestWithoutWallet(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), WithLogger(quiet()))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Start(ctx))
	assert.Nil(t, a.Gateway())

	_, err = a.Connect(ctx)
	assert.ErrorIs(t, err, pnserr.ErrProviderMissing)
	assert.ErrorIs(t, a.Refresh(ctx), pnserr.ErrFetchFailed)
	assert.ErrorIs(t, a.PingRPC(ctx), pnserr.ErrProviderMissing)
	assert.NoError(t, a.PingStore(ctx))
	assert.Equal(t, "disconnected", a.Status().Connection)
}

func TestDryRunUsesMemoryLedger(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), WithLogger(quiet()), WithDryRun(true))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Start(ctx))
	account, err := a.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, DryRunAccount, account)

	_, err = a.Mint(ctx, "abc", "r")
	require.NoError(t, err)
	require.NoError(t, a.Refresh(ctx))
	assert.Len(t, a.View().Entries, 1)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	store, err := OpenStore(ctx, config.SnapshotConfig{})
	require.NoError(t, err)
	assert.IsType(t, &snapshot.MemoryStore{}, store)

	store, err = OpenStore(ctx, config.SnapshotConfig{Path: filepath.Join(t.TempDir(), "snap.json")})
	require.NoError(t, err)
	assert.IsType(t, &snapshot.FileStore{}, store)

	_, err = OpenStore(ctx, config.SnapshotConfig{RedisURL: "bogus://"})
	assert.Error(t, err)
}

func TestQuote(t *testing.T) {
	price, wei, err := Quote("ab")
	require.NoError(t, err)
	assert.Equal(t, "0.3", price)
	assert.Equal(t, "300000000000000000", wei.String())

	_, _, err = Quote("abcdefghijk")
	assert.ErrorIs(t, err, pnserr.ErrInvalidDomainLength)
}
