package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pns/internal/network"
	"pns/internal/notify"
	"pns/internal/pnserr"
	"pns/internal/registry"
	"pns/internal/wallet"
)

const (
	account  = "0x00000000000000000000000000000000000000aa"
	stranger = "0x00000000000000000000000000000000000000bb"
	contract = "0x56d04eC782E8F324f6515868c1065A5efd70AB16"
)

type fixedAccount string

func (a fixedAccount) Account() string { return string(a) }

type refresherMock struct{ mock.Mock }

func (m *refresherMock) ScheduleRefresh(d time.Duration) { m.Called(d) }

type outcomeLog struct {
	mu  sync.Mutex
	got []string
}

func (l *outcomeLog) ObserveWorkflow(workflow string, outcome Outcome) {
	l.mu.Lock()
	l.got = append(l.got, workflow+":"+outcome.String())
	l.mu.Unlock()
}

type fixture struct {
	wallet   *wallet.MemoryProvider
	chain    *registry.FakeGateway
	cache    *refresherMock
	recorder *notify.Recorder
	outcomes *outcomeLog
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	w := wallet.NewMemoryProvider(account, network.Mumbai.MustID(), network.Mumbai)
	w.Authorize()
	f := &fixture{
		wallet:   w,
		chain:    registry.NewFakeGateway(w, contract),
		cache:    &refresherMock{},
		recorder: &notify.Recorder{},
		outcomes: &outcomeLog{},
	}
	f.orch = f.build(f.chain)
	return f
}

func (f *fixture) build(chain registry.Transactor) *Orchestrator {
	return New(fixedAccount(account), chain, f.cache, network.Mumbai,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNotifier(f.recorder),
		WithObserver(f.outcomes),
		WithRefreshDelay(2*time.Second),
	)
}

func TestMintTwoLetterDomain(t *testing.T) {
	f := newFixture(t)
	f.cache.On("ScheduleRefresh", 2*time.Second).Once()

	res, err := f.orch.Mint(context.Background(), "ab", "hello")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, "0.3", res.Price)
	assert.True(t, res.Registered())
	assert.Len(t, res.TxHashes(), 2)
	assert.Equal(t, []string{"register:ab", "setRecord:ab"}, f.chain.Calls())
	assert.Equal(t, []notify.Kind{notify.RegistrationSuccess, notify.RecordSetSuccess}, f.recorder.Kinds())
	assert.Equal(t, Form{}, f.orch.Form())
	f.cache.AssertExpectations(t)

	rec, err := f.chain.Record(context.Background(), "ab")
	require.NoError(t, err)
	assert.Equal(t, "hello", rec)
	assert.Equal(t, []string{"mint:succeeded"}, f.outcomes.got)

	events := f.recorder.Events()
	var success notify.Event
	for _, e := range events {
		if e.Kind == notify.RegistrationSuccess {
			success = e
		}
	}
	assert.Equal(t, network.Mumbai.TxURL(res.Steps[2].TxHash), success.Link)
}

func TestMintRevertedRegistrationStops(t *testing.T) {
	f := newFixture(t)
	f.chain.RevertRegister = func(name string) bool { return name == "x" }

	res, err := f.orch.Mint(context.Background(), "x", "r")
	require.ErrorIs(t, err, pnserr.ErrRegistrationReverted)

	assert.Equal(t, OutcomeRegistrationFailed, res.Outcome)
	assert.False(t, res.Registered())
	assert.Equal(t, []string{"register:x"}, f.chain.Calls())
	assert.Equal(t, []notify.Kind{notify.RegistrationFailure}, f.recorder.Kinds())
	assert.Equal(t, Form{Domain: "x", Record: "r"}, f.orch.Form())
	f.cache.AssertNotCalled(t, "ScheduleRefresh", mock.Anything)
}

func TestMintRejectsInvalidLength(t *testing.T) {
	f := newFixture(t)

	for _, domain := range []string{"", "abcdefghijk"} {
		res, err := f.orch.Mint(context.Background(), domain, "r")
		assert.ErrorIs(t, err, pnserr.ErrInvalidDomainLength)
		assert.Equal(t, OutcomeInvalid, res.Outcome)
	}
	assert.Empty(t, f.chain.Calls())
	assert.Empty(t, f.wallet.Calls())
	assert.Equal(t, []notify.Kind{notify.DomainLengthError, notify.DomainLengthError}, f.recorder.Kinds())
}

func TestMintUserRejectsSignature(t *testing.T) {
	f := newFixture(t)
	f.wallet.RejectSign = true

	res, err := f.orch.Mint(context.Background(), "abc", "r")
	require.ErrorIs(t, err, pnserr.ErrUserRejected)
	assert.Equal(t, pnserr.KindUserRejected, pnserr.KindOf(err))
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Empty(t, f.chain.Calls())
	assert.Equal(t, []notify.Kind{notify.GenericError}, f.recorder.Kinds())
	assert.Equal(t, "abc", f.orch.Form().Domain)
}

func TestMintRecordFailureKeepsRegistration(t *testing.T) {
	f := newFixture(t)
	f.chain.RevertSetRecord = func(string) bool { return true }

	res, err := f.orch.Mint(context.Background(), "abcd", "r")
	require.ErrorIs(t, err, pnserr.ErrRecordSetFailed)

	assert.Equal(t, OutcomeRecordFailed, res.Outcome)
	assert.True(t, res.Registered())
	assert.Equal(t, "0.1", res.Price)
	assert.Equal(t, []notify.Kind{notify.RegistrationSuccess, notify.RecordSetFailure}, f.recorder.Kinds())

	owner, err := f.chain.Owner(context.Background(), "abcd")
	require.NoError(t, err)
	assert.Equal(t, pnserr.KindRecordSetFailed, pnserr.KindOf(res.Err))
	assert.NotEmpty(t, owner)
	f.cache.AssertNotCalled(t, "ScheduleRefresh", mock.Anything)
}

func TestMintNotConnected(t *testing.T) {
	f := newFixture(t)
	orch := New(fixedAccount(""), f.chain, f.cache, network.Mumbai)

	_, err := orch.Mint(context.Background(), "ab", "r")
	assert.ErrorIs(t, err, pnserr.ErrNotConnected)
	assert.Empty(t, f.chain.Calls())
}

func TestUpdateEmptyInputsIsQuiet(t *testing.T) {
	f := newFixture(t)

	for _, in := range [][2]string{{"", "r"}, {"ab", ""}, {"", ""}} {
		res, err := f.orch.Update(context.Background(), in[0], in[1])
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoop, res.Outcome)
	}
	assert.Empty(t, f.chain.Calls())
	assert.Empty(t, f.recorder.Events())
	assert.Empty(t, f.outcomes.got)
	f.cache.AssertNotCalled(t, "ScheduleRefresh", mock.Anything)
}

func TestUpdateOwnedDomain(t *testing.T) {
	f := newFixture(t)
	f.chain.Seed("ab", "0x00000000000000000000000000000000000000AA", "old")
	f.cache.On("ScheduleRefresh", time.Duration(0)).Once()
	f.orch.BeginEdit("ab")

	res, err := f.orch.Update(context.Background(), "ab", "new")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, []notify.Kind{notify.RecordUpdated}, f.recorder.Kinds())
	assert.Equal(t, Form{}, f.orch.Form())
	f.cache.AssertExpectations(t)

	rec, err := f.chain.Record(context.Background(), "ab")
	require.NoError(t, err)
	assert.Equal(t, "new", rec)
}

func TestUpdateForeignDomainFails(t *testing.T) {
	f := newFixture(t)
	f.chain.Seed("ab", stranger, "theirs")
	f.orch.BeginEdit("ab")

	res, err := f.orch.Update(context.Background(), "ab", "mine")
	require.ErrorIs(t, err, pnserr.ErrRecordSetFailed)
	assert.Equal(t, OutcomeRecordFailed, res.Outcome)
	assert.Equal(t, []notify.Kind{notify.RecordSetFailure}, f.recorder.Kinds())
	assert.Equal(t, Form{Domain: "ab", Record: "mine", Editing: true}, f.orch.Form())
}

func TestFormEditing(t *testing.T) {
	f := newFixture(t)
	f.orch.SetInputs("typed", "value")
	f.orch.BeginEdit("ab")
	assert.Equal(t, Form{Domain: "ab", Editing: true}, f.orch.Form())

	f.orch.CancelEdit()
	assert.False(t, f.orch.Form().Editing)
	assert.Equal(t, "ab", f.orch.Form().Domain)
}

// gatedChain holds every confirmation until release is closed.
type gatedChain struct {
	*registry.FakeGateway
	waiting chan struct{}
	release chan struct{}
}

func (g *gatedChain) WaitConfirmation(ctx context.Context, h registry.TxHandle) (registry.Receipt, error) {
	g.waiting <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return registry.Receipt{}, ctx.Err()
	}
	return g.FakeGateway.WaitConfirmation(ctx, h)
}

func TestPendingSlotRejectsSecondWorkflow(t *testing.T) {
	f := newFixture(t)
	gated := &gatedChain{FakeGateway: f.chain, waiting: make(chan struct{}, 4), release: make(chan struct{})}
	orch := f.build(gated)
	f.cache.On("ScheduleRefresh", 2*time.Second).Once()

	done := make(chan error, 1)
	go func() {
		_, err := orch.Mint(context.Background(), "ab", "hello")
		done <- err
	}()
	<-gated.waiting

	p, ok := orch.Pending("AB")
	require.True(t, ok)
	assert.Equal(t, registry.KindRegister, p.Kind)

	res, err := orch.Mint(context.Background(), "AB", "other")
	assert.ErrorIs(t, err, pnserr.ErrWorkflowBusy)
	assert.Equal(t, OutcomeBusy, res.Outcome)
	_, err = orch.Update(context.Background(), "ab", "other")
	assert.ErrorIs(t, err, pnserr.ErrWorkflowBusy)
	assert.Equal(t, Form{Domain: "ab", Record: "hello"}, orch.Form())

	close(gated.release)
	require.NoError(t, <-done)
	_, ok = orch.Pending("ab")
	assert.False(t, ok)
	assert.Equal(t, []string{"register:ab", "setRecord:ab"}, f.chain.Calls())
}

func TestConfirmationCancelled(t *testing.T) {
	f := newFixture(t)
	gated := &gatedChain{FakeGateway: f.chain, waiting: make(chan struct{}, 1), release: make(chan struct{})}
	orch := f.build(gated)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-gated.waiting
		cancel()
	}()

	res, err := orch.Mint(ctx, "ab", "hello")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, []string{"register:ab"}, f.chain.Calls())
}
