package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pns/internal/guard"
	"pns/internal/network"
	"pns/internal/pnserr"
	"pns/internal/registry"
	"pns/internal/snapshot"
)

const (
	contract = "0x56d04eC782E8F324f6515868c1065A5efd70AB16"
	alice    = "0x00000000000000000000000000000000000000aa"
	bob      = "0x00000000000000000000000000000000000000bb"
)

var (
	correct   = guard.NetworkState{Status: guard.NetworkCorrect, ChainID: 80001}
	incorrect = guard.NetworkState{Status: guard.NetworkIncorrect, ChainID: 1}
)

type countingReader struct {
	registry.Reader
	calls atomic.Int32
}

func (c *countingReader) AllNames(ctx context.Context) ([]string, error) {
	c.calls.Add(1)
	return c.Reader.AllNames(ctx)
}

type refreshLog struct {
	ok, failed atomic.Int32
	size       atomic.Int32
}

func (r *refreshLog) ObserveRefresh(ok bool, size int) {
	if ok {
		r.ok.Add(1)
	} else {
		r.failed.Add(1)
	}
	r.size.Store(int32(size))
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededGateway() *registry.FakeGateway {
	gw := registry.NewFakeGateway(nil, contract)
	gw.Seed("ab", alice, "hello")
	gw.Seed("xyz", bob, "")
	gw.Seed("cd", bob, "again")
	return gw
}

func TestEntriesEmptyBeforeRefresh(t *testing.T) {
	c := New(seededGateway(), network.Mumbai, contract, WithLogger(quiet()))
	entries := c.Entries()
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
	assert.True(t, c.View(alice, correct).Stale)
}

func TestRefreshUsesFetchOrder(t *testing.T) {
	obs := &refreshLog{}
	c := New(seededGateway(), network.Mumbai, contract, WithLogger(quiet()), WithConcurrency(2), WithObserver(obs))

	require.NoError(t, c.Refresh(context.Background()))

	entries := c.Entries()
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i, e.Index)
	}
	assert.Equal(t, "ab", entries[0].Name)
	assert.Equal(t, "xyz", entries[1].Name)
	assert.Equal(t, "cd", entries[2].Name)
	assert.Equal(t, "hello", entries[0].Record)
	assert.Equal(t, int32(1), obs.ok.Load())
	assert.Equal(t, int32(3), obs.size.Load())
}

func TestDuplicateNamesKeepTheirPositions(t *testing.T) {
	gw := registry.NewFakeGateway(nil, contract)
	gw.Seed("dup", alice, "r")
	gw.Seed("dup", alice, "r")
	c := New(gw, network.Mumbai, contract, WithLogger(quiet()))
	require.NoError(t, c.Refresh(context.Background()))

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 0, entries[0].Index)
	assert.Equal(t, 1, entries[1].Index)
}

func TestFailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	gw := seededGateway()
	obs := &refreshLog{}
	c := New(gw, network.Mumbai, contract, WithLogger(quiet()), WithObserver(obs))
	require.NoError(t, c.Refresh(context.Background()))
	before := c.Entries()

	gw.Seed("new", alice, "r")
	gw.FailOnRead = "xyz"
	err := c.Refresh(context.Background())
	require.ErrorIs(t, err, pnserr.ErrFetchFailed)
	assert.Equal(t, before, c.Entries())

	gw.FailOnRead = ""
	gw.FetchErr = errors.New("rpc down")
	err = c.Refresh(context.Background())
	require.ErrorIs(t, err, pnserr.ErrFetchFailed)
	assert.Contains(t, err.Error(), "rpc down")
	assert.Equal(t, before, c.Entries())
	assert.Equal(t, int32(2), obs.failed.Load())
}

func TestViewOwnershipIsCaseInsensitive(t *testing.T) {
	c := New(seededGateway(), network.Mumbai, contract, WithLogger(quiet()))
	require.NoError(t, c.Refresh(context.Background()))

	v := c.View("0x00000000000000000000000000000000000000AA", correct)
	require.Len(t, v.Entries, 3)
	assert.False(t, v.Stale)
	assert.True(t, v.Entries[0].Editable)
	assert.False(t, v.Entries[1].Editable)
	assert.False(t, v.Entries[2].Editable)
	assert.Equal(t, "ab.potato", v.Entries[0].Display)
	assert.Equal(t, "https://testnets.opensea.io/assets/mumbai/"+contract+"/1", v.Entries[1].AssetURL)

	assert.True(t, c.View(alice, incorrect).Stale)

	for _, e := range c.View("", correct).Entries {
		assert.False(t, e.Editable)
	}
}

func TestScheduleRefreshCoalesces(t *testing.T) {
	reader := &countingReader{Reader: seededGateway()}
	c := New(reader, network.Mumbai, contract, WithLogger(quiet()))
	defer c.Close()

	c.ScheduleRefresh(20 * time.Millisecond)
	c.ScheduleRefresh(20 * time.Millisecond)
	c.ScheduleRefresh(0)

	assert.Eventually(t, func() bool { return len(c.Entries()) == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), reader.calls.Load())

	c.ScheduleRefresh(0)
	assert.Eventually(t, func() bool { return reader.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestCloseCancelsScheduledRefresh(t *testing.T) {
	reader := &countingReader{Reader: seededGateway()}
	c := New(reader, network.Mumbai, contract, WithLogger(quiet()))

	c.ScheduleRefresh(30 * time.Millisecond)
	c.Close()
	c.ScheduleRefresh(0)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), reader.calls.Load())
}

func TestSnapshotPersistence(t *testing.T) {
	store := snapshot.NewMemoryStore()
	ctx := context.Background()

	first := New(seededGateway(), network.Mumbai, contract, WithLogger(quiet()), WithStore(store))
	require.NoError(t, first.Refresh(ctx))

	gw := registry.NewFakeGateway(nil, contract)
	gw.FetchErr = errors.New("offline")
	second := New(gw, network.Mumbai, contract, WithLogger(quiet()), WithStore(store))
	require.NoError(t, second.Seed(ctx))

	assert.Equal(t, first.Entries(), second.Entries())
	v := second.View(alice, correct)
	assert.True(t, v.Stale)
	assert.Len(t, v.Entries, 3)
}

func TestSeedWithoutSnapshot(t *testing.T) {
	c := New(seededGateway(), network.Mumbai, contract, WithLogger(quiet()), WithStore(snapshot.NewMemoryStore()))
	require.NoError(t, c.Seed(context.Background()))
	assert.Empty(t, c.Entries())
}
