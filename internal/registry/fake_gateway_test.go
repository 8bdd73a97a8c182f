package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pns/internal/network"
	"pns/internal/pnserr"
	"pns/internal/pricing"
	"pns/internal/wallet"
)

func newFake(t *testing.T) (*FakeGateway, *wallet.MemoryProvider) {
	t.Helper()
	mem := wallet.NewMemoryProvider(testAccount, network.Mumbai.MustID(), network.Mumbai)
	mem.Authorize()
	return NewFakeGateway(mem, testRegistry), mem
}

func TestFakeGatewayRegisterThenRecord(t *testing.T) {
	gw, _ := newFake(t)
	ctx := context.Background()

	price, err := pricing.ToWei(pricing.PriceFor(2))
	require.NoError(t, err)

	h, err := gw.Register(ctx, testAccount, "ab", price)
	require.NoError(t, err)
	r, err := gw.WaitConfirmation(ctx, h)
	require.NoError(t, err)
	assert.True(t, r.Succeeded())

	h, err = gw.SetRecord(ctx, testAccount, "ab", "spud")
	require.NoError(t, err)
	r, err = gw.WaitConfirmation(ctx, h)
	require.NoError(t, err)
	assert.True(t, r.Succeeded())

	names, err := gw.AllNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ab"}, names)

	rec, _ := gw.Record(ctx, "ab")
	assert.Equal(t, "spud", rec)

	owner, _ := gw.Owner(ctx, "ab")
	assert.True(t, strings.EqualFold(testAccount, owner))
	assert.Equal(t, []string{"register:ab", "setRecord:ab"}, gw.Calls())
}

func TestFakeGatewayContractRules(t *testing.T) {
	gw, _ := newFake(t)
	gw.Seed("taken", "0x00000000000000000000000000000000000000bb", "")
	ctx := context.Background()

	price, _ := pricing.ToWei("0.1")

	h, err := gw.Register(ctx, testAccount, "taken", price)
	require.NoError(t, err)
	r, _ := gw.WaitConfirmation(ctx, h)
	assert.False(t, r.Succeeded(), "name already owned")

	h, _ = gw.Register(ctx, testAccount, "x", price)
	r, _ = gw.WaitConfirmation(ctx, h)
	assert.False(t, r.Succeeded(), "underpaid")

	h, _ = gw.SetRecord(ctx, testAccount, "taken", "mine now")
	r, _ = gw.WaitConfirmation(ctx, h)
	assert.False(t, r.Succeeded(), "not the owner")
}

func TestFakeGatewayRejectedSignatureLeavesNoTrace(t *testing.T) {
	gw, mem := newFake(t)
	mem.RejectSign = true

	price, _ := pricing.ToWei("0.4")
	_, err := gw.Register(context.Background(), testAccount, "x", price)
	assert.ErrorIs(t, err, pnserr.ErrUserRejected)
	assert.Empty(t, gw.Calls())
}

func TestFakeGatewayReadFailures(t *testing.T) {
	gw, _ := newFake(t)
	gw.Seed("ab", testAccount, "r")
	ctx := context.Background()

	gw.FailOnRead = "ab"
	_, err := gw.Record(ctx, "ab")
	assert.Error(t, err)

	gw.FailOnRead = ""
	gw.FetchErr = errors.New("rpc down")
	_, err = gw.AllNames(ctx)
	assert.EqualError(t, err, "rpc down")
}
