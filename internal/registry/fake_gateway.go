package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"pns/internal/pricing"
	"pns/internal/wallet"
)

// FakeGateway keeps the registry ledger in memory and mines every transaction
// instantly. It applies the contract's own rules (name free, price paid,
// only the owner sets records), so reverts happen for the same reasons they
// would on chain. Signatures still go through the wallet for approval.
type FakeGateway struct {
	wallet.Wallet

	// RevertRegister and RevertSetRecord force a failed receipt for a name.
	RevertRegister  func(name string) bool
	RevertSetRecord func(name string) bool
	// FetchErr, when set, fails view calls. FailOnRead fails only reads of
	// the given name.
	FetchErr   error
	FailOnRead string

	contract common.Address

	mu       sync.Mutex
	names    []string
	records  map[string]string
	owners   map[string]string
	receipts map[string]Receipt
	nonce    uint64
	block    uint64
	calls    []string
}

func NewFakeGateway(w wallet.Wallet, contract string) *FakeGateway {
	return &FakeGateway{
		Wallet:   w,
		contract: common.HexToAddress(contract),
		records:  make(map[string]string),
		owners:   make(map[string]string),
		receipts: make(map[string]Receipt),
	}
}

func (f *FakeGateway) Address() string {
	return f.contract.Hex()
}

// Seed registers name directly, bypassing the wallet.
func (f *FakeGateway) Seed(name, owner, record string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	f.owners[name] = owner
	f.records[name] = record
}

// Calls lists registry calls in the order they reached the ledger.
func (f *FakeGateway) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeGateway) Register(ctx context.Context, from, name string, payment *big.Int) (TxHandle, error) {
	if err := f.approve(ctx, from, payment, "register", name); err != nil {
		return TxHandle{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "register:"+name)

	ok := f.canRegister(name, payment)
	if f.RevertRegister != nil && f.RevertRegister(name) {
		ok = false
	}
	if ok {
		f.names = append(f.names, name)
		f.owners[name] = from
	}
	h := TxHandle{Kind: KindRegister, Domain: name, Hash: f.mine(ok, from, name)}
	return h, nil
}

func (f *FakeGateway) SetRecord(ctx context.Context, from, name, value string) (TxHandle, error) {
	if err := f.approve(ctx, from, nil, "setRecord", name, value); err != nil {
		return TxHandle{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "setRecord:"+name)

	ok := strings.EqualFold(f.owners[name], from)
	if f.RevertSetRecord != nil && f.RevertSetRecord(name) {
		ok = false
	}
	if ok {
		f.records[name] = value
	}
	h := TxHandle{Kind: KindSetRecord, Domain: name, Hash: f.mine(ok, from, name, value)}
	return h, nil
}

func (f *FakeGateway) WaitConfirmation(_ context.Context, h TxHandle) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[h.Hash]
	if !ok {
		return Receipt{}, fmt.Errorf("unknown transaction %s", h.Hash)
	}
	return r, nil
}

func (f *FakeGateway) AllNames(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	return append([]string(nil), f.names...), nil
}

func (f *FakeGateway) Record(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr(name); err != nil {
		return "", err
	}
	return f.records[name], nil
}

func (f *FakeGateway) Owner(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr(name); err != nil {
		return "", err
	}
	return common.HexToAddress(f.owners[name]).Hex(), nil
}

func (f *FakeGateway) readErr(name string) error {
	if f.FetchErr != nil {
		return f.FetchErr
	}
	if f.FailOnRead != "" && f.FailOnRead == name {
		return fmt.Errorf("execution reverted reading %q", name)
	}
	return nil
}

func (f *FakeGateway) canRegister(name string, payment *big.Int) bool {
	if !pricing.ValidLength(name) {
		return false
	}
	if _, taken := f.owners[name]; taken {
		return false
	}
	price, err := pricing.ToWei(pricing.PriceFor(pricing.DomainLength(name)))
	if err != nil || payment == nil {
		return false
	}
	return payment.Cmp(price) >= 0
}

// approve routes a synthetic transaction through the wallet so the human
// still gets to accept or reject it.
func (f *FakeGateway) approve(ctx context.Context, from string, value *big.Int, method string, args ...string) error {
	if !common.IsHexAddress(from) {
		return fmt.Errorf("invalid sender address %q", from)
	}
	f.mu.Lock()
	nonce := f.nonce
	f.mu.Unlock()

	if value == nil {
		value = new(big.Int)
	}
	to := f.contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce: nonce,
		To:    &to,
		Value: value,
		Data:  []byte(method + "(" + strings.Join(args, ",") + ")"),
	})
	if _, err := f.Wallet.SignTx(ctx, common.HexToAddress(from), tx); err != nil {
		return fmt.Errorf("%s tx: %w", method, err)
	}
	return nil
}

// mine must be called with f.mu held.
func (f *FakeGateway) mine(ok bool, parts ...string) string {
	f.nonce++
	f.block++
	hash := fakeHash(fmt.Sprintf("%d:%s", f.nonce, strings.Join(parts, ":")))
	status := types.ReceiptStatusFailed
	if ok {
		status = types.ReceiptStatusSuccessful
	}
	f.receipts[hash] = Receipt{TxHash: hash, Status: status, BlockNumber: f.block}
	return hash
}

func fakeHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return "0x" + hex.EncodeToString(sum[:])
}
