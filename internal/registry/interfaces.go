package registry

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"pns/internal/wallet"
)

// TxKind names the contract call a transaction carries.
type TxKind string

const (
	KindRegister  TxKind = "register"
	KindSetRecord TxKind = "setRecord"
)

// TxHandle identifies a broadcast transaction.
type TxHandle struct {
	Kind   TxKind
	Domain string
	Hash   string
}

// Receipt is the settled outcome of a transaction.
type Receipt struct {
	TxHash      string
	Status      uint64
	BlockNumber uint64
}

func (r Receipt) Succeeded() bool {
	return r.Status == types.ReceiptStatusSuccessful
}

// Transactor sends signed registry calls. Register and SetRecord block until
// the wallet's human approves or rejects the signature.
type Transactor interface {
	Register(ctx context.Context, from, name string, payment *big.Int) (TxHandle, error)
	SetRecord(ctx context.Context, from, name, value string) (TxHandle, error)
	// WaitConfirmation blocks until the transaction is mined or ctx is done.
	WaitConfirmation(ctx context.Context, h TxHandle) (Receipt, error)
}

// Reader exposes the registry's view functions.
type Reader interface {
	AllNames(ctx context.Context) ([]string, error)
	Record(ctx context.Context, name string) (string, error)
	Owner(ctx context.Context, name string) (string, error)
}

// Gateway is the full capability set the application needs from the chain:
// the wallet's account and network surface plus the registry contract.
type Gateway interface {
	wallet.Provider
	Transactor
	Reader
}

// HealthChecker is implemented by gateways that can probe their RPC node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
