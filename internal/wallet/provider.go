package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"pns/internal/network"
	"pns/internal/pnserr"
)

// Provider is the account and network surface of a wallet. Every method that
// may ask a human blocks until the human answers or ctx is done; no timeout is
// applied here.
type Provider interface {
	// RequestAccounts prompts for account access.
	RequestAccounts(ctx context.Context) ([]string, error)
	// Accounts returns already authorised accounts without prompting.
	Accounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (uint64, error)
	// SwitchChain fails with ErrUnrecognizedChain when the wallet has never
	// seen chainID.
	SwitchChain(ctx context.Context, chainID uint64) error
	AddChain(ctx context.Context, d network.Descriptor) error
	// OnChainChanged registers handler for chain switches and returns a
	// function that removes it.
	OnChainChanged(handler func(chainID uint64)) (unsubscribe func())
}

// Backend is the RPC surface contract bindings need.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Signer authorises transactions on behalf of an account.
type Signer interface {
	Backend(ctx context.Context) (Backend, error)
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction) (*types.Transaction, error)
}

// Wallet is a provider that can also sign.
type Wallet interface {
	Provider
	Signer
}

// EIP-1193 / EIP-3326 error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnrecognizedChain = 4902
)

// RPCError mirrors the error object wallets return to dapps.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

// Is matches any RPCError with the same code.
func (e *RPCError) Is(target error) bool {
	var other *RPCError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// Unwrap maps wallet codes onto the shared taxonomy.
func (e *RPCError) Unwrap() error {
	if e.Code == CodeUserRejected {
		return pnserr.ErrUserRejected
	}
	return nil
}

// ErrUnrecognizedChain is matched by any RPCError with code 4902.
var ErrUnrecognizedChain = &RPCError{Code: CodeUnrecognizedChain, Message: "unrecognized chain id"}

func rejected(what string) error {
	return &RPCError{Code: CodeUserRejected, Message: what + " rejected by user"}
}

func unrecognized(chainID uint64) error {
	return &RPCError{
		Code:    CodeUnrecognizedChain,
		Message: fmt.Sprintf("unrecognized chain id %s", network.HexID(chainID)),
	}
}
