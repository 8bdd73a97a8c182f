package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"pns/internal/contracts"
	"pns/internal/wallet"
)

const defaultReceiptPoll = 2 * time.Second

// EthGateway talks to the registry contract through the wallet: reads go to
// the wallet's RPC backend for the current chain, writes are signed by the
// wallet.
type EthGateway struct {
	wallet.Wallet

	abi       abi.ABI
	address   common.Address
	pollEvery time.Duration
}

type EthGatewayConfig struct {
	RegistryAddress     string
	ReceiptPollInterval time.Duration
}

func NewEthGateway(w wallet.Wallet, cfg EthGatewayConfig) (*EthGateway, error) {
	if w == nil {
		return nil, fmt.Errorf("wallet is required")
	}
	if !common.IsHexAddress(cfg.RegistryAddress) {
		return nil, fmt.Errorf("invalid registry address %q", cfg.RegistryAddress)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	poll := cfg.ReceiptPollInterval
	if poll <= 0 {
		poll = defaultReceiptPoll
	}

	return &EthGateway{
		Wallet:    w,
		abi:       parsedABI,
		address:   common.HexToAddress(cfg.RegistryAddress),
		pollEvery: poll,
	}, nil
}

func (g *EthGateway) Address() string {
	return g.address.Hex()
}

// bound resolves the backend on every call; the wallet may have switched
// chains since the last one.
func (g *EthGateway) bound(ctx context.Context) (*bind.BoundContract, wallet.Backend, error) {
	backend, err := g.Wallet.Backend(ctx)
	if err != nil {
		return nil, nil, err
	}
	return bind.NewBoundContract(g.address, g.abi, backend, backend, backend), backend, nil
}

func (g *EthGateway) Register(ctx context.Context, from, name string, payment *big.Int) (TxHandle, error) {
	hash, err := g.transact(ctx, from, payment, "register", name)
	if err != nil {
		return TxHandle{}, err
	}
	return TxHandle{Kind: KindRegister, Domain: name, Hash: hash}, nil
}

func (g *EthGateway) SetRecord(ctx context.Context, from, name, value string) (TxHandle, error) {
	hash, err := g.transact(ctx, from, nil, "setRecord", name, value)
	if err != nil {
		return TxHandle{}, err
	}
	return TxHandle{Kind: KindSetRecord, Domain: name, Hash: hash}, nil
}

func (g *EthGateway) transact(ctx context.Context, from string, value *big.Int, method string, args ...interface{}) (string, error) {
	if !common.IsHexAddress(from) {
		return "", fmt.Errorf("invalid sender address %q", from)
	}
	contract, _, err := g.bound(ctx)
	if err != nil {
		return "", err
	}

	opts := &bind.TransactOpts{
		From:    common.HexToAddress(from),
		Context: ctx,
		Value:   value,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			return g.Wallet.SignTx(ctx, addr, tx)
		},
	}

	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return "", fmt.Errorf("%s tx: %w", method, err)
	}
	return tx.Hash().Hex(), nil
}

func (g *EthGateway) WaitConfirmation(ctx context.Context, h TxHandle) (Receipt, error) {
	backend, err := g.Wallet.Backend(ctx)
	if err != nil {
		return Receipt{}, err
	}
	receipt, err := WaitForReceipt(ctx, backend, common.HexToHash(h.Hash), g.pollEvery)
	if err != nil {
		return Receipt{}, fmt.Errorf("wait for %s: %w", h.Kind, err)
	}
	out := Receipt{TxHash: h.Hash, Status: receipt.Status}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return out, nil
}

func (g *EthGateway) AllNames(ctx context.Context) ([]string, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "getAllNames"); err != nil {
		return nil, err
	}
	names := *abi.ConvertType(out[0], new([]string)).(*[]string)
	return names, nil
}

func (g *EthGateway) Record(ctx context.Context, name string) (string, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "records", name); err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (g *EthGateway) Owner(ctx context.Context, name string) (string, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "domains", name); err != nil {
		return "", err
	}
	owner := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	return owner.Hex(), nil
}

func (g *EthGateway) call(ctx context.Context, out *[]interface{}, method string, args ...interface{}) error {
	contract, _, err := g.bound(ctx)
	if err != nil {
		return err
	}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, out, method, args...); err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	if len(*out) == 0 {
		return fmt.Errorf("call %s: empty result", method)
	}
	return nil
}

func (g *EthGateway) Ping(ctx context.Context) error {
	backend, err := g.Wallet.Backend(ctx)
	if err != nil {
		return err
	}
	_, err = backend.BlockNumber(ctx)
	return err
}

// ReceiptBackend is what WaitForReceipt polls.
type ReceiptBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WaitForReceipt polls until the transaction is mined or context cancelled.
func WaitForReceipt(ctx context.Context, client ReceiptBackend, hash common.Hash, every time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
