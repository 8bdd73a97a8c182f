package app

import (
	"context"
	"fmt"
	"math/big"

	"pns/internal/config"
	"pns/internal/pnserr"
	"pns/internal/pricing"
	"pns/internal/registry"
	"pns/internal/snapshot"
)

// OpenStore picks the snapshot store: Postgres, then Redis, then a file,
// then memory.
func OpenStore(ctx context.Context, cfg config.SnapshotConfig) (snapshot.Store, error) {
	switch {
	case cfg.PostgresDSN != "":
		store, err := snapshot.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres snapshot store: %w", err)
		}
		return store, nil
	case cfg.RedisURL != "":
		store, err := snapshot.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis snapshot store: %w", err)
		}
		return store, nil
	case cfg.Path != "":
		store, err := snapshot.NewFileStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("file snapshot store: %w", err)
		}
		return store, nil
	}
	return snapshot.NewMemoryStore(), nil
}

// Quote validates domain and prices it.
func Quote(domain string) (string, *big.Int, error) {
	if !pricing.ValidLength(domain) {
		return "", nil, pnserr.ErrInvalidDomainLength
	}
	price := pricing.PriceFor(pricing.DomainLength(domain))
	wei, err := pricing.ToWei(price)
	if err != nil {
		return "", nil, err
	}
	return price, wei, nil
}

// unavailable stands in for the registry when no wallet is configured.
type unavailable struct{}

var (
	_ registry.Reader     = unavailable{}
	_ registry.Transactor = unavailable{}
)

func (unavailable) AllNames(context.Context) ([]string, error) {
	return nil, pnserr.ErrProviderMissing
}

func (unavailable) Record(context.Context, string) (string, error) {
	return "", pnserr.ErrProviderMissing
}

func (unavailable) Owner(context.Context, string) (string, error) {
	return "", pnserr.ErrProviderMissing
}

func (unavailable) Register(context.Context, string, string, *big.Int) (registry.TxHandle, error) {
	return registry.TxHandle{}, pnserr.ErrProviderMissing
}

func (unavailable) SetRecord(context.Context, string, string, string) (registry.TxHandle, error) {
	return registry.TxHandle{}, pnserr.ErrProviderMissing
}

func (unavailable) WaitConfirmation(context.Context, registry.TxHandle) (registry.Receipt, error) {
	return registry.Receipt{}, pnserr.ErrProviderMissing
}
