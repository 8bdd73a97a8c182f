// Package cache holds the last complete listing of the registry.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pns/internal/guard"
	"pns/internal/network"
	"pns/internal/pnserr"
	"pns/internal/registry"
	"pns/internal/snapshot"
)

// MintEntry is one registered name. Index is its position in the fetch order.
type MintEntry = snapshot.Entry

// Observer is told about every refresh attempt.
type Observer interface {
	ObserveRefresh(ok bool, size int)
}

// Cache is replaced wholesale on every successful refresh; a failed refresh
// leaves the previous snapshot in place.
type Cache struct {
	reader      registry.Reader
	target      network.Descriptor
	contract    string
	store       snapshot.Store
	key         string
	concurrency int
	logger      *slog.Logger
	observer    Observer
	baseCtx     context.Context

	refreshMu sync.Mutex

	mu        sync.RWMutex
	entries   []MintEntry
	fetchedAt time.Time
	fresh     bool

	timerMu sync.Mutex
	timer   *time.Timer
	due     time.Time
	closed  bool
}

type Option func(*Cache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithStore persists every successful refresh and allows Seed.
func WithStore(store snapshot.Store) Option {
	return func(c *Cache) { c.store = store }
}

// WithConcurrency bounds the per-name reads of a refresh.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(c *Cache) { c.observer = obs }
}

// WithContext sets the context scheduled refreshes run under.
func WithContext(ctx context.Context) Option {
	return func(c *Cache) { c.baseCtx = ctx }
}

func New(reader registry.Reader, target network.Descriptor, contract string, opts ...Option) *Cache {
	c := &Cache{
		reader:      reader,
		target:      target,
		contract:    contract,
		key:         snapshot.Key(target.ChainID, contract),
		concurrency: 8,
		logger:      slog.Default(),
		baseCtx:     context.Background(),
		entries:     []MintEntry{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seed loads the last persisted snapshot. Seeded entries stay stale until a
// refresh succeeds.
func (c *Cache) Seed(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.Get(ctx, c.key)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fresh {
		return nil
	}
	c.entries = append([]MintEntry{}, snap.Entries...)
	c.fetchedAt = snap.FetchedAt
	c.logger.Info("registry cache seeded from snapshot", "entries", len(c.entries), "fetched_at", snap.FetchedAt)
	return nil
}

// Refresh reads every name with its record and owner and swaps the snapshot
// in one step.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	entries, err := c.fetch(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", pnserr.ErrFetchFailed, err)
		c.logger.Error("registry refresh failed", "error", err)
		c.observe(false, len(c.Entries()))
		return err
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.entries = entries
	c.fetchedAt = now
	c.fresh = true
	c.mu.Unlock()
	c.logger.Info("registry refreshed", "entries", len(entries))
	c.observe(true, len(entries))

	if c.store != nil {
		if err := c.store.Save(ctx, c.key, snapshot.Snapshot{Entries: entries, FetchedAt: now}); err != nil {
			c.logger.Warn("persist registry snapshot", "error", err)
		}
	}
	return nil
}

func (c *Cache) fetch(ctx context.Context) ([]MintEntry, error) {
	names, err := c.reader.AllNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all names: %w", err)
	}

	entries := make([]MintEntry, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			record, err := c.reader.Record(gctx, name)
			if err != nil {
				return fmt.Errorf("record of %q: %w", name, err)
			}
			owner, err := c.reader.Owner(gctx, name)
			if err != nil {
				return fmt.Errorf("owner of %q: %w", name, err)
			}
			entries[i] = MintEntry{Index: i, Name: name, Record: record, Owner: owner}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Entries returns the current snapshot; empty before the first refresh.
func (c *Cache) Entries() []MintEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]MintEntry{}, c.entries...)
}

// ScheduleRefresh runs Refresh after delay. A pending refresh that is due no
// later absorbs the request; a later one is pulled forward.
func (c *Cache) ScheduleRefresh(delay time.Duration) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.closed {
		return
	}
	due := time.Now().Add(delay)
	if c.timer != nil {
		if !due.Before(c.due) {
			return
		}
		c.timer.Stop()
	}
	c.due = due
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.timerMu.Lock()
		if c.timer != t {
			c.timerMu.Unlock()
			return
		}
		c.timer = nil
		c.timerMu.Unlock()
		_ = c.Refresh(c.baseCtx)
	})
	c.timer = t
}

// Close cancels a scheduled refresh and refuses new ones.
func (c *Cache) Close() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// ViewEntry is a MintEntry as presented to account.
type ViewEntry struct {
	MintEntry
	Display  string `json:"display"`
	Editable bool   `json:"editable"`
	AssetURL string `json:"assetUrl"`
}

type View struct {
	Entries   []ViewEntry `json:"entries"`
	Stale     bool        `json:"stale"`
	FetchedAt time.Time   `json:"fetchedAt"`
}

// View renders the snapshot for account. It is stale unless the wallet is
// on the registry network and the entries came from this session.
func (c *Cache) View(account string, net guard.NetworkState) View {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v := View{
		Entries:   make([]ViewEntry, 0, len(c.entries)),
		Stale:     net.Status != guard.NetworkCorrect || !c.fresh,
		FetchedAt: c.fetchedAt,
	}
	for _, e := range c.entries {
		v.Entries = append(v.Entries, ViewEntry{
			MintEntry: e,
			Display:   e.Name + ".potato",
			Editable:  account != "" && strings.EqualFold(e.Owner, account),
			AssetURL:  c.target.AssetURL(c.contract, e.Index),
		})
	}
	return v
}

func (c *Cache) observe(ok bool, size int) {
	if c.observer != nil {
		c.observer.ObserveRefresh(ok, size)
	}
}
