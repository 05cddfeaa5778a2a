// Package localcache keeps one AppState blob per identity (plus a guest slot)
// in a key-value store and announces every write on the change bus.
package localcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/port"

	"go.uber.org/zap"
)

const (
	// BaseKey is also the legacy single-user slot.
	BaseKey = "moneyapp_state"
	// GuestSuffix names the slot used when no identity is known.
	GuestSuffix = "guest"
	// RatesKey holds the persisted currency table.
	RatesKey = "fx_rates_to_usd_cache_v1"
)

// KeyFor returns the storage key of an identity's state.
func KeyFor(identity string) string {
	if identity == "" {
		return BaseKey + "_" + GuestSuffix
	}
	return BaseKey + "_" + identity
}

// Cache is the local state cache. Writes are last-write-wins.
type Cache struct {
	kv      port.KVStore
	pub     port.ChangePublisher
	origin  string
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu sync.Mutex // serializes Update read-modify-write cycles
}

// New creates a cache over kv. origin tags published changes so forwarders
// can drop their own echoes.
func New(kv port.KVStore, pub port.ChangePublisher, origin string, metrics *observability.Metrics, logger *zap.Logger) *Cache {
	return &Cache{
		kv:      kv,
		pub:     pub,
		origin:  origin,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Load returns the cached state of identity, or nil when there is none.
// For a non-empty identity the legacy slot is upgraded first.
func (c *Cache) Load(ctx context.Context, identity string) (*domain.AppState, error) {
	if identity != "" {
		if err := c.upgradeLegacy(ctx, identity); err != nil {
			return nil, err
		}
	}
	return c.read(ctx, KeyFor(identity))
}

func (c *Cache) read(ctx context.Context, key string) (*domain.AppState, error) {
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	var state domain.AppState
	if err := json.Unmarshal(raw, &state); err != nil {
		c.logger.Warn("localcache: unreadable state blob, treating as absent",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, nil
	}
	return &state, nil
}

// Save writes state under identity's key.
func (c *Cache) Save(ctx context.Context, state *domain.AppState, identity string) error {
	key := KeyFor(identity)
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := c.kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	c.notify(key, identity, domain.CacheOpSave)
	return nil
}

// Clear removes identity's state.
func (c *Cache) Clear(ctx context.Context, identity string) error {
	key := KeyFor(identity)
	if err := c.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	c.notify(key, identity, domain.CacheOpClear)
	return nil
}

// ClearAll removes every state slot, the legacy one included.
// The rate table is kept.
func (c *Cache) ClearAll(ctx context.Context) error {
	keys, err := c.kv.Keys(ctx, BaseKey)
	if err != nil {
		return fmt.Errorf("list states: %w", err)
	}
	for _, k := range keys {
		if err := c.kv.Delete(ctx, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	c.notify(BaseKey, "", domain.CacheOpClearAll)
	return nil
}

// Update loads identity's state (a fresh one when absent), applies fn and
// saves the result. fn's error aborts without writing.
func (c *Cache) Update(ctx context.Context, identity string, fn func(*domain.AppState) error) (*domain.AppState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.Load(ctx, identity)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = domain.NewAppState()
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	if err := c.Save(ctx, state, identity); err != nil {
		return nil, err
	}
	return state, nil
}

// Identities lists identities with a stored state. The guest slot is
// reported as "".
func (c *Cache) Identities(ctx context.Context) ([]string, error) {
	prefix := BaseKey + "_"
	keys, err := c.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		id := k[len(prefix):]
		if id == GuestSuffix {
			id = ""
		}
		out = append(out, id)
	}
	return out, nil
}

func (c *Cache) upgradeLegacy(ctx context.Context, identity string) error {
	raw, ok, err := c.kv.Get(ctx, BaseKey)
	if err != nil {
		return fmt.Errorf("read legacy slot: %w", err)
	}
	if !ok {
		return nil
	}

	key := KeyFor(identity)
	_, exists, err := c.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !exists {
		if err := c.kv.Set(ctx, key, raw); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
	}
	if err := c.kv.Delete(ctx, BaseKey); err != nil {
		return fmt.Errorf("delete legacy slot: %w", err)
	}

	c.logger.Info("localcache: legacy state upgraded",
		zap.String("identity", identity),
		zap.Bool("moved", !exists),
	)
	c.notify(key, identity, domain.CacheOpUpgrade)
	return nil
}

func (c *Cache) notify(key, identity string, op domain.CacheOp) {
	c.metrics.IncrCacheWrite(string(op))
	if c.pub == nil {
		return
	}
	c.pub.Publish(domain.StateChange{
		Key:      key,
		Identity: identity,
		Op:       op,
		Origin:   c.origin,
		At:       c.now(),
	})
}

// --- Currency table persistence (fx.RateStore) ---

type ratesBlob struct {
	RatesToUSD map[string]float64 `json:"ratesToUSD"`
	UpdatedAt  int64              `json:"updatedAt"` // unix millis
	Source     domain.RateSource  `json:"source"`
}

// LoadRates returns the persisted rate table, or nil when absent.
func (c *Cache) LoadRates(ctx context.Context) (*domain.RateTable, error) {
	raw, ok, err := c.kv.Get(ctx, RatesKey)
	if err != nil || !ok {
		return nil, err
	}
	var blob ratesBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, nil
	}
	return &domain.RateTable{
		RatesToUSD: blob.RatesToUSD,
		UpdatedAt:  time.UnixMilli(blob.UpdatedAt),
		Source:     blob.Source,
	}, nil
}

// SaveRates persists the rate table.
func (c *Cache) SaveRates(ctx context.Context, table domain.RateTable) error {
	raw, err := json.Marshal(ratesBlob{
		RatesToUSD: table.RatesToUSD,
		UpdatedAt:  table.UpdatedAt.UnixMilli(),
		Source:     table.Source,
	})
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, RatesKey, raw)
}
