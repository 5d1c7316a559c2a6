package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfolio/valuation/pkg/models"
)

const (
	keyAll = "__all__"
)

// CacheConfig carries per-cache capacity and TTL settings.
type CacheConfig struct {
	TickerCapacity int
	TickerTTL      time.Duration
	KindCapacity   int
	KindTTL        time.Duration
	AllCapacity    int
	AllTTL         time.Duration
	PriceCapacity  int
	PriceTTL       time.Duration
}

// PriceSource supplies the latest price for a ticker; zero means no data.
type PriceSource interface {
	CurrentPrice(ticker string) decimal.Decimal
}

// CachedStore is a read-through cache layer over a catalog Store. Four
// independent bounded TTL caches front the store: by-ticker, by-kind,
// all-securities and price. Every write to the store synchronously
// invalidates the entries that could be derived from the changed record;
// correctness outranks cache efficiency.
type CachedStore struct {
	store  Store
	logger *zap.Logger

	byTicker *ttlCache
	byKind   *ttlCache
	all      *ttlCache
	prices   *ttlCache

	priceTTL time.Duration
}

// NewCachedStore wraps store with the four catalog caches.
func NewCachedStore(store Store, cfg CacheConfig, logger *zap.Logger) *CachedStore {
	return &CachedStore{
		store:    store,
		logger:   logger,
		byTicker: newTTLCache("ticker", cfg.TickerCapacity, cfg.TickerTTL),
		byKind:   newTTLCache("kind", cfg.KindCapacity, cfg.KindTTL),
		all:      newTTLCache("all", cfg.AllCapacity, cfg.AllTTL),
		prices:   newTTLCache("price", cfg.PriceCapacity, cfg.PriceTTL),
		priceTTL: cfg.PriceTTL,
	}
}

// FindByTicker returns the security for a ticker, consulting the by-ticker
// cache first. Misses fetch from the store and populate the cache; absent
// tickers are never cached.
func (c *CachedStore) FindByTicker(ctx context.Context, ticker string) (*models.Security, error) {
	key := models.NormalizeTicker(ticker)
	if v, ok := c.byTicker.Get(key); ok {
		return v.(*models.Security), nil
	}
	sec, err := c.store.FindByTicker(ctx, key)
	if err != nil {
		return nil, err
	}
	c.byTicker.Set(key, sec, 0)
	return sec, nil
}

// FindByKind returns the securities of a kind through the by-kind cache.
func (c *CachedStore) FindByKind(ctx context.Context, kind models.SecurityKind) ([]models.Security, error) {
	if v, ok := c.byKind.Get(string(kind)); ok {
		return v.([]models.Security), nil
	}
	secs, err := c.store.FindByKind(ctx, kind)
	if err != nil {
		return nil, err
	}
	c.byKind.Set(string(kind), secs, 0)
	return secs, nil
}

// FindAll returns the whole catalog through the all-securities cache.
func (c *CachedStore) FindAll(ctx context.Context) ([]models.Security, error) {
	if v, ok := c.all.Get(keyAll); ok {
		return v.([]models.Security), nil
	}
	secs, err := c.store.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	c.all.Set(keyAll, secs, 0)
	return secs, nil
}

// Save writes through to the store and synchronously invalidates every cache
// entry the changed record could have produced. The kind caches are purged
// wholesale because the record's previous kind is unknown here.
func (c *CachedStore) Save(ctx context.Context, sec *models.Security) (*models.Security, error) {
	saved, err := c.store.Save(ctx, sec)
	if err != nil {
		return nil, err
	}
	c.invalidate(saved.Ticker)
	return saved, nil
}

// Delete removes a security and invalidates its derived cache entries.
func (c *CachedStore) Delete(ctx context.Context, ticker string) error {
	if err := c.store.Delete(ctx, ticker); err != nil {
		return err
	}
	c.invalidate(models.NormalizeTicker(ticker))
	return nil
}

// DeleteAll clears the store and every cache.
func (c *CachedStore) DeleteAll(ctx context.Context) error {
	if err := c.store.DeleteAll(ctx); err != nil {
		return err
	}
	c.byTicker.Purge()
	c.byKind.Purge()
	c.all.Purge()
	c.prices.Purge()
	return nil
}

// Price returns the latest price for ticker through the price cache, reading
// through to src on a miss. Non-positive prices mean "no data" and are never
// cached.
func (c *CachedStore) Price(ticker string, src PriceSource) decimal.Decimal {
	key := models.NormalizeTicker(ticker)
	if v, ok := c.prices.Get(key); ok {
		return v.(decimal.Decimal)
	}
	price := src.CurrentPrice(key)
	if price.IsPositive() {
		c.prices.Set(key, price, 0)
	}
	return price
}

// InvalidatePrice drops a cached price after the underlying state moved.
func (c *CachedStore) InvalidatePrice(ticker string) {
	c.prices.Delete(models.NormalizeTicker(ticker))
}

// CacheStats is the observable state of one catalog cache.
type CacheStats struct {
	Size      int   `json:"size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Stats reports size and counter state for each of the four caches, keyed by
// cache name.
func (c *CachedStore) Stats() map[string]CacheStats {
	out := make(map[string]CacheStats, 4)
	for _, cache := range []*ttlCache{c.byTicker, c.byKind, c.all, c.prices} {
		hits, misses, evictions := cache.Stats()
		out[cache.name] = CacheStats{
			Size:      cache.Len(),
			Hits:      hits,
			Misses:    misses,
			Evictions: evictions,
		}
	}
	return out
}

// Stop terminates the cache sweepers.
func (c *CachedStore) Stop() {
	c.byTicker.Stop()
	c.byKind.Stop()
	c.all.Stop()
	c.prices.Stop()
}

func (c *CachedStore) invalidate(ticker string) {
	c.byTicker.Delete(ticker)
	c.byKind.Purge()
	c.all.Purge()
	c.prices.Delete(ticker)
	c.logger.Debug("invalidated catalog caches", zap.String("ticker", ticker))
}
