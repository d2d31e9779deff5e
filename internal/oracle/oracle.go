package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Asset identifies a priced asset.
type Asset string

const (
	AssetETH  Asset = "ETH"
	AssetUSDC Asset = "USDC"
)

// ParseAsset validates an asset symbol from an external feed.
func ParseAsset(s string) (Asset, error) {
	switch Asset(s) {
	case AssetETH:
		return AssetETH, nil
	case AssetUSDC:
		return AssetUSDC, nil
	default:
		return "", fmt.Errorf("unknown asset %q", s)
	}
}

var (
	// ErrUnavailable is returned when no reading exists for the asset.
	ErrUnavailable = errors.New("price feed unavailable")

	// ErrStalePrice is returned when the latest reading is older than the
	// staleness bound. The core never substitutes a default or
	// cached-forever price.
	ErrStalePrice = errors.New("price reading stale")

	// ErrInvalidPrice rejects non-positive prices at the feed boundary.
	ErrInvalidPrice = errors.New("price must be positive")
)

// PriceSnapshot is one reading from the feed. Price is ppm-scaled USDC per
// whole unit of the asset (2_000_000_000 = $2,000.00).
type PriceSnapshot struct {
	Asset     Asset
	Price     int64
	Timestamp time.Time
}

// Oracle supplies the current collateral-asset valuation. Every consumer
// must treat an error as a hard precondition failure.
type Oracle interface {
	Price(asset Asset) (PriceSnapshot, error)
}

// Feed is a live oracle fed by an external price stream. The latest
// reading per asset is kept; staleness is evaluated at read time against
// the injected clock.
type Feed struct {
	mu         sync.RWMutex
	latest     map[Asset]PriceSnapshot
	staleAfter time.Duration
	now        func() time.Time
}

func NewFeed(staleAfter time.Duration, now func() time.Time) *Feed {
	if now == nil {
		now = time.Now
	}
	return &Feed{
		latest:     make(map[Asset]PriceSnapshot),
		staleAfter: staleAfter,
		now:        now,
	}
}

// Update stores a new reading. Non-positive prices and readings older than
// the one already held are rejected.
func (f *Feed) Update(snap PriceSnapshot) error {
	if snap.Price <= 0 {
		return fmt.Errorf("%w: %s price %d", ErrInvalidPrice, snap.Asset, snap.Price)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, ok := f.latest[snap.Asset]; ok && snap.Timestamp.Before(prev.Timestamp) {
		return fmt.Errorf("out-of-order price for %s: %s before %s",
			snap.Asset, snap.Timestamp, prev.Timestamp)
	}

	f.latest[snap.Asset] = snap
	return nil
}

// Price returns the latest reading, failing on missing or stale data.
func (f *Feed) Price(asset Asset) (PriceSnapshot, error) {
	f.mu.RLock()
	snap, ok := f.latest[asset]
	f.mu.RUnlock()

	if !ok {
		return PriceSnapshot{}, fmt.Errorf("%w: no reading for %s", ErrUnavailable, asset)
	}

	if age := f.now().Sub(snap.Timestamp); age > f.staleAfter {
		return PriceSnapshot{}, fmt.Errorf("%w: %s reading is %s old (bound %s)",
			ErrStalePrice, asset, age, f.staleAfter)
	}

	return snap, nil
}
