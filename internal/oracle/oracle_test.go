package oracle_test

import (
	"errors"
	"testing"
	"time"

	"github.com/marwinsteiner/lendflow/internal/oracle"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestFeed_PriceUnavailable(t *testing.T) {
	f := oracle.NewFeed(time.Minute, fixedClock(time.UnixMicro(1_000_000)))

	_, err := f.Price(oracle.AssetETH)
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}

func TestFeed_FreshPrice(t *testing.T) {
	now := time.UnixMicro(10_000_000)
	f := oracle.NewFeed(time.Minute, fixedClock(now))

	snap := oracle.PriceSnapshot{Asset: oracle.AssetETH, Price: 2_000_000_000, Timestamp: now.Add(-30 * time.Second)}
	if err := f.Update(snap); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := f.Price(oracle.AssetETH)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if got.Price != 2_000_000_000 {
		t.Errorf("got price %d, want 2_000_000_000", got.Price)
	}
}

func TestFeed_StalePrice(t *testing.T) {
	now := time.UnixMicro(10_000_000)
	f := oracle.NewFeed(time.Minute, fixedClock(now))

	snap := oracle.PriceSnapshot{Asset: oracle.AssetETH, Price: 2_000_000_000, Timestamp: now.Add(-2 * time.Minute)}
	if err := f.Update(snap); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err := f.Price(oracle.AssetETH)
	if !errors.Is(err, oracle.ErrStalePrice) {
		t.Errorf("got %v, want ErrStalePrice", err)
	}
}

func TestFeed_RejectsNonPositivePrice(t *testing.T) {
	f := oracle.NewFeed(time.Minute, nil)

	err := f.Update(oracle.PriceSnapshot{Asset: oracle.AssetETH, Price: 0, Timestamp: time.Now()})
	if !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Errorf("got %v, want ErrInvalidPrice", err)
	}
}

func TestFeed_RejectsOutOfOrderReading(t *testing.T) {
	base := time.UnixMicro(10_000_000)
	f := oracle.NewFeed(time.Minute, fixedClock(base))

	if err := f.Update(oracle.PriceSnapshot{Asset: oracle.AssetETH, Price: 100, Timestamp: base}); err != nil {
		t.Fatalf("update: %v", err)
	}
	err := f.Update(oracle.PriceSnapshot{Asset: oracle.AssetETH, Price: 200, Timestamp: base.Add(-time.Second)})
	if err == nil {
		t.Error("expected out-of-order reading to be rejected")
	}
}
