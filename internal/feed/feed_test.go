package feed

import (
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

func TestFeedSetAndRead(t *testing.T) {
	f := NewFeed()

	if !f.GetMinPriceX96().IsZero() || !f.GetMaxPriceX96().IsZero() {
		t.Fatal("fresh feed should read zero")
	}

	if err := f.Set(uint256.NewInt(100), uint256.NewInt(110), 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := f.GetMinPriceX96(); got.Uint64() != 100 {
		t.Errorf("min = %s, want 100", got)
	}
	if got := f.GetMaxPriceX96(); got.Uint64() != 110 {
		t.Errorf("max = %s, want 110", got)
	}
}

func TestFeedRejectsInvertedPair(t *testing.T) {
	f := NewFeed()
	if err := f.Set(uint256.NewInt(110), uint256.NewInt(100), 1); err == nil {
		t.Fatal("expected error for min above max")
	}
}

func TestFeedIgnoresStaleSequence(t *testing.T) {
	f := NewFeed()
	if err := f.Set(uint256.NewInt(100), uint256.NewInt(110), 5); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := f.Set(uint256.NewInt(90), uint256.NewInt(95), 4); err != nil {
		t.Fatalf("stale set should be a no-op, got %v", err)
	}
	if got := f.GetMinPriceX96(); got.Uint64() != 100 {
		t.Errorf("min = %s, want 100 (stale tick applied)", got)
	}
}

func TestSubscriberApply(t *testing.T) {
	s := NewSubscriber(nil, zerolog.Nop())
	poolID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	f := s.Register(poolID)

	s.apply("equation.prices."+poolID.String(), []byte(`{"min_price_x96":"200","max_price_x96":"210","sequence":1}`))
	if got := f.GetMaxPriceX96(); got.Uint64() != 210 {
		t.Errorf("max = %s, want 210", got)
	}

	// Unregistered pool and malformed payloads must not panic.
	s.apply("equation.prices.22222222-2222-2222-2222-222222222222", []byte(`{}`))
	s.apply("equation.prices.not-a-uuid", []byte(`{}`))
	s.apply("equation.prices."+poolID.String(), []byte(`{"min_price_x96":"bogus"}`))

	if got := f.GetMaxPriceX96(); got.Uint64() != 210 {
		t.Errorf("max = %s after bad ticks, want 210", got)
	}
}
