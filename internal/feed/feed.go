// Package feed supplies reference prices to the pools. Prices arrive as
// bid/ask style min and max Q96 values over NATS JetStream; each pool reads
// the latest observation, so a stale or dropped tick only delays the next
// price, it never corrupts state.
package feed

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

// Feed holds the latest min and max price for one market. It satisfies the
// pool's price source interface; reads always see a complete pair.
type Feed struct {
	mu       sync.RWMutex
	minX96   *uint256.Int
	maxX96   *uint256.Int
	priceSeq uint64
}

// NewFeed starts with both prices at zero. A pool whose feed has not ticked
// yet rejects trades through its own zero-price checks.
func NewFeed() *Feed {
	return &Feed{
		minX96: new(uint256.Int),
		maxX96: new(uint256.Int),
	}
}

// Set replaces both prices. Out-of-order ticks are ignored: priceSeq must
// be strictly greater than the last applied one.
func (f *Feed) Set(minX96, maxX96 *uint256.Int, priceSeq uint64) error {
	if minX96.Gt(maxX96) {
		return fmt.Errorf("min price %s above max price %s", minX96, maxX96)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if priceSeq <= f.priceSeq && f.priceSeq != 0 {
		return nil
	}
	f.minX96 = new(uint256.Int).Set(minX96)
	f.maxX96 = new(uint256.Int).Set(maxX96)
	f.priceSeq = priceSeq
	return nil
}

func (f *Feed) GetMinPriceX96() *uint256.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return new(uint256.Int).Set(f.minX96)
}

func (f *Feed) GetMaxPriceX96() *uint256.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return new(uint256.Int).Set(f.maxX96)
}
