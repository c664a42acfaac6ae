package settlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uhyunpark/hyperlicked/pkg/core"
	"go.uber.org/zap"
)

// fakeContract lets tests control how many BatchSettle calls fail before
// succeeding, and records every batch it receives.
type fakeContract struct {
	mu          sync.Mutex
	failCount   int32
	calls       []BatchSettlement
	nonceCursor uint64
}

func (c *fakeContract) BatchSettle(ctx context.Context, batch BatchSettlement) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, batch)
	if atomic.LoadInt32(&c.failCount) > 0 {
		atomic.AddInt32(&c.failCount, -1)
		return common.Hash{}, errors.New("simulated chain error")
	}
	return common.BytesToHash([]byte("ok")), nil
}

func (c *fakeContract) NextNonce(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonceCursor++
	return c.nonceCursor, nil
}

func (c *fakeContract) SuggestGasPrice(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

func newFill(pair string, amount string) *core.Fill {
	a, _ := decimal.NewFromString(amount)
	return &core.Fill{
		ID:          uuid.New(),
		TradingPair: pair,
		Price:       decimal.NewFromInt(100),
		Amount:      a,
		Timestamp:   time.Now(),
	}
}

func newTestSubmitter(contract Contract, cfg Config) *Submitter {
	if cfg.BatchMaxSize == 0 {
		cfg.BatchMaxSize = 1000 // disable size trigger unless the test wants it
	}
	if cfg.BatchMaxAge == 0 {
		cfg.BatchMaxAge = time.Hour // disable age trigger unless the test wants it
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	if cfg.GasMultiplier == 0 {
		cfg.GasMultiplier = 1
	}
	return NewSubmitter(cfg, contract, zap.NewNop())
}

func TestFlushSubmitsPendingFills(t *testing.T) {
	contract := &fakeContract{}
	s := newTestSubmitter(contract, Config{MaxRetries: 2})

	f1 := newFill("WETH-USDC", "1")
	f2 := newFill("WETH-USDC", "2")
	s.Enqueue(f1)
	s.Enqueue(f2)

	s.Flush(context.Background())

	stats := s.GetStats()
	if stats.Flushed != 2 {
		t.Errorf("Flushed = %d, want 2", stats.Flushed)
	}
	if stats.PendingCount != 0 {
		t.Errorf("PendingCount = %d, want 0", stats.PendingCount)
	}
	if !f1.Settled || !f2.Settled {
		t.Error("expected both fills marked Settled after a successful flush")
	}
}

func TestEnqueueFlushesAtBatchSizeTrigger(t *testing.T) {
	contract := &fakeContract{}
	s := newTestSubmitter(contract, Config{BatchMaxSize: 2, MaxRetries: 0})

	s.Enqueue(newFill("WETH-USDC", "1"))
	s.Enqueue(newFill("WETH-USDC", "2")) // hits the size trigger, flushes async

	deadline := time.After(time.Second)
	for {
		if s.GetStats().Flushed == 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("size-triggered flush never completed")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestFlushRetriesThenSucceeds(t *testing.T) {
	contract := &fakeContract{failCount: 2}
	s := newTestSubmitter(contract, Config{MaxRetries: 3})

	s.Enqueue(newFill("WETH-USDC", "1"))
	s.Flush(context.Background())

	stats := s.GetStats()
	if stats.Flushed != 1 {
		t.Fatalf("Flushed = %d, want 1 once retries exhaust the injected failures", stats.Flushed)
	}
	if len(contract.calls) != 3 {
		t.Errorf("BatchSettle call count = %d, want 3 (2 failures + 1 success)", len(contract.calls))
	}
}

func TestFlushRecordsFailureAfterRetriesExhausted(t *testing.T) {
	contract := &fakeContract{failCount: 100}
	s := newTestSubmitter(contract, Config{MaxRetries: 2})

	s.Enqueue(newFill("WETH-USDC", "1"))
	s.Flush(context.Background())

	stats := s.GetStats()
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if stats.Flushed != 0 {
		t.Errorf("Flushed = %d, want 0", stats.Flushed)
	}
}

func TestFlushDedupesRepeatedFill(t *testing.T) {
	contract := &fakeContract{}
	s := newTestSubmitter(contract, Config{MaxRetries: 0})

	f := newFill("WETH-USDC", "1")
	s.mu.Lock()
	s.pending = append(s.pending, f, f) // same fill enqueued twice
	s.mu.Unlock()

	s.Flush(context.Background())

	if len(contract.calls) != 1 || len(contract.calls[0].Fills) != 1 {
		t.Fatalf("expected the duplicate fill to be deduped into a single-entry batch, got %+v", contract.calls)
	}
}

func TestFlushIsNoopWhenNothingPending(t *testing.T) {
	contract := &fakeContract{}
	s := newTestSubmitter(contract, Config{})

	s.Flush(context.Background())

	if len(contract.calls) != 0 {
		t.Errorf("expected no BatchSettle calls for an empty batch, got %d", len(contract.calls))
	}
}
