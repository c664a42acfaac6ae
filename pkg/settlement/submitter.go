// Package settlement batches confirmed fills and submits them on-chain,
// flushing on a size or age trigger with exactly one flush in flight at a
// time, and a circuit breaker around the contract call so a persistently
// failing chain doesn't spin the submitter into a tight retry loop.
package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/uhyunpark/hyperlicked/pkg/core"
	"go.uber.org/zap"
)

type Config struct {
	BatchMaxSize  int
	BatchMaxAge   time.Duration
	GasMultiplier float64
	MaxRetries    int
	RetryBackoff  time.Duration
}

// Submitter accumulates fills and periodically flushes them as batches.
type Submitter struct {
	cfg      Config
	contract Contract
	log      *zap.Logger
	breaker  *gobreaker.CircuitBreaker[common_]

	mu      sync.Mutex
	pending []*core.Fill
	timer   *time.Timer

	flushing sync.Mutex // held for the duration of exactly one in-flight flush

	flushedCount int64
	failedCount  int64
}

// common_ is the breaker's result type; BatchSettle's tx hash isn't needed
// by callers of Execute, so the breaker just tracks success/failure.
type common_ = struct{}

func NewSubmitter(cfg Config, contract Contract, log *zap.Logger) *Submitter {
	st := gobreaker.Settings{
		Name:        "settlement-submitter",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	s := &Submitter{
		cfg:      cfg,
		contract: contract,
		log:      log,
		breaker:  gobreaker.NewCircuitBreaker[common_](st),
	}
	s.resetTimer()
	return s
}

// Enqueue adds a confirmed fill to the pending batch, flushing immediately
// if the size trigger is hit.
func (s *Submitter) Enqueue(fill *core.Fill) {
	s.mu.Lock()
	s.pending = append(s.pending, fill)
	shouldFlush := len(s.pending) >= s.cfg.BatchMaxSize
	s.mu.Unlock()

	if shouldFlush {
		go s.Flush(context.Background())
	}
}

func (s *Submitter) resetTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.BatchMaxAge, func() {
		s.Flush(context.Background())
		s.resetTimer()
	})
}

// Flush submits whatever is pending as one batch. Only one flush may be in
// flight at a time — a concurrent caller returns immediately rather than
// racing a second submission of the same fills.
func (s *Submitter) Flush(ctx context.Context) {
	if !s.flushing.TryLock() {
		return
	}
	defer s.flushing.Unlock()

	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	deduped := dedupeByOrder(batch)

	if err := s.submitWithRetry(ctx, deduped); err != nil {
		s.log.Error("settlement batch failed after retries", zap.Error(err), zap.Int("fills", len(deduped)))
		s.mu.Lock()
		s.failedCount += int64(len(deduped))
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.flushedCount += int64(len(deduped))
	s.mu.Unlock()
}

func (s *Submitter) submitWithRetry(ctx context.Context, fills []*core.Fill) error {
	batch := toBatchSettlement(fills)

	var lastErr error
	backoff := s.cfg.RetryBackoff
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		nonce, nonceErr := s.contract.NextNonce(ctx)
		gasPrice, gasErr := s.contract.SuggestGasPrice(ctx)
		if nonceErr != nil {
			lastErr = nonceErr
		} else if gasErr != nil {
			lastErr = gasErr
		} else {
			batch.Nonce = nonce
			s.log.Debug("submitting settlement batch", zap.Int("fills", len(fills)), zap.String("gas_price", gasPrice.String()))
			_, execErr := s.breaker.Execute(func() (common_, error) {
				_, err := s.contract.BatchSettle(ctx, batch)
				return common_{}, err
			})
			if execErr == nil {
				for _, f := range fills {
					f.Settled = true
				}
				return nil
			}
			lastErr = execErr
		}

		if attempt < s.cfg.MaxRetries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(float64(backoff) * s.cfg.GasMultiplier)
		}
	}
	return fmt.Errorf("settlement failed after %d attempts: %w", s.cfg.MaxRetries+1, lastErr)
}

// Stats reports flush counters for operator visibility.
type Stats struct {
	Flushed int64
	Failed  int64
	PendingCount int
	BreakerState string
}

func (s *Submitter) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Flushed:      s.flushedCount,
		Failed:       s.failedCount,
		PendingCount: len(s.pending),
		BreakerState: s.breaker.State().String(),
	}
}

// dedupeByOrder drops a fill whose matched order pair and terms exactly
// repeat an earlier fill in the batch. Keying on the fill's own ID would
// never catch anything — every fill gets a fresh uuid — so the key is the
// pair of order hashes the fill settles between plus the matched price and
// amount, the actual identity of a settlement on-chain.
func dedupeByOrder(fills []*core.Fill) []*core.Fill {
	seen := make(map[string]struct{}, len(fills))
	out := make([]*core.Fill, 0, len(fills))
	for _, f := range fills {
		key := f.TakerHash + "|" + f.MakerHash + "|" + f.Price.String() + "|" + f.Amount.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

func toBatchSettlement(fills []*core.Fill) BatchSettlement {
	takerOrders := make([]SettledOrder, 0, len(fills))
	makerOrders := make([]SettledOrder, 0, len(fills))
	takerSigs := make([]string, 0, len(fills))
	makerSigs := make([]string, 0, len(fills))
	settledFills := make([]SettledFill, 0, len(fills))

	for _, f := range fills {
		makerSide := f.TakerSide.Opposite()
		takerOrders = append(takerOrders, SettledOrder{
			TradingPair: f.TradingPair,
			Owner:       f.TakerOwner,
			BaseToken:   f.BaseToken,
			QuoteToken:  f.QuoteToken,
			Side:        uint8(f.TakerSide),
			Price:       f.TakerPrice,
			Amount:      f.TakerAmount,
			Nonce:       f.TakerNonce,
		})
		makerOrders = append(makerOrders, SettledOrder{
			TradingPair: f.TradingPair,
			Owner:       f.MakerOwner,
			BaseToken:   f.BaseToken,
			QuoteToken:  f.QuoteToken,
			Side:        uint8(makerSide),
			Price:       f.MakerPrice,
			Amount:      f.MakerAmount,
			Nonce:       f.MakerNonce,
		})
		takerSigs = append(takerSigs, f.TakerSignature)
		makerSigs = append(makerSigs, f.MakerSignature)
		settledFills = append(settledFills, SettledFill{
			TakerHash: f.TakerHash,
			MakerHash: f.MakerHash,
			Price:     f.Price,
			Amount:    f.Amount,
			TakerSide: uint8(f.TakerSide),
		})
	}

	return BatchSettlement{
		TakerOrders:     takerOrders,
		MakerOrders:     makerOrders,
		TakerSignatures: takerSigs,
		MakerSignatures: makerSigs,
		Fills:           settledFills,
	}
}
