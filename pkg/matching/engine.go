// Package matching runs one actor goroutine per trading pair, serializing
// all order admission and cancellation for that pair onto a single command
// channel so the order book needs no internal locking on the hot path.
package matching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uhyunpark/hyperlicked/pkg/apperr"
	"github.com/uhyunpark/hyperlicked/pkg/balance"
	"github.com/uhyunpark/hyperlicked/pkg/core"
	"github.com/uhyunpark/hyperlicked/pkg/orderbook"
	"github.com/uhyunpark/hyperlicked/pkg/risk"
	"github.com/uhyunpark/hyperlicked/pkg/util"
	"go.uber.org/zap"
)

// SelfTradePolicy selects the disposition applied when a taker would match
// against its own resting order. Default is Allow, matching the source
// system's unrestricted behavior; configurable per deployment.
type SelfTradePolicy = orderbook.SelfTradeAction

const (
	SelfTradeAllow       = orderbook.SelfTradeAllow
	SelfTradeCancelTaker = orderbook.SelfTradeCancelTaker
	SelfTradeCancelMaker = orderbook.SelfTradeCancelMaker
	SelfTradeCancelBoth  = orderbook.SelfTradeCancelBoth
)

// FillSink receives every fill produced by a match, in order, for broadcast
// and settlement enqueue. Called from the pair's actor goroutine — it must
// not block for long.
type FillSink interface {
	OnFills(pair string, fills []*core.Fill)
	OnOrderUpdate(order *core.Order)
}

type pairActor struct {
	pair  *core.TradingPair
	book  *orderbook.Book
	inbox chan func()
	done  chan struct{}
}

func newPairActor(pair *core.TradingPair) *pairActor {
	a := &pairActor{
		pair:  pair,
		book:  orderbook.New(pair.Symbol),
		inbox: make(chan func(), 1024),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *pairActor) run() {
	for {
		select {
		case fn := <-a.inbox:
			fn()
		case <-a.done:
			return
		}
	}
}

func (a *pairActor) submit(fn func()) {
	a.inbox <- fn
}

func (a *pairActor) stop() {
	close(a.done)
}

// Engine owns one pairActor per registered trading pair plus the shared
// balance manager, self-trade policy, and fill sink every pair uses.
type Engine struct {
	mu        sync.RWMutex
	actors    map[string]*pairActor
	balances  *balance.Manager
	sink      FillSink
	selfTrade SelfTradePolicy
	log       *zap.Logger
	clock     util.Clock
	risk      *risk.Engine

	// replayMu guards seenHashes/userNonces independently of mu: replay
	// protection is global across pairs, not scoped to one actor.
	replayMu   sync.Mutex
	seenHashes map[string]struct{}
	userNonces map[common.Address]uint64
}

func NewEngine(balances *balance.Manager, sink FillSink, selfTrade SelfTradePolicy, log *zap.Logger) *Engine {
	return NewEngineWithClock(balances, sink, selfTrade, log, util.RealClock{})
}

// NewEngineWithClock lets callers (principally tests) supply a deterministic
// clock instead of wall-clock time for the timestamps stamped on fills.
func NewEngineWithClock(balances *balance.Manager, sink FillSink, selfTrade SelfTradePolicy, log *zap.Logger, clock util.Clock) *Engine {
	return &Engine{
		actors:     make(map[string]*pairActor),
		balances:   balances,
		sink:       sink,
		selfTrade:  selfTrade,
		log:        log,
		clock:      clock,
		seenHashes: make(map[string]struct{}),
		userNonces: make(map[common.Address]uint64),
	}
}

// SetRiskEngine wires the risk engine used for checks that can only run
// inside a pair's actor goroutine, such as a market order's projected
// slippage against resting book depth. Optional — nil (the default)
// disables those checks.
func (e *Engine) SetRiskEngine(r *risk.Engine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.risk = r
}

func (e *Engine) riskEngine() *risk.Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.risk
}

// RegisterPair starts a new actor for a trading pair. Calling it twice for
// the same symbol is a no-op.
func (e *Engine) RegisterPair(pair *core.TradingPair) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.actors[pair.Symbol]; ok {
		return
	}
	e.actors[pair.Symbol] = newPairActor(pair)
}

func (e *Engine) actorFor(symbol string) (*pairActor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.actors[symbol]
	return a, ok
}

// GetPair returns the registered trading pair's parameters.
func (e *Engine) GetPair(symbol string) (*core.TradingPair, bool) {
	actor, ok := e.actorFor(symbol)
	if !ok {
		return nil, false
	}
	return actor.pair, true
}

// ListPairs returns every registered trading pair.
func (e *Engine) ListPairs() []*core.TradingPair {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*core.TradingPair, 0, len(e.actors))
	for _, a := range e.actors {
		out = append(out, a.pair)
	}
	return out
}

// ReferencePrice exposes the pair's last trade (fallback mid) price for the
// risk engine's price-deviation check.
func (e *Engine) ReferencePrice(symbol string) (decimal.Decimal, bool) {
	actor, ok := e.actorFor(symbol)
	if !ok {
		return decimal.Zero, false
	}
	type result struct {
		price decimal.Decimal
		ok    bool
	}
	resCh := make(chan result, 1)
	actor.submit(func() {
		if p, ok := actor.book.LastTradePrice(); ok {
			resCh <- result{price: p, ok: true}
			return
		}
		if p, ok := actor.book.MidPrice(); ok {
			resCh <- result{price: p, ok: true}
			return
		}
		resCh <- result{ok: false}
	})
	res := <-resCh
	return res.price, res.ok
}

// reserveAdmission enforces replay protection ahead of matching: an
// order's hash must never repeat across all accepted orders, and a user's
// nonce must strictly increase across their own admitted orders. Both
// reservations are tentative — the returned rollback must be called if the
// order is ultimately rejected downstream, so a failed admission doesn't
// permanently burn the hash/nonce for a retry. A zero-value Hash (tests
// that don't populate it) skips the hash check only; nonce monotonicity
// still applies.
func (e *Engine) reserveAdmission(order *core.Order) (rollback func(), err error) {
	e.replayMu.Lock()
	defer e.replayMu.Unlock()

	if order.Hash != "" {
		if _, dup := e.seenHashes[order.Hash]; dup {
			return nil, apperr.New(apperr.CodeDuplicateOrder, "an order with this hash was already admitted")
		}
	}

	prevNonce, hadNonce := e.userNonces[order.Owner]
	if hadNonce && order.Nonce <= prevNonce {
		return nil, apperr.New(apperr.CodeNonceTooLow, "nonce must exceed the user's previously admitted nonce")
	}

	if order.Hash != "" {
		e.seenHashes[order.Hash] = struct{}{}
	}
	e.userNonces[order.Owner] = order.Nonce

	return func() {
		e.replayMu.Lock()
		defer e.replayMu.Unlock()
		if order.Hash != "" {
			delete(e.seenHashes, order.Hash)
		}
		if hadNonce {
			e.userNonces[order.Owner] = prevNonce
		} else {
			delete(e.userNonces, order.Owner)
		}
	}, nil
}

// PlaceOrder runs the full admission pipeline for a new order and blocks
// until the pair's actor has processed it: reject replays, validate
// against the pair's tick/lot/notional rules, lock the required balance,
// match, transfer balances for each fill, and notify the fill sink. The
// engine itself writes nothing to storage. This mirrors the teacher's apply_signed_tx admission
// flow, generalized from perpetual margin-locking to spot balance-locking.
func (e *Engine) PlaceOrder(ctx context.Context, order *core.Order) error {
	actor, ok := e.actorFor(order.TradingPair)
	if !ok {
		return apperr.New(apperr.CodeUnknownPair, fmt.Sprintf("unknown trading pair %s", order.TradingPair))
	}

	rollback, err := e.reserveAdmission(order)
	if err != nil {
		return err
	}

	type result struct {
		err error
	}
	resCh := make(chan result, 1)

	actor.submit(func() {
		err := e.placeOnActor(actor, order)
		resCh <- result{err: err}
	})

	select {
	case res := <-resCh:
		if res.err != nil {
			rollback()
		}
		return res.err
	case <-ctx.Done():
		// The submit is already queued and will run asynchronously; its
		// hash/nonce reservation must stand regardless of outcome, so no
		// rollback here.
		return ctx.Err()
	}
}

func (e *Engine) placeOnActor(actor *pairActor, order *core.Order) error {
	pair := actor.pair

	if order.Type != core.OrderTypeMarket {
		if !pair.ValidateTick(order.Price) {
			return apperr.New(apperr.CodeTickSizeViolation, "price is not a multiple of tick size")
		}
		notional := order.Price.Mul(order.Amount)
		if notional.LessThan(pair.MinNotional) {
			return apperr.New(apperr.CodeBelowMinNotional, "order notional below pair minimum")
		}
	}
	if !pair.ValidateLot(order.Amount) {
		return apperr.New(apperr.CodeTickSizeViolation, "amount is not a multiple of lot size")
	}

	lockToken, lockQty := order.LockAmount()
	if order.Type != core.OrderTypeMarket {
		if err := e.balances.LockForOrder(order.ID, order.Owner, lockToken, lockQty, order.ExpiresAt); err != nil {
			order.Status = core.StatusRejected
			return err
		}
	}

	if order.Type == core.OrderTypeMarket {
		if riskEngine := e.riskEngine(); riskEngine != nil {
			if preRef, ok := referencePriceFromBook(actor.book); ok {
				if projected, ok := actor.book.ProjectedAveragePrice(order.Side, order.Remaining()); ok {
					if err := riskEngine.CheckSlippage(pair.Symbol, preRef, projected); err != nil {
						order.Status = core.StatusRejected
						return err
					}
				}
			}
		}
	}

	now := e.clock.Now()
	var selfTradeFn orderbook.SelfTradeFunc
	if e.selfTrade != SelfTradeAllow {
		policy := e.selfTrade
		selfTradeFn = func(_, _ *core.Order) orderbook.SelfTradeAction { return policy }
	}

	fills := actor.book.Place(order, now, selfTradeFn)

	for _, f := range fills {
		if err := e.balances.TransferOnFill(
			f.TakerOrder, f.MakerOrder,
			f.TakerOwner, f.MakerOwner,
			pair.BaseToken, pair.QuoteToken,
			f.TakerSide == core.SideBuy,
			f.Price, f.Amount,
		); err != nil {
			e.log.Error("balance transfer failed after match", zap.Error(err), zap.String("pair", pair.Symbol))
		}
	}

	if order.Status == core.StatusRejected || order.Status == core.StatusCancelled {
		if order.Filled.IsZero() {
			_ = e.balances.UnlockForOrder(order.ID, order.Owner, lockToken)
		}
	}

	if e.sink != nil {
		if len(fills) > 0 {
			e.sink.OnFills(pair.Symbol, fills)
		}
		e.sink.OnOrderUpdate(order)
	}

	return nil
}

// CancelOrder removes a resting order from its pair's book and releases
// its remaining lock.
func (e *Engine) CancelOrder(ctx context.Context, pair string, owner common.Address, orderID uuid.UUID) (*core.Order, error) {
	actor, ok := e.actorFor(pair)
	if !ok {
		return nil, apperr.New(apperr.CodeUnknownPair, fmt.Sprintf("unknown trading pair %s", pair))
	}

	type result struct {
		order *core.Order
		err   error
	}
	resCh := make(chan result, 1)

	actor.submit(func() {
		order, found := actor.book.Cancel(orderID)
		if !found {
			resCh <- result{err: apperr.New(apperr.CodeOrderNotFound, "order not found")}
			return
		}
		if order.Owner != owner {
			resCh <- result{err: apperr.New(apperr.CodeNotOrderOwner, "caller does not own this order")}
			return
		}
		lockToken, _ := order.LockAmount()
		if err := e.balances.UnlockForOrder(order.ID, order.Owner, lockToken); err != nil {
			e.log.Warn("failed to unlock balance on cancel", zap.Error(err))
		}
		if e.sink != nil {
			e.sink.OnOrderUpdate(order)
		}
		resCh <- result{order: order}
	})

	select {
	case res := <-resCh:
		return res.order, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns the current book depth for a pair.
func (e *Engine) Snapshot(pair string, depth int) (bids, asks []orderbook.LevelView, ok bool) {
	actor, found := e.actorFor(pair)
	if !found {
		return nil, nil, false
	}
	type result struct{ bids, asks []orderbook.LevelView }
	resCh := make(chan result, 1)
	actor.submit(func() {
		b, a := actor.book.Snapshot(depth)
		resCh <- result{bids: b, asks: a}
	})
	res := <-resCh
	return res.bids, res.asks, true
}

// SweepExpired walks every pair's book and cancels orders past their
// deadline, releasing their locks. Intended to be called periodically by a
// background ticker (spec's expiry sweep).
func (e *Engine) SweepExpired(now time.Time) {
	e.mu.RLock()
	actors := make([]*pairActor, 0, len(e.actors))
	for _, a := range e.actors {
		actors = append(actors, a)
	}
	e.mu.RUnlock()

	for _, actor := range actors {
		actor.submit(func() {
			e.sweepActorExpired(actor, now)
		})
	}
}

func (e *Engine) sweepActorExpired(actor *pairActor, now time.Time) {
	expired := actor.book.ExpireOrders(now)
	for _, order := range expired {
		lockToken, _ := order.LockAmount()
		if err := e.balances.UnlockForOrder(order.ID, order.Owner, lockToken); err != nil {
			e.log.Warn("failed to unlock balance on order expiry", zap.Error(err))
		}
		if e.sink != nil {
			e.sink.OnOrderUpdate(order)
		}
	}
}

// SweepTriggers walks every pair's book and activates any STOP_LOSS/
// TAKE_PROFIT order whose trigger price has been crossed by the last
// trade price, running it through the normal match-then-rest path.
// Intended to run on its own periodic ticker alongside SweepExpired.
func (e *Engine) SweepTriggers(now time.Time) {
	e.mu.RLock()
	actors := make([]*pairActor, 0, len(e.actors))
	for _, a := range e.actors {
		actors = append(actors, a)
	}
	e.mu.RUnlock()

	for _, actor := range actors {
		actor.submit(func() {
			e.sweepActorTriggers(actor, now)
		})
	}
}

func (e *Engine) sweepActorTriggers(actor *pairActor, now time.Time) {
	pair := actor.pair
	var selfTradeFn orderbook.SelfTradeFunc
	if e.selfTrade != SelfTradeAllow {
		policy := e.selfTrade
		selfTradeFn = func(_, _ *core.Order) orderbook.SelfTradeAction { return policy }
	}

	fills, promoted := actor.book.PromoteTriggers(now, selfTradeFn)
	for _, f := range fills {
		if err := e.balances.TransferOnFill(
			f.TakerOrder, f.MakerOrder,
			f.TakerOwner, f.MakerOwner,
			pair.BaseToken, pair.QuoteToken,
			f.TakerSide == core.SideBuy,
			f.Price, f.Amount,
		); err != nil {
			e.log.Error("balance transfer failed after trigger promotion", zap.Error(err), zap.String("pair", pair.Symbol))
		}
	}

	if e.sink != nil {
		if len(fills) > 0 {
			e.sink.OnFills(pair.Symbol, fills)
		}
		for _, order := range promoted {
			e.sink.OnOrderUpdate(order)
		}
	}
}

// referencePriceFromBook mirrors Engine.ReferencePrice's last-trade-then-
// mid fallback, usable directly inside an actor goroutine without
// resubmitting to the same actor's inbox (which would deadlock).
func referencePriceFromBook(book *orderbook.Book) (decimal.Decimal, bool) {
	if p, ok := book.LastTradePrice(); ok {
		return p, true
	}
	return book.MidPrice()
}
