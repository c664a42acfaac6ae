// Package risk implements admission-time checks on incoming orders: size
// bounds, price deviation from the reference price, per-user rate limits,
// and an address blacklist.
package risk

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/uhyunpark/hyperlicked/pkg/apperr"
	"github.com/uhyunpark/hyperlicked/pkg/core"
	"golang.org/x/time/rate"
)

// Config mirrors the risk.* configuration keys.
type Config struct {
	MinOrderAmount     decimal.Decimal
	MaxOrderAmount     decimal.Decimal
	MaxPriceDeviationBps int64
	MaxOpenOrdersPerUser int
	OrdersPerMinute      int
	CancelsPerMinute     int
	MaxSlippageBps       int64
}

// ReferencePrice supplies the price to deviate-check against (mid or last
// trade), supplied by the matching engine's book.
type ReferencePrice func(pair string) (decimal.Decimal, bool)

// Engine evaluates every incoming order/cancel before it reaches the
// matching engine.
type Engine struct {
	cfg       Config
	refPrice  ReferencePrice
	blacklist map[common.Address]struct{}

	mu          sync.Mutex
	orderLimits  map[common.Address]*rate.Limiter
	cancelLimits map[common.Address]*rate.Limiter
	openOrders   map[common.Address]int
}

func New(cfg Config, refPrice ReferencePrice, blacklist []common.Address) *Engine {
	bl := make(map[common.Address]struct{}, len(blacklist))
	for _, a := range blacklist {
		bl[a] = struct{}{}
	}
	return &Engine{
		cfg:          cfg,
		refPrice:     refPrice,
		blacklist:    bl,
		orderLimits:  make(map[common.Address]*rate.Limiter),
		cancelLimits: make(map[common.Address]*rate.Limiter),
		openOrders:   make(map[common.Address]int),
	}
}

func (e *Engine) limiterFor(m map[common.Address]*rate.Limiter, user common.Address, perMinute int) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := m[user]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		m[user] = l
	}
	return l
}

// CheckOrder runs every admission-time risk check for a new order.
func (e *Engine) CheckOrder(order *core.Order) error {
	if _, blocked := e.blacklist[order.Owner]; blocked {
		return apperr.New(apperr.CodeBlacklisted, "address is blacklisted")
	}

	if e.cfg.OrdersPerMinute > 0 {
		limiter := e.limiterFor(e.orderLimits, order.Owner, e.cfg.OrdersPerMinute)
		if !limiter.Allow() {
			return apperr.New(apperr.CodeRateLimited, "order rate limit exceeded")
		}
	}

	if e.cfg.MaxOpenOrdersPerUser > 0 {
		e.mu.Lock()
		count := e.openOrders[order.Owner]
		e.mu.Unlock()
		if count >= e.cfg.MaxOpenOrdersPerUser {
			return apperr.New(apperr.CodeRiskRejected, "too many open orders")
		}
	}

	if !e.cfg.MinOrderAmount.IsZero() && order.Amount.LessThan(e.cfg.MinOrderAmount) {
		return apperr.New(apperr.CodeRiskRejected, "order amount below minimum")
	}
	if !e.cfg.MaxOrderAmount.IsZero() && order.Amount.GreaterThan(e.cfg.MaxOrderAmount) {
		return apperr.New(apperr.CodeRiskRejected, "order amount above maximum")
	}

	if e.cfg.MaxPriceDeviationBps > 0 && order.Type != core.OrderTypeMarket && e.refPrice != nil {
		if ref, ok := e.refPrice(order.TradingPair); ok && ref.IsPositive() {
			deviationBps := order.Price.Sub(ref).Abs().Div(ref).Mul(decimal.NewFromInt(10000))
			if deviationBps.GreaterThan(decimal.NewFromInt(e.cfg.MaxPriceDeviationBps)) {
				return apperr.New(apperr.CodeRiskRejected, "price deviates too far from reference")
			}
		}
	}

	return nil
}

// CheckCancel rate-limits cancel requests per user.
func (e *Engine) CheckCancel(user common.Address) error {
	if e.cfg.CancelsPerMinute <= 0 {
		return nil
	}
	limiter := e.limiterFor(e.cancelLimits, user, e.cfg.CancelsPerMinute)
	if !limiter.Allow() {
		return apperr.New(apperr.CodeRateLimited, "cancel rate limit exceeded")
	}
	return nil
}

// NoteOrderOpened/NoteOrderClosed track the user's open-order count for the
// MaxOpenOrdersPerUser check.
func (e *Engine) NoteOrderOpened(user common.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openOrders[user]++
}

func (e *Engine) NoteOrderClosed(user common.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openOrders[user] > 0 {
		e.openOrders[user]--
	}
}

// CheckSlippage validates a market order's projected average execution
// price, estimated from resting book depth before the order is matched,
// against the reference price. Called by the matching engine's actor
// goroutine ahead of Book.Place so a breach rejects admission outright
// instead of unwinding an already-applied match.
func (e *Engine) CheckSlippage(pair string, preTradeRef, avgFillPrice decimal.Decimal) error {
	if e.cfg.MaxSlippageBps <= 0 || preTradeRef.IsZero() {
		return nil
	}
	slippageBps := avgFillPrice.Sub(preTradeRef).Abs().Div(preTradeRef).Mul(decimal.NewFromInt(10000))
	if slippageBps.GreaterThan(decimal.NewFromInt(e.cfg.MaxSlippageBps)) {
		return apperr.New(apperr.CodeRiskRejected, "market order exceeded slippage cap")
	}
	return nil
}
