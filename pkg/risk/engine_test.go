package risk

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/uhyunpark/hyperlicked/pkg/apperr"
	"github.com/uhyunpark/hyperlicked/pkg/core"
)

var alice = common.HexToAddress("0xa11ce")

func newOrder(amount, price string, typ core.OrderType) *core.Order {
	a, _ := decimal.NewFromString(amount)
	p, _ := decimal.NewFromString(price)
	return &core.Order{Owner: alice, TradingPair: "WETH-USDC", Amount: a, Price: p, Type: typ}
}

func fixedRef(price string) ReferencePrice {
	p, _ := decimal.NewFromString(price)
	return func(pair string) (decimal.Decimal, bool) { return p, true }
}

func TestCheckOrderRejectsBlacklistedAddress(t *testing.T) {
	e := New(Config{}, nil, []common.Address{alice})
	err := e.CheckOrder(newOrder("1", "100", core.OrderTypeLimit))
	if err == nil {
		t.Fatal("expected blacklisted address to be rejected")
	}
	ae, ok := apperr.As(err)
	if !ok || ae.Code != apperr.CodeBlacklisted {
		t.Errorf("code = %v, want CodeBlacklisted", ae)
	}
}

func TestCheckOrderEnforcesAmountBounds(t *testing.T) {
	e := New(Config{MinOrderAmount: decimal.NewFromInt(1), MaxOrderAmount: decimal.NewFromInt(100)}, nil, nil)

	if err := e.CheckOrder(newOrder("0.5", "100", core.OrderTypeLimit)); err == nil {
		t.Error("expected amount below minimum to be rejected")
	}
	if err := e.CheckOrder(newOrder("200", "100", core.OrderTypeLimit)); err == nil {
		t.Error("expected amount above maximum to be rejected")
	}
	if err := e.CheckOrder(newOrder("10", "100", core.OrderTypeLimit)); err != nil {
		t.Errorf("expected amount within bounds to pass, got %v", err)
	}
}

func TestCheckOrderEnforcesMaxOpenOrders(t *testing.T) {
	e := New(Config{MaxOpenOrdersPerUser: 1}, nil, nil)
	order := newOrder("1", "100", core.OrderTypeLimit)

	if err := e.CheckOrder(order); err != nil {
		t.Fatalf("first order should pass: %v", err)
	}
	e.NoteOrderOpened(alice)

	if err := e.CheckOrder(order); err == nil {
		t.Error("expected second order to be rejected once limit is reached")
	}

	e.NoteOrderClosed(alice)
	if err := e.CheckOrder(order); err != nil {
		t.Errorf("expected order to pass again after close, got %v", err)
	}
}

func TestCheckOrderEnforcesPriceDeviation(t *testing.T) {
	e := New(Config{MaxPriceDeviationBps: 100}, fixedRef("100"), nil) // 1% max deviation

	if err := e.CheckOrder(newOrder("1", "100.5", core.OrderTypeLimit)); err != nil {
		t.Errorf("expected 0.5%% deviation to pass, got %v", err)
	}
	if err := e.CheckOrder(newOrder("1", "105", core.OrderTypeLimit)); err == nil {
		t.Error("expected 5% deviation to be rejected")
	}
	// Market orders have no limit price, so the deviation check is skipped.
	if err := e.CheckOrder(newOrder("1", "0", core.OrderTypeMarket)); err != nil {
		t.Errorf("expected market order to skip price-deviation check, got %v", err)
	}
}

func TestCheckOrderRateLimitsPerUser(t *testing.T) {
	e := New(Config{OrdersPerMinute: 1}, nil, nil)
	order := newOrder("1", "100", core.OrderTypeLimit)

	if err := e.CheckOrder(order); err != nil {
		t.Fatalf("first order should pass: %v", err)
	}
	if err := e.CheckOrder(order); err == nil {
		t.Error("expected second order within the same instant to be rate-limited")
	}
}

func TestCheckCancelRateLimitsPerUser(t *testing.T) {
	e := New(Config{CancelsPerMinute: 1}, nil, nil)

	if err := e.CheckCancel(alice); err != nil {
		t.Fatalf("first cancel should pass: %v", err)
	}
	if err := e.CheckCancel(alice); err == nil {
		t.Error("expected second cancel to be rate-limited")
	}
}

func TestCheckSlippageRejectsBeyondCap(t *testing.T) {
	e := New(Config{MaxSlippageBps: 50}, nil, nil) // 0.5%

	ref := decimal.NewFromInt(100)
	if err := e.CheckSlippage("WETH-USDC", ref, decimal.NewFromFloat(100.3)); err != nil {
		t.Errorf("expected 0.3%% slippage to pass, got %v", err)
	}
	if err := e.CheckSlippage("WETH-USDC", ref, decimal.NewFromFloat(102)); err == nil {
		t.Error("expected 2% slippage to be rejected")
	}
}
