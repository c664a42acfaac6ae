package orderbook

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uhyunpark/hyperlicked/pkg/core"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newOrder(side core.Side, typ core.OrderType, price, amount string) *core.Order {
	return &core.Order{
		ID:     uuid.New(),
		Owner:  common.BigToAddress(big.NewInt(int64(side) + 1)),
		Side:   side,
		Type:   typ,
		Price:  d(price),
		Amount: d(amount),
		Status: core.StatusPending,
	}
}

func TestPlaceRestsWhenNoCross(t *testing.T) {
	b := New("WETH-USDC")
	buy := newOrder(core.SideBuy, core.OrderTypeLimit, "100", "1")

	fills := b.Place(buy, time.Now(), nil)
	if len(fills) != 0 {
		t.Fatalf("expected no fills, got %d", len(fills))
	}
	if buy.Status != core.StatusOpen {
		t.Errorf("status = %s, want OPEN", buy.Status)
	}
	bid, ok := b.BestBid()
	if !ok || !bid.Equal(d("100")) {
		t.Errorf("best bid = %v, ok=%v, want 100", bid, ok)
	}
}

func TestPlaceFullMatch(t *testing.T) {
	b := New("WETH-USDC")
	maker := newOrder(core.SideSell, core.OrderTypeLimit, "100", "1")
	b.Place(maker, time.Now(), nil)

	taker := newOrder(core.SideBuy, core.OrderTypeLimit, "100", "1")
	fills := b.Place(taker, time.Now(), nil)

	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if !fills[0].Amount.Equal(d("1")) {
		t.Errorf("fill amount = %s, want 1", fills[0].Amount)
	}
	if taker.Status != core.StatusFilled || maker.Status != core.StatusFilled {
		t.Errorf("taker=%s maker=%s, want both FILLED", taker.Status, maker.Status)
	}
	if _, ok := b.BestAsk(); ok {
		t.Error("ask side should be empty after full match")
	}
}

func TestPlacePartialMatchRestsRemainder(t *testing.T) {
	b := New("WETH-USDC")
	maker := newOrder(core.SideSell, core.OrderTypeLimit, "100", "1")
	b.Place(maker, time.Now(), nil)

	taker := newOrder(core.SideBuy, core.OrderTypeLimit, "100", "3")
	fills := b.Place(taker, time.Now(), nil)

	if len(fills) != 1 || !fills[0].Amount.Equal(d("1")) {
		t.Fatalf("unexpected fills: %+v", fills)
	}
	if taker.Status != core.StatusPartiallyFilled {
		t.Errorf("taker status = %s, want PARTIALLY_FILLED", taker.Status)
	}
	bid, ok := b.BestBid()
	if !ok || !bid.Equal(d("100")) {
		t.Fatalf("expected remainder resting at 100, got %v ok=%v", bid, ok)
	}
}

func TestPriceTimePriority(t *testing.T) {
	b := New("WETH-USDC")
	first := newOrder(core.SideSell, core.OrderTypeLimit, "100", "1")
	second := newOrder(core.SideSell, core.OrderTypeLimit, "100", "1")
	b.Place(first, time.Now(), nil)
	b.Place(second, time.Now(), nil)

	taker := newOrder(core.SideBuy, core.OrderTypeLimit, "100", "1")
	fills := b.Place(taker, time.Now(), nil)

	if len(fills) != 1 || fills[0].MakerOrder != first.ID {
		t.Fatalf("expected fill against first resting order, got %+v", fills)
	}
}

func TestBestPriceBeforeWorsePrice(t *testing.T) {
	b := New("WETH-USDC")
	worse := newOrder(core.SideSell, core.OrderTypeLimit, "101", "1")
	better := newOrder(core.SideSell, core.OrderTypeLimit, "99", "1")
	b.Place(worse, time.Now(), nil)
	b.Place(better, time.Now(), nil)

	taker := newOrder(core.SideBuy, core.OrderTypeLimit, "101", "1")
	fills := b.Place(taker, time.Now(), nil)

	if len(fills) != 1 || !fills[0].Price.Equal(d("99")) {
		t.Fatalf("expected to match the better (lower) ask first, got %+v", fills)
	}
}

func TestIOCCancelsUnfilledRemainder(t *testing.T) {
	b := New("WETH-USDC")
	taker := newOrder(core.SideBuy, core.OrderTypeIOC, "100", "5")
	fills := b.Place(taker, time.Now(), nil)

	if len(fills) != 0 {
		t.Fatalf("expected no fills against empty book, got %d", len(fills))
	}
	if taker.Status != core.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", taker.Status)
	}
	if _, ok := b.BestBid(); ok {
		t.Error("IOC remainder must not rest on the book")
	}
}

func TestMarketOrderCrossesAnyPrice(t *testing.T) {
	b := New("WETH-USDC")
	maker := newOrder(core.SideSell, core.OrderTypeLimit, "500", "1")
	b.Place(maker, time.Now(), nil)

	taker := newOrder(core.SideBuy, core.OrderTypeMarket, "0", "1")
	fills := b.Place(taker, time.Now(), nil)

	if len(fills) != 1 {
		t.Fatalf("expected market order to cross, got %d fills", len(fills))
	}
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	b := New("WETH-USDC")
	o := newOrder(core.SideBuy, core.OrderTypeLimit, "100", "1")
	b.Place(o, time.Now(), nil)

	cancelled, ok := b.Cancel(o.ID)
	if !ok || cancelled.ID != o.ID {
		t.Fatalf("expected to cancel order %s", o.ID)
	}
	if cancelled.Status != core.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", cancelled.Status)
	}
	if _, ok := b.BestBid(); ok {
		t.Error("book should be empty after cancelling its only order")
	}
	if _, ok := b.Cancel(o.ID); ok {
		t.Error("cancelling twice should report not found")
	}
}

func TestExpireOrdersSweepsPastDeadline(t *testing.T) {
	b := New("WETH-USDC")
	now := time.Now()
	expired := newOrder(core.SideBuy, core.OrderTypeLimit, "100", "1")
	expired.ExpiresAt = now.Add(-time.Minute)
	fresh := newOrder(core.SideBuy, core.OrderTypeLimit, "99", "1")
	fresh.ExpiresAt = now.Add(time.Hour)

	b.Place(expired, now, nil)
	b.Place(fresh, now, nil)

	out := b.ExpireOrders(now)
	if len(out) != 1 || out[0].ID != expired.ID {
		t.Fatalf("expected only the expired order to sweep, got %+v", out)
	}
	if out[0].Status != core.StatusExpired {
		t.Errorf("status = %s, want EXPIRED", out[0].Status)
	}

	bid, ok := b.BestBid()
	if !ok || !bid.Equal(d("99")) {
		t.Error("fresh order should remain resting after sweep")
	}
}

func TestSelfTradeCancelTaker(t *testing.T) {
	b := New("WETH-USDC")
	maker := newOrder(core.SideSell, core.OrderTypeLimit, "100", "1")
	taker := newOrder(core.SideBuy, core.OrderTypeLimit, "100", "1")
	taker.Owner = maker.Owner // same owner triggers self-trade check

	b.Place(maker, time.Now(), nil)
	selfTrade := func(_, _ *core.Order) SelfTradeAction { return SelfTradeCancelTaker }
	fills := b.Place(taker, time.Now(), selfTrade)

	if len(fills) != 0 {
		t.Fatalf("expected no fills when self-trade cancels the taker, got %d", len(fills))
	}
	if taker.Status != core.StatusCancelled {
		t.Errorf("taker status = %s, want CANCELLED", taker.Status)
	}
	if maker.Status == core.StatusCancelled {
		t.Error("maker should remain resting when only the taker is cancelled")
	}
}

func TestPlaceRestsTriggerOrderWithoutMatching(t *testing.T) {
	b := New("WETH-USDC")
	stop := newOrder(core.SideSell, core.OrderTypeStopLoss, "95", "1")
	stop.TriggerPrice = d("100")

	fills := b.Place(stop, time.Now(), nil)
	if len(fills) != 0 {
		t.Fatalf("expected a resting trigger order to produce no fills, got %d", len(fills))
	}
	if stop.Status != core.StatusOpen {
		t.Errorf("status = %s, want OPEN", stop.Status)
	}
	if _, ok := b.BestAsk(); ok {
		t.Error("a trigger order must not occupy the live ask side until promoted")
	}
}

func TestPromoteTriggersActivatesStopLossOnPriceCross(t *testing.T) {
	b := New("WETH-USDC")
	maker := newOrder(core.SideBuy, core.OrderTypeLimit, "95", "1")
	b.Place(maker, time.Now(), nil)

	stop := newOrder(core.SideSell, core.OrderTypeStopLoss, "95", "1")
	stop.TriggerPrice = d("100")
	b.Place(stop, time.Now(), nil)

	// No trade has happened yet, so there is nothing to compare the
	// trigger against.
	fills, promoted := b.PromoteTriggers(time.Now(), nil)
	if len(fills) != 0 || len(promoted) != 0 {
		t.Fatalf("expected no promotion before any trade, got fills=%d promoted=%d", len(fills), len(promoted))
	}

	crossMaker := newOrder(core.SideSell, core.OrderTypeLimit, "100", "1")
	b.Place(crossMaker, time.Now(), nil)
	crossTaker := newOrder(core.SideBuy, core.OrderTypeLimit, "100", "1")
	b.Place(crossTaker, time.Now(), nil)

	fills, promoted = b.PromoteTriggers(time.Now(), nil)
	if len(promoted) != 1 || promoted[0].ID != stop.ID {
		t.Fatalf("expected the stop-loss order to promote, got %+v", promoted)
	}
	if promoted[0].Type != core.OrderTypeLimit {
		t.Errorf("promoted order type = %s, want LIMIT", promoted[0].Type)
	}
	if len(fills) != 1 || fills[0].MakerOrder != maker.ID {
		t.Fatalf("expected the promoted order to match the resting buy at 95, got %+v", fills)
	}
}

func TestPromoteTriggersActivatesTakeProfitOnPriceCross(t *testing.T) {
	b := New("WETH-USDC")
	maker := newOrder(core.SideSell, core.OrderTypeLimit, "105", "1")
	b.Place(maker, time.Now(), nil)

	takeProfit := newOrder(core.SideBuy, core.OrderTypeTakeProfit, "105", "1")
	takeProfit.TriggerPrice = d("100")
	b.Place(takeProfit, time.Now(), nil)

	crossMaker := newOrder(core.SideBuy, core.OrderTypeLimit, "100", "1")
	b.Place(crossMaker, time.Now(), nil)
	crossTaker := newOrder(core.SideSell, core.OrderTypeLimit, "100", "1")
	b.Place(crossTaker, time.Now(), nil)

	_, promoted := b.PromoteTriggers(time.Now(), nil)
	if len(promoted) != 1 || promoted[0].ID != takeProfit.ID {
		t.Fatalf("expected the take-profit order to promote, got %+v", promoted)
	}
}

func TestCancelRemovesPendingTriggerOrder(t *testing.T) {
	b := New("WETH-USDC")
	stop := newOrder(core.SideSell, core.OrderTypeStopLoss, "95", "1")
	stop.TriggerPrice = d("100")
	b.Place(stop, time.Now(), nil)

	cancelled, ok := b.Cancel(stop.ID)
	if !ok || cancelled.ID != stop.ID {
		t.Fatalf("expected to cancel pending trigger order %s", stop.ID)
	}

	maker := newOrder(core.SideSell, core.OrderTypeLimit, "100", "1")
	b.Place(maker, time.Now(), nil)
	taker := newOrder(core.SideBuy, core.OrderTypeLimit, "100", "1")
	b.Place(taker, time.Now(), nil)

	_, promoted := b.PromoteTriggers(time.Now(), nil)
	if len(promoted) != 0 {
		t.Errorf("expected the cancelled trigger order to never promote, got %+v", promoted)
	}
}

func TestProjectedAveragePriceWalksRestingLiquidity(t *testing.T) {
	b := New("WETH-USDC")
	b.Place(newOrder(core.SideSell, core.OrderTypeLimit, "100", "1"), time.Now(), nil)
	b.Place(newOrder(core.SideSell, core.OrderTypeLimit, "110", "1"), time.Now(), nil)

	avg, ok := b.ProjectedAveragePrice(core.SideBuy, d("2"))
	if !ok {
		t.Fatal("expected enough resting liquidity to project an average price")
	}
	if !avg.Equal(d("105")) {
		t.Errorf("projected average = %s, want 105", avg)
	}
}

func TestProjectedAveragePriceFailsWithInsufficientDepth(t *testing.T) {
	b := New("WETH-USDC")
	b.Place(newOrder(core.SideSell, core.OrderTypeLimit, "100", "1"), time.Now(), nil)

	if _, ok := b.ProjectedAveragePrice(core.SideBuy, d("5")); ok {
		t.Error("expected insufficient depth to report false")
	}
}

func TestSnapshotRespectsDepth(t *testing.T) {
	b := New("WETH-USDC")
	for _, price := range []string{"100", "99", "98"} {
		b.Place(newOrder(core.SideBuy, core.OrderTypeLimit, price, "1"), time.Now(), nil)
	}

	bids, _ := b.Snapshot(2)
	if len(bids) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(bids))
	}
	if !bids[0].Price.Equal(d("100")) || !bids[1].Price.Equal(d("99")) {
		t.Errorf("unexpected snapshot order: %+v", bids)
	}
}
