// Package orderbook implements one trading pair's price-time-priority book:
// a balanced tree of price levels, each a FIFO queue of resting orders, with
// O(log P) best-price peek, insert and erase on the price index.
package orderbook

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"github.com/uhyunpark/hyperlicked/pkg/core"
)

// PriceLevel is every resting order at one price, oldest first.
type PriceLevel struct {
	price  decimal.Decimal
	orders []*core.Order
}

func (l *PriceLevel) TotalQty() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range l.orders {
		sum = sum.Add(o.Remaining())
	}
	return sum
}

type levels = btree.BTreeG[*PriceLevel]

// locator lets Cancel find an order's price level in O(1) instead of
// scanning every level, mirroring the teacher's orderIndex map. A trigger
// entry (STOP_LOSS / TAKE_PROFIT resting before activation) is keyed by its
// TriggerPrice and lives in one of the two trigger trees instead of bids/
// asks; up selects which one.
type locator struct {
	side    core.Side
	price   decimal.Decimal
	trigger bool
	up      bool
}

// Book is one trading pair's order book. It is NOT internally
// synchronized: callers run it from a single matching-engine actor
// goroutine per pair, so no lock is needed on the hot path.
type Book struct {
	Pair string

	bids *levels // ordered highest price first
	asks *levels // ordered lowest price first

	// risingTriggers holds STOP_LOSS/TAKE_PROFIT orders that activate once
	// the last trade price rises to meet TriggerPrice, ordered lowest
	// first so the nearest trigger is checked first. fallingTriggers is
	// its mirror, ordered highest first.
	risingTriggers  *levels
	fallingTriggers *levels

	index map[uuid.UUID]locator

	lastTradePrice decimal.Decimal
	hasTraded      bool
}

func New(pair string) *Book {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.price.GreaterThan(b.price)
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.price.LessThan(b.price)
	})
	risingTriggers := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.price.LessThan(b.price)
	})
	fallingTriggers := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.price.GreaterThan(b.price)
	})
	return &Book{
		Pair:            pair,
		bids:            bids,
		asks:            asks,
		risingTriggers:  risingTriggers,
		fallingTriggers: fallingTriggers,
		index:           make(map[uuid.UUID]locator),
	}
}

func (b *Book) treeFor(side core.Side) *levels {
	if side == core.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *Book) triggerTreeFor(up bool) *levels {
	if up {
		return b.risingTriggers
	}
	return b.fallingTriggers
}

// treeForLocator resolves an index entry to the tree that actually holds
// it, whichever of the live book or the two trigger trees that is.
func (b *Book) treeForLocator(loc locator) *levels {
	if loc.trigger {
		return b.triggerTreeFor(loc.up)
	}
	return b.treeFor(loc.side)
}

// BestBid returns the highest resting buy price, if any.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	lvl, ok := b.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// BestAsk returns the lowest resting sell price, if any.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	lvl, ok := b.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// MidPrice averages best bid and best ask; zero, false if either side empty.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, ok1 := b.BestBid()
	ask, ok2 := b.BestAsk()
	if !ok1 || !ok2 {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// LastTradePrice returns the most recent fill price on this pair.
func (b *Book) LastTradePrice() (decimal.Decimal, bool) {
	return b.lastTradePrice, b.hasTraded
}

// Place admits a new order. STOP_LOSS/TAKE_PROFIT orders rest in the
// trigger index at their TriggerPrice and never match here; everything
// else runs the ordinary take-then-rest algorithm. Returns the fills
// produced, if any.
func (b *Book) Place(order *core.Order, now time.Time, selfTrade SelfTradeFunc) []*core.Fill {
	if order.Type.IsTriggerType() {
		b.insertTrigger(order)
		order.Status = core.StatusOpen
		return nil
	}
	return b.matchAndRest(order, now, selfTrade)
}

// insertTrigger adds a STOP_LOSS/TAKE_PROFIT order to the side-indexed-by-
// trigger-price structure it rests in until PromoteTriggers activates it.
func (b *Book) insertTrigger(order *core.Order) {
	up := order.TriggerDirectionUp()
	tree := b.triggerTreeFor(up)
	key := &PriceLevel{price: order.TriggerPrice}
	lvl, ok := tree.Get(key)
	if !ok {
		lvl = &PriceLevel{price: order.TriggerPrice}
		tree.Set(lvl)
	}
	lvl.orders = append(lvl.orders, order)
	b.index[order.ID] = locator{price: order.TriggerPrice, trigger: true, up: up}
}

// popTriggers drains every level of tree whose price satisfies crossed, in
// the tree's priority order, and returns the orders it removed.
func (b *Book) popTriggers(tree *levels, crossed func(decimal.Decimal) bool) []*core.Order {
	var out []*core.Order
	for {
		lvl, ok := tree.Min()
		if !ok || !crossed(lvl.price) {
			break
		}
		out = append(out, lvl.orders...)
		tree.Delete(lvl)
	}
	return out
}

// PromoteTriggers checks every resting STOP_LOSS/TAKE_PROFIT order against
// the last trade price and activates the ones whose trigger has been
// crossed: each becomes an ordinary LIMIT order and runs the normal
// match-then-rest path, in trigger-price priority. Returns the fills
// produced and the orders promoted (for order-update notification). A book
// that has never traded has nothing to compare against and promotes
// nothing.
func (b *Book) PromoteTriggers(now time.Time, selfTrade SelfTradeFunc) ([]*core.Fill, []*core.Order) {
	price, ok := b.LastTradePrice()
	if !ok {
		return nil, nil
	}

	rising := b.popTriggers(b.risingTriggers, func(trigger decimal.Decimal) bool {
		return price.GreaterThanOrEqual(trigger)
	})
	falling := b.popTriggers(b.fallingTriggers, func(trigger decimal.Decimal) bool {
		return price.LessThanOrEqual(trigger)
	})

	var fills []*core.Fill
	var promoted []*core.Order
	for _, order := range append(rising, falling...) {
		delete(b.index, order.ID)
		order.Type = core.OrderTypeLimit
		fills = append(fills, b.matchAndRest(order, now, selfTrade)...)
		promoted = append(promoted, order)
	}
	return fills, promoted
}

// ProjectedAveragePrice estimates the volume-weighted average execution
// price a market order of the given side and quantity would receive
// against the book's current resting liquidity, without mutating
// anything. Returns false if the book holds less than qty of opposing
// liquidity.
func (b *Book) ProjectedAveragePrice(side core.Side, qty decimal.Decimal) (decimal.Decimal, bool) {
	if !qty.IsPositive() {
		return decimal.Zero, false
	}
	opposite := b.treeFor(side.Opposite())
	remaining := qty
	notional := decimal.Zero
	filled := false
	opposite.Scan(func(lvl *PriceLevel) bool {
		avail := lvl.TotalQty()
		if avail.IsZero() {
			return true
		}
		take := decimal.Min(remaining, avail)
		notional = notional.Add(take.Mul(lvl.price))
		remaining = remaining.Sub(take)
		if remaining.IsZero() {
			filled = true
			return false
		}
		return true
	})
	if !filled {
		return decimal.Zero, false
	}
	return notional.Div(qty), true
}

// matchAndRest runs the take-then-rest algorithm for a new order: it walks
// the opposing side in price-time priority consuming liquidity, emits one
// Fill per match, then — if the order type allows resting and quantity
// remains — inserts the remainder into the book. Returns the fills
// produced.
//
// selfTrade decides what happens when order and a resting maker share an
// owner; it is invoked before a match is applied so the caller's configured
// policy (allow / cancel-taker / cancel-maker / cancel-both) can veto it.
func (b *Book) matchAndRest(order *core.Order, now time.Time, selfTrade SelfTradeFunc) []*core.Fill {
	var fills []*core.Fill

	opposite := b.treeFor(order.Side.Opposite())
	crosses := func(levelPrice decimal.Decimal) bool {
		if order.Type == core.OrderTypeMarket {
			return true
		}
		if order.Side == core.SideBuy {
			return order.Price.GreaterThanOrEqual(levelPrice)
		}
		return order.Price.LessThanOrEqual(levelPrice)
	}

	// Fill-or-kill: trade only if the crossing liquidity covers the whole
	// remaining amount; otherwise cancel without producing any fill.
	if order.Type == core.OrderTypeFOK {
		available := decimal.Zero
		opposite.Scan(func(lvl *PriceLevel) bool {
			if !crosses(lvl.price) || available.GreaterThanOrEqual(order.Remaining()) {
				return false
			}
			available = available.Add(lvl.TotalQty())
			return true
		})
		if available.LessThan(order.Remaining()) {
			order.Status = core.StatusCancelled
			return fills
		}
	}

	for order.Remaining().IsPositive() {
		lvl, ok := opposite.Min()
		if !ok || !crosses(lvl.price) {
			break
		}

		progressed := false
		for len(lvl.orders) > 0 && order.Remaining().IsPositive() {
			maker := lvl.orders[0]

			action := SelfTradeAllow
			if selfTrade != nil && maker.Owner == order.Owner {
				action = selfTrade(order, maker)
			}
			if action == SelfTradeCancelMaker || action == SelfTradeCancelBoth {
				b.removeFront(opposite, lvl, maker)
				maker.Status = core.StatusCancelled
				if action == SelfTradeCancelBoth {
					order.Status = core.StatusCancelled
					return fills
				}
				continue
			}
			if action == SelfTradeCancelTaker {
				order.Status = core.StatusCancelled
				return fills
			}

			matchQty := decimal.Min(order.Remaining(), maker.Remaining())
			maker.Filled = maker.Filled.Add(matchQty)
			order.Filled = order.Filled.Add(matchQty)
			progressed = true

			price := maker.Price
			fill := &core.Fill{
				ID:             uuid.New(),
				TradingPair:    b.Pair,
				BaseToken:      order.BaseToken,
				QuoteToken:     order.QuoteToken,
				TakerOrder:     order.ID,
				MakerOrder:     maker.ID,
				TakerOwner:     order.Owner,
				MakerOwner:     maker.Owner,
				TakerHash:      order.Hash,
				MakerHash:      maker.Hash,
				TakerSignature: order.Signature,
				MakerSignature: maker.Signature,
				TakerSide:      order.Side,
				TakerPrice:     order.Price,
				TakerAmount:    order.Amount,
				TakerNonce:     order.Nonce,
				MakerPrice:     maker.Price,
				MakerAmount:    maker.Amount,
				MakerNonce:     maker.Nonce,
				Price:          price,
				Amount:         matchQty,
				Timestamp:      now,
			}
			fills = append(fills, fill)
			b.lastTradePrice = price
			b.hasTraded = true

			if maker.Remaining().IsZero() {
				maker.Status = core.StatusFilled
				b.removeFront(opposite, lvl, maker)
			} else {
				maker.Status = core.StatusPartiallyFilled
			}
		}
		if !progressed {
			break
		}
	}

	if order.Remaining().IsPositive() {
		if order.Filled.IsPositive() {
			order.Status = core.StatusPartiallyFilled
		}
		if order.Type.RestsOnBook() {
			b.insert(order)
			if order.Status != core.StatusPartiallyFilled {
				order.Status = core.StatusOpen
			}
		} else if order.Filled.IsZero() {
			order.Status = core.StatusCancelled // IOC/FOK/market with no liquidity
		} else {
			order.Status = core.StatusCancelled // IOC partial remainder dropped
		}
	} else {
		order.Status = core.StatusFilled
	}

	return fills
}

func (b *Book) insert(order *core.Order) {
	tree := b.treeFor(order.Side)
	key := &PriceLevel{price: order.Price}
	lvl, ok := tree.Get(key)
	if !ok {
		lvl = &PriceLevel{price: order.Price}
		tree.Set(lvl)
	}
	lvl.orders = append(lvl.orders, order)
	b.index[order.ID] = locator{side: order.Side, price: order.Price}
}

// removeFront pops the level's head order (assumed to be `order`) and
// deletes the level entirely once it is empty, giving the tree true
// O(log P) erase-by-key instead of a tombstone.
func (b *Book) removeFront(tree *levels, lvl *PriceLevel, order *core.Order) {
	lvl.orders = lvl.orders[1:]
	delete(b.index, order.ID)
	if len(lvl.orders) == 0 {
		tree.Delete(lvl)
	}
}

// Cancel removes a resting order by ID in O(log P) + O(level size) for the
// slice splice, returning the order if found.
func (b *Book) Cancel(orderID uuid.UUID) (*core.Order, bool) {
	loc, ok := b.index[orderID]
	if !ok {
		return nil, false
	}
	tree := b.treeForLocator(loc)
	key := &PriceLevel{price: loc.price}
	lvl, ok := tree.Get(key)
	if !ok {
		delete(b.index, orderID)
		return nil, false
	}
	for i, o := range lvl.orders {
		if o.ID != orderID {
			continue
		}
		lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
		delete(b.index, orderID)
		if len(lvl.orders) == 0 {
			tree.Delete(lvl)
		}
		o.Status = core.StatusCancelled
		return o, true
	}
	delete(b.index, orderID)
	return nil, false
}

// ExpireOrders cancels and returns every resting order whose deadline has
// passed as of now, across both sides of the book.
func (b *Book) ExpireOrders(now time.Time) []*core.Order {
	var expired []uuid.UUID
	for id, loc := range b.index {
		tree := b.treeForLocator(loc)
		lvl, ok := tree.Get(&PriceLevel{price: loc.price})
		if !ok {
			continue
		}
		for _, o := range lvl.orders {
			if o.ID == id && o.IsExpired(now) {
				expired = append(expired, id)
			}
		}
	}

	var out []*core.Order
	for _, id := range expired {
		if o, ok := b.Cancel(id); ok {
			o.Status = core.StatusExpired
			out = append(out, o)
		}
	}
	return out
}

// LevelView is one aggregated price level in a Snapshot.
type LevelView struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Snapshot returns up to `depth` price levels per side for the public
// order book feed, best price first.
func (b *Book) Snapshot(depth int) (bids, asks []LevelView) {
	b.bids.Scan(func(lvl *PriceLevel) bool {
		if len(bids) >= depth {
			return false
		}
		bids = append(bids, LevelView{Price: lvl.price, Qty: lvl.TotalQty()})
		return true
	})
	b.asks.Scan(func(lvl *PriceLevel) bool {
		if len(asks) >= depth {
			return false
		}
		asks = append(asks, LevelView{Price: lvl.price, Qty: lvl.TotalQty()})
		return true
	})
	return bids, asks
}

// SelfTradeAction is the disposition of a maker order that shares an owner
// with the incoming taker order.
type SelfTradeAction uint8

const (
	SelfTradeAllow SelfTradeAction = iota
	SelfTradeCancelTaker
	SelfTradeCancelMaker
	SelfTradeCancelBoth
)

// SelfTradeFunc is evaluated once per candidate maker match; nil disables
// the check entirely (equivalent to always returning SelfTradeAllow).
type SelfTradeFunc func(taker, maker *core.Order) SelfTradeAction
