// Package core holds the domain types shared by every other package:
// orders, fills, trading pairs, and the status/side/type enums governing
// them. Nothing in here talks to a network, a disk, or a clock beyond what
// it is handed.
package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side uint8

const (
	SideUnspecified Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNSPECIFIED"
	}
}

// Opposite returns the other side, used when walking the resting book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType selects the order's execution semantics.
type OrderType uint8

const (
	OrderTypeUnspecified OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
	OrderTypeIOC // immediate-or-cancel
	OrderTypeFOK // fill-or-kill
	OrderTypeStopLoss
	OrderTypeTakeProfit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeIOC:
		return "IOC"
	case OrderTypeFOK:
		return "FOK"
	case OrderTypeStopLoss:
		return "STOP_LOSS"
	case OrderTypeTakeProfit:
		return "TAKE_PROFIT"
	default:
		return "UNSPECIFIED"
	}
}

// IsTriggerType reports whether the order rests in the trigger index
// (stop-loss / take-profit) rather than the live book until activated.
func (t OrderType) IsTriggerType() bool {
	return t == OrderTypeStopLoss || t == OrderTypeTakeProfit
}

// RestsOnBook reports whether an unfilled remainder of this order type
// should be added to the book rather than discarded.
func (t OrderType) RestsOnBook() bool {
	switch t {
	case OrderTypeIOC, OrderTypeFOK, OrderTypeMarket:
		return false
	default:
		return true
	}
}

// OrderStatus tracks an order through its admission and matching lifecycle.
type OrderStatus uint8

const (
	StatusPending OrderStatus = iota
	StatusOpen
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
	StatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusOpen:
		return "OPEN"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the order can never transition again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// IsResting reports whether the order currently occupies a book level.
func (s OrderStatus) IsResting() bool {
	return s == StatusOpen || s == StatusPartiallyFilled
}

// Order is a single resting or taker order, post-admission.
type Order struct {
	ID            uuid.UUID       `json:"id"`
	Hash          string          `json:"hash,omitempty"`
	ClientRef     string          `json:"clientRef,omitempty"`
	Owner         common.Address  `json:"owner"`
	TradingPair   string          `json:"tradingPair"`
	BaseToken     common.Address  `json:"baseToken"`
	QuoteToken    common.Address  `json:"quoteToken"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	Price         decimal.Decimal `json:"price"`
	TriggerPrice  decimal.Decimal `json:"triggerPrice,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Filled        decimal.Decimal `json:"filled"`
	Status        OrderStatus     `json:"status"`
	Nonce         uint64          `json:"nonce"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Signature     string          `json:"signature"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.Filled)
}

// IsExpired reports whether the order's deadline has passed as of now.
func (o *Order) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// TriggerDirectionUp reports whether this trigger order promotes when the
// last trade price rises to meet TriggerPrice (true) or falls to meet it
// (false). STOP_LOSS protects a long by selling once price falls, and a
// short by buying once price rises; TAKE_PROFIT is the mirror image.
func (o *Order) TriggerDirectionUp() bool {
	switch o.Type {
	case OrderTypeStopLoss:
		return o.Side == SideBuy
	case OrderTypeTakeProfit:
		return o.Side == SideSell
	default:
		return false
	}
}

// LockAmount returns the token and quantity this order must have locked on
// placement: quote-token notional for a buy, base-token amount for a sell.
func (o *Order) LockAmount() (token common.Address, qty decimal.Decimal) {
	if o.Side == SideBuy {
		return o.QuoteToken, o.Price.Mul(o.Amount)
	}
	return o.BaseToken, o.Amount
}

// Fill is one match between a taker and a maker order. The hash, signature,
// and per-order price/amount/nonce fields are snapshots of the two matched
// orders at match time, carried through to settlement so a batch
// submission can reconstruct each order's signed terms without re-reading
// the book.
type Fill struct {
	ID             uuid.UUID       `json:"id"`
	TradingPair    string          `json:"tradingPair"`
	BaseToken      common.Address  `json:"baseToken"`
	QuoteToken     common.Address  `json:"quoteToken"`
	TakerOrder     uuid.UUID       `json:"takerOrderId"`
	MakerOrder     uuid.UUID       `json:"makerOrderId"`
	TakerOwner     common.Address  `json:"takerOwner"`
	MakerOwner     common.Address  `json:"makerOwner"`
	TakerHash      string          `json:"takerHash"`
	MakerHash      string          `json:"makerHash"`
	TakerSignature string          `json:"takerSignature"`
	MakerSignature string          `json:"makerSignature"`
	TakerSide      Side            `json:"takerSide"`
	TakerPrice     decimal.Decimal `json:"takerPrice"`
	TakerAmount    decimal.Decimal `json:"takerAmount"`
	TakerNonce     uint64          `json:"takerNonce"`
	MakerPrice     decimal.Decimal `json:"makerPrice"`
	MakerAmount    decimal.Decimal `json:"makerAmount"`
	MakerNonce     uint64          `json:"makerNonce"`
	Price          decimal.Decimal `json:"price"`
	Amount         decimal.Decimal `json:"amount"`
	Timestamp      time.Time       `json:"timestamp"`
	Settled        bool            `json:"settled"`
}

// TradingPair describes the instrument-level parameters of one market.
type TradingPair struct {
	Symbol        string          `json:"symbol"`
	BaseToken     common.Address  `json:"baseToken"`
	QuoteToken    common.Address  `json:"quoteToken"`
	TickSize      decimal.Decimal `json:"tickSize"`
	LotSize       decimal.Decimal `json:"lotSize"`
	MinNotional   decimal.Decimal `json:"minNotional"`
	MinOrderSize  decimal.Decimal `json:"minOrderSize"`
	MaxOrderSize  decimal.Decimal `json:"maxOrderSize"`
	MakerFeeBps   int64           `json:"makerFeeBps"`
	TakerFeeBps   int64           `json:"takerFeeBps"`
	Active        bool            `json:"active"`
}

// ValidateTick reports whether price is a multiple of the pair's tick size.
func (p *TradingPair) ValidateTick(price decimal.Decimal) bool {
	if p.TickSize.IsZero() {
		return true
	}
	return price.Mod(p.TickSize).IsZero()
}

// ValidateLot reports whether amount is a multiple of the pair's lot size.
func (p *TradingPair) ValidateLot(amount decimal.Decimal) bool {
	if p.LotSize.IsZero() {
		return true
	}
	return amount.Mod(p.LotSize).IsZero()
}
