// Package wire defines the JSON request/response envelopes exchanged over
// the REST and WebSocket surface, separate from the internal core.Order
// representation so the wire schema can stay stable while internals move.
package wire

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/uhyunpark/hyperlicked/pkg/core"
	"github.com/uhyunpark/hyperlicked/pkg/crypto"
)

// The side* / type* codes mirror the EIP-712 uint8 encodings.
const (
	sideBuy  uint8 = 1
	sideSell uint8 = 2

	typeLimit       uint8 = 1
	typeMarket      uint8 = 2
	typeIOC         uint8 = 3
	typeFOK         uint8 = 4
	typeStopLoss    uint8 = 5
	typeTakeProfit  uint8 = 6
)

// OrderRequest is the POST /api/v1/orders body: a signed order exactly as
// the user's wallet produced it via eth_signTypedData_v4.
type OrderRequest struct {
	UserAddress  string `json:"userAddress"`
	TradingPair  string `json:"tradingPair"`
	BaseToken    string `json:"baseToken"`
	QuoteToken   string `json:"quoteToken"`
	Side         uint8  `json:"side"`
	OrderType    uint8  `json:"orderType"`
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	TriggerPrice string `json:"triggerPrice,omitempty"`
	ExpiresAt    int64  `json:"expiresAt"`
	Nonce        uint64 `json:"nonce"`
	ChainID      uint64 `json:"chainId"`
	Signature    string `json:"signature"`
}

// CancelRequest is the DELETE /api/v1/orders/{id} body.
type CancelRequest struct {
	OrderID     string `json:"orderId"`
	UserAddress string `json:"userAddress"`
	Nonce       uint64 `json:"nonce"`
	ChainID     uint64 `json:"chainId"`
	Signature   string `json:"signature"`
}

// Validate checks structural well-formedness (not the signature itself).
func (r *OrderRequest) Validate() error {
	if r.UserAddress == "" || !common.IsHexAddress(r.UserAddress) {
		return fmt.Errorf("invalid userAddress")
	}
	if r.TradingPair == "" {
		return fmt.Errorf("missing tradingPair")
	}
	if !common.IsHexAddress(r.BaseToken) || !common.IsHexAddress(r.QuoteToken) {
		return fmt.Errorf("invalid base/quote token")
	}
	if r.Side != sideBuy && r.Side != sideSell {
		return fmt.Errorf("invalid side %d", r.Side)
	}
	if r.OrderType < typeLimit || r.OrderType > typeTakeProfit {
		return fmt.Errorf("invalid orderType %d", r.OrderType)
	}
	if _, err := decimal.NewFromString(r.Amount); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	if r.OrderType != typeMarket {
		if _, err := decimal.NewFromString(r.Price); err != nil {
			return fmt.Errorf("invalid price: %w", err)
		}
	}
	if r.OrderType == typeStopLoss || r.OrderType == typeTakeProfit {
		if _, err := decimal.NewFromString(r.TriggerPrice); err != nil {
			return fmt.Errorf("invalid triggerPrice: %w", err)
		}
	}
	if r.ChainID == 0 {
		return fmt.Errorf("missing chainId")
	}
	if r.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	return nil
}

// ToEIP712 converts the wire request into the typed-data struct hashed for
// signature verification. Decimal price/amount are scaled to the smallest
// unit (18 decimals) the way an on-chain settlement contract would expect.
func (r *OrderRequest) ToEIP712() (*crypto.OrderEIP712, error) {
	price := new(big.Int)
	if r.OrderType != typeMarket {
		d, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, err
		}
		price = d.Shift(18).BigInt()
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, err
	}
	triggerPrice := new(big.Int)
	if r.OrderType == typeStopLoss || r.OrderType == typeTakeProfit {
		d, err := decimal.NewFromString(r.TriggerPrice)
		if err != nil {
			return nil, err
		}
		triggerPrice = d.Shift(18).BigInt()
	}
	return &crypto.OrderEIP712{
		UserAddress:  common.HexToAddress(r.UserAddress),
		TradingPair:  r.TradingPair,
		BaseToken:    common.HexToAddress(r.BaseToken),
		QuoteToken:   common.HexToAddress(r.QuoteToken),
		Side:         r.Side,
		OrderType:    r.OrderType,
		Price:        price,
		Amount:       amount.Shift(18).BigInt(),
		TriggerPrice: triggerPrice,
		ExpiresAt:    big.NewInt(r.ExpiresAt),
		Nonce:        new(big.Int).SetUint64(r.Nonce),
	}, nil
}

// ToCoreOrder builds the internal Order from a validated, signature-checked
// request.
func (r *OrderRequest) ToCoreOrder() (*core.Order, error) {
	price := decimal.Zero
	if r.OrderType != typeMarket {
		p, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, err
		}
		price = p
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, err
	}

	side := core.SideBuy
	if r.Side == sideSell {
		side = core.SideSell
	}

	var expiresAt time.Time
	if r.ExpiresAt > 0 {
		expiresAt = time.Unix(r.ExpiresAt, 0).UTC()
	}

	triggerPrice := decimal.Zero
	if r.OrderType == typeStopLoss || r.OrderType == typeTakeProfit {
		tp, err := decimal.NewFromString(r.TriggerPrice)
		if err != nil {
			return nil, err
		}
		triggerPrice = tp
	}

	return &core.Order{
		Owner:        common.HexToAddress(r.UserAddress),
		TradingPair:  r.TradingPair,
		BaseToken:    common.HexToAddress(r.BaseToken),
		QuoteToken:   common.HexToAddress(r.QuoteToken),
		Side:         side,
		Type:         orderTypeFromWire(r.OrderType),
		Price:        price,
		TriggerPrice: triggerPrice,
		Amount:       amount,
		Nonce:        r.Nonce,
		ExpiresAt:    expiresAt,
		Signature:    r.Signature,
		Status:       core.StatusPending,
	}, nil
}

func orderTypeFromWire(t uint8) core.OrderType {
	switch t {
	case typeLimit:
		return core.OrderTypeLimit
	case typeMarket:
		return core.OrderTypeMarket
	case typeIOC:
		return core.OrderTypeIOC
	case typeFOK:
		return core.OrderTypeFOK
	case typeStopLoss:
		return core.OrderTypeStopLoss
	case typeTakeProfit:
		return core.OrderTypeTakeProfit
	default:
		return core.OrderTypeUnspecified
	}
}

// FillResponse is the wire shape for a trade broadcast on trades.<pair>.
type FillResponse struct {
	ID          string `json:"id"`
	TradingPair string `json:"tradingPair"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	TakerSide   string `json:"takerSide"`
	Timestamp   int64  `json:"timestamp"`
}

// FromFill converts a core.Fill to its wire representation.
func FromFill(f *core.Fill) FillResponse {
	return FillResponse{
		ID:          f.ID.String(),
		TradingPair: f.TradingPair,
		Price:       f.Price.String(),
		Amount:      f.Amount.String(),
		TakerSide:   f.TakerSide.String(),
		Timestamp:   f.Timestamp.Unix(),
	}
}
