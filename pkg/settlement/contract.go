package settlement

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// SettledOrder is the ABI-shaped record of one signed order backing a
// settled fill, matching the settlement contract's batchSettle(...)
// interface. The contract implementation itself is out of scope; this
// package only knows the shape it must call.
type SettledOrder struct {
	TradingPair string
	Owner       common.Address
	BaseToken   common.Address
	QuoteToken  common.Address
	Side        uint8
	Price       decimal.Decimal
	Amount      decimal.Decimal
	Nonce       uint64
}

// SettledFill is the ABI-shaped per-fill record: the two order hashes it
// settles between, the matched price/amount, and which side was the
// taker.
type SettledFill struct {
	TakerHash string
	MakerHash string
	Price     decimal.Decimal
	Amount    decimal.Decimal
	TakerSide uint8
}

// BatchSettlement is one on-chain submission covering multiple fills. The
// taker/maker order and signature slices are parallel to Fills — index i
// of each slice describes the order and signature backing Fills[i].
type BatchSettlement struct {
	TakerOrders     []SettledOrder
	MakerOrders     []SettledOrder
	TakerSignatures []string
	MakerSignatures []string
	Fills           []SettledFill
	Nonce           uint64
}

// Contract is the on-chain settlement surface the submitter drives. A real
// implementation wraps an ABI-bound go-ethereum contract binding; tests use
// an in-memory fake.
type Contract interface {
	BatchSettle(ctx context.Context, batch BatchSettlement) (txHash common.Hash, err error)
	NextNonce(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (decimal.Decimal, error)
}
