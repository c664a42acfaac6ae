package settlement

import (
	"context"
	"crypto/sha256"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NoopContract stands in for the real on-chain settlement contract, which is
// out of scope here: it accepts every batch, assigning sequential nonces and
// a deterministic pseudo tx hash, so the submitter's batching/retry/breaker
// logic has something concrete to exercise until a real ABI binding is
// wired in.
type NoopContract struct {
	nonce atomic.Uint64
}

func NewNoopContract() *NoopContract { return &NoopContract{} }

func (c *NoopContract) BatchSettle(ctx context.Context, batch BatchSettlement) (common.Hash, error) {
	sum := sha256.New()
	for _, f := range batch.Fills {
		sum.Write([]byte(f.TakerHash))
		sum.Write([]byte(f.MakerHash))
	}
	return common.BytesToHash(sum.Sum(nil)), nil
}

func (c *NoopContract) NextNonce(ctx context.Context) (uint64, error) {
	return c.nonce.Add(1), nil
}

func (c *NoopContract) SuggestGasPrice(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}
