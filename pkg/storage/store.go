// Package storage provides Pebble-backed persistence for balances, orders,
// and fills, keeping the same key-prefix-scan shape and tuning the teacher
// repo used for its consensus store, repointed at the matching engine's
// own data.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/uhyunpark/hyperlicked/pkg/core"
)

type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at dbPath with the tuning the
// matching engine's write pattern wants: frequent small order/balance
// writes, occasional large trade-history scans.
func Open(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(128 << 20),
		MemTableSize:                64 << 20,
		MaxConcurrentCompactions:    func() int { return 3 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20,
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10,
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type balanceRecord struct {
	Total  decimal.Decimal `json:"total"`
	Locked decimal.Decimal `json:"locked"`
}

// SaveBalance persists one (user,token) ledger. Sync'd — balance integrity
// matters more than write latency here.
func (s *Store) SaveBalance(user, token common.Address, total, locked decimal.Decimal) error {
	data, err := json.Marshal(balanceRecord{Total: total, Locked: locked})
	if err != nil {
		return fmt.Errorf("marshal balance: %w", err)
	}
	return s.db.Set(balanceKey(user, token), data, pebble.Sync)
}

// LoadBalance returns (total, locked, found, err).
func (s *Store) LoadBalance(user, token common.Address) (decimal.Decimal, decimal.Decimal, bool, error) {
	data, closer, err := s.db.Get(balanceKey(user, token))
	if err == pebble.ErrNotFound {
		return decimal.Zero, decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, false, fmt.Errorf("get balance: %w", err)
	}
	defer closer.Close()

	var rec balanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return decimal.Zero, decimal.Zero, false, fmt.Errorf("unmarshal balance: %w", err)
	}
	return rec.Total, rec.Locked, true, nil
}

// LoadAllBalances loads every ledger entry for a user.
func (s *Store) LoadAllBalances(user common.Address) (map[common.Address]balanceRecord, error) {
	prefix := balancePrefix(user)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, fmt.Errorf("new iter: %w", err)
	}
	defer iter.Close()

	out := make(map[common.Address]balanceRecord)
	for iter.First(); iter.Valid(); iter.Next() {
		var rec balanceRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		// token is the suffix of the key after "bal:<user>:"
		key := string(iter.Key())
		tokenHex := key[len(prefix):]
		out[common.HexToAddress(tokenHex)] = rec
	}
	return out, nil
}

// SaveOrder persists an order.
func (s *Store) SaveOrder(o *core.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	return s.db.Set(orderKey(o.Owner, o.ID.String()), data, pebble.Sync)
}

// DeleteOrder removes a closed order's record.
func (s *Store) DeleteOrder(owner common.Address, orderID string) error {
	return s.db.Delete(orderKey(owner, orderID), pebble.Sync)
}

// LoadOrder returns nil, nil if the order doesn't exist.
func (s *Store) LoadOrder(owner common.Address, orderID string) (*core.Order, error) {
	data, closer, err := s.db.Get(orderKey(owner, orderID))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	defer closer.Close()

	var o core.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// LoadOpenOrders returns all non-terminal orders for a user.
func (s *Store) LoadOpenOrders(owner common.Address) ([]*core.Order, error) {
	prefix := orderPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, fmt.Errorf("new iter: %w", err)
	}
	defer iter.Close()

	var orders []*core.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o core.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue
		}
		if !o.Status.IsTerminal() {
			orders = append(orders, &o)
		}
	}
	return orders, nil
}

// SaveFill persists a fill. NoSync: fills are high-volume, so durability is
// best-effort and a crash can lose the most recent fills.
func (s *Store) SaveFill(f *core.Fill) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal fill: %w", err)
	}
	return s.db.Set(tradeKey(f.TradingPair, f.Timestamp.UnixNano(), f.ID.String()), data, pebble.NoSync)
}

// LoadRecentFills returns up to limit fills for a pair, newest first.
func (s *Store) LoadRecentFills(pair string, limit int) ([]*core.Fill, error) {
	prefix := tradePrefix(pair)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, fmt.Errorf("new iter: %w", err)
	}
	defer iter.Close()

	var fills []*core.Fill
	for iter.Last(); iter.Valid() && len(fills) < limit; iter.Prev() {
		var f core.Fill
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			continue
		}
		fills = append(fills, &f)
	}
	return fills, nil
}

// Batch groups multiple writes into one atomic, synced commit. Only the
// package's tests use it; the engine and API write records one at a time.
type Batch struct {
	batch *pebble.Batch
}

func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) SaveOrder(o *core.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return b.batch.Set(orderKey(o.Owner, o.ID.String()), data, nil)
}

func (b *Batch) SaveFill(f *core.Fill) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return b.batch.Set(tradeKey(f.TradingPair, f.Timestamp.UnixNano(), f.ID.String()), data, nil)
}

func (b *Batch) SaveBalance(user, token common.Address, total, locked decimal.Decimal) error {
	data, err := json.Marshal(balanceRecord{Total: total, Locked: locked})
	if err != nil {
		return err
	}
	return b.batch.Set(balanceKey(user, token), data, nil)
}

func (b *Batch) Commit() error { return b.batch.Commit(pebble.Sync) }
func (b *Batch) Close() error  { return b.batch.Close() }
