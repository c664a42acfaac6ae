// Package balance implements the per-(user,token) ledger: available and
// locked balances, with lock/unlock/transfer operations that the matching
// engine and API layer use to enforce solvency before and after a trade.
package balance

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uhyunpark/hyperlicked/pkg/apperr"
	"github.com/uhyunpark/hyperlicked/pkg/storage"
	"go.uber.org/zap"
)

// Ledger is one user's balance in one token.
type Ledger struct {
	User   common.Address  `json:"user"`
	Token  common.Address  `json:"token"`
	Total  decimal.Decimal `json:"total"`
	Locked decimal.Decimal `json:"locked"`
}

// Available returns the spendable balance: total minus locked.
func (l *Ledger) Available() decimal.Decimal {
	return l.Total.Sub(l.Locked)
}

// lockEntry records one order's claim against a ledger so that a partial
// fill can release only its proportional share, never the whole lock.
type lockEntry struct {
	orderID   uuid.UUID
	amount    decimal.Decimal
	expiresAt time.Time
}

type accountKey struct {
	user  common.Address
	token common.Address
}

// Manager owns all ledgers and their in-flight per-order locks. One
// sync.RWMutex guards the whole map, mirroring the teacher account
// manager's single-lock design rather than a lock-per-account scheme,
// since balance operations are short and rare compared to matching.
type Manager struct {
	mu       sync.RWMutex
	ledgers  map[accountKey]*Ledger
	locks    map[accountKey][]lockEntry
	store    *storage.Store
	log      *zap.Logger
}

func NewManager(store *storage.Store, log *zap.Logger) *Manager {
	return &Manager{
		ledgers: make(map[accountKey]*Ledger),
		locks:   make(map[accountKey][]lockEntry),
		store:   store,
		log:     log,
	}
}

func (m *Manager) ledgerLocked(user, token common.Address) *Ledger {
	key := accountKey{user, token}
	l, ok := m.ledgers[key]
	if !ok {
		l = &Ledger{User: user, Token: token, Total: decimal.Zero, Locked: decimal.Zero}
		m.ledgers[key] = l
	}
	return l
}

// GetBalance returns a copy of the user's ledger for one token.
func (m *Manager) GetBalance(user, token common.Address) Ledger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := accountKey{user, token}
	if l, ok := m.ledgers[key]; ok {
		return *l
	}
	return Ledger{User: user, Token: token}
}

// Deposit credits total balance (settlement confirmation or admin credit).
func (m *Manager) Deposit(user, token common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return apperr.New(apperr.CodeInvalidRequest, "deposit amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.ledgerLocked(user, token)
	l.Total = l.Total.Add(amount)
	return m.persistLocked(l)
}

// Withdraw debits total balance, rejecting if it would go below the locked
// amount (invariant: total >= locked always).
func (m *Manager) Withdraw(user, token common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return apperr.New(apperr.CodeInvalidRequest, "withdraw amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.ledgerLocked(user, token)
	if l.Available().LessThan(amount) {
		return apperr.New(apperr.CodeInsufficientBalance, "withdrawal exceeds available balance")
	}
	l.Total = l.Total.Sub(amount)
	return m.persistLocked(l)
}

// LockForOrder reserves amount against orderID, failing if it exceeds what
// is currently available. Locks accumulate per order so a later partial
// unlock/consume can be attributed correctly.
func (m *Manager) LockForOrder(orderID uuid.UUID, user, token common.Address, amount decimal.Decimal, expiresAt time.Time) error {
	if amount.IsZero() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.ledgerLocked(user, token)
	if l.Available().LessThan(amount) {
		return apperr.New(apperr.CodeInsufficientBalance, fmt.Sprintf(
			"locking %s %s requires %s available, have %s", amount, token.Hex(), amount, l.Available()))
	}
	l.Locked = l.Locked.Add(amount)
	key := accountKey{user, token}
	m.locks[key] = append(m.locks[key], lockEntry{orderID: orderID, amount: amount, expiresAt: expiresAt})
	return m.persistLocked(l)
}

// UnlockForOrder releases whatever remains of orderID's lock entirely
// (used on cancel, rejection, or expiry).
func (m *Manager) UnlockForOrder(orderID uuid.UUID, user, token common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLockLocked(orderID, user, token, decimal.Decimal{}, true)
}

// ConsumeLock releases `amount` of orderID's lock without touching total —
// called when a maker or taker order is filled and its locked funds move to
// the counterparty via TransferOnFill instead of back to the owner.
func (m *Manager) ConsumeLock(orderID uuid.UUID, user, token common.Address, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLockLocked(orderID, user, token, amount, false)
}

func (m *Manager) releaseLockLocked(orderID uuid.UUID, user, token common.Address, amount decimal.Decimal, full bool) error {
	key := accountKey{user, token}
	entries := m.locks[key]
	l := m.ledgerLocked(user, token)

	for i, e := range entries {
		if e.orderID != orderID {
			continue
		}
		release := e.amount
		if !full {
			release = decimal.Min(amount, e.amount)
		}
		l.Locked = l.Locked.Sub(release)
		if l.Locked.IsNegative() {
			l.Locked = decimal.Zero
		}
		remaining := e.amount.Sub(release)
		if remaining.IsPositive() && !full {
			entries[i].amount = remaining
		} else {
			entries = append(entries[:i], entries[i+1:]...)
		}
		m.locks[key] = entries
		return m.persistLocked(l)
	}
	return nil
}

// TransferOnFill moves quote-for-base (or base-for-quote) between a taker
// and a maker for one fill, consuming the proportional share of each
// order's existing lock rather than the whole lock — so a partially filled
// GTC order keeps the remainder locked until its next fill, cancel, or
// expiry, per the ledger's persistent-lock invariant.
func (m *Manager) TransferOnFill(
	takerOrder, makerOrder uuid.UUID,
	taker, maker common.Address,
	baseToken, quoteToken common.Address,
	takerIsBuyer bool,
	price, amount decimal.Decimal,
) error {
	quoteAmount := price.Mul(amount)

	buyer, seller := taker, maker
	buyerOrder, sellerOrder := takerOrder, makerOrder
	if !takerIsBuyer {
		buyer, seller = maker, taker
		buyerOrder, sellerOrder = makerOrder, takerOrder
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Refuse the fill before touching any ledger if either debit would drive
	// a total negative, so a rejected transfer leaves both sides unchanged.
	// A self-trade nets to zero on both tokens and needs no check.
	if buyer != seller && (m.ledgerLocked(buyer, quoteToken).Total.LessThan(quoteAmount) ||
		m.ledgerLocked(seller, baseToken).Total.LessThan(amount)) {
		return apperr.New(apperr.CodeInternal, "balance invariant violated during fill transfer")
	}

	// Buyer had quote locked; pays it to seller, receives base.
	if err := m.releaseLockLocked(buyerOrder, buyer, quoteToken, quoteAmount, false); err != nil {
		return err
	}
	buyerQuote := m.ledgerLocked(buyer, quoteToken)
	buyerQuote.Total = buyerQuote.Total.Sub(quoteAmount)
	buyerBase := m.ledgerLocked(buyer, baseToken)
	buyerBase.Total = buyerBase.Total.Add(amount)

	// Seller had base locked; pays it to buyer, receives quote.
	if err := m.releaseLockLocked(sellerOrder, seller, baseToken, amount, false); err != nil {
		return err
	}
	sellerBase := m.ledgerLocked(seller, baseToken)
	sellerBase.Total = sellerBase.Total.Sub(amount)
	sellerQuote := m.ledgerLocked(seller, quoteToken)
	sellerQuote.Total = sellerQuote.Total.Add(quoteAmount)

	for _, l := range []*Ledger{buyerQuote, buyerBase, sellerBase, sellerQuote} {
		if l.Total.IsNegative() || l.Locked.IsNegative() {
			return apperr.New(apperr.CodeInternal, "balance invariant violated during fill transfer")
		}
		if err := m.persistLocked(l); err != nil {
			return err
		}
	}
	return nil
}

// ApplyFee debits a fee from a user's balance post-settlement. Fee routing
// is intentionally not part of TransferOnFill — the settlement layer
// decides fee amounts once a batch confirms on-chain.
func (m *Manager) ApplyFee(user, token common.Address, fee decimal.Decimal) error {
	if fee.IsZero() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.ledgerLocked(user, token)
	l.Total = l.Total.Sub(fee)
	if l.Total.IsNegative() {
		return apperr.New(apperr.CodeInternal, "fee exceeds balance")
	}
	return m.persistLocked(l)
}

// CleanExpiredLocks releases any order lock whose expiry has passed,
// called periodically by the node's sweep loop next to the matching
// engine's own order-expiry sweep.
func (m *Manager) CleanExpiredLocks(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entries := range m.locks {
		kept := entries[:0]
		l := m.ledgerLocked(key.user, key.token)
		for _, e := range entries {
			if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
				l.Locked = l.Locked.Sub(e.amount)
				if l.Locked.IsNegative() {
					l.Locked = decimal.Zero
				}
				continue
			}
			kept = append(kept, e)
		}
		m.locks[key] = kept
		if err := m.persistLocked(l); err != nil && m.log != nil {
			m.log.Warn("failed to persist ledger during lock expiry sweep", zap.Error(err))
		}
	}
}

func (m *Manager) persistLocked(l *Ledger) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveBalance(l.User, l.Token, l.Total, l.Locked); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "persist balance", err)
	}
	return nil
}
