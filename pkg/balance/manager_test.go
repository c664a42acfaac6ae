package balance

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
	usdc  = common.HexToAddress("0x1")
	weth  = common.HexToAddress("0x2")
)

func newManager() *Manager {
	return NewManager(nil, nil)
}

func TestLedgerAvailable(t *testing.T) {
	l := &Ledger{Total: decimal.NewFromInt(100), Locked: decimal.NewFromInt(40)}
	if got := l.Available(); !got.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Available() = %s, want 60", got)
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	m := newManager()
	if err := m.Deposit(alice, usdc, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	bal := m.GetBalance(alice, usdc)
	if !bal.Total.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Total = %s, want 100", bal.Total)
	}

	if err := m.Withdraw(alice, usdc, decimal.NewFromInt(30)); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	bal = m.GetBalance(alice, usdc)
	if !bal.Total.Equal(decimal.NewFromInt(70)) {
		t.Errorf("Total after withdraw = %s, want 70", bal.Total)
	}
}

func TestWithdrawRejectsBelowAvailable(t *testing.T) {
	m := newManager()
	_ = m.Deposit(alice, usdc, decimal.NewFromInt(50))
	orderID := uuid.New()
	if err := m.LockForOrder(orderID, alice, usdc, decimal.NewFromInt(40), time.Time{}); err != nil {
		t.Fatalf("LockForOrder: %v", err)
	}
	if err := m.Withdraw(alice, usdc, decimal.NewFromInt(20)); err == nil {
		t.Error("expected withdraw exceeding available balance to fail")
	}
}

func TestLockForOrderRejectsInsufficientBalance(t *testing.T) {
	m := newManager()
	_ = m.Deposit(alice, usdc, decimal.NewFromInt(10))
	if err := m.LockForOrder(uuid.New(), alice, usdc, decimal.NewFromInt(20), time.Time{}); err == nil {
		t.Error("expected lock exceeding balance to fail")
	}
}

func TestUnlockForOrderReleasesFully(t *testing.T) {
	m := newManager()
	_ = m.Deposit(alice, usdc, decimal.NewFromInt(100))
	orderID := uuid.New()
	_ = m.LockForOrder(orderID, alice, usdc, decimal.NewFromInt(60), time.Time{})

	if err := m.UnlockForOrder(orderID, alice, usdc); err != nil {
		t.Fatalf("UnlockForOrder: %v", err)
	}
	bal := m.GetBalance(alice, usdc)
	if !bal.Locked.IsZero() {
		t.Errorf("Locked = %s, want 0", bal.Locked)
	}
	if !bal.Available().Equal(decimal.NewFromInt(100)) {
		t.Errorf("Available = %s, want 100", bal.Available())
	}
}

func TestConsumeLockReleasesProportionalShare(t *testing.T) {
	m := newManager()
	_ = m.Deposit(alice, usdc, decimal.NewFromInt(100))
	orderID := uuid.New()
	_ = m.LockForOrder(orderID, alice, usdc, decimal.NewFromInt(60), time.Time{})

	if err := m.ConsumeLock(orderID, alice, usdc, decimal.NewFromInt(20)); err != nil {
		t.Fatalf("ConsumeLock: %v", err)
	}
	bal := m.GetBalance(alice, usdc)
	if !bal.Locked.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Locked after partial consume = %s, want 40", bal.Locked)
	}

	if err := m.ConsumeLock(orderID, alice, usdc, decimal.NewFromInt(40)); err != nil {
		t.Fatalf("ConsumeLock remainder: %v", err)
	}
	bal = m.GetBalance(alice, usdc)
	if !bal.Locked.IsZero() {
		t.Errorf("Locked after full consume = %s, want 0", bal.Locked)
	}
}

func TestTransferOnFillMovesQuoteAndBase(t *testing.T) {
	m := newManager()
	_ = m.Deposit(alice, usdc, decimal.NewFromInt(1000)) // buyer's quote
	_ = m.Deposit(bob, weth, decimal.NewFromInt(10))      // seller's base

	buyOrder := uuid.New()
	sellOrder := uuid.New()
	_ = m.LockForOrder(buyOrder, alice, usdc, decimal.NewFromInt(1000), time.Time{})
	_ = m.LockForOrder(sellOrder, bob, weth, decimal.NewFromInt(10), time.Time{})

	err := m.TransferOnFill(buyOrder, sellOrder, alice, bob, weth, usdc, true, decimal.NewFromInt(100), decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("TransferOnFill: %v", err)
	}

	aliceQuote := m.GetBalance(alice, usdc)
	if !aliceQuote.Total.Equal(decimal.NewFromInt(800)) {
		t.Errorf("alice quote total = %s, want 800", aliceQuote.Total)
	}
	aliceBase := m.GetBalance(alice, weth)
	if !aliceBase.Total.Equal(decimal.NewFromInt(2)) {
		t.Errorf("alice base total = %s, want 2", aliceBase.Total)
	}
	bobBase := m.GetBalance(bob, weth)
	if !bobBase.Total.Equal(decimal.NewFromInt(8)) {
		t.Errorf("bob base total = %s, want 8", bobBase.Total)
	}
	bobQuote := m.GetBalance(bob, usdc)
	if !bobQuote.Total.Equal(decimal.NewFromInt(200)) {
		t.Errorf("bob quote total = %s, want 200", bobQuote.Total)
	}
}

func TestApplyFeeDebitsBalance(t *testing.T) {
	m := newManager()
	_ = m.Deposit(alice, usdc, decimal.NewFromInt(100))
	if err := m.ApplyFee(alice, usdc, decimal.NewFromInt(5)); err != nil {
		t.Fatalf("ApplyFee: %v", err)
	}
	bal := m.GetBalance(alice, usdc)
	if !bal.Total.Equal(decimal.NewFromInt(95)) {
		t.Errorf("Total after fee = %s, want 95", bal.Total)
	}
}

func TestApplyFeeRejectsWhenExceedingBalance(t *testing.T) {
	m := newManager()
	_ = m.Deposit(alice, usdc, decimal.NewFromInt(5))
	if err := m.ApplyFee(alice, usdc, decimal.NewFromInt(10)); err == nil {
		t.Error("expected fee exceeding balance to fail")
	}
}

func TestCleanExpiredLocksReleasesPastDeadline(t *testing.T) {
	m := newManager()
	_ = m.Deposit(alice, usdc, decimal.NewFromInt(100))
	now := time.Now()

	expiredOrder := uuid.New()
	freshOrder := uuid.New()
	_ = m.LockForOrder(expiredOrder, alice, usdc, decimal.NewFromInt(30), now.Add(-time.Minute))
	_ = m.LockForOrder(freshOrder, alice, usdc, decimal.NewFromInt(20), now.Add(time.Hour))

	m.CleanExpiredLocks(now)

	bal := m.GetBalance(alice, usdc)
	if !bal.Locked.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Locked after sweep = %s, want 20 (only the fresh lock remains)", bal.Locked)
	}
}
