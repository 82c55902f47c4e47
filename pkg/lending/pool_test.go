package lending

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nairex/nairex/pkg/fixed"
	"github.com/nairex/nairex/pkg/oracle"
	"github.com/nairex/nairex/pkg/roles"
	"github.com/nairex/nairex/pkg/settle"
	"github.com/nairex/nairex/pkg/util"
)

var (
	quote     = common.HexToAddress("0x0c00000000000000000000000000000000000001")
	collatA   = common.HexToAddress("0xaa00000000000000000000000000000000000001")
	collatB   = common.HexToAddress("0xbb00000000000000000000000000000000000001")
	poolAcct  = common.HexToAddress("0x9000000000000000000000000000000000000001")
	poolAdmin = common.HexToAddress("0xad00000000000000000000000000000000000001")
	feeder    = common.HexToAddress("0xfeed000000000000000000000000000000000001")
	lender    = common.HexToAddress("0x1e00000000000000000000000000000000000001")
	borrower  = common.HexToAddress("0xb000000000000000000000000000000000000001")
)

type env struct {
	pool   *Pool
	ledger *settle.Ledger
	hub    *oracle.Hub
	clock  *util.FakeClock
}

// newEnv builds a pool at 2500 bps max LTV with a funded lender and a
// borrower holding collateral token A priced at 10 USD.
func newEnv(t *testing.T) *env {
	t.Helper()

	auth := roles.NewStaticAuthorizer()
	auth.Grant(poolAdmin, roles.PoolAdmin)
	auth.Grant(feeder, roles.Feeder)

	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	hub := oracle.NewHub(oracle.HubConfig{
		MaxStaleness: 30 * time.Minute,
		RequireSeq:   true,
		Auth:         auth,
		Clock:        clock,
	})

	ledger := settle.NewLedger()
	for _, token := range []common.Address{quote, collatA, collatB} {
		for _, holder := range []common.Address{lender, borrower, poolAcct} {
			ledger.Associate(token, holder)
		}
	}
	mint(t, ledger, quote, lender, 10_000_000_000) // 10,000 quote
	ledger.Approve(quote, lender, 10_000_000_000)
	mint(t, ledger, collatA, borrower, 1_000_000_000) // 1,000 units
	ledger.Approve(collatA, borrower, 1_000_000_000)
	mint(t, ledger, collatB, borrower, 1_000_000_000)
	ledger.Approve(collatB, borrower, 1_000_000_000)
	ledger.Approve(quote, borrower, 10_000_000_000)   // for repayments
	ledger.Approve(quote, poolAcct, 10_000_000_000)   // pool disbursements
	ledger.Approve(collatA, poolAcct, 1_000_000_000)  // collateral unlocks
	ledger.Approve(collatB, poolAcct, 1_000_000_000)

	setPrice(t, hub, clock, collatA, 10_000_000, 1) // 10 USD
	setPrice(t, hub, clock, collatB, 2_000_000, 1)  // 2 USD

	pool := NewPool(Config{
		Adapter:     ledger,
		Hub:         hub,
		Auth:        auth,
		Clock:       clock,
		Quote:       quote,
		PoolAccount: poolAcct,
		LtvBps:      2500,
	})
	return &env{pool: pool, ledger: ledger, hub: hub, clock: clock}
}

func mint(t *testing.T, l *settle.Ledger, token, to common.Address, amt fixed.Fixed6) {
	t.Helper()
	if err := l.Mint(token, to, amt); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func setPrice(t *testing.T, hub *oracle.Hub, clock *util.FakeClock, asset common.Address, midE6 fixed.Fixed6, seq uint64) {
	t.Helper()
	b := oracle.Band{MidE6: midE6, WidthBps: 100, Ts: clock.Now().Unix(), Seq: seq}
	if err := hub.SetBand(feeder, asset, b); err != nil {
		t.Fatalf("set band: %v", err)
	}
}

func TestSupplyAndLiquidity(t *testing.T) {
	v := newEnv(t)

	if err := v.pool.Supply(lender, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero supply: %v", err)
	}
	if err := v.pool.Supply(lender, 1_000_000_000); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if got := v.pool.SupplyPrincipal(lender); got != 1_000_000_000 {
		t.Errorf("principal = %d, want 1000000000", got)
	}
	if got := v.pool.AvailableLiquidity(); got != 1_000_000_000 {
		t.Errorf("liquidity = %d, want 1000000000", got)
	}
	if got := v.ledger.BalanceOf(quote, poolAcct); got != 1_000_000_000 {
		t.Errorf("pool account = %d, want 1000000000", got)
	}
}

// 100 units of a 10 USD asset is 1,000 USD of collateral; at 2500 bps the
// borrow limit is exactly 250.
func TestBorrowAgainstLtv(t *testing.T) {
	v := newEnv(t)
	if err := v.pool.Supply(lender, 1_000_000_000); err != nil {
		t.Fatal(err)
	}
	if err := v.pool.LockCollateral(borrower, collatA, 100_000_000); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if err := v.pool.Borrow(borrower, 300_000_000, nil, nil); !errors.Is(err, ErrLtvExceeded) {
		t.Fatalf("borrow 300 against 1000: %v, want ErrLtvExceeded", err)
	}
	if err := v.pool.Borrow(borrower, 250_000_000, nil, nil); err != nil {
		t.Fatalf("borrow at exactly the limit: %v", err)
	}
	if got := v.ledger.BalanceOf(quote, borrower); got != 250_000_000 {
		t.Errorf("disbursed = %d, want 250000000", got)
	}

	p, err := v.pool.AccountPortfolio(borrower)
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if p.BorrowE6 != 250_000_000 {
		t.Errorf("borrow = %d, want 250000000", p.BorrowE6)
	}
	if p.CollateralValueE6 != 1_000_000_000 {
		t.Errorf("collateral value = %d, want 1000000000", p.CollateralValueE6)
	}
	if p.LtvCurrentBps != 2500 {
		t.Errorf("ltv = %d bps, want 2500", p.LtvCurrentBps)
	}
	if p.MaxBorrowE6 != 0 {
		t.Errorf("headroom = %d at the limit, want 0", p.MaxBorrowE6)
	}

	// fully drawn: any meaningful further borrow breaches
	if err := v.pool.Borrow(borrower, 50_000_000, nil, nil); !errors.Is(err, ErrLtvExceeded) {
		t.Errorf("borrow past the limit: %v", err)
	}
}

func TestBorrowWithInlineLock(t *testing.T) {
	v := newEnv(t)
	if err := v.pool.Supply(lender, 1_000_000_000); err != nil {
		t.Fatal(err)
	}

	// no collateral at all yet: value 0, any borrow breaches
	if err := v.pool.Borrow(borrower, 1_000_000, nil, nil); !errors.Is(err, ErrLtvExceeded) {
		t.Fatalf("borrow with no collateral: %v", err)
	}

	// lock 100 of A (1,000 USD) and 500 of B (1,000 USD) in the same call
	err := v.pool.Borrow(borrower, 500_000_000,
		[]common.Address{collatA, collatB},
		[]fixed.Fixed6{100_000_000, 500_000_000})
	if err != nil {
		t.Fatalf("borrow with inline locks: %v", err)
	}

	p, err := v.pool.AccountPortfolio(borrower)
	if err != nil {
		t.Fatal(err)
	}
	if p.CollateralValueE6 != 2_000_000_000 {
		t.Errorf("collateral value = %d, want 2000000000", p.CollateralValueE6)
	}
	if p.LtvCurrentBps != 2500 {
		t.Errorf("ltv = %d, want 2500", p.LtvCurrentBps)
	}
}

func TestBorrowLiquidityGate(t *testing.T) {
	v := newEnv(t)
	if err := v.pool.Supply(lender, 100_000_000); err != nil {
		t.Fatal(err)
	}
	if err := v.pool.LockCollateral(borrower, collatA, 1_000_000_000); err != nil {
		t.Fatal(err)
	}

	// 10,000 USD of collateral admits 2,500 of borrow, but only 100 is pooled
	if err := v.pool.Borrow(borrower, 200_000_000, nil, nil); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("borrow past liquidity: %v, want ErrInsufficientLiquidity", err)
	}
	if err := v.pool.Borrow(borrower, 100_000_000, nil, nil); err != nil {
		t.Fatalf("borrow all liquidity: %v", err)
	}
	if got := v.pool.AvailableLiquidity(); got != 0 {
		t.Errorf("liquidity = %d, want 0", got)
	}
}

func TestBorrowBatchAbortsOnRefusedLock(t *testing.T) {
	v := newEnv(t)
	if err := v.pool.Supply(lender, 1_000_000_000); err != nil {
		t.Fatal(err)
	}

	// freeze the borrower's collateral token so the inline lock is refused
	v.ledger.SetFrozen(collatA, borrower, true)
	err := v.pool.Borrow(borrower, 100_000_000,
		[]common.Address{collatA}, []fixed.Fixed6{100_000_000})
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("borrow with frozen collateral: %v, want ErrTransferFailed", err)
	}

	// no disbursement, no position
	if got := v.ledger.BalanceOf(quote, borrower); got != 0 {
		t.Errorf("borrower received %d from aborted borrow", got)
	}
	p, err := v.pool.AccountPortfolio(borrower)
	if err != nil {
		t.Fatal(err)
	}
	if p.BorrowE6 != 0 || p.CollateralValueE6 != 0 {
		t.Errorf("portfolio mutated by aborted borrow: %+v", p)
	}
}

func TestStalenessGatesValuation(t *testing.T) {
	v := newEnv(t)
	if err := v.pool.Supply(lender, 1_000_000_000); err != nil {
		t.Fatal(err)
	}

	// locking needs no band
	v.clock.Advance(31 * time.Minute)
	if err := v.pool.LockCollateral(borrower, collatA, 100_000_000); err != nil {
		t.Fatalf("lock with stale band: %v", err)
	}

	// valuation does
	if err := v.pool.Borrow(borrower, 1_000_000, nil, nil); !errors.Is(err, oracle.ErrStaleOracle) {
		t.Errorf("borrow with stale band: %v, want ErrStaleOracle", err)
	}
	if _, err := v.pool.AccountPortfolio(borrower); !errors.Is(err, oracle.ErrStaleOracle) {
		t.Errorf("portfolio with stale band: %v, want ErrStaleOracle", err)
	}

	setPrice(t, v.hub, v.clock, collatA, 10_000_000, 2)
	if err := v.pool.Borrow(borrower, 1_000_000, nil, nil); err != nil {
		t.Errorf("borrow after refresh: %v", err)
	}
}

func TestRepay(t *testing.T) {
	v := newEnv(t)
	if err := v.pool.Supply(lender, 1_000_000_000); err != nil {
		t.Fatal(err)
	}
	if err := v.pool.LockCollateral(borrower, collatA, 100_000_000); err != nil {
		t.Fatal(err)
	}
	if err := v.pool.Borrow(borrower, 200_000_000, nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := v.pool.Repay(borrower, 250_000_000); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("overpayment: %v, want ErrInvalidAmount", err)
	}
	if err := v.pool.Repay(borrower, 150_000_000); err != nil {
		t.Fatalf("repay: %v", err)
	}

	p, err := v.pool.AccountPortfolio(borrower)
	if err != nil {
		t.Fatal(err)
	}
	if p.BorrowE6 != 50_000_000 {
		t.Errorf("borrow after repay = %d, want 50000000", p.BorrowE6)
	}
	if got := v.pool.AvailableLiquidity(); got != 950_000_000 {
		t.Errorf("liquidity = %d, want 950000000", got)
	}
}

func TestUnlockCollateral(t *testing.T) {
	v := newEnv(t)
	if err := v.pool.Supply(lender, 1_000_000_000); err != nil {
		t.Fatal(err)
	}
	if err := v.pool.LockCollateral(borrower, collatA, 100_000_000); err != nil {
		t.Fatal(err)
	}
	if err := v.pool.Borrow(borrower, 200_000_000, nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := v.pool.UnlockCollateral(borrower, collatA, 200_000_000); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("unlock more than locked: %v", err)
	}
	// 200 borrowed needs 800 USD of collateral at 2500 bps; unlocking 30
	// units leaves only 700
	if err := v.pool.UnlockCollateral(borrower, collatA, 30_000_000); !errors.Is(err, ErrLtvExceeded) {
		t.Errorf("unlock past maintenance: %v, want ErrLtvExceeded", err)
	}
	if err := v.pool.UnlockCollateral(borrower, collatA, 20_000_000); err != nil {
		t.Fatalf("unlock within maintenance: %v", err)
	}
	if got := v.ledger.BalanceOf(collatA, borrower); got != 920_000_000 {
		t.Errorf("borrower collateral balance = %d, want 920000000", got)
	}

	// with no debt, everything can come back
	if err := v.pool.Repay(borrower, 200_000_000); err != nil {
		t.Fatal(err)
	}
	if err := v.pool.UnlockCollateral(borrower, collatA, 80_000_000); err != nil {
		t.Fatalf("unlock all after repay: %v", err)
	}
}

func TestSetLtvBps(t *testing.T) {
	v := newEnv(t)
	if err := v.pool.SetLtvBps(borrower, 5000); !errors.Is(err, roles.ErrUnauthorized) {
		t.Errorf("non-admin: %v", err)
	}
	if err := v.pool.SetLtvBps(poolAdmin, 10_001); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("over 100%%: %v", err)
	}
	if err := v.pool.SetLtvBps(poolAdmin, 5000); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := v.pool.LtvBps(); got != 5000 {
		t.Errorf("ltv = %d, want 5000", got)
	}
}
