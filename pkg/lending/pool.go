// Package lending implements the collateralized borrow/supply pool:
// pooled quote-currency supply, per-asset collateral locking, and
// LTV-bounded borrowing priced through the oracle hub.
//
// Valuation is always point-in-time against fresh bands. Staleness is a
// hard gate: no operation ever falls back to an old price.
package lending

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nairex/nairex/pkg/fixed"
	"github.com/nairex/nairex/pkg/oracle"
	"github.com/nairex/nairex/pkg/roles"
	"github.com/nairex/nairex/pkg/settle"
	"github.com/nairex/nairex/pkg/util"
)

var (
	ErrLtvExceeded           = errors.New("ltv exceeded")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrTransferFailed        = errors.New("transfer failed")
)

// Portfolio is a consistent snapshot of one account combined with a
// fresh-oracle valuation of its locked collateral.
type Portfolio struct {
	SupplyE6          fixed.Fixed6
	BorrowE6          fixed.Fixed6
	CollateralValueE6 fixed.Fixed6
	LtvCurrentBps     fixed.Fixed6
	MaxBorrowE6       fixed.Fixed6
}

type Config struct {
	Adapter     settle.Adapter
	Hub         *oracle.Hub
	Auth        roles.Authorizer
	Clock       util.Clock
	Log         *zap.Logger
	Quote       common.Address // pooled quote-currency token
	PoolAccount common.Address // settlement account holding pooled funds
	LtvBps      uint16
}

// Pool owns all CollateralPosition and LoanAccount records. Collateral
// value, current LTV, and headroom are always derived, never stored.
type Pool struct {
	cfg Config

	mu            sync.RWMutex
	ltvBps        uint16
	supply        map[common.Address]fixed.Fixed6
	borrow        map[common.Address]fixed.Fixed6
	collateral    map[common.Address]map[common.Address]fixed.Fixed6 // user -> asset -> locked qty
	totalSupplied fixed.Fixed6
	totalBorrowed fixed.Fixed6
}

func NewPool(cfg Config) *Pool {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Pool{
		cfg:        cfg,
		ltvBps:     cfg.LtvBps,
		supply:     make(map[common.Address]fixed.Fixed6),
		borrow:     make(map[common.Address]fixed.Fixed6),
		collateral: make(map[common.Address]map[common.Address]fixed.Fixed6),
	}
}

// Supply transfers quote currency from the caller into the pool and
// credits supply principal. No yield accrues; the pool is a flat ledger.
func (p *Pool) Supply(caller common.Address, amountE6 fixed.Fixed6) error {
	if amountE6 <= 0 {
		return fmt.Errorf("%w: supply %d", ErrInvalidAmount, amountE6)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	nextSupply, err := fixed.Add(p.supply[caller], amountE6)
	if err != nil {
		return err
	}
	nextTotal, err := fixed.Add(p.totalSupplied, amountE6)
	if err != nil {
		return err
	}
	if err := p.cfg.Adapter.Move(p.cfg.Quote, caller, p.cfg.PoolAccount, amountE6); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	p.supply[caller] = nextSupply
	p.totalSupplied = nextTotal
	p.cfg.Log.Info("supplied", zap.String("user", caller.Hex()), zap.Int64("amount_e6", int64(amountE6)))
	return nil
}

// LockCollateral transfers asset from the caller into the pool and
// increases the caller's locked position. Locking does not require a
// fresh band; any later valuation does.
func (p *Pool) LockCollateral(caller, asset common.Address, qtyE6 fixed.Fixed6) error {
	if qtyE6 <= 0 {
		return fmt.Errorf("%w: lock %d", ErrInvalidAmount, qtyE6)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lockLocked(caller, asset, qtyE6)
}

// lockLocked is LockCollateral under an already-held pool lock.
func (p *Pool) lockLocked(caller, asset common.Address, qtyE6 fixed.Fixed6) error {
	next, err := fixed.Add(p.collateral[caller][asset], qtyE6)
	if err != nil {
		return err
	}
	if err := p.cfg.Adapter.Move(asset, caller, p.cfg.PoolAccount, qtyE6); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if p.collateral[caller] == nil {
		p.collateral[caller] = make(map[common.Address]fixed.Fixed6)
	}
	p.collateral[caller][asset] = next
	p.cfg.Log.Info("collateral_locked",
		zap.String("user", caller.Hex()),
		zap.String("asset", asset.Hex()),
		zap.Int64("qty_e6", int64(qtyE6)),
	)
	return nil
}

// Borrow optionally locks additional collateral, then disburses amountE6
// against the caller's total collateral value. The locks and the
// disbursement settle as one adapter batch: a refusal anywhere leaves no
// transfer applied and no position changed.
func (p *Pool) Borrow(caller common.Address, amountE6 fixed.Fixed6, lockAssets []common.Address, lockQtyE6 []fixed.Fixed6) error {
	if amountE6 <= 0 {
		return fmt.Errorf("%w: borrow %d", ErrInvalidAmount, amountE6)
	}
	if len(lockAssets) != len(lockQtyE6) {
		return fmt.Errorf("%w: %d lock assets, %d quantities", ErrInvalidAmount, len(lockAssets), len(lockQtyE6))
	}
	for _, q := range lockQtyE6 {
		if q <= 0 {
			return fmt.Errorf("%w: lock %d", ErrInvalidAmount, q)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Collateral after the pending locks, before any transfer happens.
	pending := make(map[common.Address]fixed.Fixed6)
	for a, q := range p.collateral[caller] {
		pending[a] = q
	}
	for i, a := range lockAssets {
		next, err := fixed.Add(pending[a], lockQtyE6[i])
		if err != nil {
			return err
		}
		pending[a] = next
	}

	valueE6, err := p.valueLocked(pending)
	if err != nil {
		return err
	}

	nextBorrow, err := fixed.Add(p.borrow[caller], amountE6)
	if err != nil {
		return err
	}
	ltv, err := ltvBps(nextBorrow, valueE6)
	if err != nil {
		return err
	}
	if ltv > fixed.Fixed6(p.ltvBps) {
		return fmt.Errorf("%w: %d bps > limit %d bps", ErrLtvExceeded, ltv, p.ltvBps)
	}
	if amountE6 > p.totalSupplied-p.totalBorrowed {
		return fmt.Errorf("%w: %d available", ErrInsufficientLiquidity, p.totalSupplied-p.totalBorrowed)
	}
	nextTotalBorrowed, err := fixed.Add(p.totalBorrowed, amountE6)
	if err != nil {
		return err
	}

	moves := make([]settle.Move, 0, len(lockAssets)+1)
	for i, a := range lockAssets {
		moves = append(moves, settle.Move{Token: a, From: caller, To: p.cfg.PoolAccount, AmountE6: lockQtyE6[i]})
	}
	moves = append(moves, settle.Move{Token: p.cfg.Quote, From: p.cfg.PoolAccount, To: caller, AmountE6: amountE6})
	if err := p.cfg.Adapter.MoveBatch(moves); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	if p.collateral[caller] == nil && len(lockAssets) > 0 {
		p.collateral[caller] = make(map[common.Address]fixed.Fixed6)
	}
	for a, q := range pending {
		p.collateral[caller][a] = q
	}
	p.borrow[caller] = nextBorrow
	p.totalBorrowed = nextTotalBorrowed
	p.cfg.Log.Info("borrowed",
		zap.String("user", caller.Hex()),
		zap.Int64("amount_e6", int64(amountE6)),
		zap.Int64("ltv_bps", int64(ltv)),
	)
	return nil
}

// Repay returns quote currency to the pool, reducing borrow principal.
// Overpayment is rejected rather than credited as supply.
func (p *Pool) Repay(caller common.Address, amountE6 fixed.Fixed6) error {
	if amountE6 <= 0 {
		return fmt.Errorf("%w: repay %d", ErrInvalidAmount, amountE6)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if amountE6 > p.borrow[caller] {
		return fmt.Errorf("%w: repay %d exceeds borrow %d", ErrInvalidAmount, amountE6, p.borrow[caller])
	}
	if err := p.cfg.Adapter.Move(p.cfg.Quote, caller, p.cfg.PoolAccount, amountE6); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	p.borrow[caller] -= amountE6
	p.totalBorrowed -= amountE6
	p.cfg.Log.Info("repaid", zap.String("user", caller.Hex()), zap.Int64("amount_e6", int64(amountE6)))
	return nil
}

// UnlockCollateral releases locked collateral back to the caller. With an
// outstanding borrow the remaining collateral must keep the account at or
// under the LTV limit, valued against fresh bands.
func (p *Pool) UnlockCollateral(caller, asset common.Address, qtyE6 fixed.Fixed6) error {
	if qtyE6 <= 0 {
		return fmt.Errorf("%w: unlock %d", ErrInvalidAmount, qtyE6)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	locked := p.collateral[caller][asset]
	if qtyE6 > locked {
		return fmt.Errorf("%w: unlock %d exceeds locked %d", ErrInvalidAmount, qtyE6, locked)
	}

	if p.borrow[caller] > 0 {
		after := make(map[common.Address]fixed.Fixed6)
		for a, q := range p.collateral[caller] {
			after[a] = q
		}
		after[asset] = locked - qtyE6
		valueE6, err := p.valueLocked(after)
		if err != nil {
			return err
		}
		ltv, err := ltvBps(p.borrow[caller], valueE6)
		if err != nil {
			return err
		}
		if ltv > fixed.Fixed6(p.ltvBps) {
			return fmt.Errorf("%w: %d bps after unlock", ErrLtvExceeded, ltv)
		}
	}

	if err := p.cfg.Adapter.Move(asset, p.cfg.PoolAccount, caller, qtyE6); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	p.collateral[caller][asset] = locked - qtyE6
	p.cfg.Log.Info("collateral_unlocked",
		zap.String("user", caller.Hex()),
		zap.String("asset", asset.Hex()),
		zap.Int64("qty_e6", int64(qtyE6)),
	)
	return nil
}

// AccountPortfolio combines the loan account with a fresh-oracle valuation.
// It fails with a stale-oracle error rather than silently valuing against
// an old price.
func (p *Pool) AccountPortfolio(user common.Address) (Portfolio, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	valueE6, err := p.valueLocked(p.collateral[user])
	if err != nil {
		return Portfolio{}, err
	}
	borrow := p.borrow[user]
	ltv, err := ltvBps(borrow, valueE6)
	if err != nil {
		return Portfolio{}, err
	}
	limit, err := fixed.MulDivFloor(valueE6, fixed.Fixed6(p.ltvBps), fixed.BpsDenom)
	if err != nil {
		return Portfolio{}, err
	}
	headroom := limit - borrow
	if headroom < 0 {
		headroom = 0
	}
	return Portfolio{
		SupplyE6:          p.supply[user],
		BorrowE6:          borrow,
		CollateralValueE6: valueE6,
		LtvCurrentBps:     ltv,
		MaxBorrowE6:       headroom,
	}, nil
}

// SupplyPrincipal returns the user's supplied quote-currency principal.
func (p *Pool) SupplyPrincipal(user common.Address) fixed.Fixed6 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.supply[user]
}

// AvailableLiquidity returns the undisbursed quote currency in the pool.
func (p *Pool) AvailableLiquidity() fixed.Fixed6 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalSupplied - p.totalBorrowed
}

func (p *Pool) LtvBps() uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ltvBps
}

// SetLtvBps updates the pool's LTV limit. Pool-admin only. Existing
// positions are not re-checked; the limit applies to future borrows and
// unlocks.
func (p *Pool) SetLtvBps(caller common.Address, bps uint16) error {
	if !p.cfg.Auth.Allowed(caller, roles.PoolAdmin) {
		return fmt.Errorf("set ltv: %w", roles.ErrUnauthorized)
	}
	if bps > 10000 {
		return fmt.Errorf("%w: ltv %d bps", ErrInvalidAmount, bps)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ltvBps = bps
	p.cfg.Log.Info("ltv_set", zap.Uint16("bps", bps))
	return nil
}

// valueLocked sums the USD value of locked positions. Every referenced
// asset's band (and the FX band, when configured) must be fresh.
func (p *Pool) valueLocked(positions map[common.Address]fixed.Fixed6) (fixed.Fixed6, error) {
	var total fixed.Fixed6
	for asset, qty := range positions {
		if qty == 0 {
			continue
		}
		pxE6, err := p.cfg.Hub.UsdPrice(asset)
		if err != nil {
			return 0, err
		}
		v, err := fixed.MulDivFloor(qty, pxE6, fixed.One)
		if err != nil {
			return 0, err
		}
		if total, err = fixed.Add(total, v); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// ltvBps returns borrow*10000/value, zero when nothing is borrowed.
// Borrowing against zero-value collateral is an automatic limit breach.
func ltvBps(borrowE6, valueE6 fixed.Fixed6) (fixed.Fixed6, error) {
	if borrowE6 == 0 {
		return 0, nil
	}
	if valueE6 == 0 {
		return fixed.BpsDenom + 1, nil
	}
	return fixed.MulDivFloor(borrowE6, fixed.BpsDenom, valueE6)
}
