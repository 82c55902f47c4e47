// Package clob implements the central limit order book: per-asset venue
// state, price-time-priority matching at the maker's price, fee
// computation, and atomic settlement through the adapter boundary.
//
// Each asset is an independent serialization unit: operations on one asset
// queue behind its mutex and never block other assets. The settlement call
// is evaluated inside the critical section and order state is mutated only
// after it succeeds, so a failed transfer leaves no trace.
package clob

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nairex/nairex/pkg/book"
	"github.com/nairex/nairex/pkg/fixed"
	"github.com/nairex/nairex/pkg/oracle"
	"github.com/nairex/nairex/pkg/roles"
	"github.com/nairex/nairex/pkg/settle"
	"github.com/nairex/nairex/pkg/util"
)

var (
	ErrVenuePaused     = errors.New("venue paused")
	ErrCallAuction     = errors.New("call auction in effect")
	ErrOutOfBand       = errors.New("price out of band")
	ErrInvalidOrder    = errors.New("invalid order")
	ErrAlreadyTerminal = errors.New("order already terminal")
	ErrTransferFailed  = errors.New("transfer failed")
	ErrUnknownOrder    = errors.New("unknown order")
	ErrBadTransition   = errors.New("invalid venue transition")
)

// Persister receives accepted orders and trades for durable storage.
type Persister interface {
	SaveOrder(o book.Order) error
	SaveTrade(t Trade) error
}

type Config struct {
	Adapter       settle.Adapter
	Hub           *oracle.Hub
	Auth          roles.Authorizer
	Clock         util.Clock
	Log           *zap.Logger
	Store         Persister // optional
	Quote         common.Address
	FeeSink       common.Address
	DefaultFeeBps uint16
	TradeHook     func(Trade) // optional, called under the asset lock, must not block
}

// shard is one asset's serialization unit: its book, venue state, fee
// override, and full order/trade history, all guarded by one mutex.
type shard struct {
	mu     sync.Mutex
	asset  common.Address
	venue  VenueState
	book   *book.Book
	orders map[uint64]*book.Order
	trades []Trade

	feeBps    uint16
	hasFeeBps bool
}

type Engine struct {
	cfg    Config
	nextID atomic.Uint64

	mu     sync.RWMutex
	shards map[common.Address]*shard

	idMu    sync.RWMutex
	assetOf map[uint64]common.Address
}

func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		shards:  make(map[common.Address]*shard),
		assetOf: make(map[uint64]common.Address),
	}
}

// Restore seeds the engine from persisted orders. The id counter resumes
// past the highest stored id so ids are never reused across restarts,
// historical orders answer lookups again, and non-terminal orders rest in
// ascending id order, which reproduces price-time priority. Venue state is
// not persisted: restored assets come back Paused until an admin reopens
// them. Call before the engine serves requests.
func (e *Engine) Restore(orders []book.Order) {
	sortOrders(orders)
	var maxID uint64
	for _, o := range orders {
		if o.ID > maxID {
			maxID = o.ID
		}
		s := e.getShard(o.Asset)
		cp := o
		s.mu.Lock()
		s.orders[cp.ID] = &cp
		if !cp.Status.Terminal() && cp.Qty > 0 {
			s.book.Rest(&cp)
		}
		s.mu.Unlock()
		e.idMu.Lock()
		e.assetOf[cp.ID] = cp.Asset
		e.idMu.Unlock()
	}
	if e.nextID.Load() < maxID {
		e.nextID.Store(maxID)
	}
	if len(orders) > 0 {
		e.cfg.Log.Info("orders_restored",
			zap.Int("count", len(orders)),
			zap.Uint64("next_id", maxID),
		)
	}
}

func (e *Engine) getShard(asset common.Address) *shard {
	e.mu.RLock()
	s, ok := e.shards[asset]
	e.mu.RUnlock()
	if ok {
		return s
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok = e.shards[asset]; ok {
		return s
	}
	s = &shard{asset: asset, book: book.New(), orders: make(map[uint64]*book.Order)}
	e.shards[asset] = s
	return s
}

func (e *Engine) effectiveFeeBps(s *shard) uint16 {
	if s.hasFeeBps {
		return s.feeBps
	}
	return e.cfg.DefaultFeeBps
}

// Place admits an order and, while the venue is Continuous, immediately
// crosses it against the opposite side. Place is all-or-nothing: a band
// violation or settlement failure during the immediate cross rejects the
// whole call and nothing is recorded.
//
// A Market order never rests: whatever remains after crossing is
// cancelled. Its price is the worst acceptable execution price and is
// exempt from the admission band check; execution prices are still
// band-checked at match time.
func (e *Engine) Place(trader, asset common.Address, side book.Side, kind book.Kind, qtyE6, priceE6 fixed.Fixed6) (uint64, error) {
	if qtyE6 <= 0 {
		return 0, fmt.Errorf("%w: qty %d", ErrInvalidOrder, qtyE6)
	}
	if priceE6 <= 0 {
		return 0, fmt.Errorf("%w: price %d", ErrInvalidOrder, priceE6)
	}
	if side != book.Buy && side != book.Sell {
		return 0, fmt.Errorf("%w: side %d", ErrInvalidOrder, side)
	}

	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.venue == Paused {
		return 0, fmt.Errorf("place on %s: %w", asset.Hex(), ErrVenuePaused)
	}

	// Pre-admission band gate for resting prices. Market orders never rest
	// at a fixed price, so they skip this check.
	if kind == book.Limit {
		b, err := e.cfg.Hub.FreshBand(asset)
		if err != nil {
			return 0, err
		}
		lo, hi, err := b.Bounds()
		if err != nil {
			return 0, err
		}
		if priceE6 < lo || priceE6 > hi {
			return 0, fmt.Errorf("%w: price %s outside [%s, %s]", ErrOutOfBand, priceE6, lo, hi)
		}
	}

	o := &book.Order{
		ID:        e.nextID.Add(1),
		Trader:    trader,
		Asset:     asset,
		Side:      side,
		Kind:      kind,
		Qty:       qtyE6,
		PriceE6:   priceE6,
		CreatedAt: e.cfg.Clock.Now().Unix(),
		Status:    book.Active,
	}

	var trades []Trade
	if s.venue == Continuous {
		fills, err := e.planTakerCross(s, o)
		if err != nil {
			return 0, err
		}
		trades, err = e.settleAndCommit(s, fills)
		if err != nil {
			return 0, err
		}
	}

	// Admission: record the order, then rest or cancel the remainder.
	s.orders[o.ID] = o
	if o.Qty == 0 {
		o.Status = book.Filled
	} else if o.Kind == book.Market {
		o.Status = book.Cancelled
	} else {
		s.book.Rest(o)
	}

	e.idMu.Lock()
	e.assetOf[o.ID] = asset
	e.idMu.Unlock()

	e.persistOrder(o)
	e.cfg.Log.Info("order_placed",
		zap.Uint64("id", o.ID),
		zap.String("asset", asset.Hex()),
		zap.String("side", side.String()),
		zap.String("kind", kind.String()),
		zap.String("status", o.Status.String()),
		zap.Int("fills", len(trades)),
	)
	e.emit(trades)
	return o.ID, nil
}

// Cancel transitions the caller's active order to Cancelled. No funds move:
// orders reserve nothing ahead of match.
func (e *Engine) Cancel(caller common.Address, id uint64) error {
	e.idMu.RLock()
	asset, ok := e.assetOf[id]
	e.idMu.RUnlock()
	if !ok {
		return fmt.Errorf("cancel %d: %w", id, ErrUnknownOrder)
	}

	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("cancel %d: %w", id, ErrUnknownOrder)
	}
	if o.Trader != caller {
		return fmt.Errorf("cancel %d: %w", id, roles.ErrUnauthorized)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("cancel %d (%s): %w", id, o.Status, ErrAlreadyTerminal)
	}

	s.book.Remove(id)
	o.Status = book.Cancelled
	e.persistOrder(o)
	e.cfg.Log.Info("order_cancelled", zap.Uint64("id", id), zap.String("asset", asset.Hex()))
	return nil
}

// CancelAll cancels every active order the caller has on the asset and
// returns how many were cancelled.
func (e *Engine) CancelAll(caller, asset common.Address) int {
	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, o := range s.orders {
		if o.Trader != caller || o.Status.Terminal() {
			continue
		}
		s.book.Remove(o.ID)
		o.Status = book.Cancelled
		e.persistOrder(o)
		n++
	}
	if n > 0 {
		e.cfg.Log.Info("orders_cancelled", zap.String("asset", asset.Hex()), zap.Int("count", n))
	}
	return n
}

// MatchBest drains up to maxAttempts crossable pairs from the asset's
// book. The whole batch settles as one unit: a failure on any attempt
// aborts every attempt in the call, including ones matched earlier. This
// all-or-nothing semantics is deliberate, not a partial-progress loop.
func (e *Engine) MatchBest(asset common.Address, maxAttempts int) (int, error) {
	if maxAttempts <= 0 {
		return 0, nil
	}
	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.venue != Continuous {
		if s.venue == Paused {
			return 0, fmt.Errorf("match on %s: %w", asset.Hex(), ErrVenuePaused)
		}
		// Call auction: orders rest, but no clearing algorithm is defined
		// for this mode. Matching is rejected until one is.
		return 0, fmt.Errorf("match on %s: clearing not supported: %w", asset.Hex(), ErrCallAuction)
	}

	fills, err := e.planBookCross(s, maxAttempts)
	if err != nil {
		return 0, err
	}
	trades, err := e.settleAndCommit(s, fills)
	if err != nil {
		return 0, err
	}
	e.emit(trades)
	return len(trades), nil
}

// SetVenue transitions the asset's venue state. Venue-admin only.
func (e *Engine) SetVenue(caller, asset common.Address, to VenueState) error {
	if !e.cfg.Auth.Allowed(caller, roles.VenueAdmin) {
		return fmt.Errorf("set venue: %w", roles.ErrUnauthorized)
	}
	if to != Paused && to != Continuous && to != CallAuction {
		return fmt.Errorf("%w: state %d", ErrBadTransition, to)
	}
	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validTransition(s.venue, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, s.venue, to)
	}
	e.cfg.Log.Info("venue_set",
		zap.String("asset", asset.Hex()),
		zap.String("from", s.venue.String()),
		zap.String("to", to.String()),
	)
	s.venue = to
	return nil
}

func (e *Engine) Venue(asset common.Address) VenueState {
	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.venue
}

// SetFeeBps sets a per-asset fee override. Venue-admin only.
func (e *Engine) SetFeeBps(caller, asset common.Address, bps uint16) error {
	if !e.cfg.Auth.Allowed(caller, roles.VenueAdmin) {
		return fmt.Errorf("set fee: %w", roles.ErrUnauthorized)
	}
	if bps > 10000 {
		return fmt.Errorf("%w: fee %d bps", ErrInvalidOrder, bps)
	}
	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeBps = bps
	s.hasFeeBps = true
	e.cfg.Log.Info("fee_set", zap.String("asset", asset.Hex()), zap.Uint16("bps", bps))
	return nil
}

func (e *Engine) FeeBps(asset common.Address) uint16 {
	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.effectiveFeeBps(s)
}

// Best returns the best bid and ask prices, zero for an empty side.
func (e *Engine) Best(asset common.Address) (bidE6, askE6 fixed.Fixed6) {
	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Best()
}

// Depth returns aggregate bid and ask levels, best first.
func (e *Engine) Depth(asset common.Address) (bids, asks []book.Level) {
	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.BidLevels(), s.book.AskLevels()
}

// Order returns a copy of the order, historical or active.
func (e *Engine) Order(id uint64) (book.Order, bool) {
	e.idMu.RLock()
	asset, ok := e.assetOf[id]
	e.idMu.RUnlock()
	if !ok {
		return book.Order{}, false
	}
	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return book.Order{}, false
	}
	return *o, true
}

// OpenOrders returns copies of the trader's active orders on the asset,
// oldest first.
func (e *Engine) OpenOrders(asset, trader common.Address) []book.Order {
	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []book.Order
	for _, o := range s.orders {
		if o.Trader == trader && !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	sortOrders(out)
	return out
}

// Trades returns up to limit most recent trades for the asset, newest last.
func (e *Engine) Trades(asset common.Address, limit int) []Trade {
	s := e.getShard(asset)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.trades)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Trade, limit)
	copy(out, s.trades[n-limit:])
	return out
}

// OrdersLen returns the total number of orders ever admitted.
func (e *Engine) OrdersLen() uint64 {
	return e.nextID.Load()
}

// Assets returns every asset with a shard, in arbitrary order.
func (e *Engine) Assets() []common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]common.Address, 0, len(e.shards))
	for a := range e.shards {
		out = append(out, a)
	}
	return out
}

func (e *Engine) persistOrder(o *book.Order) {
	if e.cfg.Store == nil {
		return
	}
	if err := e.cfg.Store.SaveOrder(*o); err != nil {
		e.cfg.Log.Error("order_persist_failed", zap.Uint64("id", o.ID), zap.Error(err))
	}
}

func (e *Engine) persistTrade(t Trade) {
	if e.cfg.Store == nil {
		return
	}
	if err := e.cfg.Store.SaveTrade(t); err != nil {
		e.cfg.Log.Error("trade_persist_failed", zap.Error(err))
	}
}

func (e *Engine) emit(trades []Trade) {
	if e.cfg.TradeHook == nil {
		return
	}
	for _, t := range trades {
		e.cfg.TradeHook(t)
	}
}

func sortOrders(orders []book.Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
}
