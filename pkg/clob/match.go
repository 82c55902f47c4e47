package clob

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nairex/nairex/pkg/book"
	"github.com/nairex/nairex/pkg/fixed"
	"github.com/nairex/nairex/pkg/settle"
)

// fill is one planned execution. Matching runs in two phases: plan fills
// against the book without touching order state, settle the whole batch
// through the adapter, and only then commit quantity decrements and trade
// records. A settlement failure therefore leaves every order untouched.
type fill struct {
	buy        *book.Order
	sell       *book.Order
	qtyE6      fixed.Fixed6
	priceE6    fixed.Fixed6
	notionalE6 fixed.Fixed6
	feeE6      fixed.Fixed6
}

// crosses reports whether the taker's price admits execution against the
// maker. For a Market taker the limit price is the worst acceptable
// execution price, so the comparison is identical.
func crosses(taker *book.Order, makerPriceE6 fixed.Fixed6) bool {
	if taker.Side == book.Buy {
		return makerPriceE6 <= taker.PriceE6
	}
	return makerPriceE6 >= taker.PriceE6
}

// planTakerCross plans the incoming order's fills against the opposite
// side of the book. The band is fetched lazily: a book that doesn't cross
// needs no oracle at all.
func (e *Engine) planTakerCross(s *shard, taker *book.Order) ([]fill, error) {
	feeBps := e.effectiveFeeBps(s)
	var (
		fills     []fill
		planErr   error
		bandSet   bool
		lo, hi    fixed.Fixed6
		remaining = taker.Qty
	)

	s.book.Walk(taker.Side.Opposite(), func(maker *book.Order) bool {
		if remaining == 0 || !crosses(taker, maker.PriceE6) {
			return false
		}
		if !bandSet {
			b, err := e.cfg.Hub.FreshBand(s.asset)
			if err != nil {
				planErr = err
				return false
			}
			if lo, hi, planErr = b.Bounds(); planErr != nil {
				return false
			}
			bandSet = true
		}
		// Execution happens at the resting (maker) order's price.
		px := maker.PriceE6
		if px < lo || px > hi {
			planErr = fmt.Errorf("%w: execution price %s outside [%s, %s]", ErrOutOfBand, px, lo, hi)
			return false
		}
		qty := remaining
		if maker.Qty < qty {
			qty = maker.Qty
		}
		f, err := e.buildFill(taker, maker, qty, px, feeBps)
		if err != nil {
			planErr = err
			return false
		}
		fills = append(fills, f)
		remaining -= qty
		return remaining > 0
	})
	if planErr != nil {
		return nil, planErr
	}
	return fills, nil
}

// planBookCross plans up to maxAttempts fills between already-resting
// orders. The maker is the earlier order (lower id) and sets the price.
func (e *Engine) planBookCross(s *shard, maxAttempts int) ([]fill, error) {
	feeBps := e.effectiveFeeBps(s)

	var bids, asks []*book.Order
	s.book.Walk(book.Buy, func(o *book.Order) bool { bids = append(bids, o); return true })
	s.book.Walk(book.Sell, func(o *book.Order) bool { asks = append(asks, o); return true })

	remaining := make(map[uint64]fixed.Fixed6)
	rem := func(o *book.Order) fixed.Fixed6 {
		if r, ok := remaining[o.ID]; ok {
			return r
		}
		return o.Qty
	}

	var (
		fills   []fill
		bandSet bool
		lo, hi  fixed.Fixed6
		bi, ai  int
	)
	for len(fills) < maxAttempts && bi < len(bids) && ai < len(asks) {
		bid, ask := bids[bi], asks[ai]
		if rem(bid) == 0 {
			bi++
			continue
		}
		if rem(ask) == 0 {
			ai++
			continue
		}
		if bid.PriceE6 < ask.PriceE6 {
			break // no cross remains
		}
		if !bandSet {
			b, err := e.cfg.Hub.FreshBand(s.asset)
			if err != nil {
				return nil, err
			}
			var berr error
			if lo, hi, berr = b.Bounds(); berr != nil {
				return nil, berr
			}
			bandSet = true
		}

		// The earlier order was resting first, so its price is the maker
		// price.
		px := bid.PriceE6
		if ask.ID < bid.ID {
			px = ask.PriceE6
		}
		if px < lo || px > hi {
			return nil, fmt.Errorf("%w: execution price %s outside [%s, %s]", ErrOutOfBand, px, lo, hi)
		}

		qty := rem(bid)
		if r := rem(ask); r < qty {
			qty = r
		}
		f, err := e.buildFill(bid, ask, qty, px, feeBps)
		if err != nil {
			return nil, err
		}
		fills = append(fills, f)
		remaining[bid.ID] = rem(bid) - qty
		remaining[ask.ID] = rem(ask) - qty
	}
	return fills, nil
}

// buildFill computes the economics of one execution. a and b are the two
// sides in either order.
func (e *Engine) buildFill(a, b *book.Order, qty, px fixed.Fixed6, feeBps uint16) (fill, error) {
	buy, sell := a, b
	if buy.Side == book.Sell {
		buy, sell = sell, buy
	}
	notional, err := fixed.Notional(qty, px)
	if err != nil {
		return fill{}, err
	}
	fee, err := fixed.Fee(notional, feeBps)
	if err != nil {
		return fill{}, err
	}
	return fill{buy: buy, sell: sell, qtyE6: qty, priceE6: px, notionalE6: notional, feeE6: fee}, nil
}

// settleAndCommit settles all planned fills as a single adapter batch and,
// on success, commits quantity decrements, statuses, and trade records.
// On failure nothing changes: the adapter guarantees the batch applied no
// transfer, and no order was mutated during planning.
func (e *Engine) settleAndCommit(s *shard, fills []fill) ([]Trade, error) {
	if len(fills) == 0 {
		return nil, nil
	}

	var moves []settle.Move
	for _, f := range fills {
		// Buyer pays notional to the seller plus the fee to the sink;
		// seller delivers the asset. Zero-value legs are skipped, the
		// custody layer rejects empty transfers.
		if f.notionalE6 > 0 {
			moves = append(moves, settle.Move{Token: e.cfg.Quote, From: f.buy.Trader, To: f.sell.Trader, AmountE6: f.notionalE6})
		}
		if f.feeE6 > 0 {
			moves = append(moves, settle.Move{Token: e.cfg.Quote, From: f.buy.Trader, To: e.cfg.FeeSink, AmountE6: f.feeE6})
		}
		moves = append(moves, settle.Move{Token: s.asset, From: f.sell.Trader, To: f.buy.Trader, AmountE6: f.qtyE6})
	}
	if err := e.cfg.Adapter.MoveBatch(moves); err != nil {
		e.cfg.Log.Warn("settlement_failed",
			zap.String("asset", s.asset.Hex()),
			zap.Int("fills", len(fills)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	now := e.cfg.Clock.Now().Unix()
	trades := make([]Trade, 0, len(fills))
	for _, f := range fills {
		e.reduce(s, f.buy, f.qtyE6)
		e.reduce(s, f.sell, f.qtyE6)
		t := Trade{
			Asset:       s.asset,
			BuyOrderID:  f.buy.ID,
			SellOrderID: f.sell.ID,
			Buyer:       f.buy.Trader,
			Seller:      f.sell.Trader,
			QtyE6:       f.qtyE6,
			PriceE6:     f.priceE6,
			NotionalE6:  f.notionalE6,
			FeeE6:       f.feeE6,
			Ts:          now,
		}
		s.trades = append(s.trades, t)
		trades = append(trades, t)
		e.persistTrade(t)
		e.cfg.Log.Info("trade",
			zap.String("asset", s.asset.Hex()),
			zap.Uint64("buy_id", t.BuyOrderID),
			zap.Uint64("sell_id", t.SellOrderID),
			zap.Int64("qty_e6", int64(t.QtyE6)),
			zap.Int64("px_e6", int64(t.PriceE6)),
			zap.Int64("fee_e6", int64(t.FeeE6)),
		)
	}
	return trades, nil
}

// reduce commits a quantity decrement on one side of a fill. Resting
// orders shrink inside the book; the incoming taker (not yet rested)
// shrinks directly.
func (e *Engine) reduce(s *shard, o *book.Order, qty fixed.Fixed6) {
	if s.book.Resting(o.ID) {
		s.book.Fill(o, qty)
	} else {
		o.Qty -= qty
	}
	if o.Qty == 0 {
		o.Status = book.Filled
	}
	if _, known := s.orders[o.ID]; known {
		e.persistOrder(o)
	}
}
