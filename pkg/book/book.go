// Package book holds one asset's resting orders with heap-tracked best
// prices and FIFO queues per price level, giving price-time priority.
//
// A Book carries no lock of its own: each asset's book is owned by one
// serialization unit in the matching engine, which also spans the
// settlement call, so locking here would only hide ordering bugs.
package book

import (
	"container/heap"
	"sort"

	"github.com/nairex/nairex/pkg/fixed"
)

// Level aggregates resting quantity at one price.
type Level struct {
	PriceE6 fixed.Fixed6
	QtyE6   fixed.Fixed6
}

type Book struct {
	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	bids map[fixed.Fixed6][]*Order // price -> FIFO queue
	asks map[fixed.Fixed6][]*Order

	priceOf map[uint64]fixed.Fixed6 // order id -> resting price
}

func New() *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)
	return &Book{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[fixed.Fixed6][]*Order),
		asks:    make(map[fixed.Fixed6][]*Order),
		priceOf: make(map[uint64]fixed.Fixed6),
	}
}

// Rest appends the order to the back of its price level's queue.
func (b *Book) Rest(o *Order) {
	p := o.PriceE6
	if o.Side == Buy {
		if len(b.bids[p]) == 0 {
			heap.Push(b.bidHeap, p)
		}
		b.bids[p] = append(b.bids[p], o)
	} else {
		if len(b.asks[p]) == 0 {
			heap.Push(b.askHeap, p)
		}
		b.asks[p] = append(b.asks[p], o)
	}
	b.priceOf[o.ID] = p
}

// Remove takes an order out of the book, returning it or nil if not resting.
func (b *Book) Remove(id uint64) *Order {
	price, ok := b.priceOf[id]
	if !ok {
		return nil
	}
	if o := b.removeFrom(b.bids, price, id, true); o != nil {
		return o
	}
	return b.removeFrom(b.asks, price, id, false)
}

func (b *Book) removeFrom(side map[fixed.Fixed6][]*Order, price fixed.Fixed6, id uint64, isBid bool) *Order {
	arr, exists := side[price]
	if !exists {
		return nil
	}
	for i, o := range arr {
		if o.ID != id {
			continue
		}
		side[price] = append(arr[:i], arr[i+1:]...)
		if len(side[price]) == 0 {
			delete(side, price)
			b.dropPrice(price, isBid)
		}
		delete(b.priceOf, id)
		return o
	}
	return nil
}

// dropPrice removes a now-empty price level from its heap. O(N) but levels
// empty rarely relative to matches at the front.
func (b *Book) dropPrice(price fixed.Fixed6, isBid bool) {
	if isBid {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i] == price {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// BestBid returns the earliest order at the highest bid price.
func (b *Book) BestBid() (*Order, bool) {
	for b.bidHeap.Len() > 0 {
		p := b.bidHeap.Peek()
		if level := b.bids[p]; len(level) > 0 {
			return level[0], true
		}
		heap.Pop(b.bidHeap)
		delete(b.bids, p)
	}
	return nil, false
}

// BestAsk returns the earliest order at the lowest ask price.
func (b *Book) BestAsk() (*Order, bool) {
	for b.askHeap.Len() > 0 {
		p := b.askHeap.Peek()
		if level := b.asks[p]; len(level) > 0 {
			return level[0], true
		}
		heap.Pop(b.askHeap)
		delete(b.asks, p)
	}
	return nil, false
}

// Best returns the best bid and ask prices, zero when a side is empty.
func (b *Book) Best() (bidE6, askE6 fixed.Fixed6) {
	if o, ok := b.BestBid(); ok {
		bidE6 = o.PriceE6
	}
	if o, ok := b.BestAsk(); ok {
		askE6 = o.PriceE6
	}
	return bidE6, askE6
}

// Fill decrements a resting order's remaining quantity, removing it from
// the book when it reaches zero. The caller is responsible for setting the
// order's terminal status.
func (b *Book) Fill(o *Order, qty fixed.Fixed6) {
	o.Qty -= qty
	if o.Qty == 0 {
		b.Remove(o.ID)
	}
}

// Walk visits resting orders on one side in price-time priority until fn
// returns false.
func (b *Book) Walk(side Side, fn func(*Order) bool) {
	levels := b.bids
	if side == Sell {
		levels = b.asks
	}
	prices := make([]fixed.Fixed6, 0, len(levels))
	for p, arr := range levels {
		if len(arr) > 0 {
			prices = append(prices, p)
		}
	}
	sort.Slice(prices, func(i, j int) bool {
		if side == Buy {
			return prices[i] > prices[j]
		}
		return prices[i] < prices[j]
	})
	for _, p := range prices {
		for _, o := range levels[p] {
			if !fn(o) {
				return
			}
		}
	}
}

// BidLevels returns aggregate bid depth, best first.
func (b *Book) BidLevels() []Level { return b.levels(Buy) }

// AskLevels returns aggregate ask depth, best first.
func (b *Book) AskLevels() []Level { return b.levels(Sell) }

func (b *Book) levels(side Side) []Level {
	var out []Level
	var last fixed.Fixed6 = -1
	b.Walk(side, func(o *Order) bool {
		if o.PriceE6 == last {
			out[len(out)-1].QtyE6 += o.Qty
		} else {
			out = append(out, Level{PriceE6: o.PriceE6, QtyE6: o.Qty})
			last = o.PriceE6
		}
		return true
	})
	return out
}

// Resting reports whether the order id is currently in the book.
func (b *Book) Resting(id uint64) bool {
	_, ok := b.priceOf[id]
	return ok
}
