package book

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/nairex/nairex/pkg/fixed"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side { return -s }

type Kind int8

const (
	Limit Kind = iota
	Market
)

func (k Kind) String() string {
	if k == Market {
		return "market"
	}
	return "limit"
}

type Status int8

const (
	Active Status = iota
	Filled
	Cancelled
)

func (st Status) String() string {
	switch st {
	case Active:
		return "active"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transition.
func (st Status) Terminal() bool { return st != Active }

// Order is a resting or historical order. Qty is the remaining quantity;
// it only decreases. Status moves forward only: Active to Filled or
// Cancelled, both terminal. Ids are assigned monotonically and never
// reused, so equal-price FIFO order is also id order.
//
// For Market orders PriceE6 is the worst acceptable execution price, never
// the execution price itself.
type Order struct {
	ID        uint64
	Trader    common.Address
	Asset     common.Address
	Side      Side
	Kind      Kind
	Qty       fixed.Fixed6
	PriceE6   fixed.Fixed6
	CreatedAt int64 // unix seconds
	Status    Status
}
