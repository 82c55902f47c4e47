package clob

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/nairex/nairex/pkg/fixed"
)

// Trade is immutable once created. NotionalE6 = qty*price/1e6 floored;
// FeeE6 = notional*feeBps/10000 floored, charged to the buyer and routed
// to the fee sink.
type Trade struct {
	Asset       common.Address
	BuyOrderID  uint64
	SellOrderID uint64
	Buyer       common.Address
	Seller      common.Address
	QtyE6       fixed.Fixed6
	PriceE6     fixed.Fixed6
	NotionalE6  fixed.Fixed6
	FeeE6       fixed.Fixed6
	Ts          int64 // unix seconds
}
