package api

// Request and response types for REST endpoints and WebSocket messages.
// All monetary fields are 6-decimal fixed-point integers.

type MarketInfo struct {
	Asset  string `json:"asset"`
	Venue  string `json:"venue"`
	FeeBps uint16 `json:"feeBps"`
	BidE6  int64  `json:"bidE6"`
	AskE6  int64  `json:"askE6"`
}

type PriceLevel struct {
	PriceE6 int64 `json:"priceE6"`
	QtyE6   int64 `json:"qtyE6"`
}

type OrderbookSnapshot struct {
	Asset     string       `json:"asset"`
	Bids      []PriceLevel `json:"bids"` // best first
	Asks      []PriceLevel `json:"asks"` // best first
	Timestamp int64        `json:"timestamp"`
}

type OrderInfo struct {
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	Asset     string `json:"asset"`
	Side      string `json:"side"`
	Kind      string `json:"kind"`
	QtyE6     int64  `json:"qtyE6"` // remaining
	PriceE6   int64  `json:"priceE6"`
	CreatedAt int64  `json:"createdAt"`
	Status    string `json:"status"`
}

type TradeInfo struct {
	Asset       string `json:"asset"`
	BuyOrderID  uint64 `json:"buyOrderId"`
	SellOrderID uint64 `json:"sellOrderId"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	QtyE6       int64  `json:"qtyE6"`
	PriceE6     int64  `json:"priceE6"`
	NotionalE6  int64  `json:"notionalE6"`
	FeeE6       int64  `json:"feeE6"`
	Ts          int64  `json:"ts"`
}

type BandInfo struct {
	Asset    string `json:"asset"`
	MidE6    int64  `json:"midE6"`
	WidthBps uint32 `json:"widthBps"`
	Ts       int64  `json:"ts"`
	Seq      uint64 `json:"seq"`
}

type PortfolioInfo struct {
	SupplyE6          int64 `json:"supplyE6"`
	BorrowE6          int64 `json:"borrowE6"`
	CollateralValueE6 int64 `json:"collateralValueE6"`
	LtvCurrentBps     int64 `json:"ltvCurrentBps"`
	MaxBorrowE6       int64 `json:"maxBorrowE6"`
}

// Signed mutating requests: Signature is a 65-byte hex signature over the
// request's canonical message, built inline by each handler and resolved
// through callerAddress in server.go. When Signature is empty the explicit
// address field is trusted as-is, which is acceptable on a devnet only.

type PlaceOrderRequest struct {
	Trader    string `json:"trader"`
	Asset     string `json:"asset"`
	Side      string `json:"side"` // "buy" | "sell"
	Kind      string `json:"kind"` // "limit" | "market"
	QtyE6     int64  `json:"qtyE6"`
	PriceE6   int64  `json:"priceE6"`
	Signature string `json:"signature,omitempty"`
}

type PlaceOrderResponse struct {
	OrderID uint64 `json:"orderId"`
}

type CancelOrderRequest struct {
	Trader    string `json:"trader"`
	OrderID   uint64 `json:"orderId"`
	Signature string `json:"signature,omitempty"`
}

type MatchRequest struct {
	Asset       string `json:"asset"`
	MaxAttempts int    `json:"maxAttempts"`
}

type MatchResponse struct {
	Matched int `json:"matched"`
}

type SetBandRequest struct {
	Feeder     string `json:"feeder"`
	Asset      string `json:"asset"`
	MidE6      int64  `json:"midE6"`
	WidthBps   uint32 `json:"widthBps"`
	Ts         int64  `json:"ts"`
	Seq        uint64 `json:"seq"`
	Provenance string `json:"provenance,omitempty"` // 32-byte hex feed message id
	Signature  string `json:"signature,omitempty"`
}

type SetStalenessRequest struct {
	Admin        string `json:"admin"`
	MaxStaleSecs int64  `json:"maxStaleSecs"`
	Signature    string `json:"signature,omitempty"`
}

type SetVenueRequest struct {
	Admin     string `json:"admin"`
	Asset     string `json:"asset"`
	State     string `json:"state"` // "paused" | "continuous" | "call-auction"
	Signature string `json:"signature,omitempty"`
}

type SetFeeRequest struct {
	Admin     string `json:"admin"`
	Asset     string `json:"asset"`
	FeeBps    uint16 `json:"feeBps"`
	Signature string `json:"signature,omitempty"`
}

type SupplyRequest struct {
	Trader    string `json:"trader"`
	AmountE6  int64  `json:"amountE6"`
	Signature string `json:"signature,omitempty"`
}

type LockCollateralRequest struct {
	Trader    string `json:"trader"`
	Asset     string `json:"asset"`
	QtyE6     int64  `json:"qtyE6"`
	Signature string `json:"signature,omitempty"`
}

type BorrowRequest struct {
	Trader     string   `json:"trader"`
	AmountE6   int64    `json:"amountE6"`
	LockAssets []string `json:"lockAssets,omitempty"`
	LockQtyE6  []int64  `json:"lockQtyE6,omitempty"`
	Signature  string   `json:"signature,omitempty"`
}

type RepayRequest struct {
	Trader    string `json:"trader"`
	AmountE6  int64  `json:"amountE6"`
	Signature string `json:"signature,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}

type WSMessage struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}
