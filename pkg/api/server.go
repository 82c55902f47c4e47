// Package api exposes the trading and lending cores over REST and
// WebSocket. Mutating requests are authenticated by secp256k1 signature
// recovery; read endpoints are open.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/nairex/nairex/pkg/book"
	"github.com/nairex/nairex/pkg/clob"
	nxcrypto "github.com/nairex/nairex/pkg/crypto"
	"github.com/nairex/nairex/pkg/fixed"
	"github.com/nairex/nairex/pkg/lending"
	"github.com/nairex/nairex/pkg/oracle"
	"github.com/nairex/nairex/pkg/roles"
	"github.com/nairex/nairex/pkg/settle"
)

type Server struct {
	engine *clob.Engine
	pool   *lending.Pool
	oracle *oracle.Hub
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

func NewServer(engine *clob.Engine, pool *lending.Pool, hub *oracle.Hub, wsHub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		engine: engine,
		pool:   pool,
		oracle: hub,
		router: mux.NewRouter(),
		hub:    wsHub,
		log:    log,
	}
	s.setupRoutes()
	return s
}

// TradeBroadcaster returns a clob trade hook publishing prints to the
// per-asset trades channel.
func TradeBroadcaster(h *Hub) func(clob.Trade) {
	return func(t clob.Trade) {
		h.BroadcastToChannel("trades:"+strings.ToLower(t.Asset.Hex()), toTradeInfo(t))
	}
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// market data
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{asset}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{asset}/trades", s.handleGetTrades).Methods("GET")

	// orders
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/match", s.handleMatch).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")

	// accounts
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOpenOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/portfolio", s.handleGetPortfolio).Methods("GET")

	// lending
	api.HandleFunc("/lending/supply", s.handleSupply).Methods("POST")
	api.HandleFunc("/lending/lock", s.handleLockCollateral).Methods("POST")
	api.HandleFunc("/lending/borrow", s.handleBorrow).Methods("POST")
	api.HandleFunc("/lending/repay", s.handleRepay).Methods("POST")

	// oracle
	api.HandleFunc("/oracle/band/{asset}", s.handleGetBand).Methods("GET")
	api.HandleFunc("/oracle/band", s.handleSetBand).Methods("POST")

	// admin
	api.HandleFunc("/admin/venue", s.handleSetVenue).Methods("POST")
	api.HandleFunc("/admin/fee", s.handleSetFee).Methods("POST")
	api.HandleFunc("/admin/staleness", s.handleSetStaleness).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})

	s.log.Info("api_listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ==============================
// market data
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	assets := s.engine.Assets()
	out := make([]MarketInfo, 0, len(assets))
	for _, a := range assets {
		bid, ask := s.engine.Best(a)
		out = append(out, MarketInfo{
			Asset:  a.Hex(),
			Venue:  s.engine.Venue(a).String(),
			FeeBps: s.engine.FeeBps(a),
			BidE6:  int64(bid),
			AskE6:  int64(ask),
		})
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	asset := common.HexToAddress(mux.Vars(r)["asset"])
	bids, asks := s.engine.Depth(asset)
	respondJSON(w, OrderbookSnapshot{
		Asset:     asset.Hex(),
		Bids:      toLevels(bids),
		Asks:      toLevels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	asset := common.HexToAddress(mux.Vars(r)["asset"])
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	trades := s.engine.Trades(asset, limit)
	out := make([]TradeInfo, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeInfo(t))
	}
	respondJSON(w, out)
}

// ==============================
// orders
// ==============================

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	side, okSide := parseSide(req.Side)
	kind, okKind := parseKind(req.Kind)
	if !okSide || !okKind {
		respondError(w, http.StatusBadRequest, "invalid request", "unknown side or kind")
		return
	}

	msg := fmt.Sprintf("place|%s|%s|%s|%d|%d",
		strings.ToLower(req.Asset), req.Side, req.Kind, req.QtyE6, req.PriceE6)
	trader, err := callerAddress(req.Trader, req.Signature, msg)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication failed", err.Error())
		return
	}

	id, err := s.engine.Place(trader, common.HexToAddress(req.Asset), side, kind,
		fixed.Fixed6(req.QtyE6), fixed.Fixed6(req.PriceE6))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, PlaceOrderResponse{OrderID: id})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	trader, err := callerAddress(req.Trader, req.Signature, fmt.Sprintf("cancel|%d", req.OrderID))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication failed", err.Error())
		return
	}
	if err := s.engine.Cancel(trader, req.OrderID); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]bool{"cancelled": true})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = 50
	}
	matched, err := s.engine.MatchBest(common.HexToAddress(req.Asset), req.MaxAttempts)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, MatchResponse{Matched: matched})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}
	o, ok := s.engine.Order(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	respondJSON(w, toOrderInfo(o))
}

// ==============================
// accounts
// ==============================

func (s *Server) handleGetOpenOrders(w http.ResponseWriter, r *http.Request) {
	trader := common.HexToAddress(mux.Vars(r)["address"])
	assetParam := r.URL.Query().Get("asset")

	var out []OrderInfo
	assets := s.engine.Assets()
	for _, a := range assets {
		if assetParam != "" && a != common.HexToAddress(assetParam) {
			continue
		}
		for _, o := range s.engine.OpenOrders(a, trader) {
			out = append(out, toOrderInfo(o))
		}
	}
	if out == nil {
		out = []OrderInfo{}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	user := common.HexToAddress(mux.Vars(r)["address"])
	p, err := s.pool.AccountPortfolio(user)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, PortfolioInfo{
		SupplyE6:          int64(p.SupplyE6),
		BorrowE6:          int64(p.BorrowE6),
		CollateralValueE6: int64(p.CollateralValueE6),
		LtvCurrentBps:     int64(p.LtvCurrentBps),
		MaxBorrowE6:       int64(p.MaxBorrowE6),
	})
}

// ==============================
// lending
// ==============================

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	var req SupplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	trader, err := callerAddress(req.Trader, req.Signature, fmt.Sprintf("supply|%d", req.AmountE6))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication failed", err.Error())
		return
	}
	if err := s.pool.Supply(trader, fixed.Fixed6(req.AmountE6)); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]bool{"supplied": true})
}

func (s *Server) handleLockCollateral(w http.ResponseWriter, r *http.Request) {
	var req LockCollateralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	msg := fmt.Sprintf("lock|%s|%d", strings.ToLower(req.Asset), req.QtyE6)
	trader, err := callerAddress(req.Trader, req.Signature, msg)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication failed", err.Error())
		return
	}
	if err := s.pool.LockCollateral(trader, common.HexToAddress(req.Asset), fixed.Fixed6(req.QtyE6)); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]bool{"locked": true})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req BorrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if len(req.LockAssets) != len(req.LockQtyE6) {
		respondError(w, http.StatusBadRequest, "invalid request", "lockAssets and lockQtyE6 length mismatch")
		return
	}

	msg := fmt.Sprintf("borrow|%d|%s", req.AmountE6, strings.ToLower(strings.Join(req.LockAssets, ",")))
	trader, err := callerAddress(req.Trader, req.Signature, msg)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication failed", err.Error())
		return
	}

	assets := make([]common.Address, len(req.LockAssets))
	qtys := make([]fixed.Fixed6, len(req.LockQtyE6))
	for i := range req.LockAssets {
		assets[i] = common.HexToAddress(req.LockAssets[i])
		qtys[i] = fixed.Fixed6(req.LockQtyE6[i])
	}
	if err := s.pool.Borrow(trader, fixed.Fixed6(req.AmountE6), assets, qtys); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]bool{"borrowed": true})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req RepayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	trader, err := callerAddress(req.Trader, req.Signature, fmt.Sprintf("repay|%d", req.AmountE6))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication failed", err.Error())
		return
	}
	if err := s.pool.Repay(trader, fixed.Fixed6(req.AmountE6)); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]bool{"repaid": true})
}

// ==============================
// oracle
// ==============================

func (s *Server) handleGetBand(w http.ResponseWriter, r *http.Request) {
	asset := common.HexToAddress(mux.Vars(r)["asset"])
	b := s.oracle.GetBand(asset)
	respondJSON(w, BandInfo{
		Asset:    asset.Hex(),
		MidE6:    int64(b.MidE6),
		WidthBps: b.WidthBps,
		Ts:       b.Ts,
		Seq:      b.Seq,
	})
}

func (s *Server) handleSetBand(w http.ResponseWriter, r *http.Request) {
	var req SetBandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	msg := fmt.Sprintf("band|%s|%d|%d|%d|%d",
		strings.ToLower(req.Asset), req.MidE6, req.WidthBps, req.Ts, req.Seq)
	feeder, err := callerAddress(req.Feeder, req.Signature, msg)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication failed", err.Error())
		return
	}

	band := oracle.Band{
		MidE6:    fixed.Fixed6(req.MidE6),
		WidthBps: req.WidthBps,
		Ts:       req.Ts,
		Seq:      req.Seq,
	}
	if req.Provenance != "" {
		raw, err := hexutil.Decode(req.Provenance)
		if err != nil || len(raw) != 32 {
			respondError(w, http.StatusBadRequest, "invalid provenance", "want 32-byte hex")
			return
		}
		copy(band.Provenance[:], raw)
	}

	asset := common.HexToAddress(req.Asset)
	if err := s.oracle.SetBand(feeder, asset, band); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.hub.BroadcastToChannel("bands:"+strings.ToLower(asset.Hex()), BandInfo{
		Asset:    asset.Hex(),
		MidE6:    req.MidE6,
		WidthBps: req.WidthBps,
		Ts:       req.Ts,
		Seq:      req.Seq,
	})
	respondJSON(w, map[string]bool{"set": true})
}

// ==============================
// admin
// ==============================

func (s *Server) handleSetVenue(w http.ResponseWriter, r *http.Request) {
	var req SetVenueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	state, ok := parseVenue(req.State)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid request", "unknown venue state")
		return
	}
	msg := fmt.Sprintf("venue|%s|%s", strings.ToLower(req.Asset), req.State)
	admin, err := callerAddress(req.Admin, req.Signature, msg)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication failed", err.Error())
		return
	}
	if err := s.engine.SetVenue(admin, common.HexToAddress(req.Asset), state); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]bool{"set": true})
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	var req SetFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	msg := fmt.Sprintf("fee|%s|%d", strings.ToLower(req.Asset), req.FeeBps)
	admin, err := callerAddress(req.Admin, req.Signature, msg)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication failed", err.Error())
		return
	}
	if err := s.engine.SetFeeBps(admin, common.HexToAddress(req.Asset), req.FeeBps); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]bool{"set": true})
}

func (s *Server) handleSetStaleness(w http.ResponseWriter, r *http.Request) {
	var req SetStalenessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	msg := fmt.Sprintf("staleness|%d", req.MaxStaleSecs)
	admin, err := callerAddress(req.Admin, req.Signature, msg)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication failed", err.Error())
		return
	}
	if err := s.oracle.SetMaxStaleness(admin, time.Duration(req.MaxStaleSecs)*time.Second); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]bool{"set": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// helpers
// ==============================

// callerAddress resolves the acting account. With a signature, the signer
// is recovered from the canonical message and must match the explicit
// address when one is given. Without one, the explicit address is trusted
// (devnet convenience).
func callerAddress(explicit, sigHex, message string) (common.Address, error) {
	if sigHex != "" {
		sig, err := hexutil.Decode(sigHex)
		if err != nil {
			return common.Address{}, fmt.Errorf("decode signature: %w", err)
		}
		recovered, err := nxcrypto.RecoverAddress([]byte(message), sig)
		if err != nil {
			return common.Address{}, err
		}
		if explicit != "" && common.HexToAddress(explicit) != recovered {
			return common.Address{}, fmt.Errorf("signature by %s, request names %s", recovered.Hex(), explicit)
		}
		return recovered, nil
	}
	if explicit == "" {
		return common.Address{}, fmt.Errorf("missing address and signature")
	}
	return common.HexToAddress(explicit), nil
}

func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	status := http.StatusConflict
	switch {
	case errors.Is(err, roles.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, clob.ErrUnknownOrder):
		status = http.StatusNotFound
	case errors.Is(err, clob.ErrInvalidOrder), errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, oracle.ErrInvalidBand):
		status = http.StatusBadRequest
	case errors.Is(err, settle.ErrTransfer):
		status = http.StatusConflict
	}
	s.log.Warn("request_rejected", zap.Error(err))
	respondError(w, status, err.Error(), "")
}

func parseSide(s string) (book.Side, bool) {
	switch strings.ToLower(s) {
	case "buy":
		return book.Buy, true
	case "sell":
		return book.Sell, true
	}
	return 0, false
}

func parseKind(s string) (book.Kind, bool) {
	switch strings.ToLower(s) {
	case "limit", "":
		return book.Limit, true
	case "market":
		return book.Market, true
	}
	return 0, false
}

func parseVenue(s string) (clob.VenueState, bool) {
	switch strings.ToLower(s) {
	case "paused":
		return clob.Paused, true
	case "continuous":
		return clob.Continuous, true
	case "call-auction":
		return clob.CallAuction, true
	}
	return 0, false
}

func toLevels(levels []book.Level) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, PriceLevel{PriceE6: int64(l.PriceE6), QtyE6: int64(l.QtyE6)})
	}
	return out
}

func toOrderInfo(o book.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Trader:    o.Trader.Hex(),
		Asset:     o.Asset.Hex(),
		Side:      o.Side.String(),
		Kind:      o.Kind.String(),
		QtyE6:     int64(o.Qty),
		PriceE6:   int64(o.PriceE6),
		CreatedAt: o.CreatedAt,
		Status:    o.Status.String(),
	}
}

func toTradeInfo(t clob.Trade) TradeInfo {
	return TradeInfo{
		Asset:       t.Asset.Hex(),
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Buyer:       t.Buyer.Hex(),
		Seller:      t.Seller.Hex(),
		QtyE6:       int64(t.QtyE6),
		PriceE6:     int64(t.PriceE6),
		NotionalE6:  int64(t.NotionalE6),
		FeeE6:       int64(t.FeeE6),
		Ts:          t.Ts,
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Details: details})
}
