// Package api exposes the REST and WebSocket surface over the matching
// engine: order submission/cancellation, book snapshots, trade history, and
// per-pair stats, wired to gorilla/mux routing and rs/cors the way the
// teacher's server wires its market/account/chain endpoints.
package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"github.com/uhyunpark/hyperlicked/pkg/apperr"
	"github.com/uhyunpark/hyperlicked/pkg/balance"
	"github.com/uhyunpark/hyperlicked/pkg/core"
	"github.com/uhyunpark/hyperlicked/pkg/crypto"
	"github.com/uhyunpark/hyperlicked/pkg/hub"
	"github.com/uhyunpark/hyperlicked/pkg/matching"
	"github.com/uhyunpark/hyperlicked/pkg/orderbook"
	"github.com/uhyunpark/hyperlicked/pkg/risk"
	"github.com/uhyunpark/hyperlicked/pkg/storage"
	"github.com/uhyunpark/hyperlicked/pkg/wire"
	"go.uber.org/zap"
)

// Server wires the matching engine, balance ledger, signature verifier,
// risk engine, persistence, and WebSocket hub behind one HTTP router.
type Server struct {
	engine      *matching.Engine
	balances    *balance.Manager
	verifier    *crypto.Verifier
	risk        *risk.Engine
	store       *storage.Store
	hub         *hub.Hub
	log         *zap.Logger
	corsOrigins []string

	router *mux.Router
}

func NewServer(
	engine *matching.Engine,
	balances *balance.Manager,
	verifier *crypto.Verifier,
	riskEngine *risk.Engine,
	store *storage.Store,
	h *hub.Hub,
	log *zap.Logger,
	corsOrigins []string,
) *Server {
	s := &Server{
		engine:      engine,
		balances:    balances,
		verifier:    verifier,
		risk:        riskEngine,
		store:       store,
		hub:         h,
		log:         log,
		corsOrigins: corsOrigins,
		router:      mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	v1.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)

	v1.HandleFunc("/orderbook/{pair}", s.handleGetOrderbook).Methods(http.MethodGet)
	v1.HandleFunc("/trades/{pair}", s.handleGetTrades).Methods(http.MethodGet)
	v1.HandleFunc("/stats/{pair}", s.handleGetStats).Methods(http.MethodGet)
	v1.HandleFunc("/markets", s.handleListMarkets).Methods(http.MethodGet)

	v1.HandleFunc("/balances/{address}", s.handleGetBalances).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.hub.ServeWS)
}

// Handler returns the CORS-wrapped router ready to pass to http.Server.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// ==============================
// REST handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req wire.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, apperr.New(apperr.CodeInvalidRequest, "malformed JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		respondErr(w, apperr.Wrap(apperr.CodeInvalidRequest, "request validation failed", err))
		return
	}
	if req.ChainID != s.verifier.Domain().ChainID.Uint64() {
		respondErr(w, apperr.New(apperr.CodeChainMismatch, "order signed for a different chain"))
		return
	}

	eip712Order, err := req.ToEIP712()
	if err != nil {
		respondErr(w, apperr.Wrap(apperr.CodeInvalidRequest, "could not hash order", err))
		return
	}
	if err := s.verifier.VerifyOrder(eip712Order, req.Signature); err != nil {
		respondErr(w, apperr.Wrap(apperr.CodeInvalidSignature, "signature check failed", err))
		return
	}
	orderHash, err := s.verifier.HashOrder(eip712Order)
	if err != nil {
		respondErr(w, apperr.Wrap(apperr.CodeInvalidRequest, "could not hash order", err))
		return
	}

	order, err := req.ToCoreOrder()
	if err != nil {
		respondErr(w, apperr.Wrap(apperr.CodeInvalidRequest, "could not build order", err))
		return
	}
	order.ID = uuid.New()
	order.Hash = hexutil.Encode(orderHash)
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	if order.IsExpired(order.CreatedAt) {
		respondErr(w, apperr.New(apperr.CodeExpiredOrder, "order already expired"))
		return
	}

	pair, ok := s.engine.GetPair(order.TradingPair)
	if !ok {
		respondErr(w, apperr.New(apperr.CodeUnknownPair, "unknown trading pair"))
		return
	}
	_ = pair

	if s.risk != nil {
		if err := s.risk.CheckOrder(order); err != nil {
			respondErr(w, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.engine.PlaceOrder(ctx, order); err != nil {
		respondErr(w, err)
		return
	}

	if s.risk != nil && order.Status.IsResting() {
		s.risk.NoteOrderOpened(order.Owner)
	}
	if s.store != nil {
		if err := s.store.SaveOrder(order); err != nil {
			s.log.Warn("failed to persist order", zap.Error(err))
		}
	}

	respondJSON(w, http.StatusOK, SubmitOrderResponse{
		Status:  order.Status.String(),
		OrderID: order.ID.String(),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, apperr.New(apperr.CodeInvalidRequest, "invalid order id"))
		return
	}

	var req wire.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, apperr.New(apperr.CodeInvalidRequest, "malformed JSON body"))
		return
	}
	if !common.IsHexAddress(req.UserAddress) {
		respondErr(w, apperr.New(apperr.CodeInvalidRequest, "invalid userAddress"))
		return
	}
	owner := common.HexToAddress(req.UserAddress)

	if req.ChainID != s.verifier.Domain().ChainID.Uint64() {
		respondErr(w, apperr.New(apperr.CodeChainMismatch, "cancel signed for a different chain"))
		return
	}

	cancelMsg := &crypto.CancelEIP712{
		OrderID:     orderID.String(),
		UserAddress: owner,
		Nonce:       bigFromUint64(req.Nonce),
	}
	if err := s.verifier.VerifyCancel(cancelMsg, req.Signature); err != nil {
		respondErr(w, apperr.Wrap(apperr.CodeInvalidSignature, "signature check failed", err))
		return
	}

	if s.risk != nil {
		if err := s.risk.CheckCancel(owner); err != nil {
			respondErr(w, err)
			return
		}
	}

	pair := r.URL.Query().Get("pair")
	if pair == "" {
		respondErr(w, apperr.New(apperr.CodeInvalidRequest, "missing pair query parameter"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := s.engine.CancelOrder(ctx, pair, owner, orderID)
	if err != nil {
		respondErr(w, err)
		return
	}

	if s.risk != nil {
		s.risk.NoteOrderClosed(owner)
	}
	if s.store != nil {
		if err := s.store.DeleteOrder(owner, orderID.String()); err != nil {
			s.log.Warn("failed to delete cancelled order", zap.Error(err))
		}
	}

	respondJSON(w, http.StatusOK, SubmitOrderResponse{Status: order.Status.String(), OrderID: order.ID.String()})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	addressStr := r.URL.Query().Get("address")
	if !common.IsHexAddress(addressStr) {
		respondErr(w, apperr.New(apperr.CodeInvalidRequest, "missing or invalid address query parameter"))
		return
	}
	owner := common.HexToAddress(addressStr)

	if s.store == nil {
		respondErr(w, apperr.New(apperr.CodeOrderNotFound, "order not found"))
		return
	}
	order, err := s.store.LoadOrder(owner, orderID)
	if err != nil {
		respondErr(w, apperr.Wrap(apperr.CodeInternal, "load order", err))
		return
	}
	if order == nil {
		respondErr(w, apperr.New(apperr.CodeOrderNotFound, "order not found"))
		return
	}

	respondJSON(w, http.StatusOK, toOrderInfo(order))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	addressStr := r.URL.Query().Get("address")
	if !common.IsHexAddress(addressStr) {
		respondErr(w, apperr.New(apperr.CodeInvalidRequest, "missing or invalid address query parameter"))
		return
	}
	owner := common.HexToAddress(addressStr)

	if s.store == nil {
		respondJSON(w, http.StatusOK, []OrderInfo{})
		return
	}
	orders, err := s.store.LoadOpenOrders(owner)
	if err != nil {
		respondErr(w, apperr.Wrap(apperr.CodeInternal, "load orders", err))
		return
	}

	out := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderInfo(o))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	depth := 50
	if d := r.URL.Query().Get("depth"); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n > 0 {
			depth = n
		}
	}

	bids, asks, ok := s.engine.Snapshot(pair, depth)
	if !ok {
		respondErr(w, apperr.New(apperr.CodeUnknownPair, "unknown trading pair"))
		return
	}

	respondJSON(w, http.StatusOK, OrderbookSnapshot{
		Pair:      pair,
		Bids:      toPriceLevels(bids),
		Asks:      toPriceLevels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	if s.store == nil {
		respondJSON(w, http.StatusOK, []TradeInfo{})
		return
	}
	fills, err := s.store.LoadRecentFills(pair, limit)
	if err != nil {
		respondErr(w, apperr.Wrap(apperr.CodeInternal, "load trades", err))
		return
	}

	out := make([]TradeInfo, 0, len(fills))
	for _, f := range fills {
		out = append(out, TradeInfo{
			ID:        f.ID.String(),
			Pair:      f.TradingPair,
			Price:     f.Price.String(),
			Amount:    f.Amount.String(),
			TakerSide: f.TakerSide.String(),
			Timestamp: f.Timestamp.UnixMilli(),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]

	p, ok := s.engine.GetPair(pair)
	if !ok {
		respondErr(w, apperr.New(apperr.CodeUnknownPair, "unknown trading pair"))
		return
	}

	resp := StatsResponse{Pair: p.Symbol}
	bids, asks, _ := s.engine.Snapshot(pair, 1)
	if len(bids) > 0 {
		resp.BestBid = bids[0].Price.String()
	}
	if len(asks) > 0 {
		resp.BestAsk = asks[0].Price.String()
	}
	if ref, ok := s.engine.ReferencePrice(pair); ok {
		resp.LastPrice = ref.String()
	}
	if len(bids) > 0 && len(asks) > 0 {
		mid := bids[0].Price.Add(asks[0].Price).Div(decimalTwo)
		resp.MidPrice = mid.String()
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	pairs := s.engine.ListPairs()
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Symbol)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondErr(w, apperr.New(apperr.CodeInvalidRequest, "invalid address"))
		return
	}
	owner := common.HexToAddress(addressStr)

	tokenStr := r.URL.Query().Get("token")
	if !common.IsHexAddress(tokenStr) {
		respondErr(w, apperr.New(apperr.CodeInvalidRequest, "missing or invalid token query parameter"))
		return
	}
	token := common.HexToAddress(tokenStr)

	ledger := s.balances.GetBalance(owner, token)
	respondJSON(w, http.StatusOK, map[string]string{
		"total":     ledger.Total.String(),
		"locked":    ledger.Locked.String(),
		"available": ledger.Available().String(),
	})
}

// ==============================
// Helpers
// ==============================

var decimalTwo = decimal.NewFromInt(2)

func bigFromUint64(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}

func toOrderInfo(o *core.Order) OrderInfo {
	info := OrderInfo{
		ID:          o.ID.String(),
		TradingPair: o.TradingPair,
		Owner:       o.Owner.Hex(),
		Side:        o.Side.String(),
		Type:        o.Type.String(),
		Price:       o.Price.String(),
		Amount:      o.Amount.String(),
		Filled:      o.Filled.String(),
		Status:      o.Status.String(),
		CreatedAt:   o.CreatedAt.UnixMilli(),
	}
	if o.Type == core.OrderTypeStopLoss || o.Type == core.OrderTypeTakeProfit {
		info.TriggerPrice = o.TriggerPrice.String()
	}
	return info
}

func toPriceLevels(levels []orderbook.LevelView) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, PriceLevel{Price: l.Price.String(), Size: l.Qty.String()})
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondErr(w http.ResponseWriter, err error) {
	if e, ok := apperr.As(err); ok {
		respondJSON(w, e.HTTPStatus(), ErrorResponse{Code: string(e.Code), Message: e.Message})
		return
	}
	respondJSON(w, http.StatusInternalServerError, ErrorResponse{Code: string(apperr.CodeInternal), Message: err.Error()})
}
