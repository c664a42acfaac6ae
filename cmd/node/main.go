// Command node runs the off-chain matching engine: REST + WebSocket API,
// price-time-priority books per trading pair, balance ledger, risk checks,
// and a batching settlement submitter.
package main

import (
	"context"
	"flag"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperlicked/pkg/api"
	"github.com/uhyunpark/hyperlicked/pkg/balance"
	"github.com/uhyunpark/hyperlicked/pkg/config"
	"github.com/uhyunpark/hyperlicked/pkg/core"
	"github.com/uhyunpark/hyperlicked/pkg/crypto"
	"github.com/uhyunpark/hyperlicked/pkg/hub"
	"github.com/uhyunpark/hyperlicked/pkg/matching"
	"github.com/uhyunpark/hyperlicked/pkg/orderbook"
	"github.com/uhyunpark/hyperlicked/pkg/risk"
	"github.com/uhyunpark/hyperlicked/pkg/settlement"
	"github.com/uhyunpark/hyperlicked/pkg/storage"
	"github.com/uhyunpark/hyperlicked/pkg/util"
	"github.com/uhyunpark/hyperlicked/pkg/wire"
	"go.uber.org/zap"
)

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "path to config file (yaml/json/toml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(err)
	}

	var log *zap.Logger
	if cfg.Log.File != "" {
		log, err = util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	} else {
		log, err = util.NewLogger(cfg.Log.Level, cfg.Log.Format)
	}
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("node starting", zap.String("listen_addr", cfg.Server.ListenAddr))

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		log.Fatal("open storage", zap.Error(err))
	}
	defer store.Close()

	balances := balance.NewManager(store, log)

	h := hub.New(log)
	go h.Run()

	submitter := settlement.NewSubmitter(settlement.Config{
		BatchMaxSize:  cfg.Settlement.BatchMaxSize,
		BatchMaxAge:   cfg.Settlement.BatchMaxAge,
		GasMultiplier: cfg.Settlement.GasMultiplier,
		MaxRetries:    cfg.Settlement.MaxRetries,
		RetryBackoff:  cfg.Settlement.RetryBackoff,
	}, settlement.NewNoopContract(), log)

	sink := &fillSink{hub: h, submitter: submitter, store: store}

	engine := matching.NewEngine(balances, sink, matching.SelfTradeAllow, log)
	sink.engine = engine
	for _, p := range cfg.Trading.Pairs {
		pair := &core.TradingPair{
			Symbol:      p.Symbol,
			BaseToken:   common.HexToAddress(p.BaseToken),
			QuoteToken:  common.HexToAddress(p.QuoteToken),
			TickSize:    config.MustDecimal(p.TickSize),
			LotSize:     config.MustDecimal(p.LotSize),
			MinNotional: config.MustDecimal(p.MinNotional),
			MakerFeeBps: p.MakerFeeBps,
			TakerFeeBps: p.TakerFeeBps,
			Active:      true,
		}
		engine.RegisterPair(pair)
		log.Info("registered trading pair", zap.String("symbol", p.Symbol))
	}

	riskEngine := risk.New(risk.Config{
		MinOrderAmount:       config.MustDecimal(cfg.Risk.MinOrderAmount),
		MaxOrderAmount:       config.MustDecimal(cfg.Risk.MaxOrderAmount),
		MaxPriceDeviationBps: cfg.Risk.MaxPriceDeviationBps,
		MaxOpenOrdersPerUser: cfg.Risk.MaxOpenOrdersPerUser,
		OrdersPerMinute:      cfg.Risk.OrdersPerMinute,
		CancelsPerMinute:     cfg.Risk.CancelsPerMinute,
		MaxSlippageBps:       cfg.Risk.MaxSlippageBps,
	}, engine.ReferencePrice, hexAddresses(cfg.Risk.Blacklist))
	engine.SetRiskEngine(riskEngine)

	domain := crypto.DefaultDomain(big.NewInt(cfg.Blockchain.ChainID), common.HexToAddress(cfg.Blockchain.VerifyingContract))
	verifier := crypto.NewVerifier(domain)

	server := api.NewServer(engine, balances, verifier, riskEngine, store, h, log, cfg.Server.CORSOrigins)

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("api server listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("api server failed", zap.Error(err))
		}
	}()

	sweepTicker := time.NewTicker(cfg.Trading.ExpirySweepInterval)
	defer sweepTicker.Stop()
	triggerTicker := time.NewTicker(cfg.Trading.TriggerSweepInterval)
	defer triggerTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = httpServer.Shutdown(shutdownCtx)
			submitter.Flush(shutdownCtx)
			cancel()
			return
		case now := <-sweepTicker.C:
			engine.SweepExpired(now)
			balances.CleanExpiredLocks(now)
		case now := <-triggerTicker.C:
			engine.SweepTriggers(now)
		}
	}
}

// fillSink wires matching-engine output into the WebSocket hub, the
// settlement submitter's pending batch, and persistence.
type fillSink struct {
	hub       *hub.Hub
	submitter *settlement.Submitter
	store     *storage.Store
	engine    *matching.Engine
}

const orderbookSnapshotDepth = 20

func (s *fillSink) OnFills(pair string, fills []*core.Fill) {
	for _, f := range fills {
		s.hub.Publish("trades."+pair, hub.TypeTradeUpdate, wire.FromFill(f))
		s.submitter.Enqueue(f)
		if s.store != nil {
			_ = s.store.SaveFill(f)
		}
	}
	s.publishDepth(pair)
}

func (s *fillSink) OnOrderUpdate(order *core.Order) {
	s.hub.Publish("orders."+order.Owner.Hex(), hub.TypeOrderUpdate, struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
		Filled  string `json:"filled"`
	}{
		OrderID: order.ID.String(),
		Status:  order.Status.String(),
		Filled:  order.Filled.String(),
	})
	s.publishDepth(order.TradingPair)
}

func (s *fillSink) publishDepth(pair string) {
	if s.engine == nil {
		return
	}
	bids, asks, ok := s.engine.Snapshot(pair, orderbookSnapshotDepth)
	if !ok {
		return
	}
	s.hub.Publish("orderbook."+pair, hub.TypeOrderbookUpdate, struct {
		Bids []orderbook.LevelView `json:"bids"`
		Asks []orderbook.LevelView `json:"asks"`
	}{Bids: bids, Asks: asks})
}

func hexAddresses(ss []string) []common.Address {
	out := make([]common.Address, 0, len(ss))
	for _, s := range ss {
		if common.IsHexAddress(s) {
			out = append(out, common.HexToAddress(s))
		}
	}
	return out
}
