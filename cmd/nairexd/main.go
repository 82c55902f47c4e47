package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nairex/nairex/params"
	"github.com/nairex/nairex/pkg/api"
	"github.com/nairex/nairex/pkg/clob"
	"github.com/nairex/nairex/pkg/fixed"
	"github.com/nairex/nairex/pkg/lending"
	"github.com/nairex/nairex/pkg/oracle"
	"github.com/nairex/nairex/pkg/roles"
	"github.com/nairex/nairex/pkg/settle"
	"github.com/nairex/nairex/pkg/storage"
	"github.com/nairex/nairex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		sugar.Fatalw("data_dir", "err", err)
	}

	// ---- Storage ----
	store, err := storage.NewStore(filepath.Join(cfg.Node.DataDir, "db"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	journal, err := storage.NewFileJournal(filepath.Join(cfg.Node.DataDir, "bands.log"))
	if err != nil {
		sugar.Fatalw("band_journal_open_failed", "err", err)
	}
	defer journal.Close()

	// ---- Roles ----
	auth := roles.NewStaticAuthorizer()
	for _, a := range cfg.Roles.Feeders {
		auth.Grant(a, roles.Feeder)
	}
	for _, a := range cfg.Roles.OracleAdmins {
		auth.Grant(a, roles.OracleAdmin)
	}
	for _, a := range cfg.Roles.VenueAdmins {
		auth.Grant(a, roles.VenueAdmin)
	}
	for _, a := range cfg.Roles.PoolAdmins {
		auth.Grant(a, roles.PoolAdmin)
	}

	// ---- Settlement ledger (in-process reference adapter) ----
	ledger := settle.NewLedger()
	bootstrapLedger(ledger, cfg, sugar)

	// ---- Oracle hub ----
	hub := oracle.NewHub(oracle.HubConfig{
		MaxStaleness: cfg.Oracle.MaxStaleness,
		RequireSeq:   cfg.Oracle.RequireSeq,
		FxAsset:      cfg.Oracle.FxAsset,
		Auth:         auth,
		Clock:        util.RealClock{},
		Journal:      bandSink{journal: journal, store: store, sugar: sugar},
		Log:          logger,
	})

	// ---- Matching engine ----
	wsHub := api.NewHub()
	engine := clob.NewEngine(clob.Config{
		Adapter:       ledger,
		Hub:           hub,
		Auth:          auth,
		Clock:         util.RealClock{},
		Log:           logger,
		Store:         store,
		Quote:         cfg.Venue.Quote,
		FeeSink:       cfg.Venue.FeeSink,
		DefaultFeeBps: cfg.Venue.DefaultFeeBps,
		TradeHook:     api.TradeBroadcaster(wsHub),
	})

	// ---- Recovery ----
	// The id counter, resting orders, and latest bands come back from the
	// store so a restarted node never reuses an order id or starts blind.
	orders, err := store.AllOrders()
	if err != nil {
		sugar.Fatalw("order_recovery_failed", "err", err)
	}
	engine.Restore(orders)
	bands, err := store.Bands()
	if err != nil {
		sugar.Fatalw("band_recovery_failed", "err", err)
	}
	for asset, b := range bands {
		hub.Restore(asset, b)
	}
	sugar.Infow("state_restored", "orders", len(orders), "bands", len(bands))

	// ---- Lending pool ----
	pool := lending.NewPool(lending.Config{
		Adapter:     ledger,
		Hub:         hub,
		Auth:        auth,
		Clock:       util.RealClock{},
		Log:         logger,
		Quote:       cfg.Venue.Quote,
		PoolAccount: cfg.Lending.PoolAccount,
		LtvBps:      cfg.Lending.LtvBps,
	})

	sugar.Infow("node_starting",
		"listen", cfg.Node.ListenAddr,
		"max_staleness", cfg.Oracle.MaxStaleness,
		"fee_bps", cfg.Venue.DefaultFeeBps,
		"ltv_bps", cfg.Lending.LtvBps,
		"feeders", len(cfg.Roles.Feeders))

	// ---- API server ----
	server := api.NewServer(engine, pool, hub, wsHub, logger)
	go func() {
		if err := server.Start(cfg.Node.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	sugar.Info("shutting_down")
}

// bandSink fans accepted band updates out to the append-only provenance
// journal and to the latest-band record the node restores from on restart.
type bandSink struct {
	journal *storage.FileJournal
	store   *storage.Store
	sugar   *zap.SugaredLogger
}

func (j bandSink) AppendBand(asset common.Address, b oracle.Band) {
	j.journal.AppendBand(asset, b)
	if err := j.store.SaveBand(asset, b); err != nil {
		j.sugar.Warnw("band_persist_failed", "asset", asset.Hex(), "err", err)
	}
}

// bootstrapLedger provisions devnet accounts on the in-process ledger.
// GENESIS_ACCOUNTS entries are "0xaddr:amountE6" for the quote token or
// "0xaddr:0xtoken:amountE6" for any other token; every token seen is also
// associated for the fee sink and pool account, so both legs of a trade
// and collateral locks settle end to end. A real deployment replaces the
// ledger with an external settlement adapter and skips all of this.
func bootstrapLedger(ledger *settle.Ledger, cfg params.Config, sugar *zap.SugaredLogger) {
	quote := cfg.Venue.Quote
	ledger.Associate(quote, cfg.Venue.FeeSink)
	ledger.Associate(quote, cfg.Lending.PoolAccount)

	raw := os.Getenv("GENESIS_ACCOUNTS")
	if raw == "" {
		return
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		token := quote
		var addrPart, amtPart string
		switch len(parts) {
		case 2:
			addrPart, amtPart = parts[0], parts[1]
		case 3:
			addrPart, amtPart = parts[0], parts[2]
			token = common.HexToAddress(parts[1])
		default:
			sugar.Warnw("genesis_entry_skipped", "entry", entry)
			continue
		}
		addr := common.HexToAddress(addrPart)
		rawAmt, err := strconv.ParseInt(amtPart, 10, 64)
		if err != nil || rawAmt <= 0 {
			sugar.Warnw("genesis_entry_skipped", "entry", entry, "err", err)
			continue
		}
		amt := fixed.Fixed6(rawAmt)
		ledger.Associate(token, addr)
		ledger.Associate(token, cfg.Venue.FeeSink)
		ledger.Associate(token, cfg.Lending.PoolAccount)
		if err := ledger.Mint(token, addr, amt); err != nil {
			sugar.Warnw("genesis_mint_failed", "addr", addr.Hex(), "err", err)
			continue
		}
		ledger.Approve(token, addr, amt)
	}
	sugar.Infow("ledger_bootstrapped", "quote", quote.Hex())
}
