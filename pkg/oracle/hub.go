// Package oracle stores per-asset price bands with staleness and monotonic
// update ordering. Freshness is evaluated by callers at the moment of use,
// never stored as a flag, so read-time and write-time clocks cannot drift.
package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nairex/nairex/pkg/fixed"
	"github.com/nairex/nairex/pkg/roles"
	"github.com/nairex/nairex/pkg/util"
)

var (
	// ErrStaleOracle covers both a band older than the staleness window and
	// a band that was never set. Callers treat them identically: no usable
	// price.
	ErrStaleOracle = errors.New("stale oracle")

	// ErrStaleSequence rejects a replayed or out-of-order band push.
	ErrStaleSequence = errors.New("stale sequence")

	ErrInvalidBand = errors.New("invalid band")
)

// Band is an acceptable price range around a midpoint. Bands are replaced
// wholesale; there is no partial update. Provenance references the entry in
// the external append-only feed log that produced this band.
type Band struct {
	MidE6      fixed.Fixed6
	WidthBps   uint32
	Ts         int64 // unix seconds
	Seq        uint64
	Provenance [32]byte
}

// Bounds returns the inclusive [low, high] price range of the band.
func (b Band) Bounds() (lo, hi fixed.Fixed6, err error) {
	half, err := fixed.MulDivFloor(b.MidE6, fixed.Fixed6(b.WidthBps), fixed.BpsDenom)
	if err != nil {
		return 0, 0, err
	}
	hi, err = fixed.Add(b.MidE6, half)
	if err != nil {
		return 0, 0, err
	}
	return b.MidE6 - half, hi, nil
}

// Journal receives every accepted band update for audit. Implementations
// must be append-only.
type Journal interface {
	AppendBand(asset common.Address, b Band)
}

// Hub owns all PriceBand records. Other components read snapshots through
// GetBand/FreshBand/UsdPrice and never mutate oracle state.
type Hub struct {
	mu           sync.RWMutex
	bands        map[common.Address]Band
	maxStaleness time.Duration
	requireSeq   bool

	fxAsset common.Address // zero: no FX conversion, bands are USD already

	auth    roles.Authorizer
	clock   util.Clock
	journal Journal // optional
	log     *zap.Logger
}

type HubConfig struct {
	MaxStaleness time.Duration
	RequireSeq   bool
	FxAsset      common.Address
	Auth         roles.Authorizer
	Clock        util.Clock
	Journal      Journal
	Log          *zap.Logger
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Hub{
		bands:        make(map[common.Address]Band),
		maxStaleness: cfg.MaxStaleness,
		requireSeq:   cfg.RequireSeq,
		fxAsset:      cfg.FxAsset,
		auth:         cfg.Auth,
		clock:        cfg.Clock,
		journal:      cfg.Journal,
		log:          cfg.Log,
	}
}

// SetBand stores a new band for asset. Restricted to the feeder role.
// When sequence numbers are enforced, a push whose seq is not strictly
// greater than the stored one is rejected.
func (h *Hub) SetBand(caller, asset common.Address, b Band) error {
	if !h.auth.Allowed(caller, roles.Feeder) {
		return fmt.Errorf("set band for %s: %w", asset.Hex(), roles.ErrUnauthorized)
	}
	if b.MidE6 <= 0 || b.WidthBps == 0 || b.WidthBps > 10000 || b.Ts <= 0 {
		return fmt.Errorf("%w: mid=%d width=%d ts=%d", ErrInvalidBand, b.MidE6, b.WidthBps, b.Ts)
	}

	h.mu.Lock()
	prev, had := h.bands[asset]
	if h.requireSeq && had && b.Seq <= prev.Seq {
		h.mu.Unlock()
		return fmt.Errorf("%w: seq %d <= stored %d", ErrStaleSequence, b.Seq, prev.Seq)
	}
	h.bands[asset] = b
	h.mu.Unlock()

	if h.journal != nil {
		h.journal.AppendBand(asset, b)
	}
	h.log.Info("band_set",
		zap.String("asset", asset.Hex()),
		zap.Int64("mid_e6", int64(b.MidE6)),
		zap.Uint32("width_bps", b.WidthBps),
		zap.Uint64("seq", b.Seq),
	)
	return nil
}

// Restore seeds a persisted band at startup. The feeder gate and the
// journal are skipped: the band was authorized and journaled when it was
// first accepted. Its seq is kept, so monotonicity holds across restarts.
func (h *Hub) Restore(asset common.Address, b Band) {
	if b.MidE6 <= 0 {
		return
	}
	h.mu.Lock()
	if prev, had := h.bands[asset]; !had || b.Seq > prev.Seq {
		h.bands[asset] = b
	}
	h.mu.Unlock()
}

// GetBand returns the stored band, or the zero band if none was ever set.
// A zero MidE6 means "no price", never a valid price of zero.
func (h *Hub) GetBand(asset common.Address) Band {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bands[asset]
}

// MaxStaleness returns the process-wide freshness window.
func (h *Hub) MaxStaleness() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxStaleness
}

// SetMaxStaleness updates the freshness window. Admin only.
func (h *Hub) SetMaxStaleness(caller common.Address, d time.Duration) error {
	if !h.auth.Allowed(caller, roles.OracleAdmin) {
		return fmt.Errorf("set max staleness: %w", roles.ErrUnauthorized)
	}
	if d <= 0 {
		return fmt.Errorf("%w: staleness window %s", ErrInvalidBand, d)
	}
	h.mu.Lock()
	h.maxStaleness = d
	h.mu.Unlock()
	return nil
}

// Fresh reports whether the band is usable right now.
func (h *Hub) Fresh(b Band) bool {
	if b.MidE6 <= 0 {
		return false
	}
	h.mu.RLock()
	window := h.maxStaleness
	h.mu.RUnlock()
	return h.clock.Now().Unix() <= b.Ts+int64(window/time.Second)
}

// FreshBand returns the asset's band only if it is fresh.
func (h *Hub) FreshBand(asset common.Address) (Band, error) {
	b := h.GetBand(asset)
	if !h.Fresh(b) {
		return Band{}, fmt.Errorf("band for %s: %w", asset.Hex(), ErrStaleOracle)
	}
	return b, nil
}

// FxAsset returns the configured FX band asset (zero if unset).
func (h *Hub) FxAsset() common.Address {
	return h.fxAsset
}

// UsdPrice converts the asset's quote-currency midpoint to USD through the
// FX band ("quote units per 1 USD"). Both bands must be independently
// fresh. With no FX asset configured, the band midpoint is USD already.
func (h *Hub) UsdPrice(asset common.Address) (fixed.Fixed6, error) {
	b, err := h.FreshBand(asset)
	if err != nil {
		return 0, err
	}
	if h.fxAsset == (common.Address{}) {
		return b.MidE6, nil
	}
	fx, err := h.FreshBand(h.fxAsset)
	if err != nil {
		return 0, err
	}
	return fixed.MulDivFloor(b.MidE6, fixed.One, fx.MidE6)
}
