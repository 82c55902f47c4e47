package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Oracle holds price-band configuration shared by every band consumer.
type Oracle struct {
	// MaxStaleness is the freshness window for price bands. A band whose
	// timestamp is older than now-MaxStaleness is rejected at the point of use.
	MaxStaleness time.Duration

	// FxAsset is the band used as "quote-currency units per 1 USD" for
	// cross-rate valuation. Zero address means assets are quoted in USD
	// directly and no FX conversion is applied.
	FxAsset common.Address

	// RequireSeq enforces monotonic sequence numbers on band updates.
	RequireSeq bool
}

// Venue holds order-book configuration.
type Venue struct {
	// DefaultFeeBps is the taker fee applied when an asset has no override.
	DefaultFeeBps uint16

	// FeeSink receives every trade's fee.
	FeeSink common.Address

	// Quote is the quote-currency token (USDC-equivalent) trades settle in.
	Quote common.Address
}

// Lending holds borrow/supply pool configuration.
type Lending struct {
	// LtvBps is the maximum loan-to-value ratio in basis points.
	LtvBps uint16

	// PoolAccount is the settlement-ledger account holding pooled funds.
	PoolAccount common.Address
}

// Roles lists the addresses holding each administrative role. Authorization
// is a boolean membership check; key custody is external.
type Roles struct {
	Feeders      []common.Address
	OracleAdmins []common.Address
	VenueAdmins  []common.Address
	PoolAdmins   []common.Address
}

type Node struct {
	ListenAddr string
	DataDir    string
	LogFile    string
}

type Config struct {
	Oracle  Oracle
	Venue   Venue
	Lending Lending
	Roles   Roles
	Node    Node
}

func Default() Config {
	return Config{
		Oracle: Oracle{
			MaxStaleness: 30 * time.Minute,
			RequireSeq:   true,
		},
		Venue: Venue{
			DefaultFeeBps: 200,
		},
		Lending: Lending{
			LtvBps: 2500,
		},
		Node: Node{
			ListenAddr: ":8080",
			DataDir:    "data",
			LogFile:    "data/node.log",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("MAX_STALENESS_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			cfg.Oracle.MaxStaleness = time.Duration(sec) * time.Second
		}
	}
	if v := os.Getenv("FX_ASSET"); v != "" {
		cfg.Oracle.FxAsset = common.HexToAddress(v)
	}
	if v := os.Getenv("ORACLE_REQUIRE_SEQ"); v != "" {
		cfg.Oracle.RequireSeq = v == "true"
	}

	if v := os.Getenv("FEE_BPS"); v != "" {
		if bps, err := strconv.Atoi(v); err == nil && bps >= 0 && bps <= 10000 {
			cfg.Venue.DefaultFeeBps = uint16(bps)
		}
	}
	if v := os.Getenv("FEE_SINK"); v != "" {
		cfg.Venue.FeeSink = common.HexToAddress(v)
	}
	if v := os.Getenv("QUOTE_TOKEN"); v != "" {
		cfg.Venue.Quote = common.HexToAddress(v)
	}

	if v := os.Getenv("LTV_BPS"); v != "" {
		if bps, err := strconv.Atoi(v); err == nil && bps >= 0 && bps <= 10000 {
			cfg.Lending.LtvBps = uint16(bps)
		}
	}
	if v := os.Getenv("POOL_ACCOUNT"); v != "" {
		cfg.Lending.PoolAccount = common.HexToAddress(v)
	}

	cfg.Roles.Feeders = addrList("FEEDER_ADDRS")
	cfg.Roles.OracleAdmins = addrList("ORACLE_ADMIN_ADDRS")
	cfg.Roles.VenueAdmins = addrList("VENUE_ADMIN_ADDRS")
	cfg.Roles.PoolAdmins = addrList("POOL_ADMIN_ADDRS")

	cfg.Node.ListenAddr = getEnv("LISTEN_ADDR", cfg.Node.ListenAddr)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)

	return cfg
}

// addrList parses a comma-separated list of hex addresses from the env.
func addrList(key string) []common.Address {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []common.Address
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, common.HexToAddress(s))
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
