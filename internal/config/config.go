package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultAppName         = "GreenSeed"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultSwapRate        = "0.5"
	defaultEffectTimeout   = 15 * time.Second
	defaultReconcileEvery  = time.Minute
	defaultReconcileGrace  = 5 * time.Minute
	defaultReconcileBatch  = 50
	defaultDepositLimit    = 30
	defaultCatalogCacheTTL = 5 * time.Minute
	defaultTokenDecimals   = 18
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Effect adapter backends.
const (
	BackendStatic = "static"
	BackendHTTP   = "http"
	BackendEVM    = "evm"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	SwapRate        decimal.Decimal
	EffectTimeout   time.Duration
	AutoSwapEnabled bool
	TransferBackend string
	SwapBackend     string
	EffectURL       string

	EVMRPCURL          string
	EVMChainID         int64
	SeedTokenAddress   string
	SeedTokenDecimals  int32
	TreasuryPrivateKey string

	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
	ReconcileBatch    int
	DepositRateLimit  int
	CatalogFile       string
	CatalogCacheTTL   time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		ShutdownPeriod:     defaultShutdownDelay,
		IdempotencyTTL:     defaultIdempotencyTTL,
		TransferBackend:    strings.ToLower(getEnv("TRANSFER_BACKEND", BackendStatic)),
		SwapBackend:        strings.ToLower(getEnv("SWAP_BACKEND", BackendStatic)),
		EffectURL:          os.Getenv("EFFECT_SERVICE_URL"),
		EVMRPCURL:          os.Getenv("EVM_RPC_URL"),
		SeedTokenAddress:   os.Getenv("SEED_TOKEN_ADDRESS"),
		TreasuryPrivateKey: os.Getenv("TREASURY_PRIVATE_KEY"),
		CatalogFile:        os.Getenv("CATALOG_FILE"),
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	rate, err := decimal.NewFromString(getEnv("SWAP_RATE", defaultSwapRate))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SWAP_RATE: %w", err)
	}
	if !rate.IsPositive() {
		return Config{}, fmt.Errorf("SWAP_RATE must be positive")
	}
	cfg.SwapRate = rate

	if cfg.AutoSwapEnabled, err = getBool("AUTO_SWAP_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.EffectTimeout, err = getDuration("EFFECT_TIMEOUT", defaultEffectTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = getDuration("RECONCILE_INTERVAL", defaultReconcileEvery); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileGrace, err = getDuration("RECONCILE_GRACE", defaultReconcileGrace); err != nil {
		return Config{}, err
	}
	if cfg.CatalogCacheTTL, err = getDuration("CATALOG_CACHE_TTL", defaultCatalogCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileBatch, err = getInt("RECONCILE_BATCH", defaultReconcileBatch); err != nil {
		return Config{}, err
	}
	if cfg.DepositRateLimit, err = getInt("DEPOSIT_RATE_LIMIT", defaultDepositLimit); err != nil {
		return Config{}, err
	}
	decimals, err := getInt("SEED_TOKEN_DECIMALS", defaultTokenDecimals)
	if err != nil {
		return Config{}, err
	}
	cfg.SeedTokenDecimals = int32(decimals)
	chainID, err := getInt("EVM_CHAIN_ID", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.EVMChainID = int64(chainID)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.EffectTimeout <= 0 {
		return fmt.Errorf("EFFECT_TIMEOUT must be positive")
	}
	if !c.IsDev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set")
		}
	}

	switch c.TransferBackend {
	case BackendStatic:
	case BackendHTTP:
		if c.EffectURL == "" {
			return fmt.Errorf("EFFECT_SERVICE_URL must be set when TRANSFER_BACKEND=http")
		}
	case BackendEVM:
		if c.EVMRPCURL == "" || c.SeedTokenAddress == "" || c.TreasuryPrivateKey == "" || c.EVMChainID <= 0 {
			return fmt.Errorf("EVM_RPC_URL, EVM_CHAIN_ID, SEED_TOKEN_ADDRESS and TREASURY_PRIVATE_KEY must be set when TRANSFER_BACKEND=evm")
		}
	default:
		return fmt.Errorf("unknown TRANSFER_BACKEND %q", c.TransferBackend)
	}

	switch c.SwapBackend {
	case BackendStatic:
	case BackendHTTP:
		if c.EffectURL == "" {
			return fmt.Errorf("EFFECT_SERVICE_URL must be set when SWAP_BACKEND=http")
		}
	default:
		return fmt.Errorf("unknown SWAP_BACKEND %q", c.SwapBackend)
	}
	return nil
}

// IsDev reports whether the service runs in a local development environment,
// where missing Postgres and Redis fall back to in-memory backends.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
