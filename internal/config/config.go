package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Port               string `json:"port" yaml:"port"`
	RequestTimeoutSec  int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
	ShutdownTimeoutSec int    `json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
	MaxBatch           int    `json:"max_batch" yaml:"max_batch"`
}

type Cache struct {
	CryptoTTLSec     int `json:"crypto_ttl_sec" yaml:"crypto_ttl_sec"`
	StockTTLSec      int `json:"stock_ttl_sec" yaml:"stock_ttl_sec"`
	SearchTTLSec     int `json:"search_ttl_sec" yaml:"search_ttl_sec"`
	DefaultTTLSec    int `json:"default_ttl_sec" yaml:"default_ttl_sec"`
	MaxItems         int `json:"max_items" yaml:"max_items"`
	SweepIntervalSec int `json:"sweep_interval_sec" yaml:"sweep_interval_sec"`
}

type Fetch struct {
	AdapterTimeoutMs int  `json:"adapter_timeout_ms" yaml:"adapter_timeout_ms"`
	Verify           bool `json:"verify" yaml:"verify"`
	BatchConcurrency int  `json:"batch_concurrency" yaml:"batch_concurrency"`
}

type Verification struct {
	HighBelowPct   float64 `json:"high_below_pct" yaml:"high_below_pct"`
	MediumBelowPct float64 `json:"medium_below_pct" yaml:"medium_below_pct"`
}

type Symbols struct {
	File               string `json:"file" yaml:"file"`
	RefreshIntervalSec int    `json:"refresh_interval_sec" yaml:"refresh_interval_sec"`
	RefreshLimit       int    `json:"refresh_limit" yaml:"refresh_limit"`
}

type Logging struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type Report struct {
	TimeoutSec int `json:"timeout_sec" yaml:"timeout_sec"`
	NewsLimit  int `json:"news_limit" yaml:"news_limit"`
}

// Source configures one upstream. A zero MaxRequestsPerMinute falls back to
// MinRequestIntervalMs; both zero disables limiting. A zero BreakerFailures
// disables the circuit breaker.
type Source struct {
	Enabled              bool   `json:"enabled" yaml:"enabled"`
	Endpoint             string `json:"endpoint" yaml:"endpoint"`
	APIKey               string `json:"api_key" yaml:"api_key"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	MinRequestIntervalMs int    `json:"min_request_interval_ms" yaml:"min_request_interval_ms"`
	Burst                int    `json:"burst" yaml:"burst"`
	BreakerFailures      int    `json:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldownSec   int    `json:"breaker_cooldown_sec" yaml:"breaker_cooldown_sec"`
}

type Sources struct {
	CoinGecko    Source `json:"coingecko" yaml:"coingecko"`
	CoinCap      Source `json:"coincap" yaml:"coincap"`
	Binance      Source `json:"binance" yaml:"binance"`
	Yahoo        Source `json:"yahoo" yaml:"yahoo"`
	AlphaVantage Source `json:"alphavantage" yaml:"alphavantage"`
}

type Config struct {
	Server       Server       `json:"server" yaml:"server"`
	Cache        Cache        `json:"cache" yaml:"cache"`
	Fetch        Fetch        `json:"fetch" yaml:"fetch"`
	Verification Verification `json:"verification" yaml:"verification"`
	Symbols      Symbols      `json:"symbols" yaml:"symbols"`
	Logging      Logging      `json:"logging" yaml:"logging"`
	Report       Report       `json:"report" yaml:"report"`
	Sources      Sources      `json:"sources" yaml:"sources"`
}

func Default() Config {
	return Config{
		Server:       Server{Port: "8080", RequestTimeoutSec: 15, ShutdownTimeoutSec: 5, MaxBatch: 100},
		Cache:        Cache{CryptoTTLSec: 15, StockTTLSec: 30, SearchTTLSec: 300, DefaultTTLSec: 60, MaxItems: 10000, SweepIntervalSec: 60},
		Fetch:        Fetch{AdapterTimeoutMs: 5000, Verify: true, BatchConcurrency: 8},
		Verification: Verification{HighBelowPct: 1, MediumBelowPct: 3},
		Symbols:      Symbols{RefreshIntervalSec: 6 * 3600, RefreshLimit: 250},
		Logging:      Logging{Level: "info", Format: "text"},
		Report:       Report{TimeoutSec: 30, NewsLimit: 5},
		Sources: Sources{
			CoinGecko: Source{
				Enabled:              true,
				Endpoint:             "https://api.coingecko.com/api/v3",
				MaxRequestsPerMinute: 30,
				Burst:                5,
				BreakerFailures:      5,
				BreakerCooldownSec:   30,
			},
			CoinCap: Source{
				Enabled:              true,
				Endpoint:             "https://api.coincap.io/v2",
				MaxRequestsPerMinute: 200,
				Burst:                10,
				BreakerFailures:      5,
				BreakerCooldownSec:   30,
			},
			Binance: Source{
				Enabled:              true,
				Endpoint:             "https://api.binance.com",
				MaxRequestsPerMinute: 1200,
				Burst:                20,
				BreakerFailures:      5,
				BreakerCooldownSec:   30,
			},
			Yahoo: Source{
				Enabled:              true,
				Endpoint:             "https://query1.finance.yahoo.com",
				MinRequestIntervalMs: 200,
				BreakerFailures:      5,
				BreakerCooldownSec:   60,
			},
			AlphaVantage: Source{
				Endpoint:             "https://www.alphavantage.co/query",
				MaxRequestsPerMinute: 5,
				Burst:                1,
				BreakerFailures:      3,
				BreakerCooldownSec:   60,
			},
		},
	}
}

// Load reads a JSON or YAML config (by extension) from path. If path is empty,
// config.json and then config.yaml in the working directory are tried; a
// missing file yields defaults. A .env file is loaded next, and environment
// variables override select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		for _, p := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	envInt("REQUEST_TIMEOUT_SEC", &cfg.Server.RequestTimeoutSec, 1)
	envInt("SERVER_MAX_BATCH", &cfg.Server.MaxBatch, 1)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	envInt("CACHE_CRYPTO_TTL_SEC", &cfg.Cache.CryptoTTLSec, 1)
	envInt("CACHE_STOCK_TTL_SEC", &cfg.Cache.StockTTLSec, 1)
	envInt("CACHE_SEARCH_TTL_SEC", &cfg.Cache.SearchTTLSec, 1)
	envInt("CACHE_DEFAULT_TTL_SEC", &cfg.Cache.DefaultTTLSec, 1)
	envInt("CACHE_MAX_ITEMS", &cfg.Cache.MaxItems, 0)
	envInt("CACHE_SWEEP_INTERVAL_SEC", &cfg.Cache.SweepIntervalSec, 1)

	envInt("FETCH_ADAPTER_TIMEOUT_MS", &cfg.Fetch.AdapterTimeoutMs, 1)
	envInt("FETCH_BATCH_CONCURRENCY", &cfg.Fetch.BatchConcurrency, 1)
	envBool("FETCH_VERIFY", &cfg.Fetch.Verify)

	envFloat("VERIFY_HIGH_BELOW_PCT", &cfg.Verification.HighBelowPct)
	envFloat("VERIFY_MEDIUM_BELOW_PCT", &cfg.Verification.MediumBelowPct)

	if v := os.Getenv("SYMBOLS_FILE"); v != "" {
		cfg.Symbols.File = v
	}
	envInt("SYMBOLS_REFRESH_INTERVAL_SEC", &cfg.Symbols.RefreshIntervalSec, 0)

	sourceEnv("COINGECKO", &cfg.Sources.CoinGecko)
	sourceEnv("COINCAP", &cfg.Sources.CoinCap)
	sourceEnv("BINANCE", &cfg.Sources.Binance)
	sourceEnv("YAHOO", &cfg.Sources.Yahoo)
	sourceEnv("ALPHAVANTAGE", &cfg.Sources.AlphaVantage)
	// Alpha Vantage is only useful with a key.
	if os.Getenv("ALPHAVANTAGE_ENABLED") == "" && cfg.Sources.AlphaVantage.APIKey != "" {
		cfg.Sources.AlphaVantage.Enabled = true
	}
}

func sourceEnv(prefix string, s *Source) {
	envBool(prefix+"_ENABLED", &s.Enabled)
	if v := os.Getenv(prefix + "_ENDPOINT"); v != "" {
		s.Endpoint = v
	}
	if v := os.Getenv(prefix + "_API_KEY"); v != "" {
		s.APIKey = v
	}
	envInt(prefix+"_MAX_RPM", &s.MaxRequestsPerMinute, 0)
	envInt(prefix+"_MIN_INTERVAL_MS", &s.MinRequestIntervalMs, 0)
	envInt(prefix+"_BURST", &s.Burst, 1)
	envInt(prefix+"_BREAKER_FAILURES", &s.BreakerFailures, 0)
	envInt(prefix+"_BREAKER_COOLDOWN_SEC", &s.BreakerCooldownSec, 1)
}

// envInt sets *dst from key when it parses and is at least min.
func envInt(key string, dst *int, min int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	x, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || x < min {
		return
	}
	*dst = x
}

func envFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || x <= 0 {
		return
	}
	*dst = x
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
}
