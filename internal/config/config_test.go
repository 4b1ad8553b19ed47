package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))

	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_JSON(t *testing.T) {
	t.Chdir(t.TempDir())

	// Arrange
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": "9090"},
		"cache": {"crypto_ttl_sec": 5},
		"sources": {"binance": {"enabled": false}}
	}`), 0o600))

	// Act
	cfg, err := Load(path)

	// Assert
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 5, cfg.Cache.CryptoTTLSec)
	require.Equal(t, 30, cfg.Cache.StockTTLSec)
	require.False(t, cfg.Sources.Binance.Enabled)
	require.True(t, cfg.Sources.CoinGecko.Enabled)
}

func TestLoad_YAML(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
verification:
  high_below_pct: 0.5
fetch:
  verify: false
logging:
  format: json
`), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	require.Equal(t, 0.5, cfg.Verification.HighBelowPct)
	require.Equal(t, 3.0, cfg.Verification.MediumBelowPct)
	require.False(t, cfg.Fetch.Verify)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_BadFile(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("PORT", "7000")
	t.Setenv("CACHE_SEARCH_TTL_SEC", "not-a-number")
	t.Setenv("FETCH_VERIFY", "no")
	t.Setenv("ALPHAVANTAGE_API_KEY", "demo")
	t.Setenv("YAHOO_BREAKER_FAILURES", "2")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("COINGECKO_API_KEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("COINGECKO_API_KEY") })

	cfg, err := Load("")

	require.NoError(t, err)
	require.Equal(t, "7000", cfg.Server.Port)
	require.Equal(t, 300, cfg.Cache.SearchTTLSec)
	require.False(t, cfg.Fetch.Verify)
	require.True(t, cfg.Sources.AlphaVantage.Enabled)
	require.Equal(t, "demo", cfg.Sources.AlphaVantage.APIKey)
	require.Equal(t, 2, cfg.Sources.Yahoo.BreakerFailures)
	require.Equal(t, "from-dotenv", cfg.Sources.CoinGecko.APIKey)
}
