package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"poolgov/crypto"
)

func testBech32(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address().String()
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, ":8646", cfg.ListenAddress)
	require.Equal(t, "poolgov", cfg.DomainName)
	require.NotEmpty(t, cfg.PoolAddress)
	require.NotEmpty(t, cfg.CollectorAddress)

	// The generated file loads back cleanly.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.PoolAddress, reloaded.PoolAddress)
	require.Equal(t, cfg.ThresholdPct, reloaded.ThresholdPct)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "PoolAddress = \"" + testBech32(t) + "\"\n" +
		"CollectorAddress = \"" + testBech32(t) + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(51), cfg.ThresholdPct)
	require.Equal(t, uint64(86400), cfg.ExpirationSecs)
	require.Equal(t, ":9464", cfg.MetricsAddress)
}

func TestValidateRejectsBadValues(t *testing.T) {
	pool := testBech32(t)
	collector := testBech32(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing pool", "CollectorAddress = \"" + collector + "\"\n"},
		{"bad pool", "PoolAddress = \"nope\"\nCollectorAddress = \"" + collector + "\"\n"},
		{"threshold over 100", "ThresholdPct = 101\nPoolAddress = \"" + pool + "\"\nCollectorAddress = \"" + collector + "\"\n"},
		{"bad token", "TokenAddress = \"xyz\"\nPoolAddress = \"" + pool + "\"\nCollectorAddress = \"" + collector + "\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestEngineConfig(t *testing.T) {
	pool := testBech32(t)
	collector := testBech32(t)
	cfg := &Config{
		PoolAddress:      pool,
		CollectorAddress: collector,
		ThresholdPct:     67,
		ExpirationSecs:   7200,
		ActivationTime:   123,
	}
	cfg.applyDefaults()
	engineCfg, err := cfg.EngineConfig()
	require.NoError(t, err)
	require.Equal(t, pool, engineCfg.Pool.String())
	require.Equal(t, collector, engineCfg.Collector.String())
	require.Equal(t, uint64(67), engineCfg.ThresholdPct)
	require.Equal(t, uint64(123), engineCfg.ActivationTime)
	require.True(t, engineCfg.Token.IsZero())
}
