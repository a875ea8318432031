package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PACKAGE_ID", "RPC_ENDPOINT", "CACHE_POLL_INTERVAL", "CACHE_BATCH_SIZE",
		"ENGINE_TICK_INTERVAL", "ENGINE_RECENT_EXECUTION_TTL", "ENGINE_MAX_CONCURRENT",
		"ROUTER_QUOTE_DEADLINE", "ROUTER_MAX_NATIVE_LEGS", "ROUTER_ENABLE_SPLITS",
		"GAS_BUDGET_DIRECT", "GAS_BUDGET_COMPOSITE", "CONFIDENTIALITY_BASE_URL",
		"CONFIDENTIALITY_KEY_ID", "CONFIDENTIALITY_KEY_SECRET", "METRICS_ADDR",
		"HEALTH_ADDR", "VENUES_CONFIG_PATH",
	}
	for _, k := range keys {
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadRequiresPackageID(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.Setenv("PACKAGE_ID", "0xabc"))
	defer os.Unsetenv("PACKAGE_ID")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0xabc", cfg.PackageID)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.Equal(t, 250*time.Millisecond, cfg.QuoteDeadline)
	require.True(t, cfg.EnableSplits)
	require.Equal(t, uint64(50_000_000), cfg.GasBudgetDirect)
}

func TestLoadVenueRoster(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.Setenv("PACKAGE_ID", "0xabc"))
	defer os.Unsetenv("PACKAGE_ID")

	f, err := os.CreateTemp(t.TempDir(), "venues-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("venues:\n  - name: extswap\n    kind: amm\n    feeBps: 30\n    slippageBps: 50\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, os.Setenv("VENUES_CONFIG_PATH", f.Name()))
	defer os.Unsetenv("VENUES_CONFIG_PATH")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Venues, 1)
	require.Equal(t, "extswap", cfg.Venues[0].Name)
	require.Equal(t, int64(30), cfg.Venues[0].FeeBps)
}
