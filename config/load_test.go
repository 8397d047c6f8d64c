package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/VanDung-dev/stellar-gateway/engine"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.Pool.CoreWorkers)
	assert.Equal(t, 10, cfg.Pool.MaxWorkers)
	assert.Equal(t, 25, cfg.Pool.QueueCapacity)
	assert.Equal(t, Duration(30*time.Second), cfg.Call.Timeout)
	assert.Equal(t, Duration(10*time.Second), cfg.Stellar.SettleDelay)
	assert.Equal(t, Duration(1000*time.Second), cfg.Stellar.TxValidity)
	assert.Equal(t, "100", cfg.Stellar.StartingBalance)

	require.Error(t, cfg.Validate(), "secret key is required")
	cfg.Stellar.SecretKey = "SSECRET"
	require.NoError(t, cfg.Validate())
}

func TestFromReaderOverridesDefaults(t *testing.T) {
	input := `
[RPC]
URL = "http://localhost:8000/soroban/rpc"

[Pool]
CoreWorkers = 2
MaxWorkers = 4
Policy = "block"

[Stellar]
SettleDelay = "2s"
BaseFee = 200
`
	cfg, err := FromReader(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/soroban/rpc", cfg.RPC.URL)
	assert.Equal(t, Duration(2*time.Second), cfg.Stellar.SettleDelay)
	assert.Equal(t, int64(200), cfg.Stellar.BaseFee)
	assert.Equal(t, 25, cfg.Pool.QueueCapacity, "unset keys keep their defaults")

	pool, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, engine.PolicyBlock, pool.Policy)
	assert.Equal(t, 2, pool.CoreWorkers)
	assert.Equal(t, 60*time.Second, pool.KeepAlive)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("STELLAR_GATEWAY_POOL_CORE_WORKERS", "7")
	t.Setenv("STELLAR_GATEWAY_POOL_MAX_WORKERS", "9")
	t.Setenv("STELLAR_GATEWAY_CALL_TIMEOUT", "5s")
	t.Setenv("STELLAR_GATEWAY_STELLAR_SECRET_KEY", "SFROMENV")

	cfg, err := FromReader(strings.NewReader("[Pool]\nCoreWorkers = 2\n"))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pool.CoreWorkers)
	assert.Equal(t, 9, cfg.Pool.MaxWorkers)
	assert.Equal(t, Duration(5*time.Second), cfg.Call.Timeout)
	assert.Equal(t, "SFROMENV", cfg.Stellar.SecretKey)
}

func TestFromReaderRejectsBadInput(t *testing.T) {
	_, err := FromReader(strings.NewReader("[Call]\nTimeout = \"soon\"\n"))
	require.Error(t, err)

	_, err = FromReader(strings.NewReader("[RPC\n"))
	require.Error(t, err)
}

func TestFromFileMissingUsesDefaults(t *testing.T) {
	cfg, err := FromFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	exists, err := ConfigExist(path)
	require.NoError(t, err)
	assert.False(t, exists)

	cfg := Default()
	cfg.Stellar.SecretKey = "SSECRET"
	cfg.Events.Enabled = true
	cfg.Pool.KeepAlive = Duration(90 * time.Second)
	require.NoError(t, SaveConfig(path, cfg))

	exists, err = ConfigExist(path)
	require.NoError(t, err)
	assert.True(t, exists)

	loaded, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestDefaultComment(t *testing.T) {
	out, err := DefaultComment(Default())
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(out, []byte("# Default config:")))
	assert.Contains(t, string(out), "\n[RPC]")
	assert.NotContains(t, string(out), "\n  URL")

	cfg, err := FromReader(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestPoolConfigInvalid(t *testing.T) {
	cfg := Default()
	cfg.Pool.Policy = "drop-oldest"
	_, err := cfg.PoolConfig()
	require.Error(t, err)

	cfg = Default()
	cfg.Pool.MaxWorkers = 1
	_, err = cfg.PoolConfig()
	require.Error(t, err)
}

func TestGatewayConfig(t *testing.T) {
	cfg := Default()
	gw := cfg.GatewayConfig("GDERIVED")
	assert.Equal(t, "GDERIVED", gw.SourceAccountID)
	assert.Equal(t, 10*time.Second, gw.SettleDelay)
	require.NoError(t, gw.Validate())

	cfg.Stellar.PublicKey = "GEXPLICIT"
	assert.Equal(t, "GEXPLICIT", cfg.GatewayConfig("GDERIVED").SourceAccountID)
}

func TestLogBuild(t *testing.T) {
	logger, err := Log{Level: "debug", Encoding: "console", Development: true}.Build()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = Log{Level: "warn"}.Build()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = Log{Level: "loud"}.Build()
	require.Error(t, err)
}
