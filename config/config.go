// Package config defines the gateway configuration and its TOML/env loader.
package config

import (
	"encoding"
	"time"

	"github.com/stellar/go-stellar-sdk/network"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/xerrors"

	"github.com/VanDung-dev/stellar-gateway/engine"
	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// Config is the root of the gateway configuration.
type Config struct {
	RPC     RPC
	Stellar Stellar
	Pool    Pool
	Call    Call
	API     API
	Events  Events
	Tracing Tracing
	Log     Log
}

// RPC is the remote Stellar RPC endpoint.
type RPC struct {
	URL         string   `split_words:"true"`
	HTTPTimeout Duration `split_words:"true"`
}

// Stellar holds the account creation parameters and signing key.
type Stellar struct {
	// PublicKey of the funding account; derived from SecretKey when empty
	PublicKey         string `split_words:"true"`
	SecretKey         string `split_words:"true"`
	NetworkPassphrase string `split_words:"true"`
	StartingBalance   string `split_words:"true"`
	BaseFee           int64  `split_words:"true"`

	TxValidity  Duration `split_words:"true"`
	SettleDelay Duration `split_words:"true"`
	ExplorerURL string   `split_words:"true"`
}

// Pool sizes the worker pool reserved for remote calls.
type Pool struct {
	Name          string
	CoreWorkers   int      `split_words:"true"`
	MaxWorkers    int      `split_words:"true"`
	QueueCapacity int      `split_words:"true"`
	KeepAlive     Duration `split_words:"true"`
	// Policy is "fail-fast" or "block"
	Policy string
}

// Call configures remote call supervision.
type Call struct {
	Timeout Duration
}

// API configures the delivery listeners.
type API struct {
	HTTPAddress      string  `split_words:"true"`
	GRPCAddress      string  `split_words:"true"`
	MaxRecvMsgSize   int     `split_words:"true"`
	MaxSendMsgSize   int     `split_words:"true"`
	MetricsNamespace string  `split_words:"true"`
	AccountRateLimit float64 `split_words:"true"`
	AccountRateBurst int     `split_words:"true"`
}

// Events configures the ZeroMQ workflow event feed.
type Events struct {
	Enabled    bool
	Address    string
	Topic      string
	BufferSize int `split_words:"true"`
}

// Tracing configures OpenTelemetry export.
type Tracing struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRate  float64 `split_words:"true"`
	ServiceName string  `split_words:"true"`
}

// Log configures the zap logger.
type Log struct {
	Level       string
	Development bool
	// Encoding is "json" or "console"
	Encoding string
}

// Default returns the testnet configuration.
func Default() *Config {
	pool := engine.DefaultPoolConfig()
	gw := gateway.DefaultConfig()

	return &Config{
		RPC: RPC{
			URL:         "https://soroban-testnet.stellar.org",
			HTTPTimeout: Duration(30 * time.Second),
		},
		Stellar: Stellar{
			NetworkPassphrase: network.TestNetworkPassphrase,
			StartingBalance:   gw.StartingBalance,
			TxValidity:        Duration(gw.TxValidity),
			SettleDelay:       Duration(gw.SettleDelay),
			ExplorerURL:       gw.ExplorerURL,
		},
		Pool: Pool{
			Name:          pool.Name,
			CoreWorkers:   pool.CoreWorkers,
			MaxWorkers:    pool.MaxWorkers,
			QueueCapacity: pool.QueueCapacity,
			KeepAlive:     Duration(pool.KeepAlive),
			Policy:        pool.Policy.String(),
		},
		Call: Call{
			Timeout: Duration(engine.DefaultCallTimeout),
		},
		API: API{
			HTTPAddress:      ":8080",
			GRPCAddress:      ":50051",
			MaxRecvMsgSize:   4 << 20,
			MaxSendMsgSize:   4 << 20,
			MetricsNamespace: "stellar_gateway",
			AccountRateLimit: 1,
			AccountRateBurst: 5,
		},
		Events: Events{
			Enabled:    false,
			Address:    "tcp://127.0.0.1:7400",
			Topic:      "workflow",
			BufferSize: 1024,
		},
		Tracing: Tracing{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRate:  1,
			ServiceName: "stellar-gateway",
		},
		Log: Log{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.RPC.URL == "" {
		return xerrors.New("rpc url is required")
	}
	if c.Stellar.SecretKey == "" {
		return xerrors.New("stellar secret key is required")
	}
	if _, err := c.PoolConfig(); err != nil {
		return err
	}
	if c.Call.Timeout <= 0 {
		return xerrors.New("call timeout must be positive")
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return xerrors.Errorf("tracing sample rate must be within [0, 1], got %v", c.Tracing.SampleRate)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return xerrors.Errorf("log level: %w", err)
	}
	return nil
}

// PoolConfig converts the pool section.
func (c *Config) PoolConfig() (engine.PoolConfig, error) {
	policy, err := engine.ParseRejectPolicy(c.Pool.Policy)
	if err != nil {
		return engine.PoolConfig{}, err
	}
	cfg := engine.PoolConfig{
		Name:          c.Pool.Name,
		CoreWorkers:   c.Pool.CoreWorkers,
		MaxWorkers:    c.Pool.MaxWorkers,
		QueueCapacity: c.Pool.QueueCapacity,
		KeepAlive:     time.Duration(c.Pool.KeepAlive),
		Policy:        policy,
	}
	if err := cfg.Validate(); err != nil {
		return engine.PoolConfig{}, xerrors.Errorf("pool: %w", err)
	}
	return cfg, nil
}

// GatewayConfig converts the stellar section. sourceID is used when PublicKey is empty.
func (c *Config) GatewayConfig(sourceID string) gateway.Config {
	if c.Stellar.PublicKey != "" {
		sourceID = c.Stellar.PublicKey
	}
	return gateway.Config{
		SourceAccountID: sourceID,
		StartingBalance: c.Stellar.StartingBalance,
		BaseFee:         c.Stellar.BaseFee,
		TxValidity:      time.Duration(c.Stellar.TxValidity),
		SettleDelay:     time.Duration(c.Stellar.SettleDelay),
		ExplorerURL:     c.Stellar.ExplorerURL,
	}
}

// Build creates the logger described by l.
func (l Log) Build() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if l.Encoding != "" {
		zc.Encoding = l.Encoding
	}
	if l.Level != "" {
		level, err := zap.ParseAtomicLevel(l.Level)
		if err != nil {
			return nil, xerrors.Errorf("log level: %w", err)
		}
		zc.Level = level
	}
	return zc.Build()
}

var _ encoding.TextMarshaler = (*Duration)(nil)
var _ encoding.TextUnmarshaler = (*Duration)(nil)

// Duration is a wrapper type for time.Duration
// for decoding and encoding from/to TOML
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return nil
}

func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}
