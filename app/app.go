// Package app wires the gateway components into an fx application.
package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/VanDung-dev/stellar-gateway/api"
	"github.com/VanDung-dev/stellar-gateway/config"
	"github.com/VanDung-dev/stellar-gateway/engine"
	"github.com/VanDung-dev/stellar-gateway/gateway"
	"github.com/VanDung-dev/stellar-gateway/network"
	"github.com/VanDung-dev/stellar-gateway/stellar"
	"github.com/VanDung-dev/stellar-gateway/tracing"
)

// DrainTimeout bounds how long shutdown waits for admitted remote calls.
const DrainTimeout = 35 * time.Second

// Tracing bundles the provider with its shutdown.
type Tracing struct {
	Provider trace.TracerProvider
	Shutdown tracing.ShutdownFunc
}

// Module provides every gateway component built from cfg.
func Module(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			NewLogger,
			NewTracing,
			NewPool,
			NewCapability,
			NewBuilder,
			NewMetrics,
			NewPublisher,
			NewCaller,
			NewService,
			NewHTTPServer,
			NewGRPCServer,
		),
		fx.Invoke(Run),
	)
}

// New builds the application. extra options are appended, e.g. fx.Populate in tests.
func New(cfg *config.Config, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		Module(cfg),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	}
	return fx.New(append(opts, extra...)...)
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return cfg.Log.Build()
}

func NewTracing(cfg *config.Config, log *zap.Logger) (*Tracing, error) {
	tp, shutdown, err := tracing.Setup(context.Background(), cfg.Tracing, api.Version, log.Named("tracing"))
	if err != nil {
		return nil, err
	}
	return &Tracing{Provider: tp, Shutdown: shutdown}, nil
}

func NewPool(cfg *config.Config) (*engine.Pool, error) {
	pc, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}
	return engine.NewPool(pc)
}

func NewCapability(cfg *config.Config) (*stellar.RPCCapability, error) {
	return stellar.NewRPCCapability(cfg.RPC.URL, time.Duration(cfg.RPC.HTTPTimeout))
}

func NewBuilder(cfg *config.Config) (*stellar.Builder, error) {
	return stellar.NewBuilder(cfg.Stellar.SecretKey, cfg.Stellar.NetworkPassphrase)
}

func NewMetrics(cfg *config.Config, pool *engine.Pool) *api.Metrics {
	m := api.NewMetrics(cfg.API.MetricsNamespace)
	m.BindPool(pool)
	return m
}

// NewPublisher returns nil when the event feed is disabled.
func NewPublisher(cfg *config.Config, log *zap.Logger, m *api.Metrics) *network.Publisher {
	if !cfg.Events.Enabled {
		return nil
	}
	p := network.NewPublisher(network.PublisherConfig{
		Address:    cfg.Events.Address,
		Topic:      cfg.Events.Topic,
		BufferSize: cfg.Events.BufferSize,
	}, log.Named("events"))
	m.BindPublisher(p)
	return p
}

func NewCaller(cfg *config.Config, log *zap.Logger, pool *engine.Pool, capability *stellar.RPCCapability, tr *Tracing, m *api.Metrics) *engine.Caller[gateway.Capability] {
	return engine.NewCaller[gateway.Capability](pool, func() gateway.Capability { return capability }, engine.CallerConfig{
		Timeout:  time.Duration(cfg.Call.Timeout),
		Logger:   log.Named("engine"),
		Tracer:   tr.Provider.Tracer("github.com/VanDung-dev/stellar-gateway/engine"),
		Observer: m,
	})
}

func NewService(cfg *config.Config, log *zap.Logger, caller *engine.Caller[gateway.Capability], builder *stellar.Builder, m *api.Metrics, pub *network.Publisher) (*gateway.Service, error) {
	sinks := []gateway.EventSink{m}
	if pub != nil {
		sinks = append(sinks, pub)
	}
	svc, err := gateway.NewService(caller, builder, cfg.GatewayConfig(builder.Address()), log.Named("gateway"),
		gateway.WithEventSink(gateway.Sinks(sinks...)),
	)
	if err != nil {
		return nil, xerrors.Errorf("gateway service: %w", err)
	}
	return svc, nil
}

func NewHTTPServer(cfg *config.Config, log *zap.Logger, svc *gateway.Service, pool *engine.Pool, m *api.Metrics) *api.HTTPServer {
	hc := api.DefaultHTTPConfig()
	hc.Address = cfg.API.HTTPAddress
	hc.AccountRateLimit = cfg.API.AccountRateLimit
	hc.AccountRateBurst = cfg.API.AccountRateBurst
	return api.NewHTTPServer(svc, pool, m, hc, log.Named("http"))
}

func NewGRPCServer(cfg *config.Config, log *zap.Logger, svc *gateway.Service, pool *engine.Pool, m *api.Metrics) *api.GatewayServer {
	return api.NewGRPCServer(svc, pool, m, api.GRPCConfig{
		Address:        cfg.API.GRPCAddress,
		MaxRecvMsgSize: cfg.API.MaxRecvMsgSize,
		MaxSendMsgSize: cfg.API.MaxSendMsgSize,
	}, log.Named("grpc"))
}

// Components are the parts Run starts and stops.
type Components struct {
	fx.In

	Log        *zap.Logger
	Tracing    *Tracing
	Pool       *engine.Pool
	Capability *stellar.RPCCapability
	Publisher  *network.Publisher
	Service    *gateway.Service
	HTTP       *api.HTTPServer
	GRPC       *api.GatewayServer
}

// Run registers the lifecycle hook that starts listeners and tears everything
// down in dependency order.
func Run(lc fx.Lifecycle, c Components) {
	log := c.Log.Named("app")

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if c.Publisher != nil {
				if err := c.Publisher.Start(); err != nil {
					return xerrors.Errorf("starting event feed: %w", err)
				}
			}
			if err := c.GRPC.StartAsync(); err != nil {
				return err
			}
			if err := c.HTTP.StartAsync(); err != nil {
				c.GRPC.Stop()
				return err
			}
			log.Info("stellar gateway started",
				zap.String("http", c.HTTP.Addr()),
				zap.String("grpc", c.GRPC.Addr()),
				zap.String("rpc", c.Capability.URL()),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Closing the service first fails workflows parked in the settle
			// delay, so the listeners can drain.
			c.Service.Close()
			var errs error
			errs = multierr.Append(errs, c.HTTP.Stop(ctx))
			c.GRPC.Stop()
			if err := c.Pool.ShutdownWithTimeout(DrainTimeout); err != nil {
				errs = multierr.Append(errs, xerrors.Errorf("draining %s: %w", c.Pool.Name(), err))
			}
			if c.Publisher != nil {
				errs = multierr.Append(errs, c.Publisher.Stop())
			}
			errs = multierr.Append(errs, c.Capability.Close())
			errs = multierr.Append(errs, c.Tracing.Shutdown(ctx))
			_ = c.Log.Sync()

			if errs != nil {
				log.Warn("shutdown finished with errors", zap.Error(errs))
			} else {
				log.Info("stellar gateway stopped")
			}
			return errs
		},
	})
}
