package api

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "stellargateway.v1.Gateway"

// Trailer keys describing how far a failed account creation got.
const (
	TrailerKind        = "x-error-kind"
	TrailerStage       = "x-error-stage"
	TrailerWorkflowID  = "x-workflow-id"
	TrailerDestination = "x-destination"
	TrailerHash        = "x-transaction-hash"
	TrailerSubmitted   = "x-submitted"
)

// GRPCConfig holds configuration for the gRPC server.
type GRPCConfig struct {
	// Address to listen on (e.g., ":50051")
	Address string

	// MaxRecvMsgSize is the maximum message size in bytes
	MaxRecvMsgSize int

	// MaxSendMsgSize is the maximum message size in bytes
	MaxSendMsgSize int
}

// DefaultGRPCConfig returns a GRPCConfig with sensible defaults.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Address:        ":50051",
		MaxRecvMsgSize: 4 * 1024 * 1024, // 4MB
		MaxSendMsgSize: 4 * 1024 * 1024, // 4MB
	}
}

// GatewayService is the server side contract of stellargateway.v1.Gateway.
type GatewayService interface {
	GetLatestLedger(context.Context, *Empty) (*gateway.LedgerState, error)
	CreateAccount(context.Context, *Empty) (*gateway.AccountCreation, error)
	GetTransaction(context.Context, *GetTransactionRequest) (*gateway.TransactionResult, error)
	GetFriendbotUrl(context.Context, *Empty) (*FriendbotResponse, error)
	HealthCheck(context.Context, *Empty) (*HealthResponse, error)
}

var _ GatewayService = (*GatewayServer)(nil)

// GatewayServer implements the stellargateway.v1.Gateway service.
type GatewayServer struct {
	gw        Gateway
	pool      PoolStatser
	metrics   *Metrics
	log       *zap.Logger
	cfg       GRPCConfig
	startTime time.Time

	grpcServer *grpc.Server
	listener   net.Listener
	running    bool
	mu         sync.RWMutex
}

// NewGRPCServer creates a gRPC server instance. pool and metrics may be nil.
func NewGRPCServer(gw Gateway, pool PoolStatser, metrics *Metrics, cfg GRPCConfig, logger *zap.Logger) *GatewayServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayServer{
		gw:        gw,
		pool:      pool,
		metrics:   metrics,
		log:       logger,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// Register builds the underlying grpc.Server with the service attached.
func (s *GatewayServer) Register(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
	}, opts...)
	if s.cfg.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.cfg.MaxRecvMsgSize))
	}
	if s.cfg.MaxSendMsgSize > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(s.cfg.MaxSendMsgSize))
	}

	srv := grpc.NewServer(opts...)
	srv.RegisterService(&gatewayServiceDesc, s)
	return srv
}

// Serve runs the service on lis until Stop. It is used directly by tests.
func (s *GatewayServer) Serve(lis net.Listener) error {
	srv, err := s.prepare(lis)
	if err != nil {
		return err
	}
	return srv.Serve(lis)
}

// StartAsync starts the gRPC server asynchronously and returns immediately.
func (s *GatewayServer) StartAsync() error {
	lis, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return xerrors.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	srv, err := s.prepare(lis)
	if err != nil {
		_ = lis.Close()
		return err
	}

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Warn("grpc server failed", zap.Error(err))
		}
	}()

	s.log.Info("grpc server listening", zap.String("address", lis.Addr().String()))
	return nil
}

func (s *GatewayServer) prepare(lis net.Listener) (*grpc.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, xerrors.New("server is already running")
	}
	s.grpcServer = s.Register()
	s.listener = lis
	s.running = true
	s.startTime = time.Now()
	return s.grpcServer, nil
}

// Addr returns the bound address once started.
func (s *GatewayServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the gRPC server.
func (s *GatewayServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	srv := s.grpcServer
	s.mu.Unlock()

	// In-flight handlers read the lock, so drain without holding it.
	if srv != nil {
		srv.GracefulStop()
	}
}

// GetLatestLedger returns the newest closed ledger.
func (s *GatewayServer) GetLatestLedger(ctx context.Context, _ *Empty) (*gateway.LedgerState, error) {
	ledger, err := s.gw.GetLatestLedger(ctx)
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return ledger, nil
}

// CreateAccount runs the account creation workflow.
func (s *GatewayServer) CreateAccount(ctx context.Context, _ *Empty) (*gateway.AccountCreation, error) {
	created, err := s.gw.CreateAccount(ctx)
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return created, nil
}

// GetTransaction returns the status of a submitted transaction.
func (s *GatewayServer) GetTransaction(ctx context.Context, req *GetTransactionRequest) (*gateway.TransactionResult, error) {
	if req == nil {
		req = &GetTransactionRequest{}
	}
	tx, err := s.gw.GetTransaction(ctx, req.Hash)
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return tx, nil
}

// GetFriendbotUrl returns the friendbot URL of the network.
func (s *GatewayServer) GetFriendbotUrl(ctx context.Context, _ *Empty) (*FriendbotResponse, error) {
	url, err := s.gw.GetFriendbotURL(ctx)
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return &FriendbotResponse{URL: url}, nil
}

// HealthCheck returns the health status of the gateway.
func (s *GatewayServer) HealthCheck(_ context.Context, _ *Empty) (*HealthResponse, error) {
	s.mu.RLock()
	started := s.startTime
	s.mu.RUnlock()
	return health(s.pool, started), nil
}

// statusError converts err to a status and attaches stage details as trailers.
func (s *GatewayServer) statusError(ctx context.Context, err error) error {
	body := NewErrorBody(err)

	md := metadata.Pairs(TrailerKind, string(body.Kind))
	if body.Stage != "" {
		md.Append(TrailerStage, body.Stage)
		md.Append(TrailerWorkflowID, body.WorkflowID)
		md.Append(TrailerDestination, body.Destination)
		md.Append(TrailerSubmitted, strconv.FormatBool(body.Submitted))
	}
	if body.Hash != "" {
		md.Append(TrailerHash, body.Hash)
	}
	if terr := grpc.SetTrailer(ctx, md); terr != nil {
		s.log.Debug("failed to set trailer", zap.Error(terr))
	}

	if body.Kind == KindInternal {
		s.log.Error("grpc call failed", zap.Error(err))
	}
	return status.Error(body.Kind.GRPCCode(), body.Error)
}

func (s *GatewayServer) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), time.Since(start))
	}
	return resp, err
}

// unaryHandler adapts a typed method to grpc.MethodHandler.
func unaryHandler[Req, Resp any](method string, call func(*GatewayServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	full := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "failed to decode request: %v", err)
		}
		s := srv.(*GatewayServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		})
	}
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetLatestLedger", Handler: unaryHandler("GetLatestLedger", (*GatewayServer).GetLatestLedger)},
		{MethodName: "CreateAccount", Handler: unaryHandler("CreateAccount", (*GatewayServer).CreateAccount)},
		{MethodName: "GetTransaction", Handler: unaryHandler("GetTransaction", (*GatewayServer).GetTransaction)},
		{MethodName: "GetFriendbotUrl", Handler: unaryHandler("GetFriendbotUrl", (*GatewayServer).GetFriendbotUrl)},
		{MethodName: "HealthCheck", Handler: unaryHandler("HealthCheck", (*GatewayServer).HealthCheck)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stellargateway/v1/gateway.proto",
}
