package api

import (
	"context"

	"google.golang.org/grpc"

	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// GatewayClient calls stellargateway.v1.Gateway over an existing connection.
type GatewayClient struct {
	cc grpc.ClientConnInterface
}

// NewGatewayClient wraps cc. Every call is sent with the JSON content subtype.
func NewGatewayClient(cc grpc.ClientConnInterface) *GatewayClient {
	return &GatewayClient{cc: cc}
}

func (c *GatewayClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (c *GatewayClient) GetLatestLedger(ctx context.Context, opts ...grpc.CallOption) (*gateway.LedgerState, error) {
	out := new(gateway.LedgerState)
	if err := c.invoke(ctx, "GetLatestLedger", &Empty{}, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GatewayClient) CreateAccount(ctx context.Context, opts ...grpc.CallOption) (*gateway.AccountCreation, error) {
	out := new(gateway.AccountCreation)
	if err := c.invoke(ctx, "CreateAccount", &Empty{}, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GatewayClient) GetTransaction(ctx context.Context, hash string, opts ...grpc.CallOption) (*gateway.TransactionResult, error) {
	out := new(gateway.TransactionResult)
	if err := c.invoke(ctx, "GetTransaction", &GetTransactionRequest{Hash: hash}, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GatewayClient) GetFriendbotURL(ctx context.Context, opts ...grpc.CallOption) (string, error) {
	out := new(FriendbotResponse)
	if err := c.invoke(ctx, "GetFriendbotUrl", &Empty{}, out, opts); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *GatewayClient) HealthCheck(ctx context.Context, opts ...grpc.CallOption) (*HealthResponse, error) {
	out := new(HealthResponse)
	if err := c.invoke(ctx, "HealthCheck", &Empty{}, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
