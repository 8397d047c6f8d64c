package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/viant/jsonrpc"
	"go.uber.org/zap"
)

// JSON-RPC method names.
const (
	MethodGetLatestLedger = "getLatestLedger"
	MethodCreateAccount   = "createAccount"
	MethodGetTransaction  = "getTransaction"
	MethodGetFriendbotURL = "getFriendbotUrl"
)

// maxRPCBody bounds a JSON-RPC request body.
const maxRPCBody = 1 << 20

// JSONRPCHandler dispatches JSON-RPC 2.0 requests onto a Gateway.
type JSONRPCHandler struct {
	gw      Gateway
	limiter *RateLimiter
	metrics *Metrics
	log     *zap.Logger
}

// NewJSONRPCHandler creates a handler. limiter and metrics may be nil.
func NewJSONRPCHandler(gw Gateway, limiter *RateLimiter, metrics *Metrics, logger *zap.Logger) *JSONRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONRPCHandler{gw: gw, limiter: limiter, metrics: metrics, log: logger}
}

type clientKeyCtx struct{}

// ServeHTTP decodes one request envelope, serves it and writes the response envelope.
func (h *JSONRPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	request := &jsonrpc.Request{}
	response := &jsonrpc.Response{Jsonrpc: jsonrpc.Version}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRPCBody)).Decode(request); err != nil {
		response.Error = jsonrpc.NewParsingError(fmt.Sprintf("failed to parse request: %v", err), nil)
		writeJSON(w, http.StatusOK, response)
		return
	}
	response.Id = request.Id

	ctx := context.WithValue(r.Context(), clientKeyCtx{}, ClientKey(r))
	h.Serve(ctx, request, response)
	writeJSON(w, http.StatusOK, response)
}

// Serve handles one decoded request.
func (h *JSONRPCHandler) Serve(ctx context.Context, request *jsonrpc.Request, response *jsonrpc.Response) {
	response.Jsonrpc = jsonrpc.Version
	response.Id = request.Id

	if jsonrpc.Version != request.Jsonrpc {
		response.Error = jsonrpc.NewInvalidRequest("invalid JSON-RPC version", nil)
		return
	}

	var (
		result any
		err    error
	)
	switch request.Method {
	case MethodGetLatestLedger:
		result, err = h.gw.GetLatestLedger(ctx)
	case MethodCreateAccount:
		key, _ := ctx.Value(clientKeyCtx{}).(string)
		if !h.limiter.Allow(key, time.Now()) {
			if h.metrics != nil {
				h.metrics.RecordRateLimited("jsonrpc")
			}
			err = ErrRateLimited
			break
		}
		result, err = h.gw.CreateAccount(ctx)
	case MethodGetTransaction:
		params := GetTransactionRequest{}
		if len(request.Params) > 0 {
			if perr := json.Unmarshal(request.Params, &params); perr != nil {
				response.Error = jsonrpc.NewError(jsonrpc.InvalidParams, fmt.Sprintf("invalid params: %v", perr), nil)
				return
			}
		}
		result, err = h.gw.GetTransaction(ctx, params.Hash)
	case MethodGetFriendbotURL:
		var url string
		url, err = h.gw.GetFriendbotURL(ctx)
		result = FriendbotResponse{URL: url}
	default:
		response.Error = jsonrpc.NewMethodNotFound(fmt.Sprintf("method: %v not found", request.Method), request.Params)
		return
	}

	if err != nil {
		body := NewErrorBody(err)
		if body.Kind == KindInternal {
			h.log.Error("json-rpc call failed", zap.String("method", request.Method), zap.Error(err))
		}
		response.Error = jsonrpc.NewError(body.Kind.JSONRPCCode(), body.Error, body)
		return
	}

	data, merr := json.Marshal(result)
	if merr != nil {
		response.Error = jsonrpc.NewInternalError(merr.Error(), nil)
		return
	}
	response.Result = data
}
