package api

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/VanDung-dev/stellar-gateway/engine"
	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// ErrRateLimited is returned when a client exceeds its account creation budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrorKind classifies an error for every delivery surface.
type ErrorKind string

const (
	KindTimeout             ErrorKind = "timeout"
	KindPoolCapacity        ErrorKind = "pool_capacity_exceeded"
	KindRemoteCall          ErrorKind = "remote_call_failure"
	KindPreconditionInvalid ErrorKind = "precondition_invalid"
	KindInvalidArgument     ErrorKind = "invalid_argument"
	KindSigning             ErrorKind = "signing_failure"
	KindRateLimited         ErrorKind = "rate_limited"
	KindUnavailable         ErrorKind = "unavailable"
	KindInternal            ErrorKind = "internal"
)

// JSON-RPC error codes in the implementation defined server error range.
const (
	CodeTimeout             = -32001
	CodePoolCapacity        = -32002
	CodeRemoteCall          = -32003
	CodePreconditionInvalid = -32004
	CodeSigning             = -32005
	CodeUnavailable         = -32006
	CodeRateLimited         = -32029
	CodeInvalidParams       = -32602
	CodeInternal            = -32603
)

// Classify maps err to its kind. Local validation wins over transport
// failures so a stage error reports its root cause.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, gateway.ErrInvalidHash):
		return KindInvalidArgument
	case errors.Is(err, gateway.ErrPreconditionInvalid):
		return KindPreconditionInvalid
	case errors.Is(err, gateway.ErrSigning):
		return KindSigning
	case errors.Is(err, engine.ErrTimeout):
		return KindTimeout
	case errors.Is(err, engine.ErrPoolCapacityExceeded):
		return KindPoolCapacity
	case errors.Is(err, engine.ErrPoolClosed), errors.Is(err, gateway.ErrShuttingDown):
		return KindUnavailable
	case engine.IsRemoteCallFailure(err):
		return KindRemoteCall
	default:
		return KindInternal
	}
}

// HTTPStatus returns the response status for kind.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindPoolCapacity, KindUnavailable:
		return http.StatusServiceUnavailable
	case KindRemoteCall:
		return http.StatusBadGateway
	case KindPreconditionInvalid, KindInvalidArgument:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode returns the status code for kind.
func (k ErrorKind) GRPCCode() codes.Code {
	switch k {
	case KindTimeout:
		return codes.DeadlineExceeded
	case KindPoolCapacity, KindRateLimited:
		return codes.ResourceExhausted
	case KindRemoteCall, KindUnavailable:
		return codes.Unavailable
	case KindInvalidArgument:
		return codes.InvalidArgument
	case KindPreconditionInvalid:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// JSONRPCCode returns the JSON-RPC error code for kind.
func (k ErrorKind) JSONRPCCode() int {
	switch k {
	case KindTimeout:
		return CodeTimeout
	case KindPoolCapacity:
		return CodePoolCapacity
	case KindRemoteCall:
		return CodeRemoteCall
	case KindPreconditionInvalid:
		return CodePreconditionInvalid
	case KindInvalidArgument:
		return CodeInvalidParams
	case KindSigning:
		return CodeSigning
	case KindUnavailable:
		return CodeUnavailable
	case KindRateLimited:
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// ErrorBody is the failure payload shared by REST and JSON-RPC. Stage and
// Hash tell the caller how far an account creation got before failing.
type ErrorBody struct {
	Error       string    `json:"error"`
	Kind        ErrorKind `json:"kind"`
	Stage       string    `json:"stage,omitempty"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	Submitted   bool      `json:"submitted,omitempty"`
}

// NewErrorBody describes err.
func NewErrorBody(err error) ErrorBody {
	body := ErrorBody{Error: err.Error(), Kind: Classify(err)}

	var se *gateway.StageError
	if errors.As(err, &se) {
		body.Stage = string(se.Stage)
		body.WorkflowID = se.WorkflowID
		body.Destination = se.Destination
		body.Hash = se.Hash
		body.Submitted = se.Submitted()
	}
	return body
}
