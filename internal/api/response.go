package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"OneChain-Portal/internal/auth"
	"OneChain-Portal/internal/chain"
	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/faucet"
	"OneChain-Portal/internal/plan"
	"OneChain-Portal/internal/storage/sqlstore"
	"OneChain-Portal/internal/task"
	"OneChain-Portal/internal/wallet"
)

// ErrorPayload 是错误响应中的 error 字段。
type ErrorPayload struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error  ErrorPayload `json:"error"`
	Result any          `json:"result,omitempty"`
}

var statusByCode = map[xerrors.Code]int{
	xerrors.CodeInvalidArgument:       http.StatusBadRequest,
	xerrors.CodeNotFound:              http.StatusNotFound,
	xerrors.CodeConflict:              http.StatusConflict,
	xerrors.CodeInitializationFailure: http.StatusServiceUnavailable,
	xerrors.CodeQueueFailure:          http.StatusServiceUnavailable,
	xerrors.CodeUpstreamFailure:       http.StatusBadGateway,
	xerrors.CodeTimeout:               http.StatusGatewayTimeout,

	auth.CodeUnauthenticated:  http.StatusUnauthorized,
	auth.CodePermissionDenied: http.StatusForbidden,

	plan.CodeMissingValue:        http.StatusBadRequest,
	plan.CodeUnresolvedReference: http.StatusBadRequest,
	plan.CodeBuilderRejected:     http.StatusBadRequest,
	plan.CodeInvalidPlan:         http.StatusBadRequest,
	plan.CodeUnknownPreset:       http.StatusNotFound,

	chain.CodeUnknownNetwork:    http.StatusBadRequest,
	chain.CodeRPCFailure:        http.StatusBadGateway,
	chain.CodeObjectUnavailable: http.StatusBadGateway,
	chain.CodeInsufficientGas:   http.StatusUnprocessableEntity,

	wallet.CodeNoWallet:        http.StatusServiceUnavailable,
	wallet.CodeNotConnected:    http.StatusConflict,
	wallet.CodeUnsupported:     http.StatusServiceUnavailable,
	wallet.CodeRejected:        http.StatusForbidden,
	wallet.CodeExecutionFailed: http.StatusUnprocessableEntity,
	wallet.CodeBridgeFailure:   http.StatusBadGateway,

	faucet.CodeFaucetFailure:     http.StatusBadGateway,
	faucet.CodeFaucetUnavailable: http.StatusServiceUnavailable,

	sqlstore.CodeRunNotFound: http.StatusNotFound,

	task.CodeJobNotFound:   http.StatusNotFound,
	task.CodeJobConflict:   http.StatusConflict,
	task.CodeJobValidation: http.StatusBadRequest,
	task.CodeJobPublish:    http.StatusServiceUnavailable,
}

func statusFor(err error) int {
	if status, ok := statusByCode[xerrors.CodeOf(err)]; ok {
		return status
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func payloadFor(err error) ErrorPayload {
	if e, ok := xerrors.From(err); ok {
		return ErrorPayload{
			Code:      string(e.Code()),
			Message:   err.Error(),
			Retryable: e.Retryable(),
			Metadata:  chainMetadata(err),
		}
	}
	return ErrorPayload{Code: string(xerrors.CodeUnknown), Message: err.Error()}
}

// chainMetadata 合并错误链上所有元数据，外层优先。
func chainMetadata(err error) map[string]string {
	var out map[string]string
	for ; err != nil; err = errors.Unwrap(err) {
		e, ok := err.(*xerrors.Error)
		if !ok {
			continue
		}
		for k, v := range e.Metadata() {
			if out == nil {
				out = make(map[string]string)
			}
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
	return out
}

func errorBody(code, message string) errorResponse {
	return errorResponse{Error: ErrorPayload{Code: code, Message: message}}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: payloadFor(err)})
}

// writeErrorWithResult 用于交易已上链但执行失败的情况，客户端仍需要摘要。
func writeErrorWithResult(w http.ResponseWriter, err error, result any) {
	writeJSON(w, statusFor(err), errorResponse{Error: payloadFor(err), Result: result})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}
