package rpc

import (
	"errors"
	"net/http"

	"p2plend/core"
	nativecommon "p2plend/native/common"
	"p2plend/native/lending"
	"p2plend/native/oracle"
	"p2plend/native/token"
	"p2plend/rpc/middleware"
)

var (
	ErrMethodNotFound = errors.New("rpc: method not found")
	ErrInvalidParams  = errors.New("rpc: invalid params")
)

// domainErrors are rejections from the reference token and oracle modules
// that carry no lending code but are still the caller's fault.
var domainErrors = []error{
	token.ErrUnknownToken,
	token.ErrTokenExists,
	token.ErrNotMinter,
	token.ErrInvalidAmount,
	token.ErrInvalidMetadata,
	token.ErrBalanceOverflow,
	oracle.ErrNotInitialized,
	oracle.ErrAlreadyInitialized,
	oracle.ErrUnauthorized,
	oracle.ErrInvalidPrice,
	oracle.ErrInvalidAsset,
	oracle.ErrOutOfOrder,
}

// classify maps err onto an HTTP status and a JSON-RPC error object.
func classify(err error) (int, *RPCError) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return http.StatusBadRequest, rpcErr
	}
	if code, ok := lending.CodeOf(err); ok {
		status := http.StatusBadRequest
		if code == lending.ErrContractPaused.Code || code == lending.ErrReentrant.Code {
			status = http.StatusConflict
		}
		name := "Unknown"
		if canonical, ok := lending.ErrorByCode(code); ok {
			name = canonical.Name
		}
		return status, &RPCError{Code: codeLendingError, Message: err.Error(), Data: LendingErrorData{Code: code, Name: name}}
	}
	switch {
	case errors.Is(err, ErrMethodNotFound):
		return http.StatusNotFound, &RPCError{Code: codeMethodNotFound, Message: err.Error()}
	case errors.Is(err, ErrInvalidParams):
		return http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, ErrReplayedEnvelope):
		return http.StatusConflict, &RPCError{Code: codeDuplicateCall, Message: err.Error()}
	case errors.Is(err, ErrInvalidEnvelope), errors.Is(err, ErrSignerMismatch),
		errors.Is(err, middleware.ErrMissingToken), errors.Is(err, middleware.ErrInvalidToken),
		errors.Is(err, middleware.ErrAuthDisabled):
		return http.StatusUnauthorized, &RPCError{Code: codeUnauthorized, Message: err.Error()}
	case errors.Is(err, middleware.ErrInsufficientScope):
		return http.StatusForbidden, &RPCError{Code: codeUnauthorized, Message: err.Error()}
	case errors.Is(err, core.ErrQuotaExceeded):
		return http.StatusTooManyRequests, &RPCError{Code: codeRateLimited, Message: err.Error()}
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusConflict, &RPCError{Code: codeDomainError, Message: err.Error()}
	}
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return http.StatusBadRequest, &RPCError{Code: codeDomainError, Message: err.Error()}
		}
	}
	return http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: "internal error"}
}
