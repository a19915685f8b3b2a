package rpc

import (
	"encoding/json"
	"net/http"
)

const (
	jsonRPCVersion = "2.0"
	// MethodPrefix namespaces every JSON-RPC method name.
	MethodPrefix = "lend_"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeDuplicateCall  = -32010
	codeRateLimited    = -32020
	codeLendingError   = -32050
	codeDomainError    = -32051
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id,omitempty"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// LendingErrorData is attached to engine rejections so clients can branch on
// the numeric code.
type LendingErrorData struct {
	Code uint32 `json:"code"`
	Name string `json:"name"`
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, rpcErr *RPCError) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: idOrNull(id), Error: rpcErr}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	if result == nil {
		result = struct{}{}
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: idOrNull(id), Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}
