package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/me/gobs/pkg/model"
)

// The control plane speaks JSON-RPC 2.0 over a plain TCP stream, one
// message per line. Connections are persistent; a client may issue any
// number of calls before closing.

// Standard JSON-RPC 2.0 error codes, plus the implementation-defined code
// used for daemon-level failures.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeApplication    = -32000
)

// Request is the JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC 2.0 error object. Daemon errors travel in Data so
// clients keep the structured code (NOT_FOUND, CONFLICT, ...).
type Error struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Data    *model.Error `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// SubmitResult carries the id assigned to a new job.
type SubmitResult struct {
	JobID int64 `json:"job_id"`
}

// JobParams addresses one job by id (remove, run).
type JobParams struct {
	JobID int64 `json:"job_id"`
}

// ListParams bounds a job listing; zero means no limit.
type ListParams struct {
	Limit int `json:"limit,omitempty"`
}

// SetConfigParams updates one runtime config key.
type SetConfigParams struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
