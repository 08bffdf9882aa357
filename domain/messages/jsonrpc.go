package messages

import (
	"encoding/json"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"sync/atomic"
	"time"
)

// ids start from the current time in microseconds so that they keep
// increasing across restarts of the same client
var lastID = time.Now().UnixMilli() * 1000

// NextID returns a monotonically increasing json-rpc request id
func NextID() int64 {
	return atomic.AddInt64(&lastID, 1)
}

type Request struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func NewRequest(method string, params interface{}) (Request, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf(`marshalling %s params failed - %w`, method, err)
	}

	return Request{ID: NextID(), JSONRPC: domain.JSONRPCVersion, Method: method, Params: data}, nil
}

func (r Request) ParamsAs(v interface{}) error {
	if err := json.Unmarshal(r.Params, v); err != nil {
		return fmt.Errorf(`unmarshalling %s params failed - %w`, r.Method, err)
	}
	return nil
}

type Response struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func NewResult(id int64, result interface{}) (Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf(`marshalling result failed - %w`, err)
	}

	return Response{ID: id, JSONRPC: domain.JSONRPCVersion, Result: data}, nil
}

// NewSuccess acknowledges a request with a boolean true result
func NewSuccess(id int64) Response {
	return Response{ID: id, JSONRPC: domain.JSONRPCVersion, Result: json.RawMessage(`true`)}
}

func NewError(id int64, reason domain.Reason) Response {
	return Response{
		ID:      id,
		JSONRPC: domain.JSONRPCVersion,
		Error:   &RPCError{Code: reason.Code, Message: reason.Message},
	}
}

func (r Response) ResultAs(v interface{}) error {
	if r.Error != nil {
		return r.Error
	}

	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf(`unmarshalling result failed - %w`, err)
	}
	return nil
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf(`json-rpc error %d - %s`, e.Code, e.Message)
}

func (e *RPCError) Reason() domain.Reason {
	return domain.Reason{Code: e.Code, Message: e.Message}
}

// Frame is the superset of requests and responses used to tell them apart
// when reading an inbound payload
type Frame struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf(`unmarshalling json-rpc frame failed - %w`, err)
	}

	if f.ID == 0 {
		return Frame{}, fmt.Errorf(`json-rpc frame without an id`)
	}
	return f, nil
}

func (f Frame) IsRequest() bool {
	return f.Method != ``
}

func (f Frame) Request() Request {
	return Request{ID: f.ID, JSONRPC: f.JSONRPC, Method: f.Method, Params: f.Params}
}

func (f Frame) Response() Response {
	return Response{ID: f.ID, JSONRPC: f.JSONRPC, Result: f.Result, Error: f.Error}
}
