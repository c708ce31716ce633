package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	rpcCodeParseError     = -32700
	rpcCodeInvalidRequest = -32600
	rpcCodeMethodNotFound = -32601
	rpcCodeInvalidParams  = -32602
	rpcCodeInternalError  = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether the request carries no id and so expects
// no response.
func (r rpcRequest) isNotification() bool {
	return len(r.ID) == 0
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
	Capabilities struct {
		Tools struct {
			ListChanged bool `json:"listChanged"`
		} `json:"tools"`
	} `json:"capabilities"`
}

type listToolsResult struct {
	Tools []toolDescriptor `json:"tools"`
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

var nullID = json.RawMessage("null")

func newInitializeResult(version string) initializeResult {
	result := initializeResult{ProtocolVersion: defaultProtocolVersion}
	result.ServerInfo.Name = defaultServerName
	result.ServerInfo.Version = strings.TrimSpace(version)
	result.Capabilities.Tools.ListChanged = false
	return result
}

func describeTools(tools []ToolSpec) listToolsResult {
	items := make([]toolDescriptor, 0, len(tools))
	for _, tool := range tools {
		items = append(items, toolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return listToolsResult{Tools: items}
}

// rpcErrorFromCall maps a refused call onto a JSON-RPC error. Scope
// rejections and policy gate failures are both invalid params.
func rpcErrorFromCall(err error) *rpcError {
	var notFound *ToolNotFoundError
	var gate *GateError
	switch {
	case errors.As(err, &notFound), errors.As(err, &gate):
		return &rpcError{Code: rpcCodeInvalidParams, Message: err.Error()}
	default:
		return &rpcError{Code: rpcCodeInternalError, Message: err.Error()}
	}
}

// rpcDispatcher answers JSON-RPC requests through a ToolGateway.
type rpcDispatcher struct {
	gateway *ToolGateway
	version string
}

// parseRPC decodes one JSON-RPC message. A nil request with a response means
// the payload could not be used.
func parseRPC(payload []byte) (*rpcRequest, *rpcResponse) {
	var req rpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &rpcResponse{
			JSONRPC: "2.0",
			ID:      nullID,
			Error: &rpcError{
				Code:    rpcCodeParseError,
				Message: fmt.Sprintf("invalid json-rpc payload: %v", err),
			},
		}
	}
	return &req, nil
}

// handle answers one request. It returns nil for notifications.
func (d *rpcDispatcher) handle(ctx context.Context, req rpcRequest, rc RequestContext) *rpcResponse {
	response := &rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
	}

	if strings.TrimSpace(req.JSONRPC) != "2.0" {
		response.Error = &rpcError{
			Code:    rpcCodeInvalidRequest,
			Message: "jsonrpc must be 2.0",
		}
		return d.reply(req, response)
	}

	method := strings.TrimSpace(req.Method)
	if strings.HasPrefix(method, "notifications/") {
		return nil
	}

	switch method {
	case "initialize":
		response.Result = newInitializeResult(d.version)

	case "ping":
		response.Result = struct{}{}

	case "tools/list":
		response.Result = describeTools(d.gateway.ListTools(rc))

	case "tools/call":
		if len(req.Params) == 0 {
			response.Error = &rpcError{
				Code:    rpcCodeInvalidParams,
				Message: "missing params",
			}
			break
		}
		var params callToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			response.Error = &rpcError{
				Code:    rpcCodeInvalidParams,
				Message: fmt.Sprintf("invalid tools/call params: %v", err),
			}
			break
		}
		result, err := d.gateway.CallTool(ctx, rc, params.Name, params.Arguments)
		if err != nil {
			response.Error = rpcErrorFromCall(err)
			break
		}
		response.Result = result

	default:
		response.Error = &rpcError{
			Code:    rpcCodeMethodNotFound,
			Message: fmt.Sprintf("unknown method: %s", method),
		}
	}

	return d.reply(req, response)
}

func (d *rpcDispatcher) reply(req rpcRequest, response *rpcResponse) *rpcResponse {
	if req.isNotification() {
		return nil
	}
	return response
}
