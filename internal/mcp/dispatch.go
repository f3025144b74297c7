// Package mcp implements the JSON-RPC 2.0 dispatch layer for the Model
// Context Protocol surface: method routing, envelope validation, and the
// static tool/prompt registry.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/wyntrades-ai/defi-yields-mcp/internal/cache"
	"github.com/wyntrades-ai/defi-yields-mcp/internal/query"
)

const (
	// ProtocolVersion is the MCP protocol revision this server speaks.
	ProtocolVersion = "2025-03-26"
	// ServerName and ServerVersion identify this server in initialize.
	ServerName    = "DeFi Yields MCP Server"
	ServerVersion = "0.1.0"
)

// JSON-RPC 2.0 error codes.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Method names accepted by the dispatcher. The switch in Dispatch is
// exhaustive over this set; anything else is CodeMethodNotFound.
const (
	MethodInitialize  = "initialize"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPromptsList = "prompts/list"
	MethodPromptsGet  = "prompts/get"
)

// Request is an inbound JSON-RPC 2.0 envelope. ID is kept raw so it is
// echoed back verbatim, null included.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound JSON-RPC 2.0 envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type promptGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// textContent is the MCP tool-result content item.
type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Dispatcher routes JSON-RPC requests to tool and prompt handlers.
type Dispatcher struct {
	cache  *cache.PoolCache
	logger *zap.Logger
}

// NewDispatcher builds a Dispatcher with its dependencies.
func NewDispatcher(poolCache *cache.PoolCache, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cache: poolCache, logger: logger}
}

// Dispatch validates the envelope, routes the method, and always returns a
// well-formed response. Handler panics are converted to internal errors so
// one bad request cannot take down the connection.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", zap.Any("panic", r), zap.String("method", req.Method))
			resp = d.errorResponse(req, CodeInternalError, "internal error")
		}
	}()

	if req.JSONRPC != "2.0" {
		return d.errorResponse(req, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	if req.Method == "" {
		return d.errorResponse(req, CodeInvalidRequest, "method is required")
	}
	if len(req.Params) > 0 && !isJSONObject(req.Params) {
		return d.errorResponse(req, CodeInvalidParams, "params must be an object")
	}

	switch req.Method {
	case MethodInitialize:
		return d.handleInitialize(req)
	case MethodToolsList:
		return d.resultResponse(req, map[string]interface{}{"tools": Tools()})
	case MethodToolsCall:
		return d.handleToolCall(ctx, req)
	case MethodPromptsList:
		return d.resultResponse(req, map[string]interface{}{"prompts": Prompts()})
	case MethodPromptsGet:
		return d.handlePromptGet(req)
	default:
		return d.errorResponse(req, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (d *Dispatcher) handleInitialize(req Request) Response {
	var params struct {
		ClientInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if len(req.Params) > 0 {
		// clientInfo is informational only; a malformed shape is ignored
		_ = json.Unmarshal(req.Params, &params)
	}
	d.logger.Info("mcp initialize",
		zap.String("client", params.ClientInfo.Name),
		zap.String("client_version", params.ClientInfo.Version),
	)

	return d.resultResponse(req, map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]interface{}{
			"tools":   map[string]interface{}{},
			"prompts": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    ServerName,
			"version": ServerVersion,
		},
	})
}

func (d *Dispatcher) handleToolCall(ctx context.Context, req Request) Response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return d.errorResponse(req, CodeInvalidParams, "invalid tools/call params")
	}
	if params.Name != ToolGetYieldPools {
		return d.errorResponse(req, CodeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name))
	}
	if len(params.Arguments) > 0 && !isJSONObject(params.Arguments) {
		return d.errorResponse(req, CodeInvalidParams, "tool arguments must be an object")
	}

	var criteria query.Criteria
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &criteria); err != nil {
			return d.errorResponse(req, CodeInvalidParams, "invalid tool arguments")
		}
	}

	ds, err := d.cache.Snapshot(ctx)
	if err != nil {
		d.logger.Error("tool call fetch failed", zap.Error(err))
		return d.errorResponse(req, CodeInternalError, fmt.Sprintf("fetch pools: %v", err))
	}

	pools := query.Apply(ds, criteria)
	text, err := json.MarshalIndent(pools, "", "  ")
	if err != nil {
		return d.errorResponse(req, CodeInternalError, "encode pools")
	}

	return d.resultResponse(req, map[string]interface{}{
		"content": []textContent{{Type: "text", Text: string(text)}},
	})
}

func (d *Dispatcher) handlePromptGet(req Request) Response {
	var params promptGetParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return d.errorResponse(req, CodeInvalidParams, "invalid prompts/get params")
	}

	text, err := RenderPrompt(params.Name, params.Arguments)
	if err != nil {
		return d.errorResponse(req, CodeInvalidParams, err.Error())
	}

	return d.resultResponse(req, map[string]interface{}{
		"description": text,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": map[string]string{"type": "text", "text": text},
			},
		},
	})
}

func (d *Dispatcher) resultResponse(req Request, result interface{}) Response {
	return Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (d *Dispatcher) errorResponse(req Request, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: code, Message: message}}
}

func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b == '{'
		}
	}
	return false
}
