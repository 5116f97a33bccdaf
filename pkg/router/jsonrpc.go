package router

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// JSON-RPC 2.0 error codes (spec.md §6); codes below -32000 are reserved by
// the spec, -32000..-32099 are implementation-defined per the JSON-RPC spec.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Request is one JSON-RPC 2.0 call. A notification (no response expected)
// is distinguished by a nil/absent ID, per the notifications/initialized
// handshake spec.md §6 calls out explicitly.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether req carries no id and therefore must
// receive no response at all.
func (req Request) IsNotification() bool {
	return len(req.ID) == 0 || string(req.ID) == "null"
}

// Response is one JSON-RPC 2.0 reply. Result and Error are mutually
// exclusive; a notification never produces one.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func errorResponse(id json.RawMessage, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

func resultResponse(id json.RawMessage, result interface{}) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// toolsCallParams is the params shape for a tools/call request. Arguments
// may carry context, workspacePath, and background; they are passed to the
// tool unchanged, and the router decides sync/async from
// ShouldRunInBackground alone without reading background.
type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// initializeResult is the handshake payload tools/list callers expect
// before issuing notifications/initialized.
type initializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	ServerInfo      map[string]string      `json:"serverInfo"`
	Capabilities    map[string]interface{} `json:"capabilities"`
}

const protocolVersion = "2024-11-05"

// toolSchema is the declarative description a Registry.Register caller
// supplies; toMCP converts it into the mcp.Tool shape tools/list reports,
// matching the field access confirmed in the teacher's
// pkg/mcpclient/tool_convert.go (InputSchema.Type/.Properties/.Required).
type toolSchema struct {
	Name        string
	Description string
	Properties  map[string]interface{}
	Required    []string
}

// ToolSchema is the exported alias cmd/server uses to register tools from
// outside the package; toolSchema itself stays unexported so callers inside
// this package keep using the bare literal.
type ToolSchema = toolSchema

func (t toolSchema) toMCP() mcp.Tool {
	return mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: t.Properties,
			Required:   t.Required,
		},
	}
}

// HandleRequest dispatches one decoded JSON-RPC request to the matching
// method. Callers are responsible for recognizing IsNotification and
// withholding the response entirely in that case.
func (r *Router) HandleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      map[string]string{"name": "engine", "version": "1.0"},
			Capabilities:    map[string]interface{}{"tools": map[string]interface{}{}},
		})
	case "notifications/initialized":
		return Response{}
	case "tools/list":
		return resultResponse(req.ID, map[string]interface{}{"tools": r.toolCatalog()})
	case "tools/call":
		var params toolsCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, codeInvalidParams, "invalid tools/call params: "+err.Error())
		}
		if params.Name == "" {
			return errorResponse(req.ID, codeInvalidParams, "tools/call requires a tool name")
		}
		result, err := r.CallTool(ctx, params.Name, params.Arguments)
		if err != nil {
			return errorResponse(req.ID, codeInternalError, err.Error())
		}
		return resultResponse(req.ID, result)
	default:
		return errorResponse(req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
}
