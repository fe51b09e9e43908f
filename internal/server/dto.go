package server

import (
	"encoding/json"

	"lakeplane/internal/tools"
)

type HealthResponse struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

type ToolListResponse struct {
	Body struct {
		Tools []tools.Descriptor `json:"tools"`
	}
}

// CallToolRequest carries the tool name and its JSON object of arguments.
type CallToolRequest struct {
	Name    string `path:"name" example:"list_datasets"`
	RawBody []byte `contentType:"application/json"`
}

type CallToolResponse struct {
	Body tools.Envelope
}

// JSON-RPC 2.0 messages for the agent tool protocol.

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
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
	Data    any    `json:"data,omitempty"`
}

const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603
)

type rpcTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type rpcToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type rpcContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type rpcToolResult struct {
	Content           []rpcContent   `json:"content"`
	StructuredContent tools.Envelope `json:"structuredContent"`
	IsError           bool           `json:"isError"`
}
