package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lakeplane/internal/tools"
)

const (
	mcpProtocolVersion = "2024-11-05"
	maxRPCBody         = 1 << 20
)

// registerMCP mounts the JSON-RPC agent endpoint. Protocol failures are
// JSON-RPC errors; a tool that fails still yields a result with isError set.
func registerMCP(r chi.Router, basePath string, svc *tools.Service, logger *zap.Logger) {
	r.Post(routePath(basePath, "mcp"), func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxRPCBody))
		if err != nil {
			writeRPC(w, rpcResponse{Error: &rpcError{Code: rpcParseError, Message: "read body: " + err.Error()}})
			return
		}
		var msg rpcRequest
		if err := json.Unmarshal(body, &msg); err != nil {
			writeRPC(w, rpcResponse{Error: &rpcError{Code: rpcParseError, Message: "parse error"}})
			return
		}
		if msg.JSONRPC != "2.0" || msg.Method == "" {
			writeRPC(w, rpcResponse{ID: msg.ID, Error: &rpcError{Code: rpcInvalidRequest, Message: "invalid request"}})
			return
		}
		// Notifications carry no id and get no response body.
		if len(msg.ID) == 0 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		log := logger.With(zap.String("method", msg.Method))
		if p, ok := principalFromContext(req.Context()); ok {
			log = log.With(zap.String("subject", p.Subject))
		}
		result, rpcErr := dispatchRPC(req.Context(), svc, msg)
		if rpcErr != nil {
			log.Debug("rpc error", zap.Int("code", rpcErr.Code), zap.String("message", rpcErr.Message))
		}
		writeRPC(w, rpcResponse{ID: msg.ID, Result: result, Error: rpcErr})
	})
}

func dispatchRPC(ctx context.Context, svc *tools.Service, msg rpcRequest) (any, *rpcError) {
	switch msg.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": mcpProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]string{"name": "lakeplane", "version": Version},
		}, nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		descs := svc.Descriptors()
		list := make([]rpcTool, 0, len(descs))
		for _, d := range descs {
			list = append(list, rpcTool{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema()})
		}
		return map[string]any{"tools": list}, nil
	case "tools/call":
		var call rpcToolCall
		if len(msg.Params) == 0 {
			return nil, &rpcError{Code: rpcInvalidParams, Message: "params required"}
		}
		if err := json.Unmarshal(msg.Params, &call); err != nil {
			return nil, &rpcError{Code: rpcInvalidParams, Message: "invalid params: " + err.Error()}
		}
		env, err := svc.Call(ctx, call.Name, call.Arguments)
		if errors.Is(err, tools.ErrUnknownTool) {
			return nil, &rpcError{Code: rpcInvalidParams, Message: err.Error()}
		}
		if err != nil {
			return nil, &rpcError{Code: rpcInternalError, Message: err.Error()}
		}
		return toolResult(env), nil
	default:
		return nil, &rpcError{Code: rpcMethodNotFound, Message: fmt.Sprintf("method not found: %s", msg.Method)}
	}
}

func toolResult(env tools.Envelope) rpcToolResult {
	text, err := json.Marshal(env)
	if err != nil {
		text = []byte(`{"error":"encode result"}`)
	}
	_, failed := env.Err()
	return rpcToolResult{
		Content:           []rpcContent{{Type: "text", Text: string(text)}},
		StructuredContent: env,
		IsError:           failed,
	}
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	resp.JSONRPC = "2.0"
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
