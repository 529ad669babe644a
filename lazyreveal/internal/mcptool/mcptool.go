// Package mcptool registers typed handlers as MCP tools. Arguments are
// decoded from JSON, handler errors become tool errors, and results are
// returned as a JSON text content.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler is the tool body. In is decoded from the call arguments.
type Handler[In any] func(ctx context.Context, in In) (any, error)

// Register adds h as tool on srv.
func Register[In any](srv *mcp.Server, tool *mcp.Tool, h Handler[In]) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in In
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
				return errorResult(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}

		resp, err := h(ctx, in)
		if err != nil {
			return errorResult(errors.New(err.Error())), nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			return errorResult(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func errorResult(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// Schema builds a JSON Schema object with type "object".
func Schema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
