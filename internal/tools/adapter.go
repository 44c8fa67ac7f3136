package tools

import "context"

// Adapter is the contract every transport (http, cli, mcp_stdio)
// implements. Execute enforces timeout itself; a caller-cancelled ctx
// always takes precedence.
type Adapter interface {
	AdapterType() AdapterType
	Execute(ctx context.Context, cfg ToolConfig, action string, params map[string]any, timeout float64) ToolResult
	IsAvailable(ctx context.Context, cfg ToolConfig) bool
	HealthCheck(ctx context.Context) bool
}

func startResult(toolID, action string, adapterType AdapterType) ToolResult {
	return ToolResult{ToolID: toolID, Action: action, AdapterType: adapterType}
}
