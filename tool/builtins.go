package tool

import (
	"context"
	"time"
)

// registerBuiltins installs the two always-present smoke-test tools.
func registerBuiltins(r *Registry) {
	_ = r.Register(
		"ping",
		"Health check utility. Returns status ok and the current timestamp to confirm tool execution.",
		nil,
		func(_ context.Context, _ map[string]any) (any, error) {
			return map[string]any{"status": "ok", "timestamp": time.Now().UnixMilli()}, nil
		},
	)

	_ = r.Register(
		"echo",
		"Returns the provided arguments unchanged. Useful for debugging tool invocation payloads.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"payload": map[string]any{
					"description": "Any JSON-serializable value to echo back.",
					"anyOf": []any{
						map[string]any{"type": "object"},
						map[string]any{"type": "string"},
						map[string]any{"type": "number"},
						map[string]any{"type": "boolean"},
						map[string]any{"type": "null"},
						map[string]any{"type": "array", "items": map[string]any{}},
					},
				},
			},
			"additionalProperties": true,
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	)
}
