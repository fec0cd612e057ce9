package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(_ context.Context, _ map[string]any) (any, error) { return nil, nil }

// -------------------- Registration --------------------

func TestRegister_Validation(t *testing.T) {
	r := NewRegistry()

	err := r.Register("", "desc", nil, noop)
	assert.ErrorIs(t, err, ErrInvalidToolName)

	err = r.Register("   ", "desc", nil, noop)
	assert.ErrorIs(t, err, ErrInvalidToolName)

	err = r.Register("thing", "desc", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidHandler)
}

func TestRegister_DefinitionsInsertionOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("alpha", "", nil, noop))
	require.NoError(t, r.Register("beta", "", nil, noop))

	var names []string
	for _, d := range r.Definitions() {
		names = append(names, d.Function.Name)
	}
	// Built-ins first, then registration order.
	assert.Equal(t, []string{"ping", "echo", "alpha", "beta"}, names)

	// Defaults applied.
	defs := r.Definitions()
	alpha := defs[2]
	assert.Equal(t, "function", alpha.Type)
	assert.Equal(t, `Tool "alpha"`, alpha.Function.Description)
	assert.Equal(t, "object", alpha.Function.Parameters["type"])
}

func TestRegister_OverwriteKeepsPosition(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("alpha", "first", nil, noop))
	require.NoError(t, r.Register("beta", "", nil, noop))
	require.NoError(t, r.Register("alpha", "second", nil, func(_ context.Context, _ map[string]any) (any, error) {
		return "v2", nil
	}))

	defs := r.Definitions()
	assert.Equal(t, "alpha", defs[2].Function.Name)
	assert.Equal(t, "second", defs[2].Function.Description)

	result := r.Execute(context.Background(), "alpha", "")
	assert.Equal(t, map[string]any{"output": "v2"}, result)
}

// -------------------- Execution --------------------

func TestExecute_UnknownTool(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), "nope", "{}")
	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, m["error"], `No handler registered for tool "nope"`)
}

func TestExecute_MissingName(t *testing.T) {
	r := NewRegistry()
	m := r.Execute(context.Background(), "", "{}").(map[string]any)
	assert.Contains(t, m["error"], "missing a function name")
}

func TestExecute_BadArguments(t *testing.T) {
	r := NewRegistry()
	m := r.Execute(context.Background(), "echo", "{not json").(map[string]any)
	assert.Contains(t, m["error"], "Failed to parse arguments")
	assert.NotEmpty(t, m["details"])
}

func TestExecute_ResultWrapping(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	require.NoError(t, r.Register("str", "", nil, func(_ context.Context, _ map[string]any) (any, error) {
		return "hello", nil
	}))
	require.NoError(t, r.Register("bin", "", nil, func(_ context.Context, _ map[string]any) (any, error) {
		return []byte{0x01, 0x02}, nil
	}))
	require.NoError(t, r.Register("none", "", nil, noop))
	require.NoError(t, r.Register("obj", "", nil, func(_ context.Context, _ map[string]any) (any, error) {
		return map[string]any{"success": true}, nil
	}))

	assert.Equal(t, map[string]any{"output": "hello"}, r.Execute(ctx, "str", ""))
	assert.Equal(t, map[string]any{"output": "AQI=", "encoding": "base64"}, r.Execute(ctx, "bin", ""))
	assert.Equal(t, map[string]any{"output": nil}, r.Execute(ctx, "none", ""))
	assert.Equal(t, map[string]any{"success": true}, r.Execute(ctx, "obj", ""))
}

func TestExecute_HandlerError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("boom", "", nil, func(_ context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("db unavailable")
	}))

	m := r.Execute(context.Background(), "boom", "").(map[string]any)
	assert.Contains(t, m["error"], `Tool "boom" execution failed`)
	assert.Equal(t, "db unavailable", m["details"])
}

func TestExecute_HandlerPanic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("panic", "", nil, func(_ context.Context, _ map[string]any) (any, error) {
		panic("bad index")
	}))

	m := r.Execute(context.Background(), "panic", "").(map[string]any)
	assert.Contains(t, m["error"], "execution failed")
	assert.Contains(t, m["details"], "bad index")
}

func TestExecute_ArgumentsDecoded(t *testing.T) {
	r := NewRegistry()
	m := r.Execute(context.Background(), "echo", `{"payload":"hi","n":2}`).(map[string]any)
	assert.Equal(t, "hi", m["payload"])
	assert.EqualValues(t, 2, m["n"])
}

func TestBuiltins_Ping(t *testing.T) {
	r := NewRegistry()
	m := r.Execute(context.Background(), "ping", "").(map[string]any)
	assert.Equal(t, "ok", m["status"])
	assert.NotZero(t, m["timestamp"])
}
