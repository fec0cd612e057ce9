package checklist

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/voiceline/checkgate/tool"
)

// Tool names the orchestration layer dispatches on when synchronizing
// session memory after execution.
const (
	// ToolUpdateStatus updates one checklist item's status and recommendation.
	ToolUpdateStatus = "update_checklist_item_status"
	// ToolReset returns the whole checklist to pending.
	ToolReset = "reset_checklist"
)

// Registrar is the subset of tool.Registry needed to install the domain tools.
type Registrar interface {
	Register(name, description string, parameters map[string]any, h tool.Handler) error
}

// RegisterTools installs the checklist domain tools on the registry. onReset,
// when non-nil, runs after a reset so related state (session memories) can be
// invalidated alongside the checklist.
func RegisterTools(reg Registrar, store *Store, onReset func()) error {
	if err := reg.Register(
		ToolUpdateStatus,
		"Update the status and notes for a checklist entry. Use when the user confirms progress or completion for a specific item.",
		updateStatusParameters(),
		func(_ context.Context, args map[string]any) (any, error) {
			return updateStatus(store, args), nil
		},
	); err != nil {
		return fmt.Errorf("register %s: %w", ToolUpdateStatus, err)
	}

	if err := reg.Register(
		ToolReset,
		"Reset all checklist items back to a pending state. Use at the start of a new review session.",
		nil,
		func(_ context.Context, _ map[string]any) (any, error) {
			store.Reset()
			if onReset != nil {
				onReset()
			}
			return map[string]any{"success": true, "items": store.Snapshot().Items}, nil
		},
	); err != nil {
		return fmt.Errorf("register %s: %w", ToolReset, err)
	}

	return nil
}

func updateStatusParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"item_id": map[string]any{
				"type":        "string",
				"description": `Optional unique identifier of the checklist item (e.g., "item-1").`,
			},
			"item_number": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": "Optional 1-based index of the checklist item (e.g., 1 for the first item).",
			},
			"item_name": map[string]any{
				"type":        "string",
				"description": "Optional free-form name or fragment of the checklist question to help locate the item.",
			},
			"status": map[string]any{
				"type":        "string",
				"enum":        []any{"pending", "complete", "pass", "fail", "warning"},
				"description": `New status for the item. "complete" indicates the task is done. "pending" reopens it.`,
			},
			"recommendation": map[string]any{
				"type":        "string",
				"description": "Optional follow-up recommendation or summary to attach to the item for the human reviewer.",
			},
			"note": map[string]any{
				"type":        "string",
				"description": "Optional short note explaining the status update.",
			},
		},
		"required":             []any{"status"},
		"additionalProperties": false,
	}
}

func updateStatus(store *Store, args map[string]any) any {
	loc := LocatorFromArgs(args)
	if _, ok := store.Find(loc); !ok {
		return map[string]any{
			"error": "Unable to locate checklist item. Provide an item_id or item_number matching the checklist.",
		}
	}

	status, ok := NormalizeStatus(stringArg(args, "status"))
	if !ok {
		return map[string]any{
			"error": `Invalid status. Use one of: pending, complete, fail, warning. "pass" is treated as complete.`,
		}
	}

	var recommendation *string
	if rec, present := args["recommendation"].(string); present {
		recommendation = &rec
	} else if note, present := args["note"].(string); present {
		recommendation = &note
	}

	item, previous, ok := store.Update(loc, status, recommendation)
	if !ok {
		return map[string]any{
			"error": "Unable to locate checklist item. Provide an item_id or item_number matching the checklist.",
		}
	}

	return map[string]any{
		"success":        true,
		"item":           item,
		"previousStatus": previous,
		"newStatus":      item.Status,
	}
}

// LocatorFromArgs extracts a Locator from decoded tool arguments, tolerating
// the numeric and string shapes models produce for item_number.
func LocatorFromArgs(args map[string]any) Locator {
	loc := Locator{
		ID:   stringArg(args, "item_id"),
		Name: stringArg(args, "item_name"),
	}
	switch n := args["item_number"].(type) {
	case float64:
		loc.Number = int64(n)
	case int:
		loc.Number = int64(n)
	case int64:
		loc.Number = n
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			loc.Number = parsed
		}
	}
	return loc
}

// stringArg returns a trimmed string rendering of the argument. Non-string
// scalars are stringified the way the status normalizer expects.
func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
