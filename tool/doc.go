// Package tool implements the function / tool calling subsystem that lets the
// model invoke structured capabilities with schema described arguments and
// consistent, structured error results.
//
// Tools are held in a Registry keyed by name. Tool definitions (name,
// description, JSON schema) are exposed for inclusion in provider-facing tool
// lists; handlers are executed by name with the model supplied argument text.
// Execution never fails hard: unknown tools, malformed arguments and handler
// errors all surface as structured result values that are fed back to the
// model as tool output, letting it recover conversationally.
package tool
