// Package logging provides a minimal logging interface and adapters for the
// gateway.
//
// The Logger interface defines the structured logging methods (Debug, Info,
// Warn, Error) that the stores, streaming client and orchestrator use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.New(logging.Config{Level: logging.LogLevelDebug, Format: "text"})
//	gw, err := checkgate.New(func(o *checkgate.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal so callers can plug in
// any structured logger.
package logging
