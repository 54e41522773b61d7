// Package logging provides the business log facade for applications using
// Beacon.
//
// # Overview
//
// The logging package wraps Go's log/slog to provide:
//   - A runtime adjustable minimum level
//   - Redaction of messages and string fields with the live sensitive keys
//   - Fan-out to the console (text or JSON) and to a durable logstore.Engine,
//     each switchable at runtime
//   - Per-area tags for file lines
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:         "info",
//	    Console:       true,
//	    File:          true,
//	    Engine:        engine,
//	    SensitiveKeys: []string{"token", "phone"},
//	})
//
//	net := logger.Named("net")
//	net.Info("login ok", "token", "abc123456")  // token=ab*****56
//
// Apply pushes a reloaded configuration into an existing logger and every
// logger derived from it.
//
// This logger is for application output. Beacon's own diagnostics go to
// slog.Default so they never mix with business lines.
package logging
