// Package logx configures paced's infrastructure logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// Library code (pkg/pacer) takes a *slog.Logger instead; logx is for the
// daemon's own plumbing (config manager, history store, main).
package logx
