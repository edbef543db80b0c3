// Package logger builds slog loggers with context extraction and optional Sentry reporting.
//
// A [ContextExtractor] pulls one attribute out of a context on every log call,
// which is how request and job identifiers end up on log lines without being
// threaded through every call site:
//
//	reqID := func(ctx context.Context) (slog.Attr, bool) {
//		if id := middleware.GetReqID(ctx); id != "" {
//			return slog.String("request_id", id), true
//		}
//		return slog.Attr{}, false
//	}
//
//	log := logger.New(logger.ParseLevel(cfg.LogLevel), reqID)
//
// [NewWithSentry] additionally forwards warnings and errors to Sentry when a DSN
// is configured and silently falls back to stdout-only logging otherwise.
// [NewNope] returns a logger that discards everything; services default to it.
package logger
