// Package logging wraps zap with the conventions used across spec-bot.
//
// Every log call takes a context. Correlation fields found in the context
// (trace and span IDs, workflow ID, phase, request ID) are prepended to the
// entry so the lifecycle of a single specification workflow can be followed
// across the HTTP layer, the background runner and the LLM client.
//
//	ctx = logging.WithWorkflowID(ctx, rec.ID)
//	ctx = logging.WithPhase(ctx, "requirements")
//	logger.Info(ctx, "generation finished", zap.Int("tokens", n))
//
// Output goes to stdout and, when a log provider is supplied, to
// OpenTelemetry through the otelzap bridge. Stdout output passes through a
// redacting encoder; entries below error level are sampled.
//
// Tests use NewTestLogger, which records every entry in memory:
//
//	tl := logging.NewTestLogger()
//	svc := NewService(tl.Logger)
//	...
//	tl.AssertLogged(t, zapcore.WarnLevel, "retry")
package logging
