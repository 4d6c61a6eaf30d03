package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job-id"
	phaseKey     contextKey = "phase"
	requestIDKey contextKey = "request-id"
)

// WithJobID attaches a job identifier to the context for log correlation.
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts a job identifier previously set with WithJobID.
func JobIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(jobIDKey).(int64)
	return id, ok
}

// WithPhase attaches the current pipeline phase name to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey, phase)
}

// PhaseFromContext extracts the phase name previously set with WithPhase.
func PhaseFromContext(ctx context.Context) (string, bool) {
	phase, ok := ctx.Value(phaseKey).(string)
	return phase, ok
}

// WithRequestID attaches a correlation identifier to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts a correlation identifier.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}
