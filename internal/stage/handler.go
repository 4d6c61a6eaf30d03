package stage

import (
	"context"

	"subflow/internal/queue"
)

// Health reports a handler's readiness at daemon startup.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	// Prepare runs before the stage body; mutations to the job are persisted
	// before Execute starts.
	Prepare(context.Context, *queue.Job) error
	// Execute runs the stage. Handlers may set the job's status themselves to
	// express a branch; otherwise the manager applies the stage's default
	// done status.
	Execute(context.Context, *queue.Job) error
	// HealthCheck reports whether the stage's dependencies are usable.
	HealthCheck(context.Context) Health
}

// Healthy is a convenience constructor for a passing health report.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy is a convenience constructor for a failing health report.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
