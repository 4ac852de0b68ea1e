package strategies

import (
	"context"

	"github.com/google/uuid"
)

// Runner starts and stops strategy executions. Implementations manage the
// actual script processes; this system only tracks the opaque handles.
type Runner interface {
	// Start launches a strategy run and returns an opaque handle for it.
	Start(ctx context.Context, strategy Strategy, instrument string) (string, error)
	// Stop terminates the run identified by handle. Stopping an unknown or
	// already-stopped handle is not an error.
	Stop(ctx context.Context, handle string) error
}

// NopRunner issues handles without launching anything. Used in development
// mode and tests.
type NopRunner struct{}

var _ Runner = (*NopRunner)(nil)

func (NopRunner) Start(context.Context, Strategy, string) (string, error) {
	return uuid.NewString(), nil
}

func (NopRunner) Stop(context.Context, string) error { return nil }
