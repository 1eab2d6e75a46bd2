package adapter

import "context"

// ExecuteParams is the context handed to the build pipeline.
type ExecuteParams struct {
	UserID        string
	ProjectID     string
	WorkspacePath string
	Goal          string
	SessionID     string
}

// BuildExecutor runs the actual build pipeline (architect, coder, checks).
// Its internals are opaque to this core: it runs to completion or returns an
// error. Per-stage timeouts are its responsibility, not the worker's.
type BuildExecutor interface {
	Execute(ctx context.Context, p ExecuteParams) error
}
