package run

import "context"

// Repository persists runs and their accepted samples.
type Repository interface {
	// Create inserts r in its initial state.
	Create(ctx context.Context, r *Run) error
	// Finish stores the terminal state of r together with its samples.
	Finish(ctx context.Context, r *Run) error
	// Get loads a run with its samples; ABC_009 when unknown.
	Get(ctx context.Context, id string) (*Run, error)
	// List returns runs newest first, without samples.
	List(ctx context.Context, opts ...ListOption) ([]*Run, error)
	Delete(ctx context.Context, id string) error
}

type ListOptions struct {
	Limit  int
	Offset int
	Status Status
	Method Method
}

type ListOption func(*ListOptions)

// WithPagination clamps limit to [1, 100].
func WithPagination(offset, limit int) ListOption {
	return func(o *ListOptions) {
		if offset < 0 {
			offset = 0
		}
		if limit < 1 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}
		o.Offset = offset
		o.Limit = limit
	}
}

func WithStatus(s Status) ListOption {
	return func(o *ListOptions) { o.Status = s }
}

func WithMethod(m Method) ListOption {
	return func(o *ListOptions) { o.Method = m }
}

func ApplyListOptions(opts ...ListOption) ListOptions {
	o := ListOptions{Limit: 20}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

//Personal.AI order the ending
