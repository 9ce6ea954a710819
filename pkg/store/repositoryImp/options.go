package repositoryImp

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultMaxAttempts = 5

type options struct {
	maxAttempts  int
	log          *zap.Logger
	now          func() time.Time
	beforeCommit func(ctx context.Context, attempt int) error
}

type Option func(*options)

// WithMaxAttempts bounds how many times a conflicting transaction is re-run.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock replaces the wall clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithBeforeCommit installs a hook that runs after the transaction function
// returned and before its writes are applied. A non-nil error aborts the
// attempt; returning repository.ErrConflict makes it retry.
func WithBeforeCommit(fn func(ctx context.Context, attempt int) error) Option {
	return func(o *options) { o.beforeCommit = fn }
}

func buildOptions(opts []Option) options {
	o := options{maxAttempts: defaultMaxAttempts}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	return o
}

func (o options) runBeforeCommit(ctx context.Context, attempt int) error {
	if o.beforeCommit == nil {
		return nil
	}
	return o.beforeCommit(ctx, attempt)
}
