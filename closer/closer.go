package closer

import (
	"context"
	"time"

	"go.uber.org/multierr"
)

type WithContextCloser interface {
	CloseWithContext(ctx context.Context) error
}

func CloseAndWait(closer WithContextCloser, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	return closer.CloseWithContext(ctx)
}

// CloseAll closes every closer in order, sharing ctx, and combines the errors.
func CloseAll(ctx context.Context, closers ...WithContextCloser) error {
	var err error
	for _, c := range closers {
		if c == nil {
			continue
		}
		err = multierr.Append(err, c.CloseWithContext(ctx))
	}
	return err
}
