// Package fetch produces source records from external APIs: a single-attempt
// HTTP client and lazy, restartable paged sequences.
package fetch

import (
	"context"
	"errors"

	"sheet-etl/internal/record"
)

// ErrStop can be returned from a visit function to end iteration early
// without reporting an error.
var ErrStop = errors.New("stop iteration")

// Source is a finite sequence of records. Each call to Each starts over from
// the beginning and fetches lazily as records are visited.
type Source interface {
	Each(ctx context.Context, visit func(record.Source) error) error
}

// Func adapts a plain function to Source.
type Func func(ctx context.Context, visit func(record.Source) error) error

func (f Func) Each(ctx context.Context, visit func(record.Source) error) error {
	return f(ctx, visit)
}

// Slice is an in-memory source.
type Slice []record.Source

func (s Slice) Each(ctx context.Context, visit func(record.Source) error) error {
	for _, rec := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := visit(rec); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Collect drains src. On error the records visited so far are returned
// along with it.
func Collect(ctx context.Context, src Source) ([]record.Source, error) {
	var out []record.Source
	err := src.Each(ctx, func(rec record.Source) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}
