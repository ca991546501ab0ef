package sink

import (
	"context"
	"time"

	"sheet-etl/internal/record"

	"golang.org/x/time/rate"
)

// Paced decorates another Store so that consecutive calls are at least an
// interval apart.
type Paced struct {
	inner   Store
	limiter *rate.Limiter
}

// NewPaced wraps inner. A non-positive interval returns inner unchanged.
func NewPaced(inner Store, interval time.Duration) Store {
	if inner == nil || interval <= 0 {
		return inner
	}
	return &Paced{inner: inner, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the interval since the previous call has passed.
func (p *Paced) Wait(ctx context.Context) error { return p.limiter.Wait(ctx) }

func (p *Paced) Select(ctx context.Context, q Query) ([]record.Destination, error) {
	if err := p.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Select(ctx, q)
}

func (p *Paced) Create(ctx context.Context, table string, batch []record.Fields) ([]string, error) {
	if err := p.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Create(ctx, table, batch)
}

func (p *Paced) Update(ctx context.Context, table string, batch []record.Update) error {
	if err := p.Wait(ctx); err != nil {
		return err
	}
	return p.inner.Update(ctx, table, batch)
}
