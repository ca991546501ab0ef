package sink

import (
	"context"
	"fmt"

	"sheet-etl/internal/config"
)

// Open builds the store described by cfg, paced when cfg.Pace is set. The
// returned close function is never nil.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, func() error, error) {
	s, closeFn, err := open(ctx, cfg)
	if err != nil {
		return nil, closeFn, err
	}
	return NewPaced(s, cfg.Pace), closeFn, nil
}

func open(ctx context.Context, cfg config.StoreConfig) (Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), noop, nil
	case "csv":
		s, err := NewCSVStore(cfg.CSV.Dir)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case "sqlite", "":
		s, err := OpenSQL(ctx, cfg.SQLite.DSN)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	}
	return nil, noop, fmt.Errorf("%w: unknown store type %q", config.ErrInvalid, cfg.Type)
}
