package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sheet-etl/internal/reconcile"
	"sheet-etl/internal/record"
	"sheet-etl/internal/sink"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle position of a run.
type State int

const (
	Initialized State = iota
	Fetching
	Reconciling
	Writing
	Done
	Failed
)

var stateNames = [...]string{"initialized", "fetching", "reconciling", "writing", "done", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Result summarizes a run.
type Result struct {
	Job       string      `json:"job"`
	State     State       `json:"state"`
	Fetched   int         `json:"fetched"`
	New       int         `json:"new"`
	Existing  int         `json:"existing"`
	Unchanged int         `json:"unchanged"`
	Skipped   int         `json:"skipped"`
	Linked    int         `json:"linked"`
	DryRun    bool        `json:"dry_run"`
	Report    sink.Report `json:"report"`
	// FetchError is set when fetching stopped early; the records fetched
	// before the error were still processed.
	FetchError string    `json:"fetch_error,omitempty"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
}

// Runner executes jobs against a store. A Runner is not safe for concurrent
// runs when hooks are set.
type Runner struct {
	Store     sink.Store
	BatchSize int
	// DryRun reconciles and reports without creating linked entities or
	// writing rows.
	DryRun bool
	// OnFetch is called for every fetched record with the running count.
	OnFetch func(n int)
	// OnWrite is passed to the batch writer; total is known once
	// reconciliation is finished.
	OnWrite func(done, total int)
}

type run struct {
	job   string
	state State
	res   *Result
}

func (r *run) to(next State) {
	logrus.Debugf("%s: %s -> %s", r.job, r.state, next)
	r.state = next
	r.res.State = next
}

func (r *run) fail(err error) (Result, error) {
	r.to(Failed)
	r.res.Finished = time.Now()
	logrus.Errorf("%s failed: %v", r.job, err)
	return *r.res, err
}

// Run executes job once. The destination is read a single time up front;
// records created during the run are not visible to its own reconciliation.
// Cancellation, preparation and snapshot failures abort the run. A fetch
// error keeps what was fetched so far, and batch failures are reported in
// Result.Report.
func (rn *Runner) Run(ctx context.Context, job Job) (Result, error) {
	res := &Result{Job: job.Name(), DryRun: rn.DryRun, Started: time.Now()}
	r := &run{job: job.Name(), res: res}
	target := job.Target()

	logrus.Infof("starting %s | table=%s mode=%s dry_run=%t", job.Name(), target.Table, target.Mode, rn.DryRun)

	if p, ok := job.(Preparer); ok {
		if err := p.Prepare(ctx, rn.Store); err != nil {
			return r.fail(fmt.Errorf("prepare: %w", err))
		}
	}

	rows, err := rn.Store.Select(ctx, sink.Query{Table: target.Table, View: target.View, Fields: target.Fields})
	if err != nil {
		return r.fail(fmt.Errorf("read %s: %w", target.Table, err))
	}
	snap := reconcile.NewSnapshot(target.KeyField, rows)
	logrus.Infof("%s: %d existing rows in %s", job.Name(), snap.Len(), target.Table)

	r.to(Fetching)
	fetchStart := time.Now()
	var recs []record.Source
	err = job.Source(snap).Each(ctx, func(rec record.Source) error {
		recs = append(recs, rec)
		if rn.OnFetch != nil {
			rn.OnFetch(len(recs))
		}
		return nil
	})
	res.Fetched = len(recs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return r.fail(ctxErr)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return r.fail(err)
		}
		res.FetchError = err.Error()
		logrus.Warnf("%s: fetch stopped after %d records: %v", job.Name(), len(recs), err)
	}
	logrus.Infof("%s: fetched %d records in %.2fs", job.Name(), len(recs), time.Since(fetchStart).Seconds())

	r.to(Reconciling)
	plan := reconcile.Partition(recs, snap)
	res.Skipped = plan.Skipped
	res.Unchanged = len(plan.Unchanged)
	if plan.Duplicates > 0 {
		logrus.Infof("%s: %d duplicate records collapsed", job.Name(), plan.Duplicates)
	}

	var creates []record.Fields
	var updates []record.Update
	var resolver *reconcile.Resolver
	if !rn.DryRun {
		resolver = reconcile.NewResolver(entityStore{rn.Store})
	}
	resolve := func(f record.Fields) (record.Fields, error) {
		if resolver == nil {
			return f, nil
		}
		return resolver.ResolveFields(ctx, f)
	}

	if target.Mode == UpdateExisting {
		for _, rec := range plan.New {
			logrus.Warnf("%s: no row in %s with key %q, skipping", job.Name(), target.Table, rec.Key)
		}
		res.Skipped += len(plan.New)
	} else {
		for _, rec := range plan.New {
			fields, err := resolve(rec.Fields)
			if err != nil {
				return r.fail(err)
			}
			creates = append(creates, fields)
		}
	}

	if target.Mode == CreateNew {
		if len(plan.Existing) > 0 {
			logrus.Infof("%s: %d records already present, left untouched", job.Name(), len(plan.Existing))
		}
		res.Unchanged += len(plan.Existing)
	} else {
		for _, m := range plan.Existing {
			fields, err := resolve(m.Source.Fields)
			if err != nil {
				return r.fail(err)
			}
			changed := diff(m.Destination.Fields, fields)
			if len(changed) == 0 {
				res.Unchanged++
				continue
			}
			updates = append(updates, record.Update{ID: m.Destination.ID, Fields: changed})
		}
	}
	res.New = len(creates)
	res.Existing = len(updates)
	if resolver != nil {
		res.Linked = resolver.Created
	}
	logrus.Infof("%s: %d new, %d to update, %d unchanged, %d skipped", job.Name(), res.New, res.Existing, res.Unchanged, res.Skipped)

	if rn.DryRun {
		res.Report.Batches = (&sink.Writer{BatchSize: rn.BatchSize}).Batches(len(creates) + len(updates))
		r.to(Done)
		res.Finished = time.Now()
		logrus.Infof("%s: dry run, %d batches not written", job.Name(), res.Report.Batches)
		return *res, nil
	}

	r.to(Writing)
	w := &sink.Writer{Store: rn.Store, BatchSize: rn.BatchSize, OnBatch: rn.OnWrite}
	res.Report, err = w.Apply(ctx, target.Table, creates, updates)
	if err != nil {
		return r.fail(err)
	}

	r.to(Done)
	res.Finished = time.Now()
	logrus.Infof("%s finished in %s", job.Name(), res.Finished.Sub(res.Started).Round(time.Millisecond))
	return *res, nil
}

// diff returns the fields of next whose values differ from current. The key
// field is only carried when its value changed.
func diff(current, next record.Fields) record.Fields {
	out := record.Fields{}
	for k, v := range next {
		if current.Get(k).Equal(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// entityStore exposes a Store to the link resolver.
type entityStore struct {
	store sink.Store
}

func (e entityStore) Entities(ctx context.Context, table string) ([]record.Destination, error) {
	return e.store.Select(ctx, sink.Query{Table: table})
}

func (e entityStore) CreateEntity(ctx context.Context, table string, fields record.Fields) (string, error) {
	ids, err := e.store.Create(ctx, table, []record.Fields{fields})
	if err != nil {
		return "", err
	}
	if len(ids) != 1 {
		return "", fmt.Errorf("create in %s returned %d ids", table, len(ids))
	}
	return ids[0], nil
}
