package sink

import (
	"context"
	"encoding/json"

	"sheet-etl/internal/config"
	"sheet-etl/internal/record"

	"github.com/sirupsen/logrus"
)

// BatchError describes one failed batch. Nothing from a failed batch was
// written and earlier batches are not rolled back.
type BatchError struct {
	Op    string `json:"op"`
	Batch int    `json:"batch"`
	Size  int    `json:"size"`
	Error string `json:"error"`
}

// Report summarizes the writes of one run.
type Report struct {
	Created    int          `json:"created"`
	Updated    int          `json:"updated"`
	Failed     int          `json:"failed"`
	Batches    int          `json:"batches"`
	CreatedIDs []string     `json:"created_ids,omitempty"`
	Errors     []BatchError `json:"errors,omitempty"`
}

// Writer splits mutations into batches of at most BatchSize records and
// issues them in order, creates first. A failed batch is logged with its
// payload and the writer moves on to the next one.
type Writer struct {
	Store     Store
	BatchSize int
	// OnBatch is called after every batch, failed or not, with the number of
	// mutations handled so far and the total.
	OnBatch func(done, total int)
}

func (w *Writer) size() int {
	if w.BatchSize <= 0 || w.BatchSize > config.MaxBatch {
		return config.MaxBatch
	}
	return w.BatchSize
}

// Batches returns the number of store calls needed for n mutations.
func (w *Writer) Batches(n int) int {
	size := w.size()
	return (n + size - 1) / size
}

// Apply writes creates and updates to table. The returned error is only
// non-nil when ctx ends; batch failures are reported in Report.Errors.
func (w *Writer) Apply(ctx context.Context, table string, creates []record.Fields, updates []record.Update) (Report, error) {
	var rep Report
	size := w.size()
	total := len(creates) + len(updates)
	done := 0
	progress := func(n int) {
		done += n
		if w.OnBatch != nil {
			w.OnBatch(done, total)
		}
	}

	for start := 0; start < len(creates); start += size {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		batch := creates[start:min(start+size, len(creates))]
		rep.Batches++
		ids, err := w.Store.Create(ctx, table, batch)
		if err != nil {
			rep.fail("create", table, rep.Batches, len(batch), batch, err)
		} else {
			rep.Created += len(batch)
			rep.CreatedIDs = append(rep.CreatedIDs, ids...)
		}
		progress(len(batch))
	}

	for start := 0; start < len(updates); start += size {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		batch := updates[start:min(start+size, len(updates))]
		rep.Batches++
		if err := w.Store.Update(ctx, table, batch); err != nil {
			rep.fail("update", table, rep.Batches, len(batch), batch, err)
		} else {
			rep.Updated += len(batch)
		}
		progress(len(batch))
	}

	logrus.Infof("%s: %d created, %d updated, %d failed in %d batches", table, rep.Created, rep.Updated, rep.Failed, rep.Batches)
	return rep, nil
}

func (r *Report) fail(op, table string, batch, size int, payload any, err error) {
	r.Failed += size
	r.Errors = append(r.Errors, BatchError{Op: op, Batch: batch, Size: size, Error: err.Error()})

	body, mErr := json.Marshal(payload)
	if mErr != nil {
		body = []byte(mErr.Error())
	}
	logrus.Errorf("%s batch %d on %s failed (%d records): %v", op, batch, table, size, err)
	logrus.Errorf("failed payload: %s", body)
}
