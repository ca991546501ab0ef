package main

import (
	"context"
	"os"

	"sheet-etl/internal/pipeline"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progress shows a fetch counter and a write bar for one run. A nil
// *progress does nothing.
type progress struct {
	p     *mpb.Progress
	fetch *mpb.Bar
	write *mpb.Bar
}

func newProgress(ctx context.Context, job string, enabled bool) *progress {
	if !enabled {
		return nil
	}
	p := mpb.NewWithContext(ctx, mpb.WithOutput(os.Stderr), mpb.WithWidth(40))
	fetch := p.AddBar(0,
		mpb.PrependDecorators(decor.Name(job+" fetch", decor.WCSyncSpaceR)),
		mpb.AppendDecorators(decor.CurrentNoUnit("%d records")),
	)
	write := p.AddBar(0,
		mpb.PrependDecorators(decor.Name(job+" write", decor.WCSyncSpaceR)),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d"), decor.Name(" "), decor.Percentage()),
	)
	return &progress{p: p, fetch: fetch, write: write}
}

func (pr *progress) attach(rn *pipeline.Runner) {
	if pr == nil {
		return
	}
	rn.OnFetch = func(n int) { pr.fetch.SetCurrent(int64(n)) }
	rn.OnWrite = func(done, total int) {
		pr.write.SetTotal(int64(total), false)
		pr.write.SetCurrent(int64(done))
	}
}

// wait completes both bars at their current count and flushes the output.
func (pr *progress) wait() {
	if pr == nil {
		return
	}
	pr.fetch.SetTotal(-1, true)
	pr.write.SetTotal(-1, true)
	pr.p.Wait()
}
