package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/stratadb/strata/internal/pipeline"
)

// progressObserver draws one progress bar per table on a terminal. It is
// silent when the output is not a terminal.
type progressObserver struct {
	w       io.Writer
	enabled bool
	bar     *progressbar.ProgressBar
}

func newProgress(w io.Writer) *progressObserver {
	p := &progressObserver{w: w}
	if f, ok := w.(*os.File); ok {
		p.enabled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return p
}

func (p *progressObserver) TableStarted(dir pipeline.Direction, table string, expectedRows int64) {
	if !p.enabled {
		return
	}
	p.Close()
	total := expectedRows
	if total <= 0 {
		total = -1
	}
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", dir, table)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func (p *progressObserver) RowGroupSealed(pr pipeline.Progress) {
	if p.bar != nil {
		_ = p.bar.Set64(pr.TotalRows)
	}
}

func (p *progressObserver) TableFinished(pipeline.TableResult) {
	p.Close()
}

// Close finishes the bar of the table in flight, if any.
func (p *progressObserver) Close() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}
