package ui

import (
	"fmt"
	"io"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/events"
	"github.com/quantmind-br/pahkat/internal/state"
	"github.com/schollz/progressbar/v3"
)

// ProgressBar wraps progressbar/v3 with pahkat styling
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBarBytes creates a byte-counting progress bar writing to w
func NewProgressBarBytes(w io.Writer, max int64, description string) *ProgressBar {
	bar := progressbar.NewOptions64(max,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(15),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)

	return &ProgressBar{bar: bar}
}

// Set64 sets the current progress to n
func (p *ProgressBar) Set64(n int64) error {
	return p.bar.Set64(n)
}

// ChangeMax64 updates the expected total
func (p *ProgressBar) ChangeMax64(max int64) {
	p.bar.ChangeMax64(max)
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() error {
	return p.bar.Finish()
}

// IsFinished returns true if the progress bar is finished
func (p *ProgressBar) IsFinished() bool {
	return p.bar.IsFinished()
}

// TransactionView renders a transaction's event stream. It keeps the reduced
// state.State so callers can inspect the outcome once the stream ends.
type TransactionView struct {
	out  io.Writer
	bars bool

	state state.State
	names map[core.PackageKey]string
	step  int
	open  map[core.PackageKey]*ProgressBar
}

// NewTransactionView creates a view writing to out. Download bars are only
// drawn when bars is set, typically when out is a terminal.
func NewTransactionView(out io.Writer, bars bool) *TransactionView {
	return &TransactionView{
		out:   out,
		bars:  bars,
		state: state.NotStarted(),
		names: make(map[core.PackageKey]string),
		open:  make(map[core.PackageKey]*ProgressBar),
	}
}

// State returns the reduced state of every event handled so far
func (v *TransactionView) State() state.State {
	return v.state
}

// Handle folds ev into the view and renders it
func (v *TransactionView) Handle(ev events.Event) {
	v.state = state.Reduce(v.state, ev)

	switch e := ev.(type) {
	case events.Started:
		v.step = 0
		Bold.Fprintf(v.out, "Transaction with %d action(s)\n", len(e.Actions))
		for _, a := range e.Actions {
			v.names[a.Key] = a.Name
			fmt.Fprintf(v.out, "  %s %s %s %s (%s)\n",
				Bullet, ColorizeVerb(a.Action), a.Name, Muted.Sprint(a.Version), ColorizeScope(a.Target))
		}
		if e.RequiresReboot {
			FprintWarning(v.out, "a reboot is required after this transaction")
		}

	case events.DownloadProgress:
		if !v.bars {
			return
		}
		bar, ok := v.open[e.Key]
		if !ok {
			bar = NewProgressBarBytes(v.out, int64(e.Total), "Downloading "+v.name(e.Key))
			v.open[e.Key] = bar
		}
		bar.ChangeMax64(int64(e.Total))
		_ = bar.Set64(int64(e.Current))

	case events.DownloadComplete:
		if bar, ok := v.open[e.Key]; ok {
			if !bar.IsFinished() {
				_ = bar.Finish()
			}
			delete(v.open, e.Key)
			return
		}
		fmt.Fprintf(v.out, "%s Downloaded %s\n", Arrow, v.name(e.Key))

	case events.InstallStarted:
		v.step++
		FprintStep(v.out, v.step, len(v.state.Actions), "Installing %s", v.name(e.Key))

	case events.UninstallStarted:
		v.step++
		FprintStep(v.out, v.step, len(v.state.Actions), "Uninstalling %s", v.name(e.Key))

	case events.Progress:
		if e.Message != nil {
			Muted.Fprintf(v.out, "      %s\n", *e.Message)
		}

	case events.Completed:
		v.closeBars()
		FprintSuccess(v.out, "Transaction completed")

	case events.Cancelled:
		v.closeBars()
		FprintWarning(v.out, "Transaction cancelled")

	case events.Error:
		v.closeBars()
		if e.Key != nil {
			FprintError(v.out, "%s: %s", v.name(*e.Key), e.ErrorText())
			return
		}
		FprintError(v.out, "%s", e.ErrorText())
	}
}

func (v *TransactionView) name(key core.PackageKey) string {
	if n := v.names[key]; n != "" {
		return n
	}
	return key.ID
}

func (v *TransactionView) closeBars() {
	for key, bar := range v.open {
		if !bar.IsFinished() {
			_ = bar.Finish()
		}
		delete(v.open, key)
	}
}
