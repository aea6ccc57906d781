// Package monitor renders what a bench run did: a waveform of the traced
// wires, oversample and baud tick period statistics, and an HTML timeline
// of core events.
package monitor

import (
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/marcopolo/internal/bench"
	"github.com/banshee-data/marcopolo/internal/timeutil"
)

var ErrEmptyTrace = errors.New("trace has no transitions")

const (
	laneHeight = 1.5
	plotWidth  = 14 * vg.Inch
	plotHeight = 6 * vg.Inch
)

// lanePoints turns one wire's transitions into a post-step series ending
// at the last traced cycle, offset to its lane. X is in microseconds.
func lanePoints(trs []bench.Transition, end uint64, lane int, clock timeutil.CycleClock) plotter.XYs {
	base := float64(lane) * laneHeight
	pts := make(plotter.XYs, 0, len(trs)+1)
	for _, tr := range trs {
		pts = append(pts, plotter.XY{X: micros(clock, tr.Cycle), Y: base + float64(tr.Level)})
	}
	if n := len(trs); n > 0 && trs[n-1].Cycle < end {
		pts = append(pts, plotter.XY{X: micros(clock, end), Y: base + float64(trs[n-1].Level)})
	}
	return pts
}

func micros(clock timeutil.CycleClock, cycle uint64) float64 {
	return float64(clock.Duration(cycle).Nanoseconds()) / 1e3
}

// Waveform plots the given wires of tr, one lane each, bottom to top.
func Waveform(tr *bench.Trace, signals []bench.Signal, clock timeutil.CycleClock, title string) (*plot.Plot, error) {
	if tr == nil || len(tr.Transitions) == 0 {
		return nil, ErrEmptyTrace
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (µs)"
	p.Y.Min = -0.5
	p.Y.Max = float64(len(signals)) * laneHeight

	ticks := make([]plot.Tick, 0, len(signals))
	for lane, s := range signals {
		pts := lanePoints(tr.Of(s), tr.End(), lane, clock)
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s, err)
		}
		line.StepStyle = plotter.PostStep
		line.Color = plotutil.Color(lane)
		line.Width = vg.Points(1)
		p.Add(line)
		ticks = append(ticks, plot.Tick{Value: float64(lane)*laneHeight + 0.5, Label: s.String()})
	}
	p.Y.Tick.Marker = plot.ConstantTicks(ticks)
	return p, nil
}

// WriteWaveform renders every traced wire as an image in the given format
// ("png", "svg", "pdf").
func WriteWaveform(w io.Writer, tr *bench.Trace, clock timeutil.CycleClock, title, format string) error {
	p, err := Waveform(tr, bench.Signals(), clock, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, format)
	if err != nil {
		return fmt.Errorf("render waveform: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveWaveform writes the waveform to path; the extension picks the format.
func SaveWaveform(path string, tr *bench.Trace, clock timeutil.CycleClock, title string) error {
	p, err := Waveform(tr, bench.Signals(), clock, title)
	if err != nil {
		return err
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("failed to save waveform: %w", err)
	}
	return nil
}
