package monitor

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/marcopolo/internal/timeutil"
	"github.com/banshee-data/marcopolo/internal/uart"
)

// timelineKinds is the lane order of the timeline, bottom to top.
var timelineKinds = []uart.EventKind{
	uart.EventRxByte,
	uart.EventFramingError,
	uart.EventTrigger,
	uart.EventOverrun,
	uart.EventTxStart,
	uart.EventTxByte,
}

func kindLabels() []string {
	out := make([]string, len(timelineKinds))
	for i, k := range timelineKinds {
		out[i] = string(k)
	}
	return out
}

// byteLabel shows printable bytes as themselves and the rest as hex.
func byteLabel(b byte) string {
	if b >= 0x20 && b < 0x7f {
		return string(rune(b))
	}
	return fmt.Sprintf("0x%02x", b)
}

func carriesByte(k uart.EventKind) bool {
	return k == uart.EventRxByte || k == uart.EventTxStart || k == uart.EventTxByte
}

// Timeline builds a scatter chart with one lane per event kind and time in
// microseconds on the X axis.
func Timeline(events []uart.Event, clock timeutil.CycleClock, title string) *charts.Scatter {
	series := make(map[uart.EventKind][]opts.ScatterData, len(timelineKinds))
	for _, ev := range events {
		lane := -1
		for i, k := range timelineKinds {
			if k == ev.Kind {
				lane = i
				break
			}
		}
		if lane < 0 {
			continue
		}
		name := string(ev.Kind) + " @" + strconv.FormatUint(ev.Cycle, 10)
		if carriesByte(ev.Kind) {
			name += " " + byteLabel(ev.Byte)
		}
		series[ev.Kind] = append(series[ev.Kind], opts.ScatterData{
			Name:  name,
			Value: []interface{}{micros(clock, ev.Cycle), lane},
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("events=%d clock=%d Hz", len(events), clock.Hz)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time (µs)", Type: "value", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: kindLabels()}),
	)
	for _, k := range timelineKinds {
		if pts := series[k]; len(pts) > 0 {
			scatter.AddSeries(string(k), pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
		}
	}
	return scatter
}

// RenderTimeline writes the timeline as a standalone HTML page.
func RenderTimeline(w io.Writer, events []uart.Event, clock timeutil.CycleClock, title string) error {
	if err := Timeline(events, clock, title).Render(w); err != nil {
		return fmt.Errorf("render timeline: %w", err)
	}
	return nil
}
