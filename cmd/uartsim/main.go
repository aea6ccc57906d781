// Command uartsim runs one request/response exchange against the simulated
// responder and reports the reply and its timing. It can record the run to
// the session database and export a pcap, a waveform and an event timeline.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/banshee-data/marcopolo/internal/bench"
	"github.com/banshee-data/marcopolo/internal/capture"
	"github.com/banshee-data/marcopolo/internal/config"
	"github.com/banshee-data/marcopolo/internal/db"
	"github.com/banshee-data/marcopolo/internal/monitor"
	"github.com/banshee-data/marcopolo/internal/security"
	"github.com/banshee-data/marcopolo/internal/timeutil"
	"github.com/banshee-data/marcopolo/internal/uart"
	"github.com/banshee-data/marcopolo/internal/version"
)

type options struct {
	configPath  string
	send        string
	window      int
	gapBits     int
	dbPath      string
	pcapPath    string
	plotPath    string
	chartPath   string
	ticks       bool
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("uartsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to UART config JSON (defaults built in)")
	fs.StringVar(&o.send, "send", "MARCO", "Message clocked onto RX; Go escapes such as \\r are honoured")
	fs.IntVar(&o.window, "window", 0, "Sample window override: 1 mid-bit, 3 majority (0 keeps config)")
	fs.IntVar(&o.gapBits, "gap-bits", bench.DefaultScenario().GapBits, "Idle bit periods between characters")
	fs.StringVar(&o.dbPath, "db", "", "Record the run to this sqlite database")
	fs.StringVar(&o.pcapPath, "pcap", "", "Write decoded bytes to this .pcap file")
	fs.StringVar(&o.plotPath, "plot", "", "Write the waveform to this .png/.svg/.pdf file")
	fs.StringVar(&o.chartPath, "chart", "", "Write the event timeline to this .html file")
	fs.BoolVar(&o.ticks, "ticks", false, "Measure and print tick periods")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.gapBits < 0 {
		return o, fmt.Errorf("gap-bits must be >= 0, got %d", o.gapBits)
	}
	return o, nil
}

// unescape accepts the message the way a Go string literal would spell it.
func unescape(s string) ([]byte, error) {
	u, err := strconv.Unquote(`"` + s + `"`)
	if err != nil {
		return nil, fmt.Errorf("invalid -send value %q: %w", s, err)
	}
	return []byte(u), nil
}

func loadConfig(o options) (*config.UARTConfig, error) {
	if o.configPath == "" {
		return config.DefaultUARTConfig(), nil
	}
	return config.LoadUARTConfig(o.configPath)
}

// result is everything a run produced.
type result struct {
	cfg      uart.Config
	exchange bench.Exchange
	trace    *bench.Trace
	stats    uart.Stats
	cycles   uint64
	noReply  bool
}

func simulate(cfg uart.Config, msg []byte, gapBits int) (*result, error) {
	core, err := uart.New(cfg)
	if err != nil {
		return nil, err
	}
	b := bench.New(core)
	tr := bench.NewTrace(0)
	b.Observe(tr.Observer())

	sc := bench.DefaultScenario()
	sc.GapBits = gapBits
	ex, err := b.RunExchange(msg, sc)
	res := &result{cfg: cfg, exchange: ex, trace: tr}
	if errors.Is(err, bench.ErrNoReply) {
		res.noReply = true
		err = nil
	}
	if err != nil {
		return nil, err
	}
	res.stats = core.Stats()
	res.cycles = b.Cycle()
	return res, nil
}

func report(w io.Writer, r *result, clock timeutil.CycleClock) {
	ex := r.exchange
	fmt.Fprintf(w, "sent    %q\n", ex.Sent)
	if r.noReply {
		fmt.Fprintf(w, "reply   none (trigger %q not seen)\n", r.cfg.Trigger)
	} else {
		fmt.Fprintf(w, "reply   %q\n", ex.Reply)
		fmt.Fprintf(w, "trigger cycle %d (%v)\n", ex.TriggerCycle, clock.Duration(ex.TriggerCycle))
		fmt.Fprintf(w, "busy    cycle %d (%v)\n", ex.BusyCycle, clock.Duration(ex.BusyCycle))
		fmt.Fprintf(w, "done    cycle %d (%v)\n", ex.DoneCycle, clock.Duration(ex.DoneCycle))
	}
	s := r.stats
	fmt.Fprintf(w, "stats   rx=%d framing=%d false_starts=%d triggers=%d overruns=%d tx=%d\n",
		s.BytesReceived, s.FramingErrors, s.FalseStarts, s.Triggers, s.Overruns, s.BytesSent)
}

func record(path string, r *result, digest *capture.Digest) (string, error) {
	store, err := db.NewDB(path)
	if err != nil {
		return "", err
	}
	defer store.Close()

	sess, err := store.StartSession(db.SessionSim, string(r.exchange.Sent), r.cfg)
	if err != nil {
		return "", err
	}
	if err := store.RecordEvents(sess.ID, r.trace.Events); err != nil {
		return "", err
	}
	if err := store.RecordExchange(sess.ID, r.exchange); err != nil {
		return "", err
	}
	if err := store.EndSession(sess.ID, r.cycles, r.stats, digest.RX(), digest.TX()); err != nil {
		return "", err
	}
	return sess.ID, nil
}

func writePcap(path string, events []uart.Event, clock timeutil.CycleClock) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	w, err := capture.NewWriter(f, clock)
	if err == nil {
		err = w.WriteEvents(events)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	return w.Count(), nil
}

func writeChart(path string, events []uart.Event, clock timeutil.CycleClock, title string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = monitor.RenderTimeline(f, events, clock, title)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func checkOutputs(o options) error {
	outputs := []struct {
		path string
		exts []string
	}{
		{o.pcapPath, []string{".pcap"}},
		{o.plotPath, []string{".png", ".svg", ".pdf"}},
		{o.chartPath, []string{".html"}},
	}
	var dirs []string
	for _, out := range outputs {
		if out.path == "" {
			continue
		}
		if dirs == nil {
			var err error
			if dirs, err = security.DefaultOutputDirs(); err != nil {
				return err
			}
		}
		if err := security.ValidateOutputPath(out.path, dirs, out.exts...); err != nil {
			return err
		}
	}
	return nil
}

func run(args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintf(stdout, "uartsim %s\n", version.String())
		return nil
	}
	if err := checkOutputs(o); err != nil {
		return err
	}

	msg, err := unescape(o.send)
	if err != nil {
		return err
	}
	ucfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	if o.window != 0 {
		w := o.window
		ucfg.SampleWindow = &w
	}
	if err := ucfg.Validate(); err != nil {
		return err
	}
	cfg, err := ucfg.ToCoreConfig()
	if err != nil {
		return err
	}

	clock := timeutil.NewCycleClock(time.Unix(0, 0).UTC(), ucfg.GetClockHz())
	res, err := simulate(cfg, msg, o.gapBits)
	if err != nil {
		return err
	}
	report(stdout, res, clock)

	digest := capture.NewDigest()
	for _, ev := range res.trace.Events {
		digest.Observe(ev)
	}
	fmt.Fprintf(stdout, "crc16   rx=%04x tx=%04x\n", digest.RX(), digest.TX())

	if o.ticks {
		core, err := uart.New(cfg)
		if err != nil {
			return err
		}
		b := bench.New(core)
		b.Reset(bench.DefaultScenario().ResetCycles)
		rep := monitor.MeasureTicks(b, 20*cfg.Baud.BaudDivisor())
		fmt.Fprintf(stdout, "os tick   %s\n", rep.Oversample)
		fmt.Fprintf(stdout, "baud tick %s\n", rep.Baud)
	}

	if o.dbPath != "" {
		id, err := record(o.dbPath, res, digest)
		if err != nil {
			return fmt.Errorf("record session: %w", err)
		}
		fmt.Fprintf(stdout, "session %s\n", id)
	}
	if o.pcapPath != "" {
		n, err := writePcap(o.pcapPath, res.trace.Events, clock)
		if err != nil {
			return fmt.Errorf("write pcap: %w", err)
		}
		log.Printf("wrote %d packets to %s", n, o.pcapPath)
	}
	title := fmt.Sprintf("%q at divisor %d", res.exchange.Sent, cfg.Baud.OversampleDivisor())
	if o.plotPath != "" {
		if err := monitor.SaveWaveform(o.plotPath, res.trace, clock, title); err != nil {
			return err
		}
		log.Printf("wrote waveform to %s", o.plotPath)
	}
	if o.chartPath != "" {
		if err := writeChart(o.chartPath, res.trace.Events, clock, title); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
		log.Printf("wrote timeline to %s", o.chartPath)
	}
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("uartsim: %v", err)
	}
}
