// Command uartbridge attaches the simulated MARCO/POLO responder to a host
// serial port. Bytes arriving on the port are clocked into the core and
// its reply is written back. Debug pages, session history and a gRPC
// health service are served alongside.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/marcopolo/internal/capture"
	"github.com/banshee-data/marcopolo/internal/config"
	"github.com/banshee-data/marcopolo/internal/db"
	"github.com/banshee-data/marcopolo/internal/health"
	"github.com/banshee-data/marcopolo/internal/serialmux"
	"github.com/banshee-data/marcopolo/internal/timeutil"
	"github.com/banshee-data/marcopolo/internal/uart"
	"github.com/banshee-data/marcopolo/internal/version"
)

var (
	port           = flag.String("port", "/dev/ttyUSB0", "Serial port to bridge (ignored with -disable-port)")
	configPath     = flag.String("config", "", "Path to UART config JSON (defaults built in)")
	listen         = flag.String("listen", "localhost:8080", "HTTP listen address for debug routes")
	grpcListen     = flag.String("grpc-listen", "localhost:50051", "gRPC health listen address (empty disables)")
	dbPath         = flag.String("db", "marcopolo.db", "Session database path (empty disables recording)")
	disablePort    = flag.Bool("disable-port", false, "Run without a host port; input comes only from /debug/uart-inject")
	gapBits        = flag.Int("gap-bits", 0, "Idle bit periods clocked after each host byte")
	statusInterval = flag.Duration("status-interval", time.Minute, "Interval between status log lines (0 disables)")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

// recordFlush bounds how many events are buffered before a write.
const recordFlush = 256

func loadConfig(path string) (*config.UARTConfig, error) {
	if path == "" {
		return config.DefaultUARTConfig(), nil
	}
	return config.LoadUARTConfig(path)
}

// openBridge builds the core from ucfg and connects it to the host port,
// or to nothing when disabled.
func openBridge(factory serialmux.SerialPortFactory, path string, disabled bool, ucfg *config.UARTConfig, gap int) (serialmux.BridgeInterface, uart.Config, error) {
	cfg, err := ucfg.ToCoreConfig()
	if err != nil {
		return nil, cfg, err
	}
	core, err := uart.New(cfg)
	if err != nil {
		return nil, cfg, err
	}
	if disabled {
		b := serialmux.NewDisabledBridge(core)
		b.SetGapBits(gap)
		return b, cfg, nil
	}
	b, err := serialmux.NewBridgeFromFactory(factory, path, ucfg.GetSerial(), core)
	if err != nil {
		return nil, cfg, fmt.Errorf("failed to open bridge port: %w", err)
	}
	b.SetGapBits(gap)
	return b, cfg, nil
}

// recorder persists bridge events to a session and keeps transcript
// digests for EndSession.
type recorder struct {
	store     *db.DB
	sessionID string
	digest    *capture.Digest
	batch     []uart.Event
}

func (r *recorder) add(ev uart.Event) error {
	r.digest.Observe(ev)
	r.batch = append(r.batch, ev)
	if len(r.batch) >= recordFlush {
		return r.flush()
	}
	return nil
}

func (r *recorder) flush() error {
	if len(r.batch) == 0 {
		return nil
	}
	err := r.store.RecordEvents(r.sessionID, r.batch)
	r.batch = r.batch[:0]
	return err
}

// run drains events from ch until ctx is done or ch closes, flushing on
// every tick of clock. Events still buffered when ctx ends are recorded.
func (r *recorder) run(ctx context.Context, ch <-chan uart.Event, clock timeutil.Clock, every time.Duration) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()
	defer func() {
		if err := r.flush(); err != nil {
			log.Printf("failed to record events: %v", err)
		}
	}()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := r.add(ev); err != nil {
				log.Printf("failed to record events: %v", err)
			}
		case <-ticker.C():
			if err := r.flush(); err != nil {
				log.Printf("failed to record events: %v", err)
			}
		case <-ctx.Done():
			r.drain(ch)
			return
		}
	}
}

// drain records whatever is already buffered in ch without waiting for more.
func (r *recorder) drain(ch <-chan uart.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := r.add(ev); err != nil {
				log.Printf("failed to record events: %v", err)
			}
		default:
			return
		}
	}
}

// logStatus prints a one-line bridge summary on every tick until ctx is
// done.
func logStatus(ctx context.Context, br serialmux.BridgeInterface, clock timeutil.Clock, every time.Duration, logf func(string, ...interface{})) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			logf("%s", statusLine(br.Status()))
		case <-ctx.Done():
			return
		}
	}
}

func statusLine(st serialmux.Status) string {
	return fmt.Sprintf("cycle=%d rx=%d tx=%d triggers=%d overruns=%d framing=%d host_in=%d host_out=%d subscribers=%d",
		st.Cycle, st.Stats.BytesReceived, st.Stats.BytesSent, st.Stats.Triggers, st.Stats.Overruns,
		st.Stats.FramingErrors, st.HostBytesIn, st.HostBytesOut, st.Subscribers)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("uartbridge %s\n", version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !*disablePort && *port == "" {
		log.Fatal("Serial port is required unless -disable-port is set")
	}

	ucfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	bridge, cfg, err := openBridge(serialmux.RealPortFactory{}, *port, *disablePort, ucfg, *gapBits)
	if err != nil {
		log.Fatalf("failed to create bridge: %v", err)
	}
	defer bridge.Close()
	if *disablePort {
		log.Printf("bridge running without a host port")
	} else {
		log.Printf("bridging %s at %s", *port, ucfg.GetSerial())
	}

	var store *db.DB
	var rec *recorder
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer store.Close()

		label := *port
		if *disablePort {
			label = "disabled"
		}
		sess, err := store.StartSession(db.SessionBridge, label, cfg)
		if err != nil {
			log.Fatalf("failed to start session: %v", err)
		}
		log.Printf("recording session %s to %s", sess.ID, *dbPath)
		rec = &recorder{store: store, sessionID: sess.ID, digest: capture.NewDigest()}
	}

	var hs *health.Server
	if *grpcListen != "" {
		hs = health.New(*grpcListen)
		if err := hs.Start(); err != nil {
			log.Fatalf("failed to start gRPC health server: %v", err)
		}
		defer hs.Stop()
		hs.SetServing(true)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}

	// run the monitor routine to move bytes between the port and the core
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bridge.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
			if hs != nil {
				hs.SetServing(false)
			}
			stop()
		}
		log.Print("monitor routine terminated")
	}()

	if rec != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, c := bridge.SubscribeLossless()
			defer bridge.Unsubscribe(id)
			rec.run(ctx, c, clock, time.Second)
			log.Print("recorder routine terminated")
		}()
	}

	if *statusInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logStatus(ctx, bridge, clock, *statusInterval, log.Printf)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		bridge.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database routes: %v", err)
			}
		}
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			http.Redirect(w, r, "/debug/uart", http.StatusFound)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("debug routes on http://%s/debug/", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	if rec != nil {
		st := bridge.Status()
		if err := store.EndSession(rec.sessionID, st.Cycle, st.Stats, rec.digest.RX(), rec.digest.TX()); err != nil {
			log.Printf("failed to end session: %v", err)
		}
		log.Print(statusLine(st))
	}
	log.Printf("Graceful shutdown complete")
}
