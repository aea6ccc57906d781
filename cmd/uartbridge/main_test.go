package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/marcopolo/internal/capture"
	"github.com/banshee-data/marcopolo/internal/config"
	"github.com/banshee-data/marcopolo/internal/db"
	"github.com/banshee-data/marcopolo/internal/serialmux"
	"github.com/banshee-data/marcopolo/internal/testutil"
	"github.com/banshee-data/marcopolo/internal/timeutil"
	"github.com/banshee-data/marcopolo/internal/uart"
)

func fastConfig() *config.UARTConfig {
	c := config.DefaultUARTConfig()
	d := 4
	c.OversampleDivisor = &d
	return c
}

func TestFlagDefaults(t *testing.T) {
	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"port", *port, "/dev/ttyUSB0"},
		{"listen", *listen, "localhost:8080"},
		{"grpc-listen", *grpcListen, "localhost:50051"},
		{"db", *dbPath, "marcopolo.db"},
		{"disable-port", *disablePort, false},
		{"gap-bits", *gapBits, 0},
		{"status-interval", *statusInterval, time.Minute},
		{"version", *showVersion, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.got)
			assert.NotNil(t, flag.Lookup(tc.name), "flag -%s not registered", tc.name)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	c, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, uart.DefaultOversampleDivisor, c.GetOversampleDivisor())

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestOpenBridge_Disabled(t *testing.T) {
	testutil.MuteLogs(t)
	br, cfg, err := openBridge(nil, "", true, fastConfig(), 1)
	require.NoError(t, err)
	defer br.Close()
	assert.Equal(t, 4, cfg.Baud.OversampleDivisor())

	reply, err := br.Inject([]byte("MARCO"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\n\rPOLO!\n\r"), reply)
}

func TestOpenBridge_Port(t *testing.T) {
	testutil.MuteLogs(t)
	p := serialmux.NewTestableSerialPort()
	factory := serialmux.NewMockSerialPortFactory(p)

	br, _, err := openBridge(factory, "/dev/ttyUSB3", false, fastConfig(), 0)
	require.NoError(t, err)
	defer br.Close()
	require.Len(t, factory.OpenCalls, 1)
	assert.Equal(t, "/dev/ttyUSB3", factory.OpenCalls[0].Path)
	// baud rate derived from divisor 4 at 50 MHz
	assert.Equal(t, 1562500, factory.OpenCalls[0].Opts.BaudRate)

	factory.Error = errors.New("busy")
	_, _, err = openBridge(factory, "/dev/ttyUSB3", false, fastConfig(), 0)
	assert.Error(t, err)

	bad := config.DefaultUARTConfig()
	zero := 0
	bad.OversampleDivisor = &zero
	_, _, err = openBridge(factory, "/dev/ttyUSB3", false, bad, 0)
	assert.ErrorIs(t, err, uart.ErrInvalidDivisor)
}

func TestRecorder_PersistsBridgeEvents(t *testing.T) {
	testutil.MuteLogs(t)
	store, err := db.NewDB(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	defer store.Close()

	br, cfg, err := openBridge(nil, "", true, fastConfig(), 0)
	require.NoError(t, err)
	defer br.Close()

	sess, err := store.StartSession(db.SessionBridge, "disabled", cfg)
	require.NoError(t, err)
	rec := &recorder{store: store, sessionID: sess.ID, digest: capture.NewDigest()}

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	id, ch := br.SubscribeLossless()
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.run(ctx, ch, clock, time.Second)
	}()

	_, err = br.Inject([]byte("MARCO"))
	require.NoError(t, err)

	// events land in the store once the flush ticker fires
	deadline := time.Now().Add(5 * time.Second)
	var counts map[uart.EventKind]int
	for time.Now().Before(deadline) {
		clock.Advance(time.Second)
		counts, err = store.EventCounts(sess.ID)
		require.NoError(t, err)
		if counts[uart.EventTxByte] == 9 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 5, counts[uart.EventRxByte])
	assert.Equal(t, 1, counts[uart.EventTrigger])
	assert.Equal(t, 9, counts[uart.EventTxByte])

	cancel()
	<-done
	br.Unsubscribe(id)

	assert.Equal(t, capture.Checksum([]byte("MARCO")), rec.digest.RX())
	assert.Equal(t, capture.Checksum([]byte("\n\rPOLO!\n\r")), rec.digest.TX())
}

func TestRecorder_FlushesWhenBatchFull(t *testing.T) {
	testutil.MuteLogs(t)
	store, err := db.NewDB(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	defer store.Close()
	sess, err := store.StartSession(db.SessionBridge, "x", uart.DefaultConfig())
	require.NoError(t, err)

	rec := &recorder{store: store, sessionID: sess.ID, digest: capture.NewDigest()}
	for i := 0; i < recordFlush; i++ {
		require.NoError(t, rec.add(uart.Event{Cycle: uint64(i), Kind: uart.EventRxByte, Byte: 'a'}))
	}
	assert.Empty(t, rec.batch)
	events, err := store.Events(sess.ID, "")
	require.NoError(t, err)
	assert.Len(t, events, recordFlush)

	require.NoError(t, rec.flush())
}

func TestRecorder_StopsWhenChannelCloses(t *testing.T) {
	testutil.MuteLogs(t)
	store, err := db.NewDB(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	defer store.Close()
	sess, err := store.StartSession(db.SessionBridge, "x", uart.DefaultConfig())
	require.NoError(t, err)

	rec := &recorder{store: store, sessionID: sess.ID, digest: capture.NewDigest()}
	ch := make(chan uart.Event, 1)
	ch <- uart.Event{Cycle: 7, Kind: uart.EventTrigger}
	close(ch)
	rec.run(context.Background(), ch, timeutil.NewMockClock(time.Unix(0, 0)), time.Hour)

	events, err := store.Events(sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []uart.Event{{Cycle: 7, Kind: uart.EventTrigger}}, events)
}

func TestRecorder_DrainsBufferedEventsOnCancel(t *testing.T) {
	testutil.MuteLogs(t)
	store, err := db.NewDB(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	defer store.Close()
	sess, err := store.StartSession(db.SessionBridge, "x", uart.DefaultConfig())
	require.NoError(t, err)

	rec := &recorder{store: store, sessionID: sess.ID, digest: capture.NewDigest()}
	ch := make(chan uart.Event, 8)
	for i, c := range []byte("MARCO") {
		ch <- uart.Event{Cycle: uint64(10 * (i + 1)), Kind: uart.EventRxByte, Byte: c}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.run(ctx, ch, timeutil.NewMockClock(time.Unix(0, 0)), time.Hour)

	counts, err := store.EventCounts(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, counts[uart.EventRxByte])
	assert.Empty(t, ch)
	assert.Equal(t, capture.Checksum([]byte("MARCO")), rec.digest.RX())
}

func TestLogStatus(t *testing.T) {
	testutil.MuteLogs(t)
	br, _, err := openBridge(nil, "", true, fastConfig(), 0)
	require.NoError(t, err)
	defer br.Close()

	var mu sync.Mutex
	var lines []string
	logf := func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(lines)
	}

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		logStatus(ctx, br, clock, time.Minute, logf)
	}()

	// the ticker is created inside the goroutine, so keep advancing
	deadline := time.Now().Add(5 * time.Second)
	for count() == 0 && time.Now().Before(deadline) {
		clock.Advance(time.Minute)
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "cycle=105 "), lines[0])
}

func TestStatusLine(t *testing.T) {
	st := serialmux.Status{
		Cycle:        42,
		Stats:        uart.Stats{BytesReceived: 5, BytesSent: 9, Triggers: 1},
		HostBytesIn:  5,
		HostBytesOut: 9,
		Subscribers:  2,
	}
	got := statusLine(st)
	assert.Equal(t, "cycle=42 rx=5 tx=9 triggers=1 overruns=0 framing=0 host_in=5 host_out=9 subscribers=2", got)
}
