package db

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/marcopolo/internal/bench"
	"github.com/banshee-data/marcopolo/internal/testutil"
	"github.com/banshee-data/marcopolo/internal/timeutil"
	"github.com/banshee-data/marcopolo/internal/uart"
)

var testEpoch = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*DB, *timeutil.MockClock) {
	t.Helper()
	testutil.MuteLogs(t)
	clock := timeutil.NewMockClock(testEpoch)
	db, err := NewDBWithClock(filepath.Join(t.TempDir(), "sessions.db"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, clock
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	db, _ := setupTestDB(t)
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(LatestSchemaVersion), version)
	assert.False(t, dirty)

	// reopening an up-to-date database is a no-op
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	db, _ := setupTestDB(t)
	require.NoError(t, db.MigrateDown())

	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	_, err = db.Exec(`SELECT COUNT(*) FROM exchanges`)
	assert.Error(t, err, "exchanges table should be gone after rolling back")

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(LatestSchemaVersion), version)
}

func TestSessionLifecycle(t *testing.T) {
	db, clock := setupTestDB(t)
	cfg := uart.DefaultConfig()

	s, err := db.StartSession(SessionSim, "MARCO", cfg)
	require.NoError(t, err)
	assert.Len(t, s.ID, 36)

	got, err := db.Session(s.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionSim, got.Kind)
	assert.Equal(t, 651, got.OversampleDivisor)
	assert.Equal(t, []byte("MARCO"), got.Trigger)
	assert.Equal(t, []byte("\n\rPOLO!\n\r"), got.Reply)
	assert.True(t, got.StartedAt.Equal(testEpoch))
	assert.Nil(t, got.EndedAt)
	assert.Nil(t, got.Stats)

	clock.Advance(3 * time.Second)
	stats := uart.Stats{Cycles: 1234, BytesReceived: 5, Triggers: 1, BytesSent: 9}
	require.NoError(t, db.EndSession(s.ID, 1234, stats, 0xBEEF, 0x1234))

	got, err = db.Session(s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(testEpoch.Add(3*time.Second)))
	assert.Equal(t, uint64(1234), got.Cycles)
	assert.Equal(t, &stats, got.Stats)
	require.NotNil(t, got.CRCRX)
	assert.Equal(t, uint16(0xBEEF), *got.CRCRX)
	assert.Equal(t, uint16(0x1234), *got.CRCTX)
}

func TestSessionNotFound(t *testing.T) {
	db, _ := setupTestDB(t)
	_, err := db.Session("nope")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.ErrorIs(t, db.EndSession("nope", 0, uart.Stats{}, 0, 0), ErrSessionNotFound)
	assert.ErrorIs(t, db.DeleteSession("nope"), ErrSessionNotFound)
}

func TestRecordEvents(t *testing.T) {
	db, _ := setupTestDB(t)
	s, err := db.StartSession(SessionBridge, "/dev/ttyUSB0", uart.DefaultConfig())
	require.NoError(t, err)

	events := []uart.Event{
		{Cycle: 10, Kind: uart.EventRxByte, Byte: 'M'},
		{Cycle: 20, Kind: uart.EventRxByte, Byte: 'A'},
		{Cycle: 20, Kind: uart.EventTrigger},
		{Cycle: 30, Kind: uart.EventTxStart, Byte: '\n'},
	}
	require.NoError(t, db.RecordEvents(s.ID, events))
	require.NoError(t, db.RecordEvents(s.ID, nil))

	all, err := db.Events(s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, events, all)

	rx, err := db.Events(s.ID, uart.EventRxByte)
	require.NoError(t, err)
	assert.Equal(t, events[:2], rx)

	counts, err := db.EventCounts(s.ID)
	require.NoError(t, err)
	assert.Equal(t, map[uart.EventKind]int{
		uart.EventRxByte:  2,
		uart.EventTrigger: 1,
		uart.EventTxStart: 1,
	}, counts)
}

func TestRecordEvents_UnknownSessionRejected(t *testing.T) {
	db, _ := setupTestDB(t)
	err := db.RecordEvents("missing", []uart.Event{{Cycle: 1, Kind: uart.EventRxByte}})
	assert.Error(t, err, "foreign key should reject events for an unknown session")
}

func TestRecordExchange(t *testing.T) {
	db, _ := setupTestDB(t)
	s, err := db.StartSession(SessionSim, "exchange", uart.DefaultConfig())
	require.NoError(t, err)

	ex := bench.Exchange{
		Sent:         []byte("MARCO"),
		Reply:        []byte("\n\rPOLO!\n\r"),
		TriggerCycle: 260_000,
		BusyCycle:    265_000,
		DoneCycle:    735_000,
	}
	require.NoError(t, db.RecordExchange(s.ID, ex))
	require.NoError(t, db.RecordExchange(s.ID, bench.Exchange{Sent: []byte("HELLO")}))

	got, err := db.Exchanges(s.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ex, got[0])
	assert.Equal(t, []byte("HELLO"), got[1].Sent)
	assert.Empty(t, got[1].Reply)
}

func TestSessionsOrderAndDelete(t *testing.T) {
	db, clock := setupTestDB(t)
	var ids []string
	for _, label := range []string{"a", "b", "c"} {
		s, err := db.StartSession(SessionSim, label, uart.DefaultConfig())
		require.NoError(t, err)
		require.NoError(t, db.RecordEvents(s.ID, []uart.Event{{Cycle: 1, Kind: uart.EventRxByte}}))
		ids = append(ids, s.ID)
		clock.Advance(time.Minute)
	}

	list, err := db.Sessions(2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].Label)
	assert.Equal(t, "b", list[1].Label)

	require.NoError(t, db.DeleteSession(ids[2]))
	events, err := db.Events(ids[2], "")
	require.NoError(t, err)
	assert.Empty(t, events, "events should cascade with their session")

	list, err = db.Sessions(0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestAttachAdminRoutes_Sessions(t *testing.T) {
	db, _ := setupTestDB(t)
	s, err := db.StartSession(SessionSim, "MARCO", uart.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, db.RecordEvents(s.ID, []uart.Event{{Cycle: 5, Kind: uart.EventTrigger}}))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.LoopbackRequest(http.MethodGet, "/debug/sessions", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var list []Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, s.ID, list[0].ID)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.LoopbackRequest(http.MethodGet, "/debug/sessions?id="+s.ID, ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var detail struct {
		Session     Session                `json:"session"`
		EventCounts map[uart.EventKind]int `json:"event_counts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&detail))
	assert.Equal(t, 1, detail.EventCounts[uart.EventTrigger])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.LoopbackRequest(http.MethodGet, "/debug/sessions?id=missing", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.LoopbackRequest(http.MethodGet, "/debug/sessions?limit=x", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}
