package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/internal/capital"
	"github.com/wardenlabs/warden/internal/database"
	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
	"github.com/wardenlabs/warden/internal/health"
	"github.com/wardenlabs/warden/internal/risk"
	"github.com/wardenlabs/warden/internal/snapshot"
	"github.com/wardenlabs/warden/internal/validation"
)

type stubHealth struct{ st health.Status }

func (s stubHealth) Check() health.Status { return s.st }

type stubMode struct {
	mode    domain.SystemMode
	allowed bool
}

func (s stubMode) Current() domain.SystemMode { return s.mode }
func (s stubMode) TradingAllowed() bool       { return s.allowed }

type stubRisk struct {
	state risk.State
	pnl   map[string]decimal.Decimal
}

func (s stubRisk) State() risk.State                    { return s.state }
func (s stubRisk) DailyPnL() map[string]decimal.Decimal { return s.pnl }

type stubExec struct{ mode domain.ExecutionMode }

func (s stubExec) Mode() domain.ExecutionMode { return s.mode }

type stubShadow struct{ records []validation.ShadowRecord }

func (s stubShadow) Records() []validation.ShadowRecord { return s.records }

type stubConfidence struct{ report validation.Report }

func (s stubConfidence) Check() validation.Report { return s.report }

type stubRuntime struct {
	days  int
	start string
	last  string
}

func (s stubRuntime) ActiveTradingDays() int { return s.days }
func (s stubRuntime) StartDate() string      { return s.start }
func (s stubRuntime) LastActiveDate() string { return s.last }

type stubFeed struct{ connected bool }

func (s stubFeed) IsConnected() bool { return s.connected }

type apiFixture struct {
	router  http.Handler
	journal *events.Log
	store   *snapshot.Store
}

func newAPIFixture(t *testing.T, at time.Time) *apiFixture {
	t.Helper()

	journal, err := events.NewLog(events.Config{Log: zerolog.Nop(), Now: func() time.Time { return at }})
	require.NoError(t, err)

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "snapshots.db"),
		Profile: database.ProfileLedger,
		Name:    "snapshots",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := snapshot.NewStore(db, zerolog.Nop())
	require.NoError(t, err)

	handlers := NewHandlers(HandlersConfig{
		Log:     zerolog.Nop(),
		Monitor: stubHealth{st: health.Status{Healthy: true, UptimeSeconds: 42}},
		Mode:    stubMode{mode: domain.ModeAggressive, allowed: true},
		Risk: stubRisk{
			state: risk.State{Paused: false},
			pnl:   map[string]decimal.Decimal{"alpha": decimal.NewFromInt(12)},
		},
		Execution:       stubExec{mode: domain.ExecutionSimulation},
		Journal:         journal,
		Snapshots:       store,
		Shadow:          stubShadow{},
		Confidence:      stubConfidence{report: validation.Report{Allowed: false, Reasons: []string{"insufficient shadow trades"}}},
		Runtime:         stubRuntime{days: 17, start: "2026-02-10", last: "2026-02-27"},
		BaselineLatency: 250 * time.Millisecond,
	})

	srv := New(Config{Log: zerolog.Nop(), Port: 0, DevMode: true, Handlers: handlers})
	return &apiFixture{router: srv.Router(), journal: journal, store: store}
}

func (f *apiFixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

// sealDay folds the fixture journal's day into the store the same way the
// scheduler does, so replay comparisons line up.
func (f *apiFixture) sealDay(t *testing.T, date string) snapshot.Sealed {
	t.Helper()
	gen := snapshot.NewGenerator(f.journal, zerolog.Nop())
	sealed, err := gen.Generate(snapshot.Inputs{
		Date:        date,
		Directional: capital.NewPool("directional", decimal.NewFromInt(10000), 20, zerolog.Nop()).Metrics(),
		Arbitrage:   capital.NewPool("arbitrage", decimal.NewFromInt(2000), 10, zerolog.Nop()).Metrics(),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Save(sealed))
	return sealed
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	rec, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, true, body["healthy"])
	assert.Equal(t, 42.0, body["uptimeSeconds"])
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	rec, body := f.get(t, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "aggressive", body["systemMode"])
	assert.Equal(t, "simulation", body["executionMode"])
	assert.Equal(t, "normal", body["riskState"])
	assert.Equal(t, true, body["tradingAllowed"])
	assert.NotContains(t, body, "riskPauseReason")
	assert.NotContains(t, body, "marketFeedConnected")
}

func TestStatusReportsFeedConnectivity(t *testing.T) {
	handlers := NewHandlers(HandlersConfig{
		Log:       zerolog.Nop(),
		Mode:      stubMode{mode: domain.ModeObserveOnly},
		Risk:      stubRisk{},
		Execution: stubExec{mode: domain.ExecutionShadow},
		Feed:      stubFeed{connected: true},
	})

	rec := httptest.NewRecorder()
	handlers.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["marketFeedConnected"])
}

func TestEventsFilterByTypeAndStrategy(t *testing.T) {
	f := newAPIFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	f.journal.EmitFor(events.TradeExecuted, "alpha", "alpha", "order filled", nil)
	f.journal.EmitFor(events.TradeExecuted, "beta", "beta", "order filled", nil)
	f.journal.EmitFor(events.TradeBlocked, "alpha", "alpha", "regime unfavorable", nil)

	rec, body := f.get(t, "/events?type=TradeExecuted&strategy=alpha")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["count"])

	rec, body = f.get(t, "/events")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, body["count"])

	rec, body = f.get(t, "/events?type=NotAThing")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "unknown event type")
}

func TestEventsRejectsBadTimestamps(t *testing.T) {
	f := newAPIFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	rec, body := f.get(t, "/events?from=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "invalid from timestamp")

	rec, _ = f.get(t, "/events?from=2026-03-01&to=2026-03-01T23:59:59Z")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSnapshotsByDate(t *testing.T) {
	f := newAPIFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	f.journal.EmitFor(events.TradeExecuted, "alpha", "alpha", "order filled", nil)
	sealed := f.sealDay(t, "2026-03-01")

	rec, body := f.get(t, "/snapshots?date=2026-03-01")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sealed.Checksum, body["checksum"])
	snap, ok := body["snapshot"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2026-03-01", snap["date"])

	rec, _ = f.get(t, "/snapshots?date=2026-03-02")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = f.get(t, "/snapshots")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "required")

	rec, _ = f.get(t, "/snapshots?date=2026-03-01&startDate=2026-03-01")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotsRange(t *testing.T) {
	f := newAPIFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	f.sealDay(t, "2026-03-01")

	rec, body := f.get(t, "/snapshots?startDate=2026-02-28&endDate=2026-03-03")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["count"])
}

func TestReplayDayAgreesWithSeal(t *testing.T) {
	f := newAPIFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	f.journal.EmitFor(events.TradeExecuted, "alpha", "alpha", "order filled", nil)
	f.journal.EmitFor(events.TradeBlocked, "beta", "beta", "regime unfavorable", map[string]interface{}{
		"category": string(domain.CategoryRegimeDenied),
	})
	f.sealDay(t, "2026-03-01")

	rec, body := f.get(t, "/replay?date=2026-03-01")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["replayed"])
	assert.Equal(t, 1.0, body["tradesExecuted"])
	assert.Equal(t, 1.0, body["tradesBlocked"])
	assert.Nil(t, body["discrepancies"])

	rec, body = f.get(t, "/replay?startDate=2026-03-01&endDate=2026-03-01")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["divergent"])

	rec, _ = f.get(t, "/replay?date=March+1st")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParitySummaryEmpty(t *testing.T) {
	f := newAPIFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	rec, body := f.get(t, "/parity-summary")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["records"])
}

func TestValidationStatus(t *testing.T) {
	f := newAPIFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	rec, body := f.get(t, "/validation-status")
	assert.Equal(t, http.StatusOK, rec.Code)

	conf, ok := body["confidence"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, conf["allowed"])

	runtime, ok := body["runtime"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 17.0, runtime["activeTradingDays"])
	assert.Equal(t, "2026-02-10", runtime["startDate"])
}
