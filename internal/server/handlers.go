package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
	"github.com/wardenlabs/warden/internal/health"
	"github.com/wardenlabs/warden/internal/risk"
	"github.com/wardenlabs/warden/internal/snapshot"
	"github.com/wardenlabs/warden/internal/validation"
)

// HealthSource evaluates the healthy signal.
type HealthSource interface {
	Check() health.Status
}

// ModeSource reports the system mode.
type ModeSource interface {
	Current() domain.SystemMode
	TradingAllowed() bool
}

// RiskSource reports the governor's day state.
type RiskSource interface {
	State() risk.State
	DailyPnL() map[string]decimal.Decimal
}

// ExecutionSource reports which adapter intents route to.
type ExecutionSource interface {
	Mode() domain.ExecutionMode
}

// SnapshotSource reads sealed daily records.
type SnapshotSource interface {
	ByDate(date string) (snapshot.Sealed, error)
	Range(start, end string) ([]snapshot.Sealed, error)
	Latest() (snapshot.Sealed, error)
}

// RuntimeSource reports validation runtime accumulation.
type RuntimeSource interface {
	ActiveTradingDays() int
	StartDate() string
	LastActiveDate() string
}

// ConfidenceSource evaluates the confidence gate.
type ConfidenceSource interface {
	Check() validation.Report
}

// FeedSource reports live market-feed connectivity. Leave nil when the
// process runs without a feed.
type FeedSource interface {
	IsConnected() bool
}

// HandlersConfig wires the read-only sources behind the API.
type HandlersConfig struct {
	Log             zerolog.Logger
	Monitor         HealthSource
	Mode            ModeSource
	Risk            RiskSource
	Execution       ExecutionSource
	Journal         *events.Log
	Snapshots       SnapshotSource
	Shadow          validation.RecordSource
	Confidence      ConfidenceSource
	Runtime         RuntimeSource
	Feed            FeedSource
	BaselineLatency time.Duration
}

// Handlers serves the operator endpoints.
type Handlers struct {
	log             zerolog.Logger
	monitor         HealthSource
	mode            ModeSource
	risk            RiskSource
	execution       ExecutionSource
	journal         *events.Log
	snapshots       SnapshotSource
	shadow          validation.RecordSource
	confidence      ConfidenceSource
	runtime         RuntimeSource
	feed            FeedSource
	baselineLatency time.Duration
}

// NewHandlers creates the handler set.
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		log:             cfg.Log.With().Str("component", "api").Logger(),
		monitor:         cfg.Monitor,
		mode:            cfg.Mode,
		risk:            cfg.Risk,
		execution:       cfg.Execution,
		journal:         cfg.Journal,
		snapshots:       cfg.Snapshots,
		shadow:          cfg.Shadow,
		confidence:      cfg.Confidence,
		runtime:         cfg.Runtime,
		feed:            cfg.Feed,
		baselineLatency: cfg.BaselineLatency,
	}
}

// HandleHealth reports the healthy signal with freshness evidence.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.monitor.Check())
}

// HandleStatus reports mode, risk state and whether trading is allowed.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	riskState := h.risk.State()

	response := map[string]interface{}{
		"systemMode":     string(h.mode.Current()),
		"executionMode":  h.execution.Mode().String(),
		"riskState":      riskState.Label(),
		"tradingAllowed": h.mode.TradingAllowed(),
		"dailyPnl":       h.risk.DailyPnL(),
	}
	if riskState.Paused {
		response["riskPauseReason"] = riskState.Reason
		response["riskPausedSince"] = riskState.Since
	}
	if h.feed != nil {
		response["marketFeedConnected"] = h.feed.IsConnected()
	}
	h.writeJSON(w, response)
}

// HandleEvents filters the journal by type, strategy, account and time range.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	q := events.Query{
		StrategyID: r.URL.Query().Get("strategy"),
		AccountID:  r.URL.Query().Get("account"),
		Limit:      100,
	}

	if raw := r.URL.Query().Get("type"); raw != "" {
		t := events.EventType(raw)
		if !t.Valid() {
			h.writeError(w, http.StatusBadRequest, "unknown event type "+strconv.Quote(raw))
			return
		}
		q.Type = t
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid from timestamp "+strconv.Quote(raw))
			return
		}
		q.From = ts
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid to timestamp "+strconv.Quote(raw))
			return
		}
		q.To = ts
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit "+strconv.Quote(raw))
			return
		}
		if n > 1000 {
			n = 1000
		}
		q.Limit = n
	}

	matched := h.journal.Filter(q)
	h.writeJSON(w, map[string]interface{}{
		"count":  len(matched),
		"events": matched,
	})
}

// HandleSnapshots returns one sealed day or a date range of sealed days.
func (h *Handlers) HandleSnapshots(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	start := r.URL.Query().Get("startDate")
	end := r.URL.Query().Get("endDate")

	switch {
	case date != "" && (start != "" || end != ""):
		h.writeError(w, http.StatusBadRequest, "specify either date or startDate/endDate, not both")
	case date != "":
		sealed, err := h.snapshots.ByDate(date)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		h.writeJSON(w, sealedResponse(sealed))
	case start != "" && end != "":
		records, err := h.snapshots.Range(start, end)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		out := make([]map[string]interface{}, 0, len(records))
		for _, sealed := range records {
			out = append(out, sealedResponse(sealed))
		}
		h.writeJSON(w, map[string]interface{}{"count": len(out), "snapshots": out})
	default:
		h.writeError(w, http.StatusBadRequest, "date or startDate/endDate required")
	}
}

// HandleReplay rebuilds days from the event stream and compares them with
// their sealed snapshots.
func (h *Handlers) HandleReplay(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	start := r.URL.Query().Get("startDate")
	end := r.URL.Query().Get("endDate")

	switch {
	case date != "" && (start != "" || end != ""):
		h.writeError(w, http.StatusBadRequest, "specify either date or startDate/endDate, not both")
	case date != "":
		if _, err := time.Parse("2006-01-02", date); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid date "+strconv.Quote(date))
			return
		}
		h.writeJSON(w, snapshot.ReplayDay(date, h.journal, h.sealedFor(date)))
	case start != "" && end != "":
		days, err := snapshot.ReplayRange(start, end, h.journal, h.sealedRange(start, end))
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		divergent := 0
		for _, day := range days {
			if len(day.Discrepancies) > 0 {
				divergent++
			}
		}
		h.writeJSON(w, map[string]interface{}{
			"count":     len(days),
			"divergent": divergent,
			"days":      days,
		})
	default:
		h.writeError(w, http.StatusBadRequest, "date or startDate/endDate required")
	}
}

// HandleParitySummary reports simulator-versus-observation parity.
func (h *Handlers) HandleParitySummary(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, validation.Parity(h.shadow.Records(), h.baselineLatency))
}

// HandleValidationStatus reports the confidence gate decision and the
// runtime evidence behind it.
func (h *Handlers) HandleValidationStatus(w http.ResponseWriter, r *http.Request) {
	report := h.confidence.Check()
	h.writeJSON(w, map[string]interface{}{
		"confidence": report,
		"runtime": map[string]interface{}{
			"activeTradingDays": h.runtime.ActiveTradingDays(),
			"startDate":         h.runtime.StartDate(),
			"lastActiveDate":    h.runtime.LastActiveDate(),
		},
	})
}

// sealedFor loads a day's snapshot for replay comparison, nil when unsealed.
func (h *Handlers) sealedFor(date string) *snapshot.Snapshot {
	sealed, err := h.snapshots.ByDate(date)
	if err != nil {
		return nil
	}
	return &sealed.Snapshot
}

func (h *Handlers) sealedRange(start, end string) map[string]*snapshot.Snapshot {
	out := make(map[string]*snapshot.Snapshot)
	records, err := h.snapshots.Range(start, end)
	if err != nil {
		return out
	}
	for i := range records {
		out[records[i].Snapshot.Date] = &records[i].Snapshot
	}
	return out
}

// sealedResponse embeds the canonical payload untouched so clients see the
// exact bytes the checksum covers.
func sealedResponse(sealed snapshot.Sealed) map[string]interface{} {
	return map[string]interface{}{
		"date":     sealed.Snapshot.Date,
		"checksum": sealed.Checksum,
		"snapshot": json.RawMessage(sealed.Payload),
	}
}

// parseTime accepts RFC3339 timestamps and bare UTC dates.
func parseTime(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case domain.CategoryOf(err) == domain.CategoryInputInvalid:
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg("Store read failed")
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode error response")
	}
}
