// Package httpapi exposes the safety engine to the companion dashboard app:
// a JSON REST surface for escalation control, contacts, settings, and
// history, plus a websocket feed of live detection and escalation events.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kavach-app/kavach/internal/escalate"
	"github.com/kavach-app/kavach/internal/event"
	"github.com/kavach-app/kavach/internal/geofence"
	"github.com/kavach-app/kavach/internal/health"
	"github.com/kavach-app/kavach/internal/observe"
	"github.com/kavach-app/kavach/internal/registry"
	"github.com/kavach-app/kavach/internal/store"
	"github.com/kavach-app/kavach/pkg/provider/dialer"
)

// maxBodyBytes caps request bodies; every payload this API accepts is tiny.
const maxBodyBytes = 64 << 10

// defaultHistoryLimit is used when a history request has no limit parameter.
const defaultHistoryLimit = 50

// DetectorControl toggles detectors and reports the active safety settings.
// Satisfied by the application core.
type DetectorControl interface {
	Settings() store.SafetySettings
	SetScreamDetection(ctx context.Context, enabled bool) error
	SetVoiceCommand(ctx context.Context, enabled bool, language string) error
	SetGeofenceEnabled(ctx context.Context, enabled bool) error
}

// Deps holds everything the API serves. All fields are required except
// Health and Metrics, which fall back to sensible defaults.
type Deps struct {
	Sequencer *escalate.Sequencer
	Registry  *registry.Registry
	Monitor   *geofence.Monitor
	Store     store.Store
	Bus       *event.Bus
	Detectors DetectorControl
	Health    *health.Handler
	Metrics   *observe.Metrics
}

// Server is the engine's HTTP surface.
type Server struct {
	deps Deps
	log  *slog.Logger
}

// Option is a functional option for New.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New creates the API server around the given dependencies.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{deps: deps, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.deps.Health == nil {
		s.deps.Health = health.New(health.Store(deps.Store))
	}
	if s.deps.Metrics == nil {
		s.deps.Metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the fully routed handler, with the observability
// middleware applied to every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.deps.Health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/sos", s.handleSOS)
	mux.HandleFunc("GET /api/escalation", s.handleEscalationStatus)
	mux.HandleFunc("POST /api/escalation/cancel", s.action(s.deps.Sequencer.Cancel))
	mux.HandleFunc("POST /api/escalation/continue", s.action(s.deps.Sequencer.Continue))
	mux.HandleFunc("POST /api/escalation/stop", s.action(s.deps.Sequencer.Stop))
	mux.HandleFunc("POST /api/escalation/dismiss", s.action(s.deps.Sequencer.Dismiss))
	mux.HandleFunc("POST /api/quickcall", s.handleQuickCall)

	mux.HandleFunc("GET /api/contacts", s.handleListContacts)
	mux.HandleFunc("POST /api/contacts", s.handleAddContact)
	mux.HandleFunc("PUT /api/contacts/{id}", s.handleUpdateContact)
	mux.HandleFunc("DELETE /api/contacts/{id}", s.handleRemoveContact)

	mux.HandleFunc("GET /api/services", s.handleListServices)
	mux.HandleFunc("PUT /api/services", s.handleSetServices)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)

	mux.HandleFunc("GET /api/geofence", s.handleGeofenceStatus)
	mux.HandleFunc("PUT /api/geofence/anchor", s.handleSetAnchor)
	mux.HandleFunc("DELETE /api/geofence/anchor", s.handleClearAnchor)

	mux.HandleFunc("GET /api/history/screams", s.handleScreamHistory)
	mux.HandleFunc("GET /api/history/voice", s.handleVoiceHistory)
	mux.HandleFunc("GET /api/history/geofence", s.handleGeofenceHistory)
	mux.HandleFunc("GET /api/history/emergencies", s.handleEmergencyHistory)

	mux.HandleFunc("GET /ws", s.handleWS)

	return observe.Middleware(s.deps.Metrics)(mux)
}

// ─── Escalation ──────────────────────────────────────────────────────────────

type sosRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleSOS(w http.ResponseWriter, r *http.Request) {
	var req sosRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual_sos"
	}

	s.deps.Bus.PublishDetection(event.Detection{
		Kind:      event.KindManual,
		Timestamp: time.Now(),
	})
	s.deps.Metrics.RecordDetection(r.Context(), string(event.KindManual))

	if err := s.deps.Sequencer.Trigger(reason); err != nil {
		if errors.Is(err, escalate.ErrNoContactsConfigured) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse(s.deps.Sequencer.Status()))
}

func (s *Server) handleEscalationStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse(s.deps.Sequencer.Status()))
}

// action adapts a state-machine transition into a handler with uniform
// error mapping.
func (s *Server) action(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(); err != nil {
			if errors.Is(err, escalate.ErrInvalidState) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, statusResponse(s.deps.Sequencer.Status()))
	}
}

type quickCallRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleQuickCall(w http.ResponseWriter, r *http.Request) {
	var req quickCallRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.deps.Sequencer.QuickCall(r.Context(), req.Index)
	switch {
	case errors.Is(err, escalate.ErrNoSuchContact):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dialer.ErrDialFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "called"})
	}
}

// escalationStatus is the wire shape of the sequencer status.
type escalationStatus struct {
	State              string              `json:"state"`
	SessionID          string              `json:"session_id,omitempty"`
	Reason             string              `json:"reason,omitempty"`
	StartedAt          *time.Time          `json:"started_at,omitempty"`
	CountdownRemaining int                 `json:"countdown_remaining"`
	ContactName        string              `json:"contact_name,omitempty"`
	ContactNumber      string              `json:"contact_number,omitempty"`
	Attempts           []store.DialAttempt `json:"attempts,omitempty"`
}

func statusResponse(st escalate.Status) escalationStatus {
	resp := escalationStatus{
		State:              string(st.State),
		SessionID:          st.SessionID,
		Reason:             st.Reason,
		CountdownRemaining: st.CountdownRemaining,
		ContactName:        st.ContactName,
		ContactNumber:      st.ContactNumber,
		Attempts:           st.Attempts,
	}
	if !st.StartedAt.IsZero() {
		t := st.StartedAt
		resp.StartedAt = &t
	}
	return resp
}

// ─── Contacts and services ───────────────────────────────────────────────────

func (s *Server) handleListContacts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.Contacts())
}

func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var c store.Contact
	if err := decodeBody(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	added, err := s.deps.Registry.AddContact(r.Context(), c)
	switch {
	case errors.Is(err, registry.ErrContactLimit):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrInvalidContact):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusCreated, added)
	}
}

func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	var c store.Contact
	if err := decodeBody(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.ID = r.PathValue("id")

	err := s.deps.Registry.UpdateContact(r.Context(), c)
	switch {
	case errors.Is(err, registry.ErrContactNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrInvalidContact):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, c)
	}
}

func (s *Server) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Registry.RemoveContact(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, registry.ErrContactNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.Services())
}

func (s *Server) handleSetServices(w http.ResponseWriter, r *http.Request) {
	var services []store.Service
	if err := decodeBody(w, r, &services); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.deps.Registry.SetServices(r.Context(), services)
	switch {
	case errors.Is(err, registry.ErrServiceLimit):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, s.deps.Registry.Services())
	}
}

// ─── Safety settings ─────────────────────────────────────────────────────────

// settingsRequest uses pointers so a PUT can change a subset of fields.
type settingsRequest struct {
	ScreamDetection *bool   `json:"scream_detection"`
	VoiceCommand    *bool   `json:"voice_command"`
	Geofence        *bool   `json:"geofence"`
	VoiceLanguage   *string `json:"voice_language"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Detectors.Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if req.ScreamDetection != nil {
		if err := s.deps.Detectors.SetScreamDetection(ctx, *req.ScreamDetection); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if req.VoiceCommand != nil || req.VoiceLanguage != nil {
		cur := s.deps.Detectors.Settings()
		enabled := cur.VoiceCommandEnabled
		if req.VoiceCommand != nil {
			enabled = *req.VoiceCommand
		}
		language := cur.VoiceLanguage
		if req.VoiceLanguage != nil {
			language = *req.VoiceLanguage
		}
		if err := s.deps.Detectors.SetVoiceCommand(ctx, enabled, language); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if req.Geofence != nil {
		if err := s.deps.Detectors.SetGeofenceEnabled(ctx, *req.Geofence); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, s.deps.Detectors.Settings())
}

// ─── Geofence ────────────────────────────────────────────────────────────────

type geofenceStatus struct {
	Anchor  *store.Anchor `json:"anchor,omitempty"`
	LastFix *fixResponse  `json:"last_fix,omitempty"`
}

type fixResponse struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleGeofenceStatus(w http.ResponseWriter, _ *http.Request) {
	resp := geofenceStatus{Anchor: s.deps.Monitor.Anchor()}
	if fix := s.deps.Monitor.LastFix(); fix != nil {
		resp.LastFix = &fixResponse{
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
			Timestamp: fix.Timestamp,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type anchorRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label"`
}

func (s *Server) handleSetAnchor(w http.ResponseWriter, r *http.Request) {
	var req anchorRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}

	if err := s.deps.Monitor.SetAnchor(r.Context(), req.Latitude, req.Longitude, req.Label); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, geofenceStatus{Anchor: s.deps.Monitor.Anchor()})
}

func (s *Server) handleClearAnchor(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Monitor.ClearAnchor(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── History ─────────────────────────────────────────────────────────────────

func (s *Server) handleScreamHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Store.ScreamDetections(r.Context(), historyLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleVoiceHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Store.VoiceCommands(r.Context(), historyLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGeofenceHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Store.GeofenceAlerts(r.Context(), historyLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleEmergencyHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Store.EmergencyEvents(r.Context(), historyLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func historyLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultHistoryLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	return n
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

var errEmptyBody = errors.New("httpapi: empty request body")

// decodeBody decodes a JSON request body into v, rejecting unknown fields
// and oversized payloads.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpapi: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
