package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kavach-app/kavach/internal/escalate"
	"github.com/kavach-app/kavach/internal/event"
	"github.com/kavach-app/kavach/internal/geofence"
	"github.com/kavach-app/kavach/internal/registry"
	"github.com/kavach-app/kavach/internal/store"
	dialermock "github.com/kavach-app/kavach/pkg/provider/dialer/mock"
	geomock "github.com/kavach-app/kavach/pkg/provider/geocode/mock"
	"github.com/kavach-app/kavach/pkg/provider/notify"
	posmock "github.com/kavach-app/kavach/pkg/provider/position/mock"
)

// fakeDetectors implements DetectorControl without real detectors.
type fakeDetectors struct {
	mu       sync.Mutex
	settings store.SafetySettings
}

func (f *fakeDetectors) Settings() store.SafetySettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeDetectors) SetScreamDetection(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.ScreamDetectionEnabled = enabled
	return nil
}

func (f *fakeDetectors) SetVoiceCommand(_ context.Context, enabled bool, language string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.VoiceCommandEnabled = enabled
	f.settings.VoiceLanguage = language
	return nil
}

func (f *fakeDetectors) SetGeofenceEnabled(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.GeofenceEnabled = enabled
	return nil
}

type apiFixture struct {
	srv       *httptest.Server
	mem       *store.Memory
	reg       *registry.Registry
	seq       *escalate.Sequencer
	dialer    *dialermock.Dialer
	bus       *event.Bus
	detectors *fakeDetectors
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mem := store.NewMemory()
	bus := event.NewBus()
	reg := registry.New(mem)
	d := dialermock.New()

	seq := escalate.New(reg, d, &notify.Slog{}, mem, bus,
		escalate.WithConfig(escalate.Config{
			CountdownTicks: 5,
			TickInterval:   100 * time.Millisecond,
			DialDelay:      100 * time.Millisecond,
			DisplayDelay:   100 * time.Millisecond,
		}),
	)

	monitor := geofence.New(posmock.New(), bus, mem,
		geofence.WithGeocoder(geomock.New("Connaught Place, New Delhi")))

	detectors := &fakeDetectors{settings: store.SafetySettings{
		VoiceLanguage:            "en-IN",
		VoiceConfidenceThreshold: 0.6,
	}}

	api := New(Deps{
		Sequencer: seq,
		Registry:  reg,
		Monitor:   monitor,
		Store:     mem,
		Bus:       bus,
		Detectors: detectors,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiFixture{
		srv:       srv,
		mem:       mem,
		reg:       reg,
		seq:       seq,
		dialer:    d,
		bus:       bus,
		detectors: detectors,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResp[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (f *apiFixture) addContact(t *testing.T, name, phone string, priority int) store.Contact {
	t.Helper()
	resp := f.do(t, "POST", "/api/contacts", store.Contact{Name: name, Phone: phone, Priority: priority})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add contact: status %d", resp.StatusCode)
	}
	return decodeResp[store.Contact](t, resp)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp := f.do(t, "GET", path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestSOSWithoutContactsConflicts(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, "POST", "/api/sos", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestSOSThenCancel(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	f.addContact(t, "Mom", "9876543210", 1)

	resp := f.do(t, "POST", "/api/sos", sosRequest{Reason: "manual_sos"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("sos status = %d, want 202", resp.StatusCode)
	}
	st := decodeResp[escalationStatus](t, resp)
	if st.State != string(escalate.StateCountingDown) {
		t.Errorf("state = %q, want counting_down", st.State)
	}

	resp = f.do(t, "POST", "/api/escalation/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}
	st = decodeResp[escalationStatus](t, resp)
	if st.State != string(escalate.StateIdle) {
		t.Errorf("state after cancel = %q, want idle", st.State)
	}
	if calls := f.dialer.Calls(); len(calls) != 0 {
		t.Errorf("dial calls after countdown cancel = %d, want 0", len(calls))
	}
}

func TestCancelWhileIdleConflicts(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, "POST", "/api/escalation/stop", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestQuickCall(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	f.addContact(t, "Mom", "098-765 43210", 1)

	resp := f.do(t, "POST", "/api/quickcall", quickCallRequest{Index: 0})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	calls := f.dialer.Calls()
	if len(calls) != 1 || calls[0] != "+919876543210" {
		t.Errorf("dial calls = %v, want one normalized call", calls)
	}

	resp = f.do(t, "POST", "/api/quickcall", quickCallRequest{Index: 7})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("out-of-range status = %d, want 404", resp.StatusCode)
	}
}

func TestContactCRUD(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	added := f.addContact(t, "Asha", "9876543210", 2)
	if added.ID == "" {
		t.Fatal("added contact has no ID")
	}

	resp := f.do(t, "GET", "/api/contacts", nil)
	contacts := decodeResp[[]store.Contact](t, resp)
	if len(contacts) != 1 || contacts[0].Name != "Asha" {
		t.Errorf("contacts = %+v", contacts)
	}

	resp = f.do(t, "PUT", "/api/contacts/"+added.ID,
		store.Contact{Name: "Asha Didi", Phone: "9876543210", Priority: 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}

	resp = f.do(t, "DELETE", "/api/contacts/"+added.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp = f.do(t, "DELETE", "/api/contacts/"+added.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestContactLimit(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	for i := 0; i < registry.MaxContacts; i++ {
		f.addContact(t, fmt.Sprintf("Contact %d", i), "9876543210", i)
	}

	resp := f.do(t, "POST", "/api/contacts", store.Contact{Name: "One Too Many", Phone: "9876543210"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestServices(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, "GET", "/api/services", nil)
	services := decodeResp[[]store.Service](t, resp)
	if len(services) != 2 {
		t.Fatalf("default services = %d, want 2", len(services))
	}

	resp = f.do(t, "PUT", "/api/services", []store.Service{
		{Kind: "police", Name: "Police", Phone: "100"},
		{Kind: "ambulance", Name: "Ambulance", Phone: "102"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set services status = %d", resp.StatusCode)
	}

	resp = f.do(t, "PUT", "/api/services", []store.Service{
		{Kind: "a", Name: "A", Phone: "1"},
		{Kind: "b", Name: "B", Phone: "2"},
		{Kind: "c", Name: "C", Phone: "3"},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("over-limit status = %d, want 409", resp.StatusCode)
	}
}

func TestSettingsPartialUpdate(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	enabled := true
	lang := "ta-IN"
	resp := f.do(t, "PUT", "/api/settings", settingsRequest{
		ScreamDetection: &enabled,
		VoiceLanguage:   &lang,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeResp[store.SafetySettings](t, resp)
	if !got.ScreamDetectionEnabled {
		t.Error("scream detection not enabled")
	}
	if got.VoiceLanguage != "ta-IN" {
		t.Errorf("voice language = %q, want ta-IN", got.VoiceLanguage)
	}
	// Untouched fields keep their values.
	if got.GeofenceEnabled {
		t.Error("geofence should remain disabled")
	}
}

func TestGeofenceAnchorLifecycle(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, "PUT", "/api/geofence/anchor", anchorRequest{
		Latitude:  28.6315,
		Longitude: 77.2167,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set anchor status = %d", resp.StatusCode)
	}
	st := decodeResp[geofenceStatus](t, resp)
	if st.Anchor == nil || st.Anchor.Label != "Connaught Place, New Delhi" {
		t.Errorf("anchor = %+v, want geocoded label", st.Anchor)
	}

	resp = f.do(t, "DELETE", "/api/geofence/anchor", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear anchor status = %d", resp.StatusCode)
	}

	resp = f.do(t, "GET", "/api/geofence", nil)
	st = decodeResp[geofenceStatus](t, resp)
	if st.Anchor != nil {
		t.Errorf("anchor after clear = %+v, want nil", st.Anchor)
	}
}

func TestSetAnchorRejectsBadCoordinates(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, "PUT", "/api/geofence/anchor", anchorRequest{Latitude: 123, Longitude: 0})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	ctx := context.Background()
	if err := f.mem.AppendScreamDetection(ctx, store.ScreamRecord{
		Timestamp: time.Now(), VolumeRaw: 180, FrequencyHz: 2400,
	}); err != nil {
		t.Fatalf("seed scream: %v", err)
	}
	if err := f.mem.AppendVoiceCommand(ctx, store.VoiceCommandRecord{
		Timestamp: time.Now(), Transcript: "bachao", Language: "hi-IN", Confidence: 0.9,
	}); err != nil {
		t.Fatalf("seed voice: %v", err)
	}
	if err := f.mem.AppendGeofenceAlert(ctx, store.GeofenceAlert{
		Timestamp: time.Now(), DistanceKm: 4.8, Latitude: 28.6765, Longitude: 77.2167, ZoneLabel: "home",
	}); err != nil {
		t.Fatalf("seed geofence alert: %v", err)
	}

	resp := f.do(t, "GET", "/api/history/screams?limit=10", nil)
	screams := decodeResp[[]store.ScreamRecord](t, resp)
	if len(screams) != 1 {
		t.Errorf("screams = %d, want 1", len(screams))
	}

	resp = f.do(t, "GET", "/api/history/voice", nil)
	voices := decodeResp[[]store.VoiceCommandRecord](t, resp)
	if len(voices) != 1 || voices[0].Transcript != "bachao" {
		t.Errorf("voice history = %+v", voices)
	}

	resp = f.do(t, "GET", "/api/history/geofence", nil)
	alerts := decodeResp[[]store.GeofenceAlert](t, resp)
	if len(alerts) != 1 || alerts[0].ZoneLabel != "home" {
		t.Errorf("geofence history = %+v", alerts)
	}

	resp = f.do(t, "GET", "/api/history/emergencies", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("emergencies status = %d", resp.StatusCode)
	}
}
