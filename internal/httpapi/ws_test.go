package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/kavach-app/kavach/internal/event"
)

func dialWS(t *testing.T, f *apiFixture) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(f.srv.URL, "http://", "ws://", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ev wsEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestWSStreamsDetections(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	conn := dialWS(t, f)

	f.bus.PublishDetection(event.Detection{
		Kind:        event.KindScream,
		Timestamp:   time.Now(),
		VolumeRaw:   190,
		FrequencyHz: 2400,
		Duration:    600 * time.Millisecond,
	})

	ev := readEvent(t, conn)
	if ev.Type != "detection" {
		t.Fatalf("event type = %q, want detection", ev.Type)
	}
	if ev.Detection == nil {
		t.Fatal("detection payload missing")
	}
	if ev.Detection.Kind != string(event.KindScream) {
		t.Errorf("kind = %q, want scream", ev.Detection.Kind)
	}
	if ev.Detection.DurationMs != 600 {
		t.Errorf("duration_ms = %d, want 600", ev.Detection.DurationMs)
	}
}

func TestWSStreamsEscalationTransitions(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	f.addContact(t, "Mom", "9876543210", 1)
	conn := dialWS(t, f)

	resp := f.do(t, "POST", "/api/sos", nil)
	if resp.StatusCode != 202 {
		t.Fatalf("sos status = %d", resp.StatusCode)
	}

	// The SOS publishes a manual detection followed by the counting_down
	// escalation transition.
	ev := readEvent(t, conn)
	if ev.Type != "detection" || ev.Detection == nil || ev.Detection.Kind != string(event.KindManual) {
		t.Fatalf("first event = %+v, want manual detection", ev)
	}

	ev = readEvent(t, conn)
	if ev.Type != "escalation" || ev.Escalation == nil {
		t.Fatalf("second event = %+v, want escalation", ev)
	}
	if ev.Escalation.State != "counting_down" {
		t.Errorf("state = %q, want counting_down", ev.Escalation.State)
	}
	if ev.Escalation.SessionID == "" {
		t.Error("session_id missing")
	}

	if err := f.seq.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Countdown tick events may be interleaved; the cancel shows up as a
	// transient cancelled event followed by the idle reset.
	sawCancelled := false
	for {
		ev = readEvent(t, conn)
		if ev.Type != "escalation" {
			t.Fatalf("unexpected event type %q during countdown", ev.Type)
		}
		switch ev.Escalation.State {
		case "idle":
			if !sawCancelled {
				t.Error("idle reached without a cancelled event")
			}
			return
		case "cancelled":
			sawCancelled = true
		case "counting_down":
		default:
			t.Fatalf("state = %q, want counting_down, cancelled or idle", ev.Escalation.State)
		}
	}
}
