package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/kavach-app/kavach/internal/event"
)

// wsSendBuffer bounds the per-client event queue. While a client's queue is
// full, new events are dropped rather than stalling the bus.
const wsSendBuffer = 32

// wsEvent is the wire shape of a bus event on the websocket feed. Type is
// "detection" or "escalation"; the matching payload field is set.
type wsEvent struct {
	Type       string        `json:"type"`
	Detection  *wsDetection  `json:"detection,omitempty"`
	Escalation *wsEscalation `json:"escalation,omitempty"`
}

type wsDetection struct {
	Kind        string    `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence,omitempty"`
	Transcript  string    `json:"transcript,omitempty"`
	Language    string    `json:"language,omitempty"`
	VolumeRaw   float64   `json:"volume_raw,omitempty"`
	FrequencyHz float64   `json:"frequency_hz,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	DistanceKm  float64   `json:"distance_km,omitempty"`
	Latitude    float64   `json:"latitude,omitempty"`
	Longitude   float64   `json:"longitude,omitempty"`
	ZoneLabel   string    `json:"zone_label,omitempty"`
}

type wsEscalation struct {
	SessionID          string    `json:"session_id"`
	State              string    `json:"state"`
	Reason             string    `json:"reason,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	ContactName        string    `json:"contact_name,omitempty"`
	ContactNumber      string    `json:"contact_number,omitempty"`
	CountdownRemaining int       `json:"countdown_remaining"`
	AttemptCount       int       `json:"attempt_count"`
}

// handleWS upgrades the connection and streams every bus event to the client
// until it disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	// Buffered fan-in from the bus; the subscriber must never block.
	events := make(chan wsEvent, wsSendBuffer)
	unsubscribe := s.deps.Bus.Subscribe(func(ev event.Event) {
		select {
		case events <- toWireEvent(ev):
		default:
		}
	})
	defer unsubscribe()

	// Drain incoming frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case ev := <-events:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func toWireEvent(ev event.Event) wsEvent {
	switch {
	case ev.Detection != nil:
		d := ev.Detection
		return wsEvent{
			Type: "detection",
			Detection: &wsDetection{
				Kind:        string(d.Kind),
				Timestamp:   d.Timestamp,
				Confidence:  d.Confidence,
				Transcript:  d.Transcript,
				Language:    d.Language,
				VolumeRaw:   d.VolumeRaw,
				FrequencyHz: d.FrequencyHz,
				DurationMs:  d.Duration.Milliseconds(),
				DistanceKm:  d.DistanceKm,
				Latitude:    d.Latitude,
				Longitude:   d.Longitude,
				ZoneLabel:   d.ZoneLabel,
			},
		}
	case ev.Escalation != nil:
		e := ev.Escalation
		return wsEvent{
			Type: "escalation",
			Escalation: &wsEscalation{
				SessionID:          e.SessionID,
				State:              e.State,
				Reason:             e.Reason,
				Timestamp:          e.Timestamp,
				ContactName:        e.ContactName,
				ContactNumber:      e.ContactNumber,
				CountdownRemaining: e.CountdownRemaining,
				AttemptCount:       e.AttemptCount,
			},
		}
	}
	return wsEvent{Type: "unknown"}
}
