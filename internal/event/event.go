// Package event defines the detection and escalation events that flow between
// the detectors, the escalation sequencer, and the outward-facing surfaces
// (notifiers, websocket feed, history store), plus the in-process Bus that
// carries them.
package event

import "time"

// Kind identifies the detector (or manual surface) that produced a Detection.
type Kind string

const (
	KindVoice    Kind = "voice"
	KindScream   Kind = "scream"
	KindGeofence Kind = "geofence"
	KindManual   Kind = "manual"
)

// Detection is a single threat-detection event. Only the fields relevant to
// the producing Kind are populated.
type Detection struct {
	Kind       Kind
	Timestamp  time.Time
	Confidence float64 // voice: winning alternative's confidence

	// Voice fields.
	Transcript string
	Language   string

	// Scream fields.
	VolumeRaw   float64 // normalized 0-255
	FrequencyHz float64
	Duration    time.Duration

	// Geofence fields.
	DistanceKm float64
	Latitude   float64
	Longitude  float64
	ZoneLabel  string
}

// Escalation reports a state transition of the emergency escalation sequencer.
type Escalation struct {
	SessionID          string
	State              string
	Reason             string
	Timestamp          time.Time
	ContactName        string
	ContactNumber      string
	CountdownRemaining int
	AttemptCount       int
}

// Event is the union carried on the Bus. Exactly one of Detection and
// Escalation is non-nil.
type Event struct {
	Detection  *Detection
	Escalation *Escalation
}
