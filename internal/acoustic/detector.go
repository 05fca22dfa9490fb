package acoustic

import "time"

const (
	// DefaultVolumeThreshold is the minimum 0-255 loudness of a scream.
	DefaultVolumeThreshold = 150.0
	// DefaultFreqThresholdHz is the minimum dominant frequency of a scream.
	DefaultFreqThresholdHz = 2000.0
	// DefaultMinDuration is how long both thresholds must hold before the
	// detector triggers.
	DefaultMinDuration = 500 * time.Millisecond
	// DefaultCooldown suppresses re-triggering after a detection.
	DefaultCooldown = 5 * time.Second
)

// DetectorConfig tunes the detection state machine. Zero fields use the
// defaults above.
type DetectorConfig struct {
	VolumeThreshold float64
	FreqThresholdHz float64
	MinDuration     time.Duration
	Cooldown        time.Duration
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = DefaultVolumeThreshold
	}
	if c.FreqThresholdHz <= 0 {
		c.FreqThresholdHz = DefaultFreqThresholdHz
	}
	if c.MinDuration <= 0 {
		c.MinDuration = DefaultMinDuration
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

// Stats counts detector outcomes over its lifetime.
type Stats struct {
	Detections     int
	FalsePositives int // bursts that crossed thresholds but fell short of MinDuration
}

// Detection is one confirmed scream.
type Detection struct {
	Timestamp   time.Time
	VolumeRaw   float64
	FrequencyHz float64
	Duration    time.Duration
}

// Detector is the scream detection state machine: Idle until both thresholds
// hold, Rising while they keep holding, Triggered exactly once when they
// have held for MinDuration, then a Cooldown during which nothing triggers.
// Not safe for concurrent use; the Classifier serializes calls.
type Detector struct {
	cfg DetectorConfig

	rising        bool
	riseStart     time.Time
	riseVolume    float64
	riseFrequency float64
	cooldownUntil time.Time
	stats         Stats
}

// NewDetector returns a Detector with cfg (zero fields defaulted).
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Observe feeds one frame measurement at time now. It returns a Detection
// exactly once per sustained scream; subsequent frames within the cooldown
// never trigger.
func (d *Detector) Observe(m Measurement, now time.Time) (Detection, bool) {
	if now.Before(d.cooldownUntil) {
		d.rising = false
		return Detection{}, false
	}

	hot := m.VolumeRaw >= d.cfg.VolumeThreshold && m.DominantHz >= d.cfg.FreqThresholdHz
	if !hot {
		if d.rising {
			// Crossed the thresholds but not for long enough.
			d.stats.FalsePositives++
			d.rising = false
		}
		return Detection{}, false
	}

	if !d.rising {
		d.rising = true
		d.riseStart = now
		d.riseVolume = m.VolumeRaw
		d.riseFrequency = m.DominantHz
		return Detection{}, false
	}

	// Track the loudest frame of the event for reporting.
	if m.VolumeRaw > d.riseVolume {
		d.riseVolume = m.VolumeRaw
		d.riseFrequency = m.DominantHz
	}

	held := now.Sub(d.riseStart)
	if held < d.cfg.MinDuration {
		return Detection{}, false
	}

	d.rising = false
	d.cooldownUntil = now.Add(d.cfg.Cooldown)
	d.stats.Detections++
	return Detection{
		Timestamp:   now,
		VolumeRaw:   d.riseVolume,
		FrequencyHz: d.riseFrequency,
		Duration:    held,
	}, true
}

// Stats returns the lifetime counters.
func (d *Detector) Stats() Stats { return d.stats }
