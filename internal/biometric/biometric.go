// Package biometric maintains per-user behavioral baselines (keystroke,
// mouse, device-sensor) and flags anomalies by relative deviation from
// the learned baseline.
package biometric

import "time"

// Channel identifies the biometric signal source.
type Channel string

const (
	ChannelKeystroke Channel = "keystroke"
	ChannelMouse     Channel = "mouse"
	ChannelDevice    Channel = "device"
)

// Severity ranks how far an observation strays from baseline.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// MovementPattern classifies mouse movement by session variance.
type MovementPattern string

const (
	PatternSmooth MovementPattern = "smooth"
	PatternJerky  MovementPattern = "jerky"
	PatternMixed  MovementPattern = "mixed"
)

// KeystrokeSample is one session's raw keystroke timings.
type KeystrokeSample struct {
	DwellTimes  []float64 `json:"dwellTimes"`  // ms per keypress
	FlightTimes []float64 `json:"flightTimes"` // ms between keypresses
	TypingSpeed float64   `json:"typingSpeed"` // words per minute
}

// MouseSample is one session's raw mouse dynamics.
type MouseSample struct {
	Velocities    []float64 `json:"velocities"`    // px/s
	Accelerations []float64 `json:"accelerations"` // px/s^2
	ClickInterval float64   `json:"clickInterval"` // ms between clicks
}

// DeviceSample is one session's device-sensor readings.
type DeviceSample struct {
	Orientation   float64    `json:"orientation"` // degrees [0,360)
	Accelerometer [3]float64 `json:"accelerometer"`
	Gyroscope     [3]float64 `json:"gyroscope"`
}

// Sample bundles the biometric channels captured alongside a transaction.
// Any channel may be nil when the client did not capture it.
type Sample struct {
	UserID     string           `json:"userId"`
	Keystroke  *KeystrokeSample `json:"keystroke,omitempty"`
	Mouse      *MouseSample     `json:"mouse,omitempty"`
	Device     *DeviceSample    `json:"device,omitempty"`
	ObservedAt time.Time        `json:"observedAt"`
}

// KeystrokeStats is the learned keystroke baseline.
type KeystrokeStats struct {
	MeanDwell      float64 `json:"meanDwell"`
	DwellVariance  float64 `json:"dwellVariance"`
	MeanFlight     float64 `json:"meanFlight"`
	FlightVariance float64 `json:"flightVariance"`
	TypingSpeed    float64 `json:"typingSpeed"`
}

// MouseStats is the learned mouse baseline.
type MouseStats struct {
	MeanVelocity     float64         `json:"meanVelocity"`
	MeanAcceleration float64         `json:"meanAcceleration"`
	Pattern          MovementPattern `json:"pattern"`
	ClickInterval    float64         `json:"clickInterval"`
}

// DeviceStats is the learned device-sensor baseline.
type DeviceStats struct {
	Orientation   float64    `json:"orientation"`
	Accelerometer [3]float64 `json:"accelerometer"`
	Gyroscope     [3]float64 `json:"gyroscope"`
	Stability     float64    `json:"stability"`
}

// Profile is a user's behavioral baseline. Created lazily on the first
// sample, mutated in place by EMA, never deleted.
type Profile struct {
	UserID       string         `json:"userId"`
	Keystroke    KeystrokeStats `json:"keystroke"`
	Mouse        MouseStats     `json:"mouse"`
	Device       DeviceStats    `json:"device"`
	SessionCount int            `json:"sessionCount"`
	Confidence   float64        `json:"confidence"`
	LastUpdated  time.Time      `json:"lastUpdated"`
}

// Anomaly is a single deviation flagged against the pre-update baseline.
type Anomaly struct {
	Channel     Channel  `json:"channel"`
	Field       string   `json:"field"`
	Severity    Severity `json:"severity"`
	Deviation   float64  `json:"deviation"`
	Description string   `json:"description"`
}

// Assessment is the profiler output for one sample: the anomalies in
// detection order plus the summary the fraud scorer consumes.
type Assessment struct {
	UserID            string    `json:"userId"`
	Anomalies         []Anomaly `json:"anomalies"`
	MeanDwell         float64   `json:"meanDwell"`
	TypingSpeed       float64   `json:"typingSpeed"`
	MeanVelocity      float64   `json:"meanVelocity"`
	MotionMagnitude   float64   `json:"motionMagnitude"`
	ProfileConfidence float64   `json:"profileConfidence"`
}

// HighCount returns the number of high-severity anomalies.
func (a *Assessment) HighCount() int {
	n := 0
	for _, an := range a.Anomalies {
		if an.Severity == SeverityHigh {
			n++
		}
	}
	return n
}

// MediumCount returns the number of medium-severity anomalies.
func (a *Assessment) MediumCount() int {
	n := 0
	for _, an := range a.Anomalies {
		if an.Severity == SeverityMedium {
			n++
		}
	}
	return n
}
