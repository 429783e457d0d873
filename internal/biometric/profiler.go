package biometric

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/vantagepay/fraudlens/internal/metrics"
	"github.com/vantagepay/fraudlens/internal/syncutil"
)

// Detection thresholds. Relative deviation = |observed - baseline| / baseline;
// multi-dimensional sensors use the RMS of per-axis relative deviations.
const (
	dwellFlightThreshold     = 0.4
	dwellFlightHighThreshold = 0.7
	typingSpeedThreshold     = 0.5
	typingSpeedHighThreshold = 0.8
	mouseThreshold           = 0.5
	mouseHighThreshold       = 0.8
	sensorThreshold          = 0.5
	sensorHighThreshold      = 0.8
	orientationThreshold     = 0.3 // circular deviation normalized by 360

	// Movement pattern classification bounds (session variance).
	velVarSmooth = 50000.0
	velVarJerky  = 150000.0
	accVarSmooth = 25000.0
	accVarJerky  = 75000.0

	// Baseline learning.
	emaAlpha          = 0.1
	confidenceStep    = 0.01
	confidenceCeiling = 0.95
)

// Profiler owns the per-user profile map. Process calls for a single user
// are serialized through a sharded mutex; different users proceed in
// parallel.
type Profiler struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	locks    syncutil.ShardedMutex

	rngMu  sync.Mutex
	rng    *rand.Rand
	logger *slog.Logger
}

// Option configures the Profiler.
type Option func(*Profiler)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Profiler) { p.logger = l }
}

// WithRand sets the random source used to synthesize default profiles.
// Tests inject a seeded source for reproducibility.
func WithRand(r *rand.Rand) Option {
	return func(p *Profiler) { p.rng = r }
}

// NewProfiler creates an empty profiler.
func NewProfiler(opts ...Option) *Profiler {
	p := &Profiler{
		profiles: make(map[string]*Profile),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process scores a sample against the user's baseline and then folds the
// sample into the baseline via EMA. Anomaly detection always runs against
// the pre-update baseline; the update never precedes scoring. A missing
// profile is synthesized with bounded-random defaults rather than
// rejecting the sample.
func (p *Profiler) Process(sample *Sample) (*Assessment, error) {
	if sample == nil || sample.UserID == "" {
		return nil, fmt.Errorf("biometric: sample missing user id")
	}

	unlock := p.locks.Lock(sample.UserID)
	defer unlock()

	profile := p.getOrSynthesize(sample.UserID)

	assessment := &Assessment{UserID: sample.UserID}

	if sample.Keystroke != nil {
		p.assessKeystroke(profile, sample.Keystroke, assessment)
	}
	if sample.Mouse != nil {
		p.assessMouse(profile, sample.Mouse, assessment)
	}
	if sample.Device != nil {
		p.assessDevice(profile, sample.Device, assessment)
	}

	// Baseline update follows scoring.
	p.learn(profile, sample)
	assessment.ProfileConfidence = profile.Confidence

	for _, a := range assessment.Anomalies {
		metrics.BiometricAnomaliesTotal.WithLabelValues(string(a.Channel), string(a.Severity)).Inc()
	}
	if len(assessment.Anomalies) > 0 {
		p.logger.Debug("biometric anomalies detected",
			"user", sample.UserID, "count", len(assessment.Anomalies))
	}

	return assessment, nil
}

// Profile returns a copy of the user's profile, or nil when none exists.
// The copy is taken under the user's shard lock so it never observes a
// baseline update in progress.
func (p *Profiler) Profile(userID string) *Profile {
	unlock := p.locks.Lock(userID)
	defer unlock()

	p.mu.RLock()
	profile, ok := p.profiles[userID]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	cp := *profile
	return &cp
}

// ProfileCount returns the number of learned profiles.
func (p *Profiler) ProfileCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.profiles)
}

// getOrSynthesize returns the user's profile, creating one with
// bounded-random defaults on first sight. Caller holds the user shard lock,
// so the profile pointer is safe to mutate after the map lock is dropped.
func (p *Profiler) getOrSynthesize(userID string) *Profile {
	p.mu.RLock()
	profile, ok := p.profiles[userID]
	p.mu.RUnlock()
	if ok {
		return profile
	}

	profile = p.synthesizeProfile(userID)
	p.mu.Lock()
	p.profiles[userID] = profile
	p.mu.Unlock()
	p.logger.Debug("synthesized baseline profile", "user", userID)
	return profile
}

// synthesizeProfile builds a cold-start baseline with bounded-random
// defaults: dwell 80-120ms, flight 60-90ms, typing speed 40-80 WPM,
// mouse velocity 300-500 px/s, acceleration 800-1200 px/s^2, click
// interval 400-800ms, orientation 0-360 deg, unit-ish sensor baselines,
// stability 0.7-0.95.
func (p *Profiler) synthesizeProfile(userID string) *Profile {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	r := p.rng

	in := func(lo, hi float64) float64 { return lo + r.Float64()*(hi-lo) }

	return &Profile{
		UserID: userID,
		Keystroke: KeystrokeStats{
			MeanDwell:      in(80, 120),
			DwellVariance:  in(50, 150),
			MeanFlight:     in(60, 90),
			FlightVariance: in(30, 90),
			TypingSpeed:    in(40, 80),
		},
		Mouse: MouseStats{
			MeanVelocity:     in(300, 500),
			MeanAcceleration: in(800, 1200),
			Pattern:          PatternSmooth,
			ClickInterval:    in(400, 800),
		},
		Device: DeviceStats{
			Orientation:   in(0, 360),
			Accelerometer: [3]float64{in(0.8, 1.2), in(0.8, 1.2), in(0.8, 1.2)},
			Gyroscope:     [3]float64{in(0.08, 0.12), in(0.08, 0.12), in(0.08, 0.12)},
			Stability:     in(0.7, 0.95),
		},
		Confidence:  0.1,
		LastUpdated: time.Now(),
	}
}

// ---------------------------------------------------------------------------
// Channel assessment (against the pre-update baseline)
// ---------------------------------------------------------------------------

func (p *Profiler) assessKeystroke(profile *Profile, ks *KeystrokeSample, out *Assessment) {
	meanDwell := mean(ks.DwellTimes)
	meanFlight := mean(ks.FlightTimes)
	out.MeanDwell = meanDwell
	out.TypingSpeed = ks.TypingSpeed

	if d := relDeviation(meanDwell, profile.Keystroke.MeanDwell); len(ks.DwellTimes) > 0 && d > dwellFlightThreshold {
		out.Anomalies = append(out.Anomalies, Anomaly{
			Channel:   ChannelKeystroke,
			Field:     "dwell_time",
			Severity:  gradeAbove(d, dwellFlightHighThreshold),
			Deviation: d,
			Description: fmt.Sprintf("dwell time %.0fms deviates %.0f%% from baseline %.0fms",
				meanDwell, d*100, profile.Keystroke.MeanDwell),
		})
	}
	if d := relDeviation(meanFlight, profile.Keystroke.MeanFlight); len(ks.FlightTimes) > 0 && d > dwellFlightThreshold {
		out.Anomalies = append(out.Anomalies, Anomaly{
			Channel:   ChannelKeystroke,
			Field:     "flight_time",
			Severity:  gradeAbove(d, dwellFlightHighThreshold),
			Deviation: d,
			Description: fmt.Sprintf("flight time %.0fms deviates %.0f%% from baseline %.0fms",
				meanFlight, d*100, profile.Keystroke.MeanFlight),
		})
	}
	if d := relDeviation(ks.TypingSpeed, profile.Keystroke.TypingSpeed); ks.TypingSpeed > 0 && d > typingSpeedThreshold {
		out.Anomalies = append(out.Anomalies, Anomaly{
			Channel:   ChannelKeystroke,
			Field:     "typing_speed",
			Severity:  gradeAbove(d, typingSpeedHighThreshold),
			Deviation: d,
			Description: fmt.Sprintf("typing speed %.0f WPM deviates %.0f%% from baseline %.0f WPM",
				ks.TypingSpeed, d*100, profile.Keystroke.TypingSpeed),
		})
	}
}

func (p *Profiler) assessMouse(profile *Profile, ms *MouseSample, out *Assessment) {
	meanVel := mean(ms.Velocities)
	meanAcc := mean(ms.Accelerations)
	out.MeanVelocity = meanVel

	if d := relDeviation(meanVel, profile.Mouse.MeanVelocity); len(ms.Velocities) > 0 && d > mouseThreshold {
		out.Anomalies = append(out.Anomalies, Anomaly{
			Channel:   ChannelMouse,
			Field:     "velocity",
			Severity:  gradeAbove(d, mouseHighThreshold),
			Deviation: d,
			Description: fmt.Sprintf("mouse velocity %.0f deviates %.0f%% from baseline %.0f",
				meanVel, d*100, profile.Mouse.MeanVelocity),
		})
	}
	if d := relDeviation(meanAcc, profile.Mouse.MeanAcceleration); len(ms.Accelerations) > 0 && d > mouseThreshold {
		out.Anomalies = append(out.Anomalies, Anomaly{
			Channel:   ChannelMouse,
			Field:     "acceleration",
			Severity:  gradeAbove(d, mouseHighThreshold),
			Deviation: d,
			Description: fmt.Sprintf("mouse acceleration %.0f deviates %.0f%% from baseline %.0f",
				meanAcc, d*100, profile.Mouse.MeanAcceleration),
		})
	}

	if len(ms.Velocities) > 0 || len(ms.Accelerations) > 0 {
		observed := classifyPattern(variance(ms.Velocities), variance(ms.Accelerations))
		if observed != profile.Mouse.Pattern {
			out.Anomalies = append(out.Anomalies, Anomaly{
				Channel:  ChannelMouse,
				Field:    "movement_pattern",
				Severity: SeverityMedium,
				Description: fmt.Sprintf("movement pattern shifted from %s to %s",
					profile.Mouse.Pattern, observed),
			})
		}
	}
}

func (p *Profiler) assessDevice(profile *Profile, ds *DeviceSample, out *Assessment) {
	out.MotionMagnitude = magnitude(ds.Accelerometer)

	if d := vectorDeviation(ds.Accelerometer, profile.Device.Accelerometer); d > sensorThreshold {
		out.Anomalies = append(out.Anomalies, Anomaly{
			Channel:     ChannelDevice,
			Field:       "accelerometer",
			Severity:    gradeAbove(d, sensorHighThreshold),
			Deviation:   d,
			Description: fmt.Sprintf("accelerometer reading deviates %.0f%% RMS from baseline", d*100),
		})
	}
	if d := vectorDeviation(ds.Gyroscope, profile.Device.Gyroscope); d > sensorThreshold {
		out.Anomalies = append(out.Anomalies, Anomaly{
			Channel:     ChannelDevice,
			Field:       "gyroscope",
			Severity:    gradeAbove(d, sensorHighThreshold),
			Deviation:   d,
			Description: fmt.Sprintf("gyroscope reading deviates %.0f%% RMS from baseline", d*100),
		})
	}
	if d := circularDeviation(ds.Orientation, profile.Device.Orientation); d > orientationThreshold {
		out.Anomalies = append(out.Anomalies, Anomaly{
			Channel:   ChannelDevice,
			Field:     "orientation",
			Severity:  SeverityLow,
			Deviation: d,
			Description: fmt.Sprintf("device orientation %.0f deg far from usual %.0f deg",
				ds.Orientation, profile.Device.Orientation),
		})
	}
}

// ---------------------------------------------------------------------------
// Baseline learning (EMA, alpha = 0.1)
// ---------------------------------------------------------------------------

// learn folds the sample's session aggregates into every numeric baseline
// field, increments the session counter, and lifts confidence by 0.01 up
// to the 0.95 ceiling. Channels absent from the sample leave their
// baseline fields untouched.
func (p *Profiler) learn(profile *Profile, sample *Sample) {
	if ks := sample.Keystroke; ks != nil {
		if len(ks.DwellTimes) > 0 {
			profile.Keystroke.MeanDwell = ema(profile.Keystroke.MeanDwell, mean(ks.DwellTimes))
			profile.Keystroke.DwellVariance = ema(profile.Keystroke.DwellVariance, variance(ks.DwellTimes))
		}
		if len(ks.FlightTimes) > 0 {
			profile.Keystroke.MeanFlight = ema(profile.Keystroke.MeanFlight, mean(ks.FlightTimes))
			profile.Keystroke.FlightVariance = ema(profile.Keystroke.FlightVariance, variance(ks.FlightTimes))
		}
		if ks.TypingSpeed > 0 {
			profile.Keystroke.TypingSpeed = ema(profile.Keystroke.TypingSpeed, ks.TypingSpeed)
		}
	}

	if ms := sample.Mouse; ms != nil {
		if len(ms.Velocities) > 0 {
			profile.Mouse.MeanVelocity = ema(profile.Mouse.MeanVelocity, mean(ms.Velocities))
		}
		if len(ms.Accelerations) > 0 {
			profile.Mouse.MeanAcceleration = ema(profile.Mouse.MeanAcceleration, mean(ms.Accelerations))
		}
		if ms.ClickInterval > 0 {
			profile.Mouse.ClickInterval = ema(profile.Mouse.ClickInterval, ms.ClickInterval)
		}
		if len(ms.Velocities) > 0 || len(ms.Accelerations) > 0 {
			profile.Mouse.Pattern = classifyPattern(variance(ms.Velocities), variance(ms.Accelerations))
		}
	}

	if ds := sample.Device; ds != nil {
		profile.Device.Orientation = ema(profile.Device.Orientation, ds.Orientation)
		for i := 0; i < 3; i++ {
			profile.Device.Accelerometer[i] = ema(profile.Device.Accelerometer[i], ds.Accelerometer[i])
			profile.Device.Gyroscope[i] = ema(profile.Device.Gyroscope[i], ds.Gyroscope[i])
		}
	}

	profile.SessionCount++
	profile.Confidence = math.Min(profile.Confidence+confidenceStep, confidenceCeiling)
	profile.LastUpdated = time.Now()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func ema(baseline, observed float64) float64 {
	return (1-emaAlpha)*baseline + emaAlpha*observed
}

// classifyPattern maps session variances to a movement pattern. Low
// variance on both axes reads as smooth, very high variance on either
// axis as jerky, anything between as mixed.
func classifyPattern(velVar, accVar float64) MovementPattern {
	switch {
	case velVar > velVarJerky || accVar > accVarJerky:
		return PatternJerky
	case velVar < velVarSmooth && accVar < accVarSmooth:
		return PatternSmooth
	default:
		return PatternMixed
	}
}

// gradeAbove returns high severity when the deviation exceeds the high
// cutoff, medium otherwise.
func gradeAbove(deviation, highCutoff float64) Severity {
	if deviation > highCutoff {
		return SeverityHigh
	}
	return SeverityMedium
}

// relDeviation computes |observed - baseline| / baseline. A zero baseline
// with a nonzero observation counts as full deviation.
func relDeviation(observed, baseline float64) float64 {
	if baseline == 0 {
		if observed == 0 {
			return 0
		}
		return 1
	}
	return math.Abs(observed-baseline) / math.Abs(baseline)
}

// vectorDeviation computes the RMS of per-axis relative deviations.
func vectorDeviation(observed, baseline [3]float64) float64 {
	var sum float64
	for i := 0; i < 3; i++ {
		d := relDeviation(observed[i], baseline[i])
		sum += d * d
	}
	return math.Sqrt(sum / 3)
}

// circularDeviation returns the shortest angular distance between two
// headings normalized by a full turn, in [0, 0.5].
func circularDeviation(observed, baseline float64) float64 {
	diff := math.Abs(math.Mod(observed, 360) - math.Mod(baseline, 360))
	if diff > 180 {
		diff = 360 - diff
	}
	return diff / 360
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// variance is the population variance of the session values.
func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values))
}

func magnitude(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
