package biometric

import (
	"math"
	"math/rand"
	"testing"
)

func newTestProfiler() *Profiler {
	return NewProfiler(WithRand(rand.New(rand.NewSource(42))))
}

// seedProfile trains a known baseline by feeding identical samples until
// the EMA converges close to the sample values.
func seedProfile(t *testing.T, p *Profiler, userID string, sample *Sample) {
	t.Helper()
	for i := 0; i < 80; i++ {
		if _, err := p.Process(sample); err != nil {
			t.Fatalf("seeding sample %d: %v", i, err)
		}
	}
}

func steadySample(userID string) *Sample {
	return &Sample{
		UserID: userID,
		Keystroke: &KeystrokeSample{
			DwellTimes:  []float64{100, 100, 100},
			FlightTimes: []float64{75, 75, 75},
			TypingSpeed: 60,
		},
		Mouse: &MouseSample{
			Velocities:    []float64{400, 410, 390},
			Accelerations: []float64{1000, 1010, 990},
			ClickInterval: 600,
		},
		Device: &DeviceSample{
			Orientation:   90,
			Accelerometer: [3]float64{1, 1, 1},
			Gyroscope:     [3]float64{0.1, 0.1, 0.1},
		},
	}
}

func TestProcessRejectsMissingUser(t *testing.T) {
	p := newTestProfiler()
	if _, err := p.Process(&Sample{}); err == nil {
		t.Fatal("expected error for sample without user id")
	}
	if _, err := p.Process(nil); err == nil {
		t.Fatal("expected error for nil sample")
	}
}

func TestProcessSynthesizesProfile(t *testing.T) {
	p := newTestProfiler()
	if p.ProfileCount() != 0 {
		t.Fatalf("expected empty profiler, got %d profiles", p.ProfileCount())
	}

	if _, err := p.Process(steadySample("u1")); err != nil {
		t.Fatal(err)
	}

	profile := p.Profile("u1")
	if profile == nil {
		t.Fatal("profile not created")
	}
	if profile.SessionCount != 1 {
		t.Errorf("session count = %d, want 1", profile.SessionCount)
	}
	// Synthesized baseline starts at 0.1 and gains 0.01 per session.
	if math.Abs(profile.Confidence-0.11) > 1e-9 {
		t.Errorf("confidence = %v, want 0.11", profile.Confidence)
	}
	if profile.Keystroke.MeanDwell < 80 || profile.Keystroke.MeanDwell > 120 {
		// One EMA step from the synthesized range toward 100 stays in range.
		t.Errorf("synthesized mean dwell out of range: %v", profile.Keystroke.MeanDwell)
	}
}

func TestBaselineConvergesViaEMA(t *testing.T) {
	p := newTestProfiler()
	seedProfile(t, p, "u1", steadySample("u1"))

	profile := p.Profile("u1")
	if math.Abs(profile.Keystroke.MeanDwell-100) > 1 {
		t.Errorf("mean dwell = %v, want ~100", profile.Keystroke.MeanDwell)
	}
	if math.Abs(profile.Keystroke.TypingSpeed-60) > 1 {
		t.Errorf("typing speed = %v, want ~60", profile.Keystroke.TypingSpeed)
	}
	if math.Abs(profile.Mouse.MeanVelocity-400) > 5 {
		t.Errorf("mean velocity = %v, want ~400", profile.Mouse.MeanVelocity)
	}
}

func TestConfidenceCapped(t *testing.T) {
	p := newTestProfiler()
	sample := steadySample("u1")
	for i := 0; i < 120; i++ {
		if _, err := p.Process(sample); err != nil {
			t.Fatal(err)
		}
	}
	if c := p.Profile("u1").Confidence; c > 0.95 {
		t.Errorf("confidence = %v, want <= 0.95", c)
	}
}

func TestDwellDeviationGradesHigh(t *testing.T) {
	p := newTestProfiler()
	seedProfile(t, p, "u1", steadySample("u1"))

	// Double the dwell time: 100% deviation, above the 0.7 high cutoff.
	assessment, err := p.Process(&Sample{
		UserID: "u1",
		Keystroke: &KeystrokeSample{
			DwellTimes:  []float64{200, 200, 200},
			TypingSpeed: 60,
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var found *Anomaly
	for i := range assessment.Anomalies {
		if assessment.Anomalies[i].Field == "dwell_time" {
			found = &assessment.Anomalies[i]
		}
	}
	if found == nil {
		t.Fatal("expected dwell_time anomaly")
	}
	if found.Severity != SeverityHigh {
		t.Errorf("severity = %s, want high", found.Severity)
	}
	if math.Abs(found.Deviation-1.0) > 0.05 {
		t.Errorf("deviation = %v, want ~1.0", found.Deviation)
	}
}

func TestModerateDeviationGradesMedium(t *testing.T) {
	p := newTestProfiler()
	seedProfile(t, p, "u1", steadySample("u1"))

	// 50% dwell deviation: above 0.4, below the 0.7 high cutoff.
	assessment, err := p.Process(&Sample{
		UserID:    "u1",
		Keystroke: &KeystrokeSample{DwellTimes: []float64{150, 150, 150}},
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, a := range assessment.Anomalies {
		if a.Field == "dwell_time" && a.Severity != SeverityMedium {
			t.Errorf("severity = %s, want medium", a.Severity)
		}
	}
	if len(assessment.Anomalies) == 0 {
		t.Fatal("expected dwell_time anomaly")
	}
}

func TestSteadySampleProducesNoAnomalies(t *testing.T) {
	p := newTestProfiler()
	seedProfile(t, p, "u1", steadySample("u1"))

	assessment, err := p.Process(steadySample("u1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(assessment.Anomalies) != 0 {
		t.Errorf("expected no anomalies, got %v", assessment.Anomalies)
	}
}

func TestMovementPatternShiftFlagged(t *testing.T) {
	p := newTestProfiler()
	seedProfile(t, p, "u1", steadySample("u1")) // smooth baseline

	// High variance velocities classify as jerky.
	assessment, err := p.Process(&Sample{
		UserID: "u1",
		Mouse: &MouseSample{
			Velocities: []float64{100, 900, 150, 1000, 120},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, a := range assessment.Anomalies {
		if a.Field == "movement_pattern" {
			found = true
			if a.Severity != SeverityMedium {
				t.Errorf("pattern shift severity = %s, want medium", a.Severity)
			}
		}
	}
	if !found {
		t.Error("expected movement_pattern anomaly")
	}
}

func TestOrientationUsesCircularDistance(t *testing.T) {
	// 350 deg vs 10 deg is 20 deg apart, not 340.
	if d := circularDeviation(350, 10); math.Abs(d-20.0/360.0) > 1e-9 {
		t.Errorf("circularDeviation(350, 10) = %v, want %v", d, 20.0/360.0)
	}
	if d := circularDeviation(180, 0); math.Abs(d-0.5) > 1e-9 {
		t.Errorf("circularDeviation(180, 0) = %v, want 0.5", d)
	}
}

func TestClassifyPattern(t *testing.T) {
	tests := []struct {
		velVar, accVar float64
		want           MovementPattern
	}{
		{1000, 1000, PatternSmooth},
		{200000, 1000, PatternJerky},
		{1000, 100000, PatternJerky},
		{80000, 1000, PatternMixed},
	}
	for _, tc := range tests {
		if got := classifyPattern(tc.velVar, tc.accVar); got != tc.want {
			t.Errorf("classifyPattern(%v, %v) = %s, want %s", tc.velVar, tc.accVar, got, tc.want)
		}
	}
}

func TestRelDeviationZeroBaseline(t *testing.T) {
	if d := relDeviation(5, 0); d != 1 {
		t.Errorf("relDeviation(5, 0) = %v, want 1", d)
	}
	if d := relDeviation(0, 0); d != 0 {
		t.Errorf("relDeviation(0, 0) = %v, want 0", d)
	}
}

func TestPartialSampleLeavesOtherChannelsUntouched(t *testing.T) {
	p := newTestProfiler()
	seedProfile(t, p, "u1", steadySample("u1"))
	before := p.Profile("u1")

	// Keystroke-only sample must not move mouse or device baselines.
	if _, err := p.Process(&Sample{
		UserID:    "u1",
		Keystroke: &KeystrokeSample{DwellTimes: []float64{100}},
	}); err != nil {
		t.Fatal(err)
	}

	after := p.Profile("u1")
	if after.Mouse.MeanVelocity != before.Mouse.MeanVelocity {
		t.Error("mouse baseline changed on keystroke-only sample")
	}
	if after.Device.Orientation != before.Device.Orientation {
		t.Error("device baseline changed on keystroke-only sample")
	}
	if after.SessionCount != before.SessionCount+1 {
		t.Error("session count not incremented")
	}
}

func TestConcurrentProcessAndProfile(t *testing.T) {
	p := newTestProfiler()
	sample := steadySample("u1")
	if _, err := p.Process(sample); err != nil {
		t.Fatal(err)
	}

	// Reads and baseline updates for one user contend on the same
	// profile struct; run them together so the race detector can see
	// any unguarded access.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if _, err := p.Process(sample); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	for i := 0; i < 200; i++ {
		if prof := p.Profile("u1"); prof == nil {
			t.Fatal("profile disappeared")
		}
	}
	<-done

	prof := p.Profile("u1")
	if prof.SessionCount < 201 {
		t.Errorf("session count = %d, want at least 201", prof.SessionCount)
	}
}
