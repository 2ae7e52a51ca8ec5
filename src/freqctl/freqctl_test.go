package freqctl

import "testing"

func constantSample(s Sample) Metrics {
	return func() Sample { return s }
}

func TestTickNoopBeforeInterval(t *testing.T) {
	c := NewController(nil, constantSample(Sample{}), nil)
	start := c.Frequency()
	c.Tick(DefaultSamplingInterval - 1)
	if c.Frequency() != start {
		t.Fatalf("expected no change before the sampling interval elapses")
	}
}

func TestHighLoadRaisesFrequency(t *testing.T) {
	var lastHz uint16
	c := NewController(func(hz uint16) { lastHz = hz }, constantSample(Sample{
		ActiveProcesses: 8,
		ReadyProcesses:  8,
		ContextSwitches: 0,
		RTQueueDepth:    2,
		TotalQueueDepth: 12,
	}), nil)

	tick := uint64(0)
	for i := 0; i < 50; i++ {
		tick += DefaultSamplingInterval
		c.Tick(tick)
	}
	if c.Frequency() <= BaselineFreqMHz {
		t.Fatalf("expected frequency above baseline under sustained load, got %.0f", c.Frequency())
	}
	if lastHz == 0 {
		t.Fatal("expected PitSetFrequency to be invoked")
	}
}

func TestIdleLowersFrequency(t *testing.T) {
	c := NewController(nil, constantSample(Sample{
		ActiveProcesses: 1,
		ReadyProcesses:  0,
	}), nil)

	tick := uint64(0)
	for i := 0; i < 50; i++ {
		tick += DefaultSamplingInterval
		c.Tick(tick)
	}
	if c.Frequency() >= BaselineFreqMHz {
		t.Fatalf("expected frequency below baseline when idle, got %.0f", c.Frequency())
	}
}

func TestEmergencyCSRateSaturatesToMax(t *testing.T) {
	c := NewController(nil, constantSample(Sample{
		ActiveProcesses: 4,
		ReadyProcesses:  4,
		ContextSwitches: 0,
	}), nil)

	tick := uint64(0)
	for i := 0; i < 80; i++ {
		tick += DefaultSamplingInterval
		// Force a context-switch delta of i+1 per sample: from the
		// fourth sample on it is at least ReadyProcesses, well past
		// EmergencyCSRate.
		c.lastCS = 0
		c.GetSample = constantSample(Sample{
			ActiveProcesses: 4,
			ReadyProcesses:  4,
			ContextSwitches: uint64(i + 1),
		})
		c.Tick(tick)
	}
	if c.Frequency() < MaxFreqMHz-1 {
		t.Fatalf("expected frequency to saturate near max under emergency CS rate, got %.0f", c.Frequency())
	}
	if c.State() != StateEmergency {
		t.Fatalf("expected state to settle to emergency, got %s", c.State())
	}
}

func TestHysteresisRequiresStability(t *testing.T) {
	c := NewController(nil, constantSample(Sample{}), nil)
	c.CurrentFreq = c.MinFreq // an idle-band frequency
	c.classifyState(0)        // single low sample
	if c.State() == StateIdle {
		t.Fatal("expected state not to flip on a single sample")
	}
}

func TestStateStringsAreStable(t *testing.T) {
	cases := map[PowerState]string{
		StateIdle:        "idle",
		StateBalanced:    "balanced",
		StatePerformance: "performance",
		StateEmergency:   "emergency",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("state %d: got %q, want %q", state, got, want)
		}
	}
}
