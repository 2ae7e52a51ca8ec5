// Package freqctl implements the dynamic-frequency controller: a
// periodic sampler that blends load, context-switch rate and a short
// predictive window into a target timer frequency, with momentum,
// hysteresis and a discrete power-state classification.
package freqctl

import (
	"io"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// PowerState is the controller's coarse operating-mode classification.
type PowerState int

const (
	StateIdle PowerState = iota
	StateBalanced
	StatePerformance
	StateEmergency
)

func (p PowerState) String() string {
	switch p {
	case StateIdle:
		return "idle"
	case StateBalanced:
		return "balanced"
	case StatePerformance:
		return "performance"
	case StateEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Controller tunables.
const (
	MinFreqMHz      = 400
	MaxFreqMHz      = 3600
	BaselineFreqMHz = 1200

	DefaultSamplingInterval = 20 // ticks between samples

	LearningRate     = 0.15
	Momentum         = 0.6
	PredictionWeight = 0.25

	HistorySize = 16

	EmergencyCSRate = 0.85 // context switches per ready process per sample
	HighLoadCSRate  = 0.55
	LowLoadCSRate   = 0.10

	StabilityTicks = 3 // consecutive samples agreeing before state actually flips
)

// Sample is one periodic measurement fed into the controller.
type Sample struct {
	ActiveProcesses int
	ReadyProcesses  int
	ContextSwitches uint64
	RTQueueDepth    int
	TotalQueueDepth int
}

// Metrics supplies the controller with a fresh Sample each tick.
type Metrics func() Sample

// Controller is the frequency controller singleton.
type Controller struct {
	mu sync.Mutex

	MinFreq, MaxFreq, BaselineFreq float64
	CurrentFreq                    float64

	learningRate, momentum, predictionWeight float64
	lastAdjustment                           float64

	state            PowerState
	stabilityCounter int
	pendingState     PowerState

	history      [HistorySize]float64
	historyIndex int

	samplingInterval uint64
	lastSampleTick   uint64
	lastCS           uint64
	sampleCount      uint64

	// PitSetFrequency is the hook into the programmable interval
	// timer; the platform supplies the real reprogramming call.
	PitSetFrequency func(mhz uint16)
	GetSample       Metrics

	Console io.Writer
	printer *message.Printer
}

// NewController builds a Controller at its baseline frequency.
func NewController(pit func(mhz uint16), metrics Metrics, console io.Writer) *Controller {
	return &Controller{
		MinFreq:          MinFreqMHz,
		MaxFreq:          MaxFreqMHz,
		BaselineFreq:     BaselineFreqMHz,
		CurrentFreq:      BaselineFreqMHz,
		learningRate:     LearningRate,
		momentum:         Momentum,
		predictionWeight: PredictionWeight,
		state:            StateBalanced,
		pendingState:     StateBalanced,
		samplingInterval: DefaultSamplingInterval,
		PitSetFrequency:  pit,
		GetSample:        metrics,
		Console:          console,
		printer:          message.NewPrinter(language.AmericanEnglish),
	}
}

// Tick runs one sampling pass if samplingInterval ticks have elapsed
// since the last one; otherwise it is a no-op.
func (c *Controller) Tick(currentTick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if currentTick-c.lastSampleTick < c.samplingInterval {
		return
	}
	c.lastSampleTick = currentTick
	c.sampleCount++

	if c.GetSample == nil {
		return
	}
	s := c.GetSample()

	csDelta := s.ContextSwitches - c.lastCS
	c.lastCS = s.ContextSwitches
	csRate := 0.0
	if s.ReadyProcesses > 0 {
		csRate = float64(csDelta) / float64(s.ReadyProcesses)
	}

	target := c.computeTarget(s, csRate)

	c.history[c.historyIndex%HistorySize] = target
	c.historyIndex++
	predicted := c.predictedTarget()
	blended := target*(1-c.predictionWeight) + predicted*c.predictionWeight

	delta := blended - c.CurrentFreq
	adjustment := c.learningRate*delta + c.momentum*c.lastAdjustment
	c.lastAdjustment = adjustment

	next := c.CurrentFreq + adjustment
	if next < c.MinFreq {
		next = c.MinFreq
	}
	if next > c.MaxFreq {
		next = c.MaxFreq
	}
	c.CurrentFreq = next

	c.classifyState(csRate)
	if c.PitSetFrequency != nil {
		c.PitSetFrequency(uint16(c.CurrentFreq))
	}
	if c.sampleCount%100 == 0 {
		c.report()
	}
}

// computeTarget derives a target frequency from the current sample,
// factoring in real-time queue pressure and the three CS-rate bands
// (emergency/high/low load).
func (c *Controller) computeTarget(s Sample, csRate float64) float64 {
	target := c.BaselineFreq

	if s.RTQueueDepth > 0 {
		target += (c.MaxFreq - c.BaselineFreq) * 0.5
	}
	if s.TotalQueueDepth > 0 {
		pressure := float64(s.TotalQueueDepth) / float64(s.TotalQueueDepth+4)
		target += (c.MaxFreq - target) * pressure * 0.3
	}

	switch {
	case csRate >= EmergencyCSRate:
		target = c.MaxFreq
	case csRate >= HighLoadCSRate:
		target += (c.MaxFreq - target) * 0.4
	case csRate <= LowLoadCSRate && s.ActiveProcesses <= 1:
		target = c.MinFreq
	}

	if target < c.MinFreq {
		target = c.MinFreq
	}
	if target > c.MaxFreq {
		target = c.MaxFreq
	}
	return target
}

// predictedTarget averages the recorded history window, giving a
// short-horizon smoothing term distinct from the momentum blend.
func (c *Controller) predictedTarget() float64 {
	n := HistorySize
	if int(c.historyIndex) < n {
		n = int(c.historyIndex)
	}
	if n == 0 {
		return c.CurrentFreq
	}
	var total float64
	for i := 0; i < n; i++ {
		total += c.history[i]
	}
	return total / float64(n)
}

// classifyState updates the power-state classification, requiring
// StabilityTicks consecutive samples to agree before the externally
// visible state actually changes.
func (c *Controller) classifyState(csRate float64) {
	var candidate PowerState
	switch {
	case csRate >= EmergencyCSRate:
		candidate = StateEmergency
	case c.CurrentFreq >= (c.BaselineFreq+c.MaxFreq)/2:
		candidate = StatePerformance
	case c.CurrentFreq <= c.MinFreq+((c.BaselineFreq-c.MinFreq)/4):
		candidate = StateIdle
	default:
		candidate = StateBalanced
	}

	if candidate == c.pendingState {
		c.stabilityCounter++
	} else {
		c.pendingState = candidate
		c.stabilityCounter = 1
	}
	if c.stabilityCounter >= StabilityTicks {
		c.state = candidate
	}
}

// State returns the controller's current (hysteresis-settled) power
// state.
func (c *Controller) State() PowerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Frequency returns the controller's current target frequency in MHz.
func (c *Controller) Frequency() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CurrentFreq
}

func (c *Controller) report() {
	if c.Console == nil {
		return
	}
	c.printer.Fprintf(c.Console, "freqctl: freq=%.0f MHz state=%s samples=%d\n", c.CurrentFreq, c.state, c.sampleCount)
}
