// Package stormguard is the global four-state health FSM
// (NORMAL < WARM < STORM < HALT). Each input signal maps to a state via
// its own thresholds; the effective state is the worst across all
// inputs, and a triggered HALT latches until explicitly cleared.
package stormguard

import (
	"log/slog"
	"sync"
	"time"
)

// State is one of the four ordered health states.
type State int

const (
	Normal State = iota
	Warm
	Storm
	Halt
)

func (s State) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case Warm:
		return "WARM"
	case Storm:
		return "STORM"
	case Halt:
		return "HALT"
	default:
		return "UNKNOWN"
	}
}

// Thresholds configures the per-input levels that map a raw input value
// to a State.
type Thresholds struct {
	DrawdownWarnPct, DrawdownStormPct, DrawdownHaltPct float64
	LatencyWarnUs, LatencyStormUs, LatencyHaltUs       int64
	FeedGapWarnS, FeedGapStormS, FeedGapHaltS          float64
}

// Inputs is a snapshot of every tracked health signal.
type Inputs struct {
	DrawdownPct   float64
	LatencyUs     int64
	FeedGapS      float64
	BusOverflow   bool // manual flag: overflow-threshold breach this tick
	ManualTrigger bool
}

// Guard is the StormGuard FSM. Safe for concurrent use.
type Guard struct {
	mu         sync.RWMutex
	thresholds Thresholds
	logger     *slog.Logger

	latched     bool   // sticky HALT from TriggerHalt
	latchReason string
	inputs      Inputs
}

// New creates a Guard with the given per-input thresholds.
func New(t Thresholds, logger *slog.Logger) *Guard {
	return &Guard{thresholds: t, logger: logger.With("component", "stormguard")}
}

// Update records the latest input snapshot and recomputes the effective
// transient state. It does not clear a sticky HALT; only Clear does.
func (g *Guard) Update(in Inputs) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inputs = in
}

// State returns the effective state: max(per-input worst-states), or
// HALT if latched by a manual/automatic trigger, whichever is worse.
func (g *Guard) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stateLocked()
}

func (g *Guard) stateLocked() State {
	worst := Normal
	t := g.thresholds
	in := g.inputs

	worst = maxState(worst, bucket(in.DrawdownPct, t.DrawdownWarnPct, t.DrawdownStormPct, t.DrawdownHaltPct))
	worst = maxState(worst, bucketInt(in.LatencyUs, t.LatencyWarnUs, t.LatencyStormUs, t.LatencyHaltUs))
	worst = maxState(worst, bucket(in.FeedGapS, t.FeedGapWarnS, t.FeedGapStormS, t.FeedGapHaltS))
	if in.BusOverflow {
		worst = maxState(worst, Storm)
	}
	if in.ManualTrigger {
		worst = maxState(worst, Halt)
	}
	if g.latched {
		worst = maxState(worst, Halt)
	}
	return worst
}

func bucket(v, warn, storm, halt float64) State {
	switch {
	case halt > 0 && v >= halt:
		return Halt
	case storm > 0 && v >= storm:
		return Storm
	case warn > 0 && v >= warn:
		return Warm
	default:
		return Normal
	}
}

func bucketInt(v, warn, storm, halt int64) State {
	switch {
	case halt > 0 && v >= halt:
		return Halt
	case storm > 0 && v >= storm:
		return Storm
	case warn > 0 && v >= warn:
		return Warm
	default:
		return Normal
	}
}

func maxState(a, b State) State {
	if b > a {
		return b
	}
	return a
}

// TriggerHalt sets a sticky HALT. It remains in effect until an explicit
// Clear, regardless of how inputs subsequently normalize.
func (g *Guard) TriggerHalt(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latched = true
	g.latchReason = reason
	g.logger.Error("storm guard HALT triggered", "reason", reason)
}

// Clear releases a sticky HALT.
func (g *Guard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.latched {
		g.logger.Info("storm guard HALT cleared", "previous_reason", g.latchReason)
	}
	g.latched = false
	g.latchReason = ""
}

// IsSafe reports whether the effective state is NORMAL.
func (g *Guard) IsSafe() bool {
	return g.State() == Normal
}

// Gauge returns the effective state as an integer, for metrics export.
func (g *Guard) Gauge() int {
	return int(g.State())
}

// BusOverflowTracker is a sliding-window overflow counter: if the number
// of bus-overflow events observed within `window` exceeds `threshold`,
// it invokes TriggerHalt("bus_overflow").
type BusOverflowTracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	events    []time.Time
	guard     *Guard
}

// NewBusOverflowTracker wires overflow observations to guard.TriggerHalt.
func NewBusOverflowTracker(window time.Duration, threshold int, guard *Guard) *BusOverflowTracker {
	return &BusOverflowTracker{window: window, threshold: threshold, guard: guard}
}

// Observe records one overflow event (call this from bus.OverflowHook).
func (t *BusOverflowTracker) Observe() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.events = append(t.events, now)
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.events) && t.events[i].Before(cutoff) {
		i++
	}
	t.events = t.events[i:]

	if len(t.events) > t.threshold {
		t.guard.TriggerHalt("bus_overflow")
	}
}
