// Package gatewaypolicy is the three-mode intent-admission FSM
// (NORMAL/DEGRADE/HALT). NORMAL admits everything, DEGRADE blocks NEW
// while allowing CANCEL/MODIFY, and HALT blocks all (CANCEL only when
// the escape-hatch flag permits). NORMAL<->DEGRADE transitions follow
// the storm guard automatically; HALT is explicit only.
package gatewaypolicy

import (
	"log/slog"
	"sync"

	"github.com/hftplatform/engine/internal/stormguard"
	"github.com/hftplatform/engine/pkg/intents"
)

// Mode is one of the three admission modes.
type Mode int

const (
	ModeNormal Mode = iota
	ModeDegrade
	ModeHalt
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "NORMAL"
	case ModeDegrade:
		return "DEGRADE"
	case ModeHalt:
		return "HALT"
	default:
		return "UNKNOWN"
	}
}

// Policy gates intent admission. HALT is never auto-entered; it must be
// set explicitly via SetHalt. NORMAL<->DEGRADE transitions are automatic,
// driven by the StormGuard state observed on each Refresh call; Allow
// only reads the current mode.
type Policy struct {
	mu                sync.RWMutex
	mode              Mode
	allowCancelOnHalt bool
	guard             *stormguard.Guard
	logger            *slog.Logger
}

// New creates a Policy starting in NORMAL mode.
func New(guard *stormguard.Guard, allowCancelOnHalt bool, logger *slog.Logger) *Policy {
	return &Policy{
		guard:             guard,
		allowCancelOnHalt: allowCancelOnHalt,
		logger:            logger.With("component", "gatewaypolicy"),
	}
}

// Refresh applies the auto-transition rule: StormGuard >= STORM moves
// NORMAL -> DEGRADE; StormGuard < STORM moves DEGRADE -> NORMAL. HALT is
// untouched by Refresh (explicit only).
func (p *Policy) Refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode == ModeHalt {
		return
	}
	storm := p.guard.State() >= stormguard.Storm
	switch {
	case storm && p.mode == ModeNormal:
		p.mode = ModeDegrade
		p.logger.Warn("gateway policy degraded", "storm_guard", p.guard.State().String())
	case !storm && p.mode == ModeDegrade:
		p.mode = ModeNormal
		p.logger.Info("gateway policy restored to normal")
	}
}

// SetHalt explicitly enters or leaves HALT mode.
func (p *Policy) SetHalt(halt bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if halt {
		p.mode = ModeHalt
		p.logger.Error("gateway policy halted")
	} else {
		p.mode = ModeNormal
		p.logger.Info("gateway policy halt lifted")
	}
}

// Mode returns the current admission mode.
func (p *Policy) Mode() Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// Allow reports whether the given intent type is admitted under the
// current mode.
func (p *Policy) Allow(t intents.IntentType) (ok bool, reasonCode string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch p.mode {
	case ModeNormal:
		return true, ""
	case ModeDegrade:
		if t == intents.IntentNew {
			return false, "STORMGUARD_STORM_NEW_BLOCKED"
		}
		return true, ""
	case ModeHalt:
		if t == intents.IntentCancel && p.allowCancelOnHalt {
			return true, ""
		}
		return false, "HALT"
	default:
		return false, "UNKNOWN_MODE"
	}
}
