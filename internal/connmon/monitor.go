// Package connmon tracks liveness of the transport link and applies a
// circuit breaker against repeated operation failures.
package connmon

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned by Allow while the breaker is open. Callers
// fail fast instead of retrying, to avoid request storms against a struggling
// backend.
var ErrCircuitOpen = errors.New("circuit open: too many consecutive failures")

// Status describes the transport link.
type Status int

const (
	Disconnected Status = iota
	Reconnecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Config tunes the breaker.
type Config struct {
	// FailureThreshold is how many consecutive failures open the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before one probe is
	// allowed through again.
	Cooldown time.Duration
}

// DefaultConfig returns the breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// State is a point-in-time snapshot for the presentation layer. It is not
// persisted; it resets with the process.
type State struct {
	Connected           bool `json:"connected"`
	Reconnecting        bool `json:"reconnecting"`
	ConsecutiveFailures int  `json:"consecutive_failures"`
	CircuitOpen         bool `json:"circuit_open"`
}

// Monitor tracks link status and consecutive operation failures. All methods
// are safe for concurrent use.
type Monitor struct {
	mu       sync.Mutex
	cfg      Config
	clock    clockwork.Clock
	status   Status
	failures int
	openedAt time.Time // zero when the circuit is closed
}

// New creates a monitor backed by the real clock.
func New(cfg Config) *Monitor {
	return NewWithClock(cfg, clockwork.NewRealClock())
}

// NewWithClock creates a monitor with an explicit clock.
func NewWithClock(cfg Config, clock clockwork.Clock) *Monitor {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Monitor{cfg: cfg, clock: clock}
}

// MarkConnected records a live link and resets the failure streak.
func (m *Monitor) MarkConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != Connected {
		log.Info().Str("status", Connected.String()).Msg("transport link up")
	}
	m.status = Connected
	m.failures = 0
	m.openedAt = time.Time{}
}

// MarkReconnecting records that the transport is attempting to re-establish
// the link.
func (m *Monitor) MarkReconnecting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = Reconnecting
}

// MarkDisconnected records a dead link.
func (m *Monitor) MarkDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == Connected {
		log.Warn().Msg("transport link lost")
	}
	m.status = Disconnected
}

// RecordSuccess resets the failure streak and closes the circuit. A single
// observed success is enough to end a cooldown early.
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
	if !m.openedAt.IsZero() {
		log.Info().Msg("circuit closed after observed success")
		m.openedAt = time.Time{}
	}
}

// RecordFailure bumps the failure streak and opens the circuit once the
// threshold is crossed.
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	if m.failures >= m.cfg.FailureThreshold && m.openedAt.IsZero() {
		m.openedAt = m.clock.Now()
		log.Warn().
			Int("consecutive_failures", m.failures).
			Dur("cooldown", m.cfg.Cooldown).
			Msg("circuit opened")
	}
}

// Allow reports whether a new refresh or action request may proceed. While
// the circuit is open it returns ErrCircuitOpen; after the cooldown window a
// probe is let through (the breaker re-closes only on RecordSuccess).
func (m *Monitor) Allow() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openedAt.IsZero() {
		return nil
	}
	if m.clock.Since(m.openedAt) >= m.cfg.Cooldown {
		return nil
	}
	return ErrCircuitOpen
}

// Snapshot returns the current state for the merged view.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := !m.openedAt.IsZero() && m.clock.Since(m.openedAt) < m.cfg.Cooldown
	return State{
		Connected:           m.status == Connected,
		Reconnecting:        m.status == Reconnecting,
		ConsecutiveFailures: m.failures,
		CircuitOpen:         open,
	}
}
