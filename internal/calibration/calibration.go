// Package calibration tracks the lifecycle of a mechanical zero calibration
// request: Idle, then Pending once requested, then Success or Failed as the
// board reports, falling back to Idle after a display window.
//
// The machine holds no clock and no lock. Callers pass the current time and
// serialize access themselves.
package calibration

import (
	"time"

	"github.com/banshee-data/jointmon/internal/protocol"
)

// DefaultWindow is how long Success and Failed remain visible.
const DefaultWindow = 5 * time.Second

// Status is the presented calibration state.
type Status int

const (
	Idle Status = iota
	Pending
	Success
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON snapshots.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Machine is the calibration state. The zero value is Idle with the default
// window and no pending timeout.
type Machine struct {
	status Status
	since  time.Time

	// pendingSince is when the machine last entered Pending; it only feeds
	// the optional pending timeout.
	pendingSince time.Time

	window         time.Duration
	pendingTimeout time.Duration
}

// New returns an idle machine. A non-positive window selects DefaultWindow.
// pendingTimeout of zero leaves Pending without a deadline: a request the
// board never answers stays Pending.
func New(window, pendingTimeout time.Duration) Machine {
	return Machine{window: window, pendingTimeout: pendingTimeout}
}

func (m *Machine) displayWindow() time.Duration {
	if m.window <= 0 {
		return DefaultWindow
	}
	return m.window
}

// Trigger records a calibration request sent at now. It restarts the cycle
// from Pending and cancels any outstanding expiry.
func (m *Machine) Trigger(now time.Time) {
	m.status = Pending
	m.since = now
	m.pendingSince = now
}

// Apply advances the machine for an acknowledgement received at now. The
// last code received wins; no outcome is sticky.
func (m *Machine) Apply(code protocol.AckCode, now time.Time) bool {
	m.Settle(now)
	switch code {
	case protocol.AckPending:
		// code 1 only confirms the request; the status time is left alone
		if m.status != Pending {
			m.pendingSince = now
		}
		m.status = Pending
	case protocol.AckSuccess:
		m.status = Success
		m.since = now
	case protocol.AckFailed:
		m.status = Failed
		m.since = now
	default:
		return false
	}
	return true
}

// View reports the status as an observer at now must see it. Success and
// Failed read as Idle once the display window has elapsed. View does not
// mutate the machine, and for a fixed stored state it only ever moves
// forward as now advances, so an expiry can not flicker back.
func (m *Machine) View(now time.Time) (Status, time.Time) {
	status, since := m.status, m.since

	if status == Pending && m.pendingTimeout > 0 {
		deadline := m.pendingSince.Add(m.pendingTimeout)
		if !now.Before(deadline) {
			status, since = Failed, deadline
		}
	}

	if status == Success || status == Failed {
		expiry := since.Add(m.displayWindow())
		if !now.Before(expiry) {
			status, since = Idle, expiry
		}
	}
	return status, since
}

// Settle folds any expiry due at now into the stored state.
func (m *Machine) Settle(now time.Time) {
	m.status, m.since = m.View(now)
}
