// Package devicestate holds the one shared model of the joint bus: the latest
// encoder readings, when they arrived, the calibration status and whether a
// transport is attached. The ingestion path writes it; any number of
// observers read consistent copies of it.
package devicestate

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/banshee-data/jointmon/internal/calibration"
	"github.com/banshee-data/jointmon/internal/protocol"
)

// Options configures a Store. Zero values select the defaults.
type Options struct {
	Clock              clockwork.Clock
	CalibrationWindow  time.Duration
	CalibrationTimeout time.Duration
}

// Store is safe for concurrent use. Writers take the exclusive lock; Snapshot
// takes the shared lock and copies everything out, so a reader never sees a
// reading whose channels came from different frames.
type Store struct {
	clock clockwork.Clock

	// trigMu serializes calibration triggers. It is never taken by readers
	// or the ingestion path, and the command is written while holding only
	// this lock.
	trigMu sync.Mutex

	mu          sync.RWMutex
	calEpoch    uint64 // bumped on every calibration transition
	readings    protocol.Readings
	lastUpdate  time.Time
	frames      uint64
	calibration calibration.Machine
	port        string
	connected   bool
	lastErr     string
}

// NewStore returns a store with all channels at raw 0, no data received,
// calibration idle and no transport attached.
func NewStore(opts Options) *Store {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:       clock,
		calibration: calibration.New(opts.CalibrationWindow, opts.CalibrationTimeout),
	}
}

// ApplySensorFrame replaces every channel and stamps the update time in one
// step.
func (s *Store) ApplySensorFrame(r protocol.Readings) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = r
	s.lastUpdate = now
	s.frames++
}

// ApplyAckCode advances the calibration machine. Unknown codes leave it
// untouched.
func (s *Store) ApplyAckCode(code protocol.AckCode) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calibration.Apply(code, now) {
		s.calEpoch++
	}
}

// TriggerCalibration moves the machine to Pending and then runs send with no
// state lock held, so a stalled write never blocks Snapshot or the ingestion
// path. Pending is set before the command leaves, so an ack it causes can
// not be overtaken. If send fails and nothing has moved the machine since,
// the previous state is restored.
func (s *Store) TriggerCalibration(send func() error) error {
	s.trigMu.Lock()
	defer s.trigMu.Unlock()

	s.mu.Lock()
	prev := s.calibration
	s.calibration.Trigger(s.clock.Now())
	s.calEpoch++
	epoch := s.calEpoch
	s.mu.Unlock()

	if err := send(); err != nil {
		s.mu.Lock()
		if s.calEpoch == epoch {
			s.calibration = prev
			s.calEpoch++
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// SetConnected records an attached transport.
func (s *Store) SetConnected(port string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.port = port
	s.connected = true
	s.lastErr = ""
}

// SetDisconnected marks the transport absent. The last readings are kept so
// observers can still show them, aging, alongside the failure.
func (s *Store) SetDisconnected(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if err != nil {
		s.lastErr = err.Error()
	}
}

// Snapshot returns a consistent copy of the state as seen now, with any due
// calibration expiry already applied to the reported status.
func (s *Store) Snapshot() Snapshot {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	status, since := s.calibration.View(now)
	return Snapshot{
		Readings:        s.readings,
		LastUpdate:      s.lastUpdate,
		Frames:          s.frames,
		Calibration:     status,
		CalibrationTime: since,
		Port:            s.port,
		Connected:       s.connected,
		LastError:       s.lastErr,
		TakenAt:         now,
	}
}

// Snapshot is an immutable view of the store at TakenAt.
type Snapshot struct {
	Readings        protocol.Readings  `json:"readings"`
	LastUpdate      time.Time          `json:"last_update"`
	Frames          uint64             `json:"frames"`
	Calibration     calibration.Status `json:"calibration"`
	CalibrationTime time.Time          `json:"calibration_time"`
	Port            string             `json:"port"`
	Connected       bool               `json:"connected"`
	LastError       string             `json:"last_error,omitempty"`
	TakenAt         time.Time          `json:"taken_at"`
}

// HasData reports whether any sensor frame has been applied.
func (s Snapshot) HasData() bool {
	return !s.LastUpdate.IsZero()
}

// Latency is the time between the last applied sensor frame and now, or zero
// before the first frame.
func (s Snapshot) Latency(now time.Time) time.Duration {
	if !s.HasData() {
		return 0
	}
	return now.Sub(s.LastUpdate)
}

// Faulted counts the channels reporting an encoder error.
func (s Snapshot) Faulted() int {
	n := 0
	for _, ch := range s.Readings {
		if ch.Error {
			n++
		}
	}
	return n
}
