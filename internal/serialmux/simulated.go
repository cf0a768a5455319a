package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/banshee-data/jointmon/internal/monitoring"
	"github.com/banshee-data/jointmon/internal/protocol"
)

// SimulatorOptions tunes a SimulatedPort. Zero values select the defaults.
type SimulatorOptions struct {
	Clock clockwork.Clock
	// Interval between sensor frames; the board streams at about 100Hz.
	Interval time.Duration
	// FaultChannel reports the error sentinel; negative disables it.
	FaultChannel int
	// AckDelay is how long the simulated calibration takes.
	AckDelay time.Duration
	// FailCalibration answers calibration requests with a failure.
	FailCalibration bool
}

// DefaultSimulatorOptions returns a 100Hz stream with the last channel
// faulted and a 1.5s calibration.
func DefaultSimulatorOptions() SimulatorOptions {
	return SimulatorOptions{
		Interval:     10 * time.Millisecond,
		FaultChannel: protocol.ChannelCount - 1,
		AckDelay:     1500 * time.Millisecond,
	}
}

// SimulatedPort stands in for the servo board when no hardware is attached.
// It streams sensor frames with slowly drifting angles and answers the
// calibration command with an in-progress ack followed by the outcome, all
// byte-compatible with the board.
type SimulatedPort struct {
	opts SimulatorOptions

	pr *io.PipeReader
	pw *io.PipeWriter

	commands  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	written bytes.Buffer
}

// NewSimulatedPort starts the simulated board. Close stops it.
func NewSimulatedPort(opts SimulatorOptions) *SimulatedPort {
	def := DefaultSimulatorOptions()
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.AckDelay <= 0 {
		opts.AckDelay = def.AckDelay
	}

	pr, pw := io.Pipe()
	p := &SimulatedPort{
		opts:     opts,
		pr:       pr,
		pw:       pw,
		commands: make(chan struct{}, 8),
		done:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *SimulatedPort) Read(b []byte) (int, error) {
	return p.pr.Read(b)
}

// Write accepts host commands. Every calibration command byte schedules one
// calibration cycle; other bytes are recorded and ignored.
func (p *SimulatedPort) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, errors.New("serial port closed")
	default:
	}

	p.mu.Lock()
	p.written.Write(b)
	p.mu.Unlock()

	for _, c := range b {
		if c != protocol.CommandCalibrate {
			continue
		}
		select {
		case p.commands <- struct{}{}:
		default:
			monitoring.Logf("simulator: calibration queue full, dropping request")
		}
	}
	return len(b), nil
}

// Written returns every byte the host has written.
func (p *SimulatedPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.written.Bytes())
}

// SetReadTimeout is accepted for compatibility; reads wake on each frame.
func (p *SimulatedPort) SetReadTimeout(time.Duration) error { return nil }

func (p *SimulatedPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.pr.Close()
	})
	p.wg.Wait()
	return nil
}

// Frame returns the sensor values the simulator emits at tick n.
func (p *SimulatedPort) Frame(n uint64) [protocol.ChannelCount]uint16 {
	var values [protocol.ChannelCount]uint16
	for i := range values {
		if i == p.opts.FaultChannel {
			values[i] = protocol.ErrorSentinel
			continue
		}
		base := uint64(i) * protocol.EncoderResolution / protocol.ChannelCount
		step := uint64(i%5 + 1)
		values[i] = uint16((base + n*step) % protocol.EncoderResolution)
	}
	return values
}

func (p *SimulatedPort) run() {
	defer p.wg.Done()
	defer p.pw.Close()

	ticker := p.opts.Clock.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	var (
		tick    uint64
		outcome <-chan time.Time
	)
	for {
		select {
		case <-p.done:
			return

		case <-ticker.Chan():
			if !p.emit(protocol.EncodeSensor(p.Frame(tick))) {
				return
			}
			tick++

		case <-p.commands:
			if !p.emit(protocol.EncodeAck(protocol.AckPending)) {
				return
			}
			// a repeated request restarts the cycle
			outcome = p.opts.Clock.After(p.opts.AckDelay)

		case <-outcome:
			outcome = nil
			code := protocol.AckSuccess
			if p.opts.FailCalibration {
				code = protocol.AckFailed
			}
			if !p.emit(protocol.EncodeAck(code)) {
				return
			}
		}
	}
}

// emit blocks until the reader takes the frame or the port is closed.
func (p *SimulatedPort) emit(frame []byte) bool {
	_, err := p.pw.Write(frame)
	return err == nil
}
