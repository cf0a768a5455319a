// Package device is the entry point to the joint bus core. Transports hand
// it raw chunks through Ingest; observers call Snapshot and
// TriggerCalibration. Everything behind it (framing, decoding, shared state)
// is reached only through these calls and the connection signals.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/banshee-data/jointmon/internal/devicestate"
	"github.com/banshee-data/jointmon/internal/monitoring"
	"github.com/banshee-data/jointmon/internal/protocol"
	"github.com/banshee-data/jointmon/internal/serialmux"
	"github.com/banshee-data/jointmon/internal/stream"
)

// ErrNotConnected is returned by TriggerCalibration when no transport is
// attached.
var ErrNotConnected = errors.New("device not connected")

// Commander writes raw bytes to the board.
type Commander interface {
	SendCommand(command []byte) error
}

// Link is a transport that can both stream chunks and accept commands.
type Link interface {
	Commander
	Monitor(ctx context.Context, sink serialmux.ChunkSink) error
}

// Options configures a Device. Zero values select the defaults.
type Options struct {
	Clock              clockwork.Clock
	CalibrationWindow  time.Duration
	CalibrationTimeout time.Duration
	MaxPending         int
}

// Device owns the reassembler and the state store for one board.
type Device struct {
	store *devicestate.Store

	// ingestMu serializes Ingest; the reassembler is single-owner.
	ingestMu    sync.Mutex
	reassembler *stream.Reassembler

	linkMu    sync.RWMutex
	commander Commander
}

func New(opts Options) *Device {
	store := devicestate.NewStore(devicestate.Options{
		Clock:              opts.Clock,
		CalibrationWindow:  opts.CalibrationWindow,
		CalibrationTimeout: opts.CalibrationTimeout,
	})
	return &Device{
		store:       store,
		reassembler: stream.NewReassembler(store, opts.MaxPending),
	}
}

// Ingest decodes a chunk of bytes read from the board and applies every
// complete frame it finishes. Chunks may split frames anywhere.
func (d *Device) Ingest(chunk []byte) {
	d.ingestMu.Lock()
	defer d.ingestMu.Unlock()
	d.reassembler.Ingest(chunk)
}

// TriggerCalibration marks calibration Pending and sends the calibration
// command. A failed write restores the earlier status.
func (d *Device) TriggerCalibration() error {
	d.linkMu.RLock()
	c := d.commander
	d.linkMu.RUnlock()
	if c == nil {
		return ErrNotConnected
	}

	err := d.store.TriggerCalibration(func() error {
		return c.SendCommand([]byte{protocol.CommandCalibrate})
	})
	if err != nil {
		return fmt.Errorf("send calibration command: %w", err)
	}
	monitoring.Logf("calibration requested")
	return nil
}

// Snapshot returns a consistent copy of the device state.
func (d *Device) Snapshot() devicestate.Snapshot {
	return d.store.Snapshot()
}

// Stats returns the stream counters.
func (d *Device) Stats() stream.Stats {
	return d.reassembler.Stats()
}

// Connect attaches a transport. Bytes held from an earlier connection can
// not continue a frame on this one and are dropped.
func (d *Device) Connect(port string, c Commander) {
	d.ingestMu.Lock()
	d.reassembler.Reset()
	d.ingestMu.Unlock()

	d.linkMu.Lock()
	d.commander = c
	d.linkMu.Unlock()

	d.store.SetConnected(port)
	monitoring.Logf("connected to %s", port)
}

// ConnectionLost detaches the transport and records why.
func (d *Device) ConnectionLost(err error) {
	d.linkMu.Lock()
	d.commander = nil
	d.linkMu.Unlock()

	d.store.SetDisconnected(err)
	if err != nil {
		monitoring.Logf("connection lost: %v", err)
	}
}

// Run connects the device to link and feeds it until ctx is done or the
// link fails, then marks the device disconnected. A cancelled context is
// not a failure and returns nil.
func (d *Device) Run(ctx context.Context, port string, link Link) error {
	d.Connect(port, link)

	err := link.Monitor(ctx, d)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	d.ConnectionLost(err)
	return err
}
