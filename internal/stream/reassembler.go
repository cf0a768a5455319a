// Package stream turns arbitrarily chunked bytes from the joint bus into
// decoded frames. It owns the pending byte buffer and is the only place
// that decides which bytes are garbage.
package stream

import (
	"bytes"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/jointmon/internal/monitoring"
	"github.com/banshee-data/jointmon/internal/protocol"
)

// DefaultMaxPending bounds the bytes held while waiting for a frame to
// complete. A LEN byte can describe at most protocol.MaxFrameSize bytes, so
// the default never truncates a frame; lower values trade support for
// unknown long frames against faster recovery from a corrupted LEN.
const DefaultMaxPending = 1024

// Sink receives decoded frames. It is called synchronously from Ingest.
type Sink interface {
	ApplySensorFrame(readings protocol.Readings)
	ApplyAckCode(code protocol.AckCode)
}

// Stats are running counters for diagnostics. None of these conditions is
// an error for the stream.
type Stats struct {
	Frames         uint64 `json:"frames"`
	SensorFrames   uint64 `json:"sensor_frames"`
	AckFrames      uint64 `json:"ack_frames"`
	UnknownFrames  uint64 `json:"unknown_frames"`
	Malformed      uint64 `json:"malformed"`
	InvalidPayload uint64 `json:"invalid_payload"`
	Discarded      uint64 `json:"discarded_bytes"`
	Overflows      uint64 `json:"overflows"`
}

type counters struct {
	frames, sensor, ack, unknown, malformed, invalid, discarded, overflows atomic.Uint64
}

// Reassembler accumulates chunks and extracts frames. Ingest and Pending
// must only be called from the ingestion goroutine; Stats is safe from
// anywhere.
type Reassembler struct {
	buf        []byte
	sink       Sink
	maxPending int
	stats      counters
	discardLog rate.Sometimes
}

// NewReassembler creates a Reassembler forwarding to sink. A maxPending
// smaller than a sensor frame is raised to protocol.SensorFrameSize.
func NewReassembler(sink Sink, maxPending int) *Reassembler {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if maxPending < protocol.SensorFrameSize {
		maxPending = protocol.SensorFrameSize
	}
	return &Reassembler{
		buf:        make([]byte, 0, maxPending),
		sink:       sink,
		maxPending: maxPending,
		discardLog: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Ingest appends chunk and applies every frame that is now complete. There
// is no bound on how many frames one call may flush.
func (r *Reassembler) Ingest(chunk []byte) {
	r.buf = append(r.buf, chunk...)
	r.drain()
	for len(r.buf) > r.maxPending {
		r.resync()
		r.drain()
	}
}

func (r *Reassembler) drain() {
	for len(r.buf) > 0 {
		res := protocol.Scan(r.buf)
		if res.Garbage > 0 {
			r.noteDiscard(res.Garbage)
		}
		if res.Frame != nil {
			r.dispatch(res.Frame)
		}
		if res.Malformed {
			r.stats.malformed.Add(1)
		}
		// dispatch has finished with the payload slice, so the bytes can move
		r.consume(res.Consumed)
		if !res.Complete {
			return
		}
	}
}

// Pending reports how many bytes are held awaiting a frame boundary.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Stats returns a copy of the counters.
func (r *Reassembler) Stats() Stats {
	return Stats{
		Frames:         r.stats.frames.Load(),
		SensorFrames:   r.stats.sensor.Load(),
		AckFrames:      r.stats.ack.Load(),
		UnknownFrames:  r.stats.unknown.Load(),
		Malformed:      r.stats.malformed.Load(),
		InvalidPayload: r.stats.invalid.Load(),
		Discarded:      r.stats.discarded.Load(),
		Overflows:      r.stats.overflows.Load(),
	}
}

// Reset drops any pending bytes, e.g. after the transport reconnects.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
}

func (r *Reassembler) dispatch(f *protocol.Frame) {
	r.stats.frames.Add(1)
	switch f.Type {
	case protocol.TypeSensor:
		readings, ok := protocol.DecodeSensor(f.Payload)
		if !ok {
			r.stats.invalid.Add(1)
			return
		}
		r.stats.sensor.Add(1)
		r.sink.ApplySensorFrame(readings)
	case protocol.TypeCalibrationAck:
		code, ok := protocol.DecodeAck(f.Payload)
		if !ok {
			r.stats.invalid.Add(1)
			return
		}
		r.stats.ack.Add(1)
		r.sink.ApplyAckCode(code)
	default:
		r.stats.unknown.Add(1)
	}
}

func (r *Reassembler) consume(n int) {
	if n <= 0 {
		return
	}
	r.buf = append(r.buf[:0], r.buf[n:]...)
}

// resync drops the stalled header and everything up to the next one.
func (r *Reassembler) resync() {
	r.stats.overflows.Add(1)
	drop := len(r.buf)
	if next := bytes.IndexByte(r.buf[1:], protocol.Head); next >= 0 {
		drop = next + 1
	}
	r.noteDiscard(drop)
	r.consume(drop)
}

func (r *Reassembler) noteDiscard(n int) {
	total := r.stats.discarded.Add(uint64(n))
	r.discardLog.Do(func() {
		monitoring.Logf("stream: discarded %d bytes (%d total)", n, total)
	})
}
