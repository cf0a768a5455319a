package serialmux

import (
	"bytes"
	"io"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/banshee-data/jointmon/internal/protocol"
	"github.com/banshee-data/jointmon/internal/stream"
)

type ackSink struct {
	readings []protocol.Readings
	acks     []protocol.AckCode
}

func (s *ackSink) ApplySensorFrame(r protocol.Readings) { s.readings = append(s.readings, r) }
func (s *ackSink) ApplyAckCode(c protocol.AckCode)      { s.acks = append(s.acks, c) }

func fastSimulator(fail bool) *SimulatedPort {
	return NewSimulatedPort(SimulatorOptions{
		Interval:        time.Millisecond,
		FaultChannel:    3,
		AckDelay:        5 * time.Millisecond,
		FailCalibration: fail,
	})
}

// readUntil feeds the port into a reassembler until done reports true.
func readUntil(t *testing.T, port io.Reader, sink *ackSink, done func() bool) {
	t.Helper()
	r := stream.NewReassembler(sink, 0)
	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out: %d frames, acks %v", len(sink.readings), sink.acks)
		}
		n, err := port.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		r.Ingest(buf[:n])
	}
}

func TestSimulatedPort_StreamsSensorFrames(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	port := fastSimulator(false)
	defer port.Close()

	frame := make([]byte, protocol.SensorFrameSize)
	if _, err := io.ReadFull(port, frame); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if want := protocol.EncodeSensor(port.Frame(0)); !bytes.Equal(frame, want) {
		t.Fatalf("first frame\n got % x\nwant % x", frame, want)
	}

	readings, ok := protocol.DecodeSensor(frame[3 : len(frame)-1])
	if !ok {
		t.Fatal("frame payload did not decode")
	}
	for i, ch := range readings {
		if ch.Error != (i == 3) {
			t.Errorf("channel %d error = %v", i, ch.Error)
		}
	}
}

func TestSimulatedPort_FramesDrift(t *testing.T) {
	port := NewSimulatedPort(SimulatorOptions{FaultChannel: -1})
	defer port.Close()

	a, b := port.Frame(0), port.Frame(100)
	for i := range a {
		if a[i] == b[i] {
			t.Errorf("channel %d did not move", i)
		}
		if b[i] >= protocol.EncoderResolution {
			t.Errorf("channel %d out of range: %d", i, b[i])
		}
	}
}

func TestSimulatedPort_Calibration(t *testing.T) {
	for _, tt := range []struct {
		name string
		fail bool
		want []protocol.AckCode
	}{
		{"success", false, []protocol.AckCode{protocol.AckPending, protocol.AckSuccess}},
		{"failure", true, []protocol.AckCode{protocol.AckPending, protocol.AckFailed}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			port := fastSimulator(tt.fail)
			defer port.Close()

			if _, err := port.Write([]byte{protocol.CommandCalibrate}); err != nil {
				t.Fatalf("Write: %v", err)
			}
			sink := &ackSink{}
			readUntil(t, port, sink, func() bool { return len(sink.acks) >= 2 })

			for i, want := range tt.want {
				if sink.acks[i] != want {
					t.Errorf("ack %d = %v, want %v", i, sink.acks[i], want)
				}
			}
			if len(sink.readings) == 0 {
				t.Error("sensor frames stopped during calibration")
			}
		})
	}
}

func TestSimulatedPort_IgnoresOtherBytes(t *testing.T) {
	port := fastSimulator(false)
	defer port.Close()

	port.Write([]byte{0x01, 0x02})
	sink := &ackSink{}
	readUntil(t, port, sink, func() bool { return len(sink.readings) >= 20 })

	if len(sink.acks) != 0 {
		t.Errorf("unexpected acks %v", sink.acks)
	}
	if got := port.Written(); !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Errorf("Written() = % x", got)
	}
}

func TestSimulatedPort_Close(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	port := fastSimulator(false)
	if err := port.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := port.Read(make([]byte, 8)); err == nil {
		t.Error("expected read error after Close")
	}
	if _, err := port.Write([]byte{protocol.CommandCalibrate}); err == nil {
		t.Error("expected write error after Close")
	}
	if err := port.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
