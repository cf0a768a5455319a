package serialmux

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// collectSink records every chunk delivered by Monitor.
type collectSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (c *collectSink) Ingest(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, bytes.Clone(chunk))
}

func (c *collectSink) joined() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.chunks, nil)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSerialMux_MonitorDeliversAllChunksInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	port := NewTestableSerialPort([]byte{0xFE, 0x03}, []byte{0x02, 0x02}, []byte{0xFF})
	port.Fail(errors.New("device unplugged"))
	mux := NewSerialMux(port)
	sink := &collectSink{}

	err := mux.Monitor(context.Background(), sink)
	if err == nil {
		t.Fatal("expected read error from Monitor")
	}
	if got := err.Error(); got != "serial read: device unplugged" {
		t.Errorf("error = %q", got)
	}
	if got, want := sink.joined(), []byte{0xFE, 0x03, 0x02, 0x02, 0xFF}; !bytes.Equal(got, want) {
		t.Errorf("delivered % x, want % x", got, want)
	}
	mux.Close()
}

func TestSerialMux_MonitorStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx, &collectSink{}) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}

	// closing the port releases the blocked reader goroutine
	mux.Close()
}

// TestSerialMux_ReaderStopsOnCancelWithReadTimeout checks the reader
// goroutine exits after cancellation even though the port is still open and
// keeps returning empty reads.
func TestSerialMux_ReaderStopsOnCancelWithReadTimeout(t *testing.T) {
	ignore := goleak.IgnoreCurrent()

	port := NewTestableSerialPort()
	port.SetReadTimeout(5 * time.Millisecond)
	mux := NewSerialMux(port)
	defer mux.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx, &collectSink{}) }()

	waitFor(t, func() bool { return port.ReadCalls() > 2 })
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}

	goleak.VerifyNone(t, ignore)

	reads := port.ReadCalls()
	time.Sleep(50 * time.Millisecond)
	if got := port.ReadCalls(); got != reads {
		t.Errorf("port read %d more times after Monitor returned", got-reads)
	}
	if port.Closed() {
		t.Error("cancel must not close the port")
	}
}

func TestSerialMux_MonitorReturnsNilAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background(), nil) }()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor returned %v after Close, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after Close")
	}
}

func TestSerialMux_SkipsEmptyReads(t *testing.T) {
	port := NewTestableSerialPort()
	port.SetReadTimeout(5 * time.Millisecond)
	mux := NewSerialMux(port)
	defer mux.Close()

	sink := &collectSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx, sink)

	time.Sleep(20 * time.Millisecond)
	port.AddReadData([]byte{0xAA})
	waitFor(t, func() bool { return len(sink.joined()) == 1 })
}

func TestSerialMux_SubscribersReceiveCopies(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	defer mux.Close()

	id, ch := mux.Subscribe()
	if id == "" {
		t.Fatal("empty subscriber id")
	}
	_, other := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx, nil)

	port.AddReadData([]byte{1, 2, 3})
	for _, c := range []chan []byte{ch, other} {
		select {
		case got := <-c:
			if !bytes.Equal(got, []byte{1, 2, 3}) {
				t.Errorf("subscriber got % x", got)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive chunk")
		}
	}

	mux.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestSerialMux_SlowSubscriberDoesNotBlockSink(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	defer mux.Close()

	mux.Subscribe() // never drained
	sink := &collectSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx, sink)

	const n = subscriberBuffer * 3
	for i := 0; i < n; i++ {
		port.AddReadData([]byte{byte(i)})
	}
	waitFor(t, func() bool { return len(sink.joined()) == n })
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	defer mux.Close()

	if err := mux.SendCommand([]byte{0xCA}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got := port.GetWrittenData(); !bytes.Equal(got, []byte{0xCA}) {
		t.Errorf("written % x, want ca (no newline or framing)", got)
	}

	if err := mux.SendCommand(nil); err != nil {
		t.Errorf("empty command: %v", err)
	}
	if port.WriteCalls() != 1 {
		t.Errorf("empty command reached the port")
	}
}

func TestSerialMux_SendCommandErrors(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	defer mux.Close()

	port.WriteError = errors.New("io error")
	if err := mux.SendCommand([]byte{0xCA}); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("got %v, want ErrWriteFailed", err)
	}

	port.ShortWrite = true
	if err := mux.SendCommand([]byte{0xCA, 0xCA}); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("short write: got %v, want ErrWriteFailed", err)
	}
}

func TestSerialMux_CloseClosesSubscribersAndPort(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel still open after Close")
	}
	if !port.Closed() {
		t.Error("port not closed")
	}
}
