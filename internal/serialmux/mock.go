package serialmux

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort implements TimeoutSerialPorter with scripted reads for
// tests. Each queued chunk is returned by exactly one Read (split only when
// the caller's buffer is smaller), so tests control where chunk boundaries
// fall in the stream.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond

	chunks  [][]byte
	written bytes.Buffer

	// ReadError is returned once queued chunks are exhausted, ending the
	// stream the way an unplugged device does.
	ReadError error
	// WriteError is returned by the next Write call if set.
	WriteError error
	// CloseError is returned by Close if set.
	CloseError error
	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool

	closed      bool
	readTimeout time.Duration
	readCalls   int
	writeCalls  int
}

// NewTestableSerialPort creates a port whose reads block until data is
// queued, an error is set or the port is closed. With a read timeout set,
// an idle Read returns (0, nil) after the timeout like a real port.
func NewTestableSerialPort(chunks ...[]byte) *TestableSerialPort {
	t := &TestableSerialPort{}
	t.cond = sync.NewCond(&t.mu)
	for _, c := range chunks {
		t.chunks = append(t.chunks, bytes.Clone(c))
	}
	return t
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readCalls++

	var deadline time.Time
	if t.readTimeout > 0 {
		deadline = time.Now().Add(t.readTimeout)
	}

	for len(t.chunks) == 0 && !t.closed && t.ReadError == nil {
		if deadline.IsZero() {
			t.cond.Wait()
			continue
		}
		if !time.Now().Before(deadline) {
			return 0, nil
		}
		t.mu.Unlock()
		time.Sleep(time.Millisecond)
		t.mu.Lock()
	}

	if t.closed {
		return 0, errPortClosed
	}
	if len(t.chunks) == 0 {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	n := copy(p, t.chunks[0])
	if n == len(t.chunks[0]) {
		t.chunks = t.chunks[1:]
	} else {
		t.chunks[0] = t.chunks[0][n:]
	}
	return n, nil
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeCalls++

	if t.closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.ShortWrite && len(p) > 0 {
		p = p[:len(p)-1]
	}
	return t.written.Write(p)
}

// Close marks the port closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cond.Broadcast()
	return t.CloseError
}

func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = timeout
	return nil
}

// AddReadData queues one chunk for a future Read.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = append(t.chunks, bytes.Clone(data))
	t.cond.Broadcast()
}

// Fail ends the stream with err once queued chunks have been read.
func (t *TestableSerialPort) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadError = err
	t.cond.Broadcast()
}

// GetWrittenData returns a copy of everything written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.written.Bytes())
}

func (t *TestableSerialPort) ReadTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readTimeout
}

func (t *TestableSerialPort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// ReadCalls counts every Read, including the ones that timed out empty.
func (t *TestableSerialPort) ReadCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readCalls
}

func (t *TestableSerialPort) WriteCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeCalls
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

// NewMockSerialPortFactory creates a new MockSerialPortFactory.
func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

// Open returns the configured port or error.
func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})

	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
