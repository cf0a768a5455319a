// Serialmux provides an abstraction over a serial port carrying a binary
// stream: every chunk read is handed, in order and without loss, to a single
// sink (the decoder), and copies are fanned out on a best-effort basis to any
// number of subscribers such as the debug tail. Commands are written to the
// same port.
package serialmux

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// readBufferSize bounds a single chunk. At 921600 baud a 100ms read timeout
// can return about 9KB.
const readBufferSize = 4096

// subscriberBuffer is how many chunks a slow subscriber may lag before it
// starts missing chunks.
const subscriberBuffer = 64

// ChunkSink receives every chunk read from the port, in order.
type ChunkSink interface {
	Ingest(chunk []byte)
}

// SerialMux is a generic serial port multiplexer for a single binary device.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel receiving copies of raw chunks. The ID
	// identifies the channel when unsubscribing.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the bytes to the serial port unmodified.
	SendCommand([]byte) error
	// Monitor reads chunks from the serial port, delivering each to sink
	// and to subscribers, until ctx is done or the port fails.
	Monitor(ctx context.Context, sink ChunkSink) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux over an already opened port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan []byte),
	}
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes command to the serial port as is. Writes are
// serialized so concurrent commands never interleave on the wire.
func (s *SerialMux[T]) SendCommand(command []byte) error {
	if len(command) == 0 {
		return nil
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write(command)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Monitor reads the serial port until ctx is cancelled, the mux is closed or
// a read fails. Zero-length reads (a read timeout on real ports) are skipped.
// A read error is returned so the caller can report the connection as lost;
// cancellation and Close return ctx.Err() and nil respectively.
func (s *SerialMux[T]) Monitor(ctx context.Context, sink ChunkSink) error {
	chunkChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	// the blocking Read runs on its own goroutine so the loop below can
	// still observe cancellation between chunks
	go func() {
		defer close(chunkChan)
		buf := make([]byte, readBufferSize)
		for {
			n, err := s.port.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunkChan <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErrChan <- err
				return
			}
			// a port with a read timeout returns empty reads forever, so
			// the reader has to notice on its own that nobody is listening
			if ctx.Err() != nil || s.isClosing() {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-chunkChan:
			if !ok {
				if s.isClosing() {
					return nil
				}
				select {
				case err := <-readErrChan:
					return fmt.Errorf("serial read: %w", err)
				default:
					return ctx.Err()
				}
			}
			if s.isClosing() {
				return nil
			}

			if sink != nil {
				sink.Ingest(chunk)
			}

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- chunk:
				default:
					// a full subscriber misses this chunk rather than stall decoding
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}
