package serialmux

import (
	"errors"
	"testing"
)

func TestNewRealSerialMux_InvalidPath(t *testing.T) {
	mux, err := NewRealSerialMux("/dev/nonexistent-serial-port-12345", PortOptions{})
	if err == nil {
		mux.Close()
		t.Fatal("expected error when opening non-existent serial port")
	}
	if mux != nil {
		t.Error("expected nil mux when error is returned")
	}
}

func TestNewRealSerialMux_InvalidOptions(t *testing.T) {
	if _, err := NewRealSerialMux("/dev/null", PortOptions{DataBits: 12}); err == nil {
		t.Fatal("expected options error")
	}
}

func TestOpenSerialMux_SetsReadTimeout(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)
	opts := PortOptions{BaudRate: 115200}

	mux, err := OpenSerialMux(factory, "/dev/ttyUSB0", opts)
	if err != nil {
		t.Fatalf("OpenSerialMux: %v", err)
	}
	defer mux.Close()

	call := factory.LastCall()
	if call == nil || call.Path != "/dev/ttyUSB0" || call.Options != opts {
		t.Errorf("Open called with %+v", call)
	}
	if port.ReadTimeout() != ReadTimeout {
		t.Errorf("read timeout = %v, want %v", port.ReadTimeout(), ReadTimeout)
	}
}

func TestOpenSerialMux_OpenError(t *testing.T) {
	factory := NewMockSerialPortFactory(nil)
	factory.Error = errors.New("permission denied")

	if _, err := OpenSerialMux(factory, "/dev/ttyACM0", PortOptions{}); !errors.Is(err, factory.Error) {
		t.Errorf("got %v, want %v", err, factory.Error)
	}
}

func TestSerialPortOpener(t *testing.T) {
	port := NewTestableSerialPort()
	var opened string
	opener := SerialPortOpener(func(path string, _ PortOptions) (SerialPorter, error) {
		opened = path
		return port, nil
	})

	mux, err := OpenSerialMux(opener, "sim0", PortOptions{})
	if err != nil {
		t.Fatalf("OpenSerialMux: %v", err)
	}
	mux.Close()
	if opened != "sim0" {
		t.Errorf("opened %q", opened)
	}
}
