package serialmux

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

var ErrNoPorts = errors.New("no serial ports found")

// preferredVIDs are USB-UART bridges commonly fitted to the servo board.
var preferredVIDs = map[string]string{
	"1A86": "CH340",
	"10C4": "CP210x",
	"0403": "FTDI",
	"303A": "Espressif",
}

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Name         string `json:"name"`
	USB          bool   `json:"usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// Bridge names the USB-UART chip for known vendor IDs.
func (p PortInfo) Bridge() string {
	return preferredVIDs[strings.ToUpper(p.VID)]
}

func (p PortInfo) String() string {
	if !p.USB {
		return p.Name
	}
	desc := fmt.Sprintf("%s [%s:%s]", p.Name, strings.ToUpper(p.VID), strings.ToUpper(p.PID))
	if b := p.Bridge(); b != "" {
		desc += " " + b
	}
	if p.Product != "" {
		desc += " " + p.Product
	}
	return desc
}

// listPorts is swapped in tests.
var listPorts = enumerator.GetDetailedPortsList

// DiscoverPorts lists the serial ports present on the host.
func DiscoverPorts() ([]PortInfo, error) {
	details, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			USB:          d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}

// SelectPort picks a port for the board: a known USB-UART bridge first, then
// any USB port, then whatever port is listed first.
func SelectPort(ports []PortInfo) (string, error) {
	for _, p := range ports {
		if p.USB && p.Bridge() != "" {
			return p.Name, nil
		}
	}
	for _, p := range ports {
		if p.USB {
			return p.Name, nil
		}
	}
	if len(ports) > 0 {
		return ports[0].Name, nil
	}
	return "", ErrNoPorts
}

// AutoSelectPort enumerates the host's ports and picks one with SelectPort.
func AutoSelectPort() (string, error) {
	ports, err := DiscoverPorts()
	if err != nil {
		return "", err
	}
	return SelectPort(ports)
}
