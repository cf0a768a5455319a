package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/banshee-data/jointmon/internal/calibration"
	"github.com/banshee-data/jointmon/internal/devicestate"
	"github.com/banshee-data/jointmon/internal/protocol"
)

// Columns is the number of channel columns in the grid.
const Columns = 3

const (
	latencyGood = 100 * time.Millisecond
	latencyFair = 500 * time.Millisecond
)

// GridRows is the number of rows needed to lay n channels out in cols
// columns.
func GridRows(n, cols int) int {
	return (n + cols - 1) / cols
}

// CellIndex maps a grid cell to a channel index. Channels run down each
// column before moving to the next one.
func CellIndex(row, col, rows int) int {
	return row + col*rows
}

// FormatChannel renders one grid cell with tview colour tags.
func FormatChannel(idx int, ch protocol.Channel) string {
	id := tview.Escape(fmt.Sprintf("[%02d]", idx))
	if ch.Error {
		return id + " [white:red] DISCONNECT [-:-]"
	}
	colour := "white"
	if idx%2 == 0 {
		colour = "darkcyan"
	}
	return fmt.Sprintf("%s [%s]%05d (%6.2f°)[-]", id, colour, ch.Raw, ch.Degrees())
}

// RenderGrid lays out every channel of r.
func RenderGrid(r protocol.Readings) string {
	rows := GridRows(len(r), Columns)
	var b strings.Builder
	for row := 0; row < rows; row++ {
		cells := make([]string, 0, Columns)
		for col := 0; col < Columns; col++ {
			idx := CellIndex(row, col, rows)
			if idx >= len(r) {
				break
			}
			cells = append(cells, FormatChannel(idx, r[idx]))
		}
		b.WriteString(strings.Join(cells, "   "))
		b.WriteByte('\n')
	}
	return b.String()
}

// LatencyColour grades data staleness.
func LatencyColour(d time.Duration) string {
	switch {
	case d < latencyGood:
		return "green"
	case d < latencyFair:
		return "yellow"
	default:
		return "red"
	}
}

// RenderStatus renders the connection and latency line.
func RenderStatus(snap devicestate.Snapshot) string {
	var conn string
	switch {
	case snap.Connected:
		conn = fmt.Sprintf("[green]● connected: %s[-]", tview.Escape(snap.Port))
	case snap.LastError != "":
		conn = fmt.Sprintf("[red]● disconnected: %s[-]", tview.Escape(snap.LastError))
	default:
		conn = "[red]● not connected[-]"
	}

	if !snap.HasData() {
		return conn + "  |  latency: [red]no data[-]"
	}
	latency := snap.Latency(snap.TakenAt)
	return fmt.Sprintf("%s  |  latency: [%s]%d ms[-]  |  frames: %d",
		conn, LatencyColour(latency), latency.Milliseconds(), snap.Frames)
}

// CalibrationMessage describes the calibration state for the operator.
func CalibrationMessage(status calibration.Status) string {
	switch status {
	case calibration.Pending:
		return "[yellow]⏳ calibration requested, waiting for the board...[-]"
	case calibration.Success:
		return "[white:green] ✅ calibration succeeded, zero saved to EEPROM [-:-]"
	case calibration.Failed:
		return "[white:red] ❌ calibration failed (timeout or hardware error) [-:-]"
	default:
		return "[white]waiting for command...[-]"
	}
}

// RenderCalibration renders the calibration panel, including a pending
// notice such as a failed trigger.
func RenderCalibration(snap devicestate.Snapshot, notice string) string {
	var b strings.Builder
	b.WriteString("press [yellow]'c'[-] to run mechanical zero calibration\n\n")
	b.WriteString("status: ")
	b.WriteString(CalibrationMessage(snap.Calibration))
	if notice != "" {
		b.WriteString("\n[red]")
		b.WriteString(tview.Escape(notice))
		b.WriteString("[-]")
	}
	return b.String()
}
