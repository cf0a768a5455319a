// Package display is the terminal dashboard: a live grid of every encoder,
// the connection and latency line and the calibration panel. It reads the
// device only through snapshots and drives it only through
// TriggerCalibration.
package display

import (
	"context"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"

	"github.com/banshee-data/jointmon/internal/devicestate"
)

// DefaultRefresh redraws at about 15Hz.
const DefaultRefresh = 66 * time.Millisecond

// noticeDuration is how long a trigger error stays on screen.
const noticeDuration = 3 * time.Second

// Controller is the device surface the dashboard uses.
type Controller interface {
	Snapshot() devicestate.Snapshot
	TriggerCalibration() error
}

type Options struct {
	Clock   clockwork.Clock
	Refresh time.Duration
	Title   string
}

type Dashboard struct {
	app     *tview.Application
	dev     Controller
	clock   clockwork.Clock
	refresh time.Duration

	status      *tview.TextView
	grid        *tview.TextView
	calibration *tview.TextView

	mu          sync.Mutex
	notice      string
	noticeUntil time.Time
}

func New(dev Controller, opts Options) *Dashboard {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}
	if opts.Title == "" {
		opts.Title = "joint module bus monitor"
	}

	d := &Dashboard{
		app:         tview.NewApplication(),
		dev:         dev,
		clock:       opts.Clock,
		refresh:     opts.Refresh,
		status:      tview.NewTextView().SetDynamicColors(true),
		grid:        tview.NewTextView().SetDynamicColors(true),
		calibration: tview.NewTextView().SetDynamicColors(true),
	}

	d.grid.SetBorder(true).SetTitle(" encoders (RAW | angle) ")
	d.calibration.SetBorder(true).SetTitle(" calibration ")

	help := tview.NewTextView().SetDynamicColors(true).
		SetText("[gray]c calibrate · q quit[-]")

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.status, 1, 0, false).
		AddItem(d.grid, GridRows(len(devicestate.Snapshot{}.Readings), Columns)+2, 0, false).
		AddItem(d.calibration, 5, 0, false).
		AddItem(help, 1, 0, false).
		AddItem(tview.NewBox(), 0, 1, false)
	root.SetBorder(true).SetTitle(" " + opts.Title + " ").SetTitleAlign(tview.AlignCenter)

	d.app.SetRoot(root, true)
	d.app.SetInputCapture(d.handleKey)
	d.update()
	return d
}

// SetScreen replaces the terminal, for tests.
func (d *Dashboard) SetScreen(s tcell.Screen) {
	d.app.SetScreen(s)
}

// handleKey implements the c and q/Esc bindings and passes other keys on.
func (d *Dashboard) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch {
	case event.Key() == tcell.KeyEscape,
		event.Key() == tcell.KeyRune && (event.Rune() == 'q' || event.Rune() == 'Q'):
		d.app.Stop()
		return nil
	case event.Key() == tcell.KeyRune && (event.Rune() == 'c' || event.Rune() == 'C'):
		d.calibrate()
		d.update()
		return nil
	}
	return event
}

func (d *Dashboard) calibrate() {
	err := d.dev.TriggerCalibration()
	if err == nil {
		d.setNotice("")
		return
	}
	log.Warn().Err(err).Msg("calibration trigger failed")
	d.setNotice(err.Error())
}

func (d *Dashboard) setNotice(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notice = msg
	d.noticeUntil = d.clock.Now().Add(noticeDuration)
}

func (d *Dashboard) currentNotice() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.notice != "" && !d.clock.Now().Before(d.noticeUntil) {
		d.notice = ""
	}
	return d.notice
}

// update redraws every panel from one snapshot. It must run on the
// application goroutine once Run has started.
func (d *Dashboard) update() {
	snap := d.dev.Snapshot()
	d.status.SetText(RenderStatus(snap))
	d.grid.SetText(RenderGrid(snap.Readings))
	d.calibration.SetText(RenderCalibration(snap, d.currentNotice()))
}

// Run shows the dashboard until the user quits or ctx is done.
//
// QueueUpdateDraw blocks once the application has stopped, so the refresh
// goroutine is told to exit but not waited for. Stop is a no-op until Run
// has set up the screen, so cancellation waits for the first draw.
func (d *Dashboard) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready := make(chan struct{})
	var once sync.Once
	d.app.SetAfterDrawFunc(func(tcell.Screen) {
		once.Do(func() { close(ready) })
	})

	runDone := make(chan struct{})
	go func() {
		select {
		case <-ready:
		case <-runDone:
			return
		}
		ticker := d.clock.NewTicker(d.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				d.app.Stop()
				return
			case <-ticker.Chan():
				d.app.QueueUpdateDraw(d.update)
			}
		}
	}()

	err := d.app.Run()
	close(runDone)
	return err
}
