package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/jointmon/internal/devicestate"
)

const faultColor = "#c0392b"

// channelBar builds a bar chart of every channel's angle. Faulted channels
// are drawn at zero in red.
func channelBar(snap devicestate.Snapshot) *charts.Bar {
	x := make([]string, 0, len(snap.Readings))
	y := make([]opts.BarData, 0, len(snap.Readings))
	for i, ch := range snap.Readings {
		x = append(x, channelLabel(i))
		if ch.Error {
			y = append(y, opts.BarData{Name: "fault", Value: 0, ItemStyle: &opts.ItemStyle{Color: faultColor}})
			continue
		}
		y = append(y, opts.BarData{Value: math.Round(ch.Degrees()*100) / 100})
	}

	subtitle := "no data"
	if snap.HasData() {
		subtitle = fmt.Sprintf("%s frames=%d faulted=%d", snap.LastUpdate.Format(time.RFC3339Nano), snap.Frames, snap.Faulted())
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Joint angles", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Joint angles", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "deg", Min: 0, Max: 360}),
	)
	bar.SetXAxis(x).
		AddSeries("angle", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

// channelChart renders the current angles as an HTML page.
func (s *Server) channelChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	page := components.NewPage()
	page.AddCharts(channelBar(s.dev.Snapshot()))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
