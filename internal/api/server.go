package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/banshee-data/jointmon/internal/device"
	"github.com/banshee-data/jointmon/internal/devicestate"
	"github.com/banshee-data/jointmon/internal/protocol"
	"github.com/banshee-data/jointmon/internal/serialmux"
	"github.com/banshee-data/jointmon/internal/stream"
)

// Device is the part of device.Device the HTTP surface needs.
type Device interface {
	Snapshot() devicestate.Snapshot
	TriggerCalibration() error
	Stats() stream.Stats
}

type Server struct {
	dev Device
	m   serialmux.SerialMuxInterface
}

// NewServer serves dev over HTTP. m may be nil, in which case no serial
// debug routes are attached.
func NewServer(dev Device, m serialmux.SerialMuxInterface) *Server {
	return &Server{dev: dev, m: m}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Int("status", lrw.statusCode).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/snapshot", s.showSnapshot)
	mux.HandleFunc("/api/calibrate", s.calibrate)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/channels/chart", s.channelChart)
	if s.m != nil {
		serialmux.WithConsoleSender(s.m, s.sendConsoleCommand).AttachAdminRoutes(mux)
	}
	return mux
}

// sendConsoleCommand writes a command typed on the serial debug console. The
// calibration command goes through the device so its status is tracked.
func (s *Server) sendConsoleCommand(command []byte) error {
	if len(command) == 1 && command[0] == protocol.CommandCalibrate {
		return s.dev.TriggerCalibration()
	}
	return s.m.SendCommand(command)
}

type channelView struct {
	Index   int     `json:"index"`
	Raw     uint16  `json:"raw"`
	Error   bool    `json:"error"`
	Degrees float64 `json:"degrees"`
}

type calibrationView struct {
	Status string     `json:"status"`
	Since  *time.Time `json:"since,omitempty"`
}

type snapshotResponse struct {
	Connected   bool            `json:"connected"`
	Port        string          `json:"port"`
	LastError   string          `json:"last_error,omitempty"`
	Frames      uint64          `json:"frames"`
	LastUpdate  *time.Time      `json:"last_update,omitempty"`
	LatencyMS   *float64        `json:"latency_ms,omitempty"`
	Faulted     int             `json:"faulted"`
	Calibration calibrationView `json:"calibration"`
	Channels    []channelView   `json:"channels"`
}

func newSnapshotResponse(snap devicestate.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		Connected:   snap.Connected,
		Port:        snap.Port,
		LastError:   snap.LastError,
		Frames:      snap.Frames,
		Faulted:     snap.Faulted(),
		Calibration: calibrationView{Status: snap.Calibration.String()},
		Channels:    make([]channelView, 0, protocol.ChannelCount),
	}
	if snap.HasData() {
		lastUpdate := snap.LastUpdate
		latency := float64(snap.Latency(snap.TakenAt).Microseconds()) / 1000
		resp.LastUpdate = &lastUpdate
		resp.LatencyMS = &latency
	}
	if !snap.CalibrationTime.IsZero() {
		since := snap.CalibrationTime
		resp.Calibration.Since = &since
	}
	for i, ch := range snap.Readings {
		resp.Channels = append(resp.Channels, channelView{
			Index:   i,
			Raw:     ch.Raw,
			Error:   ch.Error,
			Degrees: ch.Degrees(),
		})
	}
	return resp
}

func (s *Server) showSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSONOK(w, newSnapshotResponse(s.dev.Snapshot()))
}

func (s *Server) calibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	err := s.dev.TriggerCalibration()
	switch {
	case errors.Is(err, device.ErrNotConnected):
		writeJSONError(w, http.StatusConflict, err.Error())
	case err != nil:
		log.Error().Err(err).Msg("calibration request failed")
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
	}
}

type statsResponse struct {
	stream.Stats
	Applied uint64 `json:"applied_sensor_frames"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSONOK(w, statsResponse{Stats: s.dev.Stats(), Applied: s.dev.Snapshot().Frames})
}

// channelLabel is the short name of a channel on chart axes.
func channelLabel(i int) string {
	return "J" + strconv.Itoa(i)
}
