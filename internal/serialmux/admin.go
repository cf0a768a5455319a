package serialmux

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

const sendCommandPage = `<!DOCTYPE html>
<html>
<head><title>serial console</title></head>
<body>
<form id="send" method="post" action="send-command-api">
  <input name="command" placeholder="hex bytes, e.g. ca" autofocus>
  <button type="submit">send</button>
</form>
<p>A lone <code>ca</code> starts a calibration the monitor tracks, the same as POST /api/calibrate.</p>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
const events = new EventSource("tail");
events.onmessage = (e) => {
  tail.textContent = (e.data + "\n" + tail.textContent).slice(0, 20000);
};
document.getElementById("send").onsubmit = async (e) => {
  e.preventDefault();
  const res = await fetch("send-command-api", {method: "POST", body: new FormData(e.target)});
  tail.textContent = "> " + (await res.text()) + "\n" + tail.textContent;
};
</script>
</body>
</html>
`

// ParseHexCommand decodes a command typed as hex, tolerating spaces, colons
// and an optional 0x prefix per byte ("ca", "0xCA", "fe 02 02").
func ParseHexCommand(s string) ([]byte, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ':' || r == ',' || r == '\t'
	})
	var out []byte
	for _, f := range fields {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		b, err := hex.DecodeString(f)
		if err != nil {
			return nil, fmt.Errorf("invalid hex %q: %w", f, err)
		}
		out = append(out, b...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return out, nil
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

// WithConsoleSender returns m with its debug console writing commands
// through send instead of straight to the port. The tail and every other
// method still reach m. A mux without a console is returned unchanged.
func WithConsoleSender(m SerialMuxInterface, send func([]byte) error) SerialMuxInterface {
	if _, ok := m.(*DisabledSerialMux); ok {
		return m
	}
	return &consoleMux{SerialMuxInterface: m, send: send}
}

type consoleMux struct {
	SerialMuxInterface
	send func([]byte) error
}

func (c *consoleMux) SendCommand(command []byte) error {
	return c.send(command)
}

func (c *consoleMux) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, c)
}

func attachAdminRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	// Basic command / live tail console using the two endpoints below.
	debug.HandleFunc("send-command", "send hex bytes to the serial port", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, sendCommandPage)
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command, err := ParseHexCommand(r.FormValue("command"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote % x to serial port", command)
	})

	// Server-Sent Events carrying each raw chunk as hex.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case chunk, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: % x\n\n", chunk); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
