package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/banshee-data/jointmon/internal/api"
	"github.com/banshee-data/jointmon/internal/config"
	"github.com/banshee-data/jointmon/internal/device"
	"github.com/banshee-data/jointmon/internal/display"
	"github.com/banshee-data/jointmon/internal/monitoring"
	"github.com/banshee-data/jointmon/internal/serialmux"
	"github.com/banshee-data/jointmon/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .json or .toml config file")
	port        = flag.String("port", "", "Serial port, \"auto\" to pick a USB bridge or \"none\" to run without a board")
	listen      = flag.String("listen", "", "HTTP listen address (default localhost:8087); set empty to disable")
	devMode     = flag.Bool("dev", false, "Use a simulated board instead of a serial port")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
	headless    = flag.Bool("headless", false, "Run without the terminal dashboard and log to stderr")
	logFile     = flag.String("log-file", "", "Rotating log file (default jointmon.log)")
	printConfig = flag.Bool("print-config", false, "Print the default configuration as TOML and exit")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

// summaryInterval is how often headless mode logs the device state.
const summaryInterval = 5 * time.Second

// resolveConfig loads the config file and applies any flags set on the
// command line over it.
func resolveConfig() (*config.Config, error) {
	cfg := config.Empty()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = port
		case "listen":
			cfg.Listen = listen
		case "log-file":
			cfg.LogFile = logFile
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openLink picks the transport. The returned name is the port shown to the
// operator; an empty name means there is no board to run against.
func openLink(cfg *config.Config, dev bool) (serialmux.SerialMuxInterface, string, error) {
	if dev {
		return serialmux.NewSerialMux(serialmux.NewSimulatedPort(serialmux.DefaultSimulatorOptions())), "simulator", nil
	}

	path := cfg.GetPort()
	switch path {
	case config.PortNone:
		return serialmux.NewDisabledSerialMux(), "", nil
	case config.PortAuto:
		var err error
		if path, err = serialmux.AutoSelectPort(); err != nil {
			return nil, "", err
		}
	}

	opts, err := cfg.GetSerial()
	if err != nil {
		return nil, "", err
	}
	m, err := serialmux.NewRealSerialMux(path, opts)
	if err != nil {
		return nil, "", err
	}
	log.Info().Str("port", path).Stringer("mode", opts).Msg("opened serial port")
	return m, path, nil
}

func printPorts() error {
	ports, err := serialmux.DiscoverPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

// logSummary logs one line describing d's state.
func logSummary(d *device.Device) {
	snap := d.Snapshot()
	stats := d.Stats()
	ev := log.Info().
		Bool("connected", snap.Connected).
		Str("port", snap.Port).
		Uint64("frames", snap.Frames).
		Int("faulted", snap.Faulted()).
		Stringer("calibration", snap.Calibration).
		Uint64("discarded_bytes", stats.Discarded)
	if snap.HasData() {
		ev = ev.Dur("latency", snap.Latency(snap.TakenAt))
	}
	if snap.LastError != "" {
		ev = ev.Str("last_error", snap.LastError)
	}
	ev.Msg("device summary")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *printConfig {
		out, err := config.Defaults().WriteTOML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to render config: %v\n", err)
			os.Exit(1)
		}
		_, _ = os.Stdout.Write(out)
		return
	}
	if *listPorts {
		if err := printPorts(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to list ports: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := resolveConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logOpts := monitoring.Options{File: cfg.GetLogFile(), Level: cfg.GetLogLevel()}
	if *headless {
		logOpts.Console = os.Stderr
	}
	if err := monitoring.Setup(logOpts); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	log.Info().Msg(version.String())

	link, portName, err := openLink(cfg, *devMode)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open serial port")
	}
	defer link.Close()

	dev := device.New(device.Options{
		CalibrationWindow:  cfg.GetCalibrationWindow(),
		CalibrationTimeout: cfg.GetCalibrationTimeout(),
		MaxPending:         cfg.GetMaxPendingBytes(),
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// feed the device from the serial port until shutdown or the port fails
	if portName != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dev.Run(ctx, portName, link); err != nil {
				log.Error().Err(err).Str("port", portName).Msg("serial monitor stopped")
				return
			}
			log.Info().Msg("serial monitor routine terminated")
		}()
	} else {
		log.Warn().Msg("running without a board; calibration is unavailable")
	}

	// HTTP server goroutine
	if addr := cfg.GetListen(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			server := &http.Server{
				Addr:              addr,
				Handler:           api.LoggingMiddleware(api.NewServer(dev, link).ServeMux()),
				ReadHeaderTimeout: 5 * time.Second,
			}

			go func() {
				log.Info().Str("addr", addr).Msg("HTTP server listening")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("HTTP server failed")
					stop()
				}
			}()

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("HTTP server shutdown error")
				if err := server.Close(); err != nil {
					log.Warn().Err(err).Msg("HTTP server force close error")
				}
			}
			log.Info().Msg("HTTP server routine stopped")
		}()
	}

	if *headless {
		ticker := time.NewTicker(summaryInterval)
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				logSummary(dev)
			}
		}
		ticker.Stop()
	} else {
		dash := display.New(dev, display.Options{Refresh: cfg.GetRefreshInterval()})
		if err := dash.Run(ctx); err != nil {
			log.Error().Err(err).Msg("dashboard failed")
		}
	}

	// the dashboard returns when the operator quits; stop everything else
	stop()
	wg.Wait()
	log.Info().Msg("graceful shutdown complete")
}
