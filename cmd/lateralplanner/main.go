package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/lateral.plan/internal/bus"
	"github.com/banshee-data/lateral.plan/internal/carstate"
	"github.com/banshee-data/lateral.plan/internal/config"
	"github.com/banshee-data/lateral.plan/internal/httputil"
	"github.com/banshee-data/lateral.plan/internal/monitoring"
	"github.com/banshee-data/lateral.plan/internal/planner"
	"github.com/banshee-data/lateral.plan/internal/publish"
	"github.com/banshee-data/lateral.plan/internal/recorder"
	"github.com/banshee-data/lateral.plan/internal/runner"
	"github.com/banshee-data/lateral.plan/internal/source"
	"github.com/banshee-data/lateral.plan/internal/version"
)

var (
	input      = flag.String("input", "-", "JSON-lines snapshot file, - for stdin")
	serialPort = flag.String("serial", "", "Read snapshots from this serial device instead of -input")
	baud       = flag.Int("baud", source.DefaultBaudRate, "Serial baud rate")
	parity     = flag.String("parity", "N", "Serial parity (N, E, O)")
	tuningPath = flag.String("tuning", "config/tuning.defaults.json", "Tuning configuration file")
	dbPath     = flag.String("db", "lateral.db", "Recording database, empty to disable recording")
	listen     = flag.String("listen", "", "Debug HTTP listen address, empty to disable")
	paced      = flag.Bool("paced", true, "Hold each frame to one control period")
	car        = flag.String("car", "generic", "GM signal decoding: generic or volt")
	opsLog     = flag.String("ops-log", "", "Ops log file (default stderr)")
	diagLog    = flag.String("diag-log", "", "Diagnostic log file, empty to disable")
	traceLog   = flag.String("trace-log", "", "Per-tick trace log file, empty to disable")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

// unpacedBuffer lets the recorder trail a fast replay without dropping ticks.
const unpacedBuffer = 1 << 14

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("lateralplanner %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	closeLogs, err := setupLogs()
	if err != nil {
		log.Fatalf("failed to open logs: %v", err)
	}
	defer closeLogs()

	carModel, err := parseCar(*car)
	if err != nil {
		log.Fatal(err)
	}

	tuning, err := config.NewReloader(config.FileLoader(*tuningPath))
	if err != nil {
		log.Fatalf("failed to load tuning: %v", err)
	}

	in, name, err := openInput()
	if err != nil {
		log.Fatalf("failed to open input: %v", err)
	}
	defer in.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buffer := bus.DefaultBuffer
	if !*paced {
		buffer = unpacedBuffer
	}
	messages := bus.New[publish.Message](buffer)
	defer messages.Close()
	pub := publish.NewPublisher(messages, publish.LiveMpcFromEnv())

	var rec *recorder.Recorder
	if *dbPath != "" {
		rec, err = recorder.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open recorder: %v", err)
		}
		defer rec.Close()

		runID, err := rec.StartRun(name, tuning.Current())
		if err != nil {
			log.Fatalf("failed to start run: %v", err)
		}
		log.Printf("recording run %s to %s", runID, *dbPath)

		// Subscribe before any frame is planned so the first tick is kept.
		id, ch := messages.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer messages.Unsubscribe(id)
			if err := rec.Consume(ctx, runID, ch); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("recorder stopped: %v", err)
			}
			log.Print("recorder routine terminated")
		}()
	}

	r := runner.New(tuning, pub, planner.Deps{}, runner.Options{
		Paced: *paced && *serialPort == "",
		Car:   carModel,
	})

	// The replay ends the process; everything else follows ctx.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Not waited on: a read blocked on stdin only ends with the process.
	frames := make(chan source.Frame, 1)
	go func() {
		err := source.Stream(runCtx, in, frames, func(err error) {
			monitoring.Opsf("skipping snapshot: %v", err)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("input stopped: %v", err)
		}
	}()

	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(runCtx, r, messages, rec)
		}()
	}

	if err := r.Run(runCtx, frames); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("planner stopped: %v", err)
	}
	st := r.Latest()
	published, dropped := messages.Stats()
	log.Printf("planned %d ticks (%d errors, %d tuning reloads), published %d messages, dropped %d",
		st.Tick, st.Errors, st.Reloads, published, dropped)

	// Closing the bus ends the recorder once it has drained.
	messages.Close()
	if *listen != "" && ctx.Err() == nil {
		log.Print("input finished, debug server stays up until interrupted")
		<-ctx.Done()
	}
	cancelRun()
	in.Close()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func parseCar(s string) (carstate.Car, error) {
	switch s {
	case "generic", "":
		return carstate.CarGeneric, nil
	case "volt":
		return carstate.CarVolt, nil
	}
	return 0, fmt.Errorf("unknown car %q: expected generic or volt", s)
}

func openInput() (io.ReadCloser, string, error) {
	if *serialPort != "" {
		port, err := source.OpenSerial(*serialPort, source.PortOptions{BaudRate: *baud, Parity: *parity})
		if err != nil {
			return nil, "", err
		}
		return port, "serial:" + *serialPort, nil
	}
	if *input == "-" {
		return io.NopCloser(os.Stdin), "stdin", nil
	}
	f, err := os.Open(*input)
	if err != nil {
		return nil, "", err
	}
	return f, "file:" + filepath.Base(*input), nil
}

func setupLogs() (func(), error) {
	var files []*os.File
	open := func(path string) (io.Writer, error) {
		if path == "" {
			return nil, nil
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
		return f, nil
	}
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	var w monitoring.LogWriters
	var err error
	if w.Ops, err = open(*opsLog); err != nil {
		closeAll()
		return nil, err
	}
	if w.Diag, err = open(*diagLog); err != nil {
		closeAll()
		return nil, err
	}
	if w.Trace, err = open(*traceLog); err != nil {
		closeAll()
		return nil, err
	}
	monitoring.SetLogWriters(w)
	return closeAll, nil
}

func serveDebug(ctx context.Context, r *runner.Runner, messages *bus.Bus[publish.Message], rec *recorder.Recorder) {
	mux := http.NewServeMux()

	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.Version)
	debug.KV("Git SHA", version.GitSHA)

	r.AttachAdminRoutes(mux)
	messages.AttachAdminRoutes(mux, "plan", func(m publish.Message) ([]byte, error) {
		return json.Marshal(m)
	})
	if rec != nil {
		if err := rec.AttachAdminRoutes(mux); err != nil {
			log.Printf("recorder admin routes unavailable: %v", err)
		}
		mux.HandleFunc("/api/runs", func(w http.ResponseWriter, req *http.Request) {
			runs, err := rec.Runs()
			if err != nil {
				httputil.InternalServerError(w, err.Error())
				return
			}
			httputil.WriteJSONOK(w, runs)
		})
	}

	server := &http.Server{
		Addr:    *listen,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
