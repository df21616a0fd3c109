package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/holofab/internal/api"
	"github.com/banshee-data/holofab/internal/cgh"
	"github.com/banshee-data/holofab/internal/config"
	"github.com/banshee-data/holofab/internal/monitor"
	"github.com/banshee-data/holofab/internal/monitoring"
	"github.com/banshee-data/holofab/internal/pattern"
	"github.com/banshee-data/holofab/internal/pipeline"
	"github.com/banshee-data/holofab/internal/settings"
	"github.com/banshee-data/holofab/internal/slm"
	"github.com/banshee-data/holofab/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to JSON configuration file")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen = flag.String("grpc-listen", "", "gRPC display stream address (overrides config)")
	dbPath     = flag.String("db", "", "Settings database path (overrides config)")
	noDB       = flag.Bool("no-db", false, "Do not load or persist calibration settings")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlags(cfg)
	monitoring.SetDebug(cfg.GetDebug())
	if cfg.GetDebug() {
		pipeline.SetLogOutput(os.Stderr, pipeline.LevelTrace)
	} else {
		pipeline.SetLogOutput(os.Stderr, pipeline.LevelOps)
	}

	cal, err := newCalibration(cfg)
	if err != nil {
		log.Fatalf("invalid calibration: %v", err)
	}

	var store *settings.Store
	if !*noDB {
		store, err = settings.Open(cfg.GetDBPath())
		if err != nil {
			log.Fatalf("failed to open settings database: %v", err)
		}
		defer store.Close()
		if err := restoreCalibration(context.Background(), store, cal); err != nil {
			log.Printf("ignoring saved calibration: %v", err)
		}
	}

	p := pattern.New()
	engine := cgh.NewEngine(cgh.WithApertureCompensation(cfg.GetApertureCompensation()))
	runner := pipeline.NewRunner(p, cal, engine)

	publisher := slm.NewPublisher(slm.Config{ListenAddr: cfg.GetGRPCListen(), ClientBuffer: 2})
	engine.AddSink(publisher)
	if err := publisher.Start(); err != nil {
		log.Fatalf("failed to start display stream: %v", err)
	}
	defer publisher.Stop()

	stats := monitor.NewStats(monitor.DefaultCapacity)
	engine.AddSink(stats)
	stats.AddSource("runner", func() any { return runner.Stats() })
	stats.AddSource("slm", func() any { return publisher.Stats() })
	stats.AddSource("version", func() any { return version.Current() })
	stats.AddSource("calibration", func() any { return map[string]any{"revision": cal.Revision()} })

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("hologram runner stopped: %v", err)
		}
		log.Print("hologram runner terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("admin routes unavailable: %v", err)
			}
		}
		stats.AttachDebug(mux)

		apiServer := api.NewServer(p, cal, engine)
		apiServer.SetSettingsStore(store)
		apiServer.SetExportDir(cfg.GetExportDir())
		apiServer.Register(mux)

		server := &http.Server{
			Addr:              cfg.GetHTTPListen(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("HTTP API listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	if store != nil {
		if err := store.Save(context.Background(), settings.CalibrationScope, cal.Settings()); err != nil {
			log.Printf("failed to save calibration: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads path. A missing default config file is not an error.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == config.DefaultConfigPath {
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			log.Printf("no config at %s, using built-in defaults", path)
			return config.Empty(), nil
		}
	}
	return nil, err
}

func applyFlags(cfg *config.Config) {
	if *listen != "" {
		cfg.HTTPListen = listen
	}
	if *grpcListen != "" {
		cfg.GRPCListen = grpcListen
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *debug {
		cfg.Debug = debug
	}
}

// newCalibration builds the calibration from the built-in defaults
// overlaid with the configured values.
func newCalibration(cfg *config.Config) (*cgh.Calibration, error) {
	cal, err := cgh.NewCalibration(cgh.DefaultParameters())
	if err != nil {
		return nil, err
	}
	if err := cal.ApplySettings(cfg.CalibrationSettings()); err != nil {
		return nil, err
	}
	h, w := cfg.GetSLMShape()
	if err := cal.SetShape(h, w); err != nil {
		return nil, err
	}
	return cal, nil
}

// restoreCalibration applies the calibration saved by a previous run.
func restoreCalibration(ctx context.Context, store *settings.Store, cal *cgh.Calibration) error {
	saved, err := store.Load(ctx, settings.CalibrationScope)
	if err != nil {
		return err
	}
	if len(saved) == 0 {
		return nil
	}
	if err := cal.ApplySettings(saved); err != nil {
		return err
	}
	log.Printf("restored %d calibration settings", len(saved))
	return nil
}
