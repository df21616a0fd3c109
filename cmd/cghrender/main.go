// Command cghrender computes a hologram from a JSON trap list and writes
// it as an image. With -follow it instead records holograms streamed by a
// running holofab service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/holofab/internal/cgh"
	"github.com/banshee-data/holofab/internal/config"
	"github.com/banshee-data/holofab/internal/export"
	"github.com/banshee-data/holofab/internal/pattern"
	"github.com/banshee-data/holofab/internal/slm"
	"github.com/banshee-data/holofab/internal/trap"
)

var (
	inPath     = flag.String("in", "-", "Trap list JSON file (- for stdin)")
	outPath    = flag.String("out", "hologram.png", "Output image (.png, .tiff or .webp)")
	plotPath   = flag.String("plot", "", "Also write a phase heat map to this path")
	configPath = flag.String("config", "", "Calibration JSON (holofab config format)")
	aperture   = flag.Bool("aperture", false, "Enable aperture compensation")

	follow = flag.String("follow", "", "Record holograms from a holofab gRPC display stream at this address")
	count  = flag.Int("count", 1, "Holograms to record with -follow (0 = until interrupted)")
	dir    = flag.String("dir", "data", "Output directory for -follow")
	format = flag.String("format", "png", "Image format for -follow")
)

// trapSpec is one entry of the input trap list.
type trapSpec struct {
	Kind      trap.Kind          `json:"kind"`
	Position  []float64          `json:"position"`
	Amplitude *float64           `json:"amplitude,omitempty"`
	Phase     *float64           `json:"phase,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
}

// job is the input document.
type job struct {
	Traps []trapSpec `json:"traps"`
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	if *follow != "" {
		err = record(ctx, *follow, *count, *dir, *format)
	} else {
		err = renderFile(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func renderFile(ctx context.Context) error {
	var in io.Reader = os.Stdin
	if *inPath != "-" {
		f, err := os.Open(*inPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	j, err := parseJob(in)
	if err != nil {
		return err
	}

	cfg := config.Empty()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	h, err := render(ctx, j, cfg, cgh.WithApertureCompensation(*aperture || cfg.GetApertureCompensation()))
	if err != nil {
		return err
	}

	f, err := export.ParseFormat(filepath.Ext(*outPath))
	if err != nil {
		return err
	}
	if err := writeImage(*outPath, f, h); err != nil {
		return err
	}
	log.Printf("wrote %dx%d hologram of %d traps to %s in %s", h.Height, h.Width, h.Traps, *outPath, h.Duration)

	if *plotPath != "" {
		if err := export.PlotPhase(h, *plotPath); err != nil {
			return err
		}
	}
	return nil
}

func parseJob(r io.Reader) (*job, error) {
	var j job
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&j); err != nil {
		return nil, fmt.Errorf("invalid trap list: %w", err)
	}
	return &j, nil
}

// render builds a pattern from j and computes its hologram.
func render(ctx context.Context, j *job, cfg *config.Config, opts ...cgh.Option) (*cgh.Hologram, error) {
	cal, err := cgh.NewCalibration(cgh.DefaultParameters())
	if err != nil {
		return nil, err
	}
	if err := cal.ApplySettings(cfg.CalibrationSettings()); err != nil {
		return nil, err
	}
	if err := cal.SetShape(cfg.GetSLMShape()); err != nil {
		return nil, err
	}

	engine := cgh.NewEngine(opts...)
	p := pattern.New()
	for i, spec := range j.Traps {
		if spec.Kind == "" {
			spec.Kind = trap.Tweezer
		}
		if _, ok := engine.Structures().Lookup(spec.Kind); !ok {
			return nil, fmt.Errorf("trap %d: %w: %q", i, trap.ErrUnknownTrapKind, spec.Kind)
		}
		t := trap.New(spec.Kind)
		if spec.Amplitude != nil {
			t.SetAmplitude(*spec.Amplitude)
		}
		if spec.Phase != nil {
			t.SetPhase(*spec.Phase)
		}
		for name, v := range spec.Params {
			if err := t.SetParam(name, v); err != nil {
				return nil, fmt.Errorf("trap %d: %w", i, err)
			}
		}
		if _, err := p.AddTrap(spec.Position, t); err != nil {
			return nil, fmt.Errorf("trap %d: %w", i, err)
		}
	}

	snap := p.Snapshot()
	return engine.Compute(ctx, cal.Frame(), snap.Traps)
}

func writeImage(path string, f export.Format, h *cgh.Hologram) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.Write(out, f, h); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// record saves n streamed holograms (all of them when n is 0) under dir.
func record(ctx context.Context, addr string, n int, dir, formatName string) error {
	f, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}
	client, conn, err := slm.Dial(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	errDone := errors.New("done")
	saved := 0
	err = client.Stream(ctx, func(h *cgh.Hologram) error {
		prefix := fmt.Sprintf("hologram%06d", h.Sequence)
		path, err := export.Save(dir, prefix, f, h, time.Now())
		if err != nil {
			return err
		}
		log.Printf("saved hologram %d to %s", h.Sequence, path)
		saved++
		if n > 0 && saved >= n {
			return errDone
		}
		return nil
	})
	if errors.Is(err, errDone) {
		return nil
	}
	return err
}
