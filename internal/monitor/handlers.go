package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/holofab/internal/export"
	"github.com/banshee-data/holofab/internal/httputil"
)

// AttachDebug registers the compute pages on the tsweb debug page of mux.
func (s *Stats) AttachDebug(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("holograms/stats", "Hologram compute statistics (JSON)", http.HandlerFunc(s.handleStats))
	debug.Handle("holograms/chart", "Hologram compute time chart", http.HandlerFunc(s.handleChart))
	debug.Handle("holograms/latest.png", "Latest hologram", http.HandlerFunc(s.handleLatest))
}

func (s *Stats) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"summary": s.Summary(),
	}
	for name, v := range s.sourceValues() {
		resp[name] = v
	}
	if r.URL.Query().Get("samples") == "true" {
		resp["samples"] = s.Samples()
	}
	httputil.WriteJSONOK(w, resp)
}

// handleChart renders compute duration and trap count per hologram.
func (s *Stats) handleChart(w http.ResponseWriter, r *http.Request) {
	samples := s.Samples()
	if n, err := strconv.Atoi(r.URL.Query().Get("last")); err == nil && n > 0 && n < len(samples) {
		samples = samples[len(samples)-n:]
	}

	x := make([]string, len(samples))
	durations := make([]opts.LineData, len(samples))
	traps := make([]opts.LineData, len(samples))
	for i, smp := range samples {
		x[i] = strconv.FormatUint(smp.Sequence, 10)
		durations[i] = opts.LineData{Value: float64(smp.Duration) / float64(time.Millisecond)}
		traps[i] = opts.LineData{Value: smp.Traps}
	}

	sum := s.Summary()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Hologram compute", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Hologram compute time",
			Subtitle: fmt.Sprintf("n=%d mean=%s p95=%s max=%s", sum.Count, sum.Mean, sum.P95, sum.Max),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sequence", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms / traps"}),
	)
	line.SetXAxis(x).
		AddSeries("duration (ms)", durations).
		AddSeries("traps", traps)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Stats) handleLatest(w http.ResponseWriter, r *http.Request) {
	h := s.Latest()
	if h == nil {
		httputil.NotFound(w, "no hologram computed yet")
		return
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, export.PNG, h); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Hologram-Sequence", strconv.FormatUint(h.Sequence, 10))
	_, _ = w.Write(buf.Bytes())
}
