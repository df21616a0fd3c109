package export

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/holofab/internal/cgh"
)

// phaseGrid adapts a hologram to plotter.GridXYZ with row 0 at the top.
type phaseGrid struct {
	h *cgh.Hologram
}

func (g phaseGrid) Dims() (c, r int) { return g.h.Width, g.h.Height }
func (g phaseGrid) X(c int) float64  { return float64(c) }
func (g phaseGrid) Y(r int) float64  { return float64(r) }

func (g phaseGrid) Z(c, r int) float64 {
	row := g.h.Height - 1 - r
	return float64(g.h.Phase[row*g.h.Width+c])
}

// PlotPhase renders h as a heat map. The file type follows the suffix of
// path (png, svg, pdf, ...).
func PlotPhase(h *cgh.Hologram, path string) error {
	if h.Width < 2 || h.Height < 2 {
		return fmt.Errorf("hologram too small to plot: %dx%d", h.Height, h.Width)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Hologram %d (%d traps)", h.Sequence, h.Traps)
	p.X.Label.Text = "column (pixels)"
	p.Y.Label.Text = "row (pixels, flipped)"

	hm := plotter.NewHeatMap(phaseGrid{h: h}, palette.Heat(256, 1))
	hm.Min = 0
	hm.Max = 255
	p.Add(hm)

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save phase plot: %w", err)
	}
	return nil
}
