package monitor

import (
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/holofab/internal/cgh"
)

func hologram(seq uint64, d time.Duration, traps int) *cgh.Hologram {
	return &cgh.Hologram{
		Sequence:   seq,
		Height:     2,
		Width:      2,
		Phase:      []byte{0, 64, 128, 255},
		Traps:      traps,
		Duration:   d,
		ComputedAt: time.Unix(1700000000, 0),
	}
}

func TestStats_RingBuffer(t *testing.T) {
	s := NewStats(3)
	assert.Empty(t, s.Samples())

	for seq := uint64(1); seq <= 5; seq++ {
		s.HologramReady(hologram(seq, time.Duration(seq)*time.Millisecond, int(seq)))
	}

	samples := s.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{samples[0].Sequence, samples[1].Sequence, samples[2].Sequence})
	assert.Equal(t, uint64(5), s.Latest().Sequence)
}

func TestStats_Summary(t *testing.T) {
	s := NewStats(0)
	assert.Equal(t, Summary{}, s.Summary())

	s.HologramReady(hologram(1, 10*time.Millisecond, 1))
	s.HologramReady(hologram(2, 30*time.Millisecond, 2))
	s.HologramReady(hologram(3, 20*time.Millisecond, 3))

	sum := s.Summary()
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, uint64(3), sum.Total)
	assert.Equal(t, 20*time.Millisecond, sum.Mean)
	assert.Equal(t, 10*time.Millisecond, sum.Min)
	assert.Equal(t, 30*time.Millisecond, sum.Max)
	assert.Equal(t, 30*time.Millisecond, sum.P95)
	assert.Equal(t, uint64(3), sum.LastSequence)
	assert.Equal(t, 3, sum.LastTraps)
}

func TestHandleStats(t *testing.T) {
	s := NewStats(4)
	s.HologramReady(hologram(1, time.Millisecond, 2))
	s.AddSource("runner", func() any { return map[string]int{"computes": 7} })

	w := httptest.NewRecorder()
	s.handleStats(w, httptest.NewRequest(http.MethodGet, "/debug/holograms/stats?samples=true", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Summary Summary          `json:"summary"`
		Runner  map[string]int   `json:"runner"`
		Samples []map[string]any `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Summary.Count)
	assert.Equal(t, 7, resp.Runner["computes"])
	assert.Len(t, resp.Samples, 1)
}

func TestHandleChart(t *testing.T) {
	s := NewStats(4)
	s.HologramReady(hologram(1, time.Millisecond, 2))
	s.HologramReady(hologram(2, 2*time.Millisecond, 3))

	w := httptest.NewRecorder()
	s.handleChart(w, httptest.NewRequest(http.MethodGet, "/debug/holograms/chart?last=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, w.Body.String(), "Hologram compute time")
}

func TestHandleLatest(t *testing.T) {
	s := NewStats(4)

	w := httptest.NewRecorder()
	s.handleLatest(w, httptest.NewRequest(http.MethodGet, "/debug/holograms/latest.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.HologramReady(hologram(9, time.Millisecond, 1))
	w = httptest.NewRecorder()
	s.handleLatest(w, httptest.NewRequest(http.MethodGet, "/debug/holograms/latest.png", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "9", w.Header().Get("X-Hologram-Sequence"))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
}

func TestAttachDebug(t *testing.T) {
	s := NewStats(4)
	mux := http.NewServeMux()
	assert.NotPanics(t, func() { s.AttachDebug(mux) })
}
