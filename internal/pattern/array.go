package pattern

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/holofab/internal/monitoring"
	"github.com/banshee-data/holofab/internal/trap"
)

// AddArray adds a rows×cols grid of tweezers with the given separation as
// a single group. The first tweezer sits at corner and the grid extends
// in +x along a row and +y down the columns. The group origin is corner.
func (p *Pattern) AddArray(rows, cols int, separation float64, corner trap.Vec3) (trap.ID, error) {
	if rows < 1 || cols < 1 {
		return trap.Nil, fmt.Errorf("trap array must be at least 1x1, got %dx%d", rows, cols)
	}
	gid := uuid.New()
	err := p.update(func() ([]Event, error) {
		p.nodes[gid] = &node{id: gid, r: corner, origin: corner, state: trap.Normal}
		added := make([]Event, 0, rows*cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				t := trap.New(trap.Tweezer)
				r := corner.Add(trap.Vec3{X: separation * float64(j), Y: separation * float64(i)})
				t.SetPosition(r)
				t.SetOrigin(r)
				p.nodes[t.ID()] = &node{id: t.ID(), leaf: t}
				p.attach(gid, t.ID())
				added = append(added, Event{Type: TrapAdded, ID: t.ID()})
			}
		}
		p.attach(Root, gid)
		monitoring.Debugf("[pattern] added %dx%d array %s", rows, cols, gid)
		return p.changed(added...), nil
	})
	if err != nil {
		return trap.Nil, err
	}
	return gid, nil
}
