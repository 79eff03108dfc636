package tree

import "github.com/mkruse/treefmm/internal/geom"

// Particle is a point mass. The gravity engine reads Pos and Mass and adds
// into Acc; everything else belongs to the surrounding driver. Local marks
// particles owned by this rank, as opposed to ghost copies held only to keep
// the tree geometry consistent across rank boundaries.
type Particle struct {
	ID    uint64
	Pos   geom.Vec3
	Vel   geom.Vec3
	Acc   geom.Vec3
	Mass  float64
	Local bool
}
