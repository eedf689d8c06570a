// Package simulate generates synthetic adjustment scenes for tests: a
// ring of cameras looking at a scattered point cloud, with pixel
// measurements taken from the true geometry. The network's stored
// positions can be jittered away from the truth so a fit has work to
// do while the measurements stay consistent.
package simulate

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"bundleadjust/pkg/camera"
	"bundleadjust/pkg/cnet"
)

// Scene is a set of base cameras plus the control network observing
// them. TruePoints holds the exact positions the measurements were
// generated from, for checking recovered geometry.
type Scene struct {
	Cameras    []*camera.Pinhole
	Network    *cnet.Network
	TruePoints []r3.Vector
}

// Ring builds numCams cameras evenly spaced on a circle of the given
// radius in the z=0 plane, all looking at the origin, and numPoints
// points scattered in a unit cube around the origin. Every camera
// observes every point with an exact, noise-free measurement. The
// network's stored point positions are offset from the truth by a
// uniform jitter of the given magnitude per axis; pass zero for a
// network that starts at the optimum.
func Ring(numCams, numPoints int, radius, jitter float64, seed int64) *Scene {
	rng := rand.New(rand.NewSource(seed))

	s := &Scene{Network: &cnet.Network{Name: "simulated ring"}}
	for j := 0; j < numCams; j++ {
		theta := 2 * math.Pi * float64(j) / float64(numCams)
		center := r3.Vector{X: radius * math.Cos(theta), Y: radius * math.Sin(theta)}
		s.Cameras = append(s.Cameras, lookAtOrigin(center))
	}

	for i := 0; i < numPoints; i++ {
		truth := r3.Vector{
			X: rng.Float64() - 0.5,
			Y: rng.Float64() - 0.5,
			Z: rng.Float64() - 0.5,
		}
		s.TruePoints = append(s.TruePoints, truth)

		p := cnet.Point{
			ID:   fmt.Sprintf("pt%03d", i),
			Type: cnet.FreePoint,
			Position: r3.Vector{
				X: truth.X + jitter*(rng.Float64()-0.5),
				Y: truth.Y + jitter*(rng.Float64()-0.5),
				Z: truth.Z + jitter*(rng.Float64()-0.5),
			},
		}
		for j, cam := range s.Cameras {
			p.Measures = append(p.Measures, cnet.Measure{ImageID: j, Pixel: cam.Project(truth)})
		}
		s.Network.Points = append(s.Network.Points, p)
	}
	return s
}

// CorruptMeasure shifts one measurement by (dx, dy) pixels, turning it
// into a gross outlier while leaving the rest of the scene intact.
func (s *Scene) CorruptMeasure(pointIdx, measureIdx int, dx, dy float64) {
	m := &s.Network.Points[pointIdx].Measures[measureIdx]
	m.Pixel.X += dx
	m.Pixel.Y += dy
}

// lookAtOrigin builds a camera at center oriented so its optical axis
// points at the origin, with a 500px focal length and a 640x480-ish
// principal point.
func lookAtOrigin(center r3.Vector) *camera.Pinhole {
	forward := center.Mul(-1).Normalize()
	worldUp := r3.Vector{Z: 1}
	if math.Abs(forward.Dot(worldUp)) > 0.999 {
		worldUp = r3.Vector{Y: 1}
	}
	right := worldUp.Cross(forward).Normalize()
	down := forward.Cross(right)

	// Columns are the camera axes expressed in world coordinates.
	rot := mat.NewDense(3, 3, []float64{
		right.X, down.X, forward.X,
		right.Y, down.Y, forward.Y,
		right.Z, down.Z, forward.Z,
	})

	cam := camera.NewPinhole(500, 500, 320, 240)
	cam.Center = center
	cam.Rotation = rot
	return cam
}
