package ba

import (
	"math"

	"github.com/golang/geo/r3"

	"bundleadjust/pkg/camera"
	"bundleadjust/pkg/cnet"
)

// Read-only diagnostics over the current parameters. None of these
// mutate the model.

// ImageErrors returns the pixel residual magnitude of every
// observation, in network iteration order (points outer, measures
// inner). This ordering is the contract the per-observation error
// report and the outlier detector both rely on.
func (m *Model) ImageErrors() []float64 {
	errs := make([]float64, 0, m.numPixelObservations)
	for i := range m.network.Points {
		for _, meas := range m.network.Points[i].Measures {
			j := meas.ImageID
			proj := m.Project(i, j, m.a[j], m.b[i])
			errs = append(errs, meas.Pixel.Sub(proj).Norm())
		}
	}
	return errs
}

// CameraPositionErrors returns each camera's translation drift from its
// prior correction.
func (m *Model) CameraPositionErrors() []float64 {
	errs := make([]float64, m.NumCameras())
	for j := range errs {
		cur := r3.Vector{X: m.a[j][0], Y: m.a[j][1], Z: m.a[j][2]}
		tgt := r3.Vector{X: m.aTarget[j][0], Y: m.aTarget[j][1], Z: m.aTarget[j][2]}
		errs[j] = tgt.Sub(cur).Norm()
	}
	return errs
}

// CameraPoseErrors returns each camera's pose drift in degrees: the
// prior and current rotation components are built into rotations and
// the absolute difference of their rotation angles is reported.
func (m *Model) CameraPoseErrors() []float64 {
	errs := make([]float64, m.NumCameras())
	for j := range errs {
		qTarget := camera.EulerXYZToQuat(m.aTarget[j][3], m.aTarget[j][4], m.aTarget[j][5])
		qNow := camera.EulerXYZToQuat(m.a[j][3], m.a[j][4], m.a[j][5])
		errs[j] = math.Abs(camera.RotationAngle(qTarget)-camera.RotationAngle(qNow)) * 180 / math.Pi
	}
	return errs
}

// GCPErrors returns the position drift from prior for every
// ground-control point, in network order. Free points are skipped.
func (m *Model) GCPErrors() []float64 {
	var errs []float64
	for i := range m.network.Points {
		if m.network.Points[i].Type != cnet.GroundControlPoint {
			continue
		}
		cur := r3.Vector{X: m.b[i][0], Y: m.b[i][1], Z: m.b[i][2]}
		tgt := r3.Vector{X: m.bTarget[i][0], Y: m.bTarget[i][1], Z: m.bTarget[i][2]}
		errs = append(errs, tgt.Sub(cur).Norm())
	}
	return errs
}
