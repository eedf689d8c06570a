// Package ba implements the bundle adjustment core: the parameter
// model tying camera corrections and point positions to their priors,
// the interchangeable solver strategies, the iteration controller, and
// the outlier-removal cycle that orchestrates a fit, an external
// detection pass, and a refit on the filtered network.
package ba

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"bundleadjust/pkg/camera"
	"bundleadjust/pkg/cnet"
)

// Parameter vector widths.
const (
	// CameraParams is the per-camera parameter count: three translation
	// corrections followed by three Euler-xyz rotation corrections.
	CameraParams = 6

	// PointParams is the per-point parameter count (world position).
	PointParams = 3
)

// Model owns the adjustable parameters for one fit pass: a 6-vector of
// corrections per camera and a 3-vector position per point, each paired
// with an immutable prior. Camera priors are zero corrections; point
// priors are the network positions at construction.
//
// A Model is bound to the network it was built from for its whole life.
// When outlier removal produces a fresh network, a new Model is built;
// an existing one is never repointed.
type Model struct {
	cameras []*camera.Pinhole
	network *cnet.Network

	a       [][]float64 // camera corrections, CameraParams each
	b       [][]float64 // point positions, PointParams each
	aTarget [][]float64
	bTarget [][]float64

	numPixelObservations int

	camPositionSigma float64
	camPoseSigma     float64
	gcpSigma         float64
}

// NewModel builds a model from the base cameras, a control network and
// the three regularization sigmas. Every measure's image id is checked
// against the camera count once, here; an out-of-range id is a
// data-integrity error and fails construction.
func NewModel(cameras []*camera.Pinhole, network *cnet.Network,
	camPositionSigma, camPoseSigma, gcpSigma float64) (*Model, error) {

	for i := range network.Points {
		for _, meas := range network.Points[i].Measures {
			if meas.ImageID < 0 || meas.ImageID >= len(cameras) {
				return nil, fmt.Errorf(
					"invalid control point %q: measure image id %d outside camera range [0,%d)",
					network.Points[i].ID, meas.ImageID, len(cameras))
			}
		}
	}

	m := &Model{
		cameras:          cameras,
		network:          network,
		a:                make([][]float64, len(cameras)),
		b:                make([][]float64, len(network.Points)),
		aTarget:          make([][]float64, len(cameras)),
		bTarget:          make([][]float64, len(network.Points)),
		camPositionSigma: camPositionSigma,
		camPoseSigma:     camPoseSigma,
		gcpSigma:         gcpSigma,
	}

	for j := range m.a {
		m.a[j] = make([]float64, CameraParams)
		m.aTarget[j] = make([]float64, CameraParams)
	}
	for i := range m.b {
		pos := network.Points[i].Position
		m.b[i] = []float64{pos.X, pos.Y, pos.Z}
		m.bTarget[i] = []float64{pos.X, pos.Y, pos.Z}
		m.numPixelObservations += len(network.Points[i].Measures)
	}
	return m, nil
}

// NumCameras returns the camera count.
func (m *Model) NumCameras() int { return len(m.a) }

// NumPoints returns the point count.
func (m *Model) NumPoints() int { return len(m.b) }

// NumPixelObservations returns the total measure count.
func (m *Model) NumPixelObservations() int { return m.numPixelObservations }

// Network returns the control network the model was built from.
func (m *Model) Network() *cnet.Network { return m.network }

// Cameras returns the base camera list.
func (m *Model) Cameras() []*camera.Pinhole { return m.cameras }

// CameraParams returns a copy of camera j's current correction vector.
func (m *Model) CameraParams(j int) []float64 {
	out := make([]float64, CameraParams)
	copy(out, m.a[j])
	return out
}

// SetCameraParams overwrites camera j's current correction vector.
func (m *Model) SetCameraParams(j int, v []float64) {
	copy(m.a[j], v)
}

// CameraTarget returns a copy of camera j's prior correction vector.
func (m *Model) CameraTarget(j int) []float64 {
	out := make([]float64, CameraParams)
	copy(out, m.aTarget[j])
	return out
}

// PointParams returns a copy of point i's current position vector.
func (m *Model) PointParams(i int) []float64 {
	out := make([]float64, PointParams)
	copy(out, m.b[i])
	return out
}

// SetPointParams overwrites point i's current position vector.
func (m *Model) SetPointParams(i int, v []float64) {
	copy(m.b[i], v)
}

// PointTarget returns a copy of point i's prior position vector.
func (m *Model) PointTarget(i int) []float64 {
	out := make([]float64, PointParams)
	copy(out, m.bTarget[i])
	return out
}

// CameraPrecision returns the 6x6 diagonal inverse covariance for
// camera j's drift penalty: 1/sigma_position^2 on the translation
// terms, 1/sigma_pose^2 on the rotation terms. Rebuilt from the sigmas
// on each call; sigmas are immutable for the life of the model.
func (m *Model) CameraPrecision(j int) *mat.DiagDense {
	pos := 1 / (m.camPositionSigma * m.camPositionSigma)
	pose := 1 / (m.camPoseSigma * m.camPoseSigma)
	return mat.NewDiagDense(CameraParams, []float64{pos, pos, pos, pose, pose, pose})
}

// PointPrecision returns the 3x3 diagonal inverse covariance for point
// i's drift penalty. Free points carry no position constraint and get a
// zero matrix; ground control points get 1/sigma_gcp^2.
func (m *Model) PointPrecision(i int) *mat.DiagDense {
	if m.network.Points[i].Type != cnet.GroundControlPoint {
		return mat.NewDiagDense(PointParams, []float64{0, 0, 0})
	}
	p := 1 / (m.gcpSigma * m.gcpSigma)
	return mat.NewDiagDense(PointParams, []float64{p, p, p})
}

// Project maps point i through camera j using the supplied trial
// parameter vectors, which need not match the stored values. The base
// camera is composed with the translation correction aj[0:3] and a
// rotation built from the Euler-xyz components aj[3:6], then the trial
// position bi is projected to a pixel. The call is pure; solvers probe
// speculative parameters through it with no side effects.
func (m *Model) Project(i, j int, aj, bi []float64) r2.Point {
	adj := camera.Adjusted{
		Base:        m.cameras[j],
		Translation: r3.Vector{X: aj[0], Y: aj[1], Z: aj[2]},
		Rotation:    camera.EulerXYZToQuat(aj[3], aj[4], aj[5]),
	}
	return adj.Project(r3.Vector{X: bi[0], Y: bi[1], Z: bi[2]})
}

// AdjustedCamera returns camera j with its current corrections applied.
func (m *Model) AdjustedCamera(j int) *camera.Adjusted {
	return &camera.Adjusted{
		Base:        m.cameras[j],
		Translation: r3.Vector{X: m.a[j][0], Y: m.a[j][1], Z: m.a[j][2]},
		Rotation:    camera.EulerXYZToQuat(m.a[j][3], m.a[j][4], m.a[j][5]),
	}
}
