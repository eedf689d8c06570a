package ba

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"

	"bundleadjust/internal/simulate"
	"bundleadjust/pkg/cnet"
	"bundleadjust/pkg/config"
)

func TestNewAdjusterCoversAllFitTypes(t *testing.T) {
	scene := simulate.Ring(2, 3, 10, 0, 21)
	m, err := NewModel(scene.Cameras, scene.Network, 1, 1, 1)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	for _, ft := range config.FitTypes {
		if _, err := NewAdjuster(m, ft, 1.0, 1.0); err != nil {
			t.Errorf("NewAdjuster(%q): %v", ft, err)
		}
	}
	if _, err := NewAdjuster(m, "newton", 1.0, 1.0); err == nil {
		t.Error("expected error for unknown fit type")
	}
}

// runFit drives a controller over a fresh model for the scene and
// returns the model.
func runFit(t *testing.T, scene *simulate.Scene, fitType string,
	posSigma, poseSigma, gcpSigma float64, maxIter int) *Model {
	t.Helper()
	m, err := NewModel(scene.Cameras, scene.Network, posSigma, poseSigma, gcpSigma)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	adj, err := NewAdjuster(m, fitType, 1.0, 1.0)
	if err != nil {
		t.Fatalf("NewAdjuster: %v", err)
	}
	ctrl := &Controller{
		Adjuster:      adj,
		Model:         m,
		Reporter:      &Reporter{Name: fitType, Level: 0},
		MaxIterations: maxIter,
	}
	if _, err := ctrl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return m
}

func TestConvergenceZeroNoise(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping solver convergence test in short mode")
	}
	// Two cameras, four points observed by both, exact measurements.
	// Cameras are pinned by tight priors; the jittered points must
	// fall back to the true geometry, driving all residuals to zero.
	scene := simulate.Ring(2, 4, 10, 0.05, 22)
	m := runFit(t, scene, config.FitRef, 1e-6, 1e-6, 1e30, 50)

	for k, e := range m.ImageErrors() {
		if e > 1e-3 {
			t.Errorf("residual %d = %g px after convergence, want ~0", k, e)
		}
	}
}

func TestConvergenceSparse(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping solver convergence test in short mode")
	}
	scene := simulate.Ring(3, 5, 10, 0.05, 23)
	m := runFit(t, scene, config.FitSparse, 1e-6, 1e-6, 1e30, 50)

	errs := m.ImageErrors()
	if mean := stat.Mean(errs, nil); mean > 1e-3 {
		t.Errorf("mean residual %g px after sparse convergence, want ~0", mean)
	}
}

func TestTightGCPStaysPinned(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping solver convergence test in short mode")
	}
	// The ground control point's stored position is jittered away from
	// the geometry its measurements came from, so the fit would like
	// to move it. The near-zero sigma must hold it at its prior no
	// matter what that costs in pixel residuals.
	scene := simulate.Ring(2, 4, 10, 0.1, 24)
	scene.Network.Points[0].Type = cnet.GroundControlPoint

	m := runFit(t, scene, config.FitRef, 1e-6, 1e-6, 1e-16, 50)

	gcpErrs := m.GCPErrors()
	if len(gcpErrs) != 1 {
		t.Fatalf("GCPErrors returned %d entries, want 1", len(gcpErrs))
	}
	if gcpErrs[0] > 1e-6 {
		t.Errorf("gcp drifted %g from its prior despite sigma 1e-16", gcpErrs[0])
	}
}

func TestDenseAndSchurAgreeOnOneStep(t *testing.T) {
	// The reference and sparse strategies factor the same normal
	// equations differently; a single step from the same start must
	// produce the same parameters.
	sceneA := simulate.Ring(2, 4, 10, 0.05, 25)
	sceneB := simulate.Ring(2, 4, 10, 0.05, 25)

	mA, err := NewModel(sceneA.Cameras, sceneA.Network, 1, 1, 1)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	mB, err := NewModel(sceneB.Cameras, sceneB.Network, 1, 1, 1)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	ref, err := NewAdjuster(mA, config.FitRef, 1.0, 1.0)
	if err != nil {
		t.Fatalf("NewAdjuster(ref): %v", err)
	}
	sparse, err := NewAdjuster(mB, config.FitSparse, 1.0, 1.0)
	if err != nil {
		t.Fatalf("NewAdjuster(sparse): %v", err)
	}

	if _, _, _, err := ref.Update(); err != nil {
		t.Fatalf("ref update: %v", err)
	}
	if _, _, _, err := sparse.Update(); err != nil {
		t.Fatalf("sparse update: %v", err)
	}

	for j := 0; j < mA.NumCameras(); j++ {
		a, b := mA.CameraParams(j), mB.CameraParams(j)
		for k := range a {
			if math.Abs(a[k]-b[k]) > 1e-8 {
				t.Errorf("camera %d param %d: dense %g vs schur %g", j, k, a[k], b[k])
			}
		}
	}
	for i := 0; i < mA.NumPoints(); i++ {
		a, b := mA.PointParams(i), mB.PointParams(i)
		for k := range a {
			if math.Abs(a[k]-b[k]) > 1e-8 {
				t.Errorf("point %d param %d: dense %g vs schur %g", i, k, a[k], b[k])
			}
		}
	}
}

func TestUpdateCountsIterations(t *testing.T) {
	scene := simulate.Ring(2, 3, 10, 0.02, 26)
	m, err := NewModel(scene.Cameras, scene.Network, 1, 1, 1)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	adj, err := NewAdjuster(m, config.FitRef, 1.0, 1.0)
	if err != nil {
		t.Fatalf("NewAdjuster: %v", err)
	}
	if adj.Iterations() != 0 {
		t.Fatalf("fresh adjuster reports %d iterations", adj.Iterations())
	}
	for i := 1; i <= 3; i++ {
		delta, _, _, err := adj.Update()
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if delta < 0 {
			t.Fatalf("update %d returned negative delta %g", i, delta)
		}
		if adj.Iterations() != i {
			t.Fatalf("after %d updates Iterations() = %d", i, adj.Iterations())
		}
	}
}

func TestRobustLossDownweightsOutlier(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping solver convergence test in short mode")
	}
	// One wildly corrupted measurement. Under Cauchy loss the fit
	// should nearly ignore it, keeping the other residuals small;
	// under squared loss the bad measure drags the point off and
	// spreads error onto its sibling observation.
	mkScene := func() *simulate.Scene {
		s := simulate.Ring(3, 4, 10, 0.02, 27)
		s.CorruptMeasure(0, 0, 300, -200)
		return s
	}

	robust := runFit(t, mkScene(), config.FitSparseCauchy, 1e-6, 1e-6, 1e30, 50)
	plain := runFit(t, mkScene(), config.FitSparse, 1e-6, 1e-6, 1e30, 50)

	// Sibling observation of the corrupted point (same point, camera 1).
	robustErrs := robust.ImageErrors()
	plainErrs := plain.ImageErrors()
	if robustErrs[1] >= plainErrs[1] {
		t.Errorf("robust sibling residual %g not below squared-loss residual %g",
			robustErrs[1], plainErrs[1])
	}
}

func TestLossFunctions(t *testing.T) {
	t.Run("L2", func(t *testing.T) {
		l := L2Loss{}
		if l.Weight(100) != 1 || l.Rho(3) != 9 {
			t.Error("squared loss must be unweighted with rho = r^2")
		}
	})
	t.Run("Huber", func(t *testing.T) {
		h := HuberLoss{K: 2}
		if h.Weight(1) != 1 {
			t.Error("huber weight inside K must be 1")
		}
		if got := h.Weight(8); got != 0.25 {
			t.Errorf("huber weight(8) = %g, want K/r = 0.25", got)
		}
		if got := h.Rho(2); got != 4 {
			t.Errorf("huber rho at the knee = %g, want 4", got)
		}
		if got := h.Rho(8); got != 2*2*8-4 {
			t.Errorf("huber rho(8) = %g, want linear branch %g", got, 2.0*2*8-4)
		}
	})
	t.Run("Cauchy", func(t *testing.T) {
		c := CauchyLoss{Sigma: 1}
		if got := c.Weight(0); got != 1 {
			t.Errorf("cauchy weight(0) = %g, want 1", got)
		}
		if got := c.Weight(1); got != 0.5 {
			t.Errorf("cauchy weight(1) = %g, want 0.5", got)
		}
		if got := c.Rho(1); math.Abs(got-math.Log(2)) > 1e-15 {
			t.Errorf("cauchy rho(1) = %g, want ln 2", got)
		}
	})
}
