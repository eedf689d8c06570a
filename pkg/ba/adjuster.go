package ba

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"bundleadjust/pkg/config"
)

// Adjuster is the single-iteration contract every solver strategy
// satisfies. Update performs one step against the model the strategy
// was built with and returns the overall delta (a non-negative,
// solver-defined magnitude of the last change; zero means nothing
// moved), plus the absolute and relative tolerances after the step.
// The strategy is selected once at construction; callers never branch
// on its identity.
type Adjuster interface {
	Iterations() int
	Update() (delta, absTol, relTol float64, err error)
	SetLambda(lambda float64)
	SetControl(control int)
}

// NewAdjuster builds the strategy named by fitType over the model. The
// six strategies share one Levenberg-Marquardt core and differ in the
// linear-solve structure (dense reference vs Schur-complement sparse)
// and the loss weighting applied to pixel residuals.
func NewAdjuster(m *Model, fitType string, huberParam, cauchyParam float64) (Adjuster, error) {
	switch fitType {
	case config.FitRef:
		return newLMAdjuster(m, denseSolve, L2Loss{}), nil
	case config.FitSparse:
		return newLMAdjuster(m, schurSolve, L2Loss{}), nil
	case config.FitSparseHuber:
		return newLMAdjuster(m, schurSolve, HuberLoss{K: huberParam}), nil
	case config.FitSparseCauchy:
		return newLMAdjuster(m, schurSolve, CauchyLoss{Sigma: cauchyParam}), nil
	case config.FitRobustRef:
		return newLMAdjuster(m, denseSolve, CauchyLoss{Sigma: 1}), nil
	case config.FitRobustSparse:
		return newLMAdjuster(m, schurSolve, CauchyLoss{Sigma: 1}), nil
	}
	return nil, fmt.Errorf("unknown fit type %q", fitType)
}

type solveMode int

const (
	denseSolve solveMode = iota
	schurSolve
)

type observation struct {
	point, cam int
	px, py     float64
}

// lmAdjuster is the shared Levenberg-Marquardt core. Each Update
// assembles loss-weighted normal equations from numerical Jacobians of
// the model's projection operator, augments them with the prior
// precision terms, damps, solves for a step and commits it only when
// the objective improves.
type lmAdjuster struct {
	model *Model
	mode  solveMode
	loss  Loss

	lambda     float64
	control    int
	iterations int

	obs []observation
}

const (
	defaultLambda = 0.1
	lambdaFloor   = 1e-12
	lambdaCeil    = 1e32
)

func newLMAdjuster(m *Model, mode solveMode, loss Loss) *lmAdjuster {
	lm := &lmAdjuster{
		model:  m,
		mode:   mode,
		loss:   loss,
		lambda: defaultLambda,
	}
	net := m.Network()
	for i := range net.Points {
		for _, meas := range net.Points[i].Measures {
			lm.obs = append(lm.obs, observation{
				point: i, cam: meas.ImageID,
				px: meas.Pixel.X, py: meas.Pixel.Y,
			})
		}
	}
	return lm
}

func (lm *lmAdjuster) Iterations() int { return lm.iterations }

func (lm *lmAdjuster) SetLambda(lambda float64) { lm.lambda = lambda }

// SetControl selects the damping policy: 0 adapts lambda after each
// step, 1 holds it fixed at its current value.
func (lm *lmAdjuster) SetControl(control int) { lm.control = control }

// objective evaluates the robustified cost at the supplied trial
// parameters: the loss of every pixel residual plus the quadratic
// drift penalties against the priors.
func (lm *lmAdjuster) objective(a, b [][]float64) float64 {
	m := lm.model
	total := 0.0
	for _, o := range lm.obs {
		proj := m.Project(o.point, o.cam, a[o.cam], b[o.point])
		dx, dy := o.px-proj.X, o.py-proj.Y
		total += lm.loss.Rho(math.Hypot(dx, dy))
	}
	for j := range a {
		prec := m.CameraPrecision(j)
		for k := 0; k < CameraParams; k++ {
			d := m.aTarget[j][k] - a[j][k]
			total += prec.At(k, k) * d * d
		}
	}
	for i := range b {
		prec := m.PointPrecision(i)
		for k := 0; k < PointParams; k++ {
			d := m.bTarget[i][k] - b[i][k]
			total += prec.At(k, k) * d * d
		}
	}
	return total
}

// normalEquations assembles the damped, prior-augmented normal
// equations in block form: U (per-camera 6x6), V (per-point 3x3),
// W (6x3 camera-point coupling blocks) and the gradient halves gA, gB.
func (lm *lmAdjuster) normalEquations() (u, v []*mat.Dense, w map[[2]int]*mat.Dense, gA, gB []*mat.VecDense) {
	m := lm.model
	nc, np := m.NumCameras(), m.NumPoints()

	u = make([]*mat.Dense, nc)
	gA = make([]*mat.VecDense, nc)
	for j := 0; j < nc; j++ {
		u[j] = mat.NewDense(CameraParams, CameraParams, nil)
		gA[j] = mat.NewVecDense(CameraParams, nil)
	}
	v = make([]*mat.Dense, np)
	gB = make([]*mat.VecDense, np)
	for i := 0; i < np; i++ {
		v[i] = mat.NewDense(PointParams, PointParams, nil)
		gB[i] = mat.NewVecDense(PointParams, nil)
	}
	w = make(map[[2]int]*mat.Dense)

	jac := mat.NewDense(2, CameraParams+PointParams, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	x := make([]float64, CameraParams+PointParams)

	for _, o := range lm.obs {
		i, j := o.point, o.cam
		copy(x[:CameraParams], m.a[j])
		copy(x[CameraParams:], m.b[i])

		fd.Jacobian(jac, func(y, x []float64) {
			px := m.Project(i, j, x[:CameraParams], x[CameraParams:])
			y[0], y[1] = px.X, px.Y
		}, x, settings)

		proj := m.Project(i, j, m.a[j], m.b[i])
		r := mat.NewVecDense(2, []float64{o.px - proj.X, o.py - proj.Y})
		weight := lm.loss.Weight(math.Hypot(r.AtVec(0), r.AtVec(1)))

		ja := jac.Slice(0, 2, 0, CameraParams)
		jb := jac.Slice(0, 2, CameraParams, CameraParams+PointParams)

		var t mat.Dense
		t.Mul(ja.T(), ja)
		t.Scale(weight, &t)
		u[j].Add(u[j], &t)

		t.Reset()
		t.Mul(jb.T(), jb)
		t.Scale(weight, &t)
		v[i].Add(v[i], &t)

		t.Reset()
		t.Mul(ja.T(), jb)
		t.Scale(weight, &t)
		key := [2]int{j, i}
		if w[key] == nil {
			w[key] = mat.NewDense(CameraParams, PointParams, nil)
		}
		w[key].Add(w[key], &t)

		var g mat.VecDense
		g.MulVec(ja.T(), r)
		gA[j].AddScaledVec(gA[j], weight, &g)
		g.Reset()
		g.MulVec(jb.T(), r)
		gB[i].AddScaledVec(gB[i], weight, &g)
	}

	// Prior terms: precision on the block diagonal, precision-weighted
	// pull toward the target in the gradient.
	for j := 0; j < nc; j++ {
		prec := m.CameraPrecision(j)
		for k := 0; k < CameraParams; k++ {
			u[j].Set(k, k, u[j].At(k, k)+prec.At(k, k))
			gA[j].SetVec(k, gA[j].AtVec(k)+prec.At(k, k)*(m.aTarget[j][k]-m.a[j][k]))
		}
	}
	for i := 0; i < np; i++ {
		prec := m.PointPrecision(i)
		for k := 0; k < PointParams; k++ {
			v[i].Set(k, k, v[i].At(k, k)+prec.At(k, k))
			gB[i].SetVec(k, gB[i].AtVec(k)+prec.At(k, k)*(m.bTarget[i][k]-m.b[i][k]))
		}
	}

	// Marquardt damping on the block diagonals.
	for j := 0; j < nc; j++ {
		for k := 0; k < CameraParams; k++ {
			u[j].Set(k, k, u[j].At(k, k)*(1+lm.lambda)+lambdaFloor)
		}
	}
	for i := 0; i < np; i++ {
		for k := 0; k < PointParams; k++ {
			v[i].Set(k, k, v[i].At(k, k)*(1+lm.lambda)+lambdaFloor)
		}
	}
	return u, v, w, gA, gB
}

// Update performs one Levenberg-Marquardt step.
func (lm *lmAdjuster) Update() (delta, absTol, relTol float64, err error) {
	m := lm.model
	lm.iterations++

	u, v, w, gA, gB := lm.normalEquations()

	var dxA, dxB []float64
	var solveErr error
	switch lm.mode {
	case denseSolve:
		dxA, dxB, solveErr = solveDense(u, v, w, gA, gB)
	case schurSolve:
		dxA, dxB, solveErr = solveSchur(u, v, w, gA, gB)
	}
	if solveErr != nil {
		// Singular system at this damping level. Stiffen and let the
		// controller try again.
		if lm.control == 0 {
			lm.raiseLambda()
		}
		return 1, math.Inf(1), math.Inf(1), nil
	}

	absTol = gradientSup(gA, gB)

	nc, np := m.NumCameras(), m.NumPoints()
	aTrial := make([][]float64, nc)
	for j := 0; j < nc; j++ {
		aTrial[j] = make([]float64, CameraParams)
		for k := 0; k < CameraParams; k++ {
			aTrial[j][k] = m.a[j][k] + dxA[j*CameraParams+k]
		}
	}
	bTrial := make([][]float64, np)
	for i := 0; i < np; i++ {
		bTrial[i] = make([]float64, PointParams)
		for k := 0; k < PointParams; k++ {
			bTrial[i][k] = m.b[i][k] + dxB[i*PointParams+k]
		}
	}

	cost := lm.objective(m.a, m.b)
	trialCost := lm.objective(aTrial, bTrial)

	if trialCost <= cost {
		for j := 0; j < nc; j++ {
			m.SetCameraParams(j, aTrial[j])
		}
		for i := 0; i < np; i++ {
			m.SetPointParams(i, bTrial[i])
		}
		if lm.control == 0 {
			lm.lowerLambda()
		}
		stepNorm := math.Hypot(floats.Norm(dxA, 2), floats.Norm(dxB, 2))
		delta = stepNorm
		relTol = stepNorm / (1 + paramNorm(m))
		return delta, absTol, relTol, nil
	}

	// Step rejected: parameters stand, damping stiffens. The delta is
	// the objective gap so the controller keeps going unless the
	// surface is genuinely flat.
	if lm.control == 0 {
		lm.raiseLambda()
	}
	delta = trialCost - cost
	relTol = delta / (1 + cost)
	return delta, absTol, relTol, nil
}

func (lm *lmAdjuster) raiseLambda() {
	lm.lambda = math.Min(lm.lambda*10, lambdaCeil)
}

func (lm *lmAdjuster) lowerLambda() {
	lm.lambda = math.Max(lm.lambda/10, lambdaFloor)
}

func gradientSup(gA, gB []*mat.VecDense) float64 {
	sup := 0.0
	for _, g := range gA {
		for k := 0; k < g.Len(); k++ {
			sup = math.Max(sup, math.Abs(g.AtVec(k)))
		}
	}
	for _, g := range gB {
		for k := 0; k < g.Len(); k++ {
			sup = math.Max(sup, math.Abs(g.AtVec(k)))
		}
	}
	return sup
}

func paramNorm(m *Model) float64 {
	total := 0.0
	for j := range m.a {
		for _, v := range m.a[j] {
			total += v * v
		}
	}
	for i := range m.b {
		for _, v := range m.b[i] {
			total += v * v
		}
	}
	return math.Sqrt(total)
}

// solveDense assembles the full normal matrix and solves it in one
// shot. This is the reference structure: no exploitation of sparsity,
// useful as ground truth for the Schur path.
func solveDense(u, v []*mat.Dense, w map[[2]int]*mat.Dense, gA, gB []*mat.VecDense) (dxA, dxB []float64, err error) {
	nc, np := len(u), len(v)
	nA, nB := nc*CameraParams, np*PointParams
	n := nA + nB

	full := mat.NewDense(n, n, nil)
	g := mat.NewVecDense(n, nil)

	for j := 0; j < nc; j++ {
		setBlock(full, j*CameraParams, j*CameraParams, u[j])
		for k := 0; k < CameraParams; k++ {
			g.SetVec(j*CameraParams+k, gA[j].AtVec(k))
		}
	}
	for i := 0; i < np; i++ {
		setBlock(full, nA+i*PointParams, nA+i*PointParams, v[i])
		for k := 0; k < PointParams; k++ {
			g.SetVec(nA+i*PointParams+k, gB[i].AtVec(k))
		}
	}
	for key, blk := range w {
		j, i := key[0], key[1]
		setBlock(full, j*CameraParams, nA+i*PointParams, blk)
		var t mat.Dense
		t.CloneFrom(blk.T())
		setBlock(full, nA+i*PointParams, j*CameraParams, &t)
	}

	var dx mat.VecDense
	if err := dx.SolveVec(full, g); err != nil {
		return nil, nil, fmt.Errorf("dense normal equations: %w", err)
	}
	return dx.RawVector().Data[:nA], dx.RawVector().Data[nA : nA+nB], nil
}

// solveSchur eliminates the point blocks first: the per-point 3x3
// blocks are inverted independently, the reduced camera system
// S = U - W V^-1 W^T is solved densely, and the point updates are
// back-substituted. This is the sparse structure every production
// bundle adjuster exploits.
func solveSchur(u, v []*mat.Dense, w map[[2]int]*mat.Dense, gA, gB []*mat.VecDense) (dxA, dxB []float64, err error) {
	nc, np := len(u), len(v)
	nA := nc * CameraParams

	vInv := make([]*mat.Dense, np)
	for i := 0; i < np; i++ {
		vInv[i] = mat.NewDense(PointParams, PointParams, nil)
		if err := vInv[i].Inverse(v[i]); err != nil {
			return nil, nil, fmt.Errorf("point block %d: %w", i, err)
		}
	}

	s := mat.NewDense(nA, nA, nil)
	for j := 0; j < nc; j++ {
		setBlock(s, j*CameraParams, j*CameraParams, u[j])
	}
	rhs := mat.NewVecDense(nA, nil)
	for j := 0; j < nc; j++ {
		for k := 0; k < CameraParams; k++ {
			rhs.SetVec(j*CameraParams+k, gA[j].AtVec(k))
		}
	}

	// S -= W V^-1 W^T, rhs -= W V^-1 gB, accumulated per coupled
	// camera pair sharing a point.
	byPoint := make(map[int][]int) // point -> cameras observing it
	for key := range w {
		byPoint[key[1]] = append(byPoint[key[1]], key[0])
	}
	for i, cams := range byPoint {
		for _, j1 := range cams {
			var wv mat.Dense
			wv.Mul(w[[2]int{j1, i}], vInv[i])

			var yv mat.VecDense
			yv.MulVec(&wv, gB[i])
			for k := 0; k < CameraParams; k++ {
				rhs.SetVec(j1*CameraParams+k, rhs.AtVec(j1*CameraParams+k)-yv.AtVec(k))
			}

			for _, j2 := range cams {
				var t mat.Dense
				t.Mul(&wv, w[[2]int{j2, i}].T())
				subBlock(s, j1*CameraParams, j2*CameraParams, &t)
			}
		}
	}

	var dxAVec mat.VecDense
	if err := dxAVec.SolveVec(s, rhs); err != nil {
		return nil, nil, fmt.Errorf("reduced camera system: %w", err)
	}

	dxB = make([]float64, np*PointParams)
	for i := 0; i < np; i++ {
		resid := mat.NewVecDense(PointParams, nil)
		resid.CopyVec(gB[i])
		for _, j := range byPoint[i] {
			var t mat.VecDense
			dxAj := dxAVec.SliceVec(j*CameraParams, (j+1)*CameraParams)
			t.MulVec(w[[2]int{j, i}].T(), dxAj)
			resid.SubVec(resid, &t)
		}
		var dxBi mat.VecDense
		dxBi.MulVec(vInv[i], resid)
		for k := 0; k < PointParams; k++ {
			dxB[i*PointParams+k] = dxBi.AtVec(k)
		}
	}
	return dxAVec.RawVector().Data, dxB, nil
}

func setBlock(dst *mat.Dense, row, col int, src mat.Matrix) {
	r, c := src.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Set(row+i, col+j, src.At(i, j))
		}
	}
}

func subBlock(dst *mat.Dense, row, col int, src mat.Matrix) {
	r, c := src.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Set(row+i, col+j, dst.At(row+i, col+j)-src.At(i, j))
		}
	}
}
