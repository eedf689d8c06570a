package camera

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

func TestEulerXYZToQuatIdentity(t *testing.T) {
	q := EulerXYZToQuat(0, 0, 0)
	if q.Real != 1 || q.Imag != 0 || q.Jmag != 0 || q.Kmag != 0 {
		t.Fatalf("zero angles gave %+v, want identity", q)
	}
}

func TestRotationAngle(t *testing.T) {
	for _, angle := range []float64{0, 0.1, 0.5, 1.5, 3.0} {
		q := EulerXYZToQuat(angle, 0, 0)
		if got := RotationAngle(q); math.Abs(got-angle) > 1e-12 {
			t.Errorf("RotationAngle(Rx(%g)) = %g", angle, got)
		}
	}
}

func TestRotateVecMatchesMatrix(t *testing.T) {
	q := EulerXYZToQuat(0.3, -0.7, 1.1)
	m := QuatToMatrix(q)
	v := r3.Vector{X: 1, Y: -2, Z: 0.5}

	got := RotateVec(q, v)
	want := r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
	if got.Sub(want).Norm() > 1e-12 {
		t.Fatalf("quaternion rotation %v disagrees with matrix rotation %v", got, want)
	}
}

func TestEulerRoundTrip(t *testing.T) {
	cases := [][3]float64{
		{0, 0, 0},
		{0.1, 0.2, 0.3},
		{-0.5, 0.4, -0.3},
		{1.0, -1.2, 0.9},
	}
	for _, c := range cases {
		m := QuatToMatrix(EulerXYZToQuat(c[0], c[1], c[2]))
		x, y, z := MatrixToEulerXYZ(m)
		if math.Abs(x-c[0]) > 1e-10 || math.Abs(y-c[1]) > 1e-10 || math.Abs(z-c[2]) > 1e-10 {
			t.Errorf("euler %v round-tripped to (%g, %g, %g)", c, x, y, z)
		}
	}
}

func TestQuatIsUnit(t *testing.T) {
	q := EulerXYZToQuat(0.4, 1.3, -2.1)
	if n := quat.Abs(q); math.Abs(n-1) > 1e-12 {
		t.Fatalf("composed quaternion has norm %g", n)
	}
}

func TestAxisOrder(t *testing.T) {
	// R = Rx(x)*Ry(y)*Rz(z): with only a z angle set, the x axis must
	// rotate within the xy plane.
	q := EulerXYZToQuat(0, 0, math.Pi/2)
	got := RotateVec(q, r3.Vector{X: 1})
	if got.Sub(r3.Vector{Y: 1}).Norm() > 1e-12 {
		t.Fatalf("Rz(pi/2) maps +x to %v, want +y", got)
	}
}
