package camera

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Rotation corrections are serialized as three Euler angles composed in
// x-y-z order: R = Rx(x) * Ry(y) * Rz(z). The axis order is a fixed
// convention shared by the adjustment files and the parameter vectors;
// it is never inferred from context.

// EulerXYZToQuat builds the unit quaternion for the rotation
// Rx(x) * Ry(y) * Rz(z), with angles in radians.
func EulerXYZToQuat(x, y, z float64) quat.Number {
	qx := quat.Number{Real: math.Cos(x / 2), Imag: math.Sin(x / 2)}
	qy := quat.Number{Real: math.Cos(y / 2), Jmag: math.Sin(y / 2)}
	qz := quat.Number{Real: math.Cos(z / 2), Kmag: math.Sin(z / 2)}
	return quat.Mul(quat.Mul(qx, qy), qz)
}

// QuatToMatrix converts a unit quaternion to a 3x3 rotation matrix.
func QuatToMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// RotationAngle returns the rotation angle of q in radians, in [0, pi].
func RotationAngle(q quat.Number) float64 {
	v := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	return 2 * math.Atan2(v, math.Abs(q.Real))
}

// RotateVec applies the rotation q to v.
func RotateVec(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// MatrixToEulerXYZ decomposes a rotation matrix into the Euler angles
// (x, y, z) such that R = Rx(x) * Ry(y) * Rz(z). At the gimbal-lock
// singularity (|R02| == 1) the x angle is folded into z.
func MatrixToEulerXYZ(r mat.Matrix) (x, y, z float64) {
	r02 := r.At(0, 2)
	switch {
	case r02 >= 1:
		return math.Atan2(r.At(1, 0), r.At(1, 1)), math.Pi / 2, 0
	case r02 <= -1:
		return math.Atan2(-r.At(1, 0), r.At(1, 1)), -math.Pi / 2, 0
	default:
		y = math.Asin(r02)
		x = math.Atan2(-r.At(1, 2), r.At(2, 2))
		z = math.Atan2(-r.At(0, 1), r.At(0, 0))
		return x, y, z
	}
}
