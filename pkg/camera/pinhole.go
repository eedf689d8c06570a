// Package camera provides the pinhole camera model used by the bundle
// adjustment pipeline, together with the adjusted-camera composition
// (translation plus quaternion rotation correction) and the text
// serialization formats for both.
package camera

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Pinhole is a distortion-free pinhole camera. Rotation maps
// camera-frame vectors to world-frame vectors; projection therefore
// applies its transpose to world points.
type Pinhole struct {
	// Fu, Fv are the focal lengths in pixels along u and v.
	Fu, Fv float64

	// Cu, Cv are the principal point coordinates in pixels.
	Cu, Cv float64

	// Center is the camera center in world coordinates.
	Center r3.Vector

	// Rotation is the 3x3 camera-to-world rotation matrix.
	Rotation *mat.Dense
}

// NewPinhole returns a camera at the origin looking down +z with an
// identity orientation.
func NewPinhole(fu, fv, cu, cv float64) *Pinhole {
	return &Pinhole{
		Fu: fu, Fv: fv, Cu: cu, Cv: cv,
		Rotation: identity3(),
	}
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// Project maps a world point to pixel coordinates. Points on or behind
// the camera plane project to non-finite pixels; callers that care must
// check with math.IsInf/IsNaN.
func (c *Pinhole) Project(p r3.Vector) r2.Point {
	d := p.Sub(c.Center)
	r := c.Rotation
	// camera-frame coordinates: q = R^T * d
	qx := r.At(0, 0)*d.X + r.At(1, 0)*d.Y + r.At(2, 0)*d.Z
	qy := r.At(0, 1)*d.X + r.At(1, 1)*d.Y + r.At(2, 1)*d.Z
	qz := r.At(0, 2)*d.X + r.At(1, 2)*d.Y + r.At(2, 2)*d.Z
	return r2.Point{
		X: c.Fu*qx/qz + c.Cu,
		Y: c.Fv*qy/qz + c.Cv,
	}
}

// Adjusted composes a base camera with a translation correction and a
// rotation correction. The translation shifts the camera center; the
// rotation is applied on the camera side of the base orientation, so
// the adjusted camera-to-world rotation is Base.Rotation * M(Rotation).
type Adjusted struct {
	Base        *Pinhole
	Translation r3.Vector
	Rotation    quat.Number
}

// Center returns the adjusted camera center.
func (a *Adjusted) Center() r3.Vector {
	return a.Base.Center.Add(a.Translation)
}

// RotationMatrix returns the adjusted camera-to-world rotation.
func (a *Adjusted) RotationMatrix() *mat.Dense {
	var r mat.Dense
	r.Mul(a.Base.Rotation, QuatToMatrix(a.Rotation))
	return &r
}

// AsPinhole materializes the adjusted camera as a plain pinhole model
// with the corrections folded in.
func (a *Adjusted) AsPinhole() *Pinhole {
	return &Pinhole{
		Fu: a.Base.Fu, Fv: a.Base.Fv, Cu: a.Base.Cu, Cv: a.Base.Cv,
		Center:   a.Center(),
		Rotation: a.RotationMatrix(),
	}
}

// Project maps a world point through the adjusted camera.
func (a *Adjusted) Project(p r3.Vector) r2.Point {
	return a.AsPinhole().Project(p)
}

// ReadTsai loads a pinhole camera from a .tsai text file. The format is
// one "key = values" entry per line:
//
//	fu = 500
//	fv = 500
//	cu = 320
//	cv = 240
//	C = 0 0 -10
//	R = 1 0 0 0 1 0 0 0 1
//
// Unknown keys are ignored so files carrying distortion blocks still load.
func ReadTsai(path string) (*Pinhole, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading camera file: %w", err)
	}
	defer f.Close()

	cam := &Pinhole{Rotation: identity3()}
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, rest, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("camera file %s: malformed line %q", path, line)
		}
		key = strings.TrimSpace(key)
		vals, err := parseFloats(strings.Fields(strings.TrimSpace(rest)))
		if err != nil {
			return nil, fmt.Errorf("camera file %s: entry %q: %w", path, key, err)
		}
		switch key {
		case "fu", "fv", "cu", "cv":
			if len(vals) != 1 {
				return nil, fmt.Errorf("camera file %s: entry %q wants 1 value, got %d", path, key, len(vals))
			}
			switch key {
			case "fu":
				cam.Fu = vals[0]
			case "fv":
				cam.Fv = vals[0]
			case "cu":
				cam.Cu = vals[0]
			case "cv":
				cam.Cv = vals[0]
			}
		case "C":
			if len(vals) != 3 {
				return nil, fmt.Errorf("camera file %s: entry C wants 3 values, got %d", path, len(vals))
			}
			cam.Center = r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}
		case "R":
			if len(vals) != 9 {
				return nil, fmt.Errorf("camera file %s: entry R wants 9 values, got %d", path, len(vals))
			}
			cam.Rotation = mat.NewDense(3, 3, vals)
		default:
			continue
		}
		seen[key] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading camera file %s: %w", path, err)
	}
	for _, key := range []string{"fu", "fv", "cu", "cv", "C", "R"} {
		if !seen[key] {
			return nil, fmt.Errorf("camera file %s: missing entry %q", path, key)
		}
	}
	return cam, nil
}

// WriteTsai saves the camera in the format read by ReadTsai.
func (c *Pinhole) WriteTsai(path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "fu = %.17g\n", c.Fu)
	fmt.Fprintf(&b, "fv = %.17g\n", c.Fv)
	fmt.Fprintf(&b, "cu = %.17g\n", c.Cu)
	fmt.Fprintf(&b, "cv = %.17g\n", c.Cv)
	fmt.Fprintf(&b, "C = %.17g %.17g %.17g\n", c.Center.X, c.Center.Y, c.Center.Z)
	b.WriteString("R =")
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			fmt.Fprintf(&b, " %.17g", c.Rotation.At(i, j))
		}
	}
	b.WriteString("\n")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing camera file: %w", err)
	}
	return nil
}

func parseFloats(fields []string) ([]float64, error) {
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", f)
		}
		vals[i] = v
	}
	return vals, nil
}
