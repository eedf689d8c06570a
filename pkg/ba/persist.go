package ba

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"bundleadjust/pkg/camera"
)

// Artifact names shared across a run. The snapshot files are
// append-only, one row per entity per iteration; the error report is
// one pixel error per observation and feeds the outlier detector.
const (
	CameraSnapshotFile = "iterCameraParam.txt"
	PointSnapshotFile  = "iterPointsParam.txt"
	ErrorReportFile    = "image_mean.err"
	FilteredCnetFile   = "processed.cnet"
)

// WriteAdjustment writes camera j's corrections to path: line one the
// three translation components, line two the rotation correction as a
// scalar-first unit quaternion.
func (m *Model) WriteAdjustment(j int, path string) error {
	t := m.a[j][:3]
	q := camera.EulerXYZToQuat(m.a[j][3], m.a[j][4], m.a[j][5])
	var b strings.Builder
	fmt.Fprintf(&b, "%.17g %.17g %.17g\n", t[0], t[1], t[2])
	fmt.Fprintf(&b, "%.17g %.17g %.17g %.17g\n", q.Real, q.Imag, q.Jmag, q.Kmag)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing adjustment file: %w", err)
	}
	return nil
}

// ReadAdjustment loads an adjustment file written by WriteAdjustment.
func ReadAdjustment(path string) (r3.Vector, quat.Number, error) {
	f, err := os.Open(path)
	if err != nil {
		return r3.Vector{}, quat.Number{}, fmt.Errorf("reading adjustment file: %w", err)
	}
	defer f.Close()

	var t r3.Vector
	var q quat.Number
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return t, q, fmt.Errorf("adjustment file %s: missing translation line", path)
	}
	if _, err := fmt.Sscan(scanner.Text(), &t.X, &t.Y, &t.Z); err != nil {
		return t, q, fmt.Errorf("adjustment file %s: translation line: %w", path, err)
	}
	if !scanner.Scan() {
		return t, q, fmt.Errorf("adjustment file %s: missing rotation line", path)
	}
	if _, err := fmt.Sscan(scanner.Text(), &q.Real, &q.Imag, &q.Jmag, &q.Kmag); err != nil {
		return t, q, fmt.Errorf("adjustment file %s: rotation line: %w", path, err)
	}
	return t, q, nil
}

// WriteAdjustedCameraModels writes one adjustment file per camera into
// resultsDir, named after the source camera file with the extension
// replaced by ".adjust".
func (m *Model) WriteAdjustedCameraModels(cameraFiles []string, resultsDir string) error {
	if len(cameraFiles) != m.NumCameras() {
		return fmt.Errorf("have %d camera files for %d cameras", len(cameraFiles), m.NumCameras())
	}
	for j, src := range cameraFiles {
		base := filepath.Base(src)
		name := strings.TrimSuffix(base, filepath.Ext(base)) + ".adjust"
		if err := m.WriteAdjustment(j, filepath.Join(resultsDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// AppendCameraParams appends one indexed row per camera with its
// current correction vector.
func (m *Model) AppendCameraParams(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening camera snapshot file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for j := range m.a {
		fmt.Fprintf(w, "%d", j)
		for _, v := range m.a[j] {
			fmt.Fprintf(w, "\t%.17g", v)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

// AppendPoints appends one indexed row per point with its current
// position.
func (m *Model) AppendPoints(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening point snapshot file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for i := range m.b {
		fmt.Fprintf(w, "%d\t%.17g\t%.17g\t%.17g\n", i, m.b[i][0], m.b[i][1], m.b[i][2])
	}
	return w.Flush()
}

// ClearFiles truncates the given files, creating them if absent. Used
// to reset the snapshot files at the start of a saving run.
func ClearFiles(paths ...string) error {
	for _, p := range paths {
		if err := os.WriteFile(p, nil, 0644); err != nil {
			return fmt.Errorf("clearing %s: %w", p, err)
		}
	}
	return nil
}

// WriteCameraParams dumps the fully adjusted pose of every camera
// (base plus corrections) as center and Euler-xyz orientation,
// tab-separated with 8 significant digits for reproducible diffs.
func (m *Model) WriteCameraParams(path string) error {
	var b strings.Builder
	for j := 0; j < m.NumCameras(); j++ {
		adj := m.AdjustedCamera(j)
		c := adj.Center()
		x, y, z := camera.MatrixToEulerXYZ(adj.RotationMatrix())
		fmt.Fprintf(&b, "%.8g\t%.8g\t%.8g\t%.8g\t%.8g\t%.8g\n", c.X, c.Y, c.Z, x, y, z)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing camera parameter dump: %w", err)
	}
	return nil
}

// WriteWorldPoints dumps every point's current position, tab-separated
// with 8 significant digits.
func (m *Model) WriteWorldPoints(path string) error {
	var b strings.Builder
	for i := 0; i < m.NumPoints(); i++ {
		fmt.Fprintf(&b, "%.8g\t%.8g\t%.8g\n", m.b[i][0], m.b[i][1], m.b[i][2])
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing world point dump: %w", err)
	}
	return nil
}
