package outlier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"bundleadjust/pkg/cnet"
)

func testNetwork() *cnet.Network {
	n := &cnet.Network{Name: "filter test"}
	for i := 0; i < 4; i++ {
		n.Points = append(n.Points, cnet.Point{
			ID:       string(rune('a' + i)),
			Type:     cnet.FreePoint,
			Position: r3.Vector{X: float64(i)},
			Measures: []cnet.Measure{
				{ImageID: 0, Pixel: r2.Point{X: 100, Y: 100}},
				{ImageID: 1, Pixel: r2.Point{X: 200, Y: 100}},
			},
		})
	}
	return n
}

func TestFilterRemovesOutlierAndStarvedPoint(t *testing.T) {
	n := testNetwork()
	// Seven well-behaved observations and one gross outlier. The
	// outlier is the last measure of the last point; removing it
	// leaves that free point with a single measure, so the point goes
	// too.
	errs := []float64{1, 1, 1, 1, 1, 1, 1, 100}

	filtered, removed, err := Filter(n, errs, 2.0)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2 (the outlier plus the stranded survivor)", removed)
	}
	if len(filtered.Points) != 3 {
		t.Errorf("filtered points = %d, want 3", len(filtered.Points))
	}
	if got := filtered.NumMeasures(); got != 6 {
		t.Errorf("filtered measures = %d, want 6", got)
	}
	// The source network must be untouched.
	if n.NumMeasures() != 8 || len(n.Points) != 4 {
		t.Errorf("source network mutated: %d points, %d measures", len(n.Points), n.NumMeasures())
	}
}

func TestFilterKeepsStarvedGCP(t *testing.T) {
	n := testNetwork()
	n.Points[3].Type = cnet.GroundControlPoint
	errs := []float64{1, 1, 1, 1, 1, 1, 1, 100}

	filtered, removed, err := Filter(n, errs, 2.0)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if len(filtered.Points) != 4 {
		t.Errorf("filtered points = %d, want 4 (GCP survives with one measure)", len(filtered.Points))
	}
}

func TestFilterNoOutliers(t *testing.T) {
	n := testNetwork()
	errs := []float64{1, 2, 1, 2, 1, 2, 1, 2}

	filtered, removed, err := Filter(n, errs, 3.0)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
	if len(filtered.Points) != 4 || filtered.NumMeasures() != 8 {
		t.Errorf("network shrank with no outliers: %d points, %d measures",
			len(filtered.Points), filtered.NumMeasures())
	}
}

func TestFilterLengthMismatch(t *testing.T) {
	if _, _, err := Filter(testNetwork(), []float64{1, 2, 3}, 2.0); err == nil {
		t.Fatal("expected error for mismatched error report length")
	}
}

func TestLoadErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image_mean.err")
	content := "0.5\n1.25\n\n3e-2\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	errs, err := LoadErrors(path)
	if err != nil {
		t.Fatalf("LoadErrors: %v", err)
	}
	want := []float64{0.5, 1.25, 0.03}
	if len(errs) != len(want) {
		t.Fatalf("got %d values, want %d", len(errs), len(want))
	}
	for i := range want {
		if errs[i] != want[i] {
			t.Errorf("errs[%d] = %g, want %g", i, errs[i], want[i])
		}
	}
}

func TestLoadErrorsMissingFile(t *testing.T) {
	if _, err := LoadErrors(filepath.Join(t.TempDir(), "absent.err")); err == nil {
		t.Fatal("expected error for missing report")
	}
}

func TestLoadErrorsBadValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.err")
	if err := os.WriteFile(path, []byte("1.0\nnope\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadErrors(path); err == nil {
		t.Fatal("expected error for unparseable value")
	}
}
