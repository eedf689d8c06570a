package ba

import (
	"bufio"
	"fmt"
	"os"

	"gonum.org/v1/gonum/stat"

	"bundleadjust/pkg/config"
)

// Reporter handles end-of-pass reporting. At Level >=
// config.ErrorReportLevel it writes the per-observation pixel-error
// report that the outlier detector consumes.
type Reporter struct {
	// Name labels the pass in log output, e.g. "sparse no-outliers".
	Name string

	// Level is the reporting detail threshold.
	Level int

	// ErrorReportPath receives the per-observation error report when
	// the level calls for it.
	ErrorReportPath string

	Log config.Logger
}

// Finalize runs once when a fit pass ends, whatever its stop reason.
func (r *Reporter) Finalize(m *Model) error {
	errs := m.ImageErrors()

	if r.Level >= config.ErrorReportLevel && r.ErrorReportPath != "" {
		if err := writeErrorReport(r.ErrorReportPath, errs); err != nil {
			return err
		}
	}

	if r.Level >= 10 && len(errs) > 0 {
		mean, sd := stat.MeanStdDev(errs, nil)
		r.Log.Debugf("%s: %d observations, pixel error mean %.6g sd %.6g",
			r.Name, len(errs), mean, sd)
		if gcp := m.GCPErrors(); len(gcp) > 0 {
			r.Log.Debugf("%s: gcp drift mean %.6g", r.Name, stat.Mean(gcp, nil))
		}
	}
	return nil
}

// writeErrorReport writes one pixel error per line, in network
// iteration order. The detector relies on this ordering to pair errors
// with measures.
func writeErrorReport(path string, errs []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing error report: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, e := range errs {
		fmt.Fprintf(w, "%.17g\n", e)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing error report %s: %w", path, err)
	}
	return nil
}
