// Package outlier implements the measure-rejection rule applied
// between the two fit passes: observations whose pixel error lies more
// than a configured number of standard deviations above the mean are
// removed from the control network. The cneteditor command exposes
// this as the external detection process.
package outlier

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"bundleadjust/pkg/cnet"
)

// minMeasuresPerPoint is the floor below which a free point can no
// longer be triangulated and is dropped with its measures.
const minMeasuresPerPoint = 2

// LoadErrors reads a per-observation pixel-error report: one value per
// line, in network iteration order.
func LoadErrors(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading error report: %w", err)
	}
	defer f.Close()

	var errs []float64
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("error report %s:%d: bad value %q", path, lineNo, line)
		}
		errs = append(errs, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading error report %s: %w", path, err)
	}
	return errs, nil
}

// Filter returns a new network with outlier measures removed. errs
// must align one-to-one with the network's measures in iteration order
// (points outer, measures inner). A measure is rejected when its error
// exceeds mean + cutoff*sd over all errors. Free points left with
// fewer than two measures are dropped entirely; ground control points
// are kept regardless, their position being externally trusted.
func Filter(n *cnet.Network, errs []float64, cutoff float64) (*cnet.Network, int, error) {
	if len(errs) != n.NumMeasures() {
		return nil, 0, fmt.Errorf("error report has %d entries for %d measures", len(errs), n.NumMeasures())
	}

	mean, sd := stat.MeanStdDev(errs, nil)
	threshold := mean + cutoff*sd

	out := &cnet.Network{Name: n.Name}
	removed := 0
	k := 0
	for i := range n.Points {
		p := n.Points[i]
		kept := make([]cnet.Measure, 0, len(p.Measures))
		for _, m := range p.Measures {
			if errs[k] > threshold {
				removed++
			} else {
				kept = append(kept, m)
			}
			k++
		}
		if len(kept) < minMeasuresPerPoint && p.Type != cnet.GroundControlPoint {
			removed += len(kept)
			continue
		}
		p.Measures = kept
		out.Points = append(out.Points, p)
	}
	return out, removed, nil
}
