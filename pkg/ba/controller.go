package ba

import (
	"fmt"

	"bundleadjust/pkg/config"
)

// State reports how a fit pass ended.
type State int

const (
	// Running means the pass is still in progress (never returned by a
	// completed Run).
	Running State = iota

	// Converged means the solver reported no further change or crossed
	// a tolerance threshold.
	Converged

	// Exhausted means the iteration budget ran out first. This is not
	// an error; the best parameters found stand.
	Exhausted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Converged:
		return "converged"
	case Exhausted:
		return "exhausted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stopping tolerances, checked before each step.
const (
	absTolStop = 1e-3
	relTolStop = 1e-3
)

// Controller drives one fit pass: repeated single-iteration solver
// updates until the solver reports zero delta, a tolerance crosses its
// threshold, or the iteration budget is spent. The reporter's Finalize
// always runs on exit, whatever the stop reason; outlier removal
// depends on the error report it writes.
type Controller struct {
	Adjuster Adjuster
	Reporter *Reporter
	Model    *Model

	MaxIterations     int
	SaveIterationData bool

	// Snapshot destinations, used only when SaveIterationData is set.
	CameraSnapshotPath string
	PointSnapshotPath  string

	Log config.Logger
}

// Run executes the pass and returns its final state.
func (c *Controller) Run() (State, error) {
	if c.SaveIterationData {
		if err := ClearFiles(c.CameraSnapshotPath, c.PointSnapshotPath); err != nil {
			return Running, err
		}
	}

	absTol, relTol := 1e10, 1e10
	delta := 2.0
	state := Running
	for delta != 0 {
		if c.Adjuster.Iterations() >= c.MaxIterations {
			state = Exhausted
			break
		}
		if absTol < absTolStop || relTol < relTolStop {
			state = Converged
			break
		}

		var err error
		delta, absTol, relTol, err = c.Adjuster.Update()
		if err != nil {
			return Running, fmt.Errorf("iteration %d: %w", c.Adjuster.Iterations(), err)
		}
		c.Log.Debugf("iteration %d: delta=%g absTol=%g relTol=%g",
			c.Adjuster.Iterations(), delta, absTol, relTol)

		// Snapshots are pure diagnostics; they never feed back into the
		// stop decision.
		if c.SaveIterationData {
			if err := c.Model.AppendCameraParams(c.CameraSnapshotPath); err != nil {
				return state, err
			}
			if err := c.Model.AppendPoints(c.PointSnapshotPath); err != nil {
				return state, err
			}
		}
	}
	if delta == 0 {
		state = Converged
	}

	if err := c.Reporter.Finalize(c.Model); err != nil {
		return state, err
	}
	return state, nil
}
