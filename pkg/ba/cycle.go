package ba

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"bundleadjust/pkg/camera"
	"bundleadjust/pkg/cnet"
	"bundleadjust/pkg/config"
)

// Phase is the outlier-removal cycle state.
type Phase int

const (
	PhaseFirstFit Phase = iota
	PhaseDetecting
	PhaseReloading
	PhaseSecondFit
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseFirstFit:
		return "first-fit"
	case PhaseDetecting:
		return "detecting"
	case PhaseReloading:
		return "reloading"
	case PhaseSecondFit:
		return "second-fit"
	case PhaseDone:
		return "done"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Sentinel errors for the detection contract.
var (
	// ErrMissingArtifact marks a required input file that does not
	// exist; the wrapped message names the path.
	ErrMissingArtifact = errors.New("required artifact missing")

	// ErrDetectorFailed marks a detector invocation that exited
	// non-zero or produced no output network.
	ErrDetectorFailed = errors.New("outlier detector failed")
)

// Detector removes outlier measures from a control network. cutoff is
// the standard-deviation threshold, netIn the network to filter,
// errReport the per-observation pixel-error report from the first fit,
// netOut where the filtered network must appear, and workDir the
// working directory for the invocation.
type Detector interface {
	Remove(cutoff float64, netIn, errReport, netOut, workDir string) error
}

// ExecDetector invokes the detection collaborator as an external
// process. The call blocks until the process exits; no timeout is
// enforced, so a hung detector stalls the cycle.
type ExecDetector struct {
	// Command is the executable to run; defaults to "cneteditor" when
	// empty.
	Command string

	Log config.Logger
}

// Remove runs the detector process. Success requires a zero exit
// status and the presence of the output network file.
func (d ExecDetector) Remove(cutoff float64, netIn, errReport, netOut, workDir string) error {
	if _, err := os.Stat(errReport); err != nil {
		return fmt.Errorf("%w: pixel error report %s (needs report level >= %d)",
			ErrMissingArtifact, errReport, config.ErrorReportLevel)
	}
	if _, err := os.Stat(netIn); err != nil {
		return fmt.Errorf("%w: control network %s", ErrMissingArtifact, netIn)
	}

	command := d.Command
	if command == "" {
		command = "cneteditor"
	}
	cmd := exec.Command(command,
		"-c", strconv.FormatFloat(cutoff, 'g', -1, 64),
		"-o", netOut,
		"-d", workDir,
		netIn, errReport)
	d.Log.Debugf("outlier removal command: %v", cmd.Args)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %v: %s", ErrDetectorFailed, err, out)
	}
	if _, err := os.Stat(netOut); err != nil {
		return fmt.Errorf("%w: no output network at %s", ErrDetectorFailed, netOut)
	}
	return nil
}

// Cycle orchestrates the two-pass fit: a first fit over the original
// network, an external outlier-detection pass fed by the first fit's
// error report, a reload of the filtered network into a brand-new
// model, and a second fit. With removal disabled the cycle ends after
// the first fit.
type Cycle struct {
	Opts    *config.Options
	Cameras []*camera.Pinhole

	// Network is the original control network; CnetPath is where it
	// lives on disk (handed to the detector untouched).
	Network  *cnet.Network
	CnetPath string

	Detector   Detector
	ResultsDir string
	Log        config.Logger

	phase Phase
}

// Phase returns the cycle's current state.
func (c *Cycle) Phase() Phase { return c.phase }

// Run executes the cycle and returns the model of the last fit pass
// that ran, together with that pass's final state. Any detection or
// reload failure aborts the cycle; nothing is retried.
func (c *Cycle) Run() (*Model, State, error) {
	var (
		model   *Model
		state   State
		network = c.Network
	)

	c.phase = PhaseFirstFit
	for c.phase != PhaseDone {
		switch c.phase {
		case PhaseFirstFit:
			var err error
			model, state, err = c.fit(network, c.Opts.FitType)
			if err != nil {
				return nil, state, err
			}
			if c.Opts.RemoveOutliers {
				c.phase = PhaseDetecting
			} else {
				c.phase = PhaseDone
			}

		case PhaseDetecting:
			errReport := filepath.Join(c.ResultsDir, ErrorReportFile)
			netOut := filepath.Join(c.ResultsDir, FilteredCnetFile)
			err := c.Detector.Remove(c.Opts.OutlierSDCutoff, c.CnetPath, errReport, netOut, c.ResultsDir)
			if err != nil {
				return nil, state, fmt.Errorf("outlier detection: %w", err)
			}
			c.phase = PhaseReloading

		case PhaseReloading:
			// The filtered network supersedes the original entirely.
			// The first-pass model is discarded; the fresh model cold
			// starts from the filtered network's point positions.
			fresh, err := cnet.Load(filepath.Join(c.ResultsDir, FilteredCnetFile))
			if err != nil {
				return nil, state, fmt.Errorf("reloading filtered network: %w", err)
			}
			network = fresh
			model = nil
			c.phase = PhaseSecondFit

		case PhaseSecondFit:
			var err error
			model, state, err = c.fit(network, c.Opts.FitType+" no-outliers")
			if err != nil {
				return nil, state, err
			}
			c.phase = PhaseDone
		}
	}
	return model, state, nil
}

// fit runs one full pass over a fresh model bound to the given network.
func (c *Cycle) fit(network *cnet.Network, label string) (*Model, State, error) {
	model, err := NewModel(c.Cameras, network,
		c.Opts.CameraPositionSigma, c.Opts.CameraPoseSigma, c.Opts.GCPSigma)
	if err != nil {
		return nil, Running, err
	}

	adjuster, err := NewAdjuster(model, c.Opts.FitType, c.Opts.HuberParam, c.Opts.CauchyParam)
	if err != nil {
		return nil, Running, err
	}
	if c.Opts.UseUserLambda {
		adjuster.SetLambda(c.Opts.Lambda)
	}
	adjuster.SetControl(c.Opts.Control)

	ctrl := &Controller{
		Adjuster: adjuster,
		Model:    model,
		Reporter: &Reporter{
			Name:            label,
			Level:           c.Opts.ReportLevel,
			ErrorReportPath: filepath.Join(c.ResultsDir, ErrorReportFile),
			Log:             c.Log,
		},
		MaxIterations:      c.Opts.MaxIterations,
		SaveIterationData:  c.Opts.SaveIterationData,
		CameraSnapshotPath: filepath.Join(c.ResultsDir, CameraSnapshotFile),
		PointSnapshotPath:  filepath.Join(c.ResultsDir, PointSnapshotFile),
		Log:                c.Log,
	}

	c.Log.Debugf("running %s fit: %d cameras, %d points, %d observations",
		label, model.NumCameras(), model.NumPoints(), model.NumPixelObservations())
	state, err := ctrl.Run()
	if err != nil {
		return nil, state, err
	}
	return model, state, nil
}
