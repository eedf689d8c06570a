// Package config holds the run options for the bundle adjustment
// pipeline. It loads options from a YAML file over built-in defaults
// and validates them before the core is constructed; downstream
// packages trust validated options and never re-check ranges.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fit type names accepted by Options.FitType.
const (
	FitRef          = "ref"
	FitSparse       = "sparse"
	FitSparseHuber  = "sparse_huber"
	FitSparseCauchy = "sparse_cauchy"
	FitRobustRef    = "robust_ref"
	FitRobustSparse = "robust_sparse"
)

// FitTypes lists the interchangeable solver strategies in their
// canonical order.
var FitTypes = []string{
	FitRef, FitSparse, FitSparseHuber, FitSparseCauchy, FitRobustRef, FitRobustSparse,
}

// Options configures one pipeline run. A zero Options is not usable;
// start from Default or Load.
type Options struct {
	// FitType selects the solver strategy (see FitTypes).
	FitType string `yaml:"fitType"`

	// Lambda is the initial Levenberg-Marquardt damping value. It is
	// forwarded to the strategy only when UseUserLambda is set.
	Lambda        float64 `yaml:"lambda"`
	UseUserLambda bool    `yaml:"useUserLambda"`

	// Control is an opaque 0/1 switch forwarded to the strategy.
	Control int `yaml:"control"`

	// HuberParam and CauchyParam tune the robust loss functions.
	HuberParam  float64 `yaml:"huberParam"`
	CauchyParam float64 `yaml:"cauchyParam"`

	// Regularization widths. Position and pose sigmas weight the
	// camera-drift penalty; GCPSigma weights the ground-control drift
	// penalty. Larger values mean weaker constraints.
	CameraPositionSigma float64 `yaml:"cameraPositionSigma"`
	CameraPoseSigma     float64 `yaml:"cameraPoseSigma"`
	GCPSigma            float64 `yaml:"gcpSigma"`

	// MaxIterations bounds each fit pass.
	MaxIterations int `yaml:"maxIterations"`

	// MinMatches is the minimum number of matches between images for an
	// image pair to contribute.
	MinMatches int `yaml:"minMatches"`

	// ReportLevel controls reporting detail. At or above
	// ErrorReportLevel the per-observation pixel-error report is
	// written on finalize; outlier removal requires it.
	ReportLevel int `yaml:"reportLevel"`

	// SaveIterationData enables per-iteration parameter snapshots.
	SaveIterationData bool `yaml:"saveIterationData"`

	// RemoveOutliers enables the detect/reload/refit second pass, with
	// OutlierSDCutoff standard deviations as the rejection threshold.
	RemoveOutliers  bool    `yaml:"removeOutliers"`
	OutlierSDCutoff float64 `yaml:"outlierSdCutoff"`

	// CnetFile is the control network, resolved against DataDir when
	// relative. CameraFiles are the base camera models, in observation
	// image-id order, likewise resolved against DataDir.
	CnetFile    string   `yaml:"cnetFile"`
	CameraFiles []string `yaml:"cameraFiles"`

	// DataDir is where inputs are read; ResultsDir is where outputs are
	// written (defaults to DataDir). With UseTypeDirs set, results go
	// into a per-fit-type subdirectory of ResultsDir.
	DataDir     string `yaml:"dataDir"`
	ResultsDir  string `yaml:"resultsDir"`
	UseTypeDirs bool   `yaml:"useTypeDirs"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
}

// ErrorReportLevel is the report level at and above which the
// per-observation pixel-error report is written.
const ErrorReportLevel = 35

// Default returns the built-in option values.
func Default() *Options {
	return &Options{
		FitType:             FitRef,
		Lambda:              0.1,
		HuberParam:          1.0,
		CauchyParam:         1.0,
		CameraPositionSigma: 1.0,
		CameraPoseSigma:     1e-16,
		GCPSigma:            1e-16,
		MaxIterations:       30,
		MinMatches:          30,
		ReportLevel:         ErrorReportLevel,
		OutlierSDCutoff:     2.0,
		DataDir:             ".",
	}
}

// Load reads options from a YAML file merged over defaults. A missing
// file is not an error; the defaults are returned unchanged.
func Load(path string) (*Options, error) {
	opts := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return opts, nil
}

// Save writes the options to a YAML file.
func (o *Options) Save(path string) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks option ranges and required inputs. It must pass
// before the adjustment core is constructed.
func (o *Options) Validate() error {
	valid := false
	for _, t := range FitTypes {
		if o.FitType == t {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown fit type %q (want one of %s)", o.FitType, strings.Join(FitTypes, ", "))
	}
	if o.Control != 0 && o.Control != 1 {
		return fmt.Errorf("control must be 0 or 1, got %d", o.Control)
	}
	if o.MaxIterations < 0 {
		return fmt.Errorf("max iterations must be non-negative, got %d", o.MaxIterations)
	}
	if o.CameraPositionSigma <= 0 || o.CameraPoseSigma <= 0 || o.GCPSigma <= 0 {
		return fmt.Errorf("sigmas must be positive (position %g, pose %g, gcp %g)",
			o.CameraPositionSigma, o.CameraPoseSigma, o.GCPSigma)
	}
	if o.RemoveOutliers && o.OutlierSDCutoff <= 0 {
		return fmt.Errorf("outlier sd cutoff must be positive, got %g", o.OutlierSDCutoff)
	}
	if o.RemoveOutliers && o.ReportLevel < ErrorReportLevel {
		return fmt.Errorf("outlier removal requires report level >= %d, got %d", ErrorReportLevel, o.ReportLevel)
	}
	if o.CnetFile == "" {
		return fmt.Errorf("a control network file is required")
	}
	if len(o.CameraFiles) == 0 {
		return fmt.Errorf("at least one camera model file is required")
	}
	return nil
}

// String renders the configured options for the --print-config dump.
func (o *Options) String() string {
	var b strings.Builder
	b.WriteString("Configured options\n")
	b.WriteString("----------------------------------------------------\n")
	fmt.Fprintf(&b, "Control network file: %s\n", o.CnetFile)
	fmt.Fprintf(&b, "Fit type: %s\n", o.FitType)
	if o.UseUserLambda {
		fmt.Fprintf(&b, "Lambda: %g\n", o.Lambda)
	}
	fmt.Fprintf(&b, "Huber parameter: %g\n", o.HuberParam)
	fmt.Fprintf(&b, "Cauchy parameter: %g\n", o.CauchyParam)
	fmt.Fprintf(&b, "Camera position sigma: %g\n", o.CameraPositionSigma)
	fmt.Fprintf(&b, "Camera pose sigma: %g\n", o.CameraPoseSigma)
	fmt.Fprintf(&b, "Ground control point sigma: %g\n", o.GCPSigma)
	fmt.Fprintf(&b, "Minimum matches: %d\n", o.MinMatches)
	fmt.Fprintf(&b, "Maximum iterations: %d\n", o.MaxIterations)
	fmt.Fprintf(&b, "Save iteration data? %t\n", o.SaveIterationData)
	fmt.Fprintf(&b, "Report level: %d\n", o.ReportLevel)
	fmt.Fprintf(&b, "Data directory: %s\n", o.DataDir)
	fmt.Fprintf(&b, "Results directory: %s\n", o.ResultsDir)
	fmt.Fprintf(&b, "Use fit type dirs? %t\n", o.UseTypeDirs)
	fmt.Fprintf(&b, "Remove outliers? %t\n", o.RemoveOutliers)
	fmt.Fprintf(&b, "Outlier SD cutoff: %g\n", o.OutlierSDCutoff)
	return b.String()
}

// Logger is a verbosity-gated debug logger passed explicitly into the
// components that emit progress output; there is no package-global
// logging state.
type Logger struct {
	Verbose bool
}

// Debugf logs when verbose output is enabled.
func (l Logger) Debugf(format string, args ...any) {
	if l.Verbose {
		log.Printf(format, args...)
	}
}
