// Command bundleadjust runs one full bundle adjustment procedure:
// load a control network and base camera models, refine camera
// corrections and point positions with the configured solver strategy,
// optionally remove outliers through an external detection pass and
// refit, then write the adjusted camera artifacts and parameter dumps.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"bundleadjust/pkg/ba"
	"bundleadjust/pkg/camera"
	"bundleadjust/pkg/cnet"
	"bundleadjust/pkg/config"
)

func main() {
	defaults := config.Default()

	configFile := flag.String("config", "bundleadjust.yaml", "YAML file with run options (missing file uses defaults)")
	printConfig := flag.Bool("print-config", false, "Print the effective options and exit")
	fitType := flag.String("b", defaults.FitType, "Fit type: "+strings.Join(config.FitTypes, ", "))
	cnetFile := flag.String("c", "", "Control network file")
	lambda := flag.Float64("l", defaults.Lambda, "Initial Levenberg-Marquardt lambda")
	control := flag.Int("control", defaults.Control, "Solver control switch (0 or 1)")
	huberParam := flag.Float64("huber-param", defaults.HuberParam, "Huber loss parameter")
	cauchyParam := flag.Float64("cauchy-param", defaults.CauchyParam, "Cauchy loss parameter")
	camPosSigma := flag.Float64("camera-position-sigma", defaults.CameraPositionSigma, "Constraint on camera position adjustment")
	camPoseSigma := flag.Float64("camera-pose-sigma", defaults.CameraPoseSigma, "Constraint on camera pose adjustment")
	gcpSigma := flag.Float64("gcp-sigma", defaults.GCPSigma, "Constraint on ground control point adjustment")
	maxIter := flag.Int("i", defaults.MaxIterations, "Maximum iterations per fit pass")
	minMatches := flag.Int("m", defaults.MinMatches, "Minimum matches between images")
	reportLevel := flag.Int("r", defaults.ReportLevel, "Report detail level")
	saveIterData := flag.Bool("s", false, "Save per-iteration camera and point snapshots")
	removeOutliers := flag.Bool("M", false, "Run outlier removal and a second fit pass")
	sdCutoff := flag.Float64("outlier-sd-cutoff", defaults.OutlierSDCutoff, "Outlier cutoff in standard deviations (implies -M)")
	dataDir := flag.String("D", defaults.DataDir, "Directory to read input data from")
	resultsDir := flag.String("R", "", "Directory to write results to (defaults to the data directory)")
	useTypeDirs := flag.Bool("T", false, "Store results in per-fit-type subdirectories")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	opts, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "b":
			opts.FitType = *fitType
		case "c":
			opts.CnetFile = *cnetFile
		case "l":
			opts.Lambda = *lambda
			opts.UseUserLambda = true
		case "control":
			opts.Control = *control
		case "huber-param":
			opts.HuberParam = *huberParam
		case "cauchy-param":
			opts.CauchyParam = *cauchyParam
		case "camera-position-sigma":
			opts.CameraPositionSigma = *camPosSigma
		case "camera-pose-sigma":
			opts.CameraPoseSigma = *camPoseSigma
		case "gcp-sigma":
			opts.GCPSigma = *gcpSigma
		case "i":
			opts.MaxIterations = *maxIter
		case "m":
			opts.MinMatches = *minMatches
		case "r":
			opts.ReportLevel = *reportLevel
		case "s":
			opts.SaveIterationData = *saveIterData
		case "M":
			opts.RemoveOutliers = *removeOutliers
		case "outlier-sd-cutoff":
			opts.OutlierSDCutoff = *sdCutoff
			opts.RemoveOutliers = true
		case "D":
			opts.DataDir = *dataDir
		case "R":
			opts.ResultsDir = *resultsDir
		case "T":
			opts.UseTypeDirs = *useTypeDirs
		case "v":
			opts.Verbose = *verbose
		}
	})
	if flag.NArg() > 0 {
		opts.CameraFiles = flag.Args()
	}
	if opts.ResultsDir == "" {
		opts.ResultsDir = opts.DataDir
	}

	if *printConfig {
		fmt.Print(opts)
		return
	}
	if err := opts.Validate(); err != nil {
		log.Fatalf("Invalid options: %v", err)
	}

	if err := run(opts); err != nil {
		log.Fatalf("Bundle adjustment failed: %v", err)
	}
}

func run(opts *config.Options) error {
	logger := config.Logger{Verbose: opts.Verbose}

	resultsDir := opts.ResultsDir
	if opts.UseTypeDirs {
		typeDir := opts.FitType
		if opts.RemoveOutliers {
			typeDir += "_no_outliers"
		}
		resultsDir = filepath.Join(resultsDir, typeDir)
	}
	if err := os.MkdirAll(resultsDir, 0755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}

	cnetPath := resolve(opts.DataDir, opts.CnetFile)
	network, err := cnet.Load(cnetPath)
	if err != nil {
		return err
	}
	logger.Debugf("loaded control network %q: %d points, %d measures",
		network.Name, len(network.Points), network.NumMeasures())

	cameras := make([]*camera.Pinhole, len(opts.CameraFiles))
	for j, file := range opts.CameraFiles {
		cam, err := camera.ReadTsai(resolve(opts.DataDir, file))
		if err != nil {
			return err
		}
		cameras[j] = cam
	}

	// The initial dumps are taken from a pristine model so the final
	// dumps can be compared against an untouched baseline.
	initial, err := ba.NewModel(cameras, network,
		opts.CameraPositionSigma, opts.CameraPoseSigma, opts.GCPSigma)
	if err != nil {
		return err
	}
	if err := initial.WriteCameraParams(filepath.Join(resultsDir, "cam_initial.txt")); err != nil {
		return err
	}
	if err := initial.WriteWorldPoints(filepath.Join(resultsDir, "wp_initial.txt")); err != nil {
		return err
	}

	cycle := &ba.Cycle{
		Opts:       opts,
		Cameras:    cameras,
		Network:    network,
		CnetPath:   cnetPath,
		Detector:   ba.ExecDetector{Log: logger},
		ResultsDir: resultsDir,
		Log:        logger,
	}

	start := time.Now()
	model, state, err := cycle.Run()
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := model.WriteAdjustedCameraModels(opts.CameraFiles, resultsDir); err != nil {
		return err
	}
	if err := model.WriteCameraParams(filepath.Join(resultsDir, "cam_final.txt")); err != nil {
		return err
	}
	if err := model.WriteWorldPoints(filepath.Join(resultsDir, "wp_final.txt")); err != nil {
		return err
	}

	errs := model.ImageErrors()
	mean, sd := stat.MeanStdDev(errs, nil)
	fmt.Printf("Fit %s (%s) in %.2fs: %d cameras, %d points, %d observations\n",
		state, opts.FitType, elapsed.Seconds(),
		model.NumCameras(), model.NumPoints(), model.NumPixelObservations())
	fmt.Printf("Pixel error: mean %.6g, sd %.6g\n", mean, sd)
	fmt.Printf("Results written to: %s\n", resultsDir)
	return nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) || filepath.Dir(path) != "." {
		return path
	}
	return filepath.Join(dir, path)
}
