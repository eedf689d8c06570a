package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() *Options {
	opts := Default()
	opts.CnetFile = "test.cnet"
	opts.CameraFiles = []string{"cam0.tsai", "cam1.tsai"}
	return opts
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, validOptions().Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Options){
		"unknown fit type":     func(o *Options) { o.FitType = "newton" },
		"bad control":          func(o *Options) { o.Control = 2 },
		"negative iterations":  func(o *Options) { o.MaxIterations = -1 },
		"zero position sigma":  func(o *Options) { o.CameraPositionSigma = 0 },
		"negative pose sigma":  func(o *Options) { o.CameraPoseSigma = -1 },
		"zero cutoff":          func(o *Options) { o.RemoveOutliers = true; o.OutlierSDCutoff = 0 },
		"low report level":     func(o *Options) { o.RemoveOutliers = true; o.ReportLevel = 10 },
		"missing cnet":         func(o *Options) { o.CnetFile = "" },
		"missing camera files": func(o *Options) { o.CameraFiles = nil },
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			opts := validOptions()
			corrupt(opts)
			assert.Error(t, opts.Validate())
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	opts, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), opts)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	want := validOptions()
	want.FitType = FitSparseCauchy
	want.MaxIterations = 7
	want.RemoveOutliers = true
	want.OutlierSDCutoff = 1.5

	path := filepath.Join(t.TempDir(), "opts.yaml")
	require.NoError(t, want.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	partial := "fitType: sparse\nmaxIterations: 5\n"
	require.NoError(t, os.WriteFile(path, []byte(partial), 0644))

	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, FitSparse, opts.FitType)
	assert.Equal(t, 5, opts.MaxIterations)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().CameraPositionSigma, opts.CameraPositionSigma)
	assert.Equal(t, Default().ReportLevel, opts.ReportLevel)
}

func TestStringShowsLambdaOnlyWhenSet(t *testing.T) {
	opts := validOptions()
	assert.NotContains(t, opts.String(), "Lambda:")
	opts.UseUserLambda = true
	assert.Contains(t, opts.String(), "Lambda:")
}

func TestStringListsCoreOptions(t *testing.T) {
	s := validOptions().String()
	for _, want := range []string{"Fit type", "Camera position sigma", "Maximum iterations", "Outlier SD cutoff"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q", want)
		}
	}
}
