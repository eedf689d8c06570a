// Command cneteditor is the outlier-detection collaborator: it reads a
// control network and the per-observation pixel-error report from a
// fit pass, removes measures whose error lies beyond the cutoff, and
// writes the filtered network.
//
// Usage:
//
//	cneteditor -c 2.0 -o processed.cnet -d results/ input.cnet image_mean.err
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"bundleadjust/pkg/cnet"
	"bundleadjust/pkg/outlier"
)

func main() {
	cutoff := flag.Float64("c", 2.0, "Remove measures more than this many standard deviations above the mean error")
	outFile := flag.String("o", "processed.cnet", "Output control network file")
	workDir := flag.String("d", ".", "Directory that relative paths resolve against")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <control network> <error report>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}
	netPath := resolve(*workDir, flag.Arg(0))
	errPath := resolve(*workDir, flag.Arg(1))
	outPath := resolve(*workDir, *outFile)

	network, err := cnet.Load(netPath)
	if err != nil {
		log.Fatalf("Failed to load control network: %v", err)
	}
	errs, err := outlier.LoadErrors(errPath)
	if err != nil {
		log.Fatalf("Failed to load error report: %v", err)
	}

	filtered, removed, err := outlier.Filter(network, errs, *cutoff)
	if err != nil {
		log.Fatalf("Outlier filtering failed: %v", err)
	}
	if err := filtered.Save(outPath); err != nil {
		log.Fatalf("Failed to write filtered network: %v", err)
	}

	fmt.Printf("Removed %d of %d measures (%d of %d points remain): %s\n",
		removed, network.NumMeasures(), len(filtered.Points), len(network.Points), outPath)
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
