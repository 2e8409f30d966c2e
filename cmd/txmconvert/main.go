package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txmconvert/pkg/batch"
	"txmconvert/pkg/config"
)

func main() {
	inputDir := flag.String("input", "", "Directory to scan recursively for .txm and .xrm files")
	outputDir := flag.String("output", "converted", "Base directory for converted output")
	configPath := flag.String("config", "txmconvert.yaml", "Path to the YAML configuration file")
	serial := flag.Bool("serial", false, "Convert scans one at a time instead of in parallel")
	volume3D := flag.Bool("3d", false, "Write one multi-page BigTIFF per scan instead of a TIFF stack")
	zipOutput := flag.Bool("zip", false, "Zip each scan's TIFF output")
	writePreview := flag.Bool("preview", false, "Save a JPEG preview of the middle plane per scan")
	flag.Parse()

	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	opts := batch.Options{
		OutputDir:      *outputDir,
		Parallel:       cfg.Conversion.Parallel && !*serial,
		Workers:        cfg.Conversion.Workers,
		ConvertTo8Bit:  cfg.Conversion.ConvertTo8Bit,
		LowPercentile:  cfg.Conversion.LowPercentile,
		HighPercentile: cfg.Conversion.HighPercentile,
		Volume3D:       cfg.Output.Volume3D || *volume3D,
		ZipOutput:      cfg.Output.ZipOutput || *zipOutput,
		WritePreview:   cfg.Output.WritePreview || *writePreview,
	}

	paths, err := batch.Discover(*inputDir)
	if err != nil {
		log.Fatalf("Failed to scan %s: %v", *inputDir, err)
	}

	runner := batch.NewRunner(opts, consoleProgress{}, batch.WriterLogSink{W: os.Stdout})

	// A first interrupt finishes in-flight scans and skips the rest; a
	// second one kills the process the usual way.
	ctx := context.Background()
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		fmt.Println("\nStopping after in-flight scans...")
		runner.Stop()
		signal.Stop(interrupts)
	}()

	summary, err := runner.Run(ctx, paths)
	if err != nil {
		log.Fatalf("Conversion failed to start: %v", err)
	}

	fmt.Printf("\n%d scans: %d converted, %d failed, %d skipped (%s)\n",
		summary.Total, summary.Succeeded, summary.Failed, summary.Skipped, summary.Elapsed.Round(10*time.Millisecond))
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

// consoleProgress prints one line per finished scan.
type consoleProgress struct{}

func (consoleProgress) Progress(done int, message string) {
	fmt.Printf("[%d] %s\n", done, message)
}
