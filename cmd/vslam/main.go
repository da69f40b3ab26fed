// Command vslam runs the stereo visual SLAM pipeline: synchronized stream
// ingestion, incremental pose-graph building, and consumer-gated exports,
// with an HTTP surface for live tuning and stats.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/strasdat/vslam/internal/api"
	"github.com/strasdat/vslam/internal/bus"
	"github.com/strasdat/vslam/internal/config"
	"github.com/strasdat/vslam/internal/detect"
	"github.com/strasdat/vslam/internal/monitor"
	"github.com/strasdat/vslam/internal/pipeline"
	"github.com/strasdat/vslam/internal/record"
	"github.com/strasdat/vslam/internal/slam"
	"github.com/strasdat/vslam/internal/stream"
	"github.com/strasdat/vslam/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	dbFile     = flag.String("db", "", "Optional sqlite file for per-cycle records")
	configFile = flag.String("config", "", "Optional JSON tuning config file")
	plotDir    = flag.String("plot-dir", "", "Optional directory for trajectory plots")
	replayDir  = flag.String("replay", "", "Replay a recorded dataset directory through the pipeline")
	replayRate = flag.Duration("replay-rate", 100*time.Millisecond, "Frame interval during replay")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <vocab-tree> <vocab-weights> <descriptor-training>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 3 {
		usage()
		os.Exit(1)
	}
	vocabTree, vocabWeights, descriptorTraining := flag.Arg(0), flag.Arg(1), flag.Arg(2)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("vslam %s", version.String())

	var initial *config.TuningConfig
	if *configFile != "" {
		cfg, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		initial = cfg
	}
	store := config.NewStore(initial)

	detector := detect.NewAnyDetector(detect.VariantGridAdapted)
	engine, err := slam.NewSystem(vocabTree, vocabWeights, descriptorTraining, detector)
	if err != nil {
		log.Fatalf("Failed to initialize SLAM system: %v", err)
	}

	outBus := bus.New()
	defer outBus.Close()

	opts := []pipeline.Option{pipeline.WithDetectorTuner(detector)}

	if *dbFile != "" {
		cycleDB, err := record.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open cycle database: %v", err)
		}
		defer cycleDB.Close()
		opts = append(opts, pipeline.WithRecorder(cycleDB))
	}

	var plotter *monitor.TrajectoryPlotter
	if *plotDir != "" {
		plotter = monitor.NewTrajectoryPlotter()
		if err := plotter.Start(*plotDir); err != nil {
			log.Fatalf("Failed to start trajectory plotter: %v", err)
		}
		opts = append(opts, pipeline.WithTrajectoryObserver(plotter))
	}

	// Live tolerance updates through the API reach the synchronizer at the
	// start of the next cycle.
	var syncer *stream.Synchronizer
	opts = append(opts, pipeline.WithToleranceFunc(func(d time.Duration) {
		syncer.SetTolerance(d)
	}))

	ctrl := pipeline.New(engine, store, outBus, opts...)
	current := store.Current()
	syncer = stream.NewSynchronizer(current.GetSyncTolerance(), stream.DefaultDepth, ctrl.HandleTuple)
	defer syncer.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *replayDir != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := replayDataset(ctx, *replayDir, *replayRate, syncer); err != nil {
				log.Printf("replay terminated: %v", err)
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(store, ctrl.Stats, ctrl.State).ServeMux()
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()

	if plotter != nil {
		plotter.Stop()
		if plotter.SampleCount() > 0 {
			outFile, err := plotter.GeneratePlot()
			if err != nil {
				log.Printf("failed to generate trajectory plot: %v", err)
			} else {
				log.Printf("wrote trajectory plot to %s", outFile)
			}
		}
	}

	stats := ctrl.Stats()
	log.Printf("pipeline done: %d cycles, %d accepted, %d rejected, %d refines",
		stats.Cycles, stats.Accepted, stats.Rejected, stats.Refines)
}
