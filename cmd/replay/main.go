package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/adaptive-response/internal/buffer"
	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/logging"
	"github.com/danielpatrickdp/adaptive-response/internal/metrics"
	"github.com/danielpatrickdp/adaptive-response/internal/registry"
	"github.com/danielpatrickdp/adaptive-response/internal/training"
)

// #region main

func main() {
	archivePath := flag.String("archive", "", "path to the experience archive database")
	registryPath := flag.String("registry", "", "path to the model registry database")
	cycles := flag.Int("cycles", 10, "number of update cycles to run")
	limit := flag.Int("limit", 10000, "max archived experiences to load")
	flag.Parse()

	if *archivePath == "" || *registryPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --archive path/to/experiences.db --registry path/to/registry.db [--cycles N] [--limit N]")
		os.Exit(2)
	}

	os.Exit(run(*archivePath, *registryPath, *cycles, *limit))
}

// #endregion main

// #region run

// run replays archived experiences through the update loop offline: load
// the archive into a fresh buffer, then run cycles against the registry.
// Rejected and discarded candidates are normal outcomes and reported as
// such.
func run(archivePath, registryPath string, cycles, limit int) int {
	log := logging.Discard()

	archive, err := buffer.NewArchive(archivePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open archive: %v\n", err)
		return 2
	}
	defer archive.Close()

	experiences, err := archive.Load(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load archive: %v\n", err)
		return 2
	}
	if len(experiences) == 0 {
		fmt.Fprintln(os.Stderr, "archive is empty")
		return 1
	}

	store, err := registry.NewStore(registryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open registry: %v\n", err)
		return 2
	}
	defer store.Close()

	models, err := registry.NewManager(registry.Config{Tolerance: 0.02, Seed: 1}, store, logging.Component(log, "registry"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "init registry: %v\n", err)
		return 2
	}

	buf := buffer.New(buffer.DefaultConfig())
	for _, exp := range experiences {
		if err := buf.Store(exp); err != nil && !errors.Is(err, buffer.ErrDuplicate) {
			fmt.Fprintf(os.Stderr, "load experience %s: %v\n", exp.ID, err)
		}
	}
	fmt.Printf("loaded %d experiences, starting at version %d\n", buf.Len(), models.Active().Version)

	trainer := training.NewManager(training.DefaultConfig(), buf, models,
		metrics.LogSink{Log: logging.Component(log, "events")}, logging.Component(log, "training"))

	ctx := context.Background()
	accepted, discarded := 0, 0
	for i := 0; i < cycles; i++ {
		before := models.Active().Version
		err := trainer.RunCycle(ctx)
		switch {
		case errors.Is(err, training.ErrBatchBelowMinimum):
			fmt.Printf("cycle %d: skipped, too few experiences\n", i+1)
		case errors.Is(err, core.ErrTrainingInstability):
			discarded++
			fmt.Printf("cycle %d: discarded (%v)\n", i+1, err)
		case err != nil:
			fmt.Fprintf(os.Stderr, "cycle %d: %v\n", i+1, err)
			return 1
		case models.Active().Version != before:
			accepted++
			fmt.Printf("cycle %d: activated version %d\n", i+1, models.Active().Version)
		default:
			fmt.Printf("cycle %d: no new version\n", i+1)
		}
	}

	fmt.Printf("\ndone: %d accepted, %d discarded, active version %d\n", accepted, discarded, models.Active().Version)
	return 0
}

// #endregion run
