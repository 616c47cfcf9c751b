package api

import (
	"fmt"

	"github.com/JaimeStill/assay/internal/audits"
	"github.com/JaimeStill/assay/internal/classifications"
	"github.com/JaimeStill/assay/internal/documents"
	"github.com/JaimeStill/assay/internal/extraction"
	"github.com/JaimeStill/assay/internal/pipeline"
	"github.com/JaimeStill/assay/pkg/lifecycle"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Audits          audits.System
	Documents       documents.System
	Extraction      *extraction.Queue
	Pipeline        pipeline.System
	Classifications classifications.System
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(runtime *Runtime) (*Domain, error) {
	auditsSystem := audits.New(
		runtime.Database.Connection(),
		runtime.Logger,
		runtime.API.Pagination,
	)

	docsSystem := documents.New(
		runtime.Storage,
		documents.Config{
			MaxSize:       runtime.API.MaxUploadSizeBytes(),
			AcceptedTypes: runtime.API.AcceptedTypes,
		},
		runtime.Logger,
	)

	engine, err := extraction.NewEngine(&runtime.Extraction, nil)
	if err != nil {
		return nil, fmt.Errorf("extraction engine: %w", err)
	}

	queue := extraction.NewQueue(
		engine,
		docsSystem,
		runtime.Logger,
		extraction.WithWorkers(runtime.Extraction.Workers),
		extraction.WithQueueSize(runtime.Extraction.QueueSize),
		extraction.WithTimeout(runtime.Extraction.TimeoutDuration()),
	)

	pipelineSystem := pipeline.New(
		auditsSystem,
		docsSystem,
		queue,
		runtime.Locks,
		runtime.Logger,
		pipeline.Options{
			StaleTimeout:  runtime.Extraction.StaleTimeoutDuration(),
			SweepInterval: runtime.Extraction.SweepIntervalDuration(),
		},
	)

	classificationsSystem := classifications.New(
		auditsSystem,
		runtime.Locks,
		runtime.Logger,
	)

	return &Domain{
		Audits:          auditsSystem,
		Documents:       docsSystem,
		Extraction:      queue,
		Pipeline:        pipelineSystem,
		Classifications: classificationsSystem,
	}, nil
}

// Start launches the extraction workers and the stale sweeper.
func (d *Domain) Start(lc *lifecycle.Coordinator) error {
	if err := d.Extraction.Start(lc); err != nil {
		return fmt.Errorf("extraction start failed: %w", err)
	}
	if err := d.Pipeline.StartSweeper(lc); err != nil {
		return fmt.Errorf("sweeper start failed: %w", err)
	}
	return nil
}
