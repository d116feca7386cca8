// Package pipeline runs the clip-and-package state machine and manages the
// persisted job records that wrap it.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/trobanga/gdmclip/internal/archive"
	"github.com/trobanga/gdmclip/internal/clip"
	"github.com/trobanga/gdmclip/internal/container"
	"github.com/trobanga/gdmclip/internal/geometry"
	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/progress"
	"github.com/trobanga/gdmclip/internal/project"
	"github.com/trobanga/gdmclip/internal/toolkit"
)

// Locker acquires exclusive ownership of an output directory
type Locker func(dir string) (io.Closer, error)

// Orchestrator runs clip jobs. Every Run gets its own toolkit from the factory.
type Orchestrator struct {
	Factory toolkit.Factory
	Logger  *lib.Logger

	// Lock guards the output directory for the duration of a run. Optional.
	Lock Locker

	// OnTransition observes every state the job enters. Optional.
	OnTransition func(state models.JobState)
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(factory toolkit.Factory, logger *lib.Logger) *Orchestrator {
	if logger == nil {
		logger = lib.DefaultLogger
	}
	return &Orchestrator{Factory: factory, Logger: logger}
}

// Result describes a packaged job
type Result struct {
	JobName     string
	OutputDir   string
	ArchivePath string
	Mask        *geometry.ClipMask
	Layers      []models.LayerResult // Excluded layers first, then clipped layers in processing order
	Cancelled   bool
	Entries     []progress.Entry
	Duration    time.Duration
}

// FailedLayers returns the layers that carried a non-fatal error
func (r *Result) FailedLayers() []models.LayerResult {
	var out []models.LayerResult
	for _, l := range r.Layers {
		if l.Outcome.IsError() {
			out = append(out, l)
		}
	}
	return out
}

// run holds the resources of one job execution
type run struct {
	o        *Orchestrator
	params   models.JobParameters
	layout   OutputLayout
	reporter *progress.Reporter
	state    models.ClipJob

	tk   toolkit.Toolkit
	gpkg *container.GeoPackage
	doc  *project.Document
	lock io.Closer
}

// Run executes the job described by params against the project held by source.
//
// Fatal errors are returned as *lib.MartError and leave no archive. Per-layer
// failures are reported to the sink log and listed in Result.Layers. A
// cancelled ctx stops processing between layers; what was processed so far is
// still packaged and Result.Cancelled is set.
func (o *Orchestrator) Run(ctx context.Context, params models.JobParameters, source project.Store, sink progress.Sink) (*Result, error) {
	start := time.Now()
	r := &run{
		o:        o,
		params:   params,
		layout:   Layout(params),
		reporter: progress.NewReporter(sink, o.Logger),
		state:    models.ClipJob{JobID: params.JobName(), Params: params, State: models.JobStatePending},
	}
	defer r.release()

	result, err := r.execute(ctx, source)
	if err != nil {
		r.reporter.Error(err.Error())
		r.state = models.UpdateJobState(r.state, models.JobStateFailed)
		r.notify(models.JobStateFailed)
		return nil, err
	}

	result.Duration = time.Since(start)
	result.Entries = r.reporter.Entries()
	lib.LogJobCompleted(o.Logger, params.JobName(), result.ArchivePath, len(result.Layers), result.Duration)
	return result, nil
}

func (r *run) execute(ctx context.Context, source project.Store) (*Result, error) {
	// Reports and persistence must survive cancellation so partial output can be packaged
	bg := context.WithoutCancel(ctx)

	if err := r.reporter.Start(bg); err != nil {
		return nil, err
	}

	// ParamsResolved
	srcDoc, err := project.Open(ctx, source)
	if err != nil {
		return nil, lib.WrapError(lib.CategoryValidation, "Failed to load source project", err,
			"Check that the project exists in the projects directory")
	}
	sel, err := ResolveParams(r.params, srcDoc)
	if err != nil {
		return nil, err
	}
	if err := r.enter(models.JobStateParamsResolved); err != nil {
		return nil, err
	}

	r.tk, err = r.o.Factory(ctx)
	if err != nil {
		return nil, lib.ErrToolkit("initialize", err)
	}

	// OutputInitialized
	if err := r.initializeOutput(ctx); err != nil {
		return nil, err
	}
	if err := r.enter(models.JobStateOutputInitialized); err != nil {
		return nil, err
	}

	// ProjectCloned
	if err := r.cloneProject(ctx, srcDoc, sel); err != nil {
		return nil, err
	}
	if err := r.enter(models.JobStateProjectCloned); err != nil {
		return nil, err
	}

	// MaskComputed
	mask, err := r.computeMask(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.enter(models.JobStateMaskComputed); err != nil {
		return nil, err
	}

	result := &Result{JobName: r.layout.JobName, OutputDir: r.layout.Dir, Mask: mask}

	for _, l := range sel.ExcludedLayers(r.doc) {
		result.Layers = append(result.Layers, models.LayerResult{
			LayerID: l.ID,
			Name:    l.Name,
			Kind:    l.Kind,
			Outcome: models.LayerOutcomeExcluded,
			Source:  l.Source,
		})
	}

	// LayerProcessing
	layers := sel.ClipLayers(r.doc)
	if len(layers) > 0 {
		if err := r.enter(models.JobStateLayerProcessing); err != nil {
			return nil, err
		}
		results, cancelled := r.processLayers(ctx, bg, mask, layers)
		result.Layers = append(result.Layers, results...)
		result.Cancelled = cancelled
	} else {
		r.reporter.Warn("No layers to clip")
	}

	// Packaged
	archivePath, err := r.pack(bg)
	if err != nil {
		return nil, err
	}
	if err := r.enter(models.JobStatePackaged); err != nil {
		return nil, err
	}
	result.ArchivePath = archivePath

	if result.Cancelled {
		r.reporter.Warn("Processing cancelled, partial output packaged")
		r.reporter.Finish(bg, "Processing cancelled")
		return result, r.enter(models.JobStateCancelled)
	}
	r.reporter.Finish(bg, "Done")
	return result, r.enter(models.JobStateDone)
}

func (r *run) initializeOutput(ctx context.Context) error {
	if r.o.Lock != nil {
		lock, err := r.o.Lock(r.layout.Dir)
		if err != nil {
			return err
		}
		r.lock = lock
	}

	if err := InitializeOutput(r.layout); err != nil {
		return err
	}

	gpkg, err := container.Create(ctx, r.layout.Container)
	if err != nil {
		return lib.ErrOutputConflict(r.layout.Container, err)
	}
	r.gpkg = gpkg

	err = gpkg.WriteMetadata(ctx, container.Metadata{
		User:    r.params.UserID,
		Vendor:  r.params.VendorID,
		Project: r.params.ProjectID,
		Job:     r.layout.JobName,
		Date:    time.Now(),
	})
	if err != nil {
		return lib.ErrOutputConflict(r.layout.Container, err)
	}
	return nil
}

func (r *run) cloneProject(ctx context.Context, srcDoc *project.Document, sel *Selection) error {
	doc, err := srcDoc.SaveAs(ctx, r.gpkg.ProjectStore(container.DefaultProjectName))
	if err != nil {
		return lib.ErrOutputConflict(r.layout.Container, err)
	}
	r.doc = doc

	if err := doc.Retain(sel.Keep); err != nil {
		return err
	}
	if r.params.ProjectCRS != "" {
		if err := doc.SetCRS(geometry.NormalizeCRS(r.params.ProjectCRS)); err != nil {
			return err
		}
	}
	r.o.Logger.Debug("Project cloned", "location", doc.Location(), "layers", layerNames(doc.Layers))
	return r.checkpoint(ctx)
}

func (r *run) computeMask(ctx context.Context) (*geometry.ClipMask, error) {
	preparer := &geometry.Preparer{
		Engine: r.tk,
		Store:  r.gpkg,
		OnPersistError: func(err error) {
			r.reporter.Error(err.Error())
		},
	}

	mask, err := preparer.Prepare(ctx, r.params.ClipGeometry, r.params.OutputCRS, r.params.BufferKm)
	if err != nil {
		return nil, err
	}

	if err := r.doc.SetDefaultExtent(mask.Bound()); err != nil {
		return nil, err
	}
	if err := r.checkpoint(ctx); err != nil {
		return nil, err
	}
	return mask, nil
}

// processLayers clips layers in order. It reports whether ctx was cancelled.
// Cancellation marks the in-flight and all remaining layers cancelled and drops them.
func (r *run) processLayers(ctx, bg context.Context, mask *geometry.ClipMask, layers []*project.Layer) ([]models.LayerResult, bool) {
	r.reporter.SetIncrement(PlanIncrement(layers, r.params.NeedsReprojection()))

	clipper := clip.New(clip.Config{
		Toolkit:   r.tk,
		Document:  r.doc,
		Output:    r.gpkg,
		Mask:      mask,
		OutputDir: r.layout.Dir,
		OutputCRS: geometry.NormalizeCRS(r.params.OutputCRS),
		Advance: func(description string) {
			r.reporter.Advance(bg, description)
		},
		Warn:   r.reporter.Warn,
		Logger: r.o.Logger,
		JobID:  r.layout.JobName,
	})

	results := make([]models.LayerResult, 0, len(layers))
	cancelled := false
	for _, layer := range layers {
		if ctx.Err() != nil {
			cancelled = true
			results = append(results, r.cancelLayer(bg, layer))
			continue
		}

		result := clipper.ClipLayer(ctx, layer)
		if result.Outcome == models.LayerOutcomeCancelled {
			cancelled = true
		}
		if result.Outcome.IsError() {
			r.reporter.Error(result.Error())
		}
		results = append(results, result)

		if err := r.checkpoint(bg); err != nil {
			r.reporter.Error(err.Error())
		}
	}

	if cancelled {
		if err := r.checkpoint(bg); err != nil {
			r.reporter.Error(err.Error())
		}
	}
	return results, cancelled
}

func (r *run) cancelLayer(ctx context.Context, layer *project.Layer) models.LayerResult {
	result := models.LayerResult{
		LayerID: layer.ID,
		Name:    layer.Name,
		Kind:    layer.Kind,
		Outcome: models.LayerOutcomeCancelled,
		Source:  layer.Source,
		Message: "job cancelled before the layer was processed",
	}
	if err := r.doc.Remove(layer.ID); err != nil {
		r.o.Logger.Warn("Failed to remove layer from project", "layer", layer.Name, "error", err)
	}

	// The layer's planned steps are still consumed so progress stays consistent
	for i := 0; i < clip.StepsFor(layer.Kind, r.params.NeedsReprojection()); i++ {
		r.reporter.Advance(ctx, fmt.Sprintf("Cancelled %s", layer.Name))
	}
	return result
}

// pack closes the document and container, zips the output directory and purges intermediates
func (r *run) pack(ctx context.Context) (string, error) {
	if err := r.doc.RelativizeSources(r.layout.Dir); err != nil {
		return "", err
	}
	if err := r.checkpoint(ctx); err != nil {
		return "", err
	}

	// The container must be released before it is read into the archive
	_ = r.doc.Close()
	if err := r.gpkg.Close(); err != nil {
		return "", lib.ErrOutputConflict(r.layout.Container, err)
	}
	r.gpkg = nil

	archivePath, err := archive.Pack(r.layout.Dir, r.layout.JobName+ArchiveExtension, container.SidecarExtensions)
	if err != nil {
		return "", lib.WrapError(lib.CategoryFileSystem, "Failed to create archive", err,
			"Check free disk space in the output directory")
	}
	r.reporter.Milestone(ctx, progress.PackagedValue, "Processing complete")

	for _, err := range archive.Purge(r.layout.Dir, PurgeExtensions) {
		r.reporter.Warn(err.Error())
	}
	return archivePath, nil
}

func (r *run) checkpoint(ctx context.Context) error {
	if err := r.doc.Checkpoint(ctx); err != nil {
		return lib.ErrOutputConflict(r.layout.Container, err)
	}
	return nil
}

func (r *run) enter(state models.JobState) error {
	if err := lib.ValidateStatePrerequisites(r.state, state); err != nil {
		return err
	}
	r.state = models.UpdateJobState(r.state, state)
	lib.LogStateEnter(r.o.Logger, string(state), r.layout.JobName)
	r.notify(state)
	return nil
}

func (r *run) notify(state models.JobState) {
	if r.o.OnTransition != nil {
		r.o.OnTransition(state)
	}
}

// release tears down whatever the run still holds
func (r *run) release() {
	if r.doc != nil {
		_ = r.doc.Close()
	}
	if r.gpkg != nil {
		if err := r.gpkg.Close(); err != nil {
			r.o.Logger.Warn("Failed to close container", "error", err)
		}
	}
	if r.tk != nil {
		if err := r.tk.Close(); err != nil {
			r.o.Logger.Warn("Failed to close toolkit", "error", err)
		}
	}
	if r.lock != nil {
		if err := r.lock.Close(); err != nil {
			r.o.Logger.Warn("Failed to release output lock", "error", err)
		}
	}
}
