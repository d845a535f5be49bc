// Package pipeline runs a mod export as an ordered list of stages and
// guarantees the project is restored afterwards, whatever the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"modtool-go/internal/checkpoint"
	"modtool-go/internal/modtool"
)

// ErrSuspended is returned when a new export is requested while a checkpoint
// from a suspended export is waiting to be resumed or discarded.
var ErrSuspended = fmt.Errorf("%w: a suspended export must be resumed or discarded first", modtool.ErrBusy)

// State is the lifecycle state of the orchestrator.
type State int

const (
	Idle State = iota
	Running
	Suspended
	Completed
	Failed
	Restoring
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Restoring:
		return "restoring"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Stage is one step of an export.
type Stage interface {
	Name() string
	Execute(ctx context.Context, job *modtool.Job) error
	// ExternalResume returns the channel the pipeline waits on after the
	// last Execute, or nil when that Execute asked the host for nothing.
	ExternalResume() <-chan struct{}
}

// Event reports the progress of an export.
type Event struct {
	JobID string
	Stage string
	Index int
	Total int
	// Done is false when the stage starts and true when it ends.
	Done bool
	Err  error
	// State is the orchestrator state after the event.
	State State
}

// Observer receives progress events. It is called synchronously.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Result describes a finished export.
type Result struct {
	JobID     string
	Platforms modtool.Platform
	// Output is the location the mod was published to.
	Output    string
	Warnings  []string
	Artifacts []string
}

// Deps are the collaborators of an Orchestrator. Host, Verifier, Content,
// Archives and Publisher are required.
type Deps struct {
	Host      modtool.Host
	Verifier  modtool.Verifier
	Content   ContentFinder
	Archives  modtool.ArchiveBuilder
	Publisher modtool.Publisher

	History     modtool.History
	Checkpoints checkpoint.Store
	Clock       modtool.Clock
	IDs         modtool.IDGenerator
	Logger      modtool.Logger
	Observer    Observer

	// RemoteOutput skips the output directory existence check.
	RemoteOutput bool
}

// Orchestrator runs exports one at a time.
type Orchestrator struct {
	stages  []Stage
	restore Stage

	history     modtool.History
	checkpoints checkpoint.Store
	clock       modtool.Clock
	ids         modtool.IDGenerator
	logger      modtool.Logger
	observer    Observer

	exporting atomic.Bool

	mu    sync.Mutex
	state State
}

// New creates an Orchestrator with the standard stage list.
func New(deps Deps) *Orchestrator {
	if deps.History == nil {
		deps.History = modtool.NopHistory{}
	}
	if deps.Checkpoints == nil {
		deps.Checkpoints = checkpoint.NewMemoryStore()
	}
	if deps.Clock == nil {
		deps.Clock = modtool.RealClock{}
	}
	if deps.IDs == nil {
		deps.IDs = modtool.UUIDGenerator{}
	}
	if deps.Logger == nil {
		deps.Logger = modtool.NewNopLogger()
	}
	if deps.Observer == nil {
		deps.Observer = ObserverFunc(func(Event) {})
	}
	return &Orchestrator{
		stages:      Stages(deps),
		restore:     NewRestoreProject(deps.Host, deps.Logger),
		history:     deps.History,
		checkpoints: deps.Checkpoints,
		clock:       deps.Clock,
		ids:         deps.IDs,
		logger:      deps.Logger,
		observer:    deps.Observer,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

// StageNames lists the stages in execution order, restoration last.
func (o *Orchestrator) StageNames() []string {
	names := make([]string, 0, len(o.stages)+1)
	for _, s := range o.stages {
		names = append(names, s.Name())
	}
	return append(names, o.restore.Name())
}

// Export runs a new export. It returns ErrBusy if another export is running
// and ErrSuspended if a checkpoint is pending. Stage failures are returned
// as *modtool.StageError after the project has been restored.
func (o *Orchestrator) Export(ctx context.Context, settings modtool.Settings, layout modtool.Layout) (*Result, error) {
	if !o.exporting.CompareAndSwap(false, true) {
		return nil, modtool.ErrBusy
	}
	defer o.release()

	switch _, err := o.checkpoints.Load(); {
	case err == nil:
		return nil, ErrSuspended
	case !errors.Is(err, checkpoint.ErrNotFound):
		return nil, fmt.Errorf("checking for suspended export: %w", err)
	}

	job := modtool.NewJob(o.ids.New(), settings, layout)
	rec := &modtool.ExportRecord{
		ID:        job.ID,
		ModName:   settings.Name,
		Version:   settings.Version,
		Platforms: settings.Platforms,
		StartedAt: o.clock.Now(),
	}
	if err := o.history.StartExport(rec); err != nil {
		o.logger.Warn("recording export start failed", "error", err)
	}

	o.logger.Info("export started", "job", job.ID, "mod", settings.Name)
	return o.run(ctx, job, rec, 0)
}

// Resume continues the export stored in the checkpoint. The host work the
// export was waiting for is assumed to have completed, as it does when the
// host restarts the process after recompiling. The checkpoint is consumed.
func (o *Orchestrator) Resume(ctx context.Context) (*Result, error) {
	if !o.exporting.CompareAndSwap(false, true) {
		return nil, modtool.ErrBusy
	}
	defer o.release()

	cp, err := o.checkpoints.Load()
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	if err := o.checkpoints.Delete(); err != nil {
		return nil, fmt.Errorf("consuming checkpoint: %w", err)
	}
	if cp.NextStage < 0 || cp.NextStage > len(o.stages) {
		return nil, fmt.Errorf("checkpoint names stage %d of %d", cp.NextStage, len(o.stages))
	}

	job := cp.Job
	rec := o.record(job)
	o.logger.Info("export resumed", "job", job.ID, "stage", cp.StageName)
	return o.run(ctx, job, rec, cp.NextStage)
}

// Discard drops a pending checkpoint, restoring the project the suspended
// export had modified.
func (o *Orchestrator) Discard(ctx context.Context) error {
	if !o.exporting.CompareAndSwap(false, true) {
		return modtool.ErrBusy
	}
	defer o.release()

	cp, err := o.checkpoints.Load()
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}
	o.runRestore(ctx, cp.Job)
	if err := o.checkpoints.Delete(); err != nil {
		return fmt.Errorf("removing checkpoint: %w", err)
	}

	rec := o.record(cp.Job)
	rec.Status = modtool.StatusError
	rec.FailedStage = cp.StageName
	rec.Error = "discarded while suspended"
	o.finish(rec)
	return nil
}

// Pending returns the pending checkpoint, or checkpoint.ErrNotFound.
func (o *Orchestrator) Pending() (*checkpoint.Checkpoint, error) {
	return o.checkpoints.Load()
}

func (o *Orchestrator) release() {
	o.setState(Idle)
	o.exporting.Store(false)
}

func (o *Orchestrator) record(job *modtool.Job) *modtool.ExportRecord {
	return &modtool.ExportRecord{
		ID:        job.ID,
		ModName:   job.Settings.Name,
		Version:   job.Settings.Version,
		Platforms: job.Settings.Platforms,
	}
}

func (o *Orchestrator) run(ctx context.Context, job *modtool.Job, rec *modtool.ExportRecord, start int) (*Result, error) {
	total := len(o.stages)
	for i := start; i < total; i++ {
		stage := o.stages[i]
		o.setState(Running)
		o.emit(Event{JobID: job.ID, Stage: stage.Name(), Index: i, Total: total})
		o.logger.Debug("stage started", "job", job.ID, "stage", stage.Name())

		if err := ctx.Err(); err != nil {
			return nil, o.fail(ctx, job, rec, stage.Name(), err)
		}
		if err := stage.Execute(ctx, job); err != nil {
			o.emit(Event{JobID: job.ID, Stage: stage.Name(), Index: i, Total: total, Done: true, Err: err})
			return nil, o.fail(ctx, job, rec, stage.Name(), err)
		}

		if wait := stage.ExternalResume(); wait != nil {
			if err := o.suspend(ctx, job, rec, i+1, wait); err != nil {
				return nil, o.fail(ctx, job, rec, stage.Name(), err)
			}
		}
		o.emit(Event{JobID: job.ID, Stage: stage.Name(), Index: i, Total: total, Done: true})
	}

	o.setState(Completed)
	o.emit(Event{JobID: job.ID, Index: total, Total: total, Done: true})
	o.runRestore(ctx, job)

	rec.Status = modtool.StatusSuccess
	rec.Platforms = job.PlatformMask()
	rec.Warnings = len(job.Warnings)
	rec.Artifacts = job.Artifacts
	o.finish(rec)

	for _, w := range job.Warnings {
		o.logger.Warn(w, "job", job.ID)
	}
	o.logger.Info("export complete", "job", job.ID, "artifacts", len(job.Artifacts), "warnings", len(job.Warnings))
	return &Result{
		JobID:     job.ID,
		Platforms: job.PlatformMask(),
		Output:    job.Settings.OutputLocation(),
		Warnings:  job.Warnings,
		Artifacts: job.Artifacts,
	}, nil
}

// suspend stores a checkpoint and waits until wait is closed. The
// checkpoint is removed once the wait ends, however it ends.
func (o *Orchestrator) suspend(ctx context.Context, job *modtool.Job, rec *modtool.ExportRecord, next int, wait <-chan struct{}) error {
	cp := &checkpoint.Checkpoint{
		NextStage: next,
		StageName: o.stages[next-1].Name(),
		Job:       job,
		SavedAt:   o.clock.Now(),
	}
	if err := o.checkpoints.Save(cp); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}

	o.setState(Suspended)
	rec.Status = modtool.StatusSuspended
	o.finish(rec)
	o.emit(Event{JobID: job.ID, Stage: cp.StageName, Index: next - 1, Total: len(o.stages)})
	o.logger.Info("export suspended", "job", job.ID, "waiting_for", "recompile")

	var waitErr error
	select {
	case <-wait:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if err := o.checkpoints.Delete(); err != nil {
		o.logger.Warn("removing checkpoint failed", "error", err)
	}
	if waitErr != nil {
		return waitErr
	}
	o.setState(Running)
	return nil
}

// fail reports the failure, restores the project and returns err tied to
// the stage that raised it.
func (o *Orchestrator) fail(ctx context.Context, job *modtool.Job, rec *modtool.ExportRecord, stage string, err error) error {
	o.logger.Error("stage failed", "job", job.ID, "stage", stage, "error", err)
	o.setState(Failed)
	o.emit(Event{JobID: job.ID, Stage: stage, Index: len(o.stages), Total: len(o.stages), Done: true, Err: err})
	o.runRestore(ctx, job)

	rec.Status = modtool.StatusError
	rec.FailedStage = stage
	rec.Error = err.Error()
	rec.Warnings = len(job.Warnings)
	o.finish(rec)
	return &modtool.StageError{Stage: stage, Err: err}
}

// runRestore runs the restoration stage exactly once. It ignores ctx
// cancellation so an interrupted export still leaves a clean project.
func (o *Orchestrator) runRestore(ctx context.Context, job *modtool.Job) {
	o.setState(Restoring)
	o.emit(Event{JobID: job.ID, Stage: o.restore.Name(), Index: len(o.stages), Total: len(o.stages)})
	if err := o.restore.Execute(context.WithoutCancel(ctx), job); err != nil {
		o.logger.Error("restoring project failed", "job", job.ID, "error", err)
	}
}

func (o *Orchestrator) finish(rec *modtool.ExportRecord) {
	if rec.Status != modtool.StatusSuspended {
		rec.FinishedAt = o.clock.Now()
	}
	if err := o.history.FinishExport(rec); err != nil {
		o.logger.Warn("recording export result failed", "job", rec.ID, "error", err)
	}
}

func (o *Orchestrator) emit(e Event) {
	e.State = o.State()
	o.observer.OnEvent(e)
}
