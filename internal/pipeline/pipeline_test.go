package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modtool-go/internal/bundle"
	"modtool-go/internal/catalog"
	"modtool-go/internal/checkpoint"
	"modtool-go/internal/modtool"
	"modtool-go/internal/module"
	"modtool-go/internal/publish"
	"modtool-go/internal/testutil"
)

// fakeHost tracks scene calls and simulates recompilation by writing the
// mod's module into the compiled directory. Refresh removes what the
// recompilation produced, as a real host does once the descriptors are gone.
type fakeHost struct {
	mu         sync.Mutex
	version    string
	scene      string
	decline    bool
	gate       chan struct{}
	hold       bool
	produce    []string
	produced   []string
	compileErr error
	opened     []string
	refreshes  int
	requests   []chan struct{}
}

var _ modtool.Host = (*fakeHost)(nil)

func newFakeHost(scene string) *fakeHost {
	return &fakeHost{version: "2022.3", scene: scene}
}

func (h *fakeHost) ToolchainVersion() string { return h.version }

func (h *fakeHost) ActiveScene() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scene
}

func (h *fakeHost) SaveModifiedScenes(ctx context.Context) (bool, error) {
	if h.gate != nil {
		select {
		case <-h.gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return !h.decline, nil
}

func (h *fakeHost) NewEmptyScene() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scene = ""
	return nil
}

func (h *fakeHost) OpenScene(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scene = path
	h.opened = append(h.opened, path)
	return nil
}

// RequestRecompile finishes at once unless hold is set, in which case the
// request stays open until complete is called with its index.
func (h *fakeHost) RequestRecompile(context.Context) (<-chan struct{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.produce {
		if err := module.New(filepath.Base(p)).WriteFile(p); err != nil {
			return nil, err
		}
		h.produced = append(h.produced, p)
	}
	done := make(chan struct{})
	h.requests = append(h.requests, done)
	if !h.hold {
		close(done)
	}
	return done, nil
}

func (h *fakeHost) complete(i int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	close(h.requests[i])
}

func (h *fakeHost) CompileError() error { return h.compileErr }

func (h *fakeHost) Refresh() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshes++
	for _, p := range h.produced {
		os.Remove(p)
	}
	h.produced = nil
	return nil
}

type fakeVerifier struct {
	messages []string
	checked  []string
}

func (v *fakeVerifier) Verify(_ context.Context, modules []string) ([]string, error) {
	v.checked = modules
	return v.messages, nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, string, string) error {
	return &modtool.IOError{Op: "copying", Path: "/out", Err: os.ErrPermission}
}

// failAfter runs the wrapped stage, then fails, so every mutation the stage
// makes is in place when restoration runs.
type failAfter struct {
	Stage
	err error
}

func (f *failAfter) Execute(ctx context.Context, job *modtool.Job) error {
	if err := f.Stage.Execute(ctx, job); err != nil {
		return err
	}
	return f.err
}

func (f *failAfter) ExternalResume() <-chan struct{} { return nil }

type env struct {
	project     *testutil.Project
	settings    modtool.Settings
	host        *fakeHost
	verifier    *fakeVerifier
	history     *testutil.MemoryHistory
	checkpoints *checkpoint.MemoryStore
	output      string
	events      []Event
	deps        Deps
}

// newEnv builds a project with a prefab, a scene, loose scripts compiled
// into the default module and an editor script folder.
func newEnv(t *testing.T) *env {
	t.Helper()
	p := testutil.NewProject(t)
	p.WriteAsset("Assets/Props/Crate.prefab", "crate", "")
	p.WriteAsset("Assets/Props/Barrel.prefab", "barrel", "props")
	p.WriteAsset("Assets/Levels/Dock.unity", "dock", "")
	p.Write("Assets/Scripts/Crate.cs", "class Crate {}")
	p.Write("Assets/Tools/Editor/CrateInspector.cs", "class CrateInspector {}")
	if err := module.New(asmdefDefault).WriteFile(p.Path("Library/ScriptAssemblies/Assembly-CSharp.dll")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	output := t.TempDir()
	settings := modtool.Settings{
		Name:      "Crate Mod",
		Author:    "me",
		Version:   "1.0",
		Platforms: modtool.Windows | modtool.Linux,
		Content: map[modtool.Platform]modtool.Content{
			modtool.Windows: modtool.Scenes | modtool.Assets | modtool.Code,
			modtool.Linux:   modtool.Assets,
		},
		Compression: map[modtool.Platform]modtool.Compression{
			modtool.Windows: modtool.LZ4,
			modtool.Linux:   modtool.Uncompressed,
		},
		OutputDirectory: output,
	}

	host := newFakeHost("Assets/Levels/Dock.unity")
	host.produce = []string{p.Path("Library/ScriptAssemblies/CrateMod.dll")}

	e := &env{
		project:     p,
		settings:    settings,
		host:        host,
		verifier:    &fakeVerifier{},
		history:     testutil.NewMemoryHistory(),
		checkpoints: checkpoint.NewMemoryStore(),
		output:      output,
	}
	logger := modtool.NewNopLogger()
	e.deps = Deps{
		Host:        host,
		Verifier:    e.verifier,
		Content:     catalog.New(catalog.NewFSIndex(p.Layout.AssetsDir), nil, logger),
		Archives:    bundle.NewArchiver(p.Root, nil, logger),
		Publisher:   publish.NewFileSystemPublisher(logger),
		History:     e.history,
		Checkpoints: e.checkpoints,
		Clock:       testutil.FixedClock(),
		IDs:         testutil.NewStubIDGenerator(),
		Logger:      logger,
		Observer:    ObserverFunc(func(ev Event) { e.events = append(e.events, ev) }),
	}
	return e
}

const asmdefDefault = "Assembly-CSharp"

func (e *env) export(t *testing.T, o *Orchestrator) (*Result, error) {
	t.Helper()
	return o.Export(context.Background(), e.settings, e.project.Layout)
}

func assertRestored(t *testing.T, before, after map[string]string) {
	t.Helper()
	if diff := testutil.DiffTrees(before, after); len(diff) > 0 {
		t.Errorf("project not restored: %v", diff)
	}
}

func TestOrchestrator_Export_HappyPath(t *testing.T) {
	e := newEnv(t)
	before := e.project.Hash()
	o := New(e.deps)

	res, err := e.export(t, o)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	t.Run("project unchanged", func(t *testing.T) {
		assertRestored(t, before, e.project.Hash())
	})

	t.Run("output layout", func(t *testing.T) {
		modDir := filepath.Join(e.output, "Crate Mod")
		for _, rel := range []string{
			"Crate Mod.rootinfo",
			"Windows/Crate Mod.info",
			"Windows/CrateMod.dll",
			"Windows/Assembly-CSharp.dll",
			"Windows/Windows/Windows",
			"Windows/Windows/Windows.manifest",
			"Windows/Windows/crate mod.assets",
			"Windows/Windows/crate mod.scenes",
			"Linux/Crate Mod.info",
			"Linux/Linux/Linux",
			"Linux/Linux/crate mod.assets",
		} {
			if _, err := os.Stat(filepath.Join(modDir, filepath.FromSlash(rel))); err != nil {
				t.Errorf("missing %s", rel)
			}
		}
		for _, rel := range []string{"Linux/CrateMod.dll", "Linux/Linux/crate mod.scenes"} {
			if _, err := os.Stat(filepath.Join(modDir, filepath.FromSlash(rel))); err == nil {
				t.Errorf("unexpected %s", rel)
			}
		}
	})

	t.Run("root info", func(t *testing.T) {
		info, err := modtool.ReadRootInfo(filepath.Join(e.output, "Crate Mod", "Crate Mod.rootinfo"))
		if err != nil {
			t.Fatalf("ReadRootInfo() error = %v", err)
		}
		if info.Platforms != modtool.Windows|modtool.Linux {
			t.Errorf("Platforms = %v", info.Platforms)
		}
	})

	t.Run("manifest records toolchain", func(t *testing.T) {
		m, err := modtool.ReadManifest(filepath.Join(e.output, "Crate Mod", "Windows", "Crate Mod.info"))
		if err != nil {
			t.Fatalf("ReadManifest() error = %v", err)
		}
		if m.ToolchainVersion != "2022.3" || m.Content != modtool.Scenes|modtool.Assets|modtool.Code {
			t.Errorf("manifest = %+v", m)
		}
	})

	t.Run("scene reopened", func(t *testing.T) {
		if e.host.ActiveScene() != "Assets/Levels/Dock.unity" {
			t.Errorf("ActiveScene() = %q", e.host.ActiveScene())
		}
	})

	t.Run("result and history", func(t *testing.T) {
		if res.JobID != "job-1" || len(res.Warnings) != 0 {
			t.Errorf("result = %+v", res)
		}
		if want := filepath.Join(e.output, "Crate Mod"); res.Output != want {
			t.Errorf("Output = %q, want %q", res.Output, want)
		}
		rec, ok := e.history.Get("job-1")
		if !ok {
			t.Fatal("no history record")
		}
		if rec.Status != modtool.StatusSuccess || len(rec.Artifacts) == 0 {
			t.Errorf("record = %+v", rec)
		}
	})

	t.Run("suspended once and checkpoint consumed", func(t *testing.T) {
		suspended := 0
		for _, ev := range e.events {
			if ev.State == Suspended {
				suspended++
			}
		}
		if suspended != 1 {
			t.Errorf("suspended events = %d, want 1", suspended)
		}
		if _, err := e.checkpoints.Load(); !errors.Is(err, checkpoint.ErrNotFound) {
			t.Errorf("checkpoint left behind: %v", err)
		}
	})

	t.Run("back to idle", func(t *testing.T) {
		if o.State() != Idle {
			t.Errorf("State() = %s, want idle", o.State())
		}
	})
}

func TestOrchestrator_Export_VerificationFailure(t *testing.T) {
	e := newEnv(t)
	e.verifier.messages = []string{"Assembly-CSharp: System.IO.File is not allowed"}
	before := e.project.Hash()

	_, err := e.export(t, New(e.deps))

	var stageErr *modtool.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageVerify {
		t.Fatalf("Export() error = %v, want Verify stage error", err)
	}
	var verr *modtool.VerificationError
	if !errors.As(err, &verr) || len(verr.Messages) != 1 {
		t.Errorf("error = %v, want VerificationError", err)
	}
	if len(e.verifier.checked) != 1 {
		t.Errorf("verified modules = %v", e.verifier.checked)
	}
	if e.project.Exists("Backup") {
		t.Error("backup directory created")
	}
	if entries, _ := os.ReadDir(e.output); len(entries) != 0 {
		t.Errorf("output written: %d entries", len(entries))
	}
	assertRestored(t, before, e.project.Hash())

	rec, _ := e.history.Get("job-1")
	if rec.Status != modtool.StatusError || rec.FailedStage != StageVerify {
		t.Errorf("record = %+v", rec)
	}
}

func TestOrchestrator_Export_FailureAtEveryStage(t *testing.T) {
	names := New(newEnv(t).deps).StageNames()
	for i, name := range names[:len(names)-1] {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			before := e.project.Hash()
			o := New(e.deps)
			boom := errors.New("injected failure")
			o.stages[i] = &failAfter{Stage: o.stages[i], err: boom}

			_, err := e.export(t, o)

			var stageErr *modtool.StageError
			if !errors.As(err, &stageErr) || stageErr.Stage != name {
				t.Fatalf("Export() error = %v, want %s stage error", err, name)
			}
			if !errors.Is(err, boom) {
				t.Errorf("error = %v, want cause preserved", err)
			}
			assertRestored(t, before, e.project.Hash())
			if o.State() != Idle {
				t.Errorf("State() = %s, want idle", o.State())
			}
			if _, err := e.checkpoints.Load(); !errors.Is(err, checkpoint.ErrNotFound) {
				t.Errorf("checkpoint left behind: %v", err)
			}

			restored := 0
			for _, ev := range e.events {
				if ev.Stage == StageRestoreProject {
					restored++
				}
			}
			if restored != 1 {
				t.Errorf("restore ran %d times, want 1", restored)
			}
		})
	}
}

func TestOrchestrator_Export_PublishFailureIsWarning(t *testing.T) {
	e := newEnv(t)
	e.deps.Publisher = failingPublisher{}
	before := e.project.Hash()

	res, err := e.export(t, New(e.deps))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one", res.Warnings)
	}
	assertRestored(t, before, e.project.Hash())
	if !e.project.Exists("Temp/ModDirectory/Crate Mod.rootinfo") {
		t.Error("staged build missing")
	}
	rec, _ := e.history.Get(res.JobID)
	if rec.Status != modtool.StatusSuccess || rec.Warnings != 1 {
		t.Errorf("record = %+v", rec)
	}
}

func TestOrchestrator_Export_UserCancelled(t *testing.T) {
	e := newEnv(t)
	e.host.decline = true

	_, err := e.export(t, New(e.deps))

	var cancelled *modtool.UserCancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("Export() error = %v, want UserCancelledError", err)
	}
	var stageErr *modtool.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageStartExport {
		t.Errorf("stage = %v, want %s", err, StageStartExport)
	}
	if len(e.host.opened) != 1 || e.host.opened[0] != "Assets/Levels/Dock.unity" {
		t.Errorf("opened scenes = %v", e.host.opened)
	}
}

func TestOrchestrator_Export_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(e *env)
		stage  string
	}{
		{
			name:   "toolchain mismatch",
			modify: func(e *env) { e.settings.RequiredToolchain = "2019.4" },
			stage:  StageVerify,
		},
		{
			name:   "missing output directory",
			modify: func(e *env) { e.settings.OutputDirectory = filepath.Join(e.output, "missing") },
			stage:  StageVerify,
		},
		{
			name: "platform without content",
			modify: func(e *env) {
				e.settings.Supported = map[modtool.Platform]modtool.Content{modtool.Windows: modtool.Assets}
			},
			stage: StageSetupSettings,
		},
		{
			name: "content pruned away",
			modify: func(e *env) {
				e.settings.Content[modtool.Linux] = modtool.Scenes
				e.settings.SharedAssets = []string{"Assets/Levels/**"}
			},
			stage: StageFindContent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			tt.modify(e)
			before := e.project.Hash()

			_, err := e.export(t, New(e.deps))

			var pre *modtool.PreconditionError
			if !errors.As(err, &pre) {
				t.Fatalf("Export() error = %v, want PreconditionError", err)
			}
			var stageErr *modtool.StageError
			if !errors.As(err, &stageErr) || stageErr.Stage != tt.stage {
				t.Errorf("stage = %v, want %s", err, tt.stage)
			}
			assertRestored(t, before, e.project.Hash())
		})
	}
}

func TestOrchestrator_Export_WithoutCode(t *testing.T) {
	e := newEnv(t)
	e.settings.Content[modtool.Windows] = modtool.Assets | modtool.Scenes
	o := New(e.deps)

	if _, err := e.export(t, o); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	for _, ev := range e.events {
		if ev.State == Suspended {
			t.Error("export suspended without code")
		}
	}
	if _, err := os.Stat(filepath.Join(e.output, "Crate Mod", "Windows", "Assembly-CSharp.dll")); err == nil {
		t.Error("module published without code target")
	}
	if e.project.Exists("Assets/CrateMod.asmdef") {
		t.Error("descriptor left behind")
	}
}

func TestOrchestrator_Export_Busy(t *testing.T) {
	e := newEnv(t)
	e.host.gate = make(chan struct{})
	o := New(e.deps)

	done := make(chan error, 1)
	go func() {
		_, err := e.export(t, o)
		done <- err
	}()

	deadline := time.Now().Add(10 * time.Second)
	for o.State() != Running {
		if time.Now().After(deadline) {
			t.Fatal("export never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := o.Export(context.Background(), e.settings, e.project.Layout); !errors.Is(err, modtool.ErrBusy) {
		t.Errorf("second Export() error = %v, want ErrBusy", err)
	}
	if _, err := o.Resume(context.Background()); !errors.Is(err, modtool.ErrBusy) {
		t.Errorf("Resume() error = %v, want ErrBusy", err)
	}

	close(e.host.gate)
	if err := <-done; err != nil {
		t.Fatalf("first Export() error = %v", err)
	}
	if o.State() != Idle {
		t.Errorf("State() = %s, want idle", o.State())
	}
}

func TestOrchestrator_Export_CancelledWhileSuspended(t *testing.T) {
	e := newEnv(t)
	e.host.hold = true
	before := e.project.Hash()
	ctx, cancel := context.WithCancel(context.Background())
	e.deps.Observer = ObserverFunc(func(ev Event) {
		if ev.State == Suspended {
			if !e.project.Exists("Assets/CrateMod.asmdef") {
				t.Error("descriptor missing while suspended")
			}
			if _, err := e.checkpoints.Load(); err != nil {
				t.Errorf("no checkpoint while suspended: %v", err)
			}
			cancel()
		}
	})

	_, err := New(e.deps).Export(ctx, e.settings, e.project.Layout)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Export() error = %v, want context.Canceled", err)
	}
	var stageErr *modtool.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageCreateAssemblies {
		t.Errorf("stage = %v, want %s", err, StageCreateAssemblies)
	}
	assertRestored(t, before, e.project.Hash())
	if _, err := e.checkpoints.Load(); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("checkpoint left behind: %v", err)
	}
}

func TestOrchestrator_Export_WaitsForOwnRecompile(t *testing.T) {
	e := newEnv(t)
	e.host.hold = true
	before := e.project.Hash()

	var phase int
	var reloaded atomic.Bool
	resumedEarly := make(chan bool, 1)
	ctx, cancel := context.WithCancel(context.Background())
	e.deps.Observer = ObserverFunc(func(ev Event) {
		switch {
		case phase == 1 && ev.State == Suspended:
			cancel()
		case phase == 2 && ev.State == Suspended:
			go func() {
				// The cancelled export's compile finishes late.
				e.host.complete(0)
				time.Sleep(200 * time.Millisecond)
				resumedEarly <- reloaded.Load()
				e.host.complete(1)
			}()
		case phase == 2 && ev.Stage == StageReloadAssemblies && !ev.Done:
			reloaded.Store(true)
		}
	})
	o := New(e.deps)

	phase = 1
	if _, err := o.Export(ctx, e.settings, e.project.Layout); !errors.Is(err, context.Canceled) {
		t.Fatalf("first Export() error = %v, want context.Canceled", err)
	}

	phase = 2
	if _, err := e.export(t, o); err != nil {
		t.Fatalf("second Export() error = %v", err)
	}
	if <-resumedEarly {
		t.Error("second export resumed on the first export's recompile")
	}
	if len(e.host.requests) != 2 {
		t.Errorf("recompile requests = %d, want 2", len(e.host.requests))
	}
	assertRestored(t, before, e.project.Hash())
}

// states collapses the event stream into the distinct states it passed
// through, in order.
func states(events []Event) []State {
	var out []State
	for _, ev := range events {
		if len(out) == 0 || out[len(out)-1] != ev.State {
			out = append(out, ev.State)
		}
	}
	return out
}

func TestOrchestrator_Export_StateSequence(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		e := newEnv(t)
		o := New(e.deps)
		if _, err := e.export(t, o); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		want := []State{Running, Suspended, Running, Completed, Restoring}
		if got := states(e.events); !reflect.DeepEqual(got, want) {
			t.Errorf("states = %v, want %v", got, want)
		}
		if o.State() != Idle {
			t.Errorf("State() = %s, want idle", o.State())
		}
	})

	t.Run("failure", func(t *testing.T) {
		e := newEnv(t)
		e.verifier.messages = []string{"Assembly-CSharp: System.IO.File is not allowed"}
		o := New(e.deps)
		if _, err := e.export(t, o); err == nil {
			t.Fatal("Export() expected error")
		}
		want := []State{Running, Failed, Restoring}
		if got := states(e.events); !reflect.DeepEqual(got, want) {
			t.Errorf("states = %v, want %v", got, want)
		}
		if o.State() != Idle {
			t.Errorf("State() = %s, want idle", o.State())
		}
	})
}

// suspendedJob runs the stages up to and including CreateAssemblies by hand
// and stores the checkpoint a process would leave behind when the host
// restarts it.
func suspendedJob(t *testing.T, e *env) {
	t.Helper()
	o := New(e.deps)
	job := modtool.NewJob("job-7", e.settings, e.project.Layout)
	for i, stage := range o.stages {
		if err := stage.Execute(context.Background(), job); err != nil {
			t.Fatalf("%s error = %v", stage.Name(), err)
		}
		if stage.ExternalResume() != nil {
			cp := &checkpoint.Checkpoint{NextStage: i + 1, StageName: stage.Name(), Job: job}
			if err := e.checkpoints.Save(cp); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			return
		}
	}
	t.Fatal("no stage suspended")
}

func TestOrchestrator_Resume(t *testing.T) {
	e := newEnv(t)
	before := e.project.Hash()
	suspendedJob(t, e)

	o := New(e.deps)

	t.Run("new export blocked by checkpoint", func(t *testing.T) {
		_, err := e.export(t, o)
		if !errors.Is(err, ErrSuspended) || !errors.Is(err, modtool.ErrBusy) {
			t.Errorf("Export() error = %v, want ErrSuspended", err)
		}
	})

	t.Run("resume completes export", func(t *testing.T) {
		res, err := o.Resume(context.Background())
		if err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		if res.JobID != "job-7" {
			t.Errorf("JobID = %q, want job-7", res.JobID)
		}
		if _, err := os.Stat(filepath.Join(e.output, "Crate Mod", "Windows", "CrateMod.dll")); err != nil {
			t.Errorf("rewritten mod module not published: %v", err)
		}
		assertRestored(t, before, e.project.Hash())
	})

	t.Run("checkpoint consumed", func(t *testing.T) {
		if _, err := o.Pending(); !errors.Is(err, checkpoint.ErrNotFound) {
			t.Errorf("Pending() error = %v, want ErrNotFound", err)
		}
		if _, err := o.Resume(context.Background()); err == nil {
			t.Error("second Resume() expected error")
		}
	})
}

func TestOrchestrator_Discard(t *testing.T) {
	e := newEnv(t)
	before := e.project.Hash()
	suspendedJob(t, e)

	if !e.project.Exists("Assets/CrateMod.asmdef") {
		t.Fatal("fixture did not create descriptor")
	}

	o := New(e.deps)
	if err := o.Discard(context.Background()); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	assertRestored(t, before, e.project.Hash())
	if _, err := o.Pending(); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("Pending() error = %v, want ErrNotFound", err)
	}
	rec, _ := e.history.Get("job-7")
	if rec.Status != modtool.StatusError {
		t.Errorf("record = %+v", rec)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		Idle:      "idle",
		Running:   "running",
		Suspended: "suspended",
		Completed: "completed",
		Failed:    "failed",
		Restoring: "restoring",
		State(42): "state(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
