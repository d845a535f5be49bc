package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"modtool-go/internal/bundle"
	"modtool-go/internal/catalog"
	"modtool-go/internal/checkpoint"
	"modtool-go/internal/config"
	"modtool-go/internal/database"
	"modtool-go/internal/discovery"
	"modtool-go/internal/encryption"
	"modtool-go/internal/host"
	"modtool-go/internal/modtool"
	"modtool-go/internal/module"
	"modtool-go/internal/pipeline"
	"modtool-go/internal/publish"
	"modtool-go/internal/verify"
)

// Options tune how a ModApp is built for one CLI command.
type Options struct {
	// Operation names the CLI command being run (e.g. "Export", "History").
	Operation string
	// Mutating marks commands that record exports.
	Mutating bool

	AssumeYes bool
	Verbose   bool
	// Console receives human-readable log output. nil logs to file only.
	Console io.Writer
	// In and Out are used for host prompts. nil uses stdin and stderr.
	In  io.Reader
	Out io.Writer

	Observer pipeline.Observer
}

// ModApp is the application layer between the CLI and the export pipeline.
// It constructs all dependencies from config, exposes high-level operations
// and manages the history database lifecycle on Close.
type ModApp struct {
	cfg    *config.Config
	layout modtool.Layout

	host         *host.Headless
	history      modtool.History
	closeHistory func() error
	encryptor    modtool.Encryptor
	verifier     *verify.Verifier
	content      *catalog.Catalog
	orchestrator *pipeline.Orchestrator

	logger  modtool.Logger
	op      *Operation
	logFile *os.File
}

// NewModApp creates a fully wired ModApp from the given config.
// The caller must call Close when done.
func NewModApp(ctx context.Context, cfg *config.Config, opts Options) (*ModApp, error) {
	if cfg.Project.Root == "" {
		return nil, fmt.Errorf("no project root configured")
	}
	root, err := filepath.Abs(cfg.Project.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	layout := modtool.NewLayout(root)

	op := NewOperation(opts.Operation, opts.Mutating, time.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.Console, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &ModApp{cfg: cfg, layout: layout, logger: logger, op: op, logFile: logFile}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *ModApp) wire(ctx context.Context, opts Options) error {
	cfg := a.cfg

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	history, closeHistory, err := database.NewHistoryFromConfig(cfg.History, modtool.RealClock{})
	a.closeHistory = closeHistory
	if err != nil {
		return fmt.Errorf("creating history: %w", err)
	}
	if m, ok := history.(interface{ CheckMigrations() error }); ok {
		if err := m.CheckMigrations(); err != nil {
			return fmt.Errorf("history schema out of date: %w", err)
		}
	}
	a.history = history

	checkpoints, err := checkpoint.NewStoreFromConfig(cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("creating checkpoint store: %w", err)
	}

	publisher, err := publish.NewPublisherFromConfig(ctx, cfg.Publish, a.logger)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}

	rules := verify.DefaultRules()
	if cfg.Verify.RulesPath != "" {
		if rules, err = verify.LoadRules(cfg.Verify.RulesPath); err != nil {
			return err
		}
	}
	a.verifier = verify.New(rules, a.logger)

	patterns, err := catalog.ParseIgnoreFile(filepath.Join(a.layout.ProjectRoot, catalog.IgnoreFile))
	if err != nil {
		return err
	}
	a.content = catalog.New(catalog.NewFSIndex(a.layout.AssetsDir), catalog.NewIgnoreMatcher(patterns), a.logger)

	var sealer modtool.Sealer
	if enc != nil {
		sealer = enc
	}

	a.host = host.New(host.Options{
		ToolchainVersion: cfg.Host.ToolchainVersion,
		ActiveScene:      cfg.Host.ActiveScene,
		CompileCommand:   cfg.Host.CompileCommand,
		Dir:              a.layout.ProjectRoot,
		AssumeYes:        opts.AssumeYes || cfg.Host.AssumeYes,
		In:               opts.In,
		Out:              opts.Out,
	}, a.logger)

	a.orchestrator = pipeline.New(pipeline.Deps{
		Host:         a.host,
		Verifier:     a.verifier,
		Content:      a.content,
		Archives:     bundle.NewArchiver(a.layout.ProjectRoot, sealer, a.logger),
		Publisher:    publisher,
		History:      history,
		Checkpoints:  checkpoints,
		Logger:       a.logger,
		Observer:     opts.Observer,
		RemoteOutput: publish.IsRemote(cfg.Publish),
	})
	return nil
}

// Settings returns the export settings built from config.
func (a *ModApp) Settings() (modtool.Settings, error) {
	return SettingsFromConfig(a.cfg, a.host.ToolchainVersion())
}

// Export runs a new export of the configured mod.
func (a *ModApp) Export(ctx context.Context) (*pipeline.Result, error) {
	settings, err := a.Settings()
	if err != nil {
		return nil, a.op.Fail(fmt.Errorf("reading export settings: %w", err))
	}
	res, err := a.orchestrator.Export(ctx, settings, a.layout)
	return res, a.op.Fail(err)
}

// Resume continues a suspended export.
func (a *ModApp) Resume(ctx context.Context) (*pipeline.Result, error) {
	res, err := a.orchestrator.Resume(ctx)
	return res, a.op.Fail(err)
}

// Discard drops a suspended export and restores the project.
func (a *ModApp) Discard(ctx context.Context) error {
	return a.op.Fail(a.orchestrator.Discard(ctx))
}

// Pending returns the suspended export, or nil if there is none.
func (a *ModApp) Pending() (*checkpoint.Checkpoint, error) {
	cp, err := a.orchestrator.Pending()
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	return cp, err
}

// StageNames lists the export stages in order.
func (a *ModApp) StageNames() []string {
	return a.orchestrator.StageNames()
}

// Verify checks the project's compiled modules against the verification
// rules without exporting anything.
func (a *ModApp) Verify(ctx context.Context) ([]string, error) {
	settings, err := a.Settings()
	if err != nil {
		return nil, err
	}
	job := modtool.NewJob("verify", settings, a.layout)
	assemblies, err := a.content.Assemblies(ctx, job)
	if err != nil {
		return nil, err
	}
	return a.verifier.Verify(ctx, catalog.ModulePaths(assemblies))
}

// GetHistory returns the most recent exports.
func (a *ModApp) GetHistory(limit int) ([]*modtool.ExportRecord, error) {
	return a.history.ListExports(limit)
}

// ModuleSummary describes a compiled module.
type ModuleSummary struct {
	Name         string
	Assemblies   []string
	Types        int
	Methods      int
	TypeRefs     int
	MemberRefs   int
	Violations   []string
	ReferencesTo []string
}

// Inspect reads a compiled module and checks it against the verification
// rules.
func (a *ModApp) Inspect(ctx context.Context, path string) (*ModuleSummary, error) {
	m, err := module.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading module: %w", err)
	}
	s := &ModuleSummary{Name: m.Name, TypeRefs: len(m.TypeRefs), MemberRefs: len(m.MemberRefs)}
	for _, r := range m.AssemblyRefs {
		s.Assemblies = append(s.Assemblies, r.Name)
	}
	for _, r := range m.TypeRefs {
		s.ReferencesTo = append(s.ReferencesTo, r.FullName())
	}
	var count func([]*module.TypeDef)
	count = func(types []*module.TypeDef) {
		for _, t := range types {
			s.Types++
			s.Methods += len(t.Methods)
			count(t.Nested)
		}
	}
	count(m.Types)

	if s.Violations, err = a.verifier.Verify(ctx, []string{path}); err != nil {
		return nil, err
	}
	return s, nil
}

// ArchiveSummary describes a content archive produced by an export.
type ArchiveSummary struct {
	Manifest bundle.ArchiveManifest
	Files    []string
}

// IsArchive reports whether path has the manifest every exported archive is
// written with.
func IsArchive(path string) bool {
	_, err := os.Stat(path + bundle.ManifestExt)
	return err == nil
}

// InspectArchive lists the entries of an exported archive. A sealed archive
// is opened with the private key unlocked by passphrase.
func (a *ModApp) InspectArchive(path, passphrase string) (*ArchiveSummary, error) {
	m, err := bundle.ReadArchiveManifest(path)
	if err != nil {
		return nil, err
	}

	var dec modtool.DecryptionContext
	if m.Sealed {
		if a.encryptor == nil {
			return nil, fmt.Errorf("%s is sealed but encryption is disabled", path)
		}
		if dec, err = a.encryptor.Unlock(passphrase); err != nil {
			return nil, fmt.Errorf("unlocking private key: %w", err)
		}
	}

	archive, err := bundle.OpenArchive(path, dec)
	if err != nil {
		return nil, err
	}
	s := &ArchiveSummary{Manifest: m}
	for _, f := range archive.Files {
		s.Files = append(s.Files, f.Name)
	}
	return s, nil
}

// SetupKeys creates the archive sealing key pair.
func (a *ModApp) SetupKeys(passphrase string) error {
	if a.encryptor == nil {
		return fmt.Errorf("encryption is disabled; set [encryption] type = \"age\"")
	}
	return a.encryptor.Setup(passphrase)
}

// Watch polls location for mods until ctx ends, calling fn with every set
// of changes. Remote locations are mirrored under the base directory.
func (a *ModApp) Watch(ctx context.Context, location string, fn func(discovery.Changes)) error {
	src, err := discovery.NewSource(location, filepath.Join(a.cfg.BaseDir, "cache"))
	if err != nil {
		return err
	}

	interval := discovery.DefaultInterval
	if a.cfg.Discovery.Interval != "" {
		if interval, err = time.ParseDuration(a.cfg.Discovery.Interval); err != nil {
			return fmt.Errorf("parsing discovery interval: %w", err)
		}
	}
	_, local := src.(*discovery.LocalSource)

	w := discovery.NewWatcher(src, discovery.Options{
		Interval: interval,
		Notify:   a.cfg.Discovery.Notify && local,
		Logger:   a.logger,
	})
	w.Start(ctx)
	for c := range w.Changes() {
		fn(c)
	}
	return w.Stop()
}

// Close releases all resources. For mutating operations the history
// database is first snapshotted next to itself.
func (a *ModApp) Close() error {
	var firstErr error

	if a.op.Mutating && a.history != nil {
		if b, ok := a.history.(interface{ BackupTo(string) error }); ok && a.cfg.History.DataDir != "" {
			dest := filepath.Join(a.cfg.History.DataDir, database.HistoryFile+".bak")
			tmp := dest + ".tmp"
			os.Remove(tmp)
			if err := b.BackupTo(tmp); err != nil {
				firstErr = fmt.Errorf("backing up history: %w", err)
			} else if err := os.Rename(tmp, dest); err != nil {
				firstErr = fmt.Errorf("backing up history: %w", err)
			}
		}
	}

	if a.closeHistory != nil {
		if err := a.closeHistory(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing history: %w", err)
		}
	}

	a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status)
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
