package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"modtool-go/internal/app"
	"modtool-go/internal/bundle"
	"modtool-go/internal/config"
	"modtool-go/internal/discovery"
	"modtool-go/internal/modtool"
	"modtool-go/internal/pipeline"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportedError wraps a failure that has already been shown to the user.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// reportError prints err unless a command already reported it.
func reportError(w io.Writer, err error) {
	var reported reportedError
	if errors.As(err, &reported) {
		return
	}
	fmt.Fprintln(w, errorStyle.Render("Error: "+err.Error()))
}

// newApp reads the config and creates a ModApp. The caller must defer a.Close().
func newApp(ctx context.Context, opts app.Options) (*app.ModApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewModApp(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// signalContext is cancelled on interrupt so a running export restores the
// project before exiting.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:           "modtool",
	Short:         "Export game mods from a project",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			if project, err = os.Getwd(); err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
		}
		project, err = filepath.Abs(project)
		if err != nil {
			return fmt.Errorf("resolving project: %w", err)
		}

		cfg := config.NewConfig(project, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Project:  %s\n", project)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Project:  %s\n", cfg.Project.Root)
		fmt.Printf("Mod:      %s %s\n", cfg.Export.Name, cfg.Export.Version)
		fmt.Printf("Output:   %s (%s)\n", cfg.Export.OutputDirectory, orDefault(cfg.Publish.Type, "filesystem"))
		fmt.Printf("History:  %s\n", orDefault(cfg.History.Type, "none"))
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		for _, p := range cfg.Platforms {
			fmt.Printf("Platform: %-8s %s (%s)\n", p.Name, strings.Join(p.Content, ", "), orDefault(p.Compression, "lzma"))
		}
		return nil
	},
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the configured mod",
	RunE: func(cmd *cobra.Command, args []string) error {
		resume, _ := cmd.Flags().GetBool("resume")
		discard, _ := cmd.Flags().GetBool("discard")
		yes, _ := cmd.Flags().GetBool("yes")
		verbose, _ := cmd.Flags().GetBool("verbose")
		if resume && discard {
			return errors.New("--resume and --discard are mutually exclusive")
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, app.Options{
			Operation: "Export",
			Mutating:  true,
			AssumeYes: yes,
			Verbose:   verbose,
			Console:   os.Stderr,
			Observer:  pipeline.ObserverFunc(printProgress),
		})
		if err != nil {
			return err
		}
		defer a.Close()

		if discard {
			if err := a.Discard(ctx); err != nil {
				return err
			}
			fmt.Println("Suspended export discarded; project restored.")
			return nil
		}

		var res *pipeline.Result
		if resume {
			res, err = a.Resume(ctx)
		} else {
			res, err = a.Export(ctx)
		}
		if err != nil {
			if printFailure(os.Stderr, err) {
				return reportedError{err}
			}
			return err
		}
		fmt.Println(formatSuccess(res))
		return nil
	},
}

func printProgress(e pipeline.Event) {
	switch {
	case e.State == pipeline.Suspended:
		fmt.Fprintln(os.Stderr, mutedStyle.Render("waiting for recompilation..."))
	case !e.Done && e.Index < e.Total:
		fmt.Fprintf(os.Stderr, "%s %s\n", mutedStyle.Render(fmt.Sprintf("[%d/%d]", e.Index+1, e.Total)), e.Stage)
	}
}

func formatSuccess(res *pipeline.Result) string {
	var b strings.Builder
	b.WriteString(successStyle.Render("Mod exported"))
	var platforms []string
	for _, p := range res.Platforms.Platforms() {
		platforms = append(platforms, p.String())
	}
	fmt.Fprintf(&b, "\nto %s", res.Output)
	fmt.Fprintf(&b, "\njob %s, platforms %s, %d files", res.JobID, strings.Join(platforms, ", "), len(res.Artifacts))
	for _, w := range res.Warnings {
		b.WriteString("\n" + warningStyle.Render("warning: "+w))
	}
	return noticeStyle.Render(b.String())
}

// printFailure names the stage an export failed at, if it got that far. It
// reports whether it printed anything.
func printFailure(w io.Writer, err error) bool {
	var stageErr *modtool.StageError
	var verr *modtool.VerificationError
	switch {
	case errors.Is(err, pipeline.ErrSuspended):
		fmt.Fprintln(w, warningStyle.Render("A suspended export is pending. Run `modtool export --resume` or `--discard`."))
	case errors.Is(err, modtool.ErrBusy):
		fmt.Fprintln(w, warningStyle.Render("Another export is already running."))
	case errors.As(err, &verr):
		fmt.Fprintln(w, noticeStyle.Render(errorStyle.Render("Verification failed")+"\n"+strings.Join(verr.Messages, "\n")))
	case errors.As(err, &stageErr):
		fmt.Fprintln(w, noticeStyle.Render(errorStyle.Render("Export failed at "+stageErr.Stage)+"\n"+stageErr.Err.Error()))
	default:
		return false
	}
	return true
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check compiled project code against the mod rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, app.Options{Operation: "Verify"})
		if err != nil {
			return err
		}
		defer a.Close()

		messages, err := a.Verify(ctx)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			fmt.Println(successStyle.Render("No violations found."))
			return nil
		}
		for _, m := range messages {
			fmt.Println(errorStyle.Render("✗") + " " + m)
		}
		return fmt.Errorf("%d violation(s)", len(messages))
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View export history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), app.Options{Operation: "History"})
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.GetHistory(limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No exports recorded.")
			return nil
		}

		for _, r := range records {
			duration := ""
			if !r.FinishedAt.IsZero() {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			status := r.Status
			switch r.Status {
			case modtool.StatusSuccess:
				status = successStyle.Render(status)
			case modtool.StatusError:
				status = errorStyle.Render(status)
			case modtool.StatusSuspended:
				status = warningStyle.Render(status)
			}
			fmt.Printf("%s  %-20s %-8s %s  %-10s %s\n",
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.ModName,
				r.Version,
				mutedStyle.Render(r.ID),
				status,
				duration,
			)
			if r.FailedStage != "" {
				fmt.Printf("    failed at %s: %s\n", r.FailedStage, r.Error)
			}
		}
		return nil
	},
}

// inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect PATH",
	Short: "Summarize a compiled module or an exported archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{Operation: "Inspect"})
		if err != nil {
			return err
		}
		defer a.Close()

		if app.IsArchive(args[0]) {
			return inspectArchive(a, args[0])
		}

		s, err := a.Inspect(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Println(titleStyle.Render(s.Name))
		fmt.Printf("Assemblies:  %s\n", strings.Join(s.Assemblies, ", "))
		fmt.Printf("Types:       %d (%d methods)\n", s.Types, s.Methods)
		fmt.Printf("References:  %d types, %d members\n", s.TypeRefs, s.MemberRefs)
		for _, ref := range s.ReferencesTo {
			fmt.Println("  " + mutedStyle.Render(ref))
		}
		for _, v := range s.Violations {
			fmt.Println(errorStyle.Render("✗") + " " + v)
		}
		return nil
	},
}

func inspectArchive(a *app.ModApp, path string) error {
	m, err := bundle.ReadArchiveManifest(path)
	if err != nil {
		return err
	}
	var passphrase string
	if m.Sealed {
		if passphrase, err = readPassphrase("Passphrase: "); err != nil {
			return err
		}
	}

	s, err := a.InspectArchive(path, passphrase)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render(filepath.Base(path)))
	fmt.Printf("Platform:    %s\n", s.Manifest.Platform)
	fmt.Printf("Compression: %s\n", s.Manifest.Compression)
	fmt.Printf("Sealed:      %v\n", s.Manifest.Sealed)
	for _, f := range s.Files {
		fmt.Println("  " + mutedStyle.Render(f))
	}
	return nil
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch LOCATION",
	Short: "Report mods appearing, changing or disappearing in a directory or URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, app.Options{Operation: "Watch", Console: os.Stderr})
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println(mutedStyle.Render("Watching " + args[0] + ", press Ctrl-C to stop"))
		return a.Watch(ctx, args[0], func(c discovery.Changes) {
			for _, p := range c.Added {
				fmt.Println(successStyle.Render("+ ") + p)
			}
			for _, p := range c.Changed {
				fmt.Println(warningStyle.Render("~ ") + p)
			}
			for _, p := range c.Removed {
				fmt.Println(errorStyle.Render("- ") + p)
			}
		})
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage archive sealing keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the archive sealing key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{Operation: "KeysInit"})
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return errors.New("passphrases do not match")
		}

		if err := a.SetupKeys(passphrase); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("Keys created."))
		return nil
	},
}

func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("a terminal is required to enter a passphrase")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().StringP("project", "p", "", "Project root (default: current directory)")

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().Bool("resume", false, "Continue a suspended export")
	exportCmd.Flags().Bool("discard", false, "Drop a suspended export and restore the project")
	exportCmd.Flags().BoolP("yes", "y", false, "Answer yes to every prompt")
	exportCmd.Flags().BoolP("verbose", "v", false, "Show debug output")
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of exports to show")
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(keysCmd)
}
