package dotmatrix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/opnlabs/dotmatrix/pkg/artifacts"
	"github.com/opnlabs/dotmatrix/pkg/models"
	"github.com/opnlabs/dotmatrix/pkg/pipeline"
	"github.com/opnlabs/dotmatrix/pkg/report"
	"github.com/opnlabs/dotmatrix/pkg/runner"
	"github.com/opnlabs/dotmatrix/pkg/status"
	"github.com/opnlabs/dotmatrix/pkg/workspace"
	"github.com/spf13/cobra"
)

const (
	backendShell  = "shell"
	backendDocker = "docker"
)

var errBuildFailed = errors.New("build failed")

type rootFlags struct {
	jobFilePath       string
	src               string
	backend           string
	image             string
	shell             string
	parallel          int
	timeout           time.Duration
	commandTimeout    time.Duration
	envVars           []string
	supported         []string
	keepWorkspace     bool
	buildDir          string
	artifactsDir      string
	collect           []string
	resultsPath       string
	statusAddr        string
	smtpAddr          string
	smtpFrom          string
	mountDockerSocket bool
	showImagePull     bool
	username          string
	password          string
	logLevel          string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "dotmatrix",
		Short: "dotmatrix runs Travis style pipelines locally",
		Long: `dotmatrix runs the pipeline defined in a file ( default .travis.yml ) once for every
interpreter version it lists. Each matrix cell gets its own copy of the project and runs
before_install, install and script in order, stopping at the first failing command.
after_success only runs for cells whose script passed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.jobFilePath, "job-file-path", "f", ".travis.yml", "Path to the pipeline file.")
	pf.StringVar(&flags.backend, "backend", backendShell, "Where cells run: shell or docker.")
	pf.StringVar(&flags.image, "image", runner.DefaultImageTemplate, "Image template for the docker backend. {language} and {version} are replaced.")
	pf.StringSliceVar(&flags.supported, "supported", nil, "Interpreter versions allowed in the pipeline file. Empty allows any.")
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn or error.")

	f := rootCmd.Flags()
	f.StringVar(&flags.src, "src", ".", "Project directory copied into every cell.")
	f.StringVar(&flags.shell, "shell", "bash", "Shell used to run commands.")
	f.IntVar(&flags.parallel, "parallel", 0, "Maximum number of cells running at once. 0 runs all cells at once.")
	f.DurationVar(&flags.timeout, "timeout", time.Hour, "Timeout for a whole cell.")
	f.DurationVar(&flags.commandTimeout, "command-timeout", 0, "Timeout for a single command. 0 disables it.")
	f.StringArrayVarP(&flags.envVars, "environment-variable", "e", make([]string, 0), "Environment variables. KEY=VALUE")
	f.BoolVar(&flags.keepWorkspace, "keep-workspace", false, "Keep cell workspaces after the run.")
	f.StringVar(&flags.buildDir, "build-dir", ".dotmatrix", "Directory holding cell workspaces and build logs.")
	f.StringVar(&flags.artifactsDir, "artifacts-dir", ".artifacts", "Directory collected coverage files are copied to.")
	f.StringSliceVar(&flags.collect, "collect", artifacts.DefaultPatterns, "File name patterns collected from a cell after its script phase.")
	f.StringVar(&flags.resultsPath, "results", "", "Write JSON lines results to this file.")
	f.StringVar(&flags.statusAddr, "status-addr", "", "Serve live cell status over HTTP on this address.")
	f.StringVar(&flags.smtpAddr, "smtp-addr", "", "SMTP server host:port for email notifications.")
	f.StringVar(&flags.smtpFrom, "smtp-from", "dotmatrix@localhost", "Sender of email notifications.")
	f.BoolVarP(&flags.mountDockerSocket, "mount-docker-socket", "m", false, "Mount the docker socket into cell containers.")
	f.BoolVar(&flags.showImagePull, "show-image-pull", false, "Print image pull progress.")
	f.StringVarP(&flags.username, "registry-username", "u", "", "Username for the container registry")
	f.StringVarP(&flags.password, "registry-password", "p", "", "Password / Token for the container registry")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newValidateCmd(flags))
	return rootCmd
}

// Execute runs the CLI and returns the process exit status.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errBuildFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func newLogger(flags *rootFlags, w io.Writer) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "dotmatrix",
	})
	switch strings.ToLower(flags.logLevel) {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

func loadPipeline(flags *rootFlags, stderr io.Writer) (*models.PipelineFile, error) {
	logger := newLogger(flags, stderr)
	file, warnings, err := pipeline.Load(flags.jobFilePath)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn(w)
	}
	if err := pipeline.Validate(file, pipeline.Options{Supported: flags.supported}); err != nil {
		return nil, err
	}
	return file, nil
}

func parseVars(raw []string) ([]models.Variable, error) {
	vars := make([]models.Variable, 0, len(raw))
	for _, v := range raw {
		variable, err := models.ParseVariable(v)
		if err != nil {
			return nil, err
		}
		vars = append(vars, variable)
	}
	return vars, nil
}

func newProvisioner(ctx context.Context, flags *rootFlags, stdout io.Writer) (runner.Provisioner, func() error, error) {
	switch flags.backend {
	case backendShell:
		return runner.NewShellProvisioner(flags.shell), func() error { return nil }, nil
	case backendDocker:
		p, err := runner.NewDockerProvisioner(runner.DockerRunnerOptions{
			ImageTemplate:     flags.image,
			Shell:             flags.shell,
			ShowImagePull:     flags.showImagePull,
			PullOutput:        stdout,
			MountDockerSocket: flags.mountDockerSocket,
			Username:          flags.username,
			Password:          flags.password,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, nil, fmt.Errorf("docker daemon is not reachable: %w", err)
		}
		return p, p.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q, expected %s or %s", flags.backend, backendShell, backendDocker)
}

func run(ctx context.Context, flags *rootFlags, stdout, stderr io.Writer) error {
	logger := newLogger(flags, stderr)

	file, err := loadPipeline(flags, stderr)
	if err != nil {
		return err
	}
	vars, err := parseVars(flags.envVars)
	if err != nil {
		return err
	}

	provisioner, closeProvisioner, err := newProvisioner(ctx, flags, stdout)
	if err != nil {
		return err
	}
	defer closeProvisioner()

	artifactManager, err := artifacts.NewLocalArtifactsManager(flags.artifactsDir, flags.collect)
	if err != nil {
		return err
	}

	r := runner.New(provisioner, runner.Options{
		Src:            flags.src,
		BuildDir:       flags.buildDir,
		Excludes:       workspace.Excludes(flags.src, flags.buildDir, flags.artifactsDir),
		Vars:           vars,
		Parallel:       flags.parallel,
		Timeout:        flags.timeout,
		CommandTimeout: flags.commandTimeout,
		KeepWorkspace:  flags.keepWorkspace,
	})
	logs := report.NewLogStorage(filepath.Join(flags.buildDir, r.RunID(), "logs"))
	r.WithLogger(logger).
		WithCollector(artifactManager).
		WithOutput(runner.ConsoleOutput(stdout, stderr, logs))

	var results *report.ResultLog
	if flags.resultsPath != "" {
		if results, err = report.NewResultLog(flags.resultsPath); err != nil {
			return err
		}
		defer results.Close()
		r.WithObserver(results)
	}

	if flags.statusAddr != "" {
		tracker := status.NewTracker(r.RunID())
		r.WithObserver(tracker)
		srv := &http.Server{Addr: flags.statusAddr, Handler: tracker.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server stopped", "err", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving status", "addr", flags.statusAddr)
	}

	logger.Info("starting run", "run", r.RunID(), "cells", len(file.Python), "backend", flags.backend)
	rep := r.RunMatrix(ctx, file)
	results.RunFinished(rep)

	fmt.Fprintln(stdout)
	if err := report.WriteSummary(stdout, rep); err != nil {
		return err
	}

	if !file.Notifications.Email.Enabled {
		logger.Debug("email notifications disabled")
	} else if err := report.NewEmailNotifier(flags.smtpAddr, flags.smtpFrom, file.Notifications.Email).Notify(ctx, rep); err != nil {
		logger.Warn("notification failed", "err", err)
	}

	if !rep.Passed() {
		return errBuildFailed
	}
	return nil
}
