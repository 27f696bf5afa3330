// Package runner executes the phases of a pipeline file once per matrix cell.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/opnlabs/dotmatrix/pkg/models"
	"github.com/opnlabs/dotmatrix/pkg/pipeline"
	"github.com/opnlabs/dotmatrix/pkg/report"
	"github.com/opnlabs/dotmatrix/pkg/workspace"
	"golang.org/x/sync/errgroup"
)

// Observer is told about progress. Calls for different cells may happen
// concurrently.
type Observer interface {
	CellStarted(cell models.Cell)
	CommandFinished(cell models.Cell, result report.CommandResult)
	CellFinished(result report.CellResult)
}

// Collector gathers artifacts from a cell's workspace once its script
// phase has run.
type Collector interface {
	Collect(cellID, workspaceDir string) ([]string, error)
}

type Options struct {
	RunID string
	// Src is the project directory copied into every workspace.
	Src string
	// BuildDir holds the workspaces.
	BuildDir string
	// Excludes are paths relative to Src left out of workspaces.
	Excludes []string
	// Vars are added to the environment of every command after the
	// pipeline file's own env entries.
	Vars           []models.Variable
	Parallel       int
	Timeout        time.Duration
	CommandTimeout time.Duration
	KeepWorkspace  bool
}

type Runner struct {
	provisioner Provisioner
	collector   Collector
	observers   []Observer
	output      OutputFunc
	logger      *log.Logger
	opts        Options
}

func New(provisioner Provisioner, opts Options) *Runner {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Src == "" {
		opts.Src = "."
	}
	if opts.BuildDir == "" {
		opts.BuildDir = ".dotmatrix"
	}
	return &Runner{
		provisioner: provisioner,
		output:      DiscardOutput,
		logger:      log.New(io.Discard),
		opts:        opts,
	}
}

func (r *Runner) WithCollector(c Collector) *Runner {
	r.collector = c
	return r
}

func (r *Runner) WithObserver(o Observer) *Runner {
	r.observers = append(r.observers, o)
	return r
}

func (r *Runner) WithOutput(f OutputFunc) *Runner {
	r.output = f
	return r
}

func (r *Runner) WithLogger(l *log.Logger) *Runner {
	r.logger = l
	return r
}

func (r *Runner) RunID() string {
	return r.opts.RunID
}

// RunMatrix runs every cell of file. Cells are independent: a failing cell
// never stops the others.
func (r *Runner) RunMatrix(ctx context.Context, file *models.PipelineFile) *report.Report {
	cells := pipeline.Expand(file)
	rep := &report.Report{
		RunID:   r.opts.RunID,
		Started: time.Now(),
		Cells:   make([]report.CellResult, len(cells)),
	}

	var eg errgroup.Group
	if r.opts.Parallel > 0 {
		eg.SetLimit(r.opts.Parallel)
	}
	for i, cell := range cells {
		i, cell := i, cell
		eg.Go(func() error {
			rep.Cells[i] = r.RunCell(ctx, file, cell)
			return nil
		})
	}
	eg.Wait()

	rep.Ended = time.Now()
	return rep
}

// RunCell provisions an environment for cell and runs the phases in order.
// The first failing command of a gating phase stops the cell. after_success
// only runs when every gating phase passed and its failures are recorded
// without failing the cell.
func (r *Runner) RunCell(ctx context.Context, file *models.PipelineFile, cell models.Cell) (res report.CellResult) {
	logger := r.logger.With("cell", cell.ID)
	res = report.CellResult{Cell: cell, Started: time.Now()}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	for _, o := range r.observers {
		o.CellStarted(cell)
	}
	defer func() {
		res.Ended = time.Now()
		res.Finished = true
		for _, o := range r.observers {
			o.CellFinished(res)
		}
	}()

	out, err := r.output(cell)
	if err != nil {
		logger.Warn("could not open cell output, discarding", "err", err)
		out, _ = DiscardOutput(cell)
	}
	defer out.Close()
	res.LogPath = out.LogPath

	env, ws, err := r.provision(ctx, file, cell)
	if err != nil {
		logger.Error("provisioning failed", "err", err)
		fmt.Fprintf(out.Stderr, "provisioning failed: %v\n", err)
		res.Category = report.CategoryProvisioning
		res.Error = err.Error()
		res.Commands = skipAll(file)
		return res
	}
	defer r.teardown(logger, env, ws)

	logger.Info("running", "image", cell.String())
	gatingPassed := true
	scriptRan := false
	stopped := false

	for _, phase := range models.Phases {
		if phase == models.PhaseAfterSuccess && (!gatingPassed || stopped) {
			res.Commands = append(res.Commands, skipped(phase, file.Commands(phase), 0)...)
			continue
		}
		for i, command := range file.Commands(phase) {
			if stopped {
				res.Commands = append(res.Commands, skipped(phase, []string{command}, i)...)
				continue
			}
			if err := ctx.Err(); err != nil {
				stopped = true
				if phase.Gating() {
					gatingPassed = false
					res.Category = report.CategoryCanceled
					res.FailedPhase = phase
					res.Error = err.Error()
				} else {
					res.ReportingErrors = append(res.ReportingErrors, fmt.Sprintf("%s: %v", phase, err))
				}
				res.Commands = append(res.Commands, skipped(phase, []string{command}, i)...)
				continue
			}

			if phase == models.PhaseScript {
				scriptRan = true
			}
			cr := r.exec(ctx, env, out, phase, i, command)
			res.Commands = append(res.Commands, cr)
			for _, o := range r.observers {
				o.CommandFinished(cell, cr)
			}
			if cr.Succeeded() {
				continue
			}

			if !phase.Gating() {
				logger.Warn("after_success command failed", "command", command, "exit", cr.ExitCode)
				res.ReportingErrors = append(res.ReportingErrors, failureMessage(cr))
				continue
			}

			stopped, gatingPassed = true, false
			res.FailedPhase = phase
			res.Error = failureMessage(cr)
			res.Category = report.CategoryFor(phase)
			if ctx.Err() != nil && cr.Error != "" {
				res.Category = report.CategoryCanceled
			}
			logger.Error("command failed", "phase", phase, "command", command, "exit", cr.ExitCode)
		}

		if phase == models.PhaseScript && scriptRan {
			r.collect(logger, &res, ws)
		}
	}

	res.Passed = gatingPassed
	if res.Passed {
		logger.Info("passed")
	}
	return res
}

func (r *Runner) provision(ctx context.Context, file *models.PipelineFile, cell models.Cell) (Environment, *workspace.Workspace, error) {
	vars, err := r.vars(file)
	if err != nil {
		return nil, nil, err
	}
	ws, err := workspace.New(r.opts.BuildDir, r.opts.RunID, cell, r.opts.Src, r.opts.Excludes)
	if err != nil {
		return nil, nil, err
	}
	env, err := r.provisioner.Provision(ctx, cell, ws, vars)
	if err != nil {
		if !r.opts.KeepWorkspace {
			ws.Remove()
		}
		return nil, nil, err
	}
	return env, ws, nil
}

func (r *Runner) vars(file *models.PipelineFile) ([]models.Variable, error) {
	vars := make([]models.Variable, 0, len(file.Env)+len(r.opts.Vars))
	for _, e := range file.Env {
		v, err := models.ParseVariable(e)
		if err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return append(vars, r.opts.Vars...), nil
}

func (r *Runner) exec(ctx context.Context, env Environment, out CellOutput, phase models.Phase, index int, command string) report.CommandResult {
	cctx := ctx
	if r.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, r.opts.CommandTimeout)
		defer cancel()
	}

	fmt.Fprintf(out.Stdout, "$ %s\n", command)
	start := time.Now()
	code, err := env.Exec(cctx, command, out.Stdout, out.Stderr)
	cr := report.CommandResult{
		Phase:    phase,
		Index:    index,
		Command:  command,
		ExitCode: code,
		Duration: time.Since(start),
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s", r.opts.CommandTimeout)
		}
		cr.Error = err.Error()
		fmt.Fprintf(out.Stderr, "The command %q could not be run: %v\n", command, err)
	} else if code != 0 {
		fmt.Fprintf(out.Stderr, "The command %q exited with %d.\n", command, code)
	}
	return cr
}

func (r *Runner) collect(logger *log.Logger, res *report.CellResult, ws *workspace.Workspace) {
	if r.collector == nil {
		return
	}
	keys, err := r.collector.Collect(res.Cell.ID, ws.Src)
	res.Artifacts = append(res.Artifacts, keys...)
	if err != nil {
		logger.Warn("could not collect artifacts", "err", err)
	}
}

func (r *Runner) teardown(logger *log.Logger, env Environment, ws *workspace.Workspace) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := env.Close(ctx); err != nil {
		logger.Warn("could not close environment", "err", err)
	}
	if r.opts.KeepWorkspace {
		logger.Info("keeping workspace", "dir", ws.Dir)
		return
	}
	if err := ws.Remove(); err != nil {
		logger.Warn("could not remove workspace", "dir", ws.Dir, "err", err)
	}
}

func failureMessage(cr report.CommandResult) string {
	if cr.Error != "" {
		return fmt.Sprintf("%s: %q: %s", cr.Phase, cr.Command, cr.Error)
	}
	return fmt.Sprintf("%s: %q exited with %d", cr.Phase, cr.Command, cr.ExitCode)
}

func skipped(phase models.Phase, commands []string, offset int) []report.CommandResult {
	out := make([]report.CommandResult, 0, len(commands))
	for i, c := range commands {
		out = append(out, report.CommandResult{Phase: phase, Index: offset + i, Command: c, Skipped: true})
	}
	return out
}

func skipAll(file *models.PipelineFile) []report.CommandResult {
	var out []report.CommandResult
	for _, phase := range models.Phases {
		out = append(out, skipped(phase, file.Commands(phase), 0)...)
	}
	return out
}
