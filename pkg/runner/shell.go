package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/opnlabs/dotmatrix/pkg/models"
	"github.com/opnlabs/dotmatrix/pkg/workspace"
)

// ShellProvisioner runs cells directly on the host, each in its own
// workspace copy.
type ShellProvisioner struct {
	// Shell is the interpreter used for commands. Defaults to bash.
	Shell string
}

func NewShellProvisioner(shell string) *ShellProvisioner {
	if shell == "" {
		shell = "bash"
	}
	return &ShellProvisioner{Shell: shell}
}

func (s *ShellProvisioner) Provision(ctx context.Context, cell models.Cell, ws *workspace.Workspace, vars []models.Variable) (Environment, error) {
	if _, err := exec.LookPath(s.Shell); err != nil {
		return nil, err
	}
	return &shellEnvironment{
		shell: s.Shell,
		ws:    ws,
		env:   append(hostEnv(), BuildEnv(cell, ws.Src, ws.State, vars)...),
	}, nil
}

type shellEnvironment struct {
	shell string
	ws    *workspace.Workspace
	env   []string
}

func (s *shellEnvironment) Exec(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	if err := writeStep(s.ws.State, command); err != nil {
		return -1, err
	}

	cmd := exec.CommandContext(ctx, s.shell, "-c", stepScript)
	cmd.Dir = s.ws.Src
	cmd.Env = s.env
	if stateSaved(s.ws.State) {
		cmd.Env = []string{"DOTMATRIX_STATE=" + s.ws.State}
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	killGroup(cmd)
	// Background children may hold the output pipes open after the shell exits.
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode(), nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
	}
	return -1, err
}

// hostEnv returns the host environment without entries whose names the
// shell cannot re-import from an export -p dump.
func hostEnv() []string {
	var env []string
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		if validName(k) {
			env = append(env, kv)
		}
	}
	return env
}

func validName(k string) bool {
	if k == "" {
		return false
	}
	for i, c := range k {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func (s *shellEnvironment) Close(ctx context.Context) error {
	return nil
}
