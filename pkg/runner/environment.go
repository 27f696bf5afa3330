package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opnlabs/dotmatrix/pkg/models"
	"github.com/opnlabs/dotmatrix/pkg/workspace"
)

const (
	// WORKING_DIR is where the project copy lives inside a container.
	WORKING_DIR = "/app"
	// STATE_DIR is where the shell state lives inside a container.
	STATE_DIR = "/dotmatrix"

	stepFile = "step"
)

// Environment is an isolated place to run the commands of one cell.
type Environment interface {
	// Exec runs a shell command. A non-nil error means the command could
	// not be run or waited for; otherwise exitCode is its exit status.
	Exec(ctx context.Context, command string, stdout, stderr io.Writer) (exitCode int, err error)
	Close(ctx context.Context) error
}

// Provisioner creates environments.
type Provisioner interface {
	Provision(ctx context.Context, cell models.Cell, ws *workspace.Workspace, vars []models.Variable) (Environment, error)
}

// stepScript sources the shell state left by the previous command, sources
// the command itself so cd and export take effect in this shell, then saves
// the state for the next command.
const stepScript = `if [ -f "$DOTMATRIX_STATE/env" ]; then . "$DOTMATRIX_STATE/env"; fi
if [ -f "$DOTMATRIX_STATE/cwd" ]; then cd "$(cat "$DOTMATRIX_STATE/cwd")" || exit 1; fi
. "$DOTMATRIX_STATE/step"
__dotmatrix_status=$?
export -p > "$DOTMATRIX_STATE/env"
pwd > "$DOTMATRIX_STATE/cwd"
exit $__dotmatrix_status
`

// stateSaved reports whether an earlier command left a state dump in
// stateDir. From then on the dump is the whole environment of a command, so
// variables unset by one command stay unset.
func stateSaved(stateDir string) bool {
	_, err := os.Stat(filepath.Join(stateDir, "env"))
	return err == nil
}

// writeStep stores command where stepScript expects it. stateDir is the
// host side path of the state directory.
func writeStep(stateDir, command string) error {
	if err := os.WriteFile(filepath.Join(stateDir, stepFile), []byte(command+"\n"), 0644); err != nil {
		return fmt.Errorf("could not write step: %w", err)
	}
	return nil
}

// BuildEnv returns the variables every command of cell sees. buildDir and
// stateDir are paths as seen by the command. Later entries of vars win.
func BuildEnv(cell models.Cell, buildDir, stateDir string, vars []models.Variable) []string {
	env := []string{
		"CI=true",
		"CONTINUOUS_INTEGRATION=true",
		"TRAVIS=true",
		"TRAVIS_BUILD_DIR=" + buildDir,
		"TRAVIS_LANGUAGE=" + cell.Language,
		fmt.Sprintf("TRAVIS_%s_VERSION=%s", envLanguage(cell.Language), cell.Version),
		"DOTMATRIX_CELL=" + cell.ID,
		"DOTMATRIX_STATE=" + stateDir,
	}
	for _, v := range vars {
		env = append(env, v.String())
	}
	return env
}

func envLanguage(lang string) string {
	b := []byte(lang)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
