package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/opnlabs/dotmatrix/pkg/models"
	"github.com/opnlabs/dotmatrix/pkg/report"
	"github.com/opnlabs/dotmatrix/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellEnv(t *testing.T) Environment {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "setup.py"), []byte(""), 0644))

	cell := testCell("3.5")
	ws, err := workspace.New(t.TempDir(), "run", cell, src, nil)
	require.NoError(t, err)

	env, err := NewShellProvisioner("sh").Provision(context.Background(), cell, ws, []models.Variable{{Key: "EXTRA", Value: "yes"}})
	require.NoError(t, err)
	t.Cleanup(func() { env.Close(context.Background()) })
	return env
}

func execOut(t *testing.T, env Environment, command string) (string, int) {
	t.Helper()
	var out bytes.Buffer
	code, err := env.Exec(context.Background(), command, &out, &out)
	require.NoError(t, err)
	return strings.TrimSpace(out.String()), code
}

func TestShellExitCodes(t *testing.T) {
	env := shellEnv(t)

	_, code := execOut(t, env, "true")
	assert.Equal(t, 0, code)
	_, code = execOut(t, env, "false")
	assert.Equal(t, 1, code)
	_, code = execOut(t, env, "exit 3")
	assert.Equal(t, 3, code)
}

func TestShellStatePersistsBetweenCommands(t *testing.T) {
	env := shellEnv(t)

	execOut(t, env, `export PATH="$HOME/miniconda/bin:$PATH"; export GREETING='hello world'`)
	execOut(t, env, "mkdir -p build && cd build")

	out, code := execOut(t, env, `echo "$GREETING"`)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello world", out)

	out, _ = execOut(t, env, "pwd")
	assert.True(t, strings.HasSuffix(out, filepath.Join("src", "build")), out)

	out, _ = execOut(t, env, `case "$PATH" in *miniconda/bin*) echo found;; esac`)
	assert.Equal(t, "found", out)
}

func TestShellUnsetPersistsBetweenCommands(t *testing.T) {
	env := shellEnv(t)

	out, _ := execOut(t, env, `echo "$EXTRA"`)
	assert.Equal(t, "yes", out)

	execOut(t, env, "unset EXTRA; export LATER=1")
	out, _ = execOut(t, env, `echo "${EXTRA-gone} $LATER $CI"`)
	assert.Equal(t, "gone 1 true", out)
}

func TestShellEnvironmentVariables(t *testing.T) {
	env := shellEnv(t)

	out, _ := execOut(t, env, `echo "$CI $TRAVIS_PYTHON_VERSION $DOTMATRIX_CELL $EXTRA"`)
	assert.Equal(t, "true 3.5 python-3.5 yes", out)

	out, _ = execOut(t, env, `ls "$TRAVIS_BUILD_DIR"`)
	assert.Equal(t, "setup.py", out)
}

func TestShellContextTimeout(t *testing.T) {
	env := shellEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := env.Exec(ctx, "sleep 5", &bytes.Buffer{}, &bytes.Buffer{})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestShellProvisionerMissingShell(t *testing.T) {
	_, err := NewShellProvisioner("no-such-shell-dotmatrix").Provision(context.Background(), testCell("3.5"), &workspace.Workspace{}, nil)
	assert.Error(t, err)
}

func TestRunCellWithShell(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	color.NoColor = true

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "test.sh"), []byte("echo ok > .coverage\n"), 0644))

	var stdout, stderr bytes.Buffer
	build := t.TempDir()
	logs := report.NewLogStorage(filepath.Join(build, "logs"))
	r := New(NewShellProvisioner("sh"), Options{Src: src, BuildDir: build}).
		WithOutput(ConsoleOutput(&stdout, &stderr, logs))

	file := &models.PipelineFile{
		Language:      "python",
		Python:        models.StringList{"3.5"},
		BeforeInstall: models.StringList{"export STAGE=ready"},
		Install:       models.StringList{`test "$STAGE" = ready`},
		Script:        models.StringList{"sh test.sh", "echo style problem >&2; exit 1"},
		AfterSuccess:  models.StringList{"echo uploaded"},
	}
	res := r.RunCell(context.Background(), file, testCell("3.5"))

	assert.False(t, res.Passed)
	assert.Equal(t, report.CategoryScript, res.Category)
	assert.True(t, res.Ran(models.PhaseInstall)[0].Succeeded())
	assert.Contains(t, stdout.String(), "python-3.5 | $ sh test.sh")
	assert.Contains(t, stderr.String(), "python-3.5 | style problem")
	assert.NotContains(t, stdout.String(), "uploaded")

	data, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "style problem")
	assert.Contains(t, string(data), "exited with 1")
}
