package dotmatrix

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingPipeline = `language: python
python:
  - 2.7
  - 3.5
sudo: false
notifications:
  email: false
before_install:
  - export MARKER=provisioned
install:
  - test "$MARKER" = provisioned
script:
  - echo "measured $TRAVIS_PYTHON_VERSION" > .coverage
  - echo style ok
after_success:
  - echo uploading coverage
`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	color.NoColor = true

	var stdout, stderr bytes.Buffer
	rootCmd := newRootCmd()
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func project(t *testing.T, pipeline string) (dir, file string) {
	t.Helper()
	dir = t.TempDir()
	file = filepath.Join(dir, ".travis.yml")
	require.NoError(t, os.WriteFile(file, []byte(pipeline), 0644))
	return dir, file
}

func TestValidateCommand(t *testing.T) {
	_, file := project(t, passingPipeline)

	out, stderr, err := execute(t, "validate", "-f", file, "--backend", "docker")
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "python-2-7")
	assert.Contains(t, out, "python:3.5")
	assert.Contains(t, stderr, "sudo")
}

func TestValidateCommandRejectsUnsupported(t *testing.T) {
	_, file := project(t, passingPipeline)

	_, _, err := execute(t, "validate", "-f", file, "--supported", "3.5,3.6")
	assert.ErrorContains(t, err, `version "2.7" is not supported`)
}

func TestRunPasses(t *testing.T) {
	dir, file := project(t, passingPipeline)
	artifacts := filepath.Join(dir, ".artifacts")
	results := filepath.Join(t.TempDir(), "results.jsonl")

	out, _, err := execute(t, "-f", file, "--src", dir, "--shell", "sh",
		"--build-dir", filepath.Join(dir, ".dotmatrix"), "--artifacts-dir", artifacts,
		"--results", results, "--timeout", "1m")
	require.NoError(t, err)

	assert.Contains(t, out, "python-2-7 | $ echo uploading coverage")
	assert.Contains(t, out, "PASS: 2 of 2 cells passed")

	data, err := os.ReadFile(filepath.Join(artifacts, "python-3-5", ".coverage"))
	require.NoError(t, err)
	assert.Equal(t, "measured 3.5\n", string(data))

	info, err := os.Stat(results)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestRunFails(t *testing.T) {
	dir, file := project(t, `language: python
python: 3.5
install: pip-that-does-not-exist install numpy
script: echo never
after_success: echo never either
`)

	out, _, err := execute(t, "-f", file, "--src", dir, "--shell", "sh",
		"--build-dir", filepath.Join(dir, ".dotmatrix"), "--artifacts-dir", filepath.Join(dir, ".artifacts"))
	assert.True(t, errors.Is(err, errBuildFailed))
	assert.Contains(t, out, "dependencies failure")
	assert.NotContains(t, out, "$ echo never")
}

func TestRunRejectsBadVariable(t *testing.T) {
	dir, file := project(t, passingPipeline)

	_, _, err := execute(t, "-f", file, "--src", dir, "-e", "NOEQUALS", "--artifacts-dir", filepath.Join(dir, ".artifacts"))
	assert.ErrorContains(t, err, "KEY=VALUE")
}
