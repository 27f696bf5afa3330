package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opnlabs/dotmatrix/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const travis = `language: python
python:
  - 2.7
  - 3.3
  - 3.4
  - 3.5
sudo: false
notifications:
  email: false
before_install:
  - wget http://repo.continuum.io/miniconda/Miniconda-latest-Linux-x86_64.sh -O miniconda.sh
  - bash miniconda.sh -b -p $HOME/miniconda
  - export PATH="$HOME/miniconda/bin:$PATH"
  - conda update --yes conda
install:
  - conda install --yes python=$TRAVIS_PYTHON_VERSION numpy scipy
  - pip install autograd flake8 coveralls
  - python setup.py install
script:
  - nosetests tests --with-coverage --cover-package=pymanopt
  - flake8 examples pymanopt tests
  - python examples/run_all.py
after_success:
  - coveralls
`

func parse(t *testing.T, src string) *models.PipelineFile {
	t.Helper()
	f, _, err := Parse([]byte(src))
	require.NoError(t, err)
	return f
}

func TestParseTravisFile(t *testing.T) {
	f, warnings, err := Parse([]byte(travis))
	require.NoError(t, err)

	assert.Equal(t, "python", f.Language)
	assert.Equal(t, models.StringList{"2.7", "3.3", "3.4", "3.5"}, f.Python)
	assert.False(t, f.Notifications.Email.Enabled)
	assert.Len(t, f.BeforeInstall, 4)
	assert.Equal(t, "python setup.py install", f.Install[2])
	assert.Equal(t, models.StringList{"coveralls"}, f.AfterSuccess)

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `"sudo"`)

	assert.NoError(t, Validate(f, Options{}))
	assert.NoError(t, Validate(f, Options{Supported: []string{"2.7", "3.3", "3.4", "3.5"}}))
}

func TestParseErrors(t *testing.T) {
	_, _, err := Parse([]byte(""))
	assert.True(t, errors.Is(err, ErrEmptyFile))

	_, _, err = Parse([]byte("- a\n- b\n"))
	assert.ErrorContains(t, err, "mapping")

	_, _, err = Parse([]byte("script: [unclosed"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".travis.yml")
	require.NoError(t, os.WriteFile(path, []byte(travis), 0644))

	f, _, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Script, 3)

	_, _, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestValidateProblems(t *testing.T) {
	tests := []struct {
		name string
		src  string
		opts Options
		want string
	}{
		{"no language", "python: 3.5\nscript: nosetests\n", Options{}, "language: value is required"},
		{"no versions", "language: python\nscript: nosetests\n", Options{}, "python: at least one entry is required"},
		{"bad version", "language: python\npython: [\"3\"]\nscript: nosetests\n", Options{}, `python[0]: "3" is not a valid interpreter version`},
		{"duplicate version", "language: python\npython: [2.7, 2.7]\nscript: nosetests\n", Options{}, "python: entries must be unique"},
		{"unsupported", "language: python\npython: 3.6\nscript: nosetests\n", Options{Supported: []string{"2.7", "3.5"}}, `version "3.6" is not supported`},
		{"blank command", "language: python\npython: 3.5\ninstall: ['pip install .', '  ']\nscript: nosetests\n", Options{}, "install[1]: command must not be empty"},
		{"blank before_install", "language: python\npython: 3.5\nbefore_install: ['']\nscript: nosetests\n", Options{}, "before_install[0]: command must not be empty"},
		{"no script", "language: python\npython: 3.5\n", Options{}, "script: at least one entry is required"},
		{"bad env", "language: python\npython: 3.5\nenv: [NOPE]\nscript: nosetests\n", Options{}, `env[0]: "NOPE" should be defined as KEY=VALUE`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(parse(t, tt.src), tt.opts)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			found := false
			for _, p := range verr.Problems {
				if strings.Contains(p, tt.want) {
					found = true
				}
			}
			assert.True(t, found, "expected a problem containing %q, got %v", tt.want, verr.Problems)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	err := Validate(parse(t, "python: [x, 2.7]\nscript: ['']\n"), Options{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 3)
}

func TestExpandKeepsDeclaredOrder(t *testing.T) {
	cells := Expand(parse(t, travis))
	require.Len(t, cells, 4)
	for i, want := range []string{"python-2-7", "python-3-3", "python-3-4", "python-3-5"} {
		assert.Equal(t, i, cells[i].Index)
		assert.Equal(t, want, cells[i].ID)
		assert.Equal(t, "python", cells[i].Language)
	}
	assert.Equal(t, "3.5", cells[3].Version)
}
