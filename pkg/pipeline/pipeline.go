// Package pipeline loads, validates and expands pipeline files.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/opnlabs/dotmatrix/pkg/models"
	"gopkg.in/yaml.v3"
)

var (
	interpreterPattern = regexp.MustCompile(`^[0-9]+\.[0-9]+(\.[0-9]+)?$`)
	envNamePattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	validate = newValidator()
)

// knownKeys are the top level keys the runner acts on.
var knownKeys = map[string]bool{
	"language":       true,
	"python":         true,
	"env":            true,
	"notifications":  true,
	"before_install": true,
	"install":        true,
	"script":         true,
	"after_success":  true,
}

// ErrEmptyFile is returned when a pipeline file has no content.
var ErrEmptyFile = errors.New("pipeline: file is empty")

// Options changes how a pipeline file is validated.
type Options struct {
	// Supported restricts interpreter versions. Empty means any version
	// matching the version pattern.
	Supported []string
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("interpreter", func(fl validator.FieldLevel) bool {
		return interpreterPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	v.RegisterValidation("envvar", func(fl validator.FieldLevel) bool {
		k, _, ok := strings.Cut(fl.Field().String(), "=")
		return ok && envNamePattern.MatchString(k)
	})
	return v
}

// Load reads and parses the pipeline file at path.
func Load(path string) (*models.PipelineFile, []string, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, nil, fmt.Errorf("could not read pipeline file: %w", err)
	}
	return Parse(contents)
}

// Parse decodes a pipeline file. Unknown top level keys are returned as
// warnings instead of errors.
func Parse(data []byte) (*models.PipelineFile, []string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("could not parse pipeline file: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil, ErrEmptyFile
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("pipeline file must be a mapping, line %d", root.Line)
	}

	var warnings []string
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if !knownKeys[key.Value] {
			warnings = append(warnings, fmt.Sprintf("line %d: ignoring unsupported key %q", key.Line, key.Value))
		}
	}

	var file models.PipelineFile
	if err := root.Decode(&file); err != nil {
		return nil, warnings, fmt.Errorf("could not decode pipeline file: %w", err)
	}
	return &file, warnings, nil
}

// Validate checks a parsed pipeline file. Every field failure is reported
// in the returned error.
func Validate(file *models.PipelineFile, opts Options) error {
	var problems []string
	if err := validate.Struct(file); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if len(opts.Supported) > 0 {
		for _, v := range file.Python {
			if !slices.Contains(opts.Supported, v) {
				problems = append(problems, fmt.Sprintf("python: version %q is not supported (supported: %s)", v, strings.Join(opts.Supported, ", ")))
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidationError lists every problem found in a pipeline file.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid pipeline file:\n  " + strings.Join(e.Problems, "\n  ")
}

func describe(fe validator.FieldError) string {
	field := fieldName(fe.Namespace())
	switch fe.Tag() {
	case "required", "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s: at least one entry is required", field)
		}
		return fmt.Sprintf("%s: value is required", field)
	case "unique":
		return fmt.Sprintf("%s: entries must be unique", field)
	case "interpreter":
		return fmt.Sprintf("%s: %q is not a valid interpreter version", field, fe.Value())
	case "nonblank":
		return fmt.Sprintf("%s: command must not be empty", field)
	case "envvar":
		return fmt.Sprintf("%s: %q should be defined as KEY=VALUE", field, fe.Value())
	}
	return fmt.Sprintf("%s: failed %q check", field, fe.Tag())
}

// fieldName maps a validator namespace such as PipelineFile.BeforeInstall[2]
// to the yaml key before_install[2].
func fieldName(namespace string) string {
	_, name, found := strings.Cut(namespace, ".")
	if !found {
		name = namespace
	}
	idx := ""
	if i := strings.IndexByte(name, '['); i >= 0 {
		name, idx = name[:i], name[i:]
	}
	switch name {
	case "BeforeInstall":
		name = string(models.PhaseBeforeInstall)
	case "AfterSuccess":
		name = string(models.PhaseAfterSuccess)
	default:
		name = strings.ToLower(name)
	}
	return name + idx
}

// Expand returns one cell per declared interpreter version, in declared order.
func Expand(file *models.PipelineFile) []models.Cell {
	cells := make([]models.Cell, 0, len(file.Python))
	for i, v := range file.Python {
		cells = append(cells, models.Cell{
			Index:    i,
			ID:       slug.Make(file.Language + "-" + v),
			Language: file.Language,
			Version:  v,
		})
	}
	return cells
}
