// Package report records and presents the outcome of a run.
package report

import (
	"time"

	"github.com/opnlabs/dotmatrix/pkg/models"
)

// Category classifies why a cell failed.
type Category string

const (
	CategoryNone         Category = ""
	CategoryProvisioning Category = "provisioning"
	CategoryDependencies Category = "dependencies"
	CategoryScript       Category = "script"
	CategoryReporting    Category = "reporting"
	CategoryCanceled     Category = "canceled"
)

// CategoryFor returns the failure category of a command failing in phase.
func CategoryFor(phase models.Phase) Category {
	switch phase {
	case models.PhaseBeforeInstall:
		return CategoryProvisioning
	case models.PhaseInstall:
		return CategoryDependencies
	case models.PhaseScript:
		return CategoryScript
	case models.PhaseAfterSuccess:
		return CategoryReporting
	}
	return CategoryNone
}

// CommandResult is the outcome of a single command.
type CommandResult struct {
	Phase    models.Phase  `json:"phase"`
	Index    int           `json:"index"`
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Skipped  bool          `json:"skipped,omitempty"`
}

// Succeeded reports whether the command ran and exited zero.
func (c CommandResult) Succeeded() bool {
	return !c.Skipped && c.Error == "" && c.ExitCode == 0
}

// CellResult is the outcome of one matrix entry.
type CellResult struct {
	Cell            models.Cell     `json:"cell"`
	Passed          bool            `json:"passed"`
	Finished        bool            `json:"finished"`
	Category        Category        `json:"category,omitempty"`
	FailedPhase     models.Phase    `json:"failed_phase,omitempty"`
	Error           string          `json:"error,omitempty"`
	Commands        []CommandResult `json:"commands"`
	Artifacts       []string        `json:"artifacts,omitempty"`
	ReportingErrors []string        `json:"reporting_errors,omitempty"`
	LogPath         string          `json:"log_path,omitempty"`
	Started         time.Time       `json:"started"`
	Ended           time.Time       `json:"ended"`
}

// Ran returns the commands in phase that were not skipped.
func (c *CellResult) Ran(phase models.Phase) []CommandResult {
	var out []CommandResult
	for _, r := range c.Commands {
		if r.Phase == phase && !r.Skipped {
			out = append(out, r)
		}
	}
	return out
}

// Report is the outcome of a whole run.
type Report struct {
	RunID   string       `json:"run_id"`
	Started time.Time    `json:"started"`
	Ended   time.Time    `json:"ended"`
	Cells   []CellResult `json:"cells"`
}

// Passed is true when every cell passed.
func (r *Report) Passed() bool {
	for _, c := range r.Cells {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed returns the cells that did not pass.
func (r *Report) Failed() []CellResult {
	var out []CellResult
	for _, c := range r.Cells {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}
