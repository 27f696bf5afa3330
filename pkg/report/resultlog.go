package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/opnlabs/dotmatrix/pkg/models"
)

// ResultLog writes one JSON object per line: a "command" entry for every
// finished command and a "cell" entry for every finished cell. Completed
// entries survive a crash mid run. All methods are nil safe.
type ResultLog struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

type entry struct {
	Type    string         `json:"type"`
	Time    time.Time      `json:"time"`
	RunID   string         `json:"run_id,omitempty"`
	Cell    string         `json:"cell,omitempty"`
	Command *CommandResult `json:"command,omitempty"`
	Result  *CellResult    `json:"result,omitempty"`
	Passed  *bool          `json:"passed,omitempty"`
}

// NewResultLog creates or truncates the file at path.
func NewResultLog(path string) (*ResultLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("could not create result log %s: %w", path, err)
	}
	return &ResultLog{file: f, encoder: json.NewEncoder(f)}, nil
}

func (r *ResultLog) write(e entry) {
	if r == nil {
		return
	}
	e.Time = time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoder.Encode(e)
}

func (r *ResultLog) CellStarted(cell models.Cell) {}

func (r *ResultLog) CommandFinished(cell models.Cell, result CommandResult) {
	r.write(entry{Type: "command", Cell: cell.ID, Command: &result})
}

func (r *ResultLog) CellFinished(result CellResult) {
	r.write(entry{Type: "cell", Cell: result.Cell.ID, Result: &result})
}

// RunFinished records the aggregate outcome.
func (r *ResultLog) RunFinished(rep *Report) {
	passed := rep.Passed()
	r.write(entry{Type: "run", RunID: rep.RunID, Passed: &passed})
}

func (r *ResultLog) Close() error {
	if r == nil {
		return nil
	}
	return r.file.Close()
}
