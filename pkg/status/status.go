// Package status exposes the progress of a run over HTTP.
package status

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opnlabs/dotmatrix/pkg/models"
	"github.com/opnlabs/dotmatrix/pkg/report"
	"github.com/opnlabs/dotmatrix/pkg/store"
)

// Tracker keeps the latest result of every cell. It is a runner observer.
type Tracker struct {
	runID   string
	results *store.MemStore[report.CellResult]
}

func NewTracker(runID string) *Tracker {
	return &Tracker{runID: runID, results: store.NewMemStore[report.CellResult]()}
}

func (t *Tracker) CellStarted(cell models.Cell) {
	t.results.Upsert(cell.ID, report.CellResult{Cell: cell})
}

func (t *Tracker) CommandFinished(cell models.Cell, result report.CommandResult) {
	cr, err := t.results.Get(cell.ID)
	if err != nil {
		cr = report.CellResult{Cell: cell}
	}
	cr.Commands = append(append([]report.CommandResult(nil), cr.Commands...), result)
	t.results.Upsert(cell.ID, cr)
}

func (t *Tracker) CellFinished(result report.CellResult) {
	t.results.Upsert(result.Cell.ID, result)
}

// Results returns the known results in the order cells started.
func (t *Tracker) Results() []report.CellResult {
	keys := t.results.Keys()
	out := make([]report.CellResult, 0, len(keys))
	for _, k := range keys {
		if r, err := t.results.Get(k); err == nil {
			out = append(out, r)
		}
	}
	return out
}

type cellsResponse struct {
	RunID string              `json:"run_id"`
	Cells []report.CellResult `json:"cells"`
}

// Handler serves:
//
//	GET /healthz
//	GET /cells
//	GET /cells/{id}
func (t *Tracker) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/cells", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cellsResponse{RunID: t.runID, Cells: t.Results()})
	})
	r.Get("/cells/{id}", func(w http.ResponseWriter, r *http.Request) {
		res, err := t.results.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "cell not found"})
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
