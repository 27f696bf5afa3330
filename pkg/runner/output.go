package runner

import (
	"io"

	"github.com/opnlabs/dotmatrix/pkg/models"
	"github.com/opnlabs/dotmatrix/pkg/report"
	"github.com/opnlabs/dotmatrix/pkg/utils"
)

// CellOutput is where the output of a cell's commands goes.
type CellOutput struct {
	Stdout  io.Writer
	Stderr  io.Writer
	LogPath string
	close   func() error
}

func (c CellOutput) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// OutputFunc opens the output of a cell.
type OutputFunc func(cell models.Cell) (CellOutput, error)

// DiscardOutput drops all command output.
func DiscardOutput(cell models.Cell) (CellOutput, error) {
	return CellOutput{Stdout: io.Discard, Stderr: io.Discard}, nil
}

// ConsoleOutput prefixes command output with the cell's ID in its own color
// and, when logs is not nil, copies it to the cell's build log.
func ConsoleOutput(stdout, stderr io.Writer, logs *report.LogStorage) OutputFunc {
	return func(cell models.Cell) (CellOutput, error) {
		attr := utils.NextColor()
		outLogger := utils.NewColorLogger(cell.ID, stdout, attr)
		errLogger := utils.NewColorLogger(cell.ID, stderr, attr)
		out := CellOutput{Stdout: outLogger, Stderr: errLogger}

		flush := func() error {
			outLogger.Flush()
			return errLogger.Flush()
		}
		if logs == nil {
			out.close = flush
			return out, nil
		}

		f, err := logs.Open(cell.ID)
		if err != nil {
			return CellOutput{}, err
		}
		out.Stdout = io.MultiWriter(outLogger, f)
		out.Stderr = io.MultiWriter(errLogger, f)
		out.LogPath = f.Name()
		out.close = func() error {
			flush()
			return f.Close()
		}
		return out, nil
	}
}
