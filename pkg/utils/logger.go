package utils

import (
	"bytes"
	"io"
	"sync"

	"github.com/fatih/color"
)

var colors = []color.Attribute{color.FgYellow, color.FgGreen, color.FgCyan, color.FgWhite, color.FgMagenta, color.FgBlue}
var index = -1

var l sync.Mutex

const MaxNameLength = 20

// ColorLogger provides an io.Writer that prefixes every line with a
// colored name. Partial lines are buffered until the newline arrives so
// output of concurrent cells does not interleave mid line.
type ColorLogger struct {
	name   string
	writer io.Writer
	c      *color.Color

	mu  sync.Mutex
	buf []byte
}

// NextColor returns the next color of the rotation.
func NextColor() color.Attribute {
	l.Lock()
	defer l.Unlock()
	index = (index + 1) % len(colors)
	return colors[index]
}

func NewColorLogger(name string, writer io.Writer, attr color.Attribute) *ColorLogger {
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength-3] + "..."
	}

	return &ColorLogger{
		name:   name,
		writer: writer,
		c:      color.New(attr),
	}
}

func (c *ColorLogger) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf, p...)
	for {
		i := bytes.IndexByte(c.buf, '\n')
		if i < 0 {
			break
		}
		if err := c.writeLine(c.buf[:i+1]); err != nil {
			return 0, err
		}
		c.buf = c.buf[i+1:]
	}
	return len(p), nil
}

// Flush writes any buffered partial line.
func (c *ColorLogger) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) == 0 {
		return nil
	}
	line := append(c.buf, '\n')
	c.buf = nil
	return c.writeLine(line)
}

func (c *ColorLogger) writeLine(line []byte) error {
	l.Lock()
	defer l.Unlock()
	if _, err := c.c.Fprint(c.writer, c.name, " | "); err != nil {
		return err
	}
	_, err := c.writer.Write(line)
	return err
}
