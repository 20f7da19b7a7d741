// Package mergelog gives the post-process reconcilers a logger whose
// output can be handed back to the caller as text.
package mergelog

import (
	"bytes"

	"github.com/charmbracelet/log"
)

// Log is a debug-level logger writing into an in-memory buffer.
type Log struct {
	*log.Logger
	buf *bytes.Buffer
}

// New creates an empty log. prefix tags every line.
func New(prefix string) *Log {
	buf := &bytes.Buffer{}
	return &Log{
		Logger: log.NewWithOptions(buf, log.Options{
			Level:  log.DebugLevel,
			Prefix: prefix,
		}),
		buf: buf,
	}
}

// Messages returns everything logged so far.
func (l *Log) Messages() string {
	return l.buf.String()
}

// Reset discards the collected messages.
func (l *Log) Reset() {
	l.buf.Reset()
}
