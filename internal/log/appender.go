package log

import "io"

// MultiWriter fans a log line out to every appender. A failing appender does
// not stop the others; the last error is reported.
type MultiWriter struct {
	writers []io.Writer
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range m.writers {
		if _, e := w.Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}

// Add appends writer and returns m for chaining.
func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

// Len is the number of appenders.
func (m *MultiWriter) Len() int { return len(m.writers) }

// NewMultiWriter returns a MultiWriter with no appenders.
func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0)}
}
