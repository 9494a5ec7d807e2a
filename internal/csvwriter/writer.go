// Package csvwriter writes journal rows as CSV.
package csvwriter

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"
)

// Writer is a concurrency-safe CSV writer.
type Writer struct {
	writer *csv.Writer
	closer io.Closer
	rows   int
	mu     sync.Mutex
}

// New writes to w. Close flushes but does not close w.
func New(w io.Writer) *Writer {
	return &Writer{writer: csv.NewWriter(w)}
}

// Create truncates or creates the file at filePath.
func Create(filePath string) (*Writer, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file: %w", err)
	}
	return &Writer{writer: csv.NewWriter(file), closer: file}, nil
}

// Write writes a record.
func (w *Writer) Write(record []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record to CSV: %w", err)
	}
	w.rows++
	return nil
}

// Rows is the number of records written, header included.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Flush flushes buffered records.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and closes the file, if the writer owns one.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
