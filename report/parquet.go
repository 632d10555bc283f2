package report

import (
	"fmt"
	"os"
	"sync"

	"github.com/parquet-go/parquet-go"
)

// ParquetWriter writes rows to a Parquet file.
type ParquetWriter struct {
	file   *os.File
	writer *parquet.GenericWriter[Row]
	mu     sync.Mutex
}

// NewParquetWriter creates filename and prepares a row writer on it.
func NewParquetWriter(filename string) (*ParquetWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create parquet file: %w", err)
	}
	return &ParquetWriter{
		file:   f,
		writer: parquet.NewGenericWriter[Row](f),
	}, nil
}

// Write buffers rows; they are flushed on Close.
func (pw *ParquetWriter) Write(rows []Row) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if _, err := pw.writer.Write(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	return nil
}

// Close writes the footer and closes the file.
func (pw *ParquetWriter) Close() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if err := pw.writer.Close(); err != nil {
		pw.file.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return pw.file.Close()
}
