// Package output writes simulation time series, one row per print time.
package output

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Writer receives the rows of one run.
type Writer interface {
	WriteHeader(names []string) error
	WriteRow(t float64, values []float64) error
	Close() error
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// TSD writes the time-series data format:
//
//	(("time", "A", "B"),
//	(0, 1, 2),
//	(1, 1.5, 2.5))
type TSD struct {
	w      *bufio.Writer
	closer io.Closer
	closed bool
}

func NewTSD(w io.Writer) *TSD {
	t := &TSD{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

func (t *TSD) WriteHeader(names []string) error {
	if _, err := t.w.WriteString(`(("time"`); err != nil {
		return err
	}
	for _, n := range names {
		if _, err := fmt.Fprintf(t.w, ", %q", n); err != nil {
			return err
		}
	}
	_, err := t.w.WriteString(")")
	return err
}

func (t *TSD) WriteRow(tm float64, values []float64) error {
	if _, err := t.w.WriteString(",\n(" + formatFloat(tm)); err != nil {
		return err
	}
	for _, v := range values {
		if _, err := t.w.WriteString(", " + formatFloat(v)); err != nil {
			return err
		}
	}
	if _, err := t.w.WriteString(")"); err != nil {
		return err
	}
	return t.w.Flush()
}

// Close writes the closing delimiter and flushes. Calling it twice is a
// no-op.
func (t *TSD) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	_, err := t.w.WriteString(")\n")
	err = errors.Join(err, t.w.Flush())
	if t.closer != nil {
		err = errors.Join(err, t.closer.Close())
	}
	return err
}

// CSV writes a header line and one comma separated line per row.
type CSV struct {
	w      *csv.Writer
	closer io.Closer
	closed bool
}

func NewCSV(w io.Writer) *CSV {
	c := &CSV{w: csv.NewWriter(w)}
	if cl, ok := w.(io.Closer); ok {
		c.closer = cl
	}
	return c
}

func (c *CSV) WriteHeader(names []string) error {
	return c.w.Write(append([]string{"time"}, names...))
}

func (c *CSV) WriteRow(t float64, values []float64) error {
	rec := make([]string, 0, len(values)+1)
	rec = append(rec, formatFloat(t))
	for _, v := range values {
		rec = append(rec, formatFloat(v))
	}
	if err := c.w.Write(rec); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSV) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		err = errors.Join(err, c.closer.Close())
	}
	return err
}

// Series is a time series held in memory.
type Series struct {
	Names  []string
	Times  []float64
	Values [][]float64
}

// Column returns the values of one named column, or nil.
func (s *Series) Column(name string) []float64 {
	for j, n := range s.Names {
		if n != name {
			continue
		}
		out := make([]float64, len(s.Values))
		for i, row := range s.Values {
			out[i] = row[j]
		}
		return out
	}
	return nil
}

// Memory records rows into a Series.
type Memory struct {
	mu     sync.Mutex
	series Series
	closed bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) WriteHeader(names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series.Names = append([]string(nil), names...)
	return nil
}

func (m *Memory) WriteRow(t float64, values []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series.Times = append(m.series.Times, t)
	m.series.Values = append(m.series.Values, append([]float64(nil), values...))
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Series returns a copy of what has been written so far.
func (m *Memory) Series() Series {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Series{
		Names:  append([]string(nil), m.series.Names...),
		Times:  append([]float64(nil), m.series.Times...),
		Values: make([][]float64, len(m.series.Values)),
	}
	for i, row := range m.series.Values {
		s.Values[i] = append([]float64(nil), row...)
	}
	return s
}

// Tee writes to every writer and joins their errors.
type Tee []Writer

func (t Tee) WriteHeader(names []string) error {
	var err error
	for _, w := range t {
		err = errors.Join(err, w.WriteHeader(names))
	}
	return err
}

func (t Tee) WriteRow(tm float64, values []float64) error {
	var err error
	for _, w := range t {
		err = errors.Join(err, w.WriteRow(tm, values))
	}
	return err
}

func (t Tee) Close() error {
	var err error
	for _, w := range t {
		err = errors.Join(err, w.Close())
	}
	return err
}

// Format selects a file writer.
type Format string

const (
	FormatTSD Format = "tsd"
	FormatCSV Format = "csv"
)

func (f Format) Ext() string {
	if f == FormatCSV {
		return ".csv"
	}
	return ".tsd"
}

// Create opens dir/run_<n><ext> for writing in format f.
func Create(dir string, f Format, run int) (Writer, string, error) {
	return CreateNamed(dir, f, "run_"+strconv.Itoa(run))
}

// CreateNamed opens dir/<name><ext> for writing in format f.
func CreateNamed(dir string, f Format, name string) (Writer, string, error) {
	if f != FormatTSD && f != FormatCSV && f != "" {
		return nil, "", fmt.Errorf("output: unknown format %q", f)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, name+f.Ext())
	file, err := os.Create(path)
	if err != nil {
		return nil, "", err
	}
	if f == FormatCSV {
		return NewCSV(file), path, nil
	}
	return NewTSD(file), path, nil
}
