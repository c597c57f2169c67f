package output

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestTSD(t *testing.T) {
	var buf bytes.Buffer
	w := NewTSD(&buf)

	if err := w.WriteHeader([]string{"A", "sub.B"}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRow(0, []float64{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRow(0.5, []float64{1.25, 1e-20}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	want := "((\"time\", \"A\", \"sub.B\"),\n(0, 1, 2),\n(0.5, 1.25, 1e-20))\n"
	if buf.String() != want {
		t.Errorf("expected\n%s\ngot\n%s", want, buf.String())
	}
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSV(&buf)

	w.WriteHeader([]string{"A"})
	w.WriteRow(1, []float64{3.5})
	w.Close()

	if got := buf.String(); got != "time,A\n1,3.5\n" {
		t.Errorf("unexpected csv: %q", got)
	}
}

func TestMemoryAndTee(t *testing.T) {
	m := NewMemory()
	var buf bytes.Buffer
	w := Tee{m, NewCSV(&buf)}

	w.WriteHeader([]string{"A", "B"})
	w.WriteRow(0, []float64{1, 10})
	w.WriteRow(1, []float64{2, 20})
	w.Close()

	if !m.Closed() {
		t.Error("memory writer not closed")
	}
	s := m.Series()
	if !reflect.DeepEqual(s.Times, []float64{0, 1}) {
		t.Errorf("unexpected times %v", s.Times)
	}
	if !reflect.DeepEqual(s.Column("B"), []float64{10, 20}) {
		t.Errorf("unexpected column %v", s.Column("B"))
	}
	if s.Column("missing") != nil {
		t.Error("unknown column should be nil")
	}
	if strings.Count(buf.String(), "\n") != 3 {
		t.Errorf("tee did not reach csv writer: %q", buf.String())
	}
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()

	w, path, err := Create(filepath.Join(dir, "out"), FormatTSD, 3)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "run_3.tsd" {
		t.Errorf("unexpected path %s", path)
	}
	w.WriteHeader([]string{"A"})
	w.WriteRow(0, []float64{0})
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "))\n") {
		t.Errorf("file not closed properly: %q", data)
	}

	if _, _, err := Create(dir, Format("xml"), 1); err == nil {
		t.Error("expected unknown format error")
	}
}
