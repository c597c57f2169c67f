package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/san-kum/biosim/internal/output"
)

// FS stores each run in its own directory as metadata.json and rows.csv.
type FS struct {
	baseDir string
}

func NewFS(baseDir string) *FS {
	return &FS{baseDir: baseDir}
}

func (s *FS) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *FS) Close() error { return nil }

func (s *FS) Save(_ context.Context, run Run, series output.Series) (string, error) {
	run = prepare(run)
	runDir := filepath.Join(s.baseDir, run.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return "", err
	}

	rowsFile, err := os.Create(filepath.Join(runDir, "rows.csv"))
	if err != nil {
		return "", err
	}
	defer rowsFile.Close()

	w := output.NewCSV(rowsFile)
	if err := w.WriteHeader(series.Names); err != nil {
		return "", err
	}
	for i, t := range series.Times {
		if err := w.WriteRow(t, series.Values[i]); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return run.ID, nil
}

func (s *FS) List(_ context.Context) ([]Run, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Run{}, nil
		}
		return nil, err
	}

	runs := make([]Run, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.readMeta(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })
	return runs, nil
}

func (s *FS) Load(_ context.Context, id string) (*Run, error) {
	return s.readMeta(id)
}

func (s *FS) readMeta(id string) (*Run, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, id, "metadata.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	var meta Run
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *FS) LoadSeries(_ context.Context, id string) (output.Series, error) {
	file, err := os.Open(filepath.Join(s.baseDir, id, "rows.csv"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return output.Series{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return output.Series{}, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return output.Series{}, err
	}
	if len(records) == 0 {
		return output.Series{}, nil
	}

	series := output.Series{Names: records[0][1:]}
	for _, record := range records[1:] {
		if len(record) == 0 {
			continue
		}
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return output.Series{}, fmt.Errorf("storage: %s: bad time %q", id, record[0])
		}
		row := make([]float64, 0, len(record)-1)
		for _, field := range record[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return output.Series{}, fmt.Errorf("storage: %s: bad value %q", id, field)
			}
			row = append(row, v)
		}
		series.Times = append(series.Times, t)
		series.Values = append(series.Values, row)
	}
	return series, nil
}
