// Package storage keeps finished runs, their metadata and printed rows, on
// the filesystem or in SQLite.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/biosim/internal/output"
)

var ErrNotFound = errors.New("storage: run not found")

// Run is the metadata of one stored run.
type Run struct {
	ID                 string             `json:"id"`
	Model              string             `json:"model"`
	Timestamp          time.Time          `json:"timestamp"`
	Seed               int64              `json:"seed"`
	Run                int                `json:"run"`
	Method             string             `json:"method"`
	TimeLimit          float64            `json:"time_limit"`
	PrintInterval      float64            `json:"print_interval"`
	EndTime            float64            `json:"end_time"`
	Rows               int                `json:"rows"`
	EventsFired        int                `json:"events_fired"`
	DegradedSteps      int                `json:"degraded_steps"`
	Canceled           bool               `json:"canceled"`
	ConstraintViolated bool               `json:"constraint_violated"`
	Metrics            map[string]float64 `json:"metrics,omitempty"`
}

// Store persists runs. Save assigns an ID when the run has none.
type Store interface {
	Save(ctx context.Context, run Run, series output.Series) (string, error)
	List(ctx context.Context) ([]Run, error)
	Load(ctx context.Context, id string) (*Run, error)
	LoadSeries(ctx context.Context, id string) (output.Series, error)
	Close() error
}

// Kind selects a backend.
type Kind string

const (
	KindFS     Kind = "fs"
	KindSQLite Kind = "sqlite"
)

// Open opens the store of the given kind rooted at dir.
func Open(kind Kind, dir string) (Store, error) {
	switch kind {
	case KindFS, "":
		s := NewFS(dir)
		if err := s.Init(); err != nil {
			return nil, err
		}
		return s, nil
	case KindSQLite:
		return OpenSQLite(dir)
	default:
		return nil, fmt.Errorf("storage: unknown store %q", kind)
	}
}

// NewID returns a time ordered run identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func prepare(run Run) Run {
	if run.ID == "" {
		run.ID = NewID()
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}
	return run
}
