package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/biosim/internal/output"
	"github.com/san-kum/biosim/internal/progress"
	"github.com/san-kum/biosim/internal/storage"
)

func newServer(t *testing.T) (*Server, *progress.Token) {
	t.Helper()
	st, err := storage.Open(storage.KindFS, t.TempDir())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "biosim_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	token := progress.NewToken()
	return &Server{
		Progress: &progress.Latest{},
		Cancel:   token,
		Store:    st,
		Gatherer: reg,
	}, token
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestProgress(t *testing.T) {
	s, _ := newServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/progress")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	s.Progress.Report(progress.Update{Run: 1, Fraction: 0.25, Status: progress.Title(0.25)})
	rec = do(t, h, http.MethodGet, "/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	var u progress.Update
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&u))
	assert.Equal(t, "Progress (25%)", u.Status)
}

func TestCancel(t *testing.T) {
	s, token := newServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/cancel")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, token.Canceled())

	rec = do(t, h, http.MethodPost, "/cancel")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, token.Canceled())
}

func TestRuns(t *testing.T) {
	s, _ := newServer(t)
	h := s.Handler()

	series := output.Series{Names: []string{"A"}, Times: []float64{0, 1}, Values: [][]float64{{1}, {2}}}
	id, err := s.Store.Save(context.Background(), storage.Run{Model: "decay"}, series)
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []storage.Run
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)

	rec = do(t, h, http.MethodGet, "/runs/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	var got runResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "decay", got.Run.Model)
	assert.Equal(t, series, got.Series)

	rec = do(t, h, http.MethodGet, "/runs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics(t *testing.T) {
	s, _ := newServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "biosim_test_total 1"))
}

func TestDetached(t *testing.T) {
	h := (&Server{}).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/progress").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/cancel").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/runs").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/metrics").Code)
}
