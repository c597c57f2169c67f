package progress

import (
	"sync"
	"testing"
)

func TestToken(t *testing.T) {
	var nilToken *Token
	if nilToken.Canceled() {
		t.Error("nil token should never be canceled")
	}

	tok := NewToken()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok.Cancel()
		}()
	}
	wg.Wait()

	if !tok.Canceled() {
		t.Error("expected canceled token")
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		fraction float64
		want     string
	}{
		{0, "Progress (0%)"},
		{0.456, "Progress (45%)"},
		{1, "Progress (100%)"},
		{1.7, "Progress (100%)"},
		{-1, "Progress (0%)"},
	}
	for _, tt := range tests {
		if got := Title(tt.fraction); got != tt.want {
			t.Errorf("Title(%v): expected %q, got %q", tt.fraction, tt.want, got)
		}
	}
}

func TestMultiAndLatest(t *testing.T) {
	var latest Latest
	if _, ok := latest.Get(); ok {
		t.Error("empty Latest should report nothing")
	}

	var seen []Update
	m := Multi{&latest, nil, SinkFunc(func(u Update) { seen = append(seen, u) })}
	m.Report(Update{Run: 1, Fraction: 0.5})
	m.Report(Update{Run: 1, Fraction: 1, Done: true})

	u, ok := latest.Get()
	if !ok || !u.Done || u.Fraction != 1 {
		t.Errorf("unexpected latest update: %+v", u)
	}
	if len(seen) != 2 {
		t.Errorf("expected 2 updates, got %d", len(seen))
	}
}
