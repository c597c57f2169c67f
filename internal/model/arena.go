package model

import (
	"fmt"
	"strings"
)

// Handle addresses a ModelState inside an Arena. Handles are stable for the
// Arena's lifetime.
type Handle int

// Top is the handle of the top-level model.
const Top Handle = 0

type Arena struct {
	states []*ModelState
	byID   map[string]Handle
}

func NewArena(top *ModelState) *Arena {
	top.reindex()
	return &Arena{
		states: []*ModelState{top},
		byID:   map[string]Handle{top.ID: Top},
	}
}

// AddSubmodel registers m and returns its handle.
func (a *Arena) AddSubmodel(m *ModelState) (Handle, error) {
	if _, dup := a.byID[m.ID]; dup {
		return 0, fmt.Errorf("model: duplicate model scope %q", m.ID)
	}
	m.reindex()
	h := Handle(len(a.states))
	a.states = append(a.states, m)
	a.byID[m.ID] = h
	return h, nil
}

func (a *Arena) Get(h Handle) *ModelState {
	return a.states[h]
}

func (a *Arena) Top() *ModelState {
	return a.states[Top]
}

func (a *Arena) Lookup(id string) (Handle, bool) {
	h, ok := a.byID[id]
	return h, ok
}

func (a *Arena) Len() int {
	return len(a.states)
}

// Handles returns every handle, the top model first.
func (a *Arena) Handles() []Handle {
	out := make([]Handle, len(a.states))
	for i := range a.states {
		out[i] = Handle(i)
	}
	return out
}

// SetParameter overwrites the value of a parameter before a run. Names in a
// submodel are qualified as scope.name.
func (a *Arena) SetParameter(name string, v float64) error {
	h := Top
	local := name
	if scopeID, rest, ok := strings.Cut(name, "."); ok {
		found, exists := a.byID[scopeID]
		if !exists {
			return fmt.Errorf("model: unknown scope %q", scopeID)
		}
		h, local = found, rest
	}
	m := a.states[h]
	for i := range m.Parameters {
		if m.Parameters[i].ID == local {
			m.Parameters[i].Value = v
			return nil
		}
	}
	return fmt.Errorf("model: %s has no parameter %q", m.ID, local)
}
