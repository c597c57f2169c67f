package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/biosim/internal/progress"
)

func send(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestViewShowsProgress(t *testing.T) {
	m := New("decay", 3, nil)
	view := m.View()
	if !strings.Contains(view, "Progress (0%)") {
		t.Errorf("expected empty progress, got %q", view)
	}
	if !strings.Contains(view, "run 1/3") {
		t.Errorf("expected run counter, got %q", view)
	}

	m, _ = send(m, updateMsg(progress.Update{Run: 2, Time: 4.5, Fraction: 0.45, Status: progress.Title(0.45)}))
	view = m.View()
	for _, want := range []string{"decay", "Progress (45%)", "run 2/3", "t = 4.5", "q cancel"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view, got %q", want, view)
		}
	}
}

func TestCancelKeyCallsCancelOnce(t *testing.T) {
	calls := 0
	m := New("decay", 1, func() { calls++ })

	m, cmd := send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd != nil {
		t.Error("view should stay up until the job returns")
	}
	m, _ = send(m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if calls != 1 {
		t.Errorf("expected 1 cancel call, got %d", calls)
	}
	if !strings.Contains(m.View(), "canceling") {
		t.Errorf("expected canceling status, got %q", m.View())
	}

	m, cmd = send(m, finishedMsg{})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if !strings.Contains(m.View(), "canceled") {
		t.Errorf("expected canceled status, got %q", m.View())
	}
}

func TestFinishedWithError(t *testing.T) {
	m := New("decay", 1, nil)
	m, _ = send(m, finishedMsg{err: errors.New("boom")})
	view := m.View()
	if !strings.Contains(view, "failed") || !strings.Contains(view, "boom") {
		t.Errorf("expected failure in view, got %q", view)
	}
	if strings.Contains(view, "q cancel") {
		t.Error("finished view should not offer cancel")
	}
}

func TestNarrowWindow(t *testing.T) {
	m := New("decay", 1, nil)
	m, _ = send(m, tea.WindowSizeMsg{Width: 20, Height: 10})
	m, _ = send(m, updateMsg(progress.Update{Run: 1, Fraction: 1}))
	if !strings.Contains(m.View(), strings.Repeat("━", 10)) {
		t.Errorf("expected a 10 cell bar, got %q", m.View())
	}
	if !strings.Contains(m.View(), "Progress (100%)") {
		t.Errorf("expected title derived from fraction, got %q", m.View())
	}
}
