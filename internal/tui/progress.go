// Package tui is the terminal progress view of a running job.
package tui

import (
	"fmt"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/san-kum/biosim/internal/progress"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

const barWidth = 36

type updateMsg progress.Update

type finishedMsg struct{ err error }

// Sink forwards progress updates to a running program.
type Sink struct {
	p *tea.Program
}

func (s Sink) Report(u progress.Update) { s.p.Send(updateMsg(u)) }

// Model shows the latest update of a job of runs runs. Pressing q, esc or
// ctrl+c calls cancel once; the view stays up until the job returns.
type Model struct {
	title  string
	runs   int
	cancel func()

	last      progress.Update
	seen      bool
	canceling bool
	finished  bool
	err       error
	width     int
}

func New(title string, runs int, cancel func()) Model {
	if runs < 1 {
		runs = 1
	}
	return Model{title: title, runs: runs, cancel: cancel}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.finished {
				return m, tea.Quit
			}
			if !m.canceling {
				m.canceling = true
				if m.cancel != nil {
					m.cancel()
				}
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case updateMsg:
		m.last = progress.Update(msg)
		m.seen = true
		return m, nil
	case finishedMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	icon, status := green.Render("●"), green.Render("running")
	switch {
	case m.err != nil:
		icon, status = red.Render("●"), red.Render("failed")
	case m.finished && m.canceling:
		icon, status = yellow.Render("○"), yellow.Render("canceled")
	case m.finished:
		icon, status = green.Render("●"), green.Render("done")
	case m.canceling:
		icon, status = yellow.Render("○"), yellow.Render("canceling")
	}
	fmt.Fprintf(&b, "\n   %s %s  %s\n", icon, cyan.Render(m.title), status)

	fraction := m.last.Fraction
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	width := barWidth
	if m.width > 0 && m.width-30 < width {
		width = max(m.width-30, 10)
	}
	filled := int(fraction * float64(width))
	bar := cyan.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", width-filled))

	title := m.last.Status
	if title == "" {
		title = progress.Title(fraction)
	}
	fmt.Fprintf(&b, "   %s %s\n", bar, white.Render(title))

	run := m.last.Run
	if !m.seen {
		run = 1
	}
	fmt.Fprintf(&b, "   %s\n\n", dim.Render(fmt.Sprintf("run %d/%d   t = %.4g", run, m.runs, m.last.Time)))

	if m.err != nil {
		b.WriteString("   " + red.Render(m.err.Error()) + "\n")
	}
	if !m.finished {
		b.WriteString(dim.Render("   q cancel") + "\n")
	}
	return b.String()
}

// Run shows the progress of job until it returns. job receives the sink to
// report through; cancel is called when the user asks to stop.
func Run(title string, runs int, cancel func(), job func(progress.Sink) error) error {
	p := tea.NewProgram(New(title, runs, cancel))

	var (
		wg     sync.WaitGroup
		jobErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		jobErr = job(Sink{p: p})
		p.Send(finishedMsg{err: jobErr})
	}()

	if _, err := p.Run(); err != nil {
		if cancel != nil {
			cancel()
		}
		wg.Wait()
		return err
	}
	wg.Wait()
	return jobErr
}
