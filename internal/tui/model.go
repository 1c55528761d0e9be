package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cbegin/patchplay-go/internal/sequencer"
)

const (
	refreshInterval = 100 * time.Millisecond
	barWidth        = 40
)

// Tap wraps an Emitter and remembers the last sound for display.
type Tap struct {
	next sequencer.Emitter

	mu     sync.Mutex
	patch  string
	octave int
	count  int
}

func NewTap(next sequencer.Emitter) *Tap {
	return &Tap{next: next}
}

func (t *Tap) Emit(patch string, octave int, volume float64) {
	t.mu.Lock()
	t.patch, t.octave = patch, octave
	t.count++
	t.mu.Unlock()
	t.next.Emit(patch, octave, volume)
}

// Last returns the most recent patch, its octave and the emit count.
func (t *Tap) Last() (string, int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.patch, t.octave, t.count
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	emptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	patchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
)

// Model shows the progress of one track until it finishes or the user quits.
type Model struct {
	Title    string
	track    *sequencer.GlobalTrack
	tap      *Tap
	stop     func()
	started  time.Time
	now      time.Time
	quitting bool
}

func NewModel(title string, track *sequencer.GlobalTrack, tap *Tap, stop func()) Model {
	now := time.Now()
	return Model{Title: title, track: track, tap: tap, stop: stop, started: now, now: now}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			if m.stop != nil {
				m.stop()
			}
			return m, tea.Quit
		}
	case tickMsg:
		m.now = time.Time(msg)
		select {
		case <-m.track.Done():
			m.quitting = true
			return m, tea.Quit
		default:
		}
		return m, tick()
	}
	return m, nil
}

func (m Model) View() string {
	played, total := m.track.Progress()
	frac := 1.0
	if total > 0 {
		frac = float64(played) / float64(total)
	}
	filled := int(frac * barWidth)
	bar := barStyle.Render(strings.Repeat("█", filled)) + emptyStyle.Render(strings.Repeat("░", barWidth-filled))

	elapsed := min(m.now.Sub(m.started), m.track.Duration()).Truncate(time.Second)
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.Title))
	b.WriteString("\n\n")
	b.WriteString(bar)
	fmt.Fprintf(&b, " %3.0f%%\n", frac*100)
	b.WriteString(dimStyle.Render(fmt.Sprintf("%s / %s  notes %d/%d  dropped %d",
		elapsed, m.track.Duration().Truncate(time.Second), played, total, m.track.Misses())))
	b.WriteString("\n")
	if m.tap != nil {
		if patch, octave, count := m.tap.Last(); count > 0 {
			b.WriteString(patchStyle.Render(fmt.Sprintf("%s o%d", patch, octave)))
			b.WriteString(dimStyle.Render(fmt.Sprintf("  (%d sounds)", count)))
			b.WriteString("\n")
		}
	}
	if m.quitting {
		b.WriteString(dimStyle.Render("stopped"))
	} else {
		b.WriteString(dimStyle.Render("q: stop"))
	}
	b.WriteString("\n")
	return b.String()
}
