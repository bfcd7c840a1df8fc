package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jgalley/dumirror/internal/storage"
)

const title = "Disk Usage Browser"

// rows used by everything except the item list on the directory screen
const chromeRows = 8

type screen int

const (
	screenRuns screen = iota
	screenDir
)

// Opener shows a directory in the desktop file manager.
type Opener func(path string) error

type openedMsg struct {
	path string
	err  error
}

// Model is the bubbletea model of the browser: a run selector followed by a
// directory screen driven by a Navigator.
type Model struct {
	nav  *Navigator
	keys keyMap
	help help.Model
	open Opener
	now  func() time.Time

	screen    screen
	runs      []storage.Run
	runCursor int
	width     int
	height    int
	message   string
}

// NewModel creates the browser model. open may be nil to disable opening
// directories.
func NewModel(nav *Navigator, open Opener) Model {
	m := Model{
		nav:  nav,
		keys: defaultKeyMap(),
		help: help.New(),
		open: open,
		now:  time.Now,
	}
	m.reloadRuns()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case openedMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("failed to open %s: %v", msg.path, msg.err)
		} else {
			m.message = "opened " + msg.path
		}
		return m, nil

	case tea.KeyMsg:
		m.message = ""
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		if m.screen == screenRuns {
			return m.updateRuns(msg)
		}
		return m.updateDir(msg)
	}
	return m, nil
}

func (m Model) updateRuns(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.runCursor > 0 {
			m.runCursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.runCursor < len(m.runs)-1 {
			m.runCursor++
		}
	case key.Matches(msg, m.keys.Runs):
		m.reloadRuns()
	case key.Matches(msg, m.keys.Enter):
		if len(m.runs) == 0 {
			return m, nil
		}
		if err := m.nav.SelectRun(m.runCursor); err != nil {
			m.message = err.Error()
			return m, nil
		}
		m.screen = screenDir
	}
	return m, nil
}

func (m Model) updateDir(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		m.nav.Move(-1)
	case key.Matches(msg, m.keys.Down):
		m.nav.Move(1)
	case key.Matches(msg, m.keys.Enter):
		m.nav.Enter()
	case key.Matches(msg, m.keys.Parent):
		m.nav.Parent()
	case key.Matches(msg, m.keys.Runs):
		m.reloadRuns()
		m.screen = screenRuns
	case key.Matches(msg, m.keys.Open):
		if m.open == nil {
			return m, nil
		}
		path, open := m.nav.Location(), m.open
		return m, func() tea.Msg {
			return openedMsg{path: path, err: open(path)}
		}
	}
	return m, nil
}

func (m *Model) reloadRuns() {
	runs, err := m.nav.Runs()
	if err != nil {
		m.message = err.Error()
		return
	}
	m.runs = runs
	if m.runCursor >= len(runs) {
		m.runCursor = 0
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	if m.screen == screenRuns {
		m.viewRuns(&b)
	} else {
		m.viewDir(&b)
	}

	if m.message != "" {
		b.WriteString("\n" + errorStyle.Render(m.message) + "\n")
	}
	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}

func (m Model) viewRuns(b *strings.Builder) {
	b.WriteString(titleStyle.Render(title) + "\n")
	b.WriteString(m.rule("=") + "\n")

	if len(m.runs) == 0 {
		b.WriteString("No analysis runs found.\n")
		return
	}

	b.WriteString("Available analysis runs (newest first):\n")
	now := m.now()
	start, end := m.window(m.runCursor, len(m.runs), 5)
	for i := start; i < end; i++ {
		r := m.runs[i]
		line := fmt.Sprintf("%d. %s", i+1, RunLabel(r.Time, now))
		age := dimStyle.Render("(" + RunAge(r.Time, now) + ")")
		if i == m.runCursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(m.fit(line+"  "+age) + "\n")
	}
}

func (m Model) viewDir(b *strings.Builder) {
	header := title
	if run, ok := m.nav.Run(); ok {
		header += "  " + dimStyle.Render(RunLabel(run.Time, m.now()))
	}
	b.WriteString(titleStyle.Render(header) + "\n")
	b.WriteString(m.rule("=") + "\n")

	b.WriteString(m.fit("Location: "+m.nav.Location()) + "\n")
	size := "?"
	if rec := m.nav.Record(); rec != nil && rec.TotalDisplay != "" {
		size = rec.TotalDisplay
	}
	b.WriteString("Size: " + size + "\n")
	b.WriteString(m.rule("-") + "\n")

	items := m.nav.Items()
	if len(items) == 0 || (len(items) == 1 && items[0].Parent) {
		if len(items) == 1 {
			m.writeItem(b, items[0], m.nav.Cursor() == 0)
		}
		b.WriteString(dimStyle.Render("No subdirectories found") + "\n")
	} else {
		start, end := m.window(m.nav.Cursor(), len(items), chromeRows)
		for i := start; i < end; i++ {
			m.writeItem(b, items[i], i == m.nav.Cursor())
		}
	}

	if status := m.nav.Status(); status != "" {
		b.WriteString(errorStyle.Render(m.fit("Status: "+status)) + "\n")
	}
}

func (m Model) writeItem(b *strings.Builder, it Item, selected bool) {
	var line string
	switch {
	case it.Parent:
		line = fmt.Sprintf("%8s  %s", "", ".. (parent directory)")
	case it.IsDir:
		line = fmt.Sprintf("%8s  %s/", it.Size, it.Name)
	default:
		line = fmt.Sprintf("%8s  %s", it.Size, it.Name)
	}
	line = m.fit(line)

	switch {
	case selected:
		line = selectedStyle.Render(line)
	case it.IsDir || it.Parent:
		line = dirStyle.Render(line)
	default:
		line = sizeStyle.Render(line)
	}
	b.WriteString(line + "\n")
}

// window returns the slice of rows to display so that cursor stays visible.
func (m Model) window(cursor, total, reserved int) (int, int) {
	rows := m.height - reserved
	if m.height == 0 || rows >= total {
		return 0, total
	}
	if rows < 1 {
		rows = 1
	}
	start := 0
	if cursor >= rows {
		start = cursor - rows + 1
	}
	return start, start + rows
}

func (m Model) rule(ch string) string {
	w := m.width
	if w <= 0 {
		w = 40
	}
	return ruleStyle.Render(strings.Repeat(ch, w-1))
}

func (m Model) fit(s string) string {
	if m.width <= 0 {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(m.width - 1).Render(s)
}
