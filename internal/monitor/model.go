package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vovakirdan/blockduel/internal/hub"
	"github.com/vovakirdan/blockduel/internal/storage"
)

// Source is what the dashboard reads from.
type Source interface {
	Snapshot(ctx context.Context) (hub.Snapshot, error)
	Leaderboard() ([]storage.LeaderboardEntry, error)
}

// Dashboard layout constants
const (
	minTableHeight = 5
	chromeHeight   = 9 // Title, stats line, tabs, help and margins
	fetchTimeout   = 2 * time.Second
)

type view int

const (
	viewRooms view = iota
	viewLeaderboard
)

// KeyMap defines the key bindings for the dashboard.
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Switch  key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

// ShortHelp returns key bindings for the short help view.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Switch, k.Refresh, k.Quit}
}

// FullHelp returns key bindings for the full help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Switch},
		{k.Refresh, k.Quit},
	}
}

// DefaultKeyMap returns default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("up/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("down/j", "scroll down"),
		),
		Switch: key.NewBinding(
			key.WithKeys("tab", "shift+tab"),
			key.WithHelp("tab", "rooms/leaderboard"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}

// tickMsg triggers a periodic refresh.
type tickMsg time.Time

// refreshMsg carries freshly fetched server state.
type refreshMsg struct {
	snap    hub.Snapshot
	leaders []storage.LeaderboardEntry
	err     error
}

// Model is the Bubble Tea model for the operator dashboard.
type Model struct {
	source   Source
	interval time.Duration
	current  view
	snap     hub.Snapshot
	leaders  []storage.LeaderboardEntry
	err      error
	rooms    table.Model
	board    table.Model
	help     help.Model
	keys     KeyMap
	width    int
	height   int
	quitting bool
}

// NewModel creates a dashboard polling source every interval.
func NewModel(source Source, interval time.Duration, width, height int) Model {
	if interval <= 0 {
		interval = time.Second
	}
	h := help.New()
	h.ShowAll = false

	m := Model{
		source:   source,
		interval: interval,
		help:     h,
		keys:     DefaultKeyMap(),
		width:    width,
		height:   height,
	}
	m.rooms = m.newTable(roomColumns())
	m.board = m.newTable(leaderboardColumns())
	m.board.Blur()
	return m
}

func roomColumns() []table.Column {
	return []table.Column{
		{Title: "Room", Width: 8},
		{Title: "Host", Width: 16},
		{Title: "Players", Width: 8},
		{Title: "Status", Width: 10},
		{Title: "Age", Width: 10},
	}
}

func leaderboardColumns() []table.Column {
	return []table.Column{
		{Title: "Rank", Width: 6},
		{Title: "Player", Width: 16},
		{Title: "W", Width: 5},
		{Title: "L", Width: 5},
		{Title: "Best", Width: 8},
		{Title: "Lines", Width: 7},
	}
}

func (m *Model) newTable(columns []table.Column) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(m.tableHeight()),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func (m *Model) tableHeight() int {
	if h := m.height - chromeHeight; h > minTableHeight {
		return h
	}
	return minTableHeight
}

// Init fetches the first snapshot.
func (m Model) Init() tea.Cmd {
	return m.fetch()
}

func (m Model) fetch() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		snap, err := source.Snapshot(ctx)
		if err != nil {
			return refreshMsg{err: err}
		}
		leaders, err := source.Leaderboard()
		return refreshMsg{snap: snap, leaders: leaders, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages for the dashboard.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Switch):
			if m.current == viewRooms {
				m.current = viewLeaderboard
				m.rooms.Blur()
				m.board.Focus()
			} else {
				m.current = viewRooms
				m.board.Blur()
				m.rooms.Focus()
			}
			return m, nil

		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.rooms.SetHeight(m.tableHeight())
		m.board.SetHeight(m.tableHeight())
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		return m, m.fetch()

	case refreshMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.leaders = msg.leaders
			m.updateRows()
		}
		return m, m.tick()
	}

	if m.current == viewRooms {
		m.rooms, cmd = m.rooms.Update(msg)
	} else {
		m.board, cmd = m.board.Update(msg)
	}
	return m, cmd
}

func (m *Model) updateRows() {
	rows := make([]table.Row, len(m.snap.Rooms))
	for i, r := range m.snap.Rooms {
		rows[i] = table.Row{
			r.RoomID,
			string(r.Host),
			fmt.Sprintf("%d/2", r.Players),
			r.Status,
			age(m.snap.TakenAt, r.CreatedAt),
		}
	}
	m.rooms.SetRows(rows)

	board := make([]table.Row, len(m.leaders))
	for i, e := range m.leaders {
		board[i] = table.Row{
			fmt.Sprintf("#%d", e.Rank),
			e.Player,
			fmt.Sprintf("%d", e.Wins),
			fmt.Sprintf("%d", e.Losses),
			fmt.Sprintf("%d", e.BestScore),
			fmt.Sprintf("%d", e.TotalLines),
		}
	}
	m.board.SetRows(board)
}

func age(now, created time.Time) string {
	if created.IsZero() || now.Before(created) {
		return "-"
	}
	return now.Sub(created).Truncate(time.Second).String()
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("229"))
	b.WriteString(titleStyle.Render("BLOCKDUEL"))
	b.WriteString("\n\n")

	statsStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	b.WriteString(statsStyle.Render(fmt.Sprintf(
		"rooms %d  playing %d  queued %d  bots %d  watchers %d/%d",
		len(m.snap.Rooms),
		m.snap.ActiveSessions,
		m.snap.QueueLength,
		m.snap.Bots,
		m.snap.RoomListSubscribers,
		m.snap.LeaderboardSubscribers,
	)))
	b.WriteString("\n")
	if m.err != nil {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		b.WriteString(errStyle.Render("refresh failed: " + m.err.Error()))
	}
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	tableStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
	if m.current == viewRooms {
		b.WriteString(tableStyle.Render(m.rooms.View()))
	} else {
		b.WriteString(tableStyle.Render(m.board.View()))
	}

	b.WriteString("\n")
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))

	return b.String()
}

func (m Model) renderTabs() string {
	tabStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Padding(0, 1)
	activeTabStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Padding(0, 1)

	names := []string{"Rooms", "Leaderboard"}
	tabs := make([]string, len(names))
	for i, name := range names {
		if view(i) == m.current {
			tabs[i] = activeTabStyle.Render(name)
		} else {
			tabs[i] = tabStyle.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}
