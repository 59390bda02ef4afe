package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/vovakirdan/blockduel/internal/storage"
)

// output describes where tables are written.
type output struct {
	w      io.Writer
	styled bool // Terminal: render boxed tables
	width  int
}

func stdout() output {
	out := output{w: os.Stdout}
	fd := int(os.Stdout.Fd())
	if term.IsTerminal(fd) {
		out.styled = true
		if w, _, err := term.GetSize(fd); err == nil {
			out.width = w
		}
	}
	return out
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (o output) title(s string) {
	if o.styled {
		fmt.Fprintln(o.w, titleStyle.Render(s))
	} else {
		fmt.Fprintln(o.w, s)
	}
	fmt.Fprintln(o.w)
}

// table writes rows under headers, boxed on a terminal and as aligned
// plain text otherwise.
func (o output) table(headers []string, rows [][]string) {
	if o.styled {
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
			Headers(headers...).
			Rows(rows...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})
		if o.width > 0 {
			t = t.Width(min(o.width, 100))
		}
		fmt.Fprintln(o.w, t.Render())
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, c := range r {
			if i < len(widths) && len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}
	writeRow := func(cells []string) {
		fmt.Fprint(o.w, " ")
		for i, c := range cells {
			fmt.Fprintf(o.w, " %-*s", widths[i], c)
		}
		fmt.Fprintln(o.w)
	}
	writeRow(headers)
	dashes := make([]string, len(headers))
	for i, w := range widths {
		dashes[i] = repeat('-', w)
	}
	writeRow(dashes)
	for _, r := range rows {
		writeRow(r)
	}
}

func (o output) note(s string) {
	if o.styled {
		fmt.Fprintln(o.w, dimStyle.Render(s))
	} else {
		fmt.Fprintln(o.w, s)
	}
}

func repeat(r rune, n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = r
	}
	return string(b)
}

func leaderboardRows(entries []storage.LeaderboardEntry) [][]string {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			fmt.Sprintf("#%d", e.Rank),
			e.Player,
			fmt.Sprintf("%d", e.Wins),
			fmt.Sprintf("%d", e.Losses),
			fmt.Sprintf("%d", e.BestScore),
			fmt.Sprintf("%d", e.TotalLines),
		}
	}
	return rows
}

func historyRows(player string, matches []storage.MatchRecord) [][]string {
	rows := make([][]string, len(matches))
	for i, m := range matches {
		result, opponent, score, oppScore := "L", m.Winner, m.LoserScore, m.WinnerScore
		if m.Winner == player {
			result, opponent, score, oppScore = "W", m.Loser, m.WinnerScore, m.LoserScore
		}
		rows[i] = []string{
			m.CreatedAt.Format("2006-01-02 15:04"),
			result,
			opponent,
			fmt.Sprintf("%d-%d", score, oppScore),
			m.Reason,
			fmt.Sprintf("%ds", m.DurationSecs),
		}
	}
	return rows
}
