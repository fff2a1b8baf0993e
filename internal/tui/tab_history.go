package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mouse/internal/storage/models"
)

type historyModel struct {
	table    table.Model
	sessions []*models.Session
	width    int
	height   int

	showDetail bool
}

func historyColumns(w int) []table.Column {
	remote, state := 24, 10
	if w > 100 {
		remote = w/4 - 2
		state = w/6 - 2
	}
	return []table.Column{
		{Title: "ID", Width: 5},
		{Title: "Started", Width: 17},
		{Title: "Duration", Width: 12},
		{Title: "Remote", Width: remote},
		{Title: "Sent", Width: 10},
		{Title: "Received", Width: 10},
		{Title: "State", Width: state},
	}
}

func newHistoryModel() historyModel {
	t := table.New(
		table.WithColumns(historyColumns(0)),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(colorPurple)
	s.Selected = s.Selected.
		Foreground(colorFg).
		Background(lipgloss.AdaptiveColor{Light: "#E8E0F0", Dark: "#2A1A3E"}).
		Bold(true)
	t.SetStyles(s)

	return historyModel{table: t}
}

func (hm *historyModel) setSize(w, h int) {
	hm.width = w
	hm.height = h
	hm.table.SetColumns(historyColumns(w))
	hm.adjustTableHeight()
}

// adjustTableHeight leaves room for the detail lines when they are shown.
func (hm *historyModel) adjustTableHeight() {
	overhead := 0
	if hm.showDetail {
		overhead = 3
	}
	th := hm.height - overhead
	if th < 1 {
		th = 1
	}
	hm.table.SetHeight(th)
}

func (hm *historyModel) setSessions(sessions []*models.Session) {
	hm.sessions = sessions

	rows := make([]table.Row, len(sessions))
	for i, s := range sessions {
		state := "running"
		switch {
		case !s.Active() && s.ExitError != "":
			state = "failed"
		case !s.Active():
			state = "ended"
		}
		rows[i] = table.Row{
			fmt.Sprintf("%d", s.ID),
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			formatDuration(s.Duration()),
			truncate(s.Remote, 40),
			formatBytes(s.TxBytes),
			formatBytes(s.RxBytes),
			state,
		}
	}
	hm.table.SetRows(rows)
	hm.table.GotoTop()
}

func (hm *historyModel) selectedSession() *models.Session {
	idx := hm.table.Cursor()
	if idx >= 0 && idx < len(hm.sessions) {
		return hm.sessions[idx]
	}
	return nil
}

func (hm *historyModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Enter):
			hm.showDetail = !hm.showDetail
			hm.adjustTableHeight()
			return nil
		case key.Matches(msg, keys.Back):
			if hm.showDetail {
				hm.showDetail = false
				hm.adjustTableHeight()
			}
			return nil
		}
	}

	var cmd tea.Cmd
	hm.table, cmd = hm.table.Update(msg)
	return cmd
}

func (hm *historyModel) View() string {
	var b strings.Builder
	if len(hm.sessions) == 0 {
		b.WriteString(dimStyle.Render("No sessions recorded yet"))
		return forceHeight(b.String(), hm.width, hm.height)
	}

	b.WriteString(hm.table.View())

	if s := hm.selectedSession(); hm.showDetail && s != nil {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("%s  %d queues  local %s  pid %d",
			s.Interface, s.Queues, orDash(s.Local), s.PID)))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("packets %d/%d  dropped %d  errors %d",
			s.TxPackets, s.RxPackets, s.Dropped, s.Errors)))
		b.WriteString("\n")
		if s.ExitError != "" {
			b.WriteString(errorStyle.Render("exit: " + s.ExitError))
		}
	}

	return forceHeight(b.String(), hm.width, hm.height)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "~"
}
