package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mouse/internal/storage/models"
)

type statusModel struct {
	width  int
	height int

	session *models.Session
	samples []*models.Sample // oldest first
	loss    progress.Model
}

func newStatusModel() statusModel {
	return statusModel{
		loss: progress.New(
			progress.WithDefaultGradient(),
			progress.WithoutPercentage(),
		),
	}
}

func (sm *statusModel) setSize(w, h int) {
	sm.width = w
	sm.height = h
	sm.loss.Width = max(w/3, 10)
}

func (sm *statusModel) setSession(session *models.Session, samples []*models.Sample) {
	sm.session = session
	sm.samples = samples
}

func (sm *statusModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	return nil
}

func (sm *statusModel) View() string {
	var content string
	if sm.session == nil {
		content = sm.viewDisconnected()
	} else {
		content = sm.viewConnected()
	}
	return forceHeight(content, sm.width, sm.height)
}

func (sm *statusModel) viewDisconnected() string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		cardTitleStyle.Render("Tunnel Status"),
		"",
		lipgloss.NewStyle().Foreground(colorDimFg).Render("Not connected"),
		"",
		dimStyle.Render("Run 'sudo mouse connect' to start a tunnel"),
	)

	w := sm.width - 6
	if w < 30 {
		w = 30
	}
	return cardStyle.Width(w).Render(content)
}

func (sm *statusModel) viewConnected() string {
	s := sm.session
	local := s.Local
	if local == "" {
		local = "(bound on first packet)"
	}

	connRows := []string{
		sm.row("Status", successStyle.Render("Connected")),
		sm.row("Interface", s.Interface),
		sm.row("Queues", fmt.Sprintf("%d", s.Queues)),
		sm.row("Remote", s.Remote),
		sm.row("Local", local),
		sm.row("Started", s.StartedAt.Local().Format("15:04:05")),
		sm.row("Uptime", formatDuration(time.Since(s.StartedAt))),
		sm.row("PID", fmt.Sprintf("%d", s.PID)),
	}
	connCard := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{cardTitleStyle.Render("Session")}, connRows...)...,
	)

	sections := []string{connCard}
	if len(sm.samples) > 0 {
		latest := sm.samples[len(sm.samples)-1]
		r := rates(sm.samples)
		ratio := lossRatio(latest)
		statsRows := []string{
			sm.row("Sent", fmt.Sprintf("%s (%d pkts)", formatBytes(latest.TxBytes), latest.TxPackets)),
			sm.row("Received", fmt.Sprintf("%s (%d pkts)", formatBytes(latest.RxBytes), latest.RxPackets)),
			sm.row("Up Speed", formatBytes(r.txBytes)+"/s"),
			sm.row("Down Speed", formatBytes(r.rxBytes)+"/s"),
			sm.row("Dropped", lossStyle(ratio).Render(fmt.Sprintf("%d (%.1f%%)", latest.Dropped, ratio*100))),
			sm.row("Loss", sm.loss.ViewAs(ratio)),
		}
		if latest.Errors > 0 {
			statsRows = append(statsRows, sm.row("Errors", errorStyle.Render(fmt.Sprintf("%d", latest.Errors))))
		}
		statsRows = append(statsRows, sm.row("Sampled", latest.TakenAt.Local().Format("15:04:05")))

		statsCard := lipgloss.JoinVertical(lipgloss.Left,
			append([]string{cardTitleStyle.Render("Traffic")}, statsRows...)...,
		)
		sections = append(sections, statsCard)
	} else {
		sections = append(sections, lipgloss.JoinVertical(lipgloss.Left,
			cardTitleStyle.Render("Traffic"),
			warningStyle.Render("No samples yet"),
		))
	}

	// Layout: side by side if wide enough.
	w := sm.width - 6
	if w < 30 {
		w = 30
	}

	if sm.width > 80 {
		halfW := (w - 4) / 2
		left := cardStyle.Width(halfW).Render(sections[0])
		right := cardStyle.Width(halfW).Render(sections[1])
		return lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)
	}

	var rendered []string
	for _, s := range sections {
		rendered = append(rendered, cardStyle.Width(w).Render(s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rendered...)
}

func (sm *statusModel) row(label, value string) string {
	return cardLabelStyle.Render(label+":") + " " + cardValueStyle.Render(value)
}

type rate struct {
	txBytes uint64
	rxBytes uint64
}

// rates derives per-second byte rates from the last two samples.
func rates(samples []*models.Sample) rate {
	if len(samples) < 2 {
		return rate{}
	}
	prev, last := samples[len(samples)-2], samples[len(samples)-1]
	secs := last.TakenAt.Sub(prev.TakenAt).Seconds()
	if secs <= 0 || last.TxBytes < prev.TxBytes || last.RxBytes < prev.RxBytes {
		return rate{}
	}
	return rate{
		txBytes: uint64(float64(last.TxBytes-prev.TxBytes) / secs),
		rxBytes: uint64(float64(last.RxBytes-prev.RxBytes) / secs),
	}
}

// lossRatio is dropped packets over everything the tunnel saw.
func lossRatio(s *models.Sample) float64 {
	total := s.TxPackets + s.RxPackets + s.Dropped
	if total == 0 {
		return 0
	}
	return float64(s.Dropped) / float64(total)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
