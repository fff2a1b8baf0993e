// Package tui is the live terminal view of the tunnel. It reads the session
// history the connect process writes, so it works from any terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mouse/internal/storage"
	"mouse/internal/storage/models"
)

// Tab indices.
const (
	tabStatus   = 0
	tabHistory  = 1
	tabSettings = 2
	tabCount    = 3
)

// Model is the root BubbleTea model.
type Model struct {
	store storage.Storage

	// Dimensions.
	width  int
	height int

	// Navigation.
	activeTab int
	showHelp  bool

	// Session state.
	session  *models.Session
	stopping bool

	// Tab models.
	statusTab   statusModel
	historyTab  historyModel
	settingsTab settingsModel

	// Notification.
	notification    string
	notificationErr bool
	notifVersion    int

	// Spinner while waiting for a stopping session to end.
	spinner spinner.Model
}

// Deps holds all dependencies injected into the TUI.
type Deps struct {
	Storage storage.Storage
}

// NewModel creates a new root Model.
func NewModel(deps Deps) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return &Model{
		store:       deps.Storage,
		activeTab:   tabStatus,
		spinner:     s,
		statusTab:   newStatusModel(),
		historyTab:  newHistoryModel(),
		settingsTab: newSettingsModel(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		loadActiveSession(m.store),
		loadHistory(m.store),
		loadSettings(m.store),
		statusTick(),
		m.spinner.Tick,
	)
}

func (m *Model) connected() bool {
	return m.session != nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	prevNotifVersion := m.notifVersion

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		ch := m.contentHeight()
		m.statusTab.setSize(msg.Width, ch)
		m.historyTab.setSize(msg.Width, ch)
		m.settingsTab.setSize(msg.Width, ch)
		return m, nil

	case tea.KeyMsg:
		if cmd := m.handleGlobalKey(msg); cmd != nil {
			return m, cmd
		}

	// Data loading.
	case sessionLoadedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Load failed: %v", msg.err), true)
			break
		}
		ended := m.session != nil && (msg.session == nil || msg.session.ID != m.session.ID)
		m.session = msg.session
		m.statusTab.setSession(msg.session, msg.samples)
		if ended {
			if m.stopping {
				m.setNotification("Tunnel stopped", false)
			} else {
				m.setNotification("Session ended", true)
			}
			m.stopping = false
			cmds = append(cmds, loadHistory(m.store))
		}
	case historyLoadedMsg:
		if msg.err == nil {
			m.historyTab.setSessions(msg.sessions)
		}
	case settingsLoadedMsg:
		if msg.err == nil {
			m.settingsTab.setSettings(msg.settings)
		}

	// Session control.
	case stopResultMsg:
		if msg.err != nil {
			m.stopping = false
			m.setNotification(fmt.Sprintf("Disconnect failed: %v", msg.err), true)
		} else {
			m.setNotification(fmt.Sprintf("Sent stop to pid %d", msg.pid), false)
		}

	// Status polling.
	case statusTickMsg:
		cmds = append(cmds, loadActiveSession(m.store), statusTick())

	// Settings.
	case settingSavedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Save failed: %v", msg.err), true)
		} else {
			m.setNotification(fmt.Sprintf("Saved %s", msg.key), false)
		}

	// Notification.
	case clearNotificationMsg:
		if msg.version == m.notifVersion {
			m.notification = ""
			m.notificationErr = false
		}
	}

	// Spinner.
	if m.stopping {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Schedule notification auto-clear when a new notification was set.
	if m.notifVersion > prevNotifVersion && m.notification != "" {
		cmds = append(cmds, clearNotification(4*time.Second, m.notifVersion))
	}

	// Delegate to active tab.
	switch m.activeTab {
	case tabStatus:
		cmds = append(cmds, m.statusTab.Update(msg, m))
	case tabHistory:
		cmds = append(cmds, m.historyTab.Update(msg, m))
	case tabSettings:
		cmds = append(cmds, m.settingsTab.Update(msg, m))
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	label := ""
	if m.session != nil {
		label = fmt.Sprintf("%s -> %s", m.session.Interface, m.session.Remote)
	}
	header := renderHeader(m.activeTab, m.connected(), m.stopping, label, m.width)

	var content string
	switch m.activeTab {
	case tabStatus:
		content = m.statusTab.View()
	case tabHistory:
		content = m.historyTab.View()
	case tabSettings:
		content = m.settingsTab.View()
	}

	var notif string
	switch {
	case m.stopping:
		notif = m.spinner.View() + " Waiting for the tunnel to stop..."
	case m.notification != "" && m.notificationErr:
		notif = notifErrorStyle.Render("! " + m.notification)
	case m.notification != "":
		notif = notifSuccessStyle.Render("* " + m.notification)
	}

	helpText := renderHelpBar(m.showHelp)
	footer := renderFooter(helpText, m.width)

	parts := []string{header}
	if notif != "" {
		parts = append(parts, notif)
	}
	parts = append(parts, content, footer)
	output := lipgloss.JoinVertical(lipgloss.Left, parts...)

	// Force exactly m.height lines to prevent BubbleTea rendering drift.
	return forceHeight(output, m.width, m.height)
}

// forceHeight ensures the string has exactly `height` lines, each padded to `width`.
// This prevents BubbleTea from leaving ghost lines when switching tabs.
func forceHeight(s string, width, height int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	blank := strings.Repeat(" ", width)
	for len(lines) < height {
		lines = append(lines, blank)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) contentHeight() int {
	overhead := 5
	if m.showHelp {
		overhead += 3
	}
	h := m.height - overhead
	if h < 1 {
		h = 1
	}
	return h
}

func (m *Model) handleGlobalKey(msg tea.KeyMsg) tea.Cmd {
	// Don't intercept while a setting is being edited.
	if m.activeTab == tabSettings && m.settingsTab.editing {
		return nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		return nil

	case key.Matches(msg, keys.TabNext):
		m.activeTab = (m.activeTab + 1) % tabCount
		return nil

	case key.Matches(msg, keys.TabPrev):
		m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		return nil

	case key.Matches(msg, keys.Disconnect):
		if m.connected() && !m.stopping {
			m.stopping = true
			return tea.Batch(stopSession(m.session.PID), m.spinner.Tick)
		}
		return nil

	case key.Matches(msg, keys.Refresh):
		return tea.Batch(
			loadActiveSession(m.store),
			loadHistory(m.store),
			loadSettings(m.store),
		)
	}

	return nil
}

func (m *Model) setNotification(text string, isErr bool) {
	m.notification = text
	m.notificationErr = isErr
	m.notifVersion++
}

// NewProgram creates a bubbletea program with alt screen.
func NewProgram(deps Deps) *tea.Program {
	return tea.NewProgram(NewModel(deps), tea.WithAltScreen())
}
