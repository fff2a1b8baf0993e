package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sys/unix"

	"mouse/internal/storage"
)

// samplesShown is how many samples the status tab keeps for rates.
const samplesShown = 2

// historyShown is how many sessions the history tab lists.
const historyShown = 100

// signalProcess delivers sig to the connect process owning a session.
var signalProcess = unix.Kill

// loadActiveSession loads the running session with its newest samples.
func loadActiveSession(store storage.Storage) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		session, err := store.GetActiveSession(ctx)
		if err != nil || session == nil {
			return sessionLoadedMsg{err: err}
		}
		samples, err := store.GetSamples(ctx, session.ID, samplesShown)
		return sessionLoadedMsg{session: session, samples: samples, err: err}
	}
}

// loadHistory fetches the most recent sessions.
func loadHistory(store storage.Storage) tea.Cmd {
	return func() tea.Msg {
		sessions, err := store.ListSessions(context.Background(), historyShown)
		return historyLoadedMsg{sessions: sessions, err: err}
	}
}

// loadSettings fetches all application settings.
func loadSettings(store storage.Storage) tea.Cmd {
	return func() tea.Msg {
		settings, err := store.GetAllSettings(context.Background())
		return settingsLoadedMsg{settings: settings, err: err}
	}
}

// stopSession asks the connect process to shut its tunnel down. It finishes
// the session row itself.
func stopSession(pid int) tea.Cmd {
	return func() tea.Msg {
		if pid <= 0 {
			return stopResultMsg{pid: pid, err: fmt.Errorf("session has no process")}
		}
		return stopResultMsg{pid: pid, err: signalProcess(pid, unix.SIGTERM)}
	}
}

// statusTick returns a tea.Cmd that fires after 2 seconds.
func statusTick() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}

// saveSetting saves a single setting.
func saveSetting(store storage.Storage, key, value string) tea.Cmd {
	return func() tea.Msg {
		err := store.SetSetting(context.Background(), key, value)
		return settingSavedMsg{key: key, err: err}
	}
}

// clearNotification returns a command that fires after a delay.
func clearNotification(d time.Duration, version int) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return clearNotificationMsg{version: version}
	})
}
