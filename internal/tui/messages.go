package tui

import (
	"mouse/internal/storage/models"
)

// Data loading messages.

type sessionLoadedMsg struct {
	session *models.Session // nil when no session is active
	samples []*models.Sample
	err     error
}

type historyLoadedMsg struct {
	sessions []*models.Session
	err      error
}

type settingsLoadedMsg struct {
	settings map[string]string
	err      error
}

// Session control messages.

type stopResultMsg struct {
	pid int
	err error
}

// Status polling messages.

type statusTickMsg struct{}

// Settings update messages.

type settingSavedMsg struct {
	key string
	err error
}

// Notification message.

type clearNotificationMsg struct {
	version int
}
