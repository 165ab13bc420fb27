// ABOUTME: Bubbletea model for the speech player TUI
// ABOUTME: Defines displayed playback state and key handling
package ui

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/resonate-tts/pkg/playback"
	tea "github.com/charmbracelet/bubbletea"
)

// Model represents the TUI state
type Model struct {
	// Backend
	controlURL string

	// Session
	sessionID string
	text      string
	state     playback.PlayerState
	lastErr   string
	finished  int

	// Playback
	volume int
	muted  bool

	// Stats
	received  int64
	scheduled int64
	late      int64
	buffered  time.Duration

	// Debug
	showDebug bool

	controls *Controls

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderSession()
	s += m.renderControls()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders backend and player state
func (m Model) renderHeader() string {
	backend := "(discovering)"
	if m.controlURL != "" {
		backend = truncate(m.controlURL, 45)
	}

	return fmt.Sprintf(`┌─ Resonate TTS ───────────────────────────────────────┐
│ Backend: %-44s │
│ State:   %s %-42s │
├──────────────────────────────────────────────────────┤
`, backend, stateIcon(m.state), m.state)
}

// renderSession renders the current utterance
func (m Model) renderSession() string {
	if m.sessionID == "" {
		return "│ Nothing playing                                      │\n"
	}

	s := fmt.Sprintf("│ Speaking: %-42s │\n", truncate(m.text, 42))
	if m.lastErr != "" {
		s += fmt.Sprintf("│ Error:    %-42s │\n", truncate(m.lastErr, 42))
	}
	return s
}

// renderControls renders volume and buffer status
func (m Model) renderControls() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " 🔇"
	}

	volumeBar := renderBar(m.volume, 100, 10)

	return fmt.Sprintf("│                                                      │\n"+
		"│ Volume: [%s] %d%%%s%-17s │\n"+
		"│ Ahead:  %-44s │\n",
		volumeBar, m.volume, muteIcon, "",
		m.buffered.Round(time.Millisecond))
}

// renderStats renders playback statistics
func (m Model) renderStats() string {
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Stats:  RX: %d  Scheduled: %d  Late: %d%-8s │
│                                                      │
`, m.received, m.scheduled, m.late, "")
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ ↑/↓:Volume  m:Mute  s:Stop  r:Replay  d:Debug  q:Quit│
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Session: %-41s │
│   Finished utterances: %-29d │
`, m.sessionID, m.finished)
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.notify("quit")
		return m, tea.Quit
	case "up":
		if m.volume < 100 {
			m.volume = min(m.volume+5, 100)
			m.sendVolume()
		}
	case "down":
		if m.volume > 0 {
			m.volume = max(m.volume-5, 0)
			m.sendVolume()
		}
	case "m":
		m.muted = !m.muted
		m.sendVolume()
	case "s":
		m.controls.notify("stop")
	case "r":
		m.controls.notify("replay")
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m Model) sendVolume() {
	m.controls.volume(VolumeChangeMsg{Volume: m.volume, Muted: m.muted})
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.ControlURL != "" {
		m.controlURL = msg.ControlURL
	}
	if msg.SessionID != "" {
		if msg.SessionID != m.sessionID {
			m.lastErr = ""
			m.received, m.scheduled, m.late, m.buffered = 0, 0, 0, 0
		}
		m.sessionID = msg.SessionID
		m.text = msg.Text
	}
	if msg.State != nil {
		m.state = *msg.State
	}
	if msg.Err != nil {
		m.lastErr = msg.Err.Error()
	}
	if msg.Finished {
		m.finished++
	}
	if msg.Volume != 0 {
		m.volume = msg.Volume
	}
	if msg.Stats != nil {
		m.received = msg.Stats.Received
		m.scheduled = msg.Stats.Scheduled
		m.late = msg.Stats.Late
		m.buffered = msg.Buffered
	}
}

// StatusMsg updates TUI state
type StatusMsg struct {
	ControlURL string
	SessionID  string
	Text       string
	State      *playback.PlayerState
	Err        error
	Finished   bool
	Volume     int
	Stats      *playback.SchedulerStats
	Buffered   time.Duration
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func stateIcon(state playback.PlayerState) string {
	switch state {
	case playback.StatePlaying:
		return "▶"
	case playback.StateLoading:
		return "…"
	case playback.StateStopping:
		return "■"
	default:
		return "·"
	}
}
