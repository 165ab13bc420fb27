// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the channels it drives the player with
package ui

import (
	"github.com/Resonate-Protocol/resonate-tts/pkg/playback"
	tea "github.com/charmbracelet/bubbletea"
)

// VolumeChangeMsg carries a volume or mute change from the keyboard
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// StopMsg asks the player to stop all playback
type StopMsg struct{}

// ReplayMsg asks the player to speak the last text again
type ReplayMsg struct{}

// QuitMsg asks the player to exit
type QuitMsg struct{}

// Controls holds channels for keyboard commands
type Controls struct {
	Volume chan VolumeChangeMsg
	Stop   chan StopMsg
	Replay chan ReplayMsg
	Quit   chan QuitMsg
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{
		Volume: make(chan VolumeChangeMsg, 10),
		Stop:   make(chan StopMsg, 1),
		Replay: make(chan ReplayMsg, 1),
		Quit:   make(chan QuitMsg, 1),
	}
}

// notify delivers without blocking the UI; a full channel drops the request
func (c *Controls) notify(kind string) {
	if c == nil {
		return
	}
	switch kind {
	case "stop":
		select {
		case c.Stop <- StopMsg{}:
		default:
		}
	case "replay":
		select {
		case c.Replay <- ReplayMsg{}:
		default:
		}
	case "quit":
		select {
		case c.Quit <- QuitMsg{}:
		default:
		}
	}
}

func (c *Controls) volume(msg VolumeChangeMsg) {
	if c == nil {
		return
	}
	select {
	case c.Volume <- msg:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls) Model {
	return Model{
		volume:   100,
		state:    playback.StateIdle,
		controls: controls,
	}
}

// Run creates the TUI program
func Run(controls *Controls) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(controls), tea.WithAltScreen())
	return p, nil
}
