// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the diagnostics view
package ui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Config describes what the TUI watches
type Config struct {
	Name     string
	Poll     func() Snapshot
	Controls Controls
	Interval time.Duration
}

// NewModel creates a new TUI model
func NewModel(cfg Config) Model {
	if cfg.Name == "" {
		cfg.Name = "coview"
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	m := Model{
		name:     cfg.Name,
		poll:     cfg.Poll,
		controls: cfg.Controls,
		interval: cfg.Interval,
		volume:   100,
		started:  time.Now(),
	}
	m.syncControls()
	return m
}

// Run shows the TUI until the user quits or ctx is cancelled
func Run(ctx context.Context, cfg Config) error {
	p := tea.NewProgram(NewModel(cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
