// ABOUTME: Bubbletea model for the diagnostics TUI
// ABOUTME: Polls tap, device and room counters and renders fill levels and drop counts
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Resonate-Protocol/coview-go/internal/transmit"
	"github.com/Resonate-Protocol/coview-go/pkg/device"
	"github.com/Resonate-Protocol/coview-go/pkg/media"
	"github.com/Resonate-Protocol/coview-go/pkg/tap"
)

// DefaultInterval is how often the model polls for a snapshot
const DefaultInterval = 250 * time.Millisecond

// volumeStep is the change per key press
const volumeStep = 5

// Snapshot is everything the TUI shows. Nil sections are not running.
type Snapshot struct {
	Title  string
	Artist string
	Tap    *tap.Stats
	Device *device.Stats
	Room   *transmit.RoomStats
	Client *transmit.ClientStats
	Player *media.PlayerStats
}

// Controls is what the TUI can change
type Controls interface {
	SetVolume(volume int)
	SetMuted(muted bool)
	Volume() int
	Muted() bool
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	helpStyle = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	name     string
	poll     func() Snapshot
	controls Controls
	interval time.Duration

	snap      Snapshot
	volume    int
	muted     bool
	showDebug bool
	quitting  bool
	started   time.Time
}

type tickMsg time.Time

// SnapshotMsg replaces the displayed counters
type SnapshotMsg Snapshot

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts polling
func (m Model) Init() tea.Cmd {
	return m.tick()
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tickMsg:
		if m.poll != nil {
			m.snap = m.poll()
		}
		m.syncControls()
		return m, m.tick()
	case SnapshotMsg:
		m.snap = Snapshot(msg)
		m.syncControls()
	}
	return m, nil
}

// syncControls picks up changes made outside the TUI
func (m *Model) syncControls() {
	if m.controls != nil {
		m.volume = m.controls.Volume()
		m.muted = m.controls.Muted()
	}
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "up", "+":
		m.volume = min(m.volume+volumeStep, 100)
		if m.controls != nil {
			m.controls.SetVolume(m.volume)
		}
	case "down", "-":
		m.volume = max(m.volume-volumeStep, 0)
		if m.controls != nil {
			m.controls.SetVolume(m.volume)
		}
	case "m":
		m.muted = !m.muted
		if m.controls != nil {
			m.controls.SetMuted(m.muted)
		}
	case "d":
		m.showDebug = !m.showDebug
	}
	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Stopping...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.name))
	b.WriteString("\n")

	m.renderNowPlaying(&b)
	m.renderDevice(&b)
	m.renderTap(&b)
	m.renderRoom(&b)
	if m.showDebug {
		m.renderDebug(&b)
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓:Volume  m:Mute  d:Debug  q:Quit"))
	return b.String()
}

func field(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(name + ": "))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func (m Model) renderNowPlaying(b *strings.Builder) {
	playing := m.snap.Title
	if m.snap.Artist != "" {
		playing = m.snap.Artist + " - " + m.snap.Title
	}
	if playing == "" {
		playing = "Nothing"
	}
	field(b, "Playing", truncate(playing, 48))

	vol := fmt.Sprintf("[%s] %d%%", renderBar(m.volume, 100, 10), m.volume)
	if m.muted {
		vol += " (muted)"
	}
	field(b, "Volume", vol)

	if p := m.snap.Player; p != nil {
		field(b, "Chunks", fmt.Sprintf("%d (%d silent)", p.Chunks, p.SilentChunks))
	}
	b.WriteString("\n")
}

func (m Model) renderDevice(b *strings.Builder) {
	d := m.snap.Device
	b.WriteString(sectionStyle.Render("Device"))
	b.WriteString("\n")
	if d == nil {
		b.WriteString(valueStyle.Render("  not open"))
		b.WriteString("\n\n")
		return
	}
	state := "stopped"
	if d.Running {
		state = "running"
	}
	field(b, "  Backend", fmt.Sprintf("%s (%s)", d.Backend, state))
	field(b, "  Callbacks", fmt.Sprintf("render %d  capture %d", d.RenderCalls, d.CaptureCalls))
	if d.Outbound != nil {
		field(b, "  Outbound", fmt.Sprintf("%d bytes  overruns %d  underruns %d", d.OutboundFill, d.Outbound.Overruns, d.Outbound.Underruns))
	}
	if d.DeliverErrors > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  %d deliveries failed", d.DeliverErrors)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func (m Model) renderTap(b *strings.Builder) {
	t := m.snap.Tap
	b.WriteString(sectionStyle.Render("Tap"))
	b.WriteString("\n")
	if t == nil {
		b.WriteString(valueStyle.Render("  none"))
		b.WriteString("\n\n")
		return
	}
	field(b, "  State", t.State.String())
	if t.Source.Channels > 0 {
		field(b, "  Source", t.Source.String())
	}
	renderDirection(b, "  Render", t.Render)
	renderDirection(b, "  Capture", t.Capture)
	if t.SilentCalls > 0 || t.ConvertErrors > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  silent %d of %d  convert errors %d", t.SilentCalls, t.ProcessCalls, t.ConvertErrors)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func renderDirection(b *strings.Builder, name string, d *tap.DirectionStats) {
	if d == nil {
		return
	}
	fill := 0
	if d.Capacity > 0 {
		fill = d.Fill * 100 / d.Capacity
	}
	primed := ""
	if !d.Primed {
		primed = "  priming"
	}
	field(b, name, fmt.Sprintf("[%s] %3d%%  over %d  under %d  dropped %d%s",
		renderBar(fill, 100, 10), fill, d.Overruns, d.Underruns, d.DroppedFrames, primed))
}

func (m Model) renderRoom(b *strings.Builder) {
	c := m.snap.Client
	r := m.snap.Room
	if c == nil && r == nil {
		return
	}
	b.WriteString(sectionStyle.Render("Room"))
	b.WriteString("\n")
	if c != nil {
		status := "disconnected"
		if c.Connected {
			status = fmt.Sprintf("connected, %d participants", c.Participants)
		}
		field(b, "  Relay", status)
	}
	if r != nil {
		if len(r.Streams) == 0 {
			b.WriteString(valueStyle.Render("  no remote streams"))
			b.WriteString("\n")
		}
		for _, s := range r.Streams {
			b.WriteString(fmt.Sprintf("  • %s", truncate(s.From, 12)))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, slot %d, %d bytes, under %d)", s.Codec, s.Slot, s.Fill, s.Underruns)))
			b.WriteString("\n")
		}
	}
}

func (m Model) renderDebug(b *strings.Builder) {
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Debug"))
	b.WriteString("\n")
	field(b, "  Uptime", time.Since(m.started).Round(time.Second).String())
	if d := m.snap.Device; d != nil {
		field(b, "  Device", d.ID)
		field(b, "  Bound tap", d.Tap)
	}
	if c := m.snap.Client; c != nil {
		field(b, "  Sent", fmt.Sprintf("%d chunks, %d bytes", c.SentChunks, c.SentBytes))
		field(b, "  Received", fmt.Sprintf("%d bytes", c.ReceivedBytes))
	}
	if r := m.snap.Room; r != nil {
		field(b, "  Room chunks", fmt.Sprintf("%d  decode errors %d  unknown slots %d", r.Chunks, r.DecodeErrors, r.UnknownSlots))
	}
}

func renderBar(value, max, width int) string {
	filled := min(value*width/max, width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
