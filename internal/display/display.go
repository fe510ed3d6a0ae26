// Package display polls the BLE manager for device list changes and draws
// the list on a text screen. It stands in for the handheld's menu loop.
package display

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Source is the read side of the BLE manager the display needs.
type Source interface {
	TakeDirty() bool
	DevicesText(capacity int) string
}

// Screen shows a block of text, replacing whatever was shown before.
type Screen interface {
	Show(text string) error
}

// Poller redraws the screen whenever the source reports a change.
type Poller struct {
	src      Source
	screen   Screen
	interval time.Duration
	capacity int

	drawn bool
}

// NewPoller creates a Poller that checks src every interval and renders at
// most capacity bytes.
func NewPoller(src Source, screen Screen, interval time.Duration, capacity int) *Poller {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &Poller{
		src:      src,
		screen:   screen,
		interval: interval,
		capacity: capacity,
	}
}

// Tick performs one poll. The first tick always draws so the placeholder
// appears before any device is found. Returns whether the screen was
// redrawn.
func (p *Poller) Tick() (bool, error) {
	dirty := p.src.TakeDirty()
	if !dirty && p.drawn {
		return false, nil
	}
	p.drawn = true
	if err := p.screen.Show(p.src.DevicesText(p.capacity)); err != nil {
		return true, fmt.Errorf("display: show: %w", err)
	}
	return true, nil
}

// Run polls until ctx is cancelled. Draw errors are logged and polling
// continues.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Tick(); err != nil {
			slog.Warn("display redraw failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TerminalScreen draws each update as a titled, bordered block on a writer.
// Colour and bold are only emitted when the writer is a terminal.
type TerminalScreen struct {
	mu    sync.Mutex
	w     io.Writer
	title lipgloss.Style
	box   lipgloss.Style
	name  string
}

// NewTerminalScreen creates a screen that writes to w.
func NewTerminalScreen(w io.Writer, title string) *TerminalScreen {
	r := lipgloss.NewRenderer(w)
	return &TerminalScreen{
		w:    w,
		name: title,
		title: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
	}
}

func (s *TerminalScreen) Show(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := lipgloss.JoinVertical(lipgloss.Left,
		s.title.Render(s.name),
		s.box.Render(strings.TrimRight(text, "\n")),
	)
	_, err := io.WriteString(s.w, out+"\n")
	return err
}
