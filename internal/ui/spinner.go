package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// SpinnerState represents the current state of a spinner.
type SpinnerState int

const (
	SpinnerPending SpinnerState = iota
	SpinnerInProgress
	SpinnerSuccess
	SpinnerFailed
)

// Spinner is a single status line that animates while a fetch runs and is
// replaced by a ✓/✗ line with the elapsed time when it ends.
type Spinner struct {
	mu      sync.Mutex
	w       io.Writer
	label   string
	state   SpinnerState
	frame   int
	started time.Time
	width   int // printed width of the current line
	stop    chan struct{}
	done    chan struct{}
}

// NewSpinner creates a spinner writing to w.
func NewSpinner(label string, w io.Writer) *Spinner {
	return &Spinner{label: label, w: w}
}

// Start begins the animation. Calling it twice has no effect.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SpinnerInProgress {
		return
	}
	s.state = SpinnerInProgress
	s.started = time.Now()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.drawLocked()

	go s.loop(s.stop, s.done)
}

// Stop halts the animation and leaves the state as it is.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Success stops the spinner and marks it as successful.
func (s *Spinner) Success() { s.finish(SpinnerSuccess) }

// Fail stops the spinner and marks it as failed.
func (s *Spinner) Fail() { s.finish(SpinnerFailed) }

// State returns the current spinner state.
func (s *Spinner) State() SpinnerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Spinner) finish(state SpinnerState) {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state

	symbol, style := SymbolComplete, SuccessStyle()
	if state == SpinnerFailed {
		symbol, style = SymbolFail, ErrorStyle()
	}
	elapsed := time.Duration(0)
	if !s.started.IsZero() {
		elapsed = time.Since(s.started)
	}

	s.clearLocked()
	fmt.Fprintf(s.w, "%s %s %s\n", style.Render(symbol), s.label, MutedStyle().Render(formatDuration(elapsed)))
}

func (s *Spinner) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(SpinnerFrames.FPS)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.frame = (s.frame + 1) % len(SpinnerFrames.Frames)
			s.drawLocked()
			s.mu.Unlock()
		}
	}
}

// drawLocked rewrites the line with the current frame. Callers hold s.mu.
func (s *Spinner) drawLocked() {
	frame := lipgloss.NewStyle().Foreground(ColorSecondary).Render(SpinnerFrames.Frames[s.frame])
	line := fmt.Sprintf("%s %s... %s", frame, s.label, MutedStyle().Render(formatDuration(time.Since(s.started))))

	s.clearLocked()
	fmt.Fprint(s.w, line)
	s.width = lipgloss.Width(line)
}

func (s *Spinner) clearLocked() {
	if s.width == 0 {
		return
	}
	fmt.Fprint(s.w, "\r"+strings.Repeat(" ", s.width)+"\r")
	s.width = 0
}

// formatDuration formats a duration for display (e.g., "0.05s", "1.2s").
func formatDuration(d time.Duration) string {
	secs := d.Seconds()
	if secs < 0.1 {
		return fmt.Sprintf("%.2fs", secs)
	}
	return fmt.Sprintf("%.1fs", secs)
}
