// Package studio is the terminal front end of the recording session. It reads
// controller snapshots and maps keys to the controller's operations.
package studio

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/osa030/cantovox/internal/app/elapsed"
	"github.com/osa030/cantovox/internal/app/session/state"
	"github.com/osa030/cantovox/internal/domain/voice"
)

// Session is the part of the controller the view drives.
type Session interface {
	Snapshot() state.Snapshot
	Updates() <-chan state.Snapshot
	BeginRecording() error
	StopRecording() error
	TrainModel() error
	Reset() error
}

// ProgressView exposes the latest progress event, if any.
type ProgressView interface {
	Latest() (voice.ProgressEvent, bool)
}

// snapshotMsg carries a controller snapshot into the update loop.
type snapshotMsg state.Snapshot

// updatesClosedMsg is sent when the snapshot channel is closed.
type updatesClosedMsg struct{}

// Model is the bubbletea model for the studio screen.
type Model struct {
	session  Session
	progress ProgressView
	styles   *Styles
	spinner  spinner.Model

	snapshot state.Snapshot
	status   string // last rejected intent
	width    int
	quitting bool
}

// New creates a studio model. progress may be nil.
func New(session Session, progress ProgressView) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorBlue)

	return Model{
		session:  session,
		progress: progress,
		styles:   NewStyles(),
		spinner:  s,
		snapshot: session.Snapshot(),
	}
}

// Init starts the spinner and the snapshot listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForSnapshot(m.session.Updates()),
	)
}

// waitForSnapshot blocks on the next snapshot from the controller.
func waitForSnapshot(updates <-chan state.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return updatesClosedMsg{}
		}
		return snapshotMsg(s)
	}
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.snapshot = state.Snapshot(msg)
		return m, waitForSnapshot(m.session.Updates())

	case updatesClosedMsg:
		m.snapshot = m.session.Snapshot()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "r", " ":
		if m.snapshot.Phase == state.PhaseRecording {
			err = m.session.StopRecording()
		} else {
			err = m.session.BeginRecording()
		}
	case "t":
		err = m.session.TrainModel()
	case "x":
		err = m.session.Reset()
	default:
		return m, nil
	}

	m.status = ""
	if err != nil {
		m.status = err.Error()
	}
	m.snapshot = m.session.Snapshot()
	return m, nil
}

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	s := m.styles
	snap := m.snapshot

	var b strings.Builder
	b.WriteString(s.Title.Render("Cantonese Voice Studio"))
	b.WriteString("\n\n")

	phase := s.Phase(snap.Phase).Render(phaseLabel(snap))
	if snap.Busy() {
		phase = m.spinner.View() + " " + phase
	}
	m.row(&b, "Phase", phase)

	if snap.Phase == state.PhaseRecording {
		m.row(&b, "Elapsed", s.Value.Render(fmt.Sprintf("%s / %s",
			elapsed.Format(snap.ElapsedSeconds),
			elapsed.Format(int(voice.CaptureDuration.Seconds())))))
	}
	m.row(&b, "Sample", m.optional(string(snap.AudioHandle)))
	m.row(&b, "Model", m.optional(string(snap.ModelHandle)))
	if snap.Phase == state.PhaseFailed {
		m.row(&b, "Error", s.Error.Render(snap.ErrorDetail))
	}
	if line := m.progressLine(); line != "" {
		m.row(&b, "Progress", s.Muted.Render(line))
	}

	b.WriteString("\n")
	b.WriteString(m.keyHints())
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(s.Status.Render(m.status))
	}

	frame := s.Frame
	if m.width > 0 {
		frame = frame.MaxWidth(m.width)
	}
	return frame.Render(b.String())
}

func (m Model) row(b *strings.Builder, label, value string) {
	b.WriteString(m.styles.Label.Render(label))
	b.WriteString(value)
	b.WriteString("\n")
}

func (m Model) optional(v string) string {
	if v == "" {
		return m.styles.Muted.Render("-")
	}
	return m.styles.Value.Render(v)
}

func (m Model) progressLine() string {
	if m.progress == nil {
		return ""
	}
	e, ok := m.progress.Latest()
	if !ok {
		return ""
	}
	r := e.Report()
	if r.Stage == "" {
		return ""
	}
	if r.Status == voice.StatusFailed && r.Error != "" {
		return fmt.Sprintf("%s failed: %s", r.Stage, r.Error)
	}
	line := fmt.Sprintf("%s %.0f%%", r.Stage, r.Percent)
	if r.Message != "" {
		line += " " + r.Message
	}
	return line
}

func (m Model) keyHints() string {
	snap := m.snapshot
	recordLabel := "record"
	recordEnabled := snap.CanRecord()
	if snap.Phase == state.PhaseRecording {
		recordLabel = "stop"
		recordEnabled = snap.CanStop()
	}

	hints := []string{
		m.hint("r", recordLabel, recordEnabled),
		m.hint("t", "train", snap.CanTrain()),
		m.hint("x", "reset", snap.Phase != state.PhaseRecording && snap.Phase != state.PhaseIdle),
		m.hint("q", "quit", true),
	}
	return strings.Join(hints, "  ")
}

func (m Model) hint(key, label string, enabled bool) string {
	if !enabled {
		return m.styles.Disabled.Render("[" + key + "] " + label)
	}
	return m.styles.Key.Render("["+key+"]") + " " + m.styles.Hint.Render(label)
}

func phaseLabel(s state.Snapshot) string {
	switch {
	case s.Phase == state.PhaseRecording && s.Stopping:
		return "Stopping…"
	case s.Phase == state.PhaseRecording:
		return "Recording"
	case s.Phase == state.PhaseCaptured:
		return "Sample captured"
	case s.Phase == state.PhaseTraining:
		return "Training…"
	case s.Phase == state.PhaseCompleted:
		return "Model ready"
	case s.Phase == state.PhaseFailed:
		return "Failed"
	default:
		return "Ready"
	}
}
