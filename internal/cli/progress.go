package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/batchsub/internal/service"
	"golang.org/x/term"
)

const tickInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Warning    lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Warning:    lipgloss.Color("#FFAF00"), // amber
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg refreshes the elapsed time
type tickMsg time.Time

// progressMsg carries a queue report from the submitter
type progressMsg service.Progress

// runDoneMsg carries the outcome of the run
type runDoneMsg struct {
	res *service.Result
	err error
}

// drainModel is the bubbletea model for a local run.
type drainModel struct {
	progress progress.Model
	theme    Theme
	state    *service.Progress
	started  time.Time
	cancel   context.CancelFunc
	done     bool
	quitting bool
}

// newDrainModel creates a new progress model.
func newDrainModel(cancel context.CancelFunc) drainModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return drainModel{
		progress: prog,
		theme:    defaultTheme,
		started:  time.Now(),
		cancel:   cancel,
	}
}

// Init returns the initial command.
func (m drainModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m drainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Stop waiting; the run returns once it sees the cancellation.
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickCmd()

	case progressMsg:
		p := service.Progress(msg)
		m.state = &p
		return m, nil

	case runDoneMsg:
		m.done = true
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m drainModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m drainModel) renderContent() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nStopped waiting. Running jobs continue; check their logs.\n")
	}
	if m.done {
		return ""
	}

	elapsed := time.Since(m.started).Round(time.Second)
	if m.state == nil {
		return fmt.Sprintf("%s %s\n",
			m.theme.statusStyle().Render("[discovering]"),
			m.theme.hintStyle().Render(elapsed.String()))
	}

	var pct float64
	if m.state.Total > 0 {
		pct = float64(m.state.Finished) / float64(m.state.Total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.state.Phase))
	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d finished, %d running, %d started",
		m.state.Finished, m.state.Total, m.state.Running, m.state.Admitted)

	hint := m.theme.hintStyle().Render(fmt.Sprintf("%s elapsed. Press Ctrl+C to stop waiting (jobs keep running)", elapsed))

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

// tickCmd returns a command that sends a tick after the tick interval.
func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunDrainProgress runs sub in the background and shows the interactive
// progress UI until it finishes. Quitting the UI cancels the wait; the
// partial result is returned with the cancellation error.
func RunDrainProgress(ctx context.Context, sub *service.Submitter) (*service.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newDrainModel(cancel))
	sub.OnProgress = func(pr service.Progress) {
		p.Send(progressMsg(pr))
	}

	done := make(chan runDoneMsg, 1)
	go func() {
		res, err := sub.Run(ctx)
		msg := runDoneMsg{res: res, err: err}
		done <- msg
		p.Send(msg)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		out := <-done
		return out.res, fmt.Errorf("progress UI error: %w", err)
	}

	out := <-done
	return out.res, out.err
}

// logProgress reports queue changes as log lines when there is no terminal.
func logProgress(logger *slog.Logger) func(service.Progress) {
	var last service.Progress
	return func(p service.Progress) {
		if p == last {
			return
		}
		last = p
		logger.Info("queue status",
			"phase", p.Phase,
			"running", p.Running,
			"finished", p.Finished,
			"started", p.Admitted,
			"total", p.Total,
		)
	}
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
