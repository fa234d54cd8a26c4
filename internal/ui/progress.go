package ui

import (
	"fmt"
	"strings"

	"github.com/canflash/usb2can/pkg/bootloader"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const progressWidth = 40

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)
	barFullStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	barEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

// ProgressMsg carries an upload progress report to the program
type ProgressMsg bootloader.Progress

// DoneMsg ends the program with the upload result
type DoneMsg bootloader.Result

// UploadModel is the bubbletea model of a running upload
type UploadModel struct {
	title    string
	progress bootloader.Progress
	status   Status
	done     bool
	cancel   func()
}

// NewUploadModel, cancel is called when the user quits before the end
func NewUploadModel(title string, total int, cancel func()) UploadModel {
	return UploadModel{
		title:    title,
		progress: bootloader.Progress{Phase: bootloader.PhaseHandshake, Total: total},
		status:   Status{Text: "waiting for bootloader", Severity: Info},
		cancel:   cancel,
	}
}

func (m UploadModel) Init() tea.Cmd {
	return nil
}

func (m UploadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.done && m.cancel != nil {
				m.cancel()
				m.status = Status{Text: "cancelling upload", Severity: Warning}
				return m, nil
			}
			return m, tea.Quit
		}
	case ProgressMsg:
		m.progress = bootloader.Progress(msg)
		if m.progress.Phase == bootloader.PhaseStreaming {
			m.status = Status{Text: fmt.Sprintf("uploading, frame %d/%d", m.progress.Frames, m.progress.TotalFrames), Severity: Info}
		}
	case DoneMsg:
		m.done = true
		result := bootloader.Result(msg)
		m.progress.BytesSent = result.BytesSent
		m.status = StatusFromError("upload", fmt.Sprintf("firmware uploaded (%d bytes)", result.Total), result.Err)
		return m, tea.Quit
	}
	return m, nil
}

func (m UploadModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(Bar(m.progress.Percentage(), progressWidth))
	fmt.Fprintf(&b, " %5.1f%%  %d/%d bytes\n", m.progress.Percentage(), m.progress.BytesSent, m.progress.Total)
	b.WriteString(m.status.Render())
	b.WriteString("\n")
	if !m.done {
		b.WriteString(dimStyle.Render("q to cancel"))
		b.WriteString("\n")
	}
	return b.String()
}

// Status of the upload as last reported
func (m UploadModel) Status() Status {
	return m.status
}

func (m UploadModel) Done() bool {
	return m.done
}

// Bar draws a progress bar of width cells for a 0 to 100 percentage
func Bar(percentage float64, width int) string {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	full := int(percentage * float64(width) / 100)
	return barFullStyle.Render(strings.Repeat("█", full)) +
		barEmptyStyle.Render(strings.Repeat("░", width-full))
}
