package prompt

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/stockway/portal/internal/serviceerr"
)

var (
	Title   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	Failure = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	Muted   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	Label   = lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("8"))
)

// Field renders an aligned "label value" line.
func Field(label, value string) string {
	return Label.Render(label) + " " + value
}

// Fail prints the message a user should see for err and returns err.
func Fail(w io.Writer, err error) error {
	_, _ = fmt.Fprintln(w, Failure.Render(serviceerr.DisplayMessage(err)))
	return err
}
