// Package prompt asks for credentials on the terminal and styles command
// output.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned when a value is missing and nobody can be asked.
var ErrNotInteractive = errors.New("not running in an interactive terminal")

// Prompter asks the user for a single value.
type Prompter interface {
	String(title, placeholder string) (string, error)
	Secret(title string) (string, error)
}

// Terminal prompts through huh forms on stdin.
type Terminal struct{}

var _ Prompter = Terminal{}

func (Terminal) String(title, placeholder string) (string, error) {
	if !ShouldPrompt() {
		return "", fmt.Errorf("%w: %s is required", ErrNotInteractive, strings.ToLower(title))
	}

	var value string
	input := huh.NewInput().
		Title(title).
		Placeholder(placeholder).
		Validate(required(title)).
		Value(&value)

	if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}

	return strings.TrimSpace(value), nil
}

// Secret reads a value without echoing it.
func (Terminal) Secret(title string) (string, error) {
	if !ShouldPrompt() {
		return "", fmt.Errorf("%w: %s is required", ErrNotInteractive, strings.ToLower(title))
	}

	var value string
	input := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Validate(required(title)).
		Value(&value)

	if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}

	return value, nil
}

// Static answers prompts from a fixed table keyed by title.
type Static map[string]string

var _ Prompter = Static{}

func (s Static) String(title, _ string) (string, error) {
	if v, ok := s[title]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s is required", ErrNotInteractive, strings.ToLower(title))
}

func (s Static) Secret(title string) (string, error) {
	return s.String(title, "")
}

// Value returns current when set and asks for it otherwise.
func Value(p Prompter, current, title, placeholder string) (string, error) {
	if current != "" {
		return current, nil
	}
	return p.String(title, placeholder)
}

// SecretValue is Value for secrets.
func SecretValue(p Prompter, current, title string) (string, error) {
	if current != "" {
		return current, nil
	}
	return p.Secret(title)
}

func required(title string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", strings.ToLower(title))
		}
		return nil
	}
}

// IsInteractive returns true if stdin is a terminal (not piped)
func IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// ShouldPrompt reports whether prompts may be shown. They are disabled in
// CI environments and when stdin is not a terminal.
func ShouldPrompt() bool {
	for _, envVar := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if os.Getenv(envVar) != "" {
			return false
		}
	}

	return IsInteractive()
}
