package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// PromptFunc answers one question. imagePath is empty for text questions.
type PromptFunc func(ctx context.Context, prompt string, imagePath string) (string, error)

// RuntimeInfo is shown in the header.
type RuntimeInfo struct {
	Identifier string
	Estimator  string
	Knowledge  string
}

func RunInteractive(ctx context.Context, promptFn PromptFunc, info RuntimeInfo) error {
	model := newModel(ctx, promptFn, modeInteractive, "", "", info)
	program := tea.NewProgram(model, tea.WithMouseCellMotion())
	_, err := program.Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

func RunOneShot(ctx context.Context, promptFn PromptFunc, prompt string, imagePath string, info RuntimeInfo) error {
	model := newModel(ctx, promptFn, modeOneShot, prompt, imagePath, info)
	program := tea.NewProgram(model)
	_, err := program.Run()
	return err
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(1, 2)

	return style.Render("📦 Thanks for using freightdesk")
}
