package chat

import "github.com/charmbracelet/lipgloss"

var (
	colorInk       = lipgloss.Color("16")
	colorPaper     = lipgloss.Color("230")
	colorHarbor    = lipgloss.Color("24")
	colorDeck      = lipgloss.Color("235")
	colorHold      = lipgloss.Color("233")
	colorContainer = lipgloss.Color("208")
	colorSea       = lipgloss.Color("38")
	colorAlarm     = lipgloss.Color("203")
	colorMuted     = lipgloss.Color("245")
	colorGo        = lipgloss.Color("114")
)

// card is a titled message box.
type card struct {
	title lipgloss.Style
	body  lipgloss.Style
}

func newCard(accent lipgloss.Color, background lipgloss.Color) card {
	return card{
		title: lipgloss.NewStyle().Bold(true).Foreground(colorInk).Background(accent).Padding(0, 1),
		body: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(accent).
			Background(background).
			Padding(0, 1),
	}
}

func (c card) render(label string, width int, content string) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		c.title.Render(label),
		c.body.Width(width).Render(content),
	)
}

type theme struct {
	header   lipgloss.Style
	meta     lipgloss.Style
	rule     lipgloss.Style
	bootLine lipgloss.Style
	bootDone lipgloss.Style
	question card
	estimate card
	failure  card
	status   lipgloss.Style
	busy     lipgloss.Style
	alarm    lipgloss.Style
	hint     lipgloss.Style
	prompt   lipgloss.Style
	input    lipgloss.Style
	log      lipgloss.Style
}

func defaultTheme() theme {
	failure := newCard(colorAlarm, lipgloss.Color("52"))
	failure.body = failure.body.Foreground(colorAlarm)

	return theme{
		header:   lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(colorPaper).Background(colorHarbor),
		meta:     lipgloss.NewStyle().Foreground(colorMuted),
		rule:     lipgloss.NewStyle().Foreground(colorHarbor),
		bootLine: lipgloss.NewStyle().Foreground(colorSea),
		bootDone: lipgloss.NewStyle().Foreground(colorGo).Bold(true),
		question: newCard(colorContainer, colorDeck),
		estimate: newCard(colorSea, colorHold),
		failure:  failure,
		status:   lipgloss.NewStyle().Foreground(colorMuted).Bold(true),
		busy:     lipgloss.NewStyle().Foreground(colorContainer).Bold(true),
		alarm:    lipgloss.NewStyle().Foreground(colorAlarm).Bold(true),
		hint:     lipgloss.NewStyle().Foreground(colorMuted),
		prompt:   lipgloss.NewStyle().Bold(true).Foreground(colorPaper),
		input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorContainer).
			Padding(0, 1),
		log: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorHarbor).
			Background(colorHold).
			Padding(0, 1),
	}
}
