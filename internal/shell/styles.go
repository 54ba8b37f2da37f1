package shell

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	gruvboxFg     = lipgloss.Color("#ebdbb2")
	gruvboxRed    = lipgloss.Color("#fb4934")
	gruvboxGreen  = lipgloss.Color("#b8bb26")
	gruvboxYellow = lipgloss.Color("#fabd2f")
	gruvboxAqua   = lipgloss.Color("#8ec07c")
)

var (
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(gruvboxGreen)

	errorStyle = lipgloss.NewStyle().
			Foreground(gruvboxRed)

	noticeStyle = lipgloss.NewStyle().
			Foreground(gruvboxAqua)

	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(gruvboxYellow)

	outputStyle = lipgloss.NewStyle().
			Foreground(gruvboxFg)
)

// Prompt renders the REPL prompt for a user.
func Prompt(userID string) string {
	return promptStyle.Render(userID+"@happyphone") + outputStyle.Render(" $ ")
}

// Banner renders the REPL greeting.
func Banner() string {
	return bannerStyle.Render("HappyPhone terminal simulator") +
		outputStyle.Render("\ntype 'help' for commands, ctrl-d to exit")
}
