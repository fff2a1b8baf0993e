package cli

import "github.com/charmbracelet/lipgloss"

var (
	colorGreen = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	colorRed   = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#FF4672"}
	colorAmber = lipgloss.AdaptiveColor{Light: "#FF8C00", Dark: "#FFA500"}
	colorDim   = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	colorTitle = lipgloss.AdaptiveColor{Light: "#7B2FBE", Dark: "#B97EFF"}
)

var (
	titleText = lipgloss.NewStyle().Bold(true).Foreground(colorTitle)
	labelText = lipgloss.NewStyle().Foreground(colorDim).Width(12)
	okText    = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	warnText  = lipgloss.NewStyle().Foreground(colorAmber)
	errorText = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	dimText   = lipgloss.NewStyle().Foreground(colorDim)
)

// field renders one "Label:  value" line.
func field(label, value string) string {
	return labelText.Render(label+":") + " " + value
}
