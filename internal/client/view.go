package client

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	figure "github.com/common-nighthawk/go-figure"
	"github.com/mattn/go-runewidth"
)

var homeArt = strings.TrimRight(figure.NewColorFigure("SLASH RELAY", "3-d", "green", true).String(), "\n")

func (a *App) View() string {
	var b strings.Builder

	b.WriteString(a.viewport.View())
	b.WriteString("\n")

	if a.showHelp && a.helpView != "" {
		b.WriteString(a.styles.help.Render(a.helpView))
		b.WriteString("\n")
	}

	b.WriteString(a.input.View())
	b.WriteString("\n")
	b.WriteString(a.logLineView())
	b.WriteString("\n")
	b.WriteString(a.statusLine())

	return b.String()
}

func (a *App) updateViewportContent() {
	switch a.view {
	case viewChat:
		if a.room == "" && len(a.chatHistory) == 0 {
			a.viewport.SetContent(a.homeContent())
			return
		}
		width := a.viewport.Width
		if width <= 0 {
			width = a.width
		}
		if len(a.chatHistory) == 0 {
			a.viewport.SetContent("No messages yet. Type and press Enter to send.")
		} else {
			a.viewport.SetContent(strings.Join(wrapLines(a.chatHistory, width), "\n"))
		}
		a.viewport.GotoBottom()
	case viewHelp:
		a.viewport.SetContent(a.renderHelpView())
	}
}

func (a *App) updateViewportSize() {
	if a.height == 0 {
		return
	}
	const fixed = 3
	height := a.height - fixed - a.helpHeight
	if height < 3 {
		height = 3
	}
	a.viewport.Height = height
	a.viewport.Width = a.width
}

func (a *App) updateInputWidth() {
	width := a.width
	if width <= 0 {
		width = 60
	}
	usable := width - lipgloss.Width(a.input.Prompt) - 1
	if usable < 10 {
		usable = 10
	}
	a.input.Width = usable
}

func (a *App) updateHelp() {
	value := a.input.Value()
	prefix := string(a.cfg.Prefix())
	if value == "" || !strings.HasPrefix(value, prefix) {
		a.setHelp("")
		return
	}

	token := value
	if idx := strings.IndexAny(value, " \t"); idx >= 0 {
		token = value[:idx]
	}

	bindings := a.matchingBindings(token)
	if len(bindings) == 0 {
		a.setHelp("")
		return
	}
	a.helper.Width = a.width
	a.setHelp(strings.TrimRight(a.helper.View(dynamicKeyMap{keys: bindings}), "\n"))
}

func (a *App) setHelp(view string) {
	a.showHelp = view != ""
	a.helpView = view
	a.helpHeight = countLines(view)
	a.updateViewportSize()
}

func (a *App) matchingBindings(prefix string) []key.Binding {
	prefix = strings.ToLower(prefix)
	var bindings []key.Binding
	for _, c := range a.commands {
		if strings.HasPrefix(c.trigger, prefix) {
			bindings = append(bindings, key.NewBinding(
				key.WithKeys(c.usage),
				key.WithHelp(c.usage, c.description),
			))
		}
	}
	return bindings
}

func (a *App) statusLine() string {
	status := "OFFLINE"
	style := a.styles.statusOffline
	if a.session != nil {
		status = "ONLINE"
		style = a.styles.statusOnline
	}
	room := a.room
	if room == "" {
		room = "-"
	}

	parts := []string{
		a.styles.title.Render("SlashRelay"),
		a.styles.view.Render(strings.ToUpper(a.view.String())),
		style.Render(status),
		a.styles.label.Render("Server") + ": " + a.styles.value.Render(a.serverURL),
		a.styles.label.Render("Room") + ": " + a.styles.value.Render(room),
	}
	return strings.Join(parts, " | ")
}

func (a *App) logLineView() string {
	labelStyle, bodyStyle := a.styles.logLabel, a.styles.logBody
	if a.logLine.level == logLevelError {
		labelStyle, bodyStyle = a.styles.logLabelError, a.styles.logBodyError
	}
	return labelStyle.Render(a.logLine.label) + " " + bodyStyle.Render(a.logLine.body)
}

func buildStyles() styleSet {
	base := lipgloss.NewStyle()
	return styleSet{
		title:         base.Foreground(lipgloss.Color("13")).Bold(true),
		view:          base.Foreground(lipgloss.Color("14")).Bold(true),
		statusOnline:  base.Foreground(lipgloss.Color("10")).Bold(true),
		statusOffline: base.Foreground(lipgloss.Color("9")).Bold(true),
		label:         base.Foreground(lipgloss.Color("8")),
		value:         base.Foreground(lipgloss.Color("15")),
		self:          base.Foreground(lipgloss.Color("10")),
		system:        base.Foreground(lipgloss.Color("8")).Italic(true),
		logLabel:      base.Foreground(lipgloss.Color("11")).Bold(true),
		logBody:       base.Foreground(lipgloss.Color("7")),
		logLabelError: base.Foreground(lipgloss.Color("9")).Bold(true),
		logBodyError:  base.Foreground(lipgloss.Color("9")),
		help:          base.Foreground(lipgloss.Color("12")),
	}
}

func (a *App) renderHelpView() string {
	var b strings.Builder
	b.WriteString("SlashRelay Commands\n\n")
	for _, c := range a.commands {
		b.WriteString(fmt.Sprintf("%-18s %s\n", c.usage, c.description))
	}
	b.WriteString("\nAnything else is sent to the current room. Esc returns to chat.")
	return b.String()
}

func (a *App) homeContent() string {
	p := string(a.cfg.Prefix())
	info := []string{
		"Use " + p + "connect to reach the relay.",
		"Use " + p + "join <room> to enter a room.",
		"Use " + p + "leave to step out again.",
		"Use " + p + "help to browse all commands.",
	}
	return homeArt + "\n\n" + strings.Join(info, "\n")
}

func wrapLines(lines []string, width int) []string {
	if width <= 0 {
		return lines
	}
	const minWidth = 10
	if width < minWidth {
		width = minWidth
	}

	wrapped := make([]string, 0, len(lines))
	for _, line := range lines {
		segment := line
		if segment == "" {
			wrapped = append(wrapped, "")
			continue
		}
		for len(segment) > 0 {
			if runewidth.StringWidth(segment) <= width {
				wrapped = append(wrapped, segment)
				break
			}
			cut := wrapCutIndex(segment, width)
			part := strings.TrimRight(segment[:cut], " ")
			if part == "" && cut > 0 {
				part = segment[:cut]
			}
			wrapped = append(wrapped, part)
			segment = strings.TrimLeft(segment[cut:], " ")
		}
	}
	return wrapped
}

func wrapCutIndex(s string, limit int) int {
	var width int
	lastSpace := -1
	for i, r := range s {
		rw := runewidth.RuneWidth(r)
		if width+rw > limit {
			if lastSpace >= 0 {
				return lastSpace + 1
			}
			if width == 0 {
				return i + len(string(r))
			}
			return i
		}
		width += rw
		if unicode.IsSpace(r) {
			lastSpace = i
		}
	}
	return len(s)
}

type dynamicKeyMap struct {
	keys []key.Binding
}

func (d dynamicKeyMap) ShortHelp() []key.Binding {
	return d.keys
}

func (d dynamicKeyMap) FullHelp() [][]key.Binding {
	if len(d.keys) == 0 {
		return [][]key.Binding{}
	}
	return [][]key.Binding{d.keys}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
