package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fenggwsx/SlashRelay/internal/config"
)

const maxHistory = 500

type primaryView int

const (
	viewChat primaryView = iota
	viewHelp
)

func (v primaryView) String() string {
	if v == viewHelp {
		return "help"
	}
	return "chat"
}

type logLevel int

const (
	logLevelInfo logLevel = iota
	logLevelError
)

type logLine struct {
	level logLevel
	label string
	body  string
}

type styleSet struct {
	title         lipgloss.Style
	view          lipgloss.Style
	statusOnline  lipgloss.Style
	statusOffline lipgloss.Style
	label         lipgloss.Style
	value         lipgloss.Style
	self          lipgloss.Style
	system        lipgloss.Style
	logLabel      lipgloss.Style
	logBody       lipgloss.Style
	logLabelError lipgloss.Style
	logBodyError  lipgloss.Style
	help          lipgloss.Style
}

type connectResultMsg struct {
	session Transport
	url     string
	err     error
}

type frameMsg struct {
	session Transport
	text    string
}

type sessionClosedMsg struct {
	session Transport
}

// DialFunc opens a transport to the relay.
type DialFunc func(ctx context.Context, url, token string) (Transport, error)

// App implements the bubbletea tea.Model interface for the terminal client.
type App struct {
	cfg       config.ClientConfig
	dial      DialFunc
	session   Transport
	serverURL string
	room      string

	chatHistory []string
	commands    []command
	view        primaryView

	input      textinput.Model
	viewport   viewport.Model
	helper     help.Model
	showHelp   bool
	helpView   string
	helpHeight int
	width      int
	height     int

	logLine logLine
	styles  styleSet
	now     func() time.Time
}

// NewApp returns a Bubble Tea model pre-populated with defaults.
func NewApp(cfg config.ClientConfig) *App {
	return newApp(cfg, Dial)
}

func newApp(cfg config.ClientConfig, dial DialFunc) *App {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Type a message or " + string(cfg.Prefix()) + "help"
	input.Focus()

	a := &App{
		cfg:         cfg,
		dial:        dial,
		serverURL:   cfg.ServerURL,
		chatHistory: make([]string, 0, 128),
		commands:    buildCommands(cfg.Prefix()),
		view:        viewChat,
		input:       input,
		viewport:    viewport.New(0, 0),
		helper:      help.New(),
		styles:      buildStyles(),
		now:         time.Now,
	}
	a.logInfo("type %sconnect to reach %s", string(cfg.Prefix()), cfg.ServerURL)
	a.updateViewportContent()
	return a
}

// Init is part of the tea.Model interface.
func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles user input and internal events.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = m.Width, m.Height
		a.updateInputWidth()
		a.updateViewportSize()
		a.updateViewportContent()
		return a, nil
	case tea.KeyMsg:
		return a.handleKey(m)
	case connectResultMsg:
		return a.handleConnectResult(m)
	case frameMsg:
		return a.handleFrame(m)
	case sessionClosedMsg:
		return a.handleSessionClosed(m)
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return a, a.cmdQuit(nil)
	case tea.KeyEnter:
		return a, a.submit()
	case tea.KeyTab:
		a.handleTabCompletion()
		a.updateHelp()
		return a, nil
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	case tea.KeyEsc:
		if a.view != viewChat {
			a.view = viewChat
			a.updateViewportContent()
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.updateHelp()
	return a, cmd
}

func (a *App) submit() tea.Cmd {
	raw := a.input.Value()
	a.input.Reset()
	a.updateHelp()
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if _, _, ok := parseCommand(a.cfg.Prefix(), raw); ok {
		return a.executeCommand(raw)
	}
	a.sendMessage(raw)
	return nil
}

func (a *App) handleConnectResult(msg connectResultMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.logError("connect %s: %v", msg.url, msg.err)
		return a, nil
	}
	a.session = msg.session
	a.serverURL = msg.url
	a.logInfo("connected to %s", msg.url)
	return a, waitForFrame(msg.session)
}

func (a *App) handleFrame(msg frameMsg) (tea.Model, tea.Cmd) {
	if msg.session != a.session {
		return a, nil
	}
	a.appendChat("", msg.text)
	return a, waitForFrame(msg.session)
}

func (a *App) handleSessionClosed(msg sessionClosedMsg) (tea.Model, tea.Cmd) {
	if msg.session != a.session {
		return a, nil
	}
	a.session = nil
	a.room = ""
	if err := msg.session.Err(); err != nil {
		a.logError("disconnected: %v", err)
	} else {
		a.logInfo("disconnected")
	}
	return a, nil
}

func waitForFrame(session Transport) tea.Cmd {
	return func() tea.Msg {
		text, ok := <-session.Frames()
		if !ok {
			return sessionClosedMsg{session: session}
		}
		return frameMsg{session: session, text: text}
	}
}

func (a *App) appendChat(from, body string) {
	stamp := a.now().Format("15:04:05")
	line := fmt.Sprintf("[%s] %s", stamp, body)
	if from != "" {
		line = fmt.Sprintf("[%s] %s: %s", stamp, a.styles.self.Render(from), body)
	}
	a.pushHistory(line)
}

func (a *App) appendSystem(text string) {
	a.pushHistory(a.styles.system.Render("-- " + text + " --"))
}

func (a *App) pushHistory(line string) {
	a.chatHistory = append(a.chatHistory, line)
	if len(a.chatHistory) > maxHistory {
		a.chatHistory = a.chatHistory[len(a.chatHistory)-maxHistory:]
	}
	if a.view == viewChat {
		a.updateViewportContent()
	}
}

func (a *App) logInfo(format string, args ...any) {
	a.logLine = logLine{level: logLevelInfo, label: "INFO", body: fmt.Sprintf(format, args...)}
}

func (a *App) logError(format string, args ...any) {
	a.logLine = logLine{level: logLevelError, label: "ERROR", body: fmt.Sprintf(format, args...)}
}
