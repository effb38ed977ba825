package client

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fenggwsx/SlashRelay/internal/protocol"
)

type command struct {
	trigger     string
	usage       string
	description string
	run         func(a *App, args []string) tea.Cmd
}

func buildCommands(prefix rune) []command {
	p := string(prefix)
	return []command{
		{trigger: p + "connect", usage: p + "connect [url]", description: "Connect to the relay server", run: (*App).cmdConnect},
		{trigger: p + "join", usage: p + "join <room>", description: "Join a room (leaves the current one)", run: (*App).cmdJoin},
		{trigger: p + "leave", usage: p + "leave", description: "Leave the current room", run: (*App).cmdLeave},
		{trigger: p + "help", usage: p + "help", description: "Show available commands", run: (*App).cmdHelp},
		{trigger: p + "quit", usage: p + "quit", description: "Close the connection and exit", run: (*App).cmdQuit},
	}
}

// parseCommand splits raw into a lowercase command name and its arguments.
// ok is false when raw does not start with prefix.
func parseCommand(prefix rune, raw string) (name string, args []string, ok bool) {
	raw = strings.TrimSpace(raw)
	p := string(prefix)
	if !strings.HasPrefix(raw, p) {
		return "", nil, false
	}
	fields := strings.Fields(raw[len(p):])
	if len(fields) == 0 {
		return "", nil, true
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func (a *App) executeCommand(raw string) tea.Cmd {
	name, args, _ := parseCommand(a.cfg.Prefix(), raw)
	if name == "" {
		a.logError("missing command name")
		return nil
	}
	trigger := string(a.cfg.Prefix()) + name
	for _, c := range a.commands {
		if c.trigger == trigger {
			return c.run(a, args)
		}
	}
	a.logError("unknown command %s", trigger)
	return nil
}

func (a *App) cmdConnect(args []string) tea.Cmd {
	url := a.cfg.ServerURL
	if len(args) > 0 {
		url = args[0]
	}
	if a.session != nil {
		_ = a.session.Close()
		a.session = nil
		a.room = ""
	}
	a.serverURL = url
	a.logInfo("connecting to %s", url)

	dial := a.dial
	token := a.cfg.Token
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		defer cancel()
		session, err := dial(ctx, url, token)
		return connectResultMsg{session: session, url: url, err: err}
	}
}

func (a *App) cmdJoin(args []string) tea.Cmd {
	if len(args) == 0 {
		a.logError("usage: %sjoin <room>", string(a.cfg.Prefix()))
		return nil
	}
	room := args[0]
	if err := a.send(protocol.Envelope{RoomID: room, Meta: protocol.MetaJoin}); err != nil {
		a.logError("join %s: %v", room, err)
		return nil
	}
	a.room = room
	a.view = viewChat
	a.chatHistory = a.chatHistory[:0]
	a.appendSystem(fmt.Sprintf("joined %s", room))
	a.logInfo("joined %s", room)
	return nil
}

func (a *App) cmdLeave([]string) tea.Cmd {
	if a.room == "" {
		a.logError("not in a room")
		return nil
	}
	room := a.room
	if err := a.send(protocol.Envelope{RoomID: room, Meta: protocol.MetaLeave}); err != nil {
		a.logError("leave %s: %v", room, err)
		return nil
	}
	a.room = ""
	a.appendSystem(fmt.Sprintf("left %s", room))
	a.logInfo("left %s", room)
	return nil
}

func (a *App) cmdHelp([]string) tea.Cmd {
	a.view = viewHelp
	a.updateViewportContent()
	return nil
}

func (a *App) cmdQuit([]string) tea.Cmd {
	if a.session != nil {
		_ = a.session.Close()
		a.session = nil
	}
	return tea.Quit
}

func (a *App) sendMessage(body string) {
	if a.room == "" {
		a.logError("join a room first")
		return
	}
	if err := a.send(protocol.NewMessage(a.room, body)); err != nil {
		a.logError("send: %v", err)
		return
	}
	a.appendChat("you", body)
}

func (a *App) send(env protocol.Envelope) error {
	if a.session == nil {
		return errNotConnected
	}
	return a.session.Send(env)
}
