package client

import "strings"

func (a *App) handleTabCompletion() {
	value := a.input.Value()
	if value == "" {
		return
	}
	runes := []rune(value)
	if a.input.Position() != len(runes) {
		return
	}
	if !strings.HasPrefix(value, string(a.cfg.Prefix())) || strings.ContainsAny(value, " \t") {
		return
	}

	matches := make([]string, 0, len(a.commands))
	for _, cmd := range a.commands {
		if strings.HasPrefix(cmd.trigger, value) {
			matches = append(matches, cmd.trigger)
		}
	}
	if len(matches) == 0 {
		return
	}

	prefix := longestCommonPrefix(matches)
	if len(matches) == 1 {
		prefix += " "
	}
	if len(prefix) <= len(value) {
		return
	}
	a.input.SetValue(prefix)
	a.input.CursorEnd()
}

func longestCommonPrefix(values []string) string {
	if len(values) == 0 {
		return ""
	}
	prefix := values[0]
	for _, s := range values[1:] {
		for !strings.HasPrefix(s, prefix) {
			if prefix == "" {
				return ""
			}
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
