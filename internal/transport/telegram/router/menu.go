package router

import (
	"sort"
	"strings"

	kit "sitewatch/internal/transport"
)

// sanitizeCommand maps s onto Telegram's command alphabet [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			underscore = false
		case r == '_' || r == '-' || r == ' ' || r == '/':
			if b.Len() > 0 && !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

func menuName(route []string) string {
	return sanitizeCommand(strings.Join(route, "_"))
}

// buildMenu lists top-level commands for setMyCommands. Owner-only groups are
// left out since the menu is global.
func buildMenu(root *cmdNode) []kit.BotCommand {
	var out []kit.BotCommand
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		if ownerOnly(n) {
			continue
		}
		cmd := sanitizeCommand(name)
		if cmd == "" {
			continue
		}
		desc := strings.ReplaceAll(describe(n), "\n", " ")
		if desc == "" {
			desc = cmd
		}
		out = append(out, kit.BotCommand{Command: cmd, Description: desc})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
