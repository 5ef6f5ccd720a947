package router

import (
	"html"
	"strings"
)

// helpText renders help as Telegram HTML. Owner-only commands are listed
// only for owners.
func (r *Router) helpText(path []string, owner bool) string {
	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	if len(path) == 0 {
		return topHelp(root, owner)
	}
	word := strings.ToLower(strings.TrimPrefix(path[0], "/"))
	if leaf, ok := alias[word]; ok {
		return nodeHelp(leaf, splitRoute(leaf.cmd.Route))
	}
	top, ok := root.child(word)
	if !ok {
		return "❓ <b>Unknown command</b>\nSend <code>/help</code> for the command list."
	}
	node, sub, _ := top.walk(path[1:])
	return nodeHelp(node, append([]string{word}, sub...))
}

func topHelp(root *cmdNode, owner bool) string {
	lines := []string{"📚 <b>Commands</b>", "Send <code>/help &lt;command&gt;</code> for details.", ""}
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		if ownerOnly(n) && !owner {
			continue
		}
		line := "• <code>/" + html.EscapeString(name) + "</code>"
		if d := describe(n); d != "" {
			line += " - " + html.EscapeString(d)
		}
		if ownerOnly(n) {
			line += " 🔒"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func nodeHelp(n *cmdNode, full []string) string {
	lines := []string{"📚 <code>/" + html.EscapeString(strings.Join(full, " ")) + "</code>"}
	if c := n.cmd; c != nil {
		if c.Description != "" {
			lines = append(lines, html.EscapeString(c.Description))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>owners only</i>")
		}
		if c.Usage != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(c.Usage)+"</code>")
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "", "<b>Aliases</b>")
			for _, a := range c.Aliases {
				lines = append(lines, "• <code>/"+html.EscapeString(a)+"</code>")
			}
		}
	}
	if len(n.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range n.childNames() {
			ch, _ := n.child(name)
			line := "• <code>/" + html.EscapeString(strings.Join(append(append([]string(nil), full...), name), " ")) + "</code>"
			if d := describe(ch); d != "" {
				line += " - " + html.EscapeString(d)
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func describe(n *cmdNode) string {
	if n.cmd != nil && n.cmd.Description != "" {
		return n.cmd.Description
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	if len(kids) > 3 {
		return "subcommands: " + strings.Join(kids[:3], ", ") + ", …"
	}
	return "subcommands: " + strings.Join(kids, ", ")
}

// ownerOnly reports whether n and every command below it is owner-only.
func ownerOnly(n *cmdNode) bool {
	if n.cmd != nil && n.cmd.Access != AccessOwnerOnly {
		return false
	}
	for _, ch := range n.children {
		if !ownerOnly(ch) {
			return false
		}
	}
	return n.cmd != nil || len(n.children) > 0
}
