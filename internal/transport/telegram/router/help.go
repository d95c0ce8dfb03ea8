package router

import (
	"html"
	"strings"
)

// helpText renders help for path in Telegram HTML.
func (m *Router) helpText(path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(strings.TrimPrefix(p, "/"))
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "❓ <b>Unknown command</b>\nSend <code>/help</code> for the list."
		}
		cur = n
		full = append(full, n.name)
	}
	if len(full) == 0 {
		return helpTopHTML(root)
	}
	return helpNodeHTML(cur, full)
}

func helpTopHTML(root *cmdNode) string {
	lines := []string{"📚 <b>Commands</b>", "Send <code>/help &lt;command&gt;</code> for details.", ""}
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		lines = append(lines, "• "+lockMark(n)+"<code>/"+html.EscapeString(name)+"</code>"+descSuffix(summarizeNodeDesc(n)))
	}
	return strings.Join(lines, "\n")
}

func helpNodeHTML(cur *cmdNode, full []string) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(strings.Join(full, " ")) + "</code>"}
	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		switch c.Access {
		case AccessAdmin:
			lines = append(lines, "🔒 <i>Chat admins only</i>")
		case AccessOwnerOnly:
			lines = append(lines, "🔒 <i>Bot owners only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "", "<b>Shortcuts</b>")
			for _, a := range c.Aliases {
				lines = append(lines, "• <code>/"+html.EscapeString(a)+"</code>")
			}
		}
	}
	if len(cur.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			cmd := "/" + strings.Join(append(append([]string(nil), full...), name), " ")
			lines = append(lines, "• "+lockMark(n)+"<code>"+html.EscapeString(cmd)+"</code>"+descSuffix(summarizeNodeDesc(n)))
		}
	}
	return strings.Join(lines, "\n")
}

func descSuffix(d string) string {
	if d == "" {
		return ""
	}
	return ": " + html.EscapeString(d)
}

func lockMark(n *cmdNode) string {
	if nodeRestricted(n) {
		return "🔒 "
	}
	return ""
}

func summarizeNodeDesc(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	k := min(len(kids), 3)
	s := strings.Join(kids[:k], ", ")
	if len(kids) > k {
		s += ", …"
	}
	return "subcommands: " + s
}

// nodeRestricted reports whether n, or every command under it, needs more
// than AccessEveryone.
func nodeRestricted(n *cmdNode) bool {
	if n.cmd != nil {
		return n.cmd.Access != AccessEveryone
	}
	for _, ch := range n.children {
		if !nodeRestricted(ch) {
			return false
		}
	}
	return len(n.children) > 0
}
