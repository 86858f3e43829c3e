package router

import (
	"sort"
	"strings"
	"unicode"

	kit "broadcastbot/internal/transport"
)

const (
	maxMenuCommandLen = 32
	maxMenuDescLen    = 256
	maxMenuEntries    = 100
)

// sanitizeTelegramCommand maps a route or alias onto Telegram's command
// alphabet [a-z0-9_]{1,32}. Separators collapse into one underscore and
// anything else is dropped.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			pendingSep = true
		}
	}
	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxMenuCommandLen {
		out = strings.TrimRight(out[:maxMenuCommandLen], "_")
	}
	return out
}

// telegramCommandNameFromRoute joins a route into its menu name:
// ["cancel","all"] -> "cancel_all".
func telegramCommandNameFromRoute(route []string) (string, bool) {
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

type menuEntry struct {
	cmd  string
	desc string
	prio int // 0 top-level, 1 multi-token shortcut
}

func menuDesc(desc, fallback string, ownerOnly bool) string {
	desc = strings.Join(strings.Fields(desc), " ")
	if desc == "" {
		desc = fallback
	}
	if ownerOnly {
		desc = "🔒 " + desc
	}
	if rs := []rune(desc); len(rs) > maxMenuDescLen {
		desc = string(rs[:maxMenuDescLen])
	}
	return desc
}

// buildTelegramMenuCommands lists top-level commands first, then
// multi-token shortcuts such as /cancel_all. Owner-only entries carry a lock.
func buildTelegramMenuCommands(root *cmdNode, leafCmds []Command) []kit.BotCommand {
	byCmd := map[string]menuEntry{}
	add := func(e menuEntry) {
		if e.cmd == "" {
			return
		}
		if cur, ok := byCmd[e.cmd]; ok && (cur.prio < e.prio || (cur.prio == e.prio && len(cur.desc) <= len(e.desc))) {
			return
		}
		byCmd[e.cmd] = e
	}

	if root != nil {
		for _, name := range root.childNames() {
			n, _ := root.child(name)
			if n == nil {
				continue
			}
			cmd := sanitizeTelegramCommand(name)
			add(menuEntry{cmd: cmd, desc: menuDesc(summarizeNodeDesc(n), cmd, nodeIsOwnerOnly(n)), prio: 0})
		}
	}
	for _, c := range leafCmds {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		if cmd, ok := telegramCommandNameFromRoute(route); ok {
			add(menuEntry{cmd: cmd, desc: menuDesc(c.Description, strings.Join(route, " "), c.Access == AccessOwnerOnly), prio: 1})
		}
	}

	entries := make([]menuEntry, 0, len(byCmd))
	for _, e := range byCmd {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].prio != entries[j].prio {
			return entries[i].prio < entries[j].prio
		}
		return entries[i].cmd < entries[j].cmd
	})
	if len(entries) > maxMenuEntries {
		entries = entries[:maxMenuEntries]
	}
	out := make([]kit.BotCommand, 0, len(entries))
	for _, e := range entries {
		out = append(out, kit.BotCommand{Command: e.cmd, Description: e.desc})
	}
	return out
}
