package giveaway

import (
	"strconv"
	"strings"
	"time"

	gw "giveawaybot/internal/giveaway"
	kit "giveawaybot/internal/transport"
	"giveawaybot/pkg/tgui"
)

const (
	actionEnter = "enter"
	actionLeave = "leave"
	actionEnded = "ended"

	timeLayout = "2006-01-02 15:04 MST"
)

func data(action string) string {
	s, _ := tgui.Data(callbackScope, action, "")
	return s
}

func activeButtons(entries int) [][]kit.Button {
	return [][]kit.Button{{
		{Text: "🎉 Enter · " + strconv.Itoa(entries), Data: data(actionEnter)},
		{Text: "Leave", Data: data(actionLeave)},
	}}
}

// Telegram has no disabled buttons; the ended one answers with a toast.
func endedButtons(entries int) [][]kit.Button {
	return [][]kit.Button{{
		{Text: "Ended · " + strconv.Itoa(entries) + " " + plural(entries, "entry", "entries"), Data: data(actionEnded)},
	}}
}

func renderActive(g gw.Giveaway, loc *time.Location, now time.Time) string {
	head := []tgui.H{"🎁 " + tgui.B(g.Prize)}
	if m := strings.TrimSpace(g.Message); m != "" {
		head = append(head, tgui.Esc(m))
	}
	head = append(head,
		"",
		tgui.H("Press "+tgui.B("Enter").String()+" to join."),
		"",
		field("Winners", strconv.Itoa(g.WinnerCount)),
		tgui.H(tgui.B("Ends:").String()+" "+tgui.Esc(g.ExpiresAt.In(loc).Format(timeLayout)).String()+
			" "+tgui.I("(in "+gw.FormatDuration(g.ExpiresAt.Sub(now).Round(time.Second))+")").String()),
	)
	if g.RequiredRole != "" {
		head = append(head, field("Role requirement", g.RequiredRole))
	}
	return tgui.Lines(head...).String()
}

func renderEnded(g gw.Giveaway, loc *time.Location) string {
	ended := g.EndedAt
	if ended.IsZero() {
		ended = g.ExpiresAt
	}
	lines := []tgui.H{
		"🎁 " + tgui.B(g.Prize),
		"This giveaway has ended.",
		"",
		field("Winners", strconv.Itoa(g.WinnerCount)),
		field("Ended", ended.In(loc).Format(timeLayout)),
	}
	if g.RequiredRole != "" {
		lines = append(lines, field("Role requirement", g.RequiredRole))
	}
	return tgui.Lines(lines...).String()
}

const noWinnersText = "No one entered the giveaway, so there are no winners."

func (p *Plugin) renderWinners(out gw.Outcome) string {
	title, label := "Giveaway ended!", "Winners:"
	if out.Reroll {
		title, label = "Giveaway rerolled!", "New winners:"
	}
	return tgui.Lines(
		tgui.H("🎉 "+tgui.B(title).String()+" 🎉"),
		"",
		tgui.H(tgui.B(label).String()+" "+p.mentions(out.Winners).String()),
		tgui.H(tgui.B("Prize:").String()+" "+tgui.Code(out.Giveaway.Prize).String()),
		"",
		"Congratulations!",
	).String()
}

func (p *Plugin) mentions(ids []string) tgui.H {
	parts := make([]tgui.H, 0, len(ids))
	for _, s := range ids {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			parts = append(parts, tgui.Esc(s))
			continue
		}
		parts = append(parts, tgui.Mention(p.names.get(id), id))
	}
	return tgui.JoinH(" ", parts...)
}

func field(name, value string) tgui.H {
	return tgui.H(tgui.B(name+":").String() + " " + tgui.Esc(value).String())
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
