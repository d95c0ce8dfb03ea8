package giveaway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	gw "giveawaybot/internal/giveaway"
	"giveawaybot/internal/storage"
	kit "giveawaybot/internal/transport"
	"giveawaybot/internal/transport/telegram/router"
	logx "giveawaybot/pkg/logx"
	"giveawaybot/pkg/tgui"
)

// Telegram caps custom admin titles at 16 characters.
const maxRoleLen = 16

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "giveaway start",
			Aliases:     []string{"gstart"},
			Description: "start a giveaway in this chat",
			Usage:       `/giveaway start "<prize>" <duration> <winners> [--role R] [--message M]`,
			Access:      router.AccessAdmin,
			GroupOnly:   true,
			Handle:      p.cmdStart,
		},
		{
			Route:       "giveaway reroll",
			Aliases:     []string{"greroll"},
			Description: "draw new winners for a giveaway",
			Usage:       "/giveaway reroll [message link] [--winners N] (or reply to the giveaway)",
			Access:      router.AccessAdmin,
			GroupOnly:   true,
			Handle:      p.cmdReroll,
		},
		{
			Route:       "giveaway list",
			Description: "list running giveaways in this chat",
			Usage:       "/giveaway list",
			Access:      router.AccessAdmin,
			GroupOnly:   true,
			Handle:      p.cmdList,
		},
	}
}

type startArgs struct {
	prize    string
	duration time.Duration
	winners  int
	role     string
	message  string
}

// parseStart reads prize, duration and winners from positional args. The
// duration may span several tokens ("1d 2h"), so the first token is the prize
// and the last is the winner count.
func parseStart(req *router.Request, cfg Config) (startArgs, error) {
	if len(req.Args) < 3 {
		return startArgs{}, errors.New("usage: /giveaway start \"<prize>\" <duration> <winners>")
	}
	a := startArgs{
		prize:   strings.TrimSpace(req.Args[0]),
		role:    strings.TrimSpace(req.Flag("role", "r")),
		message: strings.TrimSpace(req.Flag("message", "m")),
	}
	if a.prize == "" {
		return a, errors.New("the prize cannot be empty")
	}
	n, err := strconv.Atoi(req.Args[len(req.Args)-1])
	if err != nil {
		return a, fmt.Errorf("winners must be a number, got %q", req.Args[len(req.Args)-1])
	}
	if n < 1 {
		return a, errors.New("there must be at least 1 winner")
	}
	if n > cfg.MaxWinners {
		return a, fmt.Errorf("at most %d winners are allowed", cfg.MaxWinners)
	}
	a.winners = n

	d, err := gw.ParseDuration(strings.Join(req.Args[1:len(req.Args)-1], " "))
	if err != nil {
		return a, errors.New("the duration must look like 1d 2h 3m 4s")
	}
	if d <= 0 {
		return a, errors.New("the duration must be longer than zero")
	}
	if d > cfg.MaxDuration {
		return a, fmt.Errorf("the duration can be at most %s", gw.FormatDuration(cfg.MaxDuration))
	}
	a.duration = d

	if utf8.RuneCountInString(a.role) > maxRoleLen {
		return a, fmt.Errorf("the role can be at most %d characters", maxRoleLen)
	}
	return a, nil
}

func (p *Plugin) cmdStart(ctx context.Context, req *router.Request) error {
	cfg := p.config()
	args, err := parseStart(req, cfg)
	if err != nil {
		_, rerr := req.Reply(ctx, tgui.Esc(err.Error()).String())
		return rerr
	}

	started := p.now()
	draft := gw.Giveaway{
		Prize:        args.prize,
		Message:      args.message,
		WinnerCount:  args.winners,
		RequiredRole: args.role,
		ExpiresAt:    started.Add(args.duration),
	}
	post, err := p.ad.SendText(ctx, req.Chat, renderActive(draft, cfg.Location, started), &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		Buttons:        activeButtons(0),
	})
	if err != nil {
		return fmt.Errorf("post giveaway: %w", err)
	}

	reference := referenceOf(post)
	g, err := p.svc.Create(ctx, gw.CreateParams{
		CommunityID:  communityOf(req.Chat.ChatID),
		Reference:    reference,
		ExpiresAt:    draft.ExpiresAt,
		Prize:        args.prize,
		WinnerCount:  args.winners,
		RequiredRole: args.role,
		Message:      args.message,
		CreatedBy:    strconv.FormatInt(req.FromID, 10),
	})
	p.record(ctx, storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		Action:        "start",
		Target:        reference,
		OK:            err == nil,
		Error:         errString(err),
		TookMS:        p.now().Sub(started).Milliseconds(),
	})
	if err != nil {
		// The post exists but nothing backs it; strip its buttons.
		_ = p.ad.EditText(ctx, post, tgui.Lines(tgui.B(args.prize), "This giveaway could not be started.").String(),
			&kit.SendOptions{ParseMode: "HTML"})
		return fmt.Errorf("create giveaway: %w", err)
	}

	confirm := "The giveaway for " + tgui.B(g.Prize).String() + " has started."
	if link := linkOf(reference); link != "" {
		confirm += "\n" + tgui.Link("Jump to message", link).String()
	}
	_, err = req.Reply(ctx, confirm)
	return err
}

func (p *Plugin) cmdReroll(ctx context.Context, req *router.Request) error {
	key, err := p.targetKey(req)
	if err != nil {
		_, rerr := req.Reply(ctx, tgui.Esc(err.Error()).String())
		return rerr
	}

	count := 1
	if raw := req.Flag("winners", "w"); raw != "" {
		count, err = strconv.Atoi(raw)
		if err != nil || count < 1 {
			_, rerr := req.Reply(ctx, "Winners must be a positive number.")
			return rerr
		}
	}
	if limit := p.config().MaxWinners; count > limit {
		_, rerr := req.Reply(ctx, fmt.Sprintf("At most %d winners are allowed.", limit))
		return rerr
	}

	start := p.now()
	out, err := p.svc.Reroll(ctx, key, count)
	p.record(ctx, storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		Action:        "reroll",
		Target:        key.Reference,
		OK:            err == nil,
		Error:         errString(err),
		TookMS:        p.now().Sub(start).Milliseconds(),
		MetaJSON:      fmt.Sprintf(`{"count":%d}`, count),
	})

	var aerr *gw.AnnounceError
	switch {
	case err == nil:
	case errors.Is(err, gw.ErrNotFound):
		_, rerr := req.Reply(ctx, "The giveaway could not be found.")
		return rerr
	case errors.Is(err, gw.ErrInsufficientEntries):
		_, rerr := req.Reply(ctx, "There are not enough entries to reroll that many winners.")
		return rerr
	case errors.As(err, &aerr):
		req.Logger.Warn("reroll announcement failed", logx.Err(err))
		_, rerr := req.Reply(ctx, "New winners: "+p.mentions(out.Winners).String()+"\n"+
			tgui.I("The announcement could not be posted under the giveaway.").String())
		return rerr
	default:
		return fmt.Errorf("reroll: %w", err)
	}
	_, err = req.Reply(ctx, fmt.Sprintf("The giveaway has been rerolled with %s.",
		tgui.Code(strconv.Itoa(len(out.Winners))+" "+plural(len(out.Winners), "winner", "winners"))))
	return err
}

// targetKey resolves the giveaway a command points at: a message link
// argument, or the message being replied to.
func (p *Plugin) targetKey(req *router.Request) (gw.Key, error) {
	community := communityOf(req.Chat.ChatID)
	if len(req.Args) > 0 {
		ref, err := parseReference(req.Args[0])
		if err != nil {
			return gw.Key{}, errors.New("that is not a message link")
		}
		if ref.ChatID != req.Chat.ChatID {
			return gw.Key{}, errors.New("that message is not in this chat")
		}
		return gw.Key{CommunityID: community, Reference: referenceOf(ref)}, nil
	}
	if req.ReplyTo != nil && req.ReplyTo.MessageID > 0 {
		ref := kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.ReplyTo.MessageID}
		return gw.Key{CommunityID: community, Reference: referenceOf(ref)}, nil
	}
	return gw.Key{}, errors.New("reply to the giveaway message or pass its link")
}

func (p *Plugin) cmdList(ctx context.Context, req *router.Request) error {
	all, err := p.svc.Store().ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active: %w", err)
	}
	community := communityOf(req.Chat.ChatID)
	mine := slices.DeleteFunc(all, func(g gw.Giveaway) bool { return g.CommunityID != community })
	if len(mine) == 0 {
		_, err := req.Reply(ctx, "No giveaways are running in this chat.")
		return err
	}
	slices.SortFunc(mine, func(a, b gw.Giveaway) int { return a.ExpiresAt.Compare(b.ExpiresAt) })

	now := p.now()
	lines := []tgui.H{tgui.B("Running giveaways")}
	for _, g := range mine {
		name := tgui.B(g.Prize)
		if link := linkOf(g.Reference); link != "" {
			name = tgui.Bold(tgui.Link(g.Prize, link))
		}
		lines = append(lines, tgui.JoinH(" · ",
			name,
			tgui.Esc(strconv.Itoa(g.EntryCount())+" "+plural(g.EntryCount(), "entry", "entries")),
			tgui.Esc("ends in "+gw.FormatDuration(g.ExpiresAt.Sub(now))),
		))
	}
	_, err = req.Reply(ctx, tgui.Lines(lines...).String())
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
