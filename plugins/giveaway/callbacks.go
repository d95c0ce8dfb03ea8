package giveaway

import (
	"context"
	"errors"
	"strconv"

	gw "giveawaybot/internal/giveaway"
	kit "giveawaybot/internal/transport"
	"giveawaybot/internal/transport/telegram/router"
	logx "giveawaybot/pkg/logx"
)

func (p *Plugin) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Scope: callbackScope, Action: actionEnter, Handle: p.cbEnter},
		{Scope: callbackScope, Action: actionLeave, Handle: p.cbLeave},
		{Scope: callbackScope, Action: actionEnded, Handle: p.cbEnded},
	}
}

// keyOf maps a button press to the giveaway posted in that message.
func keyOf(req *router.Request) gw.Key {
	return gw.Key{
		CommunityID: communityOf(req.Chat.ChatID),
		Reference:   referenceOf(kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.MessageID}),
	}
}

func (p *Plugin) cbEnter(ctx context.Context, req *router.Request, _ string) error {
	if !p.throttle.allow(req.FromID, p.now()) {
		return req.Answer(ctx, "Slow down a little.")
	}
	key := keyOf(req)
	g, err := p.svc.Get(ctx, key)
	if err != nil {
		return p.answerErr(ctx, req, err)
	}

	role, hasRole := g.RequiredRole, true
	if role != "" {
		mem, err := p.ad.Member(ctx, req.Chat.ChatID, req.FromID)
		if err != nil {
			req.Logger.Warn("member lookup failed", logx.Err(err))
			return req.Answer(ctx, "Could not check your role, try again.")
		}
		hasRole = mem.HasRole(role)
	}

	user := strconv.FormatInt(req.FromID, 10)
	if _, err := p.svc.Enter(ctx, key, user, hasRole); err != nil {
		if errors.Is(err, gw.ErrRoleRequired) {
			return req.Answer(ctx, "You need the "+role+" role to enter this giveaway.")
		}
		return p.answerErr(ctx, req, err)
	}
	p.names.put(req.FromID, req.FromName)
	_ = req.Answer(ctx, "You have entered the giveaway. Good luck!")
	p.refreshPost(ctx, req, key)
	return nil
}

func (p *Plugin) cbLeave(ctx context.Context, req *router.Request, _ string) error {
	if !p.throttle.allow(req.FromID, p.now()) {
		return req.Answer(ctx, "Slow down a little.")
	}
	key := keyOf(req)
	if _, err := p.svc.Leave(ctx, key, strconv.FormatInt(req.FromID, 10)); err != nil {
		return p.answerErr(ctx, req, err)
	}
	_ = req.Answer(ctx, "You have left the giveaway.")
	p.refreshPost(ctx, req, key)
	return nil
}

func (p *Plugin) cbEnded(ctx context.Context, req *router.Request, _ string) error {
	return req.Answer(ctx, "This giveaway has ended.")
}

// refreshPost updates the entry count on the post. The record is read under
// the post lock, so an ended giveaway is never redrawn as active.
func (p *Plugin) refreshPost(ctx context.Context, req *router.Request, key gw.Key) {
	unlock := p.posts.lock(key.String())
	defer unlock()

	g, err := p.svc.Get(ctx, key)
	if err != nil {
		req.Logger.Debug("entry count refresh skipped", logx.Err(err))
		return
	}
	if !g.Active() {
		return
	}
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.MessageID}
	err = p.ad.EditText(ctx, ref, renderActive(g, p.config().Location, p.now()), &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		Buttons:        activeButtons(g.EntryCount()),
	})
	if err != nil {
		req.Logger.Debug("entry count refresh failed", logx.Err(err))
	}
}

func (p *Plugin) answerErr(ctx context.Context, req *router.Request, err error) error {
	switch {
	case errors.Is(err, gw.ErrNotActive):
		return req.Answer(ctx, "This giveaway has ended.")
	case errors.Is(err, gw.ErrAlreadyEntered):
		return req.Answer(ctx, "You have already entered. Press Leave to withdraw.")
	case errors.Is(err, gw.ErrNotEntered):
		return req.Answer(ctx, "You have not entered this giveaway.")
	case errors.Is(err, gw.ErrNotFound):
		return req.Answer(ctx, "This giveaway no longer exists.")
	}
	_ = req.Answer(ctx, "Something went wrong, try again.")
	return err
}
