package giveaway

import (
	"context"
	"errors"
	"fmt"
	"net"

	gw "giveawaybot/internal/giveaway"
	"giveawaybot/internal/storage"
	"giveawaybot/internal/task/engine"
	kit "giveawaybot/internal/transport"
	logx "giveawaybot/pkg/logx"
)

// AnnounceEnded closes the post and replies with the winners. A failed edit
// is logged and ignored. A failed reply is returned so delivery is retried,
// unless it timed out: Telegram may have posted it, and a retry would
// announce the winners twice.
func (p *Plugin) AnnounceEnded(ctx context.Context, out gw.Outcome) error {
	g := out.Giveaway
	ref, err := parseReference(g.Reference)
	if err != nil {
		return fmt.Errorf("announce %s: %w", g.Key(), err)
	}
	p.closePost(ctx, ref, g)

	text := noWinnersText
	if !out.NoEntries() {
		text = p.renderWinners(out)
	}
	if err := p.reply(ctx, ref, text); err != nil {
		if maybeDelivered(err) {
			return engine.NoRetry(fmt.Errorf("winners reply may have been delivered: %w", err))
		}
		return err
	}
	return nil
}

// closePost edits the post to its ended form. It holds the post lock so a
// concurrent count refresh cannot reopen it.
func (p *Plugin) closePost(ctx context.Context, ref kit.MessageRef, g gw.Giveaway) {
	unlock := p.posts.lock(g.Key().String())
	defer unlock()
	err := p.ad.EditText(ctx, ref, renderEnded(g, p.config().Location), &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		Buttons:        endedButtons(g.EntryCount()),
	})
	if err != nil {
		p.log.Warn("closing giveaway post failed", logx.String("key", g.Key().String()), logx.Err(err))
	}
}

// maybeDelivered reports whether a send failed without an answer from
// Telegram, so the message may still have been posted.
func maybeDelivered(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// AnnounceReroll replies to the post with the new winners.
func (p *Plugin) AnnounceReroll(ctx context.Context, out gw.Outcome) error {
	ref, err := parseReference(out.Giveaway.Reference)
	if err != nil {
		return fmt.Errorf("announce %s: %w", out.Giveaway.Key(), err)
	}
	return p.reply(ctx, ref, p.renderWinners(out))
}

func (p *Plugin) reply(ctx context.Context, post kit.MessageRef, html string) error {
	_, err := p.ad.SendText(ctx, post.Target(), html, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		ReplyTo:        post.MessageID,
	})
	return err
}

// DeadLetter records a termination the scheduler gave up on. Its signature
// matches scheduler.DeadLetterFunc.
func (p *Plugin) DeadLetter(key gw.Key, out *gw.Outcome, err error, attempts int) {
	ctx := context.Background()
	action := "end"
	if out != nil {
		action = "announce"
	}
	post, _ := parseReference(key.Reference)
	p.record(ctx, storage.AuditEntry{
		ChatID:   post.ChatID,
		Action:   action,
		Target:   key.Reference,
		OK:       false,
		Error:    errString(err),
		MetaJSON: fmt.Sprintf(`{"attempts":%d}`, attempts),
	})
}
