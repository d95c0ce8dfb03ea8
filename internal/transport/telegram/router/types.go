package router

import (
	"context"
	"sync/atomic"
	"time"

	kit "giveawaybot/internal/transport"
	logx "giveawaybot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessAdmin admits chat administrators and bot owners.
	AccessAdmin
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "giveaway start".
	Route       string
	Aliases     []string // root-level aliases, e.g. ["gstart"]
	Description string
	Usage       string
	Access      Access
	// GroupOnly commands are refused in private chats.
	GroupOnly bool

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline buttons whose data is "scope:action[:payload]".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	FromName     string
	// MessageID is the command message, or the message carrying the button.
	MessageID int
	ReplyTo   *kit.MessageRef

	Path    []string // matched command path tokens
	Command string   // route, or "cb:scope:action"
	Args    []string
	Payload string // callback payload

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
	Owners  []int64

	callbackID string
	answered   atomic.Bool
}

func (r *Request) IsCallback() bool { return r.Update.Kind == kit.UpdateCallback }

// Reply sends HTML text threaded under the request's message.
func (r *Request) Reply(ctx context.Context, html string) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyTo: r.MessageID})
}

// Answer answers the callback query with a toast. Only the first call has an
// effect; the router answers unanswered callbacks with an empty toast.
func (r *Request) Answer(ctx context.Context, text string) error {
	if r.callbackID == "" || !r.answered.CompareAndSwap(false, true) {
		return nil
	}
	return r.Adapter.AnswerCallback(ctx, r.callbackID, text)
}

// Flag returns the first non-empty value among the named flags.
func (r *Request) Flag(names ...string) string {
	for _, n := range names {
		if v := r.Flags[n]; v != "" {
			return v
		}
	}
	return ""
}

// IsOwner reports whether the sender is a configured bot owner.
func (r *Request) IsOwner() bool { return isOwner(r.FromID, r.Owners) }
