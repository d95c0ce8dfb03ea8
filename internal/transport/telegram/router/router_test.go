package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	kit "giveawaybot/internal/transport"
	"giveawaybot/internal/transport/fake"
	logx "giveawaybot/pkg/logx"
)

type calls struct {
	mu   sync.Mutex
	reqs []*Request
	ch   chan struct{}
}

func newCalls() *calls { return &calls{ch: make(chan struct{}, 16)} }

func (c *calls) handler(ctx context.Context, req *Request) error {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	c.ch <- struct{}{}
	return nil
}

func (c *calls) wait(t *testing.T) *Request {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqs[len(c.reqs)-1]
}

func waitActivity(t *testing.T, ad *fake.Adapter, ok func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !ok() {
		select {
		case <-ad.Activity():
		case <-deadline:
			t.Fatal("timed out waiting for adapter activity")
		}
	}
}

func startRouter(t *testing.T, cfg Config, cmds []Command, cbs []CallbackRoute) (*fake.Adapter, chan kit.Update, func()) {
	t.Helper()
	ad := fake.New()
	r := New(cfg, ad, logx.Nop(), NewSupervisorRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	r.SetRegistry(ctx, cmds, cbs)
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = r.DispatchLoop(ctx, updates)
		close(done)
	}()
	return ad, updates, func() {
		cancel()
		<-done
	}
}

func message(text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 7, ChatID: -1001, FromID: 5, Text: text, IsGroup: true}}
}

func TestRoutesSubcommandWithFlags(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCalls()
	_, updates, stop := startRouter(t, Config{Workers: 2}, []Command{
		{Route: "giveaway start", Handle: c.handler},
		{Route: "giveaway reroll", Handle: newCalls().handler},
	}, nil)
	defer stop()

	updates <- message(`/giveaway start "Steam key" 1d 2 --role VIP`)
	req := c.wait(t)
	if req.Command != "giveaway start" || strings.Join(req.Args, "|") != "Steam key|1d|2" || req.Flag("role") != "VIP" {
		t.Fatalf("req = %+v", req)
	}
	if req.MessageID != 7 || req.Chat.ChatID != -1001 {
		t.Fatalf("req target = %+v", req)
	}
}

func TestMenuShortcutAndBotSuffix(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCalls()
	ad, updates, stop := startRouter(t, Config{BotUsername: "gwbot"}, []Command{{Route: "giveaway start", Handle: c.handler}}, nil)
	defer stop()

	updates <- message("/giveaway_start@gwbot Nitro 1h")
	if req := c.wait(t); req.Command != "giveaway start" || len(req.Args) != 2 {
		t.Fatalf("req = %+v", req)
	}

	// Addressed to another bot: ignored silently.
	updates <- message("/giveaway_start@otherbot Nitro 1h")
	updates <- message("/help")
	waitActivity(t, ad, func() bool { return len(ad.Sent()) == 1 })
	if !strings.Contains(ad.Sent()[0].Text, "giveaway") {
		t.Fatalf("help = %q", ad.Sent()[0].Text)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reqs) != 1 {
		t.Fatalf("handler ran %d times", len(c.reqs))
	}
}

func TestAdminAccess(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCalls()
	ad, updates, stop := startRouter(t, Config{Owners: []int64{99}}, []Command{{Route: "start", Access: AccessAdmin, Handle: c.handler}}, nil)
	defer stop()

	updates <- message("/start")
	waitActivity(t, ad, func() bool { return len(ad.Sent()) == 1 })
	if !strings.Contains(ad.Sent()[0].Text, "not allowed") {
		t.Fatalf("reply = %q", ad.Sent()[0].Text)
	}

	ad.SetMember(-1001, kit.Member{UserID: 5, Status: "administrator"})
	updates <- message("/start")
	c.wait(t)

	owner := message("/start")
	owner.Message.FromID = 99
	updates <- owner
	if req := c.wait(t); !req.IsOwner() {
		t.Fatal("owner not recognized")
	}
}

func TestCallbackRoutingAnswersOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCalls()
	ad, updates, stop := startRouter(t, Config{}, nil, []CallbackRoute{{
		Scope:  "gw",
		Action: "enter",
		Handle: func(ctx context.Context, req *Request, payload string) error {
			_ = req.Answer(ctx, "You're in!")
			return c.handler(ctx, req)
		},
	}})
	defer stop()

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb1", ChatID: -1001, FromID: 5, MessageID: 42, Data: "gw:enter"}}
	req := c.wait(t)
	if req.MessageID != 42 || req.Command != "cb:gw:enter" {
		t.Fatalf("req = %+v", req)
	}
	waitActivity(t, ad, func() bool { return len(ad.Answers()) >= 1 })
	time.Sleep(20 * time.Millisecond)
	answers := ad.Answers()
	if len(answers) != 1 || answers[0].Text != "You're in!" {
		t.Fatalf("answers = %+v", answers)
	}

	// Unknown actions are still answered so the client stops spinning.
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb2", ChatID: -1001, FromID: 5, Data: "gw:nope"}}
	waitActivity(t, ad, func() bool { return len(ad.Answers()) == 2 })
}

func TestGroupOnly(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCalls()
	ad, updates, stop := startRouter(t, Config{}, []Command{{Route: "start", GroupOnly: true, Handle: c.handler}}, nil)
	defer stop()

	dm := message("/start")
	dm.Message.IsGroup = false
	updates <- dm
	waitActivity(t, ad, func() bool { return len(ad.Sent()) == 1 })
	if !strings.Contains(ad.Sent()[0].Text, "group") {
		t.Fatalf("reply = %q", ad.Sent()[0].Text)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	cases := map[string]string{
		"giveaway start": "giveaway_start",
		"Give-Away":      "give_away",
		"1st":            "cmd_1st",
		"__x__":          "x",
		"!!":             "",
	}
	for in, want := range cases {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
