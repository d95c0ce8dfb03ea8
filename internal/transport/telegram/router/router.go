package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "giveawaybot/internal/runtime/supervisor"
	kit "giveawaybot/internal/transport"
	logx "giveawaybot/pkg/logx"
	"giveawaybot/pkg/tgui"
)

type Config struct {
	// BotUsername filters "/cmd@otherbot" addressed to other bots.
	BotUsername string
	Owners      []int64
	Workers     int // 0: NumCPU, at least 2
	QueueSize   int // 0: 256
	// DefaultTimeout bounds handlers without their own Timeout.
	DefaultTimeout time.Duration
}

// Router parses updates into requests and runs them on a bounded worker
// pool.
type Router struct {
	mu    sync.RWMutex
	root  *cmdNode
	alias map[string]*cmdNode
	cmds  []Command

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute

	cfgMu sync.RWMutex
	cfg   Config

	log     logx.Logger
	adapter kit.Adapter
	sups    *SupervisorRegistry

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, sups *SupervisorRegistry) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	cfg.Owners = slices.Clone(cfg.Owners)
	return &Router{
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]map[string]CallbackRoute{},
		cfg:       cfg,
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		sups:      sups,
		jobs:      make(chan func(), cfg.QueueSize),
	}
}

// Supervisor returns the worker supervisor (nil if not running).
func (m *Router) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *Router) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// SetOwners replaces the owner list; safe during hot reload.
func (m *Router) SetOwners(owners []int64) {
	m.cfgMu.Lock()
	m.cfg.Owners = slices.Clone(owners)
	m.cfgMu.Unlock()
}

func (m *Router) config() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	c := m.cfg
	c.Owners = slices.Clone(c.Owners)
	return c
}

// tryEnqueue is a panic-safe enqueue (the jobs channel may be closed).
func (m *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetRegistry installs commands and callback routes, replacing earlier
// ones. A help command is always added.
func (m *Router) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute) {
	cmds = append(slices.Clone(cmds), Command{
		Route:       "help",
		Description: "show commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, m.helpText(req.Args))
			return err
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		// Multi-token routes get a Telegram-safe shortcut ("giveaway start"
		// -> /giveaway_start). The bare first token is not aliased so that
		// subcommand traversal still happens.
		if menu, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || menu != route[0]) {
			if _, exists := alias[menu]; !exists {
				alias[menu] = leaf
			}
		}
		for _, a := range c.Aliases {
			if sa := sanitizeTelegramCommand(a); sa != "" {
				alias[sa] = leaf
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		s, a := strings.TrimSpace(r.Scope), strings.TrimSpace(r.Action)
		if s == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[s] == nil {
			cb[s] = map[string]CallbackRoute{}
		}
		cb[s][a] = r
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.cmds = cmds
	m.mu.Unlock()

	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildTelegramMenuCommands(root, cmds)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// DispatchLoop routes updates until ctx ends or updates is closed.
func (m *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	cfg := m.config()
	workers := cfg.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}

	sup := rtsup.New(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	m.setSupervisor(sup, true)
	m.sups.Set("telegram.router", sup)
	m.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue", cap(m.jobs)))

	for i := range workers {
		sup.GoRestart("router.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(i, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.setSupervisor(sup, false)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.sups.Delete("telegram.router")
		m.setSupervisor(nil, false)
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *Router) runJob(worker int, job func()) {
	// Middleware already recovers handler panics; this keeps the worker alive
	// if the glue around it panics.
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in router job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *Router) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

func (m *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		target := word[i+1:]
		word = word[:i]
		if me := m.config().BotUsername; me != "" && !strings.EqualFold(target, me) {
			return
		}
	}
	args := parts[1:]

	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if leaf, ok := alias[word]; ok && leaf.cmd != nil {
		m.enqueueCommand(ctx, up, *leaf.cmd, splitRoute(leaf.cmd.Route), args)
		return
	}

	cur, ok := root.child(word)
	if !ok {
		// Groups host other bots; stay quiet there.
		if !msg.IsGroup {
			m.replyPlain(ctx, msg, "Unknown command. Try /help")
		}
		return
	}
	path := []string{word}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		child, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = child
		path = append(path, child.name)
		args = args[1:]
	}

	if cur.cmd == nil {
		_, _ = m.adapter.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, m.helpText(path),
			&kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyTo: msg.ID})
		return
	}
	m.enqueueCommand(ctx, up, *cur.cmd, path, args)
}

func (m *Router) replyPlain(ctx context.Context, msg *kit.Message, text string) {
	_, _ = m.adapter.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, text, &kit.SendOptions{ReplyTo: msg.ID})
}

func (m *Router) enqueueCommand(ctx context.Context, up kit.Update, cmd Command, path []string, raw []string) {
	msg := up.Message
	cfg := m.config()
	if cmd.GroupOnly && !msg.IsGroup {
		m.replyPlain(ctx, msg, "This command only works in a group.")
		return
	}

	rid := newReqID()
	pos, flags, bools := parseFlags(raw)
	req := &Request{
		Update:       up,
		Chat:         kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		FromName:     msg.FromName,
		MessageID:    msg.ID,
		ReplyTo:      msg.ReplyTo,
		Path:         path,
		Command:      cmd.Route,
		Args:         pos,
		RawArgs:      raw,
		Flags:        flags,
		BoolFlags:    bools,
		ReqID:        rid,
		Adapter:      m.adapter,
		Owners:       cfg.Owners,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		m.mwAccess(cmd.Access),
		MWTimeout(firstPositive(cmd.Timeout, cfg.DefaultTimeout)),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		m.replyPlain(ctx, msg, "Busy, try again in a moment.")
	}
}

func (m *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		return
	}
	m.cbMu.RLock()
	route, ok := m.callbacks[scope][action]
	m.cbMu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	cfg := m.config()
	rid := newReqID()
	name := "cb:" + scope + ":" + action
	req := &Request{
		Update:       up,
		Chat:         kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:       cb.FromID,
		FromUsername: cb.FromUsername,
		FromName:     cb.FromName,
		MessageID:    cb.MessageID,
		Command:      name,
		Payload:      payload,
		ReqID:        rid,
		Adapter:      m.adapter,
		Owners:       cfg.Owners,
		callbackID:   cb.ID,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", name),
		),
	}

	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		m.mwAccess(route.Access),
		MWTimeout(firstPositive(route.Timeout, cfg.DefaultTimeout)),
	)
	if !m.tryEnqueue(func() {
		_ = final(ctx, req)
		// Stop the client's loading spinner if the handler did not answer.
		_ = req.Answer(ctx, "")
	}) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "Busy, try again.")
	}
}

// mwAccess enforces a command's Access. Denials are answered, not returned
// as errors.
func (m *Router) mwAccess(a Access) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if m.allowed(ctx, req, a) {
				return next(ctx, req)
			}
			req.Logger.Debug("access denied", logx.Int("access", int(a)))
			if req.IsCallback() {
				return req.Answer(ctx, "You are not allowed to do that.")
			}
			_, err := req.Reply(ctx, "You are not allowed to use this command.")
			return err
		}
	}
}

func (m *Router) allowed(ctx context.Context, req *Request, a Access) bool {
	switch a {
	case AccessEveryone:
		return true
	case AccessOwnerOnly:
		return req.IsOwner()
	case AccessAdmin:
		if req.IsOwner() {
			return true
		}
		mem, err := m.adapter.Member(ctx, req.Chat.ChatID, req.FromID)
		if err != nil {
			req.Logger.Warn("member lookup failed", logx.Err(err))
			return false
		}
		return mem.IsAdmin()
	}
	return false
}

func isOwner(id int64, owners []int64) bool { return slices.Contains(owners, id) }

func firstPositive(ds ...time.Duration) time.Duration {
	for _, d := range ds {
		if d > 0 {
			return d
		}
	}
	return 0
}
