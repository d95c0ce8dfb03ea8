// Package system carries the operator commands that are not about
// giveaways: liveness, uptime and the /health report.
package system

import (
	"context"
	"fmt"
	"time"

	"giveawaybot/internal/task/scheduler"
	"giveawaybot/internal/transport/telegram/router"
	logx "giveawaybot/pkg/logx"
)

// Pinger is the slice of the store the health report probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Scheduler   func() scheduler.Snapshot
	Supervisors *router.SupervisorRegistry
	Store       Pinger
	Logger      logx.Logger
	StartedAt   time.Time
}

type Plugin struct {
	deps Deps
	log  logx.Logger
	now  func() time.Time
}

func New(deps Deps) *Plugin {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	return &Plugin{deps: deps, log: log.With(logx.String("plugin", "system")), now: time.Now}
}

func (p *Plugin) Name() string { return "system" }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "ping",
			Description: "liveness check",
			Usage:       "/ping",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				_, err := req.Reply(ctx, "pong")
				return err
			},
		},
		{
			Route:       "uptime",
			Aliases:     []string{"up"},
			Description: "show process uptime",
			Usage:       "/uptime",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				_, err := req.Reply(ctx, "uptime: "+durRel(p.now().Sub(p.deps.StartedAt)))
				return err
			},
		},
		{
			Route:       "health",
			Aliases:     []string{"sysinfo"},
			Description: "scheduler, storage and runtime status (owner only)",
			Usage:       "/health",
			Access:      router.AccessOwnerOnly,
			Timeout:     15 * time.Second,
			Handle:      p.cmdHealth,
		},
	}
}

func fmtBytes(n uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.1fGB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.1fMB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.1fKB", float64(n)/KB)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	if d < 48*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh%dm", h, m)
	}
	days := int(d.Hours()) / 24
	h := int(d.Hours()) % 24
	return fmt.Sprintf("%dd%dh", days, h)
}
