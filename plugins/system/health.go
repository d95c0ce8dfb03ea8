package system

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	rtsup "giveawaybot/internal/runtime/supervisor"
	"giveawaybot/internal/task/scheduler"
	"giveawaybot/internal/transport/telegram/router"
	logx "giveawaybot/pkg/logx"
	"giveawaybot/pkg/tgui"
)

// Report is the state shown by /health and served on /healthz.
type Report struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
	Storage   string    `json:"storage"`

	Scheduler   *scheduler.Snapshot       `json:"scheduler,omitempty"`
	Supervisors map[string]rtsup.Counters `json:"supervisors,omitempty"`

	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	MemAlloc   uint64 `json:"mem_alloc"`
	MemSys     uint64 `json:"mem_sys"`
	NumGC      uint32 `json:"num_gc"`
}

var errEngineStopped = errors.New("task engine is not running")

// Report gathers the current health. A non-nil error means the bot is
// degraded; the report is filled in either way.
func (p *Plugin) Report(ctx context.Context) (Report, error) {
	now := p.now()
	r := Report{
		Status:     "ok",
		StartedAt:  p.deps.StartedAt,
		Uptime:     durRel(now.Sub(p.deps.StartedAt)),
		Storage:    "ok",
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.MemAlloc, r.MemSys, r.NumGC = m.Alloc, m.Sys, m.NumGC

	var errs []error
	if p.deps.Store != nil {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.deps.Store.Ping(pctx)
		cancel()
		if err != nil {
			r.Storage = err.Error()
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if p.deps.Scheduler != nil {
		snap := p.deps.Scheduler()
		r.Scheduler = &snap
		if !snap.Engine.Running {
			errs = append(errs, errEngineStopped)
		}
	}
	r.Supervisors = p.deps.Supervisors.Counters()

	err := errors.Join(errs...)
	if err != nil {
		r.Status = "degraded"
	}
	return r, err
}

func (p *Plugin) cmdHealth(ctx context.Context, req *router.Request) error {
	r, err := p.Report(ctx)
	if err != nil {
		req.Logger.Warn("health degraded", logx.Err(err))
	}
	_, serr := req.Reply(ctx, renderReport(r, p.now()).String())
	return serr
}

func renderReport(r Report, now time.Time) tgui.H {
	icon := "✅"
	if r.Status != "ok" {
		icon = "⚠️"
	}
	lines := []tgui.H{
		tgui.B("🏥 Bot Health"),
		tgui.H(icon+" Status: ") + tgui.Code(r.Status),
		tgui.H("Uptime: ") + tgui.Esc(r.Uptime),
		tgui.H("Storage: ") + tgui.Esc(r.Storage),
		"",
	}

	if s := r.Scheduler; s != nil {
		next := "-"
		if !s.NextFire.IsZero() {
			next = s.NextFire.Format("2006-01-02 15:04:05 MST")
			if s.NextFire.After(now) {
				next += " (in " + durRel(s.NextFire.Sub(now)) + ")"
			}
		}
		queue := fmt.Sprintf("%d", s.Engine.QueueLen)
		if s.Engine.QueueCap > 0 {
			queue = fmt.Sprintf("%d/%d", s.Engine.QueueLen, s.Engine.QueueCap)
		}
		lines = append(lines,
			tgui.B("⏱ Scheduler"),
			tgui.Esc(fmt.Sprintf("  • Armed: %d (%s)", s.Armed, s.Timezone)),
			tgui.Esc("  • Next end: "+next),
		)
		if s.Sweep != "" {
			lines = append(lines, tgui.Esc("  • Sweep: "+s.Sweep))
		}
		lines = append(lines,
			tgui.Esc(fmt.Sprintf("  • Workers: %d, queue %s, in flight %d", s.Engine.Workers, queue, s.Engine.InFlight)),
			tgui.Esc(fmt.Sprintf("  • Dropped: %d, gave up: %d", s.Engine.Dropped, s.Engine.GaveUp)),
			"",
		)
	}

	if len(r.Supervisors) > 0 {
		names := make([]string, 0, len(r.Supervisors))
		for n := range r.Supervisors {
			names = append(names, n)
		}
		sort.Strings(names)
		lines = append(lines, tgui.B("🧵 Supervisors"))
		for _, n := range names {
			c := r.Supervisors[n]
			lines = append(lines, tgui.Esc(fmt.Sprintf("  • %s: %d active, %d restarts, %d panics", n, c.Active, c.Restarts, c.Panics)))
		}
		lines = append(lines, "")
	}

	lines = append(lines,
		tgui.B("🤖 Runtime"),
		tgui.Esc(fmt.Sprintf("  • %s, %d goroutines", r.GoVersion, r.Goroutines)),
		tgui.Esc(fmt.Sprintf("  • Memory: %s allocated, %s system, %d GC runs", fmtBytes(r.MemAlloc), fmtBytes(r.MemSys), r.NumGC)),
	)
	return tgui.Lines(lines...)
}
